// Copyright 2021 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pecore

import "testing"

// FuzzParse drives the whole parse pipeline, headers through both in-scope
// directories, on arbitrary bytes. Parse errors are expected on garbage;
// the target only cares that no input panics or hangs.
func FuzzParse(f *testing.F) {
	f.Add([]byte("MZ"))
	f.Add(make([]byte, TinyPESize))

	f.Fuzz(func(t *testing.T, data []byte) {
		pe, err := NewBytes(data, &Options{})
		if err != nil {
			return
		}
		defer pe.Close()
		_ = pe.Parse()
	})
}
