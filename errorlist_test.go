// Copyright 2021 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pecore

import (
	"errors"
	"testing"
)

func TestErrorListAddAndQuery(t *testing.T) {
	var el ErrorList
	if el.HasErrors() {
		t.Fatalf("empty list HasErrors() = true")
	}

	el.Add(ErrCodeUnalignedUnwindInfo, "at 0x21")
	el.Addf(ErrCodeInvalidVa, "VA 0x%x", 0x1234)
	el.Add(ErrCodeInvalidVa, "second occurrence")

	if !el.HasErrors() {
		t.Fatalf("HasErrors() = false after Add")
	}
	if !el.Has(ErrCodeUnalignedUnwindInfo) {
		t.Errorf("Has(UnalignedUnwindInfo) = false")
	}
	if el.Has(ErrCodePushNonvolUwopOutOfOrder) {
		t.Errorf("Has(PushNonvolUwopOutOfOrder) = true, want false")
	}
	if n := el.Count(ErrCodeInvalidVa); n != 2 {
		t.Errorf("Count(InvalidVa) = %d, want 2", n)
	}
	if len(el.Diagnostics()) != 3 {
		t.Errorf("Diagnostics() length = %d, want 3", len(el.Diagnostics()))
	}
}

func TestErrorListAddErr(t *testing.T) {
	var el ErrorList
	el.AddErr(ErrCodeInvalidUnwindInfo, nil)
	if el.HasErrors() {
		t.Errorf("AddErr(nil) recorded a diagnostic")
	}

	el.AddErr(ErrCodeInvalidUnwindInfo, errors.New("read failed"))
	if el.Count(ErrCodeInvalidUnwindInfo) != 1 {
		t.Errorf("AddErr() did not record the diagnostic")
	}
}

func TestErrorListMerge(t *testing.T) {
	var a, b ErrorList
	a.Add(ErrCodeInvalidVa, "x")
	b.Add(ErrCodeUnalignedUnwindInfo, "y")

	a.Merge(&b)
	a.Merge(nil)

	if len(a.Diagnostics()) != 2 {
		t.Errorf("merged length = %d, want 2", len(a.Diagnostics()))
	}
	if !a.Has(ErrCodeUnalignedUnwindInfo) {
		t.Errorf("merged list lost the other list's diagnostic")
	}
}

func TestDiagnosticError(t *testing.T) {
	d := Diagnostic{Code: ErrCodeInvalidVa, Context: "VA 0x10"}
	if d.Error() != "InvalidVa: VA 0x10" {
		t.Errorf("Error() = %q", d.Error())
	}
	d = Diagnostic{Code: ErrCodeInvalidVa}
	if d.Error() != "InvalidVa" {
		t.Errorf("Error() = %q", d.Error())
	}
}
