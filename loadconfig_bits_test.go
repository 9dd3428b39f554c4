// Copyright 2021 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pecore

import "testing"

// TestReadLSBBitsBranchDescriptorBitmap reproduces spec.md's DVRT v2
// epilogue scenario: a bitmap byte 0x0A with 3 branch descriptors (so each
// index is ceil(log2(3)) = 2 bits wide), read twice, should yield 0b10 both
// times - the bit order this helper resolves LSB-first within each byte.
func TestReadLSBBitsBranchDescriptorBitmap(t *testing.T) {
	data := []byte{0x0A}

	v1, pos := readLSBBits(data, 0, 2)
	if v1 != 0b10 {
		t.Errorf("first read = %#b, want 0b10", v1)
	}

	v2, _ := readLSBBits(data, pos, 2)
	if v2 != 0b10 {
		t.Errorf("second read = %#b, want 0b10", v2)
	}
}

func TestReadLSBBitsStopsAtDataEnd(t *testing.T) {
	data := []byte{0xff}
	// Asking for more bits than are available should not panic; missing
	// bits are simply left unset.
	v, pos := readLSBBits(data, 6, 4)
	if pos != 10 {
		t.Errorf("pos = %d, want 10", pos)
	}
	if v != 0b11 {
		t.Errorf("v = %#b, want 0b11", v)
	}
}
