// Copyright 2021 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pecore

import "testing"

func testImage() *Image {
	data := make([]byte, 0x1000)
	img := NewImage(data, true, 0x140000000, 0x200, 0x1000, nil)
	img.SetSizeOfImage(0x5000)
	// One section mapped at RVA 0x1000, backed by file bytes at 0x400.
	img.AddSection(".text", 0x1000, 0x2000, 0x400, 0x800)
	return img
}

func TestImageVAToRVA(t *testing.T) {
	img := testImage()

	rva, err := img.VAToRVA(0x140001234)
	if err != nil {
		t.Fatalf("VAToRVA() failed: %v", err)
	}
	if rva != 0x1234 {
		t.Errorf("VAToRVA() = %#x, want 0x1234", rva)
	}

	if _, err := img.VAToRVA(0x13fffffff); err != ErrInvalidVa {
		t.Errorf("below-base VAToRVA() error = %v, want ErrInvalidVa", err)
	}
	if _, err := img.VAToRVA(0x140005000); err != ErrInvalidVa {
		t.Errorf("past-image VAToRVA() error = %v, want ErrInvalidVa", err)
	}
}

func TestImageRVAToOffset(t *testing.T) {
	img := testImage()

	// Inside the section: offset = rva - section VA + raw pointer.
	if got := img.RVAToOffset(0x1100); got != 0x500 {
		t.Errorf("RVAToOffset(0x1100) = %#x, want 0x500", got)
	}

	// Below the first section but inside the physical file: header bytes
	// map one-to-one.
	if got := img.RVAToOffset(0x80); got != 0x80 {
		t.Errorf("RVAToOffset(0x80) = %#x, want 0x80", got)
	}

	// Unmapped and beyond the file.
	if got := img.RVAToOffset(0x100000); got != ^uint32(0) {
		t.Errorf("RVAToOffset(0x100000) = %#x, want sentinel", got)
	}
}

func TestImageOffsetRoundTrip(t *testing.T) {
	img := testImage()

	offset := img.RVAToOffset(0x1100)
	if got := img.OffsetToRVA(offset); got != 0x1100 {
		t.Errorf("OffsetToRVA(RVAToOffset(0x1100)) = %#x, want 0x1100", got)
	}
}

func TestImageReadAtRVA(t *testing.T) {
	img := testImage()

	if _, err := img.ReadAtRVA(0x100000, 4); err != ErrOutsideBoundary {
		t.Errorf("unmapped ReadAtRVA() error = %v, want ErrOutsideBoundary", err)
	}

	got, err := img.ReadAtRVA(0x1000, 4)
	if err != nil {
		t.Fatalf("ReadAtRVA() failed: %v", err)
	}
	if len(got) != 4 {
		t.Errorf("ReadAtRVA() returned %d bytes, want 4", len(got))
	}
}
