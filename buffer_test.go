// Copyright 2021 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pecore

import (
	"bytes"
	"testing"
)

func TestBufferReadBytes(t *testing.T) {
	b := NewBuffer([]byte{1, 2, 3, 4})

	got, err := b.ReadBytes(1, 2)
	if err != nil {
		t.Fatalf("ReadBytes() failed: %v", err)
	}
	if !bytes.Equal(got, []byte{2, 3}) {
		t.Errorf("ReadBytes() = %v, want [2 3]", got)
	}

	if _, err := b.ReadBytes(3, 2); err != ErrOutsideBoundary {
		t.Errorf("out-of-bounds read error = %v, want ErrOutsideBoundary", err)
	}
	if _, err := b.ReadBytes(^uint32(0), 2); err != ErrOutsideBoundary {
		t.Errorf("overflowing read error = %v, want ErrOutsideBoundary", err)
	}
}

func TestBufferVirtualTail(t *testing.T) {
	b, err := NewVirtualBuffer([]byte{0xaa, 0xbb}, 6)
	if err != nil {
		t.Fatalf("NewVirtualBuffer() failed: %v", err)
	}

	if b.PhysicalSize() != 2 || b.VirtualSize() != 6 {
		t.Fatalf("sizes = %d/%d, want 2/6", b.PhysicalSize(), b.VirtualSize())
	}

	// A read straddling the physical end returns zeros for the tail.
	got, err := b.ReadBytes(1, 4)
	if err != nil {
		t.Fatalf("straddling ReadBytes() failed: %v", err)
	}
	if !bytes.Equal(got, []byte{0xbb, 0, 0, 0}) {
		t.Errorf("ReadBytes() = %v, want [bb 0 0 0]", got)
	}

	// Reads entirely inside the virtual tail are all-zero.
	got, err = b.ReadBytes(4, 2)
	if err != nil {
		t.Fatalf("virtual ReadBytes() failed: %v", err)
	}
	if !bytes.Equal(got, []byte{0, 0}) {
		t.Errorf("virtual ReadBytes() = %v, want [0 0]", got)
	}

	if !b.IsVirtualOnly(4) {
		t.Errorf("IsVirtualOnly(4) = false, want true")
	}
	if b.IsVirtualOnly(1) {
		t.Errorf("IsVirtualOnly(1) = true, want false")
	}

	// Past the virtual size is still out of bounds.
	if _, err := b.ReadBytes(5, 2); err != ErrOutsideBoundary {
		t.Errorf("past-virtual read error = %v, want ErrOutsideBoundary", err)
	}
}

func TestBufferTooSmallVirtualSize(t *testing.T) {
	if _, err := NewVirtualBuffer([]byte{1, 2, 3}, 2); err != ErrBufferTooSmall {
		t.Errorf("NewVirtualBuffer() error = %v, want ErrBufferTooSmall", err)
	}
}

func TestWriteBuffer(t *testing.T) {
	w := NewWriteBuffer(6)
	if err := w.WriteUint32(0x12345678); err != nil {
		t.Fatalf("WriteUint32() failed: %v", err)
	}
	if err := w.WriteBytes([]byte{0xaa, 0xbb}); err != nil {
		t.Fatalf("WriteBytes() failed: %v", err)
	}
	want := []byte{0x78, 0x56, 0x34, 0x12, 0xaa, 0xbb}
	if !bytes.Equal(w.Bytes(), want) {
		t.Errorf("Bytes() = %v, want %v", w.Bytes(), want)
	}
	if w.WPos() != 6 {
		t.Errorf("WPos() = %d, want 6", w.WPos())
	}

	// The window is full: the next write overflows.
	if err := w.WriteBytes([]byte{1}); err != ErrOutsideBoundary {
		t.Errorf("overflowing write error = %v, want ErrOutsideBoundary", err)
	}

	// Writing nothing at the end is still in bounds.
	if err := w.WriteBytes(nil); err != nil {
		t.Errorf("empty write error = %v, want nil", err)
	}
}

func TestBufferIntegerReaders(t *testing.T) {
	b := NewBuffer([]byte{0x78, 0x56, 0x34, 0x12, 0xef, 0xcd, 0xab, 0x89})

	if v, err := b.ReadUint8(0); err != nil || v != 0x78 {
		t.Errorf("ReadUint8() = %#x, %v", v, err)
	}
	if v, err := b.ReadUint16(0); err != nil || v != 0x5678 {
		t.Errorf("ReadUint16() = %#x, %v", v, err)
	}
	if v, err := b.ReadUint32(0); err != nil || v != 0x12345678 {
		t.Errorf("ReadUint32() = %#x, %v", v, err)
	}
	if v, err := b.ReadUint64(0); err != nil || v != 0x89abcdef12345678 {
		t.Errorf("ReadUint64() = %#x, %v", v, err)
	}
}
