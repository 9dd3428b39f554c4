// Copyright 2021 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pecore

import (
	"bytes"
	"testing"
)

func TestUnpackFixedStruct(t *testing.T) {
	type record struct {
		A uint16
		B uint32
	}
	b := NewBuffer([]byte{0xff, 0x34, 0x12, 0x78, 0x56, 0x34, 0x12})

	var rec record
	if err := Unpack(b, &rec, 1, 6); err != nil {
		t.Fatalf("Unpack() failed: %v", err)
	}
	if rec.A != 0x1234 || rec.B != 0x12345678 {
		t.Errorf("Unpack() = %+v, want {A:0x1234 B:0x12345678}", rec)
	}

	if err := Unpack(b, &rec, 4, 6); err != ErrOutsideBoundary {
		t.Errorf("short Unpack() error = %v, want ErrOutsideBoundary", err)
	}
}

func TestUnpackVirtualTail(t *testing.T) {
	// A struct whose trailing field lies past the physical end decodes the
	// missing bytes as zeros.
	b, err := NewVirtualBuffer([]byte{0x11, 0x22}, 8)
	if err != nil {
		t.Fatalf("NewVirtualBuffer() failed: %v", err)
	}

	var v uint64
	if err := Unpack(b, &v, 0, 8); err != nil {
		t.Fatalf("Unpack() failed: %v", err)
	}
	if v != 0x2211 {
		t.Errorf("Unpack() = %#x, want 0x2211", v)
	}
}

func TestReadASCIIString(t *testing.T) {
	b := NewBuffer([]byte("abc\x00def"))

	s, err := ReadASCIIString(b, 0, 16)
	if err != nil {
		t.Fatalf("ReadASCIIString() failed: %v", err)
	}
	if s != "abc" {
		t.Errorf("ReadASCIIString() = %q, want abc", s)
	}

	// A string running off the buffer end is truncated, not failed: the
	// missing terminator is treated as virtual.
	s, err = ReadASCIIString(b, 4, 16)
	if err != nil {
		t.Fatalf("ReadASCIIString() failed: %v", err)
	}
	if s != "def" {
		t.Errorf("ReadASCIIString() = %q, want def", s)
	}
}

func TestReadUTF16String(t *testing.T) {
	raw := []byte{'h', 0, 'i', 0, 0, 0, 'x', 0}
	b := NewBuffer(raw)

	s, err := ReadUTF16String(b, 0, 8)
	if err != nil {
		t.Fatalf("ReadUTF16String() failed: %v", err)
	}
	if s != "hi" {
		t.Errorf("ReadUTF16String() = %q, want hi", s)
	}
}

func TestPackedByteArray(t *testing.T) {
	p := NewPackedByteArray([]byte{1, 2, 3, 4}, 3)
	if !bytes.Equal(p.Bytes(), []byte{1, 2, 3}) {
		t.Errorf("Bytes() = %v, want [1 2 3]", p.Bytes())
	}

	// Requesting more than is available clamps to the data.
	p = NewPackedByteArray([]byte{9}, 4)
	if !bytes.Equal(p.Bytes(), []byte{9}) {
		t.Errorf("Bytes() = %v, want [9]", p.Bytes())
	}
}
