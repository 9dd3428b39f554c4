// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pecore

import (
	"bytes"
	"encoding/binary"

	"golang.org/x/text/encoding/unicode"
)

// Unpack reads size bytes at offset from b and decodes them little-endian
// into iface, which must be a pointer to a fixed-size struct or scalar. This
// generalizes the structUnpack idiom used throughout this package to any
// Buffer instead of a single monolithic file-backed struct.
func Unpack(b *Buffer, iface interface{}, offset, size uint32) error {
	raw, err := b.ReadBytes(offset, size)
	if err != nil {
		return err
	}
	return binary.Read(bytes.NewReader(raw), binary.LittleEndian, iface)
}

// ReadASCIIString reads a NUL-terminated (or maxLength-bounded) ASCII string
// starting at offset.
func ReadASCIIString(b *Buffer, offset, maxLength uint32) (string, error) {
	var out []byte
	for i := uint32(0); i < maxLength; i++ {
		c, err := b.ReadUint8(offset + i)
		if err != nil {
			break
		}
		if c == 0 {
			break
		}
		out = append(out, c)
	}
	return string(out), nil
}

// ReadUTF16String reads a NUL-terminated UTF-16LE string starting at offset,
// bounded by maxBytes, and decodes it with golang.org/x/text/encoding/unicode.
func ReadUTF16String(b *Buffer, offset, maxBytes uint32) (string, error) {
	raw, err := b.ReadBytes(offset, maxBytes)
	if err != nil {
		return "", err
	}

	n := bytes.Index(raw, []byte{0, 0})
	if n == 0 {
		return "", nil
	}
	if n < 0 {
		n = len(raw) - 1
	}
	// bytes.Index looks for a 2-byte zero run on any alignment; snap to an
	// even boundary so we don't split a UTF-16 code unit in half.
	if n%2 != 0 {
		n++
	}

	decoder := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()
	decoded, err := decoder.Bytes(raw[:n])
	if err != nil {
		return "", err
	}
	return string(decoded), nil
}

// PackedByteArray is a small fixed-capacity byte slice sized for stride-gated
// additional data (e.g. the Control Flow Guard function table's per-entry
// metadata bytes), mirroring the original's additional_data_type alias. The
// load config parser does not build one: it keeps only the first metadata
// byte of each entry as CFGFunction.Flags.
type PackedByteArray struct {
	data [16]byte
	n    int
}

// NewPackedByteArray builds a PackedByteArray from the first n bytes of data.
func NewPackedByteArray(data []byte, n int) PackedByteArray {
	if n > len(data) {
		n = len(data)
	}
	if n > 16 {
		n = 16
	}
	var p PackedByteArray
	copy(p.data[:], data[:n])
	p.n = n
	return p
}

// Bytes returns the stored bytes.
func (p PackedByteArray) Bytes() []byte {
	return p.data[:p.n]
}
