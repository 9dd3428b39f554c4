// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pecore

import "errors"

// ErrBufferTooSmall is returned when a Buffer is constructed with a virtual
// size smaller than its physical backing slice.
var ErrBufferTooSmall = errors.New("virtual size is smaller than the physical data size")

// Buffer is a bounded view over a byte slice that additionally supports a
// "virtual size" larger than the number of physical bytes backing it. Bytes
// between physicalSize and virtualSize behave as if they were present and
// zero, mirroring how the Windows loader treats the tail of a section whose
// VirtualSize exceeds its SizeOfRawData on disk.
type Buffer struct {
	data         []byte
	physicalSize uint32
	virtualSize  uint32
}

// NewBuffer wraps data as a Buffer with no virtual extension: physical size
// and virtual size are equal.
func NewBuffer(data []byte) *Buffer {
	return &Buffer{
		data:         data,
		physicalSize: uint32(len(data)),
		virtualSize:  uint32(len(data)),
	}
}

// NewVirtualBuffer wraps data as a Buffer whose logical size is virtualSize,
// which must be at least len(data); bytes past len(data) read as zero.
func NewVirtualBuffer(data []byte, virtualSize uint32) (*Buffer, error) {
	if virtualSize < uint32(len(data)) {
		return nil, ErrBufferTooSmall
	}
	return &Buffer{
		data:         data,
		physicalSize: uint32(len(data)),
		virtualSize:  virtualSize,
	}, nil
}

// PhysicalSize returns the number of real, addressable bytes backing the
// buffer.
func (b *Buffer) PhysicalSize() uint32 { return b.physicalSize }

// VirtualSize returns the logical size of the buffer, including the
// zero-filled tail beyond PhysicalSize.
func (b *Buffer) VirtualSize() uint32 { return b.virtualSize }

// checkBounds applies the overflow-safe bounds check idiom used throughout
// this codebase: offset+size must not overflow, and the resulting range must
// fall within [0, limit).
func checkBounds(offset, size, limit uint32) error {
	total := offset + size
	if (total > offset) != (size > 0) {
		return ErrOutsideBoundary
	}
	if offset > limit || total > limit {
		return ErrOutsideBoundary
	}
	return nil
}

// ReadBytes returns size bytes starting at offset. Bytes past PhysicalSize
// but within VirtualSize are returned as zero. The returned slice is always
// freshly allocated so callers may retain it safely.
func (b *Buffer) ReadBytes(offset, size uint32) ([]byte, error) {
	if err := checkBounds(offset, size, b.virtualSize); err != nil {
		return nil, err
	}

	out := make([]byte, size)
	if offset >= b.physicalSize {
		return out, nil
	}

	physEnd := offset + size
	if physEnd > b.physicalSize {
		physEnd = b.physicalSize
	}
	copy(out, b.data[offset:physEnd])
	return out, nil
}

// ReadUint8 reads a single byte at offset.
func (b *Buffer) ReadUint8(offset uint32) (uint8, error) {
	buf, err := b.ReadBytes(offset, 1)
	if err != nil {
		return 0, err
	}
	return buf[0], nil
}

// ReadUint16 reads a little-endian uint16 at offset.
func (b *Buffer) ReadUint16(offset uint32) (uint16, error) {
	buf, err := b.ReadBytes(offset, 2)
	if err != nil {
		return 0, err
	}
	return uint16(buf[0]) | uint16(buf[1])<<8, nil
}

// ReadUint32 reads a little-endian uint32 at offset.
func (b *Buffer) ReadUint32(offset uint32) (uint32, error) {
	buf, err := b.ReadBytes(offset, 4)
	if err != nil {
		return 0, err
	}
	return uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24, nil
}

// ReadUint64 reads a little-endian uint64 at offset.
func (b *Buffer) ReadUint64(offset uint32) (uint64, error) {
	buf, err := b.ReadBytes(offset, 8)
	if err != nil {
		return 0, err
	}
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(buf[i])
	}
	return v, nil
}

// IsVirtualOnly reports whether offset falls past the physical data but
// still within the virtual size (i.e. it reads as implicit zero).
func (b *Buffer) IsVirtualOnly(offset uint32) bool {
	return offset >= b.physicalSize && offset < b.virtualSize
}

// WriteBuffer is a fixed-size write window with the same overflow-safe
// bounds checking as Buffer's readers. The parsers never write; this
// exists so tests can re-encode what they decode.
type WriteBuffer struct {
	data []byte
	wpos uint32
}

// NewWriteBuffer returns a WriteBuffer over size zeroed bytes.
func NewWriteBuffer(size uint32) *WriteBuffer {
	return &WriteBuffer{data: make([]byte, size)}
}

// WriteBytes copies p at the current write position and advances it.
func (w *WriteBuffer) WriteBytes(p []byte) error {
	if err := checkBounds(w.wpos, uint32(len(p)), uint32(len(w.data))); err != nil {
		return err
	}
	copy(w.data[w.wpos:], p)
	w.wpos += uint32(len(p))
	return nil
}

// WriteUint32 writes a little-endian uint32 at the current position.
func (w *WriteBuffer) WriteUint32(v uint32) error {
	return w.WriteBytes([]byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)})
}

// Bytes returns the underlying window.
func (w *WriteBuffer) Bytes() []byte { return w.data }

// WPos returns the current write position.
func (w *WriteBuffer) WPos() uint32 { return w.wpos }
