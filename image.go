// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pecore

import "github.com/pescan/pecore/internal/log"

// imageSection is the minimal per-section information the Image façade needs
// to translate between RVAs and file offsets: its address/size in both the
// loaded-image and on-disk views.
type imageSection struct {
	name             string
	virtualAddress   uint32
	virtualSize      uint32
	pointerToRawData uint32
	sizeOfRawData    uint32
}

func (s imageSection) containsRVA(rva uint32) bool {
	size := s.virtualSize
	if size == 0 {
		size = s.sizeOfRawData
	}
	return rva >= s.virtualAddress && rva < s.virtualAddress+size
}

// Image is the RVA/VA/file-offset translation façade every directory parser
// is built against (component I). It is deliberately narrower than File: it
// only knows about section geometry and alignment, not about any particular
// data directory's contents, so the exception and load config parsers can be
// exercised without pulling in the rest of this package's PE-wide parsing.
type Image struct {
	buf              *Buffer
	sections         []imageSection
	is64             bool
	imageBase        uint64
	sizeOfImage      uint32
	fileAlignment    uint32
	sectionAlignment uint32
	logger           *log.Helper
}

// NewImage builds an Image façade from raw file content plus the section and
// optional-header geometry already parsed elsewhere (ordinarily by File).
func NewImage(data []byte, is64 bool, imageBase uint64, fileAlignment, sectionAlignment uint32, logger *log.Helper) *Image {
	if logger == nil {
		logger = log.NewHelper(nil)
	}
	return &Image{
		buf:              NewBuffer(data),
		is64:             is64,
		imageBase:        imageBase,
		fileAlignment:    fileAlignment,
		sectionAlignment: sectionAlignment,
		logger:           logger,
	}
}

// SetSizeOfImage records the optional header's SizeOfImage, the upper bound
// VAToRVA checks a virtual address against. Callers that never set it get
// an unbounded upper check, same as if SizeOfImage were zero on the struct.
func (img *Image) SetSizeOfImage(sizeOfImage uint32) {
	img.sizeOfImage = sizeOfImage
}

// VAToRVA converts a virtual address to a relative virtual address,
// bounds-checking it against [0, SizeOfImage) instead of performing a raw,
// unchecked subtraction. It fails with ErrInvalidVa when va lies below the
// image base or at/beyond ImageBase+SizeOfImage.
func (img *Image) VAToRVA(va uint64) (uint32, error) {
	if va < img.imageBase {
		return 0, ErrInvalidVa
	}
	rva := va - img.imageBase
	if img.sizeOfImage != 0 && rva >= uint64(img.sizeOfImage) {
		return 0, ErrInvalidVa
	}
	return uint32(rva), nil
}

// AddSection registers a section's geometry with the façade. Sections must
// be added in file order; lookups scan linearly the same way File's
// getSectionByRva does, since PE images rarely have more than a few dozen
// sections.
func (img *Image) AddSection(name string, virtualAddress, virtualSize, pointerToRawData, sizeOfRawData uint32) {
	img.sections = append(img.sections, imageSection{
		name:             name,
		virtualAddress:   virtualAddress,
		virtualSize:      virtualSize,
		pointerToRawData: pointerToRawData,
		sizeOfRawData:    sizeOfRawData,
	})
}

// Buffer exposes the underlying bounded byte source.
func (img *Image) Buffer() *Buffer { return img.buf }

// Is64 reports whether this is a PE32+ image.
func (img *Image) Is64() bool { return img.is64 }

// ImageBase returns the preferred load address from the optional header.
func (img *Image) ImageBase() uint64 { return img.imageBase }

func (img *Image) sectionByRVA(rva uint32) *imageSection {
	for i := range img.sections {
		if img.sections[i].containsRVA(rva) {
			return &img.sections[i]
		}
	}
	return nil
}

func (img *Image) adjustFileAlignment(va uint32) uint32 {
	if img.fileAlignment > FileAlignmentHardcodedValue && img.fileAlignment%2 != 0 {
		img.logger.Warn("file alignment is not a power of two")
	}
	if img.fileAlignment < FileAlignmentHardcodedValue {
		return va
	}
	return (va / 0x200) * 0x200
}

func (img *Image) adjustSectionAlignment(va uint32) uint32 {
	sectionAlignment := img.sectionAlignment
	if sectionAlignment < 0x1000 {
		sectionAlignment = img.fileAlignment
	}
	if sectionAlignment != 0 && va%sectionAlignment != 0 {
		return sectionAlignment * (va / sectionAlignment)
	}
	return va
}

// RVAToOffset translates a relative virtual address to a file offset,
// honoring section alignment the way the Windows loader does. It returns
// ^uint32(0) when the RVA cannot be resolved to a section and also falls
// outside the physical file (the same "probably corrupt header" fallback
// File.GetOffsetFromRva uses).
func (img *Image) RVAToOffset(rva uint32) uint32 {
	section := img.sectionByRVA(rva)
	if section == nil {
		if rva < img.buf.PhysicalSize() {
			return rva
		}
		return ^uint32(0)
	}
	sectionAlignment := img.adjustSectionAlignment(section.virtualAddress)
	fileAlignment := img.adjustFileAlignment(section.pointerToRawData)
	return rva - sectionAlignment + fileAlignment
}

// OffsetToRVA is the inverse of RVAToOffset.
func (img *Image) OffsetToRVA(offset uint32) uint32 {
	for i := range img.sections {
		s := &img.sections[i]
		if s.pointerToRawData == 0 {
			continue
		}
		adjusted := img.adjustFileAlignment(s.pointerToRawData)
		if adjusted <= offset && offset < adjusted+s.sizeOfRawData {
			sectionAlignment := img.adjustSectionAlignment(s.virtualAddress)
			return offset - adjusted + sectionAlignment
		}
	}

	if len(img.sections) == 0 {
		return offset
	}

	minAddr := ^uint32(0)
	for i := range img.sections {
		v := img.adjustSectionAlignment(img.sections[i].virtualAddress)
		if v < minAddr {
			minAddr = v
		}
	}
	if offset < minAddr {
		return offset
	}

	img.logger.Warn("data at offset can't be resolved to an RVA")
	return ^uint32(0)
}

// ReadAtRVA reads size bytes at the file location the given RVA maps to.
func (img *Image) ReadAtRVA(rva, size uint32) ([]byte, error) {
	offset := img.RVAToOffset(rva)
	if offset == ^uint32(0) {
		return nil, ErrOutsideBoundary
	}
	return img.buf.ReadBytes(offset, size)
}

// UnpackAtRVA decodes a fixed-size little-endian struct at the file location
// the given RVA maps to.
func (img *Image) UnpackAtRVA(rva uint32, iface interface{}, size uint32) error {
	offset := img.RVAToOffset(rva)
	if offset == ^uint32(0) {
		return ErrOutsideBoundary
	}
	return Unpack(img.buf, iface, offset, size)
}
