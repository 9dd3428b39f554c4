// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pecore

import (
	"encoding/binary"
	"sort"
	"strings"
)

// ImageSectionHeader is one row of the section table. The directory
// parsers only consume its geometry: the virtual range for RVA lookups and
// the raw-data range for translating those RVAs to file offsets.
type ImageSectionHeader struct {
	// UTF-8 name, NUL-padded to 8 bytes.
	Name [8]uint8 `json:"name"`

	// Size of the section once mapped; the zero-filled tail past
	// SizeOfRawData is the "virtual data" the parsers tolerate.
	VirtualSize uint32 `json:"virtual_size"`

	// RVA of the section's first byte.
	VirtualAddress uint32 `json:"virtual_address"`

	// Size and location of the section's bytes on disk.
	SizeOfRawData    uint32 `json:"size_of_raw_data"`
	PointerToRawData uint32 `json:"pointer_to_raw_data"`

	// Object-file bookkeeping, zero in images.
	PointerToRelocations uint32 `json:"pointer_to_relocations"`
	PointerToLineNumbers uint32 `json:"pointer_to_line_numbers"`
	NumberOfRelocations  uint16 `json:"number_of_relocations"`
	NumberOfLineNumbers  uint16 `json:"number_of_line_numbers"`

	Characteristics uint32 `json:"characteristics"`
}

// Section wraps a section table row.
type Section struct {
	Header ImageSectionHeader
}

// String returns the section name with its NUL padding stripped.
func (section *Section) String() string {
	return strings.Replace(string(section.Header.Name[:]), "\x00", "", -1)
}

// ParseSectionHeader reads the section table, which immediately follows
// the optional header, and registers each section's geometry. Rows whose
// raw data reaches past the end of the file are kept (their tail reads as
// virtual zeros) but flagged as anomalies.
func (pe *File) ParseSectionHeader() error {
	offset := pe.DOSHeader.AddressOfNewEXEHeader + 4 +
		uint32(binary.Size(pe.NtHeader.FileHeader)) +
		uint32(pe.NtHeader.FileHeader.SizeOfOptionalHeader)

	var secHeader ImageSectionHeader
	secHeaderSize := uint32(binary.Size(secHeader))

	for i := uint16(0); i < pe.NtHeader.FileHeader.NumberOfSections; i++ {
		if err := pe.structUnpack(&secHeader, offset, secHeaderSize); err != nil {
			return err
		}
		offset += secHeaderSize

		sec := Section{Header: secHeader}
		if secHeader == (ImageSectionHeader{}) {
			pe.Anomalies = append(pe.Anomalies,
				"Section `"+sec.String()+"` contents are null-bytes")
			continue
		}

		if end := secHeader.PointerToRawData + secHeader.SizeOfRawData; end < secHeader.PointerToRawData || end > pe.size {
			pe.Anomalies = append(pe.Anomalies,
				"Section `"+sec.String()+"` raw data reaches past the end of the file")
		}

		pe.Sections = append(pe.Sections, sec)
	}

	// RVA lookups walk the sections in address order.
	sort.Slice(pe.Sections, func(i, j int) bool {
		return pe.Sections[i].Header.VirtualAddress < pe.Sections[j].Header.VirtualAddress
	})

	pe.HasSections = len(pe.Sections) > 0
	return nil
}

// Contains reports whether the section's mapped range covers the given
// RVA, using the same geometry rule as the Image façade: the virtual size
// governs, falling back to the raw size when a linker left it zero.
func (section *Section) Contains(rva uint32, pe *File) bool {
	size := section.Header.VirtualSize
	if size == 0 {
		size = section.Header.SizeOfRawData
	}
	va := pe.adjustSectionAlignment(section.Header.VirtualAddress)
	return va <= rva && rva < va+size
}
