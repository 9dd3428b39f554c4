// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pecore

import "encoding/binary"

// ImageDOSHeader is the legacy MZ stub at the start of every PE file. The
// container is an external collaborator of this module: the only field the
// directory parsers act on is AddressOfNewEXEHeader, which locates the NT
// headers. The rest of the 64-byte layout is carried so the struct decodes
// at its on-disk size.
type ImageDOSHeader struct {
	// Magic number: MZ (or ZM on some ancient executables).
	Magic uint16 `json:"magic"`

	// DOS program geometry; meaningless for PE images.
	BytesOnLastPageOfFile    uint16     `json:"bytes_on_last_page_of_file"`
	PagesInFile              uint16     `json:"pages_in_file"`
	Relocations              uint16     `json:"relocations"`
	SizeOfHeader             uint16     `json:"size_of_header"`
	MinExtraParagraphsNeeded uint16     `json:"min_extra_paragraphs_needed"`
	MaxExtraParagraphsNeeded uint16     `json:"max_extra_paragraphs_needed"`
	InitialSS                uint16     `json:"initial_ss"`
	InitialSP                uint16     `json:"initial_sp"`
	Checksum                 uint16     `json:"checksum"`
	InitialIP                uint16     `json:"initial_ip"`
	InitialCS                uint16     `json:"initial_cs"`
	AddressOfRelocationTable uint16     `json:"address_of_relocation_table"`
	OverlayNumber            uint16     `json:"overlay_number"`
	ReservedWords1           [4]uint16  `json:"reserved_words_1"`
	OEMIdentifier            uint16     `json:"oem_identifier"`
	OEMInformation           uint16     `json:"oem_information"`
	ReservedWords2           [10]uint16 `json:"reserved_words_2"`

	// File offset of the NT headers (e_lfanew).
	AddressOfNewEXEHeader uint32 `json:"address_of_new_exe_header"`
}

// ParseDOSHeader validates the MZ stub and records where the NT headers
// start.
func (pe *File) ParseDOSHeader() error {
	size := uint32(binary.Size(pe.DOSHeader))
	if err := pe.structUnpack(&pe.DOSHeader, 0, size); err != nil {
		return err
	}

	if pe.DOSHeader.Magic != ImageDOSSignature &&
		pe.DOSHeader.Magic != ImageDOSZMSignature {
		return ErrDOSMagicNotFound
	}

	// e_lfanew is the one load-bearing field: it must land inside the file
	// and can't be small enough for the signatures to overlap backwards.
	if pe.DOSHeader.AddressOfNewEXEHeader < 4 ||
		pe.DOSHeader.AddressOfNewEXEHeader > pe.size {
		return ErrInvalidElfanewValue
	}

	// A tiny PE can legally overlap the NT headers onto the DOS header.
	if pe.DOSHeader.AddressOfNewEXEHeader <= 0x3c {
		pe.Anomalies = append(pe.Anomalies, AnoPEHeaderOverlapDOSHeader)
	}

	pe.HasDOSHdr = true
	return nil
}
