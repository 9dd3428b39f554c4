// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pecore

import "encoding/binary"

// ImageFileHeaderMachineType represents the type of the image file header
// Machine field. The exception directory parser dispatches on it.
type ImageFileHeaderMachineType uint16

// ImageNtHeader is the PE signature plus the COFF file header. The optional
// header follows and is version-selected by its magic.
type ImageNtHeader struct {
	// Signature is a DWORD containing the value 50h, 45h, 00h, 00h.
	Signature uint32 `json:"signature"`

	FileHeader ImageFileHeader `json:"file_header"`

	// OptionalHeader is an ImageOptionalHeader32 or ImageOptionalHeader64.
	OptionalHeader interface{} `json:"optional_header"`
}

// ImageFileHeader is the COFF header. Machine selects the runtime-function
// format of the exception directory; NumberOfSections and
// SizeOfOptionalHeader locate the section table.
type ImageFileHeader struct {
	Machine              ImageFileHeaderMachineType `json:"machine"`
	NumberOfSections     uint16                     `json:"number_of_sections"`
	TimeDateStamp        uint32                     `json:"time_date_stamp"`
	PointerToSymbolTable uint32                     `json:"pointer_to_symbol_table"`
	NumberOfSymbols      uint32                     `json:"number_of_symbols"`
	SizeOfOptionalHeader uint16                     `json:"size_of_optional_header"`
	Characteristics      uint16                     `json:"characteristics"`
}

// ImageOptionalHeader32 is the PE32 optional header. The fields this
// module's parsers act on are ImageBase, SectionAlignment, FileAlignment,
// SizeOfImage, DllCharacteristics and the DataDirectory array; the rest is
// carried so the struct decodes at its on-disk layout.
type ImageOptionalHeader32 struct {
	// 0x10b for PE32, 0x20b for PE32+.
	Magic uint16 `json:"magic"`

	MajorLinkerVersion      uint8  `json:"major_linker_version"`
	MinorLinkerVersion      uint8  `json:"minor_linker_version"`
	SizeOfCode              uint32 `json:"size_of_code"`
	SizeOfInitializedData   uint32 `json:"size_of_initialized_data"`
	SizeOfUninitializedData uint32 `json:"size_of_uninitialized_data"`
	AddressOfEntryPoint     uint32 `json:"address_of_entrypoint"`
	BaseOfCode              uint32 `json:"base_of_code"`

	// BaseOfData only exists in the PE32 layout.
	BaseOfData uint32 `json:"base_of_data"`

	// Preferred load address; every VA-shaped load config field is
	// translated relative to it.
	ImageBase uint32 `json:"image_base"`

	// Alignment of sections in memory and of their raw data on disk; the
	// RVA-to-offset translation honors both.
	SectionAlignment uint32 `json:"section_alignment"`
	FileAlignment    uint32 `json:"file_alignment"`

	MajorOperatingSystemVersion uint16 `json:"major_os_version"`
	MinorOperatingSystemVersion uint16 `json:"minor_os_version"`
	MajorImageVersion           uint16 `json:"major_image_version"`
	MinorImageVersion           uint16 `json:"minor_image_version"`
	MajorSubsystemVersion       uint16 `json:"major_subsystem_version"`
	MinorSubsystemVersion       uint16 `json:"minor_subsystem_version"`
	Win32VersionValue           uint32 `json:"win32_version_value"`

	// Size of the mapped image; the upper bound for VA validation.
	SizeOfImage uint32 `json:"size_of_image"`

	SizeOfHeaders uint32 `json:"size_of_headers"`
	CheckSum      uint32 `json:"checksum"`
	Subsystem     uint16 `json:"subsystem"`

	// Carries ImageDllCharacteristicsGuardCF when the image opts into
	// Control Flow Guard.
	DllCharacteristics uint16 `json:"dll_characteristics"`

	SizeOfStackReserve uint32 `json:"size_of_stack_reserve"`
	SizeOfStackCommit  uint32 `json:"size_of_stack_commit"`
	SizeOfHeapReserve  uint32 `json:"size_of_heap_reserve"`
	SizeOfHeapCommit   uint32 `json:"size_of_heap_commit"`
	LoaderFlags        uint32 `json:"loader_flags"`

	NumberOfRvaAndSizes uint32             `json:"number_of_rva_and_sizes"`
	DataDirectory       [16]DataDirectory  `json:"data_directories"`
}

// ImageOptionalHeader64 is the PE32+ optional header: the same layout as
// PE32 minus BaseOfData, with ImageBase and the stack/heap sizes widened
// to 64 bits.
type ImageOptionalHeader64 struct {
	Magic                   uint16 `json:"magic"`
	MajorLinkerVersion      uint8  `json:"major_linker_version"`
	MinorLinkerVersion      uint8  `json:"minor_linker_version"`
	SizeOfCode              uint32 `json:"size_of_code"`
	SizeOfInitializedData   uint32 `json:"size_of_initialized_data"`
	SizeOfUninitializedData uint32 `json:"size_of_uninitialized_data"`
	AddressOfEntryPoint     uint32 `json:"address_of_entrypoint"`
	BaseOfCode              uint32 `json:"base_of_code"`

	ImageBase        uint64 `json:"image_base"`
	SectionAlignment uint32 `json:"section_alignment"`
	FileAlignment    uint32 `json:"file_alignment"`

	MajorOperatingSystemVersion uint16 `json:"major_os_version"`
	MinorOperatingSystemVersion uint16 `json:"minor_os_version"`
	MajorImageVersion           uint16 `json:"major_image_version"`
	MinorImageVersion           uint16 `json:"minor_image_version"`
	MajorSubsystemVersion       uint16 `json:"major_subsystem_version"`
	MinorSubsystemVersion       uint16 `json:"minor_subsystem_version"`
	Win32VersionValue           uint32 `json:"win32_version_value"`

	SizeOfImage   uint32 `json:"size_of_image"`
	SizeOfHeaders uint32 `json:"size_of_headers"`
	CheckSum      uint32 `json:"checksum"`
	Subsystem     uint16 `json:"subsystem"`

	DllCharacteristics uint16 `json:"dll_characteristics"`

	SizeOfStackReserve uint64 `json:"size_of_stack_reserve"`
	SizeOfStackCommit  uint64 `json:"size_of_stack_commit"`
	SizeOfHeapReserve  uint64 `json:"size_of_heap_reserve"`
	SizeOfHeapCommit   uint64 `json:"size_of_heap_commit"`
	LoaderFlags        uint32 `json:"loader_flags"`

	NumberOfRvaAndSizes uint32            `json:"number_of_rva_and_sizes"`
	DataDirectory       [16]DataDirectory `json:"data_directories"`
}

// DataDirectory locates one well-known directory inside the image. This
// module decodes three of the sixteen entries (Exception, LoadConfig and
// the certificate probe); the others pass through untouched.
type DataDirectory struct {
	VirtualAddress uint32 // RVA of the directory (a raw file offset for the certificate entry).
	Size           uint32 // Size in bytes of the directory.
}

// ParseNTHeader reads the PE signature, the COFF file header and whichever
// optional header the magic selects, rejecting the legacy 16-bit formats
// that share the MZ stub.
func (pe *File) ParseNTHeader() error {
	ntHeaderOffset := pe.DOSHeader.AddressOfNewEXEHeader
	signature, err := pe.ReadUint32(ntHeaderOffset)
	if err != nil {
		return ErrInvalidNtHeaderOffset
	}

	switch uint16(signature) {
	case ImageOS2Signature:
		return ErrImageOS2SignatureFound
	case ImageOS2LESignature:
		return ErrImageOS2LESignatureFound
	case ImageVXDSignature:
		return ErrImageVXDSignatureFound
	case ImageTESignature:
		return ErrImageTESignatureFound
	}
	if signature != ImageNTSignature {
		return ErrImageNtSignatureNotFound
	}
	pe.NtHeader.Signature = signature

	fileHeaderSize := uint32(binary.Size(pe.NtHeader.FileHeader))
	if err := pe.structUnpack(&pe.NtHeader.FileHeader, ntHeaderOffset+4, fileHeaderSize); err != nil {
		return err
	}

	optHeaderOffset := ntHeaderOffset + 4 + fileHeaderSize
	magic, err := pe.ReadUint16(optHeaderOffset)
	if err != nil {
		return err
	}

	var imageBase uint64
	var sizeOfImage, sectionAlignment uint32
	switch magic {
	case ImageNtOptionalHeader64Magic:
		var oh64 ImageOptionalHeader64
		if err := pe.structUnpack(&oh64, optHeaderOffset, uint32(binary.Size(oh64))); err != nil {
			return err
		}
		pe.Is64 = true
		pe.NtHeader.OptionalHeader = oh64
		imageBase = oh64.ImageBase
		sizeOfImage = oh64.SizeOfImage
		sectionAlignment = oh64.SectionAlignment
	case ImageNtOptionalHeader32Magic:
		var oh32 ImageOptionalHeader32
		if err := pe.structUnpack(&oh32, optHeaderOffset, uint32(binary.Size(oh32))); err != nil {
			return err
		}
		pe.Is32 = true
		pe.NtHeader.OptionalHeader = oh32
		imageBase = uint64(oh32.ImageBase)
		sizeOfImage = oh32.SizeOfImage
		sectionAlignment = oh32.SectionAlignment
	default:
		return ErrImageNtOptionalHeaderMagicNotFound
	}

	// The loader maps the image at a 64K-aligned base.
	if imageBase%0x10000 != 0 {
		return ErrImageBaseNotAligned
	}

	if sectionAlignment != 0 && sizeOfImage%sectionAlignment != 0 {
		pe.Anomalies = append(pe.Anomalies, AnoInvalidSizeOfImage)
	}

	// ImageBase+SizeOfImage must stay inside the usable address space:
	// below 80000000h for PE32, below FFFF080000000000h for PE32+.
	limit := uint64(0xffff080000000000)
	if pe.Is32 {
		limit = 0x80000000
	}
	if imageBase+uint64(sizeOfImage) >= limit {
		pe.Anomalies = append(pe.Anomalies, AnoImageBaseOverflow)
	}

	pe.HasNTHdr = true
	return nil
}

// String returns a short name for the machine type.
func (t ImageFileHeaderMachineType) String() string {
	machineNames := map[ImageFileHeaderMachineType]string{
		ImageFileHeaderMachineType(ImageFileMachineUnknown): "Unknown",
		ImageFileHeaderMachineType(ImageFileMachineI386):    "x86",
		ImageFileHeaderMachineType(ImageFileMachineAMD64):   "x64",
		ImageFileHeaderMachineType(ImageFileMachineARM):     "ARM",
		ImageFileHeaderMachineType(ImageFileMachineARMNT):   "ARM Thumb-2",
		ImageFileHeaderMachineType(ImageFileMachineTHUMB):   "Thumb",
		ImageFileHeaderMachineType(ImageFileMachineARM64):   "ARM64",
		ImageFileMachineCHPEX86:                             "CHPE x86",
	}

	if name, ok := machineNames[t]; ok {
		return name
	}
	return "?"
}
