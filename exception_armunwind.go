// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pecore

// ImageARMRuntimeFunctionEntry is the function table entry for the ARM and
// ARM Thumb-2 (ARMNT) platforms. Unlike the x64 RUNTIME_FUNCTION, this is
// a single DWORD pair: the function start RVA and a combined flag/payload
// word whose interpretation depends on the low 2 bits.
type ImageARMRuntimeFunctionEntry struct {
	BeginAddress uint32 `json:"begin_address"`
	UnwindData   uint32 `json:"unwind_data"`
}

// armPackedUnwindFlag returns the 2-bit Flag field packed into the low bits
// of UnwindData: 0 means UnwindData is an .xdata RVA, non-zero means
// UnwindData itself is packed unwind data.
func (e ImageARMRuntimeFunctionEntry) armPackedUnwindFlag() uint8 {
	return uint8(e.UnwindData & 0x3)
}

// ArmPackedUnwindData is the packed (flag != 0) form of an ARM
// RUNTIME_FUNCTION's UnwindData word. The word itself is kept verbatim and
// every field is a bit-slice accessor, so re-encoding what was decoded
// always reproduces the original word.
type ArmPackedUnwindData struct {
	Raw uint32 `json:"raw"`
}

// Flag returns the packed-unwind discriminator from the low 2 bits.
func (d ArmPackedUnwindData) Flag() uint8 { return uint8(d.Raw & 0x3) }

// FunctionLength returns the length of the function in bytes; the field
// stores the byte count divided by 2.
func (d ArmPackedUnwindData) FunctionLength() uint32 {
	return ((d.Raw & 0x1ffc) >> 2) * 2
}

// Ret returns the 2-bit return-sequence style (pop {pc}, 16-bit branch,
// 32-bit branch, or no epilogue).
func (d ArmPackedUnwindData) Ret() uint8 { return uint8((d.Raw & 0x6000) >> 13) }

// HomesIntegerParameterRegisters reports whether the function homes r0-r3
// at entry.
func (d ArmPackedUnwindData) HomesIntegerParameterRegisters() bool {
	return d.Raw&0x8000 != 0
}

// LastSavedRegisterIndex returns the 3-bit index of the last register saved
// by the canonical prolog.
func (d ArmPackedUnwindData) LastSavedRegisterIndex() uint8 {
	return uint8((d.Raw & 0x70000) >> 16)
}

// RegisterIsFloatingPoint reports whether the saved-register range is VFP
// (d8..) rather than integer (r4..).
func (d ArmPackedUnwindData) RegisterIsFloatingPoint() bool {
	return d.Raw&0x80000 != 0
}

// SaveRestoreLR reports whether LR is saved/restored alongside the
// register range.
func (d ArmPackedUnwindData) SaveRestoreLR() bool { return d.Raw&0x100000 != 0 }

// IncludesExtraInstructions reports whether the prolog/epilog includes the
// extra instructions the C bit describes.
func (d ArmPackedUnwindData) IncludesExtraInstructions() bool {
	return d.Raw&0x200000 != 0
}

// StackAdjust returns the raw 10-bit stack adjust field. Values below 0x3f4
// encode the adjustment in 4-byte words directly; larger values fold the
// adjustment into the register-save opcodes.
func (d ArmPackedUnwindData) StackAdjust() uint16 {
	return uint16((d.Raw & 0xffc00000) >> 22)
}

func (d *ArmPackedUnwindData) setBits(mask uint32, shift uint, value uint32) error {
	if value > mask>>shift {
		return Diagnostic{Code: ErrCodeIntegerOverflow}
	}
	d.Raw = (d.Raw &^ mask) | value<<shift
	return nil
}

// SetFlag stores the 2-bit packed-unwind discriminator.
func (d *ArmPackedUnwindData) SetFlag(flag uint8) error {
	return d.setBits(0x3, 0, uint32(flag))
}

// SetFunctionLength stores a function byte length; it must be even and the
// halved value must fit the 11-bit field.
func (d *ArmPackedUnwindData) SetFunctionLength(length uint32) error {
	if length%2 != 0 || length/2 > 0x7ff {
		return Diagnostic{Code: ErrCodeInvalidFunctionLength}
	}
	return d.setBits(0x1ffc, 2, length/2)
}

// SetRet stores the 2-bit return-sequence style.
func (d *ArmPackedUnwindData) SetRet(ret uint8) error {
	return d.setBits(0x6000, 13, uint32(ret))
}

// SetHomesIntegerParameterRegisters stores the H bit.
func (d *ArmPackedUnwindData) SetHomesIntegerParameterRegisters(v bool) {
	if v {
		d.Raw |= 0x8000
	} else {
		d.Raw &^= 0x8000
	}
}

// SetLastSavedRegisterIndex stores the 3-bit saved-register index.
func (d *ArmPackedUnwindData) SetLastSavedRegisterIndex(idx uint8) error {
	if idx > 0x7 {
		return Diagnostic{Code: ErrCodeInvalidRegister}
	}
	return d.setBits(0x70000, 16, uint32(idx))
}

// SetStackAdjust stores the raw 10-bit stack adjust field.
func (d *ArmPackedUnwindData) SetStackAdjust(adjust uint16) error {
	if adjust > 0x3ff {
		return Diagnostic{Code: ErrCodeInvalidStackAdjust}
	}
	return d.setBits(0xffc00000, 22, uint32(adjust))
}

// armOpcodeDef describes one entry of the ARM .xdata unwind-code table: a
// byte-length framing plus a (mask, match) predicate tested against the
// first byte of the opcode.
type armOpcodeDef struct {
	name   string
	length uint32
	mask   uint8
	match  uint8
}

// armOpcodeTable lists every documented ARM unwind opcode: each entry's
// length is the number of .xdata bytes the opcode occupies, identified by
// matching its leading byte against (mask, match). Bytes 0xf0-0xf4 are
// reserved and deliberately match nothing here.
var armOpcodeTable = []armOpcodeDef{
	{"save_r0r12_lr", 2, 0xc0, 0x80},
	{"mov_sprx", 1, 0xf0, 0xc0},
	{"save_r4rx_lr_wide", 1, 0xf8, 0xd8},
	{"save_r4rx_lr", 1, 0xf8, 0xd0},
	{"save_d8dx", 1, 0xf8, 0xe0},
	{"alloc_s_wide", 2, 0xfc, 0xe8},
	{"save_r0r7_lr", 2, 0xfe, 0xec},
	{"ms_specific", 2, 0xff, 0xee},
	{"ldr_lr_sp", 2, 0xff, 0xef},
	{"save_dsde", 2, 0xff, 0xf5},
	{"save_dsde_16", 2, 0xff, 0xf6},
	{"alloc_m", 3, 0xff, 0xf7},
	{"alloc_l", 4, 0xff, 0xf8},
	{"alloc_m_wide", 3, 0xff, 0xf9},
	{"alloc_l_wide", 4, 0xff, 0xfa},
	{"nop", 1, 0xff, 0xfb},
	{"nop_wide", 1, 0xff, 0xfc},
	{"end_nop", 1, 0xff, 0xfd},
	{"end_nop_wide", 1, 0xff, 0xfe},
	{"end", 1, 0xff, 0xff},
	{"alloc_s", 1, 0x80, 0x00},
}

// ArmUnwindCode is one decoded entry of an ARM extended unwind record's
// opcode stream.
type ArmUnwindCode struct {
	Opcode string `json:"opcode"`
	Raw    []byte `json:"raw"`

	// AllocationSize is populated for the alloc_m/alloc_l families.
	AllocationSize uint32 `json:"allocation_size,omitempty"`

	// SavedRegistersFirst/Last are populated for save_dsde/save_dsde_16.
	SavedRegistersFirst uint8 `json:"saved_registers_first,omitempty"`
	SavedRegistersLast  uint8 `json:"saved_registers_last,omitempty"`
}

// bigEndianBits reads raw (big-endian, first byte most significant) and
// extracts the inclusive bit range [lo, hi], bit 0 being the LSB of the
// last byte.
func bigEndianBits(raw []byte, lo, hi int) uint32 {
	var v uint64
	for _, b := range raw {
		v = v<<8 | uint64(b)
	}
	shifted := v >> uint(lo)
	bits := hi - lo + 1
	mask := uint64(1)<<uint(bits) - 1
	return uint32(shifted & mask)
}

// decodeArmOpcode matches buf[offset:] against armOpcodeTable and decodes
// the operand fields of the matched opcode.
func decodeArmOpcode(buf *Buffer, offset uint32) (ArmUnwindCode, uint32, error) {
	b0, err := buf.ReadUint8(offset)
	if err != nil {
		return ArmUnwindCode{}, 0, err
	}

	for _, def := range armOpcodeTable {
		if b0&def.mask != def.match {
			continue
		}

		raw, err := buf.ReadBytes(offset, def.length)
		if err != nil {
			return ArmUnwindCode{}, 0, err
		}

		code := ArmUnwindCode{Opcode: def.name, Raw: raw}
		switch def.name {
		case "alloc_m", "alloc_m_wide", "alloc_l", "alloc_l_wide":
			// The leading byte is the opcode matcher itself; the operand is
			// the remaining len(raw)-1 bytes, big-endian, scaled by 4.
			code.AllocationSize = bigEndianBits(raw, 0, (len(raw)-1)*8-1) * 4
		case "save_dsde":
			// Trailing byte is sssseeee: vpop {dS-dE}.
			code.SavedRegistersFirst = uint8(bigEndianBits(raw, 4, 7))
			code.SavedRegistersLast = uint8(bigEndianBits(raw, 0, 3))
		case "save_dsde_16":
			code.SavedRegistersFirst = uint8(bigEndianBits(raw, 4, 7)) + 16
			code.SavedRegistersLast = uint8(bigEndianBits(raw, 0, 3)) + 16
		}
		return code, def.length, nil
	}

	return ArmUnwindCode{}, 0, nil
}

// ArmEpilogScope is one decoded epilog-scope word of an ARM extended
// unwind record.
type ArmEpilogScope struct {
	// StartOffset is the epilog's offset from the function start in bytes
	// (the field stores it divided by 2).
	StartOffset uint32 `json:"start_offset"`

	// Condition is the 4-bit condition under which the epilog runs; 0xe
	// means unconditional.
	Condition uint8 `json:"condition"`

	// StartIndex is the byte index of the epilog's first unwind code.
	StartIndex uint16 `json:"start_index"`
}

// ArmExtendedUnwindRecord is the multi-word .xdata record an ARM
// RUNTIME_FUNCTION points at when its Flag bits indicate unpacked data:
// a header carrying function length/epilog count/code word count (with an
// extended overflow header when those fields don't fit), optional epilog
// scopes, and the opcode stream.
type ArmExtendedUnwindRecord struct {
	// FunctionLength is the function's length in bytes (the header stores
	// it divided by 2).
	FunctionLength uint32 `json:"function_length"`
	Version        uint8  `json:"version"`

	// HasExceptionHandler mirrors the X bit: a handler RVA trails the
	// opcode stream.
	HasExceptionHandler bool `json:"has_exception_handler"`

	// SingleEpilogPacked mirrors the E bit: the epilog-count field holds
	// the start index of the one and only epilog instead of a count, and
	// no epilog scope words follow the header.
	SingleEpilogPacked bool `json:"single_epilog_packed"`

	// IsFunctionFragment mirrors the F bit: this record describes a
	// fragment without a prolog.
	IsFunctionFragment bool `json:"is_function_fragment"`

	EpilogCount         uint32           `json:"epilog_count"`
	CodeWords           uint32           `json:"code_words"`
	EpilogScopes        []ArmEpilogScope `json:"epilog_scopes,omitempty"`
	Codes               []ArmUnwindCode  `json:"codes"`
	ExceptionHandlerRVA uint32           `json:"exception_handler_rva,omitempty"`
}

// parseArmExtendedUnwindRecord decodes the .xdata record at rva. The 1-word
// header stores function length (18 bits), version (2), the X/E/F flag
// bits, epilog count (5) and code word count (4); when epilog count and
// code words are both zero, a second header word carries the true 16-bit
// and 8-bit values instead.
func parseArmExtendedUnwindRecord(img *Image, rva uint32, el *ErrorList) ArmExtendedUnwindRecord {
	var rec ArmExtendedUnwindRecord
	offset := img.RVAToOffset(rva)
	if offset == ^uint32(0) {
		el.Addf(ErrCodeInvalidVa, "extended unwind record RVA 0x%x could not be resolved", rva)
		return rec
	}

	header, err := img.Buffer().ReadUint32(offset)
	if err != nil {
		el.AddErr(ErrCodeInvalidRuntimeFunctionEntry, err)
		return rec
	}

	rec.FunctionLength = (header & 0x3ffff) * 2
	rec.Version = uint8((header >> 18) & 0x3)
	rec.HasExceptionHandler = header&0x100000 != 0
	rec.SingleEpilogPacked = header&0x200000 != 0
	rec.IsFunctionFragment = header&0x400000 != 0
	epilogCount := (header >> 23) & 0x1f
	codeWords := (header >> 28) & 0xf
	cur := offset + 4

	if rec.Version != 0 {
		el.Addf(ErrCodeInvalidUnwindInfoVersion, "extended unwind record version %d", rec.Version)
		return rec
	}

	if epilogCount == 0 && codeWords == 0 {
		extHeader, err := img.Buffer().ReadUint32(cur)
		if err != nil {
			el.AddErr(ErrCodeInvalidRuntimeFunctionEntry, err)
			return rec
		}
		epilogCount = extHeader & 0xffff
		codeWords = (extHeader >> 16) & 0xff
		cur += 4
	}
	rec.EpilogCount = epilogCount
	rec.CodeWords = codeWords

	if !rec.SingleEpilogPacked {
		for i := uint32(0); i < epilogCount; i++ {
			v, err := img.Buffer().ReadUint32(cur)
			if err != nil {
				el.AddErr(ErrCodeInvalidRuntimeFunctionEntry, err)
				return rec
			}
			rec.EpilogScopes = append(rec.EpilogScopes, ArmEpilogScope{
				StartOffset: (v & 0x3ffff) * 2,
				Condition:   uint8((v >> 20) & 0xf),
				StartIndex:  uint16(v >> 24),
			})
			cur += 4
		}
	}

	codeStreamEnd := cur + codeWords*4
	for cur < codeStreamEnd {
		code, advance, err := decodeArmOpcode(img.Buffer(), cur)
		if err != nil || advance == 0 {
			if err != nil {
				el.AddErr(ErrCodeUnrecognizedArmUnwindOpcode, err)
			} else {
				el.Addf(ErrCodeUnrecognizedArmUnwindOpcode, "unrecognized opcode byte at 0x%x", cur)
			}
			break
		}
		rec.Codes = append(rec.Codes, code)
		cur += advance
		if code.Opcode == "end" || code.Opcode == "end_nop" ||
			code.Opcode == "end_nop_wide" {
			break
		}
	}

	if rec.HasExceptionHandler {
		eh, err := img.Buffer().ReadUint32(codeStreamEnd)
		if err != nil {
			el.AddErr(ErrCodeInvalidExceptionHandlerRva, err)
		} else {
			rec.ExceptionHandlerRVA = eh
		}
	}

	return rec
}

// ArmException is a single ARM/ARMNT exception directory entry: a
// RUNTIME_FUNCTION plus either its packed unwind word or its full extended
// unwind record, depending on the entry's Flag bits.
type ArmException struct {
	RuntimeFunction ImageARMRuntimeFunctionEntry `json:"runtime_function"`
	Packed          *ArmPackedUnwindData         `json:"packed,omitempty"`
	Extended        *ArmExtendedUnwindRecord     `json:"extended,omitempty"`
	ErrorList       `json:"-"`
}

func parseArmExceptionDirectory(img *Image, rva, size uint32) ([]ArmException, error) {
	const entrySize = 8
	fileOffset := img.RVAToOffset(rva)
	if fileOffset == ^uint32(0) {
		return nil, ErrOutsideBoundary
	}

	entriesCount := size / entrySize
	exceptions := make([]ArmException, 0, entriesCount)

	for i := uint32(0); i < entriesCount; i++ {
		var entry ImageARMRuntimeFunctionEntry
		offset := fileOffset + entrySize*i
		if err := Unpack(img.Buffer(), &entry, offset, entrySize); err != nil {
			return exceptions, err
		}

		if entry == (ImageARMRuntimeFunctionEntry{}) {
			continue
		}

		exc := ArmException{RuntimeFunction: entry}
		if entry.armPackedUnwindFlag() != 0 {
			exc.Packed = &ArmPackedUnwindData{Raw: entry.UnwindData}
		} else {
			rec := parseArmExtendedUnwindRecord(img, entry.UnwindData, &exc.ErrorList)
			exc.Extended = &rec
		}
		exceptions = append(exceptions, exc)
	}

	return exceptions, nil
}
