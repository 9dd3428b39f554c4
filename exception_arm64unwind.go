// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pecore

// ImageARM64RuntimeFunctionEntry is the function table entry for ARM64
// images: a start RVA plus a combined flag/payload word, the same shape as
// the ARM32 entry but with ARM64-specific packed unwind semantics.
type ImageARM64RuntimeFunctionEntry struct {
	BeginAddress uint32 `json:"begin_address"`
	UnwindData   uint32 `json:"unwind_data"`
}

func (e ImageARM64RuntimeFunctionEntry) arm64PackedUnwindFlag() uint8 {
	return uint8(e.UnwindData & 0x3)
}

// Arm64PackedUnwindData is the packed (flag != 0) form of an ARM64
// RUNTIME_FUNCTION's UnwindData word. The word is kept verbatim and every
// field is a bit-slice accessor, so re-encoding what was decoded always
// reproduces the original word.
type Arm64PackedUnwindData struct {
	Raw uint32 `json:"raw"`
}

// Flag returns the packed-unwind discriminator from the low 2 bits.
func (d Arm64PackedUnwindData) Flag() uint8 { return uint8(d.Raw & 0x3) }

// FunctionLength returns the length of the function in bytes; the field
// stores the byte count divided by 4.
func (d Arm64PackedUnwindData) FunctionLength() uint32 {
	return ((d.Raw & 0x1ffc) >> 2) * 4
}

// RegFP returns the raw 3-bit count field for saved FP registers (d8-d15).
func (d Arm64PackedUnwindData) RegFP() uint8 {
	return uint8((d.Raw & 0xe000) >> 13)
}

// RegFPCount returns the number of saved floating-point registers: zero
// when the raw field is zero, otherwise the raw field plus one.
func (d Arm64PackedUnwindData) RegFPCount() uint8 {
	raw := d.RegFP()
	if raw == 0 {
		return 0
	}
	return raw + 1
}

// RegInt returns the number of saved non-volatile integer registers
// (x19-x28).
func (d Arm64PackedUnwindData) RegInt() uint8 {
	return uint8((d.Raw & 0xf0000) >> 16)
}

// HomesIntegerParameterRegisters reports whether the function homes x0-x7
// at entry.
func (d Arm64PackedUnwindData) HomesIntegerParameterRegisters() bool {
	return d.Raw&0x100000 != 0
}

// CR returns the 2-bit chained/saved-lr discriminator.
func (d Arm64PackedUnwindData) CR() uint8 {
	return uint8((d.Raw & 0x600000) >> 21)
}

// FrameSize returns the number of bytes of stack allocated for the
// function; the field stores the byte count divided by 16.
func (d Arm64PackedUnwindData) FrameSize() uint32 {
	return ((d.Raw & 0xff800000) >> 23) * 16
}

func (d *Arm64PackedUnwindData) setBits(mask uint32, shift uint, value uint32) error {
	if value > mask>>shift {
		return Diagnostic{Code: ErrCodeIntegerOverflow}
	}
	d.Raw = (d.Raw &^ mask) | value<<shift
	return nil
}

// SetFlag stores the 2-bit packed-unwind discriminator.
func (d *Arm64PackedUnwindData) SetFlag(flag uint8) error {
	return d.setBits(0x3, 0, uint32(flag))
}

// SetFunctionLength stores a function byte length; it must be a multiple
// of 4 and the quartered value must fit the 11-bit field.
func (d *Arm64PackedUnwindData) SetFunctionLength(length uint32) error {
	if length%4 != 0 || length/4 > 0x7ff {
		return Diagnostic{Code: ErrCodeInvalidFunctionLength}
	}
	return d.setBits(0x1ffc, 2, length/4)
}

// SetRegFP stores the raw 3-bit saved-FP-register field.
func (d *Arm64PackedUnwindData) SetRegFP(raw uint8) error {
	if raw > 0x7 {
		return Diagnostic{Code: ErrCodeInvalidRegister}
	}
	return d.setBits(0xe000, 13, uint32(raw))
}

// SetRegInt stores the saved-integer-register count; at most the ten
// registers x19-x28 can be saved.
func (d *Arm64PackedUnwindData) SetRegInt(count uint8) error {
	if count > 10 {
		return Diagnostic{Code: ErrCodeInvalidRegister}
	}
	return d.setBits(0xf0000, 16, uint32(count))
}

// SetHomesIntegerParameterRegisters stores the H bit.
func (d *Arm64PackedUnwindData) SetHomesIntegerParameterRegisters(v bool) {
	if v {
		d.Raw |= 0x100000
	} else {
		d.Raw &^= 0x100000
	}
}

// SetCR stores the 2-bit chained/saved-lr discriminator.
func (d *Arm64PackedUnwindData) SetCR(cr uint8) error {
	return d.setBits(0x600000, 21, uint32(cr))
}

// SetFrameSize stores a frame byte size; it must be a multiple of 16 and
// the scaled value must fit the 9-bit field.
func (d *Arm64PackedUnwindData) SetFrameSize(size uint32) error {
	if size%16 != 0 || size/16 > 0x1ff {
		return Diagnostic{Code: ErrCodeInvalidFrameSize}
	}
	return d.setBits(0xff800000, 23, size/16)
}

// Arm64UnwindCode is one decoded entry of an ARM64 extended unwind record's
// opcode stream.
type Arm64UnwindCode struct {
	Opcode   string `json:"opcode"`
	Raw      []byte `json:"raw"`
	Register uint8  `json:"register,omitempty"`
	Offset   uint16 `json:"offset,omitempty"`
	Size     uint32 `json:"size,omitempty"`
	Delta    uint16 `json:"delta,omitempty"`
}

type arm64OpcodeDef struct {
	name   string
	length uint32
	mask   uint8
	match  uint8
}

// arm64OpcodeTable lists every documented ARM64 unwind opcode, ordered so
// no broad matcher steals a byte that belongs to a more specific one.
var arm64OpcodeTable = []arm64OpcodeDef{
	{"pacibsp", 1, 0xff, 0xfc},
	{"save_reg_any", 3, 0xff, 0xe7},
	{"save_next", 1, 0xff, 0xe6},
	{"end_c", 1, 0xff, 0xe5},
	{"end", 1, 0xff, 0xe4},
	{"nop", 1, 0xff, 0xe3},
	{"add_fp", 2, 0xff, 0xe2},
	{"set_fp", 1, 0xff, 0xe1},
	{"alloc_l", 4, 0xff, 0xe0},
	{"reserved_custom_stack", 1, 0xf8, 0xe8},
	{"save_freg_x", 2, 0xff, 0xde},
	{"save_reg_x", 2, 0xfe, 0xd4},
	{"save_lrpair", 2, 0xfe, 0xd6},
	{"save_fregp", 2, 0xfe, 0xd8},
	{"save_fregp_x", 2, 0xfe, 0xda},
	{"save_freg", 2, 0xfe, 0xdc},
	{"alloc_m", 2, 0xf8, 0xc0},
	{"save_regp", 2, 0xfc, 0xc8},
	{"save_regp_x", 2, 0xfc, 0xcc},
	{"save_reg", 2, 0xfc, 0xd0},
	{"save_fplr", 1, 0xc0, 0x40},
	{"save_fplr_x", 1, 0xc0, 0x80},
	{"save_r19r20_x", 1, 0xe0, 0x20},
	{"alloc_s", 1, 0xe0, 0x00},
}

func decodeArm64Opcode(buf *Buffer, offset uint32) (Arm64UnwindCode, uint32, error) {
	b0, err := buf.ReadUint8(offset)
	if err != nil {
		return Arm64UnwindCode{}, 0, err
	}

	for _, def := range arm64OpcodeTable {
		if b0&def.mask != def.match {
			continue
		}

		raw, err := buf.ReadBytes(offset, def.length)
		if err != nil {
			return Arm64UnwindCode{}, 0, err
		}

		code := Arm64UnwindCode{Opcode: def.name, Raw: raw}
		var b1 uint8
		if len(raw) > 1 {
			b1 = raw[1]
		}

		switch def.name {
		case "alloc_s":
			code.Size = uint32(b0&0x1f) * 16
		case "save_r19r20_x":
			code.Offset = uint16(b0&0x1f) * 8
		case "save_fplr", "save_fplr_x":
			code.Offset = uint16(b0&0x3f) * 8
		case "alloc_m":
			code.Size = (uint32(b0&0x7)<<8 | uint32(b1)) * 16
		case "save_regp", "save_regp_x", "save_reg":
			code.Register = (b0&0x3)<<2 | b1>>6
			code.Offset = uint16(b1&0x3f) * 8
		case "save_reg_x":
			code.Register = (b0&0x1)<<3 | b1>>5
			code.Offset = uint16(b1&0x1f) * 8
		case "save_lrpair", "save_fregp", "save_fregp_x", "save_freg":
			code.Register = (b0&0x1)<<2 | b1>>6
			code.Offset = uint16(b1&0x3f) * 8
		case "save_freg_x":
			code.Register = b1 >> 5
			code.Offset = uint16(b1&0x1f) * 8
		case "alloc_l":
			code.Size = (uint32(raw[1])<<16 | uint32(raw[2])<<8 | uint32(raw[3])) * 16
		case "add_fp":
			code.Delta = uint16(b1) * 8
		case "reserved_custom_stack":
			code.Register = b0 & 0x7
		}
		return code, def.length, nil
	}

	return Arm64UnwindCode{}, 0, nil
}

// Arm64EpilogScope is one decoded epilog-scope word of an ARM64 extended
// unwind record; unlike ARM there is no condition field and the start
// index is 10 bits wide.
type Arm64EpilogScope struct {
	StartOffset uint32 `json:"start_offset"`
	StartIndex  uint16 `json:"start_index"`
}

// Arm64ExtendedUnwindRecord is the multi-word .xdata record an ARM64
// RUNTIME_FUNCTION points at when its Flag bits indicate unpacked data. It
// shares the overflow-to-extended-header encoding with ARM, minus the F
// bit: the epilog count sits at bits 22-26 and the code word count at bits
// 27-31.
type Arm64ExtendedUnwindRecord struct {
	// FunctionLength is the function's length in bytes (the header stores
	// it divided by 4).
	FunctionLength      uint32             `json:"function_length"`
	Version             uint8              `json:"version"`
	HasExceptionHandler bool               `json:"has_exception_handler"`
	SingleEpilogPacked  bool               `json:"single_epilog_packed"`
	EpilogCount         uint32             `json:"epilog_count"`
	CodeWords           uint32             `json:"code_words"`
	EpilogScopes        []Arm64EpilogScope `json:"epilog_scopes,omitempty"`
	Codes               []Arm64UnwindCode  `json:"codes"`
	ExceptionHandlerRVA uint32             `json:"exception_handler_rva,omitempty"`
}

func parseArm64ExtendedUnwindRecord(img *Image, rva uint32, el *ErrorList) Arm64ExtendedUnwindRecord {
	var rec Arm64ExtendedUnwindRecord
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

	rec.FunctionLength = (header & 0x3ffff) * 4
	rec.Version = uint8((header >> 18) & 0x3)
	rec.HasExceptionHandler = header&0x100000 != 0
	rec.SingleEpilogPacked = header&0x200000 != 0
	epilogCount := (header >> 22) & 0x1f
	codeWords := (header >> 27) & 0x1f
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
			rec.EpilogScopes = append(rec.EpilogScopes, Arm64EpilogScope{
				StartOffset: (v & 0x3ffff) * 2,
				StartIndex:  uint16((v >> 22) & 0x3ff),
			})
			cur += 4
		}
	}

	codeStreamEnd := cur + codeWords*4
	for cur < codeStreamEnd {
		code, advance, err := decodeArm64Opcode(img.Buffer(), cur)
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
		if code.Opcode == "end" {
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

// Arm64Exception is a single ARM64 exception directory entry.
type Arm64Exception struct {
	RuntimeFunction ImageARM64RuntimeFunctionEntry `json:"runtime_function"`
	Packed          *Arm64PackedUnwindData         `json:"packed,omitempty"`
	Extended        *Arm64ExtendedUnwindRecord     `json:"extended,omitempty"`
	ErrorList       `json:"-"`
}

func parseArm64ExceptionDirectory(img *Image, rva, size uint32) ([]Arm64Exception, error) {
	const entrySize = 8
	fileOffset := img.RVAToOffset(rva)
	if fileOffset == ^uint32(0) {
		return nil, ErrOutsideBoundary
	}

	entriesCount := size / entrySize
	exceptions := make([]Arm64Exception, 0, entriesCount)

	for i := uint32(0); i < entriesCount; i++ {
		var entry ImageARM64RuntimeFunctionEntry
		offset := fileOffset + entrySize*i
		if err := Unpack(img.Buffer(), &entry, offset, entrySize); err != nil {
			return exceptions, err
		}

		if entry == (ImageARM64RuntimeFunctionEntry{}) {
			continue
		}

		exc := Arm64Exception{RuntimeFunction: entry}
		if entry.arm64PackedUnwindFlag() != 0 {
			exc.Packed = &Arm64PackedUnwindData{Raw: entry.UnwindData}
		} else {
			rec := parseArm64ExtendedUnwindRecord(img, entry.UnwindData, &exc.ErrorList)
			exc.Extended = &rec
		}
		exceptions = append(exceptions, exc)
	}

	return exceptions, nil
}
