// Copyright 2021 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pecore

import "testing"

func TestArm64PackedUnwindDataRegFP(t *testing.T) {
	cases := []struct {
		rawField uint8
		want     uint8
	}{
		{0, 0},
		{1, 2},
		{7, 8},
	}
	for _, c := range cases {
		d := Arm64PackedUnwindData{Raw: uint32(c.rawField&0x7) << 13}
		if got := d.RegFP(); got != c.rawField {
			t.Fatalf("RegFP() = %d, want %d", got, c.rawField)
		}
		if count := d.RegFPCount(); count != c.want {
			t.Errorf("RegFPCount() with raw field %d = %d, want %d", c.rawField, count, c.want)
		}
	}
}

func TestArm64PackedUnwindDataFields(t *testing.T) {
	raw := uint32(0)
	raw |= 1        // flag
	raw |= 32 << 2  // function length field: 128 bytes
	raw |= 2 << 13  // RegF
	raw |= 4 << 16  // RegInt
	raw |= 1 << 20  // H
	raw |= 3 << 21  // CR: chained
	raw |= 10 << 23 // frame size field: 160 bytes

	d := Arm64PackedUnwindData{Raw: raw}
	if got := d.FunctionLength(); got != 128 {
		t.Errorf("FunctionLength() = %d, want 128", got)
	}
	if got := d.RegInt(); got != 4 {
		t.Errorf("RegInt() = %d, want 4", got)
	}
	if !d.HomesIntegerParameterRegisters() {
		t.Errorf("HomesIntegerParameterRegisters() = false, want true")
	}
	if got := d.CR(); got != 3 {
		t.Errorf("CR() = %d, want 3", got)
	}
	if got := d.FrameSize(); got != 160 {
		t.Errorf("FrameSize() = %d, want 160", got)
	}
}

func TestArm64PackedUnwindDataSetterRoundTrip(t *testing.T) {
	var d Arm64PackedUnwindData
	if err := d.SetFlag(1); err != nil {
		t.Fatalf("SetFlag() failed: %v", err)
	}
	if err := d.SetFunctionLength(128); err != nil {
		t.Fatalf("SetFunctionLength() failed: %v", err)
	}
	if err := d.SetRegFP(2); err != nil {
		t.Fatalf("SetRegFP() failed: %v", err)
	}
	if err := d.SetRegInt(4); err != nil {
		t.Fatalf("SetRegInt() failed: %v", err)
	}
	if err := d.SetCR(3); err != nil {
		t.Fatalf("SetCR() failed: %v", err)
	}
	if err := d.SetFrameSize(160); err != nil {
		t.Fatalf("SetFrameSize() failed: %v", err)
	}

	before := d.Raw
	if err := d.SetFunctionLength(d.FunctionLength()); err != nil {
		t.Fatalf("round-trip SetFunctionLength() failed: %v", err)
	}
	if err := d.SetFrameSize(d.FrameSize()); err != nil {
		t.Fatalf("round-trip SetFrameSize() failed: %v", err)
	}
	if err := d.SetRegFP(d.RegFP()); err != nil {
		t.Fatalf("round-trip SetRegFP() failed: %v", err)
	}
	if d.Raw != before {
		t.Errorf("round trip changed the word: %#x != %#x", d.Raw, before)
	}
}

func TestArm64PackedUnwindDataSetterValidation(t *testing.T) {
	d := Arm64PackedUnwindData{Raw: 0xcafebabe}
	before := d.Raw

	if err := d.SetFunctionLength(130); err == nil {
		t.Errorf("SetFunctionLength(130) succeeded, want error")
	}
	if err := d.SetFunctionLength(0x7ff*4 + 4); err == nil {
		t.Errorf("SetFunctionLength(overflow) succeeded, want error")
	}
	if err := d.SetFrameSize(24); err == nil {
		t.Errorf("SetFrameSize(24) succeeded, want error")
	}
	if err := d.SetRegInt(11); err == nil {
		t.Errorf("SetRegInt(11) succeeded, want error")
	}

	if d.Raw != before {
		t.Errorf("failed setters modified the word: %#x != %#x", d.Raw, before)
	}
}

func TestDecodeArm64OpcodeAllocS(t *testing.T) {
	// alloc_s: top 3 bits 000, low 5 bits = size/16.
	data := []byte{0x05}
	buf := NewBuffer(data)

	code, advance, err := decodeArm64Opcode(buf, 0)
	if err != nil {
		t.Fatalf("decodeArm64Opcode() failed: %v", err)
	}
	if advance != 1 {
		t.Fatalf("advance = %d, want 1", advance)
	}
	if code.Opcode != "alloc_s" || code.Size != 5*16 {
		t.Errorf("got %+v, want alloc_s size=%d", code, 5*16)
	}
}

func TestDecodeArm64OpcodeEnd(t *testing.T) {
	data := []byte{0xe4}
	buf := NewBuffer(data)

	code, advance, err := decodeArm64Opcode(buf, 0)
	if err != nil {
		t.Fatalf("decodeArm64Opcode() failed: %v", err)
	}
	if advance != 1 || code.Opcode != "end" {
		t.Errorf("got opcode %q advance %d, want end/1", code.Opcode, advance)
	}
}

func TestDecodeArm64OpcodeSaveRegp(t *testing.T) {
	// save_regp 110010xx xxzzzzzz: X=0b0101, Z=0b000011.
	data := []byte{0xc9, 0x43}
	buf := NewBuffer(data)

	code, advance, err := decodeArm64Opcode(buf, 0)
	if err != nil {
		t.Fatalf("decodeArm64Opcode() failed: %v", err)
	}
	if advance != 2 || code.Opcode != "save_regp" {
		t.Fatalf("got opcode %q advance %d, want save_regp/2", code.Opcode, advance)
	}
	if code.Register != 5 {
		t.Errorf("Register = %d, want 5", code.Register)
	}
	if code.Offset != 3*8 {
		t.Errorf("Offset = %d, want %d", code.Offset, 3*8)
	}
}

func TestParseArm64ExtendedUnwindRecordWithExceptionHandler(t *testing.T) {
	data := make([]byte, 0x20)
	// header: function length field=4 (16 bytes), version=0,
	// has_exception_data=1, epilog count=0, code words=1 (bits 27..31).
	putUint32At(data, 0, 4|uint32(1)<<20|uint32(1)<<27)
	data[4] = 0xe4               // end opcode, padded to the code-word boundary.
	putUint32At(data, 8, 0x5000) // exception handler RVA.

	img := NewImage(data, true, 0x140000000, 0x200, 0x1000, nil)
	var el ErrorList
	rec := parseArm64ExtendedUnwindRecord(img, 0, &el)

	if el.HasErrors() {
		t.Fatalf("unexpected errors: %v", el.Errors())
	}
	if rec.FunctionLength != 16 {
		t.Errorf("FunctionLength = %d, want 16", rec.FunctionLength)
	}
	if !rec.HasExceptionHandler {
		t.Fatalf("HasExceptionHandler = false, want true")
	}
	if rec.ExceptionHandlerRVA != 0x5000 {
		t.Errorf("ExceptionHandlerRVA = %#x, want 0x5000", rec.ExceptionHandlerRVA)
	}
	if len(rec.Codes) != 1 || rec.Codes[0].Opcode != "end" {
		t.Errorf("Codes = %+v, want single end opcode", rec.Codes)
	}
}

func TestParseArm64ExtendedUnwindRecordExtendedHeader(t *testing.T) {
	data := make([]byte, 0x100)
	// Base epilog count and code words both zero: the second word carries
	// the true counts (epilog count 0, code words 2).
	putUint32At(data, 0, 4)
	putUint32At(data, 4, uint32(2)<<16)
	data[8] = 0x05 // alloc_s
	data[9] = 0xe4 // end

	img := NewImage(data, true, 0x140000000, 0x200, 0x1000, nil)
	var el ErrorList
	rec := parseArm64ExtendedUnwindRecord(img, 0, &el)

	if el.HasErrors() {
		t.Fatalf("unexpected errors: %v", el.Errors())
	}
	if rec.CodeWords != 2 {
		t.Errorf("CodeWords = %d, want 2", rec.CodeWords)
	}
	if len(rec.Codes) != 2 || rec.Codes[1].Opcode != "end" {
		t.Errorf("Codes = %+v, want alloc_s then end", rec.Codes)
	}
}

func TestParseArm64ExceptionDirectoryPacked(t *testing.T) {
	data := make([]byte, 0x20)
	// One packed entry: begin RVA 0x1000, flag=1, function length field=8.
	putUint32At(data, 0, 0x1000)
	putUint32At(data, 4, 1|uint32(8)<<2)

	img := NewImage(data, true, 0x140000000, 0x200, 0x1000, nil)
	exceptions, err := parseArm64ExceptionDirectory(img, 0, 8)
	if err != nil {
		t.Fatalf("parseArm64ExceptionDirectory() failed: %v", err)
	}
	if len(exceptions) != 1 {
		t.Fatalf("entry count = %d, want 1", len(exceptions))
	}
	exc := exceptions[0]
	if exc.Packed == nil || exc.Extended != nil {
		t.Fatalf("expected packed unwind data, got %+v", exc)
	}
	if got := exc.Packed.FunctionLength(); got != 32 {
		t.Errorf("FunctionLength() = %d, want 32", got)
	}
}
