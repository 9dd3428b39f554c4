// Copyright 2021 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pecore

import (
	"encoding/binary"
	"testing"
)

func putUint32At(b []byte, offset uint32, v uint32) {
	binary.LittleEndian.PutUint32(b[offset:], v)
}

func putUint16At(b []byte, offset uint32, v uint16) {
	binary.LittleEndian.PutUint16(b[offset:], v)
}

func TestParseX64ExceptionDirectory(t *testing.T) {
	data := make([]byte, 0x40)

	// IMAGE_RUNTIME_FUNCTION_ENTRY at offset 0.
	putUint32At(data, 0, 0x1000)
	putUint32At(data, 4, 0x1010)
	putUint32At(data, 8, 0x20)

	// UNWIND_INFO header at offset 0x20: version 1, flags 0, prolog 7, 1 code.
	putUint32At(data, 0x20, 0x10701)

	// Single UWOP_ALLOC_SMALL code: CodeOffset=7, OpInfo=8 -> Size=72.
	putUint16At(data, 0x24, 0x8207)

	img := NewImage(data, false, 0x400000, 0x200, 0x1000, nil)

	exceptions, err := parseX64ExceptionDirectory(img, 0, 12)
	if err != nil {
		t.Fatalf("parseX64ExceptionDirectory() failed, reason: %v", err)
	}
	if len(exceptions) != 1 {
		t.Fatalf("entry count assertion failed, got %d, want 1", len(exceptions))
	}

	rf := exceptions[0].RuntimeFunction
	want := ImageRuntimeFunctionEntry{BeginAddress: 0x1000, EndAddress: 0x1010, UnwindInfoAddress: 0x20}
	if rf != want {
		t.Errorf("RuntimeFunction assertion failed, got %+v, want %+v", rf, want)
	}

	ui := exceptions[0].UnwindInfo
	if ui.Version != 1 || ui.SizeOfProlog != 7 || ui.CountOfCodes != 1 {
		t.Errorf("UnwindInfo header assertion failed, got %+v", ui)
	}
	if len(ui.UnwindCodes) != 1 {
		t.Fatalf("expected 1 unwind code, got %d", len(ui.UnwindCodes))
	}
	uc := ui.UnwindCodes[0]
	if uc.UnwindOp != UwOpAllocSmall || uc.Operand != "Size=72" {
		t.Errorf("unwind code assertion failed, got %+v", uc)
	}
}

func TestParseUnwindInfoChain(t *testing.T) {
	data := make([]byte, 0x60)

	// Primary UNWIND_INFO at 0x20: version 1, flags UNW_FLAG_CHAININFO, 0 codes.
	putUint32At(data, 0x20, uint32(UnwFlagChainInfo)<<3|1)
	// 0 codes: codeOffset == tailOffset, no padding since CountOfCodes is even (0).
	// Chained RUNTIME_FUNCTION at 0x24.
	putUint32At(data, 0x24, 0x2000)
	putUint32At(data, 0x28, 0x2010)
	putUint32At(data, 0x2c, 0x40)

	// Chained-to UNWIND_INFO at 0x40: version 1, no flags, 0 codes.
	putUint32At(data, 0x40, 1)

	img := NewImage(data, false, 0x400000, 0x200, 0x1000, nil)

	var el ErrorList
	ui := parseUnwindInfo(img, 0x20, &el)
	if el.HasErrors() {
		t.Fatalf("unexpected errors: %v", el.Errors())
	}
	if ui.ChainDepth != 1 {
		t.Errorf("ChainDepth assertion failed, got %d, want 1", ui.ChainDepth)
	}
}

func TestParseUnwindInfoChainDepthGuard(t *testing.T) {
	const entrySize = 0x40
	data := make([]byte, entrySize*(maxUnwindChainDepth+4))

	for i := 0; i < maxUnwindChainDepth+3; i++ {
		base := uint32(i * entrySize)
		// Every record chains to the next one.
		putUint32At(data, base, uint32(UnwFlagChainInfo)<<3|1)
		putUint32At(data, base+4, base)
		putUint32At(data, base+8, base+0x10)
		putUint32At(data, base+0xc, base+entrySize)
	}

	img := NewImage(data, false, 0x400000, 0x200, 0x1000, nil)

	var el ErrorList
	ui := parseUnwindInfo(img, 0, &el)
	if !el.HasErrors() {
		t.Fatalf("expected chain-depth guard to report an error")
	}
	if ui.ChainDepth < maxUnwindChainDepth {
		t.Errorf("expected chain to reach the guard depth, got %d", ui.ChainDepth)
	}
}

func TestParseUnwindInfoUnaligned(t *testing.T) {
	data := make([]byte, 0x40)
	img := NewImage(data, false, 0x400000, 0x200, 0x1000, nil)

	var el ErrorList
	parseUnwindInfo(img, 0x21, &el)
	if !el.Has(ErrCodeUnalignedUnwindInfo) {
		t.Errorf("missing UnalignedUnwindInfo diagnostic")
	}
}

func TestParseUnwindInfoBadVersion(t *testing.T) {
	data := make([]byte, 0x40)
	putUint32At(data, 0x20, 5) // version 5
	img := NewImage(data, false, 0x400000, 0x200, 0x1000, nil)

	var el ErrorList
	parseUnwindInfo(img, 0x20, &el)
	if !el.Has(ErrCodeInvalidUnwindInfoVersion) {
		t.Errorf("missing InvalidUnwindInfoVersion diagnostic")
	}
}

func TestParseUnwindInfoFlagConflict(t *testing.T) {
	data := make([]byte, 0x40)
	// Chain info combined with an exception handler flag.
	flags := uint32(UnwFlagChainInfo | UnwFlagEHandler)
	putUint32At(data, 0x20, flags<<3|1)
	// The chained runtime function entry: all zero unwind address keeps the
	// walk short (0 is 4-aligned and resolves to the start of the buffer,
	// whose version field is 0).
	img := NewImage(data, false, 0x400000, 0x200, 0x1000, nil)

	var el ErrorList
	parseUnwindInfo(img, 0x20, &el)
	if !el.Has(ErrCodeInvalidUnwindInfoFlags) {
		t.Errorf("missing InvalidUnwindInfoFlags diagnostic")
	}
}

func TestParseUnwindInfoPushNonvolOutOfOrder(t *testing.T) {
	data := make([]byte, 0x40)
	// Version 1, no flags, 3 code slots: UWOP_SAVE_NONVOL (2 slots)
	// followed by UWOP_PUSH_NONVOL, which must have come first.
	putUint32At(data, 0x20, uint32(3)<<16|1)
	putUint16At(data, 0x24, 0x3405) // save_nonvol, register rbx
	putUint16At(data, 0x26, 0x0032) // frame offset slot
	putUint16At(data, 0x28, 0x5002) // push_nonvol rbp

	img := NewImage(data, false, 0x400000, 0x200, 0x1000, nil)

	var el ErrorList
	ui := parseUnwindInfo(img, 0x20, &el)
	if len(ui.UnwindCodes) != 2 {
		t.Fatalf("code count = %d, want 2", len(ui.UnwindCodes))
	}
	if !el.Has(ErrCodePushNonvolUwopOutOfOrder) {
		t.Errorf("missing PushNonvolUwopOutOfOrder diagnostic")
	}
}

func TestParseUnwindInfoBothSetFpregTypes(t *testing.T) {
	data := make([]byte, 0x40)
	// 4 slots: UWOP_SET_FPREG (1 slot) then UWOP_SET_FPREG_LARGE (3 slots).
	putUint32At(data, 0x20, uint32(4)<<16|1)
	putUint16At(data, 0x24, 0x0300) // set_fpreg
	putUint16At(data, 0x26, 0x0b00) // set_fpreg_large
	putUint16At(data, 0x28, 0x0001) // offset slots
	putUint16At(data, 0x2a, 0x0000)

	img := NewImage(data, false, 0x400000, 0x200, 0x1000, nil)

	var el ErrorList
	parseUnwindInfo(img, 0x20, &el)
	if !el.Has(ErrCodeBothSetFpregTypesUsed) {
		t.Errorf("missing BothSetFpregTypesUsed diagnostic")
	}
}

func TestParseUnwindInfoInvalidExceptionHandlerRva(t *testing.T) {
	data := make([]byte, 0x40)
	// Version 1, EHANDLER flag, no codes; handler RVA at the tail points
	// far outside the image.
	putUint32At(data, 0x20, uint32(UnwFlagEHandler)<<3|1)
	putUint32At(data, 0x24, 0x12345678)

	img := NewImage(data, false, 0x400000, 0x200, 0x1000, nil)

	var el ErrorList
	ui := parseUnwindInfo(img, 0x20, &el)
	if ui.ExceptionHandler != 0x12345678 {
		t.Errorf("ExceptionHandler = %#x, want 0x12345678", ui.ExceptionHandler)
	}
	if !el.Has(ErrCodeInvalidExceptionHandlerRva) {
		t.Errorf("missing InvalidExceptionHandlerRva diagnostic")
	}
}

func TestParseUnwindInfoUnknownOpcode(t *testing.T) {
	data := make([]byte, 0x40)
	putUint32At(data, 0x20, uint32(2)<<16|1)
	putUint16At(data, 0x24, 0x0f00) // opcode id 15 is undefined
	putUint16At(data, 0x26, 0x0002) // never reached

	img := NewImage(data, false, 0x400000, 0x200, 0x1000, nil)

	var el ErrorList
	ui := parseUnwindInfo(img, 0x20, &el)
	if len(ui.UnwindCodes) != 0 {
		t.Errorf("decoded %d codes past an unknown opcode", len(ui.UnwindCodes))
	}
	if !el.Has(ErrCodeUnrecognizedUnwindOpcode) {
		t.Errorf("missing UnrecognizedUnwindOpcode diagnostic")
	}
}

func TestParseX64ExceptionDirectorySkipsZeroSentinel(t *testing.T) {
	data := make([]byte, 0x40)
	// First entry is a zero sentinel; second is real.
	putUint32At(data, 12, 0x1000)
	putUint32At(data, 16, 0x1010)
	putUint32At(data, 20, 0x20)
	putUint32At(data, 0x20, 1) // minimal unwind info, version 1, 0 codes.

	img := NewImage(data, false, 0x400000, 0x200, 0x1000, nil)
	exceptions, err := parseX64ExceptionDirectory(img, 0, 24)
	if err != nil {
		t.Fatalf("parseX64ExceptionDirectory() failed: %v", err)
	}
	if len(exceptions) != 1 {
		t.Errorf("entry count = %d, want 1 after skipping the sentinel", len(exceptions))
	}
}

func TestExceptionDirectoryUnalignedSize(t *testing.T) {
	data := buildMinimalPE64(t)
	// Exception data directory: entry 3, declared size not a multiple of
	// the 12-byte runtime function descriptor.
	const exceptionDirOffset = 0x98 + 112 + 3*8
	putUint32At(data, exceptionDirOffset, 0x1000)
	putUint32At(data, exceptionDirOffset+4, 30)

	pe, err := NewBytes(data, &Options{})
	if err != nil {
		t.Fatalf("NewBytes() failed: %v", err)
	}
	if err := pe.Parse(); err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}

	if !pe.ExceptionDirErrors.Has(ErrCodeUnalignedRuntimeFunctionTable) {
		t.Errorf("missing UnalignedRuntimeFunctionTable diagnostic, got %v",
			pe.ExceptionDirErrors.Diagnostics())
	}
	// The table still parses up to the largest whole multiple; the two
	// whole descriptors here are zero sentinels, so no entries surface.
	if len(pe.Exceptions) != 0 {
		t.Errorf("entry count = %d, want 0", len(pe.Exceptions))
	}
}

func TestUnwindOpTypeString(t *testing.T) {
	if got := UwOpAllocLarge.String(); got != "UWOP_ALLOC_LARGE" {
		t.Errorf("UwOpAllocLarge.String() = %q, want UWOP_ALLOC_LARGE", got)
	}
	if got := UnwindOpType(0xff).String(); got != "?" {
		t.Errorf("unknown opcode String() = %q, want ?", got)
	}
}
