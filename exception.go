// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pecore

import "strconv"

const (
	// Unwind information flags.

	// UnwFlagNHandler - The function has no handler.
	UnwFlagNHandler = uint8(0x0)

	// UnwFlagEHandler - The function has an exception handler that should
	// be called when looking for functions that need to examine exceptions.
	UnwFlagEHandler = uint8(0x1)

	// UnwFlagUHandler - The function has a termination handler that should
	// be called when unwinding an exception.
	UnwFlagUHandler = uint8(0x2)

	// UnwFlagChainInfo - This unwind info structure is not the primary one
	// for the procedure. Instead, the chained unwind info entry is the contents
	// of a previous RUNTIME_FUNCTION entry. For information, see Chained unwind
	// info structures. If this flag is set, then the UNW_FLAG_EHANDLER and
	// UNW_FLAG_UHANDLER flags must be cleared. Also, the frame register and
	// fixed-stack allocation field must have the same values as in the primary
	// unwind info.
	UnwFlagChainInfo = uint8(0x4)

	// maxUnwindChainDepth bounds how many UNW_FLAG_CHAININFO hops are
	// followed before giving up. RUNTIME_FUNCTION chains are not supposed to
	// cycle, but nothing in the format stops a corrupt or adversarial image
	// from looping forever, so parsing stops after this many hops.
	maxUnwindChainDepth = 32
)

// The meaning of the operation info bits depends upon the operation code.
// To encode a general-purpose (integer) register, this mapping is used:
const (
	rax = iota
	rcx
	rdx
	rbx
	rsp
	rbp
	rsi
	rdi
	r8
	r9
	r10
	r11
	r12
	r13
	r14
	r15
)

// OpInfoRegisters maps registers to string.
var OpInfoRegisters = map[uint8]string{
	rax: "RAX",
	rcx: "RCX",
	rdx: "RDX",
	rbx: "RBX",
	rsp: "RSP",
	rbp: "RBP",
	rsi: "RSI",
	rdi: "RDI",
	r8:  "R8",
	r9:  "R9",
	r10: "R10",
	r11: "R11",
	r12: "R12",
	r13: "R13",
	r14: "R14",
	r15: "R15",
}

// UnwindOpType represents the type of an unwind opcode.
type UnwindOpType uint8

// _UNWIND_OP_CODES
const (
	UwOpPushNonVol    = UnwindOpType(0)
	UwOpAllocLarge    = UnwindOpType(1)
	UwOpAllocSmall    = UnwindOpType(2)
	UwOpSetFpReg      = UnwindOpType(3)
	UwOpSaveNonVol    = UnwindOpType(4)
	UwOpSaveNonVolFar = UnwindOpType(5)
	UwOpEpilog        = UnwindOpType(6)
	UwOpSpareCode     = UnwindOpType(7)
	UwOpSaveXmm128    = UnwindOpType(8)
	UwOpSaveXmm128Far = UnwindOpType(9)
	UwOpPushMachFrame = UnwindOpType(10)
	UwOpSetFpRegLarge = UnwindOpType(11)
)

// ImageRuntimeFunctionEntry represents an entry in the function table on
// 64-bit Windows (IMAGE_RUNTIME_FUNCTION_ENTRY).
type ImageRuntimeFunctionEntry struct {
	BeginAddress      uint32 `json:"begin_address"`
	EndAddress        uint32 `json:"end_address"`
	UnwindInfoAddress uint32 `json:"unwind_info_address"`
}

// UnwindCode records a single entry of the UNWIND_CODE array.
type UnwindCode struct {
	CodeOffset  uint8        `json:"code_offset"`
	UnwindOp    UnwindOpType `json:"unwind_op"`
	OpInfo      uint8        `json:"op_info"`
	Operand     string       `json:"operand"`
	FrameOffset uint16       `json:"frame_offset"`
}

// UnwindInfo represents the _UNWIND_INFO structure.
type UnwindInfo struct {
	Version       uint8                     `json:"version"`
	Flags         uint8                     `json:"flags"`
	SizeOfProlog  uint8                     `json:"size_of_prolog"`
	CountOfCodes  uint8                     `json:"count_of_codes"`
	FrameRegister uint8                     `json:"frame_register"`
	FrameOffset   uint8                     `json:"frame_offset"`
	UnwindCodes   []UnwindCode              `json:"unwind_codes"`
	ExceptionHandler uint32                 `json:"exception_handler"`
	FunctionEntry ImageRuntimeFunctionEntry `json:"function_entry"`
	ChainDepth    int                       `json:"chain_depth"`
}

// ScopeRecord is an entry of the language-specific SCOPE_TABLE that
// accompanies a C-specific exception handler.
type ScopeRecord struct {
	BeginAddress   uint32 `json:"begin_address"`
	EndAddress     uint32 `json:"end_address"`
	HandlerAddress uint32 `json:"handler_address"`
	JumpTarget     uint32 `json:"jump_target"`
}

// ScopeTable is a count-prefixed array of ScopeRecord.
type ScopeTable struct {
	Count        uint32        `json:"count"`
	ScopeRecords []ScopeRecord `json:"scope_records"`
}

// Exception represents a single x64 entry in the exception directory: a
// RUNTIME_FUNCTION plus its decoded UNWIND_INFO.
type Exception struct {
	RuntimeFunction ImageRuntimeFunctionEntry `json:"runtime_function"`
	UnwindInfo      UnwindInfo                `json:"unwind_info"`
	ErrorList       `json:"-"`
}

func parseUnwindCode(buf *Buffer, offset uint32, version uint8) (UnwindCode, int) {
	unwindCode := UnwindCode{}
	advanceBy := 0

	uc, err := buf.ReadUint16(offset)
	if err != nil {
		return unwindCode, advanceBy
	}

	unwindCode.CodeOffset = uint8(uc & 0xff)
	unwindCode.UnwindOp = UnwindOpType(uc & 0xf00 >> 8)
	unwindCode.OpInfo = uint8(uc & 0xf000 >> 12)

	switch unwindCode.UnwindOp {
	case UwOpAllocSmall:
		size := int(unwindCode.OpInfo)*8 + 8
		unwindCode.Operand = "Size=" + strconv.Itoa(size)
		advanceBy++
	case UwOpAllocLarge:
		// The only opcode whose slot count depends on its operation info:
		// info=0 stores size/8 in one extra slot, info=1 stores the full
		// 32-bit size in two extra slots.
		if unwindCode.OpInfo == 0 {
			v, _ := buf.ReadUint16(offset + 2)
			unwindCode.Operand = "Size=" + strconv.Itoa(int(v)*8)
			advanceBy += 2
		} else {
			v, _ := buf.ReadUint32(offset + 2)
			unwindCode.Operand = "Size=" + strconv.Itoa(int(v))
			advanceBy += 3
		}
	case UwOpSetFpReg:
		unwindCode.Operand = "Register=" + OpInfoRegisters[unwindCode.OpInfo]
		advanceBy++
	case UwOpPushNonVol:
		unwindCode.Operand = "Register=" + OpInfoRegisters[unwindCode.OpInfo]
		advanceBy++
	case UwOpSaveNonVol:
		fo, _ := buf.ReadUint16(offset + 2)
		unwindCode.FrameOffset = fo * 8
		unwindCode.Operand = "Register=" + OpInfoRegisters[unwindCode.OpInfo] +
			", Offset=" + strconv.Itoa(int(unwindCode.FrameOffset))
		advanceBy += 2
	case UwOpSaveNonVolFar:
		fo, _ := buf.ReadUint32(offset + 2)
		unwindCode.FrameOffset = uint16(fo * 8)
		unwindCode.Operand = "Register=" + OpInfoRegisters[unwindCode.OpInfo] +
			", Offset=" + strconv.Itoa(int(unwindCode.FrameOffset))
		advanceBy += 3
	case UwOpSaveXmm128:
		fo, _ := buf.ReadUint16(offset + 2)
		unwindCode.FrameOffset = fo * 16
		unwindCode.Operand = "Register=XMM" + strconv.Itoa(int(unwindCode.OpInfo)) +
			", Offset=" + strconv.Itoa(int(unwindCode.FrameOffset))
		advanceBy += 2
	case UwOpSaveXmm128Far:
		fo, _ := buf.ReadUint32(offset + 2)
		unwindCode.FrameOffset = uint16(fo)
		unwindCode.Operand = "Register=XMM" + strconv.Itoa(int(unwindCode.OpInfo)) +
			", Offset=" + strconv.Itoa(int(unwindCode.FrameOffset))
		advanceBy += 3
	case UwOpSetFpRegLarge:
		// Followed by two slots forming a 32-bit scaled offset, the same
		// framing as UWOP_SAVE_NONVOL_FAR.
		unwindCode.Operand = "Register=" + OpInfoRegisters[unwindCode.OpInfo]
		advanceBy += 3
	case UwOpPushMachFrame:
		// info=0: machine frame without error code, RSP decremented by 40.
		// info=1: with error code, RSP decremented by 48.
		rspDec := 40
		if unwindCode.OpInfo == 1 {
			rspDec = 48
		}
		unwindCode.Operand = "RspDec=" + strconv.Itoa(rspDec)
		advanceBy++
	case UwOpEpilog:
		if version == 2 {
			unwindCode.Operand = "Flags=" + strconv.Itoa(int(unwindCode.OpInfo)) +
				", Size=" + strconv.Itoa(int(unwindCode.CodeOffset))
		}
		advanceBy += 2
	case UwOpSpareCode:
		advanceBy += 3
	default:
		// Unknown opcode id: advanceBy stays 0, the caller records the
		// anomaly and stops decoding this record.
	}

	return unwindCode, advanceBy
}

// parseUnwindInfo decodes a single UNWIND_INFO structure at the given RVA,
// following UNW_FLAG_CHAININFO links up to maxUnwindChainDepth times. Every
// structural anomaly found on the way is recorded onto el; the returned
// value is the primary (deepest) record of the chain.
func parseUnwindInfo(img *Image, unwindInfoRVA uint32, el *ErrorList) UnwindInfo {
	var ui UnwindInfo
	chainDepth := 0
	rva := unwindInfoRVA

	for {
		if rva&0x3 != 0 {
			el.Addf(ErrCodeUnalignedUnwindInfo, "unwind info RVA 0x%x is not 4-byte aligned", rva)
			el.Addf(ErrCodeInvalidUnwindInfo, "no unwind info decodable at RVA 0x%x", rva)
			return ui
		}
		offset := img.RVAToOffset(rva)
		if offset == ^uint32(0) {
			el.Addf(ErrCodeInvalidVa, "unwind info RVA 0x%x could not be resolved", rva)
			return ui
		}

		v, err := img.Buffer().ReadUint32(offset)
		if err != nil {
			el.AddErr(ErrCodeInvalidUnwindInfo, err)
			return ui
		}

		var cur UnwindInfo
		cur.Version = uint8(v & 0x7)
		cur.Flags = uint8(v & 0xf8 >> 3)
		cur.SizeOfProlog = uint8(v >> 8)
		cur.CountOfCodes = uint8(v >> 16)
		cur.FrameRegister = uint8(v>>24) & 0xf
		cur.FrameOffset = uint8(v>>28) * 16

		if cur.Version != 1 && cur.Version != 2 {
			el.Addf(ErrCodeInvalidUnwindInfoVersion, "unwind info version %d", cur.Version)
			return ui
		}
		// A chained record reuses the handler slot for the parent
		// RUNTIME_FUNCTION, so it cannot also claim a handler.
		if cur.Flags&UnwFlagChainInfo != 0 &&
			cur.Flags&(UnwFlagEHandler|UnwFlagUHandler) != 0 {
			el.Addf(ErrCodeInvalidUnwindInfoFlags, "flags 0x%x combine chain info with a handler", cur.Flags)
		}

		codeOffset := offset + 4
		sawNonPush := false
		sawSetFpReg := false
		sawSetFpRegLarge := false
		i := 0
		for i < int(cur.CountOfCodes) {
			ucOffset := codeOffset + 2*uint32(i)
			unwindCode, advanceBy := parseUnwindCode(img.Buffer(), ucOffset, cur.Version)
			if advanceBy == 0 {
				el.Addf(ErrCodeUnrecognizedUnwindOpcode, "opcode %d at 0x%x", unwindCode.UnwindOp, ucOffset)
				break
			}

			// UWOP_PUSH_NONVOL codes must come first in the array (which is
			// reverse program order); anything else flips sawNonPush.
			switch unwindCode.UnwindOp {
			case UwOpPushNonVol:
				if sawNonPush {
					el.Addf(ErrCodePushNonvolUwopOutOfOrder, "UWOP_PUSH_NONVOL at prolog offset %d", unwindCode.CodeOffset)
				}
			case UwOpSetFpReg:
				sawSetFpReg = true
				sawNonPush = true
			case UwOpSetFpRegLarge:
				sawSetFpRegLarge = true
				sawNonPush = true
			default:
				sawNonPush = true
			}

			cur.UnwindCodes = append(cur.UnwindCodes, unwindCode)
			i += advanceBy
		}

		if sawSetFpReg && sawSetFpRegLarge {
			el.Add(ErrCodeBothSetFpregTypesUsed, "record uses both UWOP_SET_FPREG and UWOP_SET_FPREG_LARGE")
		}

		// Trailing data starts after the declared slot count, padded to an
		// even number of slots regardless of how many were decoded.
		slotCount := uint32(cur.CountOfCodes)
		if slotCount&1 == 1 {
			slotCount++
		}
		tailOffset := codeOffset + 2*slotCount

		if cur.Flags&(UnwFlagEHandler|UnwFlagUHandler) != 0 && cur.Flags&UnwFlagChainInfo == 0 {
			eh, err := img.Buffer().ReadUint32(tailOffset)
			if err != nil {
				el.AddErr(ErrCodeInvalidExceptionHandlerRva, err)
			} else {
				cur.ExceptionHandler = eh
				if img.RVAToOffset(eh) == ^uint32(0) {
					el.Addf(ErrCodeInvalidExceptionHandlerRva, "exception handler RVA 0x%x", eh)
				}
			}
		}

		cur.ChainDepth = chainDepth
		ui = cur

		if cur.Flags&UnwFlagChainInfo == 0 {
			return ui
		}

		chainDepth++
		if chainDepth > maxUnwindChainDepth {
			el.Addf(ErrCodeUnwindChainTooDeep, "unwind info chain exceeds %d hops, stopping", maxUnwindChainDepth)
			return ui
		}

		var rf ImageRuntimeFunctionEntry
		if err := Unpack(img.Buffer(), &rf, tailOffset, 12); err != nil {
			el.AddErr(ErrCodeInvalidRuntimeFunctionEntry, err)
			return ui
		}
		ui.FunctionEntry = rf
		rva = rf.UnwindInfoAddress
	}
}

// parseX64ExceptionDirectory parses the .pdata table of an x64 image: a
// packed array of IMAGE_RUNTIME_FUNCTION_ENTRY, each pointing at an
// UNWIND_INFO structure in .xdata.
func parseX64ExceptionDirectory(img *Image, rva, size uint32) ([]Exception, error) {
	const entrySize = 12
	fileOffset := img.RVAToOffset(rva)
	if fileOffset == ^uint32(0) {
		return nil, ErrOutsideBoundary
	}

	entriesCount := size / entrySize
	exceptions := make([]Exception, 0, entriesCount)

	for i := uint32(0); i < entriesCount; i++ {
		var functionEntry ImageRuntimeFunctionEntry
		offset := fileOffset + entrySize*i
		if err := Unpack(img.Buffer(), &functionEntry, offset, entrySize); err != nil {
			return exceptions, err
		}

		// Zeroed sentinel entries pad the table in some linkers; they carry
		// no unwind data and are not part of the function table proper.
		if functionEntry == (ImageRuntimeFunctionEntry{}) {
			continue
		}

		exc := Exception{RuntimeFunction: functionEntry}
		exc.UnwindInfo = parseUnwindInfo(img, functionEntry.UnwindInfoAddress, &exc.ErrorList)
		exceptions = append(exceptions, exc)
	}

	return exceptions, nil
}

// parseExceptionDirectory is the data-directory entry point; it dispatches
// on the image's machine type to the matching architecture-specific parser
// and stores the result on the relevant File field.
func (pe *File) parseExceptionDirectory(rva, size uint32) error {
	img := pe.Image()

	switch pe.NtHeader.FileHeader.Machine {
	case ImageFileHeaderMachineType(ImageFileMachineAMD64):
		pe.checkRuntimeFunctionTableSize(size, 12)
		exceptions, err := parseX64ExceptionDirectory(img, rva, size)
		pe.Exceptions = exceptions
		if len(exceptions) > 0 {
			pe.HasException = true
		}
		return err
	case ImageFileHeaderMachineType(ImageFileMachineARMNT),
		ImageFileHeaderMachineType(ImageFileMachineARM),
		ImageFileHeaderMachineType(ImageFileMachineTHUMB):
		pe.checkRuntimeFunctionTableSize(size, 8)
		exceptions, err := parseArmExceptionDirectory(img, rva, size)
		pe.ArmExceptions = exceptions
		if len(exceptions) > 0 {
			pe.HasException = true
		}
		return err
	case ImageFileHeaderMachineType(ImageFileMachineARM64):
		pe.checkRuntimeFunctionTableSize(size, 8)
		exceptions, err := parseArm64ExceptionDirectory(img, rva, size)
		pe.Arm64Exceptions = exceptions
		if len(exceptions) > 0 {
			pe.HasException = true
		}
		return err
	default:
		return nil
	}
}

// checkRuntimeFunctionTableSize records a directory-level diagnostic when
// the declared directory size is not a whole number of runtime-function
// descriptors; the table is then parsed up to the largest whole multiple.
func (pe *File) checkRuntimeFunctionTableSize(size, entrySize uint32) {
	if size%entrySize != 0 {
		pe.ExceptionDirErrors.Addf(ErrCodeUnalignedRuntimeFunctionTable,
			"directory size %d is not a multiple of the %d-byte descriptor", size, entrySize)
	}
}

// PrettyUnwindInfoHandlerFlags returns the string representation of the
// `flags` field of the unwind info structure.
func PrettyUnwindInfoHandlerFlags(flags uint8) []string {
	var values []string

	unwFlagHandlerMap := map[uint8]string{
		UnwFlagNHandler:  "No Handler",
		UnwFlagEHandler:  "Exception",
		UnwFlagUHandler:  "Termination",
		UnwFlagChainInfo: "Chain",
	}

	for k, s := range unwFlagHandlerMap {
		if k&flags != 0 {
			values = append(values, s)
		}
	}
	return values
}

// String returns the string representation of an unwind opcode.
func (uo UnwindOpType) String() string {
	unOpToString := map[UnwindOpType]string{
		UwOpPushNonVol:    "UWOP_PUSH_NONVOL",
		UwOpAllocLarge:    "UWOP_ALLOC_LARGE",
		UwOpAllocSmall:    "UWOP_ALLOC_SMALL",
		UwOpSetFpReg:      "UWOP_SET_FPREG",
		UwOpSaveNonVol:    "UWOP_SAVE_NONVOL",
		UwOpSaveNonVolFar: "UWOP_SAVE_NONVOL_FAR",
		UwOpEpilog:        "UWOP_EPILOG",
		UwOpSpareCode:     "UWOP_SPARE_CODE",
		UwOpSaveXmm128:    "UWOP_SAVE_XMM128",
		UwOpSaveXmm128Far: "UWOP_SAVE_XMM128_FAR",
		UwOpPushMachFrame: "UWOP_PUSH_MACHFRAME",
		UwOpSetFpRegLarge: "UWOP_SET_FPREG_LARGE",
	}

	if val, ok := unOpToString[uo]; ok {
		return val
	}

	return "?"
}
