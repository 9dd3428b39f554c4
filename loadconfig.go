// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// References:
// https://www.virtualbox.org/svn/vbox/trunk/include/iprt/formats/pecoff.h
// https://github.com/hdoc/llvm-project/blob/release/15.x/llvm/include/llvm/Object/COFF.h
// https://ffri.github.io/ProjectChameleon/new_reloc_chpev2/
// https://blogs.blackberry.com/en/2019/09/teardown-windows-10-on-arm-x86-emulation
// DVRT: https://www.alex-ionescu.com/?p=323
// https://xlab.tencent.com/en/2016/11/02/return-flow-guard/
// https://denuvosoftwaresolutions.github.io/DVRT/dvrt.html
// BlueHat v18 || Retpoline: The Anti sectre type 2 mitigation in windows: https://www.youtube.com/watch?v=ZfxXjDQRpsU

package pecore

import (
	"bytes"
	"encoding/binary"
	"math/bits"
	"reflect"
	"sort"
)

// ImageGuardFlagType represents the type for load configuration image guard flags.
type ImageGuardFlagType uint8

// GFIDS table entry flags.
const (
	// ImageGuardFlagFIDSuppressed indicates that the call target is explicitly
	// suppressed (do not treat it as valid for purposes of CFG).
	ImageGuardFlagFIDSuppressed = 0x1

	// ImageGuardFlagExportSuppressed indicates that the call target is export
	// suppressed. See Export suppression for more details.
	ImageGuardFlagExportSuppressed = 0x2
)

// The GuardFlags field contains a combination of one or more of the
// following flags and subfields:
const (
	// ImageGuardCfInstrumented indicates that the module performs control flow
	// integrity checks using system-supplied support.
	ImageGuardCfInstrumented = 0x00000100

	// ImageGuardCfWInstrumented indicates that the module performs control
	// flow and write integrity checks.
	ImageGuardCfWInstrumented = 0x00000200

	// ImageGuardCfFunctionTablePresent indicates that the module contains
	// valid control flow target metadata.
	ImageGuardCfFunctionTablePresent = 0x00000400

	// ImageGuardSecurityCookieUnused indicates that the module does not make
	// use of the /GS security cookie.
	ImageGuardSecurityCookieUnused = 0x00000800

	// ImageGuardProtectDelayLoadIAT indicates that the module supports read
	// only delay load IAT.
	ImageGuardProtectDelayLoadIAT = 0x00001000

	// ImageGuardDelayLoadIATInItsOwnSection indicates that the Delayload
	// import table in its own .didat section (with nothing else in it) that
	// can be freely reprotected.
	ImageGuardDelayLoadIATInItsOwnSection = 0x00002000

	// ImageGuardCfExportSuppressionInfoPresent indicates that the module
	// contains suppressed export information. This also infers that the
	// address taken IAT table is also present in the load config.
	ImageGuardCfExportSuppressionInfoPresent = 0x00004000

	// ImageGuardCfEnableExportSuppression indicates that the module enables
	// suppression of exports.
	ImageGuardCfEnableExportSuppression = 0x00008000

	// ImageGuardCfLongJumpTablePresent indicates that the module contains
	// long jmp target information.
	ImageGuardCfLongJumpTablePresent = 0x00010000

	// ImageGuardEhContinuationTablePresent indicates that the module
	// contains EH continuation target information.
	ImageGuardEhContinuationTablePresent = 0x00400000

	// ImageGuardXFGEnabled indicates that the module was built with
	// XFG (eXtended Flow Guard) type-based hash checking.
	ImageGuardXFGEnabled = 0x00800000
)

// GFIDS table entry flag bit, set on an entry whose RVA is immediately
// preceded in the image by an 8-byte XFG type-based hash.
const ImageGuardFlagFidXFG = 0x8

// ImageFileMachineCHPEX86 is the machine type stamped on CHPE (Compiled
// Hybrid PE) x86 binaries; its load config CHPE metadata uses the X86
// layout. ARM64 images carrying ARM64X CHPE metadata keep the ordinary
// ARM64 machine type and are distinguished by machine type ARM64 plus the
// presence of CHPE metadata rather than by a dedicated machine constant.
const ImageFileMachineCHPEX86 ImageFileHeaderMachineType = 0x3a64

const (
	// ImageGuardCfFunctionTableSizeMask indicates that the mask for the
	// subfield that contains the stride of Control Flow Guard function table
	// entries (that is, the additional count of bytes per table entry).
	ImageGuardCfFunctionTableSizeMask = 0xF0000000

	// ImageGuardCfFunctionTableSizeShift indicates the shift to right-justify
	// Guard CF function table stride.
	ImageGuardCfFunctionTableSizeShift = 28
)

const (
	ImageDynamicRelocationGuardRfPrologue = 0x00000001
	ImageDynamicRelocationGuardREpilogue  = 0x00000002
	dynamicRelocationArm64X               = 0x00000006
	dynamicRelocationFunctionOverride     = 0x00000007
)

// ImageBaseRelocation is the header of one page's relocation block, reused
// by the DVRT v1 per-symbol payloads: each fixup list is framed exactly
// like a base relocation block.
type ImageBaseRelocation struct {
	// The RVA of the page the block's offsets are relative to.
	VirtualAddress uint32 `json:"virtual_address"`

	// The total number of bytes in the block, including the header.
	SizeOfBlock uint32 `json:"size_of_block"`
}

// LoadConfigVersion names the generation of the load config descriptor, as
// selected by its leading Size field: each version appends trailing fields
// to the previous one.
type LoadConfigVersion int

const (
	LoadConfigVersionBase LoadConfigVersion = iota
	LoadConfigVersionSeh
	LoadConfigVersionCfGuard
	LoadConfigVersionCodeIntegrity
	LoadConfigVersionCfGuardEx
	LoadConfigVersionHybridPe
	LoadConfigVersionRfGuard
	LoadConfigVersionRfGuardEx
	LoadConfigVersionEnclave
	LoadConfigVersionVolatileMetadata
	LoadConfigVersionEhGuard
	LoadConfigVersionXfGuard
	LoadConfigVersionCastGuard
	LoadConfigVersionMemcpyGuard
)

// String implements fmt.Stringer for LoadConfigVersion.
func (v LoadConfigVersion) String() string {
	names := map[LoadConfigVersion]string{
		LoadConfigVersionBase:             "Base",
		LoadConfigVersionSeh:              "Seh",
		LoadConfigVersionCfGuard:          "CfGuard",
		LoadConfigVersionCodeIntegrity:    "CodeIntegrity",
		LoadConfigVersionCfGuardEx:        "CfGuardEx",
		LoadConfigVersionHybridPe:         "HybridPe",
		LoadConfigVersionRfGuard:          "RfGuard",
		LoadConfigVersionRfGuardEx:        "RfGuardEx",
		LoadConfigVersionEnclave:          "Enclave",
		LoadConfigVersionVolatileMetadata: "VolatileMetadata",
		LoadConfigVersionEhGuard:          "EhGuard",
		LoadConfigVersionXfGuard:          "XfGuard",
		LoadConfigVersionCastGuard:        "CastGuard",
		LoadConfigVersionMemcpyGuard:      "MemcpyGuard",
	}
	if s, ok := names[v]; ok {
		return s
	}
	return "?"
}

// Cumulative descriptor field sizes per version, excluding the leading
// 4-byte Size field, for the PE32 and PE32+ layouts respectively.
var loadConfigVersionSizes32 = [...]uint32{
	LoadConfigVersionBase:             60,
	LoadConfigVersionSeh:              68,
	LoadConfigVersionCfGuard:          88,
	LoadConfigVersionCodeIntegrity:    100,
	LoadConfigVersionCfGuardEx:        116,
	LoadConfigVersionHybridPe:         124,
	LoadConfigVersionRfGuard:          140,
	LoadConfigVersionRfGuardEx:        148,
	LoadConfigVersionEnclave:          156,
	LoadConfigVersionVolatileMetadata: 160,
	LoadConfigVersionEhGuard:          168,
	LoadConfigVersionXfGuard:          180,
	LoadConfigVersionCastGuard:        184,
	LoadConfigVersionMemcpyGuard:      188,
}

var loadConfigVersionSizes64 = [...]uint32{
	LoadConfigVersionBase:             92,
	LoadConfigVersionSeh:              108,
	LoadConfigVersionCfGuard:          144,
	LoadConfigVersionCodeIntegrity:    156,
	LoadConfigVersionCfGuardEx:        188,
	LoadConfigVersionHybridPe:         204,
	LoadConfigVersionRfGuard:          228,
	LoadConfigVersionRfGuardEx:        240,
	LoadConfigVersionEnclave:          252,
	LoadConfigVersionVolatileMetadata: 260,
	LoadConfigVersionEhGuard:          276,
	LoadConfigVersionXfGuard:          300,
	LoadConfigVersionCastGuard:        308,
	LoadConfigVersionMemcpyGuard:      316,
}

// determineLoadConfigVersion picks the largest version whose cumulative
// field size fits in declaredSize (the descriptor's Size field minus the
// size field itself). The second result reports whether the declared size
// names that version exactly rather than falling between two versions.
func determineLoadConfigVersion(declaredSize uint32, is64 bool) (LoadConfigVersion, bool) {
	sizes := loadConfigVersionSizes32[:]
	if is64 {
		sizes = loadConfigVersionSizes64[:]
	}

	version := LoadConfigVersionBase
	for v := range sizes {
		if sizes[v] <= declaredSize {
			version = LoadConfigVersion(v)
		}
	}
	return version, sizes[version] == declaredSize
}

// LoadConfigOptions bounds how much of each optional load config sub-table
// is decoded, so a corrupt count field cannot drive unbounded reads.
type LoadConfigOptions struct {
	MaxSEHHandlerCount   uint32
	MaxCFFunctionCount   uint64
	MaxEhContTargetCount uint64
	MaxLockPrefixEntries uint32
}

// DefaultLoadConfigOptions returns the ceilings used when the caller does
// not supply its own.
func DefaultLoadConfigOptions() LoadConfigOptions {
	return LoadConfigOptions{
		MaxSEHHandlerCount:   0x10000,
		MaxCFFunctionCount:   0x100000,
		MaxEhContTargetCount: 0x100000,
		MaxLockPrefixEntries: 0x1000,
	}
}

func (pe *File) loadConfigOptions() LoadConfigOptions {
	if pe.opts != nil && pe.opts.LoadConfig != nil {
		return *pe.opts.LoadConfig
	}
	return DefaultLoadConfigOptions()
}

// readLSBBits reads an n-bit unsigned value out of data starting at bit
// offset bitPos, least-significant bit of each byte first and consecutive
// across byte boundaries, and returns the value along with the next unread
// bit offset.
func readLSBBits(data []byte, bitPos, n int) (uint32, int) {
	var v uint32
	for i := 0; i < n; i++ {
		byteIdx := (bitPos + i) / 8
		if byteIdx >= len(data) {
			break
		}
		bit := (data[byteIdx] >> uint((bitPos+i)%8)) & 1
		v |= uint32(bit) << uint(i)
	}
	return v, bitPos + n
}

// Software enclave information.
const (
	ImageEnclaveLongIDLength  = 32
	ImageEnclaveShortIDLength = 16
)

const (
	// ImageEnclaveImportMatchNone indicates that none of the identifiers of the
	// image need to match the value in the import record.
	ImageEnclaveImportMatchNone = 0x00000000

	// ImageEnclaveImportMatchUniqueId indicates that the value of the enclave
	// unique identifier of the image must match the value in the import record.
	// Otherwise, loading of the image fails.
	ImageEnclaveImportMatchUniqueID = 0x00000001

	// ImageEnclaveImportMatchAuthorId indicates that the value of the enclave
	// author identifier of the image must match the value in the import record.
	// Otherwise, loading of the image fails. If this flag is set and the import
	// record indicates an author identifier of all zeros, the imported image
	// must be part of the Windows installation.
	ImageEnclaveImportMatchAuthorID = 0x00000002

	// ImageEnclaveImportMatchFamilyId indicates that the value of the enclave
	// family identifier of the image must match the value in the import record.
	// Otherwise, loading of the image fails.
	ImageEnclaveImportMatchFamilyID = 0x00000003

	// ImageEnclaveImportMatchImageId indicates that the value of the enclave
	// image identifier must match the value in the import record. Otherwise,
	// loading of the image fails.
	ImageEnclaveImportMatchImageID = 0x00000004
)

// ImageLoadConfigDirectory32 Contains the load configuration data of an image for x86 binaries.
type ImageLoadConfigDirectory32 struct {
	// The actual size of the structure inclusive. May differ from the size
	// given in the data directory for Windows XP and earlier compatibility.
	Size uint32 `json:"size"`

	// Date and time stamp value.
	TimeDateStamp uint32 `json:"time_date_stamp"`

	// Major version number.
	MajorVersion uint16 `json:"major_version"`

	// Minor version number.
	MinorVersion uint16 `json:"minor_version"`

	// The global loader flags to clear for this process as the loader starts
	// the process.
	GlobalFlagsClear uint32 `json:"global_flags_clear"`

	// The global loader flags to set for this process as the loader starts the
	// process.
	GlobalFlagsSet uint32 `json:"global_flags_set"`

	// The default timeout value to use for this process's critical sections
	// that are abandoned.
	CriticalSectionDefaultTimeout uint32 `json:"critical_section_default_timeout"`

	// Memory that must be freed before it is returned to the system, in bytes.
	DeCommitFreeBlockThreshold uint32 `json:"de_commit_free_block_threshold"`

	// Total amount of free memory, in bytes.
	DeCommitTotalFreeThreshold uint32 `json:"de_commit_total_free_threshold"`

	// [x86 only] The VA of a list of addresses where the LOCK prefix is used so
	// that they can be replaced with NOP on single processor machines.
	LockPrefixTable uint32 `json:"lock_prefix_table"`

	// Maximum allocation size, in bytes.
	MaximumAllocationSize uint32 `json:"maximum_allocation_size"`

	// Maximum virtual memory size, in bytes.
	VirtualMemoryThreshold uint32 `json:"virtual_memory_threshold"`

	// Process heap flags that correspond to the first argument of the HeapCreate
	// function. These flags apply to the process heap that is created during
	// process startup.
	ProcessHeapFlags uint32 `json:"process_heap_flags"`

	// Setting this field to a non-zero value is equivalent to calling
	// SetProcessAffinityMask with this value during process startup (.exe only)
	ProcessAffinityMask uint32 `json:"process_affinity_mask"`

	// The service pack version identifier.
	CSDVersion uint16 `json:"csd_version"`

	// Must be zero.
	DependentLoadFlags uint16 `json:"dependent_load_flags"`

	// Reserved for use by the system.
	EditList uint32 `json:"edit_list"`

	// A pointer to a cookie that is used by Visual C++ or GS implementation.
	SecurityCookie uint32 `json:"security_cookie"`

	// [x86 only] The VA of the sorted table of RVAs of each valid, unique SE
	// handler in the image.
	SEHandlerTable uint32 `json:"se_handler_table"`

	// [x86 only] The count of unique handlers in the table.
	SEHandlerCount uint32 `json:"se_handler_count"`

	// The VA where Control Flow Guard check-function pointer is stored.
	GuardCFCheckFunctionPointer uint32 `json:"guard_cf_check_function_pointer"`

	// The VA where Control Flow Guard dispatch-function pointer is stored.
	GuardCFDispatchFunctionPointer uint32 `json:"guard_cf_dispatch_function_pointer"`

	// The VA of the sorted table of RVAs of each Control Flow Guard function in
	// the image.
	GuardCFFunctionTable uint32 `json:"guard_cf_function_table"`

	// The count of unique RVAs in the above table.
	GuardCFFunctionCount uint32 `json:"guard_cf_function_count"`

	// Control Flow Guard related flags.
	GuardFlags uint32 `json:"guard_flags"`

	// Code integrity information.
	CodeIntegrity ImageLoadConfigCodeIntegrity `json:"code_integrity"`

	// The VA where Control Flow Guard address taken IAT table is stored.
	GuardAddressTakenIATEntryTable uint32 `json:"guard_address_taken_iat_entry_table"`

	// The count of unique RVAs in the above table.
	GuardAddressTakenIATEntryCount uint32 `json:"guard_address_taken_iat_entry_count"`

	// The VA where Control Flow Guard long jump target table is stored.
	GuardLongJumpTargetTable uint32 `json:"guard_long_jump_target_table"`

	// The count of unique RVAs in the above table.
	GuardLongJumpTargetCount uint32 `json:"guard_long_jump_target_count"`

	DynamicValueRelocTable uint32 `json:"dynamic_value_reloc_table"`

	// Not sure when this was renamed from HybridMetadataPointer.
	CHPEMetadataPointer uint32 `json:"chpe_metadata_pointer"`

	GuardRFFailureRoutine                    uint32 `json:"guard_rf_failure_routine"`
	GuardRFFailureRoutineFunctionPointer     uint32 `json:"guard_rf_failure_routine_function_pointer"`
	DynamicValueRelocTableOffset             uint32 `json:"dynamic_value_reloc_table_offset"`
	DynamicValueRelocTableSection            uint16 `json:"dynamic_value_reloc_table_section"`
	Reserved2                                uint16 `json:"reserved_2"`
	GuardRFVerifyStackPointerFunctionPointer uint32 `json:"guard_rf_verify_stack_pointer_function_pointer"`
	HotPatchTableOffset                      uint32 `json:"hot_patch_table_offset"`
	Reserved3                                uint32 `json:"reserved_3"`
	EnclaveConfigurationPointer              uint32 `json:"enclave_configuration_pointer"`
	VolatileMetadataPointer                  uint32 `json:"volatile_metadata_pointer"`
	GuardEHContinuationTable                 uint32 `json:"guard_eh_continuation_table"`
	GuardEHContinuationCount                 uint32 `json:"guard_eh_continuation_count"`
	GuardXFGCheckFunctionPointer             uint32 `json:"guard_xfg_check_function_pointer"`
	GuardXFGDispatchFunctionPointer          uint32 `json:"guard_xfg_dispatch_function_pointer"`
	GuardXFGTableDispatchFunctionPointer     uint32 `json:"guard_xfg_table_dispatch_function_pointer"`
	CastGuardOSDeterminedFailureMode         uint32 `json:"cast_guard_os_determined_failure_mode"`
	GuardMemcpyFunctionPointer               uint32 `json:"guard_memcpy_function_pointer"`
}

// ImageLoadConfigDirectory64 Contains the load configuration data of an image for x64 binaries.
type ImageLoadConfigDirectory64 struct {
	// The actual size of the structure inclusive. May differ from the size
	// given in the data directory for Windows XP and earlier compatibility.
	Size uint32 `json:"size"`

	// Date and time stamp value.
	TimeDateStamp uint32 `json:"time_date_stamp"`

	// Major version number.
	MajorVersion uint16 `json:"major_version"`

	// Minor version number.
	MinorVersion uint16 `json:"minor_version"`

	// The global loader flags to clear for this process as the loader starts
	// the process.
	GlobalFlagsClear uint32 `json:"global_flags_clear"`

	// The global loader flags to set for this process as the loader starts the
	// process.
	GlobalFlagsSet uint32 `json:"global_flags_set"`

	// The default timeout value to use for this process's critical sections
	// that are abandoned.
	CriticalSectionDefaultTimeout uint32 `json:"critical_section_default_timeout"`

	// Memory that must be freed before it is returned to the system, in bytes.
	DeCommitFreeBlockThreshold uint64 `json:"de_commit_free_block_threshold"`

	// Total amount of free memory, in bytes.
	DeCommitTotalFreeThreshold uint64 `json:"de_commit_total_free_threshold"`

	// [x86 only] The VA of a list of addresses where the LOCK prefix is used so
	// that they can be replaced with NOP on single processor machines.
	LockPrefixTable uint64 `json:"lock_prefix_table"`

	// Maximum allocation size, in bytes.
	MaximumAllocationSize uint64 `json:"maximum_allocation_size"`

	// Maximum virtual memory size, in bytes.
	VirtualMemoryThreshold uint64 `json:"virtual_memory_threshold"`

	// Setting this field to a non-zero value is equivalent to calling
	// SetProcessAffinityMask with this value during process startup (.exe only)
	ProcessAffinityMask uint64 `json:"process_affinity_mask"`

	// Process heap flags that correspond to the first argument of the HeapCreate
	// function. These flags apply to the process heap that is created during
	// process startup.
	ProcessHeapFlags uint32 `json:"process_heap_flags"`

	// The service pack version identifier.
	CSDVersion uint16 `json:"csd_version"`

	// Must be zero.
	DependentLoadFlags uint16 `json:"dependent_load_flags"`

	// Reserved for use by the system.
	EditList uint64 `json:"edit_list"`

	// A pointer to a cookie that is used by Visual C++ or GS implementation.
	SecurityCookie uint64 `json:"security_cookie"`

	// [x86 only] The VA of the sorted table of RVAs of each valid, unique SE
	// handler in the image.
	SEHandlerTable uint64 `json:"se_handler_table"`

	// [x86 only] The count of unique handlers in the table.
	SEHandlerCount uint64 `json:"se_handler_count"`

	// The VA where Control Flow Guard check-function pointer is stored.
	GuardCFCheckFunctionPointer uint64 `json:"guard_cf_check_function_pointer"`

	// The VA where Control Flow Guard dispatch-function pointer is stored.
	GuardCFDispatchFunctionPointer uint64 `json:"guard_cf_dispatch_function_pointer"`

	// The VA of the sorted table of RVAs of each Control Flow Guard function in
	// the image.
	GuardCFFunctionTable uint64 `json:"guard_cf_function_table"`

	// The count of unique RVAs in the above table.
	GuardCFFunctionCount uint64 `json:"guard_cf_function_count"`

	// Control Flow Guard related flags.
	GuardFlags uint32 `json:"guard_flags"`

	// Code integrity information.
	CodeIntegrity ImageLoadConfigCodeIntegrity `json:"code_integrity"`

	// The VA where Control Flow Guard address taken IAT table is stored.
	GuardAddressTakenIATEntryTable uint64 `json:"guard_address_taken_iat_entry_table"`

	// The count of unique RVAs in the above table.
	GuardAddressTakenIATEntryCount uint64 `json:"guard_address_taken_iat_entry_count"`

	// The VA where Control Flow Guard long jump target table is stored.
	GuardLongJumpTargetTable uint64 `json:"guard_long_jump_target_table"`

	// The count of unique RVAs in the above table.
	GuardLongJumpTargetCount uint64 `json:"guard_long_jump_target_count"`

	DynamicValueRelocTable uint64 `json:"dynamic_value_reloc_table"`

	// Not sure when this was renamed from HybridMetadataPointer.
	CHPEMetadataPointer uint64 `json:"chpe_metadata_pointer"`

	GuardRFFailureRoutine                    uint64 `json:"guard_rf_failure_routine"`
	GuardRFFailureRoutineFunctionPointer     uint64 `json:"guard_rf_failure_routine_function_pointer"`
	DynamicValueRelocTableOffset             uint32 `json:"dynamic_value_reloc_table_offset"`
	DynamicValueRelocTableSection            uint16 `json:"dynamic_value_reloc_table_section"`
	Reserved2                                uint16 `json:"reserved_2"`
	GuardRFVerifyStackPointerFunctionPointer uint64 `json:"guard_rf_verify_stack_pointer_function_pointer"`
	HotPatchTableOffset                      uint32 `json:"hot_patch_table_offset"`
	Reserved3                                uint32 `json:"reserved_3"`
	EnclaveConfigurationPointer              uint64 `json:"enclave_configuration_pointer"`
	VolatileMetadataPointer                  uint64 `json:"volatile_metadata_pointer"`
	GuardEHContinuationTable                 uint64 `json:"guard_eh_continuation_table"`
	GuardEHContinuationCount                 uint64 `json:"guard_eh_continuation_count"`
	GuardXFGCheckFunctionPointer             uint64 `json:"guard_xfg_check_function_pointer"`
	GuardXFGDispatchFunctionPointer          uint64 `json:"guard_xfg_dispatch_function_pointer"`
	GuardXFGTableDispatchFunctionPointer     uint64 `json:"guard_xfg_table_dispatch_function_pointer"`
	CastGuardOSDeterminedFailureMode         uint64 `json:"cast_guard_os_determined_failure_mode"`
	GuardMemcpyFunctionPointer               uint64 `json:"guard_memcpy_function_pointer"`
}

// ImageCHPEMetadataX86 represents the X86_IMAGE_CHPE_METADATA_X86.
type ImageCHPEMetadataX86 struct {
	Version                                  uint32 `json:"version"`
	CHPECodeAddressRangeOffset               uint32 `json:"chpe_code_address_range_offset"`
	CHPECodeAddressRangeCount                uint32 `json:"chpe_code_address_range_count"`
	WoWA64ExceptionHandlerFunctionPtr        uint32 `json:"wow_a64_exception_handler_function_ptr"`
	WoWA64DispatchCallFunctionPtr            uint32 `json:"wow_a64_dispatch_call_function_ptr"`
	WoWA64DispatchIndirectCallFunctionPtr    uint32 `json:"wow_a64_dispatch_indirect_call_function_ptr"`
	WoWA64DispatchIndirectCallCfgFunctionPtr uint32 `json:"wow_a64_dispatch_indirect_call_cfg_function_ptr"`
	WoWA64DispatchRetFunctionPtr             uint32 `json:"wow_a64_dispatch_ret_function_ptr"`
	WoWA64DispatchRetLeafFunctionPtr         uint32 `json:"wow_a64_dispatch_ret_leaf_function_ptr"`
	WoWA64DispatchJumpFunctionPtr            uint32 `json:"wow_a64_dispatch_jump_function_ptr"`
	CompilerIATPointer                       uint32 `json:"compiler_iat_pointer"`       // Present if Version >= 2
	WoWA64RDTSCFunctionPtr                   uint32 `json:"wow_a64_rdtsc_function_ptr"` // Present if Version >= 3
}

// ImageCHPEMetadataArm64X represents the ARM64X variant of the CHPE
// metadata blob, used by binaries that carry both native ARM64 and
// emulated x64 (ARM64EC) code ranges side by side rather than the X86
// emulation layout ImageCHPEMetadataX86 describes. Only the fields this
// reader acts on are named and read; getHybridPEArm64X leaves Raw empty, so
// the remaining on-disk fields are not kept.
type ImageCHPEMetadataArm64X struct {
	Version           uint32 `json:"version"`
	CHPECodeAddressRangeOffset uint32 `json:"chpe_code_address_range_offset"`
	CHPECodeAddressRangeCount  uint32 `json:"chpe_code_address_range_count"`
	ExtraRFETable     uint32 `json:"extra_rfe_table"`
	ExtraRFETableSize uint32 `json:"extra_rfe_table_size"`
	Raw               []byte `json:"-"`
}

// chpeArm64XRangeCodeType values for the 2-bit code type field packed into
// an ARM64X range entry's StartOffset.
const (
	chpeArm64XRangeCodeTypeArm64 = 0b00
	chpeArm64XRangeCodeTypeArm64EC = 0b01
	chpeArm64XRangeCodeTypeX64   = 0b10
	chpeArm64XRangeCodeTypeMask  = 0b11
)

type CodeRange struct {
	Begin   uint32 `json:"begin"`
	Length  uint32 `json:"length"`
	Machine uint8  `json:"machine"`
}

type CompilerIAT struct {
	RVA         uint32 `json:"rva"`
	Value       uint32 `json:"value"`
	Description string `json:"description"`
}

type HybridPE struct {
	CHPEMetadata interface{}   `json:"chpe_metadata"`
	CodeRanges   []CodeRange   `json:"code_ranges"`
	CompilerIAT  []CompilerIAT `json:"compiler_iat"`
}

// ImageDynamicRelocationTable represents the DVRT header.
type ImageDynamicRelocationTable struct {
	// Version 1 and version 2 tables are decoded; other values are recorded
	// as UnknownDynamicRelocationTableVersion.
	Version uint32 `json:"version"`
	// Size represents the number of bytes after the header that contains
	// retpoline information.
	Size uint32 `json:"size"`
	//  IMAGE_DYNAMIC_RELOCATION DynamicRelocations[0];
}

// Dynamic value relocation entries following IMAGE_DYNAMIC_RELOCATION_TABLE.
// Each block starts with the header.

// ImageDynamicRelocation32 represents the 32-bit version of a reloc entry.
type ImageDynamicRelocation32 struct {
	// Symbol field identifies one of the existing types of dynamic relocations
	// so far (values 3, 4 and 5).
	Symbol uint32 `json:"symbol"`

	// Then, for each page, there is a block that starts with a relocation entry.
	// BaseRelocSize represents the size of the block.
	BaseRelocSize uint32 `json:"base_reloc_size"`
	//  IMAGE_BASE_RELOCATION BaseRelocations[0];
}

// ImageDynamicRelocation64 represents the 64-bit version of a reloc entry.
type ImageDynamicRelocation64 struct {
	// Symbol field identifies one of the existing types of dynamic relocations
	// so far (values 3, 4 and 5).
	Symbol uint64 `json:"symbol"`

	// Then, for each page, there is a block that starts with a relocation entry.
	// BaseRelocSize represents the size of the block.
	BaseRelocSize uint32 `json:"base_reloc_size"`
	//  IMAGE_BASE_RELOCATION BaseRelocations[0];
}

type ImageDynamicRelocation32v2 struct {
	HeaderSize    uint32 `json:"header_size"`
	FixupInfoSize uint32 `json:"fixup_info_size"`
	Symbol        uint32 `json:"symbol"`
	SymbolGroup   uint32 `json:"symbol_group"`
	Flags         uint32 `json:"flags"`
	// ...     variable length header fields
	// UCHAR   FixupInfo[FixupInfoSize]
}

type ImageDynamicRelocation64v2 struct {
	HeaderSize    uint32 `json:"header_size"`
	FixupInfoSize uint32 `json:"fixup_info_size"`
	Symbol        uint64 `json:"symbol"`
	SymbolGroup   uint32 `json:"symbol_group"`
	Flags         uint32 `json:"flags"`
	// ...     variable length header fields
	// UCHAR   FixupInfo[FixupInfoSize]
}

type ImagePrologueDynamicRelocationHeader struct {
	PrologueByteCount uint8 `json:"prologue_byte_count"`
	// UCHAR   PrologueBytes[PrologueByteCount];
}

type ImageEpilogueDynamicRelocationHeader struct {
	EpilogueCount               uint32 `json:"epilogue_count"`
	EpilogueByteCount           uint8  `json:"epilogue_byte_count"`
	BranchDescriptorElementSize uint8  `json:"branch_descriptor_element_size"`
	BranchDescriptorCount       uint8  `json:"branch_descriptor_count"`
	// UCHAR   BranchDescriptors[...];
	// UCHAR   BranchDescriptorBitMap[...];
}

// ImageArm64XDynamicRelocation represents a v2 ARM64X fixup entry (symbol 6).
// The low 12 bits of Metadata give the page-relative offset to patch; the
// high 4 bits (Meta) select how Value is applied: 0b00 zero-fills Value
// bytes, 0b01 copies Value verbatim, 0b10 adds/subtracts a signed or
// unsigned delta encoded in Value using bit 3 as the scale flag and bit 2
// as the sign flag.
type ImageArm64XDynamicRelocation struct {
	PageRelativeOffset uint16 `json:"page_relative_offset"`
	Meta               uint8  `json:"meta"`
	Value              []byte `json:"value,omitempty"`
}

// ImageFunctionOverrideHeader precedes the array of function override
// relocations in a symbol-7 (function_override) v2 fixup record.
type ImageFunctionOverrideHeader struct {
	FuncOverrideSize uint32 `json:"func_override_size"`
}

// ImageFunctionOverrideDynamicRelocation describes one overridden function:
// the original RVA, an offset into the trailing BDD info blob, and the
// sizes of the RVA array and base relocation block that follow it.
type ImageFunctionOverrideDynamicRelocation struct {
	OriginalRVA   uint32   `json:"original_rva"`
	BDDOffset     uint32   `json:"bdd_offset"`
	RVASize       uint32   `json:"rva_size"`
	BaseRelocSize uint32   `json:"base_reloc_size"`
	RVAs          []uint32 `json:"rvas"`
}

// ImageBDDInfo is the binary decision diagram header trailing the function
// override array; BDDSize covers the ImageBDDDynamicRelocation node array
// that follows it.
type ImageBDDInfo struct {
	Version uint32 `json:"version"`
	BDDSize uint32 `json:"bdd_size"`
}

// ImageBDDDynamicRelocation is one node of the binary decision diagram used
// to resolve which override applies for a given caller.
type ImageBDDDynamicRelocation struct {
	Left  uint16 `json:"left"`
	Right uint16 `json:"right"`
	Value uint16 `json:"value"`
}

// PrologueDynamicRelocation is a decoded symbol-1 (guard_rf_prologue) v2
// fixup record: the original bytes physically overwritten by the hot-patch
// prologue.
type PrologueDynamicRelocation struct {
	ImagePrologueDynamicRelocationHeader
	PrologueBytes []byte `json:"prologue_bytes"`
}

// EpilogueDynamicRelocation is a decoded symbol-2 (guard_rf_epilogue) v2
// fixup record. BranchDescriptors holds the raw per-epilogue branch opcode
// bytes (BranchDescriptorElementSize each); BranchDescriptorBitMap holds,
// for every epilogue occurrence in the function, the index into
// BranchDescriptors it reuses. Bits are packed LSB-first within each byte
// and consecutively across byte boundaries, with each index occupying
// ceil(log2(BranchDescriptorCount)) bits (minimum 1).
type EpilogueDynamicRelocation struct {
	ImageEpilogueDynamicRelocationHeader
	BranchDescriptors       [][]byte `json:"branch_descriptors"`
	BranchDescriptorBitMap  []uint32 `json:"branch_descriptor_bit_map"`
}

// DVRTv2Record is one decoded entry of a version-2 Dynamic Value
// Relocation Table: the fixed v2 header plus whichever typed payload its
// Symbol selects. At most one payload kind is populated (a function
// override fills FuncOverride, BDDInfo and BDDNodes together); symbols
// without a v2 payload decoder keep their raw bytes in RawFixupInfo.
type DVRTv2Record struct {
	// Either ImageDynamicRelocation32v2 or ImageDynamicRelocation64v2.
	Header interface{} `json:"header"`

	Prologue     *PrologueDynamicRelocation               `json:"prologue,omitempty"`
	Epilogue     *EpilogueDynamicRelocation                `json:"epilogue,omitempty"`
	Arm64X       []ImageArm64XDynamicRelocation            `json:"arm64x,omitempty"`
	FuncOverride []ImageFunctionOverrideDynamicRelocation  `json:"func_override,omitempty"`
	BDDInfo      *ImageBDDInfo                             `json:"bdd_info,omitempty"`
	BDDNodes     []ImageBDDDynamicRelocation                `json:"bdd_nodes,omitempty"`
	RawFixupInfo []byte                                     `json:"raw_fixup_info,omitempty"`
}

type CFGFunction struct {
	// RVA of the target CFG call.
	RVA uint32 `json:"rva"`

	// Flags attached to each GFIDS entry if any call targets have metadata.
	Flags       ImageGuardFlagType `json:"flags"`
	Description string             `json:"description"`

	// TypeBasedHash is the XFG type-based hash stored immediately before
	// this entry's RVA, present only when the module was built with XFG
	// checking (GuardFlags & ImageGuardXFGEnabled) and this entry carries
	// the FID_XFG bit.
	TypeBasedHash *uint64 `json:"type_based_hash,omitempty"`
}

type CFGIATEntry struct {
	RVA         uint32 `json:"rva"`
	IATValue    uint32 `json:"iat_value"`
	INTValue    uint32 `json:"int_value"`
	Description string `json:"description"`
}

type RelocBlock struct {
	ImgBaseReloc ImageBaseRelocation `json:"img_base_reloc"`
	TypeOffsets  []interface{}       `json:"type_offsets"`
}
type RelocEntry struct {
	// Could be ImageDynamicRelocation32{} or ImageDynamicRelocation64{}
	ImageDynamicRelocation interface{}  `json:"image_dynamic_relocation"`
	RelocBlocks            []RelocBlock `json:"reloc_blocks"`
}

// ImageImportControlTransferDynamicRelocation represents the Imported Address
// Retpoline (type 3), size = 4 bytes.
type ImageImportControlTransferDynamicRelocation struct {
	PageRelativeOffset uint16 `json:"page_relative_offset"` // (12 bits)
	// 1 - the opcode is a CALL
	// 0 - the opcode is a JMP.
	IndirectCall uint16 `json:"indirect_call"` // (1 bit)
	IATIndex     uint32 `json:"iat_index"`     // (19 bits)
}

// ImageIndirectControlTransferDynamicRelocation represents the Indirect Branch
// Retpoline (type 4), size = 2 bytes.
type ImageIndirectControlTransferDynamicRelocation struct {
	PageRelativeOffset uint16 `json:"page_relative_offset"` // (12 bits)
	IndirectCall       uint8  `json:"indirect_call"`        // (1 bit)
	RexWPrefix         uint8  `json:"rex_w_prefix"`         // (1 bit)
	CfgCheck           uint8  `json:"cfg_check"`            // (1 bit)
	Reserved           uint8  `json:"reserved"`             // (1 bit)
}

// ImageSwitchableBranchDynamicRelocation represents the Switchable Retpoline
// (type 5), size = 2 bytes.
type ImageSwitchableBranchDynamicRelocation struct {
	PageRelativeOffset uint16 `json:"page_relative_offset"` // (12 bits)
	RegisterNumber     uint16 `json:"register_number"`      // (4 bits)
}

// DVRT represents the Dynamic Value Relocation Table.
// The DVRT was originally introduced back in the Windows 10 Creators Update to
// improve kernel address space layout randomization (KASLR). It allowed the
// memory manager’s page frame number (PFN) database and page table self-map to
// be assigned dynamic addresses at runtime. The DVRT is stored directly in the
// binary and contains a series of relocation entries for each symbol (i.e.
// address) that is to be relocated. The relocation entries are themselves
// arranged in a hierarchical fashion grouped first by symbol and then by
// containing page to allow for a compact description of all locations in the
// binary that reference a relocatable symbol.
// Reference: https://techcommunity.microsoft.com/t5/windows-os-platform-blog/mitigating-spectre-variant-2-with-retpoline-on-windows/ba-p/295618
type DVRT struct {
	ImageDynamicRelocationTable `json:"image_dynamic_relocation_table"`
	Entries                     []RelocEntry   `json:"entries,omitempty"`
	V2Entries                   []DVRTv2Record `json:"v2_entries,omitempty"`
}

type Enclave struct {

	// Points to either ImageEnclaveConfig32{} or ImageEnclaveConfig64{}.
	Config interface{} `json:"config"`

	Imports []ImageEnclaveImport `json:"imports"`

	// ImportNames holds, index-parallel with Imports, the NUL-terminated
	// names each import's ImportName RVA points at; empty when the RVA
	// does not resolve.
	ImportNames []string `json:"import_names,omitempty"`
}

type RangeTableEntry struct {
	RVA  uint32 `json:"rva"`
	Size uint32 `json:"size"`
}

type VolatileMetadata struct {
	Struct         ImageVolatileMetadata `json:"struct"`
	AccessRVATable []uint32              `json:"access_rva_table"`
	InfoRangeTable []RangeTableEntry     `json:"info_range_table"`
}
type LoadConfig struct {
	Struct interface{} `json:"struct"`

	// Version is the descriptor generation the leading Size field selects;
	// VersionExactlyMatches reports whether Size named that generation's
	// boundary exactly rather than falling between two of them.
	Version               LoadConfigVersion `json:"version"`
	VersionExactlyMatches bool              `json:"version_exactly_matches"`

	// LockPrefixVAs holds the NUL-terminated array of virtual addresses
	// behind LockPrefixTable, each the location of a LOCK prefix to patch
	// out on uniprocessor machines.
	LockPrefixVAs []uint64 `json:"lock_prefix_vas,omitempty"`

	SEH              []uint32          `json:"seh"`
	GFIDS            []CFGFunction     `json:"gfids"`
	CFGIAT           []CFGIATEntry     `json:"cfgiat"`
	CFGLongJump      []uint32          `json:"cfg_long_jump"`
	CHPE             *HybridPE         `json:"chpe"`
	DVRT             *DVRT             `json:"dvrt"`
	Enclave          *Enclave          `json:"enclave"`
	VolatileMetadata *VolatileMetadata `json:"volatile_metadata"`

	// EhContTargets holds the sorted table of valid exception-handling
	// continuation targets (GuardEHContinuationTable), present when
	// GuardFlags carries ImageGuardEhContinuationTablePresent.
	EhContTargets []uint32 `json:"eh_cont_targets"`

	// Errors collects non-fatal anomalies found while walking the
	// optional sub-tables below (unsorted tables, truncated records,
	// unknown symbol kinds) instead of aborting the whole directory.
	Errors ErrorList `json:"-"`
}

// loadConfigView surfaces the GuardFlags, table geometry and image base
// needed by the sub-table readers below without resorting to hardcoded
// reflect.Value field indices; it type-switches on the two concrete load
// config struct shapes directly.
type loadConfigView struct {
	guardFlags         uint32
	cfFunctionTable    uint64
	cfFunctionCount    uint64
	ehContTable        uint64
	ehContCount        uint64
	xfgEnabled         bool
	chpeMetadataPtr    uint64
	dynRelocTableOff   uint32
	dynRelocTableSect  uint16
}

func (pe *File) loadConfigView() loadConfigView {
	var v loadConfigView
	switch s := pe.LoadConfig.Struct.(type) {
	case ImageLoadConfigDirectory32:
		v.guardFlags = s.GuardFlags
		v.cfFunctionTable = uint64(s.GuardCFFunctionTable)
		v.cfFunctionCount = uint64(s.GuardCFFunctionCount)
		v.ehContTable = uint64(s.GuardEHContinuationTable)
		v.ehContCount = uint64(s.GuardEHContinuationCount)
		v.chpeMetadataPtr = uint64(s.CHPEMetadataPointer)
		v.dynRelocTableOff = s.DynamicValueRelocTableOffset
		v.dynRelocTableSect = s.DynamicValueRelocTableSection
	case ImageLoadConfigDirectory64:
		v.guardFlags = s.GuardFlags
		v.cfFunctionTable = s.GuardCFFunctionTable
		v.cfFunctionCount = s.GuardCFFunctionCount
		v.ehContTable = s.GuardEHContinuationTable
		v.ehContCount = s.GuardEHContinuationCount
		v.chpeMetadataPtr = s.CHPEMetadataPointer
		v.dynRelocTableOff = s.DynamicValueRelocTableOffset
		v.dynRelocTableSect = s.DynamicValueRelocTableSection
	}
	v.xfgEnabled = v.guardFlags&ImageGuardXFGEnabled != 0
	return v
}

// ImageLoadConfigCodeIntegrity Code Integrity in load config (CI).
type ImageLoadConfigCodeIntegrity struct {
	// Flags to indicate if CI information is available, etc.
	Flags uint16 `json:"flags"`
	// 0xFFFF means not available
	Catalog       uint16 `json:"catalog"`
	CatalogOffset uint32 `json:"catalog_offset"`
	// Additional bitmask to be defined later
	Reserved uint32 `json:"reserved"`
}

type ImageEnclaveConfig32 struct {

	// The size of the IMAGE_ENCLAVE_CONFIG32 structure, in bytes.
	Size uint32 `json:"size"`

	// The minimum size of the IMAGE_ENCLAVE_CONFIG32 structure that the image
	// loader must be able to process in order for the enclave to be usable.
	// This member allows an enclave to inform an earlier version of the image
	// loader that the image loader can safely load the enclave and ignore optional
	// members added to IMAGE_ENCLAVE_CONFIG32 for later versions of the enclave.

	// If the size of IMAGE_ENCLAVE_CONFIG32 that the image loader can process is
	// less than MinimumRequiredConfigSize, the enclave cannot be run securely.
	// If MinimumRequiredConfigSize is zero, the minimum size of the
	// IMAGE_ENCLAVE_CONFIG32 structure that the image loader must be able to
	// process in order for the enclave to be usable is assumed to be the size
	// of the structure through and including the MinimumRequiredConfigSize member.
	MinimumRequiredConfigSize uint32 `json:"minimum_required_config_size"`

	// A flag that indicates whether the enclave permits debugging.
	PolicyFlags uint32 `json:"policy_flags"`

	// The number of images in the array of images that the ImportList member
	// points to.
	NumberOfImports uint32 `json:"number_of_imports"`

	// The relative virtual address of the array of images that the enclave
	// image may import, with identity information for each image.
	ImportList uint32 `json:"import_list"`

	// The size of each image in the array of images that the ImportList member
	// points to.
	ImportEntrySize uint32 `json:"import_entry_size"`

	// The family identifier that the author of the enclave assigned to the enclave.
	FamilyID [ImageEnclaveShortIDLength]uint8 `json:"family_id"`

	// The image identifier that the author of the enclave assigned to the enclave.
	ImageID [ImageEnclaveShortIDLength]uint8 `json:"image_id"`

	// The version number that the author of the enclave assigned to the enclave.
	ImageVersion uint32 `json:"image_version"`

	// The security version number that the author of the enclave assigned to
	// the enclave.
	SecurityVersion uint32 `json:"security_version"`

	// The expected virtual size of the private address range for the enclave,
	// in bytes.
	EnclaveSize uint32 `json:"enclave_size"`

	// The maximum number of threads that can be created within the enclave.
	NumberOfThreads uint32 `json:"number_of_threads"`

	// A flag that indicates whether the image is suitable for use as the
	// primary image in the enclave.
	EnclaveFlags uint32 `json:"enclave_flags"`
}

type ImageEnclaveConfig64 struct {

	// The size of the IMAGE_ENCLAVE_CONFIG32 structure, in bytes.
	Size uint32 `json:"size"`

	// The minimum size of the IMAGE_ENCLAVE_CONFIG32 structure that the image
	// loader must be able to process in order for the enclave to be usable.
	// This member allows an enclave to inform an earlier version of the image
	// loader that the image loader can safely load the enclave and ignore
	// optional members added to IMAGE_ENCLAVE_CONFIG32 for later versions of
	// the enclave.

	// If the size of IMAGE_ENCLAVE_CONFIG32 that the image loader can process
	// is less than MinimumRequiredConfigSize, the enclave cannot be run securely.
	// If MinimumRequiredConfigSize is zero, the minimum size of the
	// IMAGE_ENCLAVE_CONFIG32 structure that the image loader must be able to
	// process in order for the enclave to be usable is assumed to be the size
	// of the structure through and including the MinimumRequiredConfigSize member.
	MinimumRequiredConfigSize uint32 `json:"minimum_required_config_size"`

	// A flag that indicates whether the enclave permits debugging.
	PolicyFlags uint32 `json:"policy_flags"`

	// The number of images in the array of images that the ImportList member
	// points to.
	NumberOfImports uint32 `json:"number_of_imports"`

	// The relative virtual address of the array of images that the enclave
	// image may import, with identity information for each image.
	ImportList uint32 `json:"import_list"`

	// The size of each image in the array of images that the ImportList member
	// points to.
	ImportEntrySize uint32 `json:"import_entry_size"`

	// The family identifier that the author of the enclave assigned to the enclave.
	FamilyID [ImageEnclaveShortIDLength]uint8 `json:"family_id"`

	// The image identifier that the author of the enclave assigned to the enclave.
	ImageID [ImageEnclaveShortIDLength]uint8 `json:"image_id"`

	// The version number that the author of the enclave assigned to the enclave.
	ImageVersion uint32 `json:"image_version"`

	// The security version number that the author of the enclave assigned to the enclave.
	SecurityVersion uint32 `json:"security_version"`

	// The expected virtual size of the private address range for the enclave,in bytes.
	EnclaveSize uint64 `json:"enclave_size"`

	// The maximum number of threads that can be created within the enclave.
	NumberOfThreads uint32 `json:"number_of_threads"`

	// A flag that indicates whether the image is suitable for use as the primary
	// image in the enclave.
	EnclaveFlags uint32 `json:"enclave_flags"`
}

// ImageEnclaveImport defines a entry in the array of images that an enclave can import.
type ImageEnclaveImport struct {

	// The type of identifier of the image that must match the value in the import record.
	MatchType uint32 `json:"match_type"`

	// The minimum enclave security version that each image must have for the
	// image to be imported successfully. The image is rejected unless its
	// enclave security version is equal to or greater than the minimum value in
	// the import record. Set the value in the import record to zero to turn off
	// the security version check.
	MinimumSecurityVersion uint32 `json:"minimum_security_version"`

	// The unique identifier of the primary module for the enclave, if the
	// MatchType member is IMAGE_ENCLAVE_IMPORT_MATCH_UNIQUE_ID. Otherwise,
	// the author identifier of the primary module for the enclave..
	UniqueOrAuthorID [ImageEnclaveLongIDLength]uint8 `json:"unique_or_author_id"`

	// The family identifier of the primary module for the enclave.
	FamilyID [ImageEnclaveShortIDLength]uint8 `json:"family_id"`

	// The image identifier of the primary module for the enclave.
	ImageID [ImageEnclaveShortIDLength]uint8 `json:"image_id"`

	// The relative virtual address of a NULL-terminated string that contains
	// the same value found in the import directory for the image.
	ImportName uint32 `json:"import_name"`

	// Reserved.
	Reserved uint32 `json:"reserved"`
}

type ImageVolatileMetadata struct {
	Size                       uint32 `json:"size"`
	Version                    uint32 `json:"version"`
	VolatileAccessTable        uint32 `json:"volatile_access_table"`
	VolatileAccessTableSize    uint32 `json:"volatile_access_table_size"`
	VolatileInfoRangeTable     uint32 `json:"volatile_info_range_table"`
	VolatileInfoRangeTableSize uint32 `json:"volatile_info_range_table_size"`
}

// The load configuration structure (IMAGE_LOAD_CONFIG_DIRECTORY) was formerly
// used in very limited cases in the Windows NT operating system itself to
// describe various features too difficult or too large to describe in the file

// header or optional header of the image. Current versions of the Microsoft
// linker and Windows XP and later versions of Windows use a new version of this
// structure for 32-bit x86-based systems that include reserved SEH technology.
// The data directory entry for a pre-reserved SEH load configuration structure
// must specify a particular size of the load configuration structure because
// the operating system loader always expects it to be a certain value. In that
// regard, the size is really only a version check. For compatibility with
// Windows XP and earlier versions of Windows, the size must be 64 for x86 images.
func (pe *File) parseLoadConfigDirectory(rva, size uint32) error {

	// As the load config structure changes over time,
	// we first read it size to figure out which one we have to cast against.
	fileOffset := pe.GetOffsetFromRva(rva)
	structSize, err := pe.ReadUint32(fileOffset)
	if err != nil {
		return err
	}

	var loadCfg interface{}

	// Boundary check
	totalSize := fileOffset + size

	// Integer overflow
	if (totalSize > fileOffset) != (size > 0) {
		return ErrOutsideBoundary
	}

	if fileOffset >= pe.size || totalSize > pe.size {
		return ErrOutsideBoundary
	}

	// The Size field is authoritative for which trailing fields exist, but
	// it cannot reach past the data directory entry's own declared size.
	if structSize > size {
		pe.LoadConfig.Errors.Addf(ErrCodeUnmatchedDirectorySize,
			"descriptor size %d exceeds the data directory size %d", structSize, size)
		structSize = size
	}

	minSize := uint32(4 + loadConfigVersionSizes32[LoadConfigVersionBase])
	if !pe.Is32 {
		minSize = 4 + loadConfigVersionSizes64[LoadConfigVersionBase]
	}
	if structSize < minSize {
		pe.LoadConfig.Errors.Addf(ErrCodeInvalidLoadConfigDirectory,
			"descriptor size %d is smaller than the base descriptor", structSize)
		return nil
	}

	pe.LoadConfig.Version, pe.LoadConfig.VersionExactlyMatches =
		determineLoadConfigVersion(structSize-4, pe.Is64)

	// Physical bytes past the end of file read as zero, the descriptor's
	// trailing fields simply stay unset.
	readable := structSize
	if fileOffset+readable > pe.size {
		readable = pe.size - fileOffset
	}

	if pe.Is32 {
		loadCfg32 := ImageLoadConfigDirectory32{}
		imgLoadConfigDirectory := make([]byte, binary.Size(loadCfg32))
		copy(imgLoadConfigDirectory, pe.data[fileOffset:fileOffset+readable])
		buf := bytes.NewReader(imgLoadConfigDirectory)
		err = binary.Read(buf, binary.LittleEndian, &loadCfg32)
		loadCfg = loadCfg32
	} else {
		loadCfg64 := ImageLoadConfigDirectory64{}
		imgLoadConfigDirectory := make([]byte, binary.Size(loadCfg64))
		copy(imgLoadConfigDirectory, pe.data[fileOffset:fileOffset+readable])
		buf := bytes.NewReader(imgLoadConfigDirectory)
		err = binary.Read(buf, binary.LittleEndian, &loadCfg64)
		loadCfg = loadCfg64
	}

	if err != nil {
		return err
	}

	// Save the load config struct.
	pe.HasLoadCFG = true
	pe.LoadConfig.Struct = loadCfg

	// The security cookie is a VA pointing at the /GS cookie slot the
	// compiler carved out of .data; validate it the same way every other
	// VA-shaped field in this directory is validated.
	securityCookie := reflect.ValueOf(loadCfg).FieldByName("SecurityCookie").Uint()
	if _, vaErr := pe.VAToRVA(securityCookie); vaErr != nil {
		pe.LoadConfig.Errors.Addf(ErrCodeInvalidSecurityCookieVa, "SecurityCookie VA 0x%x", securityCookie)
	}

	// Walk the sub-tables in descriptor order, each gated on the version
	// that introduced its pointer fields.
	version := pe.LoadConfig.Version

	pe.LoadConfig.LockPrefixVAs = pe.getLockPrefixTable()

	// Retrieve SEH handlers if there are any..
	if pe.Is32 && version >= LoadConfigVersionSeh {
		handlers := pe.getSEHHandlers()
		pe.LoadConfig.SEH = handlers
	}

	// Retrieve Control Flow Guard Function Targets if there are any. The
	// loader only honors them behind the GuardCF DLL characteristic; the
	// tables are still decoded, a mismatch is just flagged.
	if version >= LoadConfigVersionCfGuard {
		if pe.loadConfigView().guardFlags&ImageGuardCfFunctionTablePresent != 0 &&
			pe.dllCharacteristics()&ImageDllCharacteristicsGuardCF == 0 {
			pe.Anomalies = append(pe.Anomalies, AnoCfGuardMetadataWithoutGuardCFBit)
		}
		pe.LoadConfig.GFIDS = pe.getControlFlowGuardFunctions()
	}

	if version >= LoadConfigVersionCfGuardEx {
		// Retrieve Control Flow Guard IAT entries if there are any.
		pe.LoadConfig.CFGIAT = pe.getControlFlowGuardIAT()

		// Retrieve Long jump target functions if there are any.
		pe.LoadConfig.CFGLongJump = pe.getLongJumpTargetTable()
	}

	// Retrieve compiled hybrid PE metadata if there are any.
	if version >= LoadConfigVersionHybridPe {
		pe.LoadConfig.CHPE = pe.getHybridPE()
	}

	// Retrieve dynamic value relocation table if there are any.
	if version >= LoadConfigVersionRfGuard {
		pe.LoadConfig.DVRT = pe.getDynamicValueRelocTable()
	}

	// Retrieve enclave configuration if there are any.
	if version >= LoadConfigVersionEnclave {
		pe.LoadConfig.Enclave = pe.getEnclaveConfiguration()
	}

	// Retrieve volatile metadata table if there are any.
	if version >= LoadConfigVersionVolatileMetadata {
		pe.LoadConfig.VolatileMetadata = pe.getVolatileMetadata()
	}

	// Retrieve EH continuation targets if there are any.
	if version >= LoadConfigVersionEhGuard {
		pe.LoadConfig.EhContTargets = pe.getEhContinuationTargets()
	}

	return nil
}

// getLockPrefixTable reads the NUL-VA-terminated array of pointer-sized
// virtual addresses behind LockPrefixTable. Every entry is validated as a
// VA; an unresolvable entry records InvalidLockPrefixTable and stops the
// walk, keeping what was read.
func (pe *File) getLockPrefixTable() []uint64 {
	v := reflect.ValueOf(pe.LoadConfig.Struct)
	lockPrefixTable := v.FieldByName("LockPrefixTable").Uint()
	if lockPrefixTable == 0 {
		return nil
	}

	rva, vaErr := pe.VAToRVA(lockPrefixTable)
	if vaErr != nil {
		pe.LoadConfig.Errors.Addf(ErrCodeInvalidLockPrefixTable, "LockPrefixTable VA 0x%x", lockPrefixTable)
		return nil
	}

	opts := pe.loadConfigOptions()
	var vas []uint64
	offset := pe.GetOffsetFromRva(rva)
	for i := uint32(0); i < opts.MaxLockPrefixEntries; i++ {
		var va uint64
		var err error
		if pe.Is32 {
			var va32 uint32
			va32, err = pe.ReadUint32(offset)
			va = uint64(va32)
			offset += 4
		} else {
			va, err = pe.ReadUint64(offset)
			offset += 8
		}
		if err != nil {
			pe.LoadConfig.Errors.AddErr(ErrCodeInvalidLockPrefixTable, err)
			break
		}
		if va == 0 {
			break
		}
		if _, vaErr := pe.VAToRVA(va); vaErr != nil {
			pe.LoadConfig.Errors.Addf(ErrCodeInvalidLockPrefixTable, "lock prefix VA 0x%x", va)
			break
		}
		vas = append(vas, va)
	}
	return vas
}

// getEhContinuationTargets reads the sorted table of valid exception
// handling continuation targets introduced alongside CET/XFG hardening.
// An image sets ImageGuardEhContinuationTablePresent in GuardFlags and
// stores the table the same way as the GFIDS table, but without the
// optional per-entry metadata byte.
func (pe *File) getEhContinuationTargets() []uint32 {
	view := pe.loadConfigView()
	if view.guardFlags&ImageGuardEhContinuationTablePresent == 0 {
		return nil
	}
	if view.ehContCount == 0 || view.ehContTable == 0 {
		return nil
	}

	var targets []uint32
	rva, vaErr := pe.VAToRVA(view.ehContTable)
	if vaErr != nil {
		pe.LoadConfig.Errors.Addf(ErrCodeInvalidVa, "EH continuation target table VA 0x%x", view.ehContTable)
		return nil
	}
	count := view.ehContCount
	if max := pe.loadConfigOptions().MaxEhContTargetCount; count > max {
		pe.LoadConfig.Errors.Addf(ErrCodeInvalidCfGuardTableCount,
			"GuardEHContinuationCount %d exceeds the cap of %d", count, max)
		count = max
	}
	offset := pe.GetOffsetFromRva(rva)
	for i := uint64(0); i < count; i++ {
		target, err := pe.ReadUint32(offset)
		if err != nil {
			break
		}
		targets = append(targets, target)
		offset += 4
	}

	if !sort.SliceIsSorted(targets, func(i, j int) bool { return targets[i] < targets[j] }) {
		pe.LoadConfig.Errors.Add(ErrCodeUnsortedEhcontTargets, "EH continuation target table is not sorted by RVA")
	}
	return targets
}

// StringifyGuardFlags returns list of strings which describes the GuardFlags.
func StringifyGuardFlags(flags uint32) []string {
	var values []string
	guardFlagMap := map[uint32]string{
		ImageGuardCfInstrumented:                 "Instrumented",
		ImageGuardCfWInstrumented:                "WriteInstrumented",
		ImageGuardCfFunctionTablePresent:         "TargetMetadata",
		ImageGuardSecurityCookieUnused:           "SecurityCookieUnused",
		ImageGuardProtectDelayLoadIAT:            "DelayLoadIAT",
		ImageGuardDelayLoadIATInItsOwnSection:    "DelayLoadIATInItsOwnSection",
		ImageGuardCfExportSuppressionInfoPresent: "ExportSuppressionInfoPresent",
		ImageGuardCfEnableExportSuppression:      "EnableExportSuppression",
		ImageGuardCfLongJumpTablePresent:         "LongJumpTablePresent",
	}

	for k, s := range guardFlagMap {
		if k&flags != 0 {
			values = append(values, s)
		}
	}
	return values
}

func (pe *File) getSEHHandlers() []uint32 {

	var handlers []uint32
	v := reflect.ValueOf(pe.LoadConfig.Struct)

	// SEHandlerCount is found in index 19 of the struct.
	SEHandlerCount := uint32(v.Field(19).Uint())
	if max := pe.loadConfigOptions().MaxSEHHandlerCount; SEHandlerCount > max {
		pe.LoadConfig.Errors.Addf(ErrCodeInvalidSafesehHandlerTable,
			"SEHandlerCount %d exceeds the cap of %d", SEHandlerCount, max)
		SEHandlerCount = max
	}
	if SEHandlerCount > 0 {
		SEHandlerTable := v.Field(18).Uint()
		rva, vaErr := pe.VAToRVA(SEHandlerTable)
		if vaErr != nil {
			pe.LoadConfig.Errors.Addf(ErrCodeInvalidVa, "SEHandlerTable VA 0x%x", SEHandlerTable)
			return handlers
		}
		for i := uint32(0); i < SEHandlerCount; i++ {
			offset := pe.GetOffsetFromRva(rva + i*4)
			handler, err := pe.ReadUint32(offset)
			if err != nil {
				return handlers
			}

			handlers = append(handlers, handler)
		}
	}

	return handlers
}

func (pe *File) getControlFlowGuardFunctions() []CFGFunction {

	view := pe.loadConfigView()
	var GFIDS []CFGFunction
	var err error

	// The GFIDS table is an array of 4 + n bytes, where n is given by :
	// ((GuardFlags & IMAGE_GUARD_CF_FUNCTION_TABLE_SIZE_MASK) >>
	// IMAGE_GUARD_CF_FUNCTION_TABLE_SIZE_SHIFT).

	// This allows for extra metadata to be attached to CFG call targets in
	// the future. The only currently defined metadata is an optional 1-byte
	// extra flags field (“GFIDS flags”) that is attached to each GFIDS
	// entry if any call targets have metadata.
	n := (uint64(view.guardFlags) & ImageGuardCfFunctionTableSizeMask) >>
		ImageGuardCfFunctionTableSizeShift
	GuardCFFunctionCount := view.cfFunctionCount
	if max := pe.loadConfigOptions().MaxCFFunctionCount; GuardCFFunctionCount > max {
		pe.LoadConfig.Errors.Addf(ErrCodeInvalidCfGuardTableCount,
			"GuardCFFunctionCount %d exceeds the cap of %d", GuardCFFunctionCount, max)
		GuardCFFunctionCount = max
	}
	if GuardCFFunctionCount > 0 {
		rva, vaErr := pe.VAToRVA(view.cfFunctionTable)
		if vaErr != nil {
			pe.LoadConfig.Errors.Addf(ErrCodeInvalidVa, "GuardCFFunctionTable VA 0x%x", view.cfFunctionTable)
			return GFIDS
		}
		offset := pe.GetOffsetFromRva(rva)
		for i := uint64(1); i <= GuardCFFunctionCount; i++ {
			cfgFunction := CFGFunction{}
			var cfgFlags uint8

			cfgFunction.RVA, err = pe.ReadUint32(offset)
			if err != nil {
				return GFIDS
			}
			if n > 0 {
				err = pe.structUnpack(&cfgFlags, offset+4, uint32(n))
				if err != nil {
					return GFIDS
				}
				cfgFunction.Flags = ImageGuardFlagType(cfgFlags)
			}

			// XFG-enabled images store an 8-byte type-based hash
			// immediately before the function's own RVA in the image,
			// for entries whose GFIDS flags carry FID_XFG - not inline
			// in the GFIDS table itself.
			if view.xfgEnabled && cfgFlags&ImageGuardFlagFidXFG != 0 && cfgFunction.RVA >= 8 {
				hashOffset := pe.GetOffsetFromRva(cfgFunction.RVA - 8)
				if hashOffset == ^uint32(0) {
					pe.LoadConfig.Errors.Addf(ErrCodeInvalidXfgTypeBasedHashRva, "function RVA 0x%x", cfgFunction.RVA)
				} else if hash, herr := pe.ReadUint64(hashOffset); herr != nil {
					pe.LoadConfig.Errors.Addf(ErrCodeInvalidXfgTypeBasedHashRva, "function RVA 0x%x", cfgFunction.RVA)
				} else {
					h := hash
					cfgFunction.TypeBasedHash = &h
				}
			}

			GFIDS = append(GFIDS, cfgFunction)
			offset += 4 + uint32(n)
		}
	}

	if !sort.SliceIsSorted(GFIDS, func(i, j int) bool { return GFIDS[i].RVA < GFIDS[j].RVA }) {
		pe.LoadConfig.Errors.Add(ErrCodeUnsortedCfGuardTable, "control flow guard function table is not sorted by RVA")
	}

	return GFIDS
}

func (pe *File) getControlFlowGuardIAT() []CFGIATEntry {

	v := reflect.ValueOf(pe.LoadConfig.Struct)
	var GFGIAT []CFGIATEntry
	var err error

	// GuardAddressTakenIatEntryCount is found in index 27 of the struct.
	// An image that supports CFG ES includes a GuardAddressTakenIatEntryTable
	// whose count is provided by the GuardAddressTakenIatEntryCount as part
	// of its load configuration directory. This table is structurally
	// formatted the same as the GFIDS table. It uses the same GuardFlags
	// IMAGE_GUARD_CF_FUNCTION_TABLE_SIZE_MASK mechanism to encode extra
	// optional metadata bytes in the address taken IAT table, though all
	// metadata bytes must be zero for the address taken IAT table and are
	// reserved.
	GuardFlags := v.Field(24).Uint()
	n := (GuardFlags & ImageGuardCfFunctionTableSizeMask) >>
		ImageGuardCfFunctionTableSizeShift
	GuardAddressTakenIatEntryCount := v.Field(27).Uint()
	if GuardAddressTakenIatEntryCount > 0 {
		if pe.Is32 {
			GuardAddressTakenIatEntryTable := v.Field(26).Uint()
			rva, vaErr := pe.VAToRVA(GuardAddressTakenIatEntryTable)
			if vaErr != nil {
				pe.LoadConfig.Errors.Addf(ErrCodeInvalidVa, "GuardAddressTakenIatEntryTable VA 0x%x", GuardAddressTakenIatEntryTable)
				return GFGIAT
			}
			offset := pe.GetOffsetFromRva(rva)
			for i := uint32(1); i <= uint32(GuardAddressTakenIatEntryCount); i++ {
				cfgIATEntry := CFGIATEntry{}
				cfgIATEntry.RVA, err = pe.ReadUint32(offset)
				if err != nil {
					return GFGIAT
				}
				// The import name and thunk values behind this RVA live in
				// the import directory, an external collaborator this
				// parser never decodes - only the raw table entry survives.
				GFGIAT = append(GFGIAT, cfgIATEntry)
				offset += 4 + uint32(n)
			}
		} else {
			GuardAddressTakenIatEntryTable := v.Field(26).Uint()
			rva, vaErr := pe.VAToRVA(GuardAddressTakenIatEntryTable)
			if vaErr != nil {
				pe.LoadConfig.Errors.Addf(ErrCodeInvalidVa, "GuardAddressTakenIatEntryTable VA 0x%x", GuardAddressTakenIatEntryTable)
				return GFGIAT
			}
			offset := pe.GetOffsetFromRva(rva)
			for i := uint64(1); i <= GuardAddressTakenIatEntryCount; i++ {
				cfgIATEntry := CFGIATEntry{}
				cfgIATEntry.RVA, err = pe.ReadUint32(offset)
				if err != nil {
					return GFGIAT
				}
				GFGIAT = append(GFGIAT, cfgIATEntry)
				offset += 4 + uint32(n)
			}
		}

	}
	return GFGIAT
}

func (pe *File) getLongJumpTargetTable() []uint32 {

	v := reflect.ValueOf(pe.LoadConfig.Struct)
	var longJumpTargets []uint32

	// The long jump table represents a sorted array of RVAs that are valid
	// long jump targets. If a long jump target module sets
	// IMAGE_GUARD_CF_LONGJUMP_TABLE_PRESENT in its GuardFlags field, then
	// all long jump targets must be enumerated in the LongJumpTargetTable.
	GuardFlags := v.Field(24).Uint()
	n := (GuardFlags & ImageGuardCfFunctionTableSizeMask) >>
		ImageGuardCfFunctionTableSizeShift

	// GuardLongJumpTargetCount is found in index 29 of the struct.
	GuardLongJumpTargetCount := v.Field(29).Uint()
	if GuardLongJumpTargetCount > 0 {
		if pe.Is32 {
			GuardLongJumpTargetTable := v.Field(28).Uint()
			rva, vaErr := pe.VAToRVA(GuardLongJumpTargetTable)
			if vaErr != nil {
				pe.LoadConfig.Errors.Addf(ErrCodeInvalidVa, "GuardLongJumpTargetTable VA 0x%x", GuardLongJumpTargetTable)
				return longJumpTargets
			}
			offset := pe.GetOffsetFromRva(rva)
			for i := uint32(1); i <= uint32(GuardLongJumpTargetCount); i++ {
				target, err := pe.ReadUint32(offset)
				if err != nil {
					return longJumpTargets
				}
				longJumpTargets = append(longJumpTargets, target)
				offset += 4 + uint32(n)
			}
		} else {
			GuardLongJumpTargetTable := v.Field(28).Uint()
			rva, vaErr := pe.VAToRVA(GuardLongJumpTargetTable)
			if vaErr != nil {
				pe.LoadConfig.Errors.Addf(ErrCodeInvalidVa, "GuardLongJumpTargetTable VA 0x%x", GuardLongJumpTargetTable)
				return longJumpTargets
			}
			offset := pe.GetOffsetFromRva(rva)
			for i := uint64(1); i <= GuardLongJumpTargetCount; i++ {
				target, err := pe.ReadUint32(offset)
				if err != nil {
					return longJumpTargets
				}
				longJumpTargets = append(longJumpTargets, target)
				offset += 4 + uint32(n)
			}
		}

	}
	return longJumpTargets
}

func (pe *File) getHybridPE() *HybridPE {
	v := reflect.ValueOf(pe.LoadConfig.Struct)

	// CHPEMetadataPointer is found in index 31 of the struct.
	CHPEMetadataPointer := v.Field(31).Uint()
	if CHPEMetadataPointer == 0 {
		return nil
	}
	rva, vaErr := pe.VAToRVA(CHPEMetadataPointer)
	if vaErr != nil {
		pe.LoadConfig.Errors.Addf(ErrCodeInvalidVa, "CHPEMetadataPointer VA 0x%x", CHPEMetadataPointer)
		return nil
	}

	// As the image CHPE metadata structure changes over time,
	// we first read its version to figure out which one we have to
	// cast against.
	fileOffset := pe.GetOffsetFromRva(rva)
	version, err := pe.ReadUint32(fileOffset)
	if err != nil {
		return nil
	}

	// ARM64 images and AMD64 hybrids carrying CHPE metadata describe
	// ARM64/ARM64EC/x64 code ranges via the ARM64X layout; the dedicated
	// CHPE-x86 machine type and plain x86 images use the X86 layout. Any
	// other machine carrying this pointer is unclassifiable.
	switch pe.NtHeader.FileHeader.Machine {
	case ImageFileHeaderMachineType(ImageFileMachineARM64),
		ImageFileHeaderMachineType(ImageFileMachineAMD64):
		return pe.getHybridPEArm64X(fileOffset)
	case ImageFileMachineCHPEX86,
		ImageFileHeaderMachineType(ImageFileMachineI386):
		// Falls through to the X86 layout below.
	default:
		pe.LoadConfig.Errors.Addf(ErrCodeUnknownChpeMetadataType,
			"machine type 0x%x carries CHPE metadata", uint16(pe.NtHeader.FileHeader.Machine))
		return nil
	}

	structSize := uint32(0)
	imgCHPEMetaX86 := ImageCHPEMetadataX86{}

	switch version {
	case 0x1:
		structSize = uint32(binary.Size(imgCHPEMetaX86) - 8)
	case 0x2:
		structSize = uint32(binary.Size(imgCHPEMetaX86) - 4)
	case 0x3:
		structSize = uint32(binary.Size(imgCHPEMetaX86))
	default:
		// This should be a newer version, default to the latest CHPE version.
		structSize = uint32(binary.Size(imgCHPEMetaX86))
	}

	// Boundary check
	totalSize := fileOffset + structSize

	// Integer overflow
	if (totalSize > fileOffset) != (structSize > 0) {
		pe.logger.Debug("encountered an outside read boundary when reading CHPE structure")
		return nil
	}

	if fileOffset >= pe.size || totalSize > pe.size {
		pe.logger.Debug("encountered an outside read boundary when reading CHPE structure")
		return nil
	}

	imgCHPEMeta := make([]byte, binary.Size(imgCHPEMetaX86))
	copy(imgCHPEMeta, pe.data[fileOffset:fileOffset+structSize])
	buf := bytes.NewReader(imgCHPEMeta)
	err = binary.Read(buf, binary.LittleEndian, &imgCHPEMetaX86)
	if err != nil {
		pe.logger.Debug("encountered an error while unpacking image CHPE Meta")
		return nil
	}

	hybridPE := HybridPE{}
	hybridPE.CHPEMetadata = imgCHPEMetaX86

	// Code Ranges

	/*
		typedef struct _IMAGE_CHPE_RANGE_ENTRY {
			union {
				ULONG StartOffset;
				struct {
					ULONG NativeCode : 1;
					ULONG AddressBits : 31;
				} DUMMYSTRUCTNAME;
			} DUMMYUNIONNAME;

			ULONG Length;
		} IMAGE_CHPE_RANGE_ENTRY, *PIMAGE_CHPE_RANGE_ENTRY;
	*/

	rva = imgCHPEMetaX86.CHPECodeAddressRangeOffset
	for i := 0; i < int(imgCHPEMetaX86.CHPECodeAddressRangeCount); i++ {

		codeRange := CodeRange{}
		fileOffset := pe.GetOffsetFromRva(rva)
		begin, err := pe.ReadUint32(fileOffset)
		if err != nil {
			break
		}

		if begin&1 == 1 {
			codeRange.Machine = 1
			begin = uint32(int(begin) & ^1)
		}
		codeRange.Begin = begin

		fileOffset += 4
		size, err := pe.ReadUint32(fileOffset)
		if err != nil {
			break
		}
		codeRange.Length = size

		hybridPE.CodeRanges = append(hybridPE.CodeRanges, codeRange)
		rva += 8
	}

	// Compiler IAT
	if imgCHPEMetaX86.CompilerIATPointer != 0 {
		rva := imgCHPEMetaX86.CompilerIATPointer
		for i := 0; i < 1024; i++ {
			compilerIAT := CompilerIAT{}
			compilerIAT.RVA = rva
			fileOffset = pe.GetOffsetFromRva(rva)
			compilerIAT.Value, err = pe.ReadUint32(fileOffset)
			if err != nil {
				break
			}

			hybridPE.CompilerIAT = append(
				hybridPE.CompilerIAT, compilerIAT)
			rva += 4
		}
	}
	return &hybridPE
}

// getHybridPEArm64X reads the ARM64X variant of the CHPE metadata blob:
// the header, its code-range table enumerating the ARM64, ARM64EC and X64
// ranges that make up an ARM64X image, and the extra runtime-function
// table, which is a second (ARM64-shaped) exception directory appended to
// the ones found through the exception data directory.
func (pe *File) getHybridPEArm64X(fileOffset uint32) *HybridPE {
	meta := ImageCHPEMetadataArm64X{}
	var err error
	if meta.Version, err = pe.ReadUint32(fileOffset); err != nil {
		return nil
	}
	if meta.CHPECodeAddressRangeOffset, err = pe.ReadUint32(fileOffset + 4); err != nil {
		return nil
	}
	if meta.CHPECodeAddressRangeCount, err = pe.ReadUint32(fileOffset + 8); err != nil {
		return nil
	}
	meta.ExtraRFETable, _ = pe.ReadUint32(fileOffset + 12)
	meta.ExtraRFETableSize, _ = pe.ReadUint32(fileOffset + 16)

	hybridPE := HybridPE{CHPEMetadata: meta}

	rva := meta.CHPECodeAddressRangeOffset
	for i := 0; i < int(meta.CHPECodeAddressRangeCount); i++ {
		off := pe.GetOffsetFromRva(rva)
		start, err := pe.ReadUint32(off)
		if err != nil {
			break
		}
		length, err := pe.ReadUint32(off + 4)
		if err != nil {
			break
		}
		hybridPE.CodeRanges = append(hybridPE.CodeRanges, CodeRange{
			Begin:   start &^ chpeArm64XRangeCodeTypeMask,
			Length:  length,
			Machine: uint8(start & chpeArm64XRangeCodeTypeMask),
		})
		rva += 8
	}

	// A hybrid image's emulated-code runtime functions live in this extra
	// table instead of the exception data directory; parse it as a second,
	// ARM64 directory.
	if meta.ExtraRFETable != 0 && meta.ExtraRFETableSize != 0 {
		img := pe.Image()
		extra, err := parseArm64ExceptionDirectory(img, meta.ExtraRFETable, meta.ExtraRFETableSize)
		if err != nil {
			pe.LoadConfig.Errors.AddErr(ErrCodeInvalidRuntimeFunctionEntry, err)
		}
		if len(extra) > 0 {
			pe.Arm64Exceptions = append(pe.Arm64Exceptions, extra...)
			pe.HasException = true
		}
	}
	return &hybridPE
}

func (pe *File) getDynamicValueRelocTable() *DVRT {

	var structSize uint32
	var imgDynRelocSize uint32
	var retpolineType uint8
	dvrt := DVRT{}
	imgDynRelocTable := ImageDynamicRelocationTable{}

	v := reflect.ValueOf(pe.LoadConfig.Struct)
	DynamicValueRelocTableOffset := v.Field(34).Uint()
	DynamicValueRelocTableSection := v.Field(35).Uint()
	if DynamicValueRelocTableOffset == 0 || DynamicValueRelocTableSection == 0 {
		return nil
	}

	section := pe.getSectionByName(".reloc")
	if section == nil {
		return nil
	}

	// Get the dynamic value relocation table header.
	rva := section.VirtualAddress + uint32(DynamicValueRelocTableOffset)
	offset := pe.GetOffsetFromRva(rva)
	structSize = uint32(binary.Size(imgDynRelocTable))
	err := pe.structUnpack(&imgDynRelocTable, offset, structSize)
	if err != nil {
		return nil
	}

	dvrt.ImageDynamicRelocationTable = imgDynRelocTable
	offset += structSize

	// Get dynamic relocation entries according to version.
	switch imgDynRelocTable.Version {
	case 1:
		relocTableIt := uint32(0)
		baseBlockSize := uint32(0)

		// Iterate over our dynamic reloc table entries.
		for relocTableIt < imgDynRelocTable.Size {

			relocEntry := RelocEntry{}

			// Each block starts with the header.
			if pe.Is32 {
				imgDynReloc := ImageDynamicRelocation32{}
				imgDynRelocSize = uint32(binary.Size(imgDynReloc))
				err = pe.structUnpack(&imgDynReloc, offset, imgDynRelocSize)
				if err != nil {
					return nil
				}
				relocEntry.ImageDynamicRelocation = imgDynReloc
				baseBlockSize = imgDynReloc.BaseRelocSize
				retpolineType = uint8(imgDynReloc.Symbol)
			} else {
				imgDynReloc := ImageDynamicRelocation64{}
				imgDynRelocSize = uint32(binary.Size(imgDynReloc))
				err = pe.structUnpack(&imgDynReloc, offset, imgDynRelocSize)
				if err != nil {
					return nil
				}
				relocEntry.ImageDynamicRelocation = imgDynReloc
				baseBlockSize = imgDynReloc.BaseRelocSize
				retpolineType = uint8(imgDynReloc.Symbol)
			}
			offset += imgDynRelocSize
			relocTableIt += imgDynRelocSize

			// Then, for each page, there is a block that starts with a relocation entry:
			blockIt := uint32(0)
			for blockIt <= baseBlockSize-imgDynRelocSize {
				relocBlock := RelocBlock{}

				baseReloc := ImageBaseRelocation{}
				structSize = uint32(binary.Size(baseReloc))
				err = pe.structUnpack(&baseReloc, offset, structSize)
				if err != nil {
					return nil
				}

				relocBlock.ImgBaseReloc = baseReloc
				offset += structSize

				// After that there are entries for all of the places which need
				// to be overwritten by the retpoline jump. The structure used
				// for those entries depends on the type (symbol) that was used
				// above. There are three types of retpoline so far. Entry for
				//each of them will contain pageRelativeOffset. The kernel uses
				// that entry to apply the proper replacement under
				// virtualAddress + pageRelativeOffset address.
				branchIt := uint32(0)
				switch retpolineType {
				case 3:
					for branchIt < (baseReloc.SizeOfBlock-structSize)/4 {
						imgImpCtrlTransDynReloc := ImageImportControlTransferDynamicRelocation{}

						dword, err := pe.ReadUint32(offset)
						if err != nil {
							return nil
						}

						imgImpCtrlTransDynReloc.PageRelativeOffset = uint16(dword) & 0xfff
						imgImpCtrlTransDynReloc.IndirectCall = uint16(dword) & 0x1000 >> 12
						imgImpCtrlTransDynReloc.IATIndex = dword & 0xFFFFE000 >> 13

						offset += 4
						branchIt += 1
						relocBlock.TypeOffsets = append(relocBlock.TypeOffsets, imgImpCtrlTransDynReloc)
					}
				case 4:
					for branchIt < (baseReloc.SizeOfBlock-structSize)/2 {
						imgIndirCtrlTransDynReloc := ImageIndirectControlTransferDynamicRelocation{}

						word, err := pe.ReadUint16(offset)
						if err != nil {
							return nil
						}
						imgIndirCtrlTransDynReloc.PageRelativeOffset = word & 0xfff
						imgIndirCtrlTransDynReloc.IndirectCall = uint8(word & 0x1000 >> 12)
						imgIndirCtrlTransDynReloc.RexWPrefix = uint8(word & 0x2000 >> 13)
						imgIndirCtrlTransDynReloc.CfgCheck = uint8(word & 0x4000 >> 14)
						imgIndirCtrlTransDynReloc.Reserved = uint8(word & 0x8000 >> 15)

						branchIt += 1
						offset += 2

						// Padding might be added at the end of the block.
						if (ImageIndirectControlTransferDynamicRelocation{}) == imgIndirCtrlTransDynReloc {
							continue
						}
						relocBlock.TypeOffsets = append(relocBlock.TypeOffsets, imgIndirCtrlTransDynReloc)
					}
				case 5:
					for branchIt < (baseReloc.SizeOfBlock-structSize)/2 {
						imgSwitchBranchDynReloc := ImageSwitchableBranchDynamicRelocation{}

						word, err := pe.ReadUint16(offset)
						if err != nil {
							return nil
						}
						imgSwitchBranchDynReloc.PageRelativeOffset = word & 0xfff
						imgSwitchBranchDynReloc.RegisterNumber = word & 0xf000 >> 12

						offset += 2
						branchIt += 1

						// Padding might be added at the end of the block.
						if (ImageSwitchableBranchDynamicRelocation{}) == imgSwitchBranchDynReloc {
							continue
						}
						relocBlock.TypeOffsets = append(relocBlock.TypeOffsets, imgSwitchBranchDynReloc)
					}
				}

				blockIt += baseReloc.SizeOfBlock
				relocEntry.RelocBlocks = append(relocEntry.RelocBlocks, relocBlock)
			}

			dvrt.Entries = append(dvrt.Entries, relocEntry)
			relocTableIt += baseBlockSize
		}
	case 2:
		relocTableIt := uint32(0)
		for relocTableIt < imgDynRelocTable.Size {
			rec := DVRTv2Record{}
			var headerSize, fixupInfoSize, symbol uint32

			if pe.Is32 {
				h := ImageDynamicRelocation32v2{}
				hSize := uint32(binary.Size(h))
				if err := pe.structUnpack(&h, offset, hSize); err != nil {
					return &dvrt
				}
				rec.Header = h
				headerSize, fixupInfoSize, symbol = h.HeaderSize, h.FixupInfoSize, h.Symbol
			} else {
				h := ImageDynamicRelocation64v2{}
				hSize := uint32(binary.Size(h))
				if err := pe.structUnpack(&h, offset, hSize); err != nil {
					return &dvrt
				}
				rec.Header = h
				headerSize, fixupInfoSize, symbol = h.HeaderSize, h.FixupInfoSize, uint32(h.Symbol)
			}

			if headerSize == 0 {
				pe.LoadConfig.Errors.Add(ErrCodeInvalidDynamicRelocationEntry, "v2 record has zero header size")
				break
			}

			fixup, ferr := pe.ReadBytesAtOffset(offset+headerSize, fixupInfoSize)
			if ferr != nil {
				pe.LoadConfig.Errors.AddErr(ErrCodeInvalidDynamicRelocationEntry, ferr)
				break
			}

			switch symbol {
			case ImageDynamicRelocationGuardRfPrologue:
				if len(fixup) >= 1 {
					p := PrologueDynamicRelocation{}
					p.PrologueByteCount = fixup[0]
					n := int(p.PrologueByteCount)
					if 1+n <= len(fixup) {
						p.PrologueBytes = append([]byte(nil), fixup[1:1+n]...)
					}
					rec.Prologue = &p
				}
			case ImageDynamicRelocationGuardREpilogue:
				if len(fixup) >= 7 {
					e := EpilogueDynamicRelocation{}
					e.EpilogueCount = binary.LittleEndian.Uint32(fixup[0:4])
					e.EpilogueByteCount = fixup[4]
					e.BranchDescriptorElementSize = fixup[5]
					e.BranchDescriptorCount = fixup[6]

					pos := 7
					descBytes := int(e.BranchDescriptorElementSize)
					for i := uint8(0); i < e.BranchDescriptorCount; i++ {
						if pos+descBytes > len(fixup) {
							break
						}
						e.BranchDescriptors = append(e.BranchDescriptors, append([]byte(nil), fixup[pos:pos+descBytes]...))
						pos += descBytes
					}

					bitWidth := 1
					if e.BranchDescriptorCount > 1 {
						bitWidth = bits.Len8(e.BranchDescriptorCount - 1)
					}
					bitPos := pos * 8
					for i := uint32(0); i < e.EpilogueCount; i++ {
						var val uint32
						val, bitPos = readLSBBits(fixup, bitPos, bitWidth)
						e.BranchDescriptorBitMap = append(e.BranchDescriptorBitMap, val)
					}
					rec.Epilogue = &e
				}
			case dynamicRelocationArm64X:
				pos := 0
				for pos+2 <= len(fixup) {
					word := binary.LittleEndian.Uint16(fixup[pos:])
					pos += 2
					entry := ImageArm64XDynamicRelocation{
						PageRelativeOffset: word & 0xfff,
						Meta:               uint8(word>>12) & 0xf,
					}
					switch entry.Meta & 0b11 {
					case 0b00: // zero fill
						entry.Value = make([]byte, 1<<(entry.Meta>>2))
					case 0b01: // copy data, size encoded the same way as zero fill
						size := 1 << (entry.Meta >> 2)
						if pos+size <= len(fixup) {
							entry.Value = append([]byte(nil), fixup[pos:pos+size]...)
							pos += size
						}
					case 0b10: // signed/unsigned add-subtract delta
						size := 2
						if entry.Meta&0b1000 != 0 {
							size = 4
						}
						if pos+size <= len(fixup) {
							entry.Value = append([]byte(nil), fixup[pos:pos+size]...)
							pos += size
						}
					}
					rec.Arm64X = append(rec.Arm64X, entry)
				}
			case dynamicRelocationFunctionOverride:
				pos := 0
				if pos+4 <= len(fixup) {
					funcOverrideSize := binary.LittleEndian.Uint32(fixup[pos:])
					pos += 4
					end := pos + int(funcOverrideSize)
					if end > len(fixup) {
						end = len(fixup)
					}
					for pos+16 <= end {
						fo := ImageFunctionOverrideDynamicRelocation{
							OriginalRVA:   binary.LittleEndian.Uint32(fixup[pos:]),
							BDDOffset:     binary.LittleEndian.Uint32(fixup[pos+4:]),
							RVASize:       binary.LittleEndian.Uint32(fixup[pos+8:]),
							BaseRelocSize: binary.LittleEndian.Uint32(fixup[pos+12:]),
						}
						pos += 16
						for i := uint32(0); i < fo.RVASize/4 && pos+4 <= end; i++ {
							fo.RVAs = append(fo.RVAs, binary.LittleEndian.Uint32(fixup[pos:]))
							pos += 4
						}
						pos += int(fo.BaseRelocSize)
						rec.FuncOverride = append(rec.FuncOverride, fo)
					}
					if pos+8 <= len(fixup) {
						info := ImageBDDInfo{
							Version: binary.LittleEndian.Uint32(fixup[pos:]),
							BDDSize: binary.LittleEndian.Uint32(fixup[pos+4:]),
						}
						pos += 8
						rec.BDDInfo = &info
						for pos+6 <= len(fixup) && len(rec.BDDNodes)*6 < int(info.BDDSize) {
							rec.BDDNodes = append(rec.BDDNodes, ImageBDDDynamicRelocation{
								Left:  binary.LittleEndian.Uint16(fixup[pos:]),
								Right: binary.LittleEndian.Uint16(fixup[pos+2:]),
								Value: binary.LittleEndian.Uint16(fixup[pos+4:]),
							})
							pos += 6
						}
					}
				}
			default:
				// Symbols without a v2 payload decoder (including the
				// retpoline symbols 3-5, whose v2 framing differs from the
				// v1 base-relocation blocks) keep their raw bytes.
				pe.LoadConfig.Errors.Addf(ErrCodeUnknownDynamicRelocationSymbol,
					"v2 record symbol %d", symbol)
				rec.RawFixupInfo = fixup
			}

			dvrt.V2Entries = append(dvrt.V2Entries, rec)
			offset += headerSize + fixupInfoSize
			relocTableIt += headerSize + fixupInfoSize
		}
	default:
		pe.LoadConfig.Errors.Addf(ErrCodeUnknownDynamicRelocationTableVersion,
			"dynamic value relocation table version %d", imgDynRelocTable.Version)
	}

	return &dvrt
}

func (pe *File) getEnclaveConfiguration() *Enclave {

	enclave := Enclave{}

	v := reflect.ValueOf(pe.LoadConfig.Struct)
	EnclaveConfigurationPointer := v.Field(40).Uint()
	if EnclaveConfigurationPointer == 0 {
		return nil
	}

	rva, vaErr := pe.VAToRVA(EnclaveConfigurationPointer)
	if vaErr != nil {
		pe.LoadConfig.Errors.Addf(ErrCodeInvalidVa, "EnclaveConfigurationPointer VA 0x%x", EnclaveConfigurationPointer)
		return nil
	}

	if pe.Is32 {
		imgEnclaveCfg := ImageEnclaveConfig32{}
		imgEnclaveCfgSize := uint32(binary.Size(imgEnclaveCfg))
		offset := pe.GetOffsetFromRva(rva)
		err := pe.structUnpack(&imgEnclaveCfg, offset, imgEnclaveCfgSize)
		if err != nil {
			return nil
		}
		enclave.Config = imgEnclaveCfg
	} else {
		imgEnclaveCfg := ImageEnclaveConfig64{}
		imgEnclaveCfgSize := uint32(binary.Size(imgEnclaveCfg))
		offset := pe.GetOffsetFromRva(rva)
		err := pe.structUnpack(&imgEnclaveCfg, offset, imgEnclaveCfgSize)
		if err != nil {
			return nil
		}
		enclave.Config = imgEnclaveCfg
	}

	// Get the array of images that an enclave can import.
	val := reflect.ValueOf(enclave.Config)
	ImportListRVA := val.FieldByName("ImportList").Interface().(uint32)
	NumberOfImports := val.FieldByName("NumberOfImports").Interface().(uint32)
	ImportEntrySize := val.FieldByName("ImportEntrySize").Interface().(uint32)

	offset := pe.GetOffsetFromRva(ImportListRVA)
	for i := uint32(0); i < NumberOfImports; i++ {
		imgEncImp := ImageEnclaveImport{}
		imgEncImpSize := uint32(binary.Size(imgEncImp))
		err := pe.structUnpack(&imgEncImp, offset, imgEncImpSize)
		if err != nil {
			return nil
		}

		offset += ImportEntrySize
		enclave.Imports = append(enclave.Imports, imgEncImp)

		var name string
		if imgEncImp.ImportName != 0 {
			if nameOffset := pe.GetOffsetFromRva(imgEncImp.ImportName); nameOffset != ^uint32(0) {
				name = string(pe.GetStringFromData(nameOffset, pe.data))
			}
		}
		enclave.ImportNames = append(enclave.ImportNames, name)
	}

	return &enclave
}

func (pe *File) getVolatileMetadata() *VolatileMetadata {

	volatileMeta := VolatileMetadata{}
	imgVolatileMeta := ImageVolatileMetadata{}

	v := reflect.ValueOf(pe.LoadConfig.Struct)
	if v.NumField() <= 41 {
		return nil
	}

	VolatileMetadataPointer := v.Field(41).Uint()
	if VolatileMetadataPointer == 0 {
		return nil
	}

	rva, vaErr := pe.VAToRVA(VolatileMetadataPointer)
	if vaErr != nil {
		pe.LoadConfig.Errors.Addf(ErrCodeInvalidVa, "VolatileMetadataPointer VA 0x%x", VolatileMetadataPointer)
		return nil
	}

	offset := pe.GetOffsetFromRva(rva)
	imgVolatileMetaSize := uint32(binary.Size(imgVolatileMeta))
	err := pe.structUnpack(&imgVolatileMeta, offset, imgVolatileMetaSize)
	if err != nil {
		return nil
	}
	volatileMeta.Struct = imgVolatileMeta

	if imgVolatileMeta.VolatileAccessTableSize%4 != 0 {
		pe.LoadConfig.Errors.Addf(ErrCodeUnalignedVolatileMetadataTable, "access RVA table size %d is not a multiple of 4", imgVolatileMeta.VolatileAccessTableSize)
	}
	rangeEntrySizeCheck := uint32(binary.Size(RangeTableEntry{}))
	if imgVolatileMeta.VolatileInfoRangeTableSize%rangeEntrySizeCheck != 0 {
		pe.LoadConfig.Errors.Addf(ErrCodeUnalignedVolatileMetadataTable, "info range table size %d is not a multiple of %d", imgVolatileMeta.VolatileInfoRangeTableSize, rangeEntrySizeCheck)
	}

	if imgVolatileMeta.VolatileAccessTable != 0 &&
		imgVolatileMeta.VolatileAccessTableSize != 0 {
		offset := pe.GetOffsetFromRva(imgVolatileMeta.VolatileAccessTable)
		for i := uint32(0); i < imgVolatileMeta.VolatileAccessTableSize/4; i++ {
			accessRVA, err := pe.ReadUint32(offset)
			if err != nil {
				break
			}

			volatileMeta.AccessRVATable = append(volatileMeta.AccessRVATable, accessRVA)
			offset += 4
		}
	}

	if imgVolatileMeta.VolatileInfoRangeTable != 0 && imgVolatileMeta.VolatileInfoRangeTableSize != 0 {
		offset := pe.GetOffsetFromRva(imgVolatileMeta.VolatileInfoRangeTable)
		rangeEntrySize := uint32(binary.Size(RangeTableEntry{}))
		for i := uint32(0); i < imgVolatileMeta.VolatileInfoRangeTableSize/rangeEntrySize; i++ {
			entry := RangeTableEntry{}
			err := pe.structUnpack(&entry, offset, rangeEntrySize)
			if err != nil {
				break
			}

			volatileMeta.InfoRangeTable = append(volatileMeta.InfoRangeTable, entry)
			offset += rangeEntrySize
		}
	}

	return &volatileMeta
}

// String returns a string interpretation of the load config directory image
// guard flag.
func (flag ImageGuardFlagType) String() string {
	imageGuardFlagTypeMap := map[ImageGuardFlagType]string{
		ImageGuardFlagFIDSuppressed:    "FID Suppressed",
		ImageGuardFlagExportSuppressed: "Export Suppressed",
	}

	v, ok := imageGuardFlagTypeMap[flag]
	if ok {
		return v
	}

	return "?"
}
