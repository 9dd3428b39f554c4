// Copyright 2021 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pecore

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func newTestFile32(data []byte, imageBase uint32) *File {
	pe := &File{data: data, size: uint32(len(data)), opts: &Options{}}
	pe.Is32 = true
	pe.NtHeader.OptionalHeader = ImageOptionalHeader32{
		ImageBase:        imageBase,
		FileAlignment:    0x200,
		SectionAlignment: 0x1000,
	}
	return pe
}

func newTestFile64(data []byte, imageBase uint64) *File {
	pe := &File{data: data, size: uint32(len(data)), opts: &Options{}}
	pe.Is64 = true
	pe.NtHeader.OptionalHeader = ImageOptionalHeader64{
		ImageBase:        imageBase,
		FileAlignment:    0x200,
		SectionAlignment: 0x1000,
	}
	return pe
}

func TestDetermineLoadConfigVersion(t *testing.T) {
	cases := []struct {
		name         string
		declaredSize uint32
		is64         bool
		wantVersion  LoadConfigVersion
		wantExact    bool
	}{
		{"base32 exact", 60, false, LoadConfigVersionBase, true},
		{"between base and seh", 64, false, LoadConfigVersionBase, false},
		{"seh32 exact", 68, false, LoadConfigVersionSeh, true},
		{"cfguard32 exact", 88, false, LoadConfigVersionCfGuard, true},
		{"memcpy32 exact", 188, false, LoadConfigVersionMemcpyGuard, true},
		{"past the last version", 200, false, LoadConfigVersionMemcpyGuard, false},
		{"base64 exact", 92, true, LoadConfigVersionBase, true},
		{"ehguard64 exact", 276, true, LoadConfigVersionEhGuard, true},
		{"memcpy64 exact", 316, true, LoadConfigVersionMemcpyGuard, true},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			version, exact := determineLoadConfigVersion(c.declaredSize, c.is64)
			if version != c.wantVersion || exact != c.wantExact {
				t.Errorf("determineLoadConfigVersion(%d, %v) = %s/%v, want %s/%v",
					c.declaredSize, c.is64, version, exact, c.wantVersion, c.wantExact)
			}
		})
	}
}

func TestParseLoadConfigDirectoryBase32(t *testing.T) {
	data := make([]byte, 0x400)
	const imageBase = 0x10000000
	const descOffset = 0x80

	// Base descriptor: size field names the Base boundary exactly.
	putUint32At(data, descOffset, 64)
	// LockPrefixTable VA at descriptor offset 32.
	putUint32At(data, descOffset+32, imageBase+0x200)
	// Lock prefix list: two VAs, NUL-terminated.
	putUint32At(data, 0x200, 0x10203044)
	putUint32At(data, 0x204, 0x60708094)
	putUint32At(data, 0x208, 0)

	pe := newTestFile32(data, imageBase)
	if err := pe.parseLoadConfigDirectory(descOffset, 64); err != nil {
		t.Fatalf("parseLoadConfigDirectory() failed: %v", err)
	}

	lc := pe.LoadConfig
	if lc.Version != LoadConfigVersionBase {
		t.Errorf("Version = %s, want Base", lc.Version)
	}
	if !lc.VersionExactlyMatches {
		t.Errorf("VersionExactlyMatches = false, want true")
	}
	wantVAs := []uint64{0x10203044, 0x60708094}
	if len(lc.LockPrefixVAs) != 2 || lc.LockPrefixVAs[0] != wantVAs[0] || lc.LockPrefixVAs[1] != wantVAs[1] {
		t.Errorf("LockPrefixVAs = %#x, want %#x", lc.LockPrefixVAs, wantVAs)
	}

	// The default-zero security cookie is the only expected anomaly.
	if !lc.Errors.Has(ErrCodeInvalidSecurityCookieVa) {
		t.Errorf("missing InvalidSecurityCookieVa diagnostic")
	}
	if len(lc.Errors.Diagnostics()) != 1 {
		t.Errorf("diagnostics = %v, want only the security cookie", lc.Errors.Diagnostics())
	}
}

func TestParseLoadConfigDirectoryUnmatchedSize(t *testing.T) {
	data := make([]byte, 0x400)
	const descOffset = 0x80

	// The descriptor claims more bytes than the data directory grants.
	putUint32At(data, descOffset, 0x200)

	pe := newTestFile32(data, 0x10000000)
	if err := pe.parseLoadConfigDirectory(descOffset, 64); err != nil {
		t.Fatalf("parseLoadConfigDirectory() failed: %v", err)
	}

	if !pe.LoadConfig.Errors.Has(ErrCodeUnmatchedDirectorySize) {
		t.Errorf("missing UnmatchedDirectorySize diagnostic")
	}
	// Truncated to the 64 directory bytes, the descriptor is a Base one.
	if pe.LoadConfig.Version != LoadConfigVersionBase {
		t.Errorf("Version = %s, want Base after truncation", pe.LoadConfig.Version)
	}
}

func TestParseLoadConfigDirectoryDegenerate(t *testing.T) {
	data := make([]byte, 0x400)
	const descOffset = 0x80
	putUint32At(data, descOffset, 16)

	pe := newTestFile32(data, 0x10000000)
	if err := pe.parseLoadConfigDirectory(descOffset, 64); err != nil {
		t.Fatalf("parseLoadConfigDirectory() failed: %v", err)
	}
	if !pe.LoadConfig.Errors.Has(ErrCodeInvalidLoadConfigDirectory) {
		t.Errorf("missing InvalidLoadConfigDirectory diagnostic")
	}
	if pe.HasLoadCFG {
		t.Errorf("HasLoadCFG = true for a degenerate descriptor")
	}
}

func TestControlFlowGuardFunctionsXFG(t *testing.T) {
	data := make([]byte, 0x400)
	const imageBase = 0x140000000

	// Three stride-3 entries at RVA 0x100; the middle one's function RVA
	// has an XFG hash stored 8 bytes before it.
	entry := func(off, rva uint32, flags uint8) {
		putUint32At(data, off, rva)
		data[off+4] = flags
	}
	entry(0x100, 0xABCDEF00, ImageGuardFlagFidXFG|ImageGuardFlagFIDSuppressed)
	entry(0x107, 0x320, ImageGuardFlagFidXFG)
	entry(0x10E, 0, 0)

	wantHash := uint64(0x1122334455667788)
	binary.LittleEndian.PutUint64(data[0x318:], wantHash)

	pe := newTestFile64(data, imageBase)
	pe.LoadConfig.Struct = ImageLoadConfigDirectory64{
		GuardFlags: ImageGuardCfInstrumented | ImageGuardCfFunctionTablePresent |
			ImageGuardXFGEnabled | 3<<ImageGuardCfFunctionTableSizeShift,
		GuardCFFunctionTable: imageBase + 0x100,
		GuardCFFunctionCount: 3,
	}

	gfids := pe.getControlFlowGuardFunctions()
	if len(gfids) != 3 {
		t.Fatalf("entry count = %d, want 3", len(gfids))
	}

	// Entry 1's hash location cannot be resolved; the hash is dropped and
	// the table keeps going.
	if gfids[0].TypeBasedHash != nil {
		t.Errorf("entry 1 carries a hash, want none")
	}
	if !pe.LoadConfig.Errors.Has(ErrCodeInvalidXfgTypeBasedHashRva) {
		t.Errorf("missing InvalidXfgTypeBasedHashRva diagnostic")
	}

	if gfids[1].TypeBasedHash == nil {
		t.Fatalf("entry 2 is missing its type-based hash")
	}
	if *gfids[1].TypeBasedHash != wantHash {
		t.Errorf("entry 2 hash = %#x, want %#x", *gfids[1].TypeBasedHash, wantHash)
	}

	if gfids[2].TypeBasedHash != nil {
		t.Errorf("entry 3 carries a hash, want none")
	}

	// 0xABCDEF00 > 0x320: the table is not ascending.
	if !pe.LoadConfig.Errors.Has(ErrCodeUnsortedCfGuardTable) {
		t.Errorf("missing UnsortedCfGuardTable diagnostic")
	}
}

func TestSafeSEHHandlerCap(t *testing.T) {
	data := make([]byte, 0x200)
	const imageBase = 0x10000000

	pe := newTestFile32(data, imageBase)
	pe.LoadConfig.Struct = ImageLoadConfigDirectory32{
		SEHandlerTable: imageBase + 0x100,
		SEHandlerCount: 0x20000,
	}

	pe.getSEHHandlers()
	if !pe.LoadConfig.Errors.Has(ErrCodeInvalidSafesehHandlerTable) {
		t.Errorf("missing InvalidSafesehHandlerTable diagnostic")
	}
}

func TestEhContinuationTargetsUnsorted(t *testing.T) {
	data := make([]byte, 0x200)
	const imageBase = 0x140000000

	putUint32At(data, 0x100, 0x3000)
	putUint32At(data, 0x104, 0x2000)
	putUint32At(data, 0x108, 0x1000)

	pe := newTestFile64(data, imageBase)
	pe.LoadConfig.Struct = ImageLoadConfigDirectory64{
		GuardFlags:               ImageGuardEhContinuationTablePresent,
		GuardEHContinuationTable: imageBase + 0x100,
		GuardEHContinuationCount: 3,
	}

	targets := pe.getEhContinuationTargets()
	if len(targets) != 3 {
		t.Fatalf("target count = %d, want 3", len(targets))
	}
	if !pe.LoadConfig.Errors.Has(ErrCodeUnsortedEhcontTargets) {
		t.Errorf("missing UnsortedEhcontTargets diagnostic")
	}
}

func TestVolatileMetadataPartialRangeTable(t *testing.T) {
	data := make([]byte, 0x400)
	const imageBase = 0x10000000
	const descOffset = 0x80

	// Descriptor through the volatile metadata pointer.
	putUint32At(data, descOffset, 164)
	// VolatileMetadataPointer at descriptor offset 160.
	putUint32At(data, descOffset+160, imageBase+0x300)

	// Volatile metadata struct: 9-byte range table holds one whole entry.
	putUint32At(data, 0x300, 24)     // Size
	putUint32At(data, 0x304, 2)     // Version
	putUint32At(data, 0x308, 0)     // VolatileAccessTable
	putUint32At(data, 0x30c, 0)     // VolatileAccessTableSize
	putUint32At(data, 0x310, 0x340) // VolatileInfoRangeTable
	putUint32At(data, 0x314, 9)     // VolatileInfoRangeTableSize
	putUint32At(data, 0x340, 0x2000)
	putUint32At(data, 0x344, 0x10)

	pe := newTestFile32(data, imageBase)
	if err := pe.parseLoadConfigDirectory(descOffset, 164); err != nil {
		t.Fatalf("parseLoadConfigDirectory() failed: %v", err)
	}

	vm := pe.LoadConfig.VolatileMetadata
	if vm == nil {
		t.Fatalf("VolatileMetadata = nil")
	}
	if len(vm.InfoRangeTable) != 1 {
		t.Fatalf("range table entries = %d, want 1", len(vm.InfoRangeTable))
	}
	if vm.InfoRangeTable[0].RVA != 0x2000 || vm.InfoRangeTable[0].Size != 0x10 {
		t.Errorf("range entry = %+v, want {0x2000 0x10}", vm.InfoRangeTable[0])
	}
	if !pe.LoadConfig.Errors.Has(ErrCodeUnalignedVolatileMetadataTable) {
		t.Errorf("missing UnalignedVolatileMetadataTable diagnostic")
	}
}

func TestDynamicValueRelocTableV2(t *testing.T) {
	data := make([]byte, 0x800)
	const imageBase = 0x140000000

	// DVRT header inside the .reloc section at section offset 0x10.
	putUint32At(data, 0x410, 2)  // version
	putUint32At(data, 0x414, 88) // size

	writeV2Header := func(off uint32, fixupSize uint32, symbol uint64) {
		putUint32At(data, off, 24) // header size
		putUint32At(data, off+4, fixupSize)
		binary.LittleEndian.PutUint64(data[off+8:], symbol)
		putUint32At(data, off+16, 0) // symbol group
		putUint32At(data, off+20, 0) // flags
	}

	// Record a: symbol 3 has no v2 payload decoder.
	writeV2Header(0x418, 2, 3)
	data[0x430] = 0xAA
	data[0x431] = 0xBB

	// Record b: guard_rf_prologue, two prologue bytes.
	writeV2Header(0x432, 3, ImageDynamicRelocationGuardRfPrologue)
	data[0x44A] = 2
	data[0x44B] = 7
	data[0x44C] = 8

	// Record c: guard_rf_epilogue with three one-byte branch descriptors
	// and bitmap byte 0x0A (two 2-bit indices, LSB first).
	writeV2Header(0x44D, 11, ImageDynamicRelocationGuardREpilogue)
	putUint32At(data, 0x465, 2) // epilogue count
	data[0x469] = 1             // epilogue byte count
	data[0x46A] = 1             // branch descriptor element size
	data[0x46B] = 3             // branch descriptor count
	data[0x46C] = 0xC3
	data[0x46D] = 0xC9
	data[0x46E] = 0xCC
	data[0x46F] = 0x0A

	pe := newTestFile64(data, imageBase)
	pe.Sections = []Section{{
		Header: ImageSectionHeader{
			Name:             [8]uint8{'.', 'r', 'e', 'l', 'o', 'c'},
			VirtualAddress:   0x2000,
			VirtualSize:      0x1000,
			PointerToRawData: 0x400,
			SizeOfRawData:    0x400,
		},
	}}
	pe.LoadConfig.Struct = ImageLoadConfigDirectory64{
		DynamicValueRelocTableOffset:  0x10,
		DynamicValueRelocTableSection: 1,
	}

	dvrt := pe.getDynamicValueRelocTable()
	if dvrt == nil {
		t.Fatalf("getDynamicValueRelocTable() = nil")
	}
	if dvrt.Version != 2 {
		t.Fatalf("Version = %d, want 2", dvrt.Version)
	}
	if len(dvrt.V2Entries) != 3 {
		t.Fatalf("v2 record count = %d, want 3", len(dvrt.V2Entries))
	}

	if !bytes.Equal(dvrt.V2Entries[0].RawFixupInfo, []byte{0xAA, 0xBB}) {
		t.Errorf("record a raw fixup = %v, want [aa bb]", dvrt.V2Entries[0].RawFixupInfo)
	}
	if !pe.LoadConfig.Errors.Has(ErrCodeUnknownDynamicRelocationSymbol) {
		t.Errorf("missing UnknownDynamicRelocationSymbol diagnostic")
	}

	p := dvrt.V2Entries[1].Prologue
	if p == nil || p.PrologueByteCount != 2 || !bytes.Equal(p.PrologueBytes, []byte{7, 8}) {
		t.Errorf("record b prologue = %+v, want 2 bytes [7 8]", p)
	}

	e := dvrt.V2Entries[2].Epilogue
	if e == nil {
		t.Fatalf("record c epilogue = nil")
	}
	if e.EpilogueCount != 2 || e.BranchDescriptorCount != 3 {
		t.Errorf("epilogue header = %+v", e.ImageEpilogueDynamicRelocationHeader)
	}
	if len(e.BranchDescriptors) != 3 {
		t.Errorf("branch descriptor count = %d, want 3", len(e.BranchDescriptors))
	}
	if len(e.BranchDescriptorBitMap) != 2 ||
		e.BranchDescriptorBitMap[0] != 0b10 || e.BranchDescriptorBitMap[1] != 0b10 {
		t.Errorf("bitmap = %v, want [2 2]", e.BranchDescriptorBitMap)
	}
}

func TestHybridPEArm64XOnAmd64(t *testing.T) {
	data := make([]byte, 0x400)
	const imageBase = 0x140000000

	// ARM64X CHPE metadata blob at RVA 0x200.
	putUint32At(data, 0x200, 1)     // version
	putUint32At(data, 0x204, 0x240) // code address range offset
	putUint32At(data, 0x208, 1)     // code address range count
	putUint32At(data, 0x20c, 0x260) // extra RFE table
	putUint32At(data, 0x210, 8)     // extra RFE table size

	// One range entry: ARM64EC code at 0x1000.
	putUint32At(data, 0x240, 0x1000|chpeArm64XRangeCodeTypeArm64EC)
	putUint32At(data, 0x244, 0x100)

	// Extra runtime function: packed unwind data.
	putUint32At(data, 0x260, 0x3000)
	putUint32At(data, 0x264, 1|uint32(8)<<2)

	pe := newTestFile64(data, imageBase)
	pe.NtHeader.FileHeader.Machine = ImageFileHeaderMachineType(ImageFileMachineAMD64)
	pe.LoadConfig.Struct = ImageLoadConfigDirectory64{
		CHPEMetadataPointer: imageBase + 0x200,
	}

	chpe := pe.getHybridPE()
	if chpe == nil {
		t.Fatalf("getHybridPE() = nil")
	}
	meta, ok := chpe.CHPEMetadata.(ImageCHPEMetadataArm64X)
	if !ok {
		t.Fatalf("CHPEMetadata type = %T, want ImageCHPEMetadataArm64X", chpe.CHPEMetadata)
	}
	if meta.ExtraRFETable != 0x260 || meta.ExtraRFETableSize != 8 {
		t.Errorf("extra RFE table = %#x/%d", meta.ExtraRFETable, meta.ExtraRFETableSize)
	}

	if len(chpe.CodeRanges) != 1 {
		t.Fatalf("code range count = %d, want 1", len(chpe.CodeRanges))
	}
	cr := chpe.CodeRanges[0]
	if cr.Begin != 0x1000 || cr.Machine != chpeArm64XRangeCodeTypeArm64EC {
		t.Errorf("code range = %+v, want begin 0x1000 machine arm64ec", cr)
	}

	// The extra RFE table surfaces as a second, ARM64 exception directory.
	if len(pe.Arm64Exceptions) != 1 {
		t.Fatalf("Arm64Exceptions count = %d, want 1", len(pe.Arm64Exceptions))
	}
	exc := pe.Arm64Exceptions[0]
	if exc.RuntimeFunction.BeginAddress != 0x3000 || exc.Packed == nil {
		t.Errorf("extra RFE entry = %+v, want packed entry at 0x3000", exc)
	}
}

func TestChpeMetadataUnknownMachine(t *testing.T) {
	data := make([]byte, 0x400)
	const imageBase = 0x10000000
	putUint32At(data, 0x200, 1)

	pe := newTestFile32(data, imageBase)
	pe.NtHeader.FileHeader.Machine = ImageFileHeaderMachineType(ImageFileMachinePowerPC)
	pe.LoadConfig.Struct = ImageLoadConfigDirectory32{
		CHPEMetadataPointer: imageBase + 0x200,
	}

	if chpe := pe.getHybridPE(); chpe != nil {
		t.Errorf("getHybridPE() = %+v, want nil for an unknown machine", chpe)
	}
	if !pe.LoadConfig.Errors.Has(ErrCodeUnknownChpeMetadataType) {
		t.Errorf("missing UnknownChpeMetadataType diagnostic")
	}
}
