// Copyright 2021 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pecore

import "testing"

func TestSectionContains(t *testing.T) {
	pe := newTestFile32(make([]byte, 0x1000), 0x10000000)
	sec := Section{Header: ImageSectionHeader{
		Name:             [8]uint8{'.', 't', 'e', 'x', 't'},
		VirtualAddress:   0x1000,
		VirtualSize:      0x800,
		PointerToRawData: 0x400,
		SizeOfRawData:    0x400,
	}}

	cases := []struct {
		rva  uint32
		want bool
	}{
		{0x1000, true},
		{0x17ff, true},
		{0x1800, false},
		{0xfff, false},
	}
	for _, c := range cases {
		if got := sec.Contains(c.rva, pe); got != c.want {
			t.Errorf("Contains(%#x) = %v, want %v", c.rva, got, c.want)
		}
	}
}

func TestSectionContainsZeroVirtualSize(t *testing.T) {
	pe := newTestFile32(make([]byte, 0x1000), 0x10000000)
	sec := Section{Header: ImageSectionHeader{
		VirtualAddress: 0x2000,
		SizeOfRawData:  0x200,
	}}

	// With a zero VirtualSize the raw size governs.
	if !sec.Contains(0x21ff, pe) {
		t.Errorf("Contains(0x21ff) = false, want true")
	}
	if sec.Contains(0x2200, pe) {
		t.Errorf("Contains(0x2200) = true, want false")
	}
}

func TestGetSectionByRvaPicksContainingSection(t *testing.T) {
	pe := newTestFile32(make([]byte, 0x1000), 0x10000000)
	pe.Sections = []Section{
		{Header: ImageSectionHeader{Name: [8]uint8{'.', 't'}, VirtualAddress: 0x1000, VirtualSize: 0x1000}},
		{Header: ImageSectionHeader{Name: [8]uint8{'.', 'd'}, VirtualAddress: 0x2000, VirtualSize: 0x1000}},
	}

	sec := pe.getSectionByRva(0x2800)
	if sec == nil || sec.String() != ".d" {
		t.Fatalf("getSectionByRva(0x2800) = %v, want .d", sec)
	}
	if pe.getSectionByRva(0x4000) != nil {
		t.Errorf("getSectionByRva(0x4000) found a section, want nil")
	}
}

func TestParseSectionHeaderFlagsTruncatedRawData(t *testing.T) {
	data := buildMinimalPE64(t)
	// Grow the section's raw size past the end of the file.
	putUint32At(data, 0x188+16, 0x10000)

	pe, err := NewBytes(data, &Options{})
	if err != nil {
		t.Fatalf("NewBytes() failed: %v", err)
	}
	if err := pe.Parse(); err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}

	found := false
	for _, a := range pe.Anomalies {
		if a == "Section `.text` raw data reaches past the end of the file" {
			found = true
		}
	}
	if !found {
		t.Errorf("missing truncated-raw-data anomaly, got %v", pe.Anomalies)
	}
	if len(pe.Sections) != 1 {
		t.Errorf("section count = %d, want 1 (flagged sections are kept)", len(pe.Sections))
	}
}
