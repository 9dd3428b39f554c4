// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pecore

import (
	"errors"
	"os"

	mmap "github.com/edsrzf/mmap-go"
	"github.com/pescan/pecore/internal/log"
)

// A File represents an open PE file.
//
// The overall image container - headers, section table, and the other
// fourteen data directories - is treated here only to the depth its geometry
// demands: enough to resolve RVAs and hand the Exception and Load
// Configuration directories a well-formed Image. Those two directories, and
// only those two, are fully parsed.
type File struct {
	DOSHeader       ImageDOSHeader    `json:"dos_header,omitempty"`
	NtHeader        ImageNtHeader     `json:"nt_header,omitempty"`
	Sections        []Section         `json:"sections,omitempty"`
	LoadConfig      LoadConfig       `json:"load_config,omitempty"`
	Exceptions      []Exception      `json:"exceptions,omitempty"`
	ArmExceptions   []ArmException   `json:"arm_exceptions,omitempty"`
	Arm64Exceptions []Arm64Exception `json:"arm64_exceptions,omitempty"`
	Certificates    Certificate      `json:"certificates,omitempty"`
	Anomalies       []string         `json:"anomalies,omitempty"`

	// ExceptionDirErrors holds directory-level exception table
	// diagnostics; per-entry ones live on each entry's own error list.
	ExceptionDirErrors ErrorList `json:"-"`
	data            mmap.MMap
	FileInfo
	size   uint32
	f      *os.File
	opts   *Options
	logger *log.Helper
}

// Options for Parsing
type Options struct {

	// Parse only the PE header and do not parse data directories, by default (false).
	Fast bool

	// Ceilings for the load config sub-tables; nil selects
	// DefaultLoadConfigOptions().
	LoadConfig *LoadConfigOptions

	// A custom logger.
	Logger log.Logger
}

// New instantiates a file instance with options given a file name.
func New(name string, opts *Options) (*File, error) {

	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}

	// Memory map the file instead of using read/write.
	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, err
	}

	file := File{}
	if opts != nil {
		file.opts = opts
	} else {
		file.opts = &Options{}
	}

	var logger log.Logger
	if file.opts.Logger == nil {
		logger = log.NewStdLogger(os.Stdout)
		file.logger = log.NewHelper(log.NewFilter(logger,
			log.FilterLevel(log.LevelError)))
	} else {
		file.logger = log.NewHelper(file.opts.Logger)
	}

	file.data = data
	file.size = uint32(len(file.data))
	file.f = f
	return &file, nil
}

// NewBytes instantiates a file instance with options given a memory buffer.
func NewBytes(data []byte, opts *Options) (*File, error) {

	file := File{}
	if opts != nil {
		file.opts = opts
	} else {
		file.opts = &Options{}
	}

	var logger log.Logger
	if file.opts.Logger == nil {
		logger = log.NewStdLogger(os.Stdout)
		file.logger = log.NewHelper(log.NewFilter(logger,
			log.FilterLevel(log.LevelError)))
	} else {
		file.logger = log.NewHelper(file.opts.Logger)
	}

	file.data = data
	file.size = uint32(len(file.data))
	return &file, nil
}

// Image builds the RVA/VA/file-offset translation façade for this file,
// used by the exception directory and load config directory parsers.
func (pe *File) Image() *Image {
	var imageBase uint64
	var fileAlignment, sectionAlignment, sizeOfImage uint32

	switch pe.Is64 {
	case true:
		oh := pe.NtHeader.OptionalHeader.(ImageOptionalHeader64)
		imageBase = oh.ImageBase
		fileAlignment = oh.FileAlignment
		sectionAlignment = oh.SectionAlignment
		sizeOfImage = oh.SizeOfImage
	case false:
		oh := pe.NtHeader.OptionalHeader.(ImageOptionalHeader32)
		imageBase = uint64(oh.ImageBase)
		fileAlignment = oh.FileAlignment
		sectionAlignment = oh.SectionAlignment
		sizeOfImage = oh.SizeOfImage
	}

	img := NewImage(pe.data, pe.Is64, imageBase, fileAlignment, sectionAlignment, pe.logger)
	img.SetSizeOfImage(sizeOfImage)
	for _, s := range pe.Sections {
		img.AddSection(s.String(), s.Header.VirtualAddress, s.Header.VirtualSize,
			s.Header.PointerToRawData, s.Header.SizeOfRawData)
	}
	return img
}

// Close closes the File.
func (pe *File) Close() error {
	if pe.data != nil {
		_ = pe.data.Unmap()
	}

	if pe.f != nil {
		return pe.f.Close()
	}
	return nil
}

// Parse performs the file parsing for a PE binary.
func (pe *File) Parse() error {

	// check for the smallest PE size.
	if len(pe.data) < TinyPESize {
		return ErrInvalidPESize
	}

	// Parse the DOS header.
	err := pe.ParseDOSHeader()
	if err != nil {
		return err
	}

	// Parse the NT header.
	err = pe.ParseNTHeader()
	if err != nil {
		return err
	}

	// Parse the Section Header.
	err = pe.ParseSectionHeader()
	if err != nil {
		return err
	}

	// In fast mode, do not parse data directories.
	if pe.opts.Fast {
		return nil
	}

	// Parse the Data Directory entries.
	return pe.ParseDataDirectories()
}

// String stringify the data directory entry.
func (entry ImageDirectoryEntry) String() string {
	dataDirMap := map[ImageDirectoryEntry]string{
		ImageDirectoryEntryExport:       "Export",
		ImageDirectoryEntryImport:       "Import",
		ImageDirectoryEntryResource:     "Resource",
		ImageDirectoryEntryException:    "Exception",
		ImageDirectoryEntryCertificate:  "Security",
		ImageDirectoryEntryBaseReloc:    "Relocation",
		ImageDirectoryEntryDebug:        "Debug",
		ImageDirectoryEntryArchitecture: "Architecture",
		ImageDirectoryEntryGlobalPtr:    "GlobalPtr",
		ImageDirectoryEntryTLS:          "TLS",
		ImageDirectoryEntryLoadConfig:   "LoadConfig",
		ImageDirectoryEntryBoundImport:  "BoundImport",
		ImageDirectoryEntryIAT:          "IAT",
		ImageDirectoryEntryDelayImport:  "DelayImport",
		ImageDirectoryEntryCLR:          "CLR",
		ImageDirectoryEntryReserved:     "Reserved",
	}

	return dataDirMap[entry]
}

// ParseDataDirectories parses the data directories. The DataDirectory is an
// array of 16 structures, one per well-known directory; only the Exception,
// LoadConfig and Certificate entries have a parser wired in here (the last
// one only a PKCS#7 envelope probe) - the other thirteen
// are external collaborators this module never decodes, so their va/size are
// left alone.
func (pe *File) ParseDataDirectories() error {

	foundErr := false
	oh32 := ImageOptionalHeader32{}
	oh64 := ImageOptionalHeader64{}

	switch pe.Is64 {
	case true:
		oh64 = pe.NtHeader.OptionalHeader.(ImageOptionalHeader64)
	case false:
		oh32 = pe.NtHeader.OptionalHeader.(ImageOptionalHeader32)
	}

	// Maps data directory index to function which parses that directory.
	// The certificate probe only decodes the PKCS#7 envelope; everything
	// else in the security directory stays opaque.
	funcMaps := map[ImageDirectoryEntry](func(uint32, uint32) error){
		ImageDirectoryEntryException:   pe.parseExceptionDirectory,
		ImageDirectoryEntryLoadConfig:  pe.parseLoadConfigDirectory,
		ImageDirectoryEntryCertificate: pe.parseSecurityDirectory,
	}

	// Iterate over data directories and call the appropriate function.
	for entryIndex := ImageDirectoryEntry(0); entryIndex < ImageNumberOfDirectoryEntries; entryIndex++ {

		var va, size uint32
		switch pe.Is64 {
		case true:
			dirEntry := oh64.DataDirectory[entryIndex]
			va = dirEntry.VirtualAddress
			size = dirEntry.Size
		case false:
			dirEntry := oh32.DataDirectory[entryIndex]
			va = dirEntry.VirtualAddress
			size = dirEntry.Size
		}

		if va != 0 {
			func() {
				// keep parsing data directories even though some entries fails.
				defer func() {
					if e := recover(); e != nil {
						pe.logger.Errorf("unhandled exception when parsing data directory %s, reason: %v",
							entryIndex.String(), e)
						foundErr = true
					}
				}()

				// the last entry in the data directories is reserved and must be zero.
				if entryIndex == ImageDirectoryEntryReserved {
					pe.Anomalies = append(pe.Anomalies, AnoReservedDataDirectoryEntry)
					return
				}

				parseFn, ok := funcMaps[entryIndex]
				if !ok {
					// Directory has no parser wired in here; its va/size stay
					// as the loader-facing interface this module promises.
					return
				}

				err := parseFn(va, size)
				if err != nil {
					pe.logger.Warnf("failed to parse data directory %s, reason: %v",
						entryIndex.String(), err)
				}
			}()
		}
	}

	if foundErr {
		return errors.New("Data directory parsing failed")
	}
	return nil
}
