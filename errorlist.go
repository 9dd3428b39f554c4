// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pecore

import "fmt"

// ErrorCode names a specific, closed class of structural or semantic defect
// found while parsing the exception or load config directories. Spelling
// these out as named codes - rather than free-text messages - lets a caller
// (or a test) ask "did this specific thing go wrong" instead of
// string-matching.
type ErrorCode string

// Diagnostic codes recorded by the exception directory parsers.
const (
	ErrCodeInvalidVa                   ErrorCode = "InvalidVa"
	ErrCodeUnalignedUnwindInfo         ErrorCode = "UnalignedUnwindInfo"
	ErrCodeInvalidUnwindInfoVersion    ErrorCode = "InvalidUnwindInfoVersion"
	ErrCodeInvalidUnwindInfoFlags      ErrorCode = "InvalidUnwindInfoFlags"
	ErrCodePushNonvolUwopOutOfOrder    ErrorCode = "PushNonvolUwopOutOfOrder"
	ErrCodeUnrecognizedUnwindOpcode    ErrorCode = "UnrecognizedUnwindOpcode"
	ErrCodeUnwindChainTooDeep          ErrorCode = "UnwindChainTooDeep"
	ErrCodeInvalidExceptionHandlerRva  ErrorCode = "InvalidExceptionHandlerRva"
	ErrCodeInvalidRuntimeFunctionEntry ErrorCode = "InvalidRuntimeFunctionEntry"
	ErrCodeUnrecognizedArmUnwindOpcode ErrorCode = "UnrecognizedArmUnwindOpcode"
	ErrCodeInvalidUnwindInfo           ErrorCode = "InvalidUnwindInfo"
	ErrCodeBothSetFpregTypesUsed       ErrorCode = "BothSetFpregTypesUsed"
	ErrCodeUnalignedRuntimeFunctionTable ErrorCode = "UnalignedRuntimeFunctionTable"
)

// Validation codes raised by bit-field setters on packed unwind words.
const (
	ErrCodeIntegerOverflow        ErrorCode = "IntegerOverflow"
	ErrCodeInvalidFunctionLength  ErrorCode = "InvalidFunctionLength"
	ErrCodeInvalidFrameSize       ErrorCode = "InvalidFrameSize"
	ErrCodeInvalidStackAdjust     ErrorCode = "InvalidStackAdjust"
	ErrCodeInvalidRegister        ErrorCode = "InvalidRegister"
)

// Diagnostic codes recorded by the load config directory parser.
const (
	ErrCodeUnsortedCfGuardTable           ErrorCode = "UnsortedCfGuardTable"
	ErrCodeUnsortedEhcontTargets          ErrorCode = "UnsortedEhcontTargets"
	ErrCodeInvalidXfgTypeBasedHashRva     ErrorCode = "InvalidXfgTypeBasedHashRva"
	ErrCodeInvalidDynamicRelocationEntry  ErrorCode = "InvalidDynamicRelocationEntry"
	ErrCodeUnalignedVolatileMetadataTable ErrorCode = "UnalignedVolatileMetadataTable"
	ErrCodeInvalidSecurityCookieVa        ErrorCode = "InvalidSecurityCookieVa"
	ErrCodeInvalidLoadConfigDirectory     ErrorCode = "InvalidLoadConfigDirectory"
	ErrCodeUnmatchedDirectorySize         ErrorCode = "UnmatchedDirectorySize"
	ErrCodeInvalidLockPrefixTable         ErrorCode = "InvalidLockPrefixTable"
	ErrCodeInvalidSafesehHandlerTable     ErrorCode = "InvalidSafesehHandlerTable"
	ErrCodeInvalidCfGuardTableCount       ErrorCode = "InvalidCfGuardTableFunctionCount"
	ErrCodeUnknownChpeMetadataType        ErrorCode = "UnknownChpeMetadataType"
	ErrCodeUnknownDynamicRelocationTableVersion ErrorCode = "UnknownDynamicRelocationTableVersion"
	ErrCodeUnknownDynamicRelocationSymbol ErrorCode = "UnknownDynamicRelocationSymbol"
)

// Diagnostic is a single (error_code, context) pair recorded against a
// parsed structure: the code names what went wrong, the context carries the
// offending value or location for a human reader.
type Diagnostic struct {
	Code    ErrorCode `json:"code"`
	Context string    `json:"context,omitempty"`
}

// Error satisfies the error interface so a Diagnostic can be handed to
// anything that only wants a plain error.
func (d Diagnostic) Error() string {
	if d.Context == "" {
		return string(d.Code)
	}
	return string(d.Code) + ": " + d.Context
}

// ErrorList is a typed multiset of diagnostics accumulated while parsing a
// variable-length, best-effort structure - one Exception's UNWIND_INFO, or
// the whole LoadConfig directory. Components embed it by value instead of
// returning a hard error for every recoverable anomaly, the same way the
// original design composes an error_list member rather than throwing. A
// caller checks for a specific named code (Has) or counts how many times it
// fired (Count) instead of string-matching free text.
type ErrorList struct {
	diagnostics []Diagnostic
}

// Add records a diagnostic with the given code and free-text context.
func (l *ErrorList) Add(code ErrorCode, context string) {
	l.diagnostics = append(l.diagnostics, Diagnostic{Code: code, Context: context})
}

// Addf records a diagnostic with the given code and a formatted context.
func (l *ErrorList) Addf(code ErrorCode, format string, args ...interface{}) {
	l.Add(code, fmt.Sprintf(format, args...))
}

// AddErr records a diagnostic derived from a lower-level error, typically
// one of the ErrOutsideBoundary family returned by a Buffer or Image read,
// tagged with the caller-supplied code. A nil error is a no-op.
func (l *ErrorList) AddErr(code ErrorCode, err error) {
	if err == nil {
		return
	}
	l.Add(code, err.Error())
}

// HasErrors reports whether any diagnostic was recorded.
func (l *ErrorList) HasErrors() bool { return len(l.diagnostics) > 0 }

// Has reports whether a diagnostic with the given code was recorded at
// least once.
func (l *ErrorList) Has(code ErrorCode) bool {
	for _, d := range l.diagnostics {
		if d.Code == code {
			return true
		}
	}
	return false
}

// Count returns how many times a given code was recorded.
func (l *ErrorList) Count(code ErrorCode) int {
	n := 0
	for _, d := range l.diagnostics {
		if d.Code == code {
			n++
		}
	}
	return n
}

// Diagnostics returns the recorded (code, context) pairs in insertion order.
func (l *ErrorList) Diagnostics() []Diagnostic { return l.diagnostics }

// Errors returns the diagnostics as a generic error slice, for callers that
// only want to log or fail on "something went wrong" without caring which
// code fired.
func (l *ErrorList) Errors() []error {
	errs := make([]error, len(l.diagnostics))
	for i, d := range l.diagnostics {
		errs[i] = d
	}
	return errs
}

// Merge appends another ErrorList's diagnostics onto this one.
func (l *ErrorList) Merge(other *ErrorList) {
	if other == nil {
		return
	}
	l.diagnostics = append(l.diagnostics, other.diagnostics...)
}
