// Copyright 2021 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pecore

import (
	"bytes"
	"testing"
)

func TestParseSecurityDirectoryMalformedEnvelope(t *testing.T) {
	data := make([]byte, 0x40)
	// WIN_CERTIFICATE header at offset 0x10: 16-byte entry whose content
	// is not a valid PKCS#7 envelope.
	putUint32At(data, 0x10, 16)
	putUint16At(data, 0x14, WinCertRevision2_0)
	putUint16At(data, 0x16, WinCertTypePKCSSignedData)
	copy(data[0x18:], []byte{1, 2, 3, 4, 5, 6, 7, 8})

	pe := newTestFile32(data, 0x10000000)
	err := pe.parseSecurityDirectory(0x10, 16)
	if err == nil {
		t.Fatalf("expected a PKCS#7 parse error")
	}

	// The header and raw bytes survive even though decoding failed.
	if !pe.HasCertificate {
		t.Errorf("HasCertificate = false")
	}
	if pe.Certificates.Header.Length != 16 {
		t.Errorf("certificate length = %d, want 16", pe.Certificates.Header.Length)
	}
	if !bytes.Equal(pe.Certificates.Raw, []byte{1, 2, 3, 4, 5, 6, 7, 8}) {
		t.Errorf("raw content = %v", pe.Certificates.Raw)
	}
}

func TestParseSecurityDirectoryZeroLength(t *testing.T) {
	data := make([]byte, 0x20)
	pe := newTestFile32(data, 0x10000000)
	if err := pe.parseSecurityDirectory(0, 8); err != ErrSecurityDataDirInvalid {
		t.Errorf("error = %v, want ErrSecurityDataDirInvalid", err)
	}
}
