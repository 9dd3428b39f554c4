// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pecore

import (
	"crypto/x509"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"reflect"
	"time"

	"go.mozilla.org/pkcs7"
)

// The options for the WIN_CERTIFICATE Revision member include
// (but are not limited to) the following.
const (
	// WinCertRevision1_0 represents the WIN_CERT_REVISION_1_0 Version 1,
	// legacy version of the Win_Certificate structure. It is supported only
	// for purposes of verifying legacy Authenticode signatures.
	WinCertRevision1_0 = 0x0100

	// WinCertRevision2_0 represents the WIN_CERT_REVISION_2_0. Version 2
	// is the current version of the Win_Certificate structure.
	WinCertRevision2_0 = 0x0200
)

// The options for the WIN_CERTIFICATE CertificateType member include
// (but are not limited to) the items in the following table.
const (
	// Certificate contains an X.509 Certificate (Not Supported).
	WinCertTypeX509 = 0x0001

	// Certificate contains a PKCS#7 SignedData structure.
	WinCertTypePKCSSignedData = 0x0002

	// Reserved.
	WinCertTypeReserved1 = 0x0003

	// Terminal Server Protocol Stack Certificate signing (Not Supported).
	WinCertTypeTSStackSigned = 0x0004
)

// ErrSecurityDataDirInvalid is reported when the certificate header in the
// security directory is invalid.
var ErrSecurityDataDirInvalid = errors.New(
	`invalid certificate header in security directory`)

// Certificate directory: the decoded PKCS#7 envelope of the image's
// Authenticode signature. Signature and chain verification are out of
// scope here; the envelope is decoded so callers can inspect who signed
// the image, not whether the signature holds.
type Certificate struct {
	Header  WinCertificate `json:"header"`
	Content *pkcs7.PKCS7   `json:"-"`
	Raw     []byte         `json:"-"`
	Info    CertInfo       `json:"info"`
}

// WinCertificate encapsulates a signature used in verifying executable files.
type WinCertificate struct {
	// Specifies the length, in bytes, of the signature.
	Length uint32 `json:"length"`

	// Specifies the certificate revision.
	Revision uint16 `json:"revision"`

	// Specifies the type of certificate.
	CertificateType uint16 `json:"certificate_type"`
}

// CertInfo wraps the important fields of the pkcs7 structure. This is what
// we keep in JSON marshalling.
type CertInfo struct {
	// The certificate authority (CA) that issued the certificate.
	Issuer string `json:"issuer"`

	// The entity the certificate's public key is associated with.
	Subject string `json:"subject"`

	// The certificate won't be valid before this timestamp.
	NotBefore time.Time `json:"not_before"`

	// The certificate won't be valid after this timestamp.
	NotAfter time.Time `json:"not_after"`

	// The serial number the CA assigned to this certificate, hex-encoded.
	SerialNumber string `json:"serial_number"`

	// The identifier for the cryptographic algorithm used by the CA to
	// sign this certificate.
	SignatureAlgorithm x509.SignatureAlgorithm `json:"signature_algorithm"`

	// The algorithm of the public key inside the certificate.
	PublicKeyAlgorithm x509.PublicKeyAlgorithm `json:"public_key_algorithm"`
}

// The security directory contains the Authenticode signature. This data is
// not loaded into memory as part of the image file, so the directory's
// virtual address is really a file offset.
func (pe *File) parseSecurityDirectory(rva, size uint32) error {

	certHeader := WinCertificate{}
	certSize := uint32(binary.Size(certHeader))

	fileOffset := rva

	err := pe.structUnpack(&certHeader, fileOffset, certSize)
	if err != nil {
		return ErrOutsideBoundary
	}

	if certHeader.Length == 0 {
		return ErrSecurityDataDirInvalid
	}

	if fileOffset+certHeader.Length > pe.size {
		return ErrOutsideBoundary
	}

	certContent := pe.data[fileOffset+certSize : fileOffset+certHeader.Length]
	pe.Certificates = Certificate{Header: certHeader, Raw: certContent}
	pe.HasCertificate = true

	pkcs, err := pkcs7.Parse(certContent)
	if err != nil {
		return err
	}
	pe.Certificates.Content = pkcs

	if len(pkcs.Signers) == 0 {
		return nil
	}

	// The pkcs7.PKCS7 structure contains many fields we are not interested
	// in; keep a summary similar to the _CERT_INFO structure instead.
	certInfo := CertInfo{}
	serialNumber := pkcs.Signers[0].IssuerAndSerialNumber.SerialNumber
	for _, cert := range pkcs.Certificates {
		if !reflect.DeepEqual(cert.SerialNumber, serialNumber) {
			continue
		}

		certInfo.SerialNumber = hex.EncodeToString(cert.SerialNumber.Bytes())
		certInfo.PublicKeyAlgorithm = cert.PublicKeyAlgorithm
		certInfo.SignatureAlgorithm = cert.SignatureAlgorithm
		certInfo.NotAfter = cert.NotAfter
		certInfo.NotBefore = cert.NotBefore

		if len(cert.Issuer.Country) > 0 {
			certInfo.Issuer = cert.Issuer.Country[0] + ", "
		}
		certInfo.Issuer += cert.Issuer.CommonName

		if len(cert.Subject.Country) > 0 {
			certInfo.Subject = cert.Subject.Country[0] + ", "
		}
		if len(cert.Subject.Organization) > 0 {
			certInfo.Subject += cert.Subject.Organization[0] + ", "
		}
		certInfo.Subject += cert.Subject.CommonName
		break
	}

	pe.Certificates.Info = certInfo
	return nil
}
