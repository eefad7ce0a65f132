// Signing-certificate loading from PKCS#12 or PEM. Key material is read once
// at startup, held immutable for the process lifetime and never persisted.

package signer

import (
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/crypto/pkcs12"
)

// CertificateError marks a missing, expired or unreadable signing
// certificate. The orchestrator maps it to FAILED: it is a system fault, not
// a content fault.
type CertificateError struct {
	Reason string
	Err    error
}

func (e *CertificateError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("certificate: %s: %v", e.Reason, e.Err)
	}
	return "certificate: " + e.Reason
}

func (e *CertificateError) Unwrap() error { return e.Err }

// Load reads the signing certificate and private key from path. A .p12/.pfx
// suffix selects PKCS#12 decoding (with password); anything else is treated
// as PEM, with keyPath optionally pointing to a separate key file. The leaf
// certificate's validity window is checked at load time.
func Load(path, keyPath, password string, now time.Time) (tls.Certificate, error) {
	if path == "" {
		return tls.Certificate{}, &CertificateError{Reason: "no certificate path configured"}
	}
	var (
		cert tls.Certificate
		err  error
	)
	lower := strings.ToLower(path)
	if strings.HasSuffix(lower, ".p12") || strings.HasSuffix(lower, ".pfx") {
		cert, err = loadFromP12(path, password)
	} else {
		cert, err = loadFromPEM(path, keyPath)
	}
	if err != nil {
		return tls.Certificate{}, err
	}
	if len(cert.Certificate) == 0 || cert.PrivateKey == nil {
		return tls.Certificate{}, &CertificateError{Reason: "certificate file contains no key pair"}
	}
	leaf := cert.Leaf
	if leaf == nil {
		leaf, err = x509.ParseCertificate(cert.Certificate[0])
		if err != nil {
			return tls.Certificate{}, &CertificateError{Reason: "parse leaf certificate", Err: err}
		}
		cert.Leaf = leaf
	}
	if now.Before(leaf.NotBefore) || now.After(leaf.NotAfter) {
		return tls.Certificate{}, &CertificateError{
			Reason: fmt.Sprintf("certificate outside validity window (%s – %s)",
				leaf.NotBefore.Format(time.RFC3339), leaf.NotAfter.Format(time.RFC3339)),
		}
	}
	return cert, nil
}

func loadFromP12(path, password string) (tls.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return tls.Certificate{}, &CertificateError{Reason: "read p12", Err: err}
	}
	priv, cert, err := pkcs12.Decode(data, password)
	if err != nil {
		return tls.Certificate{}, &CertificateError{Reason: "decode p12", Err: err}
	}
	return tls.Certificate{
		Certificate: [][]byte{cert.Raw},
		PrivateKey:  priv,
		Leaf:        cert,
	}, nil
}

func loadFromPEM(certPath, keyPath string) (tls.Certificate, error) {
	if keyPath == "" {
		// A single PEM file may hold both certificate and key.
		keyPath = certPath
	}
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return tls.Certificate{}, &CertificateError{Reason: "load PEM pair", Err: err}
	}
	return cert, nil
}

// CertDigestAndIssuerSerial returns the SHA-256 digest of the certificate
// (base64) and its issuer/serial, used in the XAdES SigningCertificate block.
func CertDigestAndIssuerSerial(cert *x509.Certificate) (digestB64, issuerName, serialHex string) {
	h := sha256.Sum256(cert.Raw)
	digestB64 = base64.StdEncoding.EncodeToString(h[:])
	issuerName = cert.Issuer.String()
	serialHex = cert.SerialNumber.Text(16)
	return digestB64, issuerName, serialHex
}
