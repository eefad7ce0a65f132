package signer

import (
	"crypto/tls"
	"sync"
	"time"
)

// FileCertificateStore loads the signing certificate from disk on first use
// and caches it for the process lifetime. Safe for concurrent callers.
type FileCertificateStore struct {
	path     string
	keyPath  string
	password string

	once sync.Once
	cert tls.Certificate
	err  error
}

// NewFileCertificateStore builds a store over the configured certificate
// paths. Nothing is read until Load is first called.
func NewFileCertificateStore(path, keyPath, password string) *FileCertificateStore {
	return &FileCertificateStore{path: path, keyPath: keyPath, password: password}
}

// Load returns the cached certificate, reading it from disk on the first
// call. Validity is checked against the wall clock at load time.
func (s *FileCertificateStore) Load() (tls.Certificate, error) {
	s.once.Do(func() {
		s.cert, s.err = Load(s.path, s.keyPath, s.password, time.Now().UTC())
	})
	return s.cert, s.err
}
