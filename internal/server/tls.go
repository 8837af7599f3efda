package server

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// parseTLSVersion parses TLS version string and returns the corresponding constant
func parseTLSVersion(ver string) (uint16, error) {
	switch ver {
	case "", "default", "1.3", "TLS1.3", "tls1.3":
		return tls.VersionTLS13, nil
	case "1.2", "TLS1.2", "tls1.2":
		return tls.VersionTLS12, nil
	}
	return 0, fmt.Errorf("unsupported TLS version %q", ver)
}

// getCertificationFunc loads the key pair on every handshake so renewed
// certificates are picked up without a restart.
func getCertificationFunc(certFile, keyFile string) func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	certFile, keyFile = filepath.Clean(certFile), filepath.Clean(keyFile)
	return func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
		readCert, err := os.ReadFile(certFile)
		if err != nil {
			return nil, err
		}
		readKey, err := os.ReadFile(keyFile)
		if err != nil {
			return nil, err
		}
		certificate, err := tls.X509KeyPair(readCert, readKey)
		return &certificate, err
	}
}

// TLSConfig returns nil when no certificate is configured. The pair is checked
// once up front so a bad path fails at startup rather than on first request.
func TLSConfig(certFile, keyFile, minVersion string) (*tls.Config, error) {
	if certFile == "" && keyFile == "" {
		return nil, nil
	}
	if certFile == "" || keyFile == "" {
		return nil, errors.New("TLS requires both cert_file and key_file")
	}
	minVer, err := parseTLSVersion(minVersion)
	if err != nil {
		return nil, err
	}
	get := getCertificationFunc(certFile, keyFile)
	if _, err := get(nil); err != nil {
		return nil, fmt.Errorf("load TLS key pair: %w", err)
	}
	return &tls.Config{
		GetCertificate: get,
		MinVersion:     minVer,
	}, nil
}
