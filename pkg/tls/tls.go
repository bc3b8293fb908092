// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package tls

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"os"
)

var (
	errLoadCerts    = errors.New("failed to load certificates")
	errLoadCA       = errors.New("failed to load CA")
	errAppendCA     = errors.New("failed to append root ca tls.Config")
	errIncompletePK = errors.New("cert_file and key_file must be set together")
)

// Config describes how a client verifies the broker and, optionally,
// authenticates itself with a certificate.
type Config struct {
	CertFile           string `yaml:"cert_file"`
	KeyFile            string `yaml:"key_file"`
	CAFile             string `yaml:"ca_file"`
	ServerName         string `yaml:"server_name"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

// IsZero reports whether c carries no settings.
func (c Config) IsZero() bool {
	return c == Config{}
}

// LoadTLSConfig returns a client TLS configuration. Without a CA file the
// system roots verify the broker.
func LoadTLSConfig(c *Config) (*tls.Config, error) {
	config := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		ServerName:         c.ServerName,
		InsecureSkipVerify: c.InsecureSkipVerify,
	}

	if (c.CertFile == "") != (c.KeyFile == "") {
		return nil, errIncompletePK
	}
	if c.CertFile != "" {
		certificate, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
		if err != nil {
			return nil, errors.Join(errLoadCerts, err)
		}
		config.Certificates = []tls.Certificate{certificate}
	}

	rootCA, err := loadCertFile(c.CAFile)
	if err != nil {
		return nil, errors.Join(errLoadCA, err)
	}
	if len(rootCA) > 0 {
		config.RootCAs = x509.NewCertPool()
		if !config.RootCAs.AppendCertsFromPEM(rootCA) {
			return nil, errAppendCA
		}
	}

	return config, nil
}

// SecurityStatus returns log message from TLS config.
func SecurityStatus(c *tls.Config) string {
	if c == nil {
		return "default TLS"
	}
	ret := "TLS"
	if c.InsecureSkipVerify {
		ret += " without verification"
	} else if c.RootCAs != nil {
		ret += " with custom CA"
	}
	if len(c.Certificates) > 0 {
		ret += " and client certificate"
	}
	return ret
}

func loadCertFile(certFile string) ([]byte, error) {
	if certFile != "" {
		return os.ReadFile(certFile)
	}
	return []byte{}, nil
}
