// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package tls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeCert writes a self-signed certificate and its key and returns the
// file paths.
func writeCert(t *testing.T) (certFile, keyFile string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "broker"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	dir := t.TempDir()
	certFile = filepath.Join(dir, "cert.pem")
	keyFile = filepath.Join(dir, "key.pem")
	require.NoError(t, os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600))
	require.NoError(t, os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600))
	return certFile, keyFile
}

func TestLoadTLSConfigDefaults(t *testing.T) {
	cfg, err := LoadTLSConfig(&Config{ServerName: "broker"})
	require.NoError(t, err)
	assert.Equal(t, "broker", cfg.ServerName)
	assert.Nil(t, cfg.RootCAs)
	assert.Empty(t, cfg.Certificates)
	assert.False(t, cfg.InsecureSkipVerify)
	assert.Equal(t, "TLS", SecurityStatus(cfg))
}

func TestLoadTLSConfigFiles(t *testing.T) {
	certFile, keyFile := writeCert(t)

	cfg, err := LoadTLSConfig(&Config{CertFile: certFile, KeyFile: keyFile, CAFile: certFile})
	require.NoError(t, err)
	assert.NotNil(t, cfg.RootCAs)
	assert.Len(t, cfg.Certificates, 1)
	assert.Equal(t, "TLS with custom CA and client certificate", SecurityStatus(cfg))
}

func TestLoadTLSConfigErrors(t *testing.T) {
	certFile, keyFile := writeCert(t)

	_, err := LoadTLSConfig(&Config{CertFile: certFile})
	assert.ErrorIs(t, err, errIncompletePK)

	_, err = LoadTLSConfig(&Config{CAFile: filepath.Join(t.TempDir(), "missing.pem")})
	assert.ErrorIs(t, err, errLoadCA)

	_, err = LoadTLSConfig(&Config{CAFile: keyFile})
	assert.ErrorIs(t, err, errAppendCA)

	_, err = LoadTLSConfig(&Config{CertFile: keyFile, KeyFile: certFile})
	assert.ErrorIs(t, err, errLoadCerts)
}

func TestSecurityStatus(t *testing.T) {
	assert.Equal(t, "default TLS", SecurityStatus(nil))

	cfg, err := LoadTLSConfig(&Config{InsecureSkipVerify: true})
	require.NoError(t, err)
	assert.Equal(t, "TLS without verification", SecurityStatus(cfg))
	assert.True(t, Config{}.IsZero())
}
