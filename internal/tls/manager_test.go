package tls

import (
	"crypto/tls"
	"crypto/x509"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"registration-service/internal/config"
)

func TestDevCertGeneratorCachesCertificate(t *testing.T) {
	dir := t.TempDir()
	gen := NewDevCertGenerator(dir)

	first, err := gen.GenerateCert([]string{"localhost", "127.0.0.1"})
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "dev-key.pem"))
	require.NoError(t, err)

	second, err := gen.GenerateCert([]string{"localhost", "127.0.0.1"})
	require.NoError(t, err)
	assert.Equal(t, first.Certificate[0], second.Certificate[0])

	leaf, err := x509.ParseCertificate(first.Certificate[0])
	require.NoError(t, err)
	assert.Contains(t, leaf.DNSNames, "localhost")
	require.Len(t, leaf.IPAddresses, 1)
}

func TestDevCertGeneratorRenewsExpired(t *testing.T) {
	dir := t.TempDir()
	gen := NewDevCertGenerator(dir)
	first, err := gen.GenerateCert([]string{"localhost"})
	require.NoError(t, err)

	gen.now = func() time.Time { return time.Now().Add(devCertValidity + time.Hour) }
	second, err := gen.GenerateCert([]string{"localhost"})
	require.NoError(t, err)
	assert.NotEqual(t, first.Certificate[0], second.Certificate[0])
}

func TestManagerFallsBackToSelfSignedOutsideProduction(t *testing.T) {
	cfg := &config.Config{
		Environment: "development",
		Server:      config.ServerConfig{EnableTLS: true, Domain: "localhost", AutoCertDir: t.TempDir()},
	}
	m, err := NewTLSManager(cfg)
	require.NoError(t, err)

	cert, err := m.GetCertificate(&tls.ClientHelloInfo{ServerName: "localhost"})
	require.NoError(t, err)
	require.NotNil(t, cert)
	assert.Nil(t, m.GetAutocertManager())
	assert.Equal(t, uint16(tls.VersionTLS12), m.GetTLSConfig().MinVersion)
}

func TestManagerRequiresCertificateInProduction(t *testing.T) {
	cfg := &config.Config{
		Environment: "production",
		Server:      config.ServerConfig{EnableTLS: true, Domain: "api.example.com"},
	}
	_, err := NewTLSManager(cfg)
	assert.ErrorIs(t, err, ErrNoCertificate)
}

func TestManagerRejectsMissingKeyPair(t *testing.T) {
	cfg := &config.Config{
		Environment: "development",
		Server: config.ServerConfig{
			EnableTLS: true,
			CertFile:  filepath.Join(t.TempDir(), "missing.pem"),
			KeyFile:   filepath.Join(t.TempDir(), "missing.key"),
		},
	}
	_, err := NewTLSManager(cfg)
	assert.Error(t, err)
}
