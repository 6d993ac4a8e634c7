// Package tls serves the HTTPS listener's certificates: ACME via autocert,
// static files, or a cached self-signed certificate outside production.
package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/crypto/acme/autocert"

	"registration-service/internal/config"
	"registration-service/internal/util"
)

var ErrNoCertificate = errors.New("no TLS certificate configured")

type TLSManager struct {
	cfg        config.ServerConfig
	production bool
	autoCert   *autocert.Manager
	static     *tls.Certificate

	devOnce sync.Once
	devCert *tls.Certificate
	devErr  error
}

// NewTLSManager loads static certificates eagerly so a bad path fails at
// startup rather than on the first handshake.
func NewTLSManager(cfg *config.Config) (*TLSManager, error) {
	m := &TLSManager{cfg: cfg.Server, production: cfg.IsProduction()}
	if !cfg.Server.EnableTLS {
		return m, nil
	}

	if cfg.Server.AutoCert {
		if err := os.MkdirAll(cfg.Server.AutoCertDir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create autocert directory: %w", err)
		}
		m.autoCert = &autocert.Manager{
			Prompt:     autocert.AcceptTOS,
			HostPolicy: autocert.HostWhitelist(cfg.Server.Domain),
			Cache:      autocert.DirCache(cfg.Server.AutoCertDir),
			Email:      cfg.Server.Email,
		}
		util.Info("AutoCert configured",
			zap.String("domain", cfg.Server.Domain),
			zap.String("cache_dir", cfg.Server.AutoCertDir))
	}

	if cfg.Server.CertFile != "" && cfg.Server.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.Server.CertFile, cfg.Server.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS key pair: %w", err)
		}
		m.static = &cert
	}

	if m.production && m.autoCert == nil && m.static == nil {
		return nil, ErrNoCertificate
	}
	return m, nil
}

// GetCertificate prefers ACME, then the static pair, then (outside
// production) a self-signed certificate.
func (m *TLSManager) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	if m.autoCert != nil {
		cert, err := m.autoCert.GetCertificate(hello)
		if err == nil {
			return cert, nil
		}
		util.Warn("AutoCert lookup failed", zap.String("server_name", hello.ServerName), zap.Error(err))
	}
	if m.static != nil {
		return m.static, nil
	}
	if m.production {
		return nil, ErrNoCertificate
	}
	return m.selfSigned()
}

func (m *TLSManager) selfSigned() (*tls.Certificate, error) {
	m.devOnce.Do(func() {
		hosts := []string{m.cfg.Domain, "localhost", "127.0.0.1", "::1"}
		cert, err := NewDevCertGenerator(m.cfg.AutoCertDir).GenerateCert(hosts)
		if err != nil {
			m.devErr = fmt.Errorf("failed to generate self-signed certificate: %w", err)
			return
		}
		m.devCert = &cert
	})
	return m.devCert, m.devErr
}

func (m *TLSManager) GetTLSConfig() *tls.Config {
	return &tls.Config{
		GetCertificate: m.GetCertificate,
		NextProtos:     []string{"h2", "http/1.1"},
		MinVersion:     tls.VersionTLS12,
		CurvePreferences: []tls.CurveID{
			tls.X25519,
			tls.CurveP256,
		},
		CipherSuites: []uint16{
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
		},
	}
}

// GetAutocertManager returns the ACME manager, or nil when autocert is off.
func (m *TLSManager) GetAutocertManager() *autocert.Manager {
	return m.autoCert
}
