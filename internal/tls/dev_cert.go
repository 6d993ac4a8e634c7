package tls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"registration-service/internal/util"
)

const devCertValidity = 90 * 24 * time.Hour

// DevCertGenerator creates a self-signed P-256 certificate and caches it in
// certDir across restarts.
type DevCertGenerator struct {
	certDir string
	now     func() time.Time
}

func NewDevCertGenerator(certDir string) *DevCertGenerator {
	return &DevCertGenerator{certDir: certDir, now: time.Now}
}

func (d *DevCertGenerator) paths() (string, string) {
	return filepath.Join(d.certDir, "dev-cert.pem"), filepath.Join(d.certDir, "dev-key.pem")
}

func (d *DevCertGenerator) GenerateCert(hosts []string) (tls.Certificate, error) {
	certPath, keyPath := d.paths()
	if cert, err := tls.LoadX509KeyPair(certPath, keyPath); err == nil && d.stillValid(cert) {
		util.Info("Using cached development certificate", zap.String("cert_path", certPath))
		return cert, nil
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to generate private key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to generate serial: %w", err)
	}

	now := d.now()
	template := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{Organization: []string{"registration-service development"}},
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.Add(devCertValidity),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	for _, h := range hosts {
		if h == "" {
			continue
		}
		if ip := net.ParseIP(h); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, h)
		}
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to create certificate: %w", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to encode private key: %w", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})

	if err := d.persist(certPEM, keyPEM); err != nil {
		util.Warn("Development certificate not cached", zap.Error(err))
	}
	util.Info("Generated development certificate", zap.Strings("hosts", hosts))

	return tls.X509KeyPair(certPEM, keyPEM)
}

func (d *DevCertGenerator) persist(certPEM, keyPEM []byte) error {
	if d.certDir == "" {
		return fmt.Errorf("no certificate directory")
	}
	if err := os.MkdirAll(d.certDir, 0o700); err != nil {
		return err
	}
	certPath, keyPath := d.paths()
	if err := os.WriteFile(certPath, certPEM, 0o644); err != nil {
		return err
	}
	return os.WriteFile(keyPath, keyPEM, 0o600)
}

func (d *DevCertGenerator) stillValid(cert tls.Certificate) bool {
	if len(cert.Certificate) == 0 {
		return false
	}
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return false
	}
	now := d.now()
	return now.After(leaf.NotBefore) && now.Before(leaf.NotAfter)
}
