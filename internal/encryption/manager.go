package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrInvalidKey is fatal: the service cannot start without a usable key.
	ErrInvalidKey       = errors.New("encryption key must be 32 bytes")
	ErrEncryptionFailed = errors.New("encryption failed")
	ErrDecryptionFailed = errors.New("decryption failed")
)

const (
	keySize   = 32
	nonceSize = 12
	tagSize   = 16
)

// EncryptionManager seals PII fields with AES-256-GCM. Payloads are
// base64(nonce | ciphertext | tag) with a fresh random nonce per call.
type EncryptionManager struct {
	aead cipher.AEAD
}

func NewEncryptionManager(key []byte) (*EncryptionManager, error) {
	if len(key) != keySize {
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return &EncryptionManager{aead: gcm}, nil
}

func (em *EncryptionManager) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	sealed := em.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt fails closed with ErrDecryptionFailed on malformed, truncated or
// tampered input.
func (em *EncryptionManager) Decrypt(payload string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("%w: invalid ciphertext format", ErrDecryptionFailed)
	}
	if len(raw) < nonceSize+tagSize {
		return "", fmt.Errorf("%w: ciphertext too short", ErrDecryptionFailed)
	}

	nonce, sealed := raw[:nonceSize], raw[nonceSize:]
	plaintext, err := em.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return string(plaintext), nil
}
