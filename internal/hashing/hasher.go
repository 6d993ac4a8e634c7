package hashing

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"

	"registration-service/internal/config"
)

var (
	ErrInvalidPepper = errors.New("hashing pepper is missing")
	ErrInvalidSalt   = errors.New("invalid salt format")
	ErrInvalidHash   = errors.New("invalid hash format")
)

const saltLength = 16

type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	KeyLength   uint32
}

// DefaultParams are the argon2id costs used when config leaves them unset.
var DefaultParams = Argon2Params{
	Memory:      64 * 1024,
	Iterations:  1,
	Parallelism: 4,
	KeyLength:   32,
}

// Hasher computes the two kinds of digests the service stores:
// peppered lookup hashes (deterministic, indexable) and salted argon2id
// hashes for secrets.
type Hasher struct {
	params Argon2Params
	pepper []byte
}

func NewHasher(cfg *config.Config) (*Hasher, error) {
	params := DefaultParams
	if cfg.Hashing.Argon2MemoryCost > 0 {
		params.Memory = uint32(cfg.Hashing.Argon2MemoryCost)
	}
	if cfg.Hashing.Argon2TimeCost > 0 {
		params.Iterations = uint32(cfg.Hashing.Argon2TimeCost)
	}
	if cfg.Hashing.Argon2Parallelism > 0 {
		params.Parallelism = uint8(cfg.Hashing.Argon2Parallelism)
	}
	if cfg.Hashing.KeyLength > 0 {
		params.KeyLength = uint32(cfg.Hashing.KeyLength)
	}
	return NewHasherWithParams(cfg.Crypto.Pepper, params)
}

func NewHasherWithParams(pepper string, params Argon2Params) (*Hasher, error) {
	if strings.TrimSpace(pepper) == "" {
		return nil, ErrInvalidPepper
	}
	return &Hasher{params: params, pepper: []byte(pepper)}, nil
}

// LookupHash returns hex(HMAC-SHA256(pepper, value)). Equal inputs always
// produce equal outputs, so the result can back a unique index.
func (h *Hasher) LookupHash(value string) string {
	mac := hmac.New(sha256.New, h.pepper)
	mac.Write([]byte(value))
	return hex.EncodeToString(mac.Sum(nil))
}

// SecureHash derives an argon2id digest of value under a hex salt.
func (h *Hasher) SecureHash(value, salt string) (string, error) {
	saltBytes, err := hex.DecodeString(salt)
	if err != nil || len(saltBytes) == 0 {
		return "", ErrInvalidSalt
	}
	digest := argon2.IDKey(
		[]byte(value),
		saltBytes,
		h.params.Iterations,
		h.params.Memory,
		h.params.Parallelism,
		h.params.KeyLength,
	)
	return base64.RawURLEncoding.EncodeToString(digest), nil
}

// RandomSalt returns 16 random bytes, hex encoded.
func (h *Hasher) RandomSalt() (string, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	return hex.EncodeToString(salt), nil
}

// Verify recomputes SecureHash and compares in constant time.
func (h *Hasher) Verify(value, salt, digest string) (bool, error) {
	expected, err := base64.RawURLEncoding.DecodeString(digest)
	if err != nil {
		return false, ErrInvalidHash
	}
	computed, err := h.SecureHash(value, salt)
	if err != nil {
		return false, err
	}
	computedBytes, _ := base64.RawURLEncoding.DecodeString(computed)
	return subtle.ConstantTimeCompare(computedBytes, expected) == 1, nil
}
