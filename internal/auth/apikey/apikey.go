// Package apikey validates the admin keys that guard index maintenance
// endpoints. Only SHA-256 hashes of the keys are configured; raw keys are
// generated with crypto/rand and shown once.
package apikey

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

var (
	ErrMissingKey = errors.New("missing api key")
	ErrInvalidKey = errors.New("invalid api key")
)

// Validator checks presented keys against a fixed set of hashes.
type Validator struct {
	hashes [][]byte
	logger *slog.Logger
}

// NewValidator accepts hex-encoded SHA-256 hashes. It returns nil when
// hashes is empty, which leaves admin endpoints open.
func NewValidator(hashes []string) (*Validator, error) {
	v := &Validator{logger: slog.Default().With("component", "apikey-validator")}
	for _, h := range hashes {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		b, err := hex.DecodeString(h)
		if err != nil || len(b) != sha256.Size {
			return nil, fmt.Errorf("admin key hash %q is not a hex sha256 digest", h)
		}
		v.hashes = append(v.hashes, b)
	}
	if len(v.hashes) == 0 {
		return nil, nil
	}
	return v, nil
}

// Validate reports whether rawKey matches a configured hash.
func (v *Validator) Validate(rawKey string) error {
	if rawKey == "" {
		return ErrMissingKey
	}
	sum := sha256.Sum256([]byte(rawKey))
	for _, h := range v.hashes {
		if subtle.ConstantTimeCompare(sum[:], h) == 1 {
			return nil
		}
	}
	v.logger.Warn("rejected admin key")
	return ErrInvalidKey
}

// HashKey returns the SHA-256 hex digest of a raw key.
func HashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// GenerateKey returns a random 32-byte hex-encoded key and its hash.
func GenerateKey() (raw, hash string, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("generating api key: %w", err)
	}
	raw = hex.EncodeToString(b)
	return raw, HashKey(raw), nil
}
