// Package crypto implements server-side randomness and key derivation for redemption tokens.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Sizes.
const (
	NonceLen      = 16 // 128 bits
	SigningKeyLen = 32
	minSecretLen  = 16
)

// ErrWeakSecret indicates configured key material is too short to derive from.
var ErrWeakSecret = errors.New("signing secret too short")

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// NewNonce returns a URL-safe encoding of NonceLen random bytes.
func NewNonce() (string, error) {
	b, err := RandBytes(NonceLen)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// DeriveSigningKey derives a per-kid HMAC key via HKDF-SHA256 using kid as info.
func DeriveSigningKey(secret []byte, kid string) ([]byte, error) {
	if len(secret) < minSecretLen {
		return nil, ErrWeakSecret
	}
	r := hkdf.New(sha256.New, secret, []byte("clinic-credit/redemption"), []byte(kid))
	key := make([]byte, SigningKeyLen)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}
