package token

import (
	"errors"
	"fmt"
	"strings"

	pkgcrypto "github.com/and161185/clinic-credit/internal/crypto"
)

// MaxKeys bounds how many recent keys are accepted for verification.
const MaxKeys = 5

// KeySpec is configured signing material: a key id and its secret.
type KeySpec struct {
	ID     string
	Secret []byte
}

// Keyring holds HMAC keys by id. The first key signs; all keys verify.
type Keyring struct {
	current string
	keys    map[string][]byte
}

// ParseKeySpecs parses "kid:secret" entries, newest first.
func ParseKeySpecs(entries []string) ([]KeySpec, error) {
	specs := make([]KeySpec, 0, len(entries))
	for i, e := range entries {
		kid, secret, ok := strings.Cut(strings.TrimSpace(e), ":")
		if !ok || kid == "" || secret == "" {
			return nil, fmt.Errorf("signing key[%d]: want kid:secret", i)
		}
		specs = append(specs, KeySpec{ID: kid, Secret: []byte(secret)})
	}
	return specs, nil
}

// NewKeyring derives a signing key per KeySpec. The first one signs.
func NewKeyring(specs ...KeySpec) (*Keyring, error) {
	if len(specs) == 0 {
		return nil, errors.New("keyring: no signing keys")
	}
	if len(specs) > MaxKeys {
		return nil, fmt.Errorf("keyring: %d keys, at most %d allowed", len(specs), MaxKeys)
	}
	kr := &Keyring{current: specs[0].ID, keys: make(map[string][]byte, len(specs))}
	for _, s := range specs {
		if _, dup := kr.keys[s.ID]; dup {
			return nil, fmt.Errorf("keyring: duplicate kid %q", s.ID)
		}
		k, err := pkgcrypto.DeriveSigningKey(s.Secret, s.ID)
		if err != nil {
			return nil, fmt.Errorf("keyring: kid %q: %w", s.ID, err)
		}
		kr.keys[s.ID] = k
	}
	return kr, nil
}

// Current returns the signing key id and key.
func (k *Keyring) Current() (string, []byte) {
	return k.current, k.keys[k.current]
}

// Lookup returns the verification key for kid.
func (k *Keyring) Lookup(kid string) ([]byte, bool) {
	key, ok := k.keys[kid]
	return key, ok
}
