package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/zalando/go-keyring"
)

const (
	keyringApp   = "cyberdrop-dl"
	keyringField = "credentials"
)

// Substituted in tests.
var (
	keyringSet    = keyring.Set
	keyringGet    = keyring.Get
	keyringDelete = keyring.Delete
	randRead      = rand.Read
)

// newKey generates a 32-byte key and stores it hex-encoded in the OS
// keyring.
func newKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := randRead(key); err != nil {
		return nil, err
	}
	if err := keyringSet(keyringApp, keyringField, hex.EncodeToString(key)); err != nil {
		return nil, err
	}
	return key, nil
}

// loadKey retrieves the stored key, or generates one when none exists.
func loadKey() ([]byte, error) {
	s, err := keyringGet(keyringApp, keyringField)
	if err != nil {
		if err == keyring.ErrNotFound {
			return newKey()
		}
		return nil, err
	}
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("auth: invalid key format: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("auth: invalid key length: expected 32, got %d", len(key))
	}
	return key, nil
}

// DeleteKey removes the encryption key from the OS keyring. Stored
// credentials become unreadable.
func DeleteKey() error {
	return keyringDelete(keyringApp, keyringField)
}
