package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
)

const gcmPrefix = "gcm1"

// encryptValue seals value with AES-GCM under key. Output layout:
// prefix | nonce | ciphertext.
func encryptValue(value string, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	ciphertext := gcm.Seal(nil, nonce, []byte(value), nil)
	out := make([]byte, 0, len(gcmPrefix)+len(nonce)+len(ciphertext))
	out = append(out, gcmPrefix...)
	out = append(out, nonce...)
	out = append(out, ciphertext...)
	return out, nil
}

func decryptValue(ciphertext, key []byte) ([]byte, error) {
	if len(ciphertext) < len(gcmPrefix) || string(ciphertext[:len(gcmPrefix)]) != gcmPrefix {
		return nil, fmt.Errorf("auth: unrecognized ciphertext format")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonceSize := gcm.NonceSize()
	if len(ciphertext) < len(gcmPrefix)+nonceSize {
		return nil, fmt.Errorf("auth: ciphertext too short")
	}
	nonce := ciphertext[len(gcmPrefix) : len(gcmPrefix)+nonceSize]
	data := ciphertext[len(gcmPrefix)+nonceSize:]
	return gcm.Open(nil, nonce, data, nil)
}
