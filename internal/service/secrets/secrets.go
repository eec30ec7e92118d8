// Package secrets seals and opens account passwords at rest using
// XChaCha20-Poly1305. The sealed form is base64(nonce || ciphertext).
package secrets

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// Sealer encrypts and decrypts short secrets with a fixed 32-byte key.
// A nil Sealer passes values through unchanged (dev mode without a key).
type Sealer struct {
	aeadKey []byte
}

// New derives a Sealer from a key given as 64 hex chars or 32 raw bytes.
// An empty key returns (nil, nil): sealing disabled.
func New(key string) (*Sealer, error) {
	if key == "" {
		return nil, nil
	}
	raw := []byte(key)
	if len(key) == 2*chacha20poly1305.KeySize {
		if decoded, err := hex.DecodeString(key); err == nil {
			raw = decoded
		}
	}
	if len(raw) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("op=secrets.new: key must be %d bytes, got %d", chacha20poly1305.KeySize, len(raw))
	}
	return &Sealer{aeadKey: raw}, nil
}

// Seal encrypts plaintext; empty input stays empty.
func (s *Sealer) Seal(plaintext string) (string, error) {
	if s == nil || plaintext == "" {
		return plaintext, nil
	}
	aead, err := chacha20poly1305.NewX(s.aeadKey)
	if err != nil {
		return "", fmt.Errorf("op=secrets.seal: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("op=secrets.seal: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a sealed value; empty input stays empty.
func (s *Sealer) Open(sealed string) (string, error) {
	if s == nil || sealed == "" {
		return sealed, nil
	}
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("op=secrets.open: %w", err)
	}
	aead, err := chacha20poly1305.NewX(s.aeadKey)
	if err != nil {
		return "", fmt.Errorf("op=secrets.open: %w", err)
	}
	if len(raw) < aead.NonceSize() {
		return "", fmt.Errorf("op=secrets.open: sealed value too short")
	}
	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("op=secrets.open: %w", err)
	}
	return string(plain), nil
}
