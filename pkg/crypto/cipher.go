// Package crypto implements the authenticated symmetric cipher used for
// encrypted storage columns.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

// ErrNoKey is returned when an encrypted write is attempted without a
// configured key.
var ErrNoKey = errors.New("no encryption key configured")

// ErrCiphertext is returned when a ciphertext cannot be authenticated or
// decrypted (wrong key, truncation, corruption).
var ErrCiphertext = errors.New("ciphertext unreadable")

// Cipher seals and opens values with AES-256-GCM. The nonce is prepended to
// the ciphertext.
type Cipher struct {
	aead cipher.AEAD
}

// New creates a Cipher from a 32-byte key. A nil key yields a Cipher whose
// Seal fails with ErrNoKey, letting callers defer the configuration check to
// the first encrypted write.
func New(key []byte) (*Cipher, error) {
	if key == nil {
		return &Cipher{}, nil
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// Configured reports whether a key is present.
func (c *Cipher) Configured() bool {
	return c.aead != nil
}

// Seal encrypts plaintext, returning nonce||ciphertext.
func (c *Cipher) Seal(plaintext []byte) ([]byte, error) {
	if c.aead == nil {
		return nil, ErrNoKey
	}
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	return c.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts nonce||ciphertext produced by Seal. Any authentication
// failure is reported as ErrCiphertext.
func (c *Cipher) Open(sealed []byte) ([]byte, error) {
	if c.aead == nil {
		return nil, ErrNoKey
	}
	if len(sealed) < c.aead.NonceSize() {
		return nil, ErrCiphertext
	}
	nonce, ciphertext := sealed[:c.aead.NonceSize()], sealed[c.aead.NonceSize():]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrCiphertext
	}
	return plaintext, nil
}

// SealString is Seal for string plaintexts.
func (c *Cipher) SealString(plaintext string) ([]byte, error) {
	return c.Seal([]byte(plaintext))
}

// OpenString is Open returning a string.
func (c *Cipher) OpenString(sealed []byte) (string, error) {
	plaintext, err := c.Open(sealed)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
