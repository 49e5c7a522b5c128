// Package crypto seals and opens provider credentials kept in configuration files.
// Sealed values carry the "enc:" prefix followed by base64(nonce + AES-256-GCM ciphertext).
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

// SealedPrefix marks a configuration value as sealed.
const SealedPrefix = "enc:"

var (
	// ErrInvalidKeySize is returned when the sealing key is not 32 bytes.
	ErrInvalidKeySize = errors.New("sealing key must be 32 bytes (256 bits)")
	// ErrInvalidCiphertext is returned for truncated or malformed sealed values.
	ErrInvalidCiphertext = errors.New("invalid sealed value: too short or malformed")
	// ErrOpenFailed is returned when GCM authentication fails (wrong key or tampered value).
	ErrOpenFailed = errors.New("open failed: authentication failed")
	// ErrNoKey is returned when a sealed value is found but no key was configured.
	ErrNoKey = errors.New("sealed value found but no encryption key configured")
)

// Sealer seals and opens secrets with a single AES-256-GCM key.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer builds a Sealer. key must be exactly 32 bytes.
func NewSealer(key []byte) (*Sealer, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidKeySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &Sealer{aead: aead}, nil
}

// IsSealed reports whether value carries the sealed prefix.
func IsSealed(value string) bool {
	return strings.HasPrefix(value, SealedPrefix)
}

// Seal encrypts plaintext and returns "enc:<base64>". Empty input stays empty.
func (s *Sealer) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := s.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return SealedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open returns the plaintext of a sealed value. Values without the prefix
// are returned unchanged so plain keys and sealed keys can be mixed.
func (s *Sealer) Open(value string) (string, error) {
	if !IsSealed(value) {
		return value, nil
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, SealedPrefix))
	if err != nil {
		return "", fmt.Errorf("failed to decode base64: %w", err)
	}

	nonceSize := s.aead.NonceSize()
	if len(decoded) < nonceSize+s.aead.Overhead() {
		return "", ErrInvalidCiphertext
	}

	nonce, ciphertext := decoded[:nonceSize], decoded[nonceSize:]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrOpenFailed, err)
	}

	return string(plaintext), nil
}

// OpenWithKey opens value using key. A nil or empty key is only an error
// when value is actually sealed.
func OpenWithKey(key []byte, value string) (string, error) {
	if !IsSealed(value) {
		return value, nil
	}
	if len(key) == 0 {
		return "", ErrNoKey
	}

	s, err := NewSealer(key)
	if err != nil {
		return "", err
	}
	return s.Open(value)
}
