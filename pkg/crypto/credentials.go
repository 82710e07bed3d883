// Package crypto encrypts source connection descriptors at rest.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// EncryptedPrefix marks a descriptor that must be decrypted before use.
const EncryptedPrefix = "enc:"

var (
	// ErrInvalidKey is returned when the encryption key is empty.
	ErrInvalidKey = errors.New("invalid encryption key: must not be empty")
	// ErrDecryptionFailed is returned when decryption fails due to invalid ciphertext or wrong key.
	ErrDecryptionFailed = errors.New("decryption failed: invalid ciphertext or wrong key")
	// ErrNoKey is returned when an encrypted descriptor is opened without a key.
	ErrNoKey = errors.New("descriptor is encrypted but no credentials key is configured")
)

// DescriptorCipher provides AES-256-GCM encryption for connection descriptors.
// A nil *DescriptorCipher passes plaintext descriptors through and rejects
// encrypted ones.
type DescriptorCipher struct {
	gcm cipher.AEAD
}

// NewDescriptorCipher creates a cipher from a key string.
// A base64 value decoding to exactly 32 bytes is used directly; anything else is
// treated as a passphrase and hashed with SHA-256.
// An empty key returns (nil, nil) so deployments without encrypted sources need no key.
func NewDescriptorCipher(keyInput string) (*DescriptorCipher, error) {
	if keyInput == "" {
		return nil, nil
	}

	var key []byte
	decoded, err := base64.StdEncoding.DecodeString(keyInput)
	if err == nil && len(decoded) == 32 {
		key = decoded
	} else {
		hash := sha256.Sum256([]byte(keyInput))
		key = hash[:]
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &DescriptorCipher{gcm: gcm}, nil
}

// Seal encrypts a descriptor and returns "enc:" + base64(nonce || ciphertext || tag).
// Already sealed descriptors are returned unchanged.
func (c *DescriptorCipher) Seal(descriptor string) (string, error) {
	if c == nil {
		return "", ErrInvalidKey
	}
	if descriptor == "" || IsSealed(descriptor) {
		return descriptor, nil
	}

	nonce := make([]byte, c.gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := c.gcm.Seal(nonce, nonce, []byte(descriptor), nil)
	return EncryptedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open returns the plaintext form of a descriptor. Descriptors without the
// "enc:" prefix are returned as-is.
func (c *DescriptorCipher) Open(descriptor string) (string, error) {
	if !IsSealed(descriptor) {
		return descriptor, nil
	}
	if c == nil {
		return "", ErrNoKey
	}

	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(descriptor, EncryptedPrefix))
	if err != nil {
		return "", fmt.Errorf("%w: base64 decode failed", ErrDecryptionFailed)
	}

	nonceSize := c.gcm.NonceSize()
	if len(data) < nonceSize+c.gcm.Overhead() {
		return "", fmt.Errorf("%w: ciphertext too short", ErrDecryptionFailed)
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := c.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("%w: authentication failed", ErrDecryptionFailed)
	}

	return string(plaintext), nil
}

// IsSealed reports whether the descriptor carries the encrypted prefix.
func IsSealed(descriptor string) bool {
	return strings.HasPrefix(descriptor, EncryptedPrefix)
}
