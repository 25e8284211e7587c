package storage

import (
	"fmt"

	"agent-triggers/internal/crypto"
)

// SecretCipher encrypts webhook secrets before they reach a row. With no key
// configured values pass through unchanged.
type SecretCipher struct {
	encryptor *crypto.ConfigEncryptor
}

// NewSecretCipher creates a cipher for key; an empty key disables encryption
func NewSecretCipher(key string) (*SecretCipher, error) {
	if key == "" {
		return &SecretCipher{}, nil
	}
	encryptor, err := crypto.NewConfigEncryptor(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create encryptor: %w", err)
	}
	return &SecretCipher{encryptor: encryptor}, nil
}

// Enabled reports whether values are encrypted
func (c *SecretCipher) Enabled() bool {
	return c != nil && c.encryptor != nil
}

// Seal encrypts a plaintext secret
func (c *SecretCipher) Seal(plaintext string) (string, error) {
	if !c.Enabled() {
		return plaintext, nil
	}
	return c.encryptor.Encrypt(plaintext)
}

// Open decrypts a sealed secret
func (c *SecretCipher) Open(sealed string) (string, error) {
	if !c.Enabled() {
		return sealed, nil
	}
	plaintext, err := c.encryptor.Decrypt(sealed)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt secret: %w", err)
	}
	return plaintext, nil
}
