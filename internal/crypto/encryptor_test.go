package crypto

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfigEncryptor(t *testing.T) {
	_, err := NewConfigEncryptor("")
	assert.Error(t, err)

	for _, key := range []string{"short", "test-encryption-key-32-bytes!!", strings.Repeat("a", 64)} {
		e, err := NewConfigEncryptor(key)
		require.NoError(t, err, key)
		assert.NotNil(t, e)
	}
}

func TestEncryptDecrypt(t *testing.T) {
	e, err := NewConfigEncryptor("test-encryption-key")
	require.NoError(t, err)

	for _, plaintext := range []string{"whsec_abc", "unicode ✓ secret", strings.Repeat("x", 4096)} {
		sealed, err := e.Encrypt(plaintext)
		require.NoError(t, err)
		assert.NotEqual(t, plaintext, sealed)

		opened, err := e.Decrypt(sealed)
		require.NoError(t, err)
		assert.Equal(t, plaintext, opened)
	}
}

func TestEncrypt_NonceMakesCiphertextsDiffer(t *testing.T) {
	e, err := NewConfigEncryptor("test-encryption-key")
	require.NoError(t, err)

	a, err := e.Encrypt("same")
	require.NoError(t, err)
	b, err := e.Encrypt("same")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestEmptyValuesPassThrough(t *testing.T) {
	e, err := NewConfigEncryptor("test-encryption-key")
	require.NoError(t, err)

	sealed, err := e.Encrypt("")
	require.NoError(t, err)
	assert.Empty(t, sealed)

	opened, err := e.Decrypt("")
	require.NoError(t, err)
	assert.Empty(t, opened)
}

func TestDecrypt_Rejects(t *testing.T) {
	e, err := NewConfigEncryptor("test-encryption-key")
	require.NoError(t, err)

	_, err = e.Decrypt("%%%not-base64")
	assert.Error(t, err)

	_, err = e.Decrypt(base64.StdEncoding.EncodeToString([]byte("short")))
	assert.Error(t, err)

	sealed, err := e.Encrypt("secret")
	require.NoError(t, err)
	raw, _ := base64.StdEncoding.DecodeString(sealed)
	raw[len(raw)-1] ^= 0xff
	_, err = e.Decrypt(base64.StdEncoding.EncodeToString(raw))
	assert.Error(t, err)
}
