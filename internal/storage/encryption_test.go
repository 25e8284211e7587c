package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecretCipher_RoundTrip(t *testing.T) {
	c, err := NewSecretCipher("a-reasonably-long-encryption-key")
	require.NoError(t, err)
	require.True(t, c.Enabled())

	sealed, err := c.Seal("whsec_123")
	require.NoError(t, err)
	assert.NotEqual(t, "whsec_123", sealed)

	opened, err := c.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "whsec_123", opened)
}

func TestSecretCipher_Disabled(t *testing.T) {
	c, err := NewSecretCipher("")
	require.NoError(t, err)
	assert.False(t, c.Enabled())

	sealed, err := c.Seal("plain")
	require.NoError(t, err)
	assert.Equal(t, "plain", sealed)

	var nilCipher *SecretCipher
	opened, err := nilCipher.Open("plain")
	require.NoError(t, err)
	assert.Equal(t, "plain", opened)
}

func TestSecretCipher_WrongKey(t *testing.T) {
	a, err := NewSecretCipher("key-number-one-key-number-one!!")
	require.NoError(t, err)
	b, err := NewSecretCipher("key-number-two-key-number-two!!")
	require.NoError(t, err)

	sealed, err := a.Seal("secret")
	require.NoError(t, err)

	_, err = b.Open(sealed)
	assert.Error(t, err)
}
