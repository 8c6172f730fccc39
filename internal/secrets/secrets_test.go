package secrets

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	encoded, err := GenerateKey(32)
	require.NoError(t, err)

	enc, err := NewFromBase64(encoded)
	require.NoError(t, err)

	ciphertext, err := enc.Encrypt("sk-provider-secret-token")
	require.NoError(t, err)
	assert.NotEqual(t, "sk-provider-secret-token", ciphertext)

	plaintext, err := enc.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "sk-provider-secret-token", plaintext)
}

func TestEncrypt_NonceUniqueness(t *testing.T) {
	key, err := GenerateKey(32)
	require.NoError(t, err)
	enc, err := NewFromBase64(key)
	require.NoError(t, err)

	c1, err := enc.Encrypt("same input")
	require.NoError(t, err)
	c2, err := enc.Encrypt("same input")
	require.NoError(t, err)
	assert.NotEqual(t, c1, c2)
}

func TestDecrypt_TamperedCiphertext(t *testing.T) {
	key, err := GenerateKey(16)
	require.NoError(t, err)
	enc, err := NewFromBase64(key)
	require.NoError(t, err)

	ciphertext, err := enc.Encrypt("secret")
	require.NoError(t, err)

	// flip a character in the base64 payload
	tampered := []byte(ciphertext)
	if tampered[len(tampered)-2] == 'A' {
		tampered[len(tampered)-2] = 'B'
	} else {
		tampered[len(tampered)-2] = 'A'
	}

	_, err = enc.Decrypt(string(tampered))
	assert.Error(t, err)
}

func TestNew_InvalidKeySize(t *testing.T) {
	_, err := New([]byte("short"))
	assert.Error(t, err)
}

func TestMask(t *testing.T) {
	assert.Equal(t, "sk-a...wxyz", Mask("sk-abcdefgh-tuvwxyz"))
	assert.Equal(t, "******", Mask("secret"))
}
