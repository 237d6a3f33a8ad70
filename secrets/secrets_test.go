package secrets

import (
	"crypto/rand"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKeyB64(t *testing.T) string {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(key)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	enc, err := NewEncryptor(testKeyB64(t))
	require.NoError(t, err)

	blob, err := enc.Encrypt([]byte("sk-provider-key"))
	require.NoError(t, err)

	plaintext, err := enc.Decrypt(blob)
	require.NoError(t, err)
	assert.Equal(t, "sk-provider-key", string(plaintext))
}

func TestDecryptStringConvenienceWrapper(t *testing.T) {
	enc, err := NewEncryptor(testKeyB64(t))
	require.NoError(t, err)

	blob, err := enc.Encrypt([]byte("sk-provider-key"))
	require.NoError(t, err)

	s, err := enc.DecryptString(blob)
	require.NoError(t, err)
	assert.Equal(t, "sk-provider-key", s)
}

func TestNewEncryptorRejectsWrongKeyLength(t *testing.T) {
	shortKey := base64.StdEncoding.EncodeToString(make([]byte, 16))

	_, err := NewEncryptor(shortKey)
	assert.Error(t, err)
}

func TestNewEncryptorRejectsInvalidBase64(t *testing.T) {
	_, err := NewEncryptor("not base64!!")
	assert.Error(t, err)
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	enc, err := NewEncryptor(testKeyB64(t))
	require.NoError(t, err)

	blob, err := enc.Encrypt([]byte("sk-provider-key"))
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(blob)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xFF
	tampered := base64.StdEncoding.EncodeToString(raw)

	_, err = enc.Decrypt(tampered)
	assert.Error(t, err)
}

func TestEncryptProducesDistinctCiphertextPerCall(t *testing.T) {
	enc, err := NewEncryptor(testKeyB64(t))
	require.NoError(t, err)

	blob1, err := enc.Encrypt([]byte("sk-provider-key"))
	require.NoError(t, err)
	blob2, err := enc.Encrypt([]byte("sk-provider-key"))
	require.NoError(t, err)

	assert.NotEqual(t, blob1, blob2, "random nonce must make repeated encryptions of the same plaintext differ")
}
