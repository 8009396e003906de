package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slicol/meshwork/pkg/protocol"
)

func newTestCipher(t *testing.T) *SessionCipher {
	t.Helper()
	key, err := GenerateSessionKey()
	require.NoError(t, err)
	c, err := NewSessionCipher(key)
	require.NoError(t, err)
	return c
}

func TestSessionCipherRoundTrip(t *testing.T) {
	c := newTestCipher(t)

	for _, plaintext := range [][]byte{
		[]byte(`"hello"`),
		{},
		make([]byte, 64*1024),
	} {
		ciphertext, err := c.Encrypt(plaintext)
		require.NoError(t, err)
		assert.Len(t, ciphertext, len(plaintext)+24+16)

		decrypted, err := c.Decrypt(ciphertext)
		require.NoError(t, err)
		assert.Equal(t, len(plaintext), len(decrypted))
		assert.Equal(t, string(plaintext), string(decrypted))
	}
}

func TestSessionCipherRandomNonce(t *testing.T) {
	c := newTestCipher(t)

	a, err := c.Encrypt([]byte("same"))
	require.NoError(t, err)
	b, err := c.Encrypt([]byte("same"))
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestSessionCipherTampered(t *testing.T) {
	c := newTestCipher(t)

	ciphertext, err := c.Encrypt([]byte("hello"))
	require.NoError(t, err)

	for i := range ciphertext {
		tampered := append([]byte(nil), ciphertext...)
		tampered[i] ^= 0x80

		_, err := c.Decrypt(tampered)
		assert.ErrorIs(t, err, protocol.ErrAuthFailed, "byte %d", i)
	}

	_, err = c.Decrypt(ciphertext[:10])
	assert.ErrorIs(t, err, protocol.ErrAuthFailed)
}

func TestSessionCipherWrongKey(t *testing.T) {
	ciphertext, err := newTestCipher(t).Encrypt([]byte("hello"))
	require.NoError(t, err)

	_, err = newTestCipher(t).Decrypt(ciphertext)
	assert.ErrorIs(t, err, protocol.ErrAuthFailed)
}

func TestNewSessionCipherInvalidKey(t *testing.T) {
	_, err := NewSessionCipher(make([]byte, 16))
	assert.ErrorIs(t, err, ErrInvalidSessionKey)
}
