package crypto

import (
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/slicol/meshwork/pkg/protocol"
)

// SessionKeySize is the size of a session key in bytes
const SessionKeySize = chacha20poly1305.KeySize

var ErrInvalidSessionKey = errors.New("invalid session key")

// SessionCipher encrypts message content between two nodes sharing a
// session key, using XChaCha20-Poly1305.
//
// Output format: nonce(24) || ciphertext+tag
type SessionCipher struct {
	aead cipher.AEAD
}

// GenerateSessionKey returns a fresh random session key
func GenerateSessionKey() ([]byte, error) {
	return GenerateNonce(SessionKeySize)
}

// NewSessionCipher creates a cipher for the given 32-byte session key
func NewSessionCipher(key []byte) (*SessionCipher, error) {
	if len(key) != SessionKeySize {
		return nil, fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidSessionKey, SessionKeySize, len(key))
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	return &SessionCipher{aead: aead}, nil
}

// Encrypt seals plaintext under a random nonce
func (c *SessionCipher) Encrypt(plaintext []byte) ([]byte, error) {
	nonceSize := c.aead.NonceSize()
	out := make([]byte, nonceSize, nonceSize+len(plaintext)+c.aead.Overhead())
	if _, err := rand.Read(out); err != nil {
		return nil, ErrEncryptionFailed
	}
	return c.aead.Seal(out, out[:nonceSize], plaintext, nil), nil
}

// Decrypt opens ciphertext produced by Encrypt. Tampered input yields an
// error wrapping protocol.ErrAuthFailed.
func (c *SessionCipher) Decrypt(ciphertext []byte) ([]byte, error) {
	nonceSize := c.aead.NonceSize()
	if len(ciphertext) < nonceSize+c.aead.Overhead() {
		return nil, fmt.Errorf("%w: ciphertext too short", protocol.ErrAuthFailed)
	}

	plaintext, err := c.aead.Open(nil, ciphertext[:nonceSize], ciphertext[nonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", protocol.ErrAuthFailed, err)
	}
	return plaintext, nil
}

var (
	_ protocol.Encryptor = (*SessionCipher)(nil)
	_ protocol.Decryptor = (*SessionCipher)(nil)
)
