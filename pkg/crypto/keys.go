package crypto

import (
	stdcrypto "crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"

	"github.com/slicol/meshwork/pkg/protocol"
)

// DefaultKeySize is the RSA modulus size of generated node keys
const DefaultKeySize = 2048

var (
	ErrInvalidKey       = errors.New("invalid key")
	ErrEncryptionFailed = errors.New("encryption failed")
)

// GenerateRSAKeyPair generates a new RSA key pair of the given size
func GenerateRSAKeyPair(bits int) (*rsa.PrivateKey, error) {
	if bits == 0 {
		bits = DefaultKeySize
	}
	return rsa.GenerateKey(rand.Reader, bits)
}

// ExportPrivateKeyPEM exports private key to PEM format
func ExportPrivateKeyPEM(key *rsa.PrivateKey) ([]byte, error) {
	privBlock := &pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	}

	return pem.EncodeToMemory(privBlock), nil
}

// ExportPublicKeyPEM exports public key to PEM format
func ExportPublicKeyPEM(key *rsa.PublicKey) ([]byte, error) {
	pubASN1, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		return nil, err
	}

	pubBlock := &pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: pubASN1,
	}

	return pem.EncodeToMemory(pubBlock), nil
}

// ImportPrivateKeyPEM imports private key from PEM format
func ImportPrivateKeyPEM(pemData []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, ErrInvalidKey
	}

	return x509.ParsePKCS1PrivateKey(block.Bytes)
}

// ImportPublicKeyPEM imports public key from PEM format
func ImportPublicKeyPEM(pemData []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, ErrInvalidKey
	}

	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}

	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, ErrInvalidKey
	}

	return rsaPub, nil
}

// SaveKeyToFile saves a PEM encoded key to file
func SaveKeyToFile(filename string, pemData []byte) error {
	return os.WriteFile(filename, pemData, 0600)
}

// LoadKeyFromFile loads a PEM encoded key from file
func LoadKeyFromFile(filename string) ([]byte, error) {
	return os.ReadFile(filename)
}

// SignData signs the SHA-256 digest of data with RSA private key
func SignData(data []byte, privateKey *rsa.PrivateKey) ([]byte, error) {
	hashed := sha256.Sum256(data)
	return rsa.SignPKCS1v15(rand.Reader, privateKey, stdcrypto.SHA256, hashed[:])
}

// VerifySignature verifies signature with RSA public key
func VerifySignature(data []byte, signature []byte, publicKey *rsa.PublicKey) error {
	hashed := sha256.Sum256(data)
	return rsa.VerifyPKCS1v15(publicKey, stdcrypto.SHA256, hashed[:], signature)
}

// ===== PROTOCOL ADAPTERS =====

// RSASigner signs message content with the local node's private key
type RSASigner struct {
	key *rsa.PrivateKey
}

// NewRSASigner wraps a private key as a protocol.Signer
func NewRSASigner(key *rsa.PrivateKey) *RSASigner {
	return &RSASigner{key: key}
}

func (s *RSASigner) Sign(data []byte) ([]byte, error) {
	return SignData(data, s.key)
}

// Verifier returns the verifier for this signer's own public key
func (s *RSASigner) Verifier() *RSAVerifier {
	return NewRSAVerifier(&s.key.PublicKey)
}

// RSAVerifier checks signatures against one node's public key
type RSAVerifier struct {
	key *rsa.PublicKey
}

// NewRSAVerifier wraps a public key as a protocol.Verifier
func NewRSAVerifier(key *rsa.PublicKey) *RSAVerifier {
	return &RSAVerifier{key: key}
}

func (v *RSAVerifier) Verify(data, signature []byte) error {
	return VerifySignature(data, signature, v.key)
}

// PublicKey returns the wrapped key
func (v *RSAVerifier) PublicKey() *rsa.PublicKey {
	return v.key
}

var (
	_ protocol.Signer   = (*RSASigner)(nil)
	_ protocol.Verifier = (*RSAVerifier)(nil)
)
