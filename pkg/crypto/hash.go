package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"

	"golang.org/x/crypto/blake2b"

	"github.com/slicol/meshwork/pkg/protocol"
)

// GenerateNonce generates a random nonce
func GenerateNonce(size int) ([]byte, error) {
	nonce := make([]byte, size)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return nonce, nil
}

// NodeIDFromPublicKey derives a node id as BLAKE2b-512 over the PKIX
// encoding of the public key
func NodeIDFromPublicKey(key *rsa.PublicKey) (protocol.NodeID, error) {
	der, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		return protocol.NodeID{}, err
	}
	return protocol.NodeID(blake2b.Sum512(der)), nil
}
