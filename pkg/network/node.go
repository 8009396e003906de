package network

import (
	"crypto/rsa"
	"crypto/x509"
	"fmt"
	"time"

	lpcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/slicol/meshwork/pkg/crypto"
	"github.com/slicol/meshwork/pkg/protocol"
)

// Node is a remote node known to the local node
type Node struct {
	ID        protocol.NodeID
	PeerID    peer.ID // libp2p identity derived from PublicKey
	Nickname  string
	PublicKey *rsa.PublicKey
	Trusted   bool
	LastSeen  time.Time

	sessionKey []byte
	session    *crypto.SessionCipher
	verifier   *crypto.RSAVerifier
}

// HasSession reports whether a session key is installed for the node
func (n *Node) HasSession() bool {
	return n.session != nil
}

func newNode(pub *rsa.PublicKey, nickname string) (*Node, error) {
	id, err := crypto.NodeIDFromPublicKey(pub)
	if err != nil {
		return nil, err
	}

	pid, err := PeerIDFromPublicKey(pub)
	if err != nil {
		return nil, err
	}

	return &Node{
		ID:        id,
		PeerID:    pid,
		Nickname:  nickname,
		PublicKey: pub,
		verifier:  crypto.NewRSAVerifier(pub),
	}, nil
}

// PeerIDFromPublicKey derives the libp2p peer id a node listens under. The
// transport uses the node's RSA key as its libp2p identity, so the peer id
// follows from the key alone.
func PeerIDFromPublicKey(pub *rsa.PublicKey) (peer.ID, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("failed to marshal public key: %w", err)
	}

	lpPub, err := lpcrypto.UnmarshalRsaPublicKey(der)
	if err != nil {
		return "", fmt.Errorf("failed to convert public key: %w", err)
	}

	return peer.IDFromPublicKey(lpPub)
}
