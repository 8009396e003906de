package network

import (
	"crypto/rsa"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/slicol/meshwork/pkg/crypto"
)

var (
	keysOnce sync.Once
	testKeys [3]*rsa.PrivateKey
	keysErr  error
)

// loadTestKeys returns three node keys shared by all tests in the package
func loadTestKeys(t *testing.T) [3]*rsa.PrivateKey {
	t.Helper()
	keysOnce.Do(func() {
		for i := range testKeys {
			testKeys[i], keysErr = crypto.GenerateRSAKeyPair(crypto.DefaultKeySize)
			if keysErr != nil {
				return
			}
		}
	})
	require.NoError(t, keysErr)
	return testKeys
}

// pairNetworks returns networks for two nodes that know and trust each
// other and share one session key
func pairNetworks(t *testing.T, keyA, keyB *rsa.PrivateKey) (*Network, *Network) {
	t.Helper()

	netA, err := NewNetwork("", keyA)
	require.NoError(t, err)
	netB, err := NewNetwork("", keyB)
	require.NoError(t, err)

	session, err := crypto.GenerateSessionKey()
	require.NoError(t, err)

	link(t, netA, netB, session)
	link(t, netB, netA, session)
	return netA, netB
}

// link makes from know and trust to with the given session key
func link(t *testing.T, from, to *Network, session []byte) {
	t.Helper()
	id, err := from.AddNode(&to.PrivateKey().PublicKey, "")
	require.NoError(t, err)
	require.Equal(t, to.LocalNodeID(), id)
	require.NoError(t, from.SetSessionKey(id, session))
	require.NoError(t, from.SetTrusted(id, true))
}
