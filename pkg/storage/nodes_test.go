package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slicol/meshwork/pkg/protocol"
)

func newTestNodeStore(t *testing.T) *NodeStore {
	t.Helper()
	store, err := NewNodeStore(filepath.Join(t.TempDir(), "nodes.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testNodeID(b byte) protocol.NodeID {
	var id protocol.NodeID
	for i := range id {
		id[i] = b
	}
	return id
}

func TestNodeStoreSaveAndGet(t *testing.T) {
	store := newTestNodeStore(t)

	rec := &NodeRecord{
		ID:           testNodeID(0xAB),
		Nickname:     "alice",
		PublicKeyPEM: []byte("-----BEGIN PUBLIC KEY-----"),
		SessionKey:   []byte{1, 2, 3},
		Trusted:      true,
	}
	require.NoError(t, store.SaveNode(rec))
	assert.NotZero(t, rec.AddedAt)

	got, err := store.GetNode(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, "alice", got.Nickname)
	assert.Equal(t, rec.PublicKeyPEM, got.PublicKeyPEM)
	assert.Equal(t, rec.SessionKey, got.SessionKey)
	assert.True(t, got.Trusted)
	assert.Equal(t, rec.AddedAt, got.AddedAt)
}

func TestNodeStoreUpsertKeepsAddedAt(t *testing.T) {
	store := newTestNodeStore(t)

	rec := &NodeRecord{ID: testNodeID(1), PublicKeyPEM: []byte("pem"), AddedAt: 100}
	require.NoError(t, store.SaveNode(rec))

	update := &NodeRecord{ID: rec.ID, Nickname: "renamed", PublicKeyPEM: []byte("pem2"), AddedAt: 999}
	require.NoError(t, store.SaveNode(update))

	got, err := store.GetNode(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Nickname)
	assert.Equal(t, []byte("pem2"), got.PublicKeyPEM)
	assert.Equal(t, int64(100), got.AddedAt)
}

func TestNodeStoreRequiresPublicKey(t *testing.T) {
	store := newTestNodeStore(t)
	assert.Error(t, store.SaveNode(&NodeRecord{ID: testNodeID(2)}))
}

func TestNodeStoreNotFound(t *testing.T) {
	store := newTestNodeStore(t)

	_, err := store.GetNode(testNodeID(9))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.SetTrusted(testNodeID(9), true), ErrNotFound)
	assert.ErrorIs(t, store.DeleteNode(testNodeID(9)), ErrNotFound)
}

func TestNodeStoreUpdates(t *testing.T) {
	store := newTestNodeStore(t)
	id := testNodeID(3)
	require.NoError(t, store.SaveNode(&NodeRecord{ID: id, PublicKeyPEM: []byte("pem")}))

	require.NoError(t, store.SetTrusted(id, true))
	require.NoError(t, store.SetSessionKey(id, []byte("key")))
	seen := time.Unix(1700000000, 0)
	require.NoError(t, store.TouchNode(id, seen))

	got, err := store.GetNode(id)
	require.NoError(t, err)
	assert.True(t, got.Trusted)
	assert.Equal(t, []byte("key"), got.SessionKey)
	assert.Equal(t, seen.Unix(), got.LastSeen)

	require.NoError(t, store.DeleteNode(id))
	_, err = store.GetNode(id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNodeStoreList(t *testing.T) {
	store := newTestNodeStore(t)

	for i, b := range []byte{5, 4, 6} {
		require.NoError(t, store.SaveNode(&NodeRecord{
			ID:           testNodeID(b),
			PublicKeyPEM: []byte("pem"),
			AddedAt:      int64(10 + i),
		}))
	}

	nodes, err := store.ListNodes()
	require.NoError(t, err)
	require.Len(t, nodes, 3)
	assert.Equal(t, testNodeID(5), nodes[0].ID)
	assert.Equal(t, testNodeID(4), nodes[1].ID)
	assert.Equal(t, testNodeID(6), nodes[2].ID)
}
