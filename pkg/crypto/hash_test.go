package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateNonce(t *testing.T) {
	a, err := GenerateNonce(24)
	require.NoError(t, err)
	b, err := GenerateNonce(24)
	require.NoError(t, err)

	assert.Len(t, a, 24)
	assert.NotEqual(t, a, b)

	empty, err := GenerateNonce(0)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestNodeIDFromPublicKey(t *testing.T) {
	key := testKey(t)

	id1, err := NodeIDFromPublicKey(&key.PublicKey)
	require.NoError(t, err)
	id2, err := NodeIDFromPublicKey(&key.PublicKey)
	require.NoError(t, err)

	assert.Equal(t, id1, id2, "node id must be deterministic")
	assert.False(t, id1.IsBroadcast())
	assert.Len(t, id1.String(), 128)

	other, err := NodeIDFromPublicKey(&testKey(t).PublicKey)
	require.NoError(t, err)
	assert.NotEqual(t, id1, other)
}
