package cluster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClusterSecretEqual(t *testing.T) {
	a, err := GenerateClusterSecret()
	require.NoError(t, err)
	b, err := GenerateClusterSecret()
	require.NoError(t, err)

	assert.True(t, a.Equal(a))
	assert.False(t, a.Equal(b))
	assert.False(t, a.Equal(""))
}

func TestGenerateClusterSecretIsUnpredictable(t *testing.T) {
	seen := make(map[ClusterSecret]bool)
	for i := 0; i < 16; i++ {
		s, err := GenerateClusterSecret()
		require.NoError(t, err)
		require.False(t, seen[s], "generated a repeated secret")
		seen[s] = true
	}
}
