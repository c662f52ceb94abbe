package vectorindex

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySearchAscendingDistance(t *testing.T) {
	ctx := context.Background()
	idx := NewMemory()
	require.NoError(t, idx.Upsert(ctx, "run-1", "a", []float32{1, 0, 0}))
	require.NoError(t, idx.Upsert(ctx, "run-1", "b", []float32{0, 1, 0}))
	require.NoError(t, idx.Upsert(ctx, "run-1", "c", []float32{0.9, 0.1, 0}))

	neighbors, err := idx.Search(ctx, "run-1", []float32{1, 0, 0}, 3)
	require.NoError(t, err)
	require.Len(t, neighbors, 3)
	assert.Equal(t, "a", neighbors[0].ChunkID)
	for i := 1; i < len(neighbors); i++ {
		assert.GreaterOrEqual(t, neighbors[i].Distance, neighbors[i-1].Distance)
	}
}

func TestMemorySearchScopedByRun(t *testing.T) {
	ctx := context.Background()
	idx := NewMemory()
	require.NoError(t, idx.Upsert(ctx, "run-1", "a", []float32{1, 0, 0}))
	require.NoError(t, idx.Upsert(ctx, "run-2", "b", []float32{1, 0, 0}))

	neighbors, err := idx.Search(ctx, "run-1", []float32{1, 0, 0}, 10)
	require.NoError(t, err)
	require.Len(t, neighbors, 1)
	assert.Equal(t, "a", neighbors[0].ChunkID)
}

func TestSearchCapsK(t *testing.T) {
	assert.Equal(t, MaxK, clampK(10000))
	assert.Equal(t, 10, clampK(0))
	assert.Equal(t, 50, clampK(50))
}
