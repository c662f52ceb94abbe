package pipelineconfig

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveDefaults(t *testing.T) {
	s, err := Resolve("en", "pdf", Overrides{})
	require.NoError(t, err)
	assert.Equal(t, ChunkingAdaptive, s.ChunkingStrategy)
	assert.Equal(t, 90, s.EmbeddingQualityGatePercent)
	assert.Equal(t, 40, s.VectorSearchK)
}

func TestResolveCapsVectorSearchK(t *testing.T) {
	s, err := Resolve("en", "pdf", Overrides{VectorSearchK: 10000, RetrievalTopK: 5})
	require.NoError(t, err)
	assert.Equal(t, 200, s.VectorSearchK)
}

func TestResolveRejectsBadQualityGate(t *testing.T) {
	_, err := Resolve("en", "pdf", Overrides{EmbeddingQualityGatePercent: 150})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quality gate")
}

func TestResolveRejectsOverlapNotSmallerThanTarget(t *testing.T) {
	_, err := Resolve("en", "pdf", Overrides{ChunkTargetTokens: 100, ChunkOverlapTokens: 100})
	require.Error(t, err)
}

func TestResolveRequiresLanguageAndUploadType(t *testing.T) {
	_, err := Resolve("", "pdf", Overrides{})
	require.Error(t, err)
	_, err = Resolve("en", "", Overrides{})
	require.Error(t, err)
}

func TestResolveNeverReadsEnvironment(t *testing.T) {
	t.Setenv("CHUNK_TARGET_TOKENS", "999999")
	s, err := Resolve("en", "pdf", Overrides{})
	require.NoError(t, err)
	assert.NotEqual(t, 999999, s.ChunkTargetTokens)
}
