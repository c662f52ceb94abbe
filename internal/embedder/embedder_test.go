package embedder

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"constructionrag/internal/modelgateway"
	"constructionrag/internal/models"
	"constructionrag/internal/pipelineconfig"
	"constructionrag/internal/runstore"
	"constructionrag/internal/vectorindex"
)

type fakeEmbed struct {
	calls   int
	failAll bool
}

func (f *fakeEmbed) Name() string { return "fake-embed" }

func (f *fakeEmbed) Embed(_ context.Context, _ string, inputs []string) ([][]float32, error) {
	f.calls++
	if f.failAll {
		return nil, fmt.Errorf("embed service down")
	}
	out := make([][]float32, len(inputs))
	for i := range inputs {
		out[i] = []float32{float32(i), 1}
	}
	return out, nil
}

func testConfig(t *testing.T, batchSize, gatePercent int) pipelineconfig.Snapshot {
	t.Helper()
	cfg, err := pipelineconfig.Resolve("en", "pdf", pipelineconfig.Overrides{
		EmbeddingBatchSize:          batchSize,
		EmbeddingQualityGatePercent: gatePercent,
	})
	require.NoError(t, err)
	return cfg
}

func chunksOf(n int) []models.Chunk {
	out := make([]models.Chunk, n)
	for i := range out {
		out[i] = models.Chunk{ID: fmt.Sprintf("c%d", i), Text: fmt.Sprintf("chunk %d", i)}
	}
	return out
}

func TestEmbedCallCountMatchesBatchCeiling(t *testing.T) {
	fe := &fakeEmbed{}
	gw := modelgateway.New(nil, nil, fe, modelgateway.Options{})
	store := runstore.NewMemory()
	e := New(gw, store)
	cfg := testConfig(t, 10, 90)

	result, err := e.Embed(context.Background(), "run1", chunksOf(25), cfg)
	require.NoError(t, err)
	assert.Equal(t, 3, result.CallCount) // ceil(25/10)
	assert.Equal(t, 25, result.EmbeddedChunks)
}

func TestEmbedMarksBatchFailedAfterRetryExhausted(t *testing.T) {
	fe := &fakeEmbed{failAll: true}
	gw := modelgateway.New(nil, nil, fe, modelgateway.Options{MaxRetries: 1})
	store := runstore.NewMemory()
	e := New(gw, store)
	cfg := testConfig(t, 5, 1)

	result, err := e.Embed(context.Background(), "run1", chunksOf(5), cfg)
	require.Error(t, err)
	assert.Equal(t, 5, result.FailedChunks)
	assert.Equal(t, 0, result.EmbeddedChunks)

	stored, serr := store.ChunksByIDs(context.Background(), "run1", []string{"c0"})
	require.NoError(t, serr)
	require.Len(t, stored, 1)
	assert.False(t, stored[0].QualityOK)
}

func TestQualityGateSatisfiedWithPartialFailure(t *testing.T) {
	r := Result{TotalChunks: 10, EmbeddedChunks: 9, FailedChunks: 1}
	assert.True(t, r.QualityGateSatisfied(90))
	assert.False(t, r.QualityGateSatisfied(95))
}

func TestEmbedPersistsModelAndProvider(t *testing.T) {
	fe := &fakeEmbed{}
	gw := modelgateway.New(nil, nil, fe, modelgateway.Options{})
	store := runstore.NewMemory()
	e := New(gw, store)
	cfg := testConfig(t, 10, 90)
	cfg.EmbeddingModel = "text-embedding-3-small"
	cfg.EmbeddingProvider = "openai"

	_, err := e.Embed(context.Background(), "run1", chunksOf(2), cfg)
	require.NoError(t, err)

	stored, err := store.ChunksByIDs(context.Background(), "run1", []string{"c0", "c1"})
	require.NoError(t, err)
	for _, c := range stored {
		assert.Equal(t, "text-embedding-3-small", c.EmbeddingModel)
		assert.Equal(t, "openai", c.EmbeddingProvider)
		assert.NotEmpty(t, c.Embedding)
	}
}

func TestEmbedUpsertsIntoVectorIndexWhenAttached(t *testing.T) {
	fe := &fakeEmbed{}
	gw := modelgateway.New(nil, nil, fe, modelgateway.Options{})
	store := runstore.NewMemory()
	idx := vectorindex.NewMemory()
	e := New(gw, store).WithIndex(idx)
	cfg := testConfig(t, 10, 90)

	_, err := e.Embed(context.Background(), "run1", chunksOf(3), cfg)
	require.NoError(t, err)

	neighbors, err := idx.Search(context.Background(), "run1", []float32{0, 1}, 10)
	require.NoError(t, err)
	assert.Len(t, neighbors, 3)
}
