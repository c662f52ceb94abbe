package indexing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"constructionrag/internal/embedder"
	"constructionrag/internal/modelgateway"
	"constructionrag/internal/models"
	"constructionrag/internal/pipelineconfig"
	"constructionrag/internal/runstore"
)

type fakeEmbed struct{}

func (fakeEmbed) Name() string { return "fake" }
func (fakeEmbed) Embed(_ context.Context, _ string, inputs []string) ([][]float32, error) {
	out := make([][]float32, len(inputs))
	for i := range inputs {
		out[i] = []float32{1, 2, 3}
	}
	return out, nil
}

func TestRunCompletesWithNoDocuments(t *testing.T) {
	store := runstore.NewMemory()
	gw := modelgateway.New(nil, nil, fakeEmbed{}, modelgateway.Options{})
	emb := embedder.New(gw, store)
	o := New(nil, nil, emb, store, nil)

	cfg, err := pipelineconfig.Resolve("en", "pdf", pipelineconfig.Overrides{})
	require.NoError(t, err)
	cfg.VLMEnabled = false

	run := models.IndexingRun{ID: "run1", Status: models.RunStatusPending}
	require.NoError(t, store.CreateRun(context.Background(), run, nil))

	err = o.Run(context.Background(), run, nil, cfg)
	require.NoError(t, err)

	got, err := store.GetRun(context.Background(), "run1")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, got.Status)

	steps, err := store.StepResults(context.Background(), "run1")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, steps[models.StepPartition].Status)
	assert.Equal(t, models.RunStatusCompleted, steps[models.StepEmbed].Status)
}

// TestRunReusesCompletedStepOutputOnResume seeds a completed StepChunk
// result whose output the real pipeline would never produce (no documents
// are supplied), then asserts that output reaches the embedder untouched —
// proving Run decoded it from the prior StepResult instead of calling
// chunker.Chunk on an empty element set.
func TestRunReusesCompletedStepOutputOnResume(t *testing.T) {
	store := runstore.NewMemory()
	gw := modelgateway.New(nil, nil, fakeEmbed{}, modelgateway.Options{})
	emb := embedder.New(gw, store)
	o := New(nil, nil, emb, store, nil)

	cfg, err := pipelineconfig.Resolve("en", "pdf", pipelineconfig.Overrides{})
	require.NoError(t, err)
	cfg.VLMEnabled = false

	run := models.IndexingRun{ID: "run3", Status: models.RunStatusPending}
	require.NoError(t, store.CreateRun(context.Background(), run, nil))

	for _, step := range []models.StepName{models.StepPartition, models.StepEnrich, models.StepVLMEnrich} {
		require.NoError(t, store.PutStepResult(context.Background(), "run3", models.StepResult{Step: step, Status: models.RunStatusCompleted}))
	}
	seeded := []models.Chunk{{ID: "seeded-chunk", RunID: "run3", Text: "resumed chunk"}}
	require.NoError(t, store.PutStepResult(context.Background(), "run3", models.StepResult{
		Step:   models.StepChunk,
		Status: models.RunStatusCompleted,
		Detail: map[string]any{"output": seeded},
	}))

	require.NoError(t, o.Run(context.Background(), run, nil, cfg))

	got, err := store.ChunksByIDs(context.Background(), "run3", []string{"seeded-chunk"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "resumed chunk", got[0].Text)
}

type failingStore struct {
	runstore.Store
}

func (failingStore) UpdateRunStatus(_ context.Context, _ string, _ models.RunStatus, _ models.StepName, _ string) error {
	return assert.AnError
}

func TestRunFailsWhenStoreRejectsStatusUpdate(t *testing.T) {
	store := failingStore{runstore.NewMemory()}
	gw := modelgateway.New(nil, nil, fakeEmbed{}, modelgateway.Options{})
	emb := embedder.New(gw, store)
	o := New(nil, nil, emb, store, nil)

	cfg, err := pipelineconfig.Resolve("en", "pdf", pipelineconfig.Overrides{})
	require.NoError(t, err)
	cfg.VLMEnabled = false

	run := models.IndexingRun{ID: "run2", Status: models.RunStatusPending}

	err = o.Run(context.Background(), run, nil, cfg)
	assert.Error(t, err)
}
