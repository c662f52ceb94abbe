package runstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"constructionrag/internal/models"
)

func TestMemoryStepResultIsIdempotentByRunAndStep(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	require.NoError(t, store.CreateRun(ctx, models.IndexingRun{ID: "run-1", Status: models.RunStatusRunning}, nil))

	require.NoError(t, store.PutStepResult(ctx, "run-1", models.StepResult{Step: models.StepChunk, Status: models.RunStatusCompleted, DurationMS: 10}))
	require.NoError(t, store.PutStepResult(ctx, "run-1", models.StepResult{Step: models.StepChunk, Status: models.RunStatusCompleted, DurationMS: 20}))

	results, err := store.StepResults(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, int64(20), results[models.StepChunk].DurationMS)
}

func TestMemorySweepExpiredDocuments(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)
	require.NoError(t, store.CreateDocument(ctx, models.Document{ID: "expired", ExpiresAt: &past}))
	require.NoError(t, store.CreateDocument(ctx, models.Document{ID: "fresh", ExpiresAt: &future}))
	require.NoError(t, store.CreateDocument(ctx, models.Document{ID: "permanent"}))

	n, err := store.SweepExpiredDocuments(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = store.GetDocument(ctx, "expired")
	assert.Error(t, err)
	_, err = store.GetDocument(ctx, "fresh")
	assert.NoError(t, err)
}

func TestMemorySaveAndGetQueryRun(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	run := models.QueryRun{ID: "q1", IndexingRunID: "run-1", Query: "slab thickness", Status: models.RunStatusCompleted}
	require.NoError(t, store.SaveQueryRun(ctx, run))

	got, err := store.GetQueryRun(ctx, "q1")
	require.NoError(t, err)
	assert.Equal(t, "slab thickness", got.Query)
}

func TestMemorySaveChecklistRunTracksProgress(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	run := models.ChecklistAnalysisRun{ID: "c1", IndexingRunID: "run-1", Status: models.RunStatusRunning, Progress: 1}
	require.NoError(t, store.SaveChecklistRun(ctx, run))
	run.Progress = 4
	run.Status = models.RunStatusCompleted
	require.NoError(t, store.SaveChecklistRun(ctx, run))

	got, err := store.GetChecklistRun(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 4, got.Progress)
	assert.Equal(t, models.RunStatusCompleted, got.Status)
}
