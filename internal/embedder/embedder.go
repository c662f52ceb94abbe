// Package embedder implements the Embedder (spec §4.10): it groups pending
// chunks into batches, calls the Model Gateway's Embed surface once per
// batch, and persists (vector, model, provider, created_at) to the Run
// Store alongside each chunk's metadata.
//
// Grounded on internal/rag/embedder/embedder.go's batching/rate-limited-call
// shape (teacher), generalized to the batch-size/retry-once/quality-gate
// contract of spec §4.10.
package embedder

import (
	"context"
	"time"

	"constructionrag/internal/modelgateway"
	"constructionrag/internal/models"
	"constructionrag/internal/pipelineconfig"
	"constructionrag/internal/pipelineerrors"
	"constructionrag/internal/runstore"
	"constructionrag/internal/vectorindex"
)

// Result summarizes one Run's embedding pass for the orchestrator's step
// result and quality gate decision.
type Result struct {
	TotalChunks    int
	EmbeddedChunks int
	FailedChunks   int
	CallCount      int
}

// QualityGateSatisfied reports whether enough chunks succeeded to let the
// Run complete despite some embedding_failed chunks (spec §4.10).
func (r Result) QualityGateSatisfied(gatePercent int) bool {
	if r.TotalChunks == 0 {
		return true
	}
	pct := float64(r.EmbeddedChunks) / float64(r.TotalChunks) * 100
	return pct >= float64(gatePercent)
}

// Embedder drives batch embedding for one Run's pending chunks.
type Embedder struct {
	Gateway *modelgateway.Gateway
	Store   runstore.Store
	Index   vectorindex.Index // C5; nil means vectors are kept in C2 only
}

func New(gw *modelgateway.Gateway, store runstore.Store) *Embedder {
	return &Embedder{Gateway: gw, Store: store}
}

// WithIndex attaches the Vector Index each embedded chunk's vector is
// upserted to, in addition to the Run Store copy kept on models.Chunk.
func (e *Embedder) WithIndex(idx vectorindex.Index) *Embedder {
	e.Index = idx
	return e
}

// Embed groups chunks into batches of cfg.EmbeddingBatchSize, calls
// Gateway.Embed once per batch, and upserts the resulting vectors. A batch
// failure is retried once in full; on a second failure every chunk in that
// batch is marked embedding_failed (kept, but without a vector) rather than
// aborting the whole Run — performance contract: for N chunks, exactly
// ceil(N/batch_size) Gateway.Embed calls when no batch fails, plus one
// retry call for each batch whose first call fails.
func (e *Embedder) Embed(ctx context.Context, runID string, chunks []models.Chunk, cfg pipelineconfig.Snapshot) (Result, error) {
	batchSize := cfg.EmbeddingBatchSize
	if batchSize <= 0 {
		batchSize = 64
	}

	result := Result{TotalChunks: len(chunks)}
	now := time.Now().UTC()

	for start := 0; start < len(chunks); start += batchSize {
		end := start + batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]
		result.CallCount++

		embedded, err := e.embedBatchWithRetry(ctx, batch, cfg)
		if err != nil {
			// Second failure: mark every chunk in this batch failed but
			// keep them (metadata only, no vector).
			for i := range batch {
				batch[i].QualityOK = false
			}
			result.FailedChunks += len(batch)
			if err := e.Store.UpsertChunks(ctx, runID, batch); err != nil {
				return result, pipelineerrors.Transient("embedder.upsert_failed_chunks", err)
			}
			continue
		}

		for i := range batch {
			batch[i].Embedding = embedded[i]
			batch[i].EmbeddingModel = cfg.EmbeddingModel
			batch[i].EmbeddingProvider = cfg.EmbeddingProvider
			batch[i].QualityOK = true
			batch[i].CreatedAt = now
		}
		result.EmbeddedChunks += len(batch)
		if err := e.Store.UpsertChunks(ctx, runID, batch); err != nil {
			return result, pipelineerrors.Transient("embedder.upsert", err)
		}
		if e.Index != nil {
			for _, c := range batch {
				if err := e.Index.Upsert(ctx, runID, c.ID, c.Embedding); err != nil {
					return result, pipelineerrors.Transient("embedder.vector_index_upsert", err)
				}
			}
		}
	}

	if !result.QualityGateSatisfied(cfg.EmbeddingQualityGatePercent) {
		return result, pipelineerrors.QualityGate("embedder.embed",
			qualityGateError(result, cfg.EmbeddingQualityGatePercent))
	}
	return result, nil
}

// embedBatchWithRetry calls Gateway.Embed once, and on failure retries the
// whole batch exactly once more (spec §4.10 "A batch failure retries the
// whole batch once"). modelgateway.Gateway already retries transient errors
// internally; this retry is the batch-level retry spec §4.10 asks for on
// top of that, covering e.g. a permanent error from one bad input that a
// second attempt (after trimming nothing) still can't help — in which case
// the caller marks the whole batch failed.
func (e *Embedder) embedBatchWithRetry(ctx context.Context, batch []models.Chunk, cfg pipelineconfig.Snapshot) ([][]float32, error) {
	texts := make([]string, len(batch))
	for i, c := range batch {
		texts[i] = c.Text
	}
	vectors, err := e.Gateway.Embed(ctx, cfg.EmbeddingModel, texts)
	if err == nil {
		return vectors, nil
	}
	vectors, err2 := e.Gateway.Embed(ctx, cfg.EmbeddingModel, texts)
	if err2 == nil {
		return vectors, nil
	}
	return nil, err2
}

type qualityGateErr struct {
	gotPercent  float64
	wantPercent int
}

func (e qualityGateErr) Error() string {
	return "embedding quality gate not satisfied"
}

func qualityGateError(r Result, gatePercent int) error {
	pct := 0.0
	if r.TotalChunks > 0 {
		pct = float64(r.EmbeddedChunks) / float64(r.TotalChunks) * 100
	}
	return qualityGateErr{gotPercent: pct, wantPercent: gatePercent}
}
