// Package indexing implements the Indexing Orchestrator (spec §4.11): it
// drives the Partitioner → Metadata Enricher → VLM Enricher → Chunker →
// Embedder pipeline in order for every Document in a Run, persisting a
// step result after each stage so a restart resumes from the last
// completed step rather than redoing the whole Run.
//
// Grounded on internal/rag/service/service.go's staged-pipeline-with-metrics
// shape (teacher) for the step sequencing/logging, and
// internal/orchestrator/handler.go's Producer/event-emission style for
// completion/error signaling, generalized here to an indexing Run instead
// of a command-bus workflow.
package indexing

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"constructionrag/internal/blobstore"
	"constructionrag/internal/chunker"
	"constructionrag/internal/embedder"
	"constructionrag/internal/enrich"
	"constructionrag/internal/modelgateway"
	"constructionrag/internal/models"
	"constructionrag/internal/observability"
	"constructionrag/internal/partition"
	"constructionrag/internal/pipelineconfig"
	"constructionrag/internal/pipelineerrors"
	"constructionrag/internal/runstore"
	"constructionrag/internal/vlmenrich"
)

// Producer abstracts the Kafka writer the orchestrator uses to publish
// Run completion/error signals, mirroring orchestrator.Producer (teacher).
type Producer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// NoopProducer discards every signal; used when no broker is configured.
type NoopProducer struct{}

func (NoopProducer) WriteMessages(context.Context, ...kafka.Message) error { return nil }

// RunSignal is the payload published to Producer on Run completion/failure.
type RunSignal struct {
	RunID     string `json:"run_id"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"timestamp"`
}

// Orchestrator sequences C6 through C10 for one Run.
type Orchestrator struct {
	Partitioner   *partition.Partitioner
	VLM           *vlmenrich.Enricher
	Embedder      *embedder.Embedder
	Store         runstore.Store
	Blobs         *blobstore.Gateway
	Producer      Producer
	SignalTopic   string
	MaxConcurrent int // bounded worker pool for per-document partitioning, spec §5
}

// New builds an Orchestrator with a NoopProducer and concurrency of 4.
func New(p *partition.Partitioner, v *vlmenrich.Enricher, e *embedder.Embedder, store runstore.Store, blobs *blobstore.Gateway) *Orchestrator {
	return &Orchestrator{
		Partitioner:   p,
		VLM:           v,
		Embedder:      e,
		Store:         store,
		Blobs:         blobs,
		Producer:      NoopProducer{},
		SignalTopic:   "indexing.run.signals",
		MaxConcurrent: 4,
	}
}

// DocumentInput pairs a Document with its local working path for the
// Partitioner. In this architecture the Partitioner reads directly from a
// path materialized from the Blob Store before the Run starts; the
// orchestrator is handed these inputs rather than re-downloading per document.
type DocumentInput struct {
	DocumentID string
	PDFPath    string
}

// Run drives the full pipeline state machine (spec §4.11):
//
//	pending -> running -> partition -> metadata -> enrichment -> chunking -> embedding -> completed
//
// Any unrecovered error terminates the Run as failed with the error
// message, and a completion/error signal is always published on Producer
// regardless of outcome.
func (o *Orchestrator) Run(ctx context.Context, run models.IndexingRun, docs []DocumentInput, cfg pipelineconfig.Snapshot) error {
	log := observability.LoggerWithTrace(ctx)

	runCtx := ctx
	var cancel context.CancelFunc
	if cfg.RunTimeoutSeconds > 0 {
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(cfg.RunTimeoutSeconds)*time.Second)
		defer cancel()
	}

	if err := o.Store.UpdateRunStatus(runCtx, run.ID, models.RunStatusRunning, models.StepPartition, ""); err != nil {
		return o.fail(runCtx, log, run.ID, pipelineerrors.Transient("indexing.update_status", err))
	}

	prior, err := o.Store.StepResults(runCtx, run.ID)
	if err != nil {
		return o.fail(runCtx, log, run.ID, pipelineerrors.Transient("indexing.step_results", err))
	}

	allElements, err := runStep(runCtx, o.Store, prior, run.ID, models.StepPartition, func() ([]models.Element, error) {
		return o.partitionAll(runCtx, docs, cfg)
	})
	if err != nil {
		return o.fail(runCtx, log, run.ID, err)
	}

	allElements, err = runStep(runCtx, o.Store, prior, run.ID, models.StepEnrich, func() ([]models.Element, error) {
		return enrich.Enrich(allElements), nil
	})
	if err != nil {
		return o.fail(runCtx, log, run.ID, err)
	}

	if cfg.VLMEnabled && o.VLM != nil {
		allElements, err = runStep(runCtx, o.Store, prior, run.ID, models.StepVLMEnrich, func() ([]models.Element, error) {
			return o.VLM.Enrich(runCtx, allElements, cfg.Language)
		})
		if err != nil {
			return o.fail(runCtx, log, run.ID, err)
		}
	} else if _, ok := prior[models.StepVLMEnrich]; !ok {
		if err := o.Store.PutStepResult(runCtx, run.ID, models.StepResult{Step: models.StepVLMEnrich, Status: models.RunStatusCompleted}); err != nil {
			return o.fail(runCtx, log, run.ID, err)
		}
	}

	chunks, err := runStep(runCtx, o.Store, prior, run.ID, models.StepChunk, func() ([]models.Chunk, error) {
		return chunker.Chunk(allElements, cfg), nil
	})
	if err != nil {
		return o.fail(runCtx, log, run.ID, err)
	}
	for i := range chunks {
		chunks[i].RunID = run.ID
	}

	embedResult, err := runStep(runCtx, o.Store, prior, run.ID, models.StepEmbed, func() (embedder.Result, error) {
		return o.Embedder.Embed(runCtx, run.ID, chunks, cfg)
	})
	if err != nil {
		return o.fail(runCtx, log, run.ID, err)
	}
	log.Info().Int("embedded", embedResult.EmbeddedChunks).Int("failed", embedResult.FailedChunks).Msg("indexing_embed_complete")

	if err := o.Store.UpdateRunStatus(runCtx, run.ID, models.RunStatusCompleted, "", ""); err != nil {
		return o.fail(runCtx, log, run.ID, pipelineerrors.Transient("indexing.update_status", err))
	}
	o.signal(ctx, run.ID, models.RunStatusCompleted, "")
	return nil
}

// runStep executes one pipeline stage, times it, and persists both the
// StepResult and the stage's output. The output is what makes the step
// boundary an actual retry anchor (spec §4.11, §8): if prior already holds a
// completed result for this step, its output is decoded into T and fn is
// never called, so a resumed Run reuses the work instead of redoing it.
func runStep[T any](ctx context.Context, store runstore.Store, prior map[models.StepName]models.StepResult, runID string, step models.StepName, fn func() (T, error)) (T, error) {
	var zero T
	if existing, ok := prior[step]; ok && existing.Status == models.RunStatusCompleted {
		if raw, ok := existing.Detail["output"]; ok {
			encoded, err := json.Marshal(raw)
			if err == nil {
				var out T
				if err := json.Unmarshal(encoded, &out); err == nil {
					return out, nil
				}
			}
		}
	}

	start := time.Now()
	if err := store.UpdateRunStatus(ctx, runID, models.RunStatusRunning, step, ""); err != nil {
		return zero, pipelineerrors.Transient("indexing.update_status", err)
	}

	result, err := fn()
	durationMS := time.Since(start).Milliseconds()

	status := models.RunStatusCompleted
	errMsg := ""
	detail := map[string]any{}
	if err != nil {
		status = models.RunStatusFailed
		errMsg = err.Error()
	} else {
		detail["output"] = result
	}
	stepResult := models.StepResult{
		Step:       step,
		Status:     status,
		DurationMS: durationMS,
		Detail:     detail,
		Error:      errMsg,
	}
	if perr := store.PutStepResult(ctx, runID, stepResult); perr != nil {
		if err == nil {
			return zero, pipelineerrors.Transient("indexing.put_step_result", perr)
		}
	}
	if err != nil {
		return zero, err
	}
	return result, nil
}

// partitionAll runs C6 over every document in the Run, bounded to
// MaxConcurrent in-flight Partition calls (spec §5's worker-pool
// requirement for CPU-bound partitioning work).
func (o *Orchestrator) partitionAll(ctx context.Context, docs []DocumentInput, cfg pipelineconfig.Snapshot) ([]models.Element, error) {
	concurrency := int64(o.MaxConcurrent)
	if concurrency <= 0 {
		concurrency = 4
	}
	sem := semaphore.NewWeighted(concurrency)
	g, gctx := errgroup.WithContext(ctx)

	results := make([][]models.Element, len(docs))
	for i, d := range docs {
		i, d := i, d
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			res, err := o.Partitioner.Partition(gctx, d.DocumentID, "", d.PDFPath, cfg)
			if err != nil {
				return fmt.Errorf("partition document %s: %w", d.DocumentID, err)
			}
			results[i] = res.Elements()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, pipelineerrors.Partition("indexing.partition_all", err)
	}

	var all []models.Element
	for _, r := range results {
		all = append(all, r...)
	}
	return all, nil
}

func (o *Orchestrator) fail(ctx context.Context, log *zerolog.Logger, runID string, err error) error {
	_ = o.Store.UpdateRunStatus(ctx, runID, models.RunStatusFailed, "", err.Error())
	log.Error().Err(err).Str("run_id", runID).Msg("indexing_run_failed")
	o.signal(ctx, runID, models.RunStatusFailed, err.Error())
	return err
}

// signal publishes a best-effort completion/error notification; publish
// failures are logged, not propagated, since the Run's own status in C2 is
// the source of truth (spec §4.11 "a separate error-notification hook ...
// may be invoked").
func (o *Orchestrator) signal(ctx context.Context, runID string, status models.RunStatus, errMsg string) {
	payload, err := json.Marshal(RunSignal{
		RunID:     runID,
		Status:    string(status),
		Error:     errMsg,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return
	}
	if werr := o.Producer.WriteMessages(ctx, kafka.Message{Topic: o.SignalTopic, Key: []byte(runID), Value: payload}); werr != nil {
		observability.LoggerWithTrace(ctx).Warn().Err(werr).Msg("indexing_signal_publish_failed")
	}
}
