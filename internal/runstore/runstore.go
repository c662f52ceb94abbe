// Package runstore implements the Run Store (spec §4.2): the
// Postgres-backed system of record for Documents, IndexingRuns, the
// Run<->Document junction, and per-step results. Schema bootstrap follows
// the teacher's best-effort CREATE IF NOT EXISTS convention for dev
// environments (see internal/persistence/databases/postgres_doc.go) —
// production deployments are expected to manage migrations externally.
package runstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"constructionrag/internal/models"
)

// Store is the Run Store interface; Postgres and Memory both satisfy it so
// every upstream package can be tested without a database.
type Store interface {
	CreateDocument(ctx context.Context, doc models.Document) error
	GetDocument(ctx context.Context, id string) (models.Document, error)
	SweepExpiredDocuments(ctx context.Context, now time.Time) (int, error)

	CreateRun(ctx context.Context, run models.IndexingRun, documentIDs []string) error
	GetRun(ctx context.Context, id string) (models.IndexingRun, error)
	LinkDocuments(ctx context.Context, runID string, documentIDs []string) error
	RunDocumentIDs(ctx context.Context, runID string) ([]string, error)

	UpdateRunStatus(ctx context.Context, runID string, status models.RunStatus, currentStep models.StepName, errMsg string) error

	// PutStepResult is idempotent by (runID, step): a second write for the
	// same pair overwrites rather than duplicates, so a retried or resumed
	// step never produces two results.
	PutStepResult(ctx context.Context, runID string, result models.StepResult) error
	StepResults(ctx context.Context, runID string) (map[models.StepName]models.StepResult, error)

	UpsertChunks(ctx context.Context, runID string, chunks []models.Chunk) error
	ChunksByIDs(ctx context.Context, runID string, ids []string) ([]models.Chunk, error)

	// SaveQueryRun is an upsert by ID: the Query Pipeline (C12) writes once
	// on completion or failure, carrying whatever was gathered so far.
	SaveQueryRun(ctx context.Context, run models.QueryRun) error
	GetQueryRun(ctx context.Context, id string) (models.QueryRun, error)

	// SaveChecklistRun is an upsert by ID: the Checklist Pipeline (C13)
	// writes after every one of its 4 steps, so progress/partial state
	// survives a failure at any step (spec §4.13).
	SaveChecklistRun(ctx context.Context, run models.ChecklistAnalysisRun) error
	GetChecklistRun(ctx context.Context, id string) (models.ChecklistAnalysisRun, error)
}

// Postgres is the primary Store implementation.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres bootstraps the schema and returns a ready Store.
func NewPostgres(ctx context.Context, pool *pgxpool.Pool) (*Postgres, error) {
	ddl := `
CREATE TABLE IF NOT EXISTS documents (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL DEFAULT '',
  filename TEXT NOT NULL,
  language TEXT NOT NULL,
  upload_type TEXT NOT NULL,
  blob_key TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  expires_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS documents_expires_at_idx ON documents (expires_at) WHERE expires_at IS NOT NULL;

CREATE TABLE IF NOT EXISTS indexing_runs (
  id TEXT PRIMARY KEY,
  config_snapshot JSONB NOT NULL DEFAULT '{}'::jsonb,
  status TEXT NOT NULL,
  current_step TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL,
  started_at TIMESTAMPTZ,
  completed_at TIMESTAMPTZ,
  error TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS run_documents (
  run_id TEXT NOT NULL REFERENCES indexing_runs(id) ON DELETE CASCADE,
  document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
  PRIMARY KEY (run_id, document_id)
);

CREATE TABLE IF NOT EXISTS run_step_results (
  run_id TEXT NOT NULL REFERENCES indexing_runs(id) ON DELETE CASCADE,
  step TEXT NOT NULL,
  status TEXT NOT NULL,
  duration_ms BIGINT NOT NULL DEFAULT 0,
  detail JSONB NOT NULL DEFAULT '{}'::jsonb,
  error TEXT NOT NULL DEFAULT '',
  PRIMARY KEY (run_id, step)
);

CREATE TABLE IF NOT EXISTS chunks (
  id TEXT PRIMARY KEY,
  document_id TEXT NOT NULL,
  run_id TEXT NOT NULL,
  text TEXT NOT NULL,
  page INT NOT NULL DEFAULT 0,
  section_path JSONB NOT NULL DEFAULT '[]'::jsonb,
  quality_ok BOOLEAN NOT NULL DEFAULT TRUE,
  created_at TIMESTAMPTZ NOT NULL,
  source_element_ids JSONB NOT NULL DEFAULT '[]'::jsonb,
  section_title TEXT NOT NULL DEFAULT '',
  page_context TEXT NOT NULL DEFAULT '',
  complexity DOUBLE PRECISION NOT NULL DEFAULT 0,
  content_type TEXT NOT NULL DEFAULT '',
  vlm_processed BOOLEAN NOT NULL DEFAULT FALSE,
  embedding_model TEXT NOT NULL DEFAULT '',
  embedding_provider TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS chunks_run_id_idx ON chunks (run_id);

CREATE TABLE IF NOT EXISTS query_runs (
  id TEXT PRIMARY KEY,
  indexing_run_id TEXT NOT NULL,
  query TEXT NOT NULL,
  variations JSONB NOT NULL DEFAULT '[]'::jsonb,
  retrieved_ids JSONB NOT NULL DEFAULT '[]'::jsonb,
  retrieved_scores JSONB NOT NULL DEFAULT '[]'::jsonb,
  top_similarity DOUBLE PRECISION NOT NULL DEFAULT 0,
  avg_similarity DOUBLE PRECISION NOT NULL DEFAULT 0,
  answer TEXT NOT NULL DEFAULT '',
  citations JSONB NOT NULL DEFAULT '[]'::jsonb,
  step_timings JSONB NOT NULL DEFAULT '{}'::jsonb,
  status TEXT NOT NULL,
  error TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS checklist_runs (
  id TEXT PRIMARY KEY,
  indexing_run_id TEXT NOT NULL,
  checklist_name TEXT NOT NULL,
  items JSONB NOT NULL DEFAULT '[]'::jsonb,
  raw_analysis TEXT NOT NULL DEFAULT '',
  results JSONB NOT NULL DEFAULT '[]'::jsonb,
  progress INT NOT NULL DEFAULT 0,
  status TEXT NOT NULL,
  error TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL
);
`
	if _, err := pool.Exec(ctx, ddl); err != nil {
		return nil, fmt.Errorf("bootstrap run store schema: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) CreateDocument(ctx context.Context, doc models.Document) error {
	_, err := p.pool.Exec(ctx, `
INSERT INTO documents(id, user_id, filename, language, upload_type, blob_key, created_at, expires_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (id) DO NOTHING
`, doc.ID, doc.UserID, doc.Filename, doc.Language, doc.UploadType, doc.BlobKey, doc.CreatedAt, doc.ExpiresAt)
	return err
}

func (p *Postgres) GetDocument(ctx context.Context, id string) (models.Document, error) {
	var d models.Document
	err := p.pool.QueryRow(ctx, `
SELECT id, user_id, filename, language, upload_type, blob_key, created_at, expires_at
FROM documents WHERE id=$1
`, id).Scan(&d.ID, &d.UserID, &d.Filename, &d.Language, &d.UploadType, &d.BlobKey, &d.CreatedAt, &d.ExpiresAt)
	return d, err
}

// SweepExpiredDocuments deletes anonymous Documents whose expiry has
// passed (spec §3 invariant v, §9 supplemented feature), returning the
// number removed.
func (p *Postgres) SweepExpiredDocuments(ctx context.Context, now time.Time) (int, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM documents WHERE expires_at IS NOT NULL AND expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (p *Postgres) CreateRun(ctx context.Context, run models.IndexingRun, documentIDs []string) error {
	snap, err := json.Marshal(run.ConfigSnap)
	if err != nil {
		return fmt.Errorf("marshal config snapshot: %w", err)
	}
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if _, err := tx.Exec(ctx, `
INSERT INTO indexing_runs(id, config_snapshot, status, current_step, created_at)
VALUES ($1,$2,$3,$4,$5)
`, run.ID, snap, run.Status, string(run.CurrentStep), run.CreatedAt); err != nil {
		return err
	}
	for _, docID := range documentIDs {
		if _, err := tx.Exec(ctx, `
INSERT INTO run_documents(run_id, document_id) VALUES ($1,$2)
ON CONFLICT DO NOTHING
`, run.ID, docID); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (p *Postgres) GetRun(ctx context.Context, id string) (models.IndexingRun, error) {
	var run models.IndexingRun
	var snap []byte
	var currentStep string
	err := p.pool.QueryRow(ctx, `
SELECT id, config_snapshot, status, current_step, created_at, started_at, completed_at, error
FROM indexing_runs WHERE id=$1
`, id).Scan(&run.ID, &snap, &run.Status, &currentStep, &run.CreatedAt, &run.StartedAt, &run.CompletedAt, &run.Error)
	if err != nil {
		return models.IndexingRun{}, err
	}
	run.CurrentStep = models.StepName(currentStep)
	if len(snap) > 0 {
		if err := json.Unmarshal(snap, &run.ConfigSnap); err != nil {
			return models.IndexingRun{}, fmt.Errorf("unmarshal config snapshot: %w", err)
		}
	}
	results, err := p.StepResults(ctx, id)
	if err != nil {
		return models.IndexingRun{}, err
	}
	run.StepResults = results
	return run, nil
}

func (p *Postgres) LinkDocuments(ctx context.Context, runID string, documentIDs []string) error {
	for _, docID := range documentIDs {
		if _, err := p.pool.Exec(ctx, `
INSERT INTO run_documents(run_id, document_id) VALUES ($1,$2)
ON CONFLICT DO NOTHING
`, runID, docID); err != nil {
			return err
		}
	}
	return nil
}

func (p *Postgres) RunDocumentIDs(ctx context.Context, runID string) ([]string, error) {
	rows, err := p.pool.Query(ctx, `SELECT document_id FROM run_documents WHERE run_id=$1`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (p *Postgres) UpdateRunStatus(ctx context.Context, runID string, status models.RunStatus, currentStep models.StepName, errMsg string) error {
	now := time.Now().UTC()
	var startedAtClause, completedAtClause string
	args := []any{status, string(currentStep), errMsg, runID}
	switch status {
	case models.RunStatusRunning:
		startedAtClause = ", started_at = COALESCE(started_at, $5)"
		args = append(args, now)
	case models.RunStatusCompleted, models.RunStatusFailed, models.RunStatusCancelled, models.RunStatusTimedOut:
		completedAtClause = ", completed_at = $5"
		args = append(args, now)
	}
	query := fmt.Sprintf(`UPDATE indexing_runs SET status=$1, current_step=$2, error=$3%s%s WHERE id=$4`, startedAtClause, completedAtClause)
	_, err := p.pool.Exec(ctx, query, args...)
	return err
}

func (p *Postgres) PutStepResult(ctx context.Context, runID string, result models.StepResult) error {
	detail, err := json.Marshal(result.Detail)
	if err != nil {
		return fmt.Errorf("marshal step detail: %w", err)
	}
	_, err = p.pool.Exec(ctx, `
INSERT INTO run_step_results(run_id, step, status, duration_ms, detail, error)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (run_id, step) DO UPDATE SET
  status = EXCLUDED.status, duration_ms = EXCLUDED.duration_ms,
  detail = EXCLUDED.detail, error = EXCLUDED.error
`, runID, string(result.Step), result.Status, result.DurationMS, detail, result.Error)
	return err
}

func (p *Postgres) StepResults(ctx context.Context, runID string) (map[models.StepName]models.StepResult, error) {
	rows, err := p.pool.Query(ctx, `
SELECT step, status, duration_ms, detail, error FROM run_step_results WHERE run_id=$1
`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[models.StepName]models.StepResult)
	for rows.Next() {
		var step, errMsg string
		var r models.StepResult
		var detail []byte
		if err := rows.Scan(&step, &r.Status, &r.DurationMS, &detail, &errMsg); err != nil {
			return nil, err
		}
		r.Step = models.StepName(step)
		r.Error = errMsg
		if len(detail) > 0 {
			if err := json.Unmarshal(detail, &r.Detail); err != nil {
				return nil, fmt.Errorf("unmarshal step detail: %w", err)
			}
		}
		out[r.Step] = r
	}
	return out, rows.Err()
}

func (p *Postgres) UpsertChunks(ctx context.Context, runID string, chunks []models.Chunk) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	for _, c := range chunks {
		sectionPath, err := json.Marshal(c.SectionPath)
		if err != nil {
			return fmt.Errorf("marshal section path: %w", err)
		}
		sourceElementIDs, err := json.Marshal(c.SourceElementIDs)
		if err != nil {
			return fmt.Errorf("marshal source element ids: %w", err)
		}
		if _, err := tx.Exec(ctx, `
INSERT INTO chunks(id, document_id, run_id, text, page, section_path, quality_ok, created_at,
  source_element_ids, section_title, page_context, complexity, content_type, vlm_processed,
  embedding_model, embedding_provider)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
ON CONFLICT (id) DO UPDATE SET
  text = EXCLUDED.text, page = EXCLUDED.page, section_path = EXCLUDED.section_path,
  quality_ok = EXCLUDED.quality_ok, source_element_ids = EXCLUDED.source_element_ids,
  section_title = EXCLUDED.section_title, page_context = EXCLUDED.page_context,
  complexity = EXCLUDED.complexity, content_type = EXCLUDED.content_type,
  vlm_processed = EXCLUDED.vlm_processed, embedding_model = EXCLUDED.embedding_model,
  embedding_provider = EXCLUDED.embedding_provider
`, c.ID, c.DocumentID, runID, c.Text, c.Page, sectionPath, c.QualityOK, c.CreatedAt,
			sourceElementIDs, c.SectionTitle, c.PageContext, c.Complexity, string(c.ContentType), c.VLMProcessed,
			c.EmbeddingModel, c.EmbeddingProvider); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (p *Postgres) ChunksByIDs(ctx context.Context, runID string, ids []string) ([]models.Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := p.pool.Query(ctx, `
SELECT id, document_id, run_id, text, page, section_path, quality_ok, created_at,
  source_element_ids, section_title, page_context, complexity, content_type, vlm_processed,
  embedding_model, embedding_provider
FROM chunks WHERE run_id=$1 AND id = ANY($2)
`, runID, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Chunk
	for rows.Next() {
		var c models.Chunk
		var sectionPath, sourceElementIDs []byte
		var contentType string
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.RunID, &c.Text, &c.Page, &sectionPath, &c.QualityOK, &c.CreatedAt,
			&sourceElementIDs, &c.SectionTitle, &c.PageContext, &c.Complexity, &contentType, &c.VLMProcessed,
			&c.EmbeddingModel, &c.EmbeddingProvider); err != nil {
			return nil, err
		}
		c.ContentType = models.ChunkContentType(contentType)
		if len(sectionPath) > 0 {
			if err := json.Unmarshal(sectionPath, &c.SectionPath); err != nil {
				return nil, fmt.Errorf("unmarshal section path: %w", err)
			}
		}
		if len(sourceElementIDs) > 0 {
			if err := json.Unmarshal(sourceElementIDs, &c.SourceElementIDs); err != nil {
				return nil, fmt.Errorf("unmarshal source element ids: %w", err)
			}
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (p *Postgres) SaveQueryRun(ctx context.Context, run models.QueryRun) error {
	variations, err := json.Marshal(run.Variations)
	if err != nil {
		return fmt.Errorf("marshal variations: %w", err)
	}
	retrievedIDs, err := json.Marshal(run.RetrievedIDs)
	if err != nil {
		return fmt.Errorf("marshal retrieved ids: %w", err)
	}
	retrievedScores, err := json.Marshal(run.RetrievedScores)
	if err != nil {
		return fmt.Errorf("marshal retrieved scores: %w", err)
	}
	citations, err := json.Marshal(run.Citations)
	if err != nil {
		return fmt.Errorf("marshal citations: %w", err)
	}
	stepTimings, err := json.Marshal(run.StepTimings)
	if err != nil {
		return fmt.Errorf("marshal step timings: %w", err)
	}
	_, err = p.pool.Exec(ctx, `
INSERT INTO query_runs(id, indexing_run_id, query, variations, retrieved_ids, retrieved_scores,
  top_similarity, avg_similarity, answer, citations, step_timings, status, error, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
ON CONFLICT (id) DO UPDATE SET
  variations = EXCLUDED.variations, retrieved_ids = EXCLUDED.retrieved_ids,
  retrieved_scores = EXCLUDED.retrieved_scores, top_similarity = EXCLUDED.top_similarity,
  avg_similarity = EXCLUDED.avg_similarity, answer = EXCLUDED.answer, citations = EXCLUDED.citations,
  step_timings = EXCLUDED.step_timings, status = EXCLUDED.status, error = EXCLUDED.error
`, run.ID, run.IndexingRunID, run.Query, variations, retrievedIDs, retrievedScores,
		run.TopSimilarity, run.AvgSimilarity, run.Answer, citations, stepTimings, run.Status, run.Error, run.CreatedAt)
	return err
}

func (p *Postgres) GetQueryRun(ctx context.Context, id string) (models.QueryRun, error) {
	var run models.QueryRun
	var variations, retrievedIDs, retrievedScores, citations, stepTimings []byte
	err := p.pool.QueryRow(ctx, `
SELECT id, indexing_run_id, query, variations, retrieved_ids, retrieved_scores,
  top_similarity, avg_similarity, answer, citations, step_timings, status, error, created_at
FROM query_runs WHERE id=$1
`, id).Scan(&run.ID, &run.IndexingRunID, &run.Query, &variations, &retrievedIDs, &retrievedScores,
		&run.TopSimilarity, &run.AvgSimilarity, &run.Answer, &citations, &stepTimings, &run.Status, &run.Error, &run.CreatedAt)
	if err != nil {
		return models.QueryRun{}, err
	}
	if err := unmarshalAll(
		jsonField{variations, &run.Variations},
		jsonField{retrievedIDs, &run.RetrievedIDs},
		jsonField{retrievedScores, &run.RetrievedScores},
		jsonField{citations, &run.Citations},
		jsonField{stepTimings, &run.StepTimings},
	); err != nil {
		return models.QueryRun{}, err
	}
	return run, nil
}

func (p *Postgres) SaveChecklistRun(ctx context.Context, run models.ChecklistAnalysisRun) error {
	items, err := json.Marshal(run.Items)
	if err != nil {
		return fmt.Errorf("marshal items: %w", err)
	}
	results, err := json.Marshal(run.Results)
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}
	_, err = p.pool.Exec(ctx, `
INSERT INTO checklist_runs(id, indexing_run_id, checklist_name, items, raw_analysis, results,
  progress, status, error, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (id) DO UPDATE SET
  items = EXCLUDED.items, raw_analysis = EXCLUDED.raw_analysis, results = EXCLUDED.results,
  progress = EXCLUDED.progress, status = EXCLUDED.status, error = EXCLUDED.error
`, run.ID, run.IndexingRunID, run.ChecklistName, items, run.RawAnalysis, results,
		run.Progress, run.Status, run.Error, run.CreatedAt)
	return err
}

func (p *Postgres) GetChecklistRun(ctx context.Context, id string) (models.ChecklistAnalysisRun, error) {
	var run models.ChecklistAnalysisRun
	var items, results []byte
	err := p.pool.QueryRow(ctx, `
SELECT id, indexing_run_id, checklist_name, items, raw_analysis, results, progress, status, error, created_at
FROM checklist_runs WHERE id=$1
`, id).Scan(&run.ID, &run.IndexingRunID, &run.ChecklistName, &items, &run.RawAnalysis, &results,
		&run.Progress, &run.Status, &run.Error, &run.CreatedAt)
	if err != nil {
		return models.ChecklistAnalysisRun{}, err
	}
	if err := unmarshalAll(
		jsonField{items, &run.Items},
		jsonField{results, &run.Results},
	); err != nil {
		return models.ChecklistAnalysisRun{}, err
	}
	return run, nil
}

// jsonField pairs a raw JSONB column with the destination it unmarshals
// into, letting the Get* methods above share one nil-safe unmarshal loop.
type jsonField struct {
	raw  []byte
	dest any
}

func unmarshalAll(fields ...jsonField) error {
	for _, f := range fields {
		if len(f.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(f.raw, f.dest); err != nil {
			return fmt.Errorf("unmarshal jsonb field: %w", err)
		}
	}
	return nil
}
