package runstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"constructionrag/internal/models"
)

// Memory is an in-process Store fake, mirroring the teacher's
// memory-backed store convention (internal/persistence/databases/memory_*).
type Memory struct {
	mu          sync.Mutex
	documents   map[string]models.Document
	runs        map[string]models.IndexingRun
	runDocs     map[string][]string
	stepResults   map[string]map[models.StepName]models.StepResult
	chunks        map[string]map[string]models.Chunk // runID -> chunkID -> chunk
	queryRuns     map[string]models.QueryRun
	checklistRuns map[string]models.ChecklistAnalysisRun
}

func NewMemory() *Memory {
	return &Memory{
		documents:     make(map[string]models.Document),
		runs:          make(map[string]models.IndexingRun),
		runDocs:       make(map[string][]string),
		stepResults:   make(map[string]map[models.StepName]models.StepResult),
		chunks:        make(map[string]map[string]models.Chunk),
		queryRuns:     make(map[string]models.QueryRun),
		checklistRuns: make(map[string]models.ChecklistAnalysisRun),
	}
}

func (m *Memory) CreateDocument(_ context.Context, doc models.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.documents[doc.ID] = doc
	return nil
}

func (m *Memory) GetDocument(_ context.Context, id string) (models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.documents[id]
	if !ok {
		return models.Document{}, fmt.Errorf("document %s not found", id)
	}
	return d, nil
}

func (m *Memory) SweepExpiredDocuments(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, d := range m.documents {
		if d.ExpiresAt != nil && d.ExpiresAt.Before(now) {
			delete(m.documents, id)
			n++
		}
	}
	return n, nil
}

func (m *Memory) CreateRun(_ context.Context, run models.IndexingRun, documentIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.ID] = run
	m.runDocs[run.ID] = append(m.runDocs[run.ID], documentIDs...)
	return nil
}

func (m *Memory) GetRun(_ context.Context, id string) (models.IndexingRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return models.IndexingRun{}, fmt.Errorf("run %s not found", id)
	}
	run.StepResults = cloneStepResults(m.stepResults[id])
	return run, nil
}

func (m *Memory) LinkDocuments(_ context.Context, runID string, documentIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runDocs[runID] = append(m.runDocs[runID], documentIDs...)
	return nil
}

func (m *Memory) RunDocumentIDs(_ context.Context, runID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.runDocs[runID]))
	copy(out, m.runDocs[runID])
	return out, nil
}

func (m *Memory) UpdateRunStatus(_ context.Context, runID string, status models.RunStatus, currentStep models.StepName, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok {
		return fmt.Errorf("run %s not found", runID)
	}
	run.Status = status
	run.CurrentStep = currentStep
	run.Error = errMsg
	now := time.Now().UTC()
	switch status {
	case models.RunStatusRunning:
		if run.StartedAt == nil {
			run.StartedAt = &now
		}
	case models.RunStatusCompleted, models.RunStatusFailed, models.RunStatusCancelled, models.RunStatusTimedOut:
		run.CompletedAt = &now
	}
	m.runs[runID] = run
	return nil
}

func (m *Memory) PutStepResult(_ context.Context, runID string, result models.StepResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stepResults[runID] == nil {
		m.stepResults[runID] = make(map[models.StepName]models.StepResult)
	}
	m.stepResults[runID][result.Step] = result
	return nil
}

func (m *Memory) StepResults(_ context.Context, runID string) (map[models.StepName]models.StepResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneStepResults(m.stepResults[runID]), nil
}

func (m *Memory) UpsertChunks(_ context.Context, runID string, chunks []models.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.chunks[runID] == nil {
		m.chunks[runID] = make(map[string]models.Chunk)
	}
	for _, c := range chunks {
		m.chunks[runID][c.ID] = c
	}
	return nil
}

func (m *Memory) ChunksByIDs(_ context.Context, runID string, ids []string) ([]models.Chunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Chunk, 0, len(ids))
	for _, id := range ids {
		if c, ok := m.chunks[runID][id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *Memory) SaveQueryRun(_ context.Context, run models.QueryRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queryRuns[run.ID] = run
	return nil
}

func (m *Memory) GetQueryRun(_ context.Context, id string) (models.QueryRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.queryRuns[id]
	if !ok {
		return models.QueryRun{}, fmt.Errorf("query run %s not found", id)
	}
	return r, nil
}

func (m *Memory) SaveChecklistRun(_ context.Context, run models.ChecklistAnalysisRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checklistRuns[run.ID] = run
	return nil
}

func (m *Memory) GetChecklistRun(_ context.Context, id string) (models.ChecklistAnalysisRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.checklistRuns[id]
	if !ok {
		return models.ChecklistAnalysisRun{}, fmt.Errorf("checklist run %s not found", id)
	}
	return r, nil
}

func cloneStepResults(in map[models.StepName]models.StepResult) map[models.StepName]models.StepResult {
	out := make(map[models.StepName]models.StepResult, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
