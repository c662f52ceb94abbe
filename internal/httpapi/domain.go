// Domain handlers for the inbound surface spec §6 names: start_indexing,
// get_indexing_progress, submit_query/get_query_run,
// submit_checklist/get_analysis, and the error_webhook. Adapted from the
// teacher's playground handlers' respondJSON/respondError idiom, generalized
// to the indexing/query/checklist pipelines instead of prompt-experiment CRUD.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"constructionrag/internal/checklist"
	"constructionrag/internal/indexing"
	"constructionrag/internal/models"
	"constructionrag/internal/pipelineconfig"
	"constructionrag/internal/query"
	"constructionrag/internal/runstore"
)

// DomainServer exposes the construction-RAG inbound surface (spec §6) on
// top of the Indexing Orchestrator, Query Pipeline, and Checklist Pipeline.
type DomainServer struct {
	Orchestrator       *indexing.Orchestrator
	QueryPipeline      *query.Pipeline
	Checklist          *checklist.Pipeline
	Store              runstore.Store
	ErrorWebhookSecret string

	mux *http.ServeMux
}

// NewDomainServer wires the construction-RAG routes.
func NewDomainServer(o *indexing.Orchestrator, q *query.Pipeline, c *checklist.Pipeline, store runstore.Store, webhookSecret string) *DomainServer {
	s := &DomainServer{Orchestrator: o, QueryPipeline: q, Checklist: c, Store: store, ErrorWebhookSecret: webhookSecret, mux: http.NewServeMux()}
	s.registerDomainRoutes()
	return s
}

func (s *DomainServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *DomainServer) registerDomainRoutes() {
	s.mux.HandleFunc("POST /api/v1/indexing/runs", s.handleStartIndexing)
	s.mux.HandleFunc("GET /api/v1/indexing/runs/{runID}", s.handleGetIndexingProgress)
	s.mux.HandleFunc("POST /api/v1/queries", s.handleSubmitQuery)
	s.mux.HandleFunc("GET /api/v1/queries/{queryRunID}", s.handleGetQueryRun)
	s.mux.HandleFunc("POST /api/v1/checklists", s.handleSubmitChecklist)
	s.mux.HandleFunc("GET /api/v1/checklists/{analysisID}", s.handleGetAnalysis)
	s.mux.HandleFunc("POST /api/v1/webhooks/error", s.handleErrorWebhook)
}

type startIndexingRequest struct {
	Documents []struct {
		DocumentID string `json:"document_id"`
		PDFPath    string `json:"pdf_path"`
	} `json:"documents"`
	Language          string                   `json:"language"`
	UploadType        string                   `json:"upload_type"`
	ConfigOverrides   pipelineconfig.Overrides `json:"config_overrides"`
	NotificationEmail string                   `json:"notification_email"`
}

// handleStartIndexing implements start_indexing(documents[], config_overrides?,
// notification_email?) -> run_id. The Run is created synchronously so the
// caller gets a durable run_id immediately, then driven to completion on a
// background goroutine — get_indexing_progress is how the caller observes
// the rest (spec §6's "polled every ~2s").
func (s *DomainServer) handleStartIndexing(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req startIndexingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if len(req.Documents) == 0 {
		respondError(w, http.StatusBadRequest, errors.New("documents must be non-empty"))
		return
	}
	language := req.Language
	if language == "" {
		language = "en"
	}
	uploadType := req.UploadType
	if uploadType == "" {
		uploadType = "pdf"
	}
	cfg, err := pipelineconfig.Resolve(language, uploadType, req.ConfigOverrides)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	configSnap := map[string]any{
		"language":    cfg.Language,
		"upload_type": cfg.UploadType,
	}
	run := models.IndexingRun{
		ID:         uuid.NewString(),
		ConfigSnap: configSnap,
		Status:     models.RunStatusPending,
		CreatedAt:  time.Now().UTC(),
	}
	docIDs := make([]string, len(req.Documents))
	docs := make([]indexing.DocumentInput, len(req.Documents))
	for i, d := range req.Documents {
		docIDs[i] = d.DocumentID
		docs[i] = indexing.DocumentInput{DocumentID: d.DocumentID, PDFPath: d.PDFPath}
	}
	if err := s.Store.CreateRun(ctx, run, docIDs); err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	go func() {
		bgCtx := context.Background()
		if err := s.Orchestrator.Run(bgCtx, run, docs, cfg); err != nil {
			log.Error().Err(err).Str("run_id", run.ID).Msg("indexing_run_failed")
		}
	}()

	respondJSON(w, http.StatusAccepted, map[string]string{"run_id": run.ID})
}

// handleGetIndexingProgress implements get_indexing_progress(run_id) ->
// {status, step, current/total, per_step_summary}.
func (s *DomainServer) handleGetIndexingProgress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	runID := r.PathValue("runID")
	run, err := s.Store.GetRun(ctx, runID)
	if err != nil {
		respondError(w, http.StatusNotFound, err)
		return
	}
	steps, err := s.Store.StepResults(ctx, runID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	allSteps := []models.StepName{models.StepPartition, models.StepEnrich, models.StepVLMEnrich, models.StepChunk, models.StepEmbed}
	current, total := 0, len(allSteps)
	for i, step := range allSteps {
		if result, ok := steps[step]; ok && result.Status == models.RunStatusCompleted {
			current = i + 1
		}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"run_id":           run.ID,
		"status":           run.Status,
		"step":             run.CurrentStep,
		"current":          current,
		"total":            total,
		"per_step_summary": steps,
		"error":            run.Error,
	})
}

type submitQueryRequest struct {
	RunID string `json:"run_id"`
	Text  string `json:"text"`
}

// handleSubmitQuery implements submit_query(run_id, text) -> query_run_id.
func (s *DomainServer) handleSubmitQuery(w http.ResponseWriter, r *http.Request) {
	var req submitQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if req.RunID == "" || req.Text == "" {
		respondError(w, http.StatusBadRequest, errors.New("run_id and text are required"))
		return
	}

	indexingRun, err := s.Store.GetRun(r.Context(), req.RunID)
	if err != nil {
		respondError(w, http.StatusNotFound, err)
		return
	}
	cfg, err := configFromSnapshot(indexingRun.ConfigSnap)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	queryRunID := query.NewQueryRunID()
	go func() {
		bgCtx := context.Background()
		if _, err := s.QueryPipeline.Ask(bgCtx, queryRunID, req.RunID, req.Text, cfg); err != nil {
			log.Error().Err(err).Str("query_run_id", queryRunID).Msg("query_run_failed")
		}
	}()

	respondJSON(w, http.StatusAccepted, map[string]string{"query_run_id": queryRunID})
}

// handleGetQueryRun implements get_query_run(id).
func (s *DomainServer) handleGetQueryRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("queryRunID")
	run, err := s.Store.GetQueryRun(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusNotFound, err)
		return
	}
	respondJSON(w, http.StatusOK, run)
}

type submitChecklistRequest struct {
	RunID string `json:"run_id"`
	Text  string `json:"text"`
	Name  string `json:"name"`
	Model string `json:"model"`
}

// handleSubmitChecklist implements
// submit_checklist(run_id, text, name, model) -> analysis_id.
func (s *DomainServer) handleSubmitChecklist(w http.ResponseWriter, r *http.Request) {
	var req submitChecklistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if req.RunID == "" || req.Text == "" {
		respondError(w, http.StatusBadRequest, errors.New("run_id and text are required"))
		return
	}

	indexingRun, err := s.Store.GetRun(r.Context(), req.RunID)
	if err != nil {
		respondError(w, http.StatusNotFound, err)
		return
	}
	cfg, err := configFromSnapshot(indexingRun.ConfigSnap)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	if req.Model != "" {
		cfg.GenerationModel = req.Model
	}

	analysisID := checklist.NewAnalysisID()
	go func() {
		bgCtx := context.Background()
		if _, err := s.Checklist.Analyze(bgCtx, analysisID, req.RunID, req.Name, req.Text, cfg); err != nil {
			log.Error().Err(err).Str("analysis_id", analysisID).Msg("checklist_run_failed")
		}
	}()

	respondJSON(w, http.StatusAccepted, map[string]string{"analysis_id": analysisID})
}

// handleGetAnalysis implements get_analysis(id).
func (s *DomainServer) handleGetAnalysis(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("analysisID")
	run, err := s.Store.GetChecklistRun(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusNotFound, err)
		return
	}
	respondJSON(w, http.StatusOK, run)
}

type errorWebhookRequest struct {
	RunID        string `json:"run_id"`
	ErrorMessage string `json:"error_message"`
	ErrorStage   string `json:"error_stage"`
}

// handleErrorWebhook implements error_webhook({run_id, error_message,
// error_stage}), authenticated by shared secret, recognizing beam_timeout
// and beam_cancelled as distinguished stages (spec §6).
func (s *DomainServer) handleErrorWebhook(w http.ResponseWriter, r *http.Request) {
	if s.ErrorWebhookSecret == "" || r.Header.Get("X-Webhook-Secret") != s.ErrorWebhookSecret {
		respondError(w, http.StatusUnauthorized, errors.New("invalid webhook secret"))
		return
	}
	var req errorWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	status := models.RunStatusFailed
	switch req.ErrorStage {
	case "beam_timeout":
		status = models.RunStatusTimedOut
	case "beam_cancelled":
		status = models.RunStatusCancelled
	}

	if err := s.Store.UpdateRunStatus(r.Context(), req.RunID, status, "", req.ErrorMessage); err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "acknowledged"})
}

// configFromSnapshot re-resolves a pipelineconfig.Snapshot from an
// IndexingRun's frozen language/upload_type, since the Run Store persists
// ConfigSnap as a plain map rather than a typed Snapshot. Query and
// checklist Runs inherit their parent indexing Run's resolved defaults
// rather than re-accepting overrides, since a Run's behavior must stay
// reproducible from what was frozen at start_indexing time.
func configFromSnapshot(snap map[string]any) (pipelineconfig.Snapshot, error) {
	language, _ := snap["language"].(string)
	uploadType, _ := snap["upload_type"].(string)
	if language == "" {
		language = "en"
	}
	if uploadType == "" {
		uploadType = "pdf"
	}
	return pipelineconfig.Resolve(language, uploadType, pipelineconfig.Overrides{})
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, err error) {
	respondJSON(w, status, map[string]any{"error": err.Error()})
}
