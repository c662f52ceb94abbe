// Package checklist implements the Checklist Pipeline (spec §4.13):
// query generation, retrieval, analysis, and structuring of a free-form
// checklist against a single IndexingRun's chunk set.
//
// Grounded on internal/query/query.go's retrieval shape (C12) for steps 1-2,
// and on the tiered JSON-recovery idiom in
// _examples/Tangerg-lynx/ai/model/chat/parser.go's JSONParser/stripMarkdownCodeBlock
// (strict parse, then markdown-stripped retry, then permissive brace
// extraction) for steps 1 and 4, where LLM output must become structured
// data despite surrounding prose.
package checklist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"constructionrag/internal/modelgateway"
	"constructionrag/internal/models"
	"constructionrag/internal/pipelineconfig"
	"constructionrag/internal/pipelineerrors"
	"constructionrag/internal/runstore"
	"constructionrag/internal/vectorindex"
)

// Pipeline drives the four checklist sub-steps against one IndexingRun's
// scope (spec §4.13).
type Pipeline struct {
	Gateway *modelgateway.Gateway
	Index   vectorindex.Index
	Store   runstore.Store
}

func New(gw *modelgateway.Gateway, idx vectorindex.Index, store runstore.Store) *Pipeline {
	return &Pipeline{Gateway: gw, Index: idx, Store: store}
}

// checklistQuery is one LLM-proposed search query tied back to the
// checklist item it was generated for.
type checklistQuery struct {
	Item  string   `json:"item"`
	Terms []string `json:"queries"`
}

// NewAnalysisID mints an id the caller can hand back to its client before
// Analyze finishes — submit_checklist returns this id immediately and the
// client polls get_analysis(id) for the rest (spec §6).
func NewAnalysisID() string { return uuid.NewString() }

// Analyze runs the full four-step pipeline for one checklist against
// indexingRunID, persisting a models.ChecklistAnalysisRun after every step
// so partial progress survives a failure at any point (spec §4.13). id
// should come from NewAnalysisID so the caller can learn it before this
// call returns.
func (p *Pipeline) Analyze(ctx context.Context, id, indexingRunID, checklistName, checklistText string, cfg pipelineconfig.Snapshot) (models.ChecklistAnalysisRun, error) {
	run := models.ChecklistAnalysisRun{
		ID:            id,
		IndexingRunID: indexingRunID,
		ChecklistName: checklistName,
		Status:        models.RunStatusRunning,
		CreatedAt:     time.Now().UTC(),
	}

	queries, err := p.generateQueries(ctx, checklistText, cfg)
	if err != nil {
		return p.fail(ctx, run, pipelineerrors.Parse("checklist.query_generation", err))
	}
	run.Items = itemNames(queries)
	run.Progress = 1
	if serr := p.Store.SaveChecklistRun(ctx, run); serr != nil {
		return p.fail(ctx, run, pipelineerrors.Transient("checklist.save", serr))
	}

	chunks, err := p.retrieve(ctx, indexingRunID, queries, cfg)
	if err != nil {
		return p.fail(ctx, run, pipelineerrors.Transient("checklist.retrieval", err))
	}
	run.Progress = 2
	if serr := p.Store.SaveChecklistRun(ctx, run); serr != nil {
		return p.fail(ctx, run, pipelineerrors.Transient("checklist.save", serr))
	}

	raw, err := p.analyze(ctx, checklistText, chunks, cfg)
	if err != nil {
		return p.fail(ctx, run, pipelineerrors.Model("checklist.analysis", err))
	}
	run.RawAnalysis = raw
	run.Progress = 3
	if serr := p.Store.SaveChecklistRun(ctx, run); serr != nil {
		return p.fail(ctx, run, pipelineerrors.Transient("checklist.save", serr))
	}

	results, err := p.structure(ctx, raw, cfg)
	if err != nil {
		return p.fail(ctx, run, pipelineerrors.Parse("checklist.structuring", err))
	}
	run.Results = results
	run.Progress = 4
	run.Status = models.RunStatusCompleted

	if serr := p.Store.SaveChecklistRun(ctx, run); serr != nil {
		return run, pipelineerrors.Transient("checklist.save", serr)
	}
	return run, nil
}

func (p *Pipeline) fail(ctx context.Context, run models.ChecklistAnalysisRun, err error) (models.ChecklistAnalysisRun, error) {
	run.Status = models.RunStatusFailed
	run.Error = err.Error()
	_ = p.Store.SaveChecklistRun(ctx, run)
	return run, err
}

func itemNames(queries []checklistQuery) []string {
	out := make([]string, len(queries))
	for i, q := range queries {
		out[i] = q.Item
	}
	return out
}

// generateQueries asks the LLM to parse the checklist into items and emit
// 1-3 search queries per item (spec §4.13 step 1). The response is parsed
// with tiered fallbacks: strict JSON, then markdown-stripped JSON, then a
// permissive extraction of the outermost JSON array. The Run fails only if
// every tier fails.
func (p *Pipeline) generateQueries(ctx context.Context, checklistText string, cfg pipelineconfig.Snapshot) ([]checklistQuery, error) {
	prompt := fmt.Sprintf(`You are analyzing a construction checklist. Split it into individual items and, for each item, propose 1 to 3 short search queries (in %s) that would retrieve supporting passages from project documents.

Respond with ONLY a JSON array, one object per item:
[{"item": "<item name>", "queries": ["<query 1>", "<query 2>"]}]

Checklist:
%s`, cfg.Language, checklistText)

	resp, err := p.Gateway.Chat(ctx, modelgateway.ChatRequest{
		Model:    cfg.GenerationModel,
		Messages: []modelgateway.Message{{Role: modelgateway.RoleUser, Text: prompt}},
	})
	if err != nil {
		return nil, err
	}

	queries, err := parseChecklistQueries(resp.Text)
	if err != nil {
		return nil, err
	}
	if len(queries) == 0 {
		return nil, fmt.Errorf("checklist.query_generation: model returned no parseable items")
	}
	return queries, nil
}

// parseChecklistQueries runs the three-tier recovery chain: strict parse of
// the raw text, then a markdown-code-block-stripped retry, then a
// permissive extraction of the outermost [...] span.
func parseChecklistQueries(raw string) ([]checklistQuery, error) {
	if qs, err := strictParseQueries(raw); err == nil {
		return qs, nil
	}
	clean := stripMarkdownCodeBlock(raw)
	if qs, err := strictParseQueries(clean); err == nil {
		return qs, nil
	}
	qs, err := permissiveParseQueries(raw)
	if err != nil {
		return nil, errors.Join(err, fmt.Errorf("checklist.query_generation: all parse tiers failed (raw input: %s)", raw))
	}
	return qs, nil
}

func strictParseQueries(text string) ([]checklistQuery, error) {
	var out []checklistQuery
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// permissiveParseQueries extracts the outermost JSON array by bracket
// position, tolerating prose the model added around it.
func permissiveParseQueries(text string) ([]checklistQuery, error) {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start == -1 || end == -1 || end < start {
		return nil, fmt.Errorf("no JSON array found")
	}
	var out []checklistQuery
	if err := json.Unmarshal([]byte(text[start:end+1]), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// stripMarkdownCodeBlock removes a ```json ... ``` or ``` ... ``` wrapper,
// if present.
func stripMarkdownCodeBlock(input string) string {
	trimmed := strings.TrimSpace(input)
	if len(trimmed) < 6 || !strings.HasPrefix(trimmed, "```") || !strings.HasSuffix(trimmed, "```") {
		return trimmed
	}
	newlineIdx := strings.Index(trimmed, "\n")
	if newlineIdx == -1 {
		return strings.TrimSpace(trimmed[3 : len(trimmed)-3])
	}
	return strings.TrimSpace(trimmed[newlineIdx+1 : len(trimmed)-3])
}

// retrieve embeds every proposed query in one batched call, runs one K-NN
// search per query against the parent IndexingRun's scope, and unions the
// results by chunk id (keeping the closest distance), trimmed to the
// configured analysis chunk cap (spec §4.13 step 2).
func (p *Pipeline) retrieve(ctx context.Context, indexingRunID string, queries []checklistQuery, cfg pipelineconfig.Snapshot) ([]models.Chunk, error) {
	var allQueries []string
	for _, q := range queries {
		allQueries = append(allQueries, q.Terms...)
	}
	if len(allQueries) == 0 {
		return nil, fmt.Errorf("checklist.retrieval: no queries to embed")
	}

	embeddings, err := p.Gateway.Embed(ctx, cfg.EmbeddingModel, allQueries)
	if err != nil {
		return nil, err
	}

	best := make(map[string]vectorindex.Neighbor)
	for _, emb := range embeddings {
		neighbors, err := p.Index.Search(ctx, indexingRunID, emb, cfg.VectorSearchK)
		if err != nil {
			return nil, err
		}
		for _, n := range neighbors {
			if existing, ok := best[n.ChunkID]; !ok || n.Distance < existing.Distance {
				best[n.ChunkID] = n
			}
		}
	}

	ids := make([]string, 0, len(best))
	for id := range best {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return best[ids[i]].Distance < best[ids[j]].Distance
	})
	chunkCap := cfg.ChecklistAnalysisChunkCap
	if chunkCap > 0 && len(ids) > chunkCap {
		ids = ids[:chunkCap]
	}

	return p.Store.ChunksByIDs(ctx, indexingRunID, ids)
}

// analyze calls the LLM with the original checklist and the retrieved
// chunks, producing free-text analysis grounded in document references
// (spec §4.13 step 3). The raw response is returned unmodified for
// persistence.
func (p *Pipeline) analyze(ctx context.Context, checklistText string, chunks []models.Chunk, cfg pipelineconfig.Snapshot) (string, error) {
	var b strings.Builder
	for _, c := range chunks {
		fmt.Fprintf(&b, "[%s, page %d]\n%s\n\n", shortDocumentID(c.DocumentID), c.Page, c.Text)
	}

	prompt := fmt.Sprintf(`Analyze the checklist below against the supporting project document passages. For each checklist item, state whether it is found (explicitly satisfied), missing (no supporting requirement found), a risk (found but conflicts with or falls short of the requirement), conditions (satisfied only under stated conditions), or pending_clarification (ambiguous or insufficient information to decide), referencing the bracketed [document_short_id, page] identifiers for every claim. Write in %s.

Checklist:
%s

Document passages:
%s`, cfg.Language, checklistText, b.String())

	resp, err := p.Gateway.Chat(ctx, modelgateway.ChatRequest{
		Model:     cfg.GenerationModel,
		MaxTokens: cfg.GenerationMaxTokens,
		Messages:  []modelgateway.Message{{Role: modelgateway.RoleUser, Text: prompt}},
	})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// structure asks the LLM to convert the free-text analysis into a JSON
// array of ChecklistResult rows (spec §4.13 step 4), using the same
// tiered-recovery parse chain as step 1, falling back to a gjson/sjson
// rebuild pass when the model's array isn't strict JSON.
func (p *Pipeline) structure(ctx context.Context, rawAnalysis string, cfg pipelineconfig.Snapshot) ([]models.ChecklistResult, error) {
	prompt := fmt.Sprintf(`Convert the analysis below into a JSON array, one object per checklist item, numbered in the order the items appear in the checklist:
[{"item_number": 1, "item_name": "...", "verdict": "found|missing|risk|conditions|pending_clarification", "rationale": "...", "confidence": 0.9, "all_sources": [{"document_id": "...", "page": 1, "excerpt": "..."}]}]

"confidence" is optional — omit the field entirely if you are not reporting one. Respond with ONLY the JSON array.

Analysis:
%s`, rawAnalysis)

	resp, err := p.Gateway.Chat(ctx, modelgateway.ChatRequest{
		Model:    cfg.GenerationModel,
		Messages: []modelgateway.Message{{Role: modelgateway.RoleUser, Text: prompt}},
	})
	if err != nil {
		return nil, err
	}

	rows, err := parseResultRows(resp.Text)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

type resultRow struct {
	ItemNumber int             `json:"item_number"`
	ItemName   string          `json:"item_name"`
	Verdict    string          `json:"verdict"`
	Rationale  string          `json:"rationale"`
	Confidence *float64        `json:"confidence"`
	AllSources []sourceRefJSON `json:"all_sources"`
}

type sourceRefJSON struct {
	DocumentID string `json:"document_id"`
	Page       int    `json:"page"`
	Excerpt    string `json:"excerpt"`
}

func parseResultRows(raw string) ([]models.ChecklistResult, error) {
	rows, err := strictParseRows(raw)
	if err != nil {
		clean := stripMarkdownCodeBlock(raw)
		rows, err = strictParseRows(clean)
	}
	if err != nil {
		rows, err = permissiveParseRows(raw)
	}
	if err != nil {
		return nil, errors.Join(err, fmt.Errorf("checklist.structuring: all parse tiers failed (raw input: %s)", raw))
	}
	return toChecklistResults(rows), nil
}

func strictParseRows(text string) ([]resultRow, error) {
	var out []resultRow
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// permissiveParseRows recovers from surrounding prose or minor malformation
// by parsing leniently with gjson (which tolerates trailing content after
// the JSON value ends) and rebuilding each element field-by-field with
// sjson into a clean array that encoding/json can then unmarshal strictly.
func permissiveParseRows(text string) ([]resultRow, error) {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start == -1 || end == -1 || end < start {
		return nil, fmt.Errorf("no JSON array found")
	}
	arr := gjson.Parse(text[start : end+1])
	if !arr.IsArray() {
		return nil, fmt.Errorf("outermost JSON value is not an array")
	}

	rebuilt := "[]"
	for i, el := range arr.Array() {
		path := fmt.Sprintf("%d", i)
		var err error
		rebuilt, err = sjson.Set(rebuilt, path+".item_number", el.Get("item_number").Int())
		if err != nil {
			return nil, err
		}
		rebuilt, err = sjson.Set(rebuilt, path+".item_name", el.Get("item_name").String())
		if err != nil {
			return nil, err
		}
		rebuilt, err = sjson.Set(rebuilt, path+".verdict", el.Get("verdict").String())
		if err != nil {
			return nil, err
		}
		rebuilt, err = sjson.Set(rebuilt, path+".rationale", el.Get("rationale").String())
		if err != nil {
			return nil, err
		}
		if conf := el.Get("confidence"); conf.Exists() {
			rebuilt, err = sjson.Set(rebuilt, path+".confidence", conf.Float())
			if err != nil {
				return nil, err
			}
		}
		for j, src := range el.Get("all_sources").Array() {
			srcPath := fmt.Sprintf("%s.all_sources.%d", path, j)
			rebuilt, err = sjson.Set(rebuilt, srcPath+".document_id", src.Get("document_id").String())
			if err != nil {
				return nil, err
			}
			rebuilt, err = sjson.Set(rebuilt, srcPath+".page", src.Get("page").Int())
			if err != nil {
				return nil, err
			}
			rebuilt, err = sjson.Set(rebuilt, srcPath+".excerpt", src.Get("excerpt").String())
			if err != nil {
				return nil, err
			}
		}
	}

	var out []resultRow
	if err := json.Unmarshal([]byte(rebuilt), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func toChecklistResults(rows []resultRow) []models.ChecklistResult {
	out := make([]models.ChecklistResult, len(rows))
	for i, r := range rows {
		sources := make([]models.SourceRef, len(r.AllSources))
		for j, s := range r.AllSources {
			sources[j] = models.SourceRef{DocumentID: s.DocumentID, Page: s.Page, Excerpt: s.Excerpt}
		}
		itemNumber := r.ItemNumber
		if itemNumber == 0 {
			itemNumber = i + 1
		}
		res := models.ChecklistResult{
			ItemNumber: itemNumber,
			ItemName:   r.ItemName,
			Verdict:    verdictOf(r.Verdict),
			Rationale:  r.Rationale,
			Confidence: clampConfidence(r.Confidence),
			AllSources: sources,
		}
		if len(sources) > 0 {
			res.SourceDocument = sources[0].DocumentID
			res.SourcePage = sources[0].Page
			res.SourceExcerpt = sources[0].Excerpt
		}
		out[i] = res
	}
	return out
}

// verdictOf maps the model's reported verdict string onto the spec's
// closed vocabulary (§3, §8); anything unrecognized becomes
// pending_clarification rather than silently asserting found or missing.
func verdictOf(s string) models.ChecklistVerdict {
	switch models.ChecklistVerdict(s) {
	case models.VerdictFound, models.VerdictMissing, models.VerdictRisk, models.VerdictConditions, models.VerdictPendingClarification:
		return models.ChecklistVerdict(s)
	default:
		return models.VerdictPendingClarification
	}
}

// clampConfidence keeps a model-reported confidence within the spec's
// §8 invariant (confidences, when present, ∈ [0,1]); nil (not reported)
// passes through unchanged.
func clampConfidence(c *float64) *float64 {
	if c == nil {
		return nil
	}
	v := *c
	if v < 0 {
		v = 0
	} else if v > 1 {
		v = 1
	}
	return &v
}

func shortDocumentID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
