// Package query implements the Query Pipeline (spec §4.12): query-variation,
// retrieval, and generation against a single IndexingRun's chunk set.
//
// Grounded on internal/rag/retrieve/{query,fusion}.go's QueryPlan/normalize
// idiom (teacher) for the retrieval shape, simplified from RRF-fusion-of-two-
// indexes to the spec's variation-then-union-then-top-k contract.
package query

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"constructionrag/internal/modelgateway"
	"constructionrag/internal/models"
	"constructionrag/internal/pipelineconfig"
	"constructionrag/internal/pipelineerrors"
	"constructionrag/internal/runstore"
	"constructionrag/internal/vectorindex"
)

// Pipeline drives the three query sub-steps against one IndexingRun's scope.
type Pipeline struct {
	Gateway *modelgateway.Gateway
	Index   vectorindex.Index
	Store   runstore.Store
}

func New(gw *modelgateway.Gateway, idx vectorindex.Index, store runstore.Store) *Pipeline {
	return &Pipeline{Gateway: gw, Index: idx, Store: store}
}

// NewQueryRunID mints an id the caller can hand back to its client before
// Ask finishes — the HTTP layer's submit_query returns this id immediately
// and the client polls get_query_run(id) for the rest (spec §6).
func NewQueryRunID() string { return uuid.NewString() }

// Ask runs the full pipeline for one user query against indexingRunID, and
// persists a models.QueryRun regardless of success or failure — a failure
// mid-pipeline still records whatever variations/retrieval happened before
// the error, matching the Run Store's "persist what you have" convention
// used by the Indexing Orchestrator (C11). id should come from
// NewQueryRunID so the caller can learn it before this call returns.
func (p *Pipeline) Ask(ctx context.Context, id, indexingRunID, queryText string, cfg pipelineconfig.Snapshot) (models.QueryRun, error) {
	run := models.QueryRun{
		ID:            id,
		IndexingRunID: indexingRunID,
		Query:         queryText,
		StepTimings:   map[string]int64{},
		Status:        models.RunStatusRunning,
		CreatedAt:     time.Now().UTC(),
	}

	variations, err := timed(run.StepTimings, "variation", func() ([]string, error) {
		return p.generateVariations(ctx, queryText, cfg)
	})
	if err != nil {
		return p.fail(ctx, run, pipelineerrors.Model("query.variation", err))
	}
	run.Variations = variations

	neighbors, err := timed(run.StepTimings, "retrieval", func() ([]vectorindex.Neighbor, error) {
		return p.retrieve(ctx, indexingRunID, append([]string{queryText}, variations...), cfg)
	})
	if err != nil {
		return p.fail(ctx, run, pipelineerrors.Transient("query.retrieval", err))
	}
	if cfg.RetrievalSimilarityFloor > 0 {
		neighbors = applySimilarityFloor(neighbors, cfg.RetrievalSimilarityFloor)
	}
	run.RetrievedIDs = make([]string, len(neighbors))
	run.RetrievedScores = make([]float64, len(neighbors))
	for i, n := range neighbors {
		run.RetrievedIDs[i] = n.ChunkID
		run.RetrievedScores[i] = similarity(n.Distance)
	}
	run.TopSimilarity, run.AvgSimilarity = similarityStats(run.RetrievedScores)

	chunks, err := p.Store.ChunksByIDs(ctx, indexingRunID, run.RetrievedIDs)
	if err != nil {
		return p.fail(ctx, run, pipelineerrors.Transient("query.load_chunks", err))
	}

	answer, citations, err := timed2(run.StepTimings, "generation", func() (string, []string, error) {
		return p.generate(ctx, queryText, chunks, cfg)
	})
	if err != nil {
		return p.fail(ctx, run, pipelineerrors.Model("query.generation", err))
	}
	run.Answer = answer
	run.Citations = citations
	run.Status = models.RunStatusCompleted

	if serr := p.Store.SaveQueryRun(ctx, run); serr != nil {
		return run, pipelineerrors.Transient("query.save", serr)
	}
	return run, nil
}

func (p *Pipeline) fail(ctx context.Context, run models.QueryRun, err error) (models.QueryRun, error) {
	run.Status = models.RunStatusFailed
	run.Error = err.Error()
	_ = p.Store.SaveQueryRun(ctx, run)
	return run, err
}

// generateVariations asks the LLM for three rewrites of the query — a
// semantic paraphrase, a hypothetical-answer rewrite, and a formal-register
// rewrite — in the Run's configured language (spec §4.12 step 1).
func (p *Pipeline) generateVariations(ctx context.Context, queryText string, cfg pipelineconfig.Snapshot) ([]string, error) {
	prompt := fmt.Sprintf(`Given the user question below, produce exactly three alternate phrasings in %s, as a JSON array of three strings:
1. A semantic paraphrase that keeps the same meaning with different wording.
2. A hypothetical-answer rewrite: a plausible sentence that would answer the question, used as a retrieval query.
3. A formal-register rewrite, suitable for technical/construction documentation.

Question: %s

Respond with ONLY the JSON array.`, cfg.Language, queryText)

	resp, err := p.Gateway.Chat(ctx, modelgateway.ChatRequest{
		Model:    cfg.GenerationModel,
		Messages: []modelgateway.Message{{Role: modelgateway.RoleUser, Text: prompt}},
	})
	if err != nil {
		return nil, err
	}
	variations := parseVariationArray(resp.Text)
	if len(variations) == 0 {
		return nil, fmt.Errorf("query.variation: model returned no parseable variations")
	}
	return variations, nil
}

// parseVariationArray extracts up to three strings from a JSON array
// response, tolerating surrounding prose the model may have added despite
// being asked not to.
func parseVariationArray(text string) []string {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start == -1 || end == -1 || end < start {
		return nil
	}
	arr := gjson.Parse(text[start : end+1])
	if !arr.IsArray() {
		return nil
	}
	var out []string
	for _, v := range arr.Array() {
		s := strings.TrimSpace(v.String())
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// retrieve embeds every query variant in one batched Gateway.Embed call,
// runs K-NN search in the Vector Index scoped to indexingRunID for each
// resulting embedding, unions the neighbors, deduplicates by chunk id
// (keeping the best/closest distance seen), sorts by similarity
// descending (ties by chunk id), and trims to retrieval.top_k (spec §4.12
// step 2).
func (p *Pipeline) retrieve(ctx context.Context, indexingRunID string, queries []string, cfg pipelineconfig.Snapshot) ([]vectorindex.Neighbor, error) {
	embeddings, err := p.Gateway.Embed(ctx, cfg.EmbeddingModel, queries)
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

	out := make([]vectorindex.Neighbor, 0, len(best))
	for _, n := range best {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].ChunkID < out[j].ChunkID
	})
	topK := cfg.RetrievalTopK
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

// applySimilarityFloor drops neighbors below the configured cosine
// similarity floor. Applied strictly after retrieval, never inside the
// K-NN predicate (spec §4.5's correctness contract).
func applySimilarityFloor(neighbors []vectorindex.Neighbor, floor float64) []vectorindex.Neighbor {
	out := neighbors[:0]
	for _, n := range neighbors {
		if similarity(n.Distance) >= floor {
			out = append(out, n)
		}
	}
	return out
}

func similarity(distance float64) float64 { return 1 - distance }

func similarityStats(scores []float64) (top, avg float64) {
	if len(scores) == 0 {
		return 0, 0
	}
	sum := 0.0
	top = scores[0]
	for _, s := range scores {
		sum += s
		if s > top {
			top = s
		}
	}
	return top, sum / float64(len(scores))
}

// generate calls the LLM with the original query and the concatenated
// retrieved chunks, instructed to cite sources as (document_short_id, page)
// (spec §4.12 step 3). Citations are extracted from the response text by
// scanning for that exact parenthesized pattern.
func (p *Pipeline) generate(ctx context.Context, queryText string, chunks []models.Chunk, cfg pipelineconfig.Snapshot) (string, []string, error) {
	var b strings.Builder
	for _, c := range chunks {
		fmt.Fprintf(&b, "[%s, page %d]\n%s\n\n", shortDocumentID(c.DocumentID), c.Page, c.Text)
	}

	prompt := fmt.Sprintf(`Answer the question using only the context below. Cite every claim as (document_short_id, page) using the bracketed identifiers shown before each passage. Respond in %s.

Context:
%s

Question: %s`, cfg.Language, b.String(), queryText)

	resp, err := p.Gateway.Chat(ctx, modelgateway.ChatRequest{
		Model:     cfg.GenerationModel,
		MaxTokens: cfg.GenerationMaxTokens,
		Messages:  []modelgateway.Message{{Role: modelgateway.RoleUser, Text: prompt}},
	})
	if err != nil {
		return "", nil, err
	}
	return resp.Text, extractCitations(resp.Text), nil
}

// shortDocumentID truncates a document id to an 8-character citation handle.
func shortDocumentID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

// extractCitations scans generated text for "(document_short_id, page)"
// style parenthesized citations and returns the unique set found, in
// first-seen order.
func extractCitations(text string) []string {
	var out []string
	seen := map[string]struct{}{}
	for {
		start := strings.Index(text, "(")
		if start == -1 {
			break
		}
		end := strings.Index(text[start:], ")")
		if end == -1 {
			break
		}
		candidate := text[start : start+end+1]
		text = text[start+end+1:]
		if strings.Contains(candidate, ",") {
			if _, ok := seen[candidate]; !ok {
				seen[candidate] = struct{}{}
				out = append(out, candidate)
			}
		}
	}
	return out
}

func timed[T any](timings map[string]int64, step string, fn func() (T, error)) (T, error) {
	start := time.Now()
	result, err := fn()
	timings[step] = time.Since(start).Milliseconds()
	return result, err
}

func timed2[A, B any](timings map[string]int64, step string, fn func() (A, B, error)) (A, B, error) {
	start := time.Now()
	a, b, err := fn()
	timings[step] = time.Since(start).Milliseconds()
	return a, b, err
}
