package checklist

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"constructionrag/internal/modelgateway"
	"constructionrag/internal/models"
	"constructionrag/internal/pipelineconfig"
	"constructionrag/internal/runstore"
	"constructionrag/internal/vectorindex"
)

type fakeChat struct {
	responses []string
	calls     int
}

func (f *fakeChat) Name() string { return "fake-chat" }
func (f *fakeChat) Chat(_ context.Context, _ modelgateway.ChatRequest) (modelgateway.ChatResponse, error) {
	i := f.calls
	f.calls++
	if i >= len(f.responses) {
		return modelgateway.ChatResponse{}, nil
	}
	return modelgateway.ChatResponse{Text: f.responses[i]}, nil
}

type fakeEmbed struct{}

func (fakeEmbed) Name() string { return "fake-embed" }
func (fakeEmbed) Embed(_ context.Context, _ string, inputs []string) ([][]float32, error) {
	out := make([][]float32, len(inputs))
	for i := range inputs {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func testConfig(t *testing.T) pipelineconfig.Snapshot {
	t.Helper()
	cfg, err := pipelineconfig.Resolve("en", "pdf", pipelineconfig.Overrides{})
	require.NoError(t, err)
	return cfg
}

const queryGenResponse = `[{"item": "Fire rated doors", "queries": ["fire rated door rating"]}]`
const analysisResponse = "Fire rated doors are specified at 90 minutes [docabcde, page 2]."
const structureResponse = `[{"item_number": 1, "item_name": "Fire rated doors", "verdict": "found", "rationale": "90 minute rating specified", "confidence": 0.95, "all_sources": [{"document_id": "docabcdefgh", "page": 2, "excerpt": "90 min rating"}]}]`

func TestAnalyzeHappyPath(t *testing.T) {
	chat := &fakeChat{responses: []string{queryGenResponse, analysisResponse, structureResponse}}
	gw := modelgateway.New(chat, nil, fakeEmbed{}, modelgateway.Options{})
	idx := vectorindex.NewMemory()
	store := runstore.NewMemory()
	require.NoError(t, idx.Upsert(context.Background(), "run1", "chunk1", []float32{1, 0, 0}))

	chunk := models.Chunk{ID: "chunk1", DocumentID: "docabcdefgh", Page: 2, Text: "All doors in corridors shall be fire rated for 90 minutes."}
	require.NoError(t, store.UpsertChunks(context.Background(), "run1", []models.Chunk{chunk}))

	p := New(gw, idx, store)
	run, err := p.Analyze(context.Background(), NewAnalysisID(), "run1", "Life Safety Checklist", "1. Fire rated doors present?", testConfig(t))
	require.NoError(t, err)

	assert.Equal(t, models.RunStatusCompleted, run.Status)
	assert.Equal(t, 4, run.Progress)
	assert.Equal(t, []string{"Fire rated doors"}, run.Items)
	assert.NotEmpty(t, run.RawAnalysis)
	require.Len(t, run.Results, 1)
	assert.Equal(t, models.VerdictFound, run.Results[0].Verdict)
	assert.Equal(t, 1, run.Results[0].ItemNumber)
	assert.Equal(t, "Fire rated doors", run.Results[0].ItemName)
	require.NotNil(t, run.Results[0].Confidence)
	assert.Equal(t, 0.95, *run.Results[0].Confidence)
	require.Len(t, run.Results[0].AllSources, 1)
	assert.Equal(t, "docabcdefgh", run.Results[0].AllSources[0].DocumentID)
	assert.Equal(t, "docabcdefgh", run.Results[0].SourceDocument)

	saved, err := store.GetChecklistRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, saved.Status)
	assert.Equal(t, 4, saved.Progress)
}

func TestAnalyzeFailsAndPersistsPartialStateWhenQueryGenerationUnparseable(t *testing.T) {
	chat := &fakeChat{responses: []string{"this is not json at all"}}
	gw := modelgateway.New(chat, nil, fakeEmbed{}, modelgateway.Options{})
	idx := vectorindex.NewMemory()
	store := runstore.NewMemory()

	p := New(gw, idx, store)
	run, err := p.Analyze(context.Background(), NewAnalysisID(), "run1", "Checklist", "some checklist text", testConfig(t))
	require.Error(t, err)
	assert.Equal(t, models.RunStatusFailed, run.Status)
	assert.NotEmpty(t, run.Error)
	assert.Equal(t, 0, run.Progress)

	saved, serr := store.GetChecklistRun(context.Background(), run.ID)
	require.NoError(t, serr)
	assert.Equal(t, models.RunStatusFailed, saved.Status)
}

func TestAnalyzeRecoversPartialProgressWhenStructuringFails(t *testing.T) {
	chat := &fakeChat{responses: []string{queryGenResponse, analysisResponse, "not json either"}}
	gw := modelgateway.New(chat, nil, fakeEmbed{}, modelgateway.Options{})
	idx := vectorindex.NewMemory()
	store := runstore.NewMemory()
	require.NoError(t, idx.Upsert(context.Background(), "run1", "chunk1", []float32{1, 0, 0}))
	chunk := models.Chunk{ID: "chunk1", DocumentID: "docabcdefgh", Page: 2, Text: "Doors shall be fire rated."}
	require.NoError(t, store.UpsertChunks(context.Background(), "run1", []models.Chunk{chunk}))

	p := New(gw, idx, store)
	run, err := p.Analyze(context.Background(), NewAnalysisID(), "run1", "Checklist", "1. Fire rated doors?", testConfig(t))
	require.Error(t, err)
	assert.Equal(t, models.RunStatusFailed, run.Status)
	assert.Equal(t, 3, run.Progress)
	assert.NotEmpty(t, run.RawAnalysis)
}

func TestParseChecklistQueriesToleratesMarkdownCodeBlock(t *testing.T) {
	wrapped := "```json\n" + queryGenResponse + "\n```"
	qs, err := parseChecklistQueries(wrapped)
	require.NoError(t, err)
	require.Len(t, qs, 1)
	assert.Equal(t, "Fire rated doors", qs[0].Item)
}

func TestParseChecklistQueriesToleratesSurroundingProse(t *testing.T) {
	wrapped := "Here is the breakdown:\n" + queryGenResponse + "\nLet me know if you need more."
	qs, err := parseChecklistQueries(wrapped)
	require.NoError(t, err)
	require.Len(t, qs, 1)
	assert.Equal(t, []string{"fire rated door rating"}, qs[0].Terms)
}

func TestParseResultRowsRebuildsFromLooseProse(t *testing.T) {
	wrapped := "Sure thing:\n" + structureResponse + "\nDone."
	results, err := parseResultRows(wrapped)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, models.VerdictFound, results[0].Verdict)
	assert.Equal(t, "Fire rated doors", results[0].ItemName)
	assert.Equal(t, 2, results[0].AllSources[0].Page)
}

func TestVerdictOfDefaultsToPendingClarificationForUnknownValue(t *testing.T) {
	assert.Equal(t, models.VerdictPendingClarification, verdictOf("maybe"))
	assert.Equal(t, models.VerdictMissing, verdictOf("missing"))
	assert.Equal(t, models.VerdictRisk, verdictOf("risk"))
	assert.Equal(t, models.VerdictConditions, verdictOf("conditions"))
}

func TestClampConfidenceKeepsWithinZeroOne(t *testing.T) {
	high, low := 1.5, -0.5
	assert.Equal(t, 1.0, *clampConfidence(&high))
	assert.Equal(t, 0.0, *clampConfidence(&low))
	assert.Nil(t, clampConfidence(nil))
}

func TestShortDocumentIDTruncatesTo8Chars(t *testing.T) {
	assert.Equal(t, "docabcde", shortDocumentID("docabcdefgh"))
	assert.Equal(t, "short", shortDocumentID("short"))
}
