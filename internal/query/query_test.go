package query

import (
	"context"
	"fmt"
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
	variationResponse string
	answerResponse    string
	calls             int
}

func (f *fakeChat) Name() string { return "fake-chat" }
func (f *fakeChat) Chat(_ context.Context, req modelgateway.ChatRequest) (modelgateway.ChatResponse, error) {
	f.calls++
	if f.calls == 1 {
		return modelgateway.ChatResponse{Text: f.variationResponse}, nil
	}
	return modelgateway.ChatResponse{Text: f.answerResponse}, nil
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

func TestAskHappyPath(t *testing.T) {
	chat := &fakeChat{
		variationResponse: `["paraphrase one", "hypothetical answer", "formal rewrite"]`,
		answerResponse:    "The slab thickness is 200mm (docabcde, page 3).",
	}
	gw := modelgateway.New(chat, nil, fakeEmbed{}, modelgateway.Options{})
	idx := vectorindex.NewMemory()
	store := runstore.NewMemory()
	require.NoError(t, idx.Upsert(context.Background(), "run1", "chunk1", []float32{1, 0, 0}))

	chunk := models.Chunk{ID: "chunk1", DocumentID: "docabcdefgh", Page: 3, Text: "Slabs shall be 200mm thick."}
	require.NoError(t, store.UpsertChunks(context.Background(), "run1", []models.Chunk{chunk}))

	p := New(gw, idx, store)
	run, err := p.Ask(context.Background(), NewQueryRunID(), "run1", "How thick is the slab?", testConfig(t))
	require.NoError(t, err)

	assert.Equal(t, models.RunStatusCompleted, run.Status)
	assert.Len(t, run.Variations, 3)
	assert.Contains(t, run.RetrievedIDs, "chunk1")
	assert.NotEmpty(t, run.Answer)
	assert.NotEmpty(t, run.Citations)
	assert.Contains(t, run.StepTimings, "variation")
	assert.Contains(t, run.StepTimings, "retrieval")
	assert.Contains(t, run.StepTimings, "generation")

	saved, err := store.GetQueryRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.Answer, saved.Answer)
}

func TestAskFailsAndPersistsPartialStateWhenVariationParseFails(t *testing.T) {
	chat := &fakeChat{variationResponse: "not json at all"}
	gw := modelgateway.New(chat, nil, fakeEmbed{}, modelgateway.Options{})
	idx := vectorindex.NewMemory()
	store := runstore.NewMemory()

	p := New(gw, idx, store)
	run, err := p.Ask(context.Background(), NewQueryRunID(), "run1", "query", testConfig(t))
	require.Error(t, err)
	assert.Equal(t, models.RunStatusFailed, run.Status)
	assert.NotEmpty(t, run.Error)

	saved, serr := store.GetQueryRun(context.Background(), run.ID)
	require.NoError(t, serr)
	assert.Equal(t, models.RunStatusFailed, saved.Status)
}

func TestApplySimilarityFloorDropsBelowThreshold(t *testing.T) {
	neighbors := []vectorindex.Neighbor{
		{ChunkID: "a", Distance: 0.1}, // similarity 0.9
		{ChunkID: "b", Distance: 0.5}, // similarity 0.5
	}
	out := applySimilarityFloor(neighbors, 0.8)
	require.Len(t, out, 1)
	assert.Equal(t, "a", out[0].ChunkID)
}

func TestExtractCitationsFindsParenthesizedPairs(t *testing.T) {
	text := "The thickness is 200mm (doc12345, page 3), confirmed elsewhere (doc12345, page 3) and (doc6789, page 7)."
	citations := extractCitations(text)
	assert.ElementsMatch(t, []string{"(doc12345, page 3)", "(doc6789, page 7)"}, citations)
}

func TestShortDocumentIDTruncatesTo8Chars(t *testing.T) {
	assert.Equal(t, "docabcde", shortDocumentID("docabcdefgh"))
	assert.Equal(t, "short", shortDocumentID("short"))
}

func TestParseVariationArrayToleratesSurroundingProse(t *testing.T) {
	text := fmt.Sprintf("Here you go:\n%s\nHope this helps.", `["a", "b", "c"]`)
	out := parseVariationArray(text)
	assert.Equal(t, []string{"a", "b", "c"}, out)
}
