package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"constructionrag/internal/models"
	"constructionrag/internal/pipelineconfig"
)

func testConfig(t *testing.T) pipelineconfig.Snapshot {
	t.Helper()
	cfg, err := pipelineconfig.Resolve("en", "pdf", pipelineconfig.Overrides{})
	require.NoError(t, err)
	return cfg
}

func TestChunkTableUsesCaptionWhenPresent(t *testing.T) {
	elements := []models.Element{
		{ID: "e1", Kind: models.ElementTable, Page: 1, Caption: "Qty: 12 Concrete"},
	}
	chunks := Chunk(elements, testConfig(t))
	require.Len(t, chunks, 1)
	assert.Equal(t, models.ChunkContentTable, chunks[0].ContentType)
	assert.Equal(t, "Qty: 12 Concrete", chunks[0].Text)
	assert.Equal(t, []string{"e1"}, chunks[0].SourceElementIDs)
}

func TestChunkTableFallsBackToSerialization(t *testing.T) {
	elements := []models.Element{
		{ID: "e1", Kind: models.ElementTable, Page: 1, Text: "Material Qty Unit\nConcrete 12 m3"},
	}
	chunks := Chunk(elements, testConfig(t))
	require.Len(t, chunks, 1)
	assert.NotEmpty(t, chunks[0].Text)
	assert.Contains(t, chunks[0].Text, "Concrete")
}

func TestChunkFullPageImageSplitsWhenCaptionTooLong(t *testing.T) {
	cfg := testConfig(t)
	cfg.ChunkMaxSize = 50
	longCaption := strings.Repeat("word ", 40)
	elements := []models.Element{
		{ID: "e1", Kind: models.ElementImage, Page: 1, Caption: longCaption},
	}
	chunks := Chunk(elements, cfg)
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.Equal(t, models.ChunkContentFullPageImage, c.ContentType)
		assert.Equal(t, []string{"e1"}, c.SourceElementIDs)
	}
}

func TestChunkListGroupMergesWithPrecedingText(t *testing.T) {
	elements := []models.Element{
		{ID: "t1", Kind: models.ElementText, Page: 1, SectionTitle: "Scope", Text: "Submit the following:"},
		{ID: "l1", Kind: models.ElementListItem, Page: 1, Text: "shop drawings"},
		{ID: "l2", Kind: models.ElementListItem, Page: 1, Text: "material certificates"},
	}
	chunks := Chunk(elements, testConfig(t))
	require.Len(t, chunks, 1)
	assert.Equal(t, models.ChunkContentListGroup, chunks[0].ContentType)
	assert.Contains(t, chunks[0].Text, "shop drawings")
	assert.Contains(t, chunks[0].Text, "material certificates")
	assert.ElementsMatch(t, []string{"t1", "l1", "l2"}, chunks[0].SourceElementIDs)
}

func TestChunkTextConcatenatesSameSection(t *testing.T) {
	elements := []models.Element{
		{ID: "t1", Kind: models.ElementText, Page: 1, SectionTitle: "Scope", Text: "First sentence."},
		{ID: "t2", Kind: models.ElementText, Page: 1, SectionTitle: "Scope", Text: "Second sentence."},
		{ID: "t3", Kind: models.ElementText, Page: 2, SectionTitle: "Submittals", Text: "Different section."},
	}
	chunks := Chunk(elements, testConfig(t))
	require.Len(t, chunks, 2)
	assert.Contains(t, chunks[0].Text, "First sentence.")
	assert.Contains(t, chunks[0].Text, "Second sentence.")
	assert.Equal(t, "Submittals", chunks[1].SectionTitle)
}

func TestRecursiveSplitRespectsSeparatorOrder(t *testing.T) {
	text := strings.Repeat("a", 30) + "\n\n" + strings.Repeat("b", 30)
	parts := recursiveSplit(text, 30, 0, []string{"\n\n", "\n", ". ", " ", ""})
	require.Len(t, parts, 2)
	assert.True(t, strings.HasPrefix(parts[0], "aaa"))
	assert.True(t, strings.HasPrefix(parts[1], "bbb"))
}

func TestRecursiveSplitFallsBackToFixedWindow(t *testing.T) {
	text := strings.Repeat("x", 100)
	parts := recursiveSplit(text, 20, 0, []string{"\n\n", "\n", ". ", " ", ""})
	for _, p := range parts {
		assert.LessOrEqual(t, len(p), 20)
	}
}

func TestAdaptiveTargetSizeTable(t *testing.T) {
	assert.Equal(t, 1500, adaptiveTargetSize("simple"))
	assert.Equal(t, 1000, adaptiveTargetSize("medium"))
	assert.Equal(t, 600, adaptiveTargetSize("complex"))
}
