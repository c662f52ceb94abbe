package enrich

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"constructionrag/internal/models"
)

func TestEnrichPropagatesSectionTitle(t *testing.T) {
	elements := []models.Element{
		{Kind: models.ElementText, Page: 1, Text: "1.2 Structural Loads"},
		{Kind: models.ElementText, Page: 1, Text: "Loads are computed per code."},
		{Kind: models.ElementText, Page: 1, Text: "2 Foundations"},
		{Kind: models.ElementText, Page: 2, Text: "Footings bear on compacted fill."},
	}
	out := Enrich(elements)
	assert.Equal(t, "1.2 Structural Loads", out[1].SectionTitle)
	assert.Equal(t, "2 Foundations", out[3].SectionTitle)
}

func TestEnrichDoesNotMutateText(t *testing.T) {
	elements := []models.Element{
		{Kind: models.ElementText, Page: 1, Text: "some body text"},
	}
	out := Enrich(elements)
	assert.Equal(t, "some body text", out[0].Text)
}

func TestEnrichFlagsPageContext(t *testing.T) {
	elements := []models.Element{
		{Kind: models.ElementTable, Page: 1, Text: "Material Qty Unit"},
		{Kind: models.ElementText, Page: 1, Text: "see table above"},
		{Kind: models.ElementText, Page: 2, Text: "plain text page"},
		{Kind: models.ElementImage, Page: 3, Text: ""},
		{Kind: models.ElementText, Page: 3, Text: "figure caption"},
	}
	out := Enrich(elements)
	assert.Equal(t, "table_page", out[0].PageContext)
	assert.Equal(t, "table_page", out[1].PageContext)
	assert.Equal(t, "text_only", out[2].PageContext)
	assert.Equal(t, "image_page", out[3].PageContext)
	assert.Equal(t, "image_page", out[4].PageContext)
}

func TestEnrichFlagsMixedPage(t *testing.T) {
	elements := []models.Element{
		{Kind: models.ElementTable, Page: 1, Text: "Material Qty Unit"},
		{Kind: models.ElementImage, Page: 1, Text: ""},
	}
	out := Enrich(elements)
	assert.Equal(t, "mixed", out[0].PageContext)
	assert.True(t, out[0].HasTablesOnPage)
	assert.True(t, out[0].HasImagesOnPage)
}

func TestClassifyTextComplexity(t *testing.T) {
	assert.Equal(t, "simple", classifyTextComplexity(""))
	assert.Equal(t, "simple", classifyTextComplexity("Short clean sentence."))
	assert.Equal(t, "complex", classifyTextComplexity(
		"Provide reinforcement at 150mm o.c. ± 10% per Ø12 bars, Qty=24, ref §4.2/3.1, tolerance <5% and >95% compaction with 200 anchors @ 300mm spacing across the full slab perimeter and every intermediate bay"))
}

func TestScoreOrdering(t *testing.T) {
	assert.Greater(t, Score("complex"), Score("medium"))
	assert.Greater(t, Score("medium"), Score("simple"))
}
