package partition

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"constructionrag/internal/models"
)

func TestClassifyComplexity(t *testing.T) {
	assert.Equal(t, ComplexityFragmented, classifyComplexity(5, 0, 10))
	assert.Equal(t, ComplexityComplex, classifyComplexity(1, 0, 10))
	assert.Equal(t, ComplexityComplex, classifyComplexity(0, 1, 10))
	assert.Equal(t, ComplexitySimple, classifyComplexity(0, 0, 0))
	assert.Equal(t, ComplexityTextOnly, classifyComplexity(0, 0, 10))
}

func TestDetectTableRegionsRequiresMultipleAlignedRows(t *testing.T) {
	noTable := detectTableRegions(1, "just some prose with no columns at all")
	assert.Nil(t, noTable)

	tableText := strings.Join([]string{
		"Material   Qty   Unit",
		"Concrete   12    m3",
		"Rebar      400   kg",
	}, "\n")
	regions := detectTableRegions(1, tableText)
	assert.Len(t, regions, 1)
}

func TestLRUSetSuppressesDuplicatesWithinWindow(t *testing.T) {
	s := newLRUSet(2)
	assert.False(t, s.seenBefore("a"))
	assert.True(t, s.seenBefore("a"))
	assert.False(t, s.seenBefore("b"))
	assert.False(t, s.seenBefore("c")) // window=2 evicts "a"
	assert.False(t, s.seenBefore("a")) // "a" was evicted, treated as new
}

func TestDPIScalesWithComplexity(t *testing.T) {
	assert.Greater(t, dpiForComplexity(ComplexityFragmented), dpiForComplexity(ComplexityComplex))
	assert.Greater(t, dpiForComplexity(ComplexityComplex), dpiForComplexity(ComplexitySimple))
}

func TestResultElementsSortedByPage(t *testing.T) {
	r := Result{
		TextElements:  []models.Element{{Page: 2, ID: "t2"}, {Page: 1, ID: "t1"}},
		TableElements: []models.Element{{Page: 1, ID: "tbl1"}},
	}
	all := r.Elements()
	assert.Len(t, all, 3)
	assert.Equal(t, 2, all[len(all)-1].Page)
}
