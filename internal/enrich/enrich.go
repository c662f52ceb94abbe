// Package enrich implements the Metadata Enricher (spec §4.7): a pure,
// deterministic annotation pass over partitioned elements. It never
// mutates element text and never performs I/O, mirroring the
// whitespace/hash normalization style of internal/rag/ingest/preprocess.go
// in the teacher repo.
package enrich

import (
	"regexp"
	"strings"

	"constructionrag/internal/models"
)

// headingPattern matches numbered-heading prefixes like "1.2.3 " or "4 ".
var headingPattern = regexp.MustCompile(`^\d+(\.\d+)*\s+\S`)

// technicalSymbolPattern matches characters common in construction technical
// notation: units, tolerances, and drawing references.
var technicalSymbolPattern = regexp.MustCompile(`[%°Ø±=<>/\\#@]`)

var numberPattern = regexp.MustCompile(`\d`)

var sentenceSplitPattern = regexp.MustCompile(`[.!?]+\s+`)

// Enrich annotates elements in place, in document order. It does not
// reorder or drop elements, and never touches Element.Text.
func Enrich(elements []models.Element) []models.Element {
	pageHasTable := make(map[int]bool)
	pageHasImage := make(map[int]bool)
	for _, e := range elements {
		switch e.Kind {
		case models.ElementTable:
			pageHasTable[e.Page] = true
		case models.ElementImage:
			pageHasImage[e.Page] = true
		}
	}

	currentSectionTitle := ""
	for i := range elements {
		e := &elements[i]

		if isHeading(e) {
			currentSectionTitle = strings.TrimSpace(e.Text)
		}
		if e.SectionTitle == "" {
			e.SectionTitle = currentSectionTitle
		}

		e.HasTablesOnPage = pageHasTable[e.Page]
		e.HasImagesOnPage = pageHasImage[e.Page]
		e.PageContext = classifyPageContext(e.HasTablesOnPage, e.HasImagesOnPage)
		e.TextComplexity = classifyTextComplexity(e.Text)
	}
	return elements
}

// isHeading reports whether an element looks like a numbered section
// heading: a text element whose content starts with a "1.2.3 " style
// prefix. This intentionally stays narrow — headings rendered in other
// styles fall through and simply inherit the prior title, which is the
// safer default per spec §4.7 (a).
func isHeading(e *models.Element) bool {
	if e.Kind != models.ElementText {
		return false
	}
	return headingPattern.MatchString(strings.TrimSpace(e.Text))
}

// classifyPageContext implements spec §4.7 (b).
func classifyPageContext(hasTables, hasImages bool) string {
	switch {
	case hasTables && hasImages:
		return "mixed"
	case hasTables:
		return "table_page"
	case hasImages:
		return "image_page"
	default:
		return "text_only"
	}
}

// classifyTextComplexity implements spec §4.7 (c): sentence length,
// technical-symbol density, and numeric density.
func classifyTextComplexity(text string) string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "simple"
	}

	words := strings.Fields(trimmed)
	sentences := sentenceSplitPattern.Split(trimmed, -1)
	nonEmptySentences := 0
	for _, s := range sentences {
		if strings.TrimSpace(s) != "" {
			nonEmptySentences++
		}
	}
	if nonEmptySentences == 0 {
		nonEmptySentences = 1
	}
	avgSentenceLen := float64(len(words)) / float64(nonEmptySentences)

	symbolCount := len(technicalSymbolPattern.FindAllString(trimmed, -1))
	numberCount := len(numberPattern.FindAllString(trimmed, -1))
	symbolDensity := float64(symbolCount) / float64(len(trimmed))
	numberDensity := float64(numberCount) / float64(len(trimmed))

	score := 0
	if avgSentenceLen > 25 {
		score++
	}
	if symbolDensity > 0.02 {
		score++
	}
	if numberDensity > 0.08 {
		score++
	}

	switch {
	case score >= 2:
		return "complex"
	case score == 1:
		return "medium"
	default:
		return "simple"
	}
}

// Score returns a numeric complexity value for downstream chunking (spec
// §4.9's "adaptive" strategy varies target chunk size with complexity).
func Score(complexity string) float64 {
	switch complexity {
	case "complex":
		return 1.0
	case "medium":
		return 0.5
	default:
		return 0.1
	}
}
