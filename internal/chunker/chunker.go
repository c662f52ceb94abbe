// Package chunker implements the Chunker (spec §4.9): it turns enriched
// elements, in document order, into the Chunk units the Embedder and
// retrieval pipeline operate on.
//
// Grounded on internal/rag/chunker/chunker.go's element-to-chunk shape and
// internal/textsplitters' Splitter interface (teacher), generalized from
// markdown/paragraph/sentence staged splitting to the spec's literal
// ordered-separator recursive cascade ("\n\n" > "\n" > ". " > " " > "").
package chunker

import (
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"

	"constructionrag/internal/enrich"
	"constructionrag/internal/models"
	"constructionrag/internal/pipelineconfig"
	"constructionrag/internal/textsplitters"
)

// adaptiveTargetSize implements spec §4.9's adaptive strategy table.
func adaptiveTargetSize(complexity string) int {
	switch complexity {
	case "simple":
		return 1500
	case "complex":
		return 600
	default:
		return 1000
	}
}

// Chunk implements spec §4.9 end to end over one document's enriched
// elements, honoring the Run's Snapshot for strategy/sizes/separators.
func Chunk(elements []models.Element, cfg pipelineconfig.Snapshot) []models.Chunk {
	var chunks []models.Chunk
	i := 0
	for i < len(elements) {
		el := elements[i]
		switch el.Kind {
		case models.ElementTable:
			chunks = append(chunks, chunkTable(el))
			i++
		case models.ElementImage:
			chunks = append(chunks, chunkFullPageImages(el, cfg)...)
			i++
		case models.ElementListItem:
			// spec §4.9 rule 3: a run of list items attaches to the
			// immediately preceding non-list text element. If the
			// previous chunk already consumed that text element (the
			// common case, since rule 4 runs left-to-right too), fold
			// the list-item group into it instead of re-emitting it.
			group, consumed := collectListGroup(elements, i)
			i += consumed
			if len(chunks) > 0 && chunks[len(chunks)-1].ContentType == models.ChunkContentText {
				chunks[len(chunks)-1] = mergeListGroup(chunks[len(chunks)-1], group)
			} else {
				chunks = append(chunks, chunkListGroup(group, cfg)...)
			}
		case models.ElementText:
			group, consumed := collectTextRun(elements, i)
			i += consumed
			chunks = append(chunks, chunkTextRun(group, cfg)...)
		default:
			i++
		}
	}
	return chunks
}

func chunkTable(el models.Element) models.Chunk {
	text := el.Caption
	if text == "" {
		text = serializeTableFallback(el.Text)
	}
	return models.Chunk{
		DocumentID:       el.DocumentID,
		Text:             text,
		Page:             el.Page,
		SectionPath:      []string{el.SectionTitle},
		SourceElementIDs: []string{el.ID},
		SectionTitle:     el.SectionTitle,
		PageContext:      el.PageContext,
		Complexity:       enrich.Score(el.TextComplexity),
		ContentType:      models.ChunkContentTable,
		VLMProcessed:      el.VLMProcessed,
		QualityOK:        true,
	}
}

// serializeTableFallback builds a minimal HTML table from the raw
// plain-text layout the partitioner extracted, then normalizes it through
// html-to-markdown so the embedded text keeps a stable, readable row/column
// structure even without a VLM caption.
func serializeTableFallback(rawText string) string {
	lines := strings.Split(strings.TrimSpace(rawText), "\n")
	var b strings.Builder
	b.WriteString("<table>")
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		b.WriteString("<tr>")
		for _, cell := range strings.Fields(line) {
			b.WriteString("<td>")
			b.WriteString(cell)
			b.WriteString("</td>")
		}
		b.WriteString("</tr>")
	}
	b.WriteString("</table>")

	md, err := htmltomarkdown.ConvertString(b.String())
	if err != nil {
		return rawText
	}
	return md
}

func chunkFullPageImages(el models.Element, cfg pipelineconfig.Snapshot) []models.Chunk {
	text := el.Caption
	base := models.Chunk{
		DocumentID:       el.DocumentID,
		Page:             el.Page,
		SectionPath:      []string{el.SectionTitle},
		SourceElementIDs: []string{el.ID},
		SectionTitle:     el.SectionTitle,
		PageContext:      el.PageContext,
		Complexity:       enrich.Score(el.TextComplexity),
		ContentType:      models.ChunkContentFullPageImage,
		VLMProcessed:      el.VLMProcessed,
		QualityOK:        true,
	}
	if len(text) <= cfg.ChunkMaxSize {
		base.Text = text
		return []models.Chunk{base}
	}
	// spec §4.9 rule 2: split semantically, preserving metadata on every
	// resulting chunk.
	parts := recursiveSplit(text, cfg.ChunkMaxSize, cfg.ChunkOverlapTokens, cfg.ChunkSeparators)
	out := make([]models.Chunk, 0, len(parts))
	for _, p := range parts {
		c := base
		c.Text = p
		out = append(out, c)
	}
	return out
}

// collectListGroup gathers a run of consecutive list_item elements starting
// at idx and returns how many elements it consumed.
func collectListGroup(elements []models.Element, idx int) ([]models.Element, int) {
	j := idx
	for j < len(elements) && elements[j].Kind == models.ElementListItem {
		j++
	}
	return elements[idx:j], j - idx
}

func chunkListGroup(group []models.Element, cfg pipelineconfig.Snapshot) []models.Chunk {
	if len(group) == 0 {
		return nil
	}
	text := joinElementText(group)
	first := group[0]
	ids := elementIDs(group)
	base := models.Chunk{
		DocumentID:       first.DocumentID,
		Page:             first.Page,
		SectionPath:      []string{first.SectionTitle},
		SourceElementIDs: ids,
		SectionTitle:     first.SectionTitle,
		PageContext:      first.PageContext,
		ContentType:      models.ChunkContentListGroup,
		QualityOK:        true,
	}
	return splitTextToChunks(text, base, cfg, group)
}

// mergeListGroup folds a trailing list_item run into the text chunk that
// precedes it, per spec §4.9 rule 3.
func mergeListGroup(prev models.Chunk, group []models.Element) models.Chunk {
	if len(group) == 0 {
		return prev
	}
	prev.Text = prev.Text + "\n" + joinElementText(group)
	prev.SourceElementIDs = append(prev.SourceElementIDs, elementIDs(group)...)
	prev.ContentType = models.ChunkContentListGroup
	return prev
}

// collectTextRun gathers consecutive text elements sharing the same
// inherited section title (spec §4.9 rule 4), returning how many elements
// it consumed.
func collectTextRun(elements []models.Element, idx int) ([]models.Element, int) {
	j := idx + 1
	for j < len(elements) && elements[j].Kind == models.ElementText && elements[j].SectionTitle == elements[idx].SectionTitle {
		j++
	}
	return elements[idx:j], j - idx
}

func chunkTextRun(group []models.Element, cfg pipelineconfig.Snapshot) []models.Chunk {
	if len(group) == 0 {
		return nil
	}
	text := joinElementText(group)
	first := group[0]
	base := models.Chunk{
		DocumentID:       first.DocumentID,
		Page:             first.Page,
		SectionPath:      []string{first.SectionTitle},
		SourceElementIDs: elementIDs(group),
		SectionTitle:     first.SectionTitle,
		PageContext:      first.PageContext,
		ContentType:      models.ChunkContentText,
		QualityOK:        true,
	}
	return splitTextToChunks(text, base, cfg, group)
}

// splitTextToChunks applies the Run's selected strategy (spec §4.9 rule 4)
// and stamps every resulting piece with the group's shared metadata.
func splitTextToChunks(text string, base models.Chunk, cfg pipelineconfig.Snapshot, group []models.Element) []models.Chunk {
	complexity := dominantComplexity(group)
	base.Complexity = enrich.Score(complexity)
	base.VLMProcessed = anyVLMProcessed(group)

	var parts []string
	switch cfg.ChunkingStrategy {
	case pipelineconfig.ChunkingAdaptive:
		target := adaptiveTargetSize(complexity)
		parts = recursiveSplit(text, target, cfg.ChunkOverlapTokens, cfg.ChunkSeparators)
	case pipelineconfig.ChunkingSemantic:
		if len(text) > cfg.ChunkMaxSize {
			parts = recursiveSplit(text, cfg.ChunkTargetTokens, cfg.ChunkOverlapTokens, cfg.ChunkSeparators)
		} else {
			parts = []string{text}
		}
	default: // recursive
		parts = recursiveSplit(text, cfg.ChunkTargetTokens, cfg.ChunkOverlapTokens, cfg.ChunkSeparators)
	}

	out := make([]models.Chunk, 0, len(parts))
	for _, p := range parts {
		c := base
		c.Text = p
		out = append(out, c)
	}
	return out
}

// recursiveSplit implements spec §4.9's ordered-separator cascade: try each
// separator in order, recursing into any piece still over targetSize, and
// fall back to a fixed character window (reusing
// textsplitters.NewFromConfig's KindFixed splitter) once no separator makes
// further progress.
func recursiveSplit(text string, targetSize, overlap int, separators []string) []string {
	if targetSize <= 0 {
		targetSize = 1000
	}
	if len(text) <= targetSize {
		if strings.TrimSpace(text) == "" {
			return nil
		}
		return []string{text}
	}
	return splitBySeparators(text, targetSize, overlap, separators)
}

func splitBySeparators(text string, targetSize, overlap int, separators []string) []string {
	if len(separators) == 0 {
		return fixedFallback(text, targetSize, overlap)
	}
	sep := separators[0]
	rest := separators[1:]

	var pieces []string
	if sep == "" {
		pieces = fixedFallback(text, targetSize, overlap)
		return pieces
	}
	pieces = strings.Split(text, sep)

	var out []string
	var buf strings.Builder
	flush := func() {
		chunk := strings.TrimSpace(buf.String())
		if chunk == "" {
			return
		}
		if len(chunk) > targetSize {
			out = append(out, splitBySeparators(chunk, targetSize, overlap, rest)...)
		} else {
			out = append(out, chunk)
		}
		buf.Reset()
	}
	for _, p := range pieces {
		candidate := buf.String()
		if candidate != "" {
			candidate += sep
		}
		candidate += p
		if len(candidate) > targetSize && buf.Len() > 0 {
			flush()
			buf.WriteString(p)
		} else {
			buf.Reset()
			buf.WriteString(candidate)
		}
	}
	flush()
	return out
}

// fixedFallback exercises the teacher's character-window splitter
// (textsplitters.KindFixed) as the terminal step of the separator cascade,
// once "" has been reached and nothing smaller can be found semantically.
func fixedFallback(text string, targetSize, overlap int) []string {
	splitter, err := textsplitters.NewFromConfig(textsplitters.Config{
		Kind: textsplitters.KindFixed,
		Fixed: textsplitters.FixedConfig{
			Unit:    textsplitters.UnitChars,
			Size:    targetSize,
			Overlap: overlap,
		},
	})
	if err != nil {
		return []string{text}
	}
	return splitter.Split(text)
}

func joinElementText(group []models.Element) string {
	parts := make([]string, 0, len(group))
	for _, e := range group {
		if strings.TrimSpace(e.Text) != "" {
			parts = append(parts, e.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func elementIDs(group []models.Element) []string {
	ids := make([]string, len(group))
	for i, e := range group {
		ids[i] = e.ID
	}
	return ids
}

// complexityLevels fixes the iteration order dominantComplexity scans in, so
// that ties between levels resolve the same way on every run regardless of
// Go's randomized map order.
var complexityLevels = []string{"simple", "medium", "complex"}

func dominantComplexity(group []models.Element) string {
	counts := map[string]int{}
	for _, e := range group {
		counts[e.TextComplexity]++
	}
	best := "simple"
	bestN := -1
	for _, k := range complexityLevels {
		if n := counts[k]; n > bestN {
			best, bestN = k, n
		}
	}
	return best
}

func anyVLMProcessed(group []models.Element) bool {
	for _, e := range group {
		if e.VLMProcessed {
			return true
		}
	}
	return false
}
