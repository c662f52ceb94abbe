package partition

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	pdflib "github.com/ledongthuc/pdf"
	pdfcpuapi "github.com/pdfcpu/pdfcpu/pkg/api"
)

// analyzeDocument runs Stage 1 (structural analysis) plus the scanned/
// native detection pass over the first sampleN pages, producing one
// PageAnalysis artifact per page that both the native and scanned paths
// consume (spec §9 "single shared page-analysis artefact").
func analyzeDocument(ctx context.Context, pdfPath string, sampleN, textThreshold, meaningfulImageMinPixels, dupHashWindow int) (map[int]PageAnalysis, bool, error) {
	f, r, err := pdflib.Open(pdfPath)
	if err != nil {
		return nil, false, fmt.Errorf("partition: open pdf: %w", err)
	}
	defer f.Close()

	total := r.NumPage()
	analysis := make(map[int]PageAnalysis, total)

	imagesByPage, err := extractImageRegions(pdfPath, total)
	if err != nil {
		// Image extraction failure degrades gracefully: treat the
		// document as image-free rather than failing the whole Run.
		imagesByPage = map[int][]ImageRegion{}
	}
	seenHashes := newLRUSet(dupHashWindow)

	sampledChars := 0
	sampledPages := 0
	sawMeaningfulImageNoText := false

	for page := 1; page <= total; page++ {
		p := r.Page(page)
		text := ""
		if !p.V.IsNull() {
			text, _ = p.GetPlainText(nil)
		}

		rawImages := imagesByPage[page]
		meaningful := make([]ImageRegion, 0, len(rawImages))
		for _, img := range rawImages {
			if img.WidthPx*img.HeightPx < meaningfulImageMinPixels {
				continue
			}
			if seenHashes.seenBefore(img.ContentKey) {
				continue // logo-suppression: drop repeated raster content
			}
			meaningful = append(meaningful, img)
		}

		tables := detectTableRegions(page, text)

		complexity := classifyComplexity(len(meaningful), len(tables), len(text))
		needsExtraction := len(tables) > 0 || complexity == ComplexityComplex || complexity == ComplexityFragmented

		analysis[page] = PageAnalysis{
			Page:            page,
			Images:          meaningful,
			Tables:          tables,
			Complexity:      complexity,
			NeedsExtraction: needsExtraction,
			SelectableChars: len(text),
		}

		if page <= sampleN {
			sampledChars += len(text)
			sampledPages++
			if len(meaningful) >= 2 && len(text) == 0 {
				sawMeaningfulImageNoText = true
			}
		}
	}

	avgChars := 0
	if sampledPages > 0 {
		avgChars = sampledChars / sampledPages
	}
	scanned := avgChars < textThreshold || sawMeaningfulImageNoText
	return analysis, scanned, nil
}

func classifyComplexity(meaningfulImages, tables, textLen int) PageComplexity {
	switch {
	case meaningfulImages >= 4:
		return ComplexityFragmented
	case tables > 0 || meaningfulImages >= 1:
		return ComplexityComplex
	case textLen == 0:
		return ComplexitySimple
	default:
		return ComplexityTextOnly
	}
}

// detectTableRegions applies a grid heuristic over the page's plain-text
// layout: ledongthuc/pdf exposes no table-structure API, and no pack
// dependency performs table detection, so presence of evenly-spaced
// multi-column rows (tab/space-aligned numeric or short tokens) is taken as
// a table signal. This intentionally over-approximates rather than misses
// tables outright — missed tables silently degrade to prose chunks, which
// is worse than an occasional false positive re-rendered as an image chunk.
var tableRowPattern = regexp.MustCompile(`(\S+[ \t]{2,}){2,}\S+`)

func detectTableRegions(page int, text string) []TableRegion {
	matches := tableRowPattern.FindAllStringIndex(text, -1)
	if len(matches) < 3 {
		return nil
	}
	// Heuristic bounding box: without real glyph coordinates this covers
	// the full page; Stage 3 crops the whole page into the table region.
	return []TableRegion{{Page: page, X0: 0, Y0: 0, X1: 612, Y1: 792}}
}

func extractImageRegions(pdfPath string, totalPages int) (map[int][]ImageRegion, error) {
	outDir, err := os.MkdirTemp("", "partition-images-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(outDir)

	pages := make([]string, totalPages)
	for i := 0; i < totalPages; i++ {
		pages[i] = strconv.Itoa(i + 1)
	}
	if err := pdfcpuapi.ExtractImagesFile(pdfPath, outDir, pages, nil); err != nil {
		return nil, fmt.Errorf("extract images: %w", err)
	}

	entries, err := os.ReadDir(outDir)
	if err != nil {
		return nil, err
	}
	pageFromName := regexp.MustCompile(`_(\d+)_`)
	out := make(map[int][]ImageRegion)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(outDir, e.Name()))
		if err != nil {
			continue
		}
		cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			continue
		}
		page := 1
		if m := pageFromName.FindStringSubmatch(e.Name()); len(m) == 2 {
			if n, err := strconv.Atoi(m[1]); err == nil {
				page = n
			}
		}
		sum := sha256.Sum256(data)
		out[page] = append(out[page], ImageRegion{
			Page:       page,
			WidthPx:    cfg.Width,
			HeightPx:   cfg.Height,
			ContentKey: hex.EncodeToString(sum[:]),
		})
	}
	return out, nil
}

// lruSet is a fixed-window duplicate detector for logo suppression (spec
// §4.6 "excluding duplicates across pages ... hash raster content and drop
// repeats"): only the most recent `window` distinct hashes are remembered,
// so a logo reappearing after the window has rolled over is treated as new
// (bounded memory, matching "configurable window size" from §9).
type lruSet struct {
	window int
	order  []string
	seen   map[string]bool
}

func newLRUSet(window int) *lruSet {
	if window <= 0 {
		window = 64
	}
	return &lruSet{window: window, seen: make(map[string]bool)}
}

func (l *lruSet) seenBefore(key string) bool {
	if l.seen[key] {
		return true
	}
	l.seen[key] = true
	l.order = append(l.order, key)
	if len(l.order) > l.window {
		oldest := l.order[0]
		l.order = l.order[1:]
		delete(l.seen, oldest)
	}
	return false
}
