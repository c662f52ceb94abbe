// Package partition implements the Partitioner (spec §4.6): it turns a PDF
// into categorised elements (text, table, full-page-image) using a hybrid
// scanned/native strategy, sharing one page-analysis pass across both paths.
package partition

import (
	"sort"

	"constructionrag/internal/models"
)

// PageComplexity classifies how much non-text content a page carries.
type PageComplexity string

const (
	ComplexityTextOnly   PageComplexity = "text_only"
	ComplexitySimple     PageComplexity = "simple"
	ComplexityComplex    PageComplexity = "complex"
	ComplexityFragmented PageComplexity = "fragmented"
)

// TableRegion is a detected table's bounding box on a page, in PDF points.
type TableRegion struct {
	Page       int
	X0, Y0     float64
	X1, Y1     float64
}

// ImageRegion is a detected raster image on a page.
type ImageRegion struct {
	Page       int
	WidthPx    int
	HeightPx   int
	ContentKey string // hash of raster bytes, used for logo-suppression
}

// PageAnalysis is the Stage 1 structural-analysis artifact for one page,
// shared between the native and scanned paths (spec §9 Open Question:
// "a single shared page-analysis artefact is preferable").
type PageAnalysis struct {
	Page            int
	Images          []ImageRegion
	Tables          []TableRegion
	Complexity      PageComplexity
	NeedsExtraction bool
	SelectableChars int
}

// DocumentMetadata carries the partitioner's document-level summary.
type DocumentMetadata struct {
	Title      string
	TotalPages int
}

// ExtractedPage records a rendered page/region image written to blob
// storage, alongside the DPI used and the complexity that drove it.
type ExtractedPage struct {
	Page        int
	BlobKey     string
	DPI         int
	Complexity  PageComplexity
}

// Result is the Partitioner's output contract (spec §4.6 "Output
// contract"): identical shape regardless of which path (native/scanned)
// produced it.
type Result struct {
	TextElements        []models.Element
	TableElements       []models.Element
	ExtractedPages      map[int]ExtractedPage
	PageAnalysis        map[int]PageAnalysis
	DocumentMetadata    DocumentMetadata
	ProcessingStrategy  string // "native" or "scanned" or "scanned_fallback_native"
}

// Elements returns every element this Result carries, text and
// table/image alike, in page order (stable within a page, text before
// table/image). Downstream stages (C7-C9) operate on this flattened view
// rather than the two separate slices.
func (r Result) Elements() []models.Element {
	all := make([]models.Element, 0, len(r.TextElements)+len(r.TableElements))
	all = append(all, r.TextElements...)
	all = append(all, r.TableElements...)
	sort.SliceStable(all, func(i, j int) bool { return all[i].Page < all[j].Page })
	return all
}
