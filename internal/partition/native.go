package partition

import (
	"bytes"
	"context"
	"fmt"

	pdflib "github.com/ledongthuc/pdf"

	"constructionrag/internal/blobstore"
	"constructionrag/internal/models"
)

// dpiForComplexity scales rendering resolution by page complexity (spec
// §4.6 Stage 4: "DPI matrix scaled by complexity (fragmented > complex >
// simple)") — denser pages get more pixels so VLM captioning has enough
// detail to transcribe small print.
func dpiForComplexity(c PageComplexity) int {
	switch c {
	case ComplexityFragmented:
		return 300
	case ComplexityComplex:
		return 200
	default:
		return 150
	}
}

// runNative executes Stages 2-4 of the native-path pipeline (spec §4.6)
// against a shared Stage 1 PageAnalysis map.
func runNative(ctx context.Context, documentID, runID, pdfPath string, r *pdflib.Reader, analysis map[int]PageAnalysis, renderer Renderer, gw *blobstore.Gateway) (Result, error) {
	result := Result{
		ExtractedPages:     make(map[int]ExtractedPage),
		PageAnalysis:       analysis,
		ProcessingStrategy: "native",
		DocumentMetadata:   DocumentMetadata{TotalPages: r.NumPage()},
	}

	elementSeq := 0
	nextID := func() string {
		elementSeq++
		return fmt.Sprintf("%s-el-%d", documentID, elementSeq)
	}

	for page := 1; page <= r.NumPage(); page++ {
		pa := analysis[page]

		// Stage 2: selectable text, skipped entirely on pages needing
		// extraction — those are represented only by VLM captions.
		if !pa.NeedsExtraction {
			p := r.Page(page)
			if !p.V.IsNull() {
				text, err := p.GetPlainText(nil)
				if err == nil && text != "" {
					result.TextElements = append(result.TextElements, models.Element{
						ID:         nextID(),
						DocumentID: documentID,
						RunID:      runID,
						Page:       page,
						Kind:       models.ElementText,
						Text:       text,
					})
				}
			}
			continue
		}

		// Stage 3: table extraction — crop each detected table region.
		handledAsTable := false
		if len(pa.Tables) > 0 {
			dpi := dpiForComplexity(pa.Complexity)
			pagePNG, err := renderer.RenderPageToPNG(ctx, pdfPath, page, dpi)
			if err == nil {
				for _, region := range pa.Tables {
					cropped, err := cropRegion(pagePNG, region, dpi)
					if err != nil {
						continue
					}
					key, err := gw.PutTableImage(ctx, documentID, page, nextID(), bytes.NewReader(cropped))
					if err != nil {
						continue
					}
					result.TableElements = append(result.TableElements, models.Element{
						ID:           key,
						DocumentID:   documentID,
						RunID:        runID,
						Page:         page,
						Kind:         models.ElementTable,
						ImageBlobKey: key,
						Complexity:   complexityScore(pa.Complexity),
					})
					handledAsTable = true
				}
			}
		}

		// Stage 4: full-page image — only if the page wasn't fully
		// resolved as a pure table above.
		if !handledAsTable {
			dpi := dpiForComplexity(pa.Complexity)
			pagePNG, err := renderer.RenderPageToPNG(ctx, pdfPath, page, dpi)
			if err != nil {
				continue // partial page failure: skip, do not fail the Run
			}
			key, err := gw.PutPageImage(ctx, documentID, page, bytes.NewReader(pagePNG))
			if err != nil {
				continue
			}
			result.ExtractedPages[page] = ExtractedPage{Page: page, BlobKey: key, DPI: dpi, Complexity: pa.Complexity}
			result.TableElements = append(result.TableElements, models.Element{
				ID:              fmt.Sprintf("%s-page-%d", documentID, page),
				DocumentID:      documentID,
				RunID:           runID,
				Page:            page,
				Kind:            models.ElementImage,
				ImageBlobKey:    key,
				Complexity:      complexityScore(pa.Complexity),
				NeedsExtraction: true,
			})
		}
	}

	return result, nil
}

func complexityScore(c PageComplexity) float64 {
	switch c {
	case ComplexityFragmented:
		return 1.0
	case ComplexityComplex:
		return 0.7
	case ComplexitySimple:
		return 0.3
	default:
		return 0.0
	}
}
