package partition

import (
	"bytes"
	"context"
	"fmt"

	"constructionrag/internal/blobstore"
	"constructionrag/internal/models"
	"constructionrag/internal/partition/ocr"
)

// runScanned executes the scanned-path pipeline (spec §4.6): OCR every page
// not flagged needs_extraction, reusing the same shared PageAnalysis the
// native path would have computed. Pages needing extraction still go
// through table/full-page rendering exactly like the native path — only
// text extraction differs (OCR instead of selectable-text). runScanned does
// that table/page rendering itself in the same page loop; it does not call
// runNative.
func runScanned(ctx context.Context, documentID, runID, pdfPath string, totalPages int, analysis map[int]PageAnalysis, engine ocr.Engine, renderer Renderer, gw *blobstore.Gateway, language string) (Result, error) {
	result := Result{
		ExtractedPages:     make(map[int]ExtractedPage),
		PageAnalysis:       analysis,
		ProcessingStrategy: "scanned",
		DocumentMetadata:   DocumentMetadata{TotalPages: totalPages},
	}

	elementSeq := 0
	nextID := func() string {
		elementSeq++
		return fmt.Sprintf("%s-el-%d", documentID, elementSeq)
	}

	for page := 1; page <= totalPages; page++ {
		pa := analysis[page]

		if pa.NeedsExtraction {
			handledAsTable := false
			dpi := dpiForComplexity(pa.Complexity)
			pagePNG, err := renderer.RenderPageToPNG(ctx, pdfPath, page, dpi)
			if err != nil {
				continue
			}
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
			if !handledAsTable {
				key, err := gw.PutPageImage(ctx, documentID, page, bytes.NewReader(pagePNG))
				if err == nil {
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
			// Same contract as the native path: skip text extraction on
			// pages needing extraction (spec §4.6).
			continue
		}

		dpi := 150
		pagePNG, err := renderer.RenderPageToPNG(ctx, pdfPath, page, dpi)
		if err != nil {
			continue // partial page failure does not fail the Run
		}
		text, err := engine.ExtractText(ctx, pagePNG, language)
		if err != nil || text == "" {
			continue
		}
		result.TextElements = append(result.TextElements, models.Element{
			ID:         nextID(),
			DocumentID: documentID,
			RunID:      runID,
			Page:       page,
			Kind:       models.ElementText,
			Text:       text,
		})
	}

	return result, nil
}
