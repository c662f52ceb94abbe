package partition

import (
	"context"
	"fmt"

	pdflib "github.com/ledongthuc/pdf"

	"constructionrag/internal/blobstore"
	"constructionrag/internal/partition/ocr"
	"constructionrag/internal/pipelineconfig"
	"constructionrag/internal/pipelineerrors"
)

// Partitioner runs the hybrid scanned/native pipeline over one PDF.
type Partitioner struct {
	Renderer Renderer
	OCR      ocr.Engine
	Blobs    *blobstore.Gateway
}

// New builds a Partitioner with the default poppler renderer and tesseract
// OCR engine.
func New(blobs *blobstore.Gateway) *Partitioner {
	return &Partitioner{
		Renderer: NewPopplerRenderer(),
		OCR:      ocr.NewTesseract(),
		Blobs:    blobs,
	}
}

// Partition implements spec §4.6 end to end: detection, then native or
// scanned path, with OCR-failure fallback to native.
func (p *Partitioner) Partition(ctx context.Context, documentID, runID, pdfPath string, cfg pipelineconfig.Snapshot) (Result, error) {
	f, r, err := pdflib.Open(pdfPath)
	if err != nil {
		return Result{}, pipelineerrors.Partition("partition.open", fmt.Errorf("unreadable pdf %s: %w", pdfPath, err))
	}
	defer f.Close()
	totalPages := r.NumPage()

	analysis, scanned, err := analyzeDocument(ctx, pdfPath,
		cfg.PartitionScannedSamplePages, cfg.PartitionScannedTextThreshold,
		cfg.PartitionMeaningfulImageMinPixels, cfg.PartitionDupHashWindow)
	if err != nil {
		return Result{}, pipelineerrors.Partition("partition.analyze", err)
	}

	if !cfg.PartitionHybridMode {
		scanned = false
	}

	if scanned {
		result, err := runScanned(ctx, documentID, runID, pdfPath, totalPages, analysis, p.OCR, p.Renderer, p.Blobs, cfg.Language)
		if err != nil {
			// Scanned-path failure falls back to native and logs the
			// degradation (spec §4.6 "On failure, fall back to the
			// native path").
			native, nativeErr := runNative(ctx, documentID, runID, pdfPath, r, analysis, p.Renderer, p.Blobs)
			if nativeErr != nil {
				return Result{}, pipelineerrors.Partition("partition.scanned_fallback", nativeErr)
			}
			native.ProcessingStrategy = "scanned_fallback_native"
			return native, nil
		}
		return result, nil
	}

	result, err := runNative(ctx, documentID, runID, pdfPath, r, analysis, p.Renderer, p.Blobs)
	if err != nil {
		return Result{}, pipelineerrors.Partition("partition.native", err)
	}
	return result, nil
}
