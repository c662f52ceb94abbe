// Package ocr provides the scanned-path text extraction boundary (spec
// §4.6 "Scanned-path pipeline: delegate text extraction to a high-resolution
// OCR library configured with the document's language"). No Go OCR binding
// appears anywhere in the example pack, so this is a thin interface with a
// default adapter that shells out to the `tesseract` CLI — the common
// real-world pattern for Go OCR wrappers when no native binding exists.
package ocr

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Engine extracts plain text from a rendered page image.
type Engine interface {
	ExtractText(ctx context.Context, pageImagePNG []byte, language string) (string, error)
}

// Tesseract shells out to a `tesseract` binary on PATH. Language is mapped
// to tesseract's ISO 639-2 trained-data codes: "danish" or "da" selects
// "dan", and any other value selects "eng".
type Tesseract struct {
	BinaryPath string // defaults to "tesseract"
}

func NewTesseract() *Tesseract {
	return &Tesseract{BinaryPath: "tesseract"}
}

func (t *Tesseract) langCode(language string) string {
	switch strings.ToLower(language) {
	case "danish", "da":
		return "dan"
	default:
		return "eng"
	}
}

func (t *Tesseract) ExtractText(ctx context.Context, pageImagePNG []byte, language string) (string, error) {
	bin := t.BinaryPath
	if bin == "" {
		bin = "tesseract"
	}
	tmp, err := os.CreateTemp("", "ocr-page-*.png")
	if err != nil {
		return "", fmt.Errorf("ocr: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(pageImagePNG); err != nil {
		tmp.Close()
		return "", fmt.Errorf("ocr: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("ocr: close temp file: %w", err)
	}

	// An output base of "stdout" makes tesseract write the recognized text
	// to standard output instead of a "<base>.txt" file.
	cmd := exec.CommandContext(ctx, bin, tmp.Name(), "stdout", "-l", t.langCode(language))
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("ocr: tesseract failed: %w: %s", err, stderr.String())
	}
	return stdout.String(), nil
}
