package partition

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"

	pdfcpuapi "github.com/pdfcpu/pdfcpu/pkg/api"
)

// Renderer turns PDF pages into raster images. pdfcpu itself only extracts
// embedded images and page content — it does not rasterize a page's full
// visual layout — so full-page rasterization is delegated to the `pdftoppm`
// binary (poppler-utils), the standard external pairing for Go PDF
// pipelines that need page-to-PNG conversion without a CGO-bound renderer.
type Renderer interface {
	RenderPageToPNG(ctx context.Context, pdfPath string, page, dpi int) ([]byte, error)
}

// PopplerRenderer shells out to pdftoppm.
type PopplerRenderer struct {
	BinaryPath string // defaults to "pdftoppm"
}

func NewPopplerRenderer() *PopplerRenderer {
	return &PopplerRenderer{BinaryPath: "pdftoppm"}
}

func (r *PopplerRenderer) RenderPageToPNG(ctx context.Context, pdfPath string, page, dpi int) ([]byte, error) {
	bin := r.BinaryPath
	if bin == "" {
		bin = "pdftoppm"
	}
	outDir, err := os.MkdirTemp("", "partition-render-*")
	if err != nil {
		return nil, fmt.Errorf("render: mkdtemp: %w", err)
	}
	defer os.RemoveAll(outDir)

	outBase := filepath.Join(outDir, "page")
	cmd := exec.CommandContext(ctx, bin,
		"-png", "-r", fmt.Sprintf("%d", dpi),
		"-f", fmt.Sprintf("%d", page), "-l", fmt.Sprintf("%d", page),
		pdfPath, outBase,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("render: pdftoppm failed: %w: %s", err, stderr.String())
	}

	// pdftoppm names single-page output "<base>-<page>.png" or
	// "<base>.png" when -f/-l bound a single page with old versions; try
	// both conventions.
	candidates := []string{
		fmt.Sprintf("%s-%d.png", outBase, page),
		fmt.Sprintf("%s.png", outBase),
	}
	for _, c := range candidates {
		if data, err := os.ReadFile(c); err == nil {
			return data, nil
		}
	}
	return nil, fmt.Errorf("render: no output produced for page %d", page)
}

// cropRegion crops a PNG-encoded page image to the pixel rectangle
// corresponding to a TableRegion (PDF points scaled by dpi/72), using the
// standard library's image package — a plain rectangle copy needs no
// third-party imaging dependency.
func cropRegion(pagePNG []byte, region TableRegion, dpi int) ([]byte, error) {
	img, err := png.Decode(bytes.NewReader(pagePNG))
	if err != nil {
		return nil, fmt.Errorf("crop: decode page png: %w", err)
	}
	scale := float64(dpi) / 72.0
	rect := image.Rect(
		int(region.X0*scale), int(region.Y0*scale),
		int(region.X1*scale), int(region.Y1*scale),
	).Intersect(img.Bounds())
	if rect.Empty() {
		return nil, fmt.Errorf("crop: region outside page bounds")
	}

	cropped := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	for y := 0; y < rect.Dy(); y++ {
		for x := 0; x < rect.Dx(); x++ {
			cropped.Set(x, y, img.At(rect.Min.X+x, rect.Min.Y+y))
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, cropped); err != nil {
		return nil, fmt.Errorf("crop: encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// pageCount returns a PDF's page count via pdfcpu. Stage 1 and the
// detection sampling window take the page count from ledongthuc/pdf's
// NumPage instead; nothing in this package calls pageCount.
func pageCount(pdfPath string) (int, error) {
	return pdfcpuapi.PageCountFile(pdfPath)
}
