// Package vlmenrich implements the VLM Enricher (spec §4.8): for every
// table and full_page_image element it invokes the Model Gateway's
// Caption surface with a prompt template selected by element kind,
// parameterized by the Run's language, bounded to vlm.max_concurrent_calls
// in-flight requests.
//
// Grounded on internal/llm/provider.go's StreamHandler/image-payload
// conventions (teacher) for the VLM call shape, and on
// internal/rag/retrieve's bounded-concurrency pattern for the worker
// fan-out, generalized here with golang.org/x/sync/errgroup.
package vlmenrich

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/sync/errgroup"

	"constructionrag/internal/blobstore"
	"constructionrag/internal/modelgateway"
	"constructionrag/internal/models"
	"constructionrag/internal/observability"
	"constructionrag/internal/pipelineerrors"
)

// Cache stores VLM captions keyed by (image content hash, prompt hash) so
// identical image+prompt pairs across runs never re-invoke the model.
// Caption is returned ok=false on a miss. Put is last-write-wins under
// concurrent callers, matching spec §5's Run concurrency model.
type Cache interface {
	Caption(ctx context.Context, key string) (caption string, ok bool, err error)
	PutCaption(ctx context.Context, key string, caption string) error
}

// NoopCache never caches; every call reaches the Gateway.
type NoopCache struct{}

func (NoopCache) Caption(context.Context, string) (string, bool, error) { return "", false, nil }
func (NoopCache) PutCaption(context.Context, string, string) error      { return nil }

// Enricher invokes the VLM for every table/full_page_image element.
type Enricher struct {
	Gateway        *modelgateway.Gateway
	Blobs          *blobstore.Gateway
	Cache          Cache
	MaxConcurrency int
	Model          string
}

// New builds an Enricher with a no-op cache and concurrency of 4.
func New(gw *modelgateway.Gateway, blobs *blobstore.Gateway) *Enricher {
	return &Enricher{Gateway: gw, Blobs: blobs, Cache: NoopCache{}, MaxConcurrency: 4}
}

// Enrich captions every table/full_page_image element in place, bounded to
// MaxConcurrency in-flight Gateway calls. Non-image elements pass through
// untouched. A per-element captioning failure is recorded as an error but
// does not abort the other elements' processing — the enclosing Run's
// quality gate (spec §4.10) tolerates partial VLM coverage.
func (e *Enricher) Enrich(ctx context.Context, elements []models.Element, language string) ([]models.Element, error) {
	concurrency := e.MaxConcurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, concurrency)

	for i := range elements {
		i := i
		el := elements[i]
		if el.Kind != models.ElementTable && el.Kind != models.ElementImage {
			continue
		}
		g.Go(func() error {
			select {
			case sem <- struct{}{}:
			case <-gctx.Done():
				return gctx.Err()
			}
			defer func() { <-sem }()

			caption, err := e.captionOne(gctx, el, language)
			if err != nil {
				log := observability.LoggerWithTrace(gctx)
				log.Warn().Err(err).Str("element_id", el.ID).Msg("vlm_enrich_element_failed")
				return nil
			}
			elements[i].Caption = caption
			elements[i].VLMProcessed = true
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return elements, pipelineerrors.Model("vlmenrich.enrich", err)
	}
	return elements, nil
}

func (e *Enricher) captionOne(ctx context.Context, el models.Element, language string) (string, error) {
	if el.ImageBlobKey == "" {
		return "", fmt.Errorf("element %s has no image blob", el.ID)
	}
	rc, err := e.Blobs.Get(ctx, el.ImageBlobKey)
	if err != nil {
		return "", fmt.Errorf("fetch image %s: %w", el.ImageBlobKey, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return "", fmt.Errorf("read image %s: %w", el.ImageBlobKey, err)
	}

	prompt := promptFor(el.Kind, language)
	cacheKey := captionCacheKey(data, prompt)

	if cached, ok, err := e.Cache.Caption(ctx, cacheKey); err == nil && ok {
		return cached, nil
	}

	req := modelgateway.ChatRequest{
		Model: e.Model,
		Messages: []modelgateway.Message{
			{Role: modelgateway.RoleUser, Text: prompt, Images: []modelgateway.Image{
				{MIMEType: mimeTypeFor(data), Data: data},
			}},
		},
	}
	resp, err := e.Gateway.Caption(ctx, req)
	if err != nil {
		return "", err
	}
	if err := e.Cache.PutCaption(ctx, cacheKey, resp.Text); err != nil {
		log := observability.LoggerWithTrace(ctx)
		log.Warn().Err(err).Msg("vlm_enrich_cache_put_failed")
	}
	return resp.Text, nil
}

// promptFor selects the table or full-page prompt template (spec §4.8),
// parameterized by language.
func promptFor(kind models.ElementKind, language string) string {
	if kind == models.ElementTable {
		return tablePrompt(language)
	}
	return fullPagePrompt(language)
}

func tablePrompt(language string) string {
	return fmt.Sprintf(
		"Respond in %s. Transcribe this table in full: every cell value, the "+
			"table structure, any surrounding text labels, and technical codes or "+
			"measurements shown. Do not summarize — transcribe completely.",
		language)
}

func fullPagePrompt(language string) string {
	return fmt.Sprintf(
		"Respond in %s. This image is the primary and sole source of all text "+
			"on this page. Transcribe it completely: headers, body text, table "+
			"content, labels, measurements, technical codes, and footnotes. "+
			"Describe technical-drawing details and spatial relationships, and "+
			"call out any construction-specific information precisely.",
		language)
}

func captionCacheKey(imageData []byte, prompt string) string {
	h := sha256.New()
	h.Write(imageData)
	h.Write([]byte{'|'})
	h.Write([]byte(prompt))
	return hex.EncodeToString(h.Sum(nil))
}

func mimeTypeFor(data []byte) string {
	return http.DetectContentType(data)
}
