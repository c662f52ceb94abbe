package vlmenrich

import (
	"bytes"
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"constructionrag/internal/blobstore"
	"constructionrag/internal/modelgateway"
	"constructionrag/internal/models"
	"constructionrag/internal/objectstore"
)

type fakeVLM struct {
	calls int32
}

func (f *fakeVLM) Name() string { return "fake-vlm" }

func (f *fakeVLM) Caption(_ context.Context, req modelgateway.ChatRequest) (modelgateway.ChatResponse, error) {
	atomic.AddInt32(&f.calls, 1)
	return modelgateway.ChatResponse{Text: "caption: " + req.Messages[0].Text}, nil
}

func newTestEnricher(t *testing.T, vlm *fakeVLM) (*Enricher, *blobstore.Gateway) {
	t.Helper()
	gw := modelgateway.New(nil, vlm, nil, modelgateway.Options{})
	blobs := blobstore.New(objectstore.NewMemoryStore())
	e := New(gw, blobs)
	return e, blobs
}

func putPNG(t *testing.T, blobs *blobstore.Gateway, documentID string, page int, elementID string) string {
	t.Helper()
	png := []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}
	key, err := blobs.PutTableImage(context.Background(), documentID, page, elementID, bytes.NewReader(png))
	require.NoError(t, err)
	return key
}

func TestEnrichCaptionsTablesAndImages(t *testing.T) {
	vlm := &fakeVLM{}
	e, blobs := newTestEnricher(t, vlm)
	tableKey := putPNG(t, blobs, "doc1", 1, "el-table")

	elements := []models.Element{
		{ID: "el-table", Kind: models.ElementTable, Page: 1, ImageBlobKey: tableKey},
		{ID: "el-text", Kind: models.ElementText, Page: 1, Text: "prose"},
	}

	out, err := e.Enrich(context.Background(), elements, "english")
	require.NoError(t, err)
	assert.True(t, out[0].VLMProcessed)
	assert.Contains(t, out[0].Caption, "caption:")
	assert.False(t, out[1].VLMProcessed)
	assert.Equal(t, int32(1), atomic.LoadInt32(&vlm.calls))
}

func TestEnrichSkipsElementWithoutBlob(t *testing.T) {
	vlm := &fakeVLM{}
	e, _ := newTestEnricher(t, vlm)
	elements := []models.Element{
		{ID: "el-table", Kind: models.ElementTable, Page: 1},
	}
	out, err := e.Enrich(context.Background(), elements, "english")
	require.NoError(t, err)
	assert.False(t, out[0].VLMProcessed)
	assert.Equal(t, int32(0), atomic.LoadInt32(&vlm.calls))
}

func TestPromptForSelectsTemplateByKind(t *testing.T) {
	tablePrompt := promptFor(models.ElementTable, "english")
	imagePrompt := promptFor(models.ElementImage, "english")
	assert.Contains(t, tablePrompt, "table")
	assert.Contains(t, imagePrompt, "primary and sole source")
}

func TestMemoryCacheReusesCaption(t *testing.T) {
	vlm := &fakeVLM{}
	e, blobs := newTestEnricher(t, vlm)
	e.Cache = newMemoryCache()
	tableKey := putPNG(t, blobs, "doc1", 1, "el-table")

	elements := []models.Element{{ID: "el-table", Kind: models.ElementTable, Page: 1, ImageBlobKey: tableKey}}
	_, err := e.Enrich(context.Background(), elements, "english")
	require.NoError(t, err)

	elements2 := []models.Element{{ID: "el-table-2", Kind: models.ElementTable, Page: 1, ImageBlobKey: tableKey}}
	out2, err := e.Enrich(context.Background(), elements2, "english")
	require.NoError(t, err)
	assert.True(t, out2[0].VLMProcessed)
	assert.Equal(t, int32(1), atomic.LoadInt32(&vlm.calls), "second call should hit the cache, not the gateway")
}

// memoryCache is a minimal in-process Cache used only to exercise the
// cache-hit path in tests without a real Redis instance.
type memoryCache struct {
	data map[string]string
}

func newMemoryCache() *memoryCache { return &memoryCache{data: make(map[string]string)} }

func (c *memoryCache) Caption(_ context.Context, key string) (string, bool, error) {
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *memoryCache) PutCaption(_ context.Context, key string, caption string) error {
	c.data[key] = caption
	return nil
}
