package blobstore

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"constructionrag/internal/objectstore"
)

func TestPutAndGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	gw := New(objectstore.NewMemoryStore())

	key, err := gw.PutOriginal(ctx, "doc-1", bytes.NewReader([]byte("%PDF-1.4")))
	require.NoError(t, err)
	assert.Equal(t, "documents/doc-1/original", key)

	r, err := gw.Get(ctx, key)
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4", string(data))
}

func TestNamespacedKeysDontCollide(t *testing.T) {
	pageKey := Key("doc-1", NamespacePage, 3, "")
	tableKey := Key("doc-1", NamespaceTable, 3, "el-1")
	assert.NotEqual(t, pageKey, tableKey)
	assert.Equal(t, "documents/doc-1/page/3", pageKey)
	assert.Equal(t, "documents/doc-1/table/3/el-1", tableKey)
}

func TestDeleteDocumentRemovesAllNamespacedArtifacts(t *testing.T) {
	ctx := context.Background()
	store := objectstore.NewMemoryStore()
	gw := New(store)
	_, err := gw.PutOriginal(ctx, "doc-1", bytes.NewReader([]byte("a")))
	require.NoError(t, err)
	_, err = gw.PutPageImage(ctx, "doc-1", 1, bytes.NewReader([]byte("b")))
	require.NoError(t, err)

	require.NoError(t, gw.DeleteDocument(ctx, "doc-1"))

	exists, err := store.Exists(ctx, Key("doc-1", NamespaceOriginal, 0, ""))
	require.NoError(t, err)
	assert.False(t, exists)
}
