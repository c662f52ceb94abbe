// Package blobstore implements the Blob Store Gateway (spec §4.3): a
// namespaced S3-compatible object storage layer. Every key is namespaced
// under a document or run so callers never construct raw bucket paths —
// they ask for "the original PDF for document X" or "the rendered PNG for
// page N of document X in run Y" and get a stable, collision-free key back.
//
// Built on top of internal/objectstore (the teacher's S3Store/MemoryStore),
// reused almost verbatim at the interface level.
package blobstore

import (
	"context"
	"fmt"
	"io"

	"constructionrag/internal/objectstore"
)

// Namespace identifies what kind of artifact a key belongs to.
type Namespace string

const (
	NamespaceOriginal Namespace = "original"   // the uploaded PDF itself
	NamespacePage     Namespace = "page"       // full-page rendered image
	NamespaceTable    Namespace = "table"      // cropped table region PNG
	NamespaceImage    Namespace = "image"      // extracted embedded image
)

// Gateway is the Blob Store Gateway surface pipeline stages use.
type Gateway struct {
	store objectstore.ObjectStore
}

// New wraps an ObjectStore (S3 or in-memory) with the namespaced-key
// contract.
func New(store objectstore.ObjectStore) *Gateway {
	return &Gateway{store: store}
}

// Key builds the namespaced path for one artifact belonging to documentID.
// page/element are optional disambiguators (0/"" when not applicable).
func Key(documentID string, ns Namespace, page int, element string) string {
	if page > 0 && element != "" {
		return fmt.Sprintf("documents/%s/%s/%d/%s", documentID, ns, page, element)
	}
	if page > 0 {
		return fmt.Sprintf("documents/%s/%s/%d", documentID, ns, page)
	}
	return fmt.Sprintf("documents/%s/%s", documentID, ns)
}

func (g *Gateway) PutOriginal(ctx context.Context, documentID string, r io.Reader) (string, error) {
	key := Key(documentID, NamespaceOriginal, 0, "")
	_, err := g.store.Put(ctx, key, r, objectstore.PutOptions{ContentType: "application/pdf"})
	return key, err
}

func (g *Gateway) PutPageImage(ctx context.Context, documentID string, page int, r io.Reader) (string, error) {
	key := Key(documentID, NamespacePage, page, "")
	_, err := g.store.Put(ctx, key, r, objectstore.PutOptions{ContentType: "image/png"})
	return key, err
}

func (g *Gateway) PutTableImage(ctx context.Context, documentID string, page int, elementID string, r io.Reader) (string, error) {
	key := Key(documentID, NamespaceTable, page, elementID)
	_, err := g.store.Put(ctx, key, r, objectstore.PutOptions{ContentType: "image/png"})
	return key, err
}

func (g *Gateway) PutImage(ctx context.Context, documentID string, page int, elementID string, r io.Reader) (string, error) {
	key := Key(documentID, NamespaceImage, page, elementID)
	_, err := g.store.Put(ctx, key, r, objectstore.PutOptions{ContentType: "image/png"})
	return key, err
}

// Get retrieves an object by its already-resolved key (as returned by the
// Put* helpers and persisted in models.Document/Element).
func (g *Gateway) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	r, _, err := g.store.Get(ctx, key)
	return r, err
}

func (g *Gateway) Delete(ctx context.Context, key string) error {
	return g.store.Delete(ctx, key)
}

// DeleteDocument removes every artifact namespaced under documentID.
func (g *Gateway) DeleteDocument(ctx context.Context, documentID string) error {
	prefix := fmt.Sprintf("documents/%s/", documentID)
	res, err := g.store.List(ctx, objectstore.ListOptions{Prefix: prefix})
	if err != nil {
		return fmt.Errorf("list objects under %s: %w", prefix, err)
	}
	for _, obj := range res.Objects {
		if err := g.store.Delete(ctx, obj.Key); err != nil {
			return fmt.Errorf("delete %s: %w", obj.Key, err)
		}
	}
	return nil
}
