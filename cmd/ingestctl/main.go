/*
ingestctl starts an indexing run (spec §4.11) against a directory of local
PDFs: each file is registered as a Document, its bytes are archived to the
Blob Store Gateway, and the Indexing Orchestrator is driven synchronously
to completion.

Usage:

	go run cmd/ingestctl/main.go -dir /path/to/pdfs [-language en] [-upload-type pdf]

Flags:

	-dir string
	    Directory to scan for *.pdf files (required)
	-language string
	    Document language passed to the Config Resolver (default "en")
	-upload-type string
	    "pdf" or "scanned_pdf" (default "pdf")

Grounded on cmd/migrateprojects/main.go's flag.String/flag.Parse scaffolding
(teacher), generalized from a filesystem migration tool to an indexing-run
trigger.
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"constructionrag/internal/envconfig"
	"constructionrag/internal/indexing"
	"constructionrag/internal/models"
	"constructionrag/internal/pipelineconfig"
	"constructionrag/internal/wiring"
)

func main() {
	dir := flag.String("dir", "", "Directory to scan for *.pdf files (required)")
	language := flag.String("language", "en", "Document language")
	uploadType := flag.String("upload-type", "pdf", "\"pdf\" or \"scanned_pdf\"")
	flag.Parse()

	if *dir == "" {
		fmt.Fprintln(os.Stderr, "error: -dir is required")
		os.Exit(1)
	}

	ctx := context.Background()
	if err := run(ctx, *dir, *language, *uploadType); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, dir, language, uploadType string) error {
	cfg, err := envconfig.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	comps, err := wiring.Build(ctx, cfg)
	if err != nil {
		return fmt.Errorf("wiring: %w", err)
	}
	defer comps.Pool.Close()

	paths, err := filepath.Glob(filepath.Join(dir, "*.pdf"))
	if err != nil {
		return fmt.Errorf("glob: %w", err)
	}
	if len(paths) == 0 {
		return fmt.Errorf("no *.pdf files found in %s", dir)
	}

	snapshot, err := pipelineconfig.Resolve(language, uploadType, pipelineconfig.Overrides{})
	if err != nil {
		return fmt.Errorf("resolve pipeline config: %w", err)
	}

	now := time.Now().UTC()
	docIDs := make([]string, len(paths))
	docs := make([]indexing.DocumentInput, len(paths))
	for i, path := range paths {
		docID := uuid.NewString()

		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open %s: %w", path, err)
		}
		blobKey, err := comps.Blobs.PutOriginal(ctx, docID, f)
		_ = f.Close()
		if err != nil {
			return fmt.Errorf("archive %s: %w", path, err)
		}

		doc := models.Document{
			ID:         docID,
			Filename:   filepath.Base(path),
			Language:   language,
			UploadType: uploadType,
			BlobKey:    blobKey,
			CreatedAt:  now,
		}
		if err := comps.Store.CreateDocument(ctx, doc); err != nil {
			return fmt.Errorf("create document %s: %w", path, err)
		}

		docIDs[i] = docID
		docs[i] = indexing.DocumentInput{DocumentID: docID, PDFPath: path}
		fmt.Printf("registered %s as document %s\n", path, docID)
	}

	indexingRun := models.IndexingRun{
		ID: uuid.NewString(),
		ConfigSnap: map[string]any{
			"language":    snapshot.Language,
			"upload_type": snapshot.UploadType,
		},
		Status:    models.RunStatusPending,
		CreatedAt: now,
	}
	if err := comps.Store.CreateRun(ctx, indexingRun, docIDs); err != nil {
		return fmt.Errorf("create run: %w", err)
	}

	fmt.Printf("starting indexing run %s over %d document(s)\n", indexingRun.ID, len(docs))
	runErr := comps.Orchestrator.Run(ctx, indexingRun, docs, snapshot)

	final, getErr := comps.Store.GetRun(ctx, indexingRun.ID)
	if getErr != nil {
		return fmt.Errorf("fetch final run state: %w", getErr)
	}
	fmt.Printf("run %s finished with status=%s\n", final.ID, final.Status)
	if runErr != nil {
		return fmt.Errorf("indexing run failed: %w", runErr)
	}
	return nil
}
