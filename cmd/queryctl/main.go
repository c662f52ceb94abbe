/*
queryctl submits a query (spec §4.12) against a completed indexing run and
prints the generated answer and citations.

Usage:

	go run cmd/queryctl/main.go -run <indexing_run_id> -q "fire rated door rating"

Flags:

	-run string
	    IndexingRun ID to query (required)
	-q string
	    Query text (required)
	-language string
	    Language passed to the Config Resolver (default "en")
	-upload-type string
	    "pdf" or "scanned_pdf" (default "pdf")

Grounded on cmd/migrateprojects/main.go's flag scaffolding (teacher).
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"constructionrag/internal/envconfig"
	"constructionrag/internal/pipelineconfig"
	"constructionrag/internal/query"
	"constructionrag/internal/wiring"
)

func main() {
	runID := flag.String("run", "", "IndexingRun ID to query (required)")
	q := flag.String("q", "", "Query text (required)")
	language := flag.String("language", "en", "Language passed to the Config Resolver")
	uploadType := flag.String("upload-type", "pdf", "\"pdf\" or \"scanned_pdf\"")
	flag.Parse()

	if *runID == "" || strings.TrimSpace(*q) == "" {
		fmt.Fprintln(os.Stderr, "error: -run and -q are required")
		os.Exit(1)
	}

	ctx := context.Background()
	if err := run(ctx, *runID, *q, *language, *uploadType); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, runID, q, language, uploadType string) error {
	cfg, err := envconfig.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	comps, err := wiring.Build(ctx, cfg)
	if err != nil {
		return fmt.Errorf("wiring: %w", err)
	}
	defer comps.Pool.Close()

	snapshot, err := pipelineconfig.Resolve(language, uploadType, pipelineconfig.Overrides{})
	if err != nil {
		return fmt.Errorf("resolve pipeline config: %w", err)
	}

	queryRun, err := comps.Query.Ask(ctx, query.NewQueryRunID(), runID, q, snapshot)
	if err != nil {
		fmt.Printf("query run %s finished with status=%s error=%s\n", queryRun.ID, queryRun.Status, queryRun.Error)
		return fmt.Errorf("ask: %w", err)
	}

	fmt.Printf("query run %s finished with status=%s\n", queryRun.ID, queryRun.Status)
	fmt.Printf("variations: %v\n", queryRun.Variations)
	fmt.Printf("answer: %s\n", queryRun.Answer)
	fmt.Printf("citations: %v\n", queryRun.Citations)
	return nil
}
