/*
checklistctl submits a checklist (spec §4.13) against a completed indexing
run and prints each item's verdict, rationale, and supporting sources.

Usage:

	go run cmd/checklistctl/main.go -run <indexing_run_id> -name "Life Safety" -checklist-file checklist.txt

Flags:

	-run string
	    IndexingRun ID to analyze against (required)
	-name string
	    Checklist name (required)
	-checklist-file string
	    Path to a text file containing the checklist items (required)
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

	"constructionrag/internal/checklist"
	"constructionrag/internal/envconfig"
	"constructionrag/internal/pipelineconfig"
	"constructionrag/internal/wiring"
)

func main() {
	runID := flag.String("run", "", "IndexingRun ID to analyze against (required)")
	name := flag.String("name", "", "Checklist name (required)")
	checklistFile := flag.String("checklist-file", "", "Path to a text file of checklist items (required)")
	language := flag.String("language", "en", "Language passed to the Config Resolver")
	uploadType := flag.String("upload-type", "pdf", "\"pdf\" or \"scanned_pdf\"")
	flag.Parse()

	if *runID == "" || *name == "" || *checklistFile == "" {
		fmt.Fprintln(os.Stderr, "error: -run, -name, and -checklist-file are required")
		os.Exit(1)
	}

	ctx := context.Background()
	if err := run(ctx, *runID, *name, *checklistFile, *language, *uploadType); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, runID, name, checklistFile, language, uploadType string) error {
	text, err := os.ReadFile(checklistFile)
	if err != nil {
		return fmt.Errorf("read checklist file: %w", err)
	}

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

	analysis, err := comps.Checklist.Analyze(ctx, checklist.NewAnalysisID(), runID, name, string(text), snapshot)
	if err != nil {
		fmt.Printf("analysis %s finished with status=%s error=%s\n", analysis.ID, analysis.Status, analysis.Error)
		return fmt.Errorf("analyze: %w", err)
	}

	fmt.Printf("analysis %s finished with status=%s (%d/4 steps)\n", analysis.ID, analysis.Status, analysis.Progress)
	for _, result := range analysis.Results {
		fmt.Printf("%d. %s: %s\n   %s\n", result.ItemNumber, result.ItemName, result.Verdict, result.Rationale)
		if result.Confidence != nil {
			fmt.Printf("   confidence: %.2f\n", *result.Confidence)
		}
		for _, src := range result.AllSources {
			fmt.Printf("    source: document=%s page=%d\n", src.DocumentID, src.Page)
		}
	}
	return nil
}
