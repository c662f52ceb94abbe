/*
sweepctl runs the anonymous-document expiry sweep (spec §3 invariant v)
once and exits. Intended to be invoked from an external scheduler (cron,
Kubernetes CronJob) rather than run as a long-lived ticker, mirroring the
teacher's one-shot migration tools under cmd/.

Usage:

	go run cmd/sweepctl/main.go

Grounded on cmd/migrateprojects/main.go's single-pass, connect-then-exit
shape (teacher).
*/
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"constructionrag/internal/envconfig"
	"constructionrag/internal/wiring"
)

func main() {
	ctx := context.Background()
	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := envconfig.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	comps, err := wiring.Build(ctx, cfg)
	if err != nil {
		return fmt.Errorf("wiring: %w", err)
	}
	defer comps.Pool.Close()

	n, err := comps.Store.SweepExpiredDocuments(ctx, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}
	fmt.Printf("swept %d expired document(s)\n", n)
	return nil
}
