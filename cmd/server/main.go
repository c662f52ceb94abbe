// Command server wires the Indexing Orchestrator, Query Pipeline, and
// Checklist Pipeline (via internal/wiring) and serves the inbound HTTP
// surface (spec §6) over the result.
//
// Grounded on the teacher's cmd/ main binaries: signal.NotifyContext for
// graceful shutdown and http.Server.Shutdown follow cmd/agentd/main.go's
// (teacher) process-lifecycle shape.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"constructionrag/internal/envconfig"
	"constructionrag/internal/httpapi"
	"constructionrag/internal/observability"
	"constructionrag/internal/wiring"
)

func main() {
	cfg, err := envconfig.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	observability.InitLogger(cfg.Obs.LogPath, cfg.Obs.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Obs.OTLPEndpoint != "" {
		shutdown, err := observability.InitOTel(ctx, cfg.Obs)
		if err != nil {
			log.Fatal().Err(err).Msg("otel init")
		}
		defer func() { _ = shutdown(context.Background()) }()
	}

	comps, err := wiring.Build(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("wiring components")
	}
	defer comps.Pool.Close()

	domainServer := httpapi.NewDomainServer(comps.Orchestrator, comps.Query, comps.Checklist, comps.Store, cfg.Webhook.SharedSecret)

	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           domainServer,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("http shutdown")
		}
	}()

	log.Info().Str("addr", cfg.HTTPAddr).Msg("listening")
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("http serve")
	}
}
