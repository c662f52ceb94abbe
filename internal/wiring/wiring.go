// Package wiring builds the Indexing Orchestrator, Query Pipeline, and
// Checklist Pipeline from process configuration. It is shared by
// cmd/server (which mounts the result behind HTTP) and the cmd/*ctl
// command-line tools (which call the pipelines directly), so the two
// never drift out of sync on how a Postgres pool, vector index, blob
// store, and Model Gateway get assembled.
//
// Grounded on the teacher's cmd/migrateprojects-s3/main.go pgxpool.New
// construction and cmd/orchestrator/main.go's kafka.NewWriter wiring,
// generalized from the teacher's project/workspace product to the
// construction-RAG pipelines.
package wiring

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"constructionrag/internal/blobstore"
	"constructionrag/internal/checklist"
	"constructionrag/internal/embedder"
	"constructionrag/internal/envconfig"
	"constructionrag/internal/indexing"
	"constructionrag/internal/modelgateway"
	"constructionrag/internal/modelgateway/anthropicprovider"
	"constructionrag/internal/modelgateway/googleprovider"
	"constructionrag/internal/modelgateway/openaiprovider"
	"constructionrag/internal/objectstore"
	"constructionrag/internal/partition"
	"constructionrag/internal/pipelineconfig"
	"constructionrag/internal/query"
	"constructionrag/internal/runstore"
	"constructionrag/internal/vectorindex"
	"constructionrag/internal/vlmenrich"
)

// Components is everything a caller needs to either mount over HTTP
// (cmd/server) or drive directly (cmd/ingestctl, cmd/queryctl,
// cmd/checklistctl, cmd/sweepctl).
type Components struct {
	Pool         *pgxpool.Pool
	Store        runstore.Store
	Index        vectorindex.Index
	Blobs        *blobstore.Gateway
	Gateway      *modelgateway.Gateway
	Orchestrator *indexing.Orchestrator
	Query        *query.Pipeline
	Checklist    *checklist.Pipeline
}

// Build assembles Components from process configuration.
func Build(ctx context.Context, cfg envconfig.Config) (*Components, error) {
	pool, err := pgxpool.New(ctx, cfg.Postgres.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres pool: %w", err)
	}

	store, err := runstore.NewPostgres(ctx, pool)
	if err != nil {
		return nil, fmt.Errorf("run store: %w", err)
	}

	defaultCfg, err := pipelineconfig.Resolve("en", "pdf", pipelineconfig.Overrides{})
	if err != nil {
		return nil, fmt.Errorf("default pipeline config: %w", err)
	}

	idx, err := vectorindex.NewPostgres(ctx, pool, defaultCfg.EmbeddingDimension)
	if err != nil {
		return nil, fmt.Errorf("vector index: %w", err)
	}

	objStore, err := objectstore.NewS3Store(ctx, objectstore.S3Config{
		Endpoint:              cfg.Blob.Endpoint,
		Region:                cfg.Blob.Region,
		Bucket:                cfg.Blob.Bucket,
		AccessKey:             cfg.Blob.AccessKeyID,
		SecretKey:             cfg.Blob.SecretAccessKey,
		UsePathStyle:          cfg.Blob.UsePathStyle,
		TLSInsecureSkipVerify: cfg.Blob.TLSInsecure,
	})
	if err != nil {
		return nil, fmt.Errorf("blob store: %w", err)
	}
	blobs := blobstore.New(objStore)

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	limiter := modelgateway.NewRedisLimiter(redisClient, 5, 2)

	gw, err := buildGateway(ctx, cfg, limiter)
	if err != nil {
		return nil, fmt.Errorf("model gateway: %w", err)
	}

	partitioner := partition.New(blobs)
	enricher := vlmenrich.New(gw, blobs)
	emb := embedder.New(gw, store)

	orchestrator := indexing.New(partitioner, enricher, emb, store, blobs)
	if brokers := strings.TrimSpace(cfg.Kafka.Brokers); brokers != "" {
		orchestrator.Producer = &kafka.Writer{
			Addr:     kafka.TCP(strings.Split(brokers, ",")...),
			Balancer: &kafka.LeastBytes{},
		}
		orchestrator.SignalTopic = cfg.Kafka.RunEventsTopic
	}

	return &Components{
		Pool:         pool,
		Store:        store,
		Index:        idx,
		Blobs:        blobs,
		Gateway:      gw,
		Orchestrator: orchestrator,
		Query:        query.New(gw, idx, store),
		Checklist:    checklist.New(gw, idx, store),
	}, nil
}

// buildGateway picks whichever providers have API keys configured (spec
// §4.4): OpenAI and Google can serve text, captioning, and embeddings;
// Anthropic serves text and captioning only, so it never becomes the
// embed provider. The first configured provider in teacher precedence
// order (OpenAI, then Anthropic, then Google) becomes the default
// text/VLM provider.
func buildGateway(ctx context.Context, cfg envconfig.Config, limiter modelgateway.RateLimiter) (*modelgateway.Gateway, error) {
	var text modelgateway.TextProvider
	var vlm modelgateway.VLMProvider
	var embed modelgateway.EmbedProvider

	if cfg.OpenAI.APIKey != "" {
		p := openaiprovider.New(openaiprovider.Config{APIKey: cfg.OpenAI.APIKey, BaseURL: cfg.OpenAI.BaseURL, Model: cfg.OpenAI.Model})
		text, vlm, embed = p, p, p
	}
	if text == nil && cfg.Anthropic.APIKey != "" {
		p := anthropicprovider.New(anthropicprovider.Config{APIKey: cfg.Anthropic.APIKey, BaseURL: cfg.Anthropic.BaseURL, Model: cfg.Anthropic.Model})
		text, vlm = p, p
	}
	if text == nil && cfg.Google.APIKey != "" {
		p, err := googleprovider.New(ctx, googleprovider.Config{APIKey: cfg.Google.APIKey, BaseURL: cfg.Google.BaseURL, Model: cfg.Google.Model})
		if err != nil {
			return nil, err
		}
		text, vlm, embed = p, p, p
	}
	if embed == nil && cfg.Google.APIKey != "" {
		p, err := googleprovider.New(ctx, googleprovider.Config{APIKey: cfg.Google.APIKey, BaseURL: cfg.Google.BaseURL, Model: cfg.Google.Model})
		if err != nil {
			return nil, err
		}
		embed = p
	}
	if text == nil {
		return nil, errors.New("no model provider configured")
	}

	return modelgateway.New(text, vlm, embed, modelgateway.Options{
		Limiter:    limiter,
		MaxRetries: 3,
		MaxElapsed: 30 * time.Second,
	}), nil
}
