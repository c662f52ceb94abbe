// Package envconfig loads process-level configuration from the OS
// environment and an optional .env file. It never makes decisions about
// pipeline behavior — that is the Config Resolver's job
// (internal/pipelineconfig). This package only answers "where do I find
// Postgres / S3 / Redis / Kafka / model API keys".
package envconfig

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds everything read once at process start.
type Config struct {
	Postgres PostgresConfig
	Blob     BlobConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Webhook  WebhookConfig
	OpenAI   ProviderConfig
	Anthropic ProviderConfig
	Google   ProviderConfig
	Obs      ObsConfig
	HTTPAddr string
}

type PostgresConfig struct {
	DSN string
}

type BlobConfig struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
	TLSInsecure     bool
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type KafkaConfig struct {
	Brokers      string
	RunEventsTopic string
}

type WebhookConfig struct {
	SharedSecret string
}

// ProviderConfig is the per-model-provider API surface (§4.4).
type ProviderConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

type ObsConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string
	LogLevel       string
	LogPath        string
}

// Load reads configuration from the environment, optionally overlaying a
// local .env file the way the teacher's loader does with godotenv.Overload.
func Load() (Config, error) {
	_ = godotenv.Overload()

	cfg := Config{}

	cfg.Postgres.DSN = firstNonEmpty(os.Getenv("DATABASE_URL"), os.Getenv("POSTGRES_DSN"))
	if cfg.Postgres.DSN == "" {
		return Config{}, errors.New("DATABASE_URL is required (set in .env or environment)")
	}

	cfg.Blob.Endpoint = os.Getenv("BLOB_ENDPOINT")
	cfg.Blob.Region = firstNonEmptyDefault("us-east-1", os.Getenv("BLOB_REGION"))
	cfg.Blob.Bucket = os.Getenv("BLOB_BUCKET")
	if cfg.Blob.Bucket == "" {
		return Config{}, errors.New("BLOB_BUCKET is required")
	}
	cfg.Blob.AccessKeyID = os.Getenv("BLOB_ACCESS_KEY_ID")
	cfg.Blob.SecretAccessKey = os.Getenv("BLOB_SECRET_ACCESS_KEY")
	cfg.Blob.UsePathStyle = parseBool(os.Getenv("BLOB_USE_PATH_STYLE"))
	cfg.Blob.TLSInsecure = parseBool(os.Getenv("BLOB_TLS_INSECURE"))

	cfg.Redis.Addr = firstNonEmptyDefault("localhost:6379", os.Getenv("REDIS_ADDR"))
	cfg.Redis.Password = os.Getenv("REDIS_PASSWORD")
	if v := os.Getenv("REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = n
		}
	}

	cfg.Kafka.Brokers = os.Getenv("KAFKA_BROKERS")
	cfg.Kafka.RunEventsTopic = firstNonEmptyDefault("constructionrag.run.events", os.Getenv("KAFKA_RUN_EVENTS_TOPIC"))

	cfg.Webhook.SharedSecret = os.Getenv("WEBHOOK_SHARED_SECRET")

	cfg.OpenAI = ProviderConfig{
		APIKey:  os.Getenv("OPENAI_API_KEY"),
		BaseURL: os.Getenv("OPENAI_BASE_URL"),
		Model:   firstNonEmptyDefault("gpt-4o-mini", os.Getenv("OPENAI_MODEL")),
	}
	cfg.Anthropic = ProviderConfig{
		APIKey:  os.Getenv("ANTHROPIC_API_KEY"),
		BaseURL: os.Getenv("ANTHROPIC_BASE_URL"),
		Model:   os.Getenv("ANTHROPIC_MODEL"),
	}
	cfg.Google = ProviderConfig{
		APIKey:  os.Getenv("GOOGLE_LLM_API_KEY"),
		BaseURL: os.Getenv("GOOGLE_LLM_BASE_URL"),
		Model:   os.Getenv("GOOGLE_LLM_MODEL"),
	}

	cfg.Obs.ServiceName = firstNonEmptyDefault("constructionrag", os.Getenv("OTEL_SERVICE_NAME"))
	cfg.Obs.ServiceVersion = os.Getenv("SERVICE_VERSION")
	cfg.Obs.Environment = firstNonEmptyDefault("dev", os.Getenv("ENVIRONMENT"))
	cfg.Obs.OTLPEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	cfg.Obs.LogLevel = firstNonEmptyDefault("info", os.Getenv("LOG_LEVEL"))
	cfg.Obs.LogPath = os.Getenv("LOG_PATH")

	cfg.HTTPAddr = firstNonEmptyDefault(":8080", os.Getenv("HTTP_ADDR"))

	if cfg.OpenAI.APIKey == "" && cfg.Anthropic.APIKey == "" && cfg.Google.APIKey == "" {
		return Config{}, errors.New("at least one of OPENAI_API_KEY, ANTHROPIC_API_KEY, GOOGLE_LLM_API_KEY is required")
	}

	return cfg, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func firstNonEmptyDefault(def string, vals ...string) string {
	if v := firstNonEmpty(vals...); v != "" {
		return v
	}
	return def
}

func parseBool(v string) bool {
	v = strings.TrimSpace(v)
	return strings.EqualFold(v, "true") || v == "1" || strings.EqualFold(v, "yes")
}

// ErrMissing reports a provider that has no API key configured. No function
// in this package returns it; Load reports missing keys with its own errors.
var ErrMissing = fmt.Errorf("provider not configured")
