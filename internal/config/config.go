package config

import (
	"fmt"
	"net/netip"
	"strings"
	"time"

	pkgconfig "github.com/utafrali/catalogsync/pkg/config"
)

// Search engine backends.
const (
	EngineElasticsearch = "elasticsearch"
	EngineMemory        = "memory"
)

// Config holds all configuration for catalogsync.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`

	// HTTP admin server
	HTTPPort          int      `env:"HTTP_PORT" envDefault:"8090"`
	PprofAllowedCIDRs []string `env:"PPROF_ALLOWED_CIDRS" envDefault:"127.0.0.1/32,::1/128" envSeparator:","`

	// HS256 secret for admin bearer tokens; empty leaves the admin API open
	AdminJWTSecret string `env:"ADMIN_JWT_SECRET" validate:"omitempty,min=32"`

	// Grace period for background runs at shutdown; they are canceled after it
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// PostgreSQL catalog
	PostgresHost       string        `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort       int           `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser       string        `env:"POSTGRES_USER" envDefault:"catalog"`
	PostgresPassword   string        `env:"POSTGRES_PASSWORD" envDefault:"catalog"`
	PostgresDB         string        `env:"POSTGRES_DB" envDefault:"catalog"`
	PostgresSSLMode    string        `env:"POSTGRES_SSLMODE" envDefault:"disable"`
	SlowQueryThreshold time.Duration `env:"SLOW_QUERY_THRESHOLD" envDefault:"200ms"`

	// Elasticsearch
	ElasticsearchURL      string `env:"ELASTICSEARCH_URL" envDefault:"http://localhost:9200"`
	ElasticsearchUsername string `env:"ELASTICSEARCH_USERNAME"`
	ElasticsearchPassword string `env:"ELASTICSEARCH_PASSWORD"`
	ElasticsearchIndex    string `env:"ELASTICSEARCH_INDEX" envDefault:"products" validate:"required"`

	// Search engine selection (elasticsearch or memory)
	SearchEngine string `env:"SEARCH_ENGINE" envDefault:"elasticsearch"`

	// Reindex
	IndexAliasSwap        bool          `env:"INDEX_ALIAS_SWAP" envDefault:"true"`
	IndexLanguageAnalyzer string        `env:"INDEX_LANGUAGE_ANALYZER" envDefault:"german"`
	ReindexPageSize       int           `env:"REINDEX_PAGE_SIZE" envDefault:"1000" validate:"gte=1"`
	ReindexLockTTL        time.Duration `env:"REINDEX_LOCK_TTL" envDefault:"30m"`

	// Retry policy for page fetches and bulk writes. One attempt disables retries.
	RetryMaxAttempts     int           `env:"RETRY_MAX_ATTEMPTS" envDefault:"3" validate:"gte=1"`
	RetryInitialInterval time.Duration `env:"RETRY_INITIAL_INTERVAL" envDefault:"500ms"`
	RetryMaxInterval     time.Duration `env:"RETRY_MAX_INTERVAL" envDefault:"10s"`
	RetryMultiplier      float64       `env:"RETRY_MULTIPLIER" envDefault:"2" validate:"gte=1"`

	// Redis (reindex lock); empty disables the shared lock
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`

	// Kafka; empty disables completion events
	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`

	// Embedding service (OpenAI-compatible)
	EmbeddingURL        string  `env:"EMBEDDING_URL" envDefault:"http://localhost:11434/v1"`
	EmbeddingModel      string  `env:"EMBEDDING_MODEL" envDefault:"text-embedding-3-small"`
	EmbeddingAPIKey     string  `env:"EMBEDDING_API_KEY"`
	EmbeddingDimensions int     `env:"EMBEDDING_DIMENSIONS" envDefault:"0" validate:"gte=0"`
	EmbeddingBatchSize  int     `env:"EMBEDDING_BATCH_SIZE" envDefault:"64" validate:"gte=1,lte=2048"`
	EmbeddingRPS        float64 `env:"EMBEDDING_RPS" envDefault:"5" validate:"gte=0"`
	EmbeddingMaxLength  int     `env:"EMBEDDING_MAX_LENGTH" envDefault:"8000" validate:"gte=1"`

	// Tracing
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTLPEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load catalogsync config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// KafkaEnabled reports whether completion events are published.
func (c *Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

// AuthEnabled reports whether the admin API requires a bearer token.
func (c *Config) AuthEnabled() bool {
	return c.AdminJWTSecret != ""
}

// RedisEnabled reports whether the reindex lock is shared through Redis.
func (c *Config) RedisEnabled() bool {
	return c.RedisAddr != ""
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("invalid Postgres port: %d", c.PostgresPort)
	}
	switch c.SearchEngine {
	case EngineElasticsearch, EngineMemory:
	default:
		return fmt.Errorf("invalid SEARCH_ENGINE %q: want %s or %s", c.SearchEngine, EngineElasticsearch, EngineMemory)
	}
	if c.ElasticsearchIndex != strings.ToLower(c.ElasticsearchIndex) {
		return fmt.Errorf("ELASTICSEARCH_INDEX must be lowercase: %q", c.ElasticsearchIndex)
	}
	if c.RetryMaxInterval < c.RetryInitialInterval {
		return fmt.Errorf("RETRY_MAX_INTERVAL (%s) is below RETRY_INITIAL_INTERVAL (%s)", c.RetryMaxInterval, c.RetryInitialInterval)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("SHUTDOWN_TIMEOUT must be positive: %s", c.ShutdownTimeout)
	}
	if c.ReindexLockTTL < 3*time.Second {
		return fmt.Errorf("REINDEX_LOCK_TTL too short: %s", c.ReindexLockTTL)
	}
	for _, cidr := range c.PprofAllowedCIDRs {
		if _, err := netip.ParsePrefix(cidr); err != nil {
			return fmt.Errorf("invalid PPROF_ALLOWED_CIDRS entry %q: %w", cidr, err)
		}
	}
	return nil
}
