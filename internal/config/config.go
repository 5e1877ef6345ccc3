package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type contextKey struct{}

// WithContext returns a new context carrying the given Config.
func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, contextKey{}, cfg)
}

// FromContext retrieves the Config from the context.
func FromContext(ctx context.Context) *Config {
	cfg, _ := ctx.Value(contextKey{}).(*Config)
	return cfg
}

// ListenerConfig holds the network settings for the HTTP listener.
type ListenerConfig struct {
	Port              int
	ReadHeaderTimeout time.Duration
}

// Config holds all process-level configuration for the memory service.
// Runtime-tunable settings (prompt overrides, projection defaults) live in
// the persisted Settings document instead; see settings.go.
type Config struct {
	// Database
	DBURL                   string
	DatastoreType           string // "postgres" or "sqlite"
	DatastoreMigrateAtStart bool
	DBMaxOpenConns          int
	DBMaxIdleConns          int

	// Vector store backend type: "qdrant", "pgvector", "memory", or "" (disabled)
	VectorType           string
	VectorMigrateAtStart bool

	// Qdrant
	QdrantHost           string
	QdrantPort           int
	QdrantCollectionName string
	QdrantAPIKey         string
	QdrantUseTLS         bool
	QdrantStartupTimeout time.Duration

	// Embedding type: "openai", "local", or "none"
	EmbedType string

	// OpenAI embeddings
	OpenAIAPIKey     string
	OpenAIModelName  string
	OpenAIBaseURL    string
	OpenAIDimensions int

	// LLM provider used by the ingestion engine: "openai" or "" (disabled).
	LLMType          string
	LLMAPIKey        string
	LLMModelName     string
	LLMBaseURL       string
	LLMMaxConcurrent int
	LLMTimeout       time.Duration

	// Query embedding cache: "redis" or "none".
	CacheType     string
	RedisURL      string
	CacheQueryTTL time.Duration

	// Attachments
	AttachmentMaxSize     int64 // bytes
	AttachmentListTimeout time.Duration

	// Ingestion
	IngestWorkers int
	IngestTimeout time.Duration

	// Server
	Listener            ListenerConfig
	ManagementAccessLog bool
	MaxBodySize         int64
	DrainTimeout        int // seconds

	// MetricsLabels is a comma-separated list of key=value pairs added as
	// constant labels to all Prometheus metrics. Values support ${VAR} expansion.
	MetricsLabels string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DatastoreType:           "postgres",
		DatastoreMigrateAtStart: true,
		DBMaxOpenConns:          25,
		DBMaxIdleConns:          5,
		VectorType:              "",
		VectorMigrateAtStart:    true,
		QdrantHost:              "localhost",
		QdrantPort:              6334,
		QdrantCollectionName:    "openmem",
		QdrantStartupTimeout:    30 * time.Second,
		EmbedType:               "local",
		OpenAIModelName:         "text-embedding-3-small",
		OpenAIBaseURL:           "https://api.openai.com/v1",
		LLMType:                 "openai",
		LLMModelName:            "gpt-4o-mini",
		LLMMaxConcurrent:        4,
		LLMTimeout:              60 * time.Second,
		CacheType:               "none",
		CacheQueryTTL:           10 * time.Minute,
		AttachmentMaxSize:       100 * 1024 * 1024,
		AttachmentListTimeout:   5 * time.Second,
		IngestWorkers:           8,
		IngestTimeout:           120 * time.Second,
		Listener: ListenerConfig{
			Port:              8765,
			ReadHeaderTimeout: 5 * time.Second,
		},
		MaxBodySize:  110 * 1024 * 1024,
		DrainTimeout: 30,
	}
}

// QdrantAddress returns the host:port address for the Qdrant gRPC endpoint.
// QdrantHost may already include a port, in which case it wins.
func (c *Config) QdrantAddress() string {
	host := strings.TrimSpace(c.QdrantHost)
	if host == "" {
		host = "localhost"
	}
	if strings.Contains(host, ":") {
		return host
	}
	port := c.QdrantPort
	if port == 0 {
		port = 6334
	}
	return fmt.Sprintf("%s:%d", host, port)
}

// ApplyLegacyEnv honors environment variables carried over from earlier
// deployments that predate the OPENMEM_ prefix. Currently only
// ATTACHMENT_MAX_SIZE_MB, which sets the attachment size ceiling in MiB.
func (c *Config) ApplyLegacyEnv() error {
	raw := strings.TrimSpace(os.Getenv("ATTACHMENT_MAX_SIZE_MB"))
	if raw == "" {
		return nil
	}
	mb, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || mb <= 0 {
		return fmt.Errorf("invalid ATTACHMENT_MAX_SIZE_MB %q: expected a positive integer", raw)
	}
	c.AttachmentMaxSize = mb * 1024 * 1024
	if c.MaxBodySize < c.AttachmentMaxSize {
		c.MaxBodySize = c.AttachmentMaxSize + 10*1024*1024
	}
	return nil
}
