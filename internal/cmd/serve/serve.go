package serve

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/openmem/openmem/internal/config"
	registrycache "github.com/openmem/openmem/internal/registry/cache"
	registryembed "github.com/openmem/openmem/internal/registry/embed"
	registryllm "github.com/openmem/openmem/internal/registry/llm"
	registrystore "github.com/openmem/openmem/internal/registry/store"
	registryvector "github.com/openmem/openmem/internal/registry/vector"
	"github.com/urfave/cli/v3"

	// Import all plugins to trigger init() registration
	_ "github.com/openmem/openmem/internal/plugin/cache/noop"
	_ "github.com/openmem/openmem/internal/plugin/cache/redis"
	_ "github.com/openmem/openmem/internal/plugin/embed/local"
	_ "github.com/openmem/openmem/internal/plugin/embed/openai"
	_ "github.com/openmem/openmem/internal/plugin/llm/openai"
	_ "github.com/openmem/openmem/internal/plugin/route/system"
	_ "github.com/openmem/openmem/internal/plugin/store/sqlstore"
	_ "github.com/openmem/openmem/internal/plugin/vector/memory"
	_ "github.com/openmem/openmem/internal/plugin/vector/pgvector"
	_ "github.com/openmem/openmem/internal/plugin/vector/qdrant"
)

// Command returns the serve sub-command.
func Command() *cli.Command {
	cfg := config.DefaultConfig()
	var readHeaderTimeoutSecs int = 5
	var llmTimeoutSecs int = 60
	var ingestTimeoutSecs int = 120
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the memory service HTTP server",
		Flags: flags(&cfg, &readHeaderTimeoutSecs, &llmTimeoutSecs, &ingestTimeoutSecs),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := cfg.ApplyLegacyEnv(); err != nil {
				return err
			}
			cfg.Listener.ReadHeaderTimeout = time.Duration(readHeaderTimeoutSecs) * time.Second
			cfg.LLMTimeout = time.Duration(llmTimeoutSecs) * time.Second
			cfg.IngestTimeout = time.Duration(ingestTimeoutSecs) * time.Second
			return run(config.WithContext(ctx, &cfg), cfg)
		},
	}
}

func flags(cfg *config.Config, readHeaderTimeoutSecs, llmTimeoutSecs, ingestTimeoutSecs *int) []cli.Flag {
	return []cli.Flag{

		// ── Server ────────────────────────────────────────────────
		&cli.IntFlag{
			Name:        "port",
			Category:    "Server:",
			Sources:     cli.EnvVars("OPENMEM_PORT"),
			Destination: &cfg.Listener.Port,
			Value:       cfg.Listener.Port,
			Usage:       "HTTP server port",
		},
		&cli.IntFlag{
			Name:        "read-header-timeout-seconds",
			Category:    "Server:",
			Sources:     cli.EnvVars("OPENMEM_READ_HEADER_TIMEOUT_SECONDS"),
			Destination: readHeaderTimeoutSecs,
			Value:       *readHeaderTimeoutSecs,
			Usage:       "HTTP read header timeout in seconds",
		},
		&cli.BoolFlag{
			Name:        "management-access-log",
			Category:    "Server:",
			Sources:     cli.EnvVars("OPENMEM_MANAGEMENT_ACCESS_LOG"),
			Destination: &cfg.ManagementAccessLog,
			Usage:       "Enable HTTP access logging for /health, /ready and /metrics",
		},
		&cli.IntFlag{
			Name:        "drain-timeout-seconds",
			Category:    "Server:",
			Sources:     cli.EnvVars("OPENMEM_DRAIN_TIMEOUT_SECONDS"),
			Destination: &cfg.DrainTimeout,
			Value:       cfg.DrainTimeout,
			Usage:       "Seconds to wait for in-flight requests on shutdown",
		},

		// ── Database ──────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "db-kind",
			Category:    "Database:",
			Sources:     cli.EnvVars("OPENMEM_DB_KIND"),
			Destination: &cfg.DatastoreType,
			Value:       cfg.DatastoreType,
			Usage:       "Backend store (" + strings.Join(registrystore.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "db-url",
			Category:    "Database:",
			Sources:     cli.EnvVars("OPENMEM_DB_URL"),
			Destination: &cfg.DBURL,
			Usage:       "Database connection URL",
			Required:    true,
		},
		&cli.IntFlag{
			Name:        "db-max-open-conns",
			Category:    "Database:",
			Sources:     cli.EnvVars("OPENMEM_DB_MAX_OPEN_CONNS"),
			Destination: &cfg.DBMaxOpenConns,
			Value:       cfg.DBMaxOpenConns,
			Usage:       "Maximum number of open database connections",
		},
		&cli.IntFlag{
			Name:        "db-max-idle-conns",
			Category:    "Database:",
			Sources:     cli.EnvVars("OPENMEM_DB_MAX_IDLE_CONNS"),
			Destination: &cfg.DBMaxIdleConns,
			Value:       cfg.DBMaxIdleConns,
			Usage:       "Maximum number of idle database connections",
		},

		// ── Vector Store ──────────────────────────────────────────
		&cli.StringFlag{
			Name:        "vector-kind",
			Category:    "Vector Store:",
			Sources:     cli.EnvVars("OPENMEM_VECTOR_KIND"),
			Destination: &cfg.VectorType,
			Value:       cfg.VectorType,
			Usage:       "Vector store (" + strings.Join(registryvector.Names(), "|") + "); empty disables semantic search",
		},
		&cli.StringFlag{
			Name:        "qdrant-host",
			Category:    "Vector Store:",
			Sources:     cli.EnvVars("OPENMEM_QDRANT_HOST"),
			Destination: &cfg.QdrantHost,
			Value:       cfg.QdrantHost,
			Usage:       "Qdrant host or host:port",
		},
		&cli.StringFlag{
			Name:        "qdrant-collection",
			Category:    "Vector Store:",
			Sources:     cli.EnvVars("OPENMEM_QDRANT_COLLECTION"),
			Destination: &cfg.QdrantCollectionName,
			Value:       cfg.QdrantCollectionName,
			Usage:       "Qdrant collection name",
		},
		&cli.StringFlag{
			Name:        "qdrant-api-key",
			Category:    "Vector Store:",
			Sources:     cli.EnvVars("OPENMEM_QDRANT_API_KEY"),
			Destination: &cfg.QdrantAPIKey,
			Usage:       "Qdrant API key",
		},
		&cli.BoolFlag{
			Name:        "qdrant-tls",
			Category:    "Vector Store:",
			Sources:     cli.EnvVars("OPENMEM_QDRANT_TLS"),
			Destination: &cfg.QdrantUseTLS,
			Usage:       "Use TLS for the Qdrant gRPC connection",
		},

		// ── Embedding ─────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "embedding-kind",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("OPENMEM_EMBEDDING_KIND"),
			Destination: &cfg.EmbedType,
			Value:       cfg.EmbedType,
			Usage:       "Embedding provider (" + strings.Join(registryembed.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "openai-api-key",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("OPENMEM_OPENAI_API_KEY", "OPENAI_API_KEY"),
			Destination: &cfg.OpenAIAPIKey,
			Usage:       "OpenAI API key for embeddings",
		},
		&cli.StringFlag{
			Name:        "openai-embedding-model",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("OPENMEM_OPENAI_EMBEDDING_MODEL"),
			Destination: &cfg.OpenAIModelName,
			Value:       cfg.OpenAIModelName,
			Usage:       "OpenAI embedding model name",
		},
		&cli.StringFlag{
			Name:        "openai-base-url",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("OPENMEM_OPENAI_BASE_URL"),
			Destination: &cfg.OpenAIBaseURL,
			Value:       cfg.OpenAIBaseURL,
			Usage:       "OpenAI-compatible API base URL",
		},
		&cli.IntFlag{
			Name:        "openai-embedding-dimensions",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("OPENMEM_OPENAI_EMBEDDING_DIMENSIONS"),
			Destination: &cfg.OpenAIDimensions,
			Usage:       "Override the embedding dimension (0 = model default)",
		},

		// ── LLM ───────────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "llm-kind",
			Category:    "LLM:",
			Sources:     cli.EnvVars("OPENMEM_LLM_KIND"),
			Destination: &cfg.LLMType,
			Value:       cfg.LLMType,
			Usage:       "LLM provider (" + strings.Join(registryllm.Names(), "|") + "); empty disables inference",
		},
		&cli.StringFlag{
			Name:        "llm-api-key",
			Category:    "LLM:",
			Sources:     cli.EnvVars("OPENMEM_LLM_API_KEY"),
			Destination: &cfg.LLMAPIKey,
			Usage:       "API key for the LLM provider",
		},
		&cli.StringFlag{
			Name:        "llm-model",
			Category:    "LLM:",
			Sources:     cli.EnvVars("OPENMEM_LLM_MODEL"),
			Destination: &cfg.LLMModelName,
			Value:       cfg.LLMModelName,
			Usage:       "Model used for fact extraction and merge decisions",
		},
		&cli.StringFlag{
			Name:        "llm-base-url",
			Category:    "LLM:",
			Sources:     cli.EnvVars("OPENMEM_LLM_BASE_URL"),
			Destination: &cfg.LLMBaseURL,
			Usage:       "OpenAI-compatible base URL for the LLM provider",
		},
		&cli.IntFlag{
			Name:        "llm-max-concurrent",
			Category:    "LLM:",
			Sources:     cli.EnvVars("OPENMEM_LLM_MAX_CONCURRENT"),
			Destination: &cfg.LLMMaxConcurrent,
			Value:       cfg.LLMMaxConcurrent,
			Usage:       "Maximum concurrent LLM completions",
		},
		&cli.IntFlag{
			Name:        "llm-timeout-seconds",
			Category:    "LLM:",
			Sources:     cli.EnvVars("OPENMEM_LLM_TIMEOUT_SECONDS"),
			Destination: llmTimeoutSecs,
			Value:       *llmTimeoutSecs,
			Usage:       "Per-completion timeout in seconds",
		},

		// ── Cache ─────────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "cache-kind",
			Category:    "Cache:",
			Sources:     cli.EnvVars("OPENMEM_CACHE_KIND"),
			Destination: &cfg.CacheType,
			Value:       cfg.CacheType,
			Usage:       "Query embedding cache (" + strings.Join(registrycache.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "redis-url",
			Category:    "Cache:",
			Sources:     cli.EnvVars("OPENMEM_REDIS_URL"),
			Destination: &cfg.RedisURL,
			Usage:       "Redis connection URL",
		},

		// ── Ingestion ─────────────────────────────────────────────
		&cli.IntFlag{
			Name:        "ingest-workers",
			Category:    "Ingestion:",
			Sources:     cli.EnvVars("OPENMEM_INGEST_WORKERS"),
			Destination: &cfg.IngestWorkers,
			Value:       cfg.IngestWorkers,
			Usage:       "Maximum concurrent ingestions",
		},
		&cli.IntFlag{
			Name:        "ingest-timeout-seconds",
			Category:    "Ingestion:",
			Sources:     cli.EnvVars("OPENMEM_INGEST_TIMEOUT_SECONDS"),
			Destination: ingestTimeoutSecs,
			Value:       *ingestTimeoutSecs,
			Usage:       "Per-ingestion timeout in seconds",
		},

		// ── Monitoring ────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "metrics-labels",
			Category:    "Monitoring:",
			Sources:     cli.EnvVars("OPENMEM_METRICS_LABELS"),
			Destination: &cfg.MetricsLabels,
			Value:       "service=openmem",
			Usage:       "Comma-separated key=value pairs added as constant labels to all Prometheus metrics. Supports ${VAR} expansion.",
		},
	}
}

func run(ctx context.Context, cfg config.Config) error {
	srv, err := StartServer(ctx, &cfg)
	if err != nil {
		return err
	}

	<-ctx.Done()
	log.Info("Shutting down...")

	drainCtx, drainCancel := context.WithTimeout(context.Background(), time.Duration(cfg.DrainTimeout)*time.Second)
	defer drainCancel()
	if err := srv.Shutdown(drainCtx); err != nil {
		log.Error("Shutdown error", "err", err)
	}
	log.Info("Server stopped")
	return nil
}
