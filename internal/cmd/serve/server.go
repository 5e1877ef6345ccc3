package serve

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/openmem/openmem/internal/config"
	"github.com/openmem/openmem/internal/engine"
	"github.com/openmem/openmem/internal/llm"
	"github.com/openmem/openmem/internal/mcpserver"
	"github.com/openmem/openmem/internal/plugin/route/attachments"
	"github.com/openmem/openmem/internal/plugin/route/configapi"
	"github.com/openmem/openmem/internal/plugin/route/memories"
	routesystem "github.com/openmem/openmem/internal/plugin/route/system"
	storemetrics "github.com/openmem/openmem/internal/plugin/store/metrics"
	registrycache "github.com/openmem/openmem/internal/registry/cache"
	registryembed "github.com/openmem/openmem/internal/registry/embed"
	registryllm "github.com/openmem/openmem/internal/registry/llm"
	registrymigrate "github.com/openmem/openmem/internal/registry/migrate"
	registryroute "github.com/openmem/openmem/internal/registry/route"
	registrystore "github.com/openmem/openmem/internal/registry/store"
	registryvector "github.com/openmem/openmem/internal/registry/vector"
	"github.com/openmem/openmem/internal/security"
	"github.com/openmem/openmem/internal/service"
)

const serverVersion = "1.0.0"

// Server holds the running HTTP server and its subsystems.
type Server struct {
	Config *config.Config
	Store  registrystore.MetadataStore
	Engine *engine.Engine
	Router *gin.Engine
	// Port is the actual listen port, useful when the configured port is 0.
	Port int

	httpServer *http.Server
}

// Shutdown gracefully drains and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// StartServer initializes all subsystems and starts serving HTTP.
func StartServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	log.Info("Starting memory service",
		"port", cfg.Listener.Port,
		"db", cfg.DatastoreType,
		"vector", cfg.VectorType,
		"embedding", cfg.EmbedType,
		"llm", cfg.LLMType,
		"cache", cfg.CacheType,
	)

	// Initialize Prometheus metrics with configured constant labels.
	metricsLabels, err := security.ParseMetricsLabels(cfg.MetricsLabels)
	if err != nil {
		return nil, fmt.Errorf("invalid --metrics-labels: %w", err)
	}
	security.InitMetrics(metricsLabels)

	// Run migrations
	if err := registrymigrate.RunAll(ctx); err != nil {
		return nil, fmt.Errorf("migrations failed: %w", err)
	}

	// Initialize store
	storeLoader, err := registrystore.Select(cfg.DatastoreType)
	if err != nil {
		return nil, err
	}
	store, err := storeLoader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	store = storemetrics.Wrap(store)

	// Initialize embedder and vector store (optional, for semantic search).
	var embedder registryembed.Embedder
	if cfg.EmbedType != "" && cfg.EmbedType != "none" {
		embedLoader, err := registryembed.Select(cfg.EmbedType)
		if err != nil {
			log.Warn("Embedder not available", "err", err)
		} else if embedder, err = embedLoader(ctx); err != nil {
			log.Warn("Failed to initialize embedder", "err", err)
			embedder = nil
		}
	}
	var vectorStore registryvector.VectorStore
	if cfg.VectorType != "" && cfg.VectorType != "none" {
		if embedder == nil {
			return nil, fmt.Errorf("vector store %q requires an embedding provider: set --embedding-kind to a value other than 'none'", cfg.VectorType)
		}
		vectorLoader, err := registryvector.Select(cfg.VectorType)
		if err != nil {
			log.Warn("Vector store not available", "err", err)
		} else if vectorStore, err = vectorLoader(ctx); err != nil {
			log.Warn("Failed to initialize vector store", "err", err)
			vectorStore = nil
		}
	}

	// Initialize the LLM provider (optional; without it ingestion degrades to
	// the verbatim fast path).
	var orchestrator *llm.Orchestrator
	if cfg.LLMType != "" && cfg.LLMType != "none" {
		llmLoader, err := registryllm.Select(cfg.LLMType)
		if err != nil {
			log.Warn("LLM provider not available", "err", err)
		} else if provider, err := llmLoader(ctx); err != nil {
			log.Warn("Failed to initialize LLM provider", "err", err)
		} else {
			orchestrator = llm.NewOrchestrator(provider)
		}
	}

	// Query embedding cache (optional).
	var queryCache registrycache.QueryEmbeddingCache
	if cacheLoader, err := registrycache.Select(cfg.CacheType); err != nil {
		log.Warn("Cache not available", "cache", cfg.CacheType, "err", err)
	} else if queryCache, err = cacheLoader(ctx); err != nil {
		log.Warn("Failed to initialize cache", "cache", cfg.CacheType, "err", err)
		queryCache = nil
	}

	settings, err := config.NewSettingsService(store)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize settings service: %w", err)
	}

	eng := engine.New(engine.Options{
		Store:        store,
		Vector:       vectorStore,
		Embedder:     embedder,
		Orchestrator: orchestrator,
		Cache:        queryCache,
		Settings:     settings,
		Config:       cfg,
	})
	pool := service.NewIngestPool(cfg.IngestWorkers, cfg.IngestTimeout)

	// Background retry of vector deletions that failed inline.
	taskProc := service.NewTaskProcessor(store, vectorStore)
	go taskProc.Start(ctx)

	// Set up gin
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.ManagementAccessLog {
		router.Use(security.AccessLogMiddleware())
	} else {
		router.Use(security.AccessLogMiddleware("/health", "/ready", "/metrics"))
	}
	router.Use(security.MetricsMiddleware())
	router.Use(security.IdentityMiddleware())
	router.Use(maxBodySizeMiddleware(cfg.MaxBodySize))

	// Mount registered route plugins (health, readiness, metrics).
	for _, loader := range registryroute.Loaders() {
		if err := loader(router); err != nil {
			return nil, fmt.Errorf("failed to load routes: %w", err)
		}
	}

	// Mount the REST API.
	memories.MountRoutes(router, eng, pool)
	attachments.MountRoutes(router, store, cfg)
	configapi.MountRoutes(router, settings)

	// Mount the MCP surface.
	mcpHandler := mcpserver.New(eng, store, cfg).Handler(serverVersion)
	router.Any("/mcp", gin.WrapH(mcpHandler))

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Listener.Port))
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %w", err)
	}
	httpServer := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: cfg.Listener.ReadHeaderTimeout,
	}
	go func() {
		if err := httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error", "err", err)
		}
	}()

	port := listener.Addr().(*net.TCPAddr).Port
	log.Info("Server listening", "port", port)

	routesystem.MarkReady()
	return &Server{
		Config:     cfg,
		Store:      store,
		Engine:     eng,
		Router:     router,
		Port:       port,
		httpServer: httpServer,
	}, nil
}

func maxBodySizeMiddleware(maxBodySize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if maxBodySize > 0 && !strings.HasPrefix(c.Request.URL.Path, "/metrics") {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodySize)
		}
		c.Next()
	}
}
