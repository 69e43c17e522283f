// Command policy-assistant runs the HR policy question-answering service.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/arti-cloud/policy-assistant/internal/config"
	"github.com/arti-cloud/policy-assistant/pkg/handlers"
	"github.com/arti-cloud/policy-assistant/pkg/middleware"
	"github.com/arti-cloud/policy-assistant/pkg/monitoring"
	"github.com/arti-cloud/policy-assistant/pkg/rag"
	"github.com/arti-cloud/policy-assistant/pkg/whatsapp"
)

func main() {
	ingestDir := flag.String("ingest", "", "Ingest all policy files in the given directory, then exit")
	flag.Parse()

	logger := newLogger("info")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("Failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger = newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	store, err := newVectorStore(cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize vector store", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer store.Close()

	embedder, closeEmbedder, err := newEmbedder(cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize embedding provider", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer closeEmbedder()

	loader := rag.NewDocumentLoader(cfg.Loader, logger)
	chunker := rag.NewChunkingService(cfg.Chunking)
	ingestion := rag.NewIngestionService(loader, chunker, embedder, store, logger)

	if *ingestDir != "" {
		runIngest(ingestion, *ingestDir, logger)
		return
	}

	generator, err := rag.NewOpenAIGenerator(cfg.Generator, logger)
	if err != nil {
		logger.Error("Failed to initialize answer generator", slog.String("error", err.Error()))
		os.Exit(1)
	}

	pipeline := rag.NewPipeline(embedder, store, generator, cfg.Pipeline, logger)
	metrics := monitoring.NewMetrics()

	seedIndexIfEmpty(ingestion, store, cfg.PolicyDir, logger)

	logger.Info("Starting policy assistant",
		slog.String("port", cfg.Port),
		slog.String("vector_backend", string(cfg.VectorBackend)),
		slog.String("embedding_model", embedder.ModelName()),
		slog.String("llm_model", generator.ModelName()),
		slog.Bool("api_key_required", cfg.APIKey != ""),
		slog.Bool("whatsapp_enabled", cfg.WhatsAppEnabled),
	)

	server := buildServer(cfg, pipeline, ingestion, store, metrics, logger)

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.GracefulShutdown)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", slog.String("error", err.Error()))
	}
	logger.Info("Server exited")
}

func newLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
}

func newVectorStore(cfg *config.Config, logger *slog.Logger) (rag.VectorStore, error) {
	switch cfg.VectorBackend {
	case config.BackendWeaviate:
		return rag.NewWeaviateStore(cfg.Weaviate, logger)
	default:
		return rag.NewLocalStore(cfg.LocalIndexPath, logger)
	}
}

// newEmbedder builds the embedding provider, wrapped with the Redis cache
// when enabled. The returned closer releases the cache connection.
func newEmbedder(cfg *config.Config, logger *slog.Logger) (rag.EmbeddingProvider, func(), error) {
	provider, err := rag.NewOpenAIEmbeddingProvider(cfg.Embedding, logger)
	if err != nil {
		return nil, nil, err
	}
	if !cfg.RedisEnabled {
		return provider, func() {}, nil
	}
	cached, err := rag.NewCachedEmbeddingProvider(provider, cfg.Redis, logger)
	if err != nil {
		return nil, nil, err
	}
	return cached, func() { cached.Close() }, nil
}

func runIngest(ingestion *rag.IngestionService, dir string, logger *slog.Logger) {
	result, err := ingestion.IngestDir(context.Background(), dir)
	if err != nil {
		logger.Error("Ingestion failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Ingestion complete",
		slog.Int("upserted", result.Upserted),
		slog.Int("errors", len(result.Errors)),
	)
	for _, e := range result.Errors {
		logger.Warn("Ingestion error", slog.String("detail", e))
	}
	if result.Upserted == 0 && len(result.Errors) > 0 {
		os.Exit(1)
	}
}

// seedIndexIfEmpty ingests the policy directory at startup when the index
// holds no chunks yet, so a fresh deployment answers questions immediately.
func seedIndexIfEmpty(ingestion *rag.IngestionService, store rag.VectorStore, policyDir string, logger *slog.Logger) {
	if policyDir == "" {
		return
	}
	if _, err := os.Stat(policyDir); err != nil {
		logger.Warn("Policy directory not found, skipping startup ingestion", slog.String("dir", policyDir))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	count, err := store.Count(ctx)
	if err != nil {
		logger.Warn("Could not check index size, skipping startup ingestion", slog.String("error", err.Error()))
		return
	}
	if count > 0 {
		logger.Info("Index already populated", slog.Int64("chunks", count))
		return
	}

	result, err := ingestion.IngestDir(ctx, policyDir)
	if err != nil {
		logger.Warn("Startup ingestion failed", slog.String("error", err.Error()))
		return
	}
	logger.Info("Startup ingestion complete",
		slog.Int("upserted", result.Upserted),
		slog.Int("errors", len(result.Errors)),
	)
}

func buildServer(cfg *config.Config, pipeline *rag.Pipeline, ingestion *rag.IngestionService, store rag.VectorStore, metrics *monitoring.Metrics, logger *slog.Logger) *http.Server {
	router := mux.NewRouter()

	protected := router.NewRoute().Subrouter()
	protected.Use(middleware.NewAPIKeyMiddleware(cfg.APIKey, logger).Middleware)

	api := handlers.New(pipeline, ingestion, store, metrics, logger)
	api.Register(router, protected)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	if cfg.WhatsAppEnabled {
		whatsapp.New(cfg.WhatsApp, pipeline, metrics, logger).Register(router)
	}

	return &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  cfg.RequestTimeout,
		WriteTimeout: cfg.RequestTimeout,
		IdleTimeout:  2 * time.Minute,
	}
}
