package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ashita-ai/kensaku/migrations"

	"github.com/ashita-ai/kensaku/internal/access"
	"github.com/ashita-ai/kensaku/internal/analyze"
	"github.com/ashita-ai/kensaku/internal/auth"
	"github.com/ashita-ai/kensaku/internal/cache"
	"github.com/ashita-ai/kensaku/internal/config"
	"github.com/ashita-ai/kensaku/internal/enrich"
	"github.com/ashita-ai/kensaku/internal/fusion"
	"github.com/ashita-ai/kensaku/internal/mcp"
	"github.com/ashita-ai/kensaku/internal/rerank"
	"github.com/ashita-ai/kensaku/internal/retrieve"
	"github.com/ashita-ai/kensaku/internal/search"
	"github.com/ashita-ai/kensaku/internal/server"
	"github.com/ashita-ai/kensaku/internal/service/embedding"
	"github.com/ashita-ai/kensaku/internal/service/llm"
	"github.com/ashita-ai/kensaku/internal/storage"
	"github.com/ashita-ai/kensaku/internal/telemetry"
	"github.com/ashita-ai/kensaku/internal/workflow"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := slog.LevelInfo
	if os.Getenv("KENSAKU_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("kensaku starting", "version", version, "port", cfg.Port)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	// Metadata store (documents, parent chunks, access grants).
	db, err := storage.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer db.Close()

	// Run migrations from the embedded filesystem. RunMigrations tracks
	// applied files in schema_migrations and skips duplicates, so errors
	// here indicate real failures.
	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		slog.Warn("migrations failed", "error", err)
	}

	// Vector store (chunk collection + semantic cache collection).
	index, err := search.NewQdrantIndex(search.QdrantConfig{
		URL:             cfg.QdrantURL,
		APIKey:          cfg.QdrantAPIKey,
		ChunkCollection: cfg.ChunkCollection,
		CacheCollection: cfg.CacheCollection,
		Dims:            uint64(cfg.EmbeddingDimensions), //nolint:gosec // validated positive in config.Validate
	}, logger)
	if err != nil {
		return fmt.Errorf("qdrant: %w", err)
	}
	defer func() { _ = index.Close() }()

	if err := index.EnsureCollections(ctx); err != nil {
		return fmt.Errorf("qdrant ensure collections: %w", err)
	}

	jwtMgr, err := auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTExpiration)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	embedder := embedding.NewAuto(embedding.AutoConfig{
		Provider:     cfg.EmbeddingProvider,
		OpenAIAPIKey: cfg.OpenAIAPIKey,
		Model:        cfg.EmbeddingModel,
		OllamaURL:    cfg.OllamaURL,
		OllamaModel:  cfg.OllamaModel,
		Dimensions:   cfg.EmbeddingDimensions,
	}, logger)

	completer := llm.NewAuto(llm.AutoConfig{
		Provider:     cfg.LLMProvider,
		OpenAIAPIKey: cfg.OpenAIAPIKey,
		Model:        cfg.LLMModel,
		OllamaURL:    cfg.OllamaURL,
		OllamaModel:  cfg.LLMModel,
	}, logger)

	// Pipeline stages.
	analyzer := analyze.New(embedder, completer, cfg.EmbedTimeout, cfg.LLMTimeout, logger)

	filters := access.New(db, cfg.GrantCacheTTL, cfg.ACLTimeout, logger)
	defer filters.Close()

	retriever := retrieve.New(index, embedder, retrieve.Config{
		ProbeTimeout:        cfg.ProbeTimeout,
		MaxConcurrentProbes: cfg.MaxConcurrentProbes,
		EmbedTimeout:        cfg.EmbedTimeout,
	}, logger)

	fuser := fusion.New(cfg.RRFK, cfg.FusionTopN)

	var scorer rerank.Scorer
	if cfg.RerankerURL != "" {
		scorer = rerank.NewHTTPScorer(cfg.RerankerURL, cfg.RerankTimeout)
		logger.Info("reranker: enabled", "url", cfg.RerankerURL)
	} else {
		logger.Info("reranker: disabled (no KENSAKU_RERANKER_URL), using fusion order")
	}
	reranker := rerank.New(scorer, cfg.RerankBatchSize, logger)

	enricher := enrich.New(db, cfg.MetadataTimeout, logger)

	semCache := cache.New(index, db, cache.Config{
		SimilarityThreshold: cfg.CacheSimilarityThreshold,
		TTL:                 cfg.CacheTTL,
		ACLTimeout:          cfg.ACLTimeout,
	}, logger)

	engine := workflow.New(analyzer, filters, retriever, fuser, reranker, enricher, semCache, workflow.Config{
		CandidatesPerProbe: cfg.CandidatesPerProbe,
		MaxIterations:      cfg.MaxIterations,
		Sufficiency: workflow.SufficiencyConfig{
			Threshold:      cfg.SufficiencyThreshold,
			HighQualityMin: cfg.HighQualityMin,
			MinCoverage:    cfg.MinCoverage,
		},
		CacheEnabled:    cfg.CacheEnabled,
		RequestDeadline: cfg.RequestDeadline,
	}, logger)

	// Background purge keeps the cache collection from accumulating expired
	// entries that the freshness predicate already ignores.
	if cfg.CacheEnabled && cfg.CachePurgeInterval > 0 {
		go cachePurgeLoop(ctx, semCache, logger, cfg.CachePurgeInterval)
	}

	mcpSrv := mcp.New(engine, version, logger)

	srv := server.New(server.ServerConfig{
		Engine:              engine,
		JWTMgr:              jwtMgr,
		Logger:              logger,
		Purger:              semCache,
		MetadataReady:       db.Ping,
		IndexReady:          index.Healthy,
		MCPServer:           mcpSrv.MCPServer(),
		APIKeyHash:          cfg.ServiceAPIKeyHash,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	// Start HTTP server in background.
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	slog.Info("kensaku shutting down")

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer httpCancel()
	if err := srv.Shutdown(httpCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}

	return nil
}

// cachePurgeLoop deletes expired semantic-cache entries on a fixed interval
// until the context is cancelled.
func cachePurgeLoop(ctx context.Context, c *cache.Cache, logger *slog.Logger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Purge(ctx); err != nil {
				logger.Warn("cache purge failed", "error", err)
			}
		}
	}
}
