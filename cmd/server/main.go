package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgallion1/specgest/internal/api"
	"github.com/dgallion1/specgest/internal/config"
	"github.com/dgallion1/specgest/internal/convert"
	"github.com/dgallion1/specgest/internal/embedding"
	"github.com/dgallion1/specgest/internal/enrich"
	"github.com/dgallion1/specgest/internal/llm"
	"github.com/dgallion1/specgest/internal/pipeline"
	"github.com/dgallion1/specgest/internal/ranking"
	"github.com/dgallion1/specgest/internal/vectorindex"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize clients.
	embedder, err := embedding.New(cfg.Embedding)
	if err != nil {
		log.Error("init embedder", "error", err)
		os.Exit(1)
	}
	index, closeIndex, err := openIndex(ctx, cfg)
	if err != nil {
		log.Error("init vector index", "backend", cfg.IndexBackend, "error", err)
		os.Exit(1)
	}
	if err := index.EnsureSchema(ctx, embedder.Dimension()); err != nil {
		log.Error("ensure index schema", "backend", cfg.IndexBackend, "error", err)
		os.Exit(1)
	}
	jobs, closeJobs, err := openJobStore(ctx, cfg)
	if err != nil {
		log.Error("init job store", "store", cfg.JobStore, "error", err)
		os.Exit(1)
	}

	registry, err := config.LoadModels(cfg.ModelsFile, cfg.DefaultModel)
	if err != nil {
		log.Error("load model registry", "path", cfg.ModelsFile, "error", err)
		os.Exit(1)
	}
	if registry.DefaultKey() == "" {
		log.Warn("no language models configured, enrichment and chat are disabled", "path", cfg.ModelsFile)
	}
	stats := llm.NewStats(time.Hour)
	completers := llm.NewClients(registry.Resolve, stats)
	enricher := enrich.New(log, cfg.MaxInputTokens)

	// Initialize pipeline.
	worker := pipeline.NewWorker(jobs, completers, enricher, embedder, index, log, pipeline.WorkerConfig{
		UploadDir:           cfg.UploadDir(),
		MinChunkChars:       cfg.MinChunkChars,
		MaxConcurrentEnrich: cfg.MaxConcurrentEnrich,
		EnrichTimeout:       cfg.EnrichTimeout,
		Convert: convert.Options{
			MinerU:    cfg.MinerUPath,
			Pdftotext: cfg.PDFFallbackPdftotext,
		},
	})
	orch := pipeline.NewOrchestrator(jobs, worker, index, cfg.UploadDir(), log, cfg.WorkerCount, cfg.MaxQueueSize)
	orch.Start(ctx)

	// Initialize HTTP server.
	srv := api.NewServer(api.Deps{
		Orchestrator: orch,
		Ranking:      ranking.NewEngine(embedder, index, log, cfg.SearchConcurrency),
		Enricher:     enricher,
		Completers:   completers,
		Registry:     registry,
		Stats:        stats,
	}, log, cfg)

	httpServer := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     srv,
		ReadTimeout: 60 * time.Second,
		// Streamed chat answers outlive a fixed write deadline.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown.
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)

		orch.Stop()
		closeIndex()
		closeJobs()
	}()

	log.Info("starting specgest",
		"port", cfg.Port,
		"index", cfg.IndexBackend,
		"jobs", cfg.JobStore,
		"embedding", cfg.Embedding.Provider,
		"default_model", registry.DefaultKey(),
	)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}

func openIndex(ctx context.Context, cfg config.Config) (vectorindex.Index, func(), error) {
	switch cfg.IndexBackend {
	case "memory":
		return vectorindex.NewMemory(), func() {}, nil
	case "qdrant":
		q := vectorindex.NewQdrant(cfg.QdrantURL, cfg.QdrantAPIKey, cfg.Collection)
		return q, q.Close, nil
	case "postgres":
		p, err := vectorindex.NewPostgres(ctx, cfg.PostgresDSN, cfg.PostgresTable)
		if err != nil {
			return nil, nil, err
		}
		return p, p.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown index backend %q", cfg.IndexBackend)
}

func openJobStore(ctx context.Context, cfg config.Config) (pipeline.JobStore, func(), error) {
	switch cfg.JobStore {
	case "memory":
		return pipeline.NewMemoryStore(), func() {}, nil
	case "redis":
		client, err := pipeline.ConnectRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, 5)
		if err != nil {
			return nil, nil, err
		}
		return pipeline.NewRedisStore(client, cfg.RedisPrefix), func() { client.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown job store %q", cfg.JobStore)
}
