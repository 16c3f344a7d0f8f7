// Package main is the entrypoint for the ReelChef API server.
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
	"github.com/lmittmann/tint"

	"github.com/plateworks/reelchef/internal/ai"
	"github.com/plateworks/reelchef/internal/api"
	"github.com/plateworks/reelchef/internal/api/handler"
	mw "github.com/plateworks/reelchef/internal/api/middleware"
	"github.com/plateworks/reelchef/internal/blob"
	"github.com/plateworks/reelchef/internal/cache"
	"github.com/plateworks/reelchef/internal/config"
	"github.com/plateworks/reelchef/internal/embedding"
	"github.com/plateworks/reelchef/internal/frames"
	"github.com/plateworks/reelchef/internal/pipeline"
	"github.com/plateworks/reelchef/internal/store"
	"github.com/plateworks/reelchef/internal/synth"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	logger := newLogger(os.Getenv("REELCHEF_ENV"))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func newLogger(env string) *slog.Logger {
	if env == "development" || env == "" {
		return slog.New(tint.NewHandler(os.Stdout, &tint.Options{
			Level:      slog.LevelDebug,
			TimeFormat: time.Kitchen,
		}))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

func run(logger *slog.Logger) error {
	// 1. Load config — fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger.Info("config loaded", "ai_backend", cfg.AI.Backend, "env", cfg.Server.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	logger.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrations applied")

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	logger.Info("redis connected")

	// 5. Create AI backend
	backend, err := ai.NewBackend(cfg.AI)
	if err != nil {
		return fmt.Errorf("create AI backend: %w", err)
	}
	logger.Info("AI backend initialized", "backend", cfg.AI.Backend)

	// 6. Create store and services
	pgStore := store.NewPostgresStore(pool)

	blobClient := blob.NewHTTPClient(cfg.Blob.BaseURL, cfg.Blob.APIKey, cfg.Blob.Bucket, cfg.Blob.Timeout)
	uploader := blob.NewUploader(blobClient, cfg.Blob.PartSize, cfg.Blob.MaxRetries, logger)

	embedder := embedding.NewService(backend, cfg.Pipeline.EmbedDim, cfg.Pipeline.EmbedBatch)
	synthesizer := synth.NewSynthesizer(backend, logger)
	extractor := frames.NewExtractor()

	pipe := pipeline.NewService(
		pgStore,
		redisCache,
		blobClient,
		uploader,
		backend,
		embedder,
		extractor,
		synthesizer,
		cfg.Pipeline,
		cfg.AI.InferenceTimeout,
		logger,
	)

	// 7. Fail jobs orphaned by a previous crash before accepting new work
	recovered, err := pgStore.RecoverStuckEntries(ctx, cfg.Pipeline.StuckJobCutoff)
	if err != nil {
		return fmt.Errorf("recover stuck entries: %w", err)
	}
	if recovered > 0 {
		logger.Warn("failed stuck processing entries from previous run", "count", recovered)
	}

	// 8. Build router with dependencies
	rateLimit := mw.NewRateLimit(redisCache, 60)

	deps := api.Dependencies{
		RateLimit: rateLimit,

		HealthHandler:         handler.NewHealthHandler(pgStore, redisCache),
		CreateRecipeHandler:   handler.NewCreateRecipeHandler(pipe),
		GetRecipeHandler:      handler.NewGetRecipeHandler(pgStore),
		ListFramesHandler:     handler.NewListFramesHandler(pgStore),
		SearchFramesHandler:   handler.NewSearchFramesHandler(pipe),
		UploadProgressHandler: handler.NewUploadProgressHandler(pgStore),
		StatusEventsHandler:   handler.NewStatusEventsHandler(pgStore, redisCache),
	}

	router := api.NewRouter(deps)

	// 9. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // SSE connections stay open past any fixed deadline
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped gracefully")
	return nil
}
