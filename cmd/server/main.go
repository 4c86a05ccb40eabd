// Package main is the entrypoint for the Castwrite API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/castwrite/castwrite/internal/admission"
	"github.com/castwrite/castwrite/internal/api"
	"github.com/castwrite/castwrite/internal/api/handler"
	mw "github.com/castwrite/castwrite/internal/api/middleware"
	"github.com/castwrite/castwrite/internal/api/response"
	"github.com/castwrite/castwrite/internal/blob"
	"github.com/castwrite/castwrite/internal/cache"
	"github.com/castwrite/castwrite/internal/config"
	"github.com/castwrite/castwrite/internal/generate"
	"github.com/castwrite/castwrite/internal/media"
	"github.com/castwrite/castwrite/internal/notify"
	"github.com/castwrite/castwrite/internal/plan"
	"github.com/castwrite/castwrite/internal/queue"
	"github.com/castwrite/castwrite/internal/store"
	"github.com/castwrite/castwrite/internal/transcribe"
	"github.com/castwrite/castwrite/internal/worker"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config — fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded",
		"transcriber", cfg.Transcriber.Provider,
		"generator", cfg.Generator.Provider,
		"env", cfg.Server.Env,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Create Redis cache and job queue
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	jobQueue, err := queue.NewRedisQueue(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create job queue: %w", err)
	}
	defer jobQueue.Close()

	// 5. Create AI providers
	transcriber, err := transcribe.NewTranscriber(cfg.Transcriber)
	if err != nil {
		return fmt.Errorf("create transcriber: %w", err)
	}
	generator, err := generate.NewGenerator(cfg.Generator)
	if err != nil {
		return fmt.Errorf("create generator: %w", err)
	}
	slog.Info("providers initialized",
		"transcriber", cfg.Transcriber.Provider,
		"generator", cfg.Generator.Provider,
	)

	// 6. Create store, artifact store, and domain services
	pgStore := store.NewPostgresStore(pool)

	artifacts, err := blob.NewFSStore(cfg.Media.ArtifactDir)
	if err != nil {
		return fmt.Errorf("create artifact store: %w", err)
	}

	normalizer := media.NewNormalizer(cfg.Media)
	policy := plan.NewPolicy(cfg.Plans)

	var notifier notify.Notifier = notify.Noop{}
	if cfg.SMTP.Host != "" {
		notifier = notify.NewSMTPNotifier(cfg.SMTP)
	}

	admitter := admission.NewService(pgStore, policy, normalizer, artifacts,
		jobQueue, redisCache, cfg.Media.WorkDir, cfg.Pipeline.AdmissionTimeout)

	// 7. Start the worker pool
	pipeline := worker.NewPool(jobQueue, pgStore, artifacts, redisCache,
		normalizer, transcriber, generator, notifier, cfg.Pipeline, cfg.Media.WorkDir)

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	var workerWG sync.WaitGroup
	workerWG.Add(1)
	go func() {
		defer workerWG.Done()
		pipeline.Run(workerCtx)
	}()
	slog.Info("worker pool started", "workers", cfg.Pipeline.Workers)

	// 8. Build router with dependencies
	auth := mw.NewAuth(pgStore)
	rateLimit := mw.NewRateLimit(redisCache, 60)

	deps := api.Dependencies{
		Auth:      auth,
		RateLimit: rateLimit,

		HealthHandler:    healthHandler(pgStore, redisCache, jobQueue),
		SubmitUpload:     handler.NewSubmitUploadHandler(admitter),
		SubmitURL:        handler.NewSubmitURLHandler(admitter),
		JobStatusHandler: handler.NewJobStatusHandler(pgStore, redisCache),
		CreateKeyHandler: handler.NewCreateAPIKeyHandler(pgStore),
		ListKeysHandler:  handler.NewListAPIKeysHandler(pgStore),
		RevokeKeyHandler: handler.NewRevokeAPIKeyHandler(pgStore),
	}

	router := api.NewRouter(deps)

	// 9. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		stopWorkers()
		workerWG.Wait()
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown: stop accepting requests first, then let workers
	// finish their in-flight jobs.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		stopWorkers()
		workerWG.Wait()
		return fmt.Errorf("server shutdown: %w", err)
	}

	stopWorkers()
	workerWG.Wait()

	slog.Info("server stopped gracefully")
	return nil
}

// healthHandler checks database, cache, and queue connectivity.
func healthHandler(s store.Store, c cache.Cache, q queue.Queue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
			"queue":    "ok",
		}

		if err := s.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}
		if err := q.Ping(r.Context()); err != nil {
			checks["queue"] = "degraded"
		}

		for _, v := range checks {
			if v != "ok" {
				response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
					"One or more services degraded", checks)
				return
			}
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
