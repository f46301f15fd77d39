package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/stemsi/exstem-assessment/internal/config"
	"github.com/stemsi/exstem-assessment/internal/database"
	"github.com/stemsi/exstem-assessment/internal/handler"
	"github.com/stemsi/exstem-assessment/internal/logger"
	"github.com/stemsi/exstem-assessment/internal/middleware"
	"github.com/stemsi/exstem-assessment/internal/repository"
	"github.com/stemsi/exstem-assessment/internal/router"
	"github.com/stemsi/exstem-assessment/internal/service"
	"github.com/stemsi/exstem-assessment/internal/validator"
	"github.com/stemsi/exstem-assessment/internal/worker"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup("assessment-engine", cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Msg("Starting assessment session engine")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	// ─── Load Assessment Policy ────────────────────────────────────────
	policy, err := config.LoadAssessmentPolicy(cfg.PolicyFile)
	if err != nil {
		log.Fatal().Err(err).Str("file", cfg.PolicyFile).Msg("Failed to load assessment policy")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Initialize Repositories ───────────────────────────────────────
	questionSetRepo := repository.NewQuestionSetRepository(pool)
	sessionRepo := repository.NewSessionRepository(pool)
	progressRepo := repository.NewProgressRepository(pool)
	eventRepo := repository.NewEventRepository(pool)
	monitorRepo := repository.NewMonitorRepository(pool)

	// ─── Initialize Services ──────────────────────────────────────────
	authService := service.NewAuthService(cfg)
	questionSetService := service.NewQuestionSetService(questionSetRepo, rdb, log)
	progressCache := service.NewProgressCache(rdb, cfg.ProgressCacheTTL)
	events := service.NewEventPublisher(rdb, log)
	locker := service.NewRedisLocker(rdb, cfg.SessionLockTTL, cfg.SessionLockWait)
	sessionService := service.NewSessionService(
		sessionRepo, progressRepo, questionSetService, progressCache,
		locker, events, policy, rdb, cfg.SubmitGrace, log,
	)
	progressService := service.NewProgressService(sessionService, progressRepo, progressCache, events, log)
	monitorService := service.NewMonitorService(questionSetService, monitorRepo, eventRepo)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Session:  handler.NewSessionHandler(sessionService, log),
		Progress: handler.NewProgressHandler(progressService, log),
		WS:       handler.NewWSHandler(sessionService, progressService, log, cfg.AllowedOrigins),
		Monitor:  handler.NewMonitorHandler(rdb, monitorService, log),
	}

	// ─── Prewarm Redis Caches ─────────────────────────────────────────
	// Question sets are loaded before traffic so the first wave of starts
	// does not stampede PostgreSQL.
	if err := questionSetService.PrewarmAll(ctx); err != nil {
		log.Warn().Err(err).Msg("Cache prewarm failed")
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	var workers sync.WaitGroup

	progressWorker := worker.NewProgressWorker(progressRepo, progressCache, rdb, log)
	eventWorker := worker.NewEventWorker(eventRepo, rdb, log)
	expiryWorker := worker.NewExpiryWorker(sessionService, rdb, cfg.ExpirySweepInterval, log)

	for _, start := range []func(context.Context){progressWorker.Start, eventWorker.Start, expiryWorker.Start} {
		workers.Add(1)
		go func() {
			defer workers.Done()
			start(workerCtx)
		}()
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	publicLimiter := middleware.NewRateLimiter(rdb, cfg.PublicRatePerMinute, time.Minute)
	r := router.SetupRouter(authService, publicLimiter, handlers, cfg)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop background workers and wait for queues to drain.
	workerCancel()
	workers.Wait()

	log.Info().Msg("Shutdown complete")
}
