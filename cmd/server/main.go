package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/sentraexam-proctor/internal/config"
	"github.com/stemsi/sentraexam-proctor/internal/database"
	"github.com/stemsi/sentraexam-proctor/internal/examsession"
	"github.com/stemsi/sentraexam-proctor/internal/handler"
	"github.com/stemsi/sentraexam-proctor/internal/logger"
	"github.com/stemsi/sentraexam-proctor/internal/middleware"
	"github.com/stemsi/sentraexam-proctor/internal/repository"
	"github.com/stemsi/sentraexam-proctor/internal/router"
	"github.com/stemsi/sentraexam-proctor/internal/sentraexam"
	"github.com/stemsi/sentraexam-proctor/internal/service"
	"github.com/stemsi/sentraexam-proctor/internal/validator"
	"github.com/stemsi/sentraexam-proctor/internal/worker"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Str("backend", cfg.SentraexamURL).
		Msg("Starting Sentraexam Proctor")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

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

	// ─── Audit Pipeline ────────────────────────────────────────────────
	auditRepo := repository.NewAuditRepository(pool)
	queue := worker.NewRedisQueue(rdb)
	auditQueue := worker.NewAuditQueue(queue, log)

	// ─── Initialize Services ──────────────────────────────────────────
	backend := sentraexam.NewClient(cfg.SentraexamURL, cfg.SentraexamTimeout, log)
	vault := sentraexam.NewRedisVault(rdb, cfg.RefreshTokenTTL)
	authService := service.NewAuthService(cfg, backend, vault, log)

	store := examsession.NewStore(examsession.NewRedisKV(rdb), time.Now, log)
	manager := examsession.NewManager(store, auditQueue, examsession.Config{
		Threshold:       cfg.ViolationThreshold,
		TickInterval:    cfg.TickInterval,
		SubmitTimeout:   cfg.SubmitTimeout,
		RequireComplete: cfg.RequireCompleteOnSubmit,
	}, log)
	examService := service.NewExamService(backend, authService, manager, auditRepo, log)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Auth: handler.NewAuthHandler(authService),
		Exam: handler.NewExamHandler(examService),
		WS:   handler.NewWSHandler(examService, log, cfg.AllowedOrigins),
		System: handler.NewSystemHandler(rdb, manager.Live, log,
			handler.RedisDependency(rdb),
			handler.Dependency{Name: "postgres", Ping: pool.Ping},
		),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	workerDone := make(chan struct{})

	auditWorker := worker.NewAuditWorker(queue, auditRepo, log)
	go func() {
		defer close(workerDone)
		auditWorker.Start(workerCtx)
	}()

	// ─── Setup Router ──────────────────────────────────────────────────
	loginLimiter := middleware.NewRateLimiter(10, time.Minute)
	defer loginLimiter.Stop()
	r := router.SetupRouter(authService, handlers, cfg, loginLimiter, log)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout). Hijacked websocket
	// connections are not tracked by Shutdown; they end with the process.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop session timers. Records stay in Redis and resume on restart.
	manager.Close()

	// 3. Stop the audit worker and wait for its final flush.
	workerCancel()
	select {
	case <-workerDone:
	case <-time.After(10 * time.Second):
		log.Warn().Msg("Audit worker did not finish flushing")
	}

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
