package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fleetops/orchestrator/internal/agent"
	"github.com/fleetops/orchestrator/internal/audit"
	"github.com/fleetops/orchestrator/internal/config"
	asynqadp "github.com/fleetops/orchestrator/internal/infrastructure/queue/asynq"
	"github.com/fleetops/orchestrator/internal/infrastructure/postgres"
	"github.com/fleetops/orchestrator/internal/infrastructure/redis"
	"github.com/fleetops/orchestrator/internal/metrics"
	"github.com/fleetops/orchestrator/internal/pkg/logger"
	"github.com/fleetops/orchestrator/internal/security"
	"github.com/fleetops/orchestrator/internal/service"
	"github.com/fleetops/orchestrator/internal/transport/rest"
	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	logger.Init()
	log := logger.Logger.With().
		Str("service", "orchestrator-api").
		Str("env", cfg.AppEnv).
		Logger()

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbPool, err := pgxpool.New(rootCtx, cfg.PostgresURL)
	if err != nil {
		log.Fatal().Err(err).Msg("postgres pool create failed")
	}
	defer dbPool.Close()

	{
		pingCtx, cancel := context.WithTimeout(rootCtx, 5*time.Second)
		defer cancel()
		if err := dbPool.Ping(pingCtx); err != nil {
			log.Fatal().Err(err).Msg("postgres ping failed")
		}
		log.Info().Msg("postgres connected")
	}

	store := postgres.New(dbPool)

	opt, err := goredis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid REDIS_URL")
	}
	cache := redis.New(opt)

	queue, err := asynqadp.New(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("asynq client create failed")
	}
	defer queue.Close()

	auditLog := audit.New(logger.Logger)
	svc := service.New(store, queue, agent.Simulated{}, auditLog, service.Config{
		ExecMaxRetries:       cfg.ExecMaxRetries,
		ExecBaseBackoff:      cfg.ExecBaseBackoff,
		ExecMaxBackoff:       cfg.ExecMaxBackoff,
		ExecLockRetryCeiling: cfg.ExecLockRetryCeiling,
		OutboxBatchSize:      cfg.OutboxBatchSize,
		PlannerBatchSize:     cfg.PlannerBatchSize,
	})

	h := rest.NewHandler(svc)
	verifier := security.NewHS256Verifier(cfg.JWTSecret)
	metrics.Init()

	httpHandler := rest.NewRouter(rest.RouterDeps{
		Handler:   h,
		Verifier:  verifier,
		JWTIssuer: cfg.JWTIssuer,
		Redis:     cache,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      20 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.Port).Msg("http server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-rootCtx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("http server crashed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	log.Info().Msg("shutdown complete")
}
