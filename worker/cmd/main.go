package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fleetops/orchestrator/internal/agent"
	"github.com/fleetops/orchestrator/internal/audit"
	"github.com/fleetops/orchestrator/internal/config"
	asynqadp "github.com/fleetops/orchestrator/internal/infrastructure/queue/asynq"
	"github.com/fleetops/orchestrator/internal/infrastructure/postgres"
	"github.com/fleetops/orchestrator/internal/pkg/logger"
	"github.com/fleetops/orchestrator/internal/service"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// The worker is the background-task execution domain: it owns the
// PLAN_JOB/RUN_EXECUTION/PUBLISH_OUTBOX tasks and the periodic stuck-outbox
// sweep, independently of the API domain's request handlers (spec §5: two
// independent execution domains sharing one database).
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	logger.Init()
	log := logger.Logger.With().
		Str("service", "orchestrator-worker").
		Str("env", cfg.AppEnv).
		Logger()

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbPool, err := pgxpool.New(rootCtx, cfg.PostgresURL)
	if err != nil {
		log.Fatal().Err(err).Msg("postgres pool create failed")
	}
	defer dbPool.Close()

	store := postgres.New(dbPool)

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

	scheduler, err := asynqadp.NewScheduler(cfg.RedisURL, cfg.OutboxInterval)
	if err != nil {
		log.Fatal().Err(err).Msg("asynq scheduler create failed")
	}
	go func() {
		if err := scheduler.Run(); err != nil {
			log.Error().Err(err).Msg("asynq scheduler stopped")
		}
	}()

	go runStuckOutboxSweep(rootCtx, svc, cfg.OutboxStuckSweepAfter, log)

	w, err := asynqadp.NewWorker(cfg.RedisURL, 10, svc)
	if err != nil {
		log.Fatal().Err(err).Msg("asynq worker create failed")
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Msg("worker starting")
		if err := w.Run(); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-rootCtx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("worker crashed")
	}

	w.Shutdown()
	log.Info().Msg("shutdown complete")
}

// runStuckOutboxSweep periodically (every after/2) re-marks SENT outbox
// rows older than `after` whose job is still NEW back to NEW, resolving the
// gap between a committed publish and a broker enqueue that never landed.
func runStuckOutboxSweep(ctx context.Context, svc *service.Service, after time.Duration, log zerolog.Logger) {
	ticker := time.NewTicker(after / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := svc.SweepStuckOutbox(ctx, after)
			if err != nil {
				log.Error().Err(err).Msg("stuck outbox sweep failed")
				continue
			}
			if n > 0 {
				log.Warn().Int("count", n).Msg("reverted stuck SENT outbox rows to NEW")
			}
		}
	}
}
