package asynqadp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fleetops/orchestrator/internal/pkg/logger"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// Handler is the subset of the service layer the worker dispatches into.
// Each method owns its own retry decision: asynq.MaxRetry(0) is set on
// every PLAN_JOB and RUN_EXECUTION task this adapter enqueues, so a
// returned error simply drops that delivery rather than triggering asynq's
// built-in backoff curve — retries are re-enqueued explicitly by the
// handler via Queue.EnqueueRunExecution. The scheduled PUBLISH_OUTBOX task
// is registered without MaxRetry(0), so asynq's default retry policy
// applies to it.
type Handler interface {
	PlanJob(ctx context.Context, jobID uuid.UUID) error
	RunExecution(ctx context.Context, executionID uuid.UUID, lockRetries int) error
	PublishOutbox(ctx context.Context) error
}

// Worker runs the asynq server loop and dispatches to a Handler.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
}

func NewWorker(redisURL string, concurrency int, h Handler) (*Worker, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if concurrency <= 0 {
		concurrency = 10
	}

	srv := asynq.NewServer(opt, asynq.Config{Concurrency: concurrency})
	mux := asynq.NewServeMux()

	mux.HandleFunc(TaskPlanJob, func(ctx context.Context, t *asynq.Task) error {
		var p PlanJobPayload
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			return fmt.Errorf("unmarshal plan_job payload: %w", err)
		}
		jobID, err := uuid.Parse(p.JobID)
		if err != nil {
			return fmt.Errorf("parse job_id: %w", err)
		}
		if err := h.PlanJob(ctx, jobID); err != nil {
			logger.WithCtx(ctx).Error().Err(err).Str("job_id", jobID.String()).Msg("plan_job failed")
			return err
		}
		return nil
	})

	mux.HandleFunc(TaskRunExecution, func(ctx context.Context, t *asynq.Task) error {
		var p RunExecutionPayload
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			return fmt.Errorf("unmarshal run_execution payload: %w", err)
		}
		executionID, err := uuid.Parse(p.ExecutionID)
		if err != nil {
			return fmt.Errorf("parse execution_id: %w", err)
		}
		if err := h.RunExecution(ctx, executionID, p.LockRetries); err != nil {
			logger.WithCtx(ctx).Error().Err(err).Str("execution_id", executionID.String()).Msg("run_execution failed")
			return err
		}
		return nil
	})

	mux.HandleFunc(TaskPublishOutbox, func(ctx context.Context, t *asynq.Task) error {
		if err := h.PublishOutbox(ctx); err != nil {
			logger.WithCtx(ctx).Error().Err(err).Msg("publish_outbox failed")
			return err
		}
		return nil
	})

	return &Worker{server: srv, mux: mux}, nil
}

func (w *Worker) Run() error {
	return w.server.Run(w.mux)
}

func (w *Worker) Shutdown() {
	w.server.Shutdown()
}
