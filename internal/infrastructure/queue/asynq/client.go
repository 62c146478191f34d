package asynqadp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// enqueuer is the subset of *asynq.Client the Queue depends on, narrowed
// so tests can substitute a fake without a live Redis.
type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// Queue wraps an asynq.Client with the three task-shaped Enqueue helpers
// the orchestrator needs. It is the publish half of the transactional
// outbox: callers only enqueue after the matching DB transaction has
// already committed.
type Queue struct {
	client enqueuer
}

func New(redisURL string) (*Queue, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &Queue{client: asynq.NewClient(opt)}, nil
}

// NewWithClient injects an enqueuer directly, for unit tests.
func NewWithClient(client enqueuer) *Queue {
	return &Queue{client: client}
}

func (q *Queue) Close() error {
	return q.client.Close()
}

// EnqueuePlanJob enqueues a PLAN_JOB task for jobID.
func (q *Queue) EnqueuePlanJob(ctx context.Context, jobID uuid.UUID) error {
	b, err := json.Marshal(PlanJobPayload{JobID: jobID.String()})
	if err != nil {
		return err
	}
	_, err = q.client.EnqueueContext(ctx, asynq.NewTask(TaskPlanJob, b), asynq.MaxRetry(0))
	return err
}

// EnqueueRunExecution enqueues a RUN_EXECUTION task, optionally delayed by
// processIn (used for backoff-driven and host-lock-contention retries).
func (q *Queue) EnqueueRunExecution(ctx context.Context, executionID uuid.UUID, lockRetries int, processIn time.Duration) error {
	b, err := json.Marshal(RunExecutionPayload{ExecutionID: executionID.String(), LockRetries: lockRetries})
	if err != nil {
		return err
	}
	opts := []asynq.Option{asynq.MaxRetry(0)}
	if processIn > 0 {
		opts = append(opts, asynq.ProcessIn(processIn))
	}
	_, err = q.client.EnqueueContext(ctx, asynq.NewTask(TaskRunExecution, b), opts...)
	return err
}

// NewScheduler builds the periodic PUBLISH_OUTBOX producer. The
// orchestrator drives its own retry semantics per task (asynq.MaxRetry(0)
// everywhere above), so this is the one place asynq's own cron-style
// scheduling is used, matching the periodic beat schedule in the system
// this was distilled from.
func NewScheduler(redisURL string, interval time.Duration) (*asynq.Scheduler, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	scheduler := asynq.NewScheduler(opt, nil)
	spec := fmt.Sprintf("@every %s", interval.String())
	if _, err := scheduler.Register(spec, asynq.NewTask(TaskPublishOutbox, nil)); err != nil {
		return nil, fmt.Errorf("register publish-outbox schedule: %w", err)
	}
	return scheduler, nil
}
