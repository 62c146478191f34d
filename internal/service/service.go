// Package service implements the orchestrator's business logic shared by
// the HTTP transport and the broker task handlers: job intake, the
// approval gate, the outbox publisher, the planner, and the runner.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fleetops/orchestrator/internal/agent"
	"github.com/fleetops/orchestrator/internal/audit"
	"github.com/fleetops/orchestrator/internal/domain"
	"github.com/fleetops/orchestrator/internal/metrics"
	"github.com/fleetops/orchestrator/internal/pkg/logger"
	"github.com/google/uuid"
)

// Queue is the subset of the broker client the service needs to hand off
// work after a transaction commits.
type Queue interface {
	EnqueuePlanJob(ctx context.Context, jobID uuid.UUID) error
	EnqueueRunExecution(ctx context.Context, executionID uuid.UUID, lockRetries int, processIn time.Duration) error
}

// Config carries the runner/planner/outbox knobs that originate from
// environment configuration.
type Config struct {
	ExecMaxRetries       int
	ExecBaseBackoff      time.Duration
	ExecMaxBackoff       time.Duration
	ExecLockRetryCeiling int
	OutboxBatchSize      int
	PlannerBatchSize     int
}

type Service struct {
	store domain.Store
	queue Queue
	agent agent.Client
	audit *audit.Logger
	cfg   Config
}

func New(store domain.Store, queue Queue, ag agent.Client, auditLog *audit.Logger, cfg Config) *Service {
	if ag == nil {
		ag = agent.Simulated{}
	}
	return &Service{store: store, queue: queue, agent: ag, audit: auditLog, cfg: cfg}
}

// CreateJob implements the webhook intake endpoint (component B), then
// hands off to the outbox for auto-approved commands.
func (s *Service) CreateJob(ctx context.Context, in domain.CreateJobInput) (uuid.UUID, error) {
	jobID, err := s.store.CreateJob(ctx, in)
	if err != nil {
		return uuid.Nil, err
	}
	approvalState := domain.ApprovalNone
	if in.CommandType.RequiresApproval() {
		approvalState = domain.ApprovalWaitApproval
	}
	s.audit.JobCreated(ctx, jobID, in.CommandType, approvalState)
	metrics.JobsCreatedTotal.WithLabelValues(string(in.CommandType)).Inc()
	return jobID, nil
}

// ApproveJob implements component C's approve operation and enqueues
// PLAN_JOB only after the approval transaction has committed.
func (s *Service) ApproveJob(ctx context.Context, jobID uuid.UUID) (bool, error) {
	enqueued, err := s.store.ApproveJob(ctx, jobID)
	if err != nil {
		return false, err
	}
	s.audit.JobApproved(ctx, jobID)
	if enqueued {
		if err := s.queue.EnqueuePlanJob(ctx, jobID); err != nil {
			logger.WithCtx(ctx).Error().Err(err).Str("job_id", jobID.String()).Msg("failed to enqueue plan_job after approval")
			return false, err
		}
	}
	return enqueued, nil
}

func (s *Service) RejectJob(ctx context.Context, jobID uuid.UUID) (domain.Job, error) {
	job, err := s.store.RejectJob(ctx, jobID)
	if err != nil {
		return domain.Job{}, err
	}
	s.audit.JobRejected(ctx, jobID)
	return job, nil
}

func (s *Service) ListJobs(ctx context.Context, limit, offset int) ([]domain.Job, error) {
	return s.store.ListJobs(ctx, limit, offset)
}

func (s *Service) GetJobDetail(ctx context.Context, jobID uuid.UUID) (*domain.JobDetail, error) {
	return s.store.GetJobDetail(ctx, jobID)
}

func (s *Service) ListExecutions(ctx context.Context, jobID uuid.UUID, status *domain.ExecutionStatus, limit, offset int) ([]domain.Execution, error) {
	return s.store.ListExecutions(ctx, jobID, status, limit, offset)
}

func (s *Service) GetExecutionLogs(ctx context.Context, executionID uuid.UUID) ([]domain.ExecutionLog, error) {
	return s.store.GetExecutionLogs(ctx, executionID)
}

func (s *Service) SetHostBlocks(ctx context.Context, hostID uuid.UUID, commands []domain.CommandType) ([]domain.CommandType, error) {
	set, err := s.store.SetHostBlocks(ctx, hostID, commands)
	if err != nil {
		return nil, err
	}
	s.audit.HostBlockSet(ctx, hostID, set)
	return set, nil
}

func (s *Service) DeleteHostBlock(ctx context.Context, hostID uuid.UUID, cmd domain.CommandType) (int, error) {
	return s.store.DeleteHostBlock(ctx, hostID, cmd)
}

// PublishOutbox implements component D, draining NEW outbox rows, then
// enqueuing PLAN_JOB for each distinct job id only after its outbox row has
// been durably marked SENT (the commit-then-publish ordering the
// transactional outbox pattern requires). Stuck SENT rows are not swept
// here; SweepStuckOutbox does that on its own schedule.
func (s *Service) PublishOutbox(ctx context.Context) error {
	batchSize := s.cfg.OutboxBatchSize
	jobIDs, err := s.store.DrainOutbox(ctx, batchSize)
	if err != nil {
		return fmt.Errorf("drain outbox: %w", err)
	}
	for _, jobID := range jobIDs {
		if err := s.queue.EnqueuePlanJob(ctx, jobID); err != nil {
			logger.WithCtx(ctx).Error().Err(err).Str("job_id", jobID.String()).Msg("failed to enqueue plan_job from outbox")
			continue
		}
		s.audit.OutboxPublished(ctx, jobID)
		metrics.OutboxPublishedTotal.Inc()
	}
	return nil
}

// SweepStuckOutbox resolves the spec's Open Question on undetected
// broker-send failures: a SENT row older than the configured grace period
// whose job is still NEW is reverted to NEW so the next drain retries it.
func (s *Service) SweepStuckOutbox(ctx context.Context, olderThan time.Duration) (int, error) {
	n, err := s.store.SweepStuckOutbox(ctx, olderThan)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.OutboxStuckSweptTotal.Add(float64(n))
	}
	return n, nil
}

// PlanJob implements component E: transition the job NEW->QUEUED, then
// loop claiming batches of NEW executions and enqueuing RUN_EXECUTION for
// each, until a batch comes back empty.
func (s *Service) PlanJob(ctx context.Context, jobID uuid.UUID) error {
	began, err := s.store.BeginPlanning(ctx, jobID)
	if err != nil {
		return fmt.Errorf("begin planning: %w", err)
	}
	if !began {
		return nil
	}

	batchSize := s.cfg.PlannerBatchSize
	for {
		ids, err := s.store.ClaimExecutionBatch(ctx, jobID, batchSize)
		if err != nil {
			return fmt.Errorf("claim execution batch: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}
		for _, id := range ids {
			if err := s.queue.EnqueueRunExecution(ctx, id, 0, 0); err != nil {
				logger.WithCtx(ctx).Error().Err(err).Str("execution_id", id.String()).Msg("failed to enqueue run_execution")
			}
		}
	}
}

// RunExecution implements component F, the runner. lockRetries is the
// broker-level redelivery counter used only for host-lock contention; it
// is tracked separately from the execution's own attempts column so that
// a contended host cannot exhaust an execution's failure budget merely by
// losing the advisory-lock race.
func (s *Service) RunExecution(ctx context.Context, executionID uuid.UUID, lockRetries int) error {
	exec, cmd, err := s.store.LoadExecutionForRun(ctx, executionID)
	if err != nil {
		return fmt.Errorf("load execution: %w", err)
	}
	if exec == nil {
		return nil
	}
	if exec.Status.Terminal() {
		return nil
	}
	if exec.Status != domain.ExecutionQueued {
		return nil
	}

	blocked, err := s.store.IsHostBlocked(ctx, exec.HostID, cmd)
	if err != nil {
		return fmt.Errorf("check host block: %w", err)
	}
	if blocked {
		if err := s.store.MarkBlocked(ctx, executionID, "blocked by host policy"); err != nil {
			return fmt.Errorf("mark blocked: %w", err)
		}
		s.audit.ExecutionBlocked(ctx, executionID, exec.HostID, cmd)
		return nil
	}

	unlock, ok, err := s.store.TryLockHost(ctx, exec.HostID)
	if err != nil {
		return fmt.Errorf("try lock host: %w", err)
	}
	if !ok {
		return s.handleHostLockContention(ctx, executionID, lockRetries)
	}
	defer func() {
		if err := unlock(ctx); err != nil {
			logger.WithCtx(ctx).Error().Err(err).Str("host_id", exec.HostID.String()).Msg("failed to release host advisory lock")
		}
	}()

	started, err := s.store.StartRunning(ctx, executionID, exec.JobID)
	if err != nil {
		return fmt.Errorf("start running: %w", err)
	}
	if !started {
		return nil
	}

	result, agentErr := s.agent.Invoke(ctx, exec.HostID.String(), string(cmd), nil)
	if agentErr == nil {
		if err := s.store.FinishSuccess(ctx, executionID, result.String()); err != nil {
			return fmt.Errorf("finish success: %w", err)
		}
		s.audit.ExecutionFinished(ctx, executionID, domain.ExecutionSuccess)
		metrics.ExecutionsByStatusTotal.WithLabelValues(string(domain.ExecutionSuccess)).Inc()
		return nil
	}

	isTimeout := errors.Is(agentErr, agent.ErrTimeout)
	// exec.Attempts was loaded before StartRunning incremented the DB
	// column for this attempt; retriesDone must reflect the attempt that
	// just ran, not the count before it.
	return s.retryOrFinish(ctx, executionID, exec.Attempts+1, agentErr.Error(), isTimeout)
}

// handleHostLockContention implements step 3's retry path. The attempts
// column is never touched here: the execution never reached RUNNING.
func (s *Service) handleHostLockContention(ctx context.Context, executionID uuid.UUID, lockRetries int) error {
	ceiling := s.cfg.ExecLockRetryCeiling
	if ceiling <= 0 {
		ceiling = 50
	}
	if lockRetries >= ceiling {
		if err := s.store.FinishTerminal(ctx, executionID, domain.ExecutionFailed, "host lock ceiling exceeded"); err != nil {
			return fmt.Errorf("finish terminal (lock ceiling): %w", err)
		}
		s.audit.ExecutionFinished(ctx, executionID, domain.ExecutionFailed)
		metrics.ExecutionsByStatusTotal.WithLabelValues(string(domain.ExecutionFailed)).Inc()
		return nil
	}

	if err := s.store.AppendExecutionLog(ctx, executionID, "host locked"); err != nil {
		return fmt.Errorf("append host-locked log: %w", err)
	}
	delay := domain.Backoff(s.backoffBase(), s.backoffMax(), lockRetries)
	s.audit.ExecutionRetried(ctx, executionID, lockRetries+1, true)
	metrics.HostLockContentionTotal.Inc()
	return s.queue.EnqueueRunExecution(ctx, executionID, lockRetries+1, delay)
}

// retryOrFinish implements step 7: retry with backoff while under
// MAX_RETRIES, otherwise transition to the terminal failure status.
// retriesDone is the attempt count including the one that just ran.
func (s *Service) retryOrFinish(ctx context.Context, executionID uuid.UUID, retriesDone int, errLine string, isTimeout bool) error {
	maxRetries := s.cfg.ExecMaxRetries
	if retriesDone < maxRetries {
		if err := s.store.RequeueForRetry(ctx, executionID, errLine); err != nil {
			return fmt.Errorf("requeue for retry: %w", err)
		}
		delay := domain.Backoff(s.backoffBase(), s.backoffMax(), retriesDone-1)
		s.audit.ExecutionRetried(ctx, executionID, retriesDone, false)
		metrics.RunnerRetriesTotal.WithLabelValues("agent_error").Inc()
		return s.queue.EnqueueRunExecution(ctx, executionID, 0, delay)
	}

	finalStatus := domain.ExecutionFailed
	if isTimeout {
		finalStatus = domain.ExecutionTimeout
	}
	if err := s.store.FinishTerminal(ctx, executionID, finalStatus, errLine); err != nil {
		return fmt.Errorf("finish terminal: %w", err)
	}
	s.audit.ExecutionFinished(ctx, executionID, finalStatus)
	metrics.ExecutionsByStatusTotal.WithLabelValues(string(finalStatus)).Inc()
	return nil
}

func (s *Service) backoffBase() time.Duration {
	if s.cfg.ExecBaseBackoff > 0 {
		return s.cfg.ExecBaseBackoff
	}
	return 2 * time.Second
}

func (s *Service) backoffMax() time.Duration {
	if s.cfg.ExecMaxBackoff > 0 {
		return s.cfg.ExecMaxBackoff
	}
	return 30 * time.Second
}
