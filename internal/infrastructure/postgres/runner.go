package postgres

import (
	"context"
	"errors"

	"github.com/fleetops/orchestrator/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// LoadExecutionForRun loads the execution and its job's command type.
// Returns (nil, "", nil) if the execution does not exist — this is a
// no-op for the caller, not an error (stale or duplicate task delivery).
func (r *Repository) LoadExecutionForRun(ctx context.Context, executionID uuid.UUID) (*domain.Execution, domain.CommandType, error) {
	var e domain.Execution
	var statusStr, cmdStr string

	err := r.pool.QueryRow(ctx, `
		SELECT e.id, e.job_id, e.host_id, e.status, e.attempts, e.created_at, e.started_at, e.finished_at, j.command_type
		FROM executions e
		JOIN jobs j ON j.id = e.job_id
		WHERE e.id = $1
	`, executionID).Scan(&e.ExecutionID, &e.JobID, &e.HostID, &statusStr, &e.Attempts, &e.CreatedAt, &e.StartedAt, &e.FinishedAt, &cmdStr)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", err
	}

	e.Status = domain.ExecutionStatus(statusStr)
	return &e, domain.CommandType(cmdStr), nil
}

func (r *Repository) IsHostBlocked(ctx context.Context, hostID uuid.UUID, cmd domain.CommandType) (bool, error) {
	var blocked bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM host_command_blocks WHERE host_id = $1 AND command_type = $2)
	`, hostID, string(cmd)).Scan(&blocked)
	return blocked, err
}

// MarkBlocked transitions QUEUED -> BLOCKED (step 2 of the runner
// algorithm). No retry follows this path.
func (r *Repository) MarkBlocked(ctx context.Context, executionID uuid.UUID, line string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
		UPDATE executions SET status = $2, finished_at = NOW()
		WHERE id = $1 AND status = $3
	`, executionID, string(domain.ExecutionBlocked), string(domain.ExecutionQueued)); err != nil {
		return err
	}
	if err := appendLogTx(ctx, tx, executionID, line); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// AppendExecutionLog appends a log line with no accompanying state
// transition — used for the "host locked" contention path.
func (r *Repository) AppendExecutionLog(ctx context.Context, executionID uuid.UUID, line string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO execution_logs (execution_id, ts, line) VALUES ($1, NOW(), $2)
	`, executionID, line)
	return err
}

func appendLogTx(ctx context.Context, tx pgx.Tx, executionID uuid.UUID, line string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO execution_logs (execution_id, ts, line) VALUES ($1, NOW(), $2)
	`, executionID, line)
	return err
}

// TryLockHost attempts a non-blocking, session-scoped advisory lock keyed
// by the host's CRC32. The lock is bound to the pool connection returned
// by Acquire, which is held until the caller invokes unlock — advisory
// locks are connection-scoped, so the same physical connection must issue
// both the lock and unlock calls.
func (r *Repository) TryLockHost(ctx context.Context, hostID uuid.UUID) (func(context.Context) error, bool, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, false, err
	}

	key := domain.HostLockKey(hostID)

	var locked bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, key).Scan(&locked); err != nil {
		conn.Release()
		return nil, false, err
	}
	if !locked {
		conn.Release()
		return nil, false, nil
	}

	unlock := func(ctx context.Context) error {
		defer conn.Release()
		_, err := conn.Exec(ctx, `SELECT pg_advisory_unlock($1)`, key)
		return err
	}
	return unlock, true, nil
}

// StartRunning implements steps 4-5: a guarded transition of the
// execution to RUNNING (incrementing attempts, recording started_at) and,
// idempotently, the job to RUNNING. Returns false if another worker
// already won the race (zero rows affected on the execution update).
func (r *Repository) StartRunning(ctx context.Context, executionID, jobID uuid.UUID) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE executions SET status = $2, started_at = NOW(), attempts = attempts + 1
		WHERE id = $1 AND status = $3
	`, executionID, string(domain.ExecutionRunning), string(domain.ExecutionQueued))
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, tx.Commit(ctx)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE jobs SET status = $2 WHERE id = $1 AND status = $3
	`, jobID, string(domain.JobRunning), string(domain.JobQueued)); err != nil {
		return false, err
	}

	return true, tx.Commit(ctx)
}

// FinishSuccess implements the success outcome of step 7.
func (r *Repository) FinishSuccess(ctx context.Context, executionID uuid.UUID, line string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
		UPDATE executions SET status = $2, finished_at = NOW()
		WHERE id = $1 AND status = $3
	`, executionID, string(domain.ExecutionSuccess), string(domain.ExecutionRunning)); err != nil {
		return err
	}
	if err := appendLogTx(ctx, tx, executionID, line); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// RequeueForRetry transitions RUNNING back to QUEUED without touching
// attempts, for a transient failure that still has retry budget left.
func (r *Repository) RequeueForRetry(ctx context.Context, executionID uuid.UUID, line string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
		UPDATE executions SET status = $2
		WHERE id = $1 AND status = $3
	`, executionID, string(domain.ExecutionQueued), string(domain.ExecutionRunning)); err != nil {
		return err
	}
	if err := appendLogTx(ctx, tx, executionID, line); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// FinishTerminal transitions an execution to a terminal status (TIMEOUT or
// FAILED): from RUNNING once agent retries are exhausted, or from QUEUED
// once host-lock contention retries pass their ceiling.
func (r *Repository) FinishTerminal(ctx context.Context, executionID uuid.UUID, status domain.ExecutionStatus, line string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
		UPDATE executions SET status = $2, finished_at = NOW()
		WHERE id = $1 AND status IN ($3, $4)
	`, executionID, string(status), string(domain.ExecutionRunning), string(domain.ExecutionQueued)); err != nil {
		return err
	}
	if err := appendLogTx(ctx, tx, executionID, line); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
