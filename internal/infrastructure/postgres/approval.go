package postgres

import (
	"context"
	"errors"

	"github.com/fleetops/orchestrator/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ApproveJob implements component C's Approve operation.
func (r *Repository) ApproveJob(ctx context.Context, jobID uuid.UUID) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var approvalState string
	err = tx.QueryRow(ctx, `SELECT approval_state FROM jobs WHERE id = $1 FOR UPDATE`, jobID).Scan(&approvalState)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, domain.ErrJobNotFound
	}
	if err != nil {
		return false, err
	}

	if domain.ApprovalState(approvalState) == domain.ApprovalApproved {
		return false, tx.Commit(ctx)
	}
	if domain.ApprovalState(approvalState) != domain.ApprovalWaitApproval {
		return false, domain.ErrApprovalConflict
	}

	_, err = tx.Exec(ctx, `UPDATE jobs SET approval_state = $2 WHERE id = $1`, jobID, string(domain.ApprovalApproved))
	if err != nil {
		return false, err
	}
	if err := insertOutboxPlanJob(ctx, tx, jobID); err != nil {
		return false, err
	}

	return true, tx.Commit(ctx)
}

// RejectJob implements component C's Reject operation.
func (r *Repository) RejectJob(ctx context.Context, jobID uuid.UUID) (domain.Job, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return domain.Job{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	job, err := scanJob(tx.QueryRow(ctx, jobSelectColumns+` FROM jobs WHERE id = $1 FOR UPDATE`, jobID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Job{}, domain.ErrJobNotFound
	}
	if err != nil {
		return domain.Job{}, err
	}

	if job.ApprovalState == domain.ApprovalRejected {
		return job, tx.Commit(ctx)
	}
	if job.ApprovalState != domain.ApprovalWaitApproval {
		return domain.Job{}, domain.ErrApprovalConflict
	}

	_, err = tx.Exec(ctx, `
		UPDATE jobs SET approval_state = $2, status = $3 WHERE id = $1
	`, jobID, string(domain.ApprovalRejected), string(domain.JobFailed))
	if err != nil {
		return domain.Job{}, err
	}

	_, err = tx.Exec(ctx, `
		UPDATE executions SET status = $3
		WHERE job_id = $1 AND status IN ($2, $4)
	`, jobID, string(domain.ExecutionNew), string(domain.ExecutionCancelled), string(domain.ExecutionQueued))
	if err != nil {
		return domain.Job{}, err
	}

	job.ApprovalState = domain.ApprovalRejected
	job.Status = domain.JobFailed

	return job, tx.Commit(ctx)
}
