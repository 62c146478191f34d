package postgres

import (
	"context"
	"errors"

	"github.com/fleetops/orchestrator/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// BeginPlanning implements the first two steps of component E: select the
// job only if it is still NEW and its approval has cleared, then transition
// it to QUEUED. Returns false (no-op) if the job is absent, already past
// NEW, or still waiting on approval — covering duplicate/stale PLAN_JOB
// deliveries.
func (r *Repository) BeginPlanning(ctx context.Context, jobID uuid.UUID) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var status, approvalState string
	err = tx.QueryRow(ctx, `
		SELECT status, COALESCE(approval_state, '') FROM jobs WHERE id = $1
		AND status = $2 AND (approval_state IS NULL OR approval_state = $3)
		FOR UPDATE
	`, jobID, string(domain.JobNew), string(domain.ApprovalApproved)).Scan(&status, &approvalState)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE jobs SET status = $2 WHERE id = $1 AND status = $3
	`, jobID, string(domain.JobQueued), string(domain.JobNew)); err != nil {
		return false, err
	}

	return true, tx.Commit(ctx)
}

// ClaimExecutionBatch implements steps 3-4 of component E: claim up to
// batchSize NEW executions for the job under a skip-locked row lock and
// transition them to QUEUED, all in one transaction. Returns an empty
// slice once no NEW executions remain — the caller loops until that
// happens.
func (r *Repository) ClaimExecutionBatch(ctx context.Context, jobID uuid.UUID, batchSize int) ([]uuid.UUID, error) {
	if batchSize <= 0 {
		batchSize = 200
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		SELECT id FROM executions
		WHERE job_id = $1 AND status = $2
		ORDER BY created_at ASC
		LIMIT $3
		FOR UPDATE SKIP LOCKED
	`, jobID, string(domain.ExecutionNew), batchSize)
	if err != nil {
		return nil, err
	}

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, tx.Commit(ctx)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE executions SET status = $2 WHERE id = ANY($1) AND status = $3
	`, ids, string(domain.ExecutionQueued), string(domain.ExecutionNew)); err != nil {
		return nil, err
	}

	return ids, tx.Commit(ctx)
}
