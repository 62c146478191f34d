package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/fleetops/orchestrator/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CreateJob implements component B, Job Intake, entirely within one
// transaction: idempotent lookup by external_id, host resolution from the
// selector, block-aware execution materialization, and (for auto-approved
// commands) the outbox row that hands off to the publisher.
func (r *Repository) CreateJob(ctx context.Context, in domain.CreateJobInput) (uuid.UUID, error) {
	if !in.CommandType.Valid() {
		return uuid.Nil, domain.ErrInvalidCommandType
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var existing uuid.UUID
	err = tx.QueryRow(ctx, `SELECT id FROM jobs WHERE external_id = $1`, in.ExternalID).Scan(&existing)
	if err == nil {
		return existing, tx.Commit(ctx)
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, err
	}

	approvalState := domain.ApprovalNone
	if in.CommandType.RequiresApproval() {
		approvalState = domain.ApprovalWaitApproval
	}

	selectorJSON, err := json.Marshal(in.Selector)
	if err != nil {
		return uuid.Nil, err
	}
	payloadJSON, err := json.Marshal(in.Payload)
	if err != nil {
		return uuid.Nil, err
	}

	var jobID uuid.UUID
	err = tx.QueryRow(ctx, `
		INSERT INTO jobs (external_id, signature, command_type, selector, payload, status, approval_state, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NOW())
		RETURNING id
	`, in.ExternalID, in.Signature, string(in.CommandType), selectorJSON, payloadJSON, string(domain.JobNew), string(approvalState)).Scan(&jobID)
	if err != nil {
		return uuid.Nil, err
	}

	hostIDs, err := r.resolveSelector(ctx, tx, in.Selector)
	if err != nil {
		return uuid.Nil, err
	}

	blockedHostIDs, err := r.blockedHostIDs(ctx, tx, in.CommandType)
	if err != nil {
		return uuid.Nil, err
	}

	for _, hostID := range hostIDs {
		status := domain.ExecutionNew
		if blockedHostIDs[hostID] {
			status = domain.ExecutionBlocked
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO executions (job_id, host_id, status, attempts, created_at)
			VALUES ($1, $2, $3, 0, NOW())
		`, jobID, hostID, string(status))
		if err != nil {
			return uuid.Nil, err
		}
	}

	if approvalState == domain.ApprovalNone {
		if err := insertOutboxPlanJob(ctx, tx, jobID); err != nil {
			return uuid.Nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, err
	}
	return jobID, nil
}

func (r *Repository) resolveSelector(ctx context.Context, tx pgx.Tx, sel domain.Selector) ([]uuid.UUID, error) {
	if sel.All {
		rows, err := tx.Query(ctx, `SELECT id FROM hosts`)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		var ids []uuid.UUID
		for rows.Next() {
			var id uuid.UUID
			if err := rows.Scan(&id); err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}
		return ids, rows.Err()
	}

	if len(sel.Hostnames) == 0 {
		return nil, domain.ErrInvalidSelector
	}

	rows, err := tx.Query(ctx, `SELECT hostname, id FROM hosts WHERE hostname = ANY($1)`, sel.Hostnames)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	found := make(map[string]uuid.UUID, len(sel.Hostnames))
	for rows.Next() {
		var hostname string
		var id uuid.UUID
		if err := rows.Scan(&hostname, &id); err != nil {
			return nil, err
		}
		found[hostname] = id
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var missing []string
	ids := make([]uuid.UUID, 0, len(sel.Hostnames))
	for _, h := range sel.Hostnames {
		id, ok := found[h]
		if !ok {
			missing = append(missing, h)
			continue
		}
		ids = append(ids, id)
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: Missing hosts: %s", domain.ErrMissingHosts, strings.Join(missing, ","))
	}
	return ids, nil
}

func (r *Repository) blockedHostIDs(ctx context.Context, tx pgx.Tx, cmd domain.CommandType) (map[uuid.UUID]bool, error) {
	rows, err := tx.Query(ctx, `SELECT host_id FROM host_command_blocks WHERE command_type = $1`, string(cmd))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	blocked := make(map[uuid.UUID]bool)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		blocked[id] = true
	}
	return blocked, rows.Err()
}

func insertOutboxPlanJob(ctx context.Context, tx pgx.Tx, jobID uuid.UUID) error {
	payload, err := json.Marshal(map[string]any{"job_id": jobID.String()})
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO outbox_events (id, event_type, payload, status, attempts, created_at)
		VALUES ($1, $2, $3, $4, 0, NOW())
	`, uuid.New(), string(domain.EventPlanJob), payload, string(domain.OutboxNew))
	return err
}
