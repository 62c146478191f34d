package postgres

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/fleetops/orchestrator/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const jobSelectColumns = `SELECT id, external_id, signature, command_type, status, approval_state, selector, payload, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (domain.Job, error) {
	var j domain.Job
	var commandType, status string
	var approvalState *string
	var selectorJSON, payloadJSON []byte

	err := row.Scan(&j.JobID, &j.ExternalID, &j.Signature, &commandType, &status, &approvalState, &selectorJSON, &payloadJSON, &j.CreatedAt)
	if err != nil {
		return domain.Job{}, err
	}

	j.CommandType = domain.CommandType(commandType)
	j.Status = domain.JobStatus(status)
	if approvalState != nil {
		j.ApprovalState = domain.ApprovalState(*approvalState)
	}
	if len(selectorJSON) > 0 {
		_ = json.Unmarshal(selectorJSON, &j.Selector)
	}
	if len(payloadJSON) > 0 {
		_ = json.Unmarshal(payloadJSON, &j.Payload)
	}
	return j, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > 500 {
		return 500
	}
	return limit
}

// ListJobs returns job summaries newest first.
func (r *Repository) ListJobs(ctx context.Context, limit, offset int) ([]domain.Job, error) {
	limit = clampLimit(limit)
	if offset < 0 {
		offset = 0
	}

	rows, err := r.pool.Query(ctx, jobSelectColumns+`
		FROM jobs ORDER BY created_at DESC LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// GetJobDetail implements component G, the advisory roll-up, alongside the
// job row itself.
func (r *Repository) GetJobDetail(ctx context.Context, jobID uuid.UUID) (*domain.JobDetail, error) {
	job, err := scanJob(r.pool.QueryRow(ctx, jobSelectColumns+` FROM jobs WHERE id = $1`, jobID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT status, COUNT(*) FROM executions WHERE job_id = $1 GROUP BY status
	`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[domain.ExecutionStatus]int)
	total := 0
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[domain.ExecutionStatus(status)] = n
		total += n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &domain.JobDetail{
		Job:              job,
		ExecutionsTotal:  total,
		ExecutionsByStat: counts,
		Summary:          domain.Summarize(counts),
	}, nil
}

// ListExecutions returns a job's executions ordered by hostname ascending.
func (r *Repository) ListExecutions(ctx context.Context, jobID uuid.UUID, status *domain.ExecutionStatus, limit, offset int) ([]domain.Execution, error) {
	limit = clampLimit(limit)
	if offset < 0 {
		offset = 0
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM jobs WHERE id = $1)`, jobID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, domain.ErrJobNotFound
	}

	query := `
		SELECT e.id, e.job_id, e.host_id, h.hostname, e.status, e.attempts, e.created_at, e.started_at, e.finished_at
		FROM executions e
		JOIN hosts h ON h.id = e.host_id
		WHERE e.job_id = $1
	`
	args := []any{jobID}
	if status != nil {
		query += ` AND e.status = $2 ORDER BY h.hostname ASC LIMIT $3 OFFSET $4`
		args = append(args, string(*status), limit, offset)
	} else {
		query += ` ORDER BY h.hostname ASC LIMIT $2 OFFSET $3`
		args = append(args, limit, offset)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var execs []domain.Execution
	for rows.Next() {
		var e domain.Execution
		var statusStr string
		if err := rows.Scan(&e.ExecutionID, &e.JobID, &e.HostID, &e.Hostname, &statusStr, &e.Attempts, &e.CreatedAt, &e.StartedAt, &e.FinishedAt); err != nil {
			return nil, err
		}
		e.Status = domain.ExecutionStatus(statusStr)
		execs = append(execs, e)
	}
	return execs, rows.Err()
}

// GetExecutionLogs returns log lines ascending by ts.
func (r *Repository) GetExecutionLogs(ctx context.Context, executionID uuid.UUID) ([]domain.ExecutionLog, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT execution_id, ts, line FROM execution_logs WHERE execution_id = $1 ORDER BY ts ASC
	`, executionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []domain.ExecutionLog
	for rows.Next() {
		var l domain.ExecutionLog
		if err := rows.Scan(&l.ExecutionID, &l.TS, &l.Line); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
