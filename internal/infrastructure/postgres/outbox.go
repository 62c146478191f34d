package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/fleetops/orchestrator/internal/domain"
	"github.com/google/uuid"
)

const outboxMaxAttempts = 10

// DrainOutbox implements component D: claim up to batchSize NEW rows under
// skip-locked, mark each SENT (or FAILED, past outboxMaxAttempts, if its
// payload cannot be parsed), and return the distinct job ids to hand to
// the broker. The broker send itself happens after this transaction
// commits, in the caller — this method only performs the DB side of
// commit-then-publish.
func (r *Repository) DrainOutbox(ctx context.Context, batchSize int) ([]uuid.UUID, error) {
	if batchSize <= 0 {
		batchSize = 20
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		SELECT id, payload, attempts FROM outbox_events
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`, string(domain.OutboxNew), batchSize)
	if err != nil {
		return nil, err
	}

	type claimed struct {
		id       uuid.UUID
		payload  []byte
		attempts int
	}
	var events []claimed
	for rows.Next() {
		var c claimed
		if err := rows.Scan(&c.id, &c.payload, &c.attempts); err != nil {
			rows.Close()
			return nil, err
		}
		events = append(events, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, tx.Commit(ctx)
	}

	seen := make(map[uuid.UUID]bool)
	var jobIDs []uuid.UUID

	for _, e := range events {
		var body struct {
			JobID uuid.UUID `json:"job_id"`
		}
		if err := json.Unmarshal(e.payload, &body); err != nil {
			nextAttempts := e.attempts + 1
			status := string(domain.OutboxNew)
			if nextAttempts >= outboxMaxAttempts {
				status = string(domain.OutboxFailed)
			}
			if _, err := tx.Exec(ctx, `
				UPDATE outbox_events SET attempts = $2, status = $3 WHERE id = $1
			`, e.id, nextAttempts, status); err != nil {
				return nil, err
			}
			continue
		}

		if _, err := tx.Exec(ctx, `
			UPDATE outbox_events SET status = $2, sent_at = NOW() WHERE id = $1
		`, e.id, string(domain.OutboxSent)); err != nil {
			return nil, err
		}

		if !seen[body.JobID] {
			seen[body.JobID] = true
			jobIDs = append(jobIDs, body.JobID)
		}
	}

	return jobIDs, tx.Commit(ctx)
}

// SweepStuckOutbox resolves rows that were marked SENT but whose broker
// enqueue never actually landed (a crash between the DB commit and the
// publish call) by reverting SENT rows older than olderThan back to NEW so
// the next drain retries them. A row is only reverted while its job is
// still NEW (or no longer exists): a job that has moved past NEW has been
// planned, so its event evidently reached the broker.
func (r *Repository) SweepStuckOutbox(ctx context.Context, olderThan time.Duration) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE outbox_events o SET status = $1
		WHERE o.status = $2 AND o.sent_at < NOW() - ($3 * INTERVAL '1 second')
		AND NOT EXISTS (
			SELECT 1 FROM jobs j WHERE j.id::text = o.payload->>'job_id' AND j.status <> $4
		)
	`, string(domain.OutboxNew), string(domain.OutboxSent), olderThan.Seconds(), string(domain.JobNew))
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
