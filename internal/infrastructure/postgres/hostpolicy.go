package postgres

import (
	"context"
	"errors"

	"github.com/fleetops/orchestrator/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// SetHostBlocks implements component H's PUT: replace the host's blocked
// command set atomically, deduping the input while preserving first
// occurrence order.
func (r *Repository) SetHostBlocks(ctx context.Context, hostID uuid.UUID, commands []domain.CommandType) ([]domain.CommandType, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM hosts WHERE id = $1)`, hostID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, domain.ErrHostNotFound
	}

	seen := make(map[domain.CommandType]bool, len(commands))
	deduped := make([]domain.CommandType, 0, len(commands))
	for _, c := range commands {
		if !c.Valid() {
			return nil, domain.ErrInvalidCommandType
		}
		if seen[c] {
			continue
		}
		seen[c] = true
		deduped = append(deduped, c)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM host_command_blocks WHERE host_id = $1`, hostID); err != nil {
		return nil, err
	}
	for _, c := range deduped {
		if _, err := tx.Exec(ctx, `
			INSERT INTO host_command_blocks (host_id, command_type) VALUES ($1, $2)
		`, hostID, string(c)); err != nil {
			return nil, err
		}
	}

	return deduped, tx.Commit(ctx)
}

// DeleteHostBlock implements component H's DELETE, returning the number
// of rows removed (0 or 1) so the handler can tell "already unblocked"
// apart from "unknown host".
func (r *Repository) DeleteHostBlock(ctx context.Context, hostID uuid.UUID, cmd domain.CommandType) (int, error) {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM hosts WHERE id = $1)`, hostID).Scan(&exists); err != nil {
		return 0, err
	}
	if !exists {
		return 0, domain.ErrHostNotFound
	}

	tag, err := r.pool.Exec(ctx, `
		DELETE FROM host_command_blocks WHERE host_id = $1 AND command_type = $2
	`, hostID, string(cmd))
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
