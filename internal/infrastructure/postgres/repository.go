// Package postgres implements domain.Store on top of pgx: every mutation
// path is a single transaction, batch claims use FOR UPDATE SKIP LOCKED,
// and per-host mutual exclusion uses session-scoped advisory locks.
package postgres

import (
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}
