// Package db stores the fetch audit log in Postgres.
package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

const schema = `
CREATE TABLE IF NOT EXISTS fetch_log (
    id          uuid PRIMARY KEY,
    cache_key   text        NOT NULL,
    source      text        NOT NULL,
    bytes       integer     NOT NULL,
    stored      boolean     NOT NULL,
    error       text,
    duration_ms bigint      NOT NULL,
    fetched_at  timestamptz NOT NULL
);
CREATE INDEX IF NOT EXISTS fetch_log_fetched_at_idx ON fetch_log (fetched_at DESC);
`

// Migrate creates the fetch_log table if it does not exist.
func Migrate(ctx context.Context, db DBTX) error {
	_, err := db.Exec(ctx, schema)
	return err
}
