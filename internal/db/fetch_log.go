package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/briangreenhill/gitreal/internal/fetch"
)

type FetchLog struct {
	ID         uuid.UUID   `json:"id"`
	CacheKey   string      `json:"cache_key"`
	Source     string      `json:"source"`
	Bytes      int32       `json:"bytes"`
	Stored     bool        `json:"stored"`
	Error      pgtype.Text `json:"error"`
	DurationMs int64       `json:"duration_ms"`
	FetchedAt  time.Time   `json:"fetched_at"`
}

type InsertFetchParams struct {
	ID         uuid.UUID
	CacheKey   string
	Source     string
	Bytes      int32
	Stored     bool
	Error      pgtype.Text
	DurationMs int64
	FetchedAt  time.Time
}

const insertFetch = `
INSERT INTO fetch_log (id, cache_key, source, bytes, stored, error, duration_ms, fetched_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`

func (q *Queries) InsertFetch(ctx context.Context, arg InsertFetchParams) error {
	_, err := q.db.Exec(ctx, insertFetch,
		arg.ID,
		arg.CacheKey,
		arg.Source,
		arg.Bytes,
		arg.Stored,
		arg.Error,
		arg.DurationMs,
		arg.FetchedAt,
	)
	return err
}

const listRecentFetches = `
SELECT id, cache_key, source, bytes, stored, error, duration_ms, fetched_at
FROM fetch_log
ORDER BY fetched_at DESC
LIMIT $1
`

func (q *Queries) ListRecentFetches(ctx context.Context, limit int32) ([]FetchLog, error) {
	rows, err := q.db.Query(ctx, listRecentFetches, limit)
	if err != nil {
		return nil, err
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (FetchLog, error) {
		var i FetchLog
		err := row.Scan(
			&i.ID,
			&i.CacheKey,
			&i.Source,
			&i.Bytes,
			&i.Stored,
			&i.Error,
			&i.DurationMs,
			&i.FetchedAt,
		)
		return i, err
	})
	if err != nil {
		return nil, fmt.Errorf("list recent fetches: %w", err)
	}
	return items, nil
}

// Recorder writes orchestrator fetch records to the audit log.
type Recorder struct {
	Q *Queries
}

func (r Recorder) RecordFetch(ctx context.Context, rec fetch.Record) error {
	return r.Q.InsertFetch(ctx, InsertFetchParams{
		ID:         rec.ID,
		CacheKey:   rec.Key,
		Source:     rec.Source,
		Bytes:      int32(rec.Bytes),
		Stored:     rec.Stored,
		Error:      pgtype.Text{String: rec.Err, Valid: rec.Err != ""},
		DurationMs: rec.Duration.Milliseconds(),
		FetchedAt:  rec.At,
	})
}

var _ fetch.Recorder = Recorder{}
