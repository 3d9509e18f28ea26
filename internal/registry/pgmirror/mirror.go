// Package pgmirror provides a Postgres-backed durable mirror for
// terminal audit jobs.
package pgmirror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/project-aether/crawler/internal/audit"
	"github.com/project-aether/crawler/internal/registry"
)

// Pool is the subset of pgxpool.Pool the mirror uses; pgxmock satisfies
// it in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS audit_jobs (
	id          TEXT PRIMARY KEY,
	status      TEXT NOT NULL,
	finished_at TIMESTAMPTZ,
	payload     JSONB NOT NULL
);`

// Mirror implements registry.Mirror on Postgres.
type Mirror struct {
	pool Pool
}

// New connects to dsn and ensures the schema exists.
func New(ctx context.Context, dsn string) (*Mirror, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	m := &Mirror{pool: pool}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create mirror schema: %w", err)
	}
	return m, nil
}

// NewWithPool wraps an existing pool; used by tests.
func NewWithPool(pool Pool) *Mirror {
	return &Mirror{pool: pool}
}

// SaveJob upserts a terminal job snapshot.
func (m *Mirror) SaveJob(ctx context.Context, job audit.Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", job.ID, err)
	}
	var finished *time.Time
	if job.FinishedAt != nil {
		t := job.FinishedAt.UTC()
		finished = &t
	}
	_, err = m.pool.Exec(ctx, `
		INSERT INTO audit_jobs (id, status, finished_at, payload)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			finished_at = EXCLUDED.finished_at,
			payload = EXCLUDED.payload;`,
		job.ID, string(job.Status), finished, payload,
	)
	if err != nil {
		return fmt.Errorf("upsert job %s: %w", job.ID, err)
	}
	return nil
}

// GetJob loads a mirrored job by id.
func (m *Mirror) GetJob(ctx context.Context, id string) (audit.Job, error) {
	var payload []byte
	err := m.pool.QueryRow(ctx, `SELECT payload FROM audit_jobs WHERE id = $1;`, id).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return audit.Job{}, registry.ErrNotFound
	}
	if err != nil {
		return audit.Job{}, fmt.Errorf("select job %s: %w", id, err)
	}
	var job audit.Job
	if err := json.Unmarshal(payload, &job); err != nil {
		return audit.Job{}, fmt.Errorf("unmarshal job %s: %w", id, err)
	}
	return job, nil
}

// DeleteExpired removes jobs that finished before cutoff.
func (m *Mirror) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := m.pool.Exec(ctx,
		`DELETE FROM audit_jobs WHERE finished_at IS NOT NULL AND finished_at < $1;`,
		cutoff.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("delete expired jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Close releases the connection pool.
func (m *Mirror) Close() error {
	m.pool.Close()
	return nil
}
