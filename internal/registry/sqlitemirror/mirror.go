// Package sqlitemirror provides an embedded SQLite durable mirror for
// terminal audit jobs, so results remain pollable across restarts.
package sqlitemirror

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/project-aether/crawler/internal/audit"
	"github.com/project-aether/crawler/internal/registry"
)

const schema = `
CREATE TABLE IF NOT EXISTS audit_jobs (
	id          TEXT PRIMARY KEY,
	status      TEXT NOT NULL,
	finished_at INTEGER NOT NULL,
	payload     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_jobs_finished_at ON audit_jobs (finished_at);
`

// Mirror implements registry.Mirror on a single SQLite file.
type Mirror struct {
	db *sql.DB
}

// Open opens or creates the mirror database under dir. WAL mode is
// enabled so readers do not block the single writer.
func Open(dir string) (*Mirror, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create mirror directory: %w", err)
	}
	dsn := filepath.Join(dir, "audit_jobs.db") + "?mode=rwc"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mirror database: %w", err)
	}

	// SQLite supports one writer; keep the pool at a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create mirror schema: %w", err)
	}
	return &Mirror{db: db}, nil
}

// SaveJob upserts a terminal job snapshot.
func (m *Mirror) SaveJob(ctx context.Context, job audit.Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", job.ID, err)
	}
	var finished int64
	if job.FinishedAt != nil {
		finished = job.FinishedAt.UTC().Unix()
	}
	_, err = m.db.ExecContext(ctx, `
		INSERT INTO audit_jobs (id, status, finished_at, payload)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			status = excluded.status,
			finished_at = excluded.finished_at,
			payload = excluded.payload;`,
		job.ID, string(job.Status), finished, string(payload),
	)
	if err != nil {
		return fmt.Errorf("upsert job %s: %w", job.ID, err)
	}
	return nil
}

// GetJob loads a mirrored job by id.
func (m *Mirror) GetJob(ctx context.Context, id string) (audit.Job, error) {
	var payload string
	err := m.db.QueryRowContext(ctx, `SELECT payload FROM audit_jobs WHERE id = ?;`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return audit.Job{}, registry.ErrNotFound
	}
	if err != nil {
		return audit.Job{}, fmt.Errorf("select job %s: %w", id, err)
	}
	var job audit.Job
	if err := json.Unmarshal([]byte(payload), &job); err != nil {
		return audit.Job{}, fmt.Errorf("unmarshal job %s: %w", id, err)
	}
	return job, nil
}

// DeleteExpired removes jobs that finished before cutoff.
func (m *Mirror) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := m.db.ExecContext(ctx,
		`DELETE FROM audit_jobs WHERE finished_at > 0 AND finished_at < ?;`,
		cutoff.UTC().Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("delete expired jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (m *Mirror) Close() error {
	if err := m.db.Close(); err != nil {
		return fmt.Errorf("close mirror database: %w", err)
	}
	return nil
}
