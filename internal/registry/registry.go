// Package registry holds the process-wide table of crawl jobs and the
// polling contract: readers always receive immutable snapshots.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/project-aether/crawler/internal/audit"
)

// ErrNotFound is returned when a job id is unknown or already evicted.
var ErrNotFound = errors.New("job not found")

// Clock supplies the current time, swappable in tests.
type Clock interface {
	Now() time.Time
}

// Mirror is an optional durable copy of terminal jobs so audit results
// survive process restarts for late pollers.
type Mirror interface {
	SaveJob(ctx context.Context, job audit.Job) error
	GetJob(ctx context.Context, id string) (audit.Job, error)
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
	Close() error
}

const mirrorTimeout = 5 * time.Second

// Registry is the in-memory job table. Each entry has exactly one writer
// (its coordinator, via Update); any number of readers take snapshots.
type Registry struct {
	mu     sync.RWMutex
	jobs   map[string]audit.Job
	mirror Mirror

	retention time.Duration
	clock     Clock
	logger    *zap.Logger
}

// Config controls registry behavior.
type Config struct {
	// Retention is how long terminal jobs are kept before eviction.
	Retention time.Duration
}

// New constructs a Registry. mirror may be nil.
func New(cfg Config, mirror Mirror, clock Clock, logger *zap.Logger) *Registry {
	if cfg.Retention <= 0 {
		cfg.Retention = 24 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		jobs:      make(map[string]audit.Job),
		mirror:    mirror,
		retention: cfg.Retention,
		clock:     clock,
		logger:    logger,
	}
}

// Create registers a new job.
func (r *Registry) Create(job audit.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	r.jobs[job.ID] = job.Clone()
	return nil
}

// Get returns an immutable snapshot of a job. Evicted terminal jobs are
// served from the mirror when one is configured.
func (r *Registry) Get(ctx context.Context, id string) (audit.Job, error) {
	r.mu.RLock()
	job, ok := r.jobs[id]
	r.mu.RUnlock()
	if ok {
		return job.Clone(), nil
	}
	if r.mirror == nil {
		return audit.Job{}, ErrNotFound
	}
	mctx, cancel := context.WithTimeout(ctx, mirrorTimeout)
	defer cancel()
	mirrored, err := r.mirror.GetJob(mctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return audit.Job{}, ErrNotFound
		}
		return audit.Job{}, fmt.Errorf("mirror get: %w", err)
	}
	return mirrored, nil
}

// Update applies mutator to the job under the write lock. Only the job's
// coordinator may call this for a given id; that single-writer discipline
// is what keeps counters and results monotonic. Terminal transitions are
// written through to the mirror.
func (r *Registry) Update(id string, mutator func(*audit.Job)) error {
	r.mu.Lock()
	job, ok := r.jobs[id]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	mutator(&job)
	r.jobs[id] = job
	snapshot := job.Clone()
	r.mu.Unlock()

	if r.mirror != nil && snapshot.Status.Terminal() {
		ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
		defer cancel()
		if err := r.mirror.SaveJob(ctx, snapshot); err != nil {
			r.logger.Warn("mirror save failed", zap.String("job_id", id), zap.Error(err))
		}
	}
	return nil
}

// List returns job snapshots ordered newest first.
func (r *Registry) List(limit, offset int) []audit.Job {
	r.mu.RLock()
	all := make([]audit.Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		all = append(all, job.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	if offset >= len(all) {
		return nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all
}

// Sweep evicts terminal jobs whose retention window has passed. Jobs that
// are still queued or in progress are never evicted.
func (r *Registry) Sweep(ctx context.Context) int {
	cutoff := r.clock.Now().Add(-r.retention)

	r.mu.Lock()
	evicted := 0
	for id, job := range r.jobs {
		if !job.Status.Terminal() || job.FinishedAt == nil {
			continue
		}
		if job.FinishedAt.Before(cutoff) {
			delete(r.jobs, id)
			evicted++
		}
	}
	r.mu.Unlock()

	if r.mirror != nil {
		mctx, cancel := context.WithTimeout(ctx, mirrorTimeout)
		defer cancel()
		if n, err := r.mirror.DeleteExpired(mctx, cutoff); err != nil {
			r.logger.Warn("mirror sweep failed", zap.Error(err))
		} else if n > 0 {
			r.logger.Debug("mirror sweep", zap.Int64("deleted", n))
		}
	}
	return evicted
}

// RunJanitor sweeps periodically until ctx is done.
func (r *Registry) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(ctx); n > 0 {
				r.logger.Info("evicted expired jobs", zap.Int("count", n))
			}
		}
	}
}
