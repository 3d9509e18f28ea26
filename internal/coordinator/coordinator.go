// Package coordinator owns the lifecycle of audit jobs: one Manager per
// process accepts submissions and runs a coordinator goroutine per job.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/project-aether/crawler/internal/analyze"
	"github.com/project-aether/crawler/internal/audit"
	"github.com/project-aether/crawler/internal/fetch"
	"github.com/project-aether/crawler/internal/frontier"
	"github.com/project-aether/crawler/internal/progress"
	"github.com/project-aether/crawler/internal/registry"
	"github.com/project-aether/crawler/internal/worker"
)

// Errors returned by Cancel.
var (
	// ErrJobFinished means the job already reached a terminal state.
	ErrJobFinished = errors.New("job already finished")
	// ErrShuttingDown rejects submissions during shutdown.
	ErrShuttingDown = errors.New("manager is shutting down")
)

// Clock supplies the current time, swappable in tests.
type Clock interface {
	Now() time.Time
}

// IDGenerator mints job identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// FetcherFactory builds the fetcher for one job from its effective
// crawl configuration.
type FetcherFactory func(cfg audit.CrawlConfig) worker.Fetcher

// AnalyzerFactory builds the page analyzer for one job.
type AnalyzerFactory func(cfg audit.CrawlConfig) worker.Analyzer

// Config controls Manager behavior.
type Config struct {
	// UserAgent is sent on every page fetch.
	UserAgent string
	// NewFetcher and NewAnalyzer override the per-job pipeline
	// construction; tests inject fakes here.
	NewFetcher  FetcherFactory
	NewAnalyzer AnalyzerFactory
}

// Manager validates submissions, registers jobs, and supervises the
// coordinator goroutines. It is the only writer of job state in the
// registry.
type Manager struct {
	reg     *registry.Registry
	emitter progress.Emitter
	clock   Clock
	ids     IDGenerator
	logger  *zap.Logger

	userAgent   string
	newFetcher  FetcherFactory
	newAnalyzer AnalyzerFactory

	mu       sync.Mutex
	running  map[string]*run
	shutdown bool
	wg       sync.WaitGroup
}

// run tracks one live coordinator so Cancel can reach it.
type run struct {
	cancel context.CancelFunc

	mu     sync.Mutex
	reason string
}

func (r *run) setReason(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.reason == "" {
		r.reason = reason
	}
}

func (r *run) cancelReason() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reason
}

// NewManager constructs a Manager. emitter may be nil.
func NewManager(
	reg *registry.Registry,
	emitter progress.Emitter,
	clock Clock,
	ids IDGenerator,
	cfg Config,
	logger *zap.Logger,
) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		reg:         reg,
		emitter:     emitter,
		clock:       clock,
		ids:         ids,
		logger:      logger,
		userAgent:   cfg.UserAgent,
		newFetcher:  cfg.NewFetcher,
		newAnalyzer: cfg.NewAnalyzer,
		running:     make(map[string]*run),
	}
	if m.newFetcher == nil {
		m.newFetcher = func(cc audit.CrawlConfig) worker.Fetcher {
			return fetch.New(fetch.Config{
				UserAgent:       m.userAgent,
				Timeout:         cc.FetchTimeout,
				MaxRetries:      cc.MaxRetries,
				PolitenessDelay: cc.PolitenessDelay,
			}, logger.Named("fetch"))
		}
	}
	if m.newAnalyzer == nil {
		m.newAnalyzer = func(cc audit.CrawlConfig) worker.Analyzer {
			return analyze.New(cc.SlowResponse)
		}
	}
	return m
}

// Submit validates the root URL and configuration, registers a queued
// job, starts its coordinator, and returns the job id immediately. The
// crawl itself is observed by polling the registry.
func (m *Manager) Submit(rootURL string, cfg audit.CrawlConfig) (string, error) {
	canonical, err := audit.CanonicalURL(rootURL)
	if err != nil {
		return "", fmt.Errorf("invalid root url: %w", err)
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return "", fmt.Errorf("invalid crawl config: %w", err)
	}
	id, err := m.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("mint job id: %w", err)
	}

	job := audit.Job{
		ID:        id,
		RootURL:   canonical,
		Status:    audit.StatusQueued,
		Config:    cfg,
		CreatedAt: m.clock.Now(),
	}
	if err := m.reg.Create(job); err != nil {
		return "", fmt.Errorf("register job: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &run{cancel: cancel}

	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		cancel()
		return "", ErrShuttingDown
	}
	m.running[id] = r
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		defer cancel()
		m.runJob(ctx, r, job)
		m.mu.Lock()
		delete(m.running, id)
		m.mu.Unlock()
	}()
	return id, nil
}

// Cancel requests early termination of a running job. The job moves to
// failed with the given reason; results collected so far are preserved.
func (m *Manager) Cancel(ctx context.Context, id, reason string) error {
	job, err := m.reg.Get(ctx, id)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return ErrJobFinished
	}

	m.mu.Lock()
	r, ok := m.running[id]
	m.mu.Unlock()
	if !ok {
		// The coordinator finalized between the two lookups.
		return ErrJobFinished
	}
	if reason == "" {
		reason = "cancelled"
	}
	r.setReason(reason)
	r.cancel()
	return nil
}

// Shutdown cancels all running jobs and waits for their coordinators to
// finalize, or until ctx expires.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.shutdown = true
	for _, r := range m.running {
		r.setReason("server shutting down")
		r.cancel()
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("coordinator shutdown wait: %w", ctx.Err())
	}
}

// runJob drives one crawl from seed to terminal state.
func (m *Manager) runJob(ctx context.Context, r *run, job audit.Job) {
	cfg := job.Config
	logger := m.logger.With(zap.String("job_id", job.ID), zap.String("root_url", job.RootURL))

	ctx, cancel := context.WithTimeout(ctx, cfg.JobDeadline)
	defer cancel()

	fr := frontier.New(job.RootURL, cfg.MaxDepth, cfg.MaxPages)
	fr.Push(job.RootURL, 0, "")

	pool := worker.NewPool(cfg.Concurrency, logger.Named("worker"))
	sink := make(chan worker.Outcome, cfg.Concurrency)

	start := m.clock.Now()
	_ = m.reg.Update(job.ID, func(j *audit.Job) {
		j.Status = audit.StatusInProgress
		j.PagesQueued = 1
	})
	m.emit(progress.Event{
		JobID: job.ID,
		TS:    start,
		Stage: progress.StageJobStart,
		URL:   job.RootURL,
	})
	logger.Info("audit started",
		zap.Int("max_depth", cfg.MaxDepth),
		zap.Int("max_pages", cfg.MaxPages),
		zap.Int("concurrency", cfg.Concurrency),
	)

	go pool.Run(ctx, fr, m.newFetcher(cfg), m.newAnalyzer(cfg), sink)

	var (
		index    = make(map[string]int)
		visited  int
		best     int
		rootErr  error
		fatalErr error
	)
	for outcome := range sink {
		stats := fr.Stats()
		switch {
		case outcome.Result != nil:
			visited++
			best = max(best, progressEstimate(visited, stats.Accepted))
			result := *outcome.Result
			position := 0
			_ = m.reg.Update(job.ID, func(j *audit.Job) {
				position = len(j.Results)
				j.Results = append(j.Results, result)
				j.PagesVisited = visited
				j.PagesQueued = stats.Accepted
				j.Progress = best
			})
			index[outcome.CanonicalURL] = position
			m.emit(progress.Event{
				JobID:        job.ID,
				TS:           m.clock.Now(),
				Stage:        progress.StagePageDone,
				URL:          result.URL,
				StatusClass:  progress.ClassifyStatus(result.StatusCode),
				Dur:          time.Duration(result.ResponseTimeMs) * time.Millisecond,
				PagesVisited: visited,
				PagesQueued:  stats.Accepted,
				Progress:     best,
			})

		case outcome.LinkFailure != nil:
			visited++
			best = max(best, progressEstimate(visited, stats.Accepted))
			lf := outcome.LinkFailure
			issue := audit.Issue{
				Kind:     audit.IssueBrokenLink,
				Severity: audit.SeverityHigh,
				Detail:   fmt.Sprintf("link to %s failed: %s", lf.URL, lf.Reason),
			}
			_ = m.reg.Update(job.ID, func(j *audit.Job) {
				if pos, ok := index[lf.Referrer]; ok && pos < len(j.Results) {
					j.Results[pos].Issues = append(j.Results[pos].Issues, issue)
				} else {
					logger.Debug("broken link without recorded referrer",
						zap.String("url", lf.URL),
						zap.String("referrer", lf.Referrer),
					)
				}
				j.PagesVisited = visited
				j.PagesQueued = stats.Accepted
				j.Progress = best
			})
			m.emit(progress.Event{
				JobID:        job.ID,
				TS:           m.clock.Now(),
				Stage:        progress.StageLinkDead,
				URL:          lf.URL,
				PagesVisited: visited,
				PagesQueued:  stats.Accepted,
				Progress:     best,
				Note:         lf.Reason,
			})

		case outcome.RootFailure != nil:
			rootErr = outcome.RootFailure
			cancel()

		case outcome.Fatal != nil:
			fatalErr = outcome.Fatal
			cancel()
		}
	}

	finished := m.clock.Now()
	status := audit.StatusCompleted
	var reason string
	switch {
	case fatalErr != nil:
		status = audit.StatusFailed
		reason = fmt.Sprintf("internal error: %v", fatalErr)
	case rootErr != nil:
		status = audit.StatusFailed
		reason = fmt.Sprintf("root url fetch failed: %v", rootErr)
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		status = audit.StatusFailed
		reason = fmt.Sprintf("job deadline of %s exceeded", cfg.JobDeadline)
	case ctx.Err() != nil:
		status = audit.StatusFailed
		reason = r.cancelReason()
		if reason == "" {
			reason = "cancelled"
		}
	}

	_ = m.reg.Update(job.ID, func(j *audit.Job) {
		j.Status = status
		j.Error = reason
		j.Progress = 100
		t := finished
		j.FinishedAt = &t
	})

	stage := progress.StageJobDone
	if status == audit.StatusFailed {
		stage = progress.StageJobFailed
	}
	m.emit(progress.Event{
		JobID:        job.ID,
		TS:           finished,
		Stage:        stage,
		Dur:          finished.Sub(start),
		PagesVisited: visited,
		Progress:     100,
		Note:         reason,
	})
	logger.Info("audit finished",
		zap.String("status", string(status)),
		zap.Int("pages_visited", visited),
		zap.Duration("elapsed", finished.Sub(start)),
		zap.String("reason", reason),
	)
}

func (m *Manager) emit(evt progress.Event) {
	if m.emitter != nil {
		m.emitter.Emit(evt)
	}
}

// progressEstimate is the percent-complete heuristic: visited over total
// accepted, capped at 99 so only finalization reports 100.
func progressEstimate(visited, accepted int) int {
	if accepted < 1 {
		accepted = 1
	}
	p := int(math.Round(100 * float64(visited) / float64(accepted)))
	if p > 99 {
		p = 99
	}
	return p
}
