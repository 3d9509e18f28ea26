// Package worker implements the fixed-size pool that drains a job's
// frontier through the fetch/analyze pipeline.
package worker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/project-aether/crawler/internal/audit"
	"github.com/project-aether/crawler/internal/fetch"
	"github.com/project-aether/crawler/internal/frontier"
)

// Fetcher fetches one URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (fetch.Response, error)
}

// Analyzer produces a page result plus discovered outbound links.
type Analyzer interface {
	Analyze(requestedURL string, resp fetch.Response) (audit.PageResult, []string)
}

// LinkFailure records a discovered link that could not be fetched. The
// coordinator attributes it as a broken-link issue on the referring page.
type LinkFailure struct {
	URL      string
	Referrer string
	Reason   string
}

// Outcome is one unit of output emitted to the coordinator. Exactly one
// field is set.
type Outcome struct {
	// Result is a fully analyzed page. CanonicalURL is the frontier key
	// it was fetched under, which can differ from Result.URL after
	// redirects; broken-link attribution matches on the canonical key.
	Result       *audit.PageResult
	CanonicalURL string
	// LinkFailure is a permanently failing discovered link.
	LinkFailure *LinkFailure
	// RootFailure means the root URL itself could not be fetched; the
	// coordinator escalates the job to failed.
	RootFailure error
	// Fatal is an internal error (worker panic) that fails the job.
	Fatal error
}

// Pool runs a bounded number of concurrent crawl workers. Concurrency is
// fixed up front, which bounds memory and outbound connection pressure
// regardless of how many links a crawl discovers.
type Pool struct {
	concurrency int
	logger      *zap.Logger
}

// NewPool constructs a Pool.
func NewPool(concurrency int, logger *zap.Logger) *Pool {
	if concurrency <= 0 {
		concurrency = audit.DefaultConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{concurrency: concurrency, logger: logger}
}

// Run starts the workers and blocks until all of them have exited, then
// closes sink. Workers exit when the frontier reports exhaustion or is
// closed; cancelling ctx closes the frontier. The sink consumer must
// drain until close or the pool deadlocks.
func (p *Pool) Run(
	ctx context.Context,
	fr *frontier.Frontier,
	fetcher Fetcher,
	analyzer Analyzer,
	sink chan<- Outcome,
) {
	watchDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			fr.Close()
		case <-watchDone:
		}
	}()

	g := &errgroup.Group{}
	for i := 0; i < p.concurrency; i++ {
		idx := i
		g.Go(func() error {
			p.runWorker(ctx, idx, fr, fetcher, analyzer, sink)
			return nil
		})
	}
	_ = g.Wait()
	close(watchDone)
	close(sink)
}

func (p *Pool) runWorker(
	ctx context.Context,
	idx int,
	fr *frontier.Frontier,
	fetcher Fetcher,
	analyzer Analyzer,
	sink chan<- Outcome,
) {
	logger := p.logger.With(zap.Int("worker", idx))
	for {
		entry, err := fr.Pop()
		if err != nil {
			if errors.Is(err, frontier.ErrExhausted) {
				logger.Debug("frontier exhausted, worker exiting")
			}
			return
		}
		p.process(ctx, logger, entry, fr, fetcher, analyzer, sink)
	}
}

// process handles one frontier entry. Done is deferred so link pushes
// made here are counted before the entry is released; otherwise a sibling
// worker could observe a falsely empty frontier.
func (p *Pool) process(
	ctx context.Context,
	logger *zap.Logger,
	entry frontier.Entry,
	fr *frontier.Frontier,
	fetcher Fetcher,
	analyzer Analyzer,
	sink chan<- Outcome,
) {
	defer fr.Done()
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("worker panic", zap.Any("panic", rec), zap.String("url", entry.URL))
			sink <- Outcome{Fatal: fmt.Errorf("worker panic processing %s: %v", entry.URL, rec)}
		}
	}()

	resp, err := fetcher.Fetch(ctx, entry.URL)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		if entry.Depth == 0 {
			sink <- Outcome{RootFailure: err}
			return
		}
		reason := err.Error()
		var fe *fetch.Error
		if errors.As(err, &fe) {
			reason = fe.Reason()
		}
		logger.Debug("discovered link failed", zap.String("url", entry.URL), zap.String("reason", reason))
		sink <- Outcome{LinkFailure: &LinkFailure{
			URL:      entry.URL,
			Referrer: entry.DiscoveredFrom,
			Reason:   reason,
		}}
		return
	}

	result, links := analyzer.Analyze(entry.URL, resp)

	// Emit before pushing links so the referrer's result is always
	// recorded before any broken-link attribution against it.
	sink <- Outcome{Result: &result, CanonicalURL: entry.URL}

	for _, link := range links {
		fr.Push(link, entry.Depth+1, entry.URL)
	}
}
