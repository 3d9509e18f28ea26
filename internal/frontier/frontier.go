// Package frontier implements the per-job pending-work queue of URLs.
package frontier

import (
	"errors"
	"sync"

	"github.com/project-aether/crawler/internal/audit"
)

// Errors returned by Pop once no more work will ever be produced.
var (
	// ErrExhausted signals normal termination: the queue is empty and no
	// popped entry is still being processed.
	ErrExhausted = errors.New("frontier exhausted")
	// ErrClosed signals that the frontier was shut down early.
	ErrClosed = errors.New("frontier closed")
)

// Entry is one unit of crawl work. It is owned by the frontier until
// popped and is destroyed once the popping worker calls Done.
type Entry struct {
	URL            string
	Depth          int
	DiscoveredFrom string
}

// Stats is a point-in-time view of frontier counters.
type Stats struct {
	// Accepted is the total number of URLs ever admitted (queued pages).
	Accepted int
	// Queued is the number of entries currently waiting to be popped.
	Queued int
}

// Frontier is a bounded, deduplicated URL queue for one job. Pop returns
// entries FIFO within the lowest populated depth, giving the crawl a
// breadth-first bias. Push is idempotent per canonical URL.
type Frontier struct {
	mu   sync.Mutex
	cond *sync.Cond

	levels   map[int][]Entry
	seen     map[string]struct{}
	rootURL  string
	maxDepth int
	maxPages int

	queued   int
	accepted int
	inflight int
	closed   bool
}

// New constructs a Frontier scoped to the registrable domain of rootURL.
// rootURL must already be canonical.
func New(rootURL string, maxDepth, maxPages int) *Frontier {
	f := &Frontier{
		levels:   make(map[int][]Entry),
		seen:     make(map[string]struct{}),
		rootURL:  rootURL,
		maxDepth: maxDepth,
		maxPages: maxPages,
	}
	f.cond = sync.NewCond(&f.mu)
	return f
}

// Push admits a candidate URL at the given depth. It returns true only if
// the entry was enqueued: duplicates, out-of-scope hosts, entries beyond
// the depth cap, and pushes past the page cap are all silently dropped.
func (f *Frontier) Push(rawURL string, depth int, discoveredFrom string) bool {
	if depth > f.maxDepth {
		return false
	}
	canonical, err := audit.CanonicalURL(rawURL)
	if err != nil {
		return false
	}
	if !audit.SameScope(f.rootURL, canonical) {
		return false
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed || f.accepted >= f.maxPages {
		return false
	}
	if _, dup := f.seen[canonical]; dup {
		return false
	}
	f.seen[canonical] = struct{}{}
	f.levels[depth] = append(f.levels[depth], Entry{
		URL:            canonical,
		Depth:          depth,
		DiscoveredFrom: discoveredFrom,
	})
	f.queued++
	f.accepted++
	f.cond.Signal()
	return true
}

// Pop blocks until an entry is available and returns the oldest entry of
// the lowest populated depth. It fails with ErrExhausted when the queue
// is empty and no in-flight entry could still produce work, or ErrClosed
// after Close.
func (f *Frontier) Pop() (Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for {
		if f.closed {
			return Entry{}, ErrClosed
		}
		if f.queued > 0 {
			entry := f.takeLowestLocked()
			f.queued--
			f.inflight++
			return entry, nil
		}
		if f.inflight == 0 {
			return Entry{}, ErrExhausted
		}
		f.cond.Wait()
	}
}

// Done marks one previously popped entry as fully processed, including
// any link pushes it produced. The last Done with nothing queued wakes
// all blocked Pop callers so they can observe exhaustion.
func (f *Frontier) Done() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.inflight > 0 {
		f.inflight--
	}
	if f.inflight == 0 && f.queued == 0 {
		f.cond.Broadcast()
	}
}

// Close stops the frontier early: pending pushes become no-ops and every
// blocked or future Pop fails with ErrClosed. Safe to call repeatedly.
func (f *Frontier) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	f.cond.Broadcast()
}

// Stats returns current frontier counters.
func (f *Frontier) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Stats{Accepted: f.accepted, Queued: f.queued}
}

func (f *Frontier) takeLowestLocked() Entry {
	depth := -1
	for d, entries := range f.levels {
		if len(entries) == 0 {
			continue
		}
		if depth == -1 || d < depth {
			depth = d
		}
	}
	entries := f.levels[depth]
	entry := entries[0]
	f.levels[depth] = entries[1:]
	return entry
}
