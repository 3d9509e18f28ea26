package audit

import (
	"fmt"
	"time"
)

// Crawl knob defaults applied when a submission omits a value.
const (
	DefaultMaxDepth        = 3
	DefaultMaxPages        = 500
	DefaultConcurrency     = 8
	DefaultFetchTimeout    = 10 * time.Second
	DefaultPolitenessDelay = 200 * time.Millisecond
	DefaultMaxRetries      = 2
	DefaultSlowResponse    = 3 * time.Second
	DefaultJobDeadline     = 30 * time.Minute
)

// CrawlConfig carries the per-job crawl knobs supplied at submission time.
// Zero values mean "use the default".
type CrawlConfig struct {
	MaxDepth        int           `json:"max_depth"`
	MaxPages        int           `json:"max_pages"`
	Concurrency     int           `json:"concurrency"`
	FetchTimeout    time.Duration `json:"fetch_timeout"`
	PolitenessDelay time.Duration `json:"politeness_delay"`
	MaxRetries      int           `json:"max_retries"`
	SlowResponse    time.Duration `json:"slow_response"`
	JobDeadline     time.Duration `json:"job_deadline"`
}

// WithDefaults fills unset fields and returns the effective configuration.
func (c CrawlConfig) WithDefaults() CrawlConfig {
	if c.MaxDepth <= 0 {
		c.MaxDepth = DefaultMaxDepth
	}
	if c.MaxPages <= 0 {
		c.MaxPages = DefaultMaxPages
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = DefaultFetchTimeout
	}
	if c.PolitenessDelay <= 0 {
		c.PolitenessDelay = DefaultPolitenessDelay
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.SlowResponse <= 0 {
		c.SlowResponse = DefaultSlowResponse
	}
	if c.JobDeadline <= 0 {
		c.JobDeadline = DefaultJobDeadline
	}
	return c
}

// Validate enforces sane limits after defaults have been applied.
func (c CrawlConfig) Validate() error {
	if c.MaxDepth < 0 {
		return fmt.Errorf("max_depth must be >= 0, got %d", c.MaxDepth)
	}
	if c.MaxPages <= 0 {
		return fmt.Errorf("max_pages must be > 0, got %d", c.MaxPages)
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be > 0, got %d", c.Concurrency)
	}
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("fetch_timeout must be > 0, got %s", c.FetchTimeout)
	}
	return nil
}
