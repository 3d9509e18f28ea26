// Package fetch performs single-URL HTTP fetches with timeout, retry and
// per-host politeness, built on the Colly collector.
package fetch

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
)

// Response is a successfully fetched page.
type Response struct {
	// URL is the final URL after redirects.
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// Config controls fetcher behavior.
type Config struct {
	UserAgent       string
	Timeout         time.Duration
	MaxRetries      int
	PolitenessDelay time.Duration
}

// Fetcher fetches one URL at a time. It keeps no shared mutable state
// beyond the per-host rate limiter and is safe for concurrent use.
type Fetcher struct {
	cfg           Config
	limiter       *hostLimiter
	backoff       backoffPolicy
	transport     http.RoundTripper
	baseCollector *colly.Collector
	logger        *zap.Logger
}

// New builds a Fetcher.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	transport := newHTTPTransport()
	c.WithTransport(transport)

	return &Fetcher{
		cfg:           cfg,
		limiter:       newHostLimiter(cfg.PolitenessDelay),
		backoff:       newBackoffPolicy(),
		transport:     transport,
		baseCollector: c,
		logger:        logger,
	}
}

// Fetch retrieves url, retrying transient failures (timeouts, 5xx,
// connection resets) with exponential backoff. Permanent failures (4xx,
// DNS, redirect loops) fail immediately. The returned error is always a
// *Error when non-nil and the context is still live.
func (f *Fetcher) Fetch(ctx context.Context, url string) (Response, error) {
	var (
		lastErr    error
		lastStatus int
	)
	attempts := 0
	for attempt := 0; attempt <= f.cfg.MaxRetries; attempt++ {
		if err := f.limiter.wait(ctx, url); err != nil {
			return Response{}, err
		}
		attempts++

		resp, status, err := f.fetchOnce(ctx, url)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		lastStatus = status

		if ctx.Err() != nil {
			return Response{}, ctx.Err()
		}
		if !transientError(err, status) {
			break
		}
		if attempt < f.cfg.MaxRetries {
			f.logger.Debug("retrying fetch",
				zap.String("url", url),
				zap.Int("attempt", attempt+1),
				zap.Int("status", status),
				zap.Error(err),
			)
			if serr := f.backoff.sleep(ctx, attempt); serr != nil {
				return Response{}, serr
			}
		}
	}

	return Response{}, &Error{
		URL:        url,
		StatusCode: lastStatus,
		Attempts:   attempts,
		Permanent:  permanentError(lastErr, lastStatus),
		Err:        lastErr,
	}
}

// fetchOnce runs a single attempt on a cloned collector. Colly reports
// non-2xx statuses through OnError, which is where we capture the code.
func (f *Fetcher) fetchOnce(ctx context.Context, url string) (Response, int, error) {
	var (
		result    Response
		fetchErr  error
		errStatus int
	)
	start := time.Now()

	collector := f.baseCollector.Clone()
	collector.IgnoreRobotsTxt = true
	// Clones share the base collector's visited-URL store, which would
	// turn every retry into an AlreadyVisitedError. The frontier already
	// guarantees one logical fetch per URL, so revisits here are always
	// retries of the same request.
	collector.AllowURLRevisit = true
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.SetRequestTimeout(f.cfg.Timeout)
	collector.WithTransport(f.transport)

	collector.OnResponse(func(r *colly.Response) {
		result = Response{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		fetchErr = err
		if r != nil {
			errStatus = r.StatusCode
		}
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return Response{}, 0, ctx.Err()
	case err := <-done:
		if fetchErr != nil {
			return Response{}, errStatus, fetchErr
		}
		if err != nil {
			return Response{}, errStatus, err
		}
		return result, result.StatusCode, nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
