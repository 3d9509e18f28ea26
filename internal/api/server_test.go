package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/project-aether/crawler/internal/analyze"
	"github.com/project-aether/crawler/internal/audit"
	"github.com/project-aether/crawler/internal/clock/system"
	"github.com/project-aether/crawler/internal/coordinator"
	"github.com/project-aether/crawler/internal/fetch"
	"github.com/project-aether/crawler/internal/id/uuid"
	"github.com/project-aether/crawler/internal/registry"
	"github.com/project-aether/crawler/internal/worker"
)

type stubFetcher struct {
	pages map[string]string
	delay time.Duration
}

func (s *stubFetcher) Fetch(ctx context.Context, url string) (fetch.Response, error) {
	if s.delay > 0 {
		select {
		case <-ctx.Done():
			return fetch.Response{}, ctx.Err()
		case <-time.After(s.delay):
		}
	}
	body, ok := s.pages[url]
	if !ok {
		return fetch.Response{}, &fetch.Error{URL: url, StatusCode: 404, Attempts: 1, Permanent: true}
	}
	return fetch.Response{URL: url, StatusCode: 200, Body: []byte(body), Duration: time.Millisecond}, nil
}

func htmlPage(title string, links ...string) string {
	body := fmt.Sprintf("<html><head><title>%s</title><meta name=\"description\" content=\"d\"></head><body><h1>%s</h1>", title, title)
	for _, l := range links {
		body += fmt.Sprintf("<a href=%q>x</a>", l)
	}
	return body + "</body></html>"
}

func newTestServer(t *testing.T, fetcher worker.Fetcher, cfg Config) (*httptest.Server, *registry.Registry) {
	t.Helper()
	clock := system.New()
	reg := registry.New(registry.Config{}, nil, clock, nil)
	manager := coordinator.NewManager(reg, nil, clock, uuid.New(), coordinator.Config{
		NewFetcher:  func(audit.CrawlConfig) worker.Fetcher { return fetcher },
		NewAnalyzer: func(cc audit.CrawlConfig) worker.Analyzer { return analyze.New(cc.SlowResponse) },
	}, nil)
	srv := httptest.NewServer(NewServer(manager, reg, cfg, nil).Handler())
	t.Cleanup(srv.Close)
	return srv, reg
}

func postJSON(t *testing.T, url string, payload any) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func submitAudit(t *testing.T, srv *httptest.Server, rootURL string) string {
	t.Helper()
	resp := postJSON(t, srv.URL+"/v1/audits", map[string]any{"root_url": rootURL})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	body := decodeBody(t, resp)
	jobID, _ := body["job_id"].(string)
	require.NotEmpty(t, jobID)
	return jobID
}

func TestSubmitAndPollUntilCompleted(t *testing.T) {
	t.Parallel()

	root := "https://example.com/"
	fetcher := &stubFetcher{pages: map[string]string{
		root:                    htmlPage("Home", "/a"),
		"https://example.com/a": htmlPage("A"),
	}}
	srv, _ := newTestServer(t, fetcher, Config{})

	jobID := submitAudit(t, srv, "https://example.com")

	var status map[string]any
	require.Eventually(t, func() bool {
		resp, err := http.Get(srv.URL + "/v1/audits/" + jobID + "/status")
		require.NoError(t, err)
		status = decodeBody(t, resp)
		s, _ := status["status"].(string)
		return s == "completed" || s == "failed"
	}, 10*time.Second, 25*time.Millisecond)

	require.Equal(t, "completed", status["status"])
	require.EqualValues(t, 100, status["progress"])
	results, ok := status["results"].([]any)
	require.True(t, ok, "terminal status must include results")
	require.Len(t, results, 2)
}

func TestStatusOmitsResultsWhileRunning(t *testing.T) {
	t.Parallel()

	root := "https://slow.example.com/"
	pages := map[string]string{root: htmlPage("Home", "/a", "/b")}
	pages["https://slow.example.com/a"] = htmlPage("A")
	pages["https://slow.example.com/b"] = htmlPage("B")
	fetcher := &stubFetcher{pages: pages, delay: 150 * time.Millisecond}
	srv, _ := newTestServer(t, fetcher, Config{})

	jobID := submitAudit(t, srv, root)

	resp, err := http.Get(srv.URL + "/v1/audits/" + jobID + "/status")
	require.NoError(t, err)
	status := decodeBody(t, resp)
	s, _ := status["status"].(string)
	if s == "queued" || s == "in_progress" {
		_, present := status["results"]
		require.False(t, present, "non-terminal status must not include results")
	}

	// The result endpoint serves partials at any time.
	resp, err = http.Get(srv.URL + "/v1/audits/" + jobID + "/result")
	require.NoError(t, err)
	result := decodeBody(t, resp)
	_, present := result["results"]
	require.True(t, present)
}

func TestStatusUnknownJob(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, &stubFetcher{}, Config{})
	resp, err := http.Get(srv.URL + "/v1/audits/does-not-exist/status")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSubmitValidation(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, &stubFetcher{}, Config{})

	resp := postJSON(t, srv.URL+"/v1/audits", map[string]any{})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	_ = resp.Body.Close()

	resp = postJSON(t, srv.URL+"/v1/audits", map[string]any{"root_url": "ftp://example.com"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	_ = resp.Body.Close()

	raw, err := http.Post(srv.URL+"/v1/audits", "application/json", bytes.NewReader([]byte("{not json")))
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, raw.StatusCode)
	_ = raw.Body.Close()
}

func TestCancelAudit(t *testing.T) {
	t.Parallel()

	root := "https://example.com/"
	pages := map[string]string{}
	var links []string
	for i := 0; i < 20; i++ {
		links = append(links, fmt.Sprintf("/p%d", i))
		pages[fmt.Sprintf("https://example.com/p%d", i)] = htmlPage(fmt.Sprintf("P%d", i))
	}
	pages[root] = htmlPage("Home", links...)
	fetcher := &stubFetcher{pages: pages, delay: 50 * time.Millisecond}
	srv, reg := newTestServer(t, fetcher, Config{})

	jobID := submitAudit(t, srv, root)

	resp := postJSON(t, srv.URL+"/v1/audits/"+jobID+"/cancel", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	_ = resp.Body.Close()

	require.Eventually(t, func() bool {
		job, err := reg.Get(context.Background(), jobID)
		require.NoError(t, err)
		return job.Status == audit.StatusFailed
	}, 10*time.Second, 20*time.Millisecond)

	// Cancelling a finished job conflicts.
	resp = postJSON(t, srv.URL+"/v1/audits/"+jobID+"/cancel", nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	_ = resp.Body.Close()

	resp = postJSON(t, srv.URL+"/v1/audits/unknown/cancel", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestListAudits(t *testing.T) {
	t.Parallel()

	root := "https://example.com/"
	fetcher := &stubFetcher{pages: map[string]string{root: htmlPage("Home")}}
	srv, reg := newTestServer(t, fetcher, Config{})

	first := submitAudit(t, srv, root)
	second := submitAudit(t, srv, root)

	require.Eventually(t, func() bool {
		for _, id := range []string{first, second} {
			job, err := reg.Get(context.Background(), id)
			require.NoError(t, err)
			if !job.Status.Terminal() {
				return false
			}
		}
		return true
	}, 10*time.Second, 20*time.Millisecond)

	resp, err := http.Get(srv.URL + "/v1/audits?limit=10")
	require.NoError(t, err)
	body := decodeBody(t, resp)
	audits, ok := body["audits"].([]any)
	require.True(t, ok)
	require.Len(t, audits, 2)

	// History entries never embed full results.
	entry := audits[0].(map[string]any)
	_, present := entry["results"]
	require.False(t, present)

	resp, err = http.Get(srv.URL + "/v1/audits?limit=0")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPIKeyGate(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, &stubFetcher{}, Config{APIKey: "secret"})

	// Health stays open.
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	// /v1 requires the key.
	resp, err = http.Get(srv.URL + "/v1/audits")
	require.NoError(t, err)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	_ = resp.Body.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/v1/audits", nil)
	require.NoError(t, err)
	req.Header.Set("X-API-Key", "secret")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestRequestIDHeader(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, &stubFetcher{}, Config{})
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}
