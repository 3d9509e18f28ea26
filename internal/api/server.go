// Package api exposes the HTTP polling interface for audit jobs.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/project-aether/crawler/internal/audit"
	"github.com/project-aether/crawler/internal/coordinator"
	"github.com/project-aether/crawler/internal/metrics"
	"github.com/project-aether/crawler/internal/registry"
)

// Config controls server behavior.
type Config struct {
	// RequestTimeout bounds each request's handler.
	RequestTimeout time.Duration
	// APIKey, when non-empty, gates every /v1 endpoint behind the
	// X-API-Key header.
	APIKey string
	// Defaults are the server-level crawl knobs applied when a
	// submission omits a value.
	Defaults audit.CrawlConfig
}

// Server wires HTTP handlers to the coordinator and registry.
type Server struct {
	router  chi.Router
	manager *coordinator.Manager
	reg     *registry.Registry
	cfg     Config
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(manager *coordinator.Manager, reg *registry.Registry, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	s := &Server{
		manager: manager,
		reg:     reg,
		cfg:     cfg,
		logger:  logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metricsMiddleware)
	r.Use(timeoutMiddleware(cfg.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.APIKey != "" {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}
		r.Route("/audits", func(r chi.Router) {
			r.Post("/", s.submitAudit)
			r.Get("/", s.listAudits)
			r.Route("/{audit_id}", func(r chi.Router) {
				r.Get("/status", s.auditStatus)
				r.Get("/result", s.auditResult)
				r.Post("/cancel", s.cancelAudit)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// submitRequest is the audit submission payload. Pointer fields
// distinguish "omitted" from an explicit zero.
type submitRequest struct {
	RootURL           string `json:"root_url"`
	MaxDepth          *int   `json:"max_depth"`
	MaxPages          *int   `json:"max_pages"`
	Concurrency       *int   `json:"concurrency"`
	FetchTimeoutMs    *int   `json:"fetch_timeout_ms"`
	PolitenessDelayMs *int   `json:"politeness_delay_ms"`
}

func (s *Server) submitAudit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.RootURL == "" {
		writeError(w, http.StatusBadRequest, "root_url is required")
		return
	}

	cfg := s.cfg.Defaults
	if req.MaxDepth != nil {
		cfg.MaxDepth = *req.MaxDepth
	}
	if req.MaxPages != nil {
		cfg.MaxPages = *req.MaxPages
	}
	if req.Concurrency != nil {
		cfg.Concurrency = *req.Concurrency
	}
	if req.FetchTimeoutMs != nil {
		cfg.FetchTimeout = time.Duration(*req.FetchTimeoutMs) * time.Millisecond
	}
	if req.PolitenessDelayMs != nil {
		cfg.PolitenessDelay = time.Duration(*req.PolitenessDelayMs) * time.Millisecond
	}

	jobID, err := s.manager.Submit(req.RootURL, cfg)
	if err != nil {
		if errors.Is(err, coordinator.ErrShuttingDown) {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

// statusResponse is the poll payload. Results appear only once the job
// is terminal; use the result endpoint for partial results.
type statusResponse struct {
	JobID        string             `json:"job_id"`
	RootURL      string             `json:"root_url"`
	Status       audit.Status       `json:"status"`
	Progress     int                `json:"progress"`
	PagesVisited int                `json:"pages_visited"`
	PagesQueued  int                `json:"pages_queued"`
	Error        string             `json:"error,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
	FinishedAt   *time.Time         `json:"finished_at,omitempty"`
	Results      []audit.PageResult `json:"results,omitempty"`
}

func statusFromJob(job audit.Job) statusResponse {
	resp := statusResponse{
		JobID:        job.ID,
		RootURL:      job.RootURL,
		Status:       job.Status,
		Progress:     job.Progress,
		PagesVisited: job.PagesVisited,
		PagesQueued:  job.PagesQueued,
		Error:        job.Error,
		CreatedAt:    job.CreatedAt,
		FinishedAt:   job.FinishedAt,
	}
	if job.Status.Terminal() {
		resp.Results = job.Results
	}
	return resp
}

func (s *Server) auditStatus(w http.ResponseWriter, r *http.Request) {
	job, ok := s.lookupJob(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, statusFromJob(job))
}

// resultResponse exposes whatever pages have been analyzed so far,
// regardless of job state.
type resultResponse struct {
	JobID   string             `json:"job_id"`
	Status  audit.Status       `json:"status"`
	Results []audit.PageResult `json:"results"`
}

func (s *Server) auditResult(w http.ResponseWriter, r *http.Request) {
	job, ok := s.lookupJob(w, r)
	if !ok {
		return
	}
	results := job.Results
	if results == nil {
		results = []audit.PageResult{}
	}
	writeJSON(w, http.StatusOK, resultResponse{
		JobID:   job.ID,
		Status:  job.Status,
		Results: results,
	})
}

func (s *Server) cancelAudit(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "audit_id")
	err := s.manager.Cancel(r.Context(), jobID, "cancelled via API")
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID, "status": "cancelling"})
	case errors.Is(err, coordinator.ErrJobFinished):
		writeError(w, http.StatusConflict, "job already finished")
	case errors.Is(err, registry.ErrNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) listAudits(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)
	if limit < 1 || limit > 500 {
		writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
		return
	}
	if offset < 0 {
		writeError(w, http.StatusBadRequest, "offset must be >= 0")
		return
	}

	jobs := s.reg.List(limit, offset)
	summaries := make([]statusResponse, 0, len(jobs))
	for _, job := range jobs {
		summary := statusFromJob(job)
		// History listings stay lightweight; results are fetched per job.
		summary.Results = nil
		summaries = append(summaries, summary)
	}
	writeJSON(w, http.StatusOK, map[string]any{"audits": summaries})
}

func (s *Server) lookupJob(w http.ResponseWriter, r *http.Request) (audit.Job, bool) {
	jobID := chi.URLParam(r, "audit_id")
	job, err := s.reg.Get(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
		} else {
			s.logger.Error("job lookup failed", zap.String("job_id", jobID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "job lookup failed")
		}
		return audit.Job{}, false
	}
	return job, true
}

func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return -1
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
