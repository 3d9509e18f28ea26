// Package audit defines core types shared across the crawl engine subsystems.
package audit

import "time"

// Status represents the lifecycle state of a crawl job.
type Status string

// Job status values held in the registry.
const (
	StatusQueued     Status = "queued"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether a status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// IssueKind identifies a class of detected problem.
type IssueKind string

// Issue kinds produced by the analyzer rules and link resolution.
const (
	IssueMissingMetaDescription IssueKind = "missing-meta-description"
	IssueMissingTitle           IssueKind = "missing-title"
	IssueSlowResponse           IssueKind = "slow-response"
	IssueBrokenLink             IssueKind = "broken-link"
	IssueMissingAltText         IssueKind = "missing-alt-text"
	IssueDuplicateH1            IssueKind = "duplicate-h1"
	IssueMissingH1              IssueKind = "missing-h1"
)

// Severity ranks how urgent an issue is.
type Severity string

// Severity levels, highest first.
const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Issue is a single detected problem on a page. Issues are derived purely
// from a PageResult or from link-resolution failures and carry no state.
type Issue struct {
	Kind     IssueKind `json:"kind"`
	Severity Severity  `json:"severity"`
	Detail   string    `json:"detail"`
}

// PageResult is the outcome of analyzing one fetched URL. Apart from
// broken-link issues attached later by the coordinator, it is immutable
// after creation.
type PageResult struct {
	URL             string   `json:"url"`
	StatusCode      int      `json:"status_code"`
	ResponseTimeMs  int64    `json:"response_time_ms"`
	PageTitle       string   `json:"page_title"`
	MetaDescription string   `json:"meta_description"`
	H1Tags          []string `json:"h1_tags"`
	Issues          []Issue  `json:"issues"`
}

// Job is one audit run. The owning coordinator is the only writer of its
// mutable fields; readers receive copies via the registry.
type Job struct {
	ID           string       `json:"id"`
	RootURL      string       `json:"root_url"`
	Status       Status       `json:"status"`
	Progress     int          `json:"progress"`
	PagesVisited int          `json:"pages_visited"`
	PagesQueued  int          `json:"pages_queued"`
	Results      []PageResult `json:"results,omitempty"`
	Error        string       `json:"error,omitempty"`
	Config       CrawlConfig  `json:"config"`
	CreatedAt    time.Time    `json:"created_at"`
	FinishedAt   *time.Time   `json:"finished_at,omitempty"`
}

// Clone returns a deep copy safe to hand to readers while the job is
// still being mutated by its coordinator.
func (j Job) Clone() Job {
	cp := j
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		cp.FinishedAt = &t
	}
	if j.Results != nil {
		cp.Results = make([]PageResult, len(j.Results))
		for i, r := range j.Results {
			cp.Results[i] = r.clone()
		}
	}
	return cp
}

func (r PageResult) clone() PageResult {
	cp := r
	if r.H1Tags != nil {
		cp.H1Tags = append([]string(nil), r.H1Tags...)
	}
	if r.Issues != nil {
		cp.Issues = append([]Issue(nil), r.Issues...)
	}
	return cp
}
