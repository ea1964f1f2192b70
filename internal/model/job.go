package model

import "time"

// JobType identifies which external call a crawl job performs.
type JobType string

const (
	JobProductSearch   JobType = "product_search"
	JobSellerLookup    JobType = "seller_lookup"
	JobStorefrontParse JobType = "storefront_parse"
)

// ValidJobType reports whether t is a known job type.
func ValidJobType(t JobType) bool {
	switch t {
	case JobProductSearch, JobSellerLookup, JobStorefrontParse:
		return true
	}
	return false
}

// JobStatus is the lifecycle state of a crawl job. Transitions are
// monotonic: pending -> running -> {completed, failed}. Terminal states are
// immutable.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Terminal reports whether the status is a terminal state.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// CanTransition reports whether the state machine permits moving from s to
// next.
func (s JobStatus) CanTransition(next JobStatus) bool {
	switch s {
	case JobPending:
		return next == JobRunning
	case JobRunning:
		return next == JobCompleted || next == JobFailed
	}
	return false
}

// CrawlJob is an append-only audit record of one external call. A job is
// created once per dispatch and never reused.
type CrawlJob struct {
	ID            string     `json:"id"`
	JobType       JobType    `json:"job_type"`
	Status        JobStatus  `json:"status"`
	TargetRef     string     `json:"target_ref"`
	CostCredits   float64    `json:"cost_credits"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	ResultSummary string     `json:"result_summary,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}
