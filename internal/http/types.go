package http

import (
	"time"

	"countyscrape/internal/queue"
)

// JobItem is one scrape job as rendered by the jobs endpoints.
type JobItem struct {
	ID            string     `json:"id"`
	Term          string     `json:"term"`
	Status        string     `json:"status"`
	Attempts      int        `json:"attempts"`
	Priority      int        `json:"priority"`
	ResultCount   int        `json:"resultCount"`
	FailureReason string     `json:"failureReason,omitempty"`
	StartedAt     *time.Time `json:"startedAt,omitempty"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

type ListJobsResponse struct {
	Success bool      `json:"success"`
	Code    string    `json:"code,omitempty"`
	Error   string    `json:"error,omitempty"`
	Jobs    []JobItem `json:"jobs,omitempty"`
}

type JobDetailResponse struct {
	Success bool     `json:"success"`
	Code    string   `json:"code,omitempty"`
	Error   string   `json:"error,omitempty"`
	Job     *JobItem `json:"job,omitempty"`
}

// StatsBody is the collection-progress summary behind /v1/stats.
type StatsBody struct {
	Properties int64            `json:"properties"`
	Target     int64            `json:"target,omitempty"`
	Queue      queue.Stats      `json:"queue"`
	Jobs       map[string]int64 `json:"jobs"`
}

type StatsResponse struct {
	Success bool       `json:"success"`
	Code    string     `json:"code,omitempty"`
	Error   string     `json:"error,omitempty"`
	Stats   *StatsBody `json:"stats,omitempty"`
}

// ScrapeRequest is a manual enqueue. Priority <= 0 uses the default.
type ScrapeRequest struct {
	Term     string `json:"term"`
	Priority int    `json:"priority"`
}

type ScrapeResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code,omitempty"`
	Error   string `json:"error,omitempty"`
	JobID   string `json:"jobId,omitempty"`
	Term    string `json:"term,omitempty"`
}

type SuggestionsResponse struct {
	Success     bool     `json:"success"`
	Code        string   `json:"code,omitempty"`
	Error       string   `json:"error,omitempty"`
	Suggestions []string `json:"suggestions"`
}
