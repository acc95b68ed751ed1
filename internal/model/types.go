package model

import "time"

// Status is the lifecycle state of a scrape job. The same names are used
// by the queue and by the scrape_jobs table.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusDelayed   Status = "delayed"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether a job in this status will never run again.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// PropertyRecord is one row as returned by the upstream search, already
// mapped to canonical field names. It is the input shape of the upsert
// pipeline; Property is what the database hands back.
type PropertyRecord struct {
	PropertyID       string   `json:"propertyId"`
	OwnerName        string   `json:"ownerName"`
	PropertyType     string   `json:"propertyType"`
	City             string   `json:"city"`
	StreetAddress    string   `json:"streetAddress"`
	AssessedValue    *float64 `json:"assessedValue"`
	AppraisedValue   float64  `json:"appraisedValue"`
	GeoID            *string  `json:"geoId"`
	LegalDescription *string  `json:"legalDescription"`
}

// Property is a stored property row.
type Property struct {
	ID               int64     `json:"id"`
	PropertyID       string    `json:"propertyId"`
	OwnerName        string    `json:"ownerName"`
	PropertyType     string    `json:"propertyType"`
	City             string    `json:"city"`
	StreetAddress    string    `json:"streetAddress"`
	AssessedValue    *float64  `json:"assessedValue"`
	AppraisedValue   float64   `json:"appraisedValue"`
	GeoID            *string   `json:"geoId"`
	LegalDescription *string   `json:"legalDescription"`
	SearchTerm       string    `json:"searchTerm"`
	ScrapedAt        time.Time `json:"scrapedAt"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// ScrapeJob is the durable record of one scrape attempt series for a
// search term. Rows are appended when a term is enqueued and transitioned
// by the worker pool; terminal rows are the input to term history.
type ScrapeJob struct {
	ID            string     `json:"id"`
	SearchTerm    string     `json:"searchTerm"`
	Status        Status     `json:"status"`
	Attempts      int        `json:"attempts"`
	Priority      int        `json:"priority"`
	ResultCount   int        `json:"resultCount"`
	FailureReason string     `json:"failureReason,omitempty"`
	StartedAt     *time.Time `json:"startedAt,omitempty"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// ScrapeOutcome is the result payload a worker records when a job
// completes. ResultCount counts newly inserted rows only; Scraped is the
// total number of records the executor returned.
type ScrapeOutcome struct {
	Term          string `json:"term"`
	TotalReported int    `json:"totalReported"`
	Scraped       int    `json:"scraped"`
	Inserted      int    `json:"inserted"`
	Updated       int    `json:"updated"`
	DurationMs    int64  `json:"durationMs"`
	Source        string `json:"source"`
	PageSize      int    `json:"pageSize,omitempty"`
}

// TermStats is the per-term aggregate the optimizer reads: one row of the
// term history view.
type TermStats struct {
	Term            string     `json:"term"`
	Runs            int        `json:"runs"`
	RunsWithResults int        `json:"runsWithResults"`
	TotalResults    int        `json:"totalResults"`
	AvgDurationSecs float64    `json:"avgDurationSecs"`
	LastUsedAt      *time.Time `json:"lastUsedAt,omitempty"`
}

// SuccessRate is the fraction of runs that produced at least one new row.
func (t TermStats) SuccessRate() float64 {
	if t.Runs == 0 {
		return 0
	}
	return float64(t.RunsWithResults) / float64(t.Runs)
}

// AvgResults is the mean result count per run.
func (t TermStats) AvgResults() float64 {
	if t.Runs == 0 {
		return 0
	}
	return float64(t.TotalResults) / float64(t.Runs)
}

// Efficiency is results per second when durations are tracked, falling
// back to AvgResults when they are not.
func (t TermStats) Efficiency() float64 {
	if t.AvgDurationSecs <= 0 {
		return t.AvgResults()
	}
	return t.AvgResults() / t.AvgDurationSecs
}
