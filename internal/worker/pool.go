// Package worker drains the scrape queue. Each reserved job runs the
// scrape executor, upserts whatever it returned, and reports the
// outcome back to the queue and the job history.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"countyscrape/internal/jobs"
	"countyscrape/internal/metrics"
	"countyscrape/internal/model"
	"countyscrape/internal/queue"
	"countyscrape/internal/scraper"
)

// JobQueue is the queue surface the pool drives.
type JobQueue interface {
	Reserve(ctx context.Context) (*queue.Job, error)
	Complete(ctx context.Context, id string, result []byte) error
	Fail(ctx context.Context, id, reason string, terminal bool) (bool, error)
}

// Scraper fetches all records for one search term.
type Scraper interface {
	Scrape(ctx context.Context, term string) (*scraper.Result, error)
}

// JobStore persists job transitions and property records.
type JobStore interface {
	MarkJobActive(ctx context.Context, id uuid.UUID, attempts int) error
	CompleteJob(ctx context.Context, id uuid.UUID, resultCount int, outcome model.ScrapeOutcome) error
	MarkJobRetry(ctx context.Context, id uuid.UUID, reason string) error
	FailJob(ctx context.Context, id uuid.UUID, reason string, failureContext json.RawMessage) error
	UpsertProperties(ctx context.Context, records []model.PropertyRecord, searchTerm string, chunkSize int) ([]bool, error)
	ClearExpiredFailureContexts(ctx context.Context, cutoff time.Time) (int64, error)
}

// RetentionOptions gate the periodic snapshot sweep.
type RetentionOptions struct {
	Enabled       bool
	SweepInterval time.Duration
	SnapshotDays  int
}

// Options tune a Pool. Zero values fall back to the defaults below.
type Options struct {
	Concurrency   int
	PollInterval  time.Duration
	ChunkSize     int
	AckTimeout    time.Duration
	ShutdownGrace time.Duration
	Retention     RetentionOptions
}

// Pool runs up to Concurrency scrape jobs at a time.
type Pool struct {
	queue   JobQueue
	store   JobStore
	scraper Scraper
	opts    Options
	logger  *slog.Logger

	active atomic.Int32
}

// NewPool wires a Pool to its queue, store and scrape executor.
func NewPool(q JobQueue, st JobStore, sc Scraper, opts Options, logger *slog.Logger) *Pool {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 50
	}
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = 30 * time.Second
	}
	if opts.ShutdownGrace <= 0 {
		opts.ShutdownGrace = 2 * time.Second
	}
	if opts.Retention.SweepInterval <= 0 {
		opts.Retention.SweepInterval = time.Hour
	}
	return &Pool{queue: q, store: st, scraper: sc, opts: opts, logger: logger}
}

// Active reports how many jobs are running right now.
func (p *Pool) Active() int {
	return int(p.active.Load())
}

// Run polls the queue until ctx is cancelled, then waits up to the
// shutdown grace for in-flight jobs to flush their acks. Jobs still
// scraping at that point are abandoned; the visibility timeout returns
// them to the queue.
func (p *Pool) Run(ctx context.Context) {
	sem := make(chan struct{}, p.opts.Concurrency)
	ticker := time.NewTicker(p.opts.PollInterval)
	defer ticker.Stop()

	var lastSweep time.Time

	p.logInfo("worker_pool_started", "concurrency", p.opts.Concurrency)
	for {
		select {
		case <-ctx.Done():
			p.drain(sem)
			return
		case <-ticker.C:
		}

		if p.opts.Retention.Enabled {
			now := time.Now().UTC()
			if lastSweep.IsZero() || now.Sub(lastSweep) >= p.opts.Retention.SweepInterval {
				stats := jobs.CleanupExpiredSnapshots(ctx, p.store, p.opts.Retention.SnapshotDays)
				if stats.SnapshotsCleared > 0 {
					p.logInfo("snapshots_cleared", "count", stats.SnapshotsCleared)
				}
				lastSweep = now
			}
		}

		// Reserve up to the free capacity. Reserve returns nil when the
		// queue is empty; the next tick tries again.
		capacity := p.opts.Concurrency - len(sem)
		for i := 0; i < capacity; i++ {
			if ctx.Err() != nil {
				break
			}
			job, err := p.queue.Reserve(ctx)
			if err != nil {
				p.logWarn("reserve_failed", "error", err.Error())
				break
			}
			if job == nil {
				break
			}
			sem <- struct{}{}
			go func(job *queue.Job) {
				defer func() { <-sem }()
				p.active.Add(1)
				defer p.active.Add(-1)
				p.process(ctx, job)
			}(job)
		}
	}
}

// drain waits for in-flight jobs to finish flushing, bounded by the
// shutdown grace. Scrapes that outlive it stay unacked on purpose.
func (p *Pool) drain(sem chan struct{}) {
	deadline := time.After(p.opts.ShutdownGrace)
	for i := 0; i < p.opts.Concurrency; i++ {
		select {
		case sem <- struct{}{}:
		case <-deadline:
			p.logInfo("worker_pool_stopped", "abandoned", p.Active())
			return
		}
	}
	p.logInfo("worker_pool_stopped", "abandoned", 0)
}

// process runs one delivery end to end. The scrape itself observes ctx
// so shutdown interrupts it at the executor's checkpoints; everything
// after a finished scrape uses a detached context so results won from
// the upstream are never thrown away during shutdown.
func (p *Pool) process(ctx context.Context, job *queue.Job) {
	// The queue can carry other job kinds; this pool only runs scrapes.
	if job.Kind != queue.KindScrapeProperties {
		p.failJob(job, uuid.Nil, "UNSUPPORTED_KIND: "+string(job.Kind), nil)
		return
	}
	jobID, err := uuid.Parse(job.ID)
	if err != nil {
		p.failJob(job, uuid.Nil, "BAD_JOB_ID: "+err.Error(), nil)
		return
	}

	if err := p.store.MarkJobActive(ctx, jobID, job.Attempts); err != nil {
		p.logWarn("mark_active_failed", "job_id", job.ID, "error", err.Error())
	}
	p.logInfo("job_started", "job_id", job.ID, "term", job.Term, "attempt", job.Attempts)

	start := time.Now()
	res, err := p.scraper.Scrape(ctx, job.Term)
	if err != nil {
		class := scraper.ClassOf(err)
		if class == scraper.ClassCancelled {
			// Not acked: the reservation lapses and the job is redelivered.
			p.logInfo("job_interrupted", "job_id", job.ID, "term", job.Term)
			return
		}
		p.handleScrapeFailure(job, jobID, err, class)
		return
	}

	ackCtx, cancel := context.WithTimeout(context.Background(), p.opts.AckTimeout)
	defer cancel()

	flags, err := p.store.UpsertProperties(ackCtx, res.Records, job.Term, p.opts.ChunkSize)
	if err != nil {
		reason := "UPSERT_FAILED: " + err.Error()
		retried, ferr := p.queue.Fail(ackCtx, job.ID, reason, false)
		if ferr != nil {
			p.logWarn("fail_ack_failed", "job_id", job.ID, "error", ferr.Error())
			return
		}
		if retried {
			_ = p.store.MarkJobRetry(ackCtx, jobID, reason)
		} else {
			_ = p.store.FailJob(ackCtx, jobID, reason, nil)
			metrics.RecordJob("failed")
		}
		p.logWarn("job_upsert_failed", "job_id", job.ID, "term", job.Term, "retried", retried, "error", err.Error())
		return
	}

	inserted := 0
	for _, f := range flags {
		if f {
			inserted++
		}
	}
	updated := len(res.Records) - inserted
	metrics.RecordUpserts(inserted, updated)

	outcome := model.ScrapeOutcome{
		Term:          job.Term,
		TotalReported: res.Total,
		Scraped:       len(res.Records),
		Inserted:      inserted,
		Updated:       updated,
		DurationMs:    time.Since(start).Milliseconds(),
		Source:        res.Source,
		PageSize:      res.PageSize,
	}
	payload, err := json.Marshal(outcome)
	if err != nil {
		payload = nil
	}

	if err := p.queue.Complete(ackCtx, job.ID, payload); err != nil {
		if errors.Is(err, queue.ErrLostReservation) {
			// The visibility timeout expired mid-scrape and another worker
			// owns the job now. Rows are upserted; let the new delivery
			// finish the bookkeeping.
			p.logWarn("reservation_lost", "job_id", job.ID, "term", job.Term)
			return
		}
		p.logWarn("complete_ack_failed", "job_id", job.ID, "error", err.Error())
		return
	}
	if err := p.store.CompleteJob(ackCtx, jobID, inserted, outcome); err != nil {
		p.logWarn("complete_row_failed", "job_id", job.ID, "error", err.Error())
	}
	metrics.RecordJob("completed")
	p.logInfo("job_completed",
		"job_id", job.ID,
		"term", job.Term,
		"scraped", outcome.Scraped,
		"inserted", inserted,
		"updated", updated,
		"source", res.Source,
		"duration_ms", outcome.DurationMs,
	)
}

// handleScrapeFailure routes a classified scrape error: retryable
// classes go back to the queue with backoff, terminal ones retire the
// job with whatever diagnostics the executor captured.
func (p *Pool) handleScrapeFailure(job *queue.Job, jobID uuid.UUID, err error, class scraper.ErrorClass) {
	ackCtx, cancel := context.WithTimeout(context.Background(), p.opts.AckTimeout)
	defer cancel()

	reason := err.Error()
	terminal := !class.Retryable()
	retried, ferr := p.queue.Fail(ackCtx, job.ID, reason, terminal)
	if ferr != nil {
		if errors.Is(ferr, queue.ErrLostReservation) {
			p.logWarn("reservation_lost", "job_id", job.ID, "term", job.Term)
		} else {
			p.logWarn("fail_ack_failed", "job_id", job.ID, "error", ferr.Error())
		}
		return
	}

	if retried {
		_ = p.store.MarkJobRetry(ackCtx, jobID, reason)
		p.logWarn("job_retrying",
			"job_id", job.ID,
			"term", job.Term,
			"attempt", job.Attempts,
			"class", string(class),
		)
		return
	}

	p.failJob(job, jobID, reason, failureContext(err))
	p.logWarn("job_failed",
		"job_id", job.ID,
		"term", job.Term,
		"attempts", job.Attempts,
		"class", string(class),
	)
}

func (p *Pool) failJob(job *queue.Job, jobID uuid.UUID, reason string, fc json.RawMessage) {
	ackCtx, cancel := context.WithTimeout(context.Background(), p.opts.AckTimeout)
	defer cancel()

	if jobID == uuid.Nil {
		_, _ = p.queue.Fail(ackCtx, job.ID, reason, true)
		metrics.RecordJob("failed")
		return
	}
	_ = p.store.FailJob(ackCtx, jobID, reason, fc)
	metrics.RecordJob("failed")
}

// failureContext serializes the diagnostics attached to a terminal
// scrape error, currently the rendered fallback page.
func failureContext(err error) json.RawMessage {
	se, ok := scraper.AsError(err)
	if !ok || se.Snapshot == nil {
		return nil
	}
	payload, merr := json.Marshal(struct {
		Snapshot *scraper.Snapshot `json:"snapshot"`
	}{se.Snapshot})
	if merr != nil {
		return nil
	}
	return payload
}

func (p *Pool) logInfo(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Info(msg, args...)
	}
}

func (p *Pool) logWarn(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Warn(msg, args...)
	}
}
