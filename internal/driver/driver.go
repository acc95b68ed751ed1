// Package driver keeps the scrape queue topped up until the property
// table reaches its target size.
package driver

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"countyscrape/internal/queue"
)

// PropertyCounter reports how many properties have been collected.
type PropertyCounter interface {
	CountProperties(ctx context.Context) (int64, error)
}

// TermSource produces the next batch of deduplicated search terms.
type TermSource interface {
	NextBatch(ctx context.Context, size int) ([]string, error)
}

// Enqueuer is the queue surface the driver fills.
type Enqueuer interface {
	Enqueue(ctx context.Context, id, term string, opts queue.EnqueueOptions) error
	Stats(ctx context.Context) (queue.Stats, error)
	Drain(ctx context.Context) (int, error)
}

// JobRecorder persists the job rows that mirror queue entries.
type JobRecorder interface {
	CreateScrapeJob(ctx context.Context, id uuid.UUID, term string, priority int) error
	DeletePendingJobRows(ctx context.Context) (int64, error)
}

// Options tune the refill loop. Zero values fall back to the defaults
// below. Target <= 0 means run until cancelled.
type Options struct {
	Target              int64
	BatchSize           int
	DelayBetweenBatches time.Duration
	CheckInterval       time.Duration
	RefillThreshold     int64
	Priority            int
	// FreshStart drops jobs left over from a previous run before the
	// first refill, so a changed term strategy starts clean.
	FreshStart bool
}

// Driver is the single long-running controller that decides when more
// terms are needed and feeds them to the queue.
type Driver struct {
	counter PropertyCounter
	terms   TermSource
	queue   Enqueuer
	store   JobRecorder
	opts    Options
	logger  *slog.Logger

	enqueued atomic.Int64
}

// New wires a Driver to its collaborators.
func New(counter PropertyCounter, terms TermSource, q Enqueuer, store JobRecorder, opts Options, logger *slog.Logger) *Driver {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 25
	}
	if opts.DelayBetweenBatches <= 0 {
		opts.DelayBetweenBatches = 30 * time.Second
	}
	if opts.CheckInterval <= 0 {
		opts.CheckInterval = time.Minute
	}
	if opts.RefillThreshold <= 0 {
		opts.RefillThreshold = 100
	}
	if opts.Priority <= 0 {
		opts.Priority = 10
	}
	return &Driver{counter: counter, terms: terms, queue: q, store: store, opts: opts, logger: logger}
}

// Enqueued reports how many jobs this driver has enqueued since start.
func (d *Driver) Enqueued() int64 {
	return d.enqueued.Load()
}

// Run loops until the property count reaches the target or ctx is
// cancelled. Stopping the driver stops refills only; the worker pool
// keeps processing whatever is already queued.
func (d *Driver) Run(ctx context.Context) error {
	if d.opts.FreshStart {
		d.freshStart(ctx)
	}

	startCount, err := d.counter.CountProperties(ctx)
	if err != nil {
		return fmt.Errorf("initial property count: %w", err)
	}
	start := time.Now()
	d.logInfo("driver_started",
		"target", d.opts.Target,
		"current", startCount,
		"batch_size", d.opts.BatchSize,
		"refill_threshold", d.opts.RefillThreshold,
	)

	reporterCtx, stopReporter := context.WithCancel(ctx)
	defer stopReporter()
	go d.report(reporterCtx, start, startCount)

	ticker := time.NewTicker(d.opts.DelayBetweenBatches)
	defer ticker.Stop()

	for {
		count, err := d.counter.CountProperties(ctx)
		if err != nil {
			d.logWarn("count_failed", "error", err.Error())
		} else {
			if d.opts.Target > 0 && count >= d.opts.Target {
				d.logInfo("target_reached",
					"properties", count,
					"target", d.opts.Target,
					"runtime", time.Since(start).Round(time.Second).String(),
				)
				return nil
			}
			d.refillIfLow(ctx)
		}

		select {
		case <-ctx.Done():
			d.logInfo("driver_stopped", "enqueued", d.enqueued.Load())
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// freshStart clears the queue and the pending job rows that mirror it.
// Failures are logged and ignored; stale jobs are an inconvenience, not
// a reason to refuse to run.
func (d *Driver) freshStart(ctx context.Context) {
	dropped, err := d.queue.Drain(ctx)
	if err != nil {
		d.logWarn("queue_drain_failed", "error", err.Error())
	}
	rows, err := d.store.DeletePendingJobRows(ctx)
	if err != nil {
		d.logWarn("pending_rows_delete_failed", "error", err.Error())
	}
	d.logInfo("fresh_start", "queue_dropped", dropped, "rows_dropped", rows)
}

// refillIfLow tops the queue up with one batch when the in-flight depth
// is under the threshold. Each term gets its job row first, then the
// queue entry; a term whose enqueue fails is logged and skipped, the
// orphaned row is cleaned up by the next fresh start.
func (d *Driver) refillIfLow(ctx context.Context) {
	stats, err := d.queue.Stats(ctx)
	if err != nil {
		d.logWarn("queue_stats_failed", "error", err.Error())
		return
	}
	if stats.Depth() >= d.opts.RefillThreshold {
		return
	}

	terms, err := d.terms.NextBatch(ctx, d.opts.BatchSize)
	if err != nil {
		d.logWarn("term_batch_failed", "error", err.Error())
		return
	}
	if len(terms) == 0 {
		d.logWarn("term_batch_empty")
		return
	}

	enqueued := 0
	for _, term := range terms {
		if ctx.Err() != nil {
			break
		}
		id := uuid.New()
		if err := d.store.CreateScrapeJob(ctx, id, term, d.opts.Priority); err != nil {
			d.logWarn("job_row_failed", "term", term, "error", err.Error())
			continue
		}
		if err := d.queue.Enqueue(ctx, id.String(), term, queue.EnqueueOptions{Priority: d.opts.Priority}); err != nil {
			d.logWarn("enqueue_failed", "job_id", id.String(), "term", term, "error", err.Error())
			continue
		}
		enqueued++
	}
	d.enqueued.Add(int64(enqueued))
	d.logInfo("batch_enqueued", "count", enqueued, "requested", len(terms), "depth_before", stats.Depth())
}

// report logs a progress summary every check interval: runtime, counts,
// collection rate, queue state and, once a rate exists, the estimated
// time to target.
func (d *Driver) report(ctx context.Context, start time.Time, startCount int64) {
	ticker := time.NewTicker(d.opts.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		count, err := d.counter.CountProperties(ctx)
		if err != nil {
			d.logWarn("progress_count_failed", "error", err.Error())
			continue
		}
		elapsed := time.Since(start)
		delta := count - startCount
		perMinute := 0.0
		if elapsed.Minutes() > 0 {
			perMinute = float64(delta) / elapsed.Minutes()
		}

		args := []any{
			"runtime", elapsed.Round(time.Second).String(),
			"properties", count,
			"collected", delta,
			"per_minute", fmt.Sprintf("%.1f", perMinute),
			"enqueued", d.enqueued.Load(),
		}
		if stats, serr := d.queue.Stats(ctx); serr == nil {
			args = append(args,
				"queue_pending", stats.Pending,
				"queue_delayed", stats.Delayed,
				"queue_active", stats.Active,
				"queue_failed", stats.Failed,
			)
		}
		if d.opts.Target > 0 && count < d.opts.Target && perMinute > 0 {
			remaining := float64(d.opts.Target - count)
			eta := time.Duration(remaining / perMinute * float64(time.Minute))
			args = append(args, "eta", eta.Round(time.Minute).String())
		}
		d.logInfo("progress", args...)
	}
}

func (d *Driver) logInfo(msg string, args ...any) {
	if d.logger != nil {
		d.logger.Info(msg, args...)
	}
}

func (d *Driver) logWarn(msg string, args ...any) {
	if d.logger != nil {
		d.logger.Warn(msg, args...)
	}
}
