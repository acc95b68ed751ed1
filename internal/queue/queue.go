// Package queue implements a Redis-backed job queue with priorities,
// delayed retries and visibility timeouts.
//
// Layout under the configured prefix:
//
//	pending    ZSET  score priority*2^42 + seq
//	delayed    ZSET  score ready-at unix ms
//	active     ZSET  score reservation deadline unix ms
//	seq        STRING monotonic counter for FIFO tie-breaks
//	job:<id>   HASH  job fields
//	completed  LIST  recently completed ids, capped
//	failed     LIST  recently failed ids, capped
//
// Delivery is at-least-once: a worker that dies mid-job loses its
// reservation after the visibility timeout and the job is requeued.
package queue

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"countyscrape/internal/model"
)

var (
	// ErrJobExists is returned by Enqueue when the job id is already known.
	ErrJobExists = errors.New("queue: job already exists")
	// ErrLostReservation is returned by Complete and Fail when the
	// visibility timeout expired and the job no longer belongs to the caller.
	ErrLostReservation = errors.New("queue: reservation lost")
)

// Kind names the type of work a job carries. Consumers dispatch on it
// and retire kinds they do not handle.
type Kind string

// KindScrapeProperties marks a job that scrapes one search term.
const KindScrapeProperties Kind = "scrape-properties"

// Job is the queue-side view of a scrape job.
type Job struct {
	ID          string
	Kind        Kind
	Term        string
	Priority    int
	Attempts    int
	MaxAttempts int
	Backoff     time.Duration
	CreatedAt   time.Time
	Status      model.Status
	Result      string
	Error       string
}

// Stats reports the number of jobs per state.
type Stats struct {
	Pending   int64 `json:"pending"`
	Delayed   int64 `json:"delayed"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// Depth is the number of jobs still in flight: everything that has not
// reached a terminal state yet.
func (s Stats) Depth() int64 {
	return s.Pending + s.Delayed + s.Active
}

// Options tune a Queue. Zero values fall back to the defaults below.
type Options struct {
	Prefix             string
	VisibilityTimeout  time.Duration
	DefaultPriority    int
	DefaultMaxAttempts int
	DefaultBackoff     time.Duration
	RemoveOnComplete   int
	RemoveOnFail       int
	SweepLimit         int
}

// EnqueueOptions override per-job settings. Zero values inherit the
// queue defaults.
type EnqueueOptions struct {
	Kind        Kind
	Priority    int
	Delay       time.Duration
	MaxAttempts int
	Backoff     time.Duration
}

// Queue coordinates scrape jobs through Redis.
type Queue struct {
	rdb  *redis.Client
	opts Options
}

// New returns a Queue on rdb. Scripts are loaded lazily on first use.
func New(rdb *redis.Client, opts Options) *Queue {
	if opts.Prefix == "" {
		opts.Prefix = "cs:q:"
	}
	if opts.VisibilityTimeout <= 0 {
		opts.VisibilityTimeout = 60 * time.Second
	}
	if opts.DefaultPriority <= 0 {
		opts.DefaultPriority = 10
	}
	if opts.DefaultMaxAttempts <= 0 {
		opts.DefaultMaxAttempts = 3
	}
	if opts.DefaultBackoff <= 0 {
		opts.DefaultBackoff = 2 * time.Second
	}
	if opts.RemoveOnComplete == 0 {
		opts.RemoveOnComplete = 100
	}
	if opts.RemoveOnFail == 0 {
		opts.RemoveOnFail = 500
	}
	if opts.SweepLimit <= 0 {
		opts.SweepLimit = 128
	}
	return &Queue{rdb: rdb, opts: opts}
}

func (q *Queue) key(name string) string { return q.opts.Prefix + name }

func (q *Queue) jobKey(id string) string { return q.opts.Prefix + "job:" + id }

// Enqueue registers a new job. A positive Delay parks it in the delayed
// set until the delay elapses.
func (q *Queue) Enqueue(ctx context.Context, id, term string, opts EnqueueOptions) error {
	if opts.Kind == "" {
		opts.Kind = KindScrapeProperties
	}
	if opts.Priority <= 0 {
		opts.Priority = q.opts.DefaultPriority
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = q.opts.DefaultMaxAttempts
	}
	if opts.Backoff <= 0 {
		opts.Backoff = q.opts.DefaultBackoff
	}
	now := time.Now().UnixMilli()
	res, err := enqueueScript.Run(ctx, q.rdb,
		[]string{q.key("pending"), q.key("delayed"), q.key("seq")},
		q.jobKey(id), id, term,
		opts.Priority, opts.MaxAttempts, opts.Backoff.Milliseconds(),
		now, opts.Delay.Milliseconds(), string(opts.Kind),
	).Int()
	if err != nil {
		return err
	}
	if res == 0 {
		return ErrJobExists
	}
	return nil
}

// Reserve pops the highest-priority pending job, promoting due delayed
// jobs and requeueing expired reservations first. It returns (nil, nil)
// when the queue is empty.
func (q *Queue) Reserve(ctx context.Context) (*Job, error) {
	now := time.Now().UnixMilli()
	res, err := reserveScript.Run(ctx, q.rdb,
		[]string{q.key("pending"), q.key("delayed"), q.key("active"), q.key("seq")},
		now, q.opts.VisibilityTimeout.Milliseconds(), q.key("job:"), q.opts.SweepLimit,
	).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	fields, ok := res.([]interface{})
	if !ok || len(fields) == 0 {
		return nil, nil
	}
	return jobFromFields(fields)
}

// Complete retires a reserved job successfully, recording its result
// payload in the capped completed list.
func (q *Queue) Complete(ctx context.Context, id string, result []byte) error {
	res, err := completeScript.Run(ctx, q.rdb,
		[]string{q.key("active"), q.key("completed")},
		q.key("job:"), id, string(result), q.opts.RemoveOnComplete,
	).Int()
	if err != nil {
		return err
	}
	if res == 0 {
		return ErrLostReservation
	}
	return nil
}

// Fail records a failed delivery. When attempts remain and terminal is
// false the job is parked in the delayed set with exponential backoff;
// otherwise it is retired to the capped failed list. The returned bool
// reports whether the job will be retried.
func (q *Queue) Fail(ctx context.Context, id, reason string, terminal bool) (bool, error) {
	now := time.Now().UnixMilli()
	force := 0
	if terminal {
		force = 1
	}
	res, err := failScript.Run(ctx, q.rdb,
		[]string{q.key("active"), q.key("delayed"), q.key("failed")},
		q.key("job:"), id, reason, now, q.opts.RemoveOnFail, force,
	).Int()
	if err != nil {
		return false, err
	}
	switch res {
	case -1:
		return false, ErrLostReservation
	case 1:
		return true, nil
	default:
		return false, nil
	}
}

// Remove drops a job that has not started yet. Active and terminal jobs
// are left alone; the bool reports whether anything was removed.
func (q *Queue) Remove(ctx context.Context, id string) (bool, error) {
	res, err := removeScript.Run(ctx, q.rdb,
		[]string{q.key("pending"), q.key("delayed")},
		q.key("job:"), id,
	).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

// Drain removes every pending and delayed job, returning the count.
// Active jobs finish normally.
func (q *Queue) Drain(ctx context.Context) (int, error) {
	res, err := drainScript.Run(ctx, q.rdb,
		[]string{q.key("pending"), q.key("delayed")},
		q.key("job:"),
	).Int()
	if err != nil {
		return 0, err
	}
	return res, nil
}

// Stats counts jobs per state in a single round trip.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	pipe := q.rdb.Pipeline()
	pending := pipe.ZCard(ctx, q.key("pending"))
	delayed := pipe.ZCard(ctx, q.key("delayed"))
	active := pipe.ZCard(ctx, q.key("active"))
	completed := pipe.LLen(ctx, q.key("completed"))
	failed := pipe.LLen(ctx, q.key("failed"))
	if _, err := pipe.Exec(ctx); err != nil {
		return Stats{}, err
	}
	return Stats{
		Pending:   pending.Val(),
		Delayed:   delayed.Val(),
		Active:    active.Val(),
		Completed: completed.Val(),
		Failed:    failed.Val(),
	}, nil
}

// Job fetches a job hash by id. Returns (nil, nil) when unknown, which
// also covers jobs evicted by the retention caps.
func (q *Queue) Job(ctx context.Context, id string) (*Job, error) {
	vals, err := q.rdb.HGetAll(ctx, q.jobKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 {
		return nil, nil
	}
	return jobFromMap(vals)
}

func jobFromFields(fields []interface{}) (*Job, error) {
	m := make(map[string]string, len(fields)/2)
	for i := 0; i+1 < len(fields); i += 2 {
		k, _ := fields[i].(string)
		v, _ := fields[i+1].(string)
		m[k] = v
	}
	return jobFromMap(m)
}

func jobFromMap(m map[string]string) (*Job, error) {
	if m["id"] == "" {
		return nil, errors.New("queue: malformed job hash")
	}
	j := &Job{
		ID:     m["id"],
		Kind:   Kind(m["kind"]),
		Term:   m["term"],
		Status: model.Status(m["status"]),
		Result: m["result"],
		Error:  m["error"],
	}
	j.Priority, _ = strconv.Atoi(m["priority"])
	j.Attempts, _ = strconv.Atoi(m["attempts"])
	j.MaxAttempts, _ = strconv.Atoi(m["max_attempts"])
	backoffMs, _ := strconv.ParseInt(m["backoff_ms"], 10, 64)
	j.Backoff = time.Duration(backoffMs) * time.Millisecond
	createdMs, _ := strconv.ParseInt(m["created_at"], 10, 64)
	if createdMs > 0 {
		j.CreatedAt = time.UnixMilli(createdMs)
	}
	return j, nil
}
