package queue

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"countyscrape/internal/model"
)

func newTestQueue(t *testing.T, opts Options) *Queue {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, opts)
}

func TestEnqueueReserveComplete(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, Options{})

	if err := q.Enqueue(ctx, "job-1", "smith", EnqueueOptions{}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Enqueue(ctx, "job-1", "smith", EnqueueOptions{}); !errors.Is(err, ErrJobExists) {
		t.Fatalf("duplicate enqueue err = %v, want ErrJobExists", err)
	}

	job, err := q.Reserve(ctx)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if job == nil {
		t.Fatal("reserve returned no job")
	}
	if job.ID != "job-1" || job.Term != "smith" {
		t.Fatalf("got job %q term %q", job.ID, job.Term)
	}
	if job.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1", job.Attempts)
	}
	if job.Status != model.StatusActive {
		t.Fatalf("status = %q, want active", job.Status)
	}
	if job.Priority != 10 || job.MaxAttempts != 3 {
		t.Fatalf("defaults not applied: priority=%d maxAttempts=%d", job.Priority, job.MaxAttempts)
	}
	if job.Kind != KindScrapeProperties {
		t.Fatalf("kind = %q, want the scrape default", job.Kind)
	}

	st, err := q.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.Active != 1 || st.Depth() != 1 {
		t.Fatalf("stats = %+v, want one active", st)
	}

	if err := q.Complete(ctx, "job-1", []byte(`{"inserted":3}`)); err != nil {
		t.Fatalf("complete: %v", err)
	}
	st, _ = q.Stats(ctx)
	if st.Completed != 1 || st.Depth() != 0 {
		t.Fatalf("stats after complete = %+v", st)
	}

	done, err := q.Job(ctx, "job-1")
	if err != nil {
		t.Fatalf("job: %v", err)
	}
	if done.Status != model.StatusCompleted || !strings.Contains(done.Result, "inserted") {
		t.Fatalf("stored job = %+v", done)
	}

	if job, _ := q.Reserve(ctx); job != nil {
		t.Fatalf("reserve on empty queue returned %+v", job)
	}
}

func TestPriorityOrderingAndFIFO(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, Options{})

	if err := q.Enqueue(ctx, "low", "zebra", EnqueueOptions{Priority: 20}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Enqueue(ctx, "first", "apple", EnqueueOptions{Priority: 5}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Enqueue(ctx, "second", "berry", EnqueueOptions{Priority: 5}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	want := []string{"first", "second", "low"}
	for _, id := range want {
		job, err := q.Reserve(ctx)
		if err != nil {
			t.Fatalf("reserve: %v", err)
		}
		if job == nil || job.ID != id {
			t.Fatalf("reserve order: got %+v, want id %q", job, id)
		}
	}
}

func TestDelayedPromotion(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, Options{})

	if err := q.Enqueue(ctx, "later", "oak st", EnqueueOptions{Delay: 30 * time.Millisecond}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if job, _ := q.Reserve(ctx); job != nil {
		t.Fatalf("delayed job reserved early: %+v", job)
	}
	st, _ := q.Stats(ctx)
	if st.Delayed != 1 {
		t.Fatalf("stats = %+v, want one delayed", st)
	}

	time.Sleep(50 * time.Millisecond)
	job, err := q.Reserve(ctx)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if job == nil || job.ID != "later" || job.Attempts != 1 {
		t.Fatalf("promoted job = %+v", job)
	}
}

func TestFailParksForBackoffRetry(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, Options{})

	opts := EnqueueOptions{Backoff: 20 * time.Millisecond, MaxAttempts: 3}
	if err := q.Enqueue(ctx, "retry-me", "walnut", opts); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := q.Reserve(ctx); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	retried, err := q.Fail(ctx, "retry-me", "TRANSPORT: connection reset", false)
	if err != nil {
		t.Fatalf("fail: %v", err)
	}
	if !retried {
		t.Fatal("first failure should schedule a retry")
	}
	parked, _ := q.Job(ctx, "retry-me")
	if parked.Status != model.StatusDelayed || parked.Error == "" {
		t.Fatalf("parked job = %+v", parked)
	}
	if job, _ := q.Reserve(ctx); job != nil {
		t.Fatalf("reserved before backoff elapsed: %+v", job)
	}

	time.Sleep(40 * time.Millisecond)
	job, err := q.Reserve(ctx)
	if err != nil {
		t.Fatalf("reserve after backoff: %v", err)
	}
	if job == nil || job.Attempts != 2 {
		t.Fatalf("redelivered job = %+v, want attempts 2", job)
	}

	if err := q.Complete(ctx, "retry-me", nil); err != nil {
		t.Fatalf("complete: %v", err)
	}
	done, _ := q.Job(ctx, "retry-me")
	if done.Attempts != 2 || done.Status != model.StatusCompleted {
		t.Fatalf("final job = %+v, want 2 attempts completed", done)
	}
}

func TestFailRetiresWhenAttemptsExhausted(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, Options{})

	if err := q.Enqueue(ctx, "doomed", "qqq", EnqueueOptions{MaxAttempts: 1}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := q.Reserve(ctx); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	retried, err := q.Fail(ctx, "doomed", "PARSE: truncated response", false)
	if err != nil {
		t.Fatalf("fail: %v", err)
	}
	if retried {
		t.Fatal("exhausted job should not retry")
	}
	st, _ := q.Stats(ctx)
	if st.Failed != 1 || st.Depth() != 0 {
		t.Fatalf("stats = %+v, want one failed", st)
	}
	job, _ := q.Job(ctx, "doomed")
	if job.Status != model.StatusFailed {
		t.Fatalf("status = %q, want failed", job.Status)
	}
}

func TestFailTerminalSkipsRemainingAttempts(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, Options{})

	if err := q.Enqueue(ctx, "no-auth", "pine", EnqueueOptions{MaxAttempts: 5}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := q.Reserve(ctx); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	retried, err := q.Fail(ctx, "no-auth", "AUTH: 401 unauthorized", true)
	if err != nil {
		t.Fatalf("fail: %v", err)
	}
	if retried {
		t.Fatal("terminal failure should not retry")
	}
	job, _ := q.Job(ctx, "no-auth")
	if job.Status != model.StatusFailed || job.Attempts != 1 {
		t.Fatalf("job = %+v, want failed after one attempt", job)
	}
}

func TestVisibilityTimeoutRedelivers(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, Options{VisibilityTimeout: 25 * time.Millisecond})

	if err := q.Enqueue(ctx, "stalled", "elm", EnqueueOptions{}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	first, err := q.Reserve(ctx)
	if err != nil || first == nil || first.Attempts != 1 {
		t.Fatalf("first reserve = %+v, %v", first, err)
	}

	time.Sleep(50 * time.Millisecond)
	second, err := q.Reserve(ctx)
	if err != nil {
		t.Fatalf("second reserve: %v", err)
	}
	if second == nil || second.ID != "stalled" || second.Attempts != 2 {
		t.Fatalf("redelivery = %+v, want attempts 2", second)
	}

	if err := q.Complete(ctx, "stalled", nil); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := q.Complete(ctx, "stalled", nil); !errors.Is(err, ErrLostReservation) {
		t.Fatalf("second complete err = %v, want ErrLostReservation", err)
	}
	if _, err := q.Fail(ctx, "stalled", "late", false); !errors.Is(err, ErrLostReservation) {
		t.Fatalf("fail after complete err = %v, want ErrLostReservation", err)
	}
}

func TestRemoveOnlyTouchesUnstartedJobs(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, Options{})

	if err := q.Enqueue(ctx, "keep", "ash", EnqueueOptions{Priority: 1}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Enqueue(ctx, "drop", "birch", EnqueueOptions{Priority: 2}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	removed, err := q.Remove(ctx, "drop")
	if err != nil || !removed {
		t.Fatalf("remove pending = %v, %v", removed, err)
	}
	if job, _ := q.Job(ctx, "drop"); job != nil {
		t.Fatalf("removed job still stored: %+v", job)
	}

	active, err := q.Reserve(ctx)
	if err != nil || active == nil || active.ID != "keep" {
		t.Fatalf("reserve = %+v, %v", active, err)
	}
	removed, err = q.Remove(ctx, "keep")
	if err != nil {
		t.Fatalf("remove active: %v", err)
	}
	if removed {
		t.Fatal("remove must not touch an active job")
	}
}

func TestCompletedRetentionCapEvictsOldest(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, Options{RemoveOnComplete: 2})

	for _, id := range []string{"c1", "c2", "c3"} {
		if err := q.Enqueue(ctx, id, id, EnqueueOptions{}); err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
		job, err := q.Reserve(ctx)
		if err != nil || job == nil {
			t.Fatalf("reserve %s: %+v, %v", id, job, err)
		}
		if err := q.Complete(ctx, job.ID, nil); err != nil {
			t.Fatalf("complete %s: %v", id, err)
		}
	}

	st, _ := q.Stats(ctx)
	if st.Completed != 2 {
		t.Fatalf("completed = %d, want cap 2", st.Completed)
	}
	if job, _ := q.Job(ctx, "c1"); job != nil {
		t.Fatalf("evicted job still stored: %+v", job)
	}
	for _, id := range []string{"c2", "c3"} {
		if job, _ := q.Job(ctx, id); job == nil {
			t.Fatalf("recent job %s evicted", id)
		}
	}
}

func TestDrainClearsUnstartedJobs(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, Options{})

	if err := q.Enqueue(ctx, "p1", "one", EnqueueOptions{}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Enqueue(ctx, "p2", "two", EnqueueOptions{}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Enqueue(ctx, "d1", "three", EnqueueOptions{Delay: time.Minute}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	n, err := q.Drain(ctx)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if n != 3 {
		t.Fatalf("drained %d, want 3", n)
	}
	st, _ := q.Stats(ctx)
	if st.Depth() != 0 {
		t.Fatalf("stats after drain = %+v", st)
	}
	if job, _ := q.Job(ctx, "p1"); job != nil {
		t.Fatalf("drained job still stored: %+v", job)
	}
}
