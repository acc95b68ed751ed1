package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"

	"countyscrape/internal/model"
)

// JobListFilter narrows ListJobs results.
type JobListFilter struct {
	Status model.Status
	Term   string
	Limit  int32
	Offset int32
}

// CreateScrapeJob inserts a pending job row for an enqueued term.
func (s *Store) CreateScrapeJob(ctx context.Context, id uuid.UUID, term string, priority int) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO scrape_jobs (id, search_term, status, priority)
		VALUES ($1, $2, 'pending', $3)`,
		id, term, priority)
	if err != nil {
		return fmt.Errorf("create scrape job: %w", err)
	}
	return nil
}

// MarkJobActive records a delivery: status active, the delivery count,
// and a fresh started_at so run duration measures this delivery only.
func (s *Store) MarkJobActive(ctx context.Context, id uuid.UUID, attempts int) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE scrape_jobs
		SET status = 'active', attempts = $2, started_at = now(), updated_at = now()
		WHERE id = $1`,
		id, attempts)
	return err
}

// CompleteJob finalizes a successful run. resultCount counts newly
// inserted properties only, never updates.
func (s *Store) CompleteJob(ctx context.Context, id uuid.UUID, resultCount int, outcome model.ScrapeOutcome) error {
	payload, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("marshal outcome: %w", err)
	}
	_, err = s.DB.ExecContext(ctx, `
		UPDATE scrape_jobs
		SET status = 'completed', result_count = $2, outcome = $3,
		    failure_reason = NULL, completed_at = now(), updated_at = now()
		WHERE id = $1`,
		id, resultCount, pqtype.NullRawMessage{RawMessage: payload, Valid: true})
	return err
}

// MarkJobRetry parks a job that will be redelivered after backoff.
func (s *Store) MarkJobRetry(ctx context.Context, id uuid.UUID, reason string) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE scrape_jobs
		SET status = 'delayed', failure_reason = $2, updated_at = now()
		WHERE id = $1`,
		id, reason)
	return err
}

// FailJob retires a job terminally. failureContext optionally carries a
// diagnostic payload such as a rendered page snapshot.
func (s *Store) FailJob(ctx context.Context, id uuid.UUID, reason string, failureContext json.RawMessage) error {
	fc := pqtype.NullRawMessage{}
	if len(failureContext) > 0 {
		fc = pqtype.NullRawMessage{RawMessage: failureContext, Valid: true}
	}
	_, err := s.DB.ExecContext(ctx, `
		UPDATE scrape_jobs
		SET status = 'failed', failure_reason = $2, failure_context = $3,
		    completed_at = now(), updated_at = now()
		WHERE id = $1`,
		id, reason, fc)
	return err
}

// GetJobByID fetches a single scrape job row.
func (s *Store) GetJobByID(ctx context.Context, id uuid.UUID) (model.ScrapeJob, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT id, search_term, status, attempts, priority, result_count,
		       failure_reason, started_at, completed_at, created_at, updated_at
		FROM scrape_jobs WHERE id = $1`, id)
	return scanJob(row)
}

// ListJobs returns recent jobs, newest first, honoring the filter.
func (s *Store) ListJobs(ctx context.Context, filter JobListFilter) ([]model.ScrapeJob, error) {
	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Term != "" {
		args = append(args, strings.ToLower(filter.Term))
		where = append(where, fmt.Sprintf("lower(search_term) = $%d", len(args)))
	}

	q := `
		SELECT id, search_term, status, attempts, priority, result_count,
		       failure_reason, started_at, completed_at, created_at, updated_at
		FROM scrape_jobs`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)
	q += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))
	args = append(args, filter.Offset)
	q += fmt.Sprintf(" OFFSET $%d", len(args))

	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []model.ScrapeJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// HistoricalTerms returns every distinct search term ever enqueued,
// lowercased. This is the deduplicator's authoritative set.
func (s *Store) HistoricalTerms(ctx context.Context) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT DISTINCT lower(search_term) FROM scrape_jobs`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var terms []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		terms = append(terms, t)
	}
	return terms, rows.Err()
}

// TermHistory aggregates terminal job outcomes per term. minRuns drops
// terms with too little signal; limit bounds the result, ordered by
// total results descending so the optimizer sees the strongest terms.
func (s *Store) TermHistory(ctx context.Context, minRuns, limit int) ([]model.TermStats, error) {
	if minRuns <= 0 {
		minRuns = 1
	}
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT lower(search_term) AS term,
		       COUNT(*) AS runs,
		       COUNT(*) FILTER (WHERE result_count > 0) AS runs_with_results,
		       COALESCE(SUM(result_count), 0) AS total_results,
		       COALESCE(AVG(EXTRACT(EPOCH FROM (completed_at - started_at)))
		                FILTER (WHERE completed_at IS NOT NULL AND started_at IS NOT NULL), 0) AS avg_duration_secs,
		       MAX(COALESCE(started_at, created_at)) AS last_used_at
		FROM scrape_jobs
		WHERE status IN ('completed', 'failed')
		GROUP BY lower(search_term)
		HAVING COUNT(*) >= $1
		ORDER BY total_results DESC
		LIMIT $2`, minRuns, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []model.TermStats
	for rows.Next() {
		var (
			ts   model.TermStats
			last sql.NullTime
		)
		if err := rows.Scan(&ts.Term, &ts.Runs, &ts.RunsWithResults, &ts.TotalResults, &ts.AvgDurationSecs, &last); err != nil {
			return nil, err
		}
		if last.Valid {
			t := last.Time
			ts.LastUsedAt = &t
		}
		stats = append(stats, ts)
	}
	return stats, rows.Err()
}

// CountJobsByStatus returns row counts per job status.
func (s *Store) CountJobsByStatus(ctx context.Context) (map[model.Status]int64, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM scrape_jobs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[model.Status]int64)
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[model.Status(status)] = n
	}
	return counts, rows.Err()
}

// DeletePendingJobRows removes rows for jobs that never ran. Used by the
// driver's fresh-start mode together with dropping them from the queue.
func (s *Store) DeletePendingJobRows(ctx context.Context) (int64, error) {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM scrape_jobs WHERE status IN ('pending', 'delayed')`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ClearExpiredFailureContexts drops bulky failure payloads from jobs
// that finished before the cutoff. The rows stay; term history reads them.
func (s *Store) ClearExpiredFailureContexts(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE scrape_jobs
		SET failure_context = NULL
		WHERE failure_context IS NOT NULL AND completed_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (model.ScrapeJob, error) {
	var (
		job       model.ScrapeJob
		id        uuid.UUID
		status    string
		reason    sql.NullString
		startedAt sql.NullTime
		doneAt    sql.NullTime
	)
	err := row.Scan(&id, &job.SearchTerm, &status, &job.Attempts, &job.Priority,
		&job.ResultCount, &reason, &startedAt, &doneAt, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return model.ScrapeJob{}, err
	}
	job.ID = id.String()
	job.Status = model.Status(status)
	if reason.Valid {
		job.FailureReason = reason.String
	}
	if startedAt.Valid {
		t := startedAt.Time
		job.StartedAt = &t
	}
	if doneAt.Valid {
		t := doneAt.Time
		job.CompletedAt = &t
	}
	return job, nil
}
