package scraper

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"countyscrape/internal/metrics"
	"countyscrape/internal/model"
)

// SearchAPI is the paged upstream search. APIClient is the production
// implementation.
type SearchAPI interface {
	FetchPage(ctx context.Context, token, term string, page, pageSize int) (*SearchPage, error)
}

// TokenSource supplies the bearer token and a one-shot refresh used
// when the token is missing or rejected.
type TokenSource interface {
	Get() string
	Refresh(ctx context.Context) error
}

// Fallback drives the upstream's HTML search UI when the API path is
// exhausted. The snapshot, when non-nil, captures the rendered page for
// failure diagnostics.
type Fallback interface {
	Fetch(ctx context.Context, term string) ([]model.PropertyRecord, *Snapshot, error)
}

// ExecutorConfig tunes one scrape. Zero values fall back to defaults.
type ExecutorConfig struct {
	MaxAttempts    int
	RetryBaseDelay time.Duration
	PageSizes      []int
	MaxPages       int
}

// Result is a completed scrape.
type Result struct {
	Records  []model.PropertyRecord
	Total    int    // upstream-reported count, len(Records) for the DOM path
	Source   string // "api" or "dom"
	PageSize int    // page size that succeeded, 0 for the DOM path
	Attempts int    // API attempts consumed
	Snapshot *Snapshot
}

// Executor runs the per-term scrape: API with retries and adaptive page
// sizing, then at most one DOM fallback.
type Executor struct {
	api      SearchAPI
	tokens   TokenSource
	fallback Fallback
	cfg      ExecutorConfig
	logger   *slog.Logger
}

// NewExecutor wires an Executor. fallback may be nil when no browser is
// available.
func NewExecutor(api SearchAPI, tokens TokenSource, fallback Fallback, cfg ExecutorConfig, logger *slog.Logger) *Executor {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 2 * time.Second
	}
	if len(cfg.PageSizes) == 0 {
		cfg.PageSizes = []int{1000, 500, 100, 50}
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 100
	}
	return &Executor{api: api, tokens: tokens, fallback: fallback, cfg: cfg, logger: logger}
}

// Scrape fetches all records for term. Failures carry an ErrorClass;
// cancelled scrapes return before touching the fallback.
func (e *Executor) Scrape(ctx context.Context, term string) (*Result, error) {
	token := e.tokens.Get()
	if token == "" {
		if err := e.tokens.Refresh(ctx); err != nil {
			return nil, newError(ClassAuth, "no token and refresh failed: %v", err)
		}
		if token = e.tokens.Get(); token == "" {
			return nil, newError(ClassAuth, "no token available after refresh")
		}
	}

	var lastErr error
	authRetried := false
	attempts := 0
	for attempts < e.cfg.MaxAttempts {
		if err := ctx.Err(); err != nil {
			return nil, newError(ClassCancelled, "shutdown during scrape: %v", err)
		}
		attempts++

		records, total, pageSize, err := e.apiScrape(ctx, token, term)
		if err == nil {
			metrics.RecordScrapeAttempt("api-success")
			return &Result{
				Records:  records,
				Total:    total,
				Source:   "api",
				PageSize: pageSize,
				Attempts: attempts,
			}, nil
		}
		lastErr = err
		class := ClassOf(err)
		metrics.RecordScrapeAttempt(string(class))

		switch class {
		case ClassCancelled:
			return nil, err
		case ClassAuth:
			if authRetried {
				return nil, err
			}
			authRetried = true
			if refreshErr := e.tokens.Refresh(ctx); refreshErr != nil {
				return nil, err
			}
			token = e.tokens.Get()
			continue
		}

		if attempts < e.cfg.MaxAttempts {
			delay := e.cfg.RetryBaseDelay * (1 << (attempts - 1))
			e.logWarn("scrape_attempt_failed",
				"term", term,
				"attempt", attempts,
				"class", string(class),
				"retry_in", delay.String(),
			)
			select {
			case <-ctx.Done():
				return nil, newError(ClassCancelled, "shutdown during backoff: %v", ctx.Err())
			case <-time.After(delay):
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, newError(ClassCancelled, "shutdown before fallback: %v", err)
	}
	if e.fallback == nil {
		return nil, &Error{Class: ClassFallbackExhausted, Message: "api attempts exhausted, no fallback configured", Err: lastErr}
	}

	e.logInfo("dom_fallback_started", "term", term, "api_attempts", attempts)
	records, snap, err := e.fallback.Fetch(ctx, term)
	if err != nil {
		metrics.RecordDOMFallback("failed")
		if ClassOf(err) == ClassCancelled {
			return nil, err
		}
		return nil, &Error{
			Class:    ClassFallbackExhausted,
			Message:  "api and dom paths both failed: " + err.Error(),
			Err:      err,
			Snapshot: snap,
		}
	}
	metrics.RecordDOMFallback("success")
	return &Result{
		Records:  records,
		Total:    len(records),
		Source:   "dom",
		Attempts: attempts,
		Snapshot: snap,
	}, nil
}

// apiScrape is one full API attempt: probe page 1 down the page-size
// sequence, then paginate at the size that worked.
func (e *Executor) apiScrape(ctx context.Context, token, term string) ([]model.PropertyRecord, int, int, error) {
	var lastErr error
	for _, pageSize := range e.cfg.PageSizes {
		if err := ctx.Err(); err != nil {
			return nil, 0, 0, newError(ClassCancelled, "shutdown during scrape: %v", err)
		}

		first, err := e.api.FetchPage(ctx, token, term, 1, pageSize)
		if err != nil {
			if errors.Is(err, ErrTruncated) || ClassOf(err) == ClassParse {
				lastErr = err
				metrics.RecordPageSizeFallback()
				e.logWarn("page_size_step_down", "term", term, "page_size", pageSize)
				continue
			}
			return nil, 0, 0, err
		}

		records := first.Records
		total := first.Total
		lastLen := len(first.Records)
		for page := 2; len(records) < total && lastLen == pageSize && page <= e.cfg.MaxPages; page++ {
			next, err := e.api.FetchPage(ctx, token, term, page, pageSize)
			if err != nil {
				if errors.Is(err, ErrTruncated) {
					return nil, 0, 0, newError(ClassParse, "page %d truncated at size %d", page, pageSize)
				}
				return nil, 0, 0, err
			}
			records = append(records, next.Records...)
			lastLen = len(next.Records)
		}
		return records, total, pageSize, nil
	}

	if lastErr != nil {
		if errors.Is(lastErr, ErrTruncated) {
			return nil, 0, 0, newError(ClassParse, "every page size truncated: %v", lastErr)
		}
		return nil, 0, 0, lastErr
	}
	return nil, 0, 0, newError(ClassParse, "no page sizes configured")
}

func (e *Executor) logInfo(msg string, args ...any) {
	if e.logger != nil {
		e.logger.Info(msg, args...)
	}
}

func (e *Executor) logWarn(msg string, args ...any) {
	if e.logger != nil {
		e.logger.Warn(msg, args...)
	}
}
