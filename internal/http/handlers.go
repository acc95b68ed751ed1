package http

import (
	"context"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"countyscrape/internal/config"
	"countyscrape/internal/dedupe"
	"countyscrape/internal/model"
	"countyscrape/internal/queue"
	"countyscrape/internal/store"
)

// JobReader is the slice of the store the ops surface reads. Handlers
// pull it from Locals so tests can substitute fakes.
type JobReader interface {
	CountProperties(ctx context.Context) (int64, error)
	CountJobsByStatus(ctx context.Context) (map[model.Status]int64, error)
	ListJobs(ctx context.Context, filter store.JobListFilter) ([]model.ScrapeJob, error)
	GetJobByID(ctx context.Context, id uuid.UUID) (model.ScrapeJob, error)
	CreateScrapeJob(ctx context.Context, id uuid.UUID, term string, priority int) error
}

// JobEnqueuer mirrors the queue operations handlers use.
type JobEnqueuer interface {
	Enqueue(ctx context.Context, id, term string, opts queue.EnqueueOptions) error
	Stats(ctx context.Context) (queue.Stats, error)
}

// TermGate screens manually submitted terms against the used set.
type TermGate interface {
	Check(term string) dedupe.Verdict
	Add(term string)
}

// Suggester produces optimizer-backed term suggestions.
type Suggester interface {
	Suggest(ctx context.Context, limit int) ([]string, error)
}

// statsHandler summarizes collection progress: property count, queue
// depths and job rows by status.
func statsHandler(c *fiber.Ctx) error {
	st := c.Locals("store").(JobReader)
	q := c.Locals("queue").(JobEnqueuer)

	props, err := st.CountProperties(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(StatsResponse{
			Success: false,
			Code:    "STATS_FAILED",
			Error:   err.Error(),
		})
	}
	qs, err := q.Stats(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(StatsResponse{
			Success: false,
			Code:    "STATS_FAILED",
			Error:   err.Error(),
		})
	}
	byStatus, err := st.CountJobsByStatus(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(StatsResponse{
			Success: false,
			Code:    "STATS_FAILED",
			Error:   err.Error(),
		})
	}

	jobCounts := make(map[string]int64, len(byStatus))
	for status, n := range byStatus {
		jobCounts[string(status)] = n
	}

	var target int64
	if cfg, ok := c.Locals("config").(*config.Config); ok && cfg != nil {
		target = int64(cfg.Driver.TargetProperties)
	}

	return c.Status(fiber.StatusOK).JSON(StatsResponse{
		Success: true,
		Stats: &StatsBody{
			Properties: props,
			Target:     target,
			Queue:      qs,
			Jobs:       jobCounts,
		},
	})
}

// jobsListHandler lists recent scrape jobs, newest first.
func jobsListHandler(c *fiber.Ctx) error {
	st := c.Locals("store").(JobReader)

	status := c.Query("status")
	if status != "" {
		switch model.Status(status) {
		case model.StatusPending, model.StatusActive, model.StatusDelayed,
			model.StatusCompleted, model.StatusFailed:
		default:
			return c.Status(fiber.StatusBadRequest).JSON(ListJobsResponse{
				Success: false,
				Code:    "BAD_REQUEST",
				Error:   "invalid status filter",
			})
		}
	}

	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(ListJobsResponse{
				Success: false,
				Code:    "BAD_REQUEST",
				Error:   "invalid limit value",
			})
		}
		if n > 500 {
			n = 500
		}
		limit = n
	}

	offset := 0
	if v := c.Query("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return c.Status(fiber.StatusBadRequest).JSON(ListJobsResponse{
				Success: false,
				Code:    "BAD_REQUEST",
				Error:   "invalid offset value",
			})
		}
		offset = n
	}

	jobs, err := st.ListJobs(c.Context(), store.JobListFilter{
		Status: model.Status(status),
		Term:   c.Query("term"),
		Limit:  int32(limit),
		Offset: int32(offset),
	})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ListJobsResponse{
			Success: false,
			Code:    "JOB_LIST_FAILED",
			Error:   err.Error(),
		})
	}

	items := make([]JobItem, 0, len(jobs))
	for _, job := range jobs {
		items = append(items, jobItem(job))
	}

	return c.Status(fiber.StatusOK).JSON(ListJobsResponse{
		Success: true,
		Jobs:    items,
	})
}

// jobDetailHandler returns a single scrape job row.
func jobDetailHandler(c *fiber.Ctx) error {
	st := c.Locals("store").(JobReader)

	jobID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(JobDetailResponse{
			Success: false,
			Code:    "BAD_REQUEST",
			Error:   "invalid job id",
		})
	}

	job, err := st.GetJobByID(c.Context(), jobID)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(JobDetailResponse{
			Success: false,
			Code:    "NOT_FOUND",
			Error:   "job not found",
		})
	}

	item := jobItem(job)
	return c.Status(fiber.StatusOK).JSON(JobDetailResponse{
		Success: true,
		Job:     &item,
	})
}

// scrapeEnqueueHandler queues one operator-submitted term. The term
// passes the same dedupe rules the generator applies; rejects report
// the rule that fired.
func scrapeEnqueueHandler(c *fiber.Ctx) error {
	st := c.Locals("store").(JobReader)
	q := c.Locals("queue").(JobEnqueuer)

	var req ScrapeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ScrapeResponse{
			Success: false,
			Code:    "BAD_REQUEST",
			Error:   "invalid request body",
		})
	}

	term := strings.TrimSpace(req.Term)
	if term == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ScrapeResponse{
			Success: false,
			Code:    "BAD_REQUEST",
			Error:   "term is required",
		})
	}

	if gate, ok := c.Locals("dedupe").(TermGate); ok {
		verdict := gate.Check(term)
		if !verdict.Accepted {
			return c.Status(fiber.StatusConflict).JSON(ScrapeResponse{
				Success: false,
				Code:    "TERM_REJECTED",
				Error:   "term rejected: " + string(verdict.Reason),
				Term:    term,
			})
		}
		gate.Add(term)
	}

	priority := req.Priority
	if priority <= 0 {
		priority = 10
	}

	id := uuid.New()
	if err := st.CreateScrapeJob(c.Context(), id, term, priority); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ScrapeResponse{
			Success: false,
			Code:    "ENQUEUE_FAILED",
			Error:   err.Error(),
		})
	}
	if err := q.Enqueue(c.Context(), id.String(), term, queue.EnqueueOptions{Priority: priority}); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ScrapeResponse{
			Success: false,
			Code:    "ENQUEUE_FAILED",
			Error:   err.Error(),
		})
	}

	return c.Status(fiber.StatusOK).JSON(ScrapeResponse{
		Success: true,
		JobID:   id.String(),
		Term:    term,
	})
}

// suggestionsHandler surfaces what the optimizer would feed the
// generator next.
func suggestionsHandler(c *fiber.Ctx) error {
	sugg, ok := c.Locals("optimizer").(Suggester)
	if !ok {
		return c.Status(fiber.StatusServiceUnavailable).JSON(SuggestionsResponse{
			Success: false,
			Code:    "OPTIMIZER_UNAVAILABLE",
			Error:   "optimizer is not running in this role",
		})
	}

	limit := 10
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(SuggestionsResponse{
				Success: false,
				Code:    "BAD_REQUEST",
				Error:   "invalid limit value",
			})
		}
		if n > 50 {
			n = 50
		}
		limit = n
	}

	list, err := sugg.Suggest(c.Context(), limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(SuggestionsResponse{
			Success: false,
			Code:    "SUGGESTIONS_FAILED",
			Error:   err.Error(),
		})
	}
	if list == nil {
		list = []string{}
	}

	return c.Status(fiber.StatusOK).JSON(SuggestionsResponse{
		Success:     true,
		Suggestions: list,
	})
}

func jobItem(job model.ScrapeJob) JobItem {
	return JobItem{
		ID:            job.ID,
		Term:          job.SearchTerm,
		Status:        string(job.Status),
		Attempts:      job.Attempts,
		Priority:      job.Priority,
		ResultCount:   job.ResultCount,
		FailureReason: job.FailureReason,
		StartedAt:     job.StartedAt,
		CompletedAt:   job.CompletedAt,
		CreatedAt:     job.CreatedAt,
		UpdatedAt:     job.UpdatedAt,
	}
}
