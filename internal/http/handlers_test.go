package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"countyscrape/internal/dedupe"
	"countyscrape/internal/model"
	"countyscrape/internal/queue"
	"countyscrape/internal/store"
)

type fakeReader struct {
	props      int64
	byStatus   map[model.Status]int64
	jobs       []model.ScrapeJob
	job        model.ScrapeJob
	getErr     error
	created    []string
	createdIDs []uuid.UUID
	prios      []int
	lastFilter store.JobListFilter
}

func (f *fakeReader) CountProperties(context.Context) (int64, error) {
	return f.props, nil
}

func (f *fakeReader) CountJobsByStatus(context.Context) (map[model.Status]int64, error) {
	return f.byStatus, nil
}

func (f *fakeReader) ListJobs(_ context.Context, filter store.JobListFilter) ([]model.ScrapeJob, error) {
	f.lastFilter = filter
	return f.jobs, nil
}

func (f *fakeReader) GetJobByID(context.Context, uuid.UUID) (model.ScrapeJob, error) {
	if f.getErr != nil {
		return model.ScrapeJob{}, f.getErr
	}
	return f.job, nil
}

func (f *fakeReader) CreateScrapeJob(_ context.Context, id uuid.UUID, term string, priority int) error {
	f.created = append(f.created, term)
	f.createdIDs = append(f.createdIDs, id)
	f.prios = append(f.prios, priority)
	return nil
}

type fakeEnqueuer struct {
	stats queue.Stats
	ids   []string
	terms []string
	prios []int
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, id, term string, opts queue.EnqueueOptions) error {
	f.ids = append(f.ids, id)
	f.terms = append(f.terms, term)
	f.prios = append(f.prios, opts.Priority)
	return nil
}

func (f *fakeEnqueuer) Stats(context.Context) (queue.Stats, error) {
	return f.stats, nil
}

type fakeGate struct {
	verdict dedupe.Verdict
	added   []string
}

func (f *fakeGate) Check(string) dedupe.Verdict { return f.verdict }
func (f *fakeGate) Add(term string)             { f.added = append(f.added, term) }

type fakeSuggester struct {
	list  []string
	err   error
	limit int
}

func (f *fakeSuggester) Suggest(_ context.Context, limit int) ([]string, error) {
	f.limit = limit
	return f.list, f.err
}

// newTestApp registers handler on path with the given Locals injected,
// mirroring what the server middleware does.
func newTestApp(method, path string, handler fiber.Handler, locals map[string]any) *fiber.App {
	app := fiber.New()
	inject := func(c *fiber.Ctx) error {
		for k, v := range locals {
			c.Locals(k, v)
		}
		return handler(c)
	}
	if method == http.MethodPost {
		app.Post(path, inject)
	} else {
		app.Get(path, inject)
	}
	return app
}

func TestStats(t *testing.T) {
	st := &fakeReader{
		props: 1234,
		byStatus: map[model.Status]int64{
			model.StatusCompleted: 40,
			model.StatusFailed:    2,
		},
	}
	q := &fakeEnqueuer{stats: queue.Stats{Pending: 12, Active: 3}}
	app := newTestApp(http.MethodGet, "/v1/stats", statsHandler,
		map[string]any{"store": st, "queue": q})

	req := httptest.NewRequest(http.MethodGet, "/v1/stats", nil)
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body StatsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !body.Success || body.Stats == nil {
		t.Fatalf("unexpected body: %+v", body)
	}
	if body.Stats.Properties != 1234 {
		t.Fatalf("properties = %d, want 1234", body.Stats.Properties)
	}
	if body.Stats.Queue.Pending != 12 || body.Stats.Queue.Active != 3 {
		t.Fatalf("queue stats = %+v", body.Stats.Queue)
	}
	if body.Stats.Jobs["completed"] != 40 || body.Stats.Jobs["failed"] != 2 {
		t.Fatalf("job counts = %v", body.Stats.Jobs)
	}
}

func TestJobsList_InvalidStatus(t *testing.T) {
	app := newTestApp(http.MethodGet, "/v1/jobs", jobsListHandler,
		map[string]any{"store": &fakeReader{}})

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs?status=bogus", nil)
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestJobsList_FilterApplied(t *testing.T) {
	now := time.Now().UTC()
	st := &fakeReader{jobs: []model.ScrapeJob{
		{ID: uuid.New().String(), SearchTerm: "grove", Status: model.StatusFailed, CreatedAt: now, UpdatedAt: now},
	}}
	app := newTestApp(http.MethodGet, "/v1/jobs", jobsListHandler,
		map[string]any{"store": st})

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs?status=failed&limit=5&offset=10", nil)
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	if st.lastFilter.Status != model.StatusFailed {
		t.Fatalf("status filter = %q", st.lastFilter.Status)
	}
	if st.lastFilter.Limit != 5 || st.lastFilter.Offset != 10 {
		t.Fatalf("filter = %+v", st.lastFilter)
	}

	var body ListJobsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(body.Jobs) != 1 || body.Jobs[0].Term != "grove" {
		t.Fatalf("jobs = %+v", body.Jobs)
	}
}

func TestJobsList_InvalidLimit(t *testing.T) {
	app := newTestApp(http.MethodGet, "/v1/jobs", jobsListHandler,
		map[string]any{"store": &fakeReader{}})

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs?limit=zero", nil)
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestJobDetail_InvalidID(t *testing.T) {
	app := newTestApp(http.MethodGet, "/v1/jobs/:id", jobDetailHandler,
		map[string]any{"store": &fakeReader{}})

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/not-a-uuid", nil)
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestJobDetail_NotFound(t *testing.T) {
	st := &fakeReader{getErr: errors.New("no rows")}
	app := newTestApp(http.MethodGet, "/v1/jobs/:id", jobDetailHandler,
		map[string]any{"store": st})

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/"+uuid.New().String(), nil)
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestJobDetail_OK(t *testing.T) {
	id := uuid.New().String()
	now := time.Now().UTC()
	st := &fakeReader{job: model.ScrapeJob{
		ID:          id,
		SearchTerm:  "walnut creek",
		Status:      model.StatusCompleted,
		Attempts:    2,
		ResultCount: 17,
		CreatedAt:   now,
		UpdatedAt:   now,
	}}
	app := newTestApp(http.MethodGet, "/v1/jobs/:id", jobDetailHandler,
		map[string]any{"store": st})

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/"+id, nil)
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body JobDetailResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Job == nil || body.Job.Term != "walnut creek" || body.Job.Attempts != 2 {
		t.Fatalf("job = %+v", body.Job)
	}
}

func TestScrapeEnqueue_OK(t *testing.T) {
	st := &fakeReader{}
	q := &fakeEnqueuer{}
	gate := &fakeGate{verdict: dedupe.Verdict{Accepted: true}}
	app := newTestApp(http.MethodPost, "/v1/scrape", scrapeEnqueueHandler,
		map[string]any{"store": st, "queue": q, "dedupe": gate})

	payload := strings.NewReader(`{"term":"grove park","priority":5}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/scrape", payload)
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body ScrapeResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !body.Success || body.JobID == "" {
		t.Fatalf("unexpected body: %+v", body)
	}
	if len(st.created) != 1 || st.created[0] != "grove park" {
		t.Fatalf("created rows = %v", st.created)
	}
	if len(q.ids) != 1 || q.ids[0] != st.createdIDs[0].String() {
		t.Fatalf("queue id %v does not match row id %v", q.ids, st.createdIDs)
	}
	if q.prios[0] != 5 || st.prios[0] != 5 {
		t.Fatalf("priorities = queue %v row %v, want 5", q.prios, st.prios)
	}
	if len(gate.added) != 1 || gate.added[0] != "grove park" {
		t.Fatalf("gate.Add calls = %v", gate.added)
	}
}

func TestScrapeEnqueue_Rejected(t *testing.T) {
	st := &fakeReader{}
	q := &fakeEnqueuer{}
	gate := &fakeGate{verdict: dedupe.Verdict{Accepted: false, Reason: dedupe.ReasonExactDuplicate}}
	app := newTestApp(http.MethodPost, "/v1/scrape", scrapeEnqueueHandler,
		map[string]any{"store": st, "queue": q, "dedupe": gate})

	payload := strings.NewReader(`{"term":"grove park"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/scrape", payload)
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}

	var body ScrapeResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Code != "TERM_REJECTED" {
		t.Fatalf("code = %q", body.Code)
	}
	if len(st.created) != 0 || len(q.ids) != 0 {
		t.Fatal("rejected term must not reach the store or queue")
	}
}

func TestScrapeEnqueue_MissingTerm(t *testing.T) {
	app := newTestApp(http.MethodPost, "/v1/scrape", scrapeEnqueueHandler,
		map[string]any{"store": &fakeReader{}, "queue": &fakeEnqueuer{}})

	payload := strings.NewReader(`{"term":"   "}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/scrape", payload)
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestSuggestions_OK(t *testing.T) {
	sugg := &fakeSuggester{list: []string{"oak ridge", "cedar"}}
	app := newTestApp(http.MethodGet, "/v1/optimizer/suggestions", suggestionsHandler,
		map[string]any{"optimizer": sugg})

	req := httptest.NewRequest(http.MethodGet, "/v1/optimizer/suggestions?limit=2", nil)
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body SuggestionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(body.Suggestions) != 2 || body.Suggestions[0] != "oak ridge" {
		t.Fatalf("suggestions = %v", body.Suggestions)
	}
	if sugg.limit != 2 {
		t.Fatalf("limit passed = %d, want 2", sugg.limit)
	}
}

func TestSuggestions_Unavailable(t *testing.T) {
	app := newTestApp(http.MethodGet, "/v1/optimizer/suggestions", suggestionsHandler,
		map[string]any{})

	req := httptest.NewRequest(http.MethodGet, "/v1/optimizer/suggestions", nil)
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
}
