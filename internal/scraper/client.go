// Package scraper fetches property records for a search term, first
// through the upstream JSON search API with adaptive page sizing, then
// through a browser-driven DOM fallback when the API path fails.
package scraper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"countyscrape/internal/model"
	"countyscrape/internal/scrapeutil"
)

// ErrTruncated marks a response cut off mid-body. The adaptive loop
// steps to the next smaller page size instead of retrying.
var ErrTruncated = errors.New("truncated response body")

// Fixed pools. Each attempt draws one entry; locale and timezone stay
// constant.
var userAgentPool = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
}

// Viewport is a browser window size used by the DOM paths.
type Viewport struct {
	Width  int
	Height int
}

var viewportPool = []Viewport{
	{1920, 1080},
	{1680, 1050},
	{1536, 864},
	{1440, 900},
	{1366, 768},
}

func randomUserAgent() string { return userAgentPool[rand.Intn(len(userAgentPool))] }

func randomViewport() Viewport { return viewportPool[rand.Intn(len(viewportPool))] }

// SearchPage is one page of upstream results.
type SearchPage struct {
	Total   int
	Records []model.PropertyRecord
}

type apiResponse struct {
	TotalProperty struct {
		PropertyCount int `json:"propertyCount"`
	} `json:"totalProperty"`
	Results []apiRow `json:"results"`
}

type apiRow struct {
	PID              any    `json:"pid"`
	DisplayName      string `json:"displayName"`
	PropType         string `json:"propType"`
	City             string `json:"city"`
	StreetPrimary    string `json:"streetPrimary"`
	AssessedValue    any    `json:"assessedValue"`
	AppraisedValue   any    `json:"appraisedValue"`
	GeoID            any    `json:"geoID"`
	LegalDescription string `json:"legalDescription"`
}

// APIClient talks to the upstream full-text search endpoint.
type APIClient struct {
	client *http.Client
	apiURL string
	year   string
}

// NewAPIClient returns a client for the searchfulltext endpoint. The
// timeout bounds each page fetch.
func NewAPIClient(apiURL, year string, timeout time.Duration) *APIClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &APIClient{
		client: &http.Client{Timeout: timeout},
		apiURL: apiURL,
		year:   year,
	}
}

// FetchPage POSTs one search page. Errors are classified; a body cut
// off mid-transmission wraps ErrTruncated.
func (c *APIClient) FetchPage(ctx context.Context, token, term string, page, pageSize int) (*SearchPage, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("pageSize", strconv.Itoa(pageSize))

	body := map[string]map[string]string{
		"pYear":          {"operator": "=", "value": c.year},
		"fullTextSearch": {"operator": "match", "value": term},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, newError(ClassTransport, "encode request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+"?"+q.Encode(), bytes.NewReader(payload))
	if err != nil {
		return nil, newError(ClassTransport, "build request: %v", err)
	}
	req.Header.Set("Authorization", token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", randomUserAgent())

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, newError(ClassCancelled, "request cancelled: %v", ctx.Err())
		}
		return nil, newError(ClassTransport, "request failed: %v", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, newError(ClassAuth, "upstream returned %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, newError(ClassTransport, "unexpected status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, newError(ClassTransport, "read body: %v", err)
	}
	if scrapeutil.IsTruncated(raw) {
		return nil, fmt.Errorf("page size %d: %w", pageSize, ErrTruncated)
	}

	var decoded apiResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, newError(ClassParse, "decode response: %v", err)
	}

	out := &SearchPage{Total: decoded.TotalProperty.PropertyCount}
	for _, row := range decoded.Results {
		rec, ok := row.toRecord()
		if !ok {
			continue
		}
		out.Records = append(out.Records, rec)
	}
	return out, nil
}

// toRecord maps an upstream row to the canonical shape. Rows without a
// property id carry no identity and are dropped.
func (r apiRow) toRecord() (model.PropertyRecord, bool) {
	pid := stringify(r.PID)
	if pid == "" {
		return model.PropertyRecord{}, false
	}

	rec := model.PropertyRecord{
		PropertyID:    pid,
		OwnerName:     strings.TrimSpace(r.DisplayName),
		PropertyType:  strings.TrimSpace(r.PropType),
		City:          strings.TrimSpace(r.City),
		StreetAddress: strings.TrimSpace(r.StreetPrimary),
	}
	if v, ok := scrapeutil.ParseMoney(r.AppraisedValue); ok {
		rec.AppraisedValue = v
	}
	if v, ok := scrapeutil.ParseMoney(r.AssessedValue); ok {
		rec.AssessedValue = &v
	}
	if geo := stringify(r.GeoID); geo != "" {
		rec.GeoID = &geo
	}
	if legal := strings.TrimSpace(r.LegalDescription); legal != "" {
		rec.LegalDescription = &legal
	}
	return rec, true
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64:
		if t == math.Trunc(t) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", t)
	}
}
