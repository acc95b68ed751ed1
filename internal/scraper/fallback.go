package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"countyscrape/internal/model"
	"countyscrape/internal/scrapeutil"
)

// searchPath is the human search UI on the upstream host. The grid it
// renders backs both the DOM fallback and token capture.
const searchPath = "/property-search"

// gridSelector matches the results grid the search UI renders.
const gridSelector = "table[role=grid], table.k-grid-table, table.results-grid"

const defaultFallbackRows = 20

// FallbackConfig tunes the DOM fallback. An empty BrowserURL launches a
// local browser; otherwise rod connects to the remote devtools endpoint.
type FallbackConfig struct {
	BaseURL     string
	BrowserURL  string
	Timeout     time.Duration
	RowLimit    int
	SnapshotMax int
}

// RodFallback drives the upstream HTML search UI with a real browser and
// reads rows out of the rendered grid. It is the path of last resort
// when the JSON API keeps failing: one navigation, a bounded row count,
// and a snapshot of whatever rendered for diagnostics.
type RodFallback struct {
	baseURL     string
	browserURL  string
	timeout     time.Duration
	rowLimit    int
	snapshotMax int
	robots      *RobotsGate
	logger      *slog.Logger
}

// NewRodFallback builds a fallback. A nil robots gate skips the
// robots.txt check.
func NewRodFallback(cfg FallbackConfig, robots *RobotsGate, logger *slog.Logger) *RodFallback {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.RowLimit <= 0 {
		cfg.RowLimit = defaultFallbackRows
	}
	return &RodFallback{
		baseURL:     cfg.BaseURL,
		browserURL:  cfg.BrowserURL,
		timeout:     cfg.Timeout,
		rowLimit:    cfg.RowLimit,
		snapshotMax: cfg.SnapshotMax,
		robots:      robots,
		logger:      logger,
	}
}

// Fetch renders the search UI for term and extracts up to rowLimit rows
// from the grid. The snapshot is returned even when extraction fails so
// the caller can persist what the page actually showed.
func (f *RodFallback) Fetch(ctx context.Context, term string) ([]model.PropertyRecord, *Snapshot, error) {
	searchURL, err := buildSearchURL(f.baseURL, term)
	if err != nil {
		return nil, nil, err
	}
	if f.robots != nil && !f.robots.Allowed(ctx, searchPath) {
		return nil, nil, fmt.Errorf("robots.txt disallows %s", searchPath)
	}

	f.logInfo("dom_fetch_started", "term", term, "url", searchURL)

	browser := rod.New().Context(ctx).Timeout(f.timeout)
	if f.browserURL != "" {
		browser = browser.ControlURL(f.browserURL)
	}
	if err := browser.Connect(); err != nil {
		return nil, nil, fmt.Errorf("browser connect: %w", err)
	}
	defer browser.MustClose()

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, nil, fmt.Errorf("browser page: %w", err)
	}
	defer page.MustClose()

	if err := preparePage(page); err != nil {
		return nil, nil, err
	}
	if err := page.Navigate(searchURL); err != nil {
		return nil, nil, fmt.Errorf("navigate: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return nil, nil, fmt.Errorf("wait load: %w", err)
	}

	// Element blocks until the grid renders or the page deadline fires.
	if _, err := page.Element(gridSelector); err != nil {
		var snap *Snapshot
		if htmlStr, htmlErr := page.HTML(); htmlErr == nil {
			snap = BuildSnapshot(searchURL, htmlStr, f.snapshotMax)
		}
		return nil, snap, fmt.Errorf("results grid not found: %w", err)
	}

	htmlStr, err := page.HTML()
	if err != nil {
		return nil, nil, fmt.Errorf("page html: %w", err)
	}
	snap := BuildSnapshot(searchURL, htmlStr, f.snapshotMax)

	records, err := parseGrid(htmlStr, f.rowLimit)
	if err != nil {
		return nil, snap, err
	}
	f.logInfo("dom_fetch_finished", "term", term, "rows", len(records))
	return records, snap, nil
}

func (f *RodFallback) logInfo(msg string, args ...any) {
	if f.logger != nil {
		f.logger.Info(msg, args...)
	}
}

// buildSearchURL points the browser at the search UI with the term in
// the query string, which triggers a search on load.
func buildSearchURL(baseURL, term string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme == "" {
		u.Scheme = "https"
	}
	u.Path = searchPath
	u.RawQuery = url.Values{"search": {term}}.Encode()
	return u.String(), nil
}

// preparePage applies a randomized user-agent and viewport so repeated
// visits do not present an identical fingerprint.
func preparePage(page *rod.Page) error {
	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: randomUserAgent()}); err != nil {
		return fmt.Errorf("set user agent: %w", err)
	}
	vp := randomViewport()
	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             vp.Width,
		Height:            vp.Height,
		DeviceScaleFactor: 1,
		Mobile:            false,
	}); err != nil {
		return fmt.Errorf("set viewport: %w", err)
	}
	return nil
}

// parseGrid extracts property rows from rendered search UI HTML. The
// grid renders one tr per property with a fixed column order: id,
// owner, type, city, address, assessed, appraised, geo, legal.
func parseGrid(htmlStr string, limit int) ([]model.PropertyRecord, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlStr))
	if err != nil {
		return nil, fmt.Errorf("parse grid html: %w", err)
	}

	records := make([]model.PropertyRecord, 0, limit)
	doc.Find(gridSelector).First().Find("tbody tr").EachWithBreak(func(_ int, row *goquery.Selection) bool {
		if len(records) >= limit {
			return false
		}
		cells := row.Find("td")
		if cells.Length() < 5 {
			return true
		}
		rec := model.PropertyRecord{
			PropertyID:    cellText(cells, 0),
			OwnerName:     cellText(cells, 1),
			PropertyType:  cellText(cells, 2),
			City:          cellText(cells, 3),
			StreetAddress: cellText(cells, 4),
		}
		if rec.PropertyID == "" {
			return true
		}
		if v, ok := scrapeutil.ParseMoney(cellText(cells, 5)); ok {
			rec.AssessedValue = &v
		}
		if v, ok := scrapeutil.ParseMoney(cellText(cells, 6)); ok {
			rec.AppraisedValue = v
		}
		if s := cellText(cells, 7); s != "" {
			rec.GeoID = &s
		}
		if s := cellText(cells, 8); s != "" {
			rec.LegalDescription = &s
		}
		records = append(records, rec)
		return true
	})
	return records, nil
}

func cellText(cells *goquery.Selection, i int) string {
	if i >= cells.Length() {
		return ""
	}
	return strings.TrimSpace(cells.Eq(i).Text())
}

// TokenCapture recovers a bearer token by driving the search UI in a
// real browser and watching the page's own network traffic: the SPA
// attaches its anonymous API token to the search request it fires on
// load. Capture satisfies the token provider's refresh hook.
type TokenCapture struct {
	baseURL    string
	browserURL string
	timeout    time.Duration
	logger     *slog.Logger
}

func NewTokenCapture(baseURL, browserURL string, timeout time.Duration, logger *slog.Logger) *TokenCapture {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &TokenCapture{baseURL: baseURL, browserURL: browserURL, timeout: timeout, logger: logger}
}

// captureProbeTerm triggers a search on page load so the SPA makes an
// authenticated API call worth watching.
const captureProbeTerm = "smith"

func (c *TokenCapture) Capture(ctx context.Context) (string, error) {
	searchURL, err := buildSearchURL(c.baseURL, captureProbeTerm)
	if err != nil {
		return "", err
	}

	browser := rod.New().Context(ctx).Timeout(c.timeout)
	if c.browserURL != "" {
		browser = browser.ControlURL(c.browserURL)
	}
	if err := browser.Connect(); err != nil {
		return "", fmt.Errorf("browser connect: %w", err)
	}
	defer browser.MustClose()

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return "", fmt.Errorf("browser page: %w", err)
	}
	defer page.MustClose()

	if err := preparePage(page); err != nil {
		return "", err
	}

	// Watch outgoing requests for an Authorization header. The watcher
	// must be armed before navigation or the search call races past it.
	var captured string
	wait := page.EachEvent(func(e *proto.NetworkRequestWillBeSent) (stop bool) {
		for name, value := range e.Request.Headers {
			if strings.EqualFold(name, "Authorization") {
				if tok := strings.TrimSpace(value.Str()); tok != "" {
					captured = tok
					return true
				}
			}
		}
		return false
	})

	if err := page.Navigate(searchURL); err != nil {
		return "", fmt.Errorf("navigate: %w", err)
	}
	wait()

	if captured == "" {
		return "", errors.New("no authorization header observed")
	}
	c.logInfo("token_captured", "token_length", len(captured))
	return captured, nil
}

func (c *TokenCapture) logInfo(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Info(msg, args...)
	}
}
