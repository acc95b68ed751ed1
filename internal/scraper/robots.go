package scraper

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	robotstxt "github.com/temoto/robotstxt"
)

// RobotsGate answers whether the DOM fallback may drive a path on the
// upstream host. robots.txt is fetched once per process and cached;
// fetch failures fail open so an unreachable robots.txt never blocks
// scraping. Status-code semantics (404 allows all, 5xx disallows all)
// come from the robotstxt library.
type RobotsGate struct {
	baseURL string
	agent   string
	client  *http.Client
	logger  *slog.Logger

	once sync.Once
	data *robotstxt.RobotsData
}

// NewRobotsGate builds a gate for the host of baseURL. An empty agent
// matches the wildcard group.
func NewRobotsGate(baseURL, agent string, timeout time.Duration, logger *slog.Logger) *RobotsGate {
	if agent == "" {
		agent = "*"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RobotsGate{
		baseURL: baseURL,
		agent:   agent,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// Allowed reports whether path may be fetched under the cached robots
// policy. The first call fetches robots.txt; later calls reuse it.
func (g *RobotsGate) Allowed(ctx context.Context, path string) bool {
	g.once.Do(func() { g.fetch(ctx) })
	if g.data == nil {
		return true
	}
	return g.data.FindGroup(g.agent).Test(path)
}

func (g *RobotsGate) fetch(ctx context.Context) {
	base, err := url.Parse(g.baseURL)
	if err != nil {
		g.logWarn("robots_fetch_failed", "base_url", g.baseURL, "error", err.Error())
		return
	}
	robotsURL := &url.URL{Scheme: base.Scheme, Host: base.Host, Path: "/robots.txt"}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL.String(), nil)
	if err != nil {
		g.logWarn("robots_fetch_failed", "url", robotsURL.String(), "error", err.Error())
		return
	}
	req.Header.Set("User-Agent", randomUserAgent())

	resp, err := g.client.Do(req)
	if err != nil {
		g.logWarn("robots_fetch_failed", "url", robotsURL.String(), "error", err.Error())
		return
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		g.logWarn("robots_fetch_failed", "url", robotsURL.String(), "error", err.Error())
		return
	}

	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		g.logWarn("robots_parse_failed", "url", robotsURL.String(), "error", err.Error())
		return
	}
	g.data = data
	g.logInfo("robots_loaded", "url", robotsURL.String(), "status", resp.StatusCode)
}

func (g *RobotsGate) logInfo(msg string, args ...any) {
	if g.logger != nil {
		g.logger.Info(msg, args...)
	}
}

func (g *RobotsGate) logWarn(msg string, args ...any) {
	if g.logger != nil {
		g.logger.Warn(msg, args...)
	}
}
