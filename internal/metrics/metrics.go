package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Simple Prometheus-style metrics for the scrape pipeline.
// This is intentionally minimal and in-memory only.

var (
	mu             sync.RWMutex
	requestsTotal  = make(map[reqKey]int64)
	latencyMsSum   = make(map[latKey]int64)
	latencyMsCount = make(map[latKey]int64)

	scrapeJobsTotal       = make(map[string]int64)
	scrapeAttemptsTotal   = make(map[string]int64)
	propertiesTotal       = make(map[string]int64)
	dedupeRejections      = make(map[string]int64)
	termsGenerated        = make(map[string]int64)
	pageSizeFallbacks     int64
	domFallbacksTotal     = make(map[string]int64)
	tokenRefreshTotal     = make(map[string]int64)
	snapshotsClearedTotal int64
)

type reqKey struct {
	Method string
	Path   string
	Status int
}

type latKey struct {
	Method string
	Path   string
}

// RecordRequest increments request counter and records latency.
func RecordRequest(method, path string, status int, latencyMs int64) {
	mu.Lock()
	defer mu.Unlock()

	rk := reqKey{Method: method, Path: path, Status: status}
	requestsTotal[rk]++

	lk := latKey{Method: method, Path: path}
	latencyMsSum[lk] += latencyMs
	latencyMsCount[lk]++
}

// RecordJob counts a terminal job transition (completed or failed).
func RecordJob(status string) {
	mu.Lock()
	defer mu.Unlock()
	scrapeJobsTotal[status]++
}

// RecordScrapeAttempt counts one executor attempt by outcome
// (api-success, transport, parse, auth, cancelled).
func RecordScrapeAttempt(outcome string) {
	mu.Lock()
	defer mu.Unlock()
	scrapeAttemptsTotal[outcome]++
}

// RecordUpserts counts property writes split into inserted vs updated.
func RecordUpserts(inserted, updated int) {
	mu.Lock()
	defer mu.Unlock()
	if inserted > 0 {
		propertiesTotal["inserted"] += int64(inserted)
	}
	if updated > 0 {
		propertiesTotal["updated"] += int64(updated)
	}
}

// RecordDedupeRejection counts a candidate rejected by the deduplicator.
func RecordDedupeRejection(reason string) {
	mu.Lock()
	defer mu.Unlock()
	dedupeRejections[reason]++
}

// RecordTermGenerated counts an accepted term by the strategy that
// produced it.
func RecordTermGenerated(strategy string) {
	mu.Lock()
	defer mu.Unlock()
	termsGenerated[strategy]++
}

// RecordPageSizeFallback counts a step down the adaptive page-size
// sequence after a truncated or unparseable response.
func RecordPageSizeFallback() {
	mu.Lock()
	defer mu.Unlock()
	pageSizeFallbacks++
}

// RecordDOMFallback counts a DOM fallback run by outcome.
func RecordDOMFallback(outcome string) {
	mu.Lock()
	defer mu.Unlock()
	domFallbacksTotal[outcome]++
}

// RecordTokenRefresh counts token refresh attempts.
func RecordTokenRefresh(success bool) {
	mu.Lock()
	defer mu.Unlock()
	s := "false"
	if success {
		s = "true"
	}
	tokenRefreshTotal[s]++
}

// RecordSnapshotsCleared counts failure snapshots dropped by retention.
func RecordSnapshotsCleared(n int64) {
	if n <= 0 {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	snapshotsClearedTotal += n
}

func writeLabeled(b *strings.Builder, name, label string, m map[string]int64) {
	var keys []string
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(b, "%s{%s=\"%s\"} %d\n", name, label, k, m[k])
	}
}

// Export returns Prometheus-style metrics text.
func Export() string {
	mu.RLock()
	defer mu.RUnlock()

	var b strings.Builder

	b.WriteString("# HELP countyscrape_http_requests_total Total HTTP requests\n")
	b.WriteString("# TYPE countyscrape_http_requests_total counter\n")

	// Sort keys for stable output
	var reqKeys []reqKey
	for k := range requestsTotal {
		reqKeys = append(reqKeys, k)
	}
	sort.Slice(reqKeys, func(i, j int) bool {
		if reqKeys[i].Method != reqKeys[j].Method {
			return reqKeys[i].Method < reqKeys[j].Method
		}
		if reqKeys[i].Path != reqKeys[j].Path {
			return reqKeys[i].Path < reqKeys[j].Path
		}
		return reqKeys[i].Status < reqKeys[j].Status
	})

	for _, k := range reqKeys {
		v := requestsTotal[k]
		fmt.Fprintf(&b, "countyscrape_http_requests_total{method=\"%s\",path=\"%s\",status=\"%d\"} %d\n",
			k.Method, k.Path, k.Status, v)
	}

	b.WriteString("# HELP countyscrape_http_request_duration_ms_sum Total request duration in milliseconds\n")
	b.WriteString("# TYPE countyscrape_http_request_duration_ms_sum counter\n")
	b.WriteString("# HELP countyscrape_http_request_duration_ms_count Request count for latency metric\n")
	b.WriteString("# TYPE countyscrape_http_request_duration_ms_count counter\n")

	var latKeys []latKey
	for k := range latencyMsSum {
		latKeys = append(latKeys, k)
	}
	sort.Slice(latKeys, func(i, j int) bool {
		if latKeys[i].Method != latKeys[j].Method {
			return latKeys[i].Method < latKeys[j].Method
		}
		return latKeys[i].Path < latKeys[j].Path
	})

	for _, k := range latKeys {
		sum := latencyMsSum[k]
		cnt := latencyMsCount[k]
		fmt.Fprintf(&b, "countyscrape_http_request_duration_ms_sum{method=\"%s\",path=\"%s\"} %d\n",
			k.Method, k.Path, sum)
		fmt.Fprintf(&b, "countyscrape_http_request_duration_ms_count{method=\"%s\",path=\"%s\"} %d\n",
			k.Method, k.Path, cnt)
	}

	b.WriteString("# HELP countyscrape_scrape_jobs_total Terminal scrape jobs by status\n")
	b.WriteString("# TYPE countyscrape_scrape_jobs_total counter\n")
	writeLabeled(&b, "countyscrape_scrape_jobs_total", "status", scrapeJobsTotal)

	b.WriteString("# HELP countyscrape_scrape_attempts_total Executor attempts by outcome\n")
	b.WriteString("# TYPE countyscrape_scrape_attempts_total counter\n")
	writeLabeled(&b, "countyscrape_scrape_attempts_total", "outcome", scrapeAttemptsTotal)

	b.WriteString("# HELP countyscrape_properties_total Property rows written by kind\n")
	b.WriteString("# TYPE countyscrape_properties_total counter\n")
	writeLabeled(&b, "countyscrape_properties_total", "kind", propertiesTotal)

	b.WriteString("# HELP countyscrape_dedupe_rejections_total Candidate terms rejected by reason\n")
	b.WriteString("# TYPE countyscrape_dedupe_rejections_total counter\n")
	writeLabeled(&b, "countyscrape_dedupe_rejections_total", "reason", dedupeRejections)

	b.WriteString("# HELP countyscrape_terms_generated_total Accepted terms by strategy\n")
	b.WriteString("# TYPE countyscrape_terms_generated_total counter\n")
	writeLabeled(&b, "countyscrape_terms_generated_total", "strategy", termsGenerated)

	b.WriteString("# HELP countyscrape_page_size_fallbacks_total Steps down the adaptive page-size sequence\n")
	b.WriteString("# TYPE countyscrape_page_size_fallbacks_total counter\n")
	fmt.Fprintf(&b, "countyscrape_page_size_fallbacks_total %d\n", pageSizeFallbacks)

	b.WriteString("# HELP countyscrape_dom_fallbacks_total DOM fallback runs by outcome\n")
	b.WriteString("# TYPE countyscrape_dom_fallbacks_total counter\n")
	writeLabeled(&b, "countyscrape_dom_fallbacks_total", "outcome", domFallbacksTotal)

	b.WriteString("# HELP countyscrape_token_refresh_total Token refresh attempts\n")
	b.WriteString("# TYPE countyscrape_token_refresh_total counter\n")
	writeLabeled(&b, "countyscrape_token_refresh_total", "success", tokenRefreshTotal)

	b.WriteString("# HELP countyscrape_retention_snapshots_cleared_total Failure snapshots cleared by retention\n")
	b.WriteString("# TYPE countyscrape_retention_snapshots_cleared_total counter\n")
	fmt.Fprintf(&b, "countyscrape_retention_snapshots_cleared_total %d\n", snapshotsClearedTotal)

	return b.String()
}
