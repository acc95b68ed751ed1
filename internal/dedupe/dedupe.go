// Package dedupe decides whether a candidate search term is worth
// scraping. The upstream full-text match already returns every record a
// shorter term would, so supersets of known terms only burn quota.
package dedupe

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"countyscrape/internal/metrics"
	"countyscrape/internal/scrapeutil"
)

// Reason classifies a rejection.
type Reason string

const (
	ReasonExactDuplicate    Reason = "exact-duplicate"
	ReasonTooCommon         Reason = "too-common"
	ReasonBusinessSuperset  Reason = "business-superset"
	ReasonTwoWordSuperset   Reason = "two-word-superset"
	ReasonMultiWordSuperset Reason = "multi-word-superset"
)

// Verdict is the outcome of a single check. Reason is empty on accept.
type Verdict struct {
	Accepted bool
	Reason   Reason
}

// BatchStats counts outcomes since the last ResetBatch.
type BatchStats struct {
	Accepted int
	Rejected map[Reason]int
}

// Total is the number of checks in the batch.
func (b BatchStats) Total() int {
	n := b.Accepted
	for _, c := range b.Rejected {
		n += c
	}
	return n
}

// Policy toggles the superset rules. Exact-duplicate and too-common
// checks always run.
type Policy struct {
	BusinessSuperset  bool
	TwoWordSuperset   bool
	MultiWordSuperset bool
}

// DefaultPolicy enables every rule.
func DefaultPolicy() Policy {
	return Policy{BusinessSuperset: true, TwoWordSuperset: true, MultiWordSuperset: true}
}

// TermSource loads the authoritative set of terms ever enqueued.
type TermSource interface {
	HistoricalTerms(ctx context.Context) ([]string, error)
}

// Trailing tokens that mark a company-style composite. Matched by
// prefix, so "propert" covers Property and Properties.
var businessSuffixPrefixes = []string{
	"llc", "inc", "corp", "ltd", "trust", "holding",
	"propert", "partner", "develop", "company", "real", "assoc",
}

// Terms that match too much of the county to ever finish a scrape.
var tooCommonTerms = map[string]struct{}{
	"the": {}, "and": {}, "of": {}, "for": {}, "at": {},
	"st": {}, "dr": {}, "ave": {}, "rd": {}, "ln": {},
	"tx": {}, "texas": {}, "austin": {}, "county": {},
	"unit": {}, "lot": {}, "block": {},
}

// Deduplicator owns the in-memory used-term set. It is the single
// writer: terms enter through Add and bulk reloads, never from
// elsewhere.
type Deduplicator struct {
	mu         sync.RWMutex
	used       map[string]struct{}
	batch      BatchStats
	lastReload time.Time

	source TermSource
	policy Policy
	logger *slog.Logger
}

// New returns a Deduplicator with an empty set. Call Reload to seed it
// from the job store.
func New(source TermSource, policy Policy, logger *slog.Logger) *Deduplicator {
	return &Deduplicator{
		used:   make(map[string]struct{}),
		batch:  BatchStats{Rejected: make(map[Reason]int)},
		source: source,
		policy: policy,
		logger: logger,
	}
}

// Reload replaces the used set with the historical set from the store.
func (d *Deduplicator) Reload(ctx context.Context) error {
	if d.source == nil {
		return nil
	}
	terms, err := d.source.HistoricalTerms(ctx)
	if err != nil {
		return err
	}
	used := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		if norm := scrapeutil.NormalizeTerm(t); norm != "" {
			used[norm] = struct{}{}
		}
	}
	d.mu.Lock()
	d.used = used
	d.lastReload = time.Now()
	d.mu.Unlock()
	if d.logger != nil {
		d.logger.Info("used_terms_reloaded", "count", len(used))
	}
	return nil
}

// MaybeReload reloads when the cache is older than maxAge.
func (d *Deduplicator) MaybeReload(ctx context.Context, maxAge time.Duration) error {
	d.mu.RLock()
	stale := time.Since(d.lastReload) >= maxAge
	d.mu.RUnlock()
	if !stale {
		return nil
	}
	return d.Reload(ctx)
}

// Add marks a term as used. Called on accept and when a term is
// enqueued out of band.
func (d *Deduplicator) Add(term string) {
	norm := scrapeutil.NormalizeTerm(term)
	if norm == "" {
		return
	}
	d.mu.Lock()
	d.used[norm] = struct{}{}
	d.mu.Unlock()
}

// Contains reports whether the normalized term is in the used set.
func (d *Deduplicator) Contains(term string) bool {
	norm := scrapeutil.NormalizeTerm(term)
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.used[norm]
	return ok
}

// Size is the number of terms in the used set.
func (d *Deduplicator) Size() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.used)
}

// ResetBatch zeroes the per-batch counters.
func (d *Deduplicator) ResetBatch() {
	d.mu.Lock()
	d.batch = BatchStats{Rejected: make(map[Reason]int)}
	d.mu.Unlock()
}

// Batch returns a copy of the counters since the last ResetBatch.
func (d *Deduplicator) Batch() BatchStats {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := BatchStats{Accepted: d.batch.Accepted, Rejected: make(map[Reason]int, len(d.batch.Rejected))}
	for r, c := range d.batch.Rejected {
		out.Rejected[r] = c
	}
	return out
}

// Check evaluates the rules in order and returns the first match.
// Counters are updated; the used set is not, so a later Add is required
// on accept.
func (d *Deduplicator) Check(term string) Verdict {
	norm := scrapeutil.NormalizeTerm(term)
	tokens := scrapeutil.Tokens(norm)

	verdict := d.evaluate(norm, tokens)

	d.mu.Lock()
	if verdict.Accepted {
		d.batch.Accepted++
	} else {
		d.batch.Rejected[verdict.Reason]++
	}
	d.mu.Unlock()
	if !verdict.Accepted {
		metrics.RecordDedupeRejection(string(verdict.Reason))
	}
	return verdict
}

func (d *Deduplicator) evaluate(norm string, tokens []string) Verdict {
	if norm == "" {
		return Verdict{Reason: ReasonTooCommon}
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if _, ok := d.used[norm]; ok {
		return Verdict{Reason: ReasonExactDuplicate}
	}

	if len(norm) == 1 {
		return Verdict{Reason: ReasonTooCommon}
	}
	if _, ok := tooCommonTerms[norm]; ok {
		return Verdict{Reason: ReasonTooCommon}
	}

	if d.policy.BusinessSuperset && len(tokens) >= 2 && isBusinessSuffix(tokens[len(tokens)-1]) {
		base := strings.Join(tokens[:len(tokens)-1], " ")
		if _, ok := d.used[base]; ok {
			return Verdict{Reason: ReasonBusinessSuperset}
		}
	}

	if d.policy.TwoWordSuperset && len(tokens) == 2 {
		if _, ok := d.used[tokens[0]]; ok {
			return Verdict{Reason: ReasonTwoWordSuperset}
		}
		if _, ok := d.used[tokens[1]]; ok {
			return Verdict{Reason: ReasonTwoWordSuperset}
		}
	}

	if d.policy.MultiWordSuperset && len(tokens) >= 3 {
		// Any run of adjacent tokens shorter than the whole term.
		for width := len(tokens) - 1; width >= 1; width-- {
			for start := 0; start+width <= len(tokens); start++ {
				sub := strings.Join(tokens[start:start+width], " ")
				if _, ok := d.used[sub]; ok {
					return Verdict{Reason: ReasonMultiWordSuperset}
				}
			}
		}
	}

	return Verdict{Accepted: true}
}

func isBusinessSuffix(token string) bool {
	for _, prefix := range businessSuffixPrefixes {
		if strings.HasPrefix(token, prefix) {
			return true
		}
	}
	return false
}
