// Package terms proposes search terms for the scrape pipeline and mines
// job history for terms worth running again.
package terms

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"countyscrape/internal/dedupe"
	"countyscrape/internal/metrics"
)

// Suggester supplies optimizer hints for upcoming batches.
type Suggester interface {
	Suggest(ctx context.Context, limit int) ([]string, error)
}

type strategy struct {
	name   string
	weight int
	draw   func(r *rand.Rand) string
}

// Weights favor short single words and the surname subsets that yield
// the most records per request. Multi-word composites mostly trip the
// superset rules, so they stay cheap.
var strategies = []strategy{
	{"short-word", 35, func(r *rand.Rand) string { return pick(r, shortWords) }},
	{"last-name", 30, func(r *rand.Rand) string { return pick(r, lastNames) }},
	{"hispanic-surname", 25, func(r *rand.Rand) string { return pick(r, hispanicSurnames) }},
	{"street-name", 20, func(r *rand.Rand) string { return pick(r, streetNames) }},
	{"first-name", 15, func(r *rand.Rand) string { return pick(r, firstNames) }},
	{"vietnamese-surname", 15, func(r *rand.Rand) string { return pick(r, vietnameseSurnames) }},
	{"geo-term", 15, func(r *rand.Rand) string { return pick(r, geoTerms) }},
	{"german-czech-surname", 10, func(r *rand.Rand) string { return pick(r, germanCzechSurnames) }},
	{"neighborhood", 8, func(r *rand.Rand) string { return pick(r, neighborhoods) }},
	{"street-with-suffix", 4, func(r *rand.Rand) string { return pick(r, streetNames) + " " + pick(r, streetSuffixes) }},
	{"property-type", 3, func(r *rand.Rand) string { return pick(r, propertyTypes) }},
	{"business-composite", 2, func(r *rand.Rand) string { return pick(r, lastNames) + " " + pick(r, businessSuffixes) }},
}

var totalStrategyWeight = func() int {
	n := 0
	for _, s := range strategies {
		n += s.weight
	}
	return n
}()

func pick(r *rand.Rand, pool []string) string {
	return pool[r.Intn(len(pool))]
}

// Options tune a Generator. Zero values fall back to the defaults below.
type Options struct {
	OptimizationInterval int           // accepted terms between optimizer calls
	RefreshMaxAge        time.Duration // used-term cache staleness bound
	MaxAttemptsFactor    int           // candidate budget per batch = size * factor
	HintRequest          int           // how many hints to ask the optimizer for
	Seed                 int64         // non-zero pins the random source, for tests
}

// Generator produces batches of deduplicated search terms.
type Generator struct {
	dedupe    *dedupe.Deduplicator
	suggester Suggester
	opts      Options
	logger    *slog.Logger

	mu       sync.Mutex
	rng      *rand.Rand
	hints    []string
	accepted int
}

// NewGenerator wires a Generator to its deduplicator and an optional
// suggester.
func NewGenerator(d *dedupe.Deduplicator, suggester Suggester, opts Options, logger *slog.Logger) *Generator {
	if opts.OptimizationInterval <= 0 {
		opts.OptimizationInterval = 50
	}
	if opts.RefreshMaxAge <= 0 {
		opts.RefreshMaxAge = time.Hour
	}
	if opts.MaxAttemptsFactor <= 0 {
		opts.MaxAttemptsFactor = 10
	}
	if opts.HintRequest <= 0 {
		opts.HintRequest = 30
	}
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Generator{
		dedupe:    d,
		suggester: suggester,
		opts:      opts,
		logger:    logger,
		rng:       rand.New(rand.NewSource(seed)),
	}
}

// NextBatch returns up to size unique terms, optimizer hints first. A
// short batch means the candidate budget ran out before size accepts.
func (g *Generator) NextBatch(ctx context.Context, size int) ([]string, error) {
	if size <= 0 {
		return nil, nil
	}
	if err := g.dedupe.MaybeReload(ctx, g.opts.RefreshMaxAge); err != nil {
		g.logWarn("used_terms_reload_failed", "error", err.Error())
	}
	g.dedupe.ResetBatch()

	g.mu.Lock()
	defer g.mu.Unlock()

	batch := make([]string, 0, size)
	attempts := 0
	budget := size * g.opts.MaxAttemptsFactor

	for len(batch) < size && len(g.hints) > 0 && attempts < budget {
		hint := g.hints[0]
		g.hints = g.hints[1:]
		attempts++
		if v := g.dedupe.Check(hint); v.Accepted {
			g.dedupe.Add(hint)
			batch = append(batch, hint)
			g.accepted++
			metrics.RecordTermGenerated("optimizer-hint")
		}
	}

	for len(batch) < size && attempts < budget {
		if ctx.Err() != nil {
			return batch, ctx.Err()
		}
		s := g.drawStrategy()
		term := s.draw(g.rng)
		attempts++
		if v := g.dedupe.Check(term); v.Accepted {
			g.dedupe.Add(term)
			batch = append(batch, term)
			g.accepted++
			metrics.RecordTermGenerated(s.name)
		}
	}

	stats := g.dedupe.Batch()
	g.logInfo("term_batch_generated",
		"requested", size,
		"generated", len(batch),
		"attempts", attempts,
		"rejected", stats.Total()-stats.Accepted,
	)

	if g.accepted >= g.opts.OptimizationInterval {
		g.refreshHints(ctx)
		g.accepted = 0
	}
	return batch, nil
}

// HintCount reports how many optimizer hints are queued for upcoming
// batches.
func (g *Generator) HintCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.hints)
}

func (g *Generator) drawStrategy() strategy {
	n := g.rng.Intn(totalStrategyWeight)
	for _, s := range strategies {
		n -= s.weight
		if n < 0 {
			return s
		}
	}
	return strategies[len(strategies)-1]
}

// refreshHints is called with g.mu held.
func (g *Generator) refreshHints(ctx context.Context) {
	if g.suggester == nil {
		return
	}
	hints, err := g.suggester.Suggest(ctx, g.opts.HintRequest)
	if err != nil {
		g.logWarn("optimizer_suggest_failed", "error", err.Error())
		return
	}
	g.hints = hints
	g.logInfo("optimizer_hints_loaded", "count", len(hints))
}

func (g *Generator) logInfo(msg string, args ...any) {
	if g.logger != nil {
		g.logger.Info(msg, args...)
	}
}

func (g *Generator) logWarn(msg string, args ...any) {
	if g.logger != nil {
		g.logger.Warn(msg, args...)
	}
}
