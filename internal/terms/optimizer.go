package terms

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"countyscrape/internal/model"
	"countyscrape/internal/scrapeutil"
)

// HistoryStore reads aggregated job history.
type HistoryStore interface {
	TermHistory(ctx context.Context, minRuns, limit int) ([]model.TermStats, error)
	HistoricalTerms(ctx context.Context) ([]string, error)
}

// OptimizerPolicy bounds which terms count as high performers.
type OptimizerPolicy struct {
	MinEfficiency      float64
	MinSuccessRate     float64
	RecentDays         int
	HighPerformerLimit int
	SuggestionLimit    int
}

// DefaultOptimizerPolicy matches the tuned production thresholds.
func DefaultOptimizerPolicy() OptimizerPolicy {
	return OptimizerPolicy{
		MinEfficiency:      5.0,
		MinSuccessRate:     0.5,
		RecentDays:         1,
		HighPerformerLimit: 30,
		SuggestionLimit:    20,
	}
}

// Optimizer ranks historical terms and mines them for new candidates.
// It is advisory: the generator still deduplicates everything it
// returns.
type Optimizer struct {
	store  HistoryStore
	policy OptimizerPolicy
	logger *slog.Logger
	now    func() time.Time
}

// NewOptimizer returns an Optimizer over the given history store.
func NewOptimizer(store HistoryStore, policy OptimizerPolicy, logger *slog.Logger) *Optimizer {
	if policy.HighPerformerLimit <= 0 {
		policy.HighPerformerLimit = 30
	}
	if policy.SuggestionLimit < 0 {
		policy.SuggestionLimit = 0
	}
	if policy.RecentDays <= 0 {
		policy.RecentDays = 1
	}
	return &Optimizer{store: store, policy: policy, logger: logger, now: time.Now}
}

// Suggest returns high-performing historical terms first, then pattern
// suggestions not yet in the historical set. limit caps the
// high-performer stream; zero means the policy limit.
func (o *Optimizer) Suggest(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 || limit > o.policy.HighPerformerLimit {
		limit = o.policy.HighPerformerLimit
	}

	stats, err := o.store.TermHistory(ctx, 1, 0)
	if err != nil {
		return nil, err
	}

	cutoff := o.now().Add(-time.Duration(o.policy.RecentDays) * 24 * time.Hour)
	var performers []model.TermStats
	for _, ts := range stats {
		if ts.Efficiency() < o.policy.MinEfficiency || ts.SuccessRate() < o.policy.MinSuccessRate {
			continue
		}
		if ts.LastUsedAt != nil && ts.LastUsedAt.After(cutoff) {
			continue
		}
		performers = append(performers, ts)
	}
	sort.SliceStable(performers, func(i, j int) bool {
		ei, ej := performers[i].Efficiency(), performers[j].Efficiency()
		if ei != ej {
			return ei > ej
		}
		return performers[i].Term < performers[j].Term
	})
	if len(performers) > limit {
		performers = performers[:limit]
	}

	historical, err := o.store.HistoricalTerms(ctx)
	if err != nil {
		return nil, err
	}
	used := make(map[string]struct{}, len(historical))
	for _, t := range historical {
		used[scrapeutil.NormalizeTerm(t)] = struct{}{}
	}

	out := make([]string, 0, len(performers)+o.policy.SuggestionLimit)
	for _, p := range performers {
		out = append(out, scrapeutil.NormalizeTerm(p.Term))
	}
	suggestions := mineSuggestions(performers, used, o.policy.SuggestionLimit)
	out = append(out, suggestions...)

	o.logInfo("optimizer_suggest",
		"high_performers", len(performers),
		"suggestions", len(suggestions),
	)
	return out, nil
}

// mineSuggestions scans the vocabulary pool for words that share a
// prefix, a suffix family or a length bucket with the top performers,
// skipping anything already in the historical set. Prefix matches rank
// first, then suffixes, then lengths.
func mineSuggestions(performers []model.TermStats, used map[string]struct{}, limit int) []string {
	if limit <= 0 || len(performers) == 0 {
		return nil
	}

	type pattern struct {
		prefix string
		suffix string
		length int
	}
	var patterns []pattern
	for _, p := range performers {
		term := scrapeutil.NormalizeTerm(p.Term)
		if strings.ContainsRune(term, ' ') || len(term) < 4 {
			continue
		}
		pat := pattern{prefix: term[:3], length: len(term)}
		if len(term) >= 5 {
			pat.suffix = term[len(term)-3:]
		}
		patterns = append(patterns, pat)
	}
	if len(patterns) == 0 {
		return nil
	}

	chosen := make(map[string]struct{})
	var out []string
	add := func(w string) bool {
		if _, ok := used[w]; ok {
			return false
		}
		if _, ok := chosen[w]; ok {
			return false
		}
		chosen[w] = struct{}{}
		out = append(out, w)
		return len(out) >= limit
	}

	for _, w := range suggestionPool {
		for _, pat := range patterns {
			if strings.HasPrefix(w, pat.prefix) {
				if add(w) {
					return out
				}
				break
			}
		}
	}
	for _, w := range suggestionPool {
		for _, pat := range patterns {
			if pat.suffix != "" && strings.HasSuffix(w, pat.suffix) {
				if add(w) {
					return out
				}
				break
			}
		}
	}
	for _, w := range suggestionPool {
		for _, pat := range patterns {
			if len(w) == pat.length {
				if add(w) {
					return out
				}
				break
			}
		}
	}
	return out
}

func (o *Optimizer) logInfo(msg string, args ...any) {
	if o.logger != nil {
		o.logger.Info(msg, args...)
	}
}
