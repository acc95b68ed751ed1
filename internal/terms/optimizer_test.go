package terms

import (
	"context"
	"errors"
	"testing"
	"time"

	"countyscrape/internal/model"
)

type fakeHistoryStore struct {
	stats []model.TermStats
	terms []string
	err   error
}

func (f *fakeHistoryStore) TermHistory(ctx context.Context, minRuns, limit int) ([]model.TermStats, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.stats, nil
}

func (f *fakeHistoryStore) HistoricalTerms(ctx context.Context) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.terms, nil
}

func TestSuggestReturnsHighPerformerThenSuggestions(t *testing.T) {
	threeDaysAgo := time.Now().Add(-72 * time.Hour)
	store := &fakeHistoryStore{
		stats: []model.TermStats{
			{Term: "Garcia", Runs: 5, RunsWithResults: 5, TotalResults: 10000, LastUsedAt: &threeDaysAgo},
		},
		terms: []string{"garcia"},
	}
	o := NewOptimizer(store, DefaultOptimizerPolicy(), nil)

	got, err := o.Suggest(context.Background(), 5)
	if err != nil {
		t.Fatalf("suggest: %v", err)
	}
	if len(got) == 0 || got[0] != "garcia" {
		t.Fatalf("got = %v, want garcia first", got)
	}

	foundMined := false
	for _, term := range got[1:] {
		if term == "garcia" {
			t.Fatal("historical term repeated in suggestions")
		}
		if term == "garza" {
			foundMined = true
		}
	}
	if !foundMined {
		t.Fatalf("got = %v, want prefix-mined garza among suggestions", got)
	}
}

func TestSuggestExcludesRecentlyUsed(t *testing.T) {
	now := time.Now()
	store := &fakeHistoryStore{
		stats: []model.TermStats{
			{Term: "garcia", Runs: 5, RunsWithResults: 5, TotalResults: 10000, LastUsedAt: &now},
		},
		terms: []string{"garcia"},
	}
	o := NewOptimizer(store, DefaultOptimizerPolicy(), nil)

	got, err := o.Suggest(context.Background(), 5)
	if err != nil {
		t.Fatalf("suggest: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("got = %v, want nothing while the only performer is recent", got)
	}
}

func TestSuggestFiltersByThresholds(t *testing.T) {
	old := time.Now().Add(-48 * time.Hour)
	store := &fakeHistoryStore{
		stats: []model.TermStats{
			// Success rate 1/4: below the 0.5 floor.
			{Term: "dud", Runs: 4, RunsWithResults: 1, TotalResults: 4, LastUsedAt: &old},
			// 2 results per run over 10s: efficiency 0.2.
			{Term: "slow", Runs: 2, RunsWithResults: 2, TotalResults: 4, AvgDurationSecs: 10, LastUsedAt: &old},
			// 50 results per run over 2s: efficiency 25.
			{Term: "star", Runs: 2, RunsWithResults: 2, TotalResults: 100, AvgDurationSecs: 2, LastUsedAt: &old},
		},
		terms: []string{"dud", "slow", "star"},
	}
	o := NewOptimizer(store, DefaultOptimizerPolicy(), nil)

	got, err := o.Suggest(context.Background(), 10)
	if err != nil {
		t.Fatalf("suggest: %v", err)
	}
	if len(got) == 0 || got[0] != "star" {
		t.Fatalf("got = %v, want star first", got)
	}
	for _, term := range got {
		if term == "dud" || term == "slow" {
			t.Fatalf("got = %v, below-threshold term included", got)
		}
	}
}

func TestSuggestOrdersByEfficiencyAndHonorsLimit(t *testing.T) {
	old := time.Now().Add(-48 * time.Hour)
	store := &fakeHistoryStore{
		stats: []model.TermStats{
			{Term: "alpha", Runs: 1, RunsWithResults: 1, TotalResults: 10, LastUsedAt: &old},
			{Term: "bravo", Runs: 1, RunsWithResults: 1, TotalResults: 40, LastUsedAt: &old},
			{Term: "china", Runs: 1, RunsWithResults: 1, TotalResults: 25, LastUsedAt: &old},
		},
		terms: []string{"alpha", "bravo", "china"},
	}
	policy := DefaultOptimizerPolicy()
	policy.SuggestionLimit = 0
	o := NewOptimizer(store, policy, nil)

	got, err := o.Suggest(context.Background(), 2)
	if err != nil {
		t.Fatalf("suggest: %v", err)
	}
	want := []string{"bravo", "china"}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("got = %v, want %v", got, want)
	}
}

func TestSuggestionCapAndHistoricalExclusion(t *testing.T) {
	old := time.Now().Add(-48 * time.Hour)
	policy := DefaultOptimizerPolicy()
	policy.SuggestionLimit = 3
	store := &fakeHistoryStore{
		stats: []model.TermStats{
			{Term: "garcia", Runs: 5, RunsWithResults: 5, TotalResults: 9000, LastUsedAt: &old},
		},
		terms: []string{"garcia", "garza"},
	}
	o := NewOptimizer(store, policy, nil)

	got, err := o.Suggest(context.Background(), 5)
	if err != nil {
		t.Fatalf("suggest: %v", err)
	}
	if len(got) > 1+3 {
		t.Fatalf("got %d terms, want at most 1 performer + 3 suggestions", len(got))
	}
	for _, term := range got[1:] {
		if term == "garza" {
			t.Fatal("suggestion already in the historical set")
		}
	}
}

func TestSuggestPropagatesStoreErrors(t *testing.T) {
	store := &fakeHistoryStore{err: errors.New("db down")}
	o := NewOptimizer(store, DefaultOptimizerPolicy(), nil)
	if _, err := o.Suggest(context.Background(), 5); err == nil {
		t.Fatal("expected error")
	}
}
