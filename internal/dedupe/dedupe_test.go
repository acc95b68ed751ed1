package dedupe

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeTermSource struct {
	terms []string
	err   error
	calls int
}

func (f *fakeTermSource) HistoricalTerms(ctx context.Context) ([]string, error) {
	f.calls++
	return f.terms, f.err
}

func seeded(terms ...string) *Deduplicator {
	d := New(nil, DefaultPolicy(), nil)
	for _, t := range terms {
		d.Add(t)
	}
	return d
}

func TestExactDuplicate(t *testing.T) {
	d := seeded("Grove")

	for _, term := range []string{"Grove", "grove", "  GROVE  ", "\tgrove\n"} {
		v := d.Check(term)
		if v.Accepted || v.Reason != ReasonExactDuplicate {
			t.Fatalf("Check(%q) = %+v, want exact-duplicate", term, v)
		}
	}
	if v := d.Check("grover"); !v.Accepted {
		t.Fatalf("Check(grover) = %+v, want accept", v)
	}
}

func TestTooCommon(t *testing.T) {
	d := seeded()

	for _, term := range []string{"a", "X", "the", "Austin", "ave", ""} {
		v := d.Check(term)
		if v.Accepted || v.Reason != ReasonTooCommon {
			t.Fatalf("Check(%q) = %+v, want too-common", term, v)
		}
	}
	if v := d.Check("avery"); !v.Accepted {
		t.Fatalf("Check(avery) = %+v, want accept", v)
	}
}

func TestBusinessSuperset(t *testing.T) {
	d := seeded("acme")

	for _, term := range []string{"Acme LLC", "acme properties", "ACME Holdings", "acme realty"} {
		v := d.Check(term)
		if v.Accepted || v.Reason != ReasonBusinessSuperset {
			t.Fatalf("Check(%q) = %+v, want business-superset", term, v)
		}
	}

	// Base name not in the set: the composite stands on its own.
	if v := d.Check("zenith llc"); !v.Accepted {
		t.Fatalf("Check(zenith llc) = %+v, want accept", v)
	}
}

func TestBusinessSupersetWinsOverTwoWord(t *testing.T) {
	d := seeded("smith")
	v := d.Check("smith llc")
	if v.Accepted || v.Reason != ReasonBusinessSuperset {
		t.Fatalf("Check(smith llc) = %+v, want business-superset before two-word", v)
	}
}

func TestTwoWordSuperset(t *testing.T) {
	d := seeded("smith")

	for _, term := range []string{"smith grove", "cedar smith"} {
		v := d.Check(term)
		if v.Accepted || v.Reason != ReasonTwoWordSuperset {
			t.Fatalf("Check(%q) = %+v, want two-word-superset", term, v)
		}
	}
	if v := d.Check("cedar grove"); !v.Accepted {
		t.Fatalf("Check(cedar grove) = %+v, want accept", v)
	}
}

func TestMultiWordSuperset(t *testing.T) {
	d := seeded("oak hill")

	v := d.Check("west oak hill estates")
	if v.Accepted || v.Reason != ReasonMultiWordSuperset {
		t.Fatalf("Check = %+v, want multi-word-superset", v)
	}

	// Tokens present but not adjacent in the candidate.
	if v := d.Check("oak creek hill"); !v.Accepted {
		t.Fatalf("Check(oak creek hill) = %+v, want accept", v)
	}
}

func TestPolicyDisablesSupersetRules(t *testing.T) {
	d := New(nil, Policy{}, nil)
	d.Add("oak hill")
	d.Add("smith")
	d.Add("acme")

	for _, term := range []string{"west oak hill estates", "smith grove", "acme llc"} {
		if v := d.Check(term); !v.Accepted {
			t.Fatalf("Check(%q) = %+v, want accept with rules off", term, v)
		}
	}
}

func TestAddThenCheckRejectsWithinBatch(t *testing.T) {
	d := seeded()

	if v := d.Check("walnut"); !v.Accepted {
		t.Fatalf("first check = %+v, want accept", v)
	}
	d.Add("walnut")
	if v := d.Check("Walnut"); v.Accepted || v.Reason != ReasonExactDuplicate {
		t.Fatalf("second check = %+v, want exact-duplicate", v)
	}
}

func TestBatchCounters(t *testing.T) {
	d := seeded("grove", "smith")

	d.Check("grove")       // exact
	d.Check("the")         // too-common
	d.Check("smith grove") // two-word
	d.Check("walnut")      // accept
	d.Check("pecan")       // accept

	b := d.Batch()
	if b.Accepted != 2 {
		t.Fatalf("accepted = %d, want 2", b.Accepted)
	}
	if b.Rejected[ReasonExactDuplicate] != 1 || b.Rejected[ReasonTooCommon] != 1 || b.Rejected[ReasonTwoWordSuperset] != 1 {
		t.Fatalf("rejected = %+v", b.Rejected)
	}
	if b.Total() != 5 {
		t.Fatalf("total = %d, want 5", b.Total())
	}

	d.ResetBatch()
	if b := d.Batch(); b.Total() != 0 {
		t.Fatalf("batch after reset = %+v", b)
	}
}

func TestReloadReplacesSet(t *testing.T) {
	src := &fakeTermSource{terms: []string{"Grove", "OAK HILL"}}
	d := New(src, DefaultPolicy(), nil)
	d.Add("stale")

	if err := d.Reload(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if d.Contains("stale") {
		t.Fatal("reload kept a term not in the source")
	}
	if !d.Contains("grove") || !d.Contains("oak hill") {
		t.Fatal("reload dropped source terms")
	}
	if d.Size() != 2 {
		t.Fatalf("size = %d, want 2", d.Size())
	}
}

func TestReloadErrorKeepsSet(t *testing.T) {
	src := &fakeTermSource{err: errors.New("db down")}
	d := New(src, DefaultPolicy(), nil)
	d.Add("keep")

	if err := d.Reload(context.Background()); err == nil {
		t.Fatal("expected reload error")
	}
	if !d.Contains("keep") {
		t.Fatal("failed reload wiped the set")
	}
}

func TestMaybeReloadHonorsAge(t *testing.T) {
	src := &fakeTermSource{terms: []string{"grove"}}
	d := New(src, DefaultPolicy(), nil)

	if err := d.MaybeReload(context.Background(), time.Hour); err != nil {
		t.Fatalf("first reload: %v", err)
	}
	if src.calls != 1 {
		t.Fatalf("calls = %d, want 1", src.calls)
	}

	// Fresh cache: no second trip to the store.
	if err := d.MaybeReload(context.Background(), time.Hour); err != nil {
		t.Fatalf("second reload: %v", err)
	}
	if src.calls != 1 {
		t.Fatalf("calls = %d, want still 1", src.calls)
	}

	if err := d.MaybeReload(context.Background(), 0); err != nil {
		t.Fatalf("forced reload: %v", err)
	}
	if src.calls != 2 {
		t.Fatalf("calls = %d, want 2", src.calls)
	}
}
