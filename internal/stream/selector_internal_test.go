package stream

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/veil-waf/cloakgate/internal/geo"
	"github.com/veil-waf/cloakgate/internal/pgstore"
	"github.com/veil-waf/cloakgate/internal/visitor"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// primeCache seeds the selector's per-campaign cache directly, so
// SelectStream never touches the database — these tests exercise the
// targeting-rule evaluation and weighted-pick logic in isolation.
func primeCache(s *Selector, campaignID int64, streams []pgstore.StreamWithRules, nowUnix int64) {
	s.mu.Lock()
	s.cache[campaignID] = cacheEntry{streams: streams, expireAt: nowUnix + cacheTTLSeconds}
	s.mu.Unlock()
}

func TestSelectStream_NoEligibleStreamsReturnsNil(t *testing.T) {
	s := New(nil, discardLogger())
	primeCache(s, 1, []pgstore.StreamWithRules{
		{Stream: pgstore.Stream{ID: 1, Active: false, Weight: 10}},
	}, 1000)

	picked, err := s.SelectStream(context.Background(), 1, visitor.Descriptor{}, 1000, 16)
	if err != nil {
		t.Fatalf("SelectStream: %v", err)
	}
	if picked != nil {
		t.Fatalf("picked = %+v, want nil", picked)
	}
}

func TestSelectStream_IncludeRuleMustMatch(t *testing.T) {
	s := New(nil, discardLogger())
	streams := []pgstore.StreamWithRules{
		{
			Stream: pgstore.Stream{ID: 1, Active: true, Weight: 100},
			Rules: []pgstore.TargetingRule{
				{RuleType: pgstore.RuleDevice, Operator: pgstore.OpEquals, Value: "mobile", Include: true},
			},
		},
	}
	primeCache(s, 1, streams, 1000)

	desktop := visitor.Descriptor{Browser: visitor.BrowserInfo{Device: "desktop"}}
	picked, _ := s.SelectStream(context.Background(), 1, desktop, 1000, 16)
	if picked != nil {
		t.Fatalf("picked = %+v, want nil (include rule must match)", picked)
	}

	mobile := visitor.Descriptor{Browser: visitor.BrowserInfo{Device: "mobile"}}
	picked, _ = s.SelectStream(context.Background(), 1, mobile, 1000, 16)
	if picked == nil || picked.ID != 1 {
		t.Fatalf("picked = %v, want stream 1", picked)
	}
}

func TestSelectStream_ExcludeRuleMustNotMatch(t *testing.T) {
	s := New(nil, discardLogger())
	streams := []pgstore.StreamWithRules{
		{
			Stream: pgstore.Stream{ID: 1, Active: true, Weight: 100},
			Rules: []pgstore.TargetingRule{
				{RuleType: pgstore.RuleDevice, Operator: pgstore.OpEquals, Value: "mobile", Include: false},
			},
		},
	}
	primeCache(s, 1, streams, 1000)

	mobile := visitor.Descriptor{Browser: visitor.BrowserInfo{Device: "mobile"}}
	picked, _ := s.SelectStream(context.Background(), 1, mobile, 1000, 16)
	if picked != nil {
		t.Fatalf("picked = %+v, want nil (exclude rule matched)", picked)
	}

	desktop := visitor.Descriptor{Browser: visitor.BrowserInfo{Device: "desktop"}}
	picked, _ = s.SelectStream(context.Background(), 1, desktop, 1000, 16)
	if picked == nil || picked.ID != 1 {
		t.Fatalf("picked = %v, want stream 1", picked)
	}
}

func TestSelectStream_WeightedPickIsDeterministicPerMinute(t *testing.T) {
	s := New(nil, discardLogger())
	streams := []pgstore.StreamWithRules{
		{Stream: pgstore.Stream{ID: 1, Active: true, Weight: 1}},
		{Stream: pgstore.Stream{ID: 2, Active: true, Weight: 1}},
	}
	primeCache(s, 1, streams, 1000)

	d := visitor.Descriptor{HashHex: "fp-fixed"}
	first, err := s.SelectStream(context.Background(), 1, d, 1000, 16)
	if err != nil {
		t.Fatalf("SelectStream: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := s.SelectStream(context.Background(), 1, d, 1000, 16)
		if err != nil {
			t.Fatalf("SelectStream: %v", err)
		}
		if again.ID != first.ID {
			t.Fatalf("pick changed across repeated calls within the same minute: %d vs %d", again.ID, first.ID)
		}
	}
}

func TestSelectStream_MalformedRegexNeverMatches(t *testing.T) {
	s := New(nil, discardLogger())
	streams := []pgstore.StreamWithRules{
		{
			Stream: pgstore.Stream{ID: 1, Active: true, Weight: 100},
			Rules: []pgstore.TargetingRule{
				{RuleType: pgstore.RuleBrowser, Operator: pgstore.OpRegex, Value: "(unclosed", Include: true},
			},
		},
	}
	primeCache(s, 1, streams, 1000)

	picked, err := s.SelectStream(context.Background(), 1, visitor.Descriptor{}, 1000, 16)
	if err != nil {
		t.Fatalf("SelectStream: %v", err)
	}
	if picked != nil {
		t.Fatalf("picked = %+v, want nil for a malformed regex include rule", picked)
	}
}

func TestNormalizeCountry(t *testing.T) {
	if got := normalizeCountry(nil); got != "" {
		t.Fatalf("normalizeCountry(nil) = %q, want empty", got)
	}
	if got := normalizeCountry(&geo.Location{Country: "US"}); got != "US" {
		t.Fatalf("normalizeCountry(US) = %q, want US", got)
	}
}

func TestSeedFor_StableWithinMinuteVariesAcrossMinutes(t *testing.T) {
	a := seedFor(1, "fp", 100)
	b := seedFor(1, "fp", 100)
	c := seedFor(1, "fp", 101)
	if a != b {
		t.Fatalf("seedFor not stable within the same minute: %d vs %d", a, b)
	}
	if a == c {
		t.Fatalf("seedFor did not vary across minutes")
	}
}
