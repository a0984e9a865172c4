package threatintel_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"testing"

	"github.com/veil-waf/cloakgate/internal/store"
	"github.com/veil-waf/cloakgate/internal/threatintel"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeProvider struct {
	name       string
	weight     float64
	score      float64
	reliable   bool
	categories []string
	err        error
}

func (p fakeProvider) Name() string    { return p.name }
func (p fakeProvider) Weight() float64 { return p.weight }
func (p fakeProvider) Query(_ context.Context, _ net.IP) (float64, bool, []string, error) {
	return p.score, p.reliable, p.categories, p.err
}

func TestLookup_PrivateIPShortCircuits(t *testing.T) {
	a := threatintel.New(nil, store.NewMemory(), threatintel.FallbackAllow, 60, 10000, discardLogger())
	res := a.Lookup(context.Background(), net.ParseIP("10.0.0.1"))
	if res.Reason != "private_or_reserved" {
		t.Fatalf("Reason = %q, want private_or_reserved", res.Reason)
	}
	if res.Score != 0 {
		t.Fatalf("Score = %v, want 0", res.Score)
	}
}

func TestLookup_NilIP(t *testing.T) {
	a := threatintel.New(nil, store.NewMemory(), threatintel.FallbackAllow, 60, 10000, discardLogger())
	res := a.Lookup(context.Background(), nil)
	if res.Reason != "invalid_ip" {
		t.Fatalf("Reason = %q, want invalid_ip", res.Reason)
	}
}

func TestLookup_NoProvidersFallbackAllow(t *testing.T) {
	a := threatintel.New(nil, store.NewMemory(), threatintel.FallbackAllow, 60, 10000, discardLogger())
	res := a.Lookup(context.Background(), net.ParseIP("198.51.100.1"))
	if res.Score != 0 {
		t.Fatalf("Score = %v, want 0 under fallback allow", res.Score)
	}
}

func TestLookup_NoProvidersFallbackBlock(t *testing.T) {
	providers := []threatintel.Provider{fakeProvider{name: "p1", weight: 1, err: errors.New("down")}}
	a := threatintel.New(providers, store.NewMemory(), threatintel.FallbackBlock, 60, 10000, discardLogger())
	res := a.Lookup(context.Background(), net.ParseIP("198.51.100.1"))
	if res.Score != 0.6 {
		t.Fatalf("Score = %v, want 0.6 under fallback block (no provider responded)", res.Score)
	}
}

func TestLookup_WeightedCombineAcrossProviders(t *testing.T) {
	providers := []threatintel.Provider{
		fakeProvider{name: "high", weight: 1, score: 1.0, reliable: true},
		fakeProvider{name: "low", weight: 1, score: 0.0, reliable: true},
	}
	a := threatintel.New(providers, store.NewMemory(), threatintel.FallbackAllow, 60, 10000, discardLogger())
	res := a.Lookup(context.Background(), net.ParseIP("198.51.100.2"))
	if res.Score != 0.5 {
		t.Fatalf("Score = %v, want 0.5 (equal weight mean of 1.0 and 0.0)", res.Score)
	}
}

func TestLookup_UnreliableResponseHalvesWeight(t *testing.T) {
	providers := []threatintel.Provider{
		fakeProvider{name: "reliable", weight: 1, score: 1.0, reliable: true},
		fakeProvider{name: "unreliable", weight: 1, score: 0.0, reliable: false},
	}
	a := threatintel.New(providers, store.NewMemory(), threatintel.FallbackAllow, 60, 10000, discardLogger())
	res := a.Lookup(context.Background(), net.ParseIP("198.51.100.3"))
	// weighted mean: (1.0*1 + 0.0*0.5) / (1 + 0.5) = 0.667
	if res.Score < 0.66 || res.Score > 0.67 {
		t.Fatalf("Score = %v, want ~0.667 (unreliable response halves its weight)", res.Score)
	}
}

func TestLookup_CachesResultForSameIP(t *testing.T) {
	calls := 0
	providers := []threatintel.Provider{countingProvider{name: "p1", calls: &calls}}
	a := threatintel.New(providers, store.NewMemory(), threatintel.FallbackAllow, 60, 10000, discardLogger())

	ip := net.ParseIP("198.51.100.4")
	a.Lookup(context.Background(), ip)
	a.Lookup(context.Background(), ip)

	if calls != 1 {
		t.Fatalf("provider queried %d times, want 1 (second Lookup should hit the cache)", calls)
	}
}

type countingProvider struct {
	name  string
	calls *int
}

func (p countingProvider) Name() string    { return p.name }
func (p countingProvider) Weight() float64 { return 1 }
func (p countingProvider) Query(_ context.Context, _ net.IP) (float64, bool, []string, error) {
	*p.calls++
	return 0.3, true, nil, nil
}
