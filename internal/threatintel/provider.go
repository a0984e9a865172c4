// Package threatintel implements the Threat-Intel Provider (component C4,
// spec.md §4.4): a pluggable set of remote reputation sources consulted in
// parallel subject to per-provider budgets, combined into a single weighted
// result and cached per IP for an hour. Grounded on the Hyper-ZiLLA
// threat_analyzer.go's per-call-site rate limiter + circuit breaker map
// (other_examples), generalized into named Provider implementations behind
// one Aggregator.
package threatintel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/veil-waf/cloakgate/internal/breaker"
	"github.com/veil-waf/cloakgate/internal/store"
)

// Result is the combined reputation result spec.md §4.4 describes.
type Result struct {
	Score      float64  // weighted mean, 0..1
	Categories []string // union across responding providers
	Reason     string
}

// FallbackPolicy controls what Lookup returns when no provider responded.
type FallbackPolicy string

const (
	FallbackAllow FallbackPolicy = "allow" // score 0
	FallbackBlock FallbackPolicy = "block" // treated as suspicious
)

// Provider is one pluggable remote reputation source.
type Provider interface {
	Name() string
	// Weight is this provider's configured weight in [0,1].
	Weight() float64
	// Query performs the remote lookup. Reliable indicates the response
	// passed the provider's own reliability predicate (e.g. "scanned by
	// >= N engines"); unreliable responses are counted at half weight.
	Query(ctx context.Context, ip net.IP) (score float64, reliable bool, categories []string, err error)
}

// budget is a provider's daily/per-minute request allowance, enforced with
// golang.org/x/time/rate the same way the teacher's analyzer bank throttles
// outbound lookups.
type budget struct {
	perMinute *rate.Limiter
	perDay    *rate.Limiter
}

// Aggregator fans a lookup out to every enabled provider in parallel,
// skipping any that are over budget or breaker-open, and combines the
// responses.
type Aggregator struct {
	providers []Provider
	budgets   map[string]*budget
	breakers  map[string]*breaker.Breaker
	store     store.Store
	fallback  FallbackPolicy
	timeout   time.Duration
	log       *slog.Logger
}

// New builds an Aggregator. perMinuteBudget/perDayBudget apply uniformly to
// every provider; per-provider overrides can be added later without
// changing callers.
func New(providers []Provider, s store.Store, fallback FallbackPolicy, perMinuteBudget, perDayBudget int, log *slog.Logger) *Aggregator {
	budgets := make(map[string]*budget, len(providers))
	breakers := make(map[string]*breaker.Breaker, len(providers))
	for _, p := range providers {
		budgets[p.Name()] = &budget{
			perMinute: rate.NewLimiter(rate.Limit(float64(perMinuteBudget)/60.0), perMinuteBudget),
			perDay:    rate.NewLimiter(rate.Every(24*time.Hour/time.Duration(perDayBudget)), perDayBudget),
		}
		breakers[p.Name()] = breaker.Default()
	}
	return &Aggregator{
		providers: providers,
		budgets:   budgets,
		breakers:  breakers,
		store:     s,
		fallback:  fallback,
		timeout:   10 * time.Second,
		log:       log,
	}
}

const cacheTTL = time.Hour

// Lookup resolves ip's reputation. Invalid/private/reserved IPs
// short-circuit to "not malicious" per spec.md §4.4.
func (a *Aggregator) Lookup(ctx context.Context, ip net.IP) Result {
	if ip == nil {
		return Result{Reason: "invalid_ip"}
	}
	if isPrivateOrReserved(ip) {
		return Result{Reason: "private_or_reserved"}
	}

	cacheKey := "cloakgate:threatintel:" + ip.String()
	if raw, err := a.store.Get(ctx, cacheKey); err == nil {
		var cached Result
		if json.Unmarshal([]byte(raw), &cached) == nil {
			return cached
		}
	}

	result := a.queryAll(ctx, ip)

	if raw, err := json.Marshal(result); err == nil {
		_ = a.store.SetTTL(ctx, cacheKey, string(raw), cacheTTL)
	}
	return result
}

type providerResponse struct {
	name       string
	score      float64
	reliable   bool
	categories []string
}

func (a *Aggregator) queryAll(ctx context.Context, ip net.IP) Result {
	lookupCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		responses []providerResponse
	)

	for _, p := range a.providers {
		b := a.budgets[p.Name()]
		cb := a.breakers[p.Name()]

		if !cb.Allow() {
			continue // ProviderBudgetExhausted-equivalent: circuit open, skip
		}
		if !b.perMinute.Allow() || !b.perDay.Allow() {
			continue // over budget: skipped, never fails the lookup
		}

		wg.Add(1)
		go func(p Provider) {
			defer wg.Done()
			score, reliable, categories, err := p.Query(lookupCtx, ip)
			if err != nil {
				cb.RecordFailure()
				a.log.Debug("threatintel: provider query failed", "provider", p.Name(), "error", err)
				return
			}
			cb.RecordSuccess()

			mu.Lock()
			responses = append(responses, providerResponse{
				name: p.Name(), score: score, reliable: reliable, categories: categories,
			})
			mu.Unlock()
		}(p)
	}
	wg.Wait()

	if len(responses) == 0 {
		if a.fallback == FallbackBlock {
			return Result{Score: 0.6, Reason: "no_provider_responded_fallback_block"}
		}
		return Result{Score: 0, Reason: "no_provider_responded_fallback_allow"}
	}

	var weightedSum, weightTotal float64
	catSet := map[string]struct{}{}
	for _, r := range responses {
		w := a.weightOf(r.name)
		if !r.reliable {
			w *= 0.5
		}
		weightedSum += r.score * w
		weightTotal += w
		for _, c := range r.categories {
			catSet[c] = struct{}{}
		}
	}

	var score float64
	if weightTotal > 0 {
		score = weightedSum / weightTotal
	}

	categories := make([]string, 0, len(catSet))
	for c := range catSet {
		categories = append(categories, c)
	}

	return Result{
		Score:      score,
		Categories: categories,
		Reason:     fmt.Sprintf("%d provider(s) responded", len(responses)),
	}
}

func (a *Aggregator) weightOf(name string) float64 {
	for _, p := range a.providers {
		if p.Name() == name {
			return p.Weight()
		}
	}
	return 0
}

func isPrivateOrReserved(ip net.IP) bool {
	return ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsUnspecified()
}
