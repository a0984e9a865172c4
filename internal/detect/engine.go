// Package detect implements the Detection Engine (component C6, spec.md
// §4.6): an in-process LRU of recent outcomes, parallel analyzer fan-out
// with a join, weighted combine, threshold classification, and a fixed
// primary-reason tie-break. Grounded on the teacher's use of
// golang.org/x/sync/errgroup for bounded parallel work and
// hashicorp/golang-lru/v2 for the bounded outcome cache (both carried from
// the teacher's go.mod), generalized from request-scoped caching into the
// six-analyzer join spec.md names.
package detect

import (
	"context"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/veil-waf/cloakgate/internal/analyzer"
	"github.com/veil-waf/cloakgate/internal/config"
	"github.com/veil-waf/cloakgate/internal/decision"
	"github.com/veil-waf/cloakgate/internal/visitor"
)

const (
	lruCapacity = 10_000
	lruTTL      = time.Hour

	// analyzerScoreFloor is the "per-analyzer floor" spec.md §4.6's
	// primary-reason selection references.
	analyzerScoreFloor = 0.8

	// degradedFailureThreshold is the "three or more fail" rule.
	degradedFailureThreshold = 3
)

// tieBreakOrder is the fixed ordering spec.md §4.6 mandates: "headless >
// userAgent > network > fingerprint > headers > behavior".
var tieBreakOrder = []string{
	analyzer.NameHeadless,
	analyzer.NameUserAgent,
	analyzer.NameNetwork,
	analyzer.NameFingerprint,
	analyzer.NameHeaders,
	analyzer.NameBehavior,
}

type cacheEntry struct {
	outcome  decision.DetectionOutcome
	storedAt time.Time
}

// Engine is the Detection Engine.
type Engine struct {
	analyzers []analyzer.Analyzer
	weights   config.AnalyzerWeights
	bot       float64
	suspicious float64
	cache     *lru.Cache[string, cacheEntry]
	log       *slog.Logger
}

// New builds an Engine over the fixed analyzer bank.
func New(analyzers []analyzer.Analyzer, weights config.AnalyzerWeights, botThreshold, suspiciousThreshold float64, log *slog.Logger) *Engine {
	cache, err := lru.New[string, cacheEntry](lruCapacity)
	if err != nil {
		// Only fails for a non-positive capacity, which lruCapacity never is.
		panic(err)
	}
	return &Engine{
		analyzers:  analyzers,
		weights:    weights.Normalized(),
		bot:        botThreshold,
		suspicious: suspiciousThreshold,
		cache:      cache,
		log:        log,
	}
}

// cacheKey is (IP, raw UA, fingerprint hash or sentinel), joined with "|".
func cacheKey(d visitor.Descriptor) string {
	fpHash := d.HashHex
	if fpHash == "" {
		fpHash = "no-fingerprint"
	}
	return d.RemoteIP + "|" + d.RawUA + "|" + fpHash
}

// Detect runs the full engine: LRU lookup, analyzer fan-out on miss,
// weighted combine, threshold classification, primary-reason tie-break.
func (e *Engine) Detect(ctx context.Context, d visitor.Descriptor) decision.DetectionOutcome {
	key := cacheKey(d)
	if entry, ok := e.cache.Get(key); ok && time.Since(entry.storedAt) < lruTTL {
		return entry.outcome
	}

	results := e.runAnalyzers(ctx, d)
	outcome := e.combine(results)
	if ctx.Err() != nil {
		outcome.Flags = append(outcome.Flags, "detection_timed_out")
	}

	e.cache.Add(key, cacheEntry{outcome: outcome, storedAt: time.Now()})
	return outcome
}

// runAnalyzers fans out every analyzer in parallel and waits on a join.
// Per spec.md §4.6/§7, a failed analyzer never fails the engine: it is
// replaced with decision.Failed(name) and counted toward the degraded
// threshold.
func (e *Engine) runAnalyzers(ctx context.Context, d visitor.Descriptor) map[string]decision.AnalyzerResult {
	results := make(map[string]decision.AnalyzerResult, len(e.analyzers))
	resultsCh := make(chan struct {
		name   string
		result decision.AnalyzerResult
	}, len(e.analyzers))

	g, gctx := errgroup.WithContext(ctx)
	for _, a := range e.analyzers {
		a := a
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					e.log.Error("detect: analyzer panicked", "analyzer", a.Name(), "panic", r)
					resultsCh <- struct {
						name   string
						result decision.AnalyzerResult
					}{a.Name(), decision.Failed(a.Name())}
				}
			}()
			select {
			case <-gctx.Done():
				resultsCh <- struct {
					name   string
					result decision.AnalyzerResult
				}{a.Name(), decision.Failed(a.Name())}
				return nil
			default:
			}
			res := a.Analyze(gctx, d)
			resultsCh <- struct {
				name   string
				result decision.AnalyzerResult
			}{a.Name(), res}
			return nil
		})
	}
	_ = g.Wait()
	close(resultsCh)

	for entry := range resultsCh {
		results[entry.name] = entry.result
	}
	return results
}

func (e *Engine) weightOf(name string) float64 {
	switch name {
	case analyzer.NameUserAgent:
		return e.weights.UserAgent
	case analyzer.NameHeaders:
		return e.weights.Headers
	case analyzer.NameNetwork:
		return e.weights.Network
	case analyzer.NameFingerprint:
		return e.weights.Fingerprint
	case analyzer.NameHeadless:
		return e.weights.Headless
	case analyzer.NameBehavior:
		return e.weights.Behavior
	default:
		return 0
	}
}

func (e *Engine) combine(results map[string]decision.AnalyzerResult) decision.DetectionOutcome {
	var weightedScore float64
	var flags []string
	scores := make(map[string]float64, len(results))
	failures := 0

	for name, r := range results {
		weightedScore += r.Score * e.weightOf(name)
		scores[name] = r.Score
		flags = append(flags, prefixFlags(name, r.Flags)...)
		if isFailureFlag(r.Flags) {
			failures++
		}
	}

	if failures >= degradedFailureThreshold {
		e.log.Warn("detect: engine degraded", "failures", failures)
		return decision.DetectionOutcome{
			IsBot:         false,
			Confidence:    0,
			PrimaryReason: "detection_degraded",
			Scores:        scores,
			Flags:         flags,
		}
	}

	isBot := weightedScore >= e.bot
	isSuspicious := weightedScore >= e.suspicious

	reason, kind := e.primaryReason(results, isBot, isSuspicious)

	confidence := 0.0
	if r, ok := results[reason]; ok {
		confidence = r.Confidence
	}

	return decision.DetectionOutcome{
		IsBot:         isBot,
		Confidence:    confidence,
		Kind:          kind,
		PrimaryReason: reason,
		Scores:        scores,
		Flags:         flags,
	}
}

// primaryReason picks the reason per spec.md §4.6's fixed tie-break:
// headless if present; else the highest-scoring analyzer at or above the
// floor (equal scores go to the earlier name in tieBreakOrder); else a
// classification-derived fallback reason.
func (e *Engine) primaryReason(results map[string]decision.AnalyzerResult, isBot, isSuspicious bool) (reason, kind string) {
	if r, ok := results[analyzer.NameHeadless]; ok && r.Score >= analyzerScoreFloor {
		return analyzer.NameHeadless, "headless"
	}

	best, bestScore := "", 0.0
	for _, name := range tieBreakOrder {
		if r, ok := results[name]; ok && r.Score >= analyzerScoreFloor && r.Score > bestScore {
			best, bestScore = name, r.Score
		}
	}
	if best != "" {
		return best, ""
	}

	switch {
	case isBot:
		return "unknown_bot", "unknown_bot"
	case isSuspicious:
		return "suspicious", ""
	default:
		return "human", ""
	}
}

func prefixFlags(analyzerName string, flags []string) []string {
	out := make([]string, len(flags))
	for i, f := range flags {
		out[i] = analyzerName + ":" + f
	}
	return out
}

func isFailureFlag(flags []string) bool {
	for _, f := range flags {
		if len(f) >= len("analyzer_failed:") && f[:len("analyzer_failed:")] == "analyzer_failed:" {
			return true
		}
	}
	return false
}
