package detect_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/veil-waf/cloakgate/internal/analyzer"
	"github.com/veil-waf/cloakgate/internal/config"
	"github.com/veil-waf/cloakgate/internal/decision"
	"github.com/veil-waf/cloakgate/internal/detect"
	"github.com/veil-waf/cloakgate/internal/visitor"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeAnalyzer returns a fixed AnalyzerResult, or panics/never-returns when
// configured, to exercise the engine's failure and degraded paths without
// depending on the real six-analyzer bank.
type fakeAnalyzer struct {
	name   string
	result decision.AnalyzerResult
	panics bool
}

func (f fakeAnalyzer) Name() string { return f.name }

func (f fakeAnalyzer) Analyze(_ context.Context, _ visitor.Descriptor) decision.AnalyzerResult {
	if f.panics {
		panic("simulated analyzer failure")
	}
	return f.result
}

func equalWeights() config.AnalyzerWeights {
	return config.AnalyzerWeights{
		UserAgent: 1, Headers: 1, Network: 1, Fingerprint: 1, Headless: 1, Behavior: 1,
	}
}

func TestEngine_HumanBelowThresholds(t *testing.T) {
	analyzers := []analyzer.Analyzer{
		fakeAnalyzer{name: analyzer.NameUserAgent, result: decision.AnalyzerResult{Score: 0, Confidence: 0.6}},
		fakeAnalyzer{name: analyzer.NameHeaders, result: decision.AnalyzerResult{Score: 0, Confidence: 0.6}},
	}
	e := detect.New(analyzers, equalWeights(), 0.7, 0.5, discardLogger())

	outcome := e.Detect(context.Background(), visitor.Descriptor{RemoteIP: "198.51.100.1", RawUA: "ua-1"})
	if outcome.IsBot {
		t.Fatalf("IsBot = true, want false")
	}
	if outcome.PrimaryReason != "human" {
		t.Fatalf("PrimaryReason = %q, want human", outcome.PrimaryReason)
	}
}

func TestEngine_HeadlessTakesPriorityInTieBreak(t *testing.T) {
	analyzers := []analyzer.Analyzer{
		fakeAnalyzer{name: analyzer.NameHeadless, result: decision.AnalyzerResult{Score: 0.9, Confidence: 0.9}},
		fakeAnalyzer{name: analyzer.NameUserAgent, result: decision.AnalyzerResult{Score: 0.95, Confidence: 0.95}},
	}
	e := detect.New(analyzers, equalWeights(), 0.2, 0.1, discardLogger())

	outcome := e.Detect(context.Background(), visitor.Descriptor{RemoteIP: "198.51.100.2", RawUA: "ua-2"})
	if outcome.PrimaryReason != "headless" {
		t.Fatalf("PrimaryReason = %q, want headless (fixed tie-break priority)", outcome.PrimaryReason)
	}
	if !outcome.IsBot {
		t.Fatalf("IsBot = false, want true")
	}
}

func TestEngine_DegradedAfterThreeAnalyzerFailures(t *testing.T) {
	analyzers := []analyzer.Analyzer{
		fakeAnalyzer{name: analyzer.NameUserAgent, panics: true},
		fakeAnalyzer{name: analyzer.NameHeaders, panics: true},
		fakeAnalyzer{name: analyzer.NameNetwork, panics: true},
		fakeAnalyzer{name: analyzer.NameBehavior, result: decision.AnalyzerResult{Score: 0.9, Confidence: 0.9}},
	}
	e := detect.New(analyzers, equalWeights(), 0.5, 0.3, discardLogger())

	outcome := e.Detect(context.Background(), visitor.Descriptor{RemoteIP: "198.51.100.3", RawUA: "ua-3"})
	if outcome.PrimaryReason != "detection_degraded" {
		t.Fatalf("PrimaryReason = %q, want detection_degraded", outcome.PrimaryReason)
	}
	if outcome.IsBot {
		t.Fatalf("IsBot = true, want false when degraded")
	}
}

func TestEngine_CachesRepeatedLookups(t *testing.T) {
	calls := 0
	analyzers := []analyzer.Analyzer{
		countingAnalyzer{name: analyzer.NameUserAgent, calls: &calls},
	}
	e := detect.New(analyzers, equalWeights(), 0.7, 0.5, discardLogger())

	d := visitor.Descriptor{RemoteIP: "198.51.100.4", RawUA: "ua-4", HashHex: "fp-4"}
	e.Detect(context.Background(), d)
	e.Detect(context.Background(), d)

	if calls != 1 {
		t.Fatalf("analyzer invoked %d times, want 1 (second Detect should hit the LRU)", calls)
	}
}

type countingAnalyzer struct {
	name  string
	calls *int
}

func (c countingAnalyzer) Name() string { return c.name }

func (c countingAnalyzer) Analyze(_ context.Context, _ visitor.Descriptor) decision.AnalyzerResult {
	*c.calls++
	return decision.AnalyzerResult{Score: 0, Confidence: 0.5}
}
