// Package analyzer implements the Analyzer Bank (component C5, spec.md
// §4.5): six independent analyzers, each pure over a VisitorDescriptor
// except the network analyzer, which may consult the Threat-Intel
// provider. Grounded on the teacher's internal/classify package layout —
// one file per detector, a shared lexicon loaded via embed.FS — adapted
// from request/header heuristics to the six named analyzers spec.md
// enumerates.
package analyzer

import (
	"context"

	"github.com/veil-waf/cloakgate/internal/decision"
	"github.com/veil-waf/cloakgate/internal/visitor"
)

// Names match the weight keys in internal/config and the tie-break order
// in internal/detect.
const (
	NameUserAgent   = "userAgent"
	NameHeaders     = "headers"
	NameNetwork     = "network"
	NameFingerprint = "fingerprint"
	NameHeadless    = "headless"
	NameBehavior    = "behavior"
)

// Analyzer scores one dimension of a VisitorDescriptor.
type Analyzer interface {
	Name() string
	Analyze(ctx context.Context, d visitor.Descriptor) decision.AnalyzerResult
}

// Bank is the full fixed set of six analyzers the Detection Engine fans
// out to.
func Bank(network *NetworkAnalyzer) []Analyzer {
	return []Analyzer{
		UserAgentAnalyzer{},
		HeaderAnalyzer{},
		network,
		FingerprintAnalyzer{},
		HeadlessAnalyzer{},
		BehaviorAnalyzer{},
	}
}

// clamp01 bounds a score/confidence to the documented [0,1] range.
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func maxFloat(vals ...float64) float64 {
	m := 0.0
	for _, v := range vals {
		if v > m {
			m = v
		}
	}
	return m
}
