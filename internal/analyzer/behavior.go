package analyzer

import (
	"context"

	"github.com/veil-waf/cloakgate/internal/decision"
	"github.com/veil-waf/cloakgate/internal/visitor"
)

// BehaviorAnalyzer implements spec.md §4.5's optional interaction-metrics
// analyzer. Absent data is neutral, not suspicious: the behavior
// sub-object is only ever collected by JS-capable clients, so its absence
// is the normal case for GET-only visits.
type BehaviorAnalyzer struct{}

func (BehaviorAnalyzer) Name() string { return NameBehavior }

func (BehaviorAnalyzer) Analyze(_ context.Context, d visitor.Descriptor) decision.AnalyzerResult {
	if d.Fingerprint == nil || d.Fingerprint.Behavior == nil {
		return decision.AnalyzerResult{Score: 0, Confidence: 0.5}
	}
	b := d.Fingerprint.Behavior

	var flags []string
	var severities []float64

	if b.MouseCurveLinear {
		flags = append(flags, "behavior_linear_mouse_curve")
		severities = append(severities, 0.6)
	}
	if b.TypingRhythmVariance == 0 && b.TypingRateCharsPerSec > 0 {
		flags = append(flags, "behavior_zero_variance_typing")
		severities = append(severities, 0.6)
	}
	if b.TypingRateCharsPerSec > 25 {
		flags = append(flags, "behavior_superhuman_typing_rate")
		severities = append(severities, 0.7)
	}
	if b.TimeToFirstInteractMs > 0 && b.TimeToFirstInteractMs < 100 {
		flags = append(flags, "behavior_instant_interaction")
		severities = append(severities, 0.55)
	}
	if b.PageHeightPx > 2000 && b.ScrolledPx == 0 {
		flags = append(flags, "behavior_no_scroll_on_long_page")
		severities = append(severities, 0.5)
	}
	if b.FormFieldCount > 0 && b.FormErrorCount == 0 && b.FormCompletionMs > 0 && b.FormCompletionMs < 500 {
		flags = append(flags, "behavior_perfect_instant_form_completion")
		severities = append(severities, 0.65)
	}

	if len(severities) == 0 {
		return decision.AnalyzerResult{Score: 0, Confidence: 0.6}
	}

	return decision.AnalyzerResult{
		Score:      maxFloat(severities...),
		Confidence: 0.7,
		Flags:      flags,
	}
}
