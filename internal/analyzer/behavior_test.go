package analyzer_test

import (
	"context"
	"testing"

	"github.com/veil-waf/cloakgate/internal/analyzer"
	"github.com/veil-waf/cloakgate/internal/visitor"
)

func TestBehaviorAnalyzer_AbsentIsNeutral(t *testing.T) {
	a := analyzer.BehaviorAnalyzer{}
	res := a.Analyze(context.Background(), visitor.Descriptor{})
	if res.Score != 0 || res.Confidence != 0.5 {
		t.Fatalf("got score=%v confidence=%v, want 0/0.5", res.Score, res.Confidence)
	}
}

func TestBehaviorAnalyzer_LinearMouseCurve(t *testing.T) {
	a := analyzer.BehaviorAnalyzer{}
	d := visitor.Descriptor{Fingerprint: &visitor.Fingerprint{
		Behavior: &visitor.Behavior{MouseCurveLinear: true},
	}}
	res := a.Analyze(context.Background(), d)
	if res.Score != 0.6 {
		t.Fatalf("Score = %v, want 0.6", res.Score)
	}
	if res.Flags[0] != "behavior_linear_mouse_curve" {
		t.Fatalf("Flags = %v", res.Flags)
	}
}

func TestBehaviorAnalyzer_SuperhumanTypingDominatesScore(t *testing.T) {
	a := analyzer.BehaviorAnalyzer{}
	d := visitor.Descriptor{Fingerprint: &visitor.Fingerprint{
		Behavior: &visitor.Behavior{MouseCurveLinear: true, TypingRateCharsPerSec: 40},
	}}
	res := a.Analyze(context.Background(), d)
	if res.Score != 0.7 {
		t.Fatalf("Score = %v, want 0.7 (max severity across flags)", res.Score)
	}
}

func TestBehaviorAnalyzer_NoScrollOnLongPage(t *testing.T) {
	a := analyzer.BehaviorAnalyzer{}
	d := visitor.Descriptor{Fingerprint: &visitor.Fingerprint{
		Behavior: &visitor.Behavior{PageHeightPx: 3000, ScrolledPx: 0},
	}}
	res := a.Analyze(context.Background(), d)
	if res.Score != 0.5 {
		t.Fatalf("Score = %v, want 0.5", res.Score)
	}
}

func TestBehaviorAnalyzer_NoFlagsWhenClean(t *testing.T) {
	a := analyzer.BehaviorAnalyzer{}
	d := visitor.Descriptor{Fingerprint: &visitor.Fingerprint{
		Behavior: &visitor.Behavior{TypingRhythmVariance: 0.4, TypingRateCharsPerSec: 5, PageHeightPx: 1000, ScrolledPx: 400},
	}}
	res := a.Analyze(context.Background(), d)
	if res.Score != 0 || res.Confidence != 0.6 {
		t.Fatalf("got score=%v confidence=%v, want 0/0.6", res.Score, res.Confidence)
	}
}
