// Package decision holds the value types shared across the detection
// pipeline's later stages (C6-C11): AnalyzerResult, DetectionOutcome, and
// the final Decision. Kept in their own package so internal/cache,
// internal/detect, internal/compose, internal/responder, and internal/sink
// can all depend on the same shapes without importing one another.
package decision

import "encoding/json"

// AnalyzerResult is spec.md §3's per-analyzer value: a score, confidence,
// flags, and free-form detail.
type AnalyzerResult struct {
	Score      float64
	Confidence float64
	Flags      []string
	Details    map[string]any
}

// Failed builds the replacement result spec.md §7's AnalyzerFailure
// taxonomy entry mandates: score 0, confidence 0, a single flag naming the
// analyzer.
func Failed(name string) AnalyzerResult {
	return AnalyzerResult{Flags: []string{"analyzer_failed:" + name}}
}

// DetectionOutcome is spec.md §3's DetectionOutcome value.
type DetectionOutcome struct {
	IsBot         bool
	Confidence    float64
	Kind          string // nullable in spec terms; empty string means absent
	PrimaryReason string
	Scores        map[string]float64 // per-analyzer score, keyed by analyzer name
	Flags         []string           // analyzer-prefixed tokens, order preserved
}

// Page enumerates the two rendering destinations spec.md §3/§4.9 define.
type Page string

const (
	PageMoney Page = "money"
	PageSafe  Page = "safe"
)

// Decision is spec.md §3's terminal value: emitted, possibly cached, never
// mutated afterwards.
type Decision struct {
	Page         Page
	CampaignID   int64
	StreamID     *int64
	RedirectURL  string
	RedirectKind string
	Reason       string
	BotScore     float64
	ElapsedMicros int64
}

// cacheEnvelope is the stored form of a Decision in the Decision Cache:
// every field except ElapsedMicros, which is per-request timing and is
// not cached.
type cacheEnvelope struct {
	Page         Page   `json:"page"`
	CampaignID   int64  `json:"campaignId"`
	StreamID     *int64 `json:"streamId,omitempty"`
	RedirectURL  string `json:"redirectUrl"`
	RedirectKind string `json:"redirectKind"`
	Reason       string `json:"reason"`
	BotScore     float64 `json:"botScore"`
}

// MarshalCache serializes d for storage in the Decision Cache.
func MarshalCache(d Decision) ([]byte, error) {
	return json.Marshal(cacheEnvelope{
		Page:         d.Page,
		CampaignID:   d.CampaignID,
		StreamID:     d.StreamID,
		RedirectURL:  d.RedirectURL,
		RedirectKind: d.RedirectKind,
		Reason:       d.Reason,
		BotScore:     d.BotScore,
	})
}

// UnmarshalCache is the inverse of MarshalCache; ElapsedMicros is left 0
// since a cached decision was not computed by this request.
func UnmarshalCache(raw []byte) (Decision, error) {
	var env cacheEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Decision{}, err
	}
	return Decision{
		Page:         env.Page,
		CampaignID:   env.CampaignID,
		StreamID:     env.StreamID,
		RedirectURL:  env.RedirectURL,
		RedirectKind: env.RedirectKind,
		Reason:       env.Reason,
		BotScore:     env.BotScore,
	}, nil
}
