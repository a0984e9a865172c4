package decision_test

import (
	"testing"

	"github.com/veil-waf/cloakgate/internal/decision"
)

func TestMarshalUnmarshalCache_RoundTrips(t *testing.T) {
	streamID := int64(42)
	d := decision.Decision{
		Page:         decision.PageMoney,
		CampaignID:   7,
		StreamID:     &streamID,
		RedirectURL:  "https://example.com/offer",
		RedirectKind: "302",
		Reason:       "human",
		BotScore:     0.12,
	}

	raw, err := decision.MarshalCache(d)
	if err != nil {
		t.Fatalf("MarshalCache: %v", err)
	}

	got, err := decision.UnmarshalCache(raw)
	if err != nil {
		t.Fatalf("UnmarshalCache: %v", err)
	}
	if got.Page != d.Page || got.CampaignID != d.CampaignID || got.RedirectURL != d.RedirectURL ||
		got.RedirectKind != d.RedirectKind || got.Reason != d.Reason || got.BotScore != d.BotScore {
		t.Fatalf("round-tripped decision = %+v, want %+v", got, d)
	}
	if got.StreamID == nil || *got.StreamID != streamID {
		t.Fatalf("StreamID = %v, want %d", got.StreamID, streamID)
	}
	if got.ElapsedMicros != 0 {
		t.Fatalf("ElapsedMicros = %d, want 0 (not part of the cache envelope)", got.ElapsedMicros)
	}
}

func TestUnmarshalCache_InvalidJSON(t *testing.T) {
	if _, err := decision.UnmarshalCache([]byte("not json")); err == nil {
		t.Fatal("expected an error for malformed cache payload")
	}
}

func TestFailed_CarriesSingleAnalyzerFlag(t *testing.T) {
	res := decision.Failed("headless")
	if res.Score != 0 || res.Confidence != 0 {
		t.Fatalf("Failed result = %+v, want zero score/confidence", res)
	}
	if len(res.Flags) != 1 || res.Flags[0] != "analyzer_failed:headless" {
		t.Fatalf("Flags = %v", res.Flags)
	}
}
