package analyzer_test

import (
	"context"
	"testing"

	"github.com/veil-waf/cloakgate/internal/analyzer"
	"github.com/veil-waf/cloakgate/internal/visitor"
)

func descriptorWithHeaders(ua string, headers map[string]string) visitor.Descriptor {
	return visitor.Descriptor{RawUA: ua, Headers: headers}
}

func TestHeaderAnalyzer_CleanBrowserHeaders(t *testing.T) {
	a := analyzer.HeaderAnalyzer{}
	d := descriptorWithHeaders("some-ua", map[string]string{
		"accept":          "text/html",
		"accept-language": "en-US",
		"accept-encoding": "gzip",
	})
	res := a.Analyze(context.Background(), d)
	if res.Score != 0 {
		t.Fatalf("Score = %v, want 0", res.Score)
	}
}

func TestHeaderAnalyzer_SuspiciousHeadersPresent(t *testing.T) {
	a := analyzer.HeaderAnalyzer{}
	d := descriptorWithHeaders("some-ua", map[string]string{
		"accept":          "text/html",
		"accept-language": "en-US",
		"accept-encoding": "gzip",
		"x-automation":    "1",
		"x-bot":           "1",
	})
	res := a.Analyze(context.Background(), d)
	if res.Score <= 0 {
		t.Fatalf("Score = %v, want > 0", res.Score)
	}
	found := 0
	for _, f := range res.Flags {
		if f == "header_present:x-automation" || f == "header_present:x-bot" {
			found++
		}
	}
	if found != 2 {
		t.Fatalf("expected both suspicious header flags, got %v", res.Flags)
	}
}

func TestHeaderAnalyzer_MissingBaselineHeaders(t *testing.T) {
	a := analyzer.HeaderAnalyzer{}
	d := descriptorWithHeaders("", nil)
	res := a.Analyze(context.Background(), d)
	if res.Score <= 0 {
		t.Fatalf("Score = %v, want > 0 for all-missing baseline headers", res.Score)
	}
}

func TestHeaderAnalyzer_UAHeaderMismatch(t *testing.T) {
	a := analyzer.HeaderAnalyzer{}
	d := descriptorWithHeaders("Mozilla/5.0 Chrome/120.0 Safari/537.36", map[string]string{
		"accept":            "text/html",
		"accept-language":   "en-US",
		"accept-encoding":   "gzip",
		"x-requested-with":  "org.mozilla.firefox",
	})
	res := a.Analyze(context.Background(), d)
	var sawMismatch bool
	for _, f := range res.Flags {
		if f == "header_ua_mismatch" {
			sawMismatch = true
		}
	}
	if !sawMismatch {
		t.Fatalf("expected header_ua_mismatch flag, got %v", res.Flags)
	}
}
