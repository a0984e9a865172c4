package analyzer

import (
	"context"
	"strings"

	"github.com/veil-waf/cloakgate/internal/decision"
	"github.com/veil-waf/cloakgate/internal/visitor"
)

// HeaderAnalyzer implements spec.md §4.5's header analyzer.
type HeaderAnalyzer struct{}

func (HeaderAnalyzer) Name() string { return NameHeaders }

// suspiciousHeaderWeights mirrors spec.md §4.5's literal weight table.
var suspiciousHeaderWeights = map[string]float64{
	"x-forwarded-for":    1.5,
	"x-real-ip":          1.5,
	"x-originating-ip":   1.5,
	"x-forwarded-host":   1.5,
	"via":                1.5,
	"forwarded":          1.5,
	"x-proxy-connection": 2.0,
	"x-automation":       3.0,
	"x-bot":              3.0,
	"x-crawler":          3.0,
	"x-debug":            1.0,
	"x-test":             1.0,
}

const maxSuspiciousSum = 1.5 + 1.5 + 1.5 + 1.5 + 1.5 + 1.5 + 2.0 + 3.0 + 3.0 + 3.0 + 1.0 + 1.0

var baselineHeaders = []string{"accept", "accept-language", "accept-encoding", "user-agent"}

func (HeaderAnalyzer) Analyze(_ context.Context, d visitor.Descriptor) decision.AnalyzerResult {
	var weightedSum float64
	var flags []string

	for header, weight := range suspiciousHeaderWeights {
		if header == "user-agent" {
			continue
		}
		if d.Header(header) != "" {
			weightedSum += weight
			flags = append(flags, "header_present:"+header)
		}
	}

	var missing int
	for _, h := range baselineHeaders {
		if h == "user-agent" {
			if d.RawUA == "" {
				missing++
				flags = append(flags, "header_missing:user-agent")
			}
			continue
		}
		if d.Header(h) == "" {
			missing++
			flags = append(flags, "header_missing:"+h)
		}
	}
	missingFraction := float64(missing) / float64(len(baselineHeaders))

	if inconsistent, flag := detectInconsistency(d); inconsistent {
		flags = append(flags, flag)
		weightedSum += 1.0
	}

	score := clamp01(weightedSum/(maxSuspiciousSum+1.5)*0.7 + missingFraction*0.3)

	confidence := 0.5
	if score > 0 {
		confidence = 0.75
	}

	return decision.AnalyzerResult{Score: score, Confidence: confidence, Flags: flags}
}

// detectInconsistency flags the classic "UA says Chrome but
// X-Requested-With says Firefox" mismatch spec.md §4.5 names.
func detectInconsistency(d visitor.Descriptor) (bool, string) {
	lowerUA := strings.ToLower(d.RawUA)
	xrw := strings.ToLower(d.Header("x-requested-with"))
	if xrw == "" {
		return false, ""
	}
	uaBrowsers := []string{"chrome", "firefox", "safari", "edge"}
	for _, ua := range uaBrowsers {
		if strings.Contains(lowerUA, ua) {
			for _, xr := range uaBrowsers {
				if xr != ua && strings.Contains(xrw, xr) {
					return true, "header_ua_mismatch"
				}
			}
		}
	}
	return false, ""
}
