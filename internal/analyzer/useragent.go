package analyzer

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/veil-waf/cloakgate/internal/analyzer/data"
	"github.com/veil-waf/cloakgate/internal/decision"
	"github.com/veil-waf/cloakgate/internal/visitor"
)

// UserAgentAnalyzer implements spec.md §4.5's User-Agent analyzer.
type UserAgentAnalyzer struct{}

func (UserAgentAnalyzer) Name() string { return NameUserAgent }

var browserVersionPattern = regexp.MustCompile(`(?i)(chrome|firefox|safari|edge)/(\d+)`)

func (UserAgentAnalyzer) Analyze(_ context.Context, d visitor.Descriptor) decision.AnalyzerResult {
	ua := d.RawUA
	lower := strings.ToLower(ua)

	if ua == "" || len(ua) < 10 {
		return decision.AnalyzerResult{
			Score: 1.0, Confidence: 0.95,
			Flags: []string{"ua_absent_or_too_short"},
		}
	}

	for _, token := range data.BotLexicon() {
		if strings.Contains(lower, token) {
			return decision.AnalyzerResult{
				Score: 1.0, Confidence: 0.95,
				Flags:   []string{"ua_bot_lexicon_match"},
				Details: map[string]any{"matched": token},
			}
		}
	}

	if spoofed, flag := detectSpoofing(lower); spoofed {
		return decision.AnalyzerResult{
			Score: 0.9, Confidence: 0.85,
			Flags: []string{flag},
		}
	}

	if outdated, flag := detectOutdatedBrowser(lower); outdated {
		return decision.AnalyzerResult{
			Score: 0.6, Confidence: 0.7,
			Flags: []string{flag},
		}
	}

	if d.Browser.Name == "" {
		return decision.AnalyzerResult{
			Score: 0.7, Confidence: 0.6,
			Flags: []string{"ua_browser_unidentifiable"},
		}
	}

	return decision.AnalyzerResult{Score: 0, Confidence: 0.6}
}

// detectSpoofing flags the heuristics spec.md §4.5 names: "mozilla" without
// either gecko-family token, both chrome and firefox present together, or
// an implausible version number.
func detectSpoofing(lower string) (bool, string) {
	if strings.Contains(lower, "mozilla") &&
		!strings.Contains(lower, "gecko") && !strings.Contains(lower, "applewebkit") {
		return true, "ua_spoofing_mozilla_without_engine"
	}
	if strings.Contains(lower, "chrome") && strings.Contains(lower, "firefox") {
		return true, "ua_spoofing_chrome_and_firefox"
	}
	for _, m := range browserVersionPattern.FindAllStringSubmatch(lower, -1) {
		// The Safari/ token carries a WebKit build number (537, 605, ...),
		// not a browser version, so it is not checked against the ceiling.
		if m[1] == "safari" {
			continue
		}
		if v, err := strconv.Atoi(m[2]); err == nil && v > 500 {
			return true, "ua_spoofing_impossible_version"
		}
	}
	return false, ""
}

// outdatedFloors mirrors spec.md §4.5's configurable thresholds.
var outdatedFloors = map[string]int{
	"chrome":  90,
	"firefox": 88,
	"safari":  14,
	"edge":    90,
}

func detectOutdatedBrowser(lower string) (bool, string) {
	for _, m := range browserVersionPattern.FindAllStringSubmatch(lower, -1) {
		browser := strings.ToLower(m[1])
		v, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		if floor, ok := outdatedFloors[browser]; ok && v < floor {
			return true, "ua_outdated_" + browser
		}
	}
	return false, ""
}
