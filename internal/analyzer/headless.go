package analyzer

import (
	"context"
	"strings"

	"github.com/veil-waf/cloakgate/internal/decision"
	"github.com/veil-waf/cloakgate/internal/visitor"
)

// HeadlessAnalyzer implements spec.md §4.5's headless/automation detector,
// distinct from the generic User-Agent bot check: it specifically hunts
// automation-framework signatures and tries to name the framework.
type HeadlessAnalyzer struct{}

func (HeadlessAnalyzer) Name() string { return NameHeadless }

var headlessUATokens = []string{"headless", "phantomjs", "slimerjs", "htmlunit", "headlesschrome"}

var automationHeaders = []string{
	"x-automation", "x-webdriver", "x-selenium", "x-puppeteer", "x-playwright",
	"webdriver-active", "x-chrome-connected", "x-devtools-emulate-network-conditions-client-id",
}

func (HeadlessAnalyzer) Analyze(_ context.Context, d visitor.Descriptor) decision.AnalyzerResult {
	var flags []string
	indicatorCount := 0
	framework := ""

	lowerUA := strings.ToLower(d.RawUA)
	for _, tok := range headlessUATokens {
		if strings.Contains(lowerUA, tok) {
			flags = append(flags, "headless_ua_token:"+tok)
			indicatorCount++
			if framework == "" {
				framework = classifyFrameworkFromUA(tok)
			}
		}
	}

	for _, h := range automationHeaders {
		if d.Header(h) != "" {
			flags = append(flags, "headless_header:"+h)
			indicatorCount++
			if framework == "" {
				framework = classifyFrameworkFromHeader(h)
			}
		}
	}

	if fp := d.Fingerprint; fp != nil {
		if hd := fp.HeadlessDetection; hd != nil {
			if hd.IsHeadless {
				flags = append(flags, "headless_collector_reported")
				indicatorCount += 2
			}
			for _, det := range hd.Detections {
				flags = append(flags, "headless_detection:"+det)
				indicatorCount++
			}
		}
		if env := fp.Environment; env != nil {
			if strings.EqualFold(env.Timezone, "UTC") {
				indicatorCount++
			}
			if len(env.Languages) == 1 {
				indicatorCount++
			}
			if len(env.Plugins) == 0 {
				indicatorCount++
				flags = append(flags, "headless_missing_plugins")
			}
		}
		if scr := fp.Screen; scr != nil && scr.Width == scr.AvailWidth && scr.Height == scr.AvailHeight {
			indicatorCount++
			flags = append(flags, "headless_screen_equals_avail")
		}
		if strings.Contains(strings.ToLower(lookupRendererOrEmpty(fp)), "swiftshader") ||
			strings.Contains(strings.ToLower(lookupRendererOrEmpty(fp)), "llvmpipe") {
			indicatorCount++
			if framework == "" {
				framework = "generic headless"
			}
		}
	}

	if indicatorCount == 0 {
		return decision.AnalyzerResult{Score: 0, Confidence: 0.5}
	}
	if framework == "" {
		framework = "generic headless"
	}

	score := clamp01(0.5 + float64(indicatorCount)*0.15)
	confidence := clamp01(0.5 + float64(indicatorCount)*0.1)

	return decision.AnalyzerResult{
		Score:      score,
		Confidence: confidence,
		Flags:      flags,
		Details:    map[string]any{"framework": framework, "indicatorCount": indicatorCount},
	}
}

func lookupRendererOrEmpty(fp *visitor.Fingerprint) string {
	if fp.WebGL == nil {
		return ""
	}
	return fp.WebGL.Renderer
}

func classifyFrameworkFromUA(token string) string {
	switch token {
	case "phantomjs":
		return "phantomjs"
	case "slimerjs":
		return "generic headless"
	case "htmlunit":
		return "generic headless"
	default:
		return "generic headless"
	}
}

func classifyFrameworkFromHeader(header string) string {
	switch header {
	case "x-selenium":
		return "selenium"
	case "x-puppeteer":
		return "puppeteer"
	case "x-playwright":
		return "playwright"
	default:
		return "generic headless"
	}
}
