package analyzer

import (
	"context"
	"strings"

	"github.com/veil-waf/cloakgate/internal/decision"
	"github.com/veil-waf/cloakgate/internal/visitor"
)

// FingerprintAnalyzer implements spec.md §4.5's fingerprint analyzer.
type FingerprintAnalyzer struct{}

func (FingerprintAnalyzer) Name() string { return NameFingerprint }

var trivialCanvasHashes = map[string]struct{}{
	"0000000000000000": {},
	"1111111111111111": {},
	"ffffffffffffffff": {},
	"":                 {},
}

var suspiciousWebGLRenderers = map[string]string{
	"swiftshader":  "webgl_renderer_swiftshader",
	"llvmpipe":     "webgl_renderer_llvmpipe",
	"mesa offscreen": "webgl_renderer_mesa_offscreen",
	"vmware":       "webgl_renderer_vmware",
	"virtualbox":   "webgl_renderer_virtualbox",
	"brian paul":   "webgl_renderer_brian_paul",
}

func (FingerprintAnalyzer) Analyze(_ context.Context, d visitor.Descriptor) decision.AnalyzerResult {
	fp := d.Fingerprint
	if fp == nil {
		return decision.AnalyzerResult{
			Score: 0.7, Confidence: 0.8,
			Flags: []string{"no_fingerprint_data"},
		}
	}

	var flags []string
	var severities []float64
	presentSubcomponents := 0

	if fp.Canvas != nil {
		presentSubcomponents++
		if fp.Canvas.IsBlocked || fp.Canvas.IsEmpty {
			flags = append(flags, "canvas_blocked_or_empty")
			severities = append(severities, 0.6)
		}
		if _, trivial := trivialCanvasHashes[strings.ToLower(fp.Canvas.Hash)]; trivial {
			flags = append(flags, "canvas_trivial_hash")
			severities = append(severities, 0.65)
		}
	}

	if fp.WebGL != nil {
		presentSubcomponents++
		lowerRenderer := strings.ToLower(fp.WebGL.Renderer)
		for needle, flag := range suspiciousWebGLRenderers {
			if strings.Contains(lowerRenderer, needle) {
				flags = append(flags, flag)
				severities = append(severities, 0.8)
				break
			}
		}
	}

	if fp.Audio != nil {
		presentSubcomponents++
		if fp.Audio.State == "suspended" ||
			(fp.Audio.OscillatorHash != "" && fp.Audio.OscillatorHash == fp.Audio.DynamicsHash) {
			flags = append(flags, "audio_suspended_or_identical_hashes")
			severities = append(severities, 0.55)
		}
	}

	if fp.Screen != nil {
		presentSubcomponents++
		if visitor.IsCommonHeadlessResolution(fp.Screen.Width, fp.Screen.Height) &&
			fp.Screen.Width == fp.Screen.AvailWidth {
			flags = append(flags, "screen_common_headless_resolution")
			severities = append(severities, 0.6)
		}
		if fp.Screen.ColorDepth != 0 && fp.Screen.ColorDepth < 24 {
			flags = append(flags, "screen_low_color_depth")
			severities = append(severities, 0.5)
		}
		if fp.Screen.Orientation == "" {
			flags = append(flags, "screen_missing_orientation")
			severities = append(severities, 0.5)
		}
	}

	if fp.Device != nil {
		presentSubcomponents++
		if fp.Device.HardwareConcurrency == 0 || fp.Device.HardwareConcurrency > 64 {
			flags = append(flags, "device_hardware_concurrency_anomaly")
			severities = append(severities, 0.6)
		}
		if fp.Device.DeviceMemory != nil && (*fp.Device.DeviceMemory == 0 || *fp.Device.DeviceMemory > 64) {
			flags = append(flags, "device_memory_anomaly")
			severities = append(severities, 0.6)
		}
	}

	if fp.Environment != nil {
		presentSubcomponents++
		if strings.EqualFold(fp.Environment.Timezone, "UTC") {
			flags = append(flags, "environment_utc_timezone")
			severities = append(severities, 0.55)
		}
		if len(fp.Environment.Languages) == 1 && fp.Environment.Languages[0] == "en-US" {
			flags = append(flags, "environment_single_default_language")
			severities = append(severities, 0.5)
		}
		if len(fp.Environment.Plugins) == 0 {
			flags = append(flags, "environment_zero_plugins")
			severities = append(severities, 0.5)
		}
		if fp.Environment.Platform == "" {
			flags = append(flags, "environment_unknown_platform")
			severities = append(severities, 0.5)
		}
	}

	if fp.Viewport != nil && fp.Screen != nil &&
		(fp.Viewport.Width > fp.Screen.Width || fp.Viewport.Height > fp.Screen.Height) {
		flags = append(flags, "consistency_viewport_larger_than_screen")
		severities = append(severities, 0.5)
	}

	if fp.Screen != nil && fp.Device != nil && fp.Device.MaxTouchPoints > 0 && fp.Environment != nil {
		if strings.Contains(strings.ToLower(fp.Environment.Platform), "win") ||
			strings.Contains(strings.ToLower(fp.Environment.Platform), "mac") ||
			strings.Contains(strings.ToLower(fp.Environment.Platform), "linux") {
			flags = append(flags, "consistency_touch_capable_desktop_platform")
			severities = append(severities, 0.5)
		}
	}

	score := maxFloat(severities...)

	confidence := 0.85
	const totalSubcomponents = 6
	missing := totalSubcomponents - presentSubcomponents
	if missing > 0 {
		confidence = clamp01(confidence + float64(missing)*0.02)
	}

	return decision.AnalyzerResult{Score: score, Confidence: confidence, Flags: flags}
}
