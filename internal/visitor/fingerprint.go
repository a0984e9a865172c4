package visitor

// Fingerprint is the structured, browser-collected descriptor body accepted
// on POST, per spec.md §6. Every sub-object is optional; analyzers in
// internal/analyzer pattern-match on presence rather than assuming a fixed
// schema — this is the "dynamic fingerprint object" design note's answer:
// a tagged nested record instead of one giant required schema.
type Fingerprint struct {
	Canvas            *Canvas            `json:"canvas,omitempty"`
	WebGL             *WebGL             `json:"webgl,omitempty"`
	Audio             *Audio             `json:"audio,omitempty"`
	Screen            *Screen            `json:"screen,omitempty"`
	Viewport          *Viewport          `json:"viewport,omitempty"`
	Device            *Device            `json:"device,omitempty"`
	Environment       *Environment       `json:"environment,omitempty"`
	HeadlessDetection *HeadlessDetection `json:"headlessDetection,omitempty"`
	JA3               string             `json:"ja3,omitempty"`
	JA3S              string             `json:"ja3s,omitempty"`
	Behavior          *Behavior          `json:"behavior,omitempty"`
}

type Canvas struct {
	Hash      string `json:"hash,omitempty"`
	Geometry  string `json:"geometry,omitempty"`
	Text      string `json:"text,omitempty"`
	IsBlocked bool   `json:"isBlocked,omitempty"`
	IsEmpty   bool   `json:"isEmpty,omitempty"`
}

type WebGL struct {
	Vendor     string   `json:"vendor,omitempty"`
	Renderer   string   `json:"renderer,omitempty"`
	Version    string   `json:"version,omitempty"`
	Hash       string   `json:"hash,omitempty"`
	Extensions []string `json:"extensions,omitempty"`
}

type Audio struct {
	ContextHash   string  `json:"contextHash,omitempty"`
	OscillatorHash string `json:"oscillatorHash,omitempty"`
	DynamicsHash  string  `json:"dynamicsHash,omitempty"`
	SampleRate    float64 `json:"sampleRate,omitempty"`
	State         string  `json:"state,omitempty"`
}

type Screen struct {
	Width       int     `json:"width,omitempty"`
	Height      int     `json:"height,omitempty"`
	AvailWidth  int     `json:"availWidth,omitempty"`
	AvailHeight int     `json:"availHeight,omitempty"`
	ColorDepth  int     `json:"colorDepth,omitempty"`
	PixelRatio  float64 `json:"pixelRatio,omitempty"`
	Orientation string  `json:"orientation,omitempty"`
}

// Viewport is the browser's visible rendering area (window.innerWidth /
// innerHeight), distinct from Screen's physical display dimensions.
// spec.md §6 doesn't name it in the literal fingerprint shape, but §4.5's
// "viewport larger than screen" consistency check has no field to
// evaluate without it; reconstructed from the standard collector
// convention the same way internal/stream's country normalization was
// reconstructed from a library's documented shape.
type Viewport struct {
	Width  int `json:"width,omitempty"`
	Height int `json:"height,omitempty"`
}

type Device struct {
	HardwareConcurrency int      `json:"hardwareConcurrency,omitempty"`
	MaxTouchPoints      int      `json:"maxTouchPoints,omitempty"`
	DeviceMemory        *float64 `json:"deviceMemory,omitempty"`
}

type Environment struct {
	Timezone       string   `json:"timezone,omitempty"`
	TimezoneOffset int      `json:"timezoneOffset,omitempty"`
	Languages      []string `json:"languages,omitempty"`
	Platform       string   `json:"platform,omitempty"`
	Plugins        []string `json:"plugins,omitempty"`
}

type HeadlessDetection struct {
	IsHeadless bool     `json:"isHeadless,omitempty"`
	Confidence float64  `json:"confidence,omitempty"`
	Detections []string `json:"detections,omitempty"`
}

// Behavior is the optional interaction-metrics sub-object the behavior
// analyzer consumes. Not part of spec.md's literal fingerprint JSON shape
// (§6 lists it as a sibling "behavior sub-object" in §4.5) but transported
// the same way: absent unless the collector sent it.
type Behavior struct {
	MouseCurveLinear      bool    `json:"mouseCurveLinear,omitempty"`
	TypingRhythmVariance  float64 `json:"typingRhythmVariance,omitempty"`
	TypingRateCharsPerSec float64 `json:"typingRateCharsPerSec,omitempty"`
	TimeToFirstInteractMs int     `json:"timeToFirstInteractMs,omitempty"`
	PageHeightPx          int     `json:"pageHeightPx,omitempty"`
	ScrolledPx            int     `json:"scrolledPx,omitempty"`
	FormCompletionMs      int     `json:"formCompletionMs,omitempty"`
	FormFieldCount        int     `json:"formFieldCount,omitempty"`
	FormErrorCount        int     `json:"formErrorCount,omitempty"`
}

// commonHeadlessResolutions lists screen sizes disproportionately produced
// by headless browsers and virtual displays (spec.md §4.5, fingerprint
// analyzer's screen sub-component).
var commonHeadlessResolutions = map[[2]int]struct{}{
	{800, 600}:   {},
	{1024, 768}:  {},
	{1280, 720}:  {},
	{1280, 800}:  {},
	{1920, 1080}: {},
}

// IsCommonHeadlessResolution reports whether (w,h) is a well-known headless
// default.
func IsCommonHeadlessResolution(w, h int) bool {
	_, ok := commonHeadlessResolutions[[2]int{w, h}]
	return ok
}
