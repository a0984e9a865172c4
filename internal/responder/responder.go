// Package responder implements the Responder (component C10, spec.md
// §4.10) and the public HTTP surface (§6) that drives the full per-request
// pipeline C1→C11. Grounded on the teacher's proxy/handler.go Handler
// (holds every collaborator by reference, chi-routed, html.EscapeString
// for untrusted values interpolated into HTML) generalized from reverse
// proxying to the cloaking decision flow.
package responder

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/veil-waf/cloakgate/internal/analyzer"
	"github.com/veil-waf/cloakgate/internal/blacklist"
	"github.com/veil-waf/cloakgate/internal/cache"
	"github.com/veil-waf/cloakgate/internal/campaign"
	"github.com/veil-waf/cloakgate/internal/compose"
	"github.com/veil-waf/cloakgate/internal/decision"
	"github.com/veil-waf/cloakgate/internal/detect"
	"github.com/veil-waf/cloakgate/internal/pgstore"
	"github.com/veil-waf/cloakgate/internal/sink"
	"github.com/veil-waf/cloakgate/internal/stream"
	"github.com/veil-waf/cloakgate/internal/visitor"
)

// reviewer is the optional post-decision advisory classifier
// (internal/llmreview). It is an interface here so the responder package
// does not need to import the Bedrock/Anthropic client stack when async
// review is disabled.
type reviewer interface {
	ReviewAsync(ctx context.Context, desc visitor.Descriptor, outcome decision.DetectionOutcome)
}

// Handler wires every pipeline component (C1-C11) behind the two public
// endpoints spec.md §6 defines.
type Handler struct {
	Extractor *visitor.Extractor
	Cache     *cache.DecisionCache
	Blacklist *blacklist.Checker
	Engine    *detect.Engine
	Campaigns *campaign.Resolver
	Streams   *stream.Selector
	Composer  *compose.Composer
	Sink      *sink.Sink
	Reviewer  reviewer // nil unless ASYNC_REVIEW_ENABLED
	Budget    time.Duration
	Log       *slog.Logger
}

// Routes mounts the public decision endpoint and the programmatic detect
// endpoint onto r.
func (h *Handler) Routes(r chi.Router) {
	r.Options("/{slug}", h.serveOptions)
	r.Get("/{slug}", h.serveDecision)
	r.Post("/{slug}", h.serveDecision)
	r.Post("/detect", h.serveDetect)
}

func (h *Handler) serveOptions(w http.ResponseWriter, r *http.Request) {
	setCORS(w)
	w.WriteHeader(http.StatusNoContent)
}

func setCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
}

// serveDecision is the public cloaking endpoint, ANY /{slug}.
func (h *Handler) serveDecision(w http.ResponseWriter, r *http.Request) {
	setCORS(w)
	start := time.Now()

	ctx, cancel := context.WithTimeout(r.Context(), h.Budget)
	defer cancel()

	slug := chi.URLParam(r, "slug")
	d := h.runPipeline(ctx, slug, r)
	d.ElapsedMicros = time.Since(start).Microseconds()

	WriteDecision(w, d)
}

// runPipeline executes C1→C9 for one request and fires the traffic sink
// (C11) before returning. Cache lookups short-circuit as early as spec.md
// §2's control-flow diagram allows.
func (h *Handler) runPipeline(ctx context.Context, slug string, r *http.Request) decision.Decision {
	desc := h.Extractor.Extract(r) // C1

	campaignRecord, err := h.Campaigns.ResolveBySlug(ctx, slug) // C7 (resolved early: cache key needs campaignId)
	if err != nil {
		d := h.Composer.ComposeNotFound()
		h.record(ctx, desc, 0, nil, d, false, 0)
		return d
	}

	if d, ok := h.Cache.Get(ctx, campaignRecord.ID, desc.HashHex); ok && campaignRecord.IsActive() { // C2
		h.record(ctx, desc, campaignRecord.ID, nil, d, false, 0)
		return d
	}

	blocked, reason := h.Blacklist.IsBlocked(ctx, desc.RemoteIP) // C3
	var outcome decision.DetectionOutcome
	if !blocked {
		outcome = h.Engine.Detect(ctx, desc) // C4 ∥ C5 → C6
	}

	var selected *pgstore.Stream
	if !blocked && campaignRecord.IsActive() {
		nowMinute := time.Now().Unix() / 60
		selected, _ = h.Streams.SelectStream(ctx, campaignRecord.ID, desc, time.Now().Unix(), nowMinute) // C8
	}

	d := h.Composer.Compose(campaignRecord, selected, outcome, compose.BlockReason{Blocked: blocked, Reason: reason}) // C9

	h.Cache.Put(ctx, campaignRecord.ID, desc.HashHex, d)
	h.record(ctx, desc, campaignRecord.ID, selected, d, outcome.IsBot, outcome.Confidence)

	if h.Reviewer != nil && outcome.PrimaryReason == "detection_degraded" {
		go h.Reviewer.ReviewAsync(context.Background(), desc, outcome)
	}

	return d
}

func (h *Handler) record(ctx context.Context, desc visitor.Descriptor, campaignID int64, selected *pgstore.Stream, d decision.Decision, isBot bool, botScore float64) {
	var streamID *int64
	if selected != nil {
		id := selected.ID
		streamID = &id
	}
	h.Sink.Enqueue(sink.TrafficEvent{ // C11
		CampaignID: campaignID,
		StreamID:   streamID,
		Descriptor: desc,
		IsBot:      isBot,
		BotScore:   botScore,
		Decision:   d,
	})
}

// WriteDecision translates a Decision into an HTTP response exactly as
// spec.md §4.10 specifies, always setting Cache-Control: no-store.
func WriteDecision(w http.ResponseWriter, d decision.Decision) {
	w.Header().Set("Cache-Control", "no-store")

	switch pgstore.RedirectKind(d.RedirectKind) {
	case pgstore.Redirect301:
		w.Header().Set("Location", d.RedirectURL)
		w.WriteHeader(http.StatusMovedPermanently)

	case pgstore.Redirect302, pgstore.RedirectDirect:
		w.Header().Set("Location", d.RedirectURL)
		w.WriteHeader(http.StatusFound)

	case pgstore.RedirectJS:
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `<script>window.location.href='%s'</script>`, escapeHTMLAttr(d.RedirectURL))

	case pgstore.RedirectMeta:
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `<html><head><meta http-equiv="refresh" content="0;url=%s"></head></html>`, escapeHTMLAttr(d.RedirectURL))

	default:
		w.Header().Set("Location", d.RedirectURL)
		w.WriteHeader(http.StatusFound)
	}
}

// escapeHTMLAttr escapes at minimum ', <, >, & per spec.md §4.10;
// html.EscapeString (the teacher's own choice in ProxyInfo) covers all of
// those plus " and is safe to use unconditionally here.
func escapeHTMLAttr(url string) string {
	return html.EscapeString(url)
}

// detectRequest is the programmatic /detect endpoint's request body,
// spec.md §6.
type detectRequest struct {
	URL         string               `json:"url"`
	Headers     map[string]string    `json:"headers"`
	Fingerprint *visitor.Fingerprint `json:"fingerprint,omitempty"`
	CampaignID  *int64               `json:"campaignId,omitempty"`
}

type detectResponse struct {
	Decision    string  `json:"decision"`
	Reason      string  `json:"reason,omitempty"`
	Confidence  float64 `json:"confidence"`
	RedirectURL string  `json:"redirectUrl,omitempty"`
	Details     details `json:"details"`
}

type details struct {
	IsBot             bool     `json:"isBot"`
	BotConfidence     float64  `json:"botConfidence"`
	IsThreat          bool     `json:"isThreat"`
	ThreatScore       float64  `json:"threatScore"`
	IsBlacklisted     bool     `json:"isBlacklisted"`
	FingerprintScore  float64  `json:"fingerprintScore"`
	JA3Match          *bool    `json:"ja3Match,omitempty"`
}

// serveDetect implements the programmatic detection endpoint. A body that
// does not decode as JSON is answered with 400 and a JSON error; the
// handler writes no 500 response of its own.
func (h *Handler) serveDetect(w http.ResponseWriter, r *http.Request) {
	setCORS(w)

	var req detectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.Budget)
	defer cancel()

	desc := visitor.Descriptor{RawUA: req.Headers["user-agent"], Fingerprint: req.Fingerprint}
	outcome := h.Engine.Detect(ctx, desc)

	var blocked bool
	if desc.RemoteIP != "" {
		blocked, _ = h.Blacklist.IsBlocked(ctx, desc.RemoteIP)
	}

	resp := detectResponse{
		Confidence: outcome.Confidence,
		Details: details{
			IsBot:         outcome.IsBot,
			BotConfidence: outcome.Confidence,
			IsBlacklisted: blocked,
			FingerprintScore: outcome.Scores[analyzer.NameFingerprint],
		},
	}
	if outcome.IsBot || blocked {
		resp.Decision = "block"
		resp.Reason = outcome.PrimaryReason
	} else {
		resp.Decision = "pass"
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
