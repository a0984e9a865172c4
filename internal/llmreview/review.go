// Package llmreview is an optional, fire-and-forget advisory classifier
// run after the decision has already shipped: it never blocks or
// influences a Decision, it only enriches logging for human review of
// edge cases (e.g. detection_degraded or low-confidence outcomes).
// Grounded verbatim on the teacher's internal/classify/claude.go Bedrock
// client construction, generalized from raw-request text classification to
// a structured DetectionOutcome review prompt.
package llmreview

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"

	"github.com/veil-waf/cloakgate/internal/decision"
	"github.com/veil-waf/cloakgate/internal/visitor"
)

const systemPrompt = `You are reviewing a bot-detection outcome for a traffic-cloaking decision
pipeline. Given the visitor's user agent, flags, and per-analyzer scores,
respond with a JSON object {"agree": bool, "note": string} stating whether
you agree with the automated classification and why. Be terse.`

// Verdict is the advisory output. It is logged, never applied.
type Verdict struct {
	Agree bool   `json:"agree"`
	Note  string `json:"note"`
}

// Reviewer wraps an Anthropic-via-Bedrock client.
type Reviewer struct {
	model string
	log   *slog.Logger
}

// New builds a Reviewer. Enabled is gated by config at the call site —
// constructing one is cheap and does not dial anything.
func New(log *slog.Logger) *Reviewer {
	model := os.Getenv("BEDROCK_MODEL")
	if model == "" {
		model = "global.anthropic.claude-sonnet-4-5-20250929-v1:0"
	}
	return &Reviewer{model: model, log: log}
}

// ReviewAsync launches a background review and logs the verdict; it never
// returns a value to the caller and never blocks the decision path.
// internal/responder starts it with `go` for detection_degraded outcomes,
// before the response is written, so the two run concurrently.
func (r *Reviewer) ReviewAsync(ctx context.Context, desc visitor.Descriptor, outcome decision.DetectionOutcome) {
	if os.Getenv("AWS_ACCESS_KEY_ID") == "" && os.Getenv("AWS_PROFILE") == "" {
		r.log.Debug("llmreview: skipped, no AWS credentials configured")
		return
	}

	reviewCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	client := anthropic.NewClient(bedrock.WithLoadDefaultConfig(reviewCtx))

	prompt := fmt.Sprintf(
		"user-agent: %s\nprimary reason: %s\nis_bot: %v\nconfidence: %.2f\nscores: %v\nflags: %v",
		desc.RawUA, outcome.PrimaryReason, outcome.IsBot, outcome.Confidence, outcome.Scores, outcome.Flags,
	)

	message, err := client.Messages.New(reviewCtx, anthropic.MessageNewParams{
		Model:     anthropic.Model(r.model),
		MaxTokens: 200,
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(prompt))},
	})
	if err != nil {
		r.log.Debug("llmreview: bedrock call failed", "error", err)
		return
	}
	if len(message.Content) == 0 {
		return
	}

	verdict := parseVerdict(strings.TrimSpace(message.Content[0].Text))
	r.log.Info("llmreview: advisory verdict",
		"agree", verdict.Agree, "note", verdict.Note,
		"fingerprint_hash", desc.HashHex, "primary_reason", outcome.PrimaryReason)
}

func parseVerdict(text string) Verdict {
	var v Verdict
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return Verdict{Agree: false, Note: "unparseable response"}
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &v); err != nil {
		return Verdict{Agree: false, Note: "unparseable response"}
	}
	return v
}
