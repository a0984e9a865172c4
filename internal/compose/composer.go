// Package compose implements the Decision Composer (component C9, spec.md
// §4.9): assembles the final Decision from a bot classification, the
// selected stream (if any), and the campaign. Grounded on the teacher's
// proxy/handler.go decision-assembly branch (blacklist/threat short-circuit
// before falling through to the cloaking choice), generalized to the
// Campaign/Stream/DetectionOutcome shapes this spec defines.
package compose

import (
	"github.com/veil-waf/cloakgate/internal/decision"
	"github.com/veil-waf/cloakgate/internal/pgstore"
)

// BlockReason carries why a request was short-circuited before detection
// ran (blacklist hit or threat-intel flag).
type BlockReason struct {
	Blocked bool
	Reason  string
}

// Composer assembles Decisions. It holds no state of its own.
type Composer struct {
	BlockedRedirectURL  string
	NotFoundRedirectURL string
}

// New builds a Composer with the two configured fallback URLs.
func New(blockedURL, notFoundURL string) *Composer {
	return &Composer{BlockedRedirectURL: blockedURL, NotFoundRedirectURL: notFoundURL}
}

// ComposeNotFound builds the fallback Decision for an unresolvable slug,
// per spec.md §4.7.
func (c *Composer) ComposeNotFound() decision.Decision {
	return decision.Decision{
		Page:         decision.PageSafe,
		RedirectURL:  c.NotFoundRedirectURL,
		RedirectKind: string(pgstore.Redirect302),
		Reason:       "Campaign not found",
	}
}

// Compose assembles the Decision for a resolved, active-or-not campaign.
// block, if Blocked, short-circuits to the safe page regardless of
// detection, per spec.md §4.9's first rule.
func (c *Composer) Compose(campaign pgstore.Campaign, stream *pgstore.Stream, outcome decision.DetectionOutcome, block BlockReason) decision.Decision {
	d := decision.Decision{
		CampaignID:   campaign.ID,
		RedirectKind: string(campaign.RedirectKind),
		BotScore:     outcome.Confidence,
	}
	if stream != nil {
		id := stream.ID
		d.StreamID = &id
	}

	switch {
	case block.Blocked:
		d.Page = decision.PageSafe
		d.RedirectURL = c.BlockedRedirectURL
		d.Reason = block.Reason

	case !campaign.IsActive():
		d.Page = decision.PageSafe
		d.RedirectURL = resolveSafeURL(campaign, stream)
		d.Reason = "campaign_not_active"

	case outcome.IsBot:
		d.Page = decision.PageSafe
		d.RedirectURL = resolveSafeURL(campaign, stream)
		d.Reason = outcome.PrimaryReason

	default:
		d.Page = decision.PageMoney
		d.RedirectURL = resolveMoneyURL(campaign, stream)
		d.Reason = outcome.PrimaryReason
	}

	return d
}

func resolveSafeURL(c pgstore.Campaign, s *pgstore.Stream) string {
	if s != nil && s.SafeURL != "" {
		return s.SafeURL
	}
	return c.SafeURL
}

func resolveMoneyURL(c pgstore.Campaign, s *pgstore.Stream) string {
	if s != nil && s.MoneyURL != "" {
		return s.MoneyURL
	}
	return c.MoneyURL
}
