package pgstore

import "time"

// CampaignStatus enumerates the lifecycle states in spec.md §3. Only
// StatusActive campaigns may ever produce a non-safe decision.
type CampaignStatus string

const (
	StatusActive    CampaignStatus = "active"
	StatusPaused    CampaignStatus = "paused"
	StatusCompleted CampaignStatus = "completed"
)

// RedirectKind enumerates the rendering techniques the responder supports.
type RedirectKind string

const (
	Redirect301 RedirectKind = "301"
	Redirect302 RedirectKind = "302"
	RedirectJS  RedirectKind = "js"
	RedirectMeta RedirectKind = "meta"
	RedirectDirect RedirectKind = "direct"
)

// Campaign mirrors spec.md §3's Campaign record.
type Campaign struct {
	ID           int64
	Slug         string
	Status       CampaignStatus
	MoneyURL     string
	SafeURL      string
	RedirectKind RedirectKind
	UpdatedAt    time.Time
	CreatedAt    time.Time
}

// IsActive reports whether the campaign may currently serve a money page.
func (c Campaign) IsActive() bool { return c.Status == StatusActive }

// Stream mirrors spec.md §3's Stream record.
type Stream struct {
	ID         int64
	CampaignID int64
	Name       string
	Weight     int
	Active     bool
	MoneyURL   string // optional override, empty means "use campaign's"
	SafeURL    string // optional override, empty means "use campaign's"
}

// Eligible reports whether the stream can ever be selected, independent of
// targeting rules: it must be active and carry positive weight.
func (s Stream) Eligible() bool { return s.Active && s.Weight > 0 }

// RuleType enumerates the descriptor field a TargetingRule inspects.
type RuleType string

const (
	RuleCountry RuleType = "country"
	RuleDevice  RuleType = "device"
	RuleBrowser RuleType = "browser"
	RuleOS      RuleType = "os"
	RuleReferer RuleType = "referer"
)

// RuleOperator enumerates the comparison spec.md §3 allows per rule.
type RuleOperator string

const (
	OpEquals      RuleOperator = "equals"
	OpNotEquals   RuleOperator = "not_equals"
	OpContains    RuleOperator = "contains"
	OpNotContains RuleOperator = "not_contains"
	OpIn          RuleOperator = "in"
	OpNotIn       RuleOperator = "not_in"
	OpRegex       RuleOperator = "regex"
)

// TargetingRule mirrors spec.md §3's TargetingRule record. Value holds a
// single string for equals/not_equals/contains/not_contains/regex, and
// Values holds the slice for in/not_in; callers read the field that
// matches the operator.
type TargetingRule struct {
	ID       int64
	StreamID int64
	RuleType RuleType
	Operator RuleOperator
	Value    string
	Values   []string
	Include  bool
}

// DetectionKind enumerates why a BlacklistEntry was added.
type DetectionKind string

const (
	DetectionBot         DetectionKind = "bot"
	DetectionSuspicious  DetectionKind = "suspicious"
	DetectionManual      DetectionKind = "manual"
)

// BlacklistEntry mirrors spec.md §3's BlacklistEntry record.
type BlacklistEntry struct {
	ID              int64
	IP              string
	Reason          string
	DetectionKind   DetectionKind
	Confidence      float64
	FirstDetectedAt time.Time
	LastDetectedAt  time.Time
	ExpiresAt       *time.Time // nil means permanent
}

// Effective reports whether the entry currently forbids the IP, per spec.md
// §3's invariant: permanent OR now < expiresAt.
func (b BlacklistEntry) Effective(now time.Time) bool {
	return b.ExpiresAt == nil || now.Before(*b.ExpiresAt)
}
