package domain

import "fmt"

// Severity classifies how strongly a rule violation weighs on the verdict.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// SeverityRank orders severities for stable violation sorting.
// Unknown severities sort last.
func SeverityRank(s Severity) int {
	switch s {
	case SeverityHigh:
		return 0
	case SeverityMedium:
		return 1
	case SeverityLow:
		return 2
	default:
		return 3
	}
}

// RuleKind is the closed set of deterministic predicate kinds.
type RuleKind string

const (
	KindAmountThreshold  RuleKind = "amount-threshold"
	KindMissingField     RuleKind = "missing-field"
	KindJurisdictionPair RuleKind = "jurisdiction-pair"
	KindCustomPattern    RuleKind = "custom-pattern"
)

// JurisdictionPair is one (origin, destination) entry in a watch-set.
type JurisdictionPair struct {
	Origin string `json:"origin" koanf:"origin"`
	Dest   string `json:"dest" koanf:"dest"`
}

// Rule is one configured deterministic check. Parameter fields are
// kind-specific; Validate enforces the shape once at load so the evaluator
// can assume well-formed rules and fail fast otherwise.
type Rule struct {
	Name     string   `json:"name" koanf:"name"`
	Kind     RuleKind `json:"kind" koanf:"kind"`
	Severity Severity `json:"severity" koanf:"severity"`

	// amount-threshold: fires when Amount >= Threshold (inclusive).
	Threshold *float64 `json:"threshold,omitempty" koanf:"threshold"`

	// missing-field: fires when the named field is absent or empty.
	Field string `json:"field,omitempty" koanf:"field"`

	// jurisdiction-pair: fires when (origin, dest) matches the watch-set.
	// Comparison is order-sensitive unless Symmetric is set.
	Pairs     []JurisdictionPair `json:"pairs,omitempty" koanf:"pairs"`
	Symmetric bool               `json:"symmetric,omitempty" koanf:"symmetric"`

	// custom-pattern: CEL expression over record fields, restricted to
	// equality, inequality and set membership.
	Expression string `json:"expression,omitempty" koanf:"expression"`

	Enabled bool `json:"enabled" koanf:"enabled"`
}

// Validate checks the structural invariants of a rule. Kind-specific
// parameter problems surface as ConfigurationError because a miscomputed
// rule set silently under-reports risk.
func (r *Rule) Validate() error {
	if r.Name == "" {
		return &ConfigurationError{Field: "name", Reason: "rule name must be non-empty"}
	}
	switch r.Severity {
	case SeverityLow, SeverityMedium, SeverityHigh:
	default:
		return &ConfigurationError{
			Field:  fmt.Sprintf("rule %q severity", r.Name),
			Reason: fmt.Sprintf("unknown severity %q", r.Severity),
		}
	}

	switch r.Kind {
	case KindAmountThreshold:
		if r.Threshold == nil {
			return &ConfigurationError{
				Field:  fmt.Sprintf("rule %q threshold", r.Name),
				Reason: "amount-threshold rule requires a threshold",
			}
		}
	case KindMissingField:
		if r.Field == "" {
			return &ConfigurationError{
				Field:  fmt.Sprintf("rule %q field", r.Name),
				Reason: "missing-field rule requires a field name",
			}
		}
	case KindJurisdictionPair:
		if len(r.Pairs) == 0 {
			return &ConfigurationError{
				Field:  fmt.Sprintf("rule %q pairs", r.Name),
				Reason: "jurisdiction-pair rule requires a non-empty watch-set",
			}
		}
	case KindCustomPattern:
		if r.Expression == "" {
			return &ConfigurationError{
				Field:  fmt.Sprintf("rule %q expression", r.Name),
				Reason: "custom-pattern rule requires an expression",
			}
		}
	default:
		return &ConfigurationError{
			Field:  fmt.Sprintf("rule %q kind", r.Name),
			Reason: fmt.Sprintf("unsupported predicate kind %q", r.Kind),
		}
	}
	return nil
}
