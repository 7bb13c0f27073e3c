package decision

import (
	"strings"
	"testing"

	"github.com/opensource-finance/harrier/internal/domain"
)

func violation(rule string, sev domain.Severity) domain.Violation {
	return domain.Violation{RecordID: "TXN001", RuleName: rule, Severity: sev, Reason: rule + " fired"}
}

func scored(outlier bool) domain.AnomalyResult {
	return domain.AnomalyResult{
		RecordID:  "TXN001",
		State:     domain.AnomalyScored,
		Score:     1.5,
		Cutoff:    1.0,
		IsOutlier: outlier,
	}
}

func notScored() domain.AnomalyResult {
	return domain.AnomalyResult{RecordID: "TXN001", State: domain.AnomalyNotScored}
}

func TestTierFusion(t *testing.T) {
	cases := []struct {
		name       string
		violations []domain.Violation
		anomaly    domain.AnomalyResult
		want       domain.RiskTier
	}{
		{"no evidence", nil, scored(false), domain.TierClear},
		{"single low violation", []domain.Violation{violation("a", domain.SeverityLow)}, scored(false), domain.TierClear},
		{"single medium violation", []domain.Violation{violation("a", domain.SeverityMedium)}, scored(false), domain.TierReview},
		{"two low violations", []domain.Violation{violation("a", domain.SeverityLow), violation("b", domain.SeverityLow)}, scored(false), domain.TierReview},
		{"outlier only", nil, scored(true), domain.TierReview},
		{"high violation", []domain.Violation{violation("a", domain.SeverityHigh)}, scored(false), domain.TierCritical},
		{"high violation beats outlier", []domain.Violation{violation("a", domain.SeverityHigh)}, scored(true), domain.TierCritical},
		{"not-scored alone stays clear", nil, notScored(), domain.TierClear},
		{"not-scored does not escalate low", []domain.Violation{violation("a", domain.SeverityLow)}, notScored(), domain.TierClear},
		{"not-scored keeps violation tier", []domain.Violation{violation("a", domain.SeverityMedium)}, notScored(), domain.TierReview},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := Decide("TXN001", tc.violations, tc.anomaly)
			if v.Tier != tc.want {
				t.Errorf("got tier %s, want %s", v.Tier, tc.want)
			}
		})
	}
}

func TestAdditionalEvidenceIsIdempotentOnTier(t *testing.T) {
	base := []domain.Violation{violation("first", domain.SeverityMedium)}
	extended := append([]domain.Violation{}, base...)
	extended = append(extended, violation("second", domain.SeverityMedium))

	v1 := Decide("TXN001", base, scored(false))
	v2 := Decide("TXN001", extended, scored(false))

	if v1.Tier != domain.TierReview || v2.Tier != domain.TierReview {
		t.Fatalf("expected review for both, got %s and %s", v1.Tier, v2.Tier)
	}
	if len(v2.Violations) != len(v1.Violations)+1 {
		t.Error("additional evidence must extend the evidence list")
	}
	if len(v2.Rationale) <= len(v1.Rationale) {
		t.Error("additional evidence must extend the rationale")
	}
}

func TestRationaleOrdersHighBeforeMediumBeforeLow(t *testing.T) {
	violations := []domain.Violation{
		violation("low-rule", domain.SeverityLow),
		violation("high-rule", domain.SeverityHigh),
		violation("medium-rule", domain.SeverityMedium),
	}

	v := Decide("TXN001", violations, scored(false))

	hi := strings.Index(v.Rationale, "high-rule")
	mid := strings.Index(v.Rationale, "medium-rule")
	lo := strings.Index(v.Rationale, "low-rule")
	if hi == -1 || mid == -1 || lo == -1 {
		t.Fatalf("rationale missing reasons: %q", v.Rationale)
	}
	if !(hi < mid && mid < lo) {
		t.Errorf("rationale must order high, medium, low: %q", v.Rationale)
	}

	if v.Violations[0].RuleName != "high-rule" {
		t.Errorf("evidence list must lead with high severity, got %s", v.Violations[0].RuleName)
	}
}

func TestOutlierExplanationInRationale(t *testing.T) {
	anom := scored(true)
	anom.TopFeatures = []domain.FeatureContribution{
		{Name: "amount", ZScore: 3.2},
		{Name: "velocity", ZScore: 0.4},
	}

	v := Decide("TXN001", nil, anom)
	if !strings.Contains(v.Rationale, "anomaly score") {
		t.Errorf("rationale must explain the anomaly contribution: %q", v.Rationale)
	}
	if !strings.Contains(v.Rationale, "amount") {
		t.Errorf("rationale must name the top features: %q", v.Rationale)
	}
}

func TestNotScoredCaveatRecorded(t *testing.T) {
	v := Decide("TXN001", nil, notScored())
	if v.Tier != domain.TierClear {
		t.Fatalf("expected clear, got %s", v.Tier)
	}
	if !strings.Contains(v.Rationale, "insufficient data") {
		t.Errorf("rationale must carry the not-scored caveat: %q", v.Rationale)
	}
}

func TestDecisionIsDeterministic(t *testing.T) {
	violations := []domain.Violation{
		violation("b", domain.SeverityMedium),
		violation("a", domain.SeverityMedium),
	}
	v1 := Decide("TXN001", violations, scored(true))
	v2 := Decide("TXN001", violations, scored(true))
	if v1.Rationale != v2.Rationale {
		t.Error("identical evidence must produce identical rationale")
	}
	// Declaration order preserved within equal severity.
	if v1.Violations[0].RuleName != "b" {
		t.Errorf("stable sort must keep declaration order within a severity, got %s first", v1.Violations[0].RuleName)
	}
}
