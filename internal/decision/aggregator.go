// Package decision fuses rule violations and anomaly results into one risk
// verdict per record.
package decision

import (
	"fmt"
	"sort"
	"strings"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Decide produces exactly one verdict from a record's evidence. The tier is
// a pure, deterministic function of the evidence (same evidence, same tier):
//
//   - any high-severity violation            -> critical
//   - outlier, or any medium violation,
//     or two-or-more violations of any kind  -> review
//   - otherwise                              -> clear
//
// A not-scored anomaly state never escalates the record beyond what its
// violations alone produce, but it is recorded in the rationale as a caveat.
func Decide(recordID string, violations []domain.Violation, anomaly domain.AnomalyResult) domain.Verdict {
	ordered := orderEvidence(violations)

	var hasHigh, hasMedium bool
	for _, v := range ordered {
		switch v.Severity {
		case domain.SeverityHigh:
			hasHigh = true
		case domain.SeverityMedium:
			hasMedium = true
		}
	}

	outlier := anomaly.State == domain.AnomalyScored && anomaly.IsOutlier

	var tier domain.RiskTier
	switch {
	case hasHigh:
		tier = domain.TierCritical
	case outlier || hasMedium || len(ordered) >= 2:
		tier = domain.TierReview
	default:
		tier = domain.TierClear
	}

	return domain.Verdict{
		RecordID:   recordID,
		Tier:       tier,
		Violations: ordered,
		Anomaly:    anomaly,
		Rationale:  rationale(ordered, anomaly, outlier),
	}
}

// orderEvidence sorts violations by severity (high first) while preserving
// rule declaration order within each severity, so rationale and evidence
// share one stable ordering across runs.
func orderEvidence(violations []domain.Violation) []domain.Violation {
	if len(violations) == 0 {
		return nil
	}
	ordered := make([]domain.Violation, len(violations))
	copy(ordered, violations)
	sort.SliceStable(ordered, func(i, j int) bool {
		return domain.SeverityRank(ordered[i].Severity) < domain.SeverityRank(ordered[j].Severity)
	})
	return ordered
}

// rationale concatenates, in order: high-severity reasons, then medium/low,
// then the anomaly explanation when it contributed, then the not-scored
// caveat when scoring was unavailable.
func rationale(ordered []domain.Violation, anomaly domain.AnomalyResult, outlier bool) string {
	parts := make([]string, 0, len(ordered)+1)
	for _, v := range ordered {
		parts = append(parts, fmt.Sprintf("[%s] %s: %s", v.Severity, v.RuleName, v.Reason))
	}
	if outlier {
		parts = append(parts, explainAnomaly(anomaly))
	}
	if anomaly.State == domain.AnomalyNotScored {
		parts = append(parts, "anomaly scoring unavailable (insufficient data)")
	}
	if len(parts) == 0 {
		return "no qualifying evidence"
	}
	return strings.Join(parts, "; ")
}

func explainAnomaly(anomaly domain.AnomalyResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "anomaly score %.4f at or above batch cutoff %.4f", anomaly.Score, anomaly.Cutoff)
	if len(anomaly.TopFeatures) > 0 {
		names := make([]string, len(anomaly.TopFeatures))
		for i, fc := range anomaly.TopFeatures {
			names[i] = fmt.Sprintf("%s |z|=%.2f", fc.Name, fc.ZScore)
		}
		fmt.Fprintf(&b, " (top features: %s)", strings.Join(names, ", "))
	}
	return b.String()
}
