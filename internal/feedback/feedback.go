// Package feedback aggregates analyst dispositions on past verdicts.
package feedback

import (
	"strings"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Known labels. Other labels are accepted and counted as-is after
// normalization, so the taxonomy can grow without a code change.
const (
	LabelTruePositive  = "true_positive"
	LabelFalsePositive = "false_positive"
	LabelUnknown       = "unknown"
)

// Summarize counts feedback entries by label. Labels are trimmed and
// lowercased; entries with an empty label count as unknown.
func Summarize(entries []domain.FeedbackEntry) map[string]int {
	summary := make(map[string]int, 4)
	for _, e := range entries {
		label := strings.ToLower(strings.TrimSpace(e.Label))
		if label == "" {
			label = LabelUnknown
		}
		summary[label]++
	}
	return summary
}
