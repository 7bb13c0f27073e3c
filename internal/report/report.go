// Package report renders a run's findings into a compact summary for
// downstream consumers. The summary is derived entirely from the records
// and the findings document; nothing is re-scored here.
package report

import (
	"fmt"
	"sort"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/feedback"
)

// DefaultTopAnomalies bounds the highlighted anomaly list.
const DefaultTopAnomalies = 5

// AnomalyHighlight is one entry in the top anomalies list.
type AnomalyHighlight struct {
	RecordID  string  `json:"record_id"`
	Amount    float64 `json:"amount"`
	Score     float64 `json:"anomaly_score"`
	RuleAlert bool    `json:"rule_alert"`
}

// AlertedRecord identifies a record with at least one rule violation.
type AlertedRecord struct {
	RecordID string  `json:"record_id"`
	Amount   float64 `json:"amount"`
	Route    string  `json:"route"`
}

// Summary is the serializable run digest.
type Summary struct {
	TotalRecords        int                `json:"total_records"`
	RuleAlerts          int                `json:"rule_alerts"`
	Tiers               domain.TierCounts  `json:"tiers"`
	MaxAnomalyScore     float64            `json:"max_anomaly_score"`
	AnomaliesOverCutoff int                `json:"anomalies_over_cutoff"`
	TopAnomalies        []AnomalyHighlight `json:"top_anomalies"`
	AlertedRecords      []AlertedRecord    `json:"alerted_records"`
	FeedbackSummary     map[string]int     `json:"feedback_summary,omitempty"`
	EngineVersion       string             `json:"engine_version"`
}

// Generate builds a summary from a batch and its findings. Records are
// matched to verdicts by id; a nil records slice still yields a complete
// summary, just without amounts and routes. Feedback may be nil.
func Generate(records []*domain.Record, findings *domain.AuditFindings, entries []domain.FeedbackEntry, topN int) *Summary {
	if topN <= 0 {
		topN = DefaultTopAnomalies
	}

	byID := make(map[string]*domain.Record, len(records))
	for _, rec := range records {
		byID[rec.ID] = rec
	}

	summary := &Summary{
		TotalRecords:   findings.RecordCount,
		Tiers:          findings.Counts,
		TopAnomalies:   []AnomalyHighlight{},
		AlertedRecords: []AlertedRecord{},
		EngineVersion:  findings.EngineVersion,
	}

	for _, v := range findings.Verdicts {
		summary.RuleAlerts += len(v.Violations)

		rec := byID[v.RecordID]
		if len(v.Violations) > 0 {
			alerted := AlertedRecord{RecordID: v.RecordID}
			if rec != nil {
				alerted.Amount = rec.Amount
				alerted.Route = fmt.Sprintf("%s->%s", rec.OriginCountry, rec.DestCountry)
			}
			summary.AlertedRecords = append(summary.AlertedRecords, alerted)
		}

		if v.Anomaly.State != domain.AnomalyScored {
			continue
		}
		if v.Anomaly.Score > summary.MaxAnomalyScore {
			summary.MaxAnomalyScore = v.Anomaly.Score
		}
		if v.Anomaly.IsOutlier {
			summary.AnomaliesOverCutoff++
		}
		highlight := AnomalyHighlight{
			RecordID:  v.RecordID,
			Score:     v.Anomaly.Score,
			RuleAlert: len(v.Violations) > 0,
		}
		if rec != nil {
			highlight.Amount = rec.Amount
		}
		summary.TopAnomalies = append(summary.TopAnomalies, highlight)
	}

	// Highest scores first; ties resolve by record id so output is stable.
	sort.SliceStable(summary.TopAnomalies, func(i, j int) bool {
		a, b := summary.TopAnomalies[i], summary.TopAnomalies[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return a.RecordID < b.RecordID
	})
	if len(summary.TopAnomalies) > topN {
		summary.TopAnomalies = summary.TopAnomalies[:topN]
	}

	if len(entries) > 0 {
		summary.FeedbackSummary = feedback.Summarize(entries)
	}

	return summary
}
