package domain

// Violation is the evidence that one rule fired against one record.
// Created by the rule evaluator and never mutated afterwards.
type Violation struct {
	RecordID string   `json:"recordId"`
	RuleName string   `json:"ruleName"`
	Severity Severity `json:"severity"`
	Reason   string   `json:"reason"`
}

// AnomalyState distinguishes a real score from a batch the scorer refused
// to score. A not-scored batch propagates as "insufficient data", never as
// "clear".
type AnomalyState string

const (
	AnomalyScored    AnomalyState = "scored"
	AnomalyNotScored AnomalyState = "not-scored"
)

// FeatureContribution is one feature's share of a record's anomaly score,
// kept for audit-report explainability.
type FeatureContribution struct {
	Name   string  `json:"name"`
	ZScore float64 `json:"zScore"`
}

// AnomalyResult is the batch-relative scoring outcome for one record.
// Scores are a pure function of batch contents and configuration; the same
// record can flip its outlier flag when other records in the batch change.
type AnomalyResult struct {
	RecordID    string                `json:"recordId"`
	State       AnomalyState          `json:"state"`
	Score       float64               `json:"score"`
	Cutoff      float64               `json:"cutoff"`
	IsOutlier   bool                  `json:"isOutlier"`
	TopFeatures []FeatureContribution `json:"topFeatures,omitempty"`
}

// RiskTier is the fused risk classification, totally ordered
// clear < review < critical.
type RiskTier string

const (
	TierClear    RiskTier = "clear"
	TierReview   RiskTier = "review"
	TierCritical RiskTier = "critical"
)

// Verdict is the fused risk determination for one record. The tier is a
// pure function of the evidence; Violations and Rationale share one stable
// ordering (high severity first, then medium/low in declaration order, then
// the anomaly explanation when it contributed).
type Verdict struct {
	RecordID   string      `json:"recordId"`
	Tier       RiskTier    `json:"tier"`
	Violations []Violation `json:"violations,omitempty"`

	// Anomaly is recorded on every verdict so reporting can render scores
	// without re-deriving them; IsOutlier marks whether it contributed to
	// the tier.
	Anomaly AnomalyResult `json:"anomaly"`

	Rationale string `json:"rationale"`
}

// TierCounts summarizes a batch per tier. A struct rather than a map keeps
// serialized findings byte-identical across runs.
type TierCounts struct {
	Clear    int `json:"clear"`
	Review   int `json:"review"`
	Critical int `json:"critical"`
}

// AuditFindings is the batch-level collection handed to the external
// reporting collaborator: verdicts in exact input order plus tier counts.
// Read-only once finalized.
type AuditFindings struct {
	Verdicts      []Verdict  `json:"verdicts"`
	Counts        TierCounts `json:"counts"`
	RecordCount   int        `json:"recordCount"`
	AnomalyScored bool       `json:"anomalyScored"`
	EngineVersion string     `json:"engineVersion"`
}
