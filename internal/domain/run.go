package domain

import "time"

// Run wraps one engine invocation for persistence and retrieval. The
// findings themselves stay a pure function of batch and configuration; run
// identity and timing live here so repeated identical runs still serialize
// identical findings.
type Run struct {
	ID          string         `json:"id"`
	TenantID    string         `json:"tenantId"`
	CreatedAt   time.Time      `json:"createdAt"`
	RecordCount int            `json:"recordCount"`
	Findings    *AuditFindings `json:"findings"`
}

// FeedbackEntry is one analyst label on a record from a past run, used to
// aggregate per-label counts into the report.
type FeedbackEntry struct {
	RecordID  string    `json:"recordId"`
	Label     string    `json:"label"`
	CreatedAt time.Time `json:"createdAt"`
}
