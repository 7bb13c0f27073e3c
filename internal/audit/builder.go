// Package audit assembles per-record verdicts into an immutable findings
// document. The builder preserves append order exactly so a run over the
// same input always produces the same bytes when serialized.
package audit

import (
	"fmt"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Builder accumulates verdicts for a single run. Not safe for concurrent
// use; callers append from one goroutine after the scoring phases join.
type Builder struct {
	version   string
	verdicts  []domain.Verdict
	scored    bool
	finalized bool
}

func NewBuilder(engineVersion string) *Builder {
	return &Builder{version: engineVersion}
}

// Append records one verdict. Returns an error if a verdict for the same
// record was already appended or the builder is already finalized.
func (b *Builder) Append(v domain.Verdict) error {
	if b.finalized {
		return fmt.Errorf("audit: append after finalize")
	}
	for i := range b.verdicts {
		if b.verdicts[i].RecordID == v.RecordID {
			return fmt.Errorf("audit: duplicate verdict for record %q", v.RecordID)
		}
	}
	if v.Anomaly.State == domain.AnomalyScored {
		b.scored = true
	}
	b.verdicts = append(b.verdicts, v)
	return nil
}

// Finalize closes the builder and returns the findings. The verdict slice
// is handed over as-is, in append order, with tier counts tallied.
func (b *Builder) Finalize() *domain.AuditFindings {
	b.finalized = true
	findings := &domain.AuditFindings{
		Verdicts:      b.verdicts,
		RecordCount:   len(b.verdicts),
		AnomalyScored: b.scored,
		EngineVersion: b.version,
	}
	for i := range b.verdicts {
		switch b.verdicts[i].Tier {
		case domain.TierClear:
			findings.Counts.Clear++
		case domain.TierReview:
			findings.Counts.Review++
		case domain.TierCritical:
			findings.Counts.Critical++
		}
	}
	return findings
}
