package audit

import (
	"encoding/json"
	"testing"

	"github.com/opensource-finance/harrier/internal/domain"
)

func verdict(id string, tier domain.RiskTier) domain.Verdict {
	return domain.Verdict{
		RecordID:  id,
		Tier:      tier,
		Anomaly:   domain.AnomalyResult{RecordID: id, State: domain.AnomalyScored},
		Rationale: "no qualifying evidence",
	}
}

func TestBuilderPreservesAppendOrder(t *testing.T) {
	b := NewBuilder("harrier-1.0")
	ids := []string{"TXN003", "TXN001", "TXN002"}
	for _, id := range ids {
		if err := b.Append(verdict(id, domain.TierClear)); err != nil {
			t.Fatalf("Append(%s): %v", id, err)
		}
	}

	findings := b.Finalize()
	if findings.RecordCount != 3 {
		t.Fatalf("expected 3 records, got %d", findings.RecordCount)
	}
	for i, id := range ids {
		if findings.Verdicts[i].RecordID != id {
			t.Errorf("verdict %d: got %s, want %s", i, findings.Verdicts[i].RecordID, id)
		}
	}
}

func TestBuilderCountsTiers(t *testing.T) {
	b := NewBuilder("harrier-1.0")
	tiers := []domain.RiskTier{
		domain.TierClear, domain.TierReview, domain.TierCritical,
		domain.TierReview, domain.TierClear,
	}
	for i, tier := range tiers {
		v := verdict(string(rune('A'+i)), tier)
		if err := b.Append(v); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	findings := b.Finalize()
	if findings.Counts.Clear != 2 || findings.Counts.Review != 2 || findings.Counts.Critical != 1 {
		t.Errorf("counts = %+v, want clear=2 review=2 critical=1", findings.Counts)
	}
}

func TestBuilderRejectsDuplicateRecord(t *testing.T) {
	b := NewBuilder("harrier-1.0")
	if err := b.Append(verdict("TXN001", domain.TierClear)); err != nil {
		t.Fatalf("first append: %v", err)
	}
	if err := b.Append(verdict("TXN001", domain.TierReview)); err == nil {
		t.Error("expected error on duplicate record id")
	}
}

func TestBuilderRejectsAppendAfterFinalize(t *testing.T) {
	b := NewBuilder("harrier-1.0")
	b.Finalize()
	if err := b.Append(verdict("TXN001", domain.TierClear)); err == nil {
		t.Error("expected error on append after finalize")
	}
}

func TestFindingsSerializeDeterministically(t *testing.T) {
	build := func() *domain.AuditFindings {
		b := NewBuilder("harrier-1.0")
		b.Append(verdict("TXN001", domain.TierReview))
		b.Append(verdict("TXN002", domain.TierClear))
		return b.Finalize()
	}

	first, err := json.Marshal(build())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	second, err := json.Marshal(build())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(first) != string(second) {
		t.Error("identical runs must serialize to identical bytes")
	}
}

func TestAnomalyScoredFlag(t *testing.T) {
	b := NewBuilder("harrier-1.0")
	v := verdict("TXN001", domain.TierClear)
	v.Anomaly.State = domain.AnomalyNotScored
	b.Append(v)
	if f := b.Finalize(); f.AnomalyScored {
		t.Error("not-scored run must not report anomaly scoring")
	}

	b2 := NewBuilder("harrier-1.0")
	b2.Append(verdict("TXN001", domain.TierClear))
	if f := b2.Finalize(); !f.AnomalyScored {
		t.Error("scored run must report anomaly scoring")
	}
}
