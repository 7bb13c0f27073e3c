// Package anomaly implements the batch-relative statistical outlier scorer.
//
// Scores are a pure function of the batch contents and configuration: the
// model is re-fit from scratch on every batch, and the outlier cutoff is
// derived from the batch's own score distribution. A record's outlier flag
// can therefore change when other records in the batch change; report
// consumers must treat the flag as batch-relative, not absolute.
package anomaly

import (
	"math"
	"sort"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Params are the scoring knobs, passed explicitly so the scorer stays a
// pure function of (records, params).
type Params struct {
	// Contamination is the expected anomalous fraction of the batch,
	// in (0, 1].
	Contamination float64

	// MinBatchSize is the smallest batch worth fitting. Defaults to 10.
	MinBatchSize int

	// TopFeatures bounds the explainability list per record. Defaults to 3.
	TopFeatures int
}

// Scorer assigns each record a continuous anomaly score plus an outlier
// flag. The score is the mean absolute z-score across the record's
// non-missing numeric features, measured against the batch's own
// per-feature mean and population standard deviation.
type Scorer struct {
	params Params
}

// NewScorer validates parameters. A non-positive (or >1) contamination
// ratio is a fatal configuration fault.
func NewScorer(p Params) (*Scorer, error) {
	if p.Contamination <= 0 || p.Contamination > 1 {
		return nil, &domain.ConfigurationError{
			Field:  "contamination",
			Reason: "must be in (0, 1]",
		}
	}
	if p.MinBatchSize <= 0 {
		p.MinBatchSize = 10
	}
	if p.TopFeatures <= 0 {
		p.TopFeatures = 3
	}
	return &Scorer{params: p}, nil
}

type featureStats struct {
	mean float64
	std  float64
}

// ScoreBatch produces one AnomalyResult per record, in input order.
//
// Scoring runs in two explicit phases: first every record is scored, then
// outlier flags are derived from the full score distribution. There is no
// per-record short circuit because no flag is final until the whole batch
// is scored.
//
// A degenerate batch (fewer than MinBatchSize records, or zero variance in
// every feature) is not scored; the results carry the not-scored sentinel
// instead of fabricated scores.
func (s *Scorer) ScoreBatch(records []*domain.Record) []domain.AnomalyResult {
	keys := domain.FeatureKeys(records)

	if len(records) < s.params.MinBatchSize || len(keys) == 0 {
		return notScored(records)
	}

	stats := fitStats(records, keys)
	if len(stats) == 0 {
		// Zero variance everywhere: distance from the bulk is undefined.
		return notScored(records)
	}

	// Phase 1: score every record.
	results := make([]domain.AnomalyResult, len(records))
	scores := make([]float64, len(records))
	for i, rec := range records {
		score, contribs := s.scoreRecord(rec, keys, stats)
		scores[i] = score
		results[i] = domain.AnomalyResult{
			RecordID:    rec.ID,
			State:       domain.AnomalyScored,
			Score:       score,
			TopFeatures: contribs,
		}
	}

	// Phase 2: derive flags from the batch's score distribution. The
	// cutoff is the k-th highest score for k = ceil(contamination * N);
	// ties at the cutoff are all flagged. A score of exactly zero means
	// the record sits on the batch mean (or has no usable features) and
	// is never flagged, even when zero scores dominate and pull the
	// cutoff down to zero.
	cutoff := quantileCutoff(scores, s.params.Contamination)
	for i := range results {
		results[i].Cutoff = cutoff
		results[i].IsOutlier = scores[i] >= cutoff && scores[i] > 0
	}

	return results
}

// fitStats computes per-feature mean and population standard deviation over
// the non-missing values. Features with no usable values or zero variance
// are excluded from the fitted space.
func fitStats(records []*domain.Record, keys []string) map[string]featureStats {
	stats := make(map[string]featureStats, len(keys))

	for _, key := range keys {
		var sum float64
		var n int
		for _, rec := range records {
			fv, ok := rec.Features[key]
			if !ok || fv.Missing {
				continue
			}
			sum += fv.Value
			n++
		}
		if n == 0 {
			continue
		}
		mean := sum / float64(n)

		var ss float64
		for _, rec := range records {
			fv, ok := rec.Features[key]
			if !ok || fv.Missing {
				continue
			}
			d := fv.Value - mean
			ss += d * d
		}
		std := math.Sqrt(ss / float64(n))
		if std == 0 {
			continue
		}
		stats[key] = featureStats{mean: mean, std: std}
	}

	return stats
}

// scoreRecord computes the mean |z| over the record's usable features and
// the per-feature contributions, ordered by descending |z| (ties by name).
func (s *Scorer) scoreRecord(rec *domain.Record, keys []string, stats map[string]featureStats) (float64, []domain.FeatureContribution) {
	var sum float64
	var n int
	contribs := make([]domain.FeatureContribution, 0, len(keys))

	for _, key := range keys {
		st, ok := stats[key]
		if !ok {
			continue
		}
		fv, ok := rec.Features[key]
		if !ok || fv.Missing {
			continue
		}
		z := math.Abs((fv.Value - st.mean) / st.std)
		sum += z
		n++
		contribs = append(contribs, domain.FeatureContribution{Name: key, ZScore: z})
	}

	var score float64
	if n > 0 {
		score = sum / float64(n)
	}

	sort.SliceStable(contribs, func(i, j int) bool {
		if contribs[i].ZScore != contribs[j].ZScore {
			return contribs[i].ZScore > contribs[j].ZScore
		}
		return contribs[i].Name < contribs[j].Name
	})
	if len(contribs) > s.params.TopFeatures {
		contribs = contribs[:s.params.TopFeatures]
	}

	return score, contribs
}

// quantileCutoff returns the k-th highest score for k = ceil(ratio * N),
// clamped to [1, N].
func quantileCutoff(scores []float64, ratio float64) float64 {
	sorted := make([]float64, len(scores))
	copy(sorted, scores)
	sort.Sort(sort.Reverse(sort.Float64Slice(sorted)))

	k := int(math.Ceil(ratio * float64(len(scores))))
	if k < 1 {
		k = 1
	}
	if k > len(sorted) {
		k = len(sorted)
	}
	return sorted[k-1]
}

func notScored(records []*domain.Record) []domain.AnomalyResult {
	results := make([]domain.AnomalyResult, len(records))
	for i, rec := range records {
		results[i] = domain.AnomalyResult{
			RecordID: rec.ID,
			State:    domain.AnomalyNotScored,
		}
	}
	return results
}
