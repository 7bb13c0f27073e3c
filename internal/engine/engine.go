// Package engine orchestrates a compliance run: rule checks over every
// record in parallel, batch-relative anomaly scoring, and fusion of both
// evidence streams into per-record verdicts collected as audit findings.
package engine

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/opensource-finance/harrier/internal/anomaly"
	"github.com/opensource-finance/harrier/internal/audit"
	"github.com/opensource-finance/harrier/internal/decision"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/rules"
)

// Version identifies the engine build recorded in every findings document.
const Version = "harrier-1.0"

var tracer = otel.Tracer("harrier-engine")

// Engine is an immutable, reusable run executor. All configuration errors
// surface at construction, so a built Engine always produces a complete
// findings document for any batch.
type Engine struct {
	evaluator  *rules.Evaluator
	scorer     *anomaly.Scorer
	maxWorkers int
}

// New validates the ruleset and scoring parameters and returns a ready
// engine. Any malformed rule or parameter fails construction.
func New(ruleset []*domain.Rule, params anomaly.Params, maxWorkers int) (*Engine, error) {
	evaluator, err := rules.NewEvaluator(ruleset)
	if err != nil {
		return nil, err
	}
	scorer, err := anomaly.NewScorer(params)
	if err != nil {
		return nil, err
	}
	if maxWorkers <= 0 {
		maxWorkers = 10
	}
	return &Engine{evaluator: evaluator, scorer: scorer, maxWorkers: maxWorkers}, nil
}

// RulesCount reports how many rules are loaded.
func (e *Engine) RulesCount() int {
	return e.evaluator.RulesCount()
}

// Run evaluates every record against the loaded rules, scores the batch
// for anomalies, and fuses both into verdicts. Verdicts are emitted in
// input order. Rule evaluation runs in parallel but each record's
// violations depend only on that record; anomaly scores depend on the
// whole batch.
func (e *Engine) Run(ctx context.Context, records []*domain.Record) (*domain.AuditFindings, error) {
	ctx, span := tracer.Start(ctx, "engine.Run")
	defer span.End()
	span.SetAttributes(
		attribute.Int("records", len(records)),
		attribute.Int("rules", e.evaluator.RulesCount()),
	)

	seen := make(map[string]struct{}, len(records))
	for _, rec := range records {
		if rec.ID == "" {
			return nil, &domain.ConfigurationError{Field: "record.id", Reason: "record id is required"}
		}
		if _, dup := seen[rec.ID]; dup {
			return nil, &domain.ConfigurationError{Field: "record.id", Reason: fmt.Sprintf("duplicate record id %q", rec.ID)}
		}
		seen[rec.ID] = struct{}{}
	}

	// Anomaly scoring walks the whole batch; run it alongside the rule
	// phase since neither depends on the other.
	anomaliesCh := make(chan []domain.AnomalyResult, 1)
	go func() {
		anomaliesCh <- e.scorer.ScoreBatch(records)
	}()

	violationsByRecord := make([][]domain.Violation, len(records))
	errs := make([]error, len(records))

	var wg sync.WaitGroup
	sem := make(chan struct{}, e.maxWorkers)
	for i, rec := range records {
		wg.Add(1)
		go func(idx int, r *domain.Record) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			if err := ctx.Err(); err != nil {
				errs[idx] = err
				return
			}
			violationsByRecord[idx], errs[idx] = e.evaluator.Evaluate(r)
		}(i, rec)
	}
	wg.Wait()

	anomalies := <-anomaliesCh

	// Any evaluation failure aborts the run; partial findings are never
	// returned.
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	builder := audit.NewBuilder(Version)
	for i, rec := range records {
		verdict := decision.Decide(rec.ID, violationsByRecord[i], anomalies[i])
		if err := builder.Append(verdict); err != nil {
			return nil, err
		}
	}
	findings := builder.Finalize()

	span.SetAttributes(
		attribute.Int("tier.critical", findings.Counts.Critical),
		attribute.Int("tier.review", findings.Counts.Review),
	)
	return findings, nil
}
