// Package rules implements the deterministic rule evaluator: a closed
// tagged-variant predicate set applied per record, independent of all other
// records in the batch.
package rules

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/opensource-finance/harrier/internal/domain"
)

// Evaluator applies the active rule set to one record at a time. Rules are
// validated and custom patterns compiled once at construction, so evaluation
// can assume well-formed parameters and treat anything else as a fatal
// configuration fault.
type Evaluator struct {
	rules []compiledRule
}

type compiledRule struct {
	rule *domain.Rule

	// program is set only for custom-pattern rules.
	program cel.Program
}

// NewEvaluator validates the rule set and compiles custom-pattern
// expressions. An empty rule set is valid and contributes nothing. Any
// malformed rule fails the whole load with a ConfigurationError.
func NewEvaluator(ruleset []*domain.Rule) (*Evaluator, error) {
	seen := make(map[string]bool, len(ruleset))

	var env *cel.Env
	compiled := make([]compiledRule, 0, len(ruleset))

	for _, r := range ruleset {
		if !r.Enabled {
			continue
		}
		if err := r.Validate(); err != nil {
			return nil, err
		}
		if seen[r.Name] {
			return nil, &domain.ConfigurationError{
				Field:  "rules",
				Reason: fmt.Sprintf("duplicate rule name %q", r.Name),
			}
		}
		seen[r.Name] = true

		cr := compiledRule{rule: r}
		if r.Kind == domain.KindCustomPattern {
			if env == nil {
				var err error
				env, err = newPatternEnv()
				if err != nil {
					return nil, fmt.Errorf("failed to create pattern environment: %w", err)
				}
			}
			program, err := compilePattern(env, r)
			if err != nil {
				return nil, err
			}
			cr.program = program
		}
		compiled = append(compiled, cr)
	}

	return &Evaluator{rules: compiled}, nil
}

// RulesCount returns the number of active rules.
func (e *Evaluator) RulesCount() int {
	return len(e.rules)
}

// Rules returns the active rule configurations in declaration order.
func (e *Evaluator) Rules() []*domain.Rule {
	out := make([]*domain.Rule, len(e.rules))
	for i, cr := range e.rules {
		out[i] = cr.rule
	}
	return out
}

// Evaluate produces the violations (possibly none) for one record.
// Violations come back in rule declaration order, so repeated runs over the
// same input and configuration are byte-identical. A parameter fault that
// only surfaces during evaluation is a ConfigurationError, never a silent
// per-record skip.
func (e *Evaluator) Evaluate(rec *domain.Record) ([]domain.Violation, error) {
	var violations []domain.Violation

	for _, cr := range e.rules {
		fired, reason, err := e.apply(cr, rec)
		if err != nil {
			return nil, err
		}
		if fired {
			violations = append(violations, domain.Violation{
				RecordID: rec.ID,
				RuleName: cr.rule.Name,
				Severity: cr.rule.Severity,
				Reason:   reason,
			})
		}
	}

	return violations, nil
}

// apply dispatches on the closed predicate kind set. The grammar is fixed
// and small, so exhaustive dispatch here is safer than a plugin mechanism.
func (e *Evaluator) apply(cr compiledRule, rec *domain.Record) (bool, string, error) {
	r := cr.rule

	switch r.Kind {
	case domain.KindAmountThreshold:
		if r.Threshold == nil {
			return false, "", &domain.ConfigurationError{
				Field:  fmt.Sprintf("rule %q threshold", r.Name),
				Reason: "threshold lost after load",
			}
		}
		// Inclusive: amount exactly at the threshold fires.
		if rec.Amount >= *r.Threshold {
			return true, fmt.Sprintf("amount %.2f meets or exceeds threshold %.2f", rec.Amount, *r.Threshold), nil
		}
		return false, "", nil

	case domain.KindMissingField:
		val, known := rec.Field(r.Field)
		// A structurally absent field counts as missing, the same as
		// present-but-empty.
		if !known || val == "" {
			return true, fmt.Sprintf("required field %q is missing or empty", r.Field), nil
		}
		return false, "", nil

	case domain.KindJurisdictionPair:
		for _, p := range r.Pairs {
			if rec.OriginCountry == p.Origin && rec.DestCountry == p.Dest {
				return true, fmt.Sprintf("jurisdiction pair %s->%s is on the watch-set", rec.OriginCountry, rec.DestCountry), nil
			}
			if r.Symmetric && rec.OriginCountry == p.Dest && rec.DestCountry == p.Origin {
				return true, fmt.Sprintf("jurisdiction pair %s->%s matches watched pair %s->%s (symmetric)", rec.OriginCountry, rec.DestCountry, p.Origin, p.Dest), nil
			}
		}
		return false, "", nil

	case domain.KindCustomPattern:
		out, _, err := cr.program.Eval(patternActivation(rec))
		if err != nil {
			return false, "", &domain.ConfigurationError{
				Field:  fmt.Sprintf("rule %q expression", r.Name),
				Reason: fmt.Sprintf("evaluation failed: %v", err),
			}
		}
		if out == types.True {
			return true, fmt.Sprintf("pattern %q matched", r.Expression), nil
		}
		return false, "", nil

	default:
		return false, "", &domain.ConfigurationError{
			Field:  fmt.Sprintf("rule %q kind", r.Name),
			Reason: fmt.Sprintf("unsupported predicate kind %q", r.Kind),
		}
	}
}
