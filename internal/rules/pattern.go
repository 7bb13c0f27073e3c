package rules

import (
	"fmt"

	"github.com/google/cel-go/cel"
	celast "github.com/google/cel-go/common/ast"
	"github.com/google/cel-go/common/operators"
	"github.com/opensource-finance/harrier/internal/domain"
)

// patternOps is the closed operator grammar for custom-pattern rules:
// equality, inequality, set membership, and the logical connectives that
// combine them. Anything else fails the rule-set load, not per record.
var patternOps = map[string]bool{
	operators.Equals:     true,
	operators.NotEquals:  true,
	operators.In:         true,
	operators.LogicalAnd: true,
	operators.LogicalOr:  true,
	operators.LogicalNot: true,
}

// newPatternEnv declares the record fields visible to pattern expressions.
func newPatternEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("id", cel.StringType),
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("currency", cel.StringType),
		cel.Variable("client_id", cel.StringType),
		cel.Variable("origin_country", cel.StringType),
		cel.Variable("dest_country", cel.StringType),
	)
}

// compilePattern compiles a custom-pattern expression and rejects any
// expression that leaves the closed grammar or does not produce a bool.
func compilePattern(env *cel.Env, r *domain.Rule) (cel.Program, error) {
	ast, issues := env.Compile(r.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, &domain.ConfigurationError{
			Field:  fmt.Sprintf("rule %q expression", r.Name),
			Reason: fmt.Sprintf("failed to compile: %v", issues.Err()),
		}
	}

	if ast.OutputType() != cel.BoolType {
		return nil, &domain.ConfigurationError{
			Field:  fmt.Sprintf("rule %q expression", r.Name),
			Reason: fmt.Sprintf("pattern must produce bool, got %s", ast.OutputType()),
		}
	}

	if err := checkPatternGrammar(r.Name, ast); err != nil {
		return nil, err
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, &domain.ConfigurationError{
			Field:  fmt.Sprintf("rule %q expression", r.Name),
			Reason: fmt.Sprintf("failed to plan program: %v", err),
		}
	}
	return program, nil
}

// checkPatternGrammar walks the checked AST and rejects any call outside
// the closed operator set.
func checkPatternGrammar(name string, ast *cel.Ast) error {
	root := celast.NavigateAST(ast.NativeRep())
	for _, call := range celast.MatchDescendants(root, celast.KindMatcher(celast.CallKind)) {
		fn := call.AsCall().FunctionName()
		if !patternOps[fn] {
			return &domain.ConfigurationError{
				Field:  fmt.Sprintf("rule %q expression", name),
				Reason: fmt.Sprintf("operator %q is outside the supported pattern grammar", fn),
			}
		}
	}
	return nil
}

// patternActivation exposes a record's scalar fields to a pattern program.
func patternActivation(rec *domain.Record) map[string]any {
	return map[string]any{
		"id":             rec.ID,
		"amount":         rec.Amount,
		"currency":       rec.Currency,
		"client_id":      rec.ClientID,
		"origin_country": rec.OriginCountry,
		"dest_country":   rec.DestCountry,
	}
}
