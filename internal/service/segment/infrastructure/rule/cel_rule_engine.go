// Package rule adapts cel-go to the segment RuleEngine port.
package rule

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"storepulse/internal/service/segment/domain"
)

const evalCostLimit = 10000

// CELRuleEngine compiles expression criteria such as `frequency >= 3 && monetary > 500`.
type CELRuleEngine struct {
	env *cel.Env
}

func NewCELRuleEngine() (*CELRuleEngine, error) {
	env, err := cel.NewEnv(
		cel.Variable("recency_days", cel.IntType),
		cel.Variable("frequency", cel.IntType),
		cel.Variable("monetary", cel.DoubleType),
		cel.Variable("profit", cel.DoubleType),
		cel.Variable("distinct_products", cel.IntType),
		cel.Variable("tenure_days", cel.IntType),
		cel.CrossTypeNumericComparisons(true),
	)
	if err != nil {
		return nil, fmt.Errorf("build cel environment: %w", err)
	}
	return &CELRuleEngine{env: env}, nil
}

func (e *CELRuleEngine) Compile(source string) (domain.Rule, error) {
	ast, iss := e.env.Compile(source)
	if iss != nil && iss.Err() != nil {
		return nil, iss.Err()
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("expression must evaluate to bool, got %s", ast.OutputType())
	}
	prg, err := e.env.Program(ast, cel.CostLimit(evalCostLimit))
	if err != nil {
		return nil, err
	}
	return &celRule{prg: prg}, nil
}

type celRule struct {
	prg cel.Program
}

func (r *celRule) Eval(f domain.Fact) (bool, error) {
	out, _, err := r.prg.Eval(map[string]any{
		"recency_days":      f.RecencyDays,
		"frequency":         f.Frequency,
		"monetary":          f.Monetary,
		"profit":            f.Profit,
		"distinct_products": f.DistinctProducts,
		"tenure_days":       f.TenureDays,
	})
	if err != nil {
		return false, err
	}
	matched, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression returned %T, want bool", out.Value())
	}
	return matched, nil
}
