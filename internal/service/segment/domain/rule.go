package domain

import (
	"fmt"
	"time"

	salesdomain "storepulse/internal/service/sales/domain"
)

// Fact is the view of a customer aggregate that expression rules are evaluated against.
type Fact struct {
	RecencyDays      int64
	Frequency        int64
	Monetary         float64
	Profit           float64
	DistinctProducts int64
	TenureDays       int64
}

func NewFact(agg *salesdomain.CustomerAggregate, asOf time.Time) Fact {
	return Fact{
		RecencyDays:      RecencyDays(agg, asOf),
		Frequency:        int64(agg.OrderCount()),
		Monetary:         agg.TotalRevenue,
		Profit:           agg.TotalProfit,
		DistinctProducts: int64(agg.DistinctProductCount()),
		TenureDays:       wholeDays(agg.LastOrderDate.Sub(agg.FirstOrderDate)),
	}
}

// Rule is a compiled expression.
type Rule interface {
	Eval(f Fact) (bool, error)
}

// RuleEngine compiles expression criteria. Compilation errors are validation failures.
type RuleEngine interface {
	Compile(source string) (Rule, error)
}

// Compile returns a copy of c whose expression, if any, is ready for evaluation.
func (c Criteria) Compile(engine RuleEngine) (Criteria, error) {
	if c.Expression == nil || c.Expression.Compiled() {
		return c, nil
	}
	if engine == nil {
		return Criteria{}, fmt.Errorf("%w: expression criteria are not enabled", ErrInvalidCriteria)
	}
	rule, err := engine.Compile(c.Expression.Source)
	if err != nil {
		return Criteria{}, fmt.Errorf("%w: %v", ErrInvalidCriteria, err)
	}
	expr := *c.Expression
	expr.rule = rule
	c.Expression = &expr
	return c, nil
}
