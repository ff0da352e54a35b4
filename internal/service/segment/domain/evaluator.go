package domain

import (
	"time"

	salesdomain "storepulse/internal/service/sales/domain"
)

const day = 24 * time.Hour

func wholeDays(d time.Duration) int64 { return int64(d / day) }

// RecencyDays is the number of whole days between the last order and asOf.
func RecencyDays(agg *salesdomain.CustomerAggregate, asOf time.Time) int64 {
	return wholeDays(asOf.Sub(agg.LastOrderDate))
}

// Matches decides membership of agg. Families are checked in order and the first failing bound
// ends the evaluation. An uncompiled or failing expression never matches.
func Matches(agg *salesdomain.CustomerAggregate, c Criteria, asOf time.Time) bool {
	if rfm := c.RFM; rfm != nil {
		if !rfm.Recency.Contains(float64(RecencyDays(agg, asOf))) {
			return false
		}
		if !rfm.Frequency.Contains(float64(agg.OrderCount())) {
			return false
		}
		if !rfm.Monetary.Contains(agg.TotalRevenue) {
			return false
		}
	}
	if b := c.Behavioral; b != nil {
		if b.MinOrders != nil && float64(agg.OrderCount()) < *b.MinOrders {
			return false
		}
		if b.MinRevenue != nil && agg.TotalRevenue < *b.MinRevenue {
			return false
		}
	}
	if e := c.Expression; e != nil {
		if !e.Compiled() {
			return false
		}
		ok, err := e.rule.Eval(NewFact(agg, asOf))
		if err != nil || !ok {
			return false
		}
	}
	return true
}
