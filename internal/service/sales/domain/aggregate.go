package domain

import "time"

// UnknownCustomerID groups sale records that carry no order id.
const UnknownCustomerID = "unknown"

// CustomerAggregate is the transient per-customer rollup of sale records.
type CustomerAggregate struct {
	CustomerID     string
	Orders         []SaleRecord
	TotalRevenue   float64
	TotalProfit    float64
	Products       map[string]struct{}
	FirstOrderDate time.Time
	LastOrderDate  time.Time
}

func (a *CustomerAggregate) OrderCount() int { return len(a.Orders) }

func (a *CustomerAggregate) DistinctProductCount() int { return len(a.Products) }

func (a *CustomerAggregate) add(s SaleRecord) {
	if len(a.Orders) == 0 {
		a.FirstOrderDate = s.SaleDate
		a.LastOrderDate = s.SaleDate
	} else {
		if s.SaleDate.Before(a.FirstOrderDate) {
			a.FirstOrderDate = s.SaleDate
		}
		if s.SaleDate.After(a.LastOrderDate) {
			a.LastOrderDate = s.SaleDate
		}
	}
	a.Orders = append(a.Orders, s)
	a.TotalRevenue += s.TotalAmount
	a.TotalProfit += s.Profit
	if s.ProductID != "" {
		a.Products[s.ProductID] = struct{}{}
	}
}

// Aggregate groups sales by customer identity. Orders keep their input order.
func Aggregate(sales []SaleRecord) map[string]*CustomerAggregate {
	out := make(map[string]*CustomerAggregate)
	for _, s := range sales {
		id := s.OrderID
		if id == "" {
			id = UnknownCustomerID
		}
		agg, ok := out[id]
		if !ok {
			agg = &CustomerAggregate{CustomerID: id, Products: make(map[string]struct{})}
			out[id] = agg
		}
		agg.add(s)
	}
	return out
}
