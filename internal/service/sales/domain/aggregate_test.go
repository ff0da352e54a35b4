package domain

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func sale(order string, amount float64, product string, daysAgo int) SaleRecord {
	return SaleRecord{
		OrderID:     order,
		TotalAmount: amount,
		Profit:      amount / 4,
		ProductID:   product,
		SaleDate:    base.AddDate(0, 0, -daysAgo),
	}
}

func TestAggregate_Empty(t *testing.T) {
	assert.Empty(t, Aggregate(nil))
	assert.Empty(t, Aggregate([]SaleRecord{}))
}

func TestAggregate_GroupsByOrderID(t *testing.T) {
	sales := []SaleRecord{
		sale("c1", 100, "p1", 10),
		sale("c2", 50, "p1", 3),
		sale("c1", 200, "p2", 1),
		sale("c1", 25, "p1", 30),
	}

	aggs := Aggregate(sales)
	require.Len(t, aggs, 2)

	c1 := aggs["c1"]
	assert.Equal(t, "c1", c1.CustomerID)
	assert.Equal(t, 3, c1.OrderCount())
	assert.InDelta(t, 325, c1.TotalRevenue, 1e-9)
	assert.InDelta(t, 81.25, c1.TotalProfit, 1e-9)
	assert.Equal(t, 2, c1.DistinctProductCount())
	assert.Equal(t, base.AddDate(0, 0, -30), c1.FirstOrderDate)
	assert.Equal(t, base.AddDate(0, 0, -1), c1.LastOrderDate)

	// input order is kept
	assert.Equal(t, 100.0, c1.Orders[0].TotalAmount)
	assert.Equal(t, 25.0, c1.Orders[2].TotalAmount)
}

func TestAggregate_MissingIdentityGoesToUnknown(t *testing.T) {
	aggs := Aggregate([]SaleRecord{sale("", 10, "p1", 1), sale("", 5, "", 2), sale("c1", 1, "p1", 1)})

	require.Contains(t, aggs, UnknownCustomerID)
	assert.Equal(t, 2, aggs[UnknownCustomerID].OrderCount())
	assert.Equal(t, 1, aggs[UnknownCustomerID].DistinctProductCount(), "empty product ids are not counted")
}

func TestAggregate_Invariants(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	customers := []string{"a", "b", "c", "", "d"}

	for round := 0; round < 50; round++ {
		n := rng.Intn(200)
		sales := make([]SaleRecord, 0, n)
		var total float64
		for i := 0; i < n; i++ {
			amount := float64(rng.Intn(100000)) / 100
			total += amount
			sales = append(sales, sale(customers[rng.Intn(len(customers))], amount, "p", rng.Intn(400)))
		}

		aggs := Aggregate(sales)
		var sum float64
		orders := 0
		for _, agg := range aggs {
			sum += agg.TotalRevenue
			orders += agg.OrderCount()
			assert.False(t, agg.FirstOrderDate.After(agg.LastOrderDate))
			for _, o := range agg.Orders {
				assert.False(t, o.SaleDate.Before(agg.FirstOrderDate))
				assert.False(t, o.SaleDate.After(agg.LastOrderDate))
			}
		}
		assert.InDelta(t, total, sum, 1e-6)
		assert.Equal(t, n, orders)
	}
}

func TestAggregate_OrderIndependentTotals(t *testing.T) {
	sales := []SaleRecord{sale("a", 10, "p1", 1), sale("b", 20, "p2", 2), sale("a", 30, "p3", 3), sale("b", 5, "p2", 9)}
	reversed := make([]SaleRecord, len(sales))
	for i, s := range sales {
		reversed[len(sales)-1-i] = s
	}

	x, y := Aggregate(sales), Aggregate(reversed)
	for id, agg := range x {
		assert.InDelta(t, agg.TotalRevenue, y[id].TotalRevenue, 1e-9)
		assert.Equal(t, agg.FirstOrderDate, y[id].FirstOrderDate)
		assert.Equal(t, agg.LastOrderDate, y[id].LastOrderDate)
		assert.Equal(t, agg.Products, y[id].Products)
	}
}

func TestSaleQuery_EffectiveLimit(t *testing.T) {
	assert.Equal(t, MaxSalesWindow, SaleQuery{}.EffectiveLimit())
	assert.Equal(t, MaxSalesWindow, SaleQuery{Limit: MaxSalesWindow + 1}.EffectiveLimit())
	assert.Equal(t, 25, SaleQuery{Limit: 25}.EffectiveLimit())
}
