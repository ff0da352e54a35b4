// Package domain builds the cohort reports from customer aggregates. Builders are pure.
package domain

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	salesdomain "storepulse/internal/service/sales/domain"
)

// percent returns part/total*100 rounded to two decimals, or 0 when total is 0.
func percent(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return ratio(float64(part)*100, float64(total))
}

func ratio(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return decimal.NewFromFloat(num).
		DivRound(decimal.NewFromFloat(den), 8).
		Round(2).
		InexactFloat64()
}

type RepeatPurchaseReport struct {
	WindowDays               int         `json:"windowDays"`
	TotalCustomers           int         `json:"totalCustomers"`
	OneTimeCustomers         int         `json:"oneTimeCustomers"`
	RepeatCustomers          int         `json:"repeatCustomers"`
	RepeatRate               float64     `json:"repeatRate"`
	AverageOrdersPerCustomer float64     `json:"averageOrdersPerCustomer"`
	RepeatPurchaseRate       float64     `json:"repeatPurchaseRate"`
	CustomersByOrderCount    map[int]int `json:"customersByOrderCount"`
}

// BuildRepeatPurchase computes the repeat-purchase figures. RepeatPurchaseRate counts repeat
// customers with at least one order other than their first dated on or after now-windowDays.
// The first order is excluded by position, so a second order sharing the first order's
// timestamp still counts as a repeat.
func BuildRepeatPurchase(aggs map[string]*salesdomain.CustomerAggregate, windowDays int, now time.Time) RepeatPurchaseReport {
	cutoff := now.AddDate(0, 0, -windowDays)
	r := RepeatPurchaseReport{
		WindowDays:            windowDays,
		TotalCustomers:        len(aggs),
		CustomersByOrderCount: make(map[int]int),
	}

	totalOrders, recentRepeaters := 0, 0
	for _, agg := range aggs {
		n := agg.OrderCount()
		totalOrders += n
		r.CustomersByOrderCount[n]++
		if n == 1 {
			r.OneTimeCustomers++
			continue
		}
		r.RepeatCustomers++
		if hasRepeatSince(agg.Orders, cutoff) {
			recentRepeaters++
		}
	}

	r.RepeatRate = percent(r.RepeatCustomers, r.TotalCustomers)
	r.RepeatPurchaseRate = percent(recentRepeaters, r.TotalCustomers)
	r.AverageOrdersPerCustomer = ratio(float64(totalOrders), float64(r.TotalCustomers))
	return r
}

func hasRepeatSince(orders []salesdomain.SaleRecord, cutoff time.Time) bool {
	first := 0
	for i := 1; i < len(orders); i++ {
		if orders[i].SaleDate.Before(orders[first].SaleDate) {
			first = i
		}
	}
	for i, o := range orders {
		if i != first && !o.SaleDate.Before(cutoff) {
			return true
		}
	}
	return false
}

type FunnelStages struct {
	Visitors        int `json:"visitors"`
	Interested      int `json:"interested"`
	AddedToCart     int `json:"addedToCart"`
	Checkout        int `json:"checkout"`
	Purchased       int `json:"purchased"`
	RepeatPurchased int `json:"repeatPurchased"`
}

type FunnelConversion struct {
	VisitorToInterested float64 `json:"visitorToInterested"`
	InterestedToCart    float64 `json:"interestedToCart"`
	CartToCheckout      float64 `json:"cartToCheckout"`
	CheckoutToPurchase  float64 `json:"checkoutToPurchase"`
	PurchaseToRepeat    float64 `json:"purchaseToRepeat"`
}

type FunnelReport struct {
	Start      time.Time        `json:"start"`
	End        time.Time        `json:"end"`
	Stages     FunnelStages     `json:"stages"`
	Conversion FunnelConversion `json:"conversion"`
}

// BuildFunnel derives the funnel from the customers that bought in [start, end].
// Browsing and cart stages are not visible in sales data and stay zero; every checkout is a purchase.
func BuildFunnel(aggs map[string]*salesdomain.CustomerAggregate, start, end time.Time) FunnelReport {
	customers := len(aggs)
	repeat := 0
	for _, agg := range aggs {
		if agg.OrderCount() > 1 {
			repeat++
		}
	}
	r := FunnelReport{
		Start: start,
		End:   end,
		Stages: FunnelStages{
			Visitors:        customers,
			Checkout:        customers,
			Purchased:       customers,
			RepeatPurchased: repeat,
		},
	}
	// Every recorded checkout is a purchase, so this stage is 100 even for an empty range.
	r.Conversion.CheckoutToPurchase = 100
	r.Conversion.PurchaseToRepeat = percent(repeat, customers)
	return r
}

const (
	MaxRecommendations       = 10
	RecommendationConfidence = 75
	CustomerNotFoundMessage  = "customer not found"
	NoCategoryMessage        = "no category history for customer"
)

type Recommendation struct {
	ProductID   string  `json:"productId"`
	ProductName string  `json:"productName"`
	Category    string  `json:"category"`
	Price       float64 `json:"price"`
	Confidence  int     `json:"confidence"`
	Reason      string  `json:"reason"`
}

type RecommendationReport struct {
	CustomerID      string           `json:"customerId"`
	TopCategory     string           `json:"topCategory,omitempty"`
	Recommendations []Recommendation `json:"recommendations"`
	Message         string           `json:"message,omitempty"`
}

func CustomerNotFound(customerID string) RecommendationReport {
	return RecommendationReport{
		CustomerID:      customerID,
		Recommendations: []Recommendation{},
		Message:         CustomerNotFoundMessage,
	}
}

// TopCategory returns the category with the highest revenue across orders.
// Ties go to the alphabetically first category; uncategorized sales are ignored.
func TopCategory(orders []salesdomain.SaleRecord) (string, bool) {
	revenue := make(map[string]float64)
	for _, o := range orders {
		if o.CategoryName == "" {
			continue
		}
		revenue[o.CategoryName] += o.TotalAmount
	}
	if len(revenue) == 0 {
		return "", false
	}
	names := make([]string, 0, len(revenue))
	for name := range revenue {
		names = append(names, name)
	}
	sort.Strings(names)
	best := names[0]
	for _, name := range names[1:] {
		if revenue[name] > revenue[best] {
			best = name
		}
	}
	return best, true
}

// PurchasedProductIDs lists the distinct products in orders, sorted.
func PurchasedProductIDs(orders []salesdomain.SaleRecord) []string {
	seen := make(map[string]struct{})
	for _, o := range orders {
		if o.ProductID != "" {
			seen[o.ProductID] = struct{}{}
		}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// BuildRecommendations ranks candidates in catalog order, skipping purchased products,
// up to MaxRecommendations.
func BuildRecommendations(customerID, category string, orders []salesdomain.SaleRecord, candidates []salesdomain.Product) RecommendationReport {
	purchased := make(map[string]struct{})
	for _, id := range PurchasedProductIDs(orders) {
		purchased[id] = struct{}{}
	}
	recs := make([]Recommendation, 0, MaxRecommendations)
	for _, p := range candidates {
		if len(recs) == MaxRecommendations {
			break
		}
		if _, ok := purchased[p.ID]; ok {
			continue
		}
		recs = append(recs, Recommendation{
			ProductID:   p.ID,
			ProductName: p.Name,
			Category:    p.CategoryName,
			Price:       p.Price,
			Confidence:  RecommendationConfidence,
			Reason:      "Based on your purchases in " + category,
		})
	}
	return RecommendationReport{CustomerID: customerID, TopCategory: category, Recommendations: recs}
}
