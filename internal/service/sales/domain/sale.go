package domain

import (
	"context"
	"time"

	"storepulse/internal/pkg/tenant"
)

// MaxSalesWindow caps how many sale records a single query may return.
// Tenants above it are only partially aggregated until aggregation is streamed.
const MaxSalesWindow = 10000

// SaleRecord is one immutable line of the upstream sales ledger.
// OrderID stands in for the customer identity, which the ledger does not carry.
type SaleRecord struct {
	ID           string    `json:"id"`
	OrderID      string    `json:"order_id"`
	TotalAmount  float64   `json:"total_amount"`
	Profit       float64   `json:"profit"`
	ProductID    string    `json:"product_id"`
	ProductName  string    `json:"product_name,omitempty"`
	CategoryName string    `json:"category_name,omitempty"`
	SaleDate     time.Time `json:"sale_date"`
}

// SaleQuery selects sales inside one tenant scope. From and To are inclusive and optional.
type SaleQuery struct {
	Scope      tenant.Scope
	From       *time.Time
	To         *time.Time
	CustomerID string // optional; UnknownCustomerID selects records without an order id
	Limit      int
}

// EffectiveLimit clamps Limit to (0, MaxSalesWindow].
func (q SaleQuery) EffectiveLimit() int {
	if q.Limit <= 0 || q.Limit > MaxSalesWindow {
		return MaxSalesWindow
	}
	return q.Limit
}

// SaleRepository is the Sale Record Source. Results carry product and category data
// and are ordered newest first.
type SaleRepository interface {
	FindSales(ctx context.Context, q SaleQuery) ([]SaleRecord, error)
}

type Product struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	CategoryName string  `json:"category_name"`
	Price        float64 `json:"price"`
}

type ProductCatalog interface {
	// FindByCategory returns up to limit products of category, skipping excludeIDs.
	FindByCategory(ctx context.Context, scope tenant.Scope, category string, excludeIDs []string, limit int) ([]Product, error)
}
