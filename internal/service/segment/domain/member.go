package domain

import (
	"time"

	"github.com/google/uuid"

	salesdomain "storepulse/internal/service/sales/domain"
)

// MaxMembersPage caps a single member listing.
const MaxMembersPage = 1000

// DefaultMembersPage is used when the caller gives no limit.
const DefaultMembersPage = 100

// Snapshot freezes a customer's metrics at recalculation time.
type Snapshot struct {
	TotalRevenue   float64   `json:"totalRevenue"`
	TotalProfit    float64   `json:"totalProfit"`
	OrderCount     int       `json:"orderCount"`
	ProductCount   int       `json:"productCount"`
	FirstOrderDate time.Time `json:"firstOrderDate"`
	LastOrderDate  time.Time `json:"lastOrderDate"`
}

type Member struct {
	ID         string
	SegmentID  string
	CustomerID string
	Snapshot   Snapshot
	CreatedAt  time.Time
}

func NewMember(segmentID string, agg *salesdomain.CustomerAggregate, now time.Time) Member {
	return Member{
		ID:         uuid.NewString(),
		SegmentID:  segmentID,
		CustomerID: agg.CustomerID,
		Snapshot: Snapshot{
			TotalRevenue:   agg.TotalRevenue,
			TotalProfit:    agg.TotalProfit,
			OrderCount:     agg.OrderCount(),
			ProductCount:   agg.DistinctProductCount(),
			FirstOrderDate: agg.FirstOrderDate,
			LastOrderDate:  agg.LastOrderDate,
		},
		CreatedAt: now,
	}
}

// ClampMembersLimit maps a requested page size onto [1, MaxMembersPage].
func ClampMembersLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultMembersPage
	case limit > MaxMembersPage:
		return MaxMembersPage
	default:
		return limit
	}
}
