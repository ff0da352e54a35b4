package domain

import (
	"time"

	"github.com/google/uuid"
)

// SegmentRecalculated is emitted after membership of a segment has been replaced.
type SegmentRecalculated struct {
	EventID        string    `json:"event_id"`
	SegmentID      string    `json:"segment_id"`
	UserID         string    `json:"user_id"`
	OrganizationID string    `json:"organization_id,omitempty"`
	Name           string    `json:"name"`
	CustomerCount  int       `json:"customer_count"`
	TotalRevenue   float64   `json:"total_revenue"`
	AverageLTV     float64   `json:"average_ltv"`
	CalculatedAt   time.Time `json:"calculated_at"`
}

func NewSegmentRecalculated(s Segment, st Stats) SegmentRecalculated {
	return SegmentRecalculated{
		EventID:        uuid.NewString(),
		SegmentID:      s.ID,
		UserID:         s.Scope.UserID,
		OrganizationID: s.Scope.OrganizationID,
		Name:           s.Name,
		CustomerCount:  st.CustomerCount,
		TotalRevenue:   st.TotalRevenue,
		AverageLTV:     st.AverageLTV,
		CalculatedAt:   st.CalculatedAt,
	}
}

// SalesIngested announces that new sales landed for a tenant.
type SalesIngested struct {
	UserID         string `json:"user_id"`
	OrganizationID string `json:"organization_id,omitempty"`
}
