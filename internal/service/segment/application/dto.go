package application

import (
	"encoding/json"
	"time"

	"storepulse/internal/service/segment/domain"
)

type CreateSegmentRequest struct {
	Name        string          `json:"name"`
	Type        string          `json:"type"`
	Description string          `json:"description,omitempty"`
	Criteria    json.RawMessage `json:"criteria,omitempty"`
}

// UpdateSegmentRequest is a partial update. Absent fields are left untouched.
type UpdateSegmentRequest struct {
	Name        *string         `json:"name,omitempty"`
	Type        *string         `json:"type,omitempty"`
	Description *string         `json:"description,omitempty"`
	Criteria    json.RawMessage `json:"criteria,omitempty"`
}

type SegmentDTO struct {
	ID               string          `json:"id"`
	UserID           string          `json:"userId"`
	OrganizationID   string          `json:"organizationId,omitempty"`
	Name             string          `json:"name"`
	Description      string          `json:"description,omitempty"`
	Type             string          `json:"type"`
	Criteria         domain.Criteria `json:"criteria"`
	CustomerCount    int             `json:"customerCount"`
	TotalRevenue     float64         `json:"totalRevenue"`
	AverageLTV       float64         `json:"averageLTV"`
	LastCalculatedAt *time.Time      `json:"lastCalculatedAt,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

type MemberDTO struct {
	ID           string          `json:"id"`
	SegmentID    string          `json:"segmentId"`
	CustomerID   string          `json:"customerId"`
	CustomerData domain.Snapshot `json:"customerData"`
	CreatedAt    time.Time       `json:"createdAt"`
}

func toSegmentDTO(s *domain.Segment) *SegmentDTO {
	return &SegmentDTO{
		ID:               s.ID,
		UserID:           s.Scope.UserID,
		OrganizationID:   s.Scope.OrganizationID,
		Name:             s.Name,
		Description:      s.Description,
		Type:             string(s.Type),
		Criteria:         s.Criteria,
		CustomerCount:    s.CustomerCount,
		TotalRevenue:     s.TotalRevenue,
		AverageLTV:       s.AverageLTV,
		LastCalculatedAt: s.LastCalculatedAt,
		CreatedAt:        s.CreatedAt,
		UpdatedAt:        s.UpdatedAt,
	}
}

func toMemberDTO(m domain.Member) MemberDTO {
	return MemberDTO{
		ID:           m.ID,
		SegmentID:    m.SegmentID,
		CustomerID:   m.CustomerID,
		CustomerData: m.Snapshot,
		CreatedAt:    m.CreatedAt,
	}
}
