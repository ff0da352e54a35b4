package infrastructure

import (
	"encoding/json"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"storepulse/internal/pkg/tenant"
	"storepulse/internal/service/segment/domain"
)

func toDomainSegment(m *SegmentModel) (*domain.Segment, error) {
	criteria, err := domain.ParseCriteria(m.Criteria)
	if err != nil {
		return nil, err
	}
	return &domain.Segment{
		ID:               m.ID,
		Scope:            tenant.Scope{UserID: m.UserID, OrganizationID: m.OrganizationID},
		Name:             m.Name,
		Description:      m.Description,
		Type:             domain.SegmentType(m.Type),
		Criteria:         criteria,
		CustomerCount:    m.CustomerCount,
		TotalRevenue:     m.TotalRevenue.InexactFloat64(),
		AverageLTV:       m.AverageLTV.InexactFloat64(),
		LastCalculatedAt: m.LastCalculatedAt,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}, nil
}

func fromDomainSegment(s *domain.Segment) (*SegmentModel, error) {
	criteria, err := json.Marshal(s.Criteria)
	if err != nil {
		return nil, err
	}
	return &SegmentModel{
		ID:               s.ID,
		UserID:           s.Scope.UserID,
		OrganizationID:   s.Scope.OrganizationID,
		Name:             s.Name,
		Description:      s.Description,
		Type:             string(s.Type),
		Criteria:         datatypes.JSON(criteria),
		CustomerCount:    s.CustomerCount,
		TotalRevenue:     money(s.TotalRevenue),
		AverageLTV:       money(s.AverageLTV),
		LastCalculatedAt: s.LastCalculatedAt,
		CreatedAt:        s.CreatedAt,
		UpdatedAt:        s.UpdatedAt,
	}, nil
}

func toDomainMember(m *SegmentMemberModel) (domain.Member, error) {
	var snap domain.Snapshot
	if len(m.CustomerData) > 0 {
		if err := json.Unmarshal(m.CustomerData, &snap); err != nil {
			return domain.Member{}, err
		}
	}
	return domain.Member{
		ID:         m.ID,
		SegmentID:  m.SegmentID,
		CustomerID: m.CustomerID,
		Snapshot:   snap,
		CreatedAt:  m.CreatedAt,
	}, nil
}

func fromDomainMember(m domain.Member) (SegmentMemberModel, error) {
	data, err := json.Marshal(m.Snapshot)
	if err != nil {
		return SegmentMemberModel{}, err
	}
	return SegmentMemberModel{
		ID:           m.ID,
		SegmentID:    m.SegmentID,
		CustomerID:   m.CustomerID,
		CustomerData: datatypes.JSON(data),
		CreatedAt:    m.CreatedAt,
	}, nil
}

func money(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).Round(2)
}
