package infrastructure

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// SegmentModel maps the customer_segments table.
type SegmentModel struct {
	ID               string          `gorm:"primaryKey;type:varchar(36)"`
	UserID           string          `gorm:"type:varchar(64);not null;index:idx_segments_scope,priority:1"`
	OrganizationID   string          `gorm:"type:varchar(64);index:idx_segments_scope,priority:2"`
	Name             string          `gorm:"type:varchar(255);not null"`
	Description      string          `gorm:"type:text"`
	Type             string          `gorm:"type:varchar(32);not null"`
	Criteria         datatypes.JSON  `gorm:"type:json"`
	CustomerCount    int             `gorm:"not null;default:0"`
	TotalRevenue     decimal.Decimal `gorm:"type:decimal(16,2);not null;default:0"`
	AverageLTV       decimal.Decimal `gorm:"type:decimal(16,2);not null;default:0"`
	LastCalculatedAt *time.Time
	CreatedAt        time.Time `gorm:"index"`
	UpdatedAt        time.Time

	Members []SegmentMemberModel `gorm:"foreignKey:SegmentID;constraint:OnDelete:CASCADE"`
}

func (SegmentModel) TableName() string {
	return "customer_segments"
}

// SegmentMemberModel maps the segment_members table. CustomerData is the snapshot taken at recalculation time.
type SegmentMemberModel struct {
	ID           string         `gorm:"primaryKey;type:varchar(36)"`
	SegmentID    string         `gorm:"type:varchar(36);not null;index:idx_members_segment_created,priority:1"`
	CustomerID   string         `gorm:"type:varchar(128);not null"`
	CustomerData datatypes.JSON `gorm:"type:json"`
	CreatedAt    time.Time      `gorm:"index:idx_members_segment_created,priority:2"`
}

func (SegmentMemberModel) TableName() string {
	return "segment_members"
}

func Models() []any {
	return []any{&SegmentModel{}, &SegmentMemberModel{}}
}
