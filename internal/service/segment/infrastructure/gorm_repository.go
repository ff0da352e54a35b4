package infrastructure

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"storepulse/internal/pkg/tenant"
	"storepulse/internal/service/segment/domain"
)

const memberInsertBatch = 500

// GormSegmentRepository is the SegmentRepository backed by MySQL or PostgreSQL.
type GormSegmentRepository struct {
	db *gorm.DB
}

func NewGormSegmentRepository(db *gorm.DB) *GormSegmentRepository {
	return &GormSegmentRepository{db: db}
}

// inScope matches segments owned by exactly this user and organization.
func inScope(tx *gorm.DB, scope tenant.Scope) *gorm.DB {
	return tx.Where("user_id = ? AND organization_id = ?", scope.UserID, scope.OrganizationID)
}

func (r *GormSegmentRepository) Create(ctx context.Context, s *domain.Segment) error {
	model, err := fromDomainSegment(s)
	if err != nil {
		return errors.Wrap(err, "encode segment")
	}
	if err := r.db.WithContext(ctx).Omit("Members").Create(model).Error; err != nil {
		return errors.Wrap(err, "insert segment")
	}
	return nil
}

func (r *GormSegmentRepository) FindByID(ctx context.Context, scope tenant.Scope, id string) (*domain.Segment, error) {
	var model SegmentModel
	err := inScope(r.db.WithContext(ctx), scope).Where("id = ?", id).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrSegmentNotFound
		}
		return nil, errors.Wrap(err, "find segment")
	}
	return toDomainSegment(&model)
}

func (r *GormSegmentRepository) Update(ctx context.Context, s *domain.Segment) error {
	model, err := fromDomainSegment(s)
	if err != nil {
		return errors.Wrap(err, "encode segment")
	}
	res := inScope(r.db.WithContext(ctx).Model(&SegmentModel{}), s.Scope).
		Where("id = ?", s.ID).
		Updates(map[string]any{
			"name":        model.Name,
			"description": model.Description,
			"type":        model.Type,
			"criteria":    model.Criteria,
			"updated_at":  model.UpdatedAt,
		})
	if res.Error != nil {
		return errors.Wrap(res.Error, "update segment")
	}
	if res.RowsAffected == 0 {
		return domain.ErrSegmentNotFound
	}
	return nil
}

// Delete removes the segment and its members in one transaction.
func (r *GormSegmentRepository) Delete(ctx context.Context, scope tenant.Scope, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := inScope(tx.Model(&SegmentModel{}), scope).Where("id = ?", id).Count(&count).Error; err != nil {
			return errors.Wrap(err, "find segment")
		}
		if count == 0 {
			return domain.ErrSegmentNotFound
		}
		if err := tx.Where("segment_id = ?", id).Delete(&SegmentMemberModel{}).Error; err != nil {
			return errors.Wrap(err, "delete members")
		}
		if err := tx.Where("id = ?", id).Delete(&SegmentModel{}).Error; err != nil {
			return errors.Wrap(err, "delete segment")
		}
		return nil
	})
}

func (r *GormSegmentRepository) List(ctx context.Context, scope tenant.Scope) ([]*domain.Segment, error) {
	var models []SegmentModel
	if err := inScope(r.db.WithContext(ctx), scope).Order("created_at DESC, id DESC").Find(&models).Error; err != nil {
		return nil, errors.Wrap(err, "list segments")
	}
	out := make([]*domain.Segment, 0, len(models))
	for i := range models {
		seg, err := toDomainSegment(&models[i])
		if err != nil {
			return nil, errors.Wrapf(err, "decode segment %s", models[i].ID)
		}
		out = append(out, seg)
	}
	return out, nil
}

func (r *GormSegmentRepository) Members(ctx context.Context, segmentID string, limit int) ([]domain.Member, error) {
	var models []SegmentMemberModel
	err := r.db.WithContext(ctx).
		Where("segment_id = ?", segmentID).
		Order("created_at DESC, id ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, errors.Wrap(err, "list members")
	}
	out := make([]domain.Member, 0, len(models))
	for i := range models {
		m, err := toDomainMember(&models[i])
		if err != nil {
			return nil, errors.Wrapf(err, "decode member %s", models[i].ID)
		}
		out = append(out, m)
	}
	return out, nil
}

// ReplaceMembership deletes every member row, inserts the new set and writes the statistics
// in one transaction. A segment deleted in the meantime rolls everything back.
func (r *GormSegmentRepository) ReplaceMembership(ctx context.Context, segmentID string, members []domain.Member, stats domain.Stats) error {
	rows := make([]SegmentMemberModel, 0, len(members))
	for _, m := range members {
		row, err := fromDomainMember(m)
		if err != nil {
			return errors.Wrapf(err, "encode member %s", m.CustomerID)
		}
		rows = append(rows, row)
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		calculatedAt := stats.CalculatedAt
		res := tx.Model(&SegmentModel{}).Where("id = ?", segmentID).Updates(map[string]any{
			"customer_count":     stats.CustomerCount,
			"total_revenue":      money(stats.TotalRevenue),
			"average_ltv":        money(stats.AverageLTV),
			"last_calculated_at": &calculatedAt,
			"updated_at":         calculatedAt,
		})
		if res.Error != nil {
			return errors.Wrap(res.Error, "update segment stats")
		}
		if res.RowsAffected == 0 {
			return domain.ErrSegmentNotFound
		}
		if err := tx.Where("segment_id = ?", segmentID).Delete(&SegmentMemberModel{}).Error; err != nil {
			return errors.Wrap(err, "delete members")
		}
		if len(rows) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(rows, memberInsertBatch).Error; err != nil {
			return errors.Wrap(err, "insert members")
		}
		return nil
	})
}
