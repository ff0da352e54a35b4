package domain

import (
	"context"

	"storepulse/internal/pkg/tenant"
)

// SegmentRepository is the Segment Store. Lookups by id are always scoped, so a segment of
// another tenant is reported as ErrSegmentNotFound.
type SegmentRepository interface {
	Create(ctx context.Context, s *Segment) error
	FindByID(ctx context.Context, scope tenant.Scope, id string) (*Segment, error)
	// Update persists the editable fields of s.
	Update(ctx context.Context, s *Segment) error
	Delete(ctx context.Context, scope tenant.Scope, id string) error
	// List returns the tenant's segments newest first.
	List(ctx context.Context, scope tenant.Scope) ([]*Segment, error)
	// Members returns up to limit members newest first.
	Members(ctx context.Context, segmentID string, limit int) ([]Member, error)
	// ReplaceMembership swaps the whole member set and the statistics in one unit.
	ReplaceMembership(ctx context.Context, segmentID string, members []Member, stats Stats) error
}
