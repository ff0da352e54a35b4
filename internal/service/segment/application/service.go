package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"storepulse/internal/pkg/apperr"
	"storepulse/internal/pkg/logger"
	"storepulse/internal/pkg/tenant"
	"storepulse/internal/service/segment/domain"
)

// SegmentService implements the segment use cases on top of the store and the recalculation engine.
type SegmentService struct {
	repo   domain.SegmentRepository
	engine *RecalculationEngine
	rules  domain.RuleEngine
	tracer trace.Tracer
	now    func() time.Time
}

func NewSegmentService(repo domain.SegmentRepository, engine *RecalculationEngine, rules domain.RuleEngine, tracer trace.Tracer) *SegmentService {
	return &SegmentService{repo: repo, engine: engine, rules: rules, tracer: tracer, now: time.Now}
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// parseCriteria normalizes a raw blob and checks that any expression compiles.
func (s *SegmentService) parseCriteria(raw []byte) (domain.Criteria, error) {
	c, err := domain.ParseCriteria(raw)
	if err != nil {
		return domain.Criteria{}, err
	}
	if _, err := c.Compile(s.rules); err != nil {
		return domain.Criteria{}, err
	}
	return c, nil
}

// CreateSegment stores a new segment and computes its membership right away.
func (s *SegmentService) CreateSegment(ctx context.Context, scope tenant.Scope, req *CreateSegmentRequest) (*SegmentDTO, error) {
	ctx, span := s.tracer.Start(ctx, "service.CreateSegment")
	defer span.End()
	span.SetAttributes(attribute.String("tenant.user_id", scope.UserID), attribute.String("segment.type", req.Type))

	criteria, err := s.parseCriteria(req.Criteria)
	if err != nil {
		return nil, fail(span, err)
	}
	seg, err := domain.NewSegment(scope, req.Name, domain.SegmentType(req.Type), req.Description, criteria, s.now())
	if err != nil {
		return nil, fail(span, err)
	}
	if err := s.repo.Create(ctx, seg); err != nil {
		return nil, fail(span, apperr.Upstream("create segment", err))
	}
	span.SetAttributes(attribute.String("segment.id", seg.ID))
	logger.Ctx(ctx).Info().Str("segment_id", seg.ID).Str("name", seg.Name).Msg("segment created")

	if err := s.engine.Recalculate(ctx, seg.ID, scope); err != nil {
		return nil, fail(span, err)
	}
	return s.reload(ctx, scope, seg.ID)
}

// UpdateSegment applies a partial update. Membership is recalculated only when the criteria change.
func (s *SegmentService) UpdateSegment(ctx context.Context, scope tenant.Scope, id string, req *UpdateSegmentRequest) (*SegmentDTO, error) {
	ctx, span := s.tracer.Start(ctx, "service.UpdateSegment")
	defer span.End()
	span.SetAttributes(attribute.String("segment.id", id))

	current, err := s.repo.FindByID(ctx, scope, id)
	if err != nil {
		return nil, fail(span, apperr.Upstream("load segment", err, domain.ErrSegmentNotFound))
	}

	patch := domain.Patch{Name: req.Name, Description: req.Description}
	if req.Type != nil {
		t := domain.SegmentType(*req.Type)
		patch.Type = &t
	}
	if len(req.Criteria) > 0 {
		c, err := s.parseCriteria(req.Criteria)
		if err != nil {
			return nil, fail(span, err)
		}
		patch.Criteria = &c
	}

	next, criteriaChanged, err := current.Apply(patch, s.now())
	if err != nil {
		return nil, fail(span, err)
	}
	if err := s.repo.Update(ctx, &next); err != nil {
		return nil, fail(span, apperr.Upstream("update segment", err, domain.ErrSegmentNotFound))
	}
	span.SetAttributes(attribute.Bool("segment.criteria_changed", criteriaChanged))

	if !criteriaChanged {
		return toSegmentDTO(&next), nil
	}
	if err := s.engine.Recalculate(ctx, id, scope); err != nil {
		return nil, fail(span, err)
	}
	return s.reload(ctx, scope, id)
}

func (s *SegmentService) RecalculateSegment(ctx context.Context, scope tenant.Scope, id string) error {
	ctx, span := s.tracer.Start(ctx, "service.RecalculateSegment")
	defer span.End()
	if err := s.engine.Recalculate(ctx, id, scope); err != nil {
		return fail(span, err)
	}
	return nil
}

func (s *SegmentService) ListSegments(ctx context.Context, scope tenant.Scope) ([]*SegmentDTO, error) {
	ctx, span := s.tracer.Start(ctx, "service.ListSegments")
	defer span.End()

	segs, err := s.repo.List(ctx, scope)
	if err != nil {
		return nil, fail(span, apperr.Upstream("list segments", err))
	}
	out := make([]*SegmentDTO, 0, len(segs))
	for _, seg := range segs {
		out = append(out, toSegmentDTO(seg))
	}
	span.SetAttributes(attribute.Int("segment.count", len(out)))
	return out, nil
}

// GetSegmentMembers lists members newest first. limit is clamped to [1, MaxMembersPage].
func (s *SegmentService) GetSegmentMembers(ctx context.Context, scope tenant.Scope, id string, limit int) ([]MemberDTO, error) {
	ctx, span := s.tracer.Start(ctx, "service.GetSegmentMembers")
	defer span.End()
	limit = domain.ClampMembersLimit(limit)
	span.SetAttributes(attribute.String("segment.id", id), attribute.Int("limit", limit))

	if _, err := s.repo.FindByID(ctx, scope, id); err != nil {
		return nil, fail(span, apperr.Upstream("load segment", err, domain.ErrSegmentNotFound))
	}
	members, err := s.repo.Members(ctx, id, limit)
	if err != nil {
		return nil, fail(span, apperr.Upstream("list members", err))
	}
	out := make([]MemberDTO, 0, len(members))
	for _, m := range members {
		out = append(out, toMemberDTO(m))
	}
	return out, nil
}

func (s *SegmentService) DeleteSegment(ctx context.Context, scope tenant.Scope, id string) error {
	ctx, span := s.tracer.Start(ctx, "service.DeleteSegment")
	defer span.End()
	span.SetAttributes(attribute.String("segment.id", id))

	if err := s.repo.Delete(ctx, scope, id); err != nil {
		return fail(span, apperr.Upstream("delete segment", err, domain.ErrSegmentNotFound))
	}
	logger.Ctx(ctx).Info().Str("segment_id", id).Msg("segment deleted")
	return nil
}

// RecalculateTenant recalculates every segment of scope with at most concurrency in flight.
// onDone, when set, is called once per segment. All segments are attempted; the first error is returned.
func (s *SegmentService) RecalculateTenant(ctx context.Context, scope tenant.Scope, concurrency int, onDone func(segmentID string, err error)) (int, error) {
	ctx, span := s.tracer.Start(ctx, "service.RecalculateTenant")
	defer span.End()

	segs, err := s.repo.List(ctx, scope)
	if err != nil {
		return 0, fail(span, apperr.Upstream("list segments", err))
	}
	span.SetAttributes(attribute.Int("segment.count", len(segs)))
	if concurrency <= 0 {
		concurrency = 1
	}

	var g errgroup.Group
	g.SetLimit(concurrency)
	for _, seg := range segs {
		id := seg.ID
		g.Go(func() error {
			err := s.engine.Recalculate(ctx, id, scope)
			if onDone != nil {
				onDone(id, err)
			}
			if err != nil {
				return fmt.Errorf("segment %s: %w", id, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return len(segs), fail(span, err)
	}
	return len(segs), nil
}

func (s *SegmentService) reload(ctx context.Context, scope tenant.Scope, id string) (*SegmentDTO, error) {
	seg, err := s.repo.FindByID(ctx, scope, id)
	if err != nil {
		if errors.Is(err, domain.ErrSegmentNotFound) {
			// Deleted concurrently after its recalculation.
			return nil, err
		}
		return nil, apperr.Upstream("reload segment", err)
	}
	return toSegmentDTO(seg), nil
}
