package application

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"storepulse/internal/pkg/apperr"
	"storepulse/internal/pkg/logger"
	"storepulse/internal/pkg/tenant"
	salesdomain "storepulse/internal/service/sales/domain"
	"storepulse/internal/service/segment/domain"
	"storepulse/internal/service/segment/domain/port"
)

// RecalculationEngine rebuilds the membership of one segment from the tenant's sales.
type RecalculationEngine struct {
	segments  domain.SegmentRepository
	sales     salesdomain.SaleRepository
	rules     domain.RuleEngine
	locker    port.Locker
	publisher port.EventPublisher
	tracer    trace.Tracer

	now     func() time.Time
	timeout time.Duration
}

type EngineOption func(*RecalculationEngine)

// WithClock replaces time.Now as the asOf source.
func WithClock(now func() time.Time) EngineOption {
	return func(e *RecalculationEngine) { e.now = now }
}

// WithTimeout bounds one recalculation, lock wait included.
func WithTimeout(d time.Duration) EngineOption {
	return func(e *RecalculationEngine) { e.timeout = d }
}

// WithPublisher announces every completed recalculation.
func WithPublisher(p port.EventPublisher) EngineOption {
	return func(e *RecalculationEngine) { e.publisher = p }
}

func NewRecalculationEngine(
	segments domain.SegmentRepository,
	sales salesdomain.SaleRepository,
	rules domain.RuleEngine,
	locker port.Locker,
	tracer trace.Tracer,
	opts ...EngineOption,
) *RecalculationEngine {
	e := &RecalculationEngine{
		segments: segments,
		sales:    sales,
		rules:    rules,
		locker:   locker,
		tracer:   tracer,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Recalculate replaces the membership and statistics of segmentID. A segment that does not
// exist in scope is a no-op. Calls for the same segment are serialized.
func (e *RecalculationEngine) Recalculate(ctx context.Context, segmentID string, scope tenant.Scope) error {
	ctx, span := e.tracer.Start(ctx, "engine.Recalculate")
	defer span.End()
	span.SetAttributes(
		attribute.String("segment.id", segmentID),
		attribute.String("tenant.user_id", scope.UserID),
	)

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	start := time.Now()
	result, err := e.recalculateLocked(ctx, segmentID, scope)
	recalculationDuration.Observe(time.Since(start).Seconds())
	recalculationsTotal.WithLabelValues(result).Inc()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Ctx(ctx).Error().Err(err).Str("segment_id", segmentID).Msg("segment recalculation failed")
		return err
	}
	return nil
}

func (e *RecalculationEngine) recalculateLocked(ctx context.Context, segmentID string, scope tenant.Scope) (string, error) {
	release, err := e.locker.Acquire(ctx, segmentID)
	if err != nil {
		return "error", apperr.Upstream("acquire recalculation lock", err)
	}
	defer release()

	seg, err := e.segments.FindByID(ctx, scope, segmentID)
	if errors.Is(err, domain.ErrSegmentNotFound) {
		logger.Ctx(ctx).Debug().Str("segment_id", segmentID).Msg("segment vanished, skipping recalculation")
		return "skipped", nil
	}
	if err != nil {
		return "error", apperr.Upstream("load segment", err)
	}

	criteria, err := seg.Criteria.Compile(e.rules)
	if err != nil {
		return "error", err
	}

	sales, err := e.sales.FindSales(ctx, salesdomain.SaleQuery{Scope: seg.Scope, Limit: salesdomain.MaxSalesWindow})
	if err != nil {
		return "error", apperr.Upstream("load sales", err)
	}
	if len(sales) >= salesdomain.MaxSalesWindow {
		salesWindowSaturated.Inc()
		logger.Ctx(ctx).Warn().
			Str("segment_id", seg.ID).
			Int("window", salesdomain.MaxSalesWindow).
			Msg("sales window saturated, membership computed from the most recent sales only")
	}

	now := e.now()
	members := e.match(seg.ID, salesdomain.Aggregate(sales), criteria, now)
	stats := domain.ComputeStats(members, now)

	if err := e.segments.ReplaceMembership(ctx, seg.ID, members, stats); err != nil {
		return "error", apperr.Upstream("replace membership", err, domain.ErrSegmentNotFound)
	}
	recalculationMembers.Observe(float64(len(members)))
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.Int("segment.sales", len(sales)),
		attribute.Int("segment.members", stats.CustomerCount),
	)
	logger.Ctx(ctx).Info().
		Str("segment_id", seg.ID).
		Int("members", stats.CustomerCount).
		Float64("total_revenue", stats.TotalRevenue).
		Msg("segment recalculated")

	if e.publisher != nil {
		evt := domain.NewSegmentRecalculated(seg.WithStats(stats), stats)
		if err := e.publisher.PublishSegmentRecalculated(ctx, evt); err != nil {
			// Membership is already committed; the event is best effort.
			logger.Ctx(ctx).Warn().Err(err).Str("segment_id", seg.ID).Msg("failed to publish segment event")
		}
	}
	return "ok", nil
}

// match filters aggregates in customer id order so repeated runs insert members identically.
func (e *RecalculationEngine) match(segmentID string, aggs map[string]*salesdomain.CustomerAggregate, c domain.Criteria, asOf time.Time) []domain.Member {
	ids := make([]string, 0, len(aggs))
	for id := range aggs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	members := make([]domain.Member, 0)
	for _, id := range ids {
		if domain.Matches(aggs[id], c, asOf) {
			members = append(members, domain.NewMember(segmentID, aggs[id], asOf))
		}
	}
	return members
}
