package application

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"storepulse/internal/pkg/apperr"
	"storepulse/internal/pkg/logger"
	"storepulse/internal/pkg/tenant"
	"storepulse/internal/service/cohort/domain"
	"storepulse/internal/service/cohort/domain/port"
	salesdomain "storepulse/internal/service/sales/domain"
)

const (
	RepeatPurchaseTTL  = time.Hour
	FunnelTTL          = 30 * time.Minute
	RecommendationsTTL = time.Hour

	DefaultRepeatWindowDays = 90
	MaxRepeatWindowDays     = 3650
	DefaultFunnelDays       = 30

	// computeTimeout bounds a shared report computation, which no longer follows any single caller's context.
	computeTimeout = time.Minute
)

// CohortService serves the cohort reports through the result cache. Identical misses inside
// one process share a single computation.
type CohortService struct {
	sales   salesdomain.SaleRepository
	catalog salesdomain.ProductCatalog
	cache   port.ReportCache
	tracer  trace.Tracer
	now     func() time.Time

	flight singleflight.Group
}

func NewCohortService(sales salesdomain.SaleRepository, catalog salesdomain.ProductCatalog, cache port.ReportCache, tracer trace.Tracer) *CohortService {
	return &CohortService{sales: sales, catalog: catalog, cache: cache, tracer: tracer, now: time.Now}
}

// tenantPrefix is the key prefix of every report cached for scope.
func tenantPrefix(scope tenant.Scope) string {
	return "cohort:" + scope.Key() + ":"
}

func reportKey(scope tenant.Scope, report string, params ...string) string {
	key := tenantPrefix(scope) + report
	for _, p := range params {
		key += ":" + p
	}
	return key
}

func cached[T any](ctx context.Context, s *CohortService, key string, ttl time.Duration, compute func(ctx context.Context) (*T, error)) (*T, error) {
	span := trace.SpanFromContext(ctx)
	var hit T
	found, err := s.cache.Get(ctx, key, &hit)
	if err != nil {
		return nil, apperr.Upstream("read report cache", err)
	}
	span.SetAttributes(attribute.Bool("cache.hit", found))
	if found {
		return &hit, nil
	}

	ch := s.flight.DoChan(key, func() (any, error) {
		// Callers leave on their own context; the computation keeps going for whoever still waits.
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), computeTimeout)
		defer cancel()
		report, err := compute(cctx)
		if err != nil {
			return nil, err
		}
		if err := s.cache.Set(cctx, key, report, ttl); err != nil {
			return nil, apperr.Upstream("write report cache", err)
		}
		return report, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		span.SetAttributes(attribute.Bool("cache.shared", res.Shared))
		return res.Val.(*T), nil
	}
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func (s *CohortService) aggregates(ctx context.Context, q salesdomain.SaleQuery) (map[string]*salesdomain.CustomerAggregate, error) {
	sales, err := s.sales.FindSales(ctx, q)
	if err != nil {
		return nil, apperr.Upstream("load sales", err)
	}
	if len(sales) >= salesdomain.MaxSalesWindow {
		logger.Ctx(ctx).Warn().Int("window", salesdomain.MaxSalesWindow).Msg("sales window saturated, report covers the most recent sales only")
	}
	return salesdomain.Aggregate(sales), nil
}

// RepeatPurchaseAnalysis reports repeat behaviour. days <= 0 selects the 90 day default.
func (s *CohortService) RepeatPurchaseAnalysis(ctx context.Context, scope tenant.Scope, days int) (*domain.RepeatPurchaseReport, error) {
	ctx, span := s.tracer.Start(ctx, "service.RepeatPurchaseAnalysis")
	defer span.End()

	if days <= 0 {
		days = DefaultRepeatWindowDays
	}
	if days > MaxRepeatWindowDays {
		return nil, fail(span, fmt.Errorf("%w: days must be at most %d", domain.ErrInvalidParameter, MaxRepeatWindowDays))
	}
	span.SetAttributes(attribute.String("tenant", scope.Key()), attribute.Int("window_days", days))

	report, err := cached(ctx, s, reportKey(scope, "repeat-purchase", strconv.Itoa(days)), RepeatPurchaseTTL,
		func(ctx context.Context) (*domain.RepeatPurchaseReport, error) {
			aggs, err := s.aggregates(ctx, salesdomain.SaleQuery{Scope: scope, Limit: salesdomain.MaxSalesWindow})
			if err != nil {
				return nil, err
			}
			r := domain.BuildRepeatPurchase(aggs, days, s.now())
			return &r, nil
		})
	if err != nil {
		return nil, fail(span, err)
	}
	return report, nil
}

// FunnelRange resolves the optional bounds. A missing end is now, a missing start is 30 days before end.
func (s *CohortService) FunnelRange(start, end *time.Time) (time.Time, time.Time, error) {
	to := s.now().UTC().Truncate(time.Minute)
	if end != nil {
		to = end.UTC()
	}
	from := to.AddDate(0, 0, -DefaultFunnelDays)
	if start != nil {
		from = start.UTC()
	}
	if from.After(to) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: start is after end", domain.ErrInvalidParameter)
	}
	return from, to, nil
}

func (s *CohortService) SalesFunnel(ctx context.Context, scope tenant.Scope, start, end *time.Time) (*domain.FunnelReport, error) {
	ctx, span := s.tracer.Start(ctx, "service.SalesFunnel")
	defer span.End()

	from, to, err := s.FunnelRange(start, end)
	if err != nil {
		return nil, fail(span, err)
	}
	span.SetAttributes(
		attribute.String("tenant", scope.Key()),
		attribute.String("range.start", from.Format(time.RFC3339)),
		attribute.String("range.end", to.Format(time.RFC3339)),
	)

	key := reportKey(scope, "funnel", strconv.FormatInt(from.Unix(), 10), strconv.FormatInt(to.Unix(), 10))
	report, err := cached(ctx, s, key, FunnelTTL, func(ctx context.Context) (*domain.FunnelReport, error) {
		aggs, err := s.aggregates(ctx, salesdomain.SaleQuery{Scope: scope, From: &from, To: &to, Limit: salesdomain.MaxSalesWindow})
		if err != nil {
			return nil, err
		}
		r := domain.BuildFunnel(aggs, from, to)
		return &r, nil
	})
	if err != nil {
		return nil, fail(span, err)
	}
	return report, nil
}

// PersonalizedRecommendations suggests products from the customer's top category.
// A customer without sales yields an empty report with a message, not an error.
func (s *CohortService) PersonalizedRecommendations(ctx context.Context, scope tenant.Scope, customerID string) (*domain.RecommendationReport, error) {
	ctx, span := s.tracer.Start(ctx, "service.PersonalizedRecommendations")
	defer span.End()

	if customerID == "" {
		return nil, fail(span, fmt.Errorf("%w: customer id is required", domain.ErrInvalidParameter))
	}
	span.SetAttributes(attribute.String("tenant", scope.Key()), attribute.String("customer.id", customerID))

	report, err := cached(ctx, s, reportKey(scope, "recommendations", url.QueryEscape(customerID)), RecommendationsTTL,
		func(ctx context.Context) (*domain.RecommendationReport, error) {
			return s.recommend(ctx, scope, customerID)
		})
	if err != nil {
		return nil, fail(span, err)
	}
	return report, nil
}

func (s *CohortService) recommend(ctx context.Context, scope tenant.Scope, customerID string) (*domain.RecommendationReport, error) {
	orders, err := s.sales.FindSales(ctx, salesdomain.SaleQuery{Scope: scope, CustomerID: customerID, Limit: salesdomain.MaxSalesWindow})
	if err != nil {
		return nil, apperr.Upstream("load customer sales", err)
	}
	if len(orders) == 0 {
		r := domain.CustomerNotFound(customerID)
		return &r, nil
	}

	category, ok := domain.TopCategory(orders)
	if !ok {
		return &domain.RecommendationReport{
			CustomerID:      customerID,
			Recommendations: []domain.Recommendation{},
			Message:         domain.NoCategoryMessage,
		}, nil
	}
	candidates, err := s.catalog.FindByCategory(ctx, scope, category, domain.PurchasedProductIDs(orders), domain.MaxRecommendations)
	if err != nil {
		return nil, apperr.Upstream("load category products", err)
	}
	r := domain.BuildRecommendations(customerID, category, orders, candidates)
	return &r, nil
}

// InvalidateTenant drops every cached report of scope.
func (s *CohortService) InvalidateTenant(ctx context.Context, scope tenant.Scope) error {
	if err := s.cache.Invalidate(ctx, tenantPrefix(scope)); err != nil {
		return apperr.Upstream("invalidate report cache", err)
	}
	return nil
}
