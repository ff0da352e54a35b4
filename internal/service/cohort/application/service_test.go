package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"storepulse/internal/pkg/apperr"
	"storepulse/internal/pkg/cache"
	"storepulse/internal/pkg/tenant"
	"storepulse/internal/service/cohort/domain"
	salesdomain "storepulse/internal/service/sales/domain"
)

var (
	tenantA  = tenant.Scope{UserID: "u1", OrganizationID: "org1"}
	tenantB  = tenant.Scope{UserID: "u2"}
	fixedNow = time.Date(2024, 7, 1, 9, 30, 15, 0, time.UTC)
)

type fakeSales struct {
	mu      sync.Mutex
	byScope map[tenant.Scope][]salesdomain.SaleRecord
	queries []salesdomain.SaleQuery
	err     error

	// started and release, when set, hold every query until release is closed.
	started chan struct{}
	release chan struct{}
}

func (f *fakeSales) FindSales(ctx context.Context, q salesdomain.SaleQuery) ([]salesdomain.SaleRecord, error) {
	if f.release != nil {
		f.started <- struct{}{}
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	if f.err != nil {
		return nil, f.err
	}
	var out []salesdomain.SaleRecord
	for _, s := range f.byScope[q.Scope] {
		if q.CustomerID != "" && s.OrderID != q.CustomerID {
			continue
		}
		if q.From != nil && s.SaleDate.Before(*q.From) {
			continue
		}
		if q.To != nil && s.SaleDate.After(*q.To) {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func (f *fakeSales) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries)
}

type fakeCatalog struct {
	products []salesdomain.Product
	err      error
}

func (c *fakeCatalog) FindByCategory(_ context.Context, _ tenant.Scope, category string, excludeIDs []string, limit int) ([]salesdomain.Product, error) {
	if c.err != nil {
		return nil, c.err
	}
	skip := map[string]bool{}
	for _, id := range excludeIDs {
		skip[id] = true
	}
	var out []salesdomain.Product
	for _, p := range c.products {
		if p.CategoryName == category && !skip[p.ID] && len(out) < limit {
			out = append(out, p)
		}
	}
	return out, nil
}

func sale(customerID, productID, category string, amount float64, daysAgo int) salesdomain.SaleRecord {
	return salesdomain.SaleRecord{
		ID:           fmt.Sprintf("%s-%s-%d", customerID, productID, daysAgo),
		OrderID:      customerID,
		TotalAmount:  amount,
		ProductID:    productID,
		CategoryName: category,
		SaleDate:     fixedNow.AddDate(0, 0, -daysAgo),
	}
}

type fixture struct {
	mr      *miniredis.Miniredis
	sales   *fakeSales
	catalog *fakeCatalog
	svc     *CohortService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	fx := &fixture{
		mr:      mr,
		sales:   &fakeSales{byScope: map[tenant.Scope][]salesdomain.SaleRecord{}},
		catalog: &fakeCatalog{},
	}
	// The local tier is disabled so every read goes through redis.
	reports := cache.NewLayeredCache(cache.NewRedisCache(client, "test"), 0, 0)
	fx.svc = NewCohortService(fx.sales, fx.catalog, reports, noop.NewTracerProvider().Tracer("test"))
	fx.svc.now = func() time.Time { return fixedNow }
	return fx
}

func TestRepeatPurchaseAnalysis(t *testing.T) {
	fx := newFixture(t)
	fx.sales.byScope[tenantA] = []salesdomain.SaleRecord{
		sale("c1", "p1", "", 10, 1),
		sale("c2", "p1", "", 10, 1), sale("c2", "p2", "", 10, 20),
		sale("c3", "p1", "", 10, 1), sale("c3", "p2", "", 10, 2), sale("c3", "p3", "", 10, 3),
	}

	r, err := fx.svc.RepeatPurchaseAnalysis(context.Background(), tenantA, 0)
	require.NoError(t, err)

	assert.Equal(t, DefaultRepeatWindowDays, r.WindowDays)
	assert.Equal(t, 3, r.TotalCustomers)
	assert.Equal(t, 1, r.OneTimeCustomers)
	assert.Equal(t, 2, r.RepeatCustomers)
	assert.Equal(t, 66.67, r.RepeatRate)
	assert.Equal(t, salesdomain.MaxSalesWindow, fx.sales.queries[0].Limit)
}

func TestRepeatPurchaseAnalysis_CachedPerTenantAndWindow(t *testing.T) {
	fx := newFixture(t)
	fx.sales.byScope[tenantA] = []salesdomain.SaleRecord{sale("c1", "p1", "", 10, 1)}
	ctx := context.Background()

	first, err := fx.svc.RepeatPurchaseAnalysis(ctx, tenantA, 30)
	require.NoError(t, err)
	second, err := fx.svc.RepeatPurchaseAnalysis(ctx, tenantA, 30)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, fx.sales.calls(), "second read is served from the cache")
	assert.True(t, fx.mr.Exists("test:cohort:user:u1|org:org1:repeat-purchase:30"))

	_, err = fx.svc.RepeatPurchaseAnalysis(ctx, tenantA, 60)
	require.NoError(t, err)
	assert.Equal(t, 2, fx.sales.calls(), "a different window is a different key")

	ttl := fx.mr.TTL("test:cohort:user:u1|org:org1:repeat-purchase:30")
	assert.Equal(t, RepeatPurchaseTTL, ttl)
}

func TestCacheIsolationBetweenTenants(t *testing.T) {
	fx := newFixture(t)
	fx.sales.byScope[tenantA] = []salesdomain.SaleRecord{sale("c1", "p1", "", 10, 1)}
	fx.sales.byScope[tenantB] = []salesdomain.SaleRecord{
		sale("x1", "p1", "", 10, 1), sale("x1", "p2", "", 10, 2), sale("x2", "p1", "", 10, 1),
	}
	ctx := context.Background()

	a, err := fx.svc.RepeatPurchaseAnalysis(ctx, tenantA, 30)
	require.NoError(t, err)
	b, err := fx.svc.RepeatPurchaseAnalysis(ctx, tenantB, 30)
	require.NoError(t, err)

	assert.Equal(t, 1, a.TotalCustomers)
	assert.Equal(t, 2, b.TotalCustomers)
	assert.Equal(t, 2, fx.sales.calls())

	// Same user, different organization, is another tenant.
	sameUserOtherOrg := tenant.Scope{UserID: "u1", OrganizationID: "org2"}
	c, err := fx.svc.RepeatPurchaseAnalysis(ctx, sameUserOtherOrg, 30)
	require.NoError(t, err)
	assert.Equal(t, 0, c.TotalCustomers)
	assert.Equal(t, 3, fx.sales.calls())
}

func TestCacheIsolation_AdversarialTenantIDs(t *testing.T) {
	fx := newFixture(t)
	plain := tenant.Scope{UserID: "u9"}
	dashOrg := tenant.Scope{UserID: "u9", OrganizationID: "-"}
	fx.sales.byScope[plain] = []salesdomain.SaleRecord{sale("c1", "p1", "", 10, 1), sale("c2", "p1", "", 10, 1)}
	ctx := context.Background()

	r, err := fx.svc.RepeatPurchaseAnalysis(ctx, plain, 30)
	require.NoError(t, err)
	assert.Equal(t, 2, r.TotalCustomers)

	r, err = fx.svc.RepeatPurchaseAnalysis(ctx, dashOrg, 30)
	require.NoError(t, err)
	assert.Equal(t, 0, r.TotalCustomers, "an organization named - is not the empty organization")

	injected := tenant.Scope{UserID: "a|org:b"}
	fx.sales.byScope[tenant.Scope{UserID: "a", OrganizationID: "b|org:-"}] = []salesdomain.SaleRecord{sale("x", "p1", "", 10, 1)}
	_, err = fx.svc.RepeatPurchaseAnalysis(ctx, tenant.Scope{UserID: "a", OrganizationID: "b|org:-"}, 30)
	require.NoError(t, err)
	r, err = fx.svc.RepeatPurchaseAnalysis(ctx, injected, 30)
	require.NoError(t, err)
	assert.Equal(t, 0, r.TotalCustomers)
	assert.Equal(t, 4, fx.sales.calls(), "every scope computes its own report")
}

func TestInvalidateTenant_WildcardUserDoesNotTouchOthers(t *testing.T) {
	fx := newFixture(t)
	fx.sales.byScope[tenantA] = []salesdomain.SaleRecord{sale("c1", "p1", "", 10, 1)}
	ctx := context.Background()

	_, err := fx.svc.RepeatPurchaseAnalysis(ctx, tenantA, 30)
	require.NoError(t, err)

	require.NoError(t, fx.svc.InvalidateTenant(ctx, tenant.Scope{UserID: "*"}))
	require.NoError(t, fx.svc.InvalidateTenant(ctx, tenant.Scope{UserID: "u?", OrganizationID: "*"}))

	_, err = fx.svc.RepeatPurchaseAnalysis(ctx, tenantA, 30)
	require.NoError(t, err)
	assert.Equal(t, 1, fx.sales.calls(), "the cached report survives")
}

func TestSharedComputationSurvivesCallerCancellation(t *testing.T) {
	fx := newFixture(t)
	fx.sales.byScope[tenantA] = []salesdomain.SaleRecord{sale("c1", "p1", "", 10, 1), sale("c2", "p1", "", 10, 1)}
	fx.sales.started = make(chan struct{}, 1)
	fx.sales.release = make(chan struct{})

	cancelled, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := fx.svc.RepeatPurchaseAnalysis(cancelled, tenantA, 30)
		firstErr <- err
	}()
	<-fx.sales.started

	type result struct {
		report *domain.RepeatPurchaseReport
		err    error
	}
	second := make(chan result, 1)
	go func() {
		r, err := fx.svc.RepeatPurchaseAnalysis(context.Background(), tenantA, 30)
		second <- result{r, err}
	}()

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	// Give the second caller time to join the flight that is still blocked.
	time.Sleep(50 * time.Millisecond)
	close(fx.sales.release)
	got := <-second
	require.NoError(t, got.err)
	assert.Equal(t, 2, got.report.TotalCustomers)
	assert.Equal(t, 1, fx.sales.calls())
	assert.True(t, fx.mr.Exists("test:cohort:user:u1|org:org1:repeat-purchase:30"), "the shared result is still cached")
}

func TestRepeatPurchaseAnalysis_InvalidWindow(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.svc.RepeatPurchaseAnalysis(context.Background(), tenantA, MaxRepeatWindowDays+1)
	assert.ErrorIs(t, err, domain.ErrInvalidParameter)
	assert.Equal(t, 0, fx.sales.calls())
}

func TestSalesFunnel(t *testing.T) {
	fx := newFixture(t)
	fx.sales.byScope[tenantA] = []salesdomain.SaleRecord{
		sale("c1", "p1", "", 10, 1), sale("c2", "p1", "", 10, 2), sale("c3", "p1", "", 10, 3),
		sale("c4", "p1", "", 10, 4), sale("c4", "p2", "", 10, 5),
		sale("c5", "p1", "", 10, 6), sale("c5", "p2", "", 10, 7),
		sale("old", "p1", "", 10, 90),
	}
	start := fixedNow.AddDate(0, 0, -10)
	end := fixedNow

	r, err := fx.svc.SalesFunnel(context.Background(), tenantA, &start, &end)
	require.NoError(t, err)

	assert.Equal(t, domain.FunnelStages{Visitors: 5, Checkout: 5, Purchased: 5, RepeatPurchased: 2}, r.Stages)
	assert.Equal(t, 100.0, r.Conversion.CheckoutToPurchase)
	assert.Equal(t, 40.0, r.Conversion.PurchaseToRepeat)
	require.NotNil(t, fx.sales.queries[0].From)
	assert.Equal(t, start, *fx.sales.queries[0].From)
}

func TestSalesFunnel_DefaultRange(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	r, err := fx.svc.SalesFunnel(ctx, tenantA, nil, nil)
	require.NoError(t, err)
	wantEnd := fixedNow.Truncate(time.Minute)
	assert.Equal(t, wantEnd, r.End)
	assert.Equal(t, wantEnd.AddDate(0, 0, -DefaultFunnelDays), r.Start)
	assert.Equal(t, domain.FunnelConversion{CheckoutToPurchase: 100}, r.Conversion)

	// A default request a few seconds later reuses the cached report.
	fx.svc.now = func() time.Time { return fixedNow.Add(20 * time.Second) }
	_, err = fx.svc.SalesFunnel(ctx, tenantA, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, fx.sales.calls())
}

func TestSalesFunnel_StartAfterEnd(t *testing.T) {
	fx := newFixture(t)
	start := fixedNow
	end := fixedNow.AddDate(0, 0, -1)

	_, err := fx.svc.SalesFunnel(context.Background(), tenantA, &start, &end)
	assert.ErrorIs(t, err, domain.ErrInvalidParameter)
}

func TestPersonalizedRecommendations(t *testing.T) {
	fx := newFixture(t)
	fx.sales.byScope[tenantA] = []salesdomain.SaleRecord{
		sale("c1", "b1", "Books", 30, 1),
		sale("c1", "b2", "Books", 30, 5),
		sale("c1", "g1", "Garden", 50, 3),
		sale("c2", "b3", "Books", 500, 3),
	}
	fx.catalog.products = []salesdomain.Product{
		{ID: "b1", Name: "Dune", CategoryName: "Books", Price: 12},
		{ID: "b3", Name: "Emma", CategoryName: "Books", Price: 9},
		{ID: "b4", Name: "Ulysses", CategoryName: "Books", Price: 15},
		{ID: "g2", Name: "Rake", CategoryName: "Garden", Price: 20},
	}

	r, err := fx.svc.PersonalizedRecommendations(context.Background(), tenantA, "c1")
	require.NoError(t, err)

	assert.Equal(t, "Books", r.TopCategory)
	assert.Empty(t, r.Message)
	require.Len(t, r.Recommendations, 2)
	assert.Equal(t, "b3", r.Recommendations[0].ProductID)
	assert.Equal(t, "b4", r.Recommendations[1].ProductID)
	assert.Equal(t, domain.RecommendationConfidence, r.Recommendations[0].Confidence)
	assert.Equal(t, "c1", fx.sales.queries[0].CustomerID)
}

func TestPersonalizedRecommendations_UnknownCustomer(t *testing.T) {
	fx := newFixture(t)

	r, err := fx.svc.PersonalizedRecommendations(context.Background(), tenantA, "ghost")
	require.NoError(t, err)
	assert.Empty(t, r.Recommendations)
	assert.NotNil(t, r.Recommendations)
	assert.Equal(t, domain.CustomerNotFoundMessage, r.Message)
}

func TestPersonalizedRecommendations_NoCategoryHistory(t *testing.T) {
	fx := newFixture(t)
	fx.sales.byScope[tenantA] = []salesdomain.SaleRecord{sale("c1", "p1", "", 10, 1)}

	r, err := fx.svc.PersonalizedRecommendations(context.Background(), tenantA, "c1")
	require.NoError(t, err)
	assert.Empty(t, r.Recommendations)
	assert.Equal(t, domain.NoCategoryMessage, r.Message)
}

func TestUpstreamFailures(t *testing.T) {
	fx := newFixture(t)
	fx.sales.err = errors.New("connection reset")
	ctx := context.Background()

	_, err := fx.svc.RepeatPurchaseAnalysis(ctx, tenantA, 30)
	assert.ErrorIs(t, err, apperr.ErrUpstreamUnavailable)

	fx.sales.err = nil
	fx.sales.byScope[tenantA] = []salesdomain.SaleRecord{sale("c1", "b1", "Books", 10, 1)}
	fx.catalog.err = errors.New("catalog timeout")
	_, err = fx.svc.PersonalizedRecommendations(ctx, tenantA, "c1")
	assert.ErrorIs(t, err, apperr.ErrUpstreamUnavailable)

	fx.mr.SetError("LOADING redis is loading the dataset")
	_, err = fx.svc.RepeatPurchaseAnalysis(ctx, tenantA, 45)
	assert.ErrorIs(t, err, apperr.ErrUpstreamUnavailable, "cache outages surface as upstream failures")
}

func TestInvalidateTenant(t *testing.T) {
	fx := newFixture(t)
	fx.sales.byScope[tenantA] = []salesdomain.SaleRecord{sale("c1", "p1", "", 10, 1)}
	fx.sales.byScope[tenantB] = []salesdomain.SaleRecord{sale("x1", "p1", "", 10, 1)}
	ctx := context.Background()

	_, err := fx.svc.RepeatPurchaseAnalysis(ctx, tenantA, 30)
	require.NoError(t, err)
	_, err = fx.svc.RepeatPurchaseAnalysis(ctx, tenantB, 30)
	require.NoError(t, err)

	require.NoError(t, fx.svc.InvalidateTenant(ctx, tenantA))

	_, err = fx.svc.RepeatPurchaseAnalysis(ctx, tenantA, 30)
	require.NoError(t, err)
	_, err = fx.svc.RepeatPurchaseAnalysis(ctx, tenantB, 30)
	require.NoError(t, err)
	assert.Equal(t, 3, fx.sales.calls(), "only the invalidated tenant is recomputed")
}
