package infrastructure

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"storepulse/internal/pkg/httpclient"
	"storepulse/internal/service/sales/domain"
)

// ServiceResolver finds a live instance of a named service.
type ServiceResolver interface {
	DiscoverServiceInstance(serviceName string) (string, int, error)
}

// LedgerHTTPAdapter reads sales from the upstream sales-ledger service.
// With a resolver the instance is discovered per call, otherwise baseURL is used.
type LedgerHTTPAdapter struct {
	client      *httpclient.Client
	resolver    ServiceResolver
	serviceName string
	baseURL     string
	timeout     time.Duration
}

func NewLedgerHTTPAdapter(client *httpclient.Client, resolver ServiceResolver, serviceName, baseURL string, timeout time.Duration) *LedgerHTTPAdapter {
	return &LedgerHTTPAdapter{
		client:      client,
		resolver:    resolver,
		serviceName: serviceName,
		baseURL:     baseURL,
		timeout:     timeout,
	}
}

type ledgerSalesResponse struct {
	Sales []domain.SaleRecord `json:"sales"`
}

func (a *LedgerHTTPAdapter) endpoint() (string, error) {
	if a.resolver == nil {
		if a.baseURL == "" {
			return "", fmt.Errorf("ledger base url is not configured")
		}
		return a.baseURL, nil
	}
	ip, port, err := a.resolver.DiscoverServiceInstance(a.serviceName)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("http://%s:%d", ip, port), nil
}

func (a *LedgerHTTPAdapter) FindSales(ctx context.Context, q domain.SaleQuery) ([]domain.SaleRecord, error) {
	base, err := a.endpoint()
	if err != nil {
		return nil, fmt.Errorf("resolve sales ledger: %w", err)
	}
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	params := url.Values{}
	params.Set("user_id", q.Scope.UserID)
	if q.Scope.OrganizationID != "" {
		params.Set("organization_id", q.Scope.OrganizationID)
	}
	if q.From != nil {
		params.Set("from", q.From.UTC().Format(time.RFC3339))
	}
	if q.To != nil {
		params.Set("to", q.To.UTC().Format(time.RFC3339))
	}
	if q.CustomerID != "" {
		params.Set("order_id", q.CustomerID)
	}
	params.Set("limit", strconv.Itoa(q.EffectiveLimit()))

	var resp ledgerSalesResponse
	if err := a.client.GetJSON(ctx, base+"/api/v1/sales", params, &resp); err != nil {
		return nil, fmt.Errorf("fetch sales from ledger: %w", err)
	}
	// The ledger is not trusted to honour the window.
	if len(resp.Sales) > q.EffectiveLimit() {
		resp.Sales = resp.Sales[:q.EffectiveLimit()]
	}
	return resp.Sales, nil
}
