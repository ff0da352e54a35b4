package interfaces

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"storepulse/internal/pkg/logger"
	"storepulse/internal/pkg/tenant"
	"storepulse/internal/service/segment/domain"
)

type TenantRecalculator interface {
	RecalculateTenant(ctx context.Context, scope tenant.Scope, concurrency int, onDone func(segmentID string, err error)) (int, error)
}

// TenantCacheInvalidator drops cached reports that depend on a tenant's sales.
type TenantCacheInvalidator interface {
	InvalidateTenant(ctx context.Context, scope tenant.Scope) error
}

// SalesIngestedHandler reacts to sales.ingested: cached reports of the tenant are dropped and
// every segment of the tenant is recalculated.
type SalesIngestedHandler struct {
	segments    TenantRecalculator
	invalidator TenantCacheInvalidator
	concurrency int
}

func NewSalesIngestedHandler(segments TenantRecalculator, invalidator TenantCacheInvalidator, concurrency int) *SalesIngestedHandler {
	return &SalesIngestedHandler{segments: segments, invalidator: invalidator, concurrency: concurrency}
}

// Handle has the mq.HandlerFunc signature.
func (h *SalesIngestedHandler) Handle(ctx context.Context, msg kafka.Message) error {
	var evt domain.SalesIngested
	if err := json.Unmarshal(msg.Value, &evt); err != nil {
		return fmt.Errorf("decode sales.ingested: %w", err)
	}
	scope := tenant.Scope{UserID: evt.UserID, OrganizationID: evt.OrganizationID}
	if err := scope.Validate(); err != nil {
		return fmt.Errorf("sales.ingested without tenant: %w", err)
	}
	log := logger.Ctx(ctx).With().Str("tenant", scope.Key()).Logger()

	if h.invalidator != nil {
		if err := h.invalidator.InvalidateTenant(ctx, scope); err != nil {
			log.Warn().Err(err).Msg("failed to invalidate cached reports")
		}
	}
	n, err := h.segments.RecalculateTenant(ctx, scope, h.concurrency, nil)
	if err != nil {
		return err
	}
	log.Info().Int("segments", n).Msg("tenant segments recalculated after ingestion")
	return nil
}
