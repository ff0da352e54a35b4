package interfaces

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"storepulse/internal/pkg/apperr"
	"storepulse/internal/pkg/httpx"
	"storepulse/internal/pkg/logger"
	"storepulse/internal/pkg/tenant"
	"storepulse/internal/service/cohort/domain"
)

const dateOnly = "2006-01-02"

type CohortReports interface {
	RepeatPurchaseAnalysis(ctx context.Context, scope tenant.Scope, days int) (*domain.RepeatPurchaseReport, error)
	SalesFunnel(ctx context.Context, scope tenant.Scope, start, end *time.Time) (*domain.FunnelReport, error)
	PersonalizedRecommendations(ctx context.Context, scope tenant.Scope, customerID string) (*domain.RecommendationReport, error)
}

type AnalyticsHandler struct {
	reports CohortReports
}

func NewAnalyticsHandler(reports CohortReports) *AnalyticsHandler {
	return &AnalyticsHandler{reports: reports}
}

// RegisterRoutes mounts the report routes. r must already enforce the tenant scope.
func (h *AnalyticsHandler) RegisterRoutes(r chi.Router) {
	r.Route("/analytics", func(r chi.Router) {
		r.Get("/repeat-purchase", h.handleRepeatPurchase)
		r.Get("/funnel", h.handleFunnel)
		r.Get("/recommendations/{customerId}", h.handleRecommendations)
	})
}

func scopeOf(r *http.Request) tenant.Scope {
	scope, _ := tenant.FromContext(r.Context())
	return scope
}

func (h *AnalyticsHandler) handleRepeatPurchase(w http.ResponseWriter, r *http.Request) {
	days := 0
	if raw := r.URL.Query().Get("days"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "days must be a positive integer")
			return
		}
		days = v
	}
	report, err := h.reports.RepeatPurchaseAnalysis(r.Context(), scopeOf(r), days)
	if err != nil {
		writeReportError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, report)
}

func (h *AnalyticsHandler) handleFunnel(w http.ResponseWriter, r *http.Request) {
	start, err := parseBound(r.URL.Query().Get("start"), false)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	end, err := parseBound(r.URL.Query().Get("end"), true)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	report, err := h.reports.SalesFunnel(r.Context(), scopeOf(r), start, end)
	if err != nil {
		writeReportError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, report)
}

func (h *AnalyticsHandler) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	report, err := h.reports.PersonalizedRecommendations(r.Context(), scopeOf(r), chi.URLParam(r, "customerId"))
	if err != nil {
		writeReportError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, report)
}

// parseBound accepts RFC3339 or a bare date. A bare end date covers that whole day, up to the
// last microsecond, which is the finest precision mysql and postgres store.
func parseBound(raw string, end bool) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	t, err := time.Parse(dateOnly, raw)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q, want RFC3339 or YYYY-MM-DD", raw)
	}
	if end {
		t = t.AddDate(0, 0, 1).Add(-time.Microsecond)
	}
	return &t, nil
}

func writeReportError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidParameter):
		httpx.WriteError(w, http.StatusBadRequest, "validation_failed", err.Error())
	case errors.Is(err, apperr.ErrUpstreamUnavailable):
		logger.Ctx(r.Context()).Error().Err(err).Msg("upstream failure")
		httpx.WriteError(w, http.StatusInternalServerError, "upstream_failure", "a backing service is unavailable")
	default:
		logger.Ctx(r.Context()).Error().Err(err).Msg("unexpected error")
		httpx.WriteError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
