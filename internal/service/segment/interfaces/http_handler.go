package interfaces

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"storepulse/internal/pkg/httpx"
	"storepulse/internal/pkg/logger"
	"storepulse/internal/pkg/tenant"
	"storepulse/internal/service/segment/application"
	"storepulse/internal/service/segment/domain"
)

const maxBodyBytes = 1 << 20

// SegmentUseCases is what the HTTP layer needs from the application service.
type SegmentUseCases interface {
	CreateSegment(ctx context.Context, scope tenant.Scope, req *application.CreateSegmentRequest) (*application.SegmentDTO, error)
	UpdateSegment(ctx context.Context, scope tenant.Scope, id string, req *application.UpdateSegmentRequest) (*application.SegmentDTO, error)
	RecalculateSegment(ctx context.Context, scope tenant.Scope, id string) error
	ListSegments(ctx context.Context, scope tenant.Scope) ([]*application.SegmentDTO, error)
	GetSegmentMembers(ctx context.Context, scope tenant.Scope, id string, limit int) ([]application.MemberDTO, error)
	DeleteSegment(ctx context.Context, scope tenant.Scope, id string) error
}

type SegmentHandler struct {
	service SegmentUseCases
}

func NewSegmentHandler(service SegmentUseCases) *SegmentHandler {
	return &SegmentHandler{service: service}
}

// RegisterRoutes mounts the segment routes. r must already enforce the tenant scope.
func (h *SegmentHandler) RegisterRoutes(r chi.Router) {
	r.Route("/segments", func(r chi.Router) {
		r.Post("/", h.handleCreate)
		r.Get("/", h.handleList)
		r.Patch("/{id}", h.handleUpdate)
		r.Delete("/{id}", h.handleDelete)
		r.Post("/{id}/recalculate", h.handleRecalculate)
		r.Get("/{id}/members", h.handleMembers)
	})
}

func scopeOf(r *http.Request) tenant.Scope {
	scope, _ := tenant.FromContext(r.Context())
	return scope
}

func (h *SegmentHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req application.CreateSegmentRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	seg, err := h.service.CreateSegment(r.Context(), scopeOf(r), &req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, seg)
}

func (h *SegmentHandler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req application.UpdateSegmentRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	seg, err := h.service.UpdateSegment(r.Context(), scopeOf(r), chi.URLParam(r, "id"), &req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, seg)
}

func (h *SegmentHandler) handleRecalculate(w http.ResponseWriter, r *http.Request) {
	if err := h.service.RecalculateSegment(r.Context(), scopeOf(r), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *SegmentHandler) handleList(w http.ResponseWriter, r *http.Request) {
	segs, err := h.service.ListSegments(r.Context(), scopeOf(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, segs)
}

func (h *SegmentHandler) handleMembers(w http.ResponseWriter, r *http.Request) {
	limit := domain.DefaultMembersPage
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = v
	}
	members, err := h.service.GetSegmentMembers(r.Context(), scopeOf(r), chi.URLParam(r, "id"), limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, members)
}

func (h *SegmentHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteSegment(r.Context(), scopeOf(r), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"success": true})
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrSegmentNotFound):
		httpx.WriteError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domain.ErrInvalidSegment),
		errors.Is(err, domain.ErrInvalidCriteria):
		httpx.WriteError(w, http.StatusBadRequest, "validation_failed", err.Error())
	case errors.Is(err, domain.ErrUpstreamUnavailable):
		logger.Ctx(r.Context()).Error().Err(err).Msg("upstream failure")
		httpx.WriteError(w, http.StatusInternalServerError, "upstream_failure", "a backing service is unavailable")
	default:
		logger.Ctx(r.Context()).Error().Err(err).Msg("unexpected error")
		httpx.WriteError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
