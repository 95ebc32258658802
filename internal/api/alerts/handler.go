// Package alerts provides the alert listing and resolution endpoints.
package alerts

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pulsestream/pulsestream/internal/api/middleware"
	"github.com/pulsestream/pulsestream/internal/models"
	"github.com/pulsestream/pulsestream/internal/storage"
)

// Response helpers (local to avoid import cycle)

type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type dataResponse struct {
	Data any `json:"data"`
}

// Error codes
const (
	errCodeBadRequest    = "BAD_REQUEST"
	errCodeNotFound      = "NOT_FOUND"
	errCodeInternalError = "INTERNAL_ERROR"
)

func jsonError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(errorResponse{Error: errorBody{Code: code, Message: message}}); err != nil {
		log.Printf("json encode error: %v", err)
	}
}

func jsonOK(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(dataResponse{Data: data}); err != nil {
		log.Printf("json encode error: %v", err)
	}
}

// paginatedResponse wraps a list payload with paging info.
type paginatedResponse struct {
	Items      any   `json:"items"`
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	PerPage    int   `json:"per_page"`
	TotalPages int   `json:"total_pages"`
}

// Handler handles alert endpoints.
type Handler struct {
	alerts storage.AlertRepository
}

func NewHandler(alerts storage.AlertRepository) *Handler {
	return &Handler{alerts: alerts}
}

// List handles GET /api/v1/alerts with status filter and pagination.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r.Context())
	q := r.URL.Query()

	var status models.AlertStatus
	switch s := q.Get("status"); s {
	case "":
	case "active", "resolved", "suppressed":
		status = models.AlertStatus(s)
	default:
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid status filter")
		return
	}

	page := 1
	perPage := 50
	if v, err := strconv.Atoi(q.Get("page")); err == nil && v > 0 {
		page = v
	}
	if v, err := strconv.Atoi(q.Get("per_page")); err == nil && v > 0 && v <= 200 {
		perPage = v
	}

	items, total, err := h.alerts.List(r.Context(), tenantID, status, perPage, (page-1)*perPage)
	if err != nil {
		log.Printf("list alerts for tenant %s: %v", tenantID, err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "Internal server error")
		return
	}

	totalPages := int(total) / perPage
	if int(total)%perPage != 0 {
		totalPages++
	}

	jsonOK(w, paginatedResponse{
		Items:      items,
		Total:      total,
		Page:       page,
		PerPage:    perPage,
		TotalPages: totalPages,
	})
}

// GetByID handles GET /api/v1/alerts/{id}.
func (h *Handler) GetByID(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r.Context())
	id := chi.URLParam(r, "id")

	alert, err := h.alerts.GetByID(r.Context(), tenantID, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			jsonError(w, http.StatusNotFound, errCodeNotFound, "alert not found")
			return
		}
		log.Printf("get alert %s: %v", id, err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "Internal server error")
		return
	}

	jsonOK(w, alert)
}

// ResolveRequest carries the operator's resolution details.
type ResolveRequest struct {
	ResolvedBy     string `json:"resolved_by"`
	ResolutionNote string `json:"resolution_note"`
}

// Resolve handles POST /api/v1/alerts/{id}/resolve.
func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(alert *models.Alert, req *ResolveRequest, now time.Time) {
		alert.Resolve(req.ResolvedBy, req.ResolutionNote, now)
	})
}

// Suppress handles POST /api/v1/alerts/{id}/suppress.
func (h *Handler) Suppress(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(alert *models.Alert, _ *ResolveRequest, now time.Time) {
		alert.Suppress(now)
	})
}

// Reactivate handles POST /api/v1/alerts/{id}/reactivate. Resolution
// fields are cleared.
func (h *Handler) Reactivate(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(alert *models.Alert, _ *ResolveRequest, now time.Time) {
		alert.Reactivate(now)
	})
}

// transition loads the alert, applies a status change, and persists it.
func (h *Handler) transition(w http.ResponseWriter, r *http.Request, apply func(*models.Alert, *ResolveRequest, time.Time)) {
	tenantID := middleware.GetTenantID(r.Context())
	id := chi.URLParam(r, "id")

	var req ResolveRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid request body")
			return
		}
	}

	alert, err := h.alerts.GetByID(r.Context(), tenantID, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			jsonError(w, http.StatusNotFound, errCodeNotFound, "alert not found")
			return
		}
		log.Printf("load alert %s: %v", id, err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "Internal server error")
		return
	}

	apply(alert, &req, time.Now().UTC())

	if err := h.alerts.Update(r.Context(), alert); err != nil {
		log.Printf("update alert %s: %v", id, err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "Internal server error")
		return
	}

	log.Printf("alert %s transitioned to %s", alert.ID, alert.Status)
	jsonOK(w, alert)
}
