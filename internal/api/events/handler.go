// Package events provides the event ingestion and query endpoints.
package events

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pulsestream/pulsestream/internal/api/middleware"
	"github.com/pulsestream/pulsestream/internal/ingest"
	"github.com/pulsestream/pulsestream/internal/metrics"
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
	Details any    `json:"details,omitempty"`
}

type dataResponse struct {
	Data any `json:"data"`
}

// Error codes
const (
	errCodeBadRequest       = "BAD_REQUEST"
	errCodeValidationFailed = "VALIDATION_FAILED"
	errCodeNotFound         = "NOT_FOUND"
	errCodeUnauthorized     = "UNAUTHORIZED"
	errCodeForbidden        = "FORBIDDEN"
	errCodeRateLimited      = "RATE_LIMITED"
	errCodeInternalError    = "INTERNAL_ERROR"
)

func jsonError(w http.ResponseWriter, status int, code, message string) {
	jsonErrorDetails(w, status, code, message, nil)
}

func jsonErrorDetails(w http.ResponseWriter, status int, code, message string, details any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(errorResponse{Error: errorBody{Code: code, Message: message, Details: details}}); err != nil {
		log.Printf("json encode error: %v", err)
	}
}

func jsonData(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(dataResponse{Data: data}); err != nil {
		log.Printf("json encode error: %v", err)
	}
}

func jsonOK(w http.ResponseWriter, data any) {
	jsonData(w, http.StatusOK, data)
}

func jsonCreated(w http.ResponseWriter, data any) {
	jsonData(w, http.StatusCreated, data)
}

func jsonNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// paginatedResponse wraps a list payload with paging info.
type paginatedResponse struct {
	Items      any   `json:"items"`
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	PerPage    int   `json:"per_page"`
	TotalPages int   `json:"total_pages"`
}

// Handler handles event endpoints.
type Handler struct {
	tenants  storage.TenantRepository
	events   storage.EventRepository
	ingestor *ingest.Ingestor
}

// NewHandler creates an event handler. The event repository serves
// queries; writes go through the ingestor's own backend.
func NewHandler(tenants storage.TenantRepository, events storage.EventRepository, ingestor *ingest.Ingestor) *Handler {
	return &Handler{tenants: tenants, events: events, ingestor: ingestor}
}

// resolveTenant loads the authenticated tenant. Inactive or unknown
// tenants are rejected.
func (h *Handler) resolveTenant(w http.ResponseWriter, r *http.Request) *models.Tenant {
	tenantID := middleware.GetTenantID(r.Context())
	if tenantID == "" {
		jsonError(w, http.StatusUnauthorized, errCodeUnauthorized, "Authentication required")
		return nil
	}

	tenant, err := h.tenants.GetByID(r.Context(), tenantID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			jsonError(w, http.StatusForbidden, errCodeForbidden, "Access denied")
			return nil
		}
		log.Printf("resolve tenant %s: %v", tenantID, err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "Internal server error")
		return nil
	}
	if !tenant.IsActive {
		jsonError(w, http.StatusForbidden, errCodeForbidden, "Access denied")
		return nil
	}
	return tenant
}

// rateLimitDetails shapes the limiter state for a 429 body.
func rateLimitDetails(e *ingest.RateLimitError) map[string]any {
	return map[string]any{
		"limit":               e.Result.Limit,
		"remaining":           e.Result.Remaining,
		"reset_time":          e.Result.Reset.Format(time.RFC3339),
		"window_size_seconds": e.Result.WindowSeconds,
	}
}

// Ingest handles POST /api/v1/events.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	tenant := h.resolveTenant(w, r)
	if tenant == nil {
		return
	}

	var req ingest.EventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid request body")
		return
	}

	resp, err := h.ingestor.Ingest(r.Context(), tenant, &req)
	if err != nil {
		var rle *ingest.RateLimitError
		if errors.As(err, &rle) {
			metrics.RateLimitedTotal.WithLabelValues(tenant.ID).Inc()
			jsonErrorDetails(w, http.StatusTooManyRequests, errCodeRateLimited, "Rate limit exceeded", rateLimitDetails(rle))
			return
		}
		log.Printf("ingest event for tenant %s: %v", tenant.ID, err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "Internal server error")
		return
	}

	if !resp.Success {
		metrics.ValidationFailuresTotal.Inc()
		jsonErrorDetails(w, http.StatusBadRequest, errCodeValidationFailed, "event validation failed", resp.Errors)
		return
	}

	metrics.EventsIngestedTotal.WithLabelValues(tenant.ID).Inc()
	jsonCreated(w, resp)
}

// IngestBatch handles POST /api/v1/events/batch.
func (h *Handler) IngestBatch(w http.ResponseWriter, r *http.Request) {
	tenant := h.resolveTenant(w, r)
	if tenant == nil {
		return
	}

	var batch ingest.BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid request body")
		return
	}

	resp, err := h.ingestor.IngestBatch(r.Context(), tenant, &batch)
	if err != nil {
		var ve *ingest.ValidationError
		if errors.As(err, &ve) {
			metrics.ValidationFailuresTotal.Inc()
			jsonErrorDetails(w, http.StatusBadRequest, errCodeValidationFailed, "batch validation failed", ve.Errors)
			return
		}
		var rle *ingest.RateLimitError
		if errors.As(err, &rle) {
			metrics.RateLimitedTotal.WithLabelValues(tenant.ID).Inc()
			jsonErrorDetails(w, http.StatusTooManyRequests, errCodeRateLimited, "Rate limit exceeded", rateLimitDetails(rle))
			return
		}
		log.Printf("ingest batch for tenant %s: %v", tenant.ID, err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "Internal server error")
		return
	}

	metrics.EventsIngestedTotal.WithLabelValues(tenant.ID).Add(float64(resp.SuccessfulEvents))
	jsonOK(w, resp)
}

// List handles GET /api/v1/events with filter and pagination params.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	tenant := h.resolveTenant(w, r)
	if tenant == nil {
		return
	}

	q := r.URL.Query()
	filter := &storage.EventFilter{
		EventType: q.Get("event_type"),
		Service:   q.Get("service"),
	}
	if sc := q.Get("status_code"); sc != "" {
		v, err := strconv.Atoi(sc)
		if err != nil {
			jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid status_code")
			return
		}
		filter.StatusCode = v
	}
	for name, dst := range map[string]*time.Time{"start": &filter.Start, "end": &filter.End} {
		if s := q.Get(name); s != "" {
			t, err := time.Parse(time.RFC3339, s)
			if err != nil {
				jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid "+name+" timestamp, want RFC3339")
				return
			}
			*dst = t
		}
	}

	page, perPage := parsePagination(q.Get("page"), q.Get("per_page"), 100)
	filter.Limit = perPage
	filter.Offset = (page - 1) * perPage

	items, total, err := h.events.Search(r.Context(), tenant.ID, filter)
	if err != nil {
		log.Printf("search events for tenant %s: %v", tenant.ID, err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "Internal server error")
		return
	}

	jsonOK(w, paginatedResponse{
		Items:      items,
		Total:      total,
		Page:       page,
		PerPage:    perPage,
		TotalPages: totalPages(total, perPage),
	})
}

// GetByID handles GET /api/v1/events/{id}.
func (h *Handler) GetByID(w http.ResponseWriter, r *http.Request) {
	tenant := h.resolveTenant(w, r)
	if tenant == nil {
		return
	}

	id := chi.URLParam(r, "id")
	event, err := h.events.GetByID(r.Context(), tenant.ID, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			jsonError(w, http.StatusNotFound, errCodeNotFound, "event not found")
			return
		}
		log.Printf("get event %s: %v", id, err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "Internal server error")
		return
	}

	jsonOK(w, event)
}

// Delete handles DELETE /api/v1/events/{id} (soft delete).
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	tenant := h.resolveTenant(w, r)
	if tenant == nil {
		return
	}

	id := chi.URLParam(r, "id")
	if err := h.events.SoftDelete(r.Context(), tenant.ID, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			jsonError(w, http.StatusNotFound, errCodeNotFound, "event not found")
			return
		}
		log.Printf("delete event %s: %v", id, err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "Internal server error")
		return
	}

	jsonNoContent(w)
}

// StatsResponse summarizes recent ingestion volume.
type StatsResponse struct {
	LastHour int64 `json:"events_last_hour"`
	LastDay  int64 `json:"events_last_24h"`
	LastWeek int64 `json:"events_last_7d"`
}

// Stats handles GET /api/v1/events/stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	tenant := h.resolveTenant(w, r)
	if tenant == nil {
		return
	}

	now := time.Now().UTC()
	var stats StatsResponse
	windows := []struct {
		since time.Time
		dst   *int64
	}{
		{now.Add(-time.Hour), &stats.LastHour},
		{now.Add(-24 * time.Hour), &stats.LastDay},
		{now.Add(-7 * 24 * time.Hour), &stats.LastWeek},
	}
	for _, wnd := range windows {
		n, err := h.events.CountSince(r.Context(), tenant.ID, wnd.since)
		if err != nil {
			log.Printf("event stats for tenant %s: %v", tenant.ID, err)
			jsonError(w, http.StatusInternalServerError, errCodeInternalError, "Internal server error")
			return
		}
		*wnd.dst = n
	}

	jsonOK(w, stats)
}

// parsePagination clamps page/per_page query params.
func parsePagination(pageStr, perPageStr string, defaultPerPage int) (int, int) {
	page := 1
	perPage := defaultPerPage
	if v, err := strconv.Atoi(pageStr); err == nil && v > 0 {
		page = v
	}
	if v, err := strconv.Atoi(perPageStr); err == nil && v > 0 && v <= 1000 {
		perPage = v
	}
	return page, perPage
}

func totalPages(total int64, perPage int) int {
	if perPage <= 0 {
		return 0
	}
	pages := int(total) / perPage
	if int(total)%perPage != 0 {
		pages++
	}
	return pages
}
