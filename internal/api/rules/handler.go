// Package rules provides the alert rule CRUD endpoints.
package rules

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

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
	errCodeBadRequest       = "BAD_REQUEST"
	errCodeValidationFailed = "VALIDATION_FAILED"
	errCodeNotFound         = "NOT_FOUND"
	errCodeInternalError    = "INTERNAL_ERROR"
)

func jsonError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(errorResponse{Error: errorBody{Code: code, Message: message}}); err != nil {
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

// Handler handles alert rule endpoints.
type Handler struct {
	rules storage.RuleRepository
}

func NewHandler(rules storage.RuleRepository) *Handler {
	return &Handler{rules: rules}
}

// CreateRequest is the rule creation payload.
type CreateRequest struct {
	Name                 string            `json:"name"`
	Description          string            `json:"description"`
	EventType            string            `json:"event_type"`
	Condition            models.Condition  `json:"condition"`
	TimeWindow           string            `json:"time_window"`
	EvaluationInterval   int               `json:"evaluation_interval"`
	Severity             string            `json:"severity"`
	NotificationChannels []string          `json:"notification_channels"`
	NotificationTemplate string            `json:"notification_template"`
	CooldownMinutes      *int              `json:"cooldown_minutes"`
	MaxAlertsPerHour     *int              `json:"max_alerts_per_hour"`
	IsActive             *bool             `json:"is_active"`
}

// UpdateRequest carries partial rule updates. Nil fields are untouched.
type UpdateRequest struct {
	Name                 string            `json:"name,omitempty"`
	Description          *string           `json:"description,omitempty"`
	EventType            *string           `json:"event_type,omitempty"`
	Condition            *models.Condition `json:"condition,omitempty"`
	TimeWindow           string            `json:"time_window,omitempty"`
	EvaluationInterval   *int              `json:"evaluation_interval,omitempty"`
	Severity             string            `json:"severity,omitempty"`
	NotificationChannels []string          `json:"notification_channels,omitempty"`
	NotificationTemplate *string           `json:"notification_template,omitempty"`
	CooldownMinutes      *int              `json:"cooldown_minutes,omitempty"`
	MaxAlertsPerHour     *int              `json:"max_alerts_per_hour,omitempty"`
	IsActive             *bool             `json:"is_active,omitempty"`
}

// Create handles POST /api/v1/alert-rules.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r.Context())

	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid request body")
		return
	}

	rule := models.NewAlertRule(tenantID, strings.TrimSpace(req.Name), req.Condition)
	rule.ID = uuid.New().String()
	rule.Description = strings.TrimSpace(req.Description)
	rule.EventType = req.EventType
	if req.TimeWindow != "" {
		rule.TimeWindow = req.TimeWindow
	}
	if req.EvaluationInterval > 0 {
		rule.EvaluationInterval = req.EvaluationInterval
	}
	if req.Severity != "" {
		rule.Severity = models.ParseSeverity(req.Severity)
	}
	rule.NotifyChannels = req.NotificationChannels
	rule.NotificationTemplate = req.NotificationTemplate
	if req.CooldownMinutes != nil {
		rule.CooldownMinutes = *req.CooldownMinutes
	}
	if req.MaxAlertsPerHour != nil {
		rule.MaxAlertsPerHour = *req.MaxAlertsPerHour
	}
	if req.IsActive != nil {
		rule.IsActive = *req.IsActive
	}

	if err := rule.Validate(); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeValidationFailed, err.Error())
		return
	}

	if err := h.rules.Create(r.Context(), rule); err != nil {
		log.Printf("create rule for tenant %s: %v", tenantID, err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "Internal server error")
		return
	}

	log.Printf("alert rule created: %s (%s)", rule.Name, rule.ID)
	jsonCreated(w, rule)
}

// List handles GET /api/v1/alert-rules.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r.Context())

	var (
		rules []*models.AlertRule
		err   error
	)
	if r.URL.Query().Get("active") == "true" {
		rules, err = h.rules.ListActive(r.Context(), tenantID)
	} else {
		rules, err = h.rules.List(r.Context(), tenantID)
	}
	if err != nil {
		log.Printf("list rules for tenant %s: %v", tenantID, err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "Internal server error")
		return
	}

	jsonOK(w, rules)
}

// GetByID handles GET /api/v1/alert-rules/{id}.
func (h *Handler) GetByID(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r.Context())
	id := chi.URLParam(r, "id")

	rule, err := h.rules.GetByID(r.Context(), tenantID, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			jsonError(w, http.StatusNotFound, errCodeNotFound, "alert rule not found")
			return
		}
		log.Printf("get rule %s: %v", id, err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "Internal server error")
		return
	}

	jsonOK(w, rule)
}

// Update handles PUT /api/v1/alert-rules/{id}.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r.Context())
	id := chi.URLParam(r, "id")

	var req UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid request body")
		return
	}

	rule, err := h.rules.GetByID(r.Context(), tenantID, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			jsonError(w, http.StatusNotFound, errCodeNotFound, "alert rule not found")
			return
		}
		log.Printf("update rule %s: get: %v", id, err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "Internal server error")
		return
	}

	if req.Name != "" {
		rule.Name = strings.TrimSpace(req.Name)
	}
	if req.Description != nil {
		rule.Description = strings.TrimSpace(*req.Description)
	}
	if req.EventType != nil {
		rule.EventType = *req.EventType
	}
	if req.Condition != nil {
		rule.Condition = *req.Condition
	}
	if req.TimeWindow != "" {
		rule.TimeWindow = req.TimeWindow
	}
	if req.EvaluationInterval != nil {
		rule.EvaluationInterval = *req.EvaluationInterval
	}
	if req.Severity != "" {
		rule.Severity = models.ParseSeverity(req.Severity)
	}
	if req.NotificationChannels != nil {
		rule.NotifyChannels = req.NotificationChannels
	}
	if req.NotificationTemplate != nil {
		rule.NotificationTemplate = *req.NotificationTemplate
	}
	if req.CooldownMinutes != nil {
		rule.CooldownMinutes = *req.CooldownMinutes
	}
	if req.MaxAlertsPerHour != nil {
		rule.MaxAlertsPerHour = *req.MaxAlertsPerHour
	}
	if req.IsActive != nil {
		rule.IsActive = *req.IsActive
	}
	rule.UpdatedAt = time.Now().UTC()

	if err := rule.Validate(); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeValidationFailed, err.Error())
		return
	}

	if err := h.rules.Update(r.Context(), rule); err != nil {
		log.Printf("update rule %s: %v", id, err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "Internal server error")
		return
	}

	log.Printf("alert rule updated: %s (%s)", rule.Name, rule.ID)
	jsonOK(w, rule)
}

// Delete handles DELETE /api/v1/alert-rules/{id} (soft delete).
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r.Context())
	id := chi.URLParam(r, "id")

	if err := h.rules.SoftDelete(r.Context(), tenantID, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			jsonError(w, http.StatusNotFound, errCodeNotFound, "alert rule not found")
			return
		}
		log.Printf("delete rule %s: %v", id, err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "Internal server error")
		return
	}

	log.Printf("alert rule deleted: %s", id)
	jsonNoContent(w)
}
