package models

import (
	"encoding/json"
	"time"
)

// AlertStatus represents the lifecycle state of an alert.
type AlertStatus string

const (
	AlertActive     AlertStatus = "active"
	AlertResolved   AlertStatus = "resolved"
	AlertSuppressed AlertStatus = "suppressed"
)

// NotificationRecord is one append-only entry in an alert's per-channel
// notification log.
type NotificationRecord struct {
	Timestamp time.Time      `json:"timestamp"`
	Success   bool           `json:"success"`
	Details   map[string]any `json:"details,omitempty"`
}

// Alert is a concrete, timestamped occurrence of a rule's condition
// being satisfied. Created by the trigger controller; mutated by the
// notification dispatcher (log appends) and by resolution actions.
type Alert struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`

	// RuleID is the rule that produced this alert.
	RuleID string `json:"alert_rule_id"`

	Title    string      `json:"title"`
	Message  string      `json:"message"`
	Severity Severity    `json:"severity"`
	Status   AlertStatus `json:"status"`

	TriggeredAt time.Time  `json:"triggered_at"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`

	// TriggerData is the evaluator's structured diagnostic.
	TriggerData map[string]any `json:"trigger_data,omitempty"`

	// Metadata carries rule name/description and evaluation context.
	Metadata map[string]any `json:"alert_metadata,omitempty"`

	// EventID optionally backreferences the triggering event. Weak
	// reference: the event may be deleted independently.
	EventID *string `json:"event_id,omitempty"`

	// NotificationsSent is the append-only per-channel delivery log.
	NotificationsSent map[string][]NotificationRecord `json:"notifications_sent,omitempty"`

	// NotificationFailures counts failed delivery attempts.
	NotificationFailures int `json:"notification_failures"`

	ResolvedBy     string `json:"resolved_by,omitempty"`
	ResolutionNote string `json:"resolution_note,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewAlert creates an active alert for the given rule.
func NewAlert(rule *AlertRule, title, message string, triggeredAt time.Time) *Alert {
	return &Alert{
		TenantID:    rule.TenantID,
		RuleID:      rule.ID,
		Title:       title,
		Message:     message,
		Severity:    rule.Severity,
		Status:      AlertActive,
		TriggeredAt: triggeredAt,
		CreatedAt:   triggeredAt,
		UpdatedAt:   triggeredAt,
	}
}

// IsActive reports whether the alert is currently active.
func (a *Alert) IsActive() bool {
	return a.Status == AlertActive
}

// Resolve transitions the alert to resolved. Reversible via Reactivate.
func (a *Alert) Resolve(resolvedBy, note string, now time.Time) {
	a.Status = AlertResolved
	t := now
	a.ResolvedAt = &t
	a.ResolvedBy = resolvedBy
	if note != "" {
		a.ResolutionNote = note
	}
	a.UpdatedAt = now
}

// Suppress transitions the alert to suppressed. Reversible.
func (a *Alert) Suppress(now time.Time) {
	a.Status = AlertSuppressed
	a.UpdatedAt = now
}

// Reactivate returns a resolved or suppressed alert to active,
// clearing the resolution fields.
func (a *Alert) Reactivate(now time.Time) {
	a.Status = AlertActive
	a.ResolvedAt = nil
	a.ResolvedBy = ""
	a.ResolutionNote = ""
	a.UpdatedAt = now
}

// RecordNotification appends a delivery attempt for a channel and bumps
// the failure counter on failure. The log is append-only.
func (a *Alert) RecordNotification(channel string, success bool, details map[string]any, now time.Time) {
	if a.NotificationsSent == nil {
		a.NotificationsSent = make(map[string][]NotificationRecord)
	}
	a.NotificationsSent[channel] = append(a.NotificationsSent[channel], NotificationRecord{
		Timestamp: now,
		Success:   success,
		Details:   details,
	})
	if !success {
		a.NotificationFailures++
	}
	a.UpdatedAt = now
}

// TriggerValue returns a value from trigger data, or the default when
// absent.
func (a *Alert) TriggerValue(key string, def any) any {
	if a.TriggerData == nil {
		return def
	}
	if v, ok := a.TriggerData[key]; ok {
		return v
	}
	return def
}

// JSON returns the alert as JSON bytes.
func (a *Alert) JSON() ([]byte, error) {
	return json.Marshal(a)
}
