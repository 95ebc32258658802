// Package models contains the core data structures for PulseStream.
package models

import (
	"encoding/json"
	"time"
)

// EventType represents the classification of an ingested event.
type EventType string

const (
	EventTypeAPICall     EventType = "api_call"
	EventTypeUserAction  EventType = "user_action"
	EventTypeSystemEvent EventType = "system_event"
	EventTypeErrorEvent  EventType = "error_event"
	EventTypeCustomEvent EventType = "custom_event"
)

// ProcessingStatus represents the background processing state of an event.
type ProcessingStatus string

const (
	ProcessingPending    ProcessingStatus = "pending"
	ProcessingInProgress ProcessingStatus = "processing"
	ProcessingCompleted  ProcessingStatus = "completed"
	ProcessingFailed     ProcessingStatus = "failed"
	ProcessingRetrying   ProcessingStatus = "retrying"
)

// Event represents a single ingested event. Events are immutable facts:
// after ingestion only the processing/enrichment fields and the alert
// bookkeeping fields change.
type Event struct {
	// ID is the unique identifier assigned at ingestion.
	ID string `json:"id"`

	// TenantID is the owning tenant. All queries are partitioned by it.
	TenantID string `json:"tenant_id"`

	// EventType classifies the event (api_call, user_action, ...).
	EventType EventType `json:"event_type"`

	// Source is the service that produced the event.
	Source string `json:"source,omitempty"`

	// SourceVersion is the version of the producing service.
	SourceVersion string `json:"source_version,omitempty"`

	// EventTimestamp is when the event actually occurred, as reported
	// by the producer (vs. IngestedAt, when we received it).
	EventTimestamp time.Time `json:"event_timestamp"`

	// IngestedAt is when the event entered PulseStream.
	IngestedAt time.Time `json:"ingested_at"`

	// Payload holds the full structured event body (title, message,
	// source, context, metrics, error details, custom data).
	Payload map[string]any `json:"payload"`

	// Metadata holds additional producer-supplied metadata.
	Metadata map[string]any `json:"metadata,omitempty"`

	// ExternalID is the caller-supplied event id, used for idempotent
	// ingestion. Unique per tenant when present.
	ExternalID string `json:"external_id,omitempty"`

	// CorrelationID links related events (taken from the request id).
	CorrelationID string `json:"correlation_id,omitempty"`

	// ProcessingStatus tracks the background enrichment pipeline.
	ProcessingStatus ProcessingStatus `json:"processing_status"`

	// ProcessedAt is when background processing finished.
	ProcessedAt *time.Time `json:"processed_at,omitempty"`

	// Metrics extracted from the payload for indexed querying.
	DurationMs   *int   `json:"duration_ms,omitempty"`
	StatusCode   *int   `json:"status_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`

	// Enrichment fields extracted from request metadata.
	GeoCountry string `json:"geo_country,omitempty"`
	GeoCity    string `json:"geo_city,omitempty"`
	UserAgent  string `json:"user_agent,omitempty"`
	DeviceType string `json:"device_type,omitempty"`

	// AlertProcessed marks the event as already considered by the
	// alert pipeline, preventing duplicate evaluation.
	AlertProcessed bool `json:"alert_processed"`

	// AlertsTriggered counts alerts this event contributed to.
	AlertsTriggered int `json:"alerts_triggered"`

	// IsDeleted soft-deletes the event; queries filter it out.
	IsDeleted bool `json:"-"`
}

// NewEvent creates an Event with initialized maps and default status.
func NewEvent(tenantID string, eventType EventType) *Event {
	return &Event{
		TenantID:         tenantID,
		EventType:        eventType,
		Payload:          make(map[string]any),
		ProcessingStatus: ProcessingPending,
		IngestedAt:       time.Now().UTC(),
	}
}

// IsError reports whether the event represents a failure: an error
// message is present or the status code is 400 or above.
func (e *Event) IsError() bool {
	if e.ErrorMessage != "" {
		return true
	}
	return e.StatusCode != nil && *e.StatusCode >= 400
}

// JSON returns the event as JSON bytes.
func (e *Event) JSON() ([]byte, error) {
	return json.Marshal(e)
}

// ParseEventType converts a string to EventType. Unknown strings map to
// custom_event rather than failing, matching ingest behavior.
func ParseEventType(s string) EventType {
	switch s {
	case "api_call":
		return EventTypeAPICall
	case "user_action":
		return EventTypeUserAction
	case "system_event":
		return EventTypeSystemEvent
	case "error_event":
		return EventTypeErrorEvent
	default:
		return EventTypeCustomEvent
	}
}
