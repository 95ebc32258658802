// Package ingest implements the event ingestion pipeline: validation,
// rate limiting, persistence, and queue publication.
package ingest

import (
	"time"

	"github.com/pulsestream/pulsestream/internal/ratelimit"
)

// SourceInfo identifies the service that produced an event.
type SourceInfo struct {
	Service     string `json:"service"`
	Endpoint    string `json:"endpoint,omitempty"`
	Method      string `json:"method,omitempty"`
	Version     string `json:"version,omitempty"`
	Environment string `json:"environment,omitempty"`
}

// ContextInfo carries request context supplied by the producer.
type ContextInfo struct {
	UserID    string            `json:"user_id,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
	IPAddress string            `json:"ip_address,omitempty"`
	UserAgent string            `json:"user_agent,omitempty"`
	Tags      map[string]string `json:"tags,omitempty"`
}

// MetricsInfo carries numeric measurements attached to an event.
type MetricsInfo struct {
	ResponseTimeMs    *float64 `json:"response_time_ms,omitempty"`
	StatusCode        *int     `json:"status_code,omitempty"`
	RequestSizeBytes  *int64   `json:"request_size_bytes,omitempty"`
	ResponseSizeBytes *int64   `json:"response_size_bytes,omitempty"`
	CacheHit          *bool    `json:"cache_hit,omitempty"`
}

// EventRequest is the single-event ingestion request body.
type EventRequest struct {
	EventType    string         `json:"event_type"`
	EventID      string         `json:"event_id,omitempty"`
	Title        string         `json:"title"`
	Message      string         `json:"message,omitempty"`
	Severity     string         `json:"severity,omitempty"`
	Source       *SourceInfo    `json:"source,omitempty"`
	Context      *ContextInfo   `json:"context,omitempty"`
	Metrics      *MetricsInfo   `json:"metrics,omitempty"`
	ErrorDetails map[string]any `json:"error_details,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Timestamp    *time.Time     `json:"timestamp,omitempty"`
}

// IngestResponse is the single-event ingestion result. Validation
// failures are data here, not errors.
type IngestResponse struct {
	Success          bool         `json:"success"`
	EventID          string       `json:"event_id,omitempty"`
	IngestedAt       time.Time    `json:"ingested_at"`
	ProcessingStatus string       `json:"processing_status"`
	Message          string       `json:"message,omitempty"`
	Errors           []FieldError `json:"errors,omitempty"`
}

// BatchRequest is the batch ingestion request body.
type BatchRequest struct {
	Events            []EventRequest `json:"events"`
	BatchID           string         `json:"batch_id,omitempty"`
	SourceApplication string         `json:"source_application,omitempty"`
}

// BatchResponse reports per-event outcomes. Batches are not atomic:
// partial success is a normal result.
type BatchResponse struct {
	BatchID          string           `json:"batch_id"`
	TotalEvents      int              `json:"total_events"`
	SuccessfulEvents int              `json:"successful_events"`
	FailedEvents     int              `json:"failed_events"`
	IngestedAt       time.Time        `json:"ingested_at"`
	Results          []IngestResponse `json:"results"`
	ProcessingStatus string           `json:"processing_status"`
}

// RateLimitError reports an exceeded tenant rate limit with enough data
// for the caller to back off.
type RateLimitError struct {
	Result ratelimit.Result
}

func (e *RateLimitError) Error() string {
	return "rate limit exceeded"
}

// ValidationError reports a request-shape failure (bad batch size,
// missing body) that prevents processing entirely.
type ValidationError struct {
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Errors) > 0 {
		return "validation failed: " + e.Errors[0].Field + ": " + e.Errors[0].Message
	}
	return "validation failed"
}
