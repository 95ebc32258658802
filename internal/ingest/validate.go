package ingest

import (
	"encoding/json"
	"fmt"
	"time"
)

// Validation limits.
const (
	MaxTitleLength   = 200
	MaxMessageLength = 2000
	MaxPayloadBytes  = 10 << 20 // 10 MiB serialized
	MaxBatchSize     = 1000
	MaxFutureDrift   = 5 * time.Minute
)

// FieldError is one field-level validation failure. Errors are data
// returned to the caller, never control flow.
type FieldError struct {
	Field      string `json:"field"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
}

// ValidateEvent checks a single event request against the ingestion
// limits. Pure: no I/O, no side effects, stable output for equal input.
func ValidateEvent(req *EventRequest, now time.Time) []FieldError {
	var errs []FieldError

	if req.EventType == "" {
		errs = append(errs, FieldError{
			Field:      "event_type",
			Message:    "event type is required",
			Suggestion: "use one of api_call, user_action, system_event, error_event, custom_event",
		})
	}

	if req.Title == "" {
		errs = append(errs, FieldError{
			Field:   "title",
			Message: "title is required",
		})
	} else if len(req.Title) > MaxTitleLength {
		errs = append(errs, FieldError{
			Field:      "title",
			Message:    fmt.Sprintf("title exceeds %d characters", MaxTitleLength),
			Suggestion: "truncate the title and move detail into the message",
		})
	}

	if len(req.Message) > MaxMessageLength {
		errs = append(errs, FieldError{
			Field:      "message",
			Message:    fmt.Sprintf("message exceeds %d characters", MaxMessageLength),
			Suggestion: "move detail into the payload",
		})
	}

	if req.Source == nil || req.Source.Service == "" {
		errs = append(errs, FieldError{
			Field:   "source.service",
			Message: "source service is required",
		})
	}

	if req.Payload != nil {
		serialized, err := json.Marshal(req.Payload)
		if err != nil {
			errs = append(errs, FieldError{
				Field:   "payload",
				Message: "payload is not serializable",
			})
		} else if len(serialized) > MaxPayloadBytes {
			errs = append(errs, FieldError{
				Field:      "payload",
				Message:    "payload exceeds 10MB serialized",
				Suggestion: "store large payloads externally and reference them",
			})
		}
	}

	if req.Metrics != nil {
		if req.Metrics.StatusCode != nil {
			code := *req.Metrics.StatusCode
			if code < 100 || code > 599 {
				errs = append(errs, FieldError{
					Field:   "metrics.status_code",
					Message: "status code must be between 100 and 599",
				})
			}
		}
		if req.Metrics.ResponseTimeMs != nil && *req.Metrics.ResponseTimeMs < 0 {
			errs = append(errs, FieldError{
				Field:   "metrics.response_time_ms",
				Message: "response time must not be negative",
			})
		}
	}

	if req.Timestamp != nil && req.Timestamp.After(now.Add(MaxFutureDrift)) {
		errs = append(errs, FieldError{
			Field:      "timestamp",
			Message:    "timestamp is more than 5 minutes in the future",
			Suggestion: "check the producer's clock",
		})
	}

	return errs
}

// ValidateBatch checks batch shape and every contained event. Per-event
// errors are re-keyed with the event's index, events[i].field.
func ValidateBatch(batch *BatchRequest, now time.Time) []FieldError {
	var errs []FieldError

	if len(batch.Events) == 0 {
		errs = append(errs, FieldError{
			Field:   "events",
			Message: "batch must contain at least one event",
		})
		return errs
	}
	if len(batch.Events) > MaxBatchSize {
		errs = append(errs, FieldError{
			Field:      "events",
			Message:    fmt.Sprintf("batch exceeds %d events", MaxBatchSize),
			Suggestion: "split into smaller batches",
		})
		return errs
	}

	for i := range batch.Events {
		for _, fe := range ValidateEvent(&batch.Events[i], now) {
			fe.Field = fmt.Sprintf("events[%d].%s", i, fe.Field)
			errs = append(errs, fe)
		}
	}
	return errs
}
