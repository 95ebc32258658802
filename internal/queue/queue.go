// Package queue publishes ingested events to the background processing
// pipeline. Publishing is best-effort: ingestion never fails because the
// broker is down.
package queue

import (
	"context"
	"time"

	"github.com/pulsestream/pulsestream/internal/models"
)

// Priority orders background processing of events.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityNormal Priority = "normal"
)

// Message is the envelope placed on the processing queue. The payload
// stays in storage; consumers fetch it by id.
type Message struct {
	EventID   string    `json:"event_id"`
	TenantID  string    `json:"tenant_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
	Priority  Priority  `json:"priority"`
}

// Publisher sends event messages to the processing queue.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

// PriorityFor classifies an event for queue ordering. Server errors and
// events carrying an error message go first, client errors next,
// everything else is normal.
func PriorityFor(event *models.Event) Priority {
	if event.ErrorMessage != "" {
		return PriorityHigh
	}
	if event.StatusCode != nil {
		code := *event.StatusCode
		if code >= 500 {
			return PriorityHigh
		}
		if code >= 400 {
			return PriorityMedium
		}
	}
	return PriorityNormal
}

// NewMessage builds the queue envelope for an event.
func NewMessage(event *models.Event) Message {
	return Message{
		EventID:   event.ID,
		TenantID:  event.TenantID,
		EventType: string(event.EventType),
		Timestamp: event.IngestedAt,
		Priority:  PriorityFor(event),
	}
}
