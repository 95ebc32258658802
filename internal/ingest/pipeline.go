package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/pulsestream/pulsestream/internal/models"
	"github.com/pulsestream/pulsestream/internal/queue"
	"github.com/pulsestream/pulsestream/internal/ratelimit"
	"github.com/pulsestream/pulsestream/internal/storage"
)

// Ingestor composes the ingestion pipeline: validate, dedup, rate
// limit, persist, publish.
type Ingestor struct {
	events    storage.EventRepository
	limiter   *ratelimit.Limiter
	publisher queue.Publisher

	now func() time.Time
}

// NewIngestor creates the ingestion pipeline.
func NewIngestor(events storage.EventRepository, limiter *ratelimit.Limiter, publisher queue.Publisher) *Ingestor {
	return &Ingestor{
		events:    events,
		limiter:   limiter,
		publisher: publisher,
		now:       time.Now,
	}
}

// Ingest processes a single event request. Validation failures come
// back as a failed response, not an error; rate limiting comes back as
// *RateLimitError; only pipeline faults return plain errors.
func (p *Ingestor) Ingest(ctx context.Context, tenant *models.Tenant, req *EventRequest) (*IngestResponse, error) {
	now := p.now().UTC()

	if errs := ValidateEvent(req, now); len(errs) > 0 {
		return &IngestResponse{
			Success:          false,
			EventID:          req.EventID,
			IngestedAt:       now,
			ProcessingStatus: "failed",
			Message:          "validation failed",
			Errors:           errs,
		}, nil
	}

	// Idempotency: a caller-supplied event id that already exists for
	// this tenant returns the original ingestion as success.
	if req.EventID != "" {
		existing, err := p.events.GetByExternalID(ctx, tenant.ID, req.EventID)
		if err == nil {
			return duplicateResponse(existing), nil
		}
		if err != storage.ErrNotFound {
			return nil, fmt.Errorf("check duplicate event: %w", err)
		}
	}

	result := p.limiter.Check(ctx, tenant.ID, tenant.RateLimitPerMinute, 1)
	if result.Exceeded {
		return nil, &RateLimitError{Result: result}
	}

	event := p.buildEvent(tenant.ID, req, now)
	if err := p.events.Create(ctx, event); err != nil {
		// A concurrent request may have won the unique index race on
		// the external id; treat that as the duplicate case.
		if req.EventID != "" {
			if existing, lookupErr := p.events.GetByExternalID(ctx, tenant.ID, req.EventID); lookupErr == nil {
				return duplicateResponse(existing), nil
			}
		}
		return nil, fmt.Errorf("persist event: %w", err)
	}

	p.limiter.Increment(ctx, tenant.ID, 1)

	// Best-effort: the event is durable; a queue outage must not fail
	// ingestion.
	if err := p.publisher.Publish(ctx, queue.NewMessage(event)); err != nil {
		log.Printf("queue publish failed for event %s: %v", event.ID, err)
	}

	return &IngestResponse{
		Success:          true,
		EventID:          responseEventID(event),
		IngestedAt:       event.IngestedAt,
		ProcessingStatus: "queued",
		Message:          "event ingested",
	}, nil
}

// IngestBatch processes up to MaxBatchSize events sequentially, each
// independently committed. There is no cross-event transaction: partial
// success is a normal outcome.
func (p *Ingestor) IngestBatch(ctx context.Context, tenant *models.Tenant, batch *BatchRequest) (*BatchResponse, error) {
	now := p.now().UTC()

	if len(batch.Events) == 0 {
		return nil, &ValidationError{Errors: []FieldError{{
			Field:   "events",
			Message: "batch must contain at least one event",
		}}}
	}
	if len(batch.Events) > MaxBatchSize {
		return nil, &ValidationError{Errors: []FieldError{{
			Field:      "events",
			Message:    fmt.Sprintf("batch exceeds %d events", MaxBatchSize),
			Suggestion: "split into smaller batches",
		}}}
	}

	// Optimistic whole-batch check; the per-event path does the actual
	// accounting.
	result := p.limiter.Check(ctx, tenant.ID, tenant.RateLimitPerMinute, len(batch.Events))
	if result.Exceeded {
		return nil, &RateLimitError{Result: result}
	}

	batchID := batch.BatchID
	if batchID == "" {
		batchID = uuid.New().String()
	}

	resp := &BatchResponse{
		BatchID:     batchID,
		TotalEvents: len(batch.Events),
		IngestedAt:  now,
		Results:     make([]IngestResponse, 0, len(batch.Events)),
	}

	for i := range batch.Events {
		res, err := p.Ingest(ctx, tenant, &batch.Events[i])
		if err != nil {
			msg := "processing failed"
			var rle *RateLimitError
			if errors.As(err, &rle) {
				msg = "rate limit exceeded"
			}
			res = &IngestResponse{
				Success:          false,
				EventID:          batch.Events[i].EventID,
				IngestedAt:       now,
				ProcessingStatus: "failed",
				Message:          msg,
			}
			log.Printf("batch %s event %d failed: %v", batchID, i, err)
		}
		// Re-key validation errors with the event's batch index
		for j := range res.Errors {
			res.Errors[j].Field = fmt.Sprintf("events[%d].%s", i, res.Errors[j].Field)
		}
		if res.Success {
			resp.SuccessfulEvents++
		} else {
			resp.FailedEvents++
		}
		resp.Results = append(resp.Results, *res)
	}

	switch {
	case resp.FailedEvents == 0:
		resp.ProcessingStatus = "completed"
	case resp.SuccessfulEvents == 0:
		resp.ProcessingStatus = "failed"
	default:
		resp.ProcessingStatus = "partial"
	}
	return resp, nil
}

// buildEvent assembles the stored Event, extracting indexed metrics
// from the request's metrics and error details, and enrichment fields
// from context and metadata.
func (p *Ingestor) buildEvent(tenantID string, req *EventRequest, now time.Time) *models.Event {
	event := models.NewEvent(tenantID, models.ParseEventType(req.EventType))
	event.ID = uuid.New().String()
	event.IngestedAt = now
	event.ExternalID = req.EventID
	event.Metadata = req.Metadata

	if req.Timestamp != nil {
		event.EventTimestamp = req.Timestamp.UTC()
	} else {
		event.EventTimestamp = now
	}

	event.Payload = map[string]any{
		"title": req.Title,
	}
	if req.Message != "" {
		event.Payload["message"] = req.Message
	}
	if req.Severity != "" {
		event.Payload["severity"] = req.Severity
	}
	if req.Source != nil {
		event.Source = req.Source.Service
		event.SourceVersion = req.Source.Version
		event.Payload["source"] = req.Source
	}
	if req.Context != nil {
		event.CorrelationID = req.Context.RequestID
		event.UserAgent = req.Context.UserAgent
		event.Payload["context"] = req.Context
	}
	if req.Metrics != nil {
		event.Payload["metrics"] = req.Metrics
		if req.Metrics.StatusCode != nil {
			code := *req.Metrics.StatusCode
			event.StatusCode = &code
		}
		if req.Metrics.ResponseTimeMs != nil {
			ms := int(*req.Metrics.ResponseTimeMs)
			event.DurationMs = &ms
		}
	}
	if req.ErrorDetails != nil {
		event.Payload["error_details"] = req.ErrorDetails
		if msg, ok := req.ErrorDetails["message"].(string); ok {
			event.ErrorMessage = msg
		} else if msg, ok := req.ErrorDetails["error_message"].(string); ok {
			event.ErrorMessage = msg
		}
	}
	if req.Payload != nil {
		event.Payload["custom_data"] = req.Payload
	}
	if req.Metadata != nil {
		if v, ok := req.Metadata["geo_country"].(string); ok {
			event.GeoCountry = v
		}
		if v, ok := req.Metadata["geo_city"].(string); ok {
			event.GeoCity = v
		}
		if v, ok := req.Metadata["device_type"].(string); ok {
			event.DeviceType = v
		}
	}

	return event
}

func duplicateResponse(existing *models.Event) *IngestResponse {
	return &IngestResponse{
		Success:          true,
		EventID:          responseEventID(existing),
		IngestedAt:       existing.IngestedAt,
		ProcessingStatus: string(existing.ProcessingStatus),
		Message:          "event already ingested",
	}
}

func responseEventID(event *models.Event) string {
	if event.ExternalID != "" {
		return event.ExternalID
	}
	return event.ID
}
