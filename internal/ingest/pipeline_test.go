package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pulsestream/pulsestream/internal/models"
	"github.com/pulsestream/pulsestream/internal/queue"
	"github.com/pulsestream/pulsestream/internal/ratelimit"
	"github.com/pulsestream/pulsestream/internal/storage"
)

// fakeEventRepo is an in-memory EventRepository with the same unique
// external id behavior as the real storage.
type fakeEventRepo struct {
	mu     sync.Mutex
	events map[string]*models.Event
}

func newFakeEventRepo() *fakeEventRepo {
	return &fakeEventRepo{events: make(map[string]*models.Event)}
}

func (r *fakeEventRepo) Create(_ context.Context, event *models.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if event.ExternalID != "" {
		for _, e := range r.events {
			if e.TenantID == event.TenantID && e.ExternalID == event.ExternalID && !e.IsDeleted {
				return fmt.Errorf("unique constraint: external id %s", event.ExternalID)
			}
		}
	}
	copied := *event
	r.events[event.ID] = &copied
	return nil
}

func (r *fakeEventRepo) GetByID(_ context.Context, tenantID, id string) (*models.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.events[id]
	if !ok || e.TenantID != tenantID || e.IsDeleted {
		return nil, storage.ErrNotFound
	}
	copied := *e
	return &copied, nil
}

func (r *fakeEventRepo) GetByExternalID(_ context.Context, tenantID, externalID string) (*models.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.TenantID == tenantID && e.ExternalID == externalID && !e.IsDeleted {
			copied := *e
			return &copied, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (r *fakeEventRepo) ListWindow(_ context.Context, tenantID string, since time.Time, eventType string) ([]*models.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Event
	for _, e := range r.events {
		if e.TenantID != tenantID || e.IsDeleted || e.EventTimestamp.Before(since) {
			continue
		}
		if eventType != "" && string(e.EventType) != eventType {
			continue
		}
		copied := *e
		out = append(out, &copied)
	}
	return out, nil
}

func (r *fakeEventRepo) Search(_ context.Context, tenantID string, _ *storage.EventFilter) ([]*models.Event, int64, error) {
	events, err := r.ListWindow(context.Background(), tenantID, time.Time{}, "")
	return events, int64(len(events)), err
}

func (r *fakeEventRepo) CountSince(ctx context.Context, tenantID string, since time.Time) (int64, error) {
	events, err := r.ListWindow(ctx, tenantID, since, "")
	return int64(len(events)), err
}

func (r *fakeEventRepo) SoftDelete(_ context.Context, tenantID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.events[id]
	if !ok || e.TenantID != tenantID || e.IsDeleted {
		return storage.ErrNotFound
	}
	e.IsDeleted = true
	return nil
}

func (r *fakeEventRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if !e.IsDeleted {
			n++
		}
	}
	return n
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, queue.Message) error {
	return errors.New("broker unreachable")
}
func (failingPublisher) Close() error { return nil }

func testTenant(limit int) *models.Tenant {
	return &models.Tenant{
		ID:                 "tenant-1",
		Name:               "acme",
		RateLimitPerMinute: limit,
		IsActive:           true,
	}
}

func newTestIngestor(repo *fakeEventRepo, pub queue.Publisher) *Ingestor {
	limiter := ratelimit.New(ratelimit.NewMemoryStore(), time.Minute)
	return NewIngestor(repo, limiter, pub)
}

func TestIngestSingle(t *testing.T) {
	repo := newFakeEventRepo()
	pub := queue.NewMemoryPublisher()
	ing := newTestIngestor(repo, pub)
	ctx := context.Background()

	req := validRequest()
	req.EventID = "order-42"

	resp, err := ing.Ingest(ctx, testTenant(100), req)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if !resp.Success {
		t.Fatalf("response = %+v, want success", resp)
	}
	if resp.EventID != "order-42" {
		t.Errorf("event id = %q, want caller-supplied order-42", resp.EventID)
	}
	if resp.ProcessingStatus != "queued" {
		t.Errorf("processing status = %q, want queued", resp.ProcessingStatus)
	}
	if repo.count() != 1 {
		t.Errorf("persisted events = %d, want 1", repo.count())
	}
	if msgs := pub.Messages(); len(msgs) != 1 || msgs[0].TenantID != "tenant-1" {
		t.Errorf("published messages = %+v, want 1 for tenant-1", msgs)
	}
}

func TestIngestGeneratesID(t *testing.T) {
	repo := newFakeEventRepo()
	ing := newTestIngestor(repo, queue.NewMemoryPublisher())

	resp, err := ing.Ingest(context.Background(), testTenant(100), validRequest())
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if resp.EventID == "" {
		t.Error("event id should be generated when none supplied")
	}
}

func TestIngestValidationFailureHasNoSideEffects(t *testing.T) {
	repo := newFakeEventRepo()
	pub := queue.NewMemoryPublisher()
	ing := newTestIngestor(repo, pub)

	req := validRequest()
	req.Title = ""

	resp, err := ing.Ingest(context.Background(), testTenant(100), req)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if resp.Success {
		t.Fatal("invalid request should fail")
	}
	if !hasFieldError(resp.Errors, "title") {
		t.Errorf("errors = %v, want title error", resp.Errors)
	}
	if repo.count() != 0 || len(pub.Messages()) != 0 {
		t.Error("validation failure must have no side effects")
	}
}

func TestIngestDuplicateEventID(t *testing.T) {
	repo := newFakeEventRepo()
	pub := queue.NewMemoryPublisher()
	ing := newTestIngestor(repo, pub)
	ctx := context.Background()
	tenant := testTenant(100)

	req := validRequest()
	req.EventID = "order-7"

	if _, err := ing.Ingest(ctx, tenant, req); err != nil {
		t.Fatalf("first ingest: %v", err)
	}

	resp, err := ing.Ingest(ctx, tenant, req)
	if err != nil {
		t.Fatalf("duplicate ingest: %v", err)
	}
	if !resp.Success {
		t.Fatal("duplicate should be reported as success")
	}
	if resp.Message != "event already ingested" {
		t.Errorf("message = %q", resp.Message)
	}
	if repo.count() != 1 {
		t.Errorf("persisted events = %d, want 1", repo.count())
	}
	if len(pub.Messages()) != 1 {
		t.Errorf("published messages = %d, want 1", len(pub.Messages()))
	}
}

func TestIngestRateLimited(t *testing.T) {
	repo := newFakeEventRepo()
	ing := newTestIngestor(repo, queue.NewMemoryPublisher())
	ctx := context.Background()
	tenant := testTenant(2)

	for i := 0; i < 2; i++ {
		if _, err := ing.Ingest(ctx, tenant, validRequest()); err != nil {
			t.Fatalf("ingest %d: %v", i, err)
		}
	}

	_, err := ing.Ingest(ctx, tenant, validRequest())
	var rle *RateLimitError
	if !errors.As(err, &rle) {
		t.Fatalf("error = %v, want RateLimitError", err)
	}
	if rle.Result.Limit != 2 || rle.Result.Remaining != 0 {
		t.Errorf("result = %+v, want limit=2 remaining=0", rle.Result)
	}
	if repo.count() != 2 {
		t.Errorf("persisted events = %d, want 2", repo.count())
	}
}

func TestIngestPublishFailureDoesNotFailIngestion(t *testing.T) {
	repo := newFakeEventRepo()
	ing := newTestIngestor(repo, failingPublisher{})

	resp, err := ing.Ingest(context.Background(), testTenant(100), validRequest())
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if !resp.Success {
		t.Error("broker outage must not fail ingestion")
	}
	if repo.count() != 1 {
		t.Errorf("persisted events = %d, want 1", repo.count())
	}
}

func TestIngestMetricExtraction(t *testing.T) {
	repo := newFakeEventRepo()
	pub := queue.NewMemoryPublisher()
	ing := newTestIngestor(repo, pub)
	ctx := context.Background()
	tenant := testTenant(100)

	status := 503
	rt := 1234.7
	req := validRequest()
	req.Metrics = &MetricsInfo{StatusCode: &status, ResponseTimeMs: &rt}
	req.ErrorDetails = map[string]any{"message": "upstream timeout"}
	req.Context = &ContextInfo{RequestID: "req-9", UserAgent: "curl/8"}

	resp, err := ing.Ingest(ctx, tenant, req)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}

	event, err := repo.GetByID(ctx, tenant.ID, resp.EventID)
	if err != nil {
		t.Fatalf("get event: %v", err)
	}
	if event.StatusCode == nil || *event.StatusCode != 503 {
		t.Errorf("status code = %v, want 503", event.StatusCode)
	}
	if event.DurationMs == nil || *event.DurationMs != 1234 {
		t.Errorf("duration = %v, want 1234", event.DurationMs)
	}
	if event.ErrorMessage != "upstream timeout" {
		t.Errorf("error message = %q", event.ErrorMessage)
	}
	if event.CorrelationID != "req-9" {
		t.Errorf("correlation id = %q", event.CorrelationID)
	}

	msgs := pub.Messages()
	if len(msgs) != 1 || msgs[0].Priority != queue.PriorityHigh {
		t.Errorf("published = %+v, want one high-priority message", msgs)
	}
}

func TestIngestBatchPartialSuccess(t *testing.T) {
	repo := newFakeEventRepo()
	ing := newTestIngestor(repo, queue.NewMemoryPublisher())

	batch := &BatchRequest{}
	for i := 0; i < 10; i++ {
		req := validRequest()
		if i == 5 {
			req.Title = "" // invalid
		}
		batch.Events = append(batch.Events, *req)
	}

	resp, err := ing.IngestBatch(context.Background(), testTenant(100), batch)
	if err != nil {
		t.Fatalf("ingest batch: %v", err)
	}
	if resp.SuccessfulEvents != 9 || resp.FailedEvents != 1 {
		t.Errorf("batch counts = %d/%d, want 9/1", resp.SuccessfulEvents, resp.FailedEvents)
	}
	if resp.ProcessingStatus != "partial" {
		t.Errorf("processing status = %q, want partial", resp.ProcessingStatus)
	}
	if repo.count() != 9 {
		t.Errorf("persisted events = %d, want 9", repo.count())
	}
	if resp.BatchID == "" {
		t.Error("batch id should be generated")
	}

	failed := resp.Results[5]
	if failed.Success {
		t.Error("event 5 should have failed")
	}
	found := false
	for _, e := range failed.Errors {
		if strings.HasPrefix(e.Field, "events[5].") {
			found = true
		}
	}
	if !found {
		t.Errorf("errors = %v, want events[5].* keys", failed.Errors)
	}
}

func TestIngestBatchShapeErrors(t *testing.T) {
	ing := newTestIngestor(newFakeEventRepo(), queue.NewMemoryPublisher())
	ctx := context.Background()
	tenant := testTenant(0)

	var ve *ValidationError
	if _, err := ing.IngestBatch(ctx, tenant, &BatchRequest{}); !errors.As(err, &ve) {
		t.Errorf("empty batch error = %v, want ValidationError", err)
	}

	big := &BatchRequest{Events: make([]EventRequest, MaxBatchSize+1)}
	if _, err := ing.IngestBatch(ctx, tenant, big); !errors.As(err, &ve) {
		t.Errorf("oversized batch error = %v, want ValidationError", err)
	}
}

func TestIngestBatchRateLimited(t *testing.T) {
	ing := newTestIngestor(newFakeEventRepo(), queue.NewMemoryPublisher())

	batch := &BatchRequest{Events: []EventRequest{*validRequest(), *validRequest(), *validRequest()}}
	_, err := ing.IngestBatch(context.Background(), testTenant(2), batch)
	var rle *RateLimitError
	if !errors.As(err, &rle) {
		t.Fatalf("error = %v, want RateLimitError", err)
	}
}
