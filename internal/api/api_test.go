package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/pulsestream/pulsestream/internal/api/auth"
	"github.com/pulsestream/pulsestream/internal/ingest"
	"github.com/pulsestream/pulsestream/internal/models"
	"github.com/pulsestream/pulsestream/internal/queue"
	"github.com/pulsestream/pulsestream/internal/ratelimit"
	"github.com/pulsestream/pulsestream/internal/storage"
)

var testJWTSecret = []byte("test-jwt-secret-32-bytes-long!!")

// testServer creates a server backed by a temp SQLite database and an
// in-memory queue.
func testServer(t *testing.T) (*Server, storage.Storage, func()) {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "pulsestream-test-*.db")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	tmpFile.Close()

	store := storage.NewSQLiteStorage(tmpFile.Name())
	if err := store.Open(); err != nil {
		os.Remove(tmpFile.Name())
		t.Fatalf("open storage: %v", err)
	}
	if err := store.Migrate(); err != nil {
		store.Close()
		os.Remove(tmpFile.Name())
		t.Fatalf("migrate storage: %v", err)
	}

	limiter := ratelimit.New(ratelimit.NewMemoryStore(), time.Minute)
	ingestor := ingest.NewIngestor(store.Events(), limiter, queue.NewMemoryPublisher())

	cfg := &Config{
		Address:        ":0",
		JWTSecret:      testJWTSecret,
		AccessTokenTTL: 15 * time.Minute,
	}

	srv, err := New(cfg, store, nil, ingestor)
	if err != nil {
		store.Close()
		os.Remove(tmpFile.Name())
		t.Fatalf("create server: %v", err)
	}

	cleanup := func() {
		store.Close()
		os.Remove(tmpFile.Name())
	}

	return srv, store, cleanup
}

// createTestTenant provisions a tenant and returns it with a valid
// access token.
func createTestTenant(t *testing.T, store storage.Storage, id string) (*models.Tenant, string) {
	t.Helper()

	tenant := &models.Tenant{
		ID:                 id,
		Name:               "Tenant " + id,
		RateLimitPerMinute: 1000,
		IsActive:           true,
		CreatedAt:          time.Now().UTC(),
	}
	if err := store.Tenants().Create(context.Background(), tenant); err != nil {
		t.Fatalf("create tenant: %v", err)
	}

	jwtService := auth.NewJWTService(testJWTSecret, 15*time.Minute)
	token, err := jwtService.GenerateToken(tenant)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	return tenant, token
}

func handler(srv *Server) http.Handler {
	return srv.server.Handler
}

func doJSON(srv *Server, method, target, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler(srv).ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	srv, _, cleanup := testServer(t)
	defer cleanup()

	rec := doJSON(srv, "GET", "/health", "", "")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestIngestRequiresToken(t *testing.T) {
	srv, _, cleanup := testServer(t)
	defer cleanup()

	body := `{"event_type":"api_call","title":"checkout","source":{"service":"web"}}`
	rec := doJSON(srv, "POST", "/api/v1/events", "", body)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestIngestEndToEnd(t *testing.T) {
	srv, store, cleanup := testServer(t)
	defer cleanup()

	_, token := createTestTenant(t, store, "tenant-1")

	body := `{"event_type":"api_call","title":"checkout completed","source":{"service":"web"},"metrics":{"status_code":200,"response_time_ms":42.5}}`
	rec := doJSON(srv, "POST", "/api/v1/events", token, body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d; body: %s", rec.Code, http.StatusCreated, rec.Body.String())
	}

	var resp struct {
		Data ingest.IngestResponse `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Data.Success {
		t.Error("expected success response")
	}
	if resp.Data.ProcessingStatus != "queued" {
		t.Errorf("processing_status = %q, want queued", resp.Data.ProcessingStatus)
	}

	// The event is queryable through the list endpoint.
	rec = doJSON(srv, "GET", "/api/v1/events?event_type=api_call", token, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d, want %d; body: %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	var list struct {
		Data struct {
			Items []*models.Event `json:"items"`
			Total int64           `json:"total"`
		} `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if list.Data.Total != 1 {
		t.Errorf("total = %d, want 1", list.Data.Total)
	}
}

func TestIngestValidationFailure(t *testing.T) {
	srv, store, cleanup := testServer(t)
	defer cleanup()

	_, token := createTestTenant(t, store, "tenant-1")

	rec := doJSON(srv, "POST", "/api/v1/events", token, `{"event_type":"api_call"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d; body: %s", rec.Code, http.StatusBadRequest, rec.Body.String())
	}

	var resp struct {
		Error *Error `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != "VALIDATION_FAILED" {
		t.Errorf("error = %+v, want VALIDATION_FAILED", resp.Error)
	}
}

func TestIngestRateLimited(t *testing.T) {
	srv, store, cleanup := testServer(t)
	defer cleanup()

	tenant := &models.Tenant{
		ID:                 "tenant-small",
		Name:               "Small Tenant",
		RateLimitPerMinute: 2,
		IsActive:           true,
		CreatedAt:          time.Now().UTC(),
	}
	if err := store.Tenants().Create(context.Background(), tenant); err != nil {
		t.Fatalf("create tenant: %v", err)
	}
	jwtService := auth.NewJWTService(testJWTSecret, 15*time.Minute)
	token, err := jwtService.GenerateToken(tenant)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	body := `{"event_type":"api_call","title":"t","source":{"service":"web"}}`
	for i := 0; i < 2; i++ {
		rec := doJSON(srv, "POST", "/api/v1/events", token, body)
		if rec.Code != http.StatusCreated {
			t.Fatalf("event %d: status = %d, want %d", i, rec.Code, http.StatusCreated)
		}
	}

	rec := doJSON(srv, "POST", "/api/v1/events", token, body)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d; body: %s", rec.Code, http.StatusTooManyRequests, rec.Body.String())
	}
}

func TestBatchIngest(t *testing.T) {
	srv, store, cleanup := testServer(t)
	defer cleanup()

	_, token := createTestTenant(t, store, "tenant-1")

	body := `{"events":[
		{"event_type":"api_call","title":"a","source":{"service":"web"}},
		{"event_type":"error_event","title":"b","source":{"service":"web"}},
		{"event_type":"api_call","title":""}
	]}`
	rec := doJSON(srv, "POST", "/api/v1/events/batch", token, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", rec.Code, http.StatusOK, rec.Body.String())
	}

	var resp struct {
		Data ingest.BatchResponse `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Data.SuccessfulEvents != 2 || resp.Data.FailedEvents != 1 {
		t.Errorf("successful = %d failed = %d, want 2/1", resp.Data.SuccessfulEvents, resp.Data.FailedEvents)
	}
	if resp.Data.ProcessingStatus != "partial" {
		t.Errorf("processing_status = %q, want partial", resp.Data.ProcessingStatus)
	}
}

func TestRuleLifecycle(t *testing.T) {
	srv, store, cleanup := testServer(t)
	defer cleanup()

	_, token := createTestTenant(t, store, "tenant-1")

	createBody := `{
		"name": "error burst",
		"event_type": "error_event",
		"condition": {"type": "count", "min_count": 10},
		"time_window": "5m",
		"severity": "high"
	}`
	rec := doJSON(srv, "POST", "/api/v1/alert-rules", token, createBody)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, want %d; body: %s", rec.Code, http.StatusCreated, rec.Body.String())
	}

	var created struct {
		Data *models.AlertRule `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("decode create: %v", err)
	}
	ruleID := created.Data.ID
	if ruleID == "" {
		t.Fatal("created rule has no id")
	}
	if created.Data.Severity != models.SeverityHigh {
		t.Errorf("severity = %s, want high", created.Data.Severity)
	}

	// Update
	rec = doJSON(srv, "PUT", "/api/v1/alert-rules/"+ruleID, token, `{"description":"updated"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d; body: %s", rec.Code, rec.Body.String())
	}

	// Get
	rec = doJSON(srv, "GET", "/api/v1/alert-rules/"+ruleID, token, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	var got struct {
		Data *models.AlertRule `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode get: %v", err)
	}
	if got.Data.Description != "updated" {
		t.Errorf("description = %q, want updated", got.Data.Description)
	}

	// Delete, then confirm gone
	rec = doJSON(srv, "DELETE", "/api/v1/alert-rules/"+ruleID, token, "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d, want %d", rec.Code, http.StatusNoContent)
	}
	rec = doJSON(srv, "GET", "/api/v1/alert-rules/"+ruleID, token, "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestRuleCreateInvalidCondition(t *testing.T) {
	srv, store, cleanup := testServer(t)
	defer cleanup()

	_, token := createTestTenant(t, store, "tenant-1")

	body := `{"name":"bad","condition":{"type":"count","min_count":-1}}`
	rec := doJSON(srv, "POST", "/api/v1/alert-rules", token, body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d; body: %s", rec.Code, http.StatusBadRequest, rec.Body.String())
	}
}

func TestTenantIsolation(t *testing.T) {
	srv, store, cleanup := testServer(t)
	defer cleanup()

	_, token1 := createTestTenant(t, store, "tenant-1")
	_, token2 := createTestTenant(t, store, "tenant-2")

	body := `{"name":"r1","condition":{"type":"count","min_count":5}}`
	rec := doJSON(srv, "POST", "/api/v1/alert-rules", token1, body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d", rec.Code)
	}
	var created struct {
		Data *models.AlertRule `json:"data"`
	}
	json.NewDecoder(rec.Body).Decode(&created)

	// The other tenant cannot see it.
	rec = doJSON(srv, "GET", "/api/v1/alert-rules/"+created.Data.ID, token2, "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("cross-tenant get status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestAlertResolveEndpoint(t *testing.T) {
	srv, store, cleanup := testServer(t)
	defer cleanup()

	_, token := createTestTenant(t, store, "tenant-1")

	now := time.Now().UTC()
	alert := &models.Alert{
		ID:          "alert-1",
		TenantID:    "tenant-1",
		RuleID:      "rule-1",
		Title:       "High Event Count Alert: 12 events in 5m",
		Message:     "rule fired",
		Severity:    models.SeverityHigh,
		Status:      models.AlertActive,
		TriggeredAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := store.Alerts().Create(context.Background(), alert); err != nil {
		t.Fatalf("create alert: %v", err)
	}

	body := `{"resolved_by":"ops@example.com","resolution_note":"rolled back"}`
	rec := doJSON(srv, "POST", "/api/v1/alerts/alert-1/resolve", token, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", rec.Code, http.StatusOK, rec.Body.String())
	}

	stored, err := store.Alerts().GetByID(context.Background(), "tenant-1", "alert-1")
	if err != nil {
		t.Fatalf("get alert: %v", err)
	}
	if stored.Status != models.AlertResolved {
		t.Errorf("status = %s, want resolved", stored.Status)
	}
	if stored.ResolvedBy != "ops@example.com" {
		t.Errorf("resolved_by = %q", stored.ResolvedBy)
	}
}

func TestNewValidatesConfig(t *testing.T) {
	store := storage.NewSQLiteStorage(":memory:")
	limiter := ratelimit.New(ratelimit.NewMemoryStore(), time.Minute)
	ingestor := ingest.NewIngestor(store.Events(), limiter, queue.NewMemoryPublisher())

	if _, err := New(nil, store, nil, ingestor); err == nil {
		t.Error("expected error for nil config")
	}
	if _, err := New(&Config{JWTSecret: testJWTSecret}, nil, nil, ingestor); err == nil {
		t.Error("expected error for nil storage")
	}
	if _, err := New(&Config{}, store, nil, ingestor); err == nil {
		t.Error("expected error for missing JWT secret")
	}
	if _, err := New(&Config{JWTSecret: testJWTSecret}, store, nil, nil); err == nil {
		t.Error("expected error for nil ingestor")
	}
}
