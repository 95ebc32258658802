// Package storage provides database storage interfaces and implementations.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/pulsestream/pulsestream/internal/models"
)

// ErrNotFound is returned when an entity does not exist within the
// requesting tenant's scope.
var ErrNotFound = errors.New("not found")

// Storage is the main interface for control-plane database operations.
type Storage interface {
	// Open initializes the database connection.
	Open() error
	// Close closes the database connection.
	Close() error
	// Migrate runs database migrations.
	Migrate() error

	// Repository accessors
	Tenants() TenantRepository
	Rules() RuleRepository
	Alerts() AlertRepository
	Events() EventRepository
}

// EventStorage is a separate interface for event persistence. Events
// have different access patterns (high-volume writes, windowed
// time-series reads), so deployments may back them with a column store
// while control-plane entities stay in SQLite.
type EventStorage interface {
	Open() error
	Close() error
	Migrate() error
	Ping(ctx context.Context) error

	Events() EventRepository
}

// TenantRepository exposes the tenant collaborator contract. Tenants
// are provisioned externally; PulseStream reads identity and quota.
type TenantRepository interface {
	Create(ctx context.Context, tenant *models.Tenant) error
	GetByID(ctx context.Context, id string) (*models.Tenant, error)
}

// RuleRepository defines operations for alert rule management.
type RuleRepository interface {
	Create(ctx context.Context, rule *models.AlertRule) error
	GetByID(ctx context.Context, tenantID, id string) (*models.AlertRule, error)
	Update(ctx context.Context, rule *models.AlertRule) error
	SoftDelete(ctx context.Context, tenantID, id string) error
	List(ctx context.Context, tenantID string) ([]*models.AlertRule, error)
	ListActive(ctx context.Context, tenantID string) ([]*models.AlertRule, error)

	// TenantsWithActiveRules returns tenant ids that have at least one
	// active rule; the evaluation loop iterates these.
	TenantsWithActiveRules(ctx context.Context) ([]string, error)

	// RecordEvaluation sets last_evaluated_at. Evaluation bookkeeping
	// is independent of trigger outcome.
	RecordEvaluation(ctx context.Context, id string, at time.Time) error

	// ClaimTrigger atomically advances last_triggered_at from expected
	// to at and increments total_triggers. It returns false when the
	// stored value no longer matches expected, meaning a concurrent
	// evaluation already claimed the trigger.
	ClaimTrigger(ctx context.Context, id string, expected *time.Time, at time.Time) (bool, error)
}

// AlertRepository defines operations for triggered alerts.
type AlertRepository interface {
	Create(ctx context.Context, alert *models.Alert) error
	GetByID(ctx context.Context, tenantID, id string) (*models.Alert, error)
	Update(ctx context.Context, alert *models.Alert) error
	List(ctx context.Context, tenantID string, status models.AlertStatus, limit, offset int) ([]*models.Alert, int64, error)

	// CountByRuleSince counts alerts a rule produced after since; the
	// trigger controller uses it for the hourly cap.
	CountByRuleSince(ctx context.Context, ruleID string, since time.Time) (int64, error)
}

// EventFilter restricts event searches. Zero-valued fields are ignored.
type EventFilter struct {
	EventType  string
	Service    string
	StatusCode int
	Start      time.Time
	End        time.Time
	Limit      int
	Offset     int
}

// EventRepository defines operations for event persistence.
type EventRepository interface {
	Create(ctx context.Context, event *models.Event) error
	GetByID(ctx context.Context, tenantID, id string) (*models.Event, error)

	// GetByExternalID looks up an event by the caller-supplied id,
	// scoped to the tenant. Returns ErrNotFound when absent; the
	// ingestion pipeline uses this for idempotency.
	GetByExternalID(ctx context.Context, tenantID, externalID string) (*models.Event, error)

	// ListWindow returns non-deleted events with event_timestamp >=
	// since, optionally filtered by event type, newest first.
	ListWindow(ctx context.Context, tenantID string, since time.Time, eventType string) ([]*models.Event, error)

	Search(ctx context.Context, tenantID string, filter *EventFilter) ([]*models.Event, int64, error)
	CountSince(ctx context.Context, tenantID string, since time.Time) (int64, error)
	SoftDelete(ctx context.Context, tenantID, id string) error
}
