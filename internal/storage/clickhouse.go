package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/google/uuid"

	"github.com/pulsestream/pulsestream/internal/models"
)

// ClickHouseConfig holds ClickHouse connection settings.
type ClickHouseConfig struct {
	// Addresses are the ClickHouse server addresses (host:port).
	Addresses []string

	// Database is the ClickHouse database name.
	Database string

	// Username for authentication.
	Username string

	// Password for authentication.
	Password string

	// MaxOpenConns is the maximum number of open connections.
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections.
	MaxIdleConns int

	// DialTimeout is the connection timeout.
	DialTimeout time.Duration

	// Compression enables LZ4 compression.
	Compression bool

	// RetentionDays is the TTL in days for event retention.
	RetentionDays int
}

// ClickHouseStorage implements EventStorage for ClickHouse. Deployments
// with high event volume point the event repository here instead of
// SQLite.
type ClickHouseStorage struct {
	config *ClickHouseConfig
	db     *sql.DB
	events *clickhouseEventRepo
}

// NewClickHouseStorage creates a new ClickHouse storage.
func NewClickHouseStorage(config *ClickHouseConfig) *ClickHouseStorage {
	// Apply defaults
	if config.MaxOpenConns == 0 {
		config.MaxOpenConns = 5
	}
	if config.MaxIdleConns == 0 {
		config.MaxIdleConns = 5
	}
	if config.DialTimeout == 0 {
		config.DialTimeout = 5 * time.Second
	}
	if config.RetentionDays == 0 {
		config.RetentionDays = 30
	}

	return &ClickHouseStorage{config: config}
}

// Open initializes the ClickHouse connection.
func (s *ClickHouseStorage) Open() error {
	opts := &clickhouse.Options{
		Addr: s.config.Addresses,
		Auth: clickhouse.Auth{
			Database: s.config.Database,
			Username: s.config.Username,
			Password: s.config.Password,
		},
		DialTimeout:  s.config.DialTimeout,
		MaxOpenConns: s.config.MaxOpenConns,
		MaxIdleConns: s.config.MaxIdleConns,
	}

	if s.config.Compression {
		opts.Compression = &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		}
	}

	db := clickhouse.OpenDB(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), s.config.DialTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping clickhouse: %w", err)
	}

	s.db = db
	s.events = &clickhouseEventRepo{db: db}
	return nil
}

// Close closes the database connection.
func (s *ClickHouseStorage) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Migrate creates the events table if it doesn't exist.
func (s *ClickHouseStorage) Migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS events (
			id UUID DEFAULT generateUUIDv4(),
			tenant_id String,
			event_type LowCardinality(String),
			source String DEFAULT '',
			source_version String DEFAULT '',
			event_timestamp DateTime64(3, 'UTC'),
			ingested_at DateTime64(3, 'UTC'),
			payload String,
			metadata String DEFAULT '',
			external_id String DEFAULT '',
			correlation_id String DEFAULT '',
			processing_status LowCardinality(String) DEFAULT 'pending',
			duration_ms Nullable(Int64),
			status_code Nullable(Int32),
			error_message String DEFAULT '',
			geo_country LowCardinality(String) DEFAULT '',
			geo_city String DEFAULT '',
			user_agent String DEFAULT '',
			device_type LowCardinality(String) DEFAULT '',
			alert_processed UInt8 DEFAULT 0,
			alerts_triggered Int32 DEFAULT 0,
			is_deleted UInt8 DEFAULT 0,
			_date Date DEFAULT toDate(event_timestamp)
		)
		ENGINE = MergeTree()
		PARTITION BY toYYYYMM(_date)
		ORDER BY (tenant_id, event_type, event_timestamp, id)
		TTL _date + INTERVAL %d DAY DELETE
		SETTINGS index_granularity = 8192
	`, s.config.RetentionDays)

	if _, err := s.db.ExecContext(ctx, createTable); err != nil {
		return fmt.Errorf("create events table: %w", err)
	}

	// Add indexes (these are idempotent in ClickHouse)
	indexes := []string{
		"ALTER TABLE events ADD INDEX IF NOT EXISTS idx_external external_id TYPE bloom_filter(0.01) GRANULARITY 4",
		"ALTER TABLE events ADD INDEX IF NOT EXISTS idx_source source TYPE bloom_filter(0.01) GRANULARITY 4",
		"ALTER TABLE events ADD INDEX IF NOT EXISTS idx_correlation correlation_id TYPE bloom_filter(0.01) GRANULARITY 4",
	}

	for _, idx := range indexes {
		if _, err := s.db.ExecContext(ctx, idx); err != nil {
			// Log warning but don't fail - index creation may not be supported in all ClickHouse versions
			fmt.Printf("warning: failed to create index: %v\n", err)
		}
	}

	return nil
}

// Ping checks the connection health.
func (s *ClickHouseStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Events returns the event repository.
func (s *ClickHouseStorage) Events() EventRepository {
	return s.events
}

// clickhouseEventRepo implements EventRepository for ClickHouse.
type clickhouseEventRepo struct {
	db *sql.DB
}

const chEventColumns = `id, tenant_id, event_type, source, source_version,
	event_timestamp, ingested_at, payload, metadata,
	external_id, correlation_id, processing_status,
	duration_ms, status_code, error_message,
	geo_country, geo_city, user_agent, device_type,
	alert_processed, alerts_triggered`

func (r *clickhouseEventRepo) Create(ctx context.Context, event *models.Event) error {
	return r.InsertBatch(ctx, []*models.Event{event})
}

// InsertBatch inserts multiple events using batch insert.
func (r *clickhouseEventRepo) InsertBatch(ctx context.Context, events []*models.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO events (
			id, tenant_id, event_type, source, source_version,
			event_timestamp, ingested_at, payload, metadata,
			external_id, correlation_id, processing_status,
			duration_ms, status_code, error_message,
			geo_country, geo_city, user_agent, device_type,
			alert_processed, alerts_triggered
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, event := range events {
		id := event.ID
		if id == "" {
			id = uuid.New().String()
		}

		payloadJSON, _ := json.Marshal(event.Payload)
		metaJSON, _ := json.Marshal(event.Metadata)

		_, err := stmt.ExecContext(ctx,
			id,
			event.TenantID,
			string(event.EventType),
			event.Source,
			event.SourceVersion,
			event.EventTimestamp,
			event.IngestedAt,
			string(payloadJSON),
			string(metaJSON),
			event.ExternalID,
			event.CorrelationID,
			string(event.ProcessingStatus),
			event.DurationMs,
			event.StatusCode,
			event.ErrorMessage,
			event.GeoCountry,
			event.GeoCity,
			event.UserAgent,
			event.DeviceType,
			boolToInt(event.AlertProcessed),
			event.AlertsTriggered,
		)
		if err != nil {
			return fmt.Errorf("exec: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	return nil
}

func (r *clickhouseEventRepo) GetByID(ctx context.Context, tenantID, id string) (*models.Event, error) {
	query := "SELECT " + chEventColumns + " FROM events WHERE tenant_id = ? AND id = ? AND is_deleted = 0 LIMIT 1"
	return r.queryOne(ctx, query, tenantID, id)
}

func (r *clickhouseEventRepo) GetByExternalID(ctx context.Context, tenantID, externalID string) (*models.Event, error) {
	query := "SELECT " + chEventColumns + " FROM events WHERE tenant_id = ? AND external_id = ? AND is_deleted = 0 LIMIT 1"
	return r.queryOne(ctx, query, tenantID, externalID)
}

func (r *clickhouseEventRepo) ListWindow(ctx context.Context, tenantID string, since time.Time, eventType string) ([]*models.Event, error) {
	query := "SELECT " + chEventColumns + " FROM events WHERE tenant_id = ? AND event_timestamp >= ? AND is_deleted = 0"
	args := []any{tenantID, since}
	if eventType != "" {
		query += " AND event_type = ?"
		args = append(args, eventType)
	}
	query += " ORDER BY event_timestamp DESC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()
	return r.scanRows(rows)
}

func (r *clickhouseEventRepo) Search(ctx context.Context, tenantID string, filter *EventFilter) ([]*models.Event, int64, error) {
	if filter == nil {
		filter = &EventFilter{}
	}

	var conditions []string
	var args []any
	conditions = append(conditions, "tenant_id = ?", "is_deleted = 0")
	args = append(args, tenantID)

	if filter.EventType != "" {
		conditions = append(conditions, "event_type = ?")
		args = append(args, filter.EventType)
	}
	if filter.Service != "" {
		conditions = append(conditions, "source = ?")
		args = append(args, filter.Service)
	}
	if filter.StatusCode != 0 {
		conditions = append(conditions, "status_code = ?")
		args = append(args, filter.StatusCode)
	}
	if !filter.Start.IsZero() {
		conditions = append(conditions, "event_timestamp >= ?")
		args = append(args, filter.Start)
	}
	if !filter.End.IsZero() {
		conditions = append(conditions, "event_timestamp <= ?")
		args = append(args, filter.End)
	}
	where := " WHERE " + strings.Join(conditions, " AND ")

	var total int64
	if err := r.db.QueryRowContext(ctx, "SELECT count() FROM events"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query := "SELECT " + chEventColumns + " FROM events" + where +
		fmt.Sprintf(" ORDER BY event_timestamp DESC LIMIT %d OFFSET %d", limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	events, err := r.scanRows(rows)
	if err != nil {
		return nil, 0, err
	}
	return events, total, nil
}

func (r *clickhouseEventRepo) CountSince(ctx context.Context, tenantID string, since time.Time) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx,
		"SELECT count() FROM events WHERE tenant_id = ? AND event_timestamp >= ? AND is_deleted = 0",
		tenantID, since,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return count, nil
}

// SoftDelete marks an event deleted via an async ClickHouse mutation.
func (r *clickhouseEventRepo) SoftDelete(ctx context.Context, tenantID, id string) error {
	if _, err := r.GetByID(ctx, tenantID, id); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx,
		"ALTER TABLE events UPDATE is_deleted = 1 WHERE tenant_id = ? AND id = ?",
		tenantID, id,
	)
	if err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	return nil
}

func (r *clickhouseEventRepo) queryOne(ctx context.Context, query string, args ...any) (*models.Event, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	events, err := r.scanRows(rows)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, ErrNotFound
	}
	return events[0], nil
}

func (r *clickhouseEventRepo) scanRows(rows *sql.Rows) ([]*models.Event, error) {
	var events []*models.Event
	for rows.Next() {
		event := &models.Event{}
		var payloadJSON, metaJSON string
		var durationMs sql.NullInt64
		var statusCode sql.NullInt32
		var alertProcessed uint8

		err := rows.Scan(
			&event.ID,
			&event.TenantID,
			&event.EventType,
			&event.Source,
			&event.SourceVersion,
			&event.EventTimestamp,
			&event.IngestedAt,
			&payloadJSON,
			&metaJSON,
			&event.ExternalID,
			&event.CorrelationID,
			&event.ProcessingStatus,
			&durationMs,
			&statusCode,
			&event.ErrorMessage,
			&event.GeoCountry,
			&event.GeoCity,
			&event.UserAgent,
			&event.DeviceType,
			&alertProcessed,
			&event.AlertsTriggered,
		)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}

		event.AlertProcessed = alertProcessed != 0
		if durationMs.Valid {
			v := int(durationMs.Int64)
			event.DurationMs = &v
		}
		if statusCode.Valid {
			v := int(statusCode.Int32)
			event.StatusCode = &v
		}
		if payloadJSON != "" {
			json.Unmarshal([]byte(payloadJSON), &event.Payload)
		}
		if metaJSON != "" {
			json.Unmarshal([]byte(metaJSON), &event.Metadata)
		}

		events = append(events, event)
	}
	return events, rows.Err()
}
