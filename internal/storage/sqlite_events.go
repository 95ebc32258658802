package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pulsestream/pulsestream/internal/models"
)

type sqliteEventRepo struct {
	db *sql.DB
}

const eventColumns = `id, tenant_id, event_type, source, source_version,
	event_timestamp, ingested_at, payload_json, metadata_json,
	external_id, correlation_id, processing_status, processed_at,
	duration_ms, status_code, error_message,
	geo_country, geo_city, user_agent, device_type,
	alert_processed, alerts_triggered`

func (r *sqliteEventRepo) Create(ctx context.Context, event *models.Event) error {
	payloadJSON, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	metaJSON, err := json.Marshal(event.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	query := `
		INSERT INTO events (id, tenant_id, event_type, source, source_version,
			event_timestamp, ingested_at, payload_json, metadata_json,
			external_id, correlation_id, processing_status, processed_at,
			duration_ms, status_code, error_message,
			geo_country, geo_city, user_agent, device_type,
			alert_processed, alerts_triggered, is_deleted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)
	`
	_, err = r.db.ExecContext(ctx, query,
		event.ID, event.TenantID, event.EventType,
		nullString(event.Source), nullString(event.SourceVersion),
		event.EventTimestamp, event.IngestedAt, string(payloadJSON), string(metaJSON),
		nullString(event.ExternalID), nullString(event.CorrelationID),
		event.ProcessingStatus, nullTime(event.ProcessedAt),
		nullInt(event.DurationMs), nullInt(event.StatusCode), nullString(event.ErrorMessage),
		nullString(event.GeoCountry), nullString(event.GeoCity),
		nullString(event.UserAgent), nullString(event.DeviceType),
		boolToInt(event.AlertProcessed), event.AlertsTriggered,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (r *sqliteEventRepo) GetByID(ctx context.Context, tenantID, id string) (*models.Event, error) {
	query := "SELECT " + eventColumns + " FROM events WHERE id = ? AND tenant_id = ? AND is_deleted = 0"
	event, err := scanEventRow(r.db.QueryRowContext(ctx, query, id, tenantID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return event, nil
}

func (r *sqliteEventRepo) GetByExternalID(ctx context.Context, tenantID, externalID string) (*models.Event, error) {
	query := "SELECT " + eventColumns + " FROM events WHERE tenant_id = ? AND external_id = ? AND is_deleted = 0"
	event, err := scanEventRow(r.db.QueryRowContext(ctx, query, tenantID, externalID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return event, nil
}

func (r *sqliteEventRepo) ListWindow(ctx context.Context, tenantID string, since time.Time, eventType string) ([]*models.Event, error) {
	query := "SELECT " + eventColumns + " FROM events WHERE tenant_id = ? AND event_timestamp >= ? AND is_deleted = 0"
	args := []any{tenantID, since}
	if eventType != "" {
		query += " AND event_type = ?"
		args = append(args, eventType)
	}
	query += " ORDER BY event_timestamp DESC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (r *sqliteEventRepo) Search(ctx context.Context, tenantID string, filter *EventFilter) ([]*models.Event, int64, error) {
	where := "WHERE tenant_id = ? AND is_deleted = 0"
	args := []any{tenantID}

	if filter == nil {
		filter = &EventFilter{}
	}
	if filter.EventType != "" {
		where += " AND event_type = ?"
		args = append(args, filter.EventType)
	}
	if filter.Service != "" {
		where += " AND source = ?"
		args = append(args, filter.Service)
	}
	if filter.StatusCode != 0 {
		where += " AND status_code = ?"
		args = append(args, filter.StatusCode)
	}
	if !filter.Start.IsZero() {
		where += " AND event_timestamp >= ?"
		args = append(args, filter.Start)
	}
	if !filter.End.IsZero() {
		where += " AND event_timestamp <= ?"
		args = append(args, filter.End)
	}

	var total int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM events "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count events: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query := "SELECT " + eventColumns + " FROM events " + where +
		" ORDER BY event_timestamp DESC LIMIT ? OFFSET ?"
	args = append(args, limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	if err != nil {
		return nil, 0, err
	}
	return events, total, nil
}

func (r *sqliteEventRepo) CountSince(ctx context.Context, tenantID string, since time.Time) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM events WHERE tenant_id = ? AND event_timestamp >= ? AND is_deleted = 0",
		tenantID, since,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return count, nil
}

func (r *sqliteEventRepo) SoftDelete(ctx context.Context, tenantID, id string) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE events SET is_deleted = 1 WHERE id = ? AND tenant_id = ? AND is_deleted = 0",
		id, tenantID,
	)
	if err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func scanEvents(rows *sql.Rows) ([]*models.Event, error) {
	var events []*models.Event
	for rows.Next() {
		event, err := scanEventRow(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func scanEventRow(row scanner) (*models.Event, error) {
	event := &models.Event{}
	var source, sourceVersion, externalID, correlationID sql.NullString
	var errorMessage, geoCountry, geoCity, userAgent, deviceType sql.NullString
	var payloadJSON string
	var metaJSON sql.NullString
	var processedAt sql.NullTime
	var durationMs, statusCode sql.NullInt64
	var alertProcessed int

	err := row.Scan(
		&event.ID, &event.TenantID, &event.EventType, &source, &sourceVersion,
		&event.EventTimestamp, &event.IngestedAt, &payloadJSON, &metaJSON,
		&externalID, &correlationID, &event.ProcessingStatus, &processedAt,
		&durationMs, &statusCode, &errorMessage,
		&geoCountry, &geoCity, &userAgent, &deviceType,
		&alertProcessed, &event.AlertsTriggered,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scan event: %w", err)
	}

	event.Source = source.String
	event.SourceVersion = sourceVersion.String
	event.ExternalID = externalID.String
	event.CorrelationID = correlationID.String
	event.ErrorMessage = errorMessage.String
	event.GeoCountry = geoCountry.String
	event.GeoCity = geoCity.String
	event.UserAgent = userAgent.String
	event.DeviceType = deviceType.String
	event.AlertProcessed = alertProcessed != 0
	if processedAt.Valid {
		t := processedAt.Time
		event.ProcessedAt = &t
	}
	if durationMs.Valid {
		v := int(durationMs.Int64)
		event.DurationMs = &v
	}
	if statusCode.Valid {
		v := int(statusCode.Int64)
		event.StatusCode = &v
	}

	if err := json.Unmarshal([]byte(payloadJSON), &event.Payload); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	if metaJSON.Valid && metaJSON.String != "" {
		if err := json.Unmarshal([]byte(metaJSON.String), &event.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}

	return event, nil
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}
