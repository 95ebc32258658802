package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pulsestream/pulsestream/internal/models"
)

type sqliteAlertRepo struct {
	db *sql.DB
}

const alertColumns = `id, tenant_id, rule_id, title, message, severity, status,
	triggered_at, resolved_at, trigger_json, metadata_json, event_id,
	notifications_json, notification_failures, resolved_by, resolution_note,
	created_at, updated_at`

func (r *sqliteAlertRepo) Create(ctx context.Context, alert *models.Alert) error {
	triggerJSON, err := json.Marshal(alert.TriggerData)
	if err != nil {
		return fmt.Errorf("marshal trigger data: %w", err)
	}
	metaJSON, err := json.Marshal(alert.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	notifJSON, err := json.Marshal(alert.NotificationsSent)
	if err != nil {
		return fmt.Errorf("marshal notifications: %w", err)
	}

	query := `
		INSERT INTO alerts (id, tenant_id, rule_id, title, message, severity, status,
			triggered_at, resolved_at, trigger_json, metadata_json, event_id,
			notifications_json, notification_failures, resolved_by, resolution_note,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	var eventID sql.NullString
	if alert.EventID != nil {
		eventID = sql.NullString{String: *alert.EventID, Valid: true}
	}
	_, err = r.db.ExecContext(ctx, query,
		alert.ID, alert.TenantID, alert.RuleID, alert.Title, alert.Message,
		alert.Severity, alert.Status,
		alert.TriggeredAt, nullTime(alert.ResolvedAt), string(triggerJSON), string(metaJSON),
		eventID, string(notifJSON), alert.NotificationFailures,
		nullString(alert.ResolvedBy), nullString(alert.ResolutionNote),
		alert.CreatedAt, alert.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

func (r *sqliteAlertRepo) GetByID(ctx context.Context, tenantID, id string) (*models.Alert, error) {
	query := "SELECT " + alertColumns + " FROM alerts WHERE id = ? AND tenant_id = ?"
	alert, err := scanAlertRow(r.db.QueryRowContext(ctx, query, id, tenantID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return alert, nil
}

func (r *sqliteAlertRepo) Update(ctx context.Context, alert *models.Alert) error {
	triggerJSON, err := json.Marshal(alert.TriggerData)
	if err != nil {
		return fmt.Errorf("marshal trigger data: %w", err)
	}
	notifJSON, err := json.Marshal(alert.NotificationsSent)
	if err != nil {
		return fmt.Errorf("marshal notifications: %w", err)
	}

	query := `
		UPDATE alerts SET status = ?, resolved_at = ?, trigger_json = ?,
			notifications_json = ?, notification_failures = ?,
			resolved_by = ?, resolution_note = ?, updated_at = ?
		WHERE id = ? AND tenant_id = ?
	`
	result, err := r.db.ExecContext(ctx, query,
		alert.Status, nullTime(alert.ResolvedAt), string(triggerJSON),
		string(notifJSON), alert.NotificationFailures,
		nullString(alert.ResolvedBy), nullString(alert.ResolutionNote), alert.UpdatedAt,
		alert.ID, alert.TenantID,
	)
	if err != nil {
		return fmt.Errorf("update alert: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *sqliteAlertRepo) List(ctx context.Context, tenantID string, status models.AlertStatus, limit, offset int) ([]*models.Alert, int64, error) {
	where := "WHERE tenant_id = ?"
	args := []any{tenantID}
	if status != "" {
		where += " AND status = ?"
		args = append(args, status)
	}

	var total int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM alerts "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count alerts: %w", err)
	}

	if limit <= 0 {
		limit = 50
	}
	query := "SELECT " + alertColumns + " FROM alerts " + where +
		" ORDER BY triggered_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*models.Alert
	for rows.Next() {
		alert, err := scanAlertRow(rows)
		if err != nil {
			return nil, 0, err
		}
		alerts = append(alerts, alert)
	}
	return alerts, total, rows.Err()
}

func (r *sqliteAlertRepo) CountByRuleSince(ctx context.Context, ruleID string, since time.Time) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM alerts WHERE rule_id = ? AND triggered_at >= ?",
		ruleID, since,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count alerts by rule: %w", err)
	}
	return count, nil
}

func scanAlertRow(row scanner) (*models.Alert, error) {
	alert := &models.Alert{}
	var message, resolvedBy, resolutionNote, eventID sql.NullString
	var triggerJSON, metaJSON, notifJSON sql.NullString
	var resolvedAt sql.NullTime

	err := row.Scan(
		&alert.ID, &alert.TenantID, &alert.RuleID, &alert.Title, &message,
		&alert.Severity, &alert.Status,
		&alert.TriggeredAt, &resolvedAt, &triggerJSON, &metaJSON, &eventID,
		&notifJSON, &alert.NotificationFailures, &resolvedBy, &resolutionNote,
		&alert.CreatedAt, &alert.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scan alert: %w", err)
	}

	alert.Message = message.String
	alert.ResolvedBy = resolvedBy.String
	alert.ResolutionNote = resolutionNote.String
	if resolvedAt.Valid {
		t := resolvedAt.Time
		alert.ResolvedAt = &t
	}
	if eventID.Valid {
		id := eventID.String
		alert.EventID = &id
	}

	if triggerJSON.Valid && triggerJSON.String != "" {
		if err := json.Unmarshal([]byte(triggerJSON.String), &alert.TriggerData); err != nil {
			return nil, fmt.Errorf("unmarshal trigger data: %w", err)
		}
	}
	if metaJSON.Valid && metaJSON.String != "" {
		if err := json.Unmarshal([]byte(metaJSON.String), &alert.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	if notifJSON.Valid && notifJSON.String != "" {
		if err := json.Unmarshal([]byte(notifJSON.String), &alert.NotificationsSent); err != nil {
			return nil, fmt.Errorf("unmarshal notifications: %w", err)
		}
	}

	return alert, nil
}

// Helper functions

type scanner interface {
	Scan(dest ...any) error
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
