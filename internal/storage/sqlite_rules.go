package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pulsestream/pulsestream/internal/models"
)

type sqliteRuleRepo struct {
	db *sql.DB
}

const ruleColumns = `id, tenant_id, name, description, event_type, condition_json,
	time_window, evaluation_interval, severity, notify_json, notification_template,
	is_active, cooldown_minutes, max_alerts_per_hour,
	last_evaluated_at, last_triggered_at, total_triggers,
	created_at, updated_at`

func (r *sqliteRuleRepo) Create(ctx context.Context, rule *models.AlertRule) error {
	condJSON, err := json.Marshal(rule.Condition)
	if err != nil {
		return fmt.Errorf("marshal condition: %w", err)
	}
	notifyJSON, err := json.Marshal(rule.NotifyChannels)
	if err != nil {
		return fmt.Errorf("marshal notify channels: %w", err)
	}

	query := `
		INSERT INTO alert_rules (id, tenant_id, name, description, event_type, condition_json,
			time_window, evaluation_interval, severity, notify_json, notification_template,
			is_active, cooldown_minutes, max_alerts_per_hour,
			last_evaluated_at, last_triggered_at, total_triggers,
			created_at, updated_at, is_deleted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)
	`
	_, err = r.db.ExecContext(ctx, query,
		rule.ID, rule.TenantID, rule.Name, nullString(rule.Description), nullString(rule.EventType),
		string(condJSON), rule.TimeWindow, rule.EvaluationInterval, rule.Severity,
		string(notifyJSON), nullString(rule.NotificationTemplate),
		boolToInt(rule.IsActive), rule.CooldownMinutes, rule.MaxAlertsPerHour,
		nullTime(rule.LastEvaluatedAt), nullTime(rule.LastTriggeredAt), rule.TotalTriggers,
		rule.CreatedAt, rule.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert rule: %w", err)
	}
	return nil
}

func (r *sqliteRuleRepo) GetByID(ctx context.Context, tenantID, id string) (*models.AlertRule, error) {
	query := "SELECT " + ruleColumns + " FROM alert_rules WHERE id = ? AND tenant_id = ? AND is_deleted = 0"
	rule, err := r.scanRule(r.db.QueryRowContext(ctx, query, id, tenantID))
	if err != nil {
		return nil, err
	}
	if rule == nil {
		return nil, ErrNotFound
	}
	return rule, nil
}

func (r *sqliteRuleRepo) Update(ctx context.Context, rule *models.AlertRule) error {
	condJSON, err := json.Marshal(rule.Condition)
	if err != nil {
		return fmt.Errorf("marshal condition: %w", err)
	}
	notifyJSON, err := json.Marshal(rule.NotifyChannels)
	if err != nil {
		return fmt.Errorf("marshal notify channels: %w", err)
	}

	query := `
		UPDATE alert_rules SET name = ?, description = ?, event_type = ?, condition_json = ?,
			time_window = ?, evaluation_interval = ?, severity = ?, notify_json = ?,
			notification_template = ?, is_active = ?, cooldown_minutes = ?,
			max_alerts_per_hour = ?, updated_at = ?
		WHERE id = ? AND tenant_id = ? AND is_deleted = 0
	`
	result, err := r.db.ExecContext(ctx, query,
		rule.Name, nullString(rule.Description), nullString(rule.EventType), string(condJSON),
		rule.TimeWindow, rule.EvaluationInterval, rule.Severity, string(notifyJSON),
		nullString(rule.NotificationTemplate), boolToInt(rule.IsActive), rule.CooldownMinutes,
		rule.MaxAlertsPerHour, rule.UpdatedAt,
		rule.ID, rule.TenantID,
	)
	if err != nil {
		return fmt.Errorf("update rule: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *sqliteRuleRepo) SoftDelete(ctx context.Context, tenantID, id string) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE alert_rules SET is_deleted = 1, is_active = 0, updated_at = ? WHERE id = ? AND tenant_id = ? AND is_deleted = 0",
		time.Now().UTC(), id, tenantID,
	)
	if err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *sqliteRuleRepo) List(ctx context.Context, tenantID string) ([]*models.AlertRule, error) {
	query := "SELECT " + ruleColumns + " FROM alert_rules WHERE tenant_id = ? AND is_deleted = 0 ORDER BY name"
	return r.queryRules(ctx, query, tenantID)
}

func (r *sqliteRuleRepo) ListActive(ctx context.Context, tenantID string) ([]*models.AlertRule, error) {
	query := "SELECT " + ruleColumns + " FROM alert_rules WHERE tenant_id = ? AND is_active = 1 AND is_deleted = 0 ORDER BY name"
	return r.queryRules(ctx, query, tenantID)
}

func (r *sqliteRuleRepo) TenantsWithActiveRules(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT DISTINCT tenant_id FROM alert_rules WHERE is_active = 1 AND is_deleted = 0 ORDER BY tenant_id",
	)
	if err != nil {
		return nil, fmt.Errorf("query rule tenants: %w", err)
	}
	defer rows.Close()

	var tenants []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan tenant id: %w", err)
		}
		tenants = append(tenants, id)
	}
	return tenants, rows.Err()
}

func (r *sqliteRuleRepo) RecordEvaluation(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE alert_rules SET last_evaluated_at = ? WHERE id = ?",
		at, id,
	)
	if err != nil {
		return fmt.Errorf("record evaluation: %w", err)
	}
	return nil
}

// ClaimTrigger advances last_triggered_at only when it still holds the
// value the caller observed. Concurrent evaluations race here; exactly
// one wins.
func (r *sqliteRuleRepo) ClaimTrigger(ctx context.Context, id string, expected *time.Time, at time.Time) (bool, error) {
	var result sql.Result
	var err error
	if expected == nil {
		result, err = r.db.ExecContext(ctx, `
			UPDATE alert_rules
			SET last_triggered_at = ?, total_triggers = total_triggers + 1, updated_at = ?
			WHERE id = ? AND last_triggered_at IS NULL AND is_deleted = 0
		`, at, at, id)
	} else {
		result, err = r.db.ExecContext(ctx, `
			UPDATE alert_rules
			SET last_triggered_at = ?, total_triggers = total_triggers + 1, updated_at = ?
			WHERE id = ? AND last_triggered_at = ? AND is_deleted = 0
		`, at, at, id, *expected)
	}
	if err != nil {
		return false, fmt.Errorf("claim trigger: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim trigger rows: %w", err)
	}
	return rows > 0, nil
}

func (r *sqliteRuleRepo) queryRules(ctx context.Context, query string, args ...any) ([]*models.AlertRule, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer rows.Close()

	var rules []*models.AlertRule
	for rows.Next() {
		rule, err := scanRuleRow(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func (r *sqliteRuleRepo) scanRule(row *sql.Row) (*models.AlertRule, error) {
	rule, err := scanRuleRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rule, err
}

func scanRuleRow(row scanner) (*models.AlertRule, error) {
	rule := &models.AlertRule{}
	var description, eventType, template sql.NullString
	var condJSON, notifyJSON string
	var isActive int
	var lastEvaluated, lastTriggered sql.NullTime

	err := row.Scan(
		&rule.ID, &rule.TenantID, &rule.Name, &description, &eventType, &condJSON,
		&rule.TimeWindow, &rule.EvaluationInterval, &rule.Severity, &notifyJSON, &template,
		&isActive, &rule.CooldownMinutes, &rule.MaxAlertsPerHour,
		&lastEvaluated, &lastTriggered, &rule.TotalTriggers,
		&rule.CreatedAt, &rule.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scan rule: %w", err)
	}

	rule.Description = description.String
	rule.EventType = eventType.String
	rule.NotificationTemplate = template.String
	rule.IsActive = isActive != 0
	if lastEvaluated.Valid {
		t := lastEvaluated.Time
		rule.LastEvaluatedAt = &t
	}
	if lastTriggered.Valid {
		t := lastTriggered.Time
		rule.LastTriggeredAt = &t
	}

	if err := json.Unmarshal([]byte(condJSON), &rule.Condition); err != nil {
		return nil, fmt.Errorf("unmarshal condition: %w", err)
	}
	if err := json.Unmarshal([]byte(notifyJSON), &rule.NotifyChannels); err != nil {
		return nil, fmt.Errorf("unmarshal notify channels: %w", err)
	}

	return rule, nil
}
