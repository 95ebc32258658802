package alerting

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pulsestream/pulsestream/internal/models"
)

// RuleStore is the rule bookkeeping surface the alert pipeline needs.
// Satisfied by storage.RuleRepository.
type RuleStore interface {
	ListActive(ctx context.Context, tenantID string) ([]*models.AlertRule, error)
	RecordEvaluation(ctx context.Context, id string, at time.Time) error
	ClaimTrigger(ctx context.Context, id string, expected *time.Time, at time.Time) (bool, error)
}

// AlertStore is the alert persistence surface the alert pipeline needs.
// Satisfied by storage.AlertRepository.
type AlertStore interface {
	Create(ctx context.Context, alert *models.Alert) error
	Update(ctx context.Context, alert *models.Alert) error
	CountByRuleSince(ctx context.Context, ruleID string, since time.Time) (int64, error)
}

// TriggerController applies the trigger gates and creates alerts. The
// gates run in order: the rule must be active, out of cooldown, and
// under its trailing-hour alert cap.
type TriggerController struct {
	rules  RuleStore
	alerts AlertStore
}

// NewTriggerController creates a trigger controller.
func NewTriggerController(rules RuleStore, alerts AlertStore) *TriggerController {
	return &TriggerController{rules: rules, alerts: alerts}
}

// Trigger runs the gates and, when they pass, claims the trigger and
// creates an active alert. A nil alert with nil error means a gate
// blocked the trigger (or a concurrent evaluation won the claim).
func (c *TriggerController) Trigger(ctx context.Context, rule *models.AlertRule, triggerData map[string]any, now time.Time) (*models.Alert, error) {
	if !rule.IsActive {
		return nil, nil
	}
	if rule.IsInCooldown(now) {
		return nil, nil
	}

	recent, err := c.alerts.CountByRuleSince(ctx, rule.ID, now.Add(-time.Hour))
	if err != nil {
		return nil, fmt.Errorf("count recent alerts: %w", err)
	}
	if recent >= int64(rule.MaxAlertsPerHour) {
		return nil, nil
	}

	// Compare-and-set on last_triggered_at: two concurrent evaluations
	// can both pass the cooldown gate, but only one claim succeeds.
	claimed, err := c.rules.ClaimTrigger(ctx, rule.ID, rule.LastTriggeredAt, now)
	if err != nil {
		return nil, fmt.Errorf("claim trigger: %w", err)
	}
	if !claimed {
		return nil, nil
	}
	rule.RecordTrigger(now)

	title, message := alertText(rule, triggerData)
	alert := models.NewAlert(rule, title, message, now)
	alert.ID = uuid.New().String()
	alert.TriggerData = triggerData
	alert.Metadata = map[string]any{
		"rule_name":      rule.Name,
		"condition_type": string(rule.Condition.Type),
		"time_window":    rule.TimeWindow,
	}
	if rule.Description != "" {
		alert.Metadata["rule_description"] = rule.Description
	}

	if err := c.alerts.Create(ctx, alert); err != nil {
		return nil, fmt.Errorf("create alert: %w", err)
	}
	return alert, nil
}

// alertText synthesizes the human-readable title and message for a
// trigger, templated per condition kind.
func alertText(rule *models.AlertRule, data map[string]any) (string, string) {
	var title string
	switch rule.Condition.Type {
	case models.ConditionCount:
		title = fmt.Sprintf("High Event Count Alert: %v events in %s", data["event_count"], rule.TimeWindow)
	case models.ConditionThreshold:
		title = fmt.Sprintf("Threshold Exceeded: %s = %.2f", rule.Condition.MetricField, floatValue(data["computed_value"]))
	case models.ConditionPattern:
		if rule.Condition.Pattern != nil && rule.Condition.Pattern.Kind == models.PatternResponseTime {
			title = fmt.Sprintf("High Response Time: %.0fms average", floatValue(data["avg_response_time"]))
		} else {
			title = fmt.Sprintf("High Error Rate: %.1f%% in %s", floatValue(data["error_rate"])*100, rule.TimeWindow)
		}
	default:
		title = fmt.Sprintf("Alert: %s", rule.Name)
	}

	message := rule.NotificationTemplate
	if message == "" {
		message = fmt.Sprintf("Alert rule %q triggered: %s", rule.Name, title)
	}
	return title, message
}

func floatValue(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return 0
	}
}
