package alerting

import (
	"context"
	"log"
	"time"

	"github.com/pulsestream/pulsestream/internal/models"
)

// Dispatcher fans a triggered alert out to its notification channels.
// Implemented by internal/notifier.
type Dispatcher interface {
	Dispatch(ctx context.Context, alert *models.Alert, rule *models.AlertRule) error
}

// Driver runs one rule through evaluation, trigger gating, and
// notification. Failures inside evaluation or dispatch are caught and
// logged per rule; they never propagate to the scheduler.
type Driver struct {
	evaluator  *Evaluator
	trigger    *TriggerController
	dispatcher Dispatcher
	rules      RuleStore
	alerts     AlertStore

	now func() time.Time
}

// NewDriver creates a rule evaluation driver. dispatcher may be nil
// when notifications are disabled.
func NewDriver(evaluator *Evaluator, trigger *TriggerController, dispatcher Dispatcher, rules RuleStore, alerts AlertStore) *Driver {
	return &Driver{
		evaluator:  evaluator,
		trigger:    trigger,
		dispatcher: dispatcher,
		rules:      rules,
		alerts:     alerts,
		now:        time.Now,
	}
}

// EvaluateRule evaluates one rule. last_evaluated_at is recorded
// regardless of outcome; on trigger the alert is created, dispatched,
// and its notification log persisted. Returns the triggered alert, or
// nil when no alert was raised.
func (d *Driver) EvaluateRule(ctx context.Context, rule *models.AlertRule) *models.Alert {
	now := d.now().UTC()

	// Evaluation bookkeeping is independent of triggering.
	if err := d.rules.RecordEvaluation(ctx, rule.ID, now); err != nil {
		log.Printf("record evaluation for rule %s: %v", rule.ID, err)
	}
	rule.RecordEvaluation(now)

	triggered, data, err := d.evaluator.Evaluate(ctx, rule, now)
	if err != nil {
		log.Printf("evaluate rule %s (%s): %v", rule.ID, rule.Name, err)
		return nil
	}
	if !triggered {
		return nil
	}

	alert, err := d.trigger.Trigger(ctx, rule, data, now)
	if err != nil {
		log.Printf("trigger rule %s (%s): %v", rule.ID, rule.Name, err)
		return nil
	}
	if alert == nil {
		// A gate blocked the trigger or a concurrent evaluation won.
		return nil
	}

	if d.dispatcher != nil {
		if err := d.dispatcher.Dispatch(ctx, alert, rule); err != nil {
			log.Printf("dispatch alert %s: %v", alert.ID, err)
		}
		// Persist the per-channel notification log the dispatcher
		// appended.
		if err := d.alerts.Update(ctx, alert); err != nil {
			log.Printf("persist notification log for alert %s: %v", alert.ID, err)
		}
	}

	return alert
}

// EvaluateAll evaluates every active, due rule for a tenant,
// isolate-and-continue, and returns the alerts that triggered.
func (d *Driver) EvaluateAll(ctx context.Context, tenantID string) []*models.Alert {
	rules, err := d.rules.ListActive(ctx, tenantID)
	if err != nil {
		log.Printf("list active rules for tenant %s: %v", tenantID, err)
		return nil
	}

	now := d.now().UTC()
	var alerts []*models.Alert
	for _, rule := range rules {
		if !ruleDue(rule, now) {
			continue
		}
		if alert := d.EvaluateRule(ctx, rule); alert != nil {
			alerts = append(alerts, alert)
		}
	}
	return alerts
}

// ruleDue reports whether the rule's evaluation interval has elapsed
// since its last evaluation. Never-evaluated rules are always due.
func ruleDue(rule *models.AlertRule, now time.Time) bool {
	if rule.LastEvaluatedAt == nil {
		return true
	}
	interval := time.Duration(rule.EvaluationInterval) * time.Second
	return now.Sub(*rule.LastEvaluatedAt) >= interval
}
