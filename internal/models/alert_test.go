package models

import (
	"testing"
	"time"
)

func TestAlertStateMachine(t *testing.T) {
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	rule := NewAlertRule("tenant-1", "latency", Condition{Type: ConditionCount})
	rule.ID = "rule-1"
	rule.Severity = SeverityHigh

	a := NewAlert(rule, "High Response Time", "avg 1500ms", now)

	if a.Status != AlertActive {
		t.Fatalf("new alert status = %q, want active", a.Status)
	}
	if a.Severity != SeverityHigh {
		t.Errorf("alert severity = %q, want rule severity high", a.Severity)
	}
	if !a.IsActive() {
		t.Error("IsActive() = false for active alert")
	}

	later := now.Add(10 * time.Minute)
	a.Resolve("operator", "restarted service", later)
	if a.Status != AlertResolved {
		t.Errorf("status = %q after Resolve, want resolved", a.Status)
	}
	if a.ResolvedAt == nil || !a.ResolvedAt.Equal(later) {
		t.Errorf("resolved_at = %v, want %v", a.ResolvedAt, later)
	}
	if a.ResolvedBy != "operator" || a.ResolutionNote != "restarted service" {
		t.Errorf("resolution fields not recorded: %q %q", a.ResolvedBy, a.ResolutionNote)
	}

	a.Reactivate(later.Add(time.Minute))
	if a.Status != AlertActive {
		t.Errorf("status = %q after Reactivate, want active", a.Status)
	}
	if a.ResolvedAt != nil || a.ResolvedBy != "" || a.ResolutionNote != "" {
		t.Error("Reactivate must clear resolution fields")
	}

	a.Suppress(later.Add(2 * time.Minute))
	if a.Status != AlertSuppressed {
		t.Errorf("status = %q after Suppress, want suppressed", a.Status)
	}
}

func TestAlertNotificationLog(t *testing.T) {
	now := time.Now().UTC()
	rule := NewAlertRule("tenant-1", "r", Condition{Type: ConditionCount})
	a := NewAlert(rule, "t", "m", now)

	a.RecordNotification("slack", true, map[string]any{"response_status": 200}, now)
	a.RecordNotification("slack", false, map[string]any{"error": "timeout"}, now.Add(time.Second))
	a.RecordNotification("email", true, nil, now.Add(2*time.Second))

	if got := len(a.NotificationsSent["slack"]); got != 2 {
		t.Errorf("slack log length = %d, want 2", got)
	}
	if got := len(a.NotificationsSent["email"]); got != 1 {
		t.Errorf("email log length = %d, want 1", got)
	}
	if a.NotificationFailures != 1 {
		t.Errorf("notification_failures = %d, want 1", a.NotificationFailures)
	}
	if !a.NotificationsSent["slack"][0].Success || a.NotificationsSent["slack"][1].Success {
		t.Error("per-attempt success flags recorded in wrong order")
	}
}

func TestAlertTriggerValue(t *testing.T) {
	rule := NewAlertRule("tenant-1", "r", Condition{Type: ConditionCount})
	a := NewAlert(rule, "t", "m", time.Now())
	a.TriggerData = map[string]any{"error_rate": 0.2}

	if got := a.TriggerValue("error_rate", 0.0); got != 0.2 {
		t.Errorf("TriggerValue(error_rate) = %v, want 0.2", got)
	}
	if got := a.TriggerValue("missing", "fallback"); got != "fallback" {
		t.Errorf("TriggerValue(missing) = %v, want fallback", got)
	}
}
