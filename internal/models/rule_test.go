package models

import (
	"strings"
	"testing"
	"time"
)

func intPtr(v int) *int { return &v }

func TestConditionValidation(t *testing.T) {
	tests := []struct {
		name    string
		cond    Condition
		wantErr bool
		errMsg  string
	}{
		{
			name:    "missing type",
			cond:    Condition{},
			wantErr: true,
			errMsg:  "condition type is required",
		},
		{
			name:    "unknown type",
			cond:    Condition{Type: "anomaly"},
			wantErr: true,
			errMsg:  "unknown condition type",
		},
		{
			name: "valid count",
			cond: Condition{Type: ConditionCount, MinCount: 5},
		},
		{
			name:    "count with inverted bounds",
			cond:    Condition{Type: ConditionCount, MinCount: 10, MaxCount: intPtr(5)},
			wantErr: true,
			errMsg:  "below min_count",
		},
		{
			name:    "threshold without metric field",
			cond:    Condition{Type: ConditionThreshold, Operator: ">", Value: 100},
			wantErr: true,
			errMsg:  "metric_field is required",
		},
		{
			name:    "threshold with unknown metric field",
			cond:    Condition{Type: ConditionThreshold, MetricField: "memory", Operator: ">", Value: 1},
			wantErr: true,
			errMsg:  "unknown metric_field",
		},
		{
			name:    "threshold with invalid operator",
			cond:    Condition{Type: ConditionThreshold, MetricField: MetricCount, Operator: "~", Value: 1},
			wantErr: true,
			errMsg:  "invalid operator",
		},
		{
			name: "valid threshold",
			cond: Condition{Type: ConditionThreshold, MetricField: MetricDurationMs, Operator: ">=", Value: 500},
		},
		{
			name:    "pattern without parameters",
			cond:    Condition{Type: ConditionPattern},
			wantErr: true,
			errMsg:  "pattern parameters are required",
		},
		{
			name:    "pattern with unknown kind",
			cond:    Condition{Type: ConditionPattern, Pattern: &PatternCondition{Kind: "spike"}},
			wantErr: true,
			errMsg:  "unknown pattern kind",
		},
		{
			name:    "error rate above one",
			cond:    Condition{Type: ConditionPattern, Pattern: &PatternCondition{Kind: PatternErrorRate, MaxErrorRate: 1.5}},
			wantErr: true,
			errMsg:  "max_error_rate",
		},
		{
			name: "valid pattern",
			cond: Condition{Type: ConditionPattern, Pattern: &PatternCondition{Kind: PatternResponseTime, MaxAvgResponseTime: 750}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cond.Validate()
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got nil")
				}
				if !strings.Contains(err.Error(), tt.errMsg) {
					t.Errorf("error %q does not contain %q", err.Error(), tt.errMsg)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestRuleValidation(t *testing.T) {
	valid := NewAlertRule("tenant-1", "error-spike", Condition{Type: ConditionCount, MinCount: 10})
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid rule rejected: %v", err)
	}

	noName := NewAlertRule("tenant-1", "", Condition{Type: ConditionCount})
	if err := noName.Validate(); err == nil {
		t.Error("expected error for missing name")
	}

	badWindow := NewAlertRule("tenant-1", "r", Condition{Type: ConditionCount})
	badWindow.TimeWindow = "3h"
	if err := badWindow.Validate(); err == nil {
		t.Error("expected error for unsupported time window")
	}

	negCooldown := NewAlertRule("tenant-1", "r", Condition{Type: ConditionCount})
	negCooldown.CooldownMinutes = -1
	if err := negCooldown.Validate(); err == nil {
		t.Error("expected error for negative cooldown")
	}
}

func TestRuleTimeWindowSeconds(t *testing.T) {
	r := NewAlertRule("t", "r", Condition{Type: ConditionCount})

	r.TimeWindow = "1h"
	if got := r.TimeWindowSeconds(); got != 3600 {
		t.Errorf("1h = %d seconds, want 3600", got)
	}

	r.TimeWindow = "bogus"
	if got := r.TimeWindowSeconds(); got != DefaultTimeWindowSeconds {
		t.Errorf("unknown window = %d seconds, want default %d", got, DefaultTimeWindowSeconds)
	}
}

func TestRuleCooldownGate(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	r := NewAlertRule("t", "r", Condition{Type: ConditionCount})
	r.CooldownMinutes = 5

	if r.IsInCooldown(now) {
		t.Error("never-triggered rule should not be in cooldown")
	}

	r.RecordTrigger(now)
	if !r.IsInCooldown(now.Add(4 * time.Minute)) {
		t.Error("rule should be in cooldown 4m after trigger")
	}
	if !r.IsInCooldown(now.Add(5*time.Minute - time.Second)) {
		t.Error("rule should be in cooldown just before the boundary")
	}
	if r.IsInCooldown(now.Add(5 * time.Minute)) {
		t.Error("rule should leave cooldown at the boundary")
	}
}

func TestRuleCanTrigger(t *testing.T) {
	now := time.Now().UTC()

	r := NewAlertRule("t", "r", Condition{Type: ConditionCount})
	r.MaxAlertsPerHour = 3

	if !r.CanTrigger(now, 0) {
		t.Error("fresh active rule should be able to trigger")
	}
	if r.CanTrigger(now, 3) {
		t.Error("rule at its hourly cap should not trigger")
	}

	r.IsActive = false
	if r.CanTrigger(now, 0) {
		t.Error("inactive rule must never trigger")
	}
}

func TestRuleTriggerMonotonic(t *testing.T) {
	now := time.Now().UTC()

	r := NewAlertRule("t", "r", Condition{Type: ConditionCount})
	r.RecordTrigger(now)
	r.RecordTrigger(now.Add(-time.Hour)) // stale concurrent write

	if r.LastTriggeredAt == nil || !r.LastTriggeredAt.Equal(now) {
		t.Errorf("last_triggered_at moved backwards: %v", r.LastTriggeredAt)
	}
	if r.TotalTriggers != 2 {
		t.Errorf("total_triggers = %d, want 2", r.TotalTriggers)
	}
}

func TestRuleNotificationChannelsDefault(t *testing.T) {
	r := NewAlertRule("t", "r", Condition{Type: ConditionCount})
	got := r.NotificationChannels()
	if len(got) != 1 || got[0] != "email" {
		t.Errorf("default channels = %v, want [email]", got)
	}

	r.NotifyChannels = []string{"slack", "webhook"}
	got = r.NotificationChannels()
	if len(got) != 2 || got[0] != "slack" {
		t.Errorf("channels = %v, want [slack webhook]", got)
	}
}
