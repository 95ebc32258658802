package alerting

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pulsestream/pulsestream/internal/models"
)

// fakeRuleStore implements RuleStore with the same compare-and-set
// semantics as the SQLite repository.
type fakeRuleStore struct {
	mu    sync.Mutex
	rules map[string]*models.AlertRule
}

func newFakeRuleStore(rules ...*models.AlertRule) *fakeRuleStore {
	s := &fakeRuleStore{rules: make(map[string]*models.AlertRule)}
	for _, r := range rules {
		copied := *r
		s.rules[r.ID] = &copied
	}
	return s
}

func (s *fakeRuleStore) ListActive(_ context.Context, tenantID string) ([]*models.AlertRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.AlertRule
	for _, r := range s.rules {
		if r.TenantID == tenantID && r.IsActive {
			copied := *r
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *fakeRuleStore) RecordEvaluation(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rules[id]; ok {
		t := at
		r.LastEvaluatedAt = &t
	}
	return nil
}

func (s *fakeRuleStore) ClaimTrigger(_ context.Context, id string, expected *time.Time, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rules[id]
	if !ok {
		return false, nil
	}
	current := r.LastTriggeredAt
	switch {
	case current == nil && expected == nil:
	case current != nil && expected != nil && current.Equal(*expected):
	default:
		return false, nil
	}
	t := at
	r.LastTriggeredAt = &t
	r.TotalTriggers++
	return true, nil
}

// fakeAlertStore implements AlertStore in memory.
type fakeAlertStore struct {
	mu     sync.Mutex
	alerts []*models.Alert
}

func (s *fakeAlertStore) Create(_ context.Context, alert *models.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *alert
	s.alerts = append(s.alerts, &copied)
	return nil
}

func (s *fakeAlertStore) Update(_ context.Context, alert *models.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, a := range s.alerts {
		if a.ID == alert.ID {
			copied := *alert
			s.alerts[i] = &copied
			return nil
		}
	}
	return nil
}

func (s *fakeAlertStore) CountByRuleSince(_ context.Context, ruleID string, since time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, a := range s.alerts {
		if a.RuleID == ruleID && !a.TriggeredAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (s *fakeAlertStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.alerts)
}

func errorRateRule(tenantID string) *models.AlertRule {
	rule := patternRule(tenantID, models.PatternErrorRate)
	rule.ID = "rule-er"
	rule.Severity = models.SeverityHigh
	return rule
}

func TestTriggerCreatesAlert(t *testing.T) {
	now := time.Now().UTC()
	rule := errorRateRule("t-1")
	rules := newFakeRuleStore(rule)
	alerts := &fakeAlertStore{}
	tc := NewTriggerController(rules, alerts)

	data := map[string]any{"condition": "pattern", "pattern": "error_rate", "error_rate": 0.2}
	alert, err := tc.Trigger(context.Background(), rule, data, now)
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if alert == nil {
		t.Fatal("expected an alert")
	}
	if alert.Severity != models.SeverityHigh {
		t.Errorf("severity = %q, want rule severity high", alert.Severity)
	}
	if alert.Status != models.AlertActive {
		t.Errorf("status = %q, want active", alert.Status)
	}
	if alert.TriggerData["error_rate"] != 0.2 {
		t.Errorf("trigger data = %v", alert.TriggerData)
	}
	if !strings.Contains(alert.Title, "High Error Rate") {
		t.Errorf("title = %q", alert.Title)
	}
	if rule.LastTriggeredAt == nil || rule.TotalTriggers != 1 {
		t.Errorf("rule bookkeeping not updated: %+v", rule)
	}
	if alerts.count() != 1 {
		t.Errorf("alerts = %d, want 1", alerts.count())
	}
}

func TestTriggerGates(t *testing.T) {
	now := time.Now().UTC()
	ctx := context.Background()
	data := map[string]any{"error_rate": 0.5}

	t.Run("inactive rule never triggers", func(t *testing.T) {
		rule := errorRateRule("t-1")
		rule.IsActive = false
		tc := NewTriggerController(newFakeRuleStore(rule), &fakeAlertStore{})
		alert, err := tc.Trigger(ctx, rule, data, now)
		if err != nil || alert != nil {
			t.Errorf("alert = %v err = %v, want nil/nil", alert, err)
		}
	})

	t.Run("cooldown blocks re-trigger", func(t *testing.T) {
		rule := errorRateRule("t-1")
		t0 := now.Add(-4 * time.Minute) // cooldown is 5 minutes
		rule.LastTriggeredAt = &t0
		tc := NewTriggerController(newFakeRuleStore(rule), &fakeAlertStore{})
		alert, err := tc.Trigger(ctx, rule, data, now)
		if err != nil || alert != nil {
			t.Errorf("alert = %v err = %v, want blocked by cooldown", alert, err)
		}
	})

	t.Run("trigger allowed at cooldown boundary", func(t *testing.T) {
		rule := errorRateRule("t-1")
		t0 := now.Add(-5 * time.Minute)
		rule.LastTriggeredAt = &t0
		tc := NewTriggerController(newFakeRuleStore(rule), &fakeAlertStore{})
		alert, err := tc.Trigger(ctx, rule, data, now)
		if err != nil {
			t.Fatalf("trigger: %v", err)
		}
		if alert == nil {
			t.Error("cooldown elapsed, should trigger")
		}
	})

	t.Run("hourly cap blocks", func(t *testing.T) {
		rule := errorRateRule("t-1")
		rule.MaxAlertsPerHour = 2
		alerts := &fakeAlertStore{}
		for i := 0; i < 2; i++ {
			alerts.Create(ctx, &models.Alert{
				ID:          "a" + string(rune('0'+i)),
				RuleID:      rule.ID,
				TriggeredAt: now.Add(-30 * time.Minute),
			})
		}
		tc := NewTriggerController(newFakeRuleStore(rule), alerts)
		alert, err := tc.Trigger(ctx, rule, data, now)
		if err != nil || alert != nil {
			t.Errorf("alert = %v err = %v, want blocked by hourly cap", alert, err)
		}
	})

	t.Run("stale alerts do not count toward cap", func(t *testing.T) {
		rule := errorRateRule("t-1")
		rule.MaxAlertsPerHour = 2
		alerts := &fakeAlertStore{}
		for i := 0; i < 2; i++ {
			alerts.Create(ctx, &models.Alert{
				ID:          "a" + string(rune('0'+i)),
				RuleID:      rule.ID,
				TriggeredAt: now.Add(-2 * time.Hour),
			})
		}
		tc := NewTriggerController(newFakeRuleStore(rule), alerts)
		alert, err := tc.Trigger(ctx, rule, data, now)
		if err != nil {
			t.Fatalf("trigger: %v", err)
		}
		if alert == nil {
			t.Error("old alerts should not block")
		}
	})
}

func TestTriggerClaimPreventsDoubleTrigger(t *testing.T) {
	now := time.Now().UTC()
	ctx := context.Background()
	data := map[string]any{"error_rate": 0.5}

	shared := errorRateRule("t-1")
	rules := newFakeRuleStore(shared)
	alerts := &fakeAlertStore{}
	tc := NewTriggerController(rules, alerts)

	// Two evaluations observed the same pre-trigger state
	first := *shared
	second := *shared

	alert1, err := tc.Trigger(ctx, &first, data, now)
	if err != nil {
		t.Fatalf("first trigger: %v", err)
	}
	if alert1 == nil {
		t.Fatal("first trigger should win the claim")
	}

	alert2, err := tc.Trigger(ctx, &second, data, now.Add(time.Second))
	if err != nil {
		t.Fatalf("second trigger: %v", err)
	}
	if alert2 != nil {
		t.Fatal("second trigger should lose the claim and create no alert")
	}
	if alerts.count() != 1 {
		t.Errorf("alerts = %d, want exactly 1", alerts.count())
	}
}

func TestAlertText(t *testing.T) {
	tests := []struct {
		name      string
		rule      *models.AlertRule
		data      map[string]any
		wantTitle string
	}{
		{
			name:      "count",
			rule:      countRule("t", 5, nil),
			data:      map[string]any{"event_count": 12},
			wantTitle: "High Event Count Alert: 12 events in 5m",
		},
		{
			name: "threshold",
			rule: models.NewAlertRule("t", "r", models.Condition{
				Type:        models.ConditionThreshold,
				MetricField: models.MetricDurationMs,
				Operator:    ">",
				Value:       100,
			}),
			data:      map[string]any{"computed_value": 350.5},
			wantTitle: "Threshold Exceeded: duration_ms = 350.50",
		},
		{
			name:      "error rate",
			rule:      patternRule("t", models.PatternErrorRate),
			data:      map[string]any{"error_rate": 0.2},
			wantTitle: "High Error Rate: 20.0% in 5m",
		},
		{
			name:      "response time",
			rule:      patternRule("t", models.PatternResponseTime),
			data:      map[string]any{"avg_response_time": 1400.0},
			wantTitle: "High Response Time: 1400ms average",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			title, message := alertText(tt.rule, tt.data)
			if title != tt.wantTitle {
				t.Errorf("title = %q, want %q", title, tt.wantTitle)
			}
			if message == "" {
				t.Error("message should not be empty")
			}
		})
	}
}
