package models

import (
	"fmt"
	"time"
)

// Severity represents alert severity level.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ParseSeverity converts a string to Severity, defaulting to medium.
func ParseSeverity(s string) Severity {
	switch s {
	case "low":
		return SeverityLow
	case "medium":
		return SeverityMedium
	case "high":
		return SeverityHigh
	case "critical":
		return SeverityCritical
	default:
		return SeverityMedium
	}
}

// ConditionType defines the kind of rule condition.
type ConditionType string

const (
	// ConditionCount triggers when the window event count falls inside
	// [MinCount, MaxCount].
	ConditionCount ConditionType = "count"
	// ConditionThreshold compares an aggregate metric against a value.
	ConditionThreshold ConditionType = "threshold"
	// ConditionPattern matches derived patterns (error rate, response time).
	ConditionPattern ConditionType = "pattern"
)

// PatternKind selects the pattern evaluated by a pattern condition.
type PatternKind string

const (
	PatternErrorRate    PatternKind = "error_rate"
	PatternResponseTime PatternKind = "response_time"
)

// MetricField selects the aggregate computed by a threshold condition.
type MetricField string

const (
	MetricStatusCode MetricField = "status_code"
	MetricDurationMs MetricField = "duration_ms"
	MetricCount      MetricField = "count"
)

// Condition is the tagged union of rule conditions. Exactly the fields
// for the declared Type are meaningful; Validate rejects unknown kinds
// at rule creation so evaluation never sees them.
type Condition struct {
	Type ConditionType `json:"type"`

	// Count condition bounds, inclusive. MaxCount nil means unbounded.
	MinCount int  `json:"min_count,omitempty"`
	MaxCount *int `json:"max_count,omitempty"`

	// Threshold condition: aggregate MetricField over the window and
	// compare Operator Value.
	MetricField MetricField `json:"metric_field,omitempty"`
	Operator    string      `json:"operator,omitempty"`
	Value       float64     `json:"value,omitempty"`

	// Pattern condition parameters.
	Pattern *PatternCondition `json:"pattern,omitempty"`
}

// PatternCondition holds pattern-specific parameters. Zero thresholds
// fall back to the defaults (10% error rate, 1000ms response time).
type PatternCondition struct {
	Kind               PatternKind `json:"kind"`
	MaxErrorRate       float64     `json:"max_error_rate,omitempty"`
	MaxAvgResponseTime float64     `json:"max_avg_response_time,omitempty"`
}

// validOperators are the comparison operators accepted by threshold
// conditions. Equality and inequality use an epsilon on floats.
var validOperators = map[string]bool{
	">": true, ">=": true, "<": true, "<=": true, "==": true, "!=": true,
}

// Validate checks the condition for structural errors. Unknown kinds
// and operators are rejected here rather than at evaluation time.
func (c *Condition) Validate() error {
	switch c.Type {
	case ConditionCount:
		if c.MinCount < 0 {
			return fmt.Errorf("min_count must not be negative")
		}
		if c.MaxCount != nil && *c.MaxCount < c.MinCount {
			return fmt.Errorf("max_count %d is below min_count %d", *c.MaxCount, c.MinCount)
		}
	case ConditionThreshold:
		switch c.MetricField {
		case MetricStatusCode, MetricDurationMs, MetricCount:
		case "":
			return fmt.Errorf("metric_field is required for threshold conditions")
		default:
			return fmt.Errorf("unknown metric_field %q", c.MetricField)
		}
		if !validOperators[c.Operator] {
			return fmt.Errorf("invalid operator %q", c.Operator)
		}
	case ConditionPattern:
		if c.Pattern == nil {
			return fmt.Errorf("pattern parameters are required for pattern conditions")
		}
		switch c.Pattern.Kind {
		case PatternErrorRate, PatternResponseTime:
		default:
			return fmt.Errorf("unknown pattern kind %q", c.Pattern.Kind)
		}
		if c.Pattern.MaxErrorRate < 0 || c.Pattern.MaxErrorRate > 1 {
			return fmt.Errorf("max_error_rate must be within [0, 1]")
		}
		if c.Pattern.MaxAvgResponseTime < 0 {
			return fmt.Errorf("max_avg_response_time must not be negative")
		}
	case "":
		return fmt.Errorf("condition type is required")
	default:
		return fmt.Errorf("unknown condition type %q", c.Type)
	}
	return nil
}

// timeWindows maps the supported window names to seconds.
var timeWindows = map[string]int{
	"1m":  60,
	"5m":  300,
	"15m": 900,
	"1h":  3600,
	"6h":  21600,
	"24h": 86400,
	"7d":  604800,
}

// DefaultTimeWindowSeconds is used when a rule carries an unknown window.
const DefaultTimeWindowSeconds = 300

// ValidTimeWindow reports whether the window name is supported.
func ValidTimeWindow(w string) bool {
	_, ok := timeWindows[w]
	return ok
}

// AlertRule is a tenant-defined policy describing when to raise an Alert.
type AlertRule struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenant_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	// EventType filters which events the rule sees; empty means all.
	EventType string `json:"event_type,omitempty"`

	// Condition is the trigger condition (tagged union).
	Condition Condition `json:"condition"`

	// TimeWindow is the evaluation lookback (1m, 5m, 15m, 1h, ...).
	TimeWindow string `json:"time_window"`

	// EvaluationInterval is how often the scheduler evaluates the rule,
	// in seconds.
	EvaluationInterval int `json:"evaluation_interval"`

	Severity Severity `json:"severity"`

	// NotifyChannels lists notification channel names. Empty means the
	// default channel set.
	NotifyChannels []string `json:"notification_channels,omitempty"`

	// NotificationTemplate optionally overrides the generated message.
	NotificationTemplate string `json:"notification_template,omitempty"`

	IsActive bool `json:"is_active"`

	// CooldownMinutes is the minimum time between triggers.
	CooldownMinutes int `json:"cooldown_minutes"`

	// MaxAlertsPerHour caps triggers in any trailing hour.
	MaxAlertsPerHour int `json:"max_alerts_per_hour"`

	// Bookkeeping, updated by every evaluation / trigger.
	LastEvaluatedAt *time.Time `json:"last_evaluated_at,omitempty"`
	LastTriggeredAt *time.Time `json:"last_triggered_at,omitempty"`
	TotalTriggers   int        `json:"total_triggers"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	IsDeleted bool      `json:"-"`
}

// NewAlertRule creates a rule with the documented defaults applied.
func NewAlertRule(tenantID, name string, cond Condition) *AlertRule {
	now := time.Now().UTC()
	return &AlertRule{
		TenantID:           tenantID,
		Name:               name,
		Condition:          cond,
		TimeWindow:         "5m",
		EvaluationInterval: 60,
		Severity:           SeverityMedium,
		IsActive:           true,
		CooldownMinutes:    5,
		MaxAlertsPerHour:   10,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// Validate checks the rule for structural errors.
func (r *AlertRule) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("rule name is required")
	}
	if len(r.Name) > 255 {
		return fmt.Errorf("rule name must be 255 characters or less")
	}
	if r.TimeWindow != "" && !ValidTimeWindow(r.TimeWindow) {
		return fmt.Errorf("invalid time window %q for rule %q", r.TimeWindow, r.Name)
	}
	if r.EvaluationInterval < 0 {
		return fmt.Errorf("evaluation interval must not be negative for rule %q", r.Name)
	}
	if r.CooldownMinutes < 0 {
		return fmt.Errorf("cooldown must not be negative for rule %q", r.Name)
	}
	if r.MaxAlertsPerHour < 0 {
		return fmt.Errorf("max alerts per hour must not be negative for rule %q", r.Name)
	}
	if err := r.Condition.Validate(); err != nil {
		return fmt.Errorf("invalid condition for rule %q: %w", r.Name, err)
	}
	return nil
}

// TimeWindowSeconds returns the lookback window in seconds, defaulting
// to five minutes for unknown window names.
func (r *AlertRule) TimeWindowSeconds() int {
	if secs, ok := timeWindows[r.TimeWindow]; ok {
		return secs
	}
	return DefaultTimeWindowSeconds
}

// IsInCooldown reports whether the rule triggered less than
// CooldownMinutes ago.
func (r *AlertRule) IsInCooldown(now time.Time) bool {
	if r.LastTriggeredAt == nil {
		return false
	}
	cooldownEnd := r.LastTriggeredAt.Add(time.Duration(r.CooldownMinutes) * time.Minute)
	return now.Before(cooldownEnd)
}

// CanTrigger reports whether the rule passes the trigger gates: it is
// active, out of cooldown, and under its hourly alert cap.
func (r *AlertRule) CanTrigger(now time.Time, recentAlerts int) bool {
	if !r.IsActive {
		return false
	}
	if r.IsInCooldown(now) {
		return false
	}
	if recentAlerts >= r.MaxAlertsPerHour {
		return false
	}
	return true
}

// NotificationChannels returns the configured channel names, defaulting
// to email when none are set.
func (r *AlertRule) NotificationChannels() []string {
	if len(r.NotifyChannels) == 0 {
		return []string{"email"}
	}
	return r.NotifyChannels
}

// RecordEvaluation records that the rule was evaluated.
func (r *AlertRule) RecordEvaluation(now time.Time) {
	t := now
	r.LastEvaluatedAt = &t
}

// RecordTrigger records a successful trigger. LastTriggeredAt only
// moves forward.
func (r *AlertRule) RecordTrigger(now time.Time) {
	if r.LastTriggeredAt == nil || now.After(*r.LastTriggeredAt) {
		t := now
		r.LastTriggeredAt = &t
	}
	r.TotalTriggers++
}
