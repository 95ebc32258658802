// Package alerting evaluates tenant-defined rules against recent
// events and raises alerts through the trigger controller.
package alerting

import (
	"context"
	"fmt"
	"time"

	"github.com/pulsestream/pulsestream/internal/models"
)

// EventSource is the windowed event read the evaluator needs. Satisfied
// by storage.EventRepository.
type EventSource interface {
	ListWindow(ctx context.Context, tenantID string, since time.Time, eventType string) ([]*models.Event, error)
}

const (
	// DefaultMaxErrorRate is the error-rate threshold when the rule
	// carries none.
	DefaultMaxErrorRate = 0.1

	// DefaultMaxAvgResponseTime is the response-time threshold (ms)
	// when the rule carries none.
	DefaultMaxAvgResponseTime = 1000

	maxSampleEvents    = 5
	maxSampleDurations = 10
)

// floatEpsilon is the tolerance for float64 equality comparison,
// avoiding unreliable direct == on floating-point values.
const floatEpsilon = 0.001

// Evaluator decides trigger/no-trigger for a rule over its time window.
// Pure with respect to its inputs except for the window read.
type Evaluator struct {
	events EventSource
}

// NewEvaluator creates an evaluator reading events from the repository.
func NewEvaluator(events EventSource) *Evaluator {
	return &Evaluator{events: events}
}

// Evaluate fetches the rule's window and evaluates its condition.
// The returned trigger data is the structured diagnostic stored on the
// alert: condition kind, computed values, and a bounded event sample.
func (e *Evaluator) Evaluate(ctx context.Context, rule *models.AlertRule, now time.Time) (bool, map[string]any, error) {
	since := now.Add(-time.Duration(rule.TimeWindowSeconds()) * time.Second)
	events, err := e.events.ListWindow(ctx, rule.TenantID, since, rule.EventType)
	if err != nil {
		return false, nil, fmt.Errorf("fetch window events: %w", err)
	}

	switch rule.Condition.Type {
	case models.ConditionCount:
		return e.evaluateCount(rule, events)
	case models.ConditionThreshold:
		return e.evaluateThreshold(rule, events)
	case models.ConditionPattern:
		return e.evaluatePattern(rule, events)
	default:
		// Validate rejects unknown kinds at rule creation; reaching
		// here means a rule bypassed validation.
		return false, nil, fmt.Errorf("unknown condition type %q", rule.Condition.Type)
	}
}

// evaluateCount triggers when the window count falls inside
// [MinCount, MaxCount], both ends inclusive. An absent MaxCount means
// unbounded above.
func (e *Evaluator) evaluateCount(rule *models.AlertRule, events []*models.Event) (bool, map[string]any, error) {
	cond := rule.Condition
	n := len(events)

	triggered := n >= cond.MinCount
	if cond.MaxCount != nil && n > *cond.MaxCount {
		triggered = false
	}

	data := map[string]any{
		"condition":     "count",
		"event_count":   n,
		"min_count":     cond.MinCount,
		"time_window":   rule.TimeWindow,
		"sample_events": sampleEventIDs(events),
	}
	if cond.MaxCount != nil {
		data["max_count"] = *cond.MaxCount
	}
	return triggered, data, nil
}

// evaluateThreshold aggregates a metric over the window and compares it
// to the rule's value.
func (e *Evaluator) evaluateThreshold(rule *models.AlertRule, events []*models.Event) (bool, map[string]any, error) {
	cond := rule.Condition

	var value float64
	var samples int
	switch cond.MetricField {
	case models.MetricStatusCode:
		for _, ev := range events {
			if ev.StatusCode != nil {
				value += float64(*ev.StatusCode)
				samples++
			}
		}
		if samples == 0 {
			return false, nil, nil
		}
		value /= float64(samples)
	case models.MetricDurationMs:
		for _, ev := range events {
			if ev.DurationMs != nil {
				value += float64(*ev.DurationMs)
				samples++
			}
		}
		if samples == 0 {
			return false, nil, nil
		}
		value /= float64(samples)
	case models.MetricCount:
		value = float64(len(events))
		samples = len(events)
	default:
		return false, nil, fmt.Errorf("unknown metric field %q", cond.MetricField)
	}

	triggered := compareThreshold(value, cond.Value, cond.Operator)
	data := map[string]any{
		"condition":       "threshold",
		"metric_field":    string(cond.MetricField),
		"operator":        cond.Operator,
		"threshold_value": cond.Value,
		"computed_value":  value,
		"event_count":     len(events),
		"time_window":     rule.TimeWindow,
		"sample_events":   sampleEventIDs(events),
	}
	return triggered, data, nil
}

// evaluatePattern evaluates the derived patterns. An empty window never
// triggers either pattern.
func (e *Evaluator) evaluatePattern(rule *models.AlertRule, events []*models.Event) (bool, map[string]any, error) {
	pattern := rule.Condition.Pattern
	if pattern == nil {
		return false, nil, fmt.Errorf("pattern condition without parameters")
	}

	switch pattern.Kind {
	case models.PatternErrorRate:
		if len(events) == 0 {
			return false, nil, nil
		}
		maxRate := pattern.MaxErrorRate
		if maxRate == 0 {
			maxRate = DefaultMaxErrorRate
		}
		errorCount := 0
		for _, ev := range events {
			if ev.StatusCode != nil && *ev.StatusCode >= 400 {
				errorCount++
			}
		}
		rate := float64(errorCount) / float64(len(events))
		data := map[string]any{
			"condition":      "pattern",
			"pattern":        "error_rate",
			"error_rate":     rate,
			"error_count":    errorCount,
			"event_count":    len(events),
			"max_error_rate": maxRate,
			"time_window":    rule.TimeWindow,
			"sample_events":  sampleEventIDs(events),
		}
		// Strict inequality: a rate exactly at the threshold does not
		// trigger.
		return rate > maxRate, data, nil

	case models.PatternResponseTime:
		maxAvg := pattern.MaxAvgResponseTime
		if maxAvg == 0 {
			maxAvg = DefaultMaxAvgResponseTime
		}
		var sum float64
		var durations []int
		for _, ev := range events {
			if ev.DurationMs != nil {
				sum += float64(*ev.DurationMs)
				if len(durations) < maxSampleDurations {
					durations = append(durations, *ev.DurationMs)
				}
			}
		}
		total := 0
		for _, ev := range events {
			if ev.DurationMs != nil {
				total++
			}
		}
		if total == 0 {
			return false, nil, nil
		}
		avg := sum / float64(total)
		data := map[string]any{
			"condition":             "pattern",
			"pattern":               "response_time",
			"avg_response_time":     avg,
			"event_count":           len(events),
			"max_avg_response_time": maxAvg,
			"time_window":           rule.TimeWindow,
			"sample_durations":      durations,
		}
		return avg > maxAvg, data, nil

	default:
		return false, nil, fmt.Errorf("unknown pattern kind %q", pattern.Kind)
	}
}

// compareThreshold compares a value against a threshold using the given
// operator. Equality and inequality use an epsilon.
func compareThreshold(value, threshold float64, operator string) bool {
	switch operator {
	case ">":
		return value > threshold
	case ">=":
		return value >= threshold
	case "<":
		return value < threshold
	case "<=":
		return value <= threshold
	case "==":
		diff := value - threshold
		if diff < 0 {
			diff = -diff
		}
		return diff < floatEpsilon
	case "!=":
		diff := value - threshold
		if diff < 0 {
			diff = -diff
		}
		return diff >= floatEpsilon
	default:
		return false
	}
}

func sampleEventIDs(events []*models.Event) []string {
	n := len(events)
	if n > maxSampleEvents {
		n = maxSampleEvents
	}
	ids := make([]string, 0, n)
	for _, ev := range events[:n] {
		ids = append(ids, ev.ID)
	}
	return ids
}
