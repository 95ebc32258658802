package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/pulsestream/pulsestream/internal/models"
)

// SlackConfig holds Slack webhook configuration.
type SlackConfig struct {
	WebhookURL string // Slack incoming webhook URL
}

// Validate validates the Slack configuration.
func (c *SlackConfig) Validate() error {
	if c.WebhookURL == "" {
		return fmt.Errorf("webhook URL is required")
	}
	if !strings.HasPrefix(c.WebhookURL, "https://") {
		return fmt.Errorf("webhook URL must use HTTPS")
	}
	return nil
}

// SlackNotifier sends alerts to Slack via incoming webhook.
type SlackNotifier struct {
	config     SlackConfig
	httpClient *http.Client
}

// NewSlackNotifier creates a new Slack notifier.
func NewSlackNotifier(config SlackConfig) (*SlackNotifier, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid slack config: %w", err)
	}

	return &SlackNotifier{
		config: config,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}, nil
}

// Name returns "slack".
func (s *SlackNotifier) Name() string {
	return "slack"
}

// Send sends an alert to Slack.
func (s *SlackNotifier) Send(ctx context.Context, alert *models.Alert, rule *models.AlertRule) error {
	payload := s.buildPayload(alert, rule)

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.WebhookURL, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("slack API error: status %d, body: %s", resp.StatusCode, string(body))
	}

	return nil
}

// Close is a no-op for Slack notifier.
func (s *SlackNotifier) Close() error {
	return nil
}

// slackMessage is the webhook payload using color-coded attachments.
type slackMessage struct {
	Text        string            `json:"text"`
	Attachments []slackAttachment `json:"attachments"`
}

type slackAttachment struct {
	Color  string       `json:"color"`
	Title  string       `json:"title"`
	Text   string       `json:"text,omitempty"`
	Fields []slackField `json:"fields,omitempty"`
	Footer string       `json:"footer,omitempty"`
	TS     int64        `json:"ts,omitempty"`
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// buildPayload builds the attachment payload, color-coded by severity.
func (s *SlackNotifier) buildPayload(alert *models.Alert, rule *models.AlertRule) slackMessage {
	emoji := severityEmoji(alert.Severity)

	fields := []slackField{
		{Title: "Severity", Value: strings.ToUpper(string(alert.Severity)), Short: true},
		{Title: "Rule", Value: rule.Name, Short: true},
	}
	if rule.EventType != "" {
		fields = append(fields, slackField{Title: "Event Type", Value: rule.EventType, Short: true})
	}
	if rule.TimeWindow != "" {
		fields = append(fields, slackField{Title: "Window", Value: rule.TimeWindow, Short: true})
	}

	keys := make([]string, 0, len(alert.TriggerData))
	for k := range alert.TriggerData {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if k == "sample_events" || k == "sample_durations" {
			continue
		}
		fields = append(fields, slackField{
			Title: k,
			Value: fmt.Sprintf("%v", alert.TriggerData[k]),
			Short: true,
		})
	}

	return slackMessage{
		Text: fmt.Sprintf("%s PulseStream Alert: %s", emoji, alert.Title),
		Attachments: []slackAttachment{
			{
				Color:  severityColor(alert.Severity),
				Title:  alert.Title,
				Text:   alert.Message,
				Fields: fields,
				Footer: fmt.Sprintf("tenant %s", alert.TenantID),
				TS:     alert.TriggeredAt.Unix(),
			},
		},
	}
}

// severityEmoji returns an emoji for the severity level.
func severityEmoji(severity models.Severity) string {
	switch severity {
	case models.SeverityCritical:
		return "\U0001F534" // red circle
	case models.SeverityHigh:
		return "\U0001F7E0" // orange circle
	case models.SeverityMedium:
		return "\U0001F7E1" // yellow circle
	case models.SeverityLow:
		return "\U0001F7E2" // green circle
	default:
		return "⚪" // white circle
	}
}
