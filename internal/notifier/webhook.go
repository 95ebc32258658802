package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pulsestream/pulsestream/internal/models"
)

// WebhookConfig holds generic webhook configuration.
type WebhookConfig struct {
	URL     string            // Endpoint to POST alert payloads to
	Headers map[string]string // Extra request headers (optional)
}

// Validate validates the webhook configuration.
func (c *WebhookConfig) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("webhook URL is required")
	}
	if !strings.HasPrefix(c.URL, "https://") && !strings.HasPrefix(c.URL, "http://") {
		return fmt.Errorf("webhook URL must be HTTP or HTTPS")
	}
	return nil
}

// WebhookNotifier POSTs the full alert payload to a configured
// endpoint, for integrations that consume alerts programmatically.
type WebhookNotifier struct {
	config     WebhookConfig
	httpClient *http.Client
}

// NewWebhookNotifier creates a new webhook notifier.
func NewWebhookNotifier(config WebhookConfig) (*WebhookNotifier, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid webhook config: %w", err)
	}

	return &WebhookNotifier{
		config: config,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}, nil
}

// Name returns "webhook".
func (w *WebhookNotifier) Name() string {
	return "webhook"
}

// webhookPayload is the JSON body POSTed to the endpoint.
type webhookPayload struct {
	Alert *models.Alert `json:"alert"`
	Rule  webhookRule   `json:"rule"`
}

// webhookRule is the subset of rule fields exposed to integrations.
type webhookRule struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	EventType  string `json:"event_type,omitempty"`
	TimeWindow string `json:"time_window"`
	Severity   string `json:"severity"`
}

// Send POSTs the alert and its rule context to the endpoint. Any 2xx
// response is a success.
func (w *WebhookNotifier) Send(ctx context.Context, alert *models.Alert, rule *models.AlertRule) error {
	payload := webhookPayload{
		Alert: alert,
		Rule: webhookRule{
			ID:         rule.ID,
			Name:       rule.Name,
			EventType:  rule.EventType,
			TimeWindow: rule.TimeWindow,
			Severity:   string(rule.Severity),
		},
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.config.URL, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("webhook error: status %d, body: %s", resp.StatusCode, string(body))
	}

	return nil
}

// Close is a no-op for webhook notifier.
func (w *WebhookNotifier) Close() error {
	return nil
}
