package notifier

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWebhookConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		config  WebhookConfig
		wantErr string
	}{
		{
			name:    "empty config",
			config:  WebhookConfig{},
			wantErr: "webhook URL is required",
		},
		{
			name:    "bad scheme",
			config:  WebhookConfig{URL: "ftp://example.com/hook"},
			wantErr: "must be HTTP or HTTPS",
		},
		{
			name:   "http allowed for internal endpoints",
			config: WebhookConfig{URL: "http://alerts.internal/hook"},
		},
		{
			name:   "https allowed",
			config: WebhookConfig{URL: "https://example.com/hook"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestWebhookSend(t *testing.T) {
	var captured map[string]json.RawMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Api-Key"); got != "secret" {
			t.Errorf("X-Api-Key = %q, want configured header forwarded", got)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &captured); err != nil {
			t.Errorf("unmarshal payload: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	notifier := &WebhookNotifier{
		config: WebhookConfig{
			URL:     server.URL,
			Headers: map[string]string{"X-Api-Key": "secret"},
		},
		httpClient: server.Client(),
	}

	alert, rule := testAlertAndRule("webhook")
	if err := notifier.Send(context.Background(), alert, rule); err != nil {
		t.Fatalf("send: %v", err)
	}

	var gotAlert struct {
		ID       string `json:"id"`
		Title    string `json:"title"`
		Severity string `json:"severity"`
	}
	if err := json.Unmarshal(captured["alert"], &gotAlert); err != nil {
		t.Fatalf("unmarshal alert: %v", err)
	}
	if gotAlert.ID != alert.ID || gotAlert.Title != alert.Title || gotAlert.Severity != "high" {
		t.Errorf("alert payload = %+v", gotAlert)
	}

	var gotRule webhookRule
	if err := json.Unmarshal(captured["rule"], &gotRule); err != nil {
		t.Fatalf("unmarshal rule: %v", err)
	}
	if gotRule.ID != rule.ID || gotRule.Name != rule.Name {
		t.Errorf("rule payload = %+v", gotRule)
	}
}

func TestWebhookSendServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer server.Close()

	notifier := &WebhookNotifier{
		config:     WebhookConfig{URL: server.URL},
		httpClient: server.Client(),
	}

	alert, rule := testAlertAndRule("webhook")
	err := notifier.Send(context.Background(), alert, rule)
	if err == nil || !strings.Contains(err.Error(), "status 502") {
		t.Errorf("error = %v, want status 502 mentioned", err)
	}
}
