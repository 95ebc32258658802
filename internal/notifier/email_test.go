package notifier

import (
	"strings"
	"testing"
)

func TestEmailConfigValidation(t *testing.T) {
	valid := EmailConfig{
		Host:       "smtp.example.com",
		Port:       587,
		From:       "alerts@example.com",
		Recipients: []string{"oncall@example.com"},
	}

	tests := []struct {
		name    string
		mutate  func(*EmailConfig)
		wantErr string
	}{
		{
			name:   "valid config",
			mutate: func(c *EmailConfig) {},
		},
		{
			name:    "missing host",
			mutate:  func(c *EmailConfig) { c.Host = "" },
			wantErr: "SMTP host is required",
		},
		{
			name:    "missing port",
			mutate:  func(c *EmailConfig) { c.Port = 0 },
			wantErr: "SMTP port is required",
		},
		{
			name:    "missing from",
			mutate:  func(c *EmailConfig) { c.From = "" },
			wantErr: "from address is required",
		},
		{
			name:    "no recipients",
			mutate:  func(c *EmailConfig) { c.Recipients = nil },
			wantErr: "at least one recipient",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := valid
			config.Recipients = append([]string(nil), valid.Recipients...)
			tt.mutate(&config)

			err := config.Validate()
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

func TestEmailBuildMIMEMessage(t *testing.T) {
	notifier, err := NewEmailNotifier(EmailConfig{
		Host:       "smtp.example.com",
		Port:       587,
		From:       "PulseStream <alerts@example.com>",
		Recipients: []string{"a@example.com", "b@example.com"},
	})
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}

	msg := string(notifier.buildMIMEMessage("[HIGH] PulseStream Alert: spike", "plain body", "<html>html body</html>"))

	for _, want := range []string{
		"From: PulseStream <alerts@example.com>",
		"To: a@example.com, b@example.com",
		"Subject: [HIGH] PulseStream Alert: spike",
		"Content-Type: multipart/alternative",
		"Content-Type: text/plain; charset=UTF-8",
		"Content-Type: text/html; charset=UTF-8",
		"plain body",
		"<html>html body</html>",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q", want)
		}
	}
}

func TestExtractEmail(t *testing.T) {
	notifier := &EmailNotifier{}

	tests := []struct {
		in   string
		want string
	}{
		{"alerts@example.com", "alerts@example.com"},
		{"PulseStream <alerts@example.com>", "alerts@example.com"},
		{"<alerts@example.com>", "alerts@example.com"},
	}

	for _, tt := range tests {
		if got := notifier.extractEmail(tt.in); got != tt.want {
			t.Errorf("extractEmail(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTemplateRendering(t *testing.T) {
	templates, err := LoadTemplates()
	if err != nil {
		t.Fatalf("load templates: %v", err)
	}

	alert, rule := testAlertAndRule("email")
	data := AlertToTemplateData(alert, rule)

	plain, err := templates.RenderPlain(data)
	if err != nil {
		t.Fatalf("render plain: %v", err)
	}
	if !strings.Contains(plain, "HIGH ALERT") {
		t.Errorf("plain body missing severity header: %q", plain)
	}
	if !strings.Contains(plain, alert.Title) || !strings.Contains(plain, rule.Name) {
		t.Errorf("plain body missing alert context: %q", plain)
	}
	if !strings.Contains(plain, "event_count: 12") {
		t.Errorf("plain body missing trigger details: %q", plain)
	}

	html, err := templates.RenderHTML(data)
	if err != nil {
		t.Fatalf("render html: %v", err)
	}
	if !strings.Contains(html, "#f57c00") {
		t.Errorf("html body missing high severity color: %q", html)
	}
	if !strings.Contains(html, alert.Title) {
		t.Errorf("html body missing title: %q", html)
	}
}
