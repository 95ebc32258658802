package notifier

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"text/template"

	"github.com/pulsestream/pulsestream/internal/models"
)

const plainTemplate = `{{ upper .Severity }} ALERT: {{ .Title }}

{{ .Message }}

Rule:      {{ .RuleName }}
Severity:  {{ .Severity }}
Triggered: {{ .Timestamp }}
{{- if .Details }}

Details:
{{- range .Details }}
  {{ .Key }}: {{ .Value }}
{{- end }}
{{- end }}
`

const htmlTemplate = `<html>
<body style="font-family: sans-serif; color: #212121;">
  <div style="border-left: 6px solid {{ .SeverityColor }}; padding: 12px 16px;">
    <h2 style="margin: 0 0 8px 0;">{{ .Title }}</h2>
    <p style="color: {{ .SeverityColor }}; font-weight: bold; margin: 0 0 12px 0;">{{ upper .Severity }}</p>
    <p>{{ .Message }}</p>
    <table style="border-collapse: collapse;">
      <tr><td style="padding: 2px 12px 2px 0; color: #757575;">Rule</td><td>{{ .RuleName }}</td></tr>
      <tr><td style="padding: 2px 12px 2px 0; color: #757575;">Triggered</td><td>{{ .Timestamp }}</td></tr>
{{- range .Details }}
      <tr><td style="padding: 2px 12px 2px 0; color: #757575;">{{ .Key }}</td><td>{{ .Value }}</td></tr>
{{- end }}
    </table>
  </div>
</body>
</html>
`

// Templates holds the parsed notification body templates.
type Templates struct {
	html  *template.Template
	plain *template.Template
}

// TemplateData is the rendering input for notification bodies.
type TemplateData struct {
	Title         string
	Message       string
	RuleName      string
	Severity      string
	SeverityColor string
	Timestamp     string
	Details       []DetailField
}

// DetailField is one key/value row rendered from the trigger data.
type DetailField struct {
	Key   string
	Value string
}

// LoadTemplates parses the built-in notification templates.
func LoadTemplates() (*Templates, error) {
	funcs := template.FuncMap{
		"upper": strings.ToUpper,
		"lower": strings.ToLower,
	}

	htmlTmpl, err := template.New("alert.html").Funcs(funcs).Parse(htmlTemplate)
	if err != nil {
		return nil, err
	}

	plainTmpl, err := template.New("alert.txt").Funcs(funcs).Parse(plainTemplate)
	if err != nil {
		return nil, err
	}

	return &Templates{html: htmlTmpl, plain: plainTmpl}, nil
}

// RenderHTML renders the HTML body.
func (t *Templates) RenderHTML(data *TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := t.html.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// RenderPlain renders the plain text body.
func (t *Templates) RenderPlain(data *TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := t.plain.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// severityColor returns the display color for a severity level.
func severityColor(severity models.Severity) string {
	switch severity {
	case models.SeverityCritical:
		return "#d32f2f" // red
	case models.SeverityHigh:
		return "#f57c00" // orange
	case models.SeverityMedium:
		return "#fbc02d" // yellow
	case models.SeverityLow:
		return "#388e3c" // green
	default:
		return "#757575" // gray
	}
}

// AlertToTemplateData converts an alert and its rule to template data.
func AlertToTemplateData(alert *models.Alert, rule *models.AlertRule) *TemplateData {
	data := &TemplateData{
		Title:         alert.Title,
		Message:       alert.Message,
		RuleName:      rule.Name,
		Severity:      string(alert.Severity),
		SeverityColor: severityColor(alert.Severity),
		Timestamp:     alert.TriggeredAt.Format("2006-01-02 15:04:05 MST"),
	}

	keys := make([]string, 0, len(alert.TriggerData))
	for k := range alert.TriggerData {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		data.Details = append(data.Details, DetailField{Key: k, Value: fmt.Sprintf("%v", alert.TriggerData[k])})
	}

	return data
}
