// Package messaging renders outbound messages and hands them to email, SMS
// and push transports.
package messaging

import (
	"fmt"
	"strings"
	"sync"
	"text/template"
)

type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelPush  Channel = "push"
)

func (c Channel) Valid() bool {
	return c == ChannelEmail || c == ChannelSMS || c == ChannelPush
}

// Template IDs used across the application.
const (
	TemplateOTPCode             = "otp-code"
	TemplateAppointmentBooked   = "appointment-booked"
	TemplateAppointmentStatus   = "appointment-status"
	TemplateAppointmentReminder = "appointment-reminder"
	TemplatePrescriptionIssued  = "prescription-issued"
)

// Template holds text/template sources for a message. Data keys are
// referenced as {{.key}}.
type Template struct {
	ID      string
	Subject string
	Body    string
}

var builtInTemplates = []Template{
	{
		ID:      TemplateOTPCode,
		Subject: "Your AyurSutra verification code",
		Body:    "Your AyurSutra {{.purpose}} code is {{.code}}. It expires in {{.minutes}} {{plural .minutes \"minute\" \"minutes\"}}. Do not share it with anyone.",
	},
	{
		ID:      TemplateAppointmentBooked,
		Subject: "New appointment request",
		Body:    "{{.patient_name}} requested a {{.therapy}} session on {{.date}} at {{.time}}.",
	},
	{
		ID:      TemplateAppointmentStatus,
		Subject: "Appointment {{.status}}",
		Body:    "Your appointment on {{.date}} at {{.time}} with {{.counterpart}} is now {{.status}}.",
	},
	{
		ID:      TemplateAppointmentReminder,
		Subject: "Upcoming appointment",
		Body:    "Reminder: your {{.therapy}} session with {{.counterpart}} is on {{.date}} at {{.time}}.",
	},
	{
		ID:      TemplatePrescriptionIssued,
		Subject: "New therapy plan",
		Body:    "{{.doctor_name}} prescribed {{.therapy}} for {{.days}} {{plural .days \"day\" \"days\"}}.",
	},
}

var templateFuncs = template.FuncMap{
	"plural": func(n, one, many string) string {
		if n == "1" {
			return one
		}
		return many
	},
}

type compiled struct {
	subject *template.Template
	body    *template.Template
}

// TemplateEngine renders registered templates. A key the template uses
// but the data lacks is a render error.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]compiled
}

func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[string]compiled, len(builtInTemplates))}
	for _, t := range builtInTemplates {
		if err := e.RegisterTemplate(t); err != nil {
			panic(err)
		}
	}
	return e
}

func parse(id, part, src string) (*template.Template, error) {
	t, err := template.New(id + "." + part).Funcs(templateFuncs).Option("missingkey=error").Parse(src)
	if err != nil {
		return nil, fmt.Errorf("template %q %s: %w", id, part, err)
	}
	return t, nil
}

// RegisterTemplate parses t and adds or replaces it.
func (e *TemplateEngine) RegisterTemplate(t Template) error {
	subject, err := parse(t.ID, "subject", t.Subject)
	if err != nil {
		return err
	}
	body, err := parse(t.ID, "body", t.Body)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.templates[t.ID] = compiled{subject: subject, body: body}
	e.mu.Unlock()
	return nil
}

func (e *TemplateEngine) Render(templateID string, data map[string]string) (string, string, error) {
	e.mu.RLock()
	c, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q not found", templateID)
	}
	if data == nil {
		data = map[string]string{}
	}

	var subject, body strings.Builder
	if err := c.subject.Execute(&subject, data); err != nil {
		return "", "", fmt.Errorf("render %s subject: %w", templateID, err)
	}
	if err := c.body.Execute(&body, data); err != nil {
		return "", "", fmt.Errorf("render %s body: %w", templateID, err)
	}
	return subject.String(), body.String(), nil
}
