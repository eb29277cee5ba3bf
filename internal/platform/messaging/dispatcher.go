package messaging

import (
	"context"
	"fmt"
)

// Dispatcher renders a template and sends it over email or SMS.
type Dispatcher struct {
	email     EmailSender
	sms       SMSSender
	templates *TemplateEngine
}

func NewDispatcher(email EmailSender, sms SMSSender, tpl *TemplateEngine) *Dispatcher {
	return &Dispatcher{email: email, sms: sms, templates: tpl}
}

// SendTemplate delivers templateID to one address. SMS carries the body
// only.
func (d *Dispatcher) SendTemplate(ctx context.Context, channel Channel, to, templateID string, data map[string]string) error {
	if channel != ChannelEmail && channel != ChannelSMS {
		return fmt.Errorf("dispatch %s: unsupported channel %q", templateID, channel)
	}
	subject, body, err := d.templates.Render(templateID, data)
	if err != nil {
		return err
	}
	if channel == ChannelSMS {
		return d.sms.SendSMS(ctx, to, body)
	}
	return d.email.SendEmail(ctx, to, subject, body)
}
