package messaging

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

type PushMessage struct {
	Tokens []string
	Title  string
	Body   string
	Data   map[string]string
}

// PushSender delivers to device tokens and reports tokens the provider no
// longer recognises so callers can forget them.
type PushSender interface {
	Push(ctx context.Context, msg PushMessage) (stale []string, err error)
}

// LogSender writes messages to the log instead of delivering them. It stands
// in for SMTP and SMS gateways in development.
type LogSender struct {
	logger zerolog.Logger
}

func NewLogSender(logger zerolog.Logger) *LogSender {
	return &LogSender{logger: logger.With().Str("component", "log-sender").Logger()}
}

func (s *LogSender) SendEmail(_ context.Context, to, subject, body string) error {
	s.logger.Info().Str("channel", string(ChannelEmail)).Str("to", to).Str("subject", subject).Str("body", body).Msg("message not delivered, logged")
	return nil
}

func (s *LogSender) SendSMS(_ context.Context, to, body string) error {
	s.logger.Info().Str("channel", string(ChannelSMS)).Str("to", to).Str("body", body).Msg("message not delivered, logged")
	return nil
}

// Message is one email or SMS captured by an Outbox.
type Message struct {
	Channel Channel
	To      string
	Subject string
	Body    string
}

// Outbox records outgoing traffic instead of delivering it. It satisfies
// every sender interface, so tests can hand the same Outbox to a
// Dispatcher and a push-enabled service. A non-nil Err fails every send.
type Outbox struct {
	Err   error
	Stale []string

	mu     sync.Mutex
	sent   []Message
	pushes []PushMessage
}

func (o *Outbox) record(m Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, m)
	return o.Err
}

func (o *Outbox) SendEmail(_ context.Context, to, subject, body string) error {
	return o.record(Message{Channel: ChannelEmail, To: to, Subject: subject, Body: body})
}

func (o *Outbox) SendSMS(_ context.Context, to, body string) error {
	return o.record(Message{Channel: ChannelSMS, To: to, Body: body})
}

func (o *Outbox) Push(_ context.Context, msg PushMessage) ([]string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pushes = append(o.pushes, msg)
	if o.Err != nil {
		return nil, o.Err
	}
	return o.Stale, nil
}

// Sent returns the captured messages on ch, oldest first.
func (o *Outbox) Sent(ch Channel) []Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []Message
	for _, m := range o.sent {
		if m.Channel == ch {
			out = append(out, m)
		}
	}
	return out
}

func (o *Outbox) Pushes() []PushMessage {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]PushMessage(nil), o.pushes...)
}
