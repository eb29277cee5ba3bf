package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ayursutra/ayursutra/internal/platform/messaging"
	"github.com/ayursutra/ayursutra/internal/platform/realtime"
)

// EventNotification is the realtime event type carrying a new notification.
const EventNotification = "notification.created"

type Service struct {
	notes     NotificationRepository
	devices   DeviceRepository
	publisher realtime.EventPublisher
	push      messaging.PushSender
	logger    zerolog.Logger
}

// NewService wires the store with its delivery channels. publisher and
// push may be nil.
func NewService(notes NotificationRepository, devices DeviceRepository, publisher realtime.EventPublisher, push messaging.PushSender, logger zerolog.Logger) *Service {
	return &Service{
		notes:     notes,
		devices:   devices,
		publisher: publisher,
		push:      push,
		logger:    logger.With().Str("component", "notification").Logger(),
	}
}

// Notify stores the notification and fans it out. Only the insert can
// fail the call; realtime and push failures are logged.
func (s *Service) Notify(ctx context.Context, in Input) (*Notification, error) {
	if strings.TrimSpace(in.RecipientID) == "" {
		return nil, fmt.Errorf("%w: recipient_id is required", ErrInvalid)
	}
	if strings.TrimSpace(in.Title) == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalid)
	}
	if in.Type == "" {
		in.Type = TypeSystem
	}
	n := &Notification{
		RecipientID: in.RecipientID,
		Type:        in.Type,
		Title:       in.Title,
		Message:     in.Message,
	}
	if in.SenderID != "" {
		n.SenderID = &in.SenderID
	}
	if in.Link != "" {
		n.Link = &in.Link
	}
	if err := s.notes.Create(ctx, n); err != nil {
		return nil, fmt.Errorf("store notification: %w", err)
	}

	s.publish(ctx, n)
	s.pushToDevices(ctx, n, in.Data)
	return n, nil
}

func (s *Service) publish(ctx context.Context, n *Notification) {
	if s.publisher == nil {
		return
	}
	data, err := json.Marshal(n)
	if err != nil {
		s.logger.Error().Err(err).Msg("marshal notification event")
		return
	}
	err = s.publisher.Publish(ctx, realtime.Event{
		Type:      EventNotification,
		Topic:     realtime.UserTopic(n.RecipientID),
		Timestamp: n.CreatedAt,
		Data:      data,
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("recipient_id", n.RecipientID).Msg("realtime publish failed")
	}
}

func (s *Service) pushToDevices(ctx context.Context, n *Notification, extra map[string]string) {
	if s.push == nil {
		return
	}
	tokens, err := s.devices.Tokens(ctx, n.RecipientID)
	if err != nil {
		s.logger.Warn().Err(err).Str("recipient_id", n.RecipientID).Msg("load push tokens")
		return
	}
	if len(tokens) == 0 {
		return
	}

	data := map[string]string{
		"notification_id": n.ID.String(),
		"type":            n.Type,
	}
	if n.Link != nil {
		data["link"] = *n.Link
	}
	for k, v := range extra {
		data[k] = v
	}

	stale, err := s.push.Push(ctx, messaging.PushMessage{
		Tokens: tokens,
		Title:  n.Title,
		Body:   n.Message,
		Data:   data,
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("recipient_id", n.RecipientID).Int("devices", len(tokens)).Msg("push delivery failed")
	}
	if len(stale) > 0 {
		if err := s.devices.DeleteTokens(ctx, stale); err != nil {
			s.logger.Warn().Err(err).Msg("drop stale push tokens")
			return
		}
		s.logger.Info().Int("count", len(stale)).Msg("dropped stale push tokens")
	}
}

func (s *Service) List(ctx context.Context, recipientID string, unreadOnly bool, limit, offset int) ([]*Notification, int, error) {
	return s.notes.List(ctx, recipientID, unreadOnly, limit, offset)
}

func (s *Service) UnreadCount(ctx context.Context, recipientID string) (int, error) {
	return s.notes.UnreadCount(ctx, recipientID)
}

func (s *Service) MarkRead(ctx context.Context, id uuid.UUID, recipientID string) (*Notification, error) {
	return s.notes.MarkRead(ctx, id, recipientID)
}

func (s *Service) MarkAllRead(ctx context.Context, recipientID string) (int64, error) {
	return s.notes.MarkAllRead(ctx, recipientID)
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID, recipientID string) error {
	return s.notes.Delete(ctx, id, recipientID)
}

func (s *Service) RegisterDevice(ctx context.Context, d *Device) error {
	d.Token = strings.TrimSpace(d.Token)
	if d.Token == "" {
		return fmt.Errorf("%w: token is required", ErrInvalid)
	}
	d.Platform = strings.ToLower(strings.TrimSpace(d.Platform))
	if d.Platform == "" {
		d.Platform = "android"
	}
	if !validPlatforms[d.Platform] {
		return fmt.Errorf("%w: platform must be android, ios or web", ErrInvalid)
	}
	return s.devices.Upsert(ctx, d)
}

func (s *Service) UnregisterDevice(ctx context.Context, ayurSutraID, token string) error {
	return s.devices.Delete(ctx, ayurSutraID, strings.TrimSpace(token))
}
