package notification

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("notification not found")
	ErrInvalid  = errors.New("invalid notification input")
)

type NotificationRepository interface {
	Create(ctx context.Context, n *Notification) error
	// List returns the recipient's notifications, newest first.
	List(ctx context.Context, recipientID string, unreadOnly bool, limit, offset int) ([]*Notification, int, error)
	UnreadCount(ctx context.Context, recipientID string) (int, error)
	// MarkRead and Delete only touch rows owned by recipientID.
	MarkRead(ctx context.Context, id uuid.UUID, recipientID string) (*Notification, error)
	MarkAllRead(ctx context.Context, recipientID string) (int64, error)
	Delete(ctx context.Context, id uuid.UUID, recipientID string) error
}

type DeviceRepository interface {
	// Upsert claims the token for d.AyurSutraID, moving it off any other user.
	Upsert(ctx context.Context, d *Device) error
	Delete(ctx context.Context, ayurSutraID, token string) error
	Tokens(ctx context.Context, ayurSutraID string) ([]string, error)
	DeleteTokens(ctx context.Context, tokens []string) error
}
