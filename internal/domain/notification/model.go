package notification

import (
	"time"

	"github.com/google/uuid"
)

const (
	TypeAppointmentBooked   = "appointment_booked"
	TypeAppointmentStatus   = "appointment_status"
	TypeAppointmentReminder = "appointment_reminder"
	TypePrescription        = "prescription"
	TypeSystem              = "system"
)

// Notification is an in-app message addressed by AyurSutra ID.
type Notification struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	RecipientID string     `db:"recipient_id" json:"recipient_id"`
	SenderID    *string    `db:"sender_id" json:"sender_id,omitempty"`
	Type        string     `db:"type" json:"type"`
	Title       string     `db:"title" json:"title"`
	Message     string     `db:"message" json:"message"`
	Link        *string    `db:"link" json:"link,omitempty"`
	Read        bool       `json:"read"`
	ReadAt      *time.Time `db:"read_at" json:"read_at,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
}

// Device is a push token registered by a signed-in app.
type Device struct {
	ID          uuid.UUID `db:"id" json:"id"`
	AyurSutraID string    `db:"ayursutra_id" json:"ayursutra_id"`
	Token       string    `db:"token" json:"token"`
	Platform    string    `db:"platform" json:"platform"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	LastSeenAt  time.Time `db:"last_seen_at" json:"last_seen_at"`
}

var validPlatforms = map[string]bool{"android": true, "ios": true, "web": true}

// Input is what other domains hand to Notify.
type Input struct {
	RecipientID string
	SenderID    string
	Type        string
	Title       string
	Message     string
	Link        string
	// Data travels with the push message only.
	Data map[string]string
}
