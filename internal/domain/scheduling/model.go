package scheduling

import (
	"time"

	"github.com/google/uuid"
)

const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

const (
	DefaultDurationMinutes = 60
	MinDurationMinutes     = 15
	MaxDurationMinutes     = 480
)

// transitions lists the statuses reachable from each status. Completed and
// cancelled are final.
var transitions = map[string][]string{
	StatusPending:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusCompleted, StatusCancelled},
}

func ValidStatus(s string) bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

func CanTransition(from, to string) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Party is the public face of a participant, read from the users table.
type Party struct {
	AyurSutraID string `json:"ayursutra_id"`
	Name        string `json:"name"`
}

// Appointment maps to the appointments table.
type Appointment struct {
	ID                 uuid.UUID  `db:"id" json:"id"`
	PatientID          uuid.UUID  `db:"patient_id" json:"patient_id"`
	DoctorID           uuid.UUID  `db:"doctor_id" json:"doctor_id"`
	ScheduledAt        time.Time  `db:"scheduled_at" json:"scheduled_at"`
	DurationMinutes    int        `db:"duration_minutes" json:"duration_minutes"`
	Therapy            string     `db:"therapy" json:"therapy"`
	Reason             *string    `db:"reason" json:"reason,omitempty"`
	Status             string     `db:"status" json:"status"`
	Notes              *string    `db:"notes" json:"notes,omitempty"`
	CancellationReason *string    `db:"cancellation_reason" json:"cancellation_reason,omitempty"`
	CancelledBy        *string    `db:"cancelled_by" json:"cancelled_by,omitempty"`
	ReminderSentAt     *time.Time `db:"reminder_sent_at" json:"reminder_sent_at,omitempty"`
	CreatedAt          time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at" json:"updated_at"`

	Patient Party `json:"patient"`
	Doctor  Party `json:"doctor"`
}

func (a *Appointment) EndsAt() time.Time {
	return a.ScheduledAt.Add(time.Duration(a.DurationMinutes) * time.Minute)
}

// Active appointments hold their slot.
func (a *Appointment) Active() bool {
	return a.Status == StatusPending || a.Status == StatusConfirmed
}

// ListFilter narrows appointment listings. Nil fields do not filter.
type ListFilter struct {
	PatientID *uuid.UUID
	DoctorID  *uuid.UUID
	Status    string
	From      *time.Time
	To        *time.Time
}

// Caller identifies who is acting on an appointment.
type Caller struct {
	UserID      uuid.UUID
	AyurSutraID string
	Role        string
}
