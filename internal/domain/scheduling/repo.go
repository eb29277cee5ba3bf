package scheduling

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound          = errors.New("appointment not found")
	ErrSlotTaken         = errors.New("doctor already has an appointment at that time")
	ErrInvalidTransition = errors.New("appointment status change not allowed")
	ErrForbidden         = errors.New("not allowed for this appointment")
	ErrDoctorNotFound    = errors.New("doctor not found")
	ErrDoctorUnavailable = errors.New("doctor is not accepting appointments")
	ErrInvalid           = errors.New("invalid appointment")
)

type AppointmentRepository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// GetForUpdate locks the row until the surrounding transaction ends.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error)
	Update(ctx context.Context, a *Appointment) error
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*Appointment, int, error)
	// LockDoctor serializes bookings for one doctor within a transaction.
	LockDoctor(ctx context.Context, doctorID uuid.UUID) error
	// HasConflict reports an active appointment of the doctor overlapping
	// [start, end), ignoring exclude.
	HasConflict(ctx context.Context, doctorID uuid.UUID, start, end time.Time, exclude uuid.UUID) (bool, error)
	// DueReminders returns active appointments starting in [from, to) that
	// have not been reminded yet.
	DueReminders(ctx context.Context, from, to time.Time, limit int) ([]*Appointment, error)
	MarkReminded(ctx context.Context, id uuid.UUID, at time.Time) error
}
