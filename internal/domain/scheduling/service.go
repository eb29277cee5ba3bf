package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ayursutra/ayursutra/internal/domain/identity"
	"github.com/ayursutra/ayursutra/internal/domain/notification"
	"github.com/ayursutra/ayursutra/internal/platform/auth"
	"github.com/ayursutra/ayursutra/internal/platform/db"
	"github.com/ayursutra/ayursutra/internal/platform/messaging"
)

// reminderBatch caps how many reminders one job run sends.
const reminderBatch = 200

// Directory is the part of the identity service scheduling needs.
type Directory interface {
	GetUser(ctx context.Context, id uuid.UUID) (*identity.User, error)
	GetDoctorByRef(ctx context.Context, ref string) (*identity.DoctorProfile, error)
}

type Notifier interface {
	Notify(ctx context.Context, in notification.Input) (*notification.Notification, error)
}

type Service struct {
	appts     AppointmentRepository
	users     Directory
	tx        db.Transactor
	notifier  Notifier
	templates *messaging.TemplateEngine
	loc       *time.Location
	logger    zerolog.Logger
	now       func() time.Time
}

// NewService builds the appointment service. Times in notification texts
// are rendered in loc.
func NewService(appts AppointmentRepository, users Directory, tx db.Transactor, notifier Notifier,
	templates *messaging.TemplateEngine, loc *time.Location, logger zerolog.Logger) *Service {
	if templates == nil {
		templates = messaging.NewTemplateEngine()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		appts:     appts,
		users:     users,
		tx:        tx,
		notifier:  notifier,
		templates: templates,
		loc:       loc,
		logger:    logger.With().Str("component", "scheduling").Logger(),
		now:       time.Now,
	}
}

func invalidf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

func (a *Appointment) involves(c Caller) bool {
	return c.Role == auth.RoleAdmin || a.PatientID == c.UserID || a.DoctorID == c.UserID
}

func normalizeDuration(minutes int) (int, error) {
	if minutes == 0 {
		return DefaultDurationMinutes, nil
	}
	if minutes < MinDurationMinutes || minutes > MaxDurationMinutes {
		return 0, invalidf("duration_minutes must be between %d and %d", MinDurationMinutes, MaxDurationMinutes)
	}
	return minutes, nil
}

type BookRequest struct {
	// DoctorID accepts the doctor's user id or AyurSutra ID.
	DoctorID        string    `json:"doctor_id"`
	ScheduledAt     time.Time `json:"scheduled_at"`
	DurationMinutes int       `json:"duration_minutes"`
	Therapy         string    `json:"therapy"`
	Reason          *string   `json:"reason"`
}

// Book creates a pending appointment for the calling patient.
func (s *Service) Book(ctx context.Context, caller Caller, req BookRequest) (*Appointment, error) {
	if caller.Role != auth.RolePatient {
		return nil, ErrForbidden
	}
	therapy := strings.TrimSpace(req.Therapy)
	if therapy == "" {
		return nil, invalidf("therapy is required")
	}
	duration, err := normalizeDuration(req.DurationMinutes)
	if err != nil {
		return nil, err
	}
	start := req.ScheduledAt.UTC().Truncate(time.Minute)
	if !start.After(s.now()) {
		return nil, invalidf("scheduled_at must be in the future")
	}

	doc, err := s.users.GetDoctorByRef(ctx, strings.TrimSpace(req.DoctorID))
	if errors.Is(err, identity.ErrNotFound) {
		return nil, ErrDoctorNotFound
	}
	if err != nil {
		return nil, err
	}
	if !doc.Doctor.Available {
		return nil, ErrDoctorUnavailable
	}
	patient, err := s.users.GetUser(ctx, caller.UserID)
	if err != nil {
		return nil, fmt.Errorf("load patient: %w", err)
	}

	a := &Appointment{
		PatientID:       caller.UserID,
		DoctorID:        doc.ID,
		ScheduledAt:     start,
		DurationMinutes: duration,
		Therapy:         therapy,
		Reason:          req.Reason,
		Status:          StatusPending,
		Patient:         Party{AyurSutraID: patient.AyurSutraID, Name: patient.Name},
		Doctor:          Party{AyurSutraID: doc.AyurSutraID, Name: doc.Name},
	}
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.appts.LockDoctor(ctx, a.DoctorID); err != nil {
			return err
		}
		taken, err := s.appts.HasConflict(ctx, a.DoctorID, a.ScheduledAt, a.EndsAt(), uuid.Nil)
		if err != nil {
			return err
		}
		if taken {
			return ErrSlotTaken
		}
		return s.appts.Create(ctx, a)
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, a, a.Doctor.AyurSutraID, a.Patient.AyurSutraID,
		notification.TypeAppointmentBooked, messaging.TemplateAppointmentBooked, map[string]string{
			"patient_name": a.Patient.Name,
			"therapy":      a.Therapy,
		})
	return a, nil
}

// Get returns the appointment when the caller takes part in it.
func (s *Service) Get(ctx context.Context, caller Caller, id uuid.UUID) (*Appointment, error) {
	a, err := s.appts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !a.involves(caller) {
		return nil, ErrNotFound
	}
	return a, nil
}

type StatusChange struct {
	Status string  `json:"status"`
	Reason *string `json:"reason"`
	Notes  *string `json:"notes"`
}

// authorizeStatus: doctors confirm and complete, either party cancels.
func authorizeStatus(c Caller, a *Appointment, to string) error {
	if c.Role == auth.RoleAdmin {
		return nil
	}
	switch to {
	case StatusConfirmed, StatusCompleted:
		if c.UserID != a.DoctorID {
			return ErrForbidden
		}
	case StatusCancelled:
	default:
		return invalidf("unknown status %q", to)
	}
	return nil
}

func (s *Service) UpdateStatus(ctx context.Context, caller Caller, id uuid.UUID, change StatusChange) (*Appointment, error) {
	to := strings.ToLower(strings.TrimSpace(change.Status))
	if !ValidStatus(to) {
		return nil, invalidf("unknown status %q", change.Status)
	}

	var a *Appointment
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		cur, err := s.appts.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !cur.involves(caller) {
			return ErrNotFound
		}
		if err := authorizeStatus(caller, cur, to); err != nil {
			return err
		}
		if !CanTransition(cur.Status, to) {
			return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, cur.Status, to)
		}
		cur.Status = to
		if to == StatusCancelled {
			cur.CancellationReason = change.Reason
			role := caller.Role
			cur.CancelledBy = &role
		}
		if change.Notes != nil && caller.UserID == cur.DoctorID {
			cur.Notes = change.Notes
		}
		if err := s.appts.Update(ctx, cur); err != nil {
			return err
		}
		a = cur
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notifyCounterparts(ctx, caller, a, to)
	return a, nil
}

type RescheduleRequest struct {
	ScheduledAt     time.Time `json:"scheduled_at"`
	DurationMinutes int       `json:"duration_minutes"`
}

// Reschedule moves an active appointment and puts it back to pending so
// the doctor confirms the new time.
func (s *Service) Reschedule(ctx context.Context, caller Caller, id uuid.UUID, req RescheduleRequest) (*Appointment, error) {
	start := req.ScheduledAt.UTC().Truncate(time.Minute)
	if !start.After(s.now()) {
		return nil, invalidf("scheduled_at must be in the future")
	}

	var a *Appointment
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		cur, err := s.appts.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !cur.involves(caller) {
			return ErrNotFound
		}
		if !cur.Active() {
			return fmt.Errorf("%w: %s appointments cannot be rescheduled", ErrInvalidTransition, cur.Status)
		}
		if req.DurationMinutes != 0 {
			d, err := normalizeDuration(req.DurationMinutes)
			if err != nil {
				return err
			}
			cur.DurationMinutes = d
		}
		cur.ScheduledAt = start
		if err := s.appts.LockDoctor(ctx, cur.DoctorID); err != nil {
			return err
		}
		taken, err := s.appts.HasConflict(ctx, cur.DoctorID, cur.ScheduledAt, cur.EndsAt(), cur.ID)
		if err != nil {
			return err
		}
		if taken {
			return ErrSlotTaken
		}
		cur.Status = StatusPending
		cur.ReminderSentAt = nil
		if err := s.appts.Update(ctx, cur); err != nil {
			return err
		}
		a = cur
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notifyCounterparts(ctx, caller, a, "rescheduled")
	return a, nil
}

// List scopes the filter to the caller. Admins see everything.
func (s *Service) List(ctx context.Context, caller Caller, f ListFilter, limit, offset int) ([]*Appointment, int, error) {
	if f.Status != "" && !ValidStatus(f.Status) {
		return nil, 0, invalidf("unknown status %q", f.Status)
	}
	switch caller.Role {
	case auth.RolePatient:
		f.PatientID = &caller.UserID
	case auth.RoleDoctor:
		f.DoctorID = &caller.UserID
	case auth.RoleAdmin:
	default:
		return nil, 0, ErrForbidden
	}
	return s.appts.List(ctx, f, limit, offset)
}

// SendReminders notifies both parties of appointments starting within
// lead. It returns how many appointments were reminded.
func (s *Service) SendReminders(ctx context.Context, lead time.Duration) (int, error) {
	now := s.now().UTC()
	due, err := s.appts.DueReminders(ctx, now, now.Add(lead), reminderBatch)
	if err != nil {
		return 0, fmt.Errorf("load due reminders: %w", err)
	}
	sent := 0
	for _, a := range due {
		s.notify(ctx, a, a.Patient.AyurSutraID, "", notification.TypeAppointmentReminder,
			messaging.TemplateAppointmentReminder, map[string]string{"therapy": a.Therapy, "counterpart": a.Doctor.Name})
		s.notify(ctx, a, a.Doctor.AyurSutraID, "", notification.TypeAppointmentReminder,
			messaging.TemplateAppointmentReminder, map[string]string{"therapy": a.Therapy, "counterpart": a.Patient.Name})
		if err := s.appts.MarkReminded(ctx, a.ID, now); err != nil {
			s.logger.Error().Err(err).Str("appointment_id", a.ID.String()).Msg("mark reminded")
			continue
		}
		sent++
	}
	return sent, nil
}

// notifyCounterparts tells the other side about a change made by caller.
// Changes made by an admin go to both sides.
func (s *Service) notifyCounterparts(ctx context.Context, caller Caller, a *Appointment, status string) {
	toPatient := map[string]string{"status": status, "counterpart": a.Doctor.Name}
	toDoctor := map[string]string{"status": status, "counterpart": a.Patient.Name}
	switch caller.UserID {
	case a.DoctorID:
		s.notify(ctx, a, a.Patient.AyurSutraID, caller.AyurSutraID, notification.TypeAppointmentStatus, messaging.TemplateAppointmentStatus, toPatient)
	case a.PatientID:
		s.notify(ctx, a, a.Doctor.AyurSutraID, caller.AyurSutraID, notification.TypeAppointmentStatus, messaging.TemplateAppointmentStatus, toDoctor)
	default:
		s.notify(ctx, a, a.Patient.AyurSutraID, caller.AyurSutraID, notification.TypeAppointmentStatus, messaging.TemplateAppointmentStatus, toPatient)
		s.notify(ctx, a, a.Doctor.AyurSutraID, caller.AyurSutraID, notification.TypeAppointmentStatus, messaging.TemplateAppointmentStatus, toDoctor)
	}
}

func (s *Service) notify(ctx context.Context, a *Appointment, recipient, sender, typ, templateID string, data map[string]string) {
	if s.notifier == nil || recipient == "" {
		return
	}
	local := a.ScheduledAt.In(s.loc)
	data["date"] = local.Format("Mon, 02 Jan 2006")
	data["time"] = local.Format("15:04")

	title, body, err := s.templates.Render(templateID, data)
	if err != nil {
		s.logger.Error().Err(err).Str("template", templateID).Msg("render notification")
		return
	}
	_, err = s.notifier.Notify(ctx, notification.Input{
		RecipientID: recipient,
		SenderID:    sender,
		Type:        typ,
		Title:       title,
		Message:     body,
		Link:        "/appointments/" + a.ID.String(),
		Data:        map[string]string{"appointment_id": a.ID.String(), "status": a.Status},
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("recipient_id", recipient).Str("appointment_id", a.ID.String()).Msg("notify failed")
	}
}
