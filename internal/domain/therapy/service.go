package therapy

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ayursutra/ayursutra/internal/domain/identity"
	"github.com/ayursutra/ayursutra/internal/domain/notification"
	"github.com/ayursutra/ayursutra/internal/domain/scheduling"
	"github.com/ayursutra/ayursutra/internal/platform/auth"
	"github.com/ayursutra/ayursutra/internal/platform/db"
	"github.com/ayursutra/ayursutra/internal/platform/messaging"
)

var (
	ErrPatientNotFound     = errors.New("patient not found")
	ErrAppointmentMismatch = errors.New("appointment does not belong to this doctor and patient")
)

// Directory is the part of the identity service therapy needs.
type Directory interface {
	GetUser(ctx context.Context, id uuid.UUID) (*identity.User, error)
	GetByAyurSutraID(ctx context.Context, ayurSutraID string) (*identity.User, error)
}

type Notifier interface {
	Notify(ctx context.Context, in notification.Input) (*notification.Notification, error)
}

// Appointments resolves the appointment a prescription is issued from.
type Appointments interface {
	Get(ctx context.Context, caller scheduling.Caller, id uuid.UUID) (*scheduling.Appointment, error)
}

type Caller struct {
	UserID      uuid.UUID
	AyurSutraID string
	Role        string
}

type Service struct {
	rx           PrescriptionRepository
	users        Directory
	appointments Appointments
	tx           db.Transactor
	notifier     Notifier
	templates    *messaging.TemplateEngine
	logger       zerolog.Logger
	now          func() time.Time
}

// NewService builds the prescription service. appointments and notifier
// may be nil.
func NewService(rx PrescriptionRepository, users Directory, appointments Appointments, tx db.Transactor,
	notifier Notifier, templates *messaging.TemplateEngine, logger zerolog.Logger) *Service {
	if templates == nil {
		templates = messaging.NewTemplateEngine()
	}
	return &Service{
		rx:           rx,
		users:        users,
		appointments: appointments,
		tx:           tx,
		notifier:     notifier,
		templates:    templates,
		logger:       logger.With().Str("component", "therapy").Logger(),
		now:          time.Now,
	}
}

func (p *Prescription) involves(c Caller) bool {
	return c.Role == auth.RoleAdmin || p.PatientID == c.UserID || p.DoctorID == c.UserID
}

type CreateRequest struct {
	// PatientID accepts the patient's user id or AyurSutra ID.
	PatientID     string     `json:"patient_id"`
	AppointmentID *uuid.UUID `json:"appointment_id"`
	Record        Record     `json:"record"`
	Notes         *string    `json:"notes"`
}

func (s *Service) resolvePatient(ctx context.Context, ref string) (*identity.User, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, invalidf("patient_id is required")
	}
	var (
		u   *identity.User
		err error
	)
	if id, perr := uuid.Parse(ref); perr == nil {
		u, err = s.users.GetUser(ctx, id)
	} else {
		u, err = s.users.GetByAyurSutraID(ctx, ref)
	}
	if errors.Is(err, identity.ErrNotFound) {
		return nil, ErrPatientNotFound
	}
	if err != nil {
		return nil, err
	}
	if u.Role != auth.RolePatient {
		return nil, ErrPatientNotFound
	}
	return u, nil
}

// Create issues a prescription from the calling doctor. Phase lengths
// are allocated from totalDays unless the record carries them already.
func (s *Service) Create(ctx context.Context, caller Caller, req CreateRequest) (*Prescription, error) {
	if caller.Role != auth.RoleDoctor {
		return nil, ErrForbidden
	}
	patient, err := s.resolvePatient(ctx, req.PatientID)
	if err != nil {
		return nil, err
	}
	doctor, err := s.users.GetUser(ctx, caller.UserID)
	if err != nil {
		return nil, fmt.Errorf("load doctor: %w", err)
	}

	if req.AppointmentID != nil {
		if s.appointments == nil {
			return nil, invalidf("appointment_id is not supported")
		}
		a, err := s.appointments.Get(ctx, scheduling.Caller{
			UserID: caller.UserID, AyurSutraID: caller.AyurSutraID, Role: caller.Role,
		}, *req.AppointmentID)
		if errors.Is(err, scheduling.ErrNotFound) {
			return nil, ErrAppointmentMismatch
		}
		if err != nil {
			return nil, err
		}
		if a.PatientID != patient.ID || a.DoctorID != caller.UserID {
			return nil, ErrAppointmentMismatch
		}
	}

	rec := req.Record
	rec.CurrentDay = 0
	rec.Normalize()
	if err := rec.Validate(); err != nil {
		return nil, err
	}

	p := &Prescription{
		PatientID:     patient.ID,
		DoctorID:      caller.UserID,
		AppointmentID: req.AppointmentID,
		Record:        rec,
		Notes:         req.Notes,
		Patient:       Party{AyurSutraID: patient.AyurSutraID, Name: patient.Name},
		Doctor:        Party{AyurSutraID: doctor.AyurSutraID, Name: doctor.Name},
	}
	if err := s.rx.Create(ctx, p); err != nil {
		return nil, err
	}

	s.notifyIssued(ctx, p)
	return p, nil
}

// Get returns the prescription when the caller is its patient or doctor.
func (s *Service) Get(ctx context.Context, caller Caller, id uuid.UUID) (*Prescription, error) {
	p, err := s.rx.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.involves(caller) {
		return nil, ErrNotFound
	}
	return p, nil
}

// ListForCaller lists the caller's own prescriptions: issued ones for a
// doctor, received ones for a patient.
func (s *Service) ListForCaller(ctx context.Context, caller Caller, limit, offset int) ([]*Prescription, int, error) {
	switch caller.Role {
	case auth.RolePatient:
		return s.rx.ListByPatient(ctx, caller.UserID, limit, offset)
	case auth.RoleDoctor:
		return s.rx.ListByDoctor(ctx, caller.UserID, limit, offset)
	}
	return nil, 0, ErrForbidden
}

// ListByPatient is the treatment history of one patient, for doctors and
// admins.
func (s *Service) ListByPatient(ctx context.Context, caller Caller, patientRef string, limit, offset int) ([]*Prescription, int, error) {
	if caller.Role != auth.RoleDoctor && caller.Role != auth.RoleAdmin {
		return nil, 0, ErrForbidden
	}
	patient, err := s.resolvePatient(ctx, patientRef)
	if err != nil {
		return nil, 0, err
	}
	return s.rx.ListByPatient(ctx, patient.ID, limit, offset)
}

func (s *Service) Delete(ctx context.Context, caller Caller, id uuid.UUID) error {
	p, err := s.rx.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !p.involves(caller) {
		return ErrNotFound
	}
	if caller.Role != auth.RoleAdmin && p.DoctorID != caller.UserID {
		return ErrForbidden
	}
	return s.rx.Delete(ctx, id)
}

// update applies fn to the locked record and stores the result. Any
// participant may update unless allowed says otherwise.
func (s *Service) update(ctx context.Context, caller Caller, id uuid.UUID, allowed func(*Prescription) bool, fn func(*Record) error) (*Prescription, error) {
	var out *Prescription
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		p, err := s.rx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !p.involves(caller) {
			return ErrNotFound
		}
		if allowed != nil && !allowed(p) {
			return ErrForbidden
		}
		if err := fn(&p.Record); err != nil {
			return err
		}
		if err := s.rx.UpdateRecord(ctx, p); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c Caller) prescribed(p *Prescription) bool {
	return c.Role == auth.RoleAdmin || c.UserID == p.DoctorID
}

// Complete marks one more treatment day done.
func (s *Service) Complete(ctx context.Context, caller Caller, id uuid.UUID, phase string) (*Prescription, error) {
	ph, err := ParsePhase(phase)
	if err != nil {
		return nil, err
	}
	return s.update(ctx, caller, id, nil, func(r *Record) error {
		return r.Complete(ph)
	})
}

// Extend lengthens a phase by one day. Only the prescribing doctor may
// change the plan.
func (s *Service) Extend(ctx context.Context, caller Caller, id uuid.UUID, phase string) (*Prescription, error) {
	ph, err := ParsePhase(phase)
	if err != nil {
		return nil, err
	}
	return s.update(ctx, caller, id, caller.prescribed, func(r *Record) error {
		return r.Extend(ph)
	})
}

// Start sets the first treatment day. A nil date means today in UTC.
func (s *Service) Start(ctx context.Context, caller Caller, id uuid.UUID, date *Date) (*Prescription, error) {
	d := NewDate(s.now().UTC())
	if date != nil {
		d = *date
	}
	return s.update(ctx, caller, id, nil, func(r *Record) error {
		r.Start(d)
		return nil
	})
}

func (s *Service) Progress(ctx context.Context, caller Caller, id uuid.UUID) (*Progress, error) {
	p, err := s.Get(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	prog := p.Record.Progress()
	return &prog, nil
}

// PlanView is a normalized record with its derived progress and a link to
// the stateless viewer.
type PlanView struct {
	Record   Record   `json:"record"`
	Progress Progress `json:"progress"`
	ViewURL  string   `json:"view_url,omitempty"`
}

// Plan normalizes and validates a record that is not stored anywhere.
func Plan(rec Record, viewBase string) (*PlanView, error) {
	rec.Normalize()
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	v := &PlanView{Record: rec, Progress: rec.Progress()}
	if viewBase != "" {
		link, err := ViewURL(viewBase, rec)
		if err != nil {
			return nil, err
		}
		v.ViewURL = link
	}
	return v, nil
}

func (s *Service) notifyIssued(ctx context.Context, p *Prescription) {
	if s.notifier == nil {
		return
	}
	title, body, err := s.templates.Render(messaging.TemplatePrescriptionIssued, map[string]string{
		"doctor_name": p.Doctor.Name,
		"therapy":     p.Record.Therapy,
		"days":        strconv.Itoa(p.Record.TotalDays),
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("render prescription notification")
		return
	}
	_, err = s.notifier.Notify(ctx, notification.Input{
		RecipientID: p.Patient.AyurSutraID,
		SenderID:    p.Doctor.AyurSutraID,
		Type:        notification.TypePrescription,
		Title:       title,
		Message:     body,
		Link:        "/prescriptions/" + p.ID.String(),
		Data:        map[string]string{"prescription_id": p.ID.String()},
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("prescription_id", p.ID.String()).Msg("notify failed")
	}
}
