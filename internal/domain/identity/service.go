package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ayursutra/ayursutra/internal/platform/auth"
	"github.com/ayursutra/ayursutra/internal/platform/db"
)

// idAttempts bounds retries when a generated AyurSutra ID collides.
const idAttempts = 3

type Service struct {
	users   UserRepository
	doctors DoctorRepository
	tx      db.Transactor
}

func NewService(users UserRepository, doctors DoctorRepository, tx db.Transactor) *Service {
	return &Service{users: users, doctors: doctors, tx: tx}
}

func invalidf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrInvalid}, args...)...)
}

var validGenders = map[string]bool{"male": true, "female": true, "other": true}

func validateUser(u *User) error {
	u.Name = strings.TrimSpace(u.Name)
	if u.Name == "" {
		return invalidf("name is required")
	}
	if u.Email == nil && u.Phone == nil {
		return invalidf("email or phone is required")
	}
	if u.Email != nil {
		kind, norm, err := NormalizeContact(*u.Email)
		if err != nil || kind != ContactEmail {
			return invalidf("invalid email address")
		}
		u.Email = &norm
	}
	if u.Phone != nil {
		kind, norm, err := NormalizeContact(*u.Phone)
		if err != nil || kind != ContactPhone {
			return invalidf("invalid phone number")
		}
		u.Phone = &norm
	}
	if u.Gender != nil {
		g := strings.ToLower(strings.TrimSpace(*u.Gender))
		if !validGenders[g] {
			return invalidf("invalid gender: %s", *u.Gender)
		}
		u.Gender = &g
	}
	if u.DateOfBirth != nil && u.DateOfBirth.After(time.Now()) {
		return invalidf("date_of_birth must be in the past")
	}
	return nil
}

func validateDoctor(d *Doctor) error {
	d.Specialization = strings.TrimSpace(d.Specialization)
	if d.Specialization == "" {
		return invalidf("specialization is required")
	}
	if d.ExperienceYears < 0 {
		return invalidf("experience_years must not be negative")
	}
	if d.ConsultationFee != nil && *d.ConsultationFee < 0 {
		return invalidf("consultation_fee must not be negative")
	}
	return nil
}

// createUser assigns a fresh AyurSutra ID, retrying on the rare collision.
func (s *Service) createUser(ctx context.Context, u *User) error {
	for i := 0; i < idAttempts; i++ {
		id, err := NewAyurSutraID(u.Role)
		if err != nil {
			return err
		}
		u.AyurSutraID = id
		err = s.users.Create(ctx, u)
		if !errors.Is(err, ErrDuplicateID) {
			return err
		}
	}
	return ErrDuplicateID
}

func (s *Service) CreatePatient(ctx context.Context, u *User) error {
	u.Role = auth.RolePatient
	if err := validateUser(u); err != nil {
		return err
	}
	return s.createUser(ctx, u)
}

// CreateDoctor inserts the user and the doctor row together.
func (s *Service) CreateDoctor(ctx context.Context, u *User, d *Doctor) error {
	u.Role = auth.RoleDoctor
	if err := validateUser(u); err != nil {
		return err
	}
	if err := validateDoctor(d); err != nil {
		return err
	}
	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.createUser(ctx, u); err != nil {
			return err
		}
		d.UserID = u.ID
		d.Available = true
		return s.doctors.Create(ctx, d)
	})
}

func (s *Service) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.users.GetByID(ctx, id)
}

func (s *Service) GetByAyurSutraID(ctx context.Context, ayurSutraID string) (*User, error) {
	return s.users.GetByAyurSutraID(ctx, strings.ToUpper(strings.TrimSpace(ayurSutraID)))
}

// FindByContact looks a user up by email or phone, whichever contact is.
func (s *Service) FindByContact(ctx context.Context, contact string) (*User, error) {
	kind, norm, err := NormalizeContact(contact)
	if err != nil {
		return nil, err
	}
	if kind == ContactEmail {
		return s.users.GetByEmail(ctx, norm)
	}
	return s.users.GetByPhone(ctx, norm)
}

// ProfileUpdate carries the editable user fields. Nil fields are unchanged.
type ProfileUpdate struct {
	Name        *string    `json:"name"`
	Email       *string    `json:"email"`
	Phone       *string    `json:"phone"`
	Gender      *string    `json:"gender"`
	DateOfBirth *time.Time `json:"date_of_birth"`
	Address     *string    `json:"address"`
}

func (s *Service) UpdateProfile(ctx context.Context, id uuid.UUID, upd ProfileUpdate) (*User, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if upd.Name != nil {
		u.Name = *upd.Name
	}
	if upd.Email != nil {
		u.Email = upd.Email
	}
	if upd.Phone != nil {
		u.Phone = upd.Phone
	}
	if upd.Gender != nil {
		u.Gender = upd.Gender
	}
	if upd.DateOfBirth != nil {
		u.DateOfBirth = upd.DateOfBirth
	}
	if upd.Address != nil {
		u.Address = upd.Address
	}
	if err := validateUser(u); err != nil {
		return nil, err
	}
	if err := s.users.Update(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// DoctorUpdate carries the editable doctor fields. Nil fields are unchanged.
type DoctorUpdate struct {
	Specialization  *string  `json:"specialization"`
	Qualification   *string  `json:"qualification"`
	ExperienceYears *int     `json:"experience_years"`
	ClinicName      *string  `json:"clinic_name"`
	Location        *string  `json:"location"`
	ConsultationFee *float64 `json:"consultation_fee"`
	Bio             *string  `json:"bio"`
	Available       *bool    `json:"available"`
}

func (s *Service) UpdateDoctor(ctx context.Context, userID uuid.UUID, upd DoctorUpdate) (*DoctorProfile, error) {
	p, err := s.doctors.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	d := &p.Doctor
	if upd.Specialization != nil {
		d.Specialization = *upd.Specialization
	}
	if upd.Qualification != nil {
		d.Qualification = upd.Qualification
	}
	if upd.ExperienceYears != nil {
		d.ExperienceYears = *upd.ExperienceYears
	}
	if upd.ClinicName != nil {
		d.ClinicName = upd.ClinicName
	}
	if upd.Location != nil {
		d.Location = upd.Location
	}
	if upd.ConsultationFee != nil {
		d.ConsultationFee = upd.ConsultationFee
	}
	if upd.Bio != nil {
		d.Bio = upd.Bio
	}
	if upd.Available != nil {
		d.Available = *upd.Available
	}
	if err := validateDoctor(d); err != nil {
		return nil, err
	}
	if err := s.doctors.Update(ctx, d); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) GetDoctor(ctx context.Context, userID uuid.UUID) (*DoctorProfile, error) {
	return s.doctors.GetByUserID(ctx, userID)
}

// GetDoctorByRef resolves a doctor by row id or AyurSutra ID.
func (s *Service) GetDoctorByRef(ctx context.Context, ref string) (*DoctorProfile, error) {
	if id, err := uuid.Parse(ref); err == nil {
		return s.doctors.GetByUserID(ctx, id)
	}
	u, err := s.GetByAyurSutraID(ctx, ref)
	if err != nil {
		return nil, err
	}
	if u.Role != auth.RoleDoctor {
		return nil, ErrNotFound
	}
	return s.doctors.GetByUserID(ctx, u.ID)
}

func (s *Service) SearchDoctors(ctx context.Context, f DoctorFilter, limit, offset int) ([]*DoctorProfile, int, error) {
	if f.MinExperience < 0 {
		return nil, 0, invalidf("min_experience must not be negative")
	}
	return s.doctors.Search(ctx, f, limit, offset)
}
