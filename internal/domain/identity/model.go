package identity

import (
	"encoding/base32"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ayursutra/ayursutra/internal/platform/auth"
)

// User maps to the users table. Every account, whatever its role, has one.
type User struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	AyurSutraID string     `db:"ayursutra_id" json:"ayursutra_id"`
	Role        string     `db:"role" json:"role"`
	Name        string     `db:"name" json:"name"`
	Email       *string    `db:"email" json:"email,omitempty"`
	Phone       *string    `db:"phone" json:"phone,omitempty"`
	Gender      *string    `db:"gender" json:"gender,omitempty"`
	DateOfBirth *time.Time `db:"date_of_birth" json:"date_of_birth,omitempty"`
	Address     *string    `db:"address" json:"address,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

// Doctor maps to the doctors table, one row per doctor user.
type Doctor struct {
	UserID          uuid.UUID `db:"user_id" json:"user_id"`
	Specialization  string    `db:"specialization" json:"specialization"`
	Qualification   *string   `db:"qualification" json:"qualification,omitempty"`
	ExperienceYears int       `db:"experience_years" json:"experience_years"`
	ClinicName      *string   `db:"clinic_name" json:"clinic_name,omitempty"`
	Location        *string   `db:"location" json:"location,omitempty"`
	ConsultationFee *float64  `db:"consultation_fee" json:"consultation_fee,omitempty"`
	Bio             *string   `db:"bio" json:"bio,omitempty"`
	Available       bool      `db:"available" json:"available"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// DoctorProfile is a doctor's user row joined with the doctor row.
type DoctorProfile struct {
	User
	Doctor Doctor `json:"doctor"`
}

// DoctorFilter narrows a doctor search. Zero values do not filter.
type DoctorFilter struct {
	Specialization string
	Location       string
	Query          string
	MinExperience  int
	MaxFee         *float64
	Available      *bool
}

var rolePrefixes = map[string]string{
	auth.RolePatient: "P",
	auth.RoleDoctor:  "D",
	auth.RoleAdmin:   "A",
}

var ayurSutraIDPattern = regexp.MustCompile(`^AS[PDA]-[A-Z2-7]{8}$`)

// NewAyurSutraID returns a handle such as ASP-K3QX7MZA for a patient.
func NewAyurSutraID(role string) (string, error) {
	prefix, ok := rolePrefixes[role]
	if !ok {
		return "", fmt.Errorf("unknown role %q", role)
	}
	// The first five bytes of a v4 UUID are random; 40 bits encode to
	// exactly eight base32 characters.
	u, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate ayursutra id: %w", err)
	}
	return "AS" + prefix + "-" + base32.StdEncoding.EncodeToString(u[:5]), nil
}

func IsAyurSutraID(s string) bool {
	return ayurSutraIDPattern.MatchString(s)
}

func ValidRole(role string) bool {
	_, ok := rolePrefixes[role]
	return ok
}

// ContactKind tells an email address from a phone number.
type ContactKind string

const (
	ContactEmail ContactKind = "email"
	ContactPhone ContactKind = "phone"
)

var (
	emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	phonePattern = regexp.MustCompile(`^\+?[0-9]{7,15}$`)
)

// NormalizeContact lower-cases emails and strips separators from phone
// numbers.
func NormalizeContact(raw string) (ContactKind, string, error) {
	s := strings.TrimSpace(raw)
	if strings.Contains(s, "@") {
		s = strings.ToLower(s)
		if !emailPattern.MatchString(s) {
			return "", "", fmt.Errorf("invalid email address %q", raw)
		}
		return ContactEmail, s, nil
	}
	s = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "").Replace(s)
	if !phonePattern.MatchString(s) {
		return "", "", fmt.Errorf("invalid phone number %q", raw)
	}
	return ContactPhone, s, nil
}
