package identity

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrContactTaken = errors.New("email or phone already registered")
	ErrDuplicateID  = errors.New("ayursutra id already in use")
	ErrInvalid      = errors.New("invalid")
)

type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByAyurSutraID(ctx context.Context, ayurSutraID string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByPhone(ctx context.Context, phone string) (*User, error)
	Update(ctx context.Context, u *User) error
}

type DoctorRepository interface {
	Create(ctx context.Context, d *Doctor) error
	GetByUserID(ctx context.Context, userID uuid.UUID) (*DoctorProfile, error)
	Update(ctx context.Context, d *Doctor) error
	Search(ctx context.Context, f DoctorFilter, limit, offset int) ([]*DoctorProfile, int, error)
}
