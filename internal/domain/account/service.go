package account

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/ayursutra/ayursutra/internal/domain/identity"
	"github.com/ayursutra/ayursutra/internal/platform/auth"
	"github.com/ayursutra/ayursutra/internal/platform/messaging"
)

var (
	ErrAlreadyRegistered = errors.New("an account with this contact already exists")
	ErrUnknownAccount    = errors.New("no account found for this contact")
	ErrResendTooSoon     = errors.New("a code was sent recently, try again shortly")
	ErrOTPExpired        = errors.New("verification code has expired")
	ErrTooManyAttempts   = errors.New("too many incorrect attempts, request a new code")
	ErrInvalidCode       = errors.New("incorrect verification code")
	ErrDelivery          = errors.New("could not deliver verification code")
	ErrInvalidRequest    = errors.New("invalid request")
)

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}

// resendInterval is the minimum gap between two codes for one destination.
const resendInterval = 30 * time.Second

// Directory is the subset of the identity service used during sign-in.
type Directory interface {
	FindByContact(ctx context.Context, contact string) (*identity.User, error)
	CreatePatient(ctx context.Context, u *identity.User) error
	CreateDoctor(ctx context.Context, u *identity.User, d *identity.Doctor) error
}

type CodeSender interface {
	SendTemplate(ctx context.Context, channel messaging.Channel, to, templateID string, data map[string]string) error
}

type TokenIssuer interface {
	Issue(userID, ayurSutraID, role string) (string, time.Time, error)
}

type Config struct {
	CodeLength  int
	TTL         time.Duration
	MaxAttempts int
}

type Service struct {
	store    OTPStore
	users    Directory
	sender   CodeSender
	tokens   TokenIssuer
	cfg      Config
	logger   zerolog.Logger
	hashCost int
	compare  func(hash, code []byte) error
	now      func() time.Time
}

func NewService(store OTPStore, users Directory, sender CodeSender, tokens TokenIssuer, cfg Config, logger zerolog.Logger) *Service {
	if cfg.CodeLength == 0 {
		cfg.CodeLength = 6
	}
	if cfg.TTL == 0 {
		cfg.TTL = 10 * time.Minute
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 5
	}
	return &Service{
		store:    store,
		users:    users,
		sender:   sender,
		tokens:   tokens,
		cfg:      cfg,
		logger:   logger,
		hashCost: bcrypt.DefaultCost,
		compare:  bcrypt.CompareHashAndPassword,
		now:      time.Now,
	}
}

// OTPRequest starts a signup or login. Role only applies to signup.
type OTPRequest struct {
	Contact string  `json:"contact"`
	Purpose Purpose `json:"purpose"`
	Role    string  `json:"role,omitempty"`
}

type OTPSent struct {
	Destination string            `json:"destination"`
	Channel     messaging.Channel `json:"channel"`
	ExpiresAt   time.Time         `json:"expires_at"`
}

// RequestOTP sends a fresh code to the contact and stores its hash.
func (s *Service) RequestOTP(ctx context.Context, req OTPRequest) (*OTPSent, error) {
	kind, dest, err := identity.NormalizeContact(req.Contact)
	if err != nil {
		return nil, invalid("%v", err)
	}
	if !req.Purpose.Valid() {
		return nil, invalid("purpose must be %q or %q", PurposeSignup, PurposeLogin)
	}
	role := ""
	if req.Purpose == PurposeSignup {
		role = strings.ToLower(strings.TrimSpace(req.Role))
		if role == "" {
			role = auth.RolePatient
		}
		if role != auth.RolePatient && role != auth.RoleDoctor {
			return nil, invalid("role must be %q or %q", auth.RolePatient, auth.RoleDoctor)
		}
	}

	_, err = s.users.FindByContact(ctx, dest)
	switch {
	case err == nil && req.Purpose == PurposeSignup:
		return nil, ErrAlreadyRegistered
	case errors.Is(err, identity.ErrNotFound) && req.Purpose == PurposeLogin:
		return nil, ErrUnknownAccount
	case err != nil && !errors.Is(err, identity.ErrNotFound):
		return nil, fmt.Errorf("lookup contact: %w", err)
	}

	now := s.now()
	prev, err := s.store.Get(ctx, dest, req.Purpose)
	if err != nil && !errors.Is(err, ErrChallengeNotFound) {
		return nil, err
	}
	if prev != nil && !prev.Expired(now) && now.Sub(prev.CreatedAt) < resendInterval {
		return nil, ErrResendTooSoon
	}

	code, err := generateCode(s.cfg.CodeLength)
	if err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), s.hashCost)
	if err != nil {
		return nil, fmt.Errorf("hash code: %w", err)
	}

	ch := &Challenge{
		Destination: dest,
		Channel:     channelFor(kind),
		Purpose:     req.Purpose,
		Role:        role,
		CodeHash:    string(hash),
		ExpiresAt:   now.Add(s.cfg.TTL),
	}
	if err := s.store.Save(ctx, ch); err != nil {
		return nil, err
	}

	data := map[string]string{
		"purpose": string(req.Purpose),
		"code":    code,
		"minutes": strconv.Itoa(int(s.cfg.TTL.Minutes())),
	}
	if err := s.sender.SendTemplate(ctx, ch.Channel, dest, messaging.TemplateOTPCode, data); err != nil {
		s.logger.Error().Err(err).Str("channel", string(ch.Channel)).Msg("otp delivery failed")
		if derr := s.store.Delete(ctx, dest, req.Purpose); derr != nil {
			s.logger.Warn().Err(derr).Msg("discard undelivered challenge")
		}
		return nil, ErrDelivery
	}

	return &OTPSent{
		Destination: MaskDestination(dest),
		Channel:     ch.Channel,
		ExpiresAt:   ch.ExpiresAt,
	}, nil
}

// SignupProfile holds the details collected with a signup code. Doctor
// fields are read only when the challenge was issued for a doctor.
type SignupProfile struct {
	Name            string     `json:"name"`
	Gender          *string    `json:"gender"`
	DateOfBirth     *time.Time `json:"date_of_birth"`
	Address         *string    `json:"address"`
	Specialization  string     `json:"specialization"`
	Qualification   *string    `json:"qualification"`
	ExperienceYears int        `json:"experience_years"`
	ClinicName      *string    `json:"clinic_name"`
	Location        *string    `json:"location"`
	ConsultationFee *float64   `json:"consultation_fee"`
	Bio             *string    `json:"bio"`
}

type VerifyRequest struct {
	Contact string         `json:"contact"`
	Purpose Purpose        `json:"purpose"`
	Code    string         `json:"code"`
	Profile *SignupProfile `json:"profile,omitempty"`
}

// Session is returned after a successful verification.
type Session struct {
	Token     string         `json:"token"`
	ExpiresAt time.Time      `json:"expires_at"`
	User      *identity.User `json:"user"`
	Created   bool           `json:"created"`
}

// VerifyOTP checks the code and, on success, signs the user in. Signup
// creates the account first.
func (s *Service) VerifyOTP(ctx context.Context, req VerifyRequest) (*Session, error) {
	_, dest, err := identity.NormalizeContact(req.Contact)
	if err != nil {
		return nil, invalid("%v", err)
	}
	if !req.Purpose.Valid() {
		return nil, invalid("purpose must be %q or %q", PurposeSignup, PurposeLogin)
	}
	code := strings.TrimSpace(req.Code)
	if code == "" {
		return nil, invalid("code is required")
	}
	if req.Purpose == PurposeSignup && (req.Profile == nil || strings.TrimSpace(req.Profile.Name) == "") {
		return nil, invalid("profile.name is required for signup")
	}

	ch, err := s.store.Get(ctx, dest, req.Purpose)
	if err != nil {
		return nil, err
	}
	if ch.Expired(s.now()) {
		s.discard(ctx, ch)
		return nil, ErrOTPExpired
	}
	// The attempt is counted before the compare so concurrent guesses
	// cannot all slip under the limit.
	attempts, err := s.store.IncrementAttempts(ctx, dest, req.Purpose)
	if err != nil {
		return nil, err
	}
	if attempts > s.cfg.MaxAttempts {
		s.discard(ctx, ch)
		return nil, ErrTooManyAttempts
	}
	if s.compare([]byte(ch.CodeHash), []byte(code)) != nil {
		return nil, ErrInvalidCode
	}

	var (
		user    *identity.User
		created bool
	)
	if req.Purpose == PurposeSignup {
		user, err = s.register(ctx, ch, req.Profile)
		created = err == nil
	} else {
		user, err = s.users.FindByContact(ctx, dest)
	}
	if err != nil {
		return nil, err
	}
	s.discard(ctx, ch)

	token, exp, err := s.tokens.Issue(user.ID.String(), user.AyurSutraID, user.Role)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	s.logger.Info().Str("ayursutra_id", user.AyurSutraID).Str("purpose", string(req.Purpose)).Msg("user signed in")
	return &Session{Token: token, ExpiresAt: exp, User: user, Created: created}, nil
}

func (s *Service) register(ctx context.Context, ch *Challenge, p *SignupProfile) (*identity.User, error) {
	u := &identity.User{
		Name:        p.Name,
		Gender:      p.Gender,
		DateOfBirth: p.DateOfBirth,
		Address:     p.Address,
	}
	dest := ch.Destination
	if ch.Channel == messaging.ChannelEmail {
		u.Email = &dest
	} else {
		u.Phone = &dest
	}

	var err error
	if ch.Role == auth.RoleDoctor {
		err = s.users.CreateDoctor(ctx, u, &identity.Doctor{
			Specialization:  p.Specialization,
			Qualification:   p.Qualification,
			ExperienceYears: p.ExperienceYears,
			ClinicName:      p.ClinicName,
			Location:        p.Location,
			ConsultationFee: p.ConsultationFee,
			Bio:             p.Bio,
		})
	} else {
		err = s.users.CreatePatient(ctx, u)
	}
	switch {
	case errors.Is(err, identity.ErrContactTaken):
		return nil, ErrAlreadyRegistered
	case errors.Is(err, identity.ErrInvalid):
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	case err != nil:
		return nil, err
	}
	return u, nil
}

func (s *Service) discard(ctx context.Context, ch *Challenge) {
	if err := s.store.Delete(ctx, ch.Destination, ch.Purpose); err != nil {
		s.logger.Warn().Err(err).Str("purpose", string(ch.Purpose)).Msg("delete challenge")
	}
}

// PurgeExpired drops stale challenges. Called from the scheduler.
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	return s.store.PurgeExpired(ctx, s.now())
}

func channelFor(kind identity.ContactKind) messaging.Channel {
	if kind == identity.ContactEmail {
		return messaging.ChannelEmail
	}
	return messaging.ChannelSMS
}

// generateCode returns n uniformly random decimal digits.
func generateCode(n int) (string, error) {
	max := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
	v, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return fmt.Sprintf("%0*d", n, v.Int64()), nil
}
