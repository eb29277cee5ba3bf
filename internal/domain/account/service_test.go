package account

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/ayursutra/ayursutra/internal/domain/identity"
	"github.com/ayursutra/ayursutra/internal/platform/auth"
	"github.com/ayursutra/ayursutra/internal/platform/messaging"
)

// memStore is an in-memory OTPStore.
type memStore struct {
	mu    sync.Mutex
	items map[string]*Challenge
	now   func() time.Time
}

func newMemStore(now func() time.Time) *memStore {
	return &memStore{items: make(map[string]*Challenge), now: now}
}

func (m *memStore) Save(_ context.Context, c *Challenge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.Attempts = 0
	c.CreatedAt = m.now()
	cp := *c
	m.items[challengeKey(c.Destination, c.Purpose)] = &cp
	return nil
}

func (m *memStore) Get(_ context.Context, dest string, p Purpose) (*Challenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.items[challengeKey(dest, p)]
	if !ok {
		return nil, ErrChallengeNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memStore) IncrementAttempts(_ context.Context, dest string, p Purpose) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.items[challengeKey(dest, p)]
	if !ok {
		return 0, ErrChallengeNotFound
	}
	c.Attempts++
	return c.Attempts, nil
}

func (m *memStore) Delete(_ context.Context, dest string, p Purpose) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, challengeKey(dest, p))
	return nil
}

func (m *memStore) PurgeExpired(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, c := range m.items {
		if c.Expired(now) {
			delete(m.items, k)
			n++
		}
	}
	return n, nil
}

// fakeDirectory stores users keyed by their contact.
type fakeDirectory struct {
	mu      sync.Mutex
	users   map[string]*identity.User
	doctors map[uuid.UUID]*identity.Doctor
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{users: make(map[string]*identity.User), doctors: make(map[uuid.UUID]*identity.Doctor)}
}

func (d *fakeDirectory) FindByContact(_ context.Context, contact string) (*identity.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if u, ok := d.users[contact]; ok {
		return u, nil
	}
	return nil, identity.ErrNotFound
}

func (d *fakeDirectory) add(u *identity.User) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := ""
	if u.Email != nil {
		key = *u.Email
	} else {
		key = *u.Phone
	}
	if _, ok := d.users[key]; ok {
		return identity.ErrContactTaken
	}
	u.ID = uuid.New()
	id, err := identity.NewAyurSutraID(u.Role)
	if err != nil {
		return err
	}
	u.AyurSutraID = id
	d.users[key] = u
	return nil
}

func (d *fakeDirectory) CreatePatient(_ context.Context, u *identity.User) error {
	u.Role = auth.RolePatient
	return d.add(u)
}

func (d *fakeDirectory) CreateDoctor(_ context.Context, u *identity.User, doc *identity.Doctor) error {
	if doc.Specialization == "" {
		return fmt.Errorf("%w: specialization is required", identity.ErrInvalid)
	}
	u.Role = auth.RoleDoctor
	if err := d.add(u); err != nil {
		return err
	}
	doc.UserID = u.ID
	d.doctors[u.ID] = doc
	return nil
}

type fixture struct {
	svc    *Service
	store  *memStore
	users  *fakeDirectory
	outbox *messaging.Outbox
	clock  time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		users:  newFakeDirectory(),
		outbox: &messaging.Outbox{},
		clock:  time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	now := func() time.Time { return f.clock }
	f.store = newMemStore(now)
	dispatcher := messaging.NewDispatcher(f.outbox, f.outbox, messaging.NewTemplateEngine())
	issuer := auth.NewTokenIssuer([]byte("test-signing-key-test-signing-key"), "ayursutra", time.Hour)
	f.svc = NewService(f.store, f.users, dispatcher, issuer, Config{CodeLength: 6, TTL: 10 * time.Minute, MaxAttempts: 3}, zerolog.Nop())
	f.svc.hashCost = bcrypt.MinCost
	f.svc.now = now
	return f
}

var codePattern = regexp.MustCompile(`code is (\d+)`)

func lastCode(t *testing.T, body string) string {
	t.Helper()
	m := codePattern.FindStringSubmatch(body)
	require.Len(t, m, 2, "no code in %q", body)
	return m[1]
}

func (f *fixture) emailCode(t *testing.T) string {
	calls := f.outbox.Sent(messaging.ChannelEmail)
	require.NotEmpty(t, calls)
	return lastCode(t, calls[len(calls)-1].Body)
}

func TestGenerateCode(t *testing.T) {
	for _, n := range []int{4, 6, 10} {
		code, err := generateCode(n)
		require.NoError(t, err)
		assert.Len(t, code, n)
		assert.Regexp(t, `^[0-9]+$`, code)
	}
}

func TestMaskDestination(t *testing.T) {
	assert.Equal(t, "a****@example.com", MaskDestination("asha1@example.com"))
	assert.Equal(t, "*********3210", MaskDestination("+919876543210"))
	assert.Equal(t, "***", MaskDestination("123"))
}

func TestRequestOTP_SignupSendsEmail(t *testing.T) {
	f := newFixture(t)
	sent, err := f.svc.RequestOTP(context.Background(), OTPRequest{Contact: " Asha@Example.com ", Purpose: PurposeSignup})
	require.NoError(t, err)

	assert.Equal(t, messaging.ChannelEmail, sent.Channel)
	assert.Equal(t, "a***@example.com", sent.Destination)
	assert.Equal(t, f.clock.Add(10*time.Minute), sent.ExpiresAt)

	calls := f.outbox.Sent(messaging.ChannelEmail)
	require.Len(t, calls, 1)
	assert.Equal(t, "asha@example.com", calls[0].To)
	code := lastCode(t, calls[0].Body)
	assert.Len(t, code, 6)

	ch, err := f.store.Get(context.Background(), "asha@example.com", PurposeSignup)
	require.NoError(t, err)
	assert.Equal(t, auth.RolePatient, ch.Role)
	assert.NotContains(t, ch.CodeHash, code)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(ch.CodeHash), []byte(code)))
}

func TestRequestOTP_PhoneUsesSMS(t *testing.T) {
	f := newFixture(t)
	sent, err := f.svc.RequestOTP(context.Background(), OTPRequest{Contact: "+91 98765-43210", Purpose: PurposeSignup, Role: "doctor"})
	require.NoError(t, err)
	assert.Equal(t, messaging.ChannelSMS, sent.Channel)
	require.Len(t, f.outbox.Sent(messaging.ChannelSMS), 1)
	assert.Equal(t, "+919876543210", f.outbox.Sent(messaging.ChannelSMS)[0].To)
	assert.Empty(t, f.outbox.Sent(messaging.ChannelEmail))
}

func TestRequestOTP_Validation(t *testing.T) {
	f := newFixture(t)
	cases := []OTPRequest{
		{Contact: "not-a-contact", Purpose: PurposeSignup},
		{Contact: "a@b.co", Purpose: "reset"},
		{Contact: "a@b.co", Purpose: PurposeSignup, Role: "admin"},
	}
	for _, req := range cases {
		_, err := f.svc.RequestOTP(context.Background(), req)
		assert.ErrorIs(t, err, ErrInvalidRequest, "%+v", req)
	}
}

func TestRequestOTP_SignupExistingContact(t *testing.T) {
	f := newFixture(t)
	email := "ravi@example.com"
	require.NoError(t, f.users.CreatePatient(context.Background(), &identity.User{Name: "Ravi", Email: &email}))

	_, err := f.svc.RequestOTP(context.Background(), OTPRequest{Contact: email, Purpose: PurposeSignup})
	assert.ErrorIs(t, err, ErrAlreadyRegistered)
	assert.Empty(t, f.outbox.Sent(messaging.ChannelEmail))
}

func TestRequestOTP_LoginUnknownContact(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.RequestOTP(context.Background(), OTPRequest{Contact: "nobody@example.com", Purpose: PurposeLogin})
	assert.ErrorIs(t, err, ErrUnknownAccount)
}

func TestRequestOTP_ResendThrottle(t *testing.T) {
	f := newFixture(t)
	req := OTPRequest{Contact: "asha@example.com", Purpose: PurposeSignup}
	_, err := f.svc.RequestOTP(context.Background(), req)
	require.NoError(t, err)

	f.clock = f.clock.Add(10 * time.Second)
	_, err = f.svc.RequestOTP(context.Background(), req)
	assert.ErrorIs(t, err, ErrResendTooSoon)

	f.clock = f.clock.Add(resendInterval)
	_, err = f.svc.RequestOTP(context.Background(), req)
	assert.NoError(t, err)
	assert.Len(t, f.outbox.Sent(messaging.ChannelEmail), 2)
}

func TestRequestOTP_DeliveryFailureDropsChallenge(t *testing.T) {
	f := newFixture(t)
	f.outbox.Err = errors.New("smtp down")

	_, err := f.svc.RequestOTP(context.Background(), OTPRequest{Contact: "asha@example.com", Purpose: PurposeSignup})
	assert.ErrorIs(t, err, ErrDelivery)

	_, err = f.store.Get(context.Background(), "asha@example.com", PurposeSignup)
	assert.ErrorIs(t, err, ErrChallengeNotFound)
}

func TestVerifyOTP_SignupCreatesPatient(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.RequestOTP(ctx, OTPRequest{Contact: "asha@example.com", Purpose: PurposeSignup})
	require.NoError(t, err)

	sess, err := f.svc.VerifyOTP(ctx, VerifyRequest{
		Contact: "asha@example.com",
		Purpose: PurposeSignup,
		Code:    f.emailCode(t),
		Profile: &SignupProfile{Name: "Asha"},
	})
	require.NoError(t, err)
	assert.True(t, sess.Created)
	assert.Equal(t, auth.RolePatient, sess.User.Role)
	assert.True(t, identity.IsAyurSutraID(sess.User.AyurSutraID))
	require.NotNil(t, sess.User.Email)
	assert.Equal(t, "asha@example.com", *sess.User.Email)

	claims, err := auth.ParseToken(sess.Token, []byte("test-signing-key-test-signing-key"), "ayursutra")
	require.NoError(t, err)
	assert.Equal(t, sess.User.ID.String(), claims.Subject)
	assert.Equal(t, sess.User.AyurSutraID, claims.AyurSutraID)

	_, err = f.store.Get(ctx, "asha@example.com", PurposeSignup)
	assert.ErrorIs(t, err, ErrChallengeNotFound, "challenge must be single use")
}

func TestVerifyOTP_SignupDoctor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.RequestOTP(ctx, OTPRequest{Contact: "+919876543210", Purpose: PurposeSignup, Role: auth.RoleDoctor})
	require.NoError(t, err)
	code := lastCode(t, f.outbox.Sent(messaging.ChannelSMS)[0].Body)

	sess, err := f.svc.VerifyOTP(ctx, VerifyRequest{
		Contact: "+919876543210",
		Purpose: PurposeSignup,
		Code:    code,
		Profile: &SignupProfile{Name: "Dr. Mehta", Specialization: "Panchakarma", ExperienceYears: 12},
	})
	require.NoError(t, err)
	assert.Equal(t, auth.RoleDoctor, sess.User.Role)
	require.NotNil(t, sess.User.Phone)
	doc := f.users.doctors[sess.User.ID]
	require.NotNil(t, doc)
	assert.Equal(t, "Panchakarma", doc.Specialization)
}

func TestVerifyOTP_SignupInvalidProfile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.RequestOTP(ctx, OTPRequest{Contact: "doc@example.com", Purpose: PurposeSignup, Role: auth.RoleDoctor})
	require.NoError(t, err)

	_, err = f.svc.VerifyOTP(ctx, VerifyRequest{
		Contact: "doc@example.com", Purpose: PurposeSignup, Code: f.emailCode(t),
		Profile: &SignupProfile{Name: "Dr. No Specialty"},
	})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = f.store.Get(ctx, "doc@example.com", PurposeSignup)
	assert.NoError(t, err, "challenge survives a rejected profile")
}

func TestVerifyOTP_SignupRequiresName(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.VerifyOTP(context.Background(), VerifyRequest{Contact: "a@b.co", Purpose: PurposeSignup, Code: "123456"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestVerifyOTP_Login(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	email := "ravi@example.com"
	require.NoError(t, f.users.CreatePatient(ctx, &identity.User{Name: "Ravi", Email: &email}))

	_, err := f.svc.RequestOTP(ctx, OTPRequest{Contact: email, Purpose: PurposeLogin})
	require.NoError(t, err)
	sess, err := f.svc.VerifyOTP(ctx, VerifyRequest{Contact: email, Purpose: PurposeLogin, Code: f.emailCode(t)})
	require.NoError(t, err)
	assert.False(t, sess.Created)
	assert.Equal(t, "Ravi", sess.User.Name)
	assert.NotEmpty(t, sess.Token)
}

func TestVerifyOTP_WrongCodeCountsAttempts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.RequestOTP(ctx, OTPRequest{Contact: "asha@example.com", Purpose: PurposeSignup})
	require.NoError(t, err)
	good := f.emailCode(t)
	bad := "000000"
	if good == bad {
		bad = "111111"
	}

	req := VerifyRequest{Contact: "asha@example.com", Purpose: PurposeSignup, Code: bad, Profile: &SignupProfile{Name: "Asha"}}
	for i := 0; i < 3; i++ {
		_, err = f.svc.VerifyOTP(ctx, req)
		assert.ErrorIs(t, err, ErrInvalidCode)
	}

	req.Code = good
	_, err = f.svc.VerifyOTP(ctx, req)
	assert.ErrorIs(t, err, ErrTooManyAttempts)

	_, err = f.svc.VerifyOTP(ctx, req)
	assert.ErrorIs(t, err, ErrChallengeNotFound)
}

func TestVerifyOTP_ConcurrentGuessesRespectLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.RequestOTP(ctx, OTPRequest{Contact: "asha@example.com", Purpose: PurposeSignup})
	require.NoError(t, err)
	good := f.emailCode(t)

	// A slow compare widens the window between reading and counting.
	var compared atomic.Int32
	f.svc.compare = func(hash, code []byte) error {
		compared.Add(1)
		time.Sleep(20 * time.Millisecond)
		return bcrypt.CompareHashAndPassword(hash, code)
	}

	bad := "000000"
	if good == bad {
		bad = "111111"
	}
	req := VerifyRequest{Contact: "asha@example.com", Purpose: PurposeSignup, Code: bad, Profile: &SignupProfile{Name: "Asha"}}

	var wg sync.WaitGroup
	results := make(chan error, 40)
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.VerifyOTP(ctx, req)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	invalid := 0
	for err := range results {
		if errors.Is(err, ErrInvalidCode) {
			invalid++
		}
	}
	assert.Equal(t, int32(3), compared.Load(), "only MaxAttempts guesses may reach the hash")
	assert.Equal(t, 3, invalid)
}

func TestVerifyOTP_Expired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.RequestOTP(ctx, OTPRequest{Contact: "asha@example.com", Purpose: PurposeSignup})
	require.NoError(t, err)

	f.clock = f.clock.Add(10 * time.Minute)
	_, err = f.svc.VerifyOTP(ctx, VerifyRequest{
		Contact: "asha@example.com", Purpose: PurposeSignup, Code: f.emailCode(t), Profile: &SignupProfile{Name: "Asha"},
	})
	assert.ErrorIs(t, err, ErrOTPExpired)
}

func TestVerifyOTP_PurposeIsolated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	email := "ravi@example.com"
	require.NoError(t, f.users.CreatePatient(ctx, &identity.User{Name: "Ravi", Email: &email}))
	_, err := f.svc.RequestOTP(ctx, OTPRequest{Contact: email, Purpose: PurposeLogin})
	require.NoError(t, err)

	_, err = f.svc.VerifyOTP(ctx, VerifyRequest{
		Contact: email, Purpose: PurposeSignup, Code: f.emailCode(t), Profile: &SignupProfile{Name: "Ravi"},
	})
	assert.ErrorIs(t, err, ErrChallengeNotFound)
}

func TestPurgeExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.RequestOTP(ctx, OTPRequest{Contact: "asha@example.com", Purpose: PurposeSignup})
	require.NoError(t, err)

	n, err := f.svc.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clock = f.clock.Add(time.Hour)
	n, err = f.svc.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

type failingStore struct{ memStore }

func (*failingStore) Get(context.Context, string, Purpose) (*Challenge, error) {
	return nil, errors.New("store offline")
}

func TestRequestOTP_StoreError(t *testing.T) {
	f := newFixture(t)
	f.svc.store = &failingStore{}
	_, err := f.svc.RequestOTP(context.Background(), OTPRequest{Contact: "asha@example.com", Purpose: PurposeSignup})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidRequest)
}
