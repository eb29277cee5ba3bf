package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

// hitOTP sends one request from ip to the OTP request route through mw.
func hitOTP(e *echo.Echo, mw echo.MiddlewareFunc, ip string) (*httptest.ResponseRecorder, error) {
	req := httptest.NewRequest(http.MethodPost, "/auth/otp/request", nil)
	req.RemoteAddr = ip + ":51000"
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/auth/otp/request")
	err := mw(func(c echo.Context) error {
		return c.NoContent(http.StatusAccepted)
	})(c)
	return rec, err
}

func statusOf(rec *httptest.ResponseRecorder, err error) int {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	return rec.Code
}

func TestRateLimit_OTPBurstThenThrottle(t *testing.T) {
	e := echo.New()
	mw := RateLimit(RateLimitConfig{RequestsPerSecond: 0.2, BurstSize: 3, KeyFunc: IPAndPathKey})

	for i := 1; i <= 3; i++ {
		rec, err := hitOTP(e, mw, "203.0.113.7")
		if got := statusOf(rec, err); got != http.StatusAccepted {
			t.Fatalf("request %d: status = %d, want 202", i, got)
		}
		if rec.Header().Get("X-RateLimit-Limit") != "0.2" {
			t.Errorf("request %d: X-RateLimit-Limit = %q", i, rec.Header().Get("X-RateLimit-Limit"))
		}
	}

	rec, err := hitOTP(e, mw, "203.0.113.7")
	if got := statusOf(rec, err); got != http.StatusTooManyRequests {
		t.Fatalf("4th request: status = %d, want 429", got)
	}
	// One token at 0.2/s takes 5s.
	if ra := rec.Header().Get("Retry-After"); ra != "5" {
		t.Errorf("Retry-After = %q, want 5", ra)
	}
	if rec.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Errorf("X-RateLimit-Remaining = %q", rec.Header().Get("X-RateLimit-Remaining"))
	}
}

func TestRateLimit_ClientsHaveSeparateBudgets(t *testing.T) {
	e := echo.New()
	mw := RateLimit(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1, KeyFunc: IPAndPathKey})

	if rec, err := hitOTP(e, mw, "198.51.100.1"); statusOf(rec, err) != http.StatusAccepted {
		t.Fatal("first client should pass")
	}
	if rec, err := hitOTP(e, mw, "198.51.100.1"); statusOf(rec, err) != http.StatusTooManyRequests {
		t.Fatal("first client should now be throttled")
	}
	if rec, err := hitOTP(e, mw, "198.51.100.2"); statusOf(rec, err) != http.StatusAccepted {
		t.Fatal("second client should be unaffected")
	}
}

func TestIPAndPathKey_SeparatesRoutes(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/auth/otp/verify", nil)
	req.RemoteAddr = "192.0.2.10:4000"
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetPath("/auth/otp/verify")

	if got := IPAndPathKey(c); got != "192.0.2.10:/auth/otp/verify" {
		t.Errorf("IPAndPathKey = %q", got)
	}
	if got := IPKey(c); got != "192.0.2.10" {
		t.Errorf("IPKey = %q", got)
	}
}

type stubLimiter struct {
	allowed bool
	wait    time.Duration
	err     error
	keys    []string
}

func (s *stubLimiter) Allow(_ context.Context, key string) (bool, time.Duration, error) {
	s.keys = append(s.keys, key)
	return s.allowed, s.wait, s.err
}

func TestRateLimit_UsesInjectedLimiter(t *testing.T) {
	e := echo.New()
	stub := &stubLimiter{wait: 6500 * time.Millisecond}
	mw := RateLimit(RateLimitConfig{RequestsPerSecond: 0.2, BurstSize: 3, KeyFunc: IPAndPathKey, Limiter: stub})

	rec, err := hitOTP(e, mw, "203.0.113.9")
	if statusOf(rec, err) != http.StatusTooManyRequests {
		t.Fatalf("expected 429 from stub limiter, got %v", err)
	}
	if rec.Header().Get("Retry-After") != "7" {
		t.Errorf("Retry-After = %q, want rounded up to 7", rec.Header().Get("Retry-After"))
	}
	if len(stub.keys) != 1 || stub.keys[0] != "203.0.113.9:/auth/otp/request" {
		t.Errorf("limiter keys = %v", stub.keys)
	}
}

func TestRateLimit_LimiterErrorLetsRequestThrough(t *testing.T) {
	e := echo.New()
	stub := &stubLimiter{err: errors.New("redis: connection refused")}
	mw := RateLimit(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1, Limiter: stub})

	rec, err := hitOTP(e, mw, "203.0.113.9")
	if statusOf(rec, err) != http.StatusAccepted {
		t.Fatalf("expected request to pass when limiter fails, got %v", err)
	}
}

func TestMemoryLimiter_RefillsOverTime(t *testing.T) {
	l := NewMemoryLimiter(2, 1)
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	if ok, _, _ := l.Allow(ctx, "k"); !ok {
		t.Fatal("first call should pass")
	}
	ok, wait, _ := l.Allow(ctx, "k")
	if ok {
		t.Fatal("second call should be throttled")
	}
	if wait != 500*time.Millisecond {
		t.Errorf("wait = %s, want 500ms", wait)
	}

	now = now.Add(500 * time.Millisecond)
	if ok, _, _ := l.Allow(ctx, "k"); !ok {
		t.Error("call after refill should pass")
	}
}

func TestMemoryLimiter_SweepsIdleBuckets(t *testing.T) {
	l := NewMemoryLimiter(1, 1)
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	l.lastSweep = now
	ctx := context.Background()

	l.Allow(ctx, "patient-a")
	l.Allow(ctx, "patient-b")
	if l.size() != 2 {
		t.Fatalf("size = %d, want 2", l.size())
	}

	now = now.Add(bucketIdleTTL + time.Minute)
	l.Allow(ctx, "patient-c")
	if l.size() != 1 {
		t.Errorf("size after sweep = %d, want 1", l.size())
	}
}

func TestTokenBucket_ZeroRateNeverRefills(t *testing.T) {
	now := time.Now()
	b := &tokenBucket{tokens: 0, maxTokens: 1, refillRate: 0, lastRefill: now}
	ok, wait := b.take(now.Add(time.Hour))
	if ok {
		t.Fatal("empty bucket with zero rate should refuse")
	}
	if wait != time.Second {
		t.Errorf("wait = %s, want 1s", wait)
	}
}

func TestWindowFor(t *testing.T) {
	cases := []struct {
		rate  float64
		burst int
		want  time.Duration
	}{
		{0.2, 3, 15 * time.Second},
		{100, 200, 2 * time.Second},
		{0, 3, time.Minute},
		{1, 0, time.Minute},
	}
	for _, tc := range cases {
		if got := WindowFor(tc.rate, tc.burst); got != tc.want {
			t.Errorf("WindowFor(%v, %d) = %s, want %s", tc.rate, tc.burst, got, tc.want)
		}
	}
}

func TestWindowKey(t *testing.T) {
	window := 15 * time.Second
	at := time.Unix(1_700_000_020, 0)

	key, left := windowKey("ratelimit:auth", "203.0.113.7:/auth/otp/request", at, window)
	if key != "ratelimit:auth:203.0.113.7:/auth/otp/request:113333334" {
		t.Errorf("key = %q", key)
	}
	if left != 5*time.Second {
		t.Errorf("remaining = %s, want 5s", left)
	}

	same, _ := windowKey("ratelimit:auth", "203.0.113.7:/auth/otp/request", at.Add(4*time.Second), window)
	if same != key {
		t.Error("expected same window within 15s slot")
	}
	next, _ := windowKey("ratelimit:auth", "203.0.113.7:/auth/otp/request", at.Add(5*time.Second), window)
	if next == key {
		t.Error("expected a new window at the slot boundary")
	}
}

func TestRetryAfterSeconds(t *testing.T) {
	if retryAfterSeconds(0) != 1 {
		t.Error("zero wait should still advise one second")
	}
	if retryAfterSeconds(1200*time.Millisecond) != 2 {
		t.Error("expected rounding up")
	}
}
