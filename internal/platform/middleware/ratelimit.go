package middleware

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

// KeyFunc picks the bucket a request is charged against.
type KeyFunc func(c echo.Context) string

// Limiter decides whether one more request may be charged to key.
// retryAfter is only meaningful when allowed is false.
type Limiter interface {
	Allow(ctx context.Context, key string) (allowed bool, retryAfter time.Duration, err error)
}

type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
	// KeyFunc defaults to the client IP.
	KeyFunc KeyFunc
	// Limiter defaults to in-process token buckets sized by the fields above.
	Limiter Limiter
}

func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 100,
		BurstSize:         200,
	}
}

// IPKey charges requests to the caller's address.
func IPKey(c echo.Context) string {
	return c.RealIP()
}

// IPAndPathKey keeps per-endpoint budgets apart so the OTP limiter does not
// consume the general one.
func IPAndPathKey(c echo.Context) string {
	return c.RealIP() + ":" + c.Path()
}

type tokenBucket struct {
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

func (b *tokenBucket) take(now time.Time) (bool, time.Duration) {
	b.tokens = math.Min(b.maxTokens, b.tokens+now.Sub(b.lastRefill).Seconds()*b.refillRate)
	b.lastRefill = now
	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	if b.refillRate <= 0 {
		return false, time.Second
	}
	wait := time.Duration((1 - b.tokens) / b.refillRate * float64(time.Second))
	return false, wait
}

// bucketIdleTTL is how long an untouched bucket is kept. A bucket idle
// this long has refilled completely, so dropping it changes nothing.
const bucketIdleTTL = 10 * time.Minute

// MemoryLimiter keeps one token bucket per key in process memory.
type MemoryLimiter struct {
	rate  float64
	burst int

	mu        sync.Mutex
	buckets   map[string]*tokenBucket
	lastSweep time.Time
	now       func() time.Time
}

func NewMemoryLimiter(rate float64, burst int) *MemoryLimiter {
	return &MemoryLimiter{
		rate:      rate,
		burst:     burst,
		buckets:   make(map[string]*tokenBucket),
		lastSweep: time.Now(),
		now:       time.Now,
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) > bucketIdleTTL {
		l.sweep(now)
	}
	b, ok := l.buckets[key]
	if !ok {
		b = &tokenBucket{tokens: float64(l.burst), maxTokens: float64(l.burst), refillRate: l.rate, lastRefill: now}
		l.buckets[key] = b
	}
	allowed, wait := b.take(now)
	return allowed, wait, nil
}

func (l *MemoryLimiter) sweep(now time.Time) {
	for k, b := range l.buckets {
		if now.Sub(b.lastRefill) > bucketIdleTTL {
			delete(l.buckets, k)
		}
	}
	l.lastSweep = now
}

func (l *MemoryLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// retryAfterSeconds rounds up so clients never retry too early.
func retryAfterSeconds(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		s = 1
	}
	return s
}

// RateLimit rejects requests over budget with 429 and a Retry-After
// header. Limiter errors let the request through.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	limiter := cfg.Limiter
	if limiter == nil {
		limiter = NewMemoryLimiter(cfg.RequestsPerSecond, cfg.BurstSize)
	}
	keyFn := cfg.KeyFunc
	if keyFn == nil {
		keyFn = IPKey
	}
	limit := strconv.FormatFloat(cfg.RequestsPerSecond, 'f', -1, 64)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", limit)

			allowed, wait, err := limiter.Allow(c.Request().Context(), keyFn(c))
			if err != nil || allowed {
				return next(c)
			}
			h.Set("Retry-After", strconv.Itoa(retryAfterSeconds(wait)))
			h.Set("X-RateLimit-Remaining", "0")
			return echo.NewHTTPError(http.StatusTooManyRequests, "too many requests, slow down")
		}
	}
}
