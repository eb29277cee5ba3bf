package db

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

const healthTimeout = 5 * time.Second

// Checker is a dependency reported by the readiness endpoint, such as
// Postgres or the Redis OTP store.
type Checker interface {
	Name() string
	Ping(ctx context.Context) error
}

type poolChecker struct{ pool *pgxpool.Pool }

func (p poolChecker) Name() string                   { return "postgres" }
func (p poolChecker) Ping(ctx context.Context) error { return p.pool.Ping(ctx) }

// CheckResult is one dependency's entry in the readiness report.
type CheckResult struct {
	OK        bool   `json:"ok"`
	LatencyMS int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

type PoolUsage struct {
	Total    int32 `json:"total"`
	Idle     int32 `json:"idle"`
	Acquired int32 `json:"acquired"`
	Max      int32 `json:"max"`
}

type HealthReport struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks"`
	Pool   *PoolUsage             `json:"pool,omitempty"`
}

// Healthy reports whether every check passed.
func (r HealthReport) Healthy() bool { return r.Status == "ok" }

// Check pings every checker concurrently.
func Check(ctx context.Context, checkers []Checker) HealthReport {
	report := HealthReport{Status: "ok", Checks: make(map[string]CheckResult, len(checkers))}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, ch := range checkers {
		wg.Add(1)
		go func(ch Checker) {
			defer wg.Done()
			start := time.Now()
			err := ch.Ping(ctx)
			res := CheckResult{OK: err == nil, LatencyMS: time.Since(start).Milliseconds()}
			if err != nil {
				res.Error = err.Error()
			}
			mu.Lock()
			report.Checks[ch.Name()] = res
			if err != nil {
				report.Status = "degraded"
			}
			mu.Unlock()
		}(ch)
	}
	wg.Wait()
	return report
}

func poolUsage(pool *pgxpool.Pool) *PoolUsage {
	s := pool.Stat()
	return &PoolUsage{Total: s.TotalConns(), Idle: s.IdleConns(), Acquired: s.AcquiredConns(), Max: s.MaxConns()}
}

// HealthHandler answers 200 when Postgres and every extra checker respond,
// 503 otherwise.
func HealthHandler(pool *pgxpool.Pool, extra ...Checker) echo.HandlerFunc {
	checkers := append([]Checker{poolChecker{pool}}, extra...)
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), healthTimeout)
		defer cancel()

		report := Check(ctx, checkers)
		report.Pool = poolUsage(pool)
		return c.JSON(reportStatus(report), report)
	}
}

func reportStatus(r HealthReport) int {
	if r.Healthy() {
		return http.StatusOK
	}
	return http.StatusServiceUnavailable
}
