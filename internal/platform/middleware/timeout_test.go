package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func TestRequestTimeout_Deadline(t *testing.T) {
	_, c, rec := newCtx(http.MethodGet, "/api/v1/appointments")

	err := RequestTimeout(time.Minute)(func(c echo.Context) error {
		dl, ok := c.Request().Context().Deadline()
		if !ok || time.Until(dl) > time.Minute {
			t.Errorf("deadline = %v, set = %v", dl, ok)
		}
		return c.NoContent(http.StatusOK)
	})(c)
	if err != nil || rec.Code != http.StatusOK {
		t.Fatalf("err = %v, code = %d", err, rec.Code)
	}
}

func TestRequestTimeout_SlowHandler(t *testing.T) {
	_, c, _ := newCtx(http.MethodPost, "/api/v1/prescriptions")
	release := make(chan struct{})
	defer close(release)

	err := RequestTimeout(20 * time.Millisecond)(func(c echo.Context) error {
		select {
		case <-release:
			return nil
		case <-c.Request().Context().Done():
			return c.Request().Context().Err()
		}
	})(c)

	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %v", err)
	}
}

// A handler that ignores its context and writes after the deadline owns the
// response alone; nothing else touches the context concurrently.
func TestRequestTimeout_WriteAfterDeadline(t *testing.T) {
	e := echo.New()
	e.Use(RequestTimeout(10 * time.Millisecond))
	e.GET("/api/v1/reports/summary", func(c echo.Context) error {
		time.Sleep(30 * time.Millisecond)
		c.Response().Header().Set("X-Late", "1")
		return c.JSON(http.StatusOK, map[string]string{"status": "late"})
	})

	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/reports/summary", nil))
		if rec.Code != http.StatusOK || rec.Header().Get("X-Late") != "1" {
			t.Fatalf("code = %d, header = %q", rec.Code, rec.Header().Get("X-Late"))
		}
	}
}

func TestRequestTimeout_WrappedDeadlineMapsTo504(t *testing.T) {
	e := echo.New()
	e.Use(RequestTimeout(10 * time.Millisecond))
	e.GET("/api/v1/appointments", func(c echo.Context) error {
		<-c.Request().Context().Done()
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error").SetInternal(c.Request().Context().Err())
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/appointments", nil))
	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("code = %d, want 504", rec.Code)
	}
}

func TestRequestTimeout_ExemptPaths(t *testing.T) {
	mw := RequestTimeout(time.Second, "/api/v1/appointments/export")
	for _, path := range []string{"/ws", "/ws/notifications", "/api/v1/appointments/export"} {
		_, c, _ := newCtx(http.MethodGet, path)
		_ = mw(func(c echo.Context) error {
			if _, ok := c.Request().Context().Deadline(); ok {
				t.Errorf("%s: expected no deadline", path)
			}
			return nil
		})(c)
	}
}

func TestRequestTimeout_ZeroDisables(t *testing.T) {
	_, c, _ := newCtx(http.MethodGet, "/api/v1/doctors")
	_ = RequestTimeout(0)(func(c echo.Context) error {
		if _, ok := c.Request().Context().Deadline(); ok {
			t.Error("zero timeout should not set a deadline")
		}
		return nil
	})(c)
}

func TestRequestTimeout_HandlerErrorPassesThrough(t *testing.T) {
	_, c, _ := newCtx(http.MethodPatch, "/api/v1/appointments/1/status")
	want := echo.NewHTTPError(http.StatusUnprocessableEntity, "invalid status transition")

	if err := RequestTimeout(time.Second)(func(echo.Context) error { return want })(c); !errors.Is(err, want) {
		t.Fatalf("got %v, want %v", err, want)
	}
}

func TestHasPrefixSegment(t *testing.T) {
	prefixes := []string{"/ws", "/api/v1/appointments/export"}
	cases := map[string]bool{
		"/ws":                          true,
		"/ws/x":                        true,
		"/wsx":                         false,
		"/api/v1/appointments/export":  true,
		"/api/v1/appointments/exports": false,
		"/api/v1/appointments":         false,
	}
	for path, want := range cases {
		if got := hasPrefixSegment(path, prefixes); got != want {
			t.Errorf("hasPrefixSegment(%q) = %v, want %v", path, got, want)
		}
	}
}
