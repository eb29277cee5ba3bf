package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

var testSigningKey = []byte("test-secret-key-for-unit-tests-only")

func expectStatus(t *testing.T, err error, code int) {
	t.Helper()
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected HTTP %d, got %v", code, err)
	}
	if he.Code != code {
		t.Errorf("expected %d, got %d", code, he.Code)
	}
}

func okHandler(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

// newClinicServer mounts the middleware the way the server does and
// exposes one public and two protected routes.
func newClinicServer() *echo.Echo {
	e := echo.New()
	e.Use(JWTMiddleware(JWTConfig{
		Issuer:          "ayursutra",
		SigningKey:      testSigningKey,
		Skipper:         AuthSkipper,
		QueryTokenPaths: []string{"/ws"},
	}))
	whoami := func(c echo.Context) error {
		ctx := c.Request().Context()
		return c.JSON(http.StatusOK, map[string]string{
			"user_id":      UserIDFromContext(ctx),
			"ayursutra_id": AyurSutraIDFromContext(ctx),
			"role":         RoleFromContext(ctx),
		})
	}
	e.GET("/health", okHandler)
	e.GET("/api/v1/me", whoami)
	e.GET("/ws", whoami)
	return e
}

func issue(t *testing.T, userID, asid, role string) string {
	t.Helper()
	tok, _, err := NewTokenIssuer(testSigningKey, "ayursutra", time.Hour).Issue(userID, asid, role)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	return tok
}

func forge(t *testing.T, key []byte, mutate func(*Claims)) string {
	t.Helper()
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u-1",
			Issuer:    "ayursutra",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
		AyurSutraID: "ASP-ABCD2345",
		Role:        RolePatient,
	}
	mutate(&claims)
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tok
}

func TestJWTMiddleware_Routes(t *testing.T) {
	srv := newClinicServer()
	good := issue(t, "u-1", "ASP-ABCD2345", RolePatient)

	tests := []struct {
		name   string
		target string
		header string
		want   int
	}{
		{"public health probe", "/health", "", http.StatusOK},
		{"no credentials", "/api/v1/me", "", http.StatusUnauthorized},
		{"bearer token", "/api/v1/me", "Bearer " + good, http.StatusOK},
		{"lowercase scheme", "/api/v1/me", "bearer " + good, http.StatusOK},
		{"basic auth", "/api/v1/me", "Basic dXNlcjpwYXNz", http.StatusUnauthorized},
		{"scheme only", "/api/v1/me", "Bearer ", http.StatusUnauthorized},
		{"garbage token", "/api/v1/me", "Bearer not.a.jwt", http.StatusUnauthorized},
		{"query token on websocket", "/ws?access_token=" + good, "", http.StatusOK},
		{"query token elsewhere", "/api/v1/me?access_token=" + good, "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			srv.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestJWTMiddleware_RejectsBadClaims(t *testing.T) {
	srv := newClinicServer()
	tests := map[string]string{
		"expired": forge(t, testSigningKey, func(c *Claims) {
			c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
		}),
		"no expiry":    forge(t, testSigningKey, func(c *Claims) { c.ExpiresAt = nil }),
		"other issuer": forge(t, testSigningKey, func(c *Claims) { c.Issuer = "someone-else" }),
		"other key":    forge(t, []byte("a-different-signing-key"), func(*Claims) {}),
		"no ayursutra": forge(t, testSigningKey, func(c *Claims) { c.AyurSutraID = "" }),
		"no subject":   forge(t, testSigningKey, func(c *Claims) { c.Subject = "" }),
	}
	for name, tok := range tests {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
		req.Header.Set("Authorization", "Bearer "+tok)
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s: status = %d, want 401", name, rec.Code)
		}
	}
}

func TestJWTMiddleware_PutsCallerOnContext(t *testing.T) {
	srv := newClinicServer()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
	req.Header.Set("Authorization", "Bearer "+issue(t, "7c1e", "ASD-ZXCV2345", RoleDoctor))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	var got map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v (%s)", err, rec.Body.String())
	}
	want := map[string]string{"user_id": "7c1e", "ayursutra_id": "ASD-ZXCV2345", "role": RoleDoctor}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %q, want %q", k, got[k], v)
		}
	}
}
