package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

type contextKey string

const (
	UserIDKey      contextKey = "user_id"
	AyurSutraIDKey contextKey = "ayursutra_id"
	UserRoleKey    contextKey = "user_role"
)

const (
	RolePatient = "patient"
	RoleDoctor  = "doctor"
	RoleAdmin   = "admin"
)

// Claims are carried by session tokens. Subject is the user's row id.
type Claims struct {
	jwt.RegisteredClaims
	AyurSutraID string `json:"ayursutra_id"`
	Role        string `json:"role"`
}

type JWTConfig struct {
	Issuer     string
	SigningKey []byte
	// Skipper lets public endpoints through without a token.
	Skipper echomw.Skipper
	// QueryTokenPaths may carry the token in ?access_token= instead of a
	// header. Browsers cannot set headers on websocket upgrades.
	QueryTokenPaths []string
}

func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	queryPaths := make(map[string]bool, len(cfg.QueryTokenPaths))
	for _, p := range cfg.QueryTokenPaths {
		queryPaths[p] = true
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.Skipper != nil && cfg.Skipper(c) {
				return next(c)
			}

			tokenStr, err := extractToken(c, queryPaths)
			if err != nil {
				return err
			}

			claims, err := ParseToken(tokenStr, cfg.SigningKey, cfg.Issuer)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			ctx := WithIdentity(c.Request().Context(), claims.Subject, claims.AyurSutraID, claims.Role)
			c.SetRequest(c.Request().WithContext(ctx))

			return next(c)
		}
	}
}

func extractToken(c echo.Context, queryPaths map[string]bool) (string, error) {
	authHeader := c.Request().Header.Get("Authorization")
	if authHeader == "" {
		if queryPaths[c.Request().URL.Path] {
			if tok := c.QueryParam("access_token"); tok != "" {
				return tok, nil
			}
		}
		return "", echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
	}
	return strings.TrimSpace(parts[1]), nil
}

// WithIdentity stores the authenticated caller on ctx.
func WithIdentity(ctx context.Context, userID, ayurSutraID, role string) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, userID)
	ctx = context.WithValue(ctx, AyurSutraIDKey, ayurSutraID)
	ctx = context.WithValue(ctx, UserRoleKey, role)
	return ctx
}

func UserIDFromContext(ctx context.Context) string {
	uid, _ := ctx.Value(UserIDKey).(string)
	return uid
}

func AyurSutraIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(AyurSutraIDKey).(string)
	return id
}

func RoleFromContext(ctx context.Context) string {
	role, _ := ctx.Value(UserRoleKey).(string)
	return role
}
