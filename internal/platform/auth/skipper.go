package auth

import (
	"strings"

	"github.com/labstack/echo/v4"
)

// publicPaths bypass authentication: health probes, OTP sign-in and the
// stateless therapy planner.
var publicPaths = map[string]bool{
	"/health":              true,
	"/health/db":           true,
	"/auth/otp/request":    true,
	"/auth/otp/verify":     true,
	"/api/v1/therapy/plan": true,
	"/api/v1/therapy/view": true,
}

// AuthSkipper reports whether the matched route is public. Use it as
// JWTConfig.Skipper.
func AuthSkipper(c echo.Context) bool {
	path := c.Path()
	if path == "" {
		path = c.Request().URL.Path
	}
	return IsPublicPath(path)
}

func IsPublicPath(path string) bool {
	return publicPaths[strings.TrimSuffix(path, "/")] || publicPaths[path]
}
