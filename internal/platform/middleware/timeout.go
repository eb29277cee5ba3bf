package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

// RequestTimeout puts a deadline on every request context and answers 504
// when a handler gives up because of it. The handler runs on the request
// goroutine, so it must watch its context. Paths under any of the exempt
// prefixes run without a deadline; the websocket endpoint always does.
func RequestTimeout(timeout time.Duration, exempt ...string) echo.MiddlewareFunc {
	if timeout <= 0 {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	exempt = append([]string{"/ws"}, exempt...)

	return echomw.ContextTimeoutWithConfig(echomw.ContextTimeoutConfig{
		Timeout: timeout,
		Skipper: func(c echo.Context) bool {
			return hasPrefixSegment(c.Request().URL.Path, exempt)
		},
		ErrorHandler: func(err error, c echo.Context) error {
			if errors.Is(err, context.DeadlineExceeded) {
				return echo.NewHTTPError(http.StatusGatewayTimeout, "request timed out").SetInternal(err)
			}
			return err
		},
	})
}

// hasPrefixSegment reports whether path is one of prefixes or lies below one.
func hasPrefixSegment(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}
