package account

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the public sign-in endpoints under g, normally
// /auth with a tight rate limiter in front.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/otp/request", h.RequestOTP)
	g.POST("/otp/verify", h.VerifyOTP)
}

func errStatus(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrAlreadyRegistered):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrUnknownAccount), errors.Is(err, ErrChallengeNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrResendTooSoon), errors.Is(err, ErrTooManyAttempts):
		return echo.NewHTTPError(http.StatusTooManyRequests, err.Error())
	case errors.Is(err, ErrOTPExpired):
		return echo.NewHTTPError(http.StatusGone, err.Error())
	case errors.Is(err, ErrInvalidCode):
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	case errors.Is(err, ErrDelivery):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error").SetInternal(err)
	}
}

func (h *Handler) RequestOTP(c echo.Context) error {
	var req OTPRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	sent, err := h.svc.RequestOTP(c.Request().Context(), req)
	if err != nil {
		return errStatus(err)
	}
	return c.JSON(http.StatusAccepted, sent)
}

func (h *Handler) VerifyOTP(c echo.Context) error {
	var req VerifyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	sess, err := h.svc.VerifyOTP(c.Request().Context(), req)
	if err != nil {
		return errStatus(err)
	}
	status := http.StatusOK
	if sess.Created {
		status = http.StatusCreated
	}
	return c.JSON(status, sess)
}
