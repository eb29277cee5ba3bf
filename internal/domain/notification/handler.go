package notification

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ayursutra/ayursutra/internal/platform/auth"
	"github.com/ayursutra/ayursutra/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/notifications")
	g.GET("", h.List)
	g.GET("/unread-count", h.UnreadCount)
	g.PUT("/read-all", h.MarkAllRead)
	g.PUT("/:id/read", h.MarkRead)
	g.DELETE("/:id", h.Delete)
	g.POST("/devices", h.RegisterDevice)
	g.DELETE("/devices", h.UnregisterDevice)

	g.POST("", h.Send, auth.RequireRole(auth.RoleAdmin))
}

func recipient(c echo.Context) (string, error) {
	id := auth.AyurSutraIDFromContext(c.Request().Context())
	if id == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "invalid session")
	}
	return id, nil
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func errStatus(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalid):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "internal error").SetInternal(err)
}

func (h *Handler) List(c echo.Context) error {
	me, err := recipient(c)
	if err != nil {
		return err
	}
	unread := false
	if v := c.QueryParam("unread"); v != "" {
		unread, err = strconv.ParseBool(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "unread must be true or false")
		}
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), me, unread, pg.Limit, pg.Offset)
	if err != nil {
		return errStatus(err)
	}
	return c.JSON(http.StatusOK, pagination.New(items, total, pg).WithLinks(c))
}

func (h *Handler) UnreadCount(c echo.Context) error {
	me, err := recipient(c)
	if err != nil {
		return err
	}
	n, err := h.svc.UnreadCount(c.Request().Context(), me)
	if err != nil {
		return errStatus(err)
	}
	return c.JSON(http.StatusOK, map[string]int{"unread": n})
}

func (h *Handler) MarkRead(c echo.Context) error {
	me, err := recipient(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	n, err := h.svc.MarkRead(c.Request().Context(), id, me)
	if err != nil {
		return errStatus(err)
	}
	return c.JSON(http.StatusOK, n)
}

func (h *Handler) MarkAllRead(c echo.Context) error {
	me, err := recipient(c)
	if err != nil {
		return err
	}
	n, err := h.svc.MarkAllRead(c.Request().Context(), me)
	if err != nil {
		return errStatus(err)
	}
	return c.JSON(http.StatusOK, map[string]int64{"updated": n})
}

func (h *Handler) Delete(c echo.Context) error {
	me, err := recipient(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.Delete(c.Request().Context(), id, me); err != nil {
		return errStatus(err)
	}
	return c.NoContent(http.StatusNoContent)
}

type deviceRequest struct {
	Token    string `json:"token"`
	Platform string `json:"platform"`
}

func (h *Handler) RegisterDevice(c echo.Context) error {
	me, err := recipient(c)
	if err != nil {
		return err
	}
	var req deviceRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	d := &Device{AyurSutraID: me, Token: req.Token, Platform: req.Platform}
	if err := h.svc.RegisterDevice(c.Request().Context(), d); err != nil {
		return errStatus(err)
	}
	return c.JSON(http.StatusCreated, d)
}

func (h *Handler) UnregisterDevice(c echo.Context) error {
	me, err := recipient(c)
	if err != nil {
		return err
	}
	var req deviceRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Token == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "token is required")
	}
	if err := h.svc.UnregisterDevice(c.Request().Context(), me, req.Token); err != nil {
		return errStatus(err)
	}
	return c.NoContent(http.StatusNoContent)
}

type sendRequest struct {
	RecipientID string `json:"recipient_id"`
	Title       string `json:"title"`
	Message     string `json:"message"`
	Link        string `json:"link"`
}

// Send lets an admin post a system notice to one user.
func (h *Handler) Send(c echo.Context) error {
	var req sendRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	n, err := h.svc.Notify(c.Request().Context(), Input{
		RecipientID: req.RecipientID,
		SenderID:    auth.AyurSutraIDFromContext(c.Request().Context()),
		Type:        TypeSystem,
		Title:       req.Title,
		Message:     req.Message,
		Link:        req.Link,
	})
	if err != nil {
		return errStatus(err)
	}
	return c.JSON(http.StatusCreated, n)
}
