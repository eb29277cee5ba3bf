package therapy

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ayursutra/ayursutra/internal/platform/auth"
	"github.com/ayursutra/ayursutra/pkg/pagination"
)

type Handler struct {
	svc *Service
	// viewBase is the absolute URL of the stateless viewer page.
	viewBase string
}

func NewHandler(svc *Service, viewBase string) *Handler {
	return &Handler{svc: svc, viewBase: viewBase}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/prescriptions")
	g.GET("", h.List)
	g.POST("", h.Create, auth.RequireRole(auth.RoleDoctor))
	g.GET("/:id", h.Get)
	g.DELETE("/:id", h.Delete, auth.RequireRole(auth.RoleDoctor))
	g.GET("/:id/progress", h.Progress)
	g.POST("/:id/complete", h.Complete)
	g.POST("/:id/extend", h.Extend, auth.RequireRole(auth.RoleDoctor))
	g.POST("/:id/start", h.Start)

	api.GET("/patients/:ref/prescriptions", h.ListByPatient, auth.RequireRole(auth.RoleDoctor))

	t := api.Group("/therapy")
	t.POST("/plan", h.Plan)
	t.GET("/view", h.View)
}

func errStatus(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrPatientNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrInvalidPhase):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrInvalidRecord), errors.Is(err, ErrAppointmentMismatch):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error").SetInternal(err)
	}
}

func callerFrom(c echo.Context) (Caller, error) {
	ctx := c.Request().Context()
	id, err := uuid.Parse(auth.UserIDFromContext(ctx))
	if err != nil {
		return Caller{}, echo.NewHTTPError(http.StatusUnauthorized, "invalid session")
	}
	return Caller{UserID: id, AyurSutraID: auth.AyurSutraIDFromContext(ctx), Role: auth.RoleFromContext(ctx)}, nil
}

// target parses the caller and the :id path parameter.
func target(c echo.Context) (Caller, uuid.UUID, error) {
	caller, err := callerFrom(c)
	if err != nil {
		return Caller{}, uuid.Nil, err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return Caller{}, uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid prescription id")
	}
	return caller, id, nil
}

func (h *Handler) Create(c echo.Context) error {
	caller, err := callerFrom(c)
	if err != nil {
		return err
	}
	var req CreateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p, err := h.svc.Create(c.Request().Context(), caller, req)
	if err != nil {
		return errStatus(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) Get(c echo.Context) error {
	caller, id, err := target(c)
	if err != nil {
		return err
	}
	p, err := h.svc.Get(c.Request().Context(), caller, id)
	if err != nil {
		return errStatus(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) List(c echo.Context) error {
	caller, err := callerFrom(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListForCaller(c.Request().Context(), caller, pg.Limit, pg.Offset)
	if err != nil {
		return errStatus(err)
	}
	return c.JSON(http.StatusOK, pagination.New(items, total, pg).WithLinks(c))
}

func (h *Handler) ListByPatient(c echo.Context) error {
	caller, err := callerFrom(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListByPatient(c.Request().Context(), caller, c.Param("ref"), pg.Limit, pg.Offset)
	if err != nil {
		return errStatus(err)
	}
	return c.JSON(http.StatusOK, pagination.New(items, total, pg).WithLinks(c))
}

func (h *Handler) Delete(c echo.Context) error {
	caller, id, err := target(c)
	if err != nil {
		return err
	}
	if err := h.svc.Delete(c.Request().Context(), caller, id); err != nil {
		return errStatus(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Progress(c echo.Context) error {
	caller, id, err := target(c)
	if err != nil {
		return err
	}
	p, err := h.svc.Progress(c.Request().Context(), caller, id)
	if err != nil {
		return errStatus(err)
	}
	return c.JSON(http.StatusOK, p)
}

type phaseRequest struct {
	Phase string `json:"phase"`
}

func (h *Handler) Complete(c echo.Context) error {
	caller, id, err := target(c)
	if err != nil {
		return err
	}
	var req phaseRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p, err := h.svc.Complete(c.Request().Context(), caller, id, req.Phase)
	if err != nil {
		return errStatus(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) Extend(c echo.Context) error {
	caller, id, err := target(c)
	if err != nil {
		return err
	}
	var req phaseRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p, err := h.svc.Extend(c.Request().Context(), caller, id, req.Phase)
	if err != nil {
		return errStatus(err)
	}
	return c.JSON(http.StatusOK, p)
}

type startRequest struct {
	Date *Date `json:"date"`
}

func (h *Handler) Start(c echo.Context) error {
	caller, id, err := target(c)
	if err != nil {
		return err
	}
	var req startRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}
	p, err := h.svc.Start(c.Request().Context(), caller, id, req.Date)
	if err != nil {
		return errStatus(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) viewURL(c echo.Context) string {
	if h.viewBase != "" {
		return h.viewBase
	}
	return c.Scheme() + "://" + c.Request().Host + "/api/v1/therapy/view"
}

// Plan normalizes a record posted by the browser and returns it with its
// progress. Nothing is stored.
func (h *Handler) Plan(c echo.Context) error {
	var rec Record
	if err := c.Bind(&rec); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	v, err := Plan(rec, h.viewURL(c))
	if err != nil {
		return errStatus(err)
	}
	return c.JSON(http.StatusOK, v)
}

// View renders a record carried in the data query parameter.
func (h *Handler) View(c echo.Context) error {
	data := c.QueryParam("data")
	if strings.TrimSpace(data) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "data query parameter is required")
	}
	rec, err := DecodeRecord(data)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	v, err := Plan(rec, h.viewURL(c))
	if err != nil {
		return errStatus(err)
	}
	return c.JSON(http.StatusOK, v)
}
