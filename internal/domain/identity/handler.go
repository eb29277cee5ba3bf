package identity

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
	api.GET("/me", h.GetMe)
	api.PUT("/me", h.UpdateMe)
	api.GET("/doctors", h.SearchDoctors)
	api.GET("/doctors/:id", h.GetDoctor)

	doctorGroup := api.Group("", auth.RequireRole(auth.RoleDoctor))
	doctorGroup.PUT("/doctors/me", h.UpdateMyDoctorProfile)
	doctorGroup.GET("/users/:ayursutra_id", h.GetUserByAyurSutraID)
}

func errStatus(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "user not found")
	case errors.Is(err, ErrContactTaken):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrInvalid):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error").SetInternal(err)
	}
}

func callerID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusUnauthorized, "invalid session")
	}
	return id, nil
}

// meResponse includes the doctor profile for doctors.
type meResponse struct {
	*User
	Doctor *Doctor `json:"doctor,omitempty"`
}

func (h *Handler) GetMe(c echo.Context) error {
	id, err := callerID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	u, err := h.svc.GetUser(ctx, id)
	if err != nil {
		return errStatus(err)
	}
	resp := meResponse{User: u}
	if u.Role == auth.RoleDoctor {
		p, err := h.svc.GetDoctor(ctx, id)
		if err != nil {
			return errStatus(err)
		}
		resp.Doctor = &p.Doctor
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) UpdateMe(c echo.Context) error {
	id, err := callerID(c)
	if err != nil {
		return err
	}
	var upd ProfileUpdate
	if err := c.Bind(&upd); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	u, err := h.svc.UpdateProfile(c.Request().Context(), id, upd)
	if err != nil {
		return errStatus(err)
	}
	return c.JSON(http.StatusOK, u)
}

func (h *Handler) UpdateMyDoctorProfile(c echo.Context) error {
	id, err := callerID(c)
	if err != nil {
		return err
	}
	var upd DoctorUpdate
	if err := c.Bind(&upd); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p, err := h.svc.UpdateDoctor(c.Request().Context(), id, upd)
	if err != nil {
		return errStatus(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) GetDoctor(c echo.Context) error {
	p, err := h.svc.GetDoctorByRef(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "doctor not found")
		}
		return errStatus(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) GetUserByAyurSutraID(c echo.Context) error {
	u, err := h.svc.GetByAyurSutraID(c.Request().Context(), c.Param("ayursutra_id"))
	if err != nil {
		return errStatus(err)
	}
	return c.JSON(http.StatusOK, u)
}

func (h *Handler) SearchDoctors(c echo.Context) error {
	pg := pagination.FromContext(c)
	f, err := filterFromQuery(c)
	if err != nil {
		return err
	}
	items, total, err := h.svc.SearchDoctors(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error").SetInternal(err)
	}
	return c.JSON(http.StatusOK, pagination.New(items, total, pg).WithLinks(c))
}

func filterFromQuery(c echo.Context) (DoctorFilter, error) {
	f := DoctorFilter{
		Specialization: c.QueryParam("specialization"),
		Location:       c.QueryParam("location"),
		Query:          c.QueryParam("q"),
	}
	if v := c.QueryParam("min_experience"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, echo.NewHTTPError(http.StatusBadRequest, "invalid min_experience")
		}
		f.MinExperience = n
	}
	if v := c.QueryParam("max_fee"); v != "" {
		fee, err := strconv.ParseFloat(v, 64)
		if err != nil || fee < 0 {
			return f, echo.NewHTTPError(http.StatusBadRequest, "invalid max_fee")
		}
		f.MaxFee = &fee
	}
	if v := c.QueryParam("available"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return f, echo.NewHTTPError(http.StatusBadRequest, "invalid available")
		}
		f.Available = &b
	}
	return f, nil
}
