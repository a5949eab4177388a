package scheduling

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/fisioclinic/clinic/internal/platform/apperr"
	"github.com/fisioclinic/clinic/internal/platform/auth"
	"github.com/fisioclinic/clinic/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	front := api.Group("", auth.RequireRole(auth.RoleReceptionist, auth.RolePhysiotherapist))

	front.GET("/professionals/:id/working-hours", h.GetWorkingHours)
	front.GET("/professionals/:id/slots", h.AvailableSlots)
	api.PUT("/professionals/:id/working-hours", h.ReplaceWorkingHours, auth.RequireRole(auth.RolePhysiotherapist))

	front.GET("/appointments", h.List)
	front.POST("/appointments", h.Create)
	front.POST("/appointments/series", h.CreateSeries)
	front.GET("/appointments/:id", h.Get)
	front.POST("/appointments/:id/reschedule", h.Reschedule)
	front.POST("/appointments/:id/confirm", h.Confirm)
	front.POST("/appointments/:id/check-in", h.CheckIn)
	front.POST("/appointments/:id/cancel", h.Cancel)
	front.POST("/appointments/:id/no-show", h.NoShow)
	api.POST("/appointments/:id/complete", h.Complete, auth.RequireRole(auth.RolePhysiotherapist))
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// parseTime accepts RFC 3339 timestamps or plain dates.
func parseTime(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return &t, nil
	}
	t, err := time.Parse(dateLayout, v)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid time: "+v)
	}
	return &t, nil
}

func parseOptionalUUID(v, name string) (*uuid.UUID, error) {
	if v == "" {
		return nil, nil
	}
	id, err := uuid.Parse(v)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return &id, nil
}

// -- Working hours --

func (h *Handler) GetWorkingHours(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.GetWorkingHours(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	if items == nil {
		items = []*WorkingHours{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) ReplaceWorkingHours(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var hours []*WorkingHours
	if err := c.Bind(&hours); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.svc.ReplaceWorkingHours(c.Request().Context(), id, hours); err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, hours)
}

func (h *Handler) AvailableSlots(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	date := c.QueryParam("date")
	if date == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "date is required")
	}
	slots, err := h.svc.AvailableSlots(c.Request().Context(), id, date)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, slots)
}

// -- Appointments --

func (h *Handler) Create(c echo.Context) error {
	var a Appointment
	if err := c.Bind(&a); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.svc.Create(c.Request().Context(), &a); err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, a)
}

type seriesRequest struct {
	Appointment
	Occurrences int `json:"occurrences"`
}

func (h *Handler) CreateSeries(c echo.Context) error {
	var req seriesRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	items, err := h.svc.CreateSeries(c.Request().Context(), &req.Appointment, req.Occurrences)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, items)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	a, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	var (
		f   ListFilter
		err error
	)
	if f.From, err = parseTime(c.QueryParam("from")); err != nil {
		return err
	}
	if f.To, err = parseTime(c.QueryParam("to")); err != nil {
		return err
	}
	if f.ProfessionalID, err = parseOptionalUUID(c.QueryParam("professional_id"), "professional_id"); err != nil {
		return err
	}
	if f.PatientID, err = parseOptionalUUID(c.QueryParam("patient_id"), "patient_id"); err != nil {
		return err
	}
	f.Status = c.QueryParam("status")

	items, total, err := h.svc.List(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithLinks(c.Request().URL))
}

type rescheduleRequest struct {
	StartAt time.Time `json:"start_at"`
	EndAt   time.Time `json:"end_at"`
}

func (h *Handler) Reschedule(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req rescheduleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.StartAt.IsZero() {
		return echo.NewHTTPError(http.StatusBadRequest, "start_at is required")
	}
	a, err := h.svc.Reschedule(c.Request().Context(), id, req.StartAt, req.EndAt)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) transition(c echo.Context, fn func(*Service, echo.Context, uuid.UUID) (*Appointment, error)) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	a, err := fn(h.svc, c, id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) Confirm(c echo.Context) error {
	return h.transition(c, func(s *Service, c echo.Context, id uuid.UUID) (*Appointment, error) {
		return s.Confirm(c.Request().Context(), id)
	})
}

func (h *Handler) CheckIn(c echo.Context) error {
	return h.transition(c, func(s *Service, c echo.Context, id uuid.UUID) (*Appointment, error) {
		return s.CheckIn(c.Request().Context(), id)
	})
}

func (h *Handler) Complete(c echo.Context) error {
	return h.transition(c, func(s *Service, c echo.Context, id uuid.UUID) (*Appointment, error) {
		return s.Complete(c.Request().Context(), id)
	})
}

func (h *Handler) NoShow(c echo.Context) error {
	return h.transition(c, func(s *Service, c echo.Context, id uuid.UUID) (*Appointment, error) {
		return s.NoShow(c.Request().Context(), id)
	})
}

func (h *Handler) Cancel(c echo.Context) error {
	var req struct {
		Reason string `json:"reason"`
	}
	// An empty body is a cancellation without reason.
	_ = c.Bind(&req)
	return h.transition(c, func(s *Service, c echo.Context, id uuid.UUID) (*Appointment, error) {
		return s.Cancel(c.Request().Context(), id, req.Reason)
	})
}
