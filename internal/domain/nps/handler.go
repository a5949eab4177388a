package nps

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/fisioclinic/clinic/internal/platform/apperr"
	"github.com/fisioclinic/clinic/internal/platform/auth"
	"github.com/fisioclinic/clinic/pkg/pagination"
)

const defaultWindow = 30 * 24 * time.Hour

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/nps", auth.RequireRole(auth.RoleReceptionist, auth.RolePhysiotherapist, auth.RoleFinance))
	g.GET("/summary", h.Summary)
	g.GET("/responses", h.ListResponses)
	g.POST("/surveys", h.Dispatch)
}

// RegisterPublicRoutes mounts the token-addressed endpoints patients use.
func (h *Handler) RegisterPublicRoutes(pub *echo.Group) {
	pub.GET("/nps/:token", h.Lookup)
	pub.POST("/nps/:token", h.Answer)
}

// period reads from/to as dates, defaulting to the last 30 days.
func period(c echo.Context) (time.Time, time.Time, error) {
	to := time.Now()
	from := to.Add(-defaultWindow)
	if v := c.QueryParam("from"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return from, to, echo.NewHTTPError(http.StatusBadRequest, "invalid from")
		}
		from = t
	}
	if v := c.QueryParam("to"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return from, to, echo.NewHTTPError(http.StatusBadRequest, "invalid to")
		}
		to = t
	}
	return from, to, nil
}

func (h *Handler) Summary(c echo.Context) error {
	from, to, err := period(c)
	if err != nil {
		return err
	}
	sum, err := h.svc.Summary(c.Request().Context(), from, to)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, sum)
}

func (h *Handler) ListResponses(c echo.Context) error {
	from, to, err := period(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListResponses(c.Request().Context(), from, to, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithLinks(c.Request().URL))
}

func (h *Handler) Dispatch(c echo.Context) error {
	var req struct {
		PatientID     uuid.UUID `json:"patient_id"`
		AppointmentID uuid.UUID `json:"appointment_id"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.PatientID == uuid.Nil || req.AppointmentID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "patient_id and appointment_id are required")
	}
	sv, created, err := h.svc.Dispatch(c.Request().Context(), req.PatientID, req.AppointmentID)
	if err != nil {
		return apperr.HTTP(err)
	}
	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	return c.JSON(status, sv)
}

func (h *Handler) Lookup(c echo.Context) error {
	sv, err := h.svc.Lookup(c.Request().Context(), c.Param("token"))
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"sent_at":  sv.SentAt,
		"answered": sv.Answered(),
	})
}

func (h *Handler) Answer(c echo.Context) error {
	var req struct {
		Score   *int   `json:"score"`
		Comment string `json:"comment"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Score == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "score is required")
	}
	if _, err := h.svc.Answer(c.Request().Context(), c.Param("token"), *req.Score, req.Comment); err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "thank you"})
}
