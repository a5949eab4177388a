package reports

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/fisioclinic/clinic/internal/platform/apperr"
	"github.com/fisioclinic/clinic/internal/platform/auth"
)

const defaultPeriodDays = 30

type Handler struct {
	svc *Service
	now func() time.Time
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc, now: time.Now}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/reports", auth.RequireRole(auth.RoleFinance))
	g.GET("/dashboard", h.Dashboard)
	g.GET("/revenue", h.Revenue)
	g.GET("/productivity", h.Productivity)
	g.GET("/receivables-aging", h.ReceivablesAging)
}

// period reads from/to as clinic-local dates. to is inclusive on the wire and
// defaults to today; from defaults to 30 days before to.
func (h *Handler) period(c echo.Context) (time.Time, time.Time, error) {
	loc := h.svc.Location()
	now := h.now().In(loc)
	to := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	if v := c.QueryParam("to"); v != "" {
		t, err := time.ParseInLocation(dayLayout, v, loc)
		if err != nil {
			return time.Time{}, time.Time{}, echo.NewHTTPError(http.StatusBadRequest, "invalid to")
		}
		to = t
	}
	to = to.AddDate(0, 0, 1)
	from := to.AddDate(0, 0, -defaultPeriodDays)
	if v := c.QueryParam("from"); v != "" {
		t, err := time.ParseInLocation(dayLayout, v, loc)
		if err != nil {
			return time.Time{}, time.Time{}, echo.NewHTTPError(http.StatusBadRequest, "invalid from")
		}
		from = t
	}
	return from, to, nil
}

func (h *Handler) Dashboard(c echo.Context) error {
	from, to, err := h.period(c)
	if err != nil {
		return err
	}
	d, err := h.svc.Dashboard(c.Request().Context(), from, to)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) Revenue(c echo.Context) error {
	year := h.now().In(h.svc.Location()).Year()
	if v := c.QueryParam("year"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid year")
		}
		year = n
	}
	r, err := h.svc.RevenueByMonth(c.Request().Context(), year)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) Productivity(c echo.Context) error {
	from, to, err := h.period(c)
	if err != nil {
		return err
	}
	stats, err := h.svc.ProfessionalProductivity(c.Request().Context(), from, to)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, stats)
}

func (h *Handler) ReceivablesAging(c echo.Context) error {
	a, err := h.svc.ReceivablesAging(c.Request().Context())
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, a)
}
