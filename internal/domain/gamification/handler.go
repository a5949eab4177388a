package gamification

import (
	"net/http"
	"strconv"

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
	g := api.Group("", auth.RequireRole(auth.RoleReceptionist, auth.RolePhysiotherapist))
	g.GET("/patients/:id/gamification", h.Profile)
	g.GET("/patients/:id/points", h.History)
	g.POST("/patients/:id/points", h.Award)
	g.GET("/gamification/leaderboard", h.Leaderboard)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func (h *Handler) Profile(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	p, err := h.svc.Profile(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) History(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.History(c.Request().Context(), id, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithLinks(c.Request().URL))
}

// Award credits points by hand. Only manual and referral awards are accepted
// here; the other kinds come from clinic events.
func (h *Handler) Award(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var e PointEvent
	if err := c.Bind(&e); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if e.Kind == "" {
		e.Kind = KindManual
	}
	if e.Kind != KindManual && e.Kind != KindReferral {
		return echo.NewHTTPError(http.StatusBadRequest, "only manual and referral points can be awarded directly")
	}
	e.PatientID = id
	out, created, err := h.svc.Award(c.Request().Context(), &e)
	if err != nil {
		return apperr.HTTP(err)
	}
	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	return c.JSON(status, out)
}

func (h *Handler) Leaderboard(c echo.Context) error {
	limit := 10
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		limit = n
	}
	entries, err := h.svc.Leaderboard(c.Request().Context(), limit)
	if err != nil {
		return apperr.HTTP(err)
	}
	if entries == nil {
		entries = []*LeaderboardEntry{}
	}
	return c.JSON(http.StatusOK, entries)
}
