package telemedicine

import (
	"context"
	"net/http"

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
	g := api.Group("/telemedicine/sessions", auth.RequireRole(auth.RoleReceptionist, auth.RolePhysiotherapist))
	g.GET("", h.List)
	g.POST("", h.Create)
	g.GET("/:id", h.Get)
	g.POST("/:id/join", h.Join)
	g.POST("/:id/send-link", h.SendLink)
	g.POST("/:id/cancel", h.Cancel)

	host := api.Group("/telemedicine/sessions", auth.RequireRole(auth.RolePhysiotherapist))
	host.POST("/:id/start", h.Start)
	host.POST("/:id/end", h.End)

	api.GET("/appointments/:id/telemedicine", h.GetByAppointment,
		auth.RequireRole(auth.RoleReceptionist, auth.RolePhysiotherapist))
}

// RegisterPublicRoutes mounts the token-authenticated join check used by the
// video front end.
func (h *Handler) RegisterPublicRoutes(pub *echo.Group) {
	pub.GET("/telemedicine/verify", h.Verify)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func (h *Handler) Create(c echo.Context) error {
	var req struct {
		AppointmentID uuid.UUID `json:"appointment_id"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.AppointmentID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "appointment_id is required")
	}
	sess, err := h.svc.CreateForAppointment(c.Request().Context(), req.AppointmentID)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, sess)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	sess, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, sess)
}

func (h *Handler) GetByAppointment(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	sess, err := h.svc.GetByAppointment(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, sess)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := ListFilter{Status: c.QueryParam("status")}
	if v := c.QueryParam("professional_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid professional_id")
		}
		f.ProfessionalID = &id
	}
	if v := c.QueryParam("patient_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		f.PatientID = &id
	}
	items, total, err := h.svc.List(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithLinks(c.Request().URL))
}

func (h *Handler) Join(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req struct {
		Role string `json:"role"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	join, err := h.svc.IssueJoin(c.Request().Context(), id, req.Role)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, join)
}

func (h *Handler) SendLink(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	join, err := h.svc.SendLink(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusAccepted, join)
}

func (h *Handler) Verify(c echo.Context) error {
	token := c.QueryParam("token")
	if token == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "token is required")
	}
	claims, sess, err := h.svc.VerifyJoin(c.Request().Context(), token)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"session_id": sess.ID,
		"room":       sess.Room,
		"role":       claims.Role,
		"status":     sess.Status,
	})
}

func (h *Handler) Start(c echo.Context) error {
	return h.transition(c, h.svc.Start)
}

func (h *Handler) End(c echo.Context) error {
	return h.transition(c, h.svc.End)
}

func (h *Handler) Cancel(c echo.Context) error {
	return h.transition(c, h.svc.Cancel)
}

func (h *Handler) transition(c echo.Context, fn func(ctx context.Context, id uuid.UUID) (*Session, error)) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	sess, err := fn(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, sess)
}
