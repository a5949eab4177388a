package notification

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/fisioclinic/clinic/internal/platform/apperr"
	"github.com/fisioclinic/clinic/internal/platform/auth"
)

type Handler struct {
	manager *Manager
}

func NewHandler(mgr *Manager) *Handler {
	return &Handler{manager: mgr}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/notifications", auth.RequireRole(auth.RoleAdmin, auth.RoleReceptionist))
	g.POST("", h.Send)
	g.GET("", h.List)
	g.GET("/templates", h.Templates)
	g.GET("/stats", h.Stats)
	g.GET("/:id", h.Get)
	g.POST("/:id/retry", h.Retry)
}

type sendRequest struct {
	Channel    Channel           `json:"channel"`
	TemplateID string            `json:"template_id"`
	Recipient  string            `json:"recipient"`
	Data       map[string]string `json:"data"`
}

func (h *Handler) Send(c echo.Context) error {
	var req sendRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	n, err := h.manager.SendTemplate(c.Request().Context(), req.Channel, req.TemplateID, req.Recipient, req.Data)
	if n == nil {
		return apperr.HTTP(err)
	}
	// A delivery failure still created the notification; the caller sees it as failed.
	return c.JSON(http.StatusCreated, n)
}

func (h *Handler) List(c echo.Context) error {
	list := h.manager.List(c.Request().Context(), c.QueryParam("recipient"), c.QueryParam("status"), 100)
	return c.JSON(http.StatusOK, list)
}

func (h *Handler) Templates(c echo.Context) error {
	return c.JSON(http.StatusOK, h.manager.Templates().Templates())
}

func (h *Handler) Stats(c echo.Context) error {
	return c.JSON(http.StatusOK, h.manager.Stats(c.Request().Context()))
}

func (h *Handler) Get(c echo.Context) error {
	n, err := h.manager.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, n)
}

func (h *Handler) Retry(c echo.Context) error {
	ctx := c.Request().Context()
	if err := h.manager.Retry(ctx, c.Param("id")); err != nil && !isDeliveryError(err) {
		return apperr.HTTP(err)
	}
	n, err := h.manager.Get(ctx, c.Param("id"))
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, n)
}

// isDeliveryError reports whether err came from the sender rather than from
// the outbox rules.
func isDeliveryError(err error) bool {
	var ae *apperr.Error
	return !errors.As(err, &ae)
}
