package staff

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/fisioclinic/clinic/internal/platform/apperr"
	"github.com/fisioclinic/clinic/internal/platform/auth"
	"github.com/fisioclinic/clinic/internal/platform/db"
	"github.com/fisioclinic/clinic/pkg/pagination"
)

// TenantRunner runs fn against the named clinic schema.
type TenantRunner func(ctx context.Context, tenantID string, fn func(ctx context.Context) error) error

type Handler struct {
	svc    *Service
	tokens *auth.Issuer
	runner TenantRunner
}

func NewHandler(svc *Service, tokens *auth.Issuer, runner TenantRunner) *Handler {
	return &Handler{svc: svc, tokens: tokens, runner: runner}
}

// RegisterAuthRoutes mounts the unauthenticated login endpoint.
func (h *Handler) RegisterAuthRoutes(e *echo.Echo, m ...echo.MiddlewareFunc) {
	e.POST("/auth/login", h.Login, m...)
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/me", h.Me)
	api.PUT("/me/password", h.ChangePassword)
	api.POST("/logout", h.Logout)

	read := api.Group("/professionals", auth.RequireRole(auth.RoleReceptionist, auth.RolePhysiotherapist, auth.RoleFinance))
	read.GET("", h.List)
	read.GET("/:id", h.Get)

	write := api.Group("/professionals", auth.RequireRole(auth.RoleAdmin))
	write.POST("", h.Create)
	write.PUT("/:id", h.Update)
	write.DELETE("/:id", h.Deactivate)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Tenant   string `json:"tenant"`
}

func (h *Handler) Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	ctx := c.Request().Context()
	tenant := req.Tenant
	if tenant == "" {
		tenant = db.TenantFromContext(ctx)
	}
	if !db.ValidTenantID(tenant) {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid tenant identifier")
	}

	var prof *Professional
	authenticate := func(ctx context.Context) error {
		var err error
		prof, err = h.svc.Authenticate(ctx, req.Email, req.Password)
		return err
	}
	var err error
	if tenant == db.TenantFromContext(ctx) || h.runner == nil {
		err = authenticate(ctx)
	} else {
		err = h.runner(ctx, tenant, authenticate)
	}
	if errors.Is(err, ErrInvalidCredentials) {
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	}
	if err != nil {
		return apperr.HTTP(err)
	}

	tok, err := h.tokens.Issue(prof.ID.String(), tenant, prof.Name, []string{prof.Role})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "could not issue token").SetInternal(err)
	}
	return c.JSON(http.StatusOK, tok)
}

func (h *Handler) Me(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := uuid.Parse(auth.UserIDFromContext(ctx))
	if err != nil {
		// Development mode runs as a synthetic user with no record.
		return c.JSON(http.StatusOK, map[string]interface{}{
			"id":     auth.UserIDFromContext(ctx),
			"roles":  auth.RolesFromContext(ctx),
			"tenant": db.TenantFromContext(ctx),
		})
	}
	p, err := h.svc.Get(ctx, id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) Logout(c echo.Context) error {
	claims := auth.ClaimsFrom(c)
	if claims == nil || claims.ExpiresAt == nil {
		return c.NoContent(http.StatusNoContent)
	}
	if err := h.svc.Logout(c.Request().Context(), claims.ID, claims.ExpiresAt.Time); err != nil {
		return apperr.HTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}

type changePasswordRequest struct {
	Current string `json:"current_password"`
	New     string `json:"new_password"`
}

func (h *Handler) ChangePassword(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := uuid.Parse(auth.UserIDFromContext(ctx))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "no staff account in session")
	}
	var req changePasswordRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.svc.ChangePassword(ctx, id, req.Current, req.New); err != nil {
		return apperr.HTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}

type createRequest struct {
	Professional
	Password string `json:"password"`
}

func (h *Handler) Create(c echo.Context) error {
	var req createRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	p := req.Professional
	if err := h.svc.Create(c.Request().Context(), &p, req.Password); err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	p, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := ListFilter{Role: c.QueryParam("role")}
	if v := c.QueryParam("active"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid active filter")
		}
		f.Active = &b
	}
	items, total, err := h.svc.List(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithLinks(c.Request().URL))
}

func (h *Handler) Update(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var p Professional
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	p.ID = id
	if err := h.svc.Update(c.Request().Context(), &p); err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) Deactivate(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.Deactivate(c.Request().Context(), id); err != nil {
		return apperr.HTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}
