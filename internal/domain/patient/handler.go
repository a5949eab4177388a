package patient

import (
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
	front := api.Group("/patients", auth.RequireRole(auth.RoleReceptionist, auth.RolePhysiotherapist))
	front.GET("", h.Search)
	front.POST("", h.Create)
	front.GET("/:id", h.Get)
	front.PUT("/:id", h.Update)
	front.POST("/:id/reactivate", h.Reactivate)

	api.DELETE("/patients/:id", h.Delete, auth.RequireRole(auth.RoleAdmin))

	// Clinical records are restricted to physiotherapists.
	clinical := api.Group("", auth.RequireRole(auth.RolePhysiotherapist))
	clinical.POST("/patients/:id/discharge", h.Discharge)
	clinical.GET("/patients/:id/anamnesis", h.GetAnamnesis)
	clinical.PUT("/patients/:id/anamnesis", h.UpsertAnamnesis)
	clinical.GET("/patients/:id/evolutions", h.ListEvolutions)
	clinical.POST("/patients/:id/evolutions", h.AddEvolution)
	clinical.GET("/evolutions/:id", h.GetEvolution)
	clinical.PUT("/evolutions/:id", h.UpdateEvolution)
	clinical.POST("/evolutions/:id/sign", h.SignEvolution)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func (h *Handler) Create(c echo.Context) error {
	var p Patient
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.svc.Create(c.Request().Context(), &p); err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	p, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) Update(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var p Patient
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	p.ID = id
	if err := h.svc.Update(c.Request().Context(), &p); err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) Delete(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.Delete(c.Request().Context(), id); err != nil {
		return apperr.HTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Search(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := SearchFilter{Q: c.QueryParam("q"), Status: c.QueryParam("status")}
	items, total, err := h.svc.Search(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithLinks(c.Request().URL))
}

func (h *Handler) Discharge(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	p, err := h.svc.Discharge(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) Reactivate(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	p, err := h.svc.Reactivate(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) GetAnamnesis(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	a, err := h.svc.GetAnamnesis(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) UpsertAnamnesis(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var a Anamnesis
	if err := c.Bind(&a); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	a.PatientID = id
	if err := h.svc.UpsertAnamnesis(c.Request().Context(), &a); err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) AddEvolution(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var e Evolution
	if err := c.Bind(&e); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	e.PatientID = id
	if e.ProfessionalID == uuid.Nil {
		// Default to the signed-in professional.
		e.ProfessionalID, _ = uuid.Parse(auth.UserIDFromContext(c.Request().Context()))
	}
	if err := h.svc.AddEvolution(c.Request().Context(), &e); err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, e)
}

func (h *Handler) ListEvolutions(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListEvolutions(c.Request().Context(), id, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetEvolution(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	e, err := h.svc.GetEvolution(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) UpdateEvolution(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var upd Evolution
	if err := c.Bind(&upd); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	upd.ID = id
	e, err := h.svc.UpdateEvolution(c.Request().Context(), &upd)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) SignEvolution(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	// Dev sessions have no professional record; they sign without the author check.
	signer, _ := uuid.Parse(auth.UserIDFromContext(c.Request().Context()))
	if auth.HasRole(auth.RolesFromContext(c.Request().Context()), auth.RoleAdmin) {
		signer = uuid.Nil
	}
	e, err := h.svc.SignEvolution(c.Request().Context(), id, signer)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, e)
}
