package tiss

import (
	"net/http"
	"strconv"
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
	g := api.Group("", auth.RequireRole(auth.RoleFinance, auth.RoleReceptionist))

	g.GET("/insurance-plans", h.ListPlans)
	g.POST("/insurance-plans", h.CreatePlan)
	g.GET("/insurance-plans/:id", h.GetPlan)
	g.PUT("/insurance-plans/:id", h.UpdatePlan)
	g.GET("/insurance-plans/:id/batches", h.ListBatches)
	g.POST("/insurance-plans/:id/batches", h.CreateBatch)

	g.GET("/tiss/guides", h.ListGuides)
	g.POST("/tiss/guides", h.CreateGuide)
	g.GET("/tiss/guides/:id", h.GetGuide)
	g.PUT("/tiss/guides/:id", h.UpdateGuide)
	g.POST("/tiss/guides/:id/items", h.AddItem)
	g.POST("/tiss/guides/:id/ready", h.MarkReady)
	g.POST("/tiss/guides/:id/response", h.RegisterResponse)
	g.POST("/tiss/guides/:id/payment", h.RegisterPayment)

	g.GET("/tiss/batches/:id", h.GetBatch)
	g.GET("/tiss/batches/:id/xml", h.GetBatchXML)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// -- Plans --

func (h *Handler) CreatePlan(c echo.Context) error {
	var p Plan
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.svc.CreatePlan(c.Request().Context(), &p); err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetPlan(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	p, err := h.svc.GetPlan(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListPlans(c echo.Context) error {
	activeOnly, _ := strconv.ParseBool(c.QueryParam("active"))
	plans, err := h.svc.ListPlans(c.Request().Context(), activeOnly)
	if err != nil {
		return apperr.HTTP(err)
	}
	if plans == nil {
		plans = []*Plan{}
	}
	return c.JSON(http.StatusOK, plans)
}

func (h *Handler) UpdatePlan(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var p Plan
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	p.ID = id
	out, err := h.svc.UpdatePlan(c.Request().Context(), &p)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, out)
}

// -- Guides --

func (h *Handler) CreateGuide(c echo.Context) error {
	var g Guide
	if err := c.Bind(&g); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.svc.CreateGuide(c.Request().Context(), &g); err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, g)
}

func (h *Handler) GetGuide(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	g, err := h.svc.GetGuide(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, g)
}

func (h *Handler) ListGuides(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := GuideFilter{Status: c.QueryParam("status")}
	if v := c.QueryParam("plan_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid plan_id")
		}
		f.PlanID = &id
	}
	if v := c.QueryParam("patient_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		f.PatientID = &id
	}
	items, total, err := h.svc.ListGuides(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithLinks(c.Request().URL))
}

func (h *Handler) UpdateGuide(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var g Guide
	if err := c.Bind(&g); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	g.ID = id
	out, err := h.svc.UpdateGuide(c.Request().Context(), &g)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, out)
}

type itemRequest struct {
	TUSSCode    string `json:"tuss_code"`
	Description string `json:"description"`
	Quantity    int    `json:"quantity"`
	UnitCents   int64  `json:"unit_cents"`
	PerformedAt string `json:"performed_at"`
}

func (h *Handler) AddItem(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req itemRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	item := &GuideItem{
		TUSSCode:    req.TUSSCode,
		Description: req.Description,
		Quantity:    req.Quantity,
		UnitCents:   req.UnitCents,
	}
	if req.PerformedAt != "" {
		if item.PerformedAt, err = time.Parse("2006-01-02", req.PerformedAt); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid performed_at")
		}
	}
	g, err := h.svc.AddItem(c.Request().Context(), id, item)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, g)
}

func (h *Handler) MarkReady(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	g, err := h.svc.MarkReady(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, g)
}

func (h *Handler) RegisterResponse(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var resp Response
	if err := c.Bind(&resp); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	g, err := h.svc.RegisterResponse(c.Request().Context(), id, resp)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, g)
}

func (h *Handler) RegisterPayment(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req struct {
		AmountCents int64 `json:"amount_cents"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	g, err := h.svc.RegisterPayment(c.Request().Context(), id, req.AmountCents)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, g)
}

// -- Batches --

func (h *Handler) CreateBatch(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	b, err := h.svc.CreateBatch(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, b)
}

func (h *Handler) ListBatches(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListBatches(c.Request().Context(), id, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithLinks(c.Request().URL))
}

func (h *Handler) GetBatch(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	b, err := h.svc.GetBatch(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) GetBatchXML(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	doc, err := h.svc.GetBatchXML(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="lote-`+id.String()+`.xml"`)
	return c.Blob(http.StatusOK, echo.MIMEApplicationXMLCharsetUTF8, doc)
}
