package billing

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/fisioclinic/clinic/internal/platform/apperr"
	"github.com/fisioclinic/clinic/internal/platform/auth"
	"github.com/fisioclinic/clinic/pkg/pagination"
)

const dateLayout = "2006-01-02"

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	recv := api.Group("/receivables", auth.RequireRole(auth.RoleFinance, auth.RoleReceptionist))
	recv.GET("", h.ListReceivables)
	recv.POST("", h.CreateReceivable)
	recv.POST("/installments", h.CreateInstallments)
	recv.GET("/:id", h.GetReceivable)
	recv.POST("/:id/payments", h.RegisterPayment)
	recv.POST("/:id/cancel", h.CancelReceivable)

	fin := api.Group("", auth.RequireRole(auth.RoleFinance))
	fin.GET("/payables", h.ListPayables)
	fin.POST("/payables", h.CreatePayable)
	fin.GET("/payables/:id", h.GetPayable)
	fin.POST("/payables/:id/pay", h.PayPayable)
	fin.POST("/payables/:id/cancel", h.CancelPayable)
	fin.GET("/cash-flow", h.CashFlow)
	fin.POST("/billing/mark-overdue", h.MarkOverdue)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// parseDate accepts "YYYY-MM-DD" or RFC 3339.
func parseDate(v, field string) (time.Time, error) {
	if t, err := time.Parse(dateLayout, v); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, echo.NewHTTPError(http.StatusBadRequest, "invalid "+field)
	}
	return t, nil
}

func optionalDate(c echo.Context, name string) (*time.Time, error) {
	v := c.QueryParam(name)
	if v == "" {
		return nil, nil
	}
	t, err := parseDate(v, name)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// -- Receivables --

type receivableRequest struct {
	PatientID     uuid.UUID  `json:"patient_id"`
	AppointmentID *uuid.UUID `json:"appointment_id"`
	Description   string     `json:"description"`
	AmountCents   int64      `json:"amount_cents"`
	DueDate       string     `json:"due_date"`
	Installments  int        `json:"installments"`
}

func (req *receivableRequest) toReceivable() (*Receivable, error) {
	if req.DueDate == "" {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "due_date is required")
	}
	due, err := parseDate(req.DueDate, "due_date")
	if err != nil {
		return nil, err
	}
	return &Receivable{
		PatientID:     req.PatientID,
		AppointmentID: req.AppointmentID,
		Description:   req.Description,
		AmountCents:   req.AmountCents,
		DueDate:       due,
	}, nil
}

func (h *Handler) CreateReceivable(c echo.Context) error {
	var req receivableRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	r, err := req.toReceivable()
	if err != nil {
		return err
	}
	if err := h.svc.CreateReceivable(c.Request().Context(), r); err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, r)
}

func (h *Handler) CreateInstallments(c echo.Context) error {
	var req receivableRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	r, err := req.toReceivable()
	if err != nil {
		return err
	}
	items, err := h.svc.CreateInstallments(c.Request().Context(), r, req.Installments)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, items)
}

func (h *Handler) GetReceivable(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	r, err := h.svc.GetReceivable(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) ListReceivables(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := ReceivableFilter{Status: c.QueryParam("status")}
	if v := c.QueryParam("patient_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		f.PatientID = &id
	}
	var err error
	if f.DueFrom, err = optionalDate(c, "due_from"); err != nil {
		return err
	}
	if f.DueTo, err = optionalDate(c, "due_to"); err != nil {
		return err
	}
	items, total, err := h.svc.ListReceivables(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithLinks(c.Request().URL))
}

func (h *Handler) RegisterPayment(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var p Payment
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	r, err := h.svc.RegisterPayment(c.Request().Context(), id, &p)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, r)
}

func (h *Handler) CancelReceivable(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	r, err := h.svc.CancelReceivable(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, r)
}

// -- Payables --

type payableRequest struct {
	Supplier    string `json:"supplier"`
	Category    string `json:"category"`
	Description string `json:"description"`
	AmountCents int64  `json:"amount_cents"`
	DueDate     string `json:"due_date"`
}

func (h *Handler) CreatePayable(c echo.Context) error {
	var req payableRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.DueDate == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "due_date is required")
	}
	due, err := parseDate(req.DueDate, "due_date")
	if err != nil {
		return err
	}
	p := &Payable{
		Supplier:    req.Supplier,
		Category:    req.Category,
		Description: req.Description,
		AmountCents: req.AmountCents,
		DueDate:     due,
	}
	if err := h.svc.CreatePayable(c.Request().Context(), p); err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetPayable(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	p, err := h.svc.GetPayable(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListPayables(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := PayableFilter{Status: c.QueryParam("status"), Category: c.QueryParam("category")}
	var err error
	if f.DueFrom, err = optionalDate(c, "due_from"); err != nil {
		return err
	}
	if f.DueTo, err = optionalDate(c, "due_to"); err != nil {
		return err
	}
	items, total, err := h.svc.ListPayables(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithLinks(c.Request().URL))
}

func (h *Handler) PayPayable(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req struct {
		Method string    `json:"method"`
		PaidAt time.Time `json:"paid_at"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	p, err := h.svc.PayPayable(c.Request().Context(), id, req.Method, req.PaidAt)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) CancelPayable(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	p, err := h.svc.CancelPayable(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, p)
}

// -- Ledger-wide --

func (h *Handler) CashFlow(c echo.Context) error {
	from, err := parseDate(c.QueryParam("from"), "from")
	if err != nil {
		return err
	}
	to, err := parseDate(c.QueryParam("to"), "to")
	if err != nil {
		return err
	}
	cf, err := h.svc.CashFlow(c.Request().Context(), from, to)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, cf)
}

func (h *Handler) MarkOverdue(c echo.Context) error {
	res, err := h.svc.MarkOverdue(c.Request().Context(), time.Now())
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"receivables": len(res.Receivables),
		"payables":    res.Payables,
	})
}
