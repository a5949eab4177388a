package patient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/fisioclinic/clinic/internal/platform/auth"
	"github.com/fisioclinic/clinic/pkg/pagination"
)

func TestHandler_CreatePatient(t *testing.T) {
	svc, _ := newTestService()
	h := NewHandler(svc)
	e := echo.New()

	body := `{"full_name":"José da Silva","cpf":"111.444.777-35","phone":"11 99999-0000"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/patients", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()

	if err := h.Create(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var p Patient
	_ = json.Unmarshal(rec.Body.Bytes(), &p)
	if p.ID == uuid.Nil || *p.CPF != "11144477735" {
		t.Errorf("unexpected patient %+v", p)
	}
}

func TestHandler_CreatePatient_Invalid(t *testing.T) {
	svc, _ := newTestService()
	h := NewHandler(svc)
	e := echo.New()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/patients", strings.NewReader(`{"full_name":"X","cpf":"12345678900"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	err := h.Create(e.NewContext(req, httptest.NewRecorder()))
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestHandler_GetPatient_NotFound(t *testing.T) {
	svc, _ := newTestService()
	h := NewHandler(svc)
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(uuid.New().String())

	err := h.Get(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", err)
	}
}

func TestHandler_GetPatient_BadID(t *testing.T) {
	svc, _ := newTestService()
	h := NewHandler(svc)
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("not-a-uuid")

	err := h.Get(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestHandler_Search(t *testing.T) {
	svc, _ := newTestService()
	h := NewHandler(svc)
	createPatient(t, svc)

	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/patients?status=active", nil), rec)
	if err := h.Search(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp pagination.Response
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Total != 1 {
		t.Errorf("expected 1 result, got %d", resp.Total)
	}
}

func TestHandler_AddEvolution_DefaultsToSessionUser(t *testing.T) {
	svc, _ := newTestService()
	h := NewHandler(svc)
	p := createPatient(t, svc)
	prof := uuid.New()

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"content":"Alongamento","pain_scale":3}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req = req.WithContext(auth.WithUser(req.Context(), prof.String(), []string{auth.RolePhysiotherapist}))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(p.ID.String())

	if err := h.AddEvolution(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var ev Evolution
	_ = json.Unmarshal(rec.Body.Bytes(), &ev)
	if ev.ProfessionalID != prof {
		t.Errorf("expected professional %s, got %s", prof, ev.ProfessionalID)
	}
}

func TestHandler_SignEvolution_Conflict(t *testing.T) {
	svc, _ := newTestService()
	h := NewHandler(svc)
	p := createPatient(t, svc)
	ev := &Evolution{PatientID: p.ID, ProfessionalID: uuid.New(), Content: "x"}
	_ = svc.AddEvolution(context.Background(), ev)

	e := echo.New()
	sign := func() error {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req = req.WithContext(auth.WithUser(req.Context(), "dev-user", []string{auth.RoleAdmin}))
		c := e.NewContext(req, httptest.NewRecorder())
		c.SetParamNames("id")
		c.SetParamValues(ev.ID.String())
		return h.SignEvolution(c)
	}
	if err := sign(); err != nil {
		t.Fatalf("first sign: %v", err)
	}
	err := sign()
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %v", err)
	}
}
