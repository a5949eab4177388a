package gamification

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

func TestHandler_Award(t *testing.T) {
	svc, _ := newTestService(t)
	h := NewHandler(svc)
	e := echo.New()
	patient := uuid.New()

	post := func(body string) (*httptest.ResponseRecorder, error) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		c.SetParamNames("id")
		c.SetParamValues(patient.String())
		return rec, h.Award(c)
	}

	rec, err := post(`{"kind":"referral","reference_id":"lead-1"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var ev PointEvent
	_ = json.Unmarshal(rec.Body.Bytes(), &ev)
	if ev.Points != 50 || ev.PatientID != patient {
		t.Errorf("unexpected event %+v", ev)
	}

	rec, err = post(`{"kind":"referral","reference_id":"lead-1"}`)
	if err != nil || rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on replay, got %d, %v", rec.Code, err)
	}

	_, err = post(`{"kind":"attendance","reference_id":"x"}`)
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for event-driven kinds, got %v", err)
	}
}

func TestHandler_Profile(t *testing.T) {
	svc, _ := newTestService(t)
	h := NewHandler(svc)
	e := echo.New()

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	c.SetParamNames("id")
	c.SetParamValues(uuid.New().String())
	if err := h.Profile(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var p Profile
	_ = json.Unmarshal(rec.Body.Bytes(), &p)
	if p.Level.Name != "Bronze" || p.TotalPoints != 0 {
		t.Errorf("unexpected profile %+v", p)
	}

	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("nope")
	if he, ok := h.Profile(c).(*echo.HTTPError); !ok || he.Code != http.StatusBadRequest {
		t.Fatal("expected 400 for a bad id")
	}
}

func TestHandler_Leaderboard(t *testing.T) {
	svc, _ := newTestService(t)
	h := NewHandler(svc)
	e := echo.New()

	rec := httptest.NewRecorder()
	if err := h.Leaderboard(e.NewContext(httptest.NewRequest(http.MethodGet, "/?limit=5", nil), rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("expected an empty list, got %s", rec.Body.String())
	}

	err := h.Leaderboard(e.NewContext(httptest.NewRequest(http.MethodGet, "/?limit=ten", nil), httptest.NewRecorder()))
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}
