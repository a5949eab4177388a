package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func rateLimitedHandler(cfg RateLimitConfig) echo.HandlerFunc {
	return RateLimit(cfg)(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
}

func TestRateLimit_RequestsWithinBurst(t *testing.T) {
	e := echo.New()
	h := rateLimitedHandler(RateLimitConfig{RequestsPerSecond: 10, BurstSize: 5})

	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		if err := h(e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)); err != nil {
			t.Fatalf("request %d: expected no error, got %v", i+1, err)
		}
		if rec.Header().Get("X-RateLimit-Limit") != "10" {
			t.Errorf("request %d: expected X-RateLimit-Limit 10, got %q", i+1, rec.Header().Get("X-RateLimit-Limit"))
		}
	}
}

func TestRateLimit_ExceedsBurst(t *testing.T) {
	e := echo.New()
	h := rateLimitedHandler(RateLimitConfig{RequestsPerSecond: 0.5, BurstSize: 2})

	for i := 0; i < 2; i++ {
		if err := h(e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())); err != nil {
			t.Fatalf("request %d within burst failed: %v", i+1, err)
		}
	}

	rec := httptest.NewRecorder()
	err := h(e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec))
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %v", err)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
}

func TestRateLimit_SeparateClients(t *testing.T) {
	e := echo.New()
	h := rateLimitedHandler(RateLimitConfig{RequestsPerSecond: 0.1, BurstSize: 1})

	for _, ip := range []string{"10.0.0.1", "10.0.0.2"} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(echo.HeaderXRealIP, ip)
		if err := h(e.NewContext(req, httptest.NewRecorder())); err != nil {
			t.Errorf("first request from %s should pass: %v", ip, err)
		}
	}
}

func TestRateLimit_TenantsDoNotShareBuckets(t *testing.T) {
	e := echo.New()
	h := rateLimitedHandler(RateLimitConfig{RequestsPerSecond: 0.1, BurstSize: 1})

	for _, tenant := range []string{"centro", "sul"} {
		c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
		c.Set("tenant_id", tenant)
		if err := h(c); err != nil {
			t.Errorf("first request for tenant %s should pass: %v", tenant, err)
		}
	}
}
