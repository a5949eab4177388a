package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func runBodyLimit(t *testing.T, limit string, req *http.Request) error {
	t.Helper()
	e := echo.New()
	c := e.NewContext(req, httptest.NewRecorder())
	return BodyLimit(limit)(func(c echo.Context) error {
		if _, err := io.ReadAll(c.Request().Body); err != nil {
			return err
		}
		return c.NoContent(http.StatusNoContent)
	})(c)
}

func TestBodyLimit_AllowsSmallBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/patients", strings.NewReader(`{"name":"Ana"}`))
	if err := runBodyLimit(t, "1K", req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestBodyLimit_RejectsDeclaredLength(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/patients", strings.NewReader(strings.Repeat("a", 2048)))
	err := runBodyLimit(t, "1K", req)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %v", err)
	}
}

func TestBodyLimit_RejectsUndeclaredLength(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/public/nps/abc", io.NopCloser(strings.NewReader(strings.Repeat("a", 2048))))
	req.ContentLength = -1
	err := runBodyLimit(t, "1K", req)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 while reading, got %v", err)
	}
}

func TestParseLimit(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"512", 512},
		{"512K", 512 << 10},
		{"1M", 1 << 20},
		{"1mb", 1 << 20},
		{"2G", 2 << 30},
		{"", defaultBodyLimit},
		{"lots", defaultBodyLimit},
		{"-5K", defaultBodyLimit},
	}
	for _, tt := range tests {
		if got := ParseLimit(tt.in); got != tt.want {
			t.Errorf("ParseLimit(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
