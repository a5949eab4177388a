package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestHasRole(t *testing.T) {
	tests := []struct {
		granted  []string
		required []string
		want     bool
	}{
		{[]string{RolePhysiotherapist}, []string{RolePhysiotherapist}, true},
		{[]string{RoleReceptionist}, []string{RolePhysiotherapist, RoleReceptionist}, true},
		{[]string{RoleFinance}, []string{RolePhysiotherapist}, false},
		{[]string{RoleAdmin}, []string{RoleFinance}, true},
		{nil, []string{RoleFinance}, false},
	}
	for _, tt := range tests {
		if got := HasRole(tt.granted, tt.required...); got != tt.want {
			t.Errorf("HasRole(%v, %v) = %v, want %v", tt.granted, tt.required, got, tt.want)
		}
	}
}

func TestValidRole(t *testing.T) {
	for _, r := range []string{RoleAdmin, RolePhysiotherapist, RoleReceptionist, RoleFinance} {
		if !ValidRole(r) {
			t.Errorf("expected %s to be valid", r)
		}
	}
	if ValidRole("physician") {
		t.Error("physician is not a clinic role")
	}
}

func requireRoleWith(roles []string, required ...string) error {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(context.WithValue(req.Context(), UserRolesKey, roles))
	c := e.NewContext(req, httptest.NewRecorder())
	return RequireRole(required...)(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})(c)
}

func TestRequireRole_Allowed(t *testing.T) {
	if err := requireRoleWith([]string{RolePhysiotherapist}, RolePhysiotherapist, RoleReceptionist); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRequireRole_Denied(t *testing.T) {
	err := requireRoleWith([]string{RoleReceptionist}, RoleFinance)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %v", err)
	}
}
