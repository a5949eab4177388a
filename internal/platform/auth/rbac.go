package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

const (
	RoleAdmin           = "admin"
	RolePhysiotherapist = "physiotherapist"
	RoleReceptionist    = "receptionist"
	RoleFinance         = "finance"
)

// ValidRole reports whether r is one of the staff roles.
func ValidRole(r string) bool {
	switch r {
	case RoleAdmin, RolePhysiotherapist, RoleReceptionist, RoleFinance:
		return true
	}
	return false
}

// HasRole reports whether granted satisfies any of required. Admin satisfies everything.
func HasRole(granted []string, required ...string) bool {
	for _, has := range granted {
		if has == RoleAdmin {
			return true
		}
		for _, r := range required {
			if has == r {
				return true
			}
		}
	}
	return false
}

// RequireRole returns middleware that checks if the user has at least one of the specified roles.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if HasRole(RolesFromContext(c.Request().Context()), roles...) {
				return next(c)
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}
