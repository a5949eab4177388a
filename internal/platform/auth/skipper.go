package auth

import (
	"strings"

	"github.com/labstack/echo/v4"
)

var publicPaths = map[string]bool{
	"/health":     true,
	"/health/db":  true,
	"/auth/login": true,
}

// publicPrefixes are token-addressed endpoints answered by patients.
var publicPrefixes = []string{"/public/"}

// AuthSkipper returns true for requests that need no staff token.
func AuthSkipper(c echo.Context) bool {
	return IsPublicPath(c.Request().URL.Path)
}

func IsPublicPath(path string) bool {
	if publicPaths[path] {
		return true
	}
	for _, p := range publicPrefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// TenantSkipper is true for infrastructure endpoints that run outside any clinic schema.
func TenantSkipper(path string) bool {
	return strings.HasPrefix(path, "/health")
}
