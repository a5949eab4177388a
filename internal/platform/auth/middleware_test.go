package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

var testSigningKey = []byte("test-secret-key-for-unit-tests-only-0123456789")

func createTestToken(t *testing.T, claims Claims, key []byte) string {
	t.Helper()
	tokenStr, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return tokenStr
}

func runJWT(t *testing.T, cfg JWTConfig, header string) (echo.Context, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/patients", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	c := e.NewContext(req, httptest.NewRecorder())
	var seen echo.Context
	err := JWTMiddleware(cfg)(func(c echo.Context) error {
		seen = c
		return c.String(http.StatusOK, "ok")
	})(c)
	if seen == nil {
		seen = c
	}
	return seen, err
}

func expectStatus(t *testing.T, err error, code int) {
	t.Helper()
	he, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T (%v)", err, err)
	}
	if he.Code != code {
		t.Errorf("expected %d, got %d", code, he.Code)
	}
}

func TestJWTMiddleware_MissingHeader(t *testing.T) {
	_, err := runJWT(t, JWTConfig{SigningKey: testSigningKey}, "")
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_InvalidFormat(t *testing.T) {
	for _, header := range []string{"Token abc123", "Bearer", "Bearer ", "Basic dXNlcjpwYXNz"} {
		t.Run(header, func(t *testing.T) {
			_, err := runJWT(t, JWTConfig{SigningKey: testSigningKey}, header)
			expectStatus(t, err, http.StatusUnauthorized)
		})
	}
}

func TestJWTMiddleware_ValidToken(t *testing.T) {
	tok := createTestToken(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "prof-1",
			Issuer:    "clinic-server",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		TenantID: "centro",
		Roles:    []string{RolePhysiotherapist},
	}, testSigningKey)

	c, err := runJWT(t, JWTConfig{SigningKey: testSigningKey, Issuer: "clinic-server"}, "Bearer "+tok)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := c.Get("jwt_tenant_id"); got != "centro" {
		t.Errorf("expected tenant claim centro, got %v", got)
	}
	ctx := c.Request().Context()
	if UserIDFromContext(ctx) != "prof-1" {
		t.Errorf("expected subject prof-1, got %s", UserIDFromContext(ctx))
	}
	if roles := RolesFromContext(ctx); len(roles) != 1 || roles[0] != RolePhysiotherapist {
		t.Errorf("unexpected roles %v", roles)
	}
}

func TestJWTMiddleware_Rejects(t *testing.T) {
	expired := createTestToken(t, Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "x",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	}}, testSigningKey)
	wrongKey := createTestToken(t, Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "x"}}, []byte("another-key"))
	wrongIssuer := createTestToken(t, Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "x", Issuer: "evil"}}, testSigningKey)

	cfg := JWTConfig{SigningKey: testSigningKey, Issuer: "clinic-server"}
	for name, tok := range map[string]string{"expired": expired, "wrong key": wrongKey, "wrong issuer": wrongIssuer} {
		t.Run(name, func(t *testing.T) {
			_, err := runJWT(t, cfg, "Bearer "+tok)
			expectStatus(t, err, http.StatusUnauthorized)
		})
	}
}

func TestJWTMiddleware_Skipper(t *testing.T) {
	cfg := JWTConfig{SigningKey: testSigningKey, Skipper: func(echo.Context) bool { return true }}
	if _, err := runJWT(t, cfg, ""); err != nil {
		t.Fatalf("skipped request should pass, got %v", err)
	}
}

func TestDevAuthMiddleware(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	var roles []string
	err := DevAuthMiddleware()(func(c echo.Context) error {
		roles = RolesFromContext(c.Request().Context())
		return nil
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(roles) != 1 || roles[0] != RoleAdmin {
		t.Errorf("expected admin role, got %v", roles)
	}
}

func TestIssuer_RoundTrip(t *testing.T) {
	iss := NewIssuer("clinic-server", testSigningKey, time.Hour)
	tok, err := iss.Issue("prof-9", "centro", "Ana", []string{RoleReceptionist})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if tok.TokenType != "Bearer" || tok.ExpiresAt.Before(time.Now()) {
		t.Errorf("unexpected token %+v", tok)
	}
	c, err := runJWT(t, JWTConfig{SigningKey: testSigningKey, Issuer: "clinic-server"}, "Bearer "+tok.AccessToken)
	if err != nil {
		t.Fatalf("issued token rejected: %v", err)
	}
	if UserIDFromContext(c.Request().Context()) != "prof-9" {
		t.Error("subject not propagated")
	}
}

func TestIssuer_NoKey(t *testing.T) {
	if _, err := NewIssuer("x", nil, time.Hour).Issue("a", "b", "c", nil); err == nil {
		t.Fatal("expected error without signing key")
	}
}
