package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/fisioclinic/clinic/internal/config"
	"github.com/fisioclinic/clinic/internal/domain/billing"
	"github.com/fisioclinic/clinic/internal/domain/crm"
	"github.com/fisioclinic/clinic/internal/domain/gamification"
	"github.com/fisioclinic/clinic/internal/domain/nps"
	"github.com/fisioclinic/clinic/internal/domain/patient"
	"github.com/fisioclinic/clinic/internal/domain/reports"
	"github.com/fisioclinic/clinic/internal/domain/scheduling"
	"github.com/fisioclinic/clinic/internal/domain/staff"
	"github.com/fisioclinic/clinic/internal/domain/telemedicine"
	"github.com/fisioclinic/clinic/internal/domain/tiss"
	"github.com/fisioclinic/clinic/internal/platform/auth"
	"github.com/fisioclinic/clinic/internal/platform/db"
	"github.com/fisioclinic/clinic/internal/platform/middleware"
	"github.com/fisioclinic/clinic/internal/platform/notification"
	"github.com/fisioclinic/clinic/internal/platform/telemetry"
)

const (
	serviceName     = "clinic-server"
	serviceVersion  = "0.1.0"
	shutdownTimeout = 10 * time.Second
)

// newEcho builds the HTTP surface: global middleware, health probes, login,
// the public patient endpoints and the authenticated /api/v1 routes.
func newEcho(a *app, signingKey []byte) *echo.Echo {
	cfg, logger := a.cfg, a.logger

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	e.Use(telemetry.Middleware(serviceName))
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", db.TenantHeader},
	}))
	e.Use(middleware.SecurityHeaders())

	// Auth middleware
	if cfg.ResolvedAuthMode() == "development" {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			SigningKey: signingKey,
			Skipper:    auth.AuthSkipper,
			Revoker:    a.sessions,
		}))
	}

	// Tenant middleware
	e.Use(db.TenantMiddleware(a.pool, cfg.DefaultTenant, auth.TenantSkipper))

	// Audit middleware
	e.Use(middleware.Audit(logger, nil))

	// Health checks
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": serviceVersion,
		})
	})
	deps := map[string]db.Pinger{}
	if a.redis != nil {
		deps["redis"] = a.redis
	}
	e.GET("/health/db", db.HealthHandler(a.pool, deps))

	// Rate limiting middleware
	rateLimitCfg := middleware.DefaultRateLimitConfig()
	if cfg.RateLimitRPS > 0 {
		rateLimitCfg.RequestsPerSecond = cfg.RateLimitRPS
	}
	if cfg.RateLimitBurst > 0 {
		rateLimitCfg.BurstSize = cfg.RateLimitBurst
	}
	limit := middleware.RateLimit(rateLimitCfg)

	staffHandler := staff.NewHandler(a.staff, auth.NewIssuer(cfg.AuthIssuer, signingKey, cfg.TokenTTL),
		func(ctx context.Context, tenantID string, fn func(ctx context.Context) error) error {
			return db.RunInTenant(ctx, a.pool, tenantID, fn)
		})
	staffHandler.RegisterAuthRoutes(e, limit)

	// Token-addressed endpoints answered by patients
	public := e.Group("/public", limit)
	nps.NewHandler(a.nps).RegisterPublicRoutes(public)
	telemedicine.NewHandler(a.telemedicine).RegisterPublicRoutes(public)

	apiV1 := e.Group("/api/v1", limit)
	staffHandler.RegisterRoutes(apiV1)
	patient.NewHandler(a.patients).RegisterRoutes(apiV1)
	scheduling.NewHandler(a.scheduling).RegisterRoutes(apiV1)
	billing.NewHandler(a.billing).RegisterRoutes(apiV1)
	crm.NewHandler(a.crm).RegisterRoutes(apiV1)
	gamification.NewHandler(a.gamification).RegisterRoutes(apiV1)
	telemedicine.NewHandler(a.telemedicine).RegisterRoutes(apiV1)
	tiss.NewHandler(a.tiss).RegisterRoutes(apiV1)
	nps.NewHandler(a.nps).RegisterRoutes(apiV1)
	reports.NewHandler(a.reports).RegisterRoutes(apiV1)
	notification.NewHandler(a.notifier).RegisterRoutes(apiV1)

	return e
}

func runServer(cfg *config.Config) error {
	logger := newLogger(cfg)

	signingKey, generated, err := resolveSigningKey(cfg)
	if err != nil {
		return err
	}
	if generated {
		logger.Warn().Msg("AUTH_SIGNING_KEY not set, using a random key; tokens will not survive a restart")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, serviceName, cfg.OTelEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn().Err(err).Msg("tracer shutdown failed")
		}
	}()

	a, err := newApp(ctx, cfg, logger, signingKey)
	if err != nil {
		return err
	}
	defer a.close()

	e := newEcho(a, signingKey)

	// Background jobs run alongside the API
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		a.newWorker().Start(ctx)
	}()

	serverErr := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		logger.Error().Err(err).Msg("server error")
		stop()
	}

	logger.Info().Msg("shutting down server")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(sctx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	<-workerDone
	logger.Info().Msg("server stopped")
	return nil
}

func runWorker(cfg *config.Config) error {
	logger := newLogger(cfg)

	signingKey, _, err := resolveSigningKey(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, serviceName+"-worker", cfg.OTelEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = shutdownTracing(sctx)
	}()

	a, err := newApp(ctx, cfg, logger, signingKey)
	if err != nil {
		return err
	}
	defer a.close()

	a.newWorker().Start(ctx)
	return nil
}
