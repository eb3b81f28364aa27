package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/ehr/warehouse/internal/config"
	"github.com/ehr/warehouse/internal/domain/ontology"
	"github.com/ehr/warehouse/internal/domain/result"
	"github.com/ehr/warehouse/internal/platform/auth"
	"github.com/ehr/warehouse/internal/platform/db"
	"github.com/ehr/warehouse/internal/platform/middleware"
	"github.com/ehr/warehouse/pkg/resource"
)

const maxQueryBody = "1M"

// newServer wires middleware and routes. pool may be nil when results are
// kept in memory.
func newServer(cfg *config.Config, adapter resource.Adapter, svc *result.Service, pool *pgxpool.Pool, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:  cfg.CORSOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowHeaders:  []string{"Authorization", "Content-Type", "Prefer", middleware.RequestIDHeader},
		ExposeHeaders: []string{"Content-Location", "Retry-After", middleware.RequestIDHeader},
	}))
	e.Use(middleware.BodyLimit(maxQueryBody))

	if cfg.IsDev() && cfg.AuthIssuer == "" && cfg.AuthSigningKey == "" {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.AuthSigningKey),
			Skipper:    auth.AuthSkipper,
		}))
	}
	if cfg.RateLimitRPS > 0 {
		rl := middleware.DefaultRateLimitConfig()
		rl.RequestsPerSecond = cfg.RateLimitRPS
		rl.BurstSize = cfg.RateLimitBurst
		e.Use(middleware.RateLimit(rl))
	}

	checks := map[string]db.Check{
		"adapter": func(context.Context) error {
			if s := adapter.State(); s != resource.StateReady {
				return fmt.Errorf("adapter %s is %s", adapter.Name(), s)
			}
			return nil
		},
	}
	if pool != nil {
		checks["database"] = db.PingCheck(pool)
		e.GET("/health/db", db.HealthHandler(map[string]db.Check{"database": db.PingCheck(pool)}))
	}
	e.GET("/health", db.HealthHandler(checks))

	apiV1 := e.Group("/api/v1")
	if cfg.RequiredRole != "" {
		apiV1.Use(auth.RequireRole(cfg.RequiredRole))
	}
	result.NewHandler(svc).RegisterRoutes(apiV1)
	ontology.NewHandler(adapter).RegisterRoutes(apiV1)

	return e
}
