package db

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

const checkTimeout = 5 * time.Second

// Check probes one dependency; a nil error means healthy.
type Check func(ctx context.Context) error

// PingCheck probes the database pool.
func PingCheck(pool *pgxpool.Pool) Check {
	return func(ctx context.Context) error {
		return pool.Ping(ctx)
	}
}

// CheckResult is the outcome of one named check.
type CheckResult struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

// HealthHandler runs every check and answers 503 if any of them fails.
func HealthHandler(checks map[string]Check) echo.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), checkTimeout)
		defer cancel()

		status, code := "healthy", http.StatusOK
		results := make([]CheckResult, 0, len(names))
		for _, name := range names {
			res := CheckResult{Name: name, Healthy: true}
			if err := checks[name](ctx); err != nil {
				res.Healthy = false
				res.Error = err.Error()
				status, code = "unhealthy", http.StatusServiceUnavailable
			}
			results = append(results, res)
		}

		return c.JSON(code, map[string]interface{}{
			"status": status,
			"checks": results,
		})
	}
}
