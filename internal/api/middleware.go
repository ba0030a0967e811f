package api

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/quantfeed/market-gateway/internal/config"
)

const (
	HealthCheckPath    = "/healthz"
	ReadinessCheckPath = "/readyz"
	MetricsPath        = "/metrics"
)

func openPath(path string) bool {
	return path == HealthCheckPath || path == ReadinessCheckPath || path == MetricsPath
}

// APIKeyAuthMiddleware returns an Echo middleware that checks for the API key
// in the request headers. With no api_key configured every request passes.
func APIKeyAuthMiddleware(jc config.Configuration) echo.MiddlewareFunc {
	apiKey := jc.GetString("api_key", "")
	if apiKey == "" {
		return func(next echo.HandlerFunc) echo.HandlerFunc {
			return func(c echo.Context) error {
				return next(c)
			}
		}
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			// Probes and the metrics scraper stay unauthenticated
			if openPath(c.Request().URL.Path) {
				return next(c)
			}

			// Check Authorization: Bearer <API_KEY> or X-API-Key header
			if c.Request().Header.Get("Authorization") == "Bearer "+apiKey {
				return next(c)
			}
			if c.Request().Header.Get("X-API-Key") == apiKey {
				return next(c)
			}
			return echo.NewHTTPError(http.StatusUnauthorized, "missing or invalid API key")
		}
	}
}

// HealthMetricsMiddleware tracks success and error rates for the readiness
// probe.
func HealthMetricsMiddleware(healthMetrics *HealthMetrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			path := c.Request().URL.Path
			if openPath(path) {
				return next(c)
			}

			err := next(c)

			// 4xx responses are the client's fault and say nothing about
			// gateway health, so only 2xx/3xx and 5xx are counted
			if strings.HasPrefix(path, "/api/") {
				statusCode := c.Response().Status
				if statusCode >= 500 {
					healthMetrics.RecordError()
				} else if statusCode >= 200 && statusCode < 400 {
					healthMetrics.RecordSuccess()
				}
			}

			return err
		}
	}
}
