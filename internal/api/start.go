// Package api exposes the gateway over HTTP: the data-plane endpoints, the
// diagnostics and admin endpoints, probes and prometheus metrics.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo-contrib/pprof"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"

	"github.com/quantfeed/market-gateway/internal/config"
	"github.com/quantfeed/market-gateway/internal/gateway"
)

// Store is everything the API needs from the config store: admin writes and
// the readiness ping. *store.Store satisfies it.
type Store interface {
	AdminStore
	Pinger
}

// Start runs the HTTP server until ctx is canceled.
func Start(ctx context.Context, gw *gateway.Gateway, st Store, jc config.Configuration) error {
	// Echo instance
	e := echo.New()

	switch strings.ToLower(jc.GetString("log_level", "info")) {
	case "debug":
		e.Logger.SetLevel(log.DEBUG)
	case "info":
		e.Logger.SetLevel(log.INFO)
	case "warn":
		e.Logger.SetLevel(log.WARN)
	case "error":
		e.Logger.SetLevel(log.ERROR)
	default:
		e.Logger.SetLevel(log.INFO)
	}

	healthMetrics := NewHealthMetrics()

	// Middleware
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(echoprometheus.NewMiddleware("market_gateway"))
	e.Use(APIKeyAuthMiddleware(jc))
	e.Use(HealthMetricsMiddleware(healthMetrics))

	// Probes and metrics (no auth required)
	e.GET(HealthCheckPath, Healthz())
	e.GET(ReadinessCheckPath, Readyz(gw, st, healthMetrics))
	e.GET(MetricsPath, echoprometheus.NewHandler())

	if jc.GetBool("profiling_enabled", false) {
		enableProfiling(e)
	}

	// Data plane
	v1 := e.Group("/api/v1")
	v1.POST("/quotes", quotes(gw))
	v1.POST("/kline", kline(gw))
	v1.POST("/search", search(gw))
	v1.POST("/news", news(gw))
	v1.POST("/page", page(gw))

	// Diagnostics
	v1.GET("/providers", providerStatuses(gw))
	v1.POST("/providers/:name/reset", resetProvider(gw))
	v1.GET("/keys", keyStatuses(gw))
	v1.GET("/capabilities", capabilities(gw))
	v1.GET("/stats", gatewayStats(gw))

	// Admin
	admin := v1.Group("/admin")
	admin.POST("/providers", upsertProviderConfig(st, gw))
	admin.DELETE("/providers/:name", deleteProviderConfig(st, gw))
	admin.POST("/keys", upsertSearchKey(st, gw))
	admin.DELETE("/keys/:id", deleteSearchKey(st, gw))
	admin.POST("/reload", reload(gw))

	go func() {
		<-ctx.Done()
		if err := e.Close(); err != nil {
			e.Logger.Error("Failed to close Echo server: ", err)
		}
	}()

	listenAddress := jc.ListenAddress()
	e.Logger.Info(fmt.Sprintf("Starting server on %s", listenAddress))
	if err := e.Start(listenAddress); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// enableProfiling registers the pprof endpoints and turns on the
// performance-intensive probes.
func enableProfiling(e *echo.Echo) {
	e.Logger.Info("Enabling profiling - this may impact performance")

	// TODO: make the sampling rates configurable
	runtime.SetBlockProfileRate(500)
	runtime.SetMutexProfileFraction(1)
	runtime.SetCPUProfileRate(30)

	pprof.Register(e)
}
