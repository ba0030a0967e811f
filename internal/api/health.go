package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/quantfeed/market-gateway/api/types"
	"github.com/quantfeed/market-gateway/internal/gateway"
	"github.com/quantfeed/market-gateway/internal/versioning"
)

// HealthMetrics tracks request outcomes over a sliding window for the
// readiness probe.
type HealthMetrics struct {
	mu             sync.RWMutex
	errorCount     int
	successCount   int
	windowStart    time.Time
	windowDuration time.Duration
	errorThreshold float64
}

// NewHealthMetrics creates a new health metrics tracker.
func NewHealthMetrics() *HealthMetrics {
	return &HealthMetrics{
		windowStart:    time.Now(),
		windowDuration: 10 * time.Minute,
		errorThreshold: 0.95, // 95% error rate threshold
	}
}

// RecordSuccess records a successful request.
func (hm *HealthMetrics) RecordSuccess() {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	hm.checkAndResetWindow()
	hm.successCount++
}

// RecordError records a failed request.
func (hm *HealthMetrics) RecordError() {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	hm.checkAndResetWindow()
	hm.errorCount++
}

// checkAndResetWindow resets the counters once the window has expired.
func (hm *HealthMetrics) checkAndResetWindow() {
	if time.Since(hm.windowStart) > hm.windowDuration {
		hm.errorCount = 0
		hm.successCount = 0
		hm.windowStart = time.Now()
	}
}

// IsHealthy reports whether the error rate within the window is acceptable.
func (hm *HealthMetrics) IsHealthy() bool {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	total := hm.errorCount + hm.successCount
	if total == 0 {
		return true // no requests yet
	}

	errorRate := float64(hm.errorCount) / float64(total)
	return errorRate < hm.errorThreshold
}

// GetStats returns the current window counters.
func (hm *HealthMetrics) GetStats() map[string]interface{} {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	total := hm.errorCount + hm.successCount
	errorRate := 0.0
	if total > 0 {
		errorRate = float64(hm.errorCount) / float64(total)
	}

	return map[string]interface{}{
		"error_count":     hm.errorCount,
		"success_count":   hm.successCount,
		"total_count":     total,
		"error_rate":      errorRate,
		"window_start":    hm.windowStart.Format(time.RFC3339),
		"window_duration": hm.windowDuration.String(),
	}
}

// Pinger is the slice of the config store the readiness probe needs.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Healthz is the liveness probe endpoint.
func Healthz() func(c echo.Context) error {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, types.HealthResponse{
			Status:  "ok",
			Version: versioning.ApplicationVersion,
		})
	}
}

// Readyz is the readiness probe endpoint. Not ready when the gateway is
// missing, the config store is unreachable, or the recent error rate is
// past the threshold.
func Readyz(gw *gateway.Gateway, st Pinger, healthMetrics *HealthMetrics) func(c echo.Context) error {
	return func(c echo.Context) error {
		checks := map[string]interface{}{
			"service": "market-gateway",
			"ready":   true,
			"checks":  map[string]interface{}{},
		}
		sub := checks["checks"].(map[string]interface{})

		if gw == nil {
			checks["ready"] = false
			sub["gateway"] = "not initialized"
			return c.JSON(http.StatusServiceUnavailable, checks)
		}
		sub["gateway"] = "ok"

		if st != nil {
			if err := st.Ping(c.Request().Context()); err != nil {
				checks["ready"] = false
				sub["store"] = err.Error()
				return c.JSON(http.StatusServiceUnavailable, checks)
			}
			sub["store"] = "ok"
		}

		if !healthMetrics.IsHealthy() {
			checks["ready"] = false
			sub["error_rate"] = "unhealthy"
			sub["stats"] = healthMetrics.GetStats()
			return c.JSON(http.StatusServiceUnavailable, checks)
		}
		sub["error_rate"] = "healthy"
		sub["stats"] = healthMetrics.GetStats()

		return c.JSON(http.StatusOK, checks)
	}
}
