// Package handler exposes the gateway's HTTP surface.
package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"service-gateway/internal/config"
	"service-gateway/internal/metrics"
)

// RegisterRoutes wires all route handlers onto the Echo instance. Local
// routes are static and take precedence over the catch-all gateway route.
func RegisterRoutes(e *echo.Echo, gateway *GatewayHandler, health *HealthHandler) {
	e.GET(config.HealthPath, health.Healthz)
	e.GET(config.StatusPath, health.Status)

	e.Any("/*", gateway.Handle)
}

// RegisterMetrics exposes the Prometheus registry when metrics are enabled.
func RegisterMetrics(e *echo.Echo, cfg *config.Config, m *metrics.Metrics) {
	if !cfg.Metrics.Enabled {
		return
	}
	e.GET(cfg.MetricsPath(), echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
}
