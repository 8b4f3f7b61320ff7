package middleware

import (
	"errors"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"service-gateway/internal/metrics"
)

// MetricsMiddleware returns an Echo middleware that records Prometheus metrics
// for each inbound request, labelled by the backend the router selected.
func MetricsMiddleware(m *metrics.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			m.RequestsInFlight.Inc()
			defer m.RequestsInFlight.Dec()

			start := time.Now()

			err := next(c)

			// A returned *echo.HTTPError has not been written yet; Echo's
			// central error handler does that after us.
			statusCode := c.Response().Status
			if err != nil {
				var he *echo.HTTPError
				if errors.As(err, &he) {
					statusCode = he.Code
				}
			}

			status := strconv.Itoa(statusCode)
			method := metrics.NormalizeMethod(c.Request().Method)
			backend := backendLabel(c)
			duration := time.Since(start).Seconds()

			m.RequestsTotal.WithLabelValues(method, status, backend).Inc()
			m.RequestDuration.WithLabelValues(method, status, backend).Observe(duration)

			return err
		}
	}
}

// backendLabel returns the backend name set by the gateway handler. Requests
// served locally (health, status, metrics, router 404s) carry none.
func backendLabel(c echo.Context) string {
	if name, ok := c.Get(metrics.BackendContextKey).(string); ok && name != "" {
		return name
	}
	return metrics.RouteLocal
}
