package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pdf-relay-go/internal/config"
	"pdf-relay-go/internal/metrics"
)

// RegisterRoutes wires all route handlers onto the Echo instance.
func RegisterRoutes(e *echo.Echo, relay *RelayHandler, health *HealthHandler) {
	e.GET("/healthz", health.Healthz)
	e.GET("/relay/status", health.Status)

	e.GET("/api/health", health.APIHealth)
	e.GET("/api/meta", relay.Meta)
	e.GET("/api/pdf", relay.PDF)
}

// RegisterMetrics exposes the Prometheus registry when metrics are enabled.
func RegisterMetrics(e *echo.Echo, cfg *config.Config, m *metrics.Metrics) {
	if !cfg.Metrics.Enabled {
		return
	}
	e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
}
