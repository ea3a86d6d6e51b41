package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// MetricsHandler exposes Prometheus metrics at /metrics.
type MetricsHandler struct {
	handler http.Handler
}

// NewMetricsHandler wraps a Prometheus HTTP handler.
func NewMetricsHandler(h http.Handler) *MetricsHandler {
	return &MetricsHandler{handler: h}
}

// Register mounts GET /metrics.
func (h *MetricsHandler) Register(e *echo.Echo) {
	e.GET("/metrics", echo.WrapHandler(h.handler))
}
