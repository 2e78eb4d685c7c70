package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/parnia-edu/parnia-api/internal/service"
)

// MetricsHandler serves the Prometheus scrape endpoint and the health probe.
type MetricsHandler struct {
	metrics *service.MetricsService
	started time.Time
}

// NewMetricsHandler builds a handler around the metrics service. A nil
// service disables the scrape endpoint but keeps the health probe alive.
func NewMetricsHandler(metrics *service.MetricsService) *MetricsHandler {
	return &MetricsHandler{metrics: metrics, started: time.Now().UTC()}
}

// Prometheus exposes the registry in the Prometheus text format.
func (h *MetricsHandler) Prometheus(c *gin.Context) {
	if h.metrics == nil {
		c.Status(http.StatusServiceUnavailable)
		return
	}
	h.metrics.Handler().ServeHTTP(c.Writer, c.Request)
}

// Health answers readiness and liveness probes.
func (h *MetricsHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(h.started).Round(time.Second).String(),
	})
}
