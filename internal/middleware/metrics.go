package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/parnia-edu/parnia-api/internal/service"
)

// Metrics records per-request observations on the metrics service. The
// route template is preferred over the raw path so that IDs do not blow
// up label cardinality.
func Metrics(metricsSvc *service.MetricsService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if metricsSvc == nil {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		metricsSvc.ObserveHTTPRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
