package cors

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const preflightCacheSeconds = "600"

// New builds a CORS middleware from the configured origin allowlist. An
// empty allowlist permits every origin.
func New(allowedOrigins []string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[normalize(origin)] = struct{}{}
	}
	openToAll := len(allowed) == 0

	return func(c *gin.Context) {
		h := c.Writer.Header()
		origin := c.GetHeader("Origin")
		switch {
		case origin != "" && (openToAll || contains(allowed, origin)):
			h.Set("Access-Control-Allow-Origin", origin)
		case origin == "" && openToAll:
			h.Set("Access-Control-Allow-Origin", "*")
		}

		h.Set("Vary", "Origin")
		h.Set("Access-Control-Allow-Credentials", "true")
		h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Requested-With, X-Request-ID")
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		h.Set("Access-Control-Max-Age", preflightCacheSeconds)

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func contains(allowed map[string]struct{}, origin string) bool {
	_, ok := allowed[normalize(origin)]
	return ok
}

func normalize(origin string) string {
	return strings.TrimRight(origin, "/")
}
