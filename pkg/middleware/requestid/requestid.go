package requestid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	// Header carries the request ID on requests and responses.
	Header     = "X-Request-ID"
	contextKey = "request_id"
)

// Middleware tags every request with an identifier, reusing one supplied by
// the caller so upstream proxies can correlate their logs with ours.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(Header)
		if id == "" {
			id = newID()
		}
		c.Set(contextKey, id)
		c.Writer.Header().Set(Header, id)
		c.Next()
	}
}

// Value returns the request ID stored on the context, or "" outside the
// middleware.
func Value(c *gin.Context) string {
	if v, ok := c.Get(contextKey); ok {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

func newID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("req-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf)
}
