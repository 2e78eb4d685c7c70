package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/parnia-edu/parnia-api/internal/service"
	appErrors "github.com/parnia-edu/parnia-api/pkg/errors"
	"github.com/parnia-edu/parnia-api/pkg/response"
)

// ContextUserKey is the gin context key storing JWT claims.
const ContextUserKey = "currentUser"

const bearerScheme = "Bearer"

// bearerToken pulls the raw token out of the Authorization header.
// The second return reports whether the header carried a bearer scheme
// at all, so callers can distinguish "absent" from "malformed".
func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if header == "" {
		return "", false
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, bearerScheme) {
		return "", false
	}
	return strings.TrimSpace(token), true
}

// JWT protects routes by requiring a valid access token.
func JWT(authService *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok || token == "" {
			response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "missing or malformed bearer token"))
			c.Abort()
			return
		}

		claims, err := authService.ValidateToken(token)
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		c.Set(ContextUserKey, claims)
		c.Next()
	}
}

// OptionalJWT attaches claims when a valid token is present but never
// blocks the request. Handlers behind it must tolerate a nil subject.
func OptionalJWT(authService *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token, ok := bearerToken(c); ok && token != "" {
			if claims, err := authService.ValidateToken(token); err == nil {
				c.Set(ContextUserKey, claims)
			}
		}
		c.Next()
	}
}
