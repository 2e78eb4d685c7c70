package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/parnia-edu/parnia-api/internal/authz"
	"github.com/parnia-edu/parnia-api/internal/models"
	"github.com/parnia-edu/parnia-api/internal/service"
	appErrors "github.com/parnia-edu/parnia-api/pkg/errors"
	"github.com/parnia-edu/parnia-api/pkg/response"
)

// Require evaluates a named access rule against the request and the acting
// subject. Requests without claims are treated as anonymous, so a rule that
// needs authentication denies them with 401 rather than 403. Every decision
// is exported with its rule name and outcome.
func Require(name string, rule authz.Predicate, metrics *service.MetricsService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var subject *authz.Subject
		if claimsValue, exists := c.Get(ContextUserKey); exists {
			if claims, ok := claimsValue.(*models.JWTClaims); ok {
				subject = claims.Subject()
			}
		}

		allowed := rule(authz.Context{Subject: subject, Method: c.Request.Method})
		metrics.RecordAuthzDecision(name, allowed)
		if allowed {
			c.Next()
			return
		}

		if subject == nil {
			response.Error(c, appErrors.ErrUnauthorized)
		} else {
			response.Error(c, appErrors.ErrForbidden)
		}
		c.Abort()
	}
}

// Claims extracts the JWT claims a JWT middleware stored on the context.
func Claims(c *gin.Context) (*models.JWTClaims, bool) {
	claimsValue, exists := c.Get(ContextUserKey)
	if !exists {
		return nil, false
	}
	claims, ok := claimsValue.(*models.JWTClaims)
	return claims, ok
}

// Subject extracts the acting subject, nil for anonymous requests.
func Subject(c *gin.Context) *authz.Subject {
	claims, ok := Claims(c)
	if !ok {
		return nil
	}
	return claims.Subject()
}
