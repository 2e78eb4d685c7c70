package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/parnia-edu/parnia-api/internal/authz"
	"github.com/parnia-edu/parnia-api/internal/middleware"
	"github.com/parnia-edu/parnia-api/internal/models"
	appErrors "github.com/parnia-edu/parnia-api/pkg/errors"
	"github.com/parnia-edu/parnia-api/pkg/publicid"
	"github.com/parnia-edu/parnia-api/pkg/response"
)

// claimsFromContext returns the JWT claims stored by the auth
// middleware, or nil when the route ran without one.
func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, ok := c.Get(middleware.ContextUserKey)
	if !ok {
		return nil
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok {
		return nil
	}
	return claims
}

// subjectFromContext projects the request claims onto an authorization
// subject. Safe to call on unauthenticated routes; it returns nil.
func subjectFromContext(c *gin.Context) *authz.Subject {
	return claimsFromContext(c).Subject()
}

// publicIDParam pulls the :public_id path segment, rejecting strings no
// issuer could have produced before any repository lookup runs. When the
// segment is malformed the response has already been written.
func publicIDParam(c *gin.Context) (string, bool) {
	id := c.Param("public_id")
	if !publicid.Valid(id) {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "no record with that identifier"))
		return "", false
	}
	return id, true
}
