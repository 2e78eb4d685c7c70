package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/parnia-edu/parnia-api/internal/authz"
)

// LoginRequest holds credentials for authenticating a user.
type LoginRequest struct {
	Username  string `json:"username" validate:"required"`
	Password  string `json:"password" validate:"required"`
	IP        string `json:"-"`
	UserAgent string `json:"-"`
}

// LoginResponse returns the issued tokens and user info.
type LoginResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresIn    int64     `json:"expires_in"`
	User         UserInfo  `json:"user"`
	IssuedAt     time.Time `json:"issued_at"`
}

// RefreshTokenRequest exchanges a refresh token for a new access token.
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
	IP           string `json:"-"`
	UserAgent    string `json:"-"`
}

// RefreshTokenResponse returns the refreshed tokens.
type RefreshTokenResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresIn    int64     `json:"expires_in"`
	IssuedAt     time.Time `json:"issued_at"`
}

// UserInfo describes the authenticated user in responses.
type UserInfo struct {
	PublicID string   `json:"public_id"`
	Username string   `json:"username"`
	Email    string   `json:"email"`
	FullName string   `json:"full_name"`
	Roles    []string `json:"roles"`
	Elevated bool     `json:"elevated"`
}

// JWTClaims represents the JWT payload for access tokens. Roles carries the
// subject's full role set; Elevated marks superuser-equivalent accounts.
type JWTClaims struct {
	UserID   string   `json:"user_id"`
	PublicID string   `json:"public_id"`
	Roles    []string `json:"roles"`
	Active   bool     `json:"active"`
	Elevated bool     `json:"elevated"`
	Username string   `json:"username"`
	jwt.RegisteredClaims
}

// Subject projects the claims into the authorization core's actor view.
func (c *JWTClaims) Subject() *authz.Subject {
	if c == nil {
		return nil
	}
	roles := make([]authz.Role, 0, len(c.Roles))
	for _, r := range c.Roles {
		roles = append(roles, authz.Role(r))
	}
	return &authz.Subject{
		ID:       c.UserID,
		PublicID: c.PublicID,
		Active:   c.Active,
		Elevated: c.Elevated,
		Roles:    roles,
	}
}
