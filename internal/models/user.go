package models

import (
	"time"

	"github.com/lib/pq"

	"github.com/parnia-edu/parnia-api/internal/authz"
)

// User represents an application user stored in the users table. Role
// membership is a set over the closed role enum; a user may hold several
// roles at once.
type User struct {
	ID           string         `db:"id" json:"-"`
	PublicID     string         `db:"public_id" json:"public_id"`
	Username     string         `db:"username" json:"username"`
	Email        string         `db:"email" json:"email"`
	PasswordHash string         `db:"password_hash" json:"-"`
	FullName     string         `db:"full_name" json:"full_name"`
	Roles        pq.StringArray `db:"roles" json:"roles"`
	Active       bool           `db:"active" json:"active"`
	Elevated     bool           `db:"elevated" json:"elevated"`
	LastLogin    *time.Time     `db:"last_login" json:"last_login,omitempty"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at" json:"updated_at"`
}

// Subject projects the user into the authorization core's view of an actor.
func (u *User) Subject() *authz.Subject {
	if u == nil {
		return nil
	}
	roles := make([]authz.Role, 0, len(u.Roles))
	for _, r := range u.Roles {
		roles = append(roles, authz.Role(r))
	}
	return &authz.Subject{
		ID:       u.ID,
		PublicID: u.PublicID,
		Active:   u.Active,
		Elevated: u.Elevated,
		Roles:    roles,
	}
}

// SubjectID implements authz.Identified so self-access rules can match a
// user record against the acting subject.
func (u *User) SubjectID() string {
	if u == nil {
		return ""
	}
	return u.ID
}

// HasRole reports role-set membership.
func (u *User) HasRole(r authz.Role) bool {
	if u == nil {
		return false
	}
	for _, have := range u.Roles {
		if authz.Role(have) == r {
			return true
		}
	}
	return false
}

// UserFilter captures filtering criteria for listing users.
type UserFilter struct {
	Role      string
	Active    *bool
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
