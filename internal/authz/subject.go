// Package authz implements the role-based authorization core: subjects with
// role sets, pure boolean predicates over a request context, and AND/OR/NOT
// combinators composing them into per-operation access rules.
package authz

// Role names a permission scope. The set is closed for this domain.
type Role string

const (
	RoleStudent       Role = "STUDENT"
	RoleInstructor    Role = "INSTRUCTOR"
	RoleStaff         Role = "STAFF"
	RoleAdministrator Role = "ADMINISTRATOR"
)

// KnownRoles lists every role the directory recognises.
var KnownRoles = []Role{RoleStudent, RoleInstructor, RoleStaff, RoleAdministrator}

// ValidRole reports whether r is one of the known roles.
func ValidRole(r Role) bool {
	switch r {
	case RoleStudent, RoleInstructor, RoleStaff, RoleAdministrator:
		return true
	}
	return false
}

// Subject is the authenticated actor attempting an operation. A subject may
// hold zero, one, or several roles; membership is a set, not an exclusive
// assignment.
type Subject struct {
	ID       string
	PublicID string
	Active   bool
	Elevated bool
	Roles    []Role
}

// HasRole reports set membership. Safe on a nil subject or an empty set.
func (s *Subject) HasRole(r Role) bool {
	if s == nil {
		return false
	}
	for _, have := range s.Roles {
		if have == r {
			return true
		}
	}
	return false
}

// AnyRole reports whether the subject holds at least one known role.
func (s *Subject) AnyRole() bool {
	if s == nil {
		return false
	}
	for _, have := range s.Roles {
		if ValidRole(have) {
			return true
		}
	}
	return false
}

// Owned is implemented by records that designate an owning subject.
type Owned interface {
	OwnerID() string
}

// Identified is implemented by records that are themselves a subject
// (a user record), for self-access rules.
type Identified interface {
	SubjectID() string
}

// Context carries the ambient facts a permission decision needs: the acting
// subject (nil when anonymous), the HTTP method, and, for object-level
// checks, the target record.
type Context struct {
	Subject *Subject
	Method  string
	Object  interface{}
}
