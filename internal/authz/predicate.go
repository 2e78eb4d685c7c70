package authz

import "net/http"

// Predicate is a pure, total function gating access based on subject and
// context. A nil subject never panics: every role and ownership predicate
// evaluates to false for anonymous callers.
type Predicate func(ctx Context) bool

// IsAuthenticated permits any resolved subject.
func IsAuthenticated(ctx Context) bool {
	return ctx.Subject != nil
}

// IsActive permits subjects whose account is active.
func IsActive(ctx Context) bool {
	return ctx.Subject != nil && ctx.Subject.Active
}

// IsElevated permits superuser-equivalent subjects.
func IsElevated(ctx Context) bool {
	return ctx.Subject != nil && ctx.Subject.Elevated
}

// IsReadOnly permits safe methods only.
func IsReadOnly(ctx Context) bool {
	switch ctx.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

// CanDelete permits DELETE requests.
func CanDelete(ctx Context) bool {
	return ctx.Method == http.MethodDelete
}

// IsPostOnly permits POST requests.
func IsPostOnly(ctx Context) bool {
	return ctx.Method == http.MethodPost
}

// HasRole builds a predicate permitting subjects holding the given role.
func HasRole(r Role) Predicate {
	return func(ctx Context) bool {
		return ctx.Subject.HasRole(r)
	}
}

// Named role predicates, matching the directory's fixed role set.
var (
	IsStudent       = HasRole(RoleStudent)
	IsInstructor    = HasRole(RoleInstructor)
	IsStaff         = HasRole(RoleStaff)
	IsAdministrator = HasRole(RoleAdministrator)
)

// IsAnyMember permits subjects that are elevated or belong to at least one
// known role group.
func IsAnyMember(ctx Context) bool {
	if ctx.Subject == nil {
		return false
	}
	return ctx.Subject.Elevated || ctx.Subject.AnyRole()
}

// IsSelf permits when the target record is the subject's own user record.
// Object-level only; false when no object is attached.
func IsSelf(ctx Context) bool {
	if ctx.Subject == nil || ctx.Object == nil {
		return false
	}
	ident, ok := ctx.Object.(Identified)
	if !ok {
		return false
	}
	return ident.SubjectID() != "" && ident.SubjectID() == ctx.Subject.ID
}

// IsOwner permits when the target record's designated owner is the subject.
// Object-level only; false when no object is attached.
func IsOwner(ctx Context) bool {
	if ctx.Subject == nil || ctx.Object == nil {
		return false
	}
	owned, ok := ctx.Object.(Owned)
	if !ok {
		return false
	}
	return owned.OwnerID() != "" && owned.OwnerID() == ctx.Subject.ID
}
