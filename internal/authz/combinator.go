package authz

// And permits only when every branch permits. Evaluation is left-to-right
// and stops at the first denial; branches must stay pure so the
// short-circuit is unobservable.
func And(preds ...Predicate) Predicate {
	return func(ctx Context) bool {
		for _, p := range preds {
			if !p(ctx) {
				return false
			}
		}
		return true
	}
}

// Or permits when at least one branch permits, stopping at the first grant.
func Or(preds ...Predicate) Predicate {
	return func(ctx Context) bool {
		for _, p := range preds {
			if p(ctx) {
				return true
			}
		}
		return false
	}
}

// Not inverts a predicate.
func Not(p Predicate) Predicate {
	return func(ctx Context) bool {
		return !p(ctx)
	}
}

// Privileged is the shared write-side rule for administrative records:
// active, authenticated, and elevated or holding an administrative role,
// with reads open to any active authenticated caller.
var Privileged = And(
	IsActive,
	IsAuthenticated,
	Or(IsElevated, IsAdministrator, IsStaff, IsReadOnly),
)

// StudentWritable extends the privileged rule with student-initiated
// creation, used by enrollment endpoints.
var StudentWritable = And(
	IsActive,
	IsAuthenticated,
	Or(IsElevated, IsAdministrator, IsStaff, IsStudent, IsReadOnly),
)

// InstructorRead is the rule for instructor-scoped listings.
var InstructorRead = And(
	IsActive,
	IsAuthenticated,
	Or(IsElevated, IsAdministrator, IsInstructor),
)

// Grading is the rule for grade entry and approval: instructors record
// marks for their own sections, staff and administrators correct and
// approve them. Section ownership is checked at the service layer.
var Grading = And(
	IsActive,
	IsAuthenticated,
	Or(IsElevated, IsAdministrator, IsStaff, IsInstructor),
)

// OwnerOrPrivileged is the object-level rule for personal records.
var OwnerOrPrivileged = And(
	IsActive,
	IsAuthenticated,
	Or(IsOwner, IsSelf, IsElevated, IsAdministrator, IsStaff),
)
