package models

import "time"

// Course is a catalogue entry. The name is unique; prerequisites form a
// self-referential many-to-many relation stored in course_prerequisites and
// replaced wholesale on update.
type Course struct {
	ID        string    `db:"id" json:"-"`
	PublicID  string    `db:"public_id" json:"public_id"`
	Name      string    `db:"name" json:"name"`
	Credit    int       `db:"credit" json:"credit"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`

	// Prerequisites carries the resolved prerequisite course names; loaded
	// separately from the join table.
	Prerequisites []string `db:"-" json:"prerequisites"`
}

// CourseFilter provides the list endpoint's query narrowing. Prerequisites
// uses intersection semantics: a course matches only when it has every
// named course as a prerequisite.
type CourseFilter struct {
	Name          string
	Prerequisites []string
	Page          int
	PageSize      int
	SortBy        string
	SortOrder     string
}
