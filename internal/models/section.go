package models

import "time"

// Weekday and hour-slot choices for section scheduling.
var (
	SectionWeekdays = []string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"}
	SectionHours    = []string{"8-10", "10-12", "2-4", "4-6", "6-8"}
)

// CourseSection is one offering of a course within a term. LocalID is the
// section's sequence number among all sections of the same (course, term),
// assigned at creation as count+1 and never reassigned.
type CourseSection struct {
	ID                   string    `db:"id" json:"-"`
	PublicID             string    `db:"public_id" json:"public_id"`
	CourseID             string    `db:"course_id" json:"-"`
	TermID               string    `db:"term_id" json:"-"`
	InstructorID         string    `db:"instructor_id" json:"-"`
	LocalID              int       `db:"local_id" json:"local_id"`
	TotalCapacity        int       `db:"total_capacity" json:"total_capacity"`
	FirstSessionWeekday  string    `db:"first_session_weekday" json:"first_session_weekday"`
	SecondSessionWeekday string    `db:"second_session_weekday" json:"second_session_weekday"`
	HourSchedule         string    `db:"hour_schedule" json:"hour_schedule"`
	ExamDate             time.Time `db:"exam_date" json:"exam_date"`
	CreatedAt            time.Time `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time `db:"updated_at" json:"updated_at"`
}

// CourseSectionDetail enriches a section with joined context for responses.
type CourseSectionDetail struct {
	CourseSection
	CoursePublicID     string `db:"course_public_id" json:"course"`
	CourseName         string `db:"course_name" json:"course_name"`
	CourseCredit       int    `db:"course_credit" json:"course_credit"`
	TermPublicID       string `db:"term_public_id" json:"term"`
	InstructorPublicID string `db:"instructor_public_id" json:"instructor"`
	InstructorName     string `db:"instructor_name" json:"instructor_name"`
	FilledCapacity     int    `db:"filled_capacity" json:"filled_capacity"`
}

// SectionFilter narrows section listings by instructor and/or term; both
// apply when both are given.
type SectionFilter struct {
	InstructorPublicID string
	TermPublicID       string
	CoursePublicID     string
	Page               int
	PageSize           int
	SortBy             string
	SortOrder          string
}
