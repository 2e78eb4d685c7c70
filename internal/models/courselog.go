package models

import "time"

// CourseLogStatus tracks the grade lifecycle of an enrollment.
type CourseLogStatus string

const (
	// CourseLogStatusUnavailable means no grade has been entered yet.
	CourseLogStatusUnavailable CourseLogStatus = "Unavailable"
	// CourseLogStatusNotApproved means grades are entered but not finalised.
	CourseLogStatusNotApproved CourseLogStatus = "Not Approved"
	// CourseLogStatusApproved means the grade is finalised.
	CourseLogStatusApproved CourseLogStatus = "Approved"
)

// Grade bounds for midterm, final exam and final grade.
const (
	GradeMin = 0
	GradeMax = 20
)

// CourseLog is the enrollment record joining one student to one course
// section, carrying exam scores and a final grade. The student named on the
// record is its sole non-privileged reader.
type CourseLog struct {
	ID          string          `db:"id" json:"-"`
	PublicID    string          `db:"public_id" json:"public_id"`
	StudentID   string          `db:"student_id" json:"-"`
	SectionID   string          `db:"section_id" json:"-"`
	MidtermExam *int            `db:"midterm_exam" json:"midterm_exam,omitempty"`
	FinalExam   *int            `db:"final_exam" json:"final_exam,omitempty"`
	FinalGrade  *int            `db:"final_grade" json:"final_grade,omitempty"`
	Status      CourseLogStatus `db:"status" json:"status"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`
}

// OwnerID implements authz.Owned: the enrolled student owns the record.
func (l *CourseLog) OwnerID() string {
	if l == nil {
		return ""
	}
	return l.StudentID
}

// CourseLogDetail enriches a course log with joined context.
type CourseLogDetail struct {
	CourseLog
	StudentPublicID string `db:"student_public_id" json:"student"`
	StudentName     string `db:"student_name" json:"student_name"`
	SectionPublicID string `db:"section_public_id" json:"section"`
	CourseName      string `db:"course_name" json:"course_name"`
	CourseCredit    int    `db:"course_credit" json:"course_credit"`
	TermPublicID    string `db:"term_public_id" json:"term"`
	SectionLocalID  int    `db:"section_local_id" json:"section_local_id"`
}

// CourseLogFilter narrows course log listings.
type CourseLogFilter struct {
	StudentPublicID string
	SectionPublicID string
	TermPublicID    string
	Status          CourseLogStatus
	Page            int
	PageSize        int
}

// GradePatch carries a partial grade update for one course log. Nil fields
// are left untouched on the stored record.
type GradePatch struct {
	PublicID    string `json:"public_id"`
	MidtermExam *int   `json:"midterm_exam,omitempty"`
	FinalExam   *int   `json:"final_exam,omitempty"`
	FinalGrade  *int   `json:"final_grade,omitempty"`
}

// ValidGrade reports whether a supplied score lies inside the accepted
// inclusive bounds.
func ValidGrade(v int) bool {
	return v >= GradeMin && v <= GradeMax
}
