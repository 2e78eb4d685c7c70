package models

import "time"

// ComplainStatus tracks whether the section's instructor has seen the
// complaint.
type ComplainStatus string

const (
	ComplainStatusUnseen ComplainStatus = "Unseen"
	ComplainStatusSeen   ComplainStatus = "Seen"
)

// ComplainMaxTextLen bounds the free-text body.
const ComplainMaxTextLen = 300

// Complain links a student to a course section with free text. At most one
// complaint may exist per (student, section) pair.
type Complain struct {
	ID        string         `db:"id" json:"-"`
	PublicID  string         `db:"public_id" json:"public_id"`
	StudentID string         `db:"student_id" json:"-"`
	SectionID string         `db:"section_id" json:"-"`
	Text      string         `db:"text" json:"text"`
	Status    ComplainStatus `db:"status" json:"status"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt time.Time      `db:"updated_at" json:"updated_at"`
}

// OwnerID implements authz.Owned: the filing student owns the record.
func (c *Complain) OwnerID() string {
	if c == nil {
		return ""
	}
	return c.StudentID
}

// ComplainDetail enriches a complaint with joined context.
type ComplainDetail struct {
	Complain
	StudentPublicID string `db:"student_public_id" json:"student"`
	StudentName     string `db:"student_name" json:"student_name"`
	SectionPublicID string `db:"section_public_id" json:"section"`
	CourseName      string `db:"course_name" json:"course_name"`
	SectionLocalID  int    `db:"section_local_id" json:"section_local_id"`
}
