package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/parnia-edu/parnia-api/internal/models"
	"github.com/parnia-edu/parnia-api/pkg/publicid"
)

const sectionDetailColumns = `s.id, s.public_id, s.course_id, s.term_id, s.instructor_id, s.local_id, s.total_capacity,
        s.first_session_weekday, s.second_session_weekday, s.hour_schedule, s.exam_date, s.created_at, s.updated_at,
        c.public_id AS course_public_id, c.name AS course_name, c.credit AS course_credit,
        t.public_id AS term_public_id, u.public_id AS instructor_public_id, u.full_name AS instructor_name,
        (SELECT COUNT(*) FROM course_logs cl WHERE cl.section_id = s.id) AS filled_capacity`

const sectionDetailJoins = `FROM course_sections s
JOIN courses c ON c.id = s.course_id
JOIN terms t ON t.id = s.term_id
JOIN users u ON u.id = s.instructor_id`

// SectionRepository handles persistence for course sections.
type SectionRepository struct {
	db *sqlx.DB
}

// NewSectionRepository constructs the repository.
func NewSectionRepository(db *sqlx.DB) *SectionRepository {
	return &SectionRepository{db: db}
}

// List returns section details narrowed by instructor and/or term; both
// conditions apply when both are present.
func (r *SectionRepository) List(ctx context.Context, filter models.SectionFilter) ([]models.CourseSectionDetail, int, error) {
	base := sectionDetailJoins
	var conditions []string
	var args []interface{}

	if filter.InstructorPublicID != "" {
		conditions = append(conditions, fmt.Sprintf("u.public_id = $%d", len(args)+1))
		args = append(args, filter.InstructorPublicID)
	}
	if filter.TermPublicID != "" {
		conditions = append(conditions, fmt.Sprintf("t.public_id = $%d", len(args)+1))
		args = append(args, filter.TermPublicID)
	}
	if filter.CoursePublicID != "" {
		conditions = append(conditions, fmt.Sprintf("c.public_id = $%d", len(args)+1))
		args = append(args, filter.CoursePublicID)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"course_name": "c.name",
		"local_id":    "s.local_id",
		"created_at":  "s.created_at",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "c.name"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "ASC"
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s %s ORDER BY %s %s, s.local_id ASC LIMIT %d OFFSET %d",
		sectionDetailColumns, base+clause, orderBy, order, size, offset)

	var sections []models.CourseSectionDetail
	if err := r.db.SelectContext(ctx, &sections, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list sections: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count sections: %w", err)
	}
	return sections, total, nil
}

// FindDetailByPublicID returns a section with joined context.
func (r *SectionRepository) FindDetailByPublicID(ctx context.Context, publicID string) (*models.CourseSectionDetail, error) {
	query := fmt.Sprintf("SELECT %s %s WHERE s.public_id = $1", sectionDetailColumns, sectionDetailJoins)
	var detail models.CourseSectionDetail
	if err := r.db.GetContext(ctx, &detail, query, publicID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find section detail: %w", err)
	}
	return &detail, nil
}

// FindByPublicID returns the bare section row.
func (r *SectionRepository) FindByPublicID(ctx context.Context, publicID string) (*models.CourseSection, error) {
	const query = `SELECT id, public_id, course_id, term_id, instructor_id, local_id, total_capacity,
        first_session_weekday, second_session_weekday, hour_schedule, exam_date, created_at, updated_at
        FROM course_sections WHERE public_id = $1`
	var section models.CourseSection
	if err := r.db.GetContext(ctx, &section, query, publicID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find section by public id: %w", err)
	}
	return &section, nil
}

// Create inserts a section, assigning the local sequence number as the count
// of existing sections for the same (course, term) plus one. The parent
// course row is locked so concurrent creations cannot share a local_id.
func (r *SectionRepository) Create(ctx context.Context, section *models.CourseSection) error {
	if section.ID == "" {
		section.ID = uuid.NewString()
	}
	section.PublicID = publicid.New(publicid.PrefixSection)
	now := time.Now().UTC()
	section.CreatedAt = now
	section.UpdatedAt = now

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create section: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var lockID string
	if err := tx.GetContext(ctx, &lockID, `SELECT id FROM courses WHERE id = $1 FOR UPDATE`, section.CourseID); err != nil {
		if err == sql.ErrNoRows {
			return err
		}
		return fmt.Errorf("lock course: %w", err)
	}

	var existing int
	if err := tx.GetContext(ctx, &existing,
		`SELECT COUNT(*) FROM course_sections WHERE course_id = $1 AND term_id = $2`,
		section.CourseID, section.TermID); err != nil {
		return fmt.Errorf("count sibling sections: %w", err)
	}
	section.LocalID = existing + 1

	const query = `INSERT INTO course_sections (id, public_id, course_id, term_id, instructor_id, local_id, total_capacity,
        first_session_weekday, second_session_weekday, hour_schedule, exam_date, created_at, updated_at)
        VALUES (:id, :public_id, :course_id, :term_id, :instructor_id, :local_id, :total_capacity,
        :first_session_weekday, :second_session_weekday, :hour_schedule, :exam_date, :created_at, :updated_at)`
	if _, err := tx.NamedExecContext(ctx, query, section); err != nil {
		return fmt.Errorf("create section: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create section: %w", err)
	}
	return nil
}

// Update rewrites mutable fields. local_id and public_id are assigned once
// at creation and never reassigned.
func (r *SectionRepository) Update(ctx context.Context, section *models.CourseSection) error {
	section.UpdatedAt = time.Now().UTC()
	const query = `UPDATE course_sections SET instructor_id = :instructor_id, total_capacity = :total_capacity,
        first_session_weekday = :first_session_weekday, second_session_weekday = :second_session_weekday,
        hour_schedule = :hour_schedule, exam_date = :exam_date, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, section); err != nil {
		return fmt.Errorf("update section: %w", err)
	}
	return nil
}

// Delete removes a section.
func (r *SectionRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM course_sections WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete section: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// FilledCapacity counts enrollments against a section.
func (r *SectionRepository) FilledCapacity(ctx context.Context, sectionID string) (int, error) {
	var filled int
	if err := r.db.GetContext(ctx, &filled, `SELECT COUNT(*) FROM course_logs WHERE section_id = $1`, sectionID); err != nil {
		return 0, fmt.Errorf("count filled capacity: %w", err)
	}
	return filled, nil
}

// InstructorOwnsSection reports whether the user instructs the section.
func (r *SectionRepository) InstructorOwnsSection(ctx context.Context, instructorID, sectionID string) (bool, error) {
	var one int
	err := r.db.GetContext(ctx, &one, `SELECT 1 FROM course_sections WHERE id = $1 AND instructor_id = $2 LIMIT 1`, sectionID, instructorID)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check section instructor: %w", err)
	}
	return true, nil
}
