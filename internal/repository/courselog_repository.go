package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/parnia-edu/parnia-api/internal/models"
	appErrors "github.com/parnia-edu/parnia-api/pkg/errors"
	"github.com/parnia-edu/parnia-api/pkg/publicid"
)

const courseLogDetailColumns = `cl.id, cl.public_id, cl.student_id, cl.section_id, cl.midterm_exam, cl.final_exam,
        cl.final_grade, cl.status, cl.created_at, cl.updated_at,
        stu.public_id AS student_public_id, stu.full_name AS student_name,
        s.public_id AS section_public_id, s.local_id AS section_local_id,
        c.name AS course_name, c.credit AS course_credit, t.public_id AS term_public_id`

const courseLogDetailJoins = `FROM course_logs cl
JOIN users stu ON stu.id = cl.student_id
JOIN course_sections s ON s.id = cl.section_id
JOIN courses c ON c.id = s.course_id
JOIN terms t ON t.id = s.term_id`

// EnrollmentEntry is one section a student wants to join, tagged with its
// position in the submitted batch so violations can point back at it.
type EnrollmentEntry struct {
	Index   int
	Section *models.CourseSectionDetail
}

// CourseLogRepository handles persistence for enrollment records.
type CourseLogRepository struct {
	db *sqlx.DB
}

// NewCourseLogRepository constructs the repository.
func NewCourseLogRepository(db *sqlx.DB) *CourseLogRepository {
	return &CourseLogRepository{db: db}
}

// List returns enrollment details narrowed by student, section, term or
// status.
func (r *CourseLogRepository) List(ctx context.Context, filter models.CourseLogFilter) ([]models.CourseLogDetail, int, error) {
	base := courseLogDetailJoins
	var conditions []string
	var args []interface{}

	if filter.StudentPublicID != "" {
		conditions = append(conditions, fmt.Sprintf("stu.public_id = $%d", len(args)+1))
		args = append(args, filter.StudentPublicID)
	}
	if filter.SectionPublicID != "" {
		conditions = append(conditions, fmt.Sprintf("s.public_id = $%d", len(args)+1))
		args = append(args, filter.SectionPublicID)
	}
	if filter.TermPublicID != "" {
		conditions = append(conditions, fmt.Sprintf("t.public_id = $%d", len(args)+1))
		args = append(args, filter.TermPublicID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("cl.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
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

	query := fmt.Sprintf("SELECT %s %s ORDER BY cl.created_at DESC LIMIT %d OFFSET %d",
		courseLogDetailColumns, base+clause, size, offset)

	var logs []models.CourseLogDetail
	if err := r.db.SelectContext(ctx, &logs, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list course logs: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count course logs: %w", err)
	}
	return logs, total, nil
}

// FindDetailByPublicID returns one enrollment with joined context.
func (r *CourseLogRepository) FindDetailByPublicID(ctx context.Context, publicID string) (*models.CourseLogDetail, error) {
	query := fmt.Sprintf("SELECT %s %s WHERE cl.public_id = $1", courseLogDetailColumns, courseLogDetailJoins)
	var detail models.CourseLogDetail
	if err := r.db.GetContext(ctx, &detail, query, publicID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find course log detail: %w", err)
	}
	return &detail, nil
}

// FindByPublicIDs resolves a batch of public ids in one query. Callers
// compare the result length against the request to detect unknown ids.
func (r *CourseLogRepository) FindByPublicIDs(ctx context.Context, publicIDs []string) ([]models.CourseLog, error) {
	if len(publicIDs) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`SELECT id, public_id, student_id, section_id, midterm_exam, final_exam, final_grade,
        status, created_at, updated_at FROM course_logs WHERE public_id IN (?)`, publicIDs)
	if err != nil {
		return nil, fmt.Errorf("build bulk lookup: %w", err)
	}
	query = r.db.Rebind(query)
	var logs []models.CourseLog
	if err := r.db.SelectContext(ctx, &logs, query, args...); err != nil {
		return nil, fmt.Errorf("find course logs by public ids: %w", err)
	}
	return logs, nil
}

// CreateBatch enrolls one student into every listed section inside a single
// transaction, or into none of them. Section rows are locked in id order so
// concurrent enrollments serialize, then capacity and the per-term credit
// ceiling are re-checked against committed state. All violations across the
// batch are collected before rolling back.
func (r *CourseLogRepository) CreateBatch(ctx context.Context, studentID, termID string, entries []EnrollmentEntry, maxCredits int) ([]models.CourseLog, error) {
	if len(entries) == 0 {
		return nil, nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin enrollment: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	locked := make([]EnrollmentEntry, len(entries))
	copy(locked, entries)
	sort.Slice(locked, func(i, j int) bool { return locked[i].Section.ID < locked[j].Section.ID })
	for _, e := range locked {
		var id string
		if err := tx.GetContext(ctx, &id, `SELECT id FROM course_sections WHERE id = $1 FOR UPDATE`, e.Section.ID); err != nil {
			if err == sql.ErrNoRows {
				return nil, err
			}
			return nil, fmt.Errorf("lock section: %w", err)
		}
	}

	var usedCredits int
	if err := tx.GetContext(ctx, &usedCredits, `SELECT COALESCE(SUM(c.credit), 0)
        FROM course_logs cl
        JOIN course_sections s ON s.id = cl.section_id
        JOIN courses c ON c.id = s.course_id
        WHERE cl.student_id = $1 AND s.term_id = $2`, studentID, termID); err != nil {
		return nil, fmt.Errorf("sum term credits: %w", err)
	}

	verr := &appErrors.ValidationErrors{}
	batchCredits := 0
	// Committed rows are checked per entry below; this catches two sections
	// of the same course inside one batch, which no committed row reflects.
	seenCourses := make(map[string]bool, len(entries))
	for _, e := range entries {
		if seenCourses[e.Section.CourseID] {
			verr.Add(e.Index, "course_section", "batch enrolls the same course more than once")
		}
		seenCourses[e.Section.CourseID] = true
	}
	for _, e := range entries {
		var filled int
		if err := tx.GetContext(ctx, &filled, `SELECT COUNT(*) FROM course_logs WHERE section_id = $1`, e.Section.ID); err != nil {
			return nil, fmt.Errorf("count section enrollment: %w", err)
		}
		if filled >= e.Section.TotalCapacity {
			verr.Add(e.Index, "course_section", "section has no remaining capacity")
		}

		var exists bool
		if err := tx.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM course_logs cl
            JOIN course_sections s ON s.id = cl.section_id
            WHERE cl.student_id = $1 AND s.course_id = $2 AND s.term_id = $3)`,
			studentID, e.Section.CourseID, e.Section.TermID); err != nil {
			return nil, fmt.Errorf("check existing enrollment: %w", err)
		}
		if exists {
			verr.Add(e.Index, "course_section", "student is already enrolled in this course for the term")
		}
		batchCredits += e.Section.CourseCredit
	}
	if usedCredits+batchCredits > maxCredits {
		verr.AddField("course_sections", fmt.Sprintf("enrollment exceeds the %d credit limit for the term", maxCredits))
	}
	if !verr.Empty() {
		return nil, verr.AsError()
	}

	now := time.Now().UTC()
	logs := make([]models.CourseLog, 0, len(entries))
	for _, e := range entries {
		log := models.CourseLog{
			ID:        uuid.NewString(),
			PublicID:  publicid.New(publicid.PrefixCourseLog),
			StudentID: studentID,
			SectionID: e.Section.ID,
			Status:    models.CourseLogStatusUnavailable,
			CreatedAt: now,
			UpdatedAt: now,
		}
		const query = `INSERT INTO course_logs (id, public_id, student_id, section_id, midterm_exam, final_exam,
            final_grade, status, created_at, updated_at)
            VALUES (:id, :public_id, :student_id, :section_id, :midterm_exam, :final_exam,
            :final_grade, :status, :created_at, :updated_at)`
		if _, err := tx.NamedExecContext(ctx, query, &log); err != nil {
			if IsUniqueViolation(err, "course_logs_student_section_key") {
				return nil, appErrors.Clone(appErrors.ErrConflict, "student is already enrolled in this section")
			}
			return nil, fmt.Errorf("create course log: %w", err)
		}
		logs = append(logs, log)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit enrollment: %w", err)
	}
	return logs, nil
}

// UpdateGrades applies a set of grade patches inside one transaction. Every
// patched record moves to the not-approved status; fields absent from a
// patch keep their stored value.
func (r *CourseLogRepository) UpdateGrades(ctx context.Context, patches []models.GradePatch) error {
	if len(patches) == 0 {
		return nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin grade update: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const query = `UPDATE course_logs SET
        midterm_exam = COALESCE($2, midterm_exam),
        final_exam = COALESCE($3, final_exam),
        final_grade = COALESCE($4, final_grade),
        status = $5,
        updated_at = $6
        WHERE public_id = $1`
	now := time.Now().UTC()
	for _, p := range patches {
		res, err := tx.ExecContext(ctx, query, p.PublicID, p.MidtermExam, p.FinalExam, p.FinalGrade,
			models.CourseLogStatusNotApproved, now)
		if err != nil {
			return fmt.Errorf("update grades for %s: %w", p.PublicID, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return sql.ErrNoRows
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit grade update: %w", err)
	}
	return nil
}

// ApproveByPublicIDs finalises grades for records currently awaiting
// approval. It reports how many rows actually transitioned.
func (r *CourseLogRepository) ApproveByPublicIDs(ctx context.Context, publicIDs []string) (int, error) {
	if len(publicIDs) == 0 {
		return 0, nil
	}
	query, args, err := sqlx.In(`UPDATE course_logs SET status = ?, updated_at = ?
        WHERE public_id IN (?) AND status = ?`,
		models.CourseLogStatusApproved, time.Now().UTC(), publicIDs, models.CourseLogStatusNotApproved)
	if err != nil {
		return 0, fmt.Errorf("build approve query: %w", err)
	}
	query = r.db.Rebind(query)
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("approve course logs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("approve rows affected: %w", err)
	}
	return int(n), nil
}

// Delete removes an enrollment record.
func (r *CourseLogRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM course_logs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete course log: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// TranscriptRows returns every approved enrollment for one student, ordered
// by term then course name, for report generation.
func (r *CourseLogRepository) TranscriptRows(ctx context.Context, studentPublicID string) ([]models.CourseLogDetail, error) {
	query := fmt.Sprintf(`SELECT %s %s WHERE stu.public_id = $1 ORDER BY t.start_date ASC, c.name ASC`,
		courseLogDetailColumns, courseLogDetailJoins)
	var rows []models.CourseLogDetail
	if err := r.db.SelectContext(ctx, &rows, query, studentPublicID); err != nil {
		return nil, fmt.Errorf("load transcript rows: %w", err)
	}
	return rows, nil
}

// SectionGradeRows returns every enrollment in one section for report
// generation, ordered by student name.
func (r *CourseLogRepository) SectionGradeRows(ctx context.Context, sectionPublicID string) ([]models.CourseLogDetail, error) {
	query := fmt.Sprintf(`SELECT %s %s WHERE s.public_id = $1 ORDER BY stu.full_name ASC`,
		courseLogDetailColumns, courseLogDetailJoins)
	var rows []models.CourseLogDetail
	if err := r.db.SelectContext(ctx, &rows, query, sectionPublicID); err != nil {
		return nil, fmt.Errorf("load section grade rows: %w", err)
	}
	return rows, nil
}
