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

// CourseRepository handles persistence for catalogue courses and their
// prerequisite graph.
type CourseRepository struct {
	db *sqlx.DB
}

// NewCourseRepository constructs the repository.
func NewCourseRepository(db *sqlx.DB) *CourseRepository {
	return &CourseRepository{db: db}
}

// List returns courses matching the filter. The prerequisite filter uses
// intersection semantics: one EXISTS clause per named prerequisite, so only
// courses having every named course qualify.
func (r *CourseRepository) List(ctx context.Context, filter models.CourseFilter) ([]models.Course, int, error) {
	base := `FROM courses c WHERE 1=1`
	var conditions []string
	var args []interface{}

	if filter.Name != "" {
		conditions = append(conditions, fmt.Sprintf("c.name = $%d", len(args)+1))
		args = append(args, filter.Name)
	}
	for _, pre := range filter.Prerequisites {
		conditions = append(conditions, fmt.Sprintf(
			`EXISTS (SELECT 1 FROM course_prerequisites cp JOIN courses p ON p.id = cp.prerequisite_id WHERE cp.course_id = c.id AND LOWER(p.name) = LOWER($%d))`,
			len(args)+1))
		args = append(args, pre)
	}

	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	sortBy := filter.SortBy
	allowedSorts := map[string]bool{"name": true, "credit": true, "created_at": true}
	if !allowedSorts[sortBy] {
		sortBy = "name"
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

	query := fmt.Sprintf(`SELECT c.id, c.public_id, c.name, c.credit, c.created_at, c.updated_at %s ORDER BY c.%s %s LIMIT %d OFFSET %d`, base, sortBy, order, size, offset)

	var courses []models.Course
	if err := r.db.SelectContext(ctx, &courses, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list courses: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count courses: %w", err)
	}

	for i := range courses {
		names, err := r.PrerequisiteNames(ctx, courses[i].ID)
		if err != nil {
			return nil, 0, err
		}
		courses[i].Prerequisites = names
	}
	return courses, total, nil
}

// FindByPublicID returns a course with its prerequisite names resolved.
func (r *CourseRepository) FindByPublicID(ctx context.Context, publicID string) (*models.Course, error) {
	const query = `SELECT id, public_id, name, credit, created_at, updated_at FROM courses WHERE public_id = $1`
	var course models.Course
	if err := r.db.GetContext(ctx, &course, query, publicID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find course by public id: %w", err)
	}
	names, err := r.PrerequisiteNames(ctx, course.ID)
	if err != nil {
		return nil, err
	}
	course.Prerequisites = names
	return &course, nil
}

// FindIDsByNames resolves course names to internal ids, preserving input
// order. Missing names are absent from the result.
func (r *CourseRepository) FindIDsByNames(ctx context.Context, names []string) (map[string]string, error) {
	resolved := make(map[string]string, len(names))
	if len(names) == 0 {
		return resolved, nil
	}
	placeholders := make([]string, len(names))
	args := make([]interface{}, len(names))
	for i, n := range names {
		placeholders[i] = fmt.Sprintf("LOWER($%d)", i+1)
		args[i] = n
	}
	query := fmt.Sprintf(`SELECT id, name FROM courses WHERE LOWER(name) IN (%s)`, strings.Join(placeholders, ","))
	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("resolve course names: %w", err)
	}
	defer rows.Close() //nolint:errcheck
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("scan course name: %w", err)
		}
		resolved[strings.ToLower(name)] = id
	}
	return resolved, rows.Err()
}

// PrerequisiteNames returns prerequisite course names ordered by name.
func (r *CourseRepository) PrerequisiteNames(ctx context.Context, courseID string) ([]string, error) {
	const query = `SELECT p.name FROM course_prerequisites cp JOIN courses p ON p.id = cp.prerequisite_id WHERE cp.course_id = $1 ORDER BY p.name`
	var names []string
	if err := r.db.SelectContext(ctx, &names, query, courseID); err != nil {
		return nil, fmt.Errorf("list prerequisite names: %w", err)
	}
	return names, nil
}

// PrerequisiteIDs returns the direct prerequisite ids of a course, used by
// the cycle walk.
func (r *CourseRepository) PrerequisiteIDs(ctx context.Context, courseID string) ([]string, error) {
	const query = `SELECT prerequisite_id FROM course_prerequisites WHERE course_id = $1`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, courseID); err != nil {
		return nil, fmt.Errorf("list prerequisite ids: %w", err)
	}
	return ids, nil
}

// Create inserts a course and its prerequisite links in one transaction.
func (r *CourseRepository) Create(ctx context.Context, course *models.Course, prerequisiteIDs []string) error {
	if course.ID == "" {
		course.ID = uuid.NewString()
	}
	course.PublicID = publicid.New(publicid.PrefixCourse)
	now := time.Now().UTC()
	course.CreatedAt = now
	course.UpdatedAt = now

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create course: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const query = `INSERT INTO courses (id, public_id, name, credit, created_at, updated_at)
        VALUES (:id, :public_id, :name, :credit, :created_at, :updated_at)`
	if _, err := tx.NamedExecContext(ctx, query, course); err != nil {
		return fmt.Errorf("create course: %w", err)
	}
	if err := setPrerequisites(ctx, tx, course.ID, prerequisiteIDs); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create course: %w", err)
	}
	return nil
}

// Update rewrites the mutable fields and replaces the prerequisite set
// wholesale (clear-then-set, mirroring the catalogue's update contract).
func (r *CourseRepository) Update(ctx context.Context, course *models.Course, prerequisiteIDs []string) error {
	course.UpdatedAt = time.Now().UTC()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update course: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const query = `UPDATE courses SET name = :name, credit = :credit, updated_at = :updated_at WHERE id = :id`
	if _, err := tx.NamedExecContext(ctx, query, course); err != nil {
		return fmt.Errorf("update course: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM course_prerequisites WHERE course_id = $1`, course.ID); err != nil {
		return fmt.Errorf("clear prerequisites: %w", err)
	}
	if err := setPrerequisites(ctx, tx, course.ID, prerequisiteIDs); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit update course: %w", err)
	}
	return nil
}

// Delete removes a course. Prerequisite links cascade via the schema.
func (r *CourseRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM courses WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete course: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func setPrerequisites(ctx context.Context, tx *sqlx.Tx, courseID string, prerequisiteIDs []string) error {
	for _, preID := range prerequisiteIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO course_prerequisites (course_id, prerequisite_id) VALUES ($1, $2)`,
			courseID, preID); err != nil {
			return fmt.Errorf("set prerequisite: %w", err)
		}
	}
	return nil
}
