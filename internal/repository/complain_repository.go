package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/parnia-edu/parnia-api/internal/models"
	appErrors "github.com/parnia-edu/parnia-api/pkg/errors"
	"github.com/parnia-edu/parnia-api/pkg/publicid"
)

const complainDetailColumns = `cp.id, cp.public_id, cp.student_id, cp.section_id, cp.text, cp.status,
        cp.created_at, cp.updated_at,
        stu.public_id AS student_public_id, stu.full_name AS student_name,
        s.public_id AS section_public_id, s.local_id AS section_local_id, c.name AS course_name`

const complainDetailJoins = `FROM complains cp
JOIN users stu ON stu.id = cp.student_id
JOIN course_sections s ON s.id = cp.section_id
JOIN courses c ON c.id = s.course_id`

// ComplainRepository handles persistence for student complaints.
type ComplainRepository struct {
	db *sqlx.DB
}

// NewComplainRepository constructs the repository.
func NewComplainRepository(db *sqlx.DB) *ComplainRepository {
	return &ComplainRepository{db: db}
}

// Create inserts a complaint. The unique pair constraint on
// (student_id, section_id) rejects a second filing for the same section.
func (r *ComplainRepository) Create(ctx context.Context, complain *models.Complain) error {
	if complain.ID == "" {
		complain.ID = uuid.NewString()
	}
	complain.PublicID = publicid.New(publicid.PrefixComplain)
	complain.Status = models.ComplainStatusUnseen
	now := time.Now().UTC()
	complain.CreatedAt = now
	complain.UpdatedAt = now

	const query = `INSERT INTO complains (id, public_id, student_id, section_id, text, status, created_at, updated_at)
        VALUES (:id, :public_id, :student_id, :section_id, :text, :status, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, complain); err != nil {
		if IsUniqueViolation(err, "complains_student_section_key") {
			return appErrors.Clone(appErrors.ErrConflict, "a complaint for this section already exists")
		}
		if IsForeignKeyViolation(err) {
			return sql.ErrNoRows
		}
		return fmt.Errorf("create complain: %w", err)
	}
	return nil
}

// FindDetailByPublicID returns one complaint with joined context.
func (r *ComplainRepository) FindDetailByPublicID(ctx context.Context, publicID string) (*models.ComplainDetail, error) {
	query := fmt.Sprintf("SELECT %s %s WHERE cp.public_id = $1", complainDetailColumns, complainDetailJoins)
	var detail models.ComplainDetail
	if err := r.db.GetContext(ctx, &detail, query, publicID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find complain detail: %w", err)
	}
	return &detail, nil
}

// ListForStudent returns the complaints one student has filed.
func (r *ComplainRepository) ListForStudent(ctx context.Context, studentID string) ([]models.ComplainDetail, error) {
	query := fmt.Sprintf("SELECT %s %s WHERE cp.student_id = $1 ORDER BY cp.created_at DESC",
		complainDetailColumns, complainDetailJoins)
	var complains []models.ComplainDetail
	if err := r.db.SelectContext(ctx, &complains, query, studentID); err != nil {
		return nil, fmt.Errorf("list student complains: %w", err)
	}
	return complains, nil
}

// ListForSection returns every complaint filed against one section.
func (r *ComplainRepository) ListForSection(ctx context.Context, sectionPublicID string) ([]models.ComplainDetail, error) {
	query := fmt.Sprintf("SELECT %s %s WHERE s.public_id = $1 ORDER BY cp.created_at ASC",
		complainDetailColumns, complainDetailJoins)
	var complains []models.ComplainDetail
	if err := r.db.SelectContext(ctx, &complains, query, sectionPublicID); err != nil {
		return nil, fmt.Errorf("list section complains: %w", err)
	}
	return complains, nil
}

// MarkSeen flips unseen complaints to seen. Already seen records pass
// through untouched, so repeated calls are harmless.
func (r *ComplainRepository) MarkSeen(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := sqlx.In(`UPDATE complains SET status = ?, updated_at = ? WHERE id IN (?) AND status = ?`,
		models.ComplainStatusSeen, time.Now().UTC(), ids, models.ComplainStatusUnseen)
	if err != nil {
		return fmt.Errorf("build mark seen query: %w", err)
	}
	query = r.db.Rebind(query)
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("mark complains seen: %w", err)
	}
	return nil
}

// Delete removes a complaint.
func (r *ComplainRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM complains WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete complain: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
