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

// TermRepository handles persistence for academic terms.
type TermRepository struct {
	db *sqlx.DB
}

// NewTermRepository instantiates a term repository.
func NewTermRepository(db *sqlx.DB) *TermRepository {
	return &TermRepository{db: db}
}

// List returns terms matching the provided filters.
func (r *TermRepository) List(ctx context.Context, filter models.TermFilter) ([]models.Term, int, error) {
	base := "FROM terms WHERE 1=1"
	var conditions []string
	var args []interface{}

	if filter.Season != "" {
		conditions = append(conditions, fmt.Sprintf("season = $%d", len(args)+1))
		args = append(args, filter.Season)
	}
	if filter.Year > 0 {
		conditions = append(conditions, fmt.Sprintf("EXTRACT(YEAR FROM start_date) = $%d", len(args)+1))
		args = append(args, filter.Year)
	}

	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	sortBy := filter.SortBy
	allowedSorts := map[string]bool{"start_date": true, "season": true, "created_at": true}
	if !allowedSorts[sortBy] {
		sortBy = "start_date"
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

	query := fmt.Sprintf("SELECT id, public_id, season, start_date, created_at, updated_at %s ORDER BY %s %s LIMIT %d OFFSET %d", base, sortBy, order, size, offset)

	var terms []models.Term
	if err := r.db.SelectContext(ctx, &terms, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list terms: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count terms: %w", err)
	}
	return terms, total, nil
}

// FindByPublicID returns a term by its external handle.
func (r *TermRepository) FindByPublicID(ctx context.Context, publicID string) (*models.Term, error) {
	const query = `SELECT id, public_id, season, start_date, created_at, updated_at FROM terms WHERE public_id = $1`
	var term models.Term
	if err := r.db.GetContext(ctx, &term, query, publicID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find term by public id: %w", err)
	}
	return &term, nil
}

// FindByID returns a term by internal identifier.
func (r *TermRepository) FindByID(ctx context.Context, id string) (*models.Term, error) {
	const query = `SELECT id, public_id, season, start_date, created_at, updated_at FROM terms WHERE id = $1`
	var term models.Term
	if err := r.db.GetContext(ctx, &term, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find term by id: %w", err)
	}
	return &term, nil
}

// Create inserts a term. The (season, start_date) pair is unique; duplicate
// inserts surface the schema's constraint for the service to translate.
func (r *TermRepository) Create(ctx context.Context, term *models.Term) error {
	if term.ID == "" {
		term.ID = uuid.NewString()
	}
	term.PublicID = publicid.New(publicid.PrefixTerm)
	now := time.Now().UTC()
	term.CreatedAt = now
	term.UpdatedAt = now

	const query = `INSERT INTO terms (id, public_id, season, start_date, created_at, updated_at)
        VALUES (:id, :public_id, :season, :start_date, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, term); err != nil {
		return fmt.Errorf("create term: %w", err)
	}
	return nil
}

// Update rewrites season and start_date; public_id is never touched.
func (r *TermRepository) Update(ctx context.Context, term *models.Term) error {
	term.UpdatedAt = time.Now().UTC()
	const query = `UPDATE terms SET season = :season, start_date = :start_date, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, term); err != nil {
		return fmt.Errorf("update term: %w", err)
	}
	return nil
}

// Delete removes a term.
func (r *TermRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM terms WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete term: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
