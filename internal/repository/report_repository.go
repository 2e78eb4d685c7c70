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
)

const reportJobColumns = `id, type, params, status, progress, result_url, created_by, created_at, finished_at, error_message`

// ReportRepository persists report job metadata.
type ReportRepository struct {
	db *sqlx.DB
}

// NewReportRepository constructs the repository.
func NewReportRepository(db *sqlx.DB) *ReportRepository {
	return &ReportRepository{db: db}
}

// Create inserts a new report job row with generated defaults.
func (r *ReportRepository) Create(ctx context.Context, job *models.ReportJob) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = models.ReportStatusQueued
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO report_jobs (id, type, params, status, progress, result_url, created_by, created_at, finished_at, error_message)
VALUES (:id, :type, :params, :status, :progress, :result_url, :created_by, :created_at, :finished_at, :error_message)`
	if _, err := r.db.NamedExecContext(ctx, query, job); err != nil {
		return fmt.Errorf("create report job: %w", err)
	}
	return nil
}

// GetByID returns a job row by its identifier.
func (r *ReportRepository) GetByID(ctx context.Context, id string) (*models.ReportJob, error) {
	query := fmt.Sprintf("SELECT %s FROM report_jobs WHERE id = $1", reportJobColumns)
	var job models.ReportJob
	if err := r.db.GetContext(ctx, &job, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get report job: %w", err)
	}
	return &job, nil
}

// ListForUser returns jobs requested by one user, newest first.
func (r *ReportRepository) ListForUser(ctx context.Context, userID string, limit int) ([]models.ReportJob, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	query := fmt.Sprintf("SELECT %s FROM report_jobs WHERE created_by = $1 ORDER BY created_at DESC LIMIT $2", reportJobColumns)
	var jobs []models.ReportJob
	if err := r.db.SelectContext(ctx, &jobs, query, userID, limit); err != nil {
		return nil, fmt.Errorf("list report jobs: %w", err)
	}
	return jobs, nil
}

// ReportJobUpdate names the mutable fields of a job row.
type ReportJobUpdate struct {
	Status       *models.ReportStatus
	Progress     *int
	ResultURL    *string
	ErrorMessage *string
	FinishedAt   *time.Time
}

// Update persists the provided changes for a job row.
func (r *ReportRepository) Update(ctx context.Context, id string, update ReportJobUpdate) error {
	set := make([]string, 0, 5)
	args := make([]interface{}, 0, 6)
	argPos := 1

	if update.Status != nil {
		set = append(set, fmt.Sprintf("status = $%d", argPos))
		args = append(args, *update.Status)
		argPos++
	}
	if update.Progress != nil {
		set = append(set, fmt.Sprintf("progress = $%d", argPos))
		args = append(args, *update.Progress)
		argPos++
	}
	if update.ResultURL != nil {
		set = append(set, fmt.Sprintf("result_url = $%d", argPos))
		args = append(args, *update.ResultURL)
		argPos++
	}
	if update.ErrorMessage != nil {
		set = append(set, fmt.Sprintf("error_message = $%d", argPos))
		args = append(args, *update.ErrorMessage)
		argPos++
	}
	if update.FinishedAt != nil {
		set = append(set, fmt.Sprintf("finished_at = $%d", argPos))
		args = append(args, *update.FinishedAt)
		argPos++
	}

	if len(set) == 0 {
		return nil
	}

	query := fmt.Sprintf("UPDATE report_jobs SET %s WHERE id = $%d", strings.Join(set, ", "), argPos)
	args = append(args, id)

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update report job: %w", err)
	}
	return nil
}

// ListQueued fetches queued jobs so a restarted worker can resume them.
func (r *ReportRepository) ListQueued(ctx context.Context, limit int) ([]models.ReportJob, error) {
	if limit <= 0 {
		limit = 20
	}
	query := fmt.Sprintf("SELECT %s FROM report_jobs WHERE status = $1 ORDER BY created_at ASC LIMIT $2", reportJobColumns)
	var jobs []models.ReportJob
	if err := r.db.SelectContext(ctx, &jobs, query, models.ReportStatusQueued, limit); err != nil {
		return nil, fmt.Errorf("list queued report jobs: %w", err)
	}
	return jobs, nil
}
