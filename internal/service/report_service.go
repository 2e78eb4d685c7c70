package service

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/parnia-edu/parnia-api/internal/authz"
	"github.com/parnia-edu/parnia-api/internal/dto"
	"github.com/parnia-edu/parnia-api/internal/models"
	"github.com/parnia-edu/parnia-api/internal/repository"
	appErrors "github.com/parnia-edu/parnia-api/pkg/errors"
	"github.com/parnia-edu/parnia-api/pkg/jobs"
)

type reportJobStore interface {
	Create(ctx context.Context, job *models.ReportJob) error
	GetByID(ctx context.Context, id string) (*models.ReportJob, error)
	ListForUser(ctx context.Context, userID string, limit int) ([]models.ReportJob, error)
	Update(ctx context.Context, id string, update repository.ReportJobUpdate) error
	ListQueued(ctx context.Context, limit int) ([]models.ReportJob, error)
}

type reportSectionChecker interface {
	FindByPublicID(ctx context.Context, publicID string) (*models.CourseSection, error)
	InstructorOwnsSection(ctx context.Context, instructorID, sectionID string) (bool, error)
}

type jobDispatcher interface {
	Enqueue(job jobs.Job) error
}

type exportGenerator interface {
	Generate(ctx context.Context, job *models.ReportJob) (*ExportResult, error)
}

// ReportServiceConfig governs queue recovery and result retention.
type ReportServiceConfig struct {
	ResultTTL       time.Duration
	CleanupInterval time.Duration
	MaxRetries      int
}

// ReportDownload aggregates resolved download data.
type ReportDownload struct {
	File      *os.File
	Filename  string
	Format    models.ReportFormat
	ExpiresAt time.Time
}

// ReportService orchestrates the report job lifecycle.
type ReportService struct {
	repo     reportJobStore
	sections reportSectionChecker
	queue    jobDispatcher
	exporter *ExportService
	logger   *zap.Logger
	cfg      ReportServiceConfig
}

// NewReportService constructs the report service.
func NewReportService(repo reportJobStore, sections reportSectionChecker, queue jobDispatcher, exporter *ExportService, logger *zap.Logger, cfg ReportServiceConfig) *ReportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	return &ReportService{
		repo:     repo,
		sections: sections,
		queue:    queue,
		exporter: exporter,
		logger:   logger,
		cfg:      cfg,
	}
}

// CreateJob validates the request for the acting subject, persists the job
// and enqueues processing. Students may only request their own transcript;
// instructors only grade sheets for sections they teach.
func (s *ReportService) CreateJob(ctx context.Context, actor *authz.Subject, req dto.ReportRequest) (*dto.ReportJobResponse, error) {
	if err := s.validateRequest(ctx, actor, &req); err != nil {
		return nil, err
	}
	job := &models.ReportJob{
		Type: req.Type,
		Params: models.ReportJobParams{
			StudentPublicID: req.Student,
			SectionPublicID: req.Section,
			TermPublicID:    req.Term,
			Format:          req.Format,
		},
		Status:    models.ReportStatusQueued,
		Progress:  0,
		CreatedBy: actor.ID,
	}
	if err := s.repo.Create(ctx, job); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create report job")
	}
	if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: string(job.Type)}); err != nil {
		status := models.ReportStatusFailed
		msg := "failed to enqueue job"
		now := time.Now().UTC()
		progress := 100
		_ = s.repo.Update(ctx, job.ID, repository.ReportJobUpdate{
			Status:       &status,
			Progress:     &progress,
			ErrorMessage: &msg,
			FinishedAt:   &now,
		})
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enqueue report job")
	}
	return &dto.ReportJobResponse{ID: job.ID, Status: job.Status, Progress: job.Progress}, nil
}

// GetStatus exposes job metadata. Non-privileged actors only see jobs they
// created.
func (s *ReportService) GetStatus(ctx context.Context, actor *authz.Subject, id string) (*dto.ReportStatusResponse, error) {
	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load report job")
	}
	if !isPrivileged(actor) && job.CreatedBy != actor.ID {
		return nil, appErrors.ErrForbidden
	}
	resp := &dto.ReportStatusResponse{
		ID:       job.ID,
		Status:   job.Status,
		Progress: job.Progress,
	}
	if job.ResultURL != nil {
		resp.ResultURL = job.ResultURL
	}
	if job.ErrorMessage != nil && *job.ErrorMessage != "" {
		resp.Error = job.ErrorMessage
	}
	return resp, nil
}

// ListOwn returns the actor's recent report jobs.
func (s *ReportService) ListOwn(ctx context.Context, actor *authz.Subject, limit int) ([]models.ReportJob, error) {
	jobList, err := s.repo.ListForUser(ctx, actor.ID, limit)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list report jobs")
	}
	return jobList, nil
}

// ResolveDownload validates a download token and opens the stored file.
func (s *ReportService) ResolveDownload(ctx context.Context, token string) (*ReportDownload, error) {
	jobID, relPath, expiresAt, err := s.exporter.ParseToken(token, false)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "invalid or expired download token")
	}
	job, err := s.repo.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load report job")
	}
	if job.ResultURL == nil || !strings.HasSuffix(*job.ResultURL, token) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "token mismatch")
	}
	if job.Status != models.ReportStatusFinished {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "report not ready")
	}
	file, err := s.exporter.Open(relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open export file")
	}
	return &ReportDownload{
		File:      file,
		Filename:  filepath.Base(relPath),
		Format:    job.Params.Format,
		ExpiresAt: expiresAt,
	}, nil
}

// RecoverPendingJobs replays queued jobs after a process restart.
func (s *ReportService) RecoverPendingJobs(ctx context.Context) {
	pending, err := s.repo.ListQueued(ctx, 50)
	if err != nil {
		s.logger.Warn("failed to recover queued report jobs", zap.Error(err))
		return
	}
	for _, job := range pending {
		if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: string(job.Type)}); err != nil {
			s.logger.Warn("failed to requeue pending job", zap.String("job_id", job.ID), zap.Error(err))
		}
	}
}

// StartCleanup boots a goroutine that purges expired exports periodically.
func (s *ReportService) StartCleanup(ctx context.Context) {
	if s.cfg.CleanupInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.CleanupInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.exporter.Cleanup(s.cfg.ResultTTL); err != nil {
					s.logger.Warn("export cleanup failed", zap.Error(err))
				}
			}
		}
	}()
}

func (s *ReportService) validateRequest(ctx context.Context, actor *authz.Subject, req *dto.ReportRequest) error {
	if req.Format != models.ReportFormatCSV && req.Format != models.ReportFormatPDF {
		return appErrors.Clone(appErrors.ErrValidation, "unsupported report format")
	}
	switch req.Type {
	case models.ReportTypeTranscript:
		if req.Student == "" {
			req.Student = actor.PublicID
		}
		if !isPrivileged(actor) && req.Student != actor.PublicID {
			return appErrors.Clone(appErrors.ErrForbidden, "transcripts are limited to your own record")
		}
		return nil
	case models.ReportTypeSectionGrades:
		if req.Section == "" {
			return appErrors.Clone(appErrors.ErrValidation, "section is required for grade sheets")
		}
		if isPrivileged(actor) {
			return nil
		}
		if !actor.HasRole(authz.RoleInstructor) {
			return appErrors.Clone(appErrors.ErrForbidden, "grade sheets require an instructor or staff role")
		}
		section, err := s.sections.FindByPublicID(ctx, req.Section)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "section not found")
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load section")
		}
		owns, err := s.sections.InstructorOwnsSection(ctx, actor.ID, section.ID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to verify section instructor")
		}
		if !owns {
			return appErrors.Clone(appErrors.ErrForbidden, "section is taught by another instructor")
		}
		return nil
	default:
		return appErrors.Clone(appErrors.ErrValidation, "unsupported report type")
	}
}

// ReportWorker bridges queue jobs to the export service.
type ReportWorker struct {
	repo       reportJobStore
	exporter   exportGenerator
	logger     *zap.Logger
	maxRetries int
}

// NewReportWorker constructs a worker.
func NewReportWorker(repo reportJobStore, exporter exportGenerator, maxRetries int, logger *zap.Logger) *ReportWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &ReportWorker{repo: repo, exporter: exporter, logger: logger, maxRetries: maxRetries}
}

// Handle processes a queue job, retrying failed generations until the
// attempt budget runs out.
func (w *ReportWorker) Handle(ctx context.Context, job jobs.Job) error {
	record, err := w.repo.GetByID(ctx, job.ID)
	if err != nil {
		return err
	}
	processing := models.ReportStatusProcessing
	progress := 10
	if err := w.repo.Update(ctx, job.ID, repository.ReportJobUpdate{
		Status:   &processing,
		Progress: &progress,
	}); err != nil {
		return err
	}
	result, err := w.exporter.Generate(ctx, record)
	if err != nil {
		msg := err.Error()
		if job.Attempt >= w.maxRetries {
			failed := models.ReportStatusFailed
			progress = 100
			now := time.Now().UTC()
			if updateErr := w.repo.Update(ctx, job.ID, repository.ReportJobUpdate{
				Status:       &failed,
				Progress:     &progress,
				ErrorMessage: &msg,
				FinishedAt:   &now,
			}); updateErr != nil {
				w.logger.Warn("failed to mark job failed", zap.String("job_id", job.ID), zap.Error(updateErr))
			}
		} else {
			queued := models.ReportStatusQueued
			reset := 0
			if updateErr := w.repo.Update(ctx, job.ID, repository.ReportJobUpdate{
				Status:       &queued,
				Progress:     &reset,
				ErrorMessage: &msg,
			}); updateErr != nil {
				w.logger.Warn("failed to mark job queued", zap.String("job_id", job.ID), zap.Error(updateErr))
			}
		}
		return err
	}
	finished := models.ReportStatusFinished
	progress = 100
	now := time.Now().UTC()
	url := result.URL
	clear := ""
	if err := w.repo.Update(ctx, job.ID, repository.ReportJobUpdate{
		Status:       &finished,
		Progress:     &progress,
		ResultURL:    &url,
		ErrorMessage: &clear,
		FinishedAt:   &now,
	}); err != nil {
		w.logger.Warn("failed to mark job finished", zap.String("job_id", job.ID), zap.Error(err))
		return err
	}
	return nil
}
