package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/parnia-edu/parnia-api/internal/models"
	"github.com/parnia-edu/parnia-api/internal/repository"
	appErrors "github.com/parnia-edu/parnia-api/pkg/errors"
)

type termRepository interface {
	List(ctx context.Context, filter models.TermFilter) ([]models.Term, int, error)
	FindByPublicID(ctx context.Context, publicID string) (*models.Term, error)
	Create(ctx context.Context, term *models.Term) error
	Update(ctx context.Context, term *models.Term) error
	Delete(ctx context.Context, id string) error
}

// TermRequest holds the payload for creating or replacing a term.
type TermRequest struct {
	Season    string    `json:"season" validate:"required"`
	StartDate time.Time `json:"start_date" validate:"required"`
}

// TermService handles academic term use cases.
type TermService struct {
	repo      termRepository
	validator *validator.Validate
	logger    *zap.Logger
}

// NewTermService constructs the term service.
func NewTermService(repo termRepository, validate *validator.Validate, logger *zap.Logger) *TermService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TermService{repo: repo, validator: validate, logger: logger}
}

// List returns terms and pagination metadata.
func (s *TermService) List(ctx context.Context, filter models.TermFilter) ([]models.Term, *models.Pagination, error) {
	terms, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list terms")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	return terms, pagination, nil
}

// Get returns one term by public id.
func (s *TermService) Get(ctx context.Context, publicID string) (*models.Term, error) {
	term, err := s.repo.FindByPublicID(ctx, publicID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "term not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load term")
	}
	return term, nil
}

// Create registers a new term. The (season, start date) pair must be unused.
func (s *TermService) Create(ctx context.Context, req TermRequest) (*models.Term, error) {
	term, err := s.termFromRequest(req)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, term); err != nil {
		if repository.IsUniqueViolation(err, "terms_season_start_date_key") {
			return nil, appErrors.Clone(appErrors.ErrConflict, "a term with this season and start date already exists")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create term")
	}
	return term, nil
}

// Update replaces a term's season and start date.
func (s *TermService) Update(ctx context.Context, publicID string, req TermRequest) (*models.Term, error) {
	updated, err := s.termFromRequest(req)
	if err != nil {
		return nil, err
	}
	term, err := s.repo.FindByPublicID(ctx, publicID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "term not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load term")
	}
	term.Season = updated.Season
	term.StartDate = updated.StartDate
	if err := s.repo.Update(ctx, term); err != nil {
		if repository.IsUniqueViolation(err, "terms_season_start_date_key") {
			return nil, appErrors.Clone(appErrors.ErrConflict, "a term with this season and start date already exists")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update term")
	}
	return term, nil
}

// Delete removes a term.
func (s *TermService) Delete(ctx context.Context, publicID string) error {
	term, err := s.repo.FindByPublicID(ctx, publicID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "term not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load term")
	}
	if err := s.repo.Delete(ctx, term.ID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete term")
	}
	return nil
}

func (s *TermService) termFromRequest(req TermRequest) (*models.Term, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid term payload")
	}
	season, ok := models.ParseSeason(req.Season)
	if !ok {
		verr := &appErrors.ValidationErrors{}
		verr.AddField("season", "season must be one of SPRING, SUMMER, FALL or WINTER")
		return nil, verr.AsError()
	}
	return &models.Term{Season: season, StartDate: req.StartDate.UTC()}, nil
}
