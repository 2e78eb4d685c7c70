package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/parnia-edu/parnia-api/internal/authz"
	"github.com/parnia-edu/parnia-api/internal/models"
	appErrors "github.com/parnia-edu/parnia-api/pkg/errors"
)

type sectionRepository interface {
	List(ctx context.Context, filter models.SectionFilter) ([]models.CourseSectionDetail, int, error)
	FindDetailByPublicID(ctx context.Context, publicID string) (*models.CourseSectionDetail, error)
	FindByPublicID(ctx context.Context, publicID string) (*models.CourseSection, error)
	Create(ctx context.Context, section *models.CourseSection) error
	Update(ctx context.Context, section *models.CourseSection) error
	Delete(ctx context.Context, id string) error
}

type sectionCourseRepository interface {
	FindByPublicID(ctx context.Context, publicID string) (*models.Course, error)
}

type sectionTermRepository interface {
	FindByPublicID(ctx context.Context, publicID string) (*models.Term, error)
}

type sectionUserRepository interface {
	FindByPublicID(ctx context.Context, publicID string) (*models.User, error)
}

// SectionRequest holds the payload for creating a section. Course, term and
// instructor are referenced by public id.
type SectionRequest struct {
	Course               string    `json:"course" validate:"required"`
	Term                 string    `json:"term" validate:"required"`
	Instructor           string    `json:"instructor" validate:"required"`
	TotalCapacity        int       `json:"total_capacity" validate:"required,min=1"`
	FirstSessionWeekday  string    `json:"first_session_weekday" validate:"required"`
	SecondSessionWeekday string    `json:"second_session_weekday" validate:"required"`
	HourSchedule         string    `json:"hour_schedule" validate:"required"`
	ExamDate             time.Time `json:"exam_date" validate:"required"`
}

// UpdateSectionRequest holds the mutable fields of a section. Course, term
// and the local number are fixed at creation.
type UpdateSectionRequest struct {
	Instructor           string    `json:"instructor" validate:"required"`
	TotalCapacity        int       `json:"total_capacity" validate:"required,min=1"`
	FirstSessionWeekday  string    `json:"first_session_weekday" validate:"required"`
	SecondSessionWeekday string    `json:"second_session_weekday" validate:"required"`
	HourSchedule         string    `json:"hour_schedule" validate:"required"`
	ExamDate             time.Time `json:"exam_date" validate:"required"`
}

// SectionService handles course section use cases.
type SectionService struct {
	repo      sectionRepository
	courses   sectionCourseRepository
	terms     sectionTermRepository
	users     sectionUserRepository
	validator *validator.Validate
	logger    *zap.Logger
}

// NewSectionService constructs the section service.
func NewSectionService(repo sectionRepository, courses sectionCourseRepository, terms sectionTermRepository, users sectionUserRepository, validate *validator.Validate, logger *zap.Logger) *SectionService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SectionService{repo: repo, courses: courses, terms: terms, users: users, validator: validate, logger: logger}
}

// List returns section details and pagination metadata.
func (s *SectionService) List(ctx context.Context, filter models.SectionFilter) ([]models.CourseSectionDetail, *models.Pagination, error) {
	sections, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list sections")
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
	return sections, pagination, nil
}

// Get returns one section with joined context.
func (s *SectionService) Get(ctx context.Context, publicID string) (*models.CourseSectionDetail, error) {
	detail, err := s.repo.FindDetailByPublicID(ctx, publicID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "section not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load section")
	}
	return detail, nil
}

// Create opens a new section of a course in a term. The assigned instructor
// must be an active user holding the instructor role.
func (s *SectionService) Create(ctx context.Context, req SectionRequest) (*models.CourseSectionDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid section payload")
	}
	if verr := validateSchedule(req.FirstSessionWeekday, req.SecondSessionWeekday, req.HourSchedule); !verr.Empty() {
		return nil, verr.AsError()
	}

	course, err := s.courses.FindByPublicID(ctx, req.Course)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	term, err := s.terms.FindByPublicID(ctx, req.Term)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "term not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load term")
	}
	instructor, err := s.lookupInstructor(ctx, req.Instructor)
	if err != nil {
		return nil, err
	}

	section := &models.CourseSection{
		CourseID:             course.ID,
		TermID:               term.ID,
		InstructorID:         instructor.ID,
		TotalCapacity:        req.TotalCapacity,
		FirstSessionWeekday:  req.FirstSessionWeekday,
		SecondSessionWeekday: req.SecondSessionWeekday,
		HourSchedule:         req.HourSchedule,
		ExamDate:             req.ExamDate.UTC(),
	}
	if err := s.repo.Create(ctx, section); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create section")
	}

	return s.Get(ctx, section.PublicID)
}

// Update replaces the mutable fields of a section.
func (s *SectionService) Update(ctx context.Context, publicID string, req UpdateSectionRequest) (*models.CourseSectionDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid section payload")
	}
	if verr := validateSchedule(req.FirstSessionWeekday, req.SecondSessionWeekday, req.HourSchedule); !verr.Empty() {
		return nil, verr.AsError()
	}

	section, err := s.repo.FindByPublicID(ctx, publicID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "section not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load section")
	}
	instructor, err := s.lookupInstructor(ctx, req.Instructor)
	if err != nil {
		return nil, err
	}

	section.InstructorID = instructor.ID
	section.TotalCapacity = req.TotalCapacity
	section.FirstSessionWeekday = req.FirstSessionWeekday
	section.SecondSessionWeekday = req.SecondSessionWeekday
	section.HourSchedule = req.HourSchedule
	section.ExamDate = req.ExamDate.UTC()
	if err := s.repo.Update(ctx, section); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update section")
	}

	return s.Get(ctx, publicID)
}

// Delete removes a section.
func (s *SectionService) Delete(ctx context.Context, publicID string) error {
	section, err := s.repo.FindByPublicID(ctx, publicID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "section not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load section")
	}
	if err := s.repo.Delete(ctx, section.ID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete section")
	}
	return nil
}

func (s *SectionService) lookupInstructor(ctx context.Context, publicID string) (*models.User, error) {
	user, err := s.users.FindByPublicID(ctx, publicID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "instructor not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load instructor")
	}
	if !user.Active {
		return nil, appErrors.Clone(appErrors.ErrValidation, "instructor account is inactive")
	}
	if !user.HasRole(authz.RoleInstructor) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "assigned user does not hold the instructor role")
	}
	return user, nil
}

func validateSchedule(first, second, hours string) *appErrors.ValidationErrors {
	verr := &appErrors.ValidationErrors{}
	if !containsString(models.SectionWeekdays, first) {
		verr.AddField("first_session_weekday", "unknown weekday")
	}
	if !containsString(models.SectionWeekdays, second) {
		verr.AddField("second_session_weekday", "unknown weekday")
	}
	if !containsString(models.SectionHours, hours) {
		verr.AddField("hour_schedule", "unknown hour slot")
	}
	return verr
}

func containsString(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
