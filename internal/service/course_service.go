package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/parnia-edu/parnia-api/internal/models"
	"github.com/parnia-edu/parnia-api/internal/repository"
	appErrors "github.com/parnia-edu/parnia-api/pkg/errors"
)

type courseRepository interface {
	List(ctx context.Context, filter models.CourseFilter) ([]models.Course, int, error)
	FindByPublicID(ctx context.Context, publicID string) (*models.Course, error)
	FindIDsByNames(ctx context.Context, names []string) (map[string]string, error)
	PrerequisiteNames(ctx context.Context, courseID string) ([]string, error)
	PrerequisiteIDs(ctx context.Context, courseID string) ([]string, error)
	Create(ctx context.Context, course *models.Course, prerequisiteIDs []string) error
	Update(ctx context.Context, course *models.Course, prerequisiteIDs []string) error
	Delete(ctx context.Context, id string) error
}

type courseCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

// CourseRequest holds the payload for creating or replacing a course.
// Prerequisites reference other courses by name.
type CourseRequest struct {
	Name          string   `json:"name" validate:"required,max=128"`
	Credit        int      `json:"credit" validate:"required,min=1,max=4"`
	Prerequisites []string `json:"prerequisites"`
}

type cachedCourseList struct {
	Courses    []models.Course    `json:"courses"`
	Pagination *models.Pagination `json:"pagination"`
}

// CourseService handles catalogue use cases.
type CourseService struct {
	repo      courseRepository
	cache     courseCache
	cacheTTL  time.Duration
	validator *validator.Validate
	logger    *zap.Logger
}

// NewCourseService constructs the course service. A nil cache disables
// listing caching.
func NewCourseService(repo courseRepository, cache courseCache, cacheTTL time.Duration, validate *validator.Validate, logger *zap.Logger) *CourseService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &CourseService{repo: repo, cache: cache, cacheTTL: cacheTTL, validator: validate, logger: logger}
}

// List returns courses with resolved prerequisite names, serving repeated
// queries from the cache when one is configured.
func (s *CourseService) List(ctx context.Context, filter models.CourseFilter) ([]models.Course, *models.Pagination, error) {
	key := courseListCacheKey(filter)
	if s.cache != nil {
		var cached cachedCourseList
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			return cached.Courses, cached.Pagination, nil
		} else if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("course list cache read failed", zap.Error(err))
		}
	}

	courses, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list courses")
	}
	for i := range courses {
		names, err := s.repo.PrerequisiteNames(ctx, courses[i].ID)
		if err != nil {
			return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load prerequisites")
		}
		courses[i].Prerequisites = names
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

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, cachedCourseList{Courses: courses, Pagination: pagination}, s.cacheTTL); err != nil {
			s.logger.Warn("course list cache write failed", zap.Error(err))
		}
	}
	return courses, pagination, nil
}

// Get returns one course with its prerequisite names.
func (s *CourseService) Get(ctx context.Context, publicID string) (*models.Course, error) {
	course, err := s.repo.FindByPublicID(ctx, publicID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	names, err := s.repo.PrerequisiteNames(ctx, course.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load prerequisites")
	}
	course.Prerequisites = names
	return course, nil
}

// Create registers catalogue entries. The payload is a batch; every item is
// validated before any row is written, and all failures are reported
// together with their positions.
func (s *CourseService) Create(ctx context.Context, reqs []CourseRequest) ([]models.Course, error) {
	if len(reqs) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "empty course payload")
	}

	verr := &appErrors.ValidationErrors{}
	resolved := make([][]string, len(reqs))
	for i, req := range reqs {
		if err := s.validator.Struct(req); err != nil {
			verr.Add(i, "course", "invalid course payload: "+err.Error())
			continue
		}
		ids, rerr := s.resolvePrerequisites(ctx, req.Prerequisites)
		if rerr != nil {
			var v *appErrors.ValidationErrors
			if errors.As(rerr, &v) {
				for _, f := range v.Fields {
					verr.Add(i, f.Field, f.Message)
				}
				continue
			}
			return nil, rerr
		}
		resolved[i] = ids
	}
	if !verr.Empty() {
		return nil, verr.AsError()
	}

	created := make([]models.Course, 0, len(reqs))
	for i, req := range reqs {
		course := &models.Course{Name: req.Name, Credit: req.Credit}
		if err := s.repo.Create(ctx, course, resolved[i]); err != nil {
			if repository.IsUniqueViolation(err, "courses_name_key") {
				return nil, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("course %q already exists", req.Name))
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create course")
		}
		course.Prerequisites = req.Prerequisites
		created = append(created, *course)
	}

	s.invalidateListings(ctx)
	return created, nil
}

// Update replaces a course's fields and its prerequisite set. A prerequisite
// chain that would loop back to the course itself is rejected.
func (s *CourseService) Update(ctx context.Context, publicID string, req CourseRequest) (*models.Course, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course payload")
	}
	course, err := s.repo.FindByPublicID(ctx, publicID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}

	ids, err := s.resolvePrerequisites(ctx, req.Prerequisites)
	if err != nil {
		return nil, err
	}
	if err := s.checkNoCycle(ctx, course.ID, ids); err != nil {
		return nil, err
	}

	course.Name = req.Name
	course.Credit = req.Credit
	if err := s.repo.Update(ctx, course, ids); err != nil {
		if repository.IsUniqueViolation(err, "courses_name_key") {
			return nil, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("course %q already exists", req.Name))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update course")
	}
	course.Prerequisites = req.Prerequisites

	s.invalidateListings(ctx)
	return course, nil
}

// Delete removes a catalogue entry.
func (s *CourseService) Delete(ctx context.Context, publicID string) error {
	course, err := s.repo.FindByPublicID(ctx, publicID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	if err := s.repo.Delete(ctx, course.ID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete course")
	}
	s.invalidateListings(ctx)
	return nil
}

// resolvePrerequisites maps prerequisite names to course ids, collecting
// every unknown name.
func (s *CourseService) resolvePrerequisites(ctx context.Context, names []string) ([]string, error) {
	if len(names) == 0 {
		return nil, nil
	}
	found, err := s.repo.FindIDsByNames(ctx, names)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve prerequisites")
	}
	verr := &appErrors.ValidationErrors{}
	ids := make([]string, 0, len(names))
	for i, name := range names {
		id, ok := found[strings.ToLower(name)]
		if !ok {
			verr.Add(i, "prerequisites", fmt.Sprintf("unknown course %q", name))
			continue
		}
		ids = append(ids, id)
	}
	if !verr.Empty() {
		return nil, verr.AsError()
	}
	return ids, nil
}

// checkNoCycle walks the prerequisite graph breadth-first from the proposed
// set and rejects the update if the course itself is reachable.
func (s *CourseService) checkNoCycle(ctx context.Context, courseID string, prerequisiteIDs []string) error {
	visited := make(map[string]bool, len(prerequisiteIDs))
	queue := append([]string(nil), prerequisiteIDs...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if id == courseID {
			return appErrors.Clone(appErrors.ErrValidation, "prerequisites may not form a cycle")
		}
		if visited[id] {
			continue
		}
		visited[id] = true
		next, err := s.repo.PrerequisiteIDs(ctx, id)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to walk prerequisites")
		}
		queue = append(queue, next...)
	}
	return nil
}

func (s *CourseService) invalidateListings(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteByPattern(ctx, "courses:list:*"); err != nil {
		s.logger.Warn("course cache invalidation failed", zap.Error(err))
	}
}

func courseListCacheKey(filter models.CourseFilter) string {
	return fmt.Sprintf("courses:list:%s:%s:%d:%d:%s:%s",
		strings.ToLower(filter.Name), strings.ToLower(strings.Join(filter.Prerequisites, ",")),
		filter.Page, filter.PageSize, filter.SortBy, filter.SortOrder)
}
