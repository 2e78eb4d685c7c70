package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/parnia-edu/parnia-api/internal/authz"
	"github.com/parnia-edu/parnia-api/internal/models"
	appErrors "github.com/parnia-edu/parnia-api/pkg/errors"
)

type complainRepository interface {
	Create(ctx context.Context, complain *models.Complain) error
	FindDetailByPublicID(ctx context.Context, publicID string) (*models.ComplainDetail, error)
	ListForStudent(ctx context.Context, studentID string) ([]models.ComplainDetail, error)
	ListForSection(ctx context.Context, sectionPublicID string) ([]models.ComplainDetail, error)
	MarkSeen(ctx context.Context, ids []string) error
	Delete(ctx context.Context, id string) error
}

type complainSectionRepository interface {
	FindByPublicID(ctx context.Context, publicID string) (*models.CourseSection, error)
}

// ComplainRequest files a complaint against a section.
type ComplainRequest struct {
	Section string `json:"section" validate:"required"`
	Text    string `json:"text" validate:"required,max=300"`
}

// ComplainService handles complaint use cases.
type ComplainService struct {
	repo      complainRepository
	sections  complainSectionRepository
	validator *validator.Validate
	logger    *zap.Logger
}

// NewComplainService constructs the complain service.
func NewComplainService(repo complainRepository, sections complainSectionRepository, validate *validator.Validate, logger *zap.Logger) *ComplainService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ComplainService{repo: repo, sections: sections, validator: validate, logger: logger}
}

// Create files a complaint in the actor's name. One complaint per section
// per student.
func (s *ComplainService) Create(ctx context.Context, actor *authz.Subject, req ComplainRequest) (*models.ComplainDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid complaint payload")
	}

	section, err := s.sections.FindByPublicID(ctx, req.Section)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "section not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load section")
	}

	complain := &models.Complain{
		StudentID: actor.ID,
		SectionID: section.ID,
		Text:      req.Text,
	}
	if err := s.repo.Create(ctx, complain); err != nil {
		var appErr *appErrors.Error
		if errors.As(err, &appErr) {
			return nil, err
		}
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "section not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create complaint")
	}

	return s.repo.FindDetailByPublicID(ctx, complain.PublicID)
}

// ListOwn returns the complaints the actor has filed.
func (s *ComplainService) ListOwn(ctx context.Context, actor *authz.Subject) ([]models.ComplainDetail, error) {
	complains, err := s.repo.ListForStudent(ctx, actor.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list complaints")
	}
	return complains, nil
}

// ListForSection returns a section's complaints for its instructor or a
// privileged actor. The read acknowledges the returned complaints: every
// unseen one transitions to seen after the list is fetched, so the payload
// still shows which were new.
func (s *ComplainService) ListForSection(ctx context.Context, actor *authz.Subject, sectionPublicID string) ([]models.ComplainDetail, error) {
	if err := s.authorizeSectionAccess(ctx, actor, sectionPublicID); err != nil {
		return nil, err
	}
	complains, err := s.repo.ListForSection(ctx, sectionPublicID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list section complaints")
	}
	if ids := unseenIDs(complains); len(ids) > 0 {
		if err := s.repo.MarkSeen(ctx, ids); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark complaints seen")
		}
	}
	return complains, nil
}

// MarkSeenForSection acknowledges every unseen complaint in a section
// without returning them. Calling it again is a no-op.
func (s *ComplainService) MarkSeenForSection(ctx context.Context, actor *authz.Subject, sectionPublicID string) error {
	if err := s.authorizeSectionAccess(ctx, actor, sectionPublicID); err != nil {
		return err
	}
	complains, err := s.repo.ListForSection(ctx, sectionPublicID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list section complaints")
	}
	ids := unseenIDs(complains)
	if len(ids) == 0 {
		return nil
	}
	if err := s.repo.MarkSeen(ctx, ids); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark complaints seen")
	}
	return nil
}

func unseenIDs(complains []models.ComplainDetail) []string {
	ids := make([]string, 0, len(complains))
	for _, c := range complains {
		if c.Status == models.ComplainStatusUnseen {
			ids = append(ids, c.ID)
		}
	}
	return ids
}

// Get returns one complaint. Access is owner-or-privileged, plus the
// section's instructor.
func (s *ComplainService) Get(ctx context.Context, actor *authz.Subject, publicID string) (*models.ComplainDetail, error) {
	detail, err := s.repo.FindDetailByPublicID(ctx, publicID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "complaint not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load complaint")
	}
	if authz.OwnerOrPrivileged(authz.Context{Subject: actor, Method: "GET", Object: &detail.Complain}) {
		return detail, nil
	}
	if actor.HasRole(authz.RoleInstructor) {
		section, err := s.sections.FindByPublicID(ctx, detail.SectionPublicID)
		if err == nil && section.InstructorID == actor.ID {
			return detail, nil
		}
	}
	return nil, appErrors.Clone(appErrors.ErrForbidden, "complaint belongs to another student")
}

// Delete removes a complaint filed by the actor, or any complaint for a
// privileged actor.
func (s *ComplainService) Delete(ctx context.Context, actor *authz.Subject, publicID string) error {
	detail, err := s.repo.FindDetailByPublicID(ctx, publicID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "complaint not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load complaint")
	}
	if !authz.OwnerOrPrivileged(authz.Context{Subject: actor, Method: "DELETE", Object: &detail.Complain}) {
		return appErrors.Clone(appErrors.ErrForbidden, "complaint belongs to another student")
	}
	if err := s.repo.Delete(ctx, detail.ID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete complaint")
	}
	return nil
}

func (s *ComplainService) authorizeSectionAccess(ctx context.Context, actor *authz.Subject, sectionPublicID string) error {
	if isPrivileged(actor) {
		return nil
	}
	if actor == nil || !actor.HasRole(authz.RoleInstructor) {
		return appErrors.Clone(appErrors.ErrForbidden, "section complaints are visible to its instructor only")
	}
	section, err := s.sections.FindByPublicID(ctx, sectionPublicID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "section not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load section")
	}
	if section.InstructorID != actor.ID {
		return appErrors.Clone(appErrors.ErrForbidden, fmt.Sprintf("section %s is taught by another instructor", sectionPublicID))
	}
	return nil
}
