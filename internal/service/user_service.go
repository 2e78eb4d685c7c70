package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/lib/pq"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/parnia-edu/parnia-api/internal/authz"
	"github.com/parnia-edu/parnia-api/internal/models"
	"github.com/parnia-edu/parnia-api/internal/repository"
	appErrors "github.com/parnia-edu/parnia-api/pkg/errors"
)

type userRepository interface {
	List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByPublicID(ctx context.Context, publicID string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	Update(ctx context.Context, user *models.User) error
	Delete(ctx context.Context, id string) error
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// CreateUserRequest holds the payload for registering a user.
type CreateUserRequest struct {
	Username string   `json:"username" validate:"required,min=3,max=64"`
	Email    string   `json:"email" validate:"required,email"`
	Password string   `json:"password" validate:"required,min=8"`
	FullName string   `json:"full_name" validate:"required"`
	Roles    []string `json:"roles" validate:"required,min=1"`
	Elevated bool     `json:"elevated"`
}

// UpdateUserRequest holds the payload for updating a user. The public id
// and username are fixed at creation.
type UpdateUserRequest struct {
	Email    string   `json:"email" validate:"required,email"`
	FullName string   `json:"full_name" validate:"required"`
	Roles    []string `json:"roles" validate:"required,min=1"`
	Active   bool     `json:"active"`
	Elevated bool     `json:"elevated"`
}

// UserService handles account management use cases.
type UserService struct {
	repo      userRepository
	validator *validator.Validate
	logger    *zap.Logger
}

// NewUserService constructs the user service.
func NewUserService(repo userRepository, validate *validator.Validate, logger *zap.Logger) *UserService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UserService{repo: repo, validator: validate, logger: logger}
}

// List returns users and pagination metadata.
func (s *UserService) List(ctx context.Context, filter models.UserFilter) ([]models.User, *models.Pagination, error) {
	if filter.Role != "" && !authz.ValidRole(authz.Role(filter.Role)) {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "unknown role filter")
	}
	users, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list users")
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
	return users, pagination, nil
}

// Get returns one user by public id.
func (s *UserService) Get(ctx context.Context, publicID string) (*models.User, error) {
	user, err := s.repo.FindByPublicID(ctx, publicID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	return user, nil
}

// Create registers a new account with a hashed password and validated role
// set.
func (s *UserService) Create(ctx context.Context, req CreateUserRequest) (*models.User, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid user payload")
	}
	if verr := validateRoles(req.Roles); !verr.Empty() {
		return nil, verr.AsError()
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	user := &models.User{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: string(hash),
		FullName:     req.FullName,
		Roles:        pq.StringArray(req.Roles),
		Active:       true,
		Elevated:     req.Elevated,
	}
	if err := s.repo.Create(ctx, user); err != nil {
		if repository.IsUniqueViolation(err, "users_username_key") {
			return nil, appErrors.Clone(appErrors.ErrConflict, "username already taken")
		}
		if repository.IsUniqueViolation(err, "users_email_key") {
			return nil, appErrors.Clone(appErrors.ErrConflict, "email already registered")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create user")
	}

	s.audit(ctx, user.ID, models.AuditActionUserCreate, user.PublicID)
	return user, nil
}

// Update modifies an existing account. Username and public id never change.
func (s *UserService) Update(ctx context.Context, publicID string, req UpdateUserRequest) (*models.User, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid user payload")
	}
	if verr := validateRoles(req.Roles); !verr.Empty() {
		return nil, verr.AsError()
	}

	user, err := s.repo.FindByPublicID(ctx, publicID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}

	user.Email = req.Email
	user.FullName = req.FullName
	user.Roles = pq.StringArray(req.Roles)
	user.Active = req.Active
	user.Elevated = req.Elevated
	if err := s.repo.Update(ctx, user); err != nil {
		if repository.IsUniqueViolation(err, "users_email_key") {
			return nil, appErrors.Clone(appErrors.ErrConflict, "email already registered")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update user")
	}

	s.audit(ctx, user.ID, models.AuditActionUserUpdate, user.PublicID)
	return user, nil
}

// Deactivate marks the account inactive. Records referencing the user stay
// in place.
func (s *UserService) Deactivate(ctx context.Context, publicID string) error {
	user, err := s.repo.FindByPublicID(ctx, publicID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	if err := s.repo.Delete(ctx, user.ID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to deactivate user")
	}
	s.audit(ctx, user.ID, models.AuditActionUserDelete, user.PublicID)
	return nil
}

func (s *UserService) audit(ctx context.Context, userID, action, resourceID string) {
	if err := s.repo.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &userID,
		Action:     action,
		Resource:   "users",
		ResourceID: &resourceID,
	}); err != nil {
		s.logger.Warn("failed to record user audit log", zap.Error(err))
	}
}

// validateRoles checks each entry against the closed role set, collecting
// every unknown role instead of stopping at the first.
func validateRoles(roles []string) *appErrors.ValidationErrors {
	verr := &appErrors.ValidationErrors{}
	for i, r := range roles {
		if !authz.ValidRole(authz.Role(r)) {
			verr.Add(i, "roles", "unknown role "+r)
		}
	}
	return verr
}
