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
	"github.com/parnia-edu/parnia-api/internal/repository"
	appErrors "github.com/parnia-edu/parnia-api/pkg/errors"
)

type courseLogRepository interface {
	List(ctx context.Context, filter models.CourseLogFilter) ([]models.CourseLogDetail, int, error)
	FindDetailByPublicID(ctx context.Context, publicID string) (*models.CourseLogDetail, error)
	FindByPublicIDs(ctx context.Context, publicIDs []string) ([]models.CourseLog, error)
	CreateBatch(ctx context.Context, studentID, termID string, entries []repository.EnrollmentEntry, maxCredits int) ([]models.CourseLog, error)
	UpdateGrades(ctx context.Context, patches []models.GradePatch) error
	ApproveByPublicIDs(ctx context.Context, publicIDs []string) (int, error)
	Delete(ctx context.Context, id string) error
}

type courseLogSectionRepository interface {
	FindDetailByPublicID(ctx context.Context, publicID string) (*models.CourseSectionDetail, error)
	InstructorOwnsSection(ctx context.Context, instructorID, sectionID string) (bool, error)
}

type courseLogUserRepository interface {
	FindByPublicID(ctx context.Context, publicID string) (*models.User, error)
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// EnrollRequest enrolls one student into a batch of sections. Every section
// must belong to the same term, since the credit ceiling is a per-term rule.
type EnrollRequest struct {
	Student  string   `json:"student" validate:"required"`
	Sections []string `json:"sections" validate:"required,min=1"`
}

// GradeUpdateRequest applies partial grade changes to a batch of records.
type GradeUpdateRequest struct {
	Updates []models.GradePatch `json:"updates" validate:"required,min=1"`
}

// ApproveRequest finalises grades for a batch of records.
type ApproveRequest struct {
	CourseLogs []string `json:"course_logs" validate:"required,min=1"`
}

// courseLogMetrics receives enrollment and grading counters. A nil
// implementation disables recording.
type courseLogMetrics interface {
	RecordEnrollments(n int)
	RecordGradeUpdates(n int)
}

// CourseLogService handles enrollment and grading use cases.
type CourseLogService struct {
	repo       courseLogRepository
	sections   courseLogSectionRepository
	users      courseLogUserRepository
	maxCredits int
	metrics    courseLogMetrics
	validator  *validator.Validate
	logger     *zap.Logger
}

// NewCourseLogService constructs the course log service. maxCredits bounds
// the total credits one student may carry in a term.
func NewCourseLogService(repo courseLogRepository, sections courseLogSectionRepository, users courseLogUserRepository, maxCredits int, metrics courseLogMetrics, validate *validator.Validate, logger *zap.Logger) *CourseLogService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxCredits <= 0 {
		maxCredits = 18
	}
	return &CourseLogService{repo: repo, sections: sections, users: users, maxCredits: maxCredits, metrics: metrics, validator: validate, logger: logger}
}

// List returns enrollment records. Actors without a privileged role only
// ever see their own records, whatever filter they send.
func (s *CourseLogService) List(ctx context.Context, actor *authz.Subject, filter models.CourseLogFilter) ([]models.CourseLogDetail, *models.Pagination, error) {
	if !isPrivileged(actor) {
		filter.StudentPublicID = actor.PublicID
	}
	logs, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list course logs")
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
	return logs, pagination, nil
}

// Get returns one enrollment record. Access is owner-or-privileged.
func (s *CourseLogService) Get(ctx context.Context, actor *authz.Subject, publicID string) (*models.CourseLogDetail, error) {
	detail, err := s.repo.FindDetailByPublicID(ctx, publicID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course log not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course log")
	}
	if !authz.OwnerOrPrivileged(authz.Context{Subject: actor, Method: "GET", Object: &detail.CourseLog}) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "course log belongs to another student")
	}
	return detail, nil
}

// Enroll joins a student to a batch of sections, all or nothing. Students
// may only enroll themselves; privileged actors may enroll anyone.
func (s *CourseLogService) Enroll(ctx context.Context, actor *authz.Subject, req EnrollRequest) ([]models.CourseLog, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload")
	}

	student, err := s.users.FindByPublicID(ctx, req.Student)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if !isPrivileged(actor) && actor.ID != student.ID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "students may only enroll themselves")
	}
	if !student.Active {
		return nil, appErrors.Clone(appErrors.ErrValidation, "student account is inactive")
	}
	if !student.HasRole(authz.RoleStudent) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "user does not hold the student role")
	}

	verr := &appErrors.ValidationErrors{}
	entries := make([]repository.EnrollmentEntry, 0, len(req.Sections))
	termID := ""
	for i, sectionPublicID := range req.Sections {
		section, err := s.sections.FindDetailByPublicID(ctx, sectionPublicID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				verr.Add(i, "sections", fmt.Sprintf("unknown section %q", sectionPublicID))
				continue
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load section")
		}
		if termID == "" {
			termID = section.TermID
		} else if section.TermID != termID {
			verr.Add(i, "sections", "all sections in one enrollment must share a term")
			continue
		}
		entries = append(entries, repository.EnrollmentEntry{Index: i, Section: section})
	}
	if !verr.Empty() {
		return nil, verr.AsError()
	}

	logs, err := s.repo.CreateBatch(ctx, student.ID, termID, entries, s.maxCredits)
	if err != nil {
		var appErr *appErrors.Error
		if errors.As(err, &appErr) {
			return nil, err
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enroll student")
	}

	if s.metrics != nil {
		s.metrics.RecordEnrollments(len(logs))
	}
	return logs, nil
}

// UpdateGrades applies a batch of partial grade updates in one transaction.
// Every id is resolved and every grade bound checked before any row is
// written; a single bad entry rejects the whole batch with all failures
// reported. Instructors may only grade their own sections.
func (s *CourseLogService) UpdateGrades(ctx context.Context, actor *authz.Subject, req GradeUpdateRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid grade payload")
	}

	verr := &appErrors.ValidationErrors{}
	ids := make([]string, 0, len(req.Updates))
	for i, u := range req.Updates {
		if u.PublicID == "" {
			verr.Add(i, "public_id", "missing course log id")
			continue
		}
		ids = append(ids, u.PublicID)
		checkGrade(verr, i, "midterm_exam", u.MidtermExam)
		checkGrade(verr, i, "final_exam", u.FinalExam)
		checkGrade(verr, i, "final_grade", u.FinalGrade)
	}

	logs, err := s.repo.FindByPublicIDs(ctx, ids)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve course logs")
	}
	known := make(map[string]models.CourseLog, len(logs))
	for _, l := range logs {
		known[l.PublicID] = l
	}
	for i, u := range req.Updates {
		if u.PublicID == "" {
			continue
		}
		if _, ok := known[u.PublicID]; !ok {
			verr.Add(i, "public_id", fmt.Sprintf("unknown course log %q", u.PublicID))
		}
	}
	if !verr.Empty() {
		return verr.AsError()
	}

	if err := s.checkSectionOwnership(ctx, actor, logs); err != nil {
		return err
	}

	if err := s.repo.UpdateGrades(ctx, req.Updates); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "course log not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update grades")
	}

	if s.metrics != nil {
		s.metrics.RecordGradeUpdates(len(req.Updates))
	}
	s.audit(ctx, actor, models.AuditActionGradeUpdate, len(req.Updates))
	return nil
}

// Approve finalises grades for records awaiting approval. Records in any
// other status are left untouched.
func (s *CourseLogService) Approve(ctx context.Context, actor *authz.Subject, req ApproveRequest) (int, error) {
	if err := s.validator.Struct(req); err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid approve payload")
	}

	logs, err := s.repo.FindByPublicIDs(ctx, req.CourseLogs)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve course logs")
	}
	if len(logs) != len(req.CourseLogs) {
		known := make(map[string]bool, len(logs))
		for _, l := range logs {
			known[l.PublicID] = true
		}
		verr := &appErrors.ValidationErrors{}
		for i, id := range req.CourseLogs {
			if !known[id] {
				verr.Add(i, "course_logs", fmt.Sprintf("unknown course log %q", id))
			}
		}
		return 0, verr.AsError()
	}

	approved, err := s.repo.ApproveByPublicIDs(ctx, req.CourseLogs)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to approve grades")
	}

	if s.metrics != nil {
		s.metrics.RecordGradeUpdates(approved)
	}
	s.audit(ctx, actor, models.AuditActionGradeApprove, approved)
	return approved, nil
}

// Delete removes an enrollment record.
func (s *CourseLogService) Delete(ctx context.Context, publicID string) error {
	detail, err := s.repo.FindDetailByPublicID(ctx, publicID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "course log not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course log")
	}
	if err := s.repo.Delete(ctx, detail.ID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete course log")
	}
	return nil
}

// checkSectionOwnership ensures a non-privileged instructor only touches
// records from sections they teach.
func (s *CourseLogService) checkSectionOwnership(ctx context.Context, actor *authz.Subject, logs []models.CourseLog) error {
	if isPrivileged(actor) {
		return nil
	}
	if !actor.HasRole(authz.RoleInstructor) {
		return appErrors.Clone(appErrors.ErrForbidden, "grading requires an instructor or staff role")
	}
	seen := make(map[string]bool)
	for _, l := range logs {
		if seen[l.SectionID] {
			continue
		}
		seen[l.SectionID] = true
		owns, err := s.sections.InstructorOwnsSection(ctx, actor.ID, l.SectionID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to verify section instructor")
		}
		if !owns {
			return appErrors.Clone(appErrors.ErrForbidden, "record belongs to a section taught by another instructor")
		}
	}
	return nil
}

func (s *CourseLogService) audit(ctx context.Context, actor *authz.Subject, action string, count int) {
	var userID *string
	if actor != nil {
		userID = &actor.ID
	}
	if err := s.users.CreateAuditLog(ctx, &models.AuditLog{
		UserID:    userID,
		Action:    action,
		Resource:  "course_logs",
		NewValues: []byte(fmt.Sprintf(`{"count":%d}`, count)),
	}); err != nil {
		s.logger.Warn("failed to record grade audit log", zap.Error(err))
	}
}

func checkGrade(verr *appErrors.ValidationErrors, index int, field string, v *int) {
	if v != nil && !models.ValidGrade(*v) {
		verr.Add(index, field, fmt.Sprintf("grade must be between %d and %d", models.GradeMin, models.GradeMax))
	}
}

// isPrivileged reports whether the actor may act across students: elevated
// accounts, administrators and staff.
func isPrivileged(actor *authz.Subject) bool {
	if actor == nil {
		return false
	}
	return actor.Elevated || actor.HasRole(authz.RoleAdministrator) || actor.HasRole(authz.RoleStaff)
}
