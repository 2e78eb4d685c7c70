package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/parnia-edu/parnia-api/internal/authz"
	"github.com/parnia-edu/parnia-api/internal/models"
	"github.com/parnia-edu/parnia-api/internal/repository"
	appErrors "github.com/parnia-edu/parnia-api/pkg/errors"
)

type mockCourseLogRepo struct {
	details      map[string]models.CourseLogDetail
	logs         map[string]models.CourseLog
	lastFilter   models.CourseLogFilter
	lastEntries  []repository.EnrollmentEntry
	lastTermID   string
	lastPatches  []models.GradePatch
	approved     []string
	deleted      []string
	createErr    error
	approveCount int
}

func (m *mockCourseLogRepo) List(ctx context.Context, filter models.CourseLogFilter) ([]models.CourseLogDetail, int, error) {
	m.lastFilter = filter
	out := make([]models.CourseLogDetail, 0, len(m.details))
	for _, d := range m.details {
		out = append(out, d)
	}
	return out, len(out), nil
}

func (m *mockCourseLogRepo) FindDetailByPublicID(ctx context.Context, publicID string) (*models.CourseLogDetail, error) {
	if d, ok := m.details[publicID]; ok {
		return &d, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockCourseLogRepo) FindByPublicIDs(ctx context.Context, publicIDs []string) ([]models.CourseLog, error) {
	out := make([]models.CourseLog, 0, len(publicIDs))
	for _, id := range publicIDs {
		if l, ok := m.logs[id]; ok {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *mockCourseLogRepo) CreateBatch(ctx context.Context, studentID, termID string, entries []repository.EnrollmentEntry, maxCredits int) ([]models.CourseLog, error) {
	if m.createErr != nil {
		return nil, m.createErr
	}
	m.lastTermID = termID
	m.lastEntries = entries
	out := make([]models.CourseLog, 0, len(entries))
	for _, e := range entries {
		out = append(out, models.CourseLog{PublicID: "LOG-" + e.Section.PublicID, StudentID: studentID, SectionID: e.Section.ID, Status: models.CourseLogStatusUnavailable})
	}
	return out, nil
}

func (m *mockCourseLogRepo) UpdateGrades(ctx context.Context, patches []models.GradePatch) error {
	m.lastPatches = patches
	return nil
}

func (m *mockCourseLogRepo) ApproveByPublicIDs(ctx context.Context, publicIDs []string) (int, error) {
	m.approved = publicIDs
	return m.approveCount, nil
}

func (m *mockCourseLogRepo) Delete(ctx context.Context, id string) error {
	m.deleted = append(m.deleted, id)
	return nil
}

type mockSectionLookup struct {
	sections map[string]models.CourseSectionDetail
	owned    map[string]bool
}

func (m *mockSectionLookup) FindDetailByPublicID(ctx context.Context, publicID string) (*models.CourseSectionDetail, error) {
	if s, ok := m.sections[publicID]; ok {
		return &s, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockSectionLookup) InstructorOwnsSection(ctx context.Context, instructorID, sectionID string) (bool, error) {
	return m.owned[instructorID+"/"+sectionID], nil
}

type mockUserLookup struct {
	users  map[string]models.User
	audits []models.AuditLog
}

func (m *mockUserLookup) FindByPublicID(ctx context.Context, publicID string) (*models.User, error) {
	if u, ok := m.users[publicID]; ok {
		return &u, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockUserLookup) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	m.audits = append(m.audits, *log)
	return nil
}

func intPtr(v int) *int { return &v }

func staffActor() *authz.Subject {
	return &authz.Subject{ID: "staff1", PublicID: "USR-staff", Active: true, Roles: []authz.Role{authz.RoleStaff}}
}

func studentActor() *authz.Subject {
	return &authz.Subject{ID: "stud1", PublicID: "USR-stud", Active: true, Roles: []authz.Role{authz.RoleStudent}}
}

func instructorActor() *authz.Subject {
	return &authz.Subject{ID: "inst1", PublicID: "USR-inst", Active: true, Roles: []authz.Role{authz.RoleInstructor}}
}

func enrollFixture() (*mockCourseLogRepo, *mockSectionLookup, *mockUserLookup, *CourseLogService) {
	repo := &mockCourseLogRepo{logs: map[string]models.CourseLog{}, details: map[string]models.CourseLogDetail{}}
	sections := &mockSectionLookup{sections: map[string]models.CourseSectionDetail{
		"SEC-1": {CourseSection: models.CourseSection{ID: "s1", PublicID: "SEC-1", TermID: "t1"}, CourseCredit: 3},
		"SEC-2": {CourseSection: models.CourseSection{ID: "s2", PublicID: "SEC-2", TermID: "t1"}, CourseCredit: 4},
		"SEC-9": {CourseSection: models.CourseSection{ID: "s9", PublicID: "SEC-9", TermID: "t2"}, CourseCredit: 3},
	}, owned: map[string]bool{}}
	users := &mockUserLookup{users: map[string]models.User{
		"USR-stud": {ID: "stud1", PublicID: "USR-stud", Active: true, Roles: []string{"STUDENT"}},
	}}
	svc := NewCourseLogService(repo, sections, users, 18, nil, validator.New(), zap.NewNop())
	return repo, sections, users, svc
}

type recordingMetrics struct {
	enrollments  int
	gradeUpdates int
}

func (m *recordingMetrics) RecordEnrollments(n int)  { m.enrollments += n }
func (m *recordingMetrics) RecordGradeUpdates(n int) { m.gradeUpdates += n }

func TestCourseLogListScopesStudentsToSelf(t *testing.T) {
	repo, _, _, svc := enrollFixture()

	_, _, err := svc.List(context.Background(), studentActor(), models.CourseLogFilter{StudentPublicID: "USR-other"})
	require.NoError(t, err)
	assert.Equal(t, "USR-stud", repo.lastFilter.StudentPublicID)
}

func TestCourseLogListPrivilegedKeepsFilter(t *testing.T) {
	repo, _, _, svc := enrollFixture()

	_, _, err := svc.List(context.Background(), staffActor(), models.CourseLogFilter{StudentPublicID: "USR-other"})
	require.NoError(t, err)
	assert.Equal(t, "USR-other", repo.lastFilter.StudentPublicID)
}

func TestCourseLogGetDeniedForOtherStudent(t *testing.T) {
	repo, _, _, svc := enrollFixture()
	repo.details["LOG-1"] = models.CourseLogDetail{CourseLog: models.CourseLog{PublicID: "LOG-1", StudentID: "someone-else"}}

	_, err := svc.Get(context.Background(), studentActor(), "LOG-1")
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrForbidden.Code, appErr.Code)
}

func TestCourseLogGetOwnerAllowed(t *testing.T) {
	repo, _, _, svc := enrollFixture()
	repo.details["LOG-1"] = models.CourseLogDetail{CourseLog: models.CourseLog{PublicID: "LOG-1", StudentID: "stud1"}}

	detail, err := svc.Get(context.Background(), studentActor(), "LOG-1")
	require.NoError(t, err)
	assert.Equal(t, "LOG-1", detail.PublicID)
}

func TestEnrollSelf(t *testing.T) {
	repo, _, _, svc := enrollFixture()

	logs, err := svc.Enroll(context.Background(), studentActor(), EnrollRequest{Student: "USR-stud", Sections: []string{"SEC-1", "SEC-2"}})
	require.NoError(t, err)
	assert.Len(t, logs, 2)
	assert.Equal(t, "t1", repo.lastTermID)
	for _, l := range logs {
		assert.Equal(t, models.CourseLogStatusUnavailable, l.Status)
	}
}

func TestEnrollOtherStudentDenied(t *testing.T) {
	_, _, users, svc := enrollFixture()
	users.users["USR-other"] = models.User{ID: "other1", PublicID: "USR-other", Active: true, Roles: []string{"STUDENT"}}

	_, err := svc.Enroll(context.Background(), studentActor(), EnrollRequest{Student: "USR-other", Sections: []string{"SEC-1"}})
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrForbidden.Code, appErr.Code)
}

func TestEnrollByStaffForAnyStudent(t *testing.T) {
	_, _, _, svc := enrollFixture()

	logs, err := svc.Enroll(context.Background(), staffActor(), EnrollRequest{Student: "USR-stud", Sections: []string{"SEC-1"}})
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}

func TestEnrollRejectsMixedTerms(t *testing.T) {
	_, _, _, svc := enrollFixture()

	_, err := svc.Enroll(context.Background(), studentActor(), EnrollRequest{Student: "USR-stud", Sections: []string{"SEC-1", "SEC-9"}})
	require.Error(t, err)
	fields := appErrors.FieldsOf(err)
	require.Len(t, fields, 1)
	assert.Equal(t, 1, fields[0].Index)
}

func TestEnrollCollectsUnknownSections(t *testing.T) {
	_, _, _, svc := enrollFixture()

	_, err := svc.Enroll(context.Background(), studentActor(), EnrollRequest{Student: "USR-stud", Sections: []string{"SEC-x", "SEC-1", "SEC-y"}})
	require.Error(t, err)
	fields := appErrors.FieldsOf(err)
	require.Len(t, fields, 2)
	assert.Equal(t, 0, fields[0].Index)
	assert.Equal(t, 2, fields[1].Index)
}

func TestEnrollInactiveStudentRejected(t *testing.T) {
	_, _, users, svc := enrollFixture()
	u := users.users["USR-stud"]
	u.Active = false
	users.users["USR-stud"] = u

	_, err := svc.Enroll(context.Background(), staffActor(), EnrollRequest{Student: "USR-stud", Sections: []string{"SEC-1"}})
	require.Error(t, err)
}

func TestEnrollNonStudentRejected(t *testing.T) {
	_, _, users, svc := enrollFixture()
	users.users["USR-teach"] = models.User{ID: "teach1", PublicID: "USR-teach", Active: true, Roles: []string{"INSTRUCTOR"}}

	_, err := svc.Enroll(context.Background(), staffActor(), EnrollRequest{Student: "USR-teach", Sections: []string{"SEC-1"}})
	require.Error(t, err)
}

func TestEnrollPassesThroughRepositoryConflicts(t *testing.T) {
	repo, _, _, svc := enrollFixture()
	repo.createErr = appErrors.Clone(appErrors.ErrConflict, "student is already enrolled in this section")

	_, err := svc.Enroll(context.Background(), studentActor(), EnrollRequest{Student: "USR-stud", Sections: []string{"SEC-1"}})
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrConflict.Code, appErr.Code)
}

func TestUpdateGradesBounds(t *testing.T) {
	repo, _, _, svc := enrollFixture()
	repo.logs["LOG-1"] = models.CourseLog{PublicID: "LOG-1", SectionID: "s1"}

	err := svc.UpdateGrades(context.Background(), staffActor(), GradeUpdateRequest{Updates: []models.GradePatch{
		{PublicID: "LOG-1", MidtermExam: intPtr(21)},
	}})
	require.Error(t, err)
	fields := appErrors.FieldsOf(err)
	require.Len(t, fields, 1)
	assert.Equal(t, "midterm_exam", fields[0].Field)
	assert.Nil(t, repo.lastPatches)
}

func TestUpdateGradesBoundaryValuesAccepted(t *testing.T) {
	repo, _, _, svc := enrollFixture()
	repo.logs["LOG-1"] = models.CourseLog{PublicID: "LOG-1", SectionID: "s1"}

	err := svc.UpdateGrades(context.Background(), staffActor(), GradeUpdateRequest{Updates: []models.GradePatch{
		{PublicID: "LOG-1", MidtermExam: intPtr(0), FinalExam: intPtr(20)},
	}})
	require.NoError(t, err)
	require.Len(t, repo.lastPatches, 1)
}

func TestUpdateGradesUnknownIDRejectsBatch(t *testing.T) {
	repo, _, _, svc := enrollFixture()
	repo.logs["LOG-1"] = models.CourseLog{PublicID: "LOG-1", SectionID: "s1"}

	err := svc.UpdateGrades(context.Background(), staffActor(), GradeUpdateRequest{Updates: []models.GradePatch{
		{PublicID: "LOG-1", FinalGrade: intPtr(15)},
		{PublicID: "LOG-missing", FinalGrade: intPtr(15)},
	}})
	require.Error(t, err)
	fields := appErrors.FieldsOf(err)
	require.Len(t, fields, 1)
	assert.Equal(t, 1, fields[0].Index)
	assert.Nil(t, repo.lastPatches)
}

func TestUpdateGradesInstructorLimitedToOwnSections(t *testing.T) {
	repo, sections, _, svc := enrollFixture()
	repo.logs["LOG-1"] = models.CourseLog{PublicID: "LOG-1", SectionID: "s1"}
	repo.logs["LOG-2"] = models.CourseLog{PublicID: "LOG-2", SectionID: "s2"}
	sections.owned["inst1/s1"] = true

	err := svc.UpdateGrades(context.Background(), instructorActor(), GradeUpdateRequest{Updates: []models.GradePatch{
		{PublicID: "LOG-1", FinalGrade: intPtr(12)},
		{PublicID: "LOG-2", FinalGrade: intPtr(12)},
	}})
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrForbidden.Code, appErr.Code)
}

func TestUpdateGradesOwnSectionAllowed(t *testing.T) {
	repo, sections, users, svc := enrollFixture()
	repo.logs["LOG-1"] = models.CourseLog{PublicID: "LOG-1", SectionID: "s1"}
	sections.owned["inst1/s1"] = true

	err := svc.UpdateGrades(context.Background(), instructorActor(), GradeUpdateRequest{Updates: []models.GradePatch{
		{PublicID: "LOG-1", MidtermExam: intPtr(17)},
	}})
	require.NoError(t, err)
	require.Len(t, users.audits, 1)
	assert.Equal(t, models.AuditActionGradeUpdate, users.audits[0].Action)
}

func TestUpdateGradesStudentDenied(t *testing.T) {
	repo, _, _, svc := enrollFixture()
	repo.logs["LOG-1"] = models.CourseLog{PublicID: "LOG-1", SectionID: "s1"}

	err := svc.UpdateGrades(context.Background(), studentActor(), GradeUpdateRequest{Updates: []models.GradePatch{
		{PublicID: "LOG-1", FinalGrade: intPtr(10)},
	}})
	require.Error(t, err)
}

func TestApproveUnknownIDs(t *testing.T) {
	repo, _, _, svc := enrollFixture()
	repo.logs["LOG-1"] = models.CourseLog{PublicID: "LOG-1"}

	_, err := svc.Approve(context.Background(), staffActor(), ApproveRequest{CourseLogs: []string{"LOG-1", "LOG-gone"}})
	require.Error(t, err)
	fields := appErrors.FieldsOf(err)
	require.Len(t, fields, 1)
	assert.Equal(t, 1, fields[0].Index)
	assert.Nil(t, repo.approved)
}

func TestApproveCountsTransitionedRows(t *testing.T) {
	repo, _, _, svc := enrollFixture()
	repo.logs["LOG-1"] = models.CourseLog{PublicID: "LOG-1", Status: models.CourseLogStatusNotApproved}
	repo.logs["LOG-2"] = models.CourseLog{PublicID: "LOG-2", Status: models.CourseLogStatusApproved}
	repo.approveCount = 1

	approved, err := svc.Approve(context.Background(), staffActor(), ApproveRequest{CourseLogs: []string{"LOG-1", "LOG-2"}})
	require.NoError(t, err)
	assert.Equal(t, 1, approved)
	assert.Equal(t, []string{"LOG-1", "LOG-2"}, repo.approved)
}

func TestCourseLogCountersRecorded(t *testing.T) {
	repo, sections, users, _ := enrollFixture()
	metrics := &recordingMetrics{}
	svc := NewCourseLogService(repo, sections, users, 18, metrics, validator.New(), zap.NewNop())

	_, err := svc.Enroll(context.Background(), studentActor(), EnrollRequest{Student: "USR-stud", Sections: []string{"SEC-1", "SEC-2"}})
	require.NoError(t, err)
	assert.Equal(t, 2, metrics.enrollments)

	repo.logs["LOG-1"] = models.CourseLog{PublicID: "LOG-1", SectionID: "s1", Status: models.CourseLogStatusNotApproved}
	err = svc.UpdateGrades(context.Background(), staffActor(), GradeUpdateRequest{Updates: []models.GradePatch{
		{PublicID: "LOG-1", FinalGrade: intPtr(12)},
	}})
	require.NoError(t, err)
	assert.Equal(t, 1, metrics.gradeUpdates)

	repo.approveCount = 1
	_, err = svc.Approve(context.Background(), staffActor(), ApproveRequest{CourseLogs: []string{"LOG-1"}})
	require.NoError(t, err)
	assert.Equal(t, 2, metrics.gradeUpdates)
}

func TestCourseLogDelete(t *testing.T) {
	repo, _, _, svc := enrollFixture()
	repo.details["LOG-1"] = models.CourseLogDetail{CourseLog: models.CourseLog{ID: "row1", PublicID: "LOG-1"}}

	require.NoError(t, svc.Delete(context.Background(), "LOG-1"))
	assert.Equal(t, []string{"row1"}, repo.deleted)

	err := svc.Delete(context.Background(), "LOG-x")
	require.Error(t, err)
}
