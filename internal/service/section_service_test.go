package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/parnia-edu/parnia-api/internal/models"
	appErrors "github.com/parnia-edu/parnia-api/pkg/errors"
)

type mockSectionRepo struct {
	byPublicID map[string]models.CourseSection
	details    map[string]models.CourseSectionDetail
	created    []models.CourseSection
	updated    []models.CourseSection
	deleted    []string
}

func (m *mockSectionRepo) List(ctx context.Context, filter models.SectionFilter) ([]models.CourseSectionDetail, int, error) {
	out := make([]models.CourseSectionDetail, 0, len(m.details))
	for _, d := range m.details {
		out = append(out, d)
	}
	return out, len(out), nil
}

func (m *mockSectionRepo) FindDetailByPublicID(ctx context.Context, publicID string) (*models.CourseSectionDetail, error) {
	if d, ok := m.details[publicID]; ok {
		return &d, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockSectionRepo) FindByPublicID(ctx context.Context, publicID string) (*models.CourseSection, error) {
	if s, ok := m.byPublicID[publicID]; ok {
		return &s, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockSectionRepo) Create(ctx context.Context, section *models.CourseSection) error {
	section.ID = "row1"
	section.PublicID = "SEC-new"
	section.LocalID = len(m.created) + 1
	m.created = append(m.created, *section)
	if m.details == nil {
		m.details = make(map[string]models.CourseSectionDetail)
	}
	m.details[section.PublicID] = models.CourseSectionDetail{CourseSection: *section}
	return nil
}

func (m *mockSectionRepo) Update(ctx context.Context, section *models.CourseSection) error {
	m.updated = append(m.updated, *section)
	m.details[section.PublicID] = models.CourseSectionDetail{CourseSection: *section}
	return nil
}

func (m *mockSectionRepo) Delete(ctx context.Context, id string) error {
	m.deleted = append(m.deleted, id)
	return nil
}

type mockCourseLookup struct{ courses map[string]models.Course }

func (m *mockCourseLookup) FindByPublicID(ctx context.Context, publicID string) (*models.Course, error) {
	if c, ok := m.courses[publicID]; ok {
		return &c, nil
	}
	return nil, sql.ErrNoRows
}

type mockTermLookup struct{ terms map[string]models.Term }

func (m *mockTermLookup) FindByPublicID(ctx context.Context, publicID string) (*models.Term, error) {
	if t, ok := m.terms[publicID]; ok {
		return &t, nil
	}
	return nil, sql.ErrNoRows
}

func sectionFixture() (*mockSectionRepo, *mockUserLookup, *SectionService) {
	repo := &mockSectionRepo{byPublicID: map[string]models.CourseSection{}, details: map[string]models.CourseSectionDetail{}}
	courses := &mockCourseLookup{courses: map[string]models.Course{
		"CRS-1": {ID: "c1", PublicID: "CRS-1", Name: "Algebra", Credit: 3},
	}}
	terms := &mockTermLookup{terms: map[string]models.Term{
		"TRM-1": {ID: "t1", PublicID: "TRM-1", Season: models.SeasonFall},
	}}
	users := &mockUserLookup{users: map[string]models.User{
		"USR-inst": {ID: "inst1", PublicID: "USR-inst", Active: true, Roles: []string{"INSTRUCTOR"}},
	}}
	svc := NewSectionService(repo, courses, terms, users, validator.New(), zap.NewNop())
	return repo, users, svc
}

func validSectionRequest() SectionRequest {
	return SectionRequest{
		Course:               "CRS-1",
		Term:                 "TRM-1",
		Instructor:           "USR-inst",
		TotalCapacity:        30,
		FirstSessionWeekday:  "Monday",
		SecondSessionWeekday: "Wednesday",
		HourSchedule:         "8-10",
		ExamDate:             time.Date(2027, 1, 20, 9, 0, 0, 0, time.UTC),
	}
}

func TestSectionCreate(t *testing.T) {
	repo, _, svc := sectionFixture()

	detail, err := svc.Create(context.Background(), validSectionRequest())
	require.NoError(t, err)
	assert.Equal(t, "c1", detail.CourseID)
	assert.Equal(t, "inst1", detail.InstructorID)
	require.Len(t, repo.created, 1)
	assert.Equal(t, 1, repo.created[0].LocalID)
}

func TestSectionCreateRejectsNonInstructor(t *testing.T) {
	_, users, svc := sectionFixture()
	users.users["USR-inst"] = models.User{ID: "inst1", PublicID: "USR-inst", Active: true, Roles: []string{"STUDENT"}}

	_, err := svc.Create(context.Background(), validSectionRequest())
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
}

func TestSectionCreateRejectsInactiveInstructor(t *testing.T) {
	_, users, svc := sectionFixture()
	users.users["USR-inst"] = models.User{ID: "inst1", PublicID: "USR-inst", Active: false, Roles: []string{"INSTRUCTOR"}}

	_, err := svc.Create(context.Background(), validSectionRequest())
	require.Error(t, err)
}

func TestSectionCreateRejectsBadSchedule(t *testing.T) {
	_, _, svc := sectionFixture()

	req := validSectionRequest()
	req.FirstSessionWeekday = "Funday"
	req.HourSchedule = "23-24"

	_, err := svc.Create(context.Background(), req)
	require.Error(t, err)
	fields := appErrors.FieldsOf(err)
	require.Len(t, fields, 2)
	assert.Equal(t, "first_session_weekday", fields[0].Field)
	assert.Equal(t, "hour_schedule", fields[1].Field)
}

func TestSectionCreateUnknownCourse(t *testing.T) {
	_, _, svc := sectionFixture()

	req := validSectionRequest()
	req.Course = "CRS-none"

	_, err := svc.Create(context.Background(), req)
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrNotFound.Code, appErr.Code)
}

func TestSectionUpdateKeepsCourseTermAndLocalID(t *testing.T) {
	repo, _, svc := sectionFixture()
	repo.byPublicID["SEC-1"] = models.CourseSection{
		ID: "row1", PublicID: "SEC-1", CourseID: "c1", TermID: "t1",
		InstructorID: "inst0", LocalID: 2, TotalCapacity: 20,
	}
	repo.details["SEC-1"] = models.CourseSectionDetail{CourseSection: repo.byPublicID["SEC-1"]}

	detail, err := svc.Update(context.Background(), "SEC-1", UpdateSectionRequest{
		Instructor:           "USR-inst",
		TotalCapacity:        40,
		FirstSessionWeekday:  "Tuesday",
		SecondSessionWeekday: "Thursday",
		HourSchedule:         "2-4",
		ExamDate:             time.Date(2027, 1, 20, 9, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, "c1", detail.CourseID)
	assert.Equal(t, "t1", detail.TermID)
	assert.Equal(t, 2, detail.LocalID)
	assert.Equal(t, 40, detail.TotalCapacity)
	assert.Equal(t, "inst1", detail.InstructorID)
}

func TestSectionDelete(t *testing.T) {
	repo, _, svc := sectionFixture()
	repo.byPublicID["SEC-1"] = models.CourseSection{ID: "row1", PublicID: "SEC-1"}

	require.NoError(t, svc.Delete(context.Background(), "SEC-1"))
	assert.Equal(t, []string{"row1"}, repo.deleted)

	require.Error(t, svc.Delete(context.Background(), "SEC-x"))
}
