package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/parnia-edu/parnia-api/internal/authz"
	"github.com/parnia-edu/parnia-api/internal/models"
	appErrors "github.com/parnia-edu/parnia-api/pkg/errors"
)

type mockComplainRepo struct {
	details    map[string]models.ComplainDetail
	bySection  map[string][]models.ComplainDetail
	markedSeen [][]string
	deleted    []string
	createErr  error
}

func (m *mockComplainRepo) Create(ctx context.Context, complain *models.Complain) error {
	if m.createErr != nil {
		return m.createErr
	}
	complain.PublicID = "CMP-new"
	complain.Status = models.ComplainStatusUnseen
	if m.details == nil {
		m.details = make(map[string]models.ComplainDetail)
	}
	m.details[complain.PublicID] = models.ComplainDetail{Complain: *complain}
	return nil
}

func (m *mockComplainRepo) FindDetailByPublicID(ctx context.Context, publicID string) (*models.ComplainDetail, error) {
	if d, ok := m.details[publicID]; ok {
		return &d, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockComplainRepo) ListForStudent(ctx context.Context, studentID string) ([]models.ComplainDetail, error) {
	out := make([]models.ComplainDetail, 0)
	for _, d := range m.details {
		if d.StudentID == studentID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *mockComplainRepo) ListForSection(ctx context.Context, sectionPublicID string) ([]models.ComplainDetail, error) {
	return m.bySection[sectionPublicID], nil
}

func (m *mockComplainRepo) MarkSeen(ctx context.Context, ids []string) error {
	m.markedSeen = append(m.markedSeen, ids)
	rest := make(map[string][]models.ComplainDetail, len(m.bySection))
	for section, list := range m.bySection {
		for i := range list {
			for _, id := range ids {
				if list[i].ID == id {
					list[i].Status = models.ComplainStatusSeen
				}
			}
		}
		rest[section] = list
	}
	m.bySection = rest
	return nil
}

func (m *mockComplainRepo) Delete(ctx context.Context, id string) error {
	m.deleted = append(m.deleted, id)
	return nil
}

type mockComplainSections struct {
	sections map[string]models.CourseSection
}

func (m *mockComplainSections) FindByPublicID(ctx context.Context, publicID string) (*models.CourseSection, error) {
	if s, ok := m.sections[publicID]; ok {
		return &s, nil
	}
	return nil, sql.ErrNoRows
}

func complainFixture() (*mockComplainRepo, *mockComplainSections, *ComplainService) {
	repo := &mockComplainRepo{details: map[string]models.ComplainDetail{}, bySection: map[string][]models.ComplainDetail{}}
	sections := &mockComplainSections{sections: map[string]models.CourseSection{
		"SEC-1": {ID: "s1", PublicID: "SEC-1", InstructorID: "inst1"},
	}}
	svc := NewComplainService(repo, sections, validator.New(), zap.NewNop())
	return repo, sections, svc
}

func TestComplainCreateInActorName(t *testing.T) {
	_, _, svc := complainFixture()

	detail, err := svc.Create(context.Background(), studentActor(), ComplainRequest{Section: "SEC-1", Text: "room too small"})
	require.NoError(t, err)
	assert.Equal(t, "stud1", detail.StudentID)
	assert.Equal(t, models.ComplainStatusUnseen, detail.Status)
}

func TestComplainCreateTextTooLong(t *testing.T) {
	_, _, svc := complainFixture()

	_, err := svc.Create(context.Background(), studentActor(), ComplainRequest{Section: "SEC-1", Text: strings.Repeat("x", 301)})
	require.Error(t, err)
}

func TestComplainCreateDuplicatePassesConflictThrough(t *testing.T) {
	repo, _, svc := complainFixture()
	repo.createErr = appErrors.Clone(appErrors.ErrConflict, "complaint already filed for this section")

	_, err := svc.Create(context.Background(), studentActor(), ComplainRequest{Section: "SEC-1", Text: "again"})
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrConflict.Code, appErr.Code)
}

func TestComplainListForSectionInstructorOnly(t *testing.T) {
	_, _, svc := complainFixture()

	_, err := svc.ListForSection(context.Background(), studentActor(), "SEC-1")
	require.Error(t, err)

	_, err = svc.ListForSection(context.Background(), instructorActor(), "SEC-1")
	require.NoError(t, err)

	_, err = svc.ListForSection(context.Background(), staffActor(), "SEC-1")
	require.NoError(t, err)
}

func TestComplainListForSectionOtherInstructorDenied(t *testing.T) {
	_, sections, svc := complainFixture()
	sections.sections["SEC-1"] = models.CourseSection{ID: "s1", PublicID: "SEC-1", InstructorID: "someone-else"}

	_, err := svc.ListForSection(context.Background(), instructorActor(), "SEC-1")
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrForbidden.Code, appErr.Code)
}

func TestComplainListForSectionMarksUnseenSeen(t *testing.T) {
	repo, _, svc := complainFixture()
	repo.bySection["SEC-1"] = []models.ComplainDetail{
		{Complain: models.Complain{ID: "c1", Status: models.ComplainStatusUnseen}},
		{Complain: models.Complain{ID: "c2", Status: models.ComplainStatusSeen}},
	}

	listed, err := svc.ListForSection(context.Background(), instructorActor(), "SEC-1")
	require.NoError(t, err)
	require.Len(t, listed, 2)
	require.Len(t, repo.markedSeen, 1)
	assert.Equal(t, []string{"c1"}, repo.markedSeen[0])

	// A second read has nothing left to acknowledge.
	_, err = svc.ListForSection(context.Background(), instructorActor(), "SEC-1")
	require.NoError(t, err)
	assert.Len(t, repo.markedSeen, 1)
}

func TestComplainListForSectionAllSeenNoWrite(t *testing.T) {
	repo, _, svc := complainFixture()
	repo.bySection["SEC-1"] = []models.ComplainDetail{
		{Complain: models.Complain{ID: "c1", Status: models.ComplainStatusSeen}},
	}

	_, err := svc.ListForSection(context.Background(), instructorActor(), "SEC-1")
	require.NoError(t, err)
	assert.Empty(t, repo.markedSeen)
}

func TestComplainMarkSeenOnlyUnseen(t *testing.T) {
	repo, _, svc := complainFixture()
	repo.bySection["SEC-1"] = []models.ComplainDetail{
		{Complain: models.Complain{ID: "c1", Status: models.ComplainStatusUnseen}},
		{Complain: models.Complain{ID: "c2", Status: models.ComplainStatusSeen}},
		{Complain: models.Complain{ID: "c3", Status: models.ComplainStatusUnseen}},
	}

	require.NoError(t, svc.MarkSeenForSection(context.Background(), instructorActor(), "SEC-1"))
	require.Len(t, repo.markedSeen, 1)
	assert.Equal(t, []string{"c1", "c3"}, repo.markedSeen[0])
}

func TestComplainMarkSeenIdempotent(t *testing.T) {
	repo, _, svc := complainFixture()
	repo.bySection["SEC-1"] = []models.ComplainDetail{
		{Complain: models.Complain{ID: "c1", Status: models.ComplainStatusUnseen}},
	}

	require.NoError(t, svc.MarkSeenForSection(context.Background(), instructorActor(), "SEC-1"))
	require.NoError(t, svc.MarkSeenForSection(context.Background(), instructorActor(), "SEC-1"))
	assert.Len(t, repo.markedSeen, 1)
}

func TestComplainGetOwnerOrInstructor(t *testing.T) {
	repo, _, svc := complainFixture()
	repo.details["CMP-1"] = models.ComplainDetail{
		Complain:        models.Complain{ID: "c1", PublicID: "CMP-1", StudentID: "stud1"},
		SectionPublicID: "SEC-1",
	}

	_, err := svc.Get(context.Background(), studentActor(), "CMP-1")
	require.NoError(t, err)

	_, err = svc.Get(context.Background(), instructorActor(), "CMP-1")
	require.NoError(t, err)

	other := &authz.Subject{ID: "stud2", PublicID: "USR-other", Active: true, Roles: []authz.Role{authz.RoleStudent}}
	_, err = svc.Get(context.Background(), other, "CMP-1")
	require.Error(t, err)
}

func TestComplainDeleteOwnerOnly(t *testing.T) {
	repo, _, svc := complainFixture()
	repo.details["CMP-1"] = models.ComplainDetail{Complain: models.Complain{ID: "c1", PublicID: "CMP-1", StudentID: "stud1"}}

	other := &authz.Subject{ID: "stud2", Active: true, Roles: []authz.Role{authz.RoleStudent}}
	require.Error(t, svc.Delete(context.Background(), other, "CMP-1"))
	assert.Empty(t, repo.deleted)

	require.NoError(t, svc.Delete(context.Background(), studentActor(), "CMP-1"))
	assert.Equal(t, []string{"c1"}, repo.deleted)
}
