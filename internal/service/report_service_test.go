package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parnia-edu/parnia-api/internal/dto"
	"github.com/parnia-edu/parnia-api/internal/models"
	"github.com/parnia-edu/parnia-api/internal/repository"
	appErrors "github.com/parnia-edu/parnia-api/pkg/errors"
	"github.com/parnia-edu/parnia-api/pkg/jobs"
)

type mockReportStore struct {
	jobs    map[string]*models.ReportJob
	updates []repository.ReportJobUpdate
	queued  []models.ReportJob
}

func newMockReportStore() *mockReportStore {
	return &mockReportStore{jobs: map[string]*models.ReportJob{}}
}

func (m *mockReportStore) Create(_ context.Context, job *models.ReportJob) error {
	if job.ID == "" {
		job.ID = "job-1"
	}
	m.jobs[job.ID] = job
	return nil
}

func (m *mockReportStore) GetByID(_ context.Context, id string) (*models.ReportJob, error) {
	job, ok := m.jobs[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return job, nil
}

func (m *mockReportStore) ListForUser(_ context.Context, userID string, _ int) ([]models.ReportJob, error) {
	var out []models.ReportJob
	for _, j := range m.jobs {
		if j.CreatedBy == userID {
			out = append(out, *j)
		}
	}
	return out, nil
}

func (m *mockReportStore) Update(_ context.Context, id string, update repository.ReportJobUpdate) error {
	m.updates = append(m.updates, update)
	job, ok := m.jobs[id]
	if !ok {
		return sql.ErrNoRows
	}
	if update.Status != nil {
		job.Status = *update.Status
	}
	if update.Progress != nil {
		job.Progress = *update.Progress
	}
	if update.ResultURL != nil {
		job.ResultURL = update.ResultURL
	}
	if update.ErrorMessage != nil {
		job.ErrorMessage = update.ErrorMessage
	}
	return nil
}

func (m *mockReportStore) ListQueued(_ context.Context, _ int) ([]models.ReportJob, error) {
	return m.queued, nil
}

type mockReportSections struct {
	sections map[string]*models.CourseSection
	owned    map[string]bool
}

func (m *mockReportSections) FindByPublicID(_ context.Context, publicID string) (*models.CourseSection, error) {
	s, ok := m.sections[publicID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return s, nil
}

func (m *mockReportSections) InstructorOwnsSection(_ context.Context, instructorID, sectionID string) (bool, error) {
	return m.owned[instructorID+"/"+sectionID], nil
}

type mockDispatcher struct {
	enqueued []jobs.Job
	err      error
}

func (m *mockDispatcher) Enqueue(job jobs.Job) error {
	if m.err != nil {
		return m.err
	}
	m.enqueued = append(m.enqueued, job)
	return nil
}

type mockGenerator struct {
	result *ExportResult
	err    error
}

func (m *mockGenerator) Generate(_ context.Context, _ *models.ReportJob) (*ExportResult, error) {
	return m.result, m.err
}

func reportFixture() (*ReportService, *mockReportStore, *mockDispatcher) {
	store := newMockReportStore()
	sections := &mockReportSections{
		sections: map[string]*models.CourseSection{
			"SEC-1": {ID: "sec-1", PublicID: "SEC-1", InstructorID: "inst1"},
		},
		owned: map[string]bool{"inst1/sec-1": true},
	}
	queue := &mockDispatcher{}
	svc := NewReportService(store, sections, queue, nil, nil, ReportServiceConfig{})
	return svc, store, queue
}

func TestReportServiceCreateTranscriptDefaultsToSelf(t *testing.T) {
	svc, store, queue := reportFixture()

	resp, err := svc.CreateJob(context.Background(), studentActor(), dto.ReportRequest{
		Type:   models.ReportTypeTranscript,
		Format: models.ReportFormatCSV,
	})
	require.NoError(t, err)
	assert.Equal(t, models.ReportStatusQueued, resp.Status)

	job := store.jobs[resp.ID]
	require.NotNil(t, job)
	assert.Equal(t, studentActor().PublicID, job.Params.StudentPublicID)
	require.Len(t, queue.enqueued, 1)
	assert.Equal(t, resp.ID, queue.enqueued[0].ID)
}

func TestReportServiceStudentCannotRequestOthersTranscript(t *testing.T) {
	svc, store, _ := reportFixture()

	_, err := svc.CreateJob(context.Background(), studentActor(), dto.ReportRequest{
		Type:    models.ReportTypeTranscript,
		Student: "USR-other",
		Format:  models.ReportFormatCSV,
	})
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErr.Code)
	assert.Empty(t, store.jobs)
}

func TestReportServiceStaffCanRequestAnyTranscript(t *testing.T) {
	svc, store, _ := reportFixture()

	resp, err := svc.CreateJob(context.Background(), staffActor(), dto.ReportRequest{
		Type:    models.ReportTypeTranscript,
		Student: "USR-other",
		Format:  models.ReportFormatPDF,
	})
	require.NoError(t, err)
	assert.Equal(t, "USR-other", store.jobs[resp.ID].Params.StudentPublicID)
}

func TestReportServiceSectionGradesRequireOwnSection(t *testing.T) {
	svc, _, _ := reportFixture()

	other := instructorActor()
	other.ID = "inst-other"
	other.PublicID = "USR-inst-other"
	_, err := svc.CreateJob(context.Background(), other, dto.ReportRequest{
		Type:    models.ReportTypeSectionGrades,
		Section: "SEC-1",
		Format:  models.ReportFormatCSV,
	})
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErr.Code)

	_, err = svc.CreateJob(context.Background(), instructorActor(), dto.ReportRequest{
		Type:    models.ReportTypeSectionGrades,
		Section: "SEC-1",
		Format:  models.ReportFormatCSV,
	})
	assert.NoError(t, err)
}

func TestReportServiceRejectsUnknownFormat(t *testing.T) {
	svc, _, _ := reportFixture()

	_, err := svc.CreateJob(context.Background(), staffActor(), dto.ReportRequest{
		Type:   models.ReportTypeTranscript,
		Format: "xlsx",
	})
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
}

func TestReportServiceEnqueueFailureMarksJobFailed(t *testing.T) {
	svc, store, queue := reportFixture()
	queue.err = errors.New("queue stopped")

	_, err := svc.CreateJob(context.Background(), studentActor(), dto.ReportRequest{
		Type:   models.ReportTypeTranscript,
		Format: models.ReportFormatCSV,
	})
	require.Error(t, err)
	require.Len(t, store.jobs, 1)
	for _, job := range store.jobs {
		assert.Equal(t, models.ReportStatusFailed, job.Status)
	}
}

func TestReportServiceStatusScopedToCreator(t *testing.T) {
	svc, store, _ := reportFixture()
	url := "/api/v1/export/tok"
	store.jobs["job-9"] = &models.ReportJob{
		ID:        "job-9",
		Status:    models.ReportStatusFinished,
		Progress:  100,
		ResultURL: &url,
		CreatedBy: "stud1",
	}

	resp, err := svc.GetStatus(context.Background(), studentActor(), "job-9")
	require.NoError(t, err)
	require.NotNil(t, resp.ResultURL)
	assert.Equal(t, url, *resp.ResultURL)

	other := studentActor()
	other.ID = "usr-other"
	_, err = svc.GetStatus(context.Background(), other, "job-9")
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErr.Code)

	// Privileged actors see any job.
	_, err = svc.GetStatus(context.Background(), staffActor(), "job-9")
	assert.NoError(t, err)
}

func TestReportServiceRecoverPendingJobs(t *testing.T) {
	svc, store, queue := reportFixture()
	store.queued = []models.ReportJob{
		{ID: "job-a", Type: models.ReportTypeTranscript},
		{ID: "job-b", Type: models.ReportTypeSectionGrades},
	}

	svc.RecoverPendingJobs(context.Background())
	require.Len(t, queue.enqueued, 2)
	assert.Equal(t, "job-a", queue.enqueued[0].ID)
}

func TestReportWorkerHandleSuccess(t *testing.T) {
	store := newMockReportStore()
	store.jobs["job-1"] = &models.ReportJob{
		ID:     "job-1",
		Type:   models.ReportTypeTranscript,
		Status: models.ReportStatusQueued,
		Params: models.ReportJobParams{Format: models.ReportFormatCSV},
	}
	gen := &mockGenerator{result: &ExportResult{URL: "/api/v1/export/tok"}}
	worker := NewReportWorker(store, gen, 3, nil)

	err := worker.Handle(context.Background(), jobs.Job{ID: "job-1"})
	require.NoError(t, err)
	job := store.jobs["job-1"]
	assert.Equal(t, models.ReportStatusFinished, job.Status)
	assert.Equal(t, 100, job.Progress)
	require.NotNil(t, job.ResultURL)
	assert.Equal(t, "/api/v1/export/tok", *job.ResultURL)
}

func TestReportWorkerHandleRetriesThenFails(t *testing.T) {
	store := newMockReportStore()
	store.jobs["job-1"] = &models.ReportJob{
		ID:     "job-1",
		Type:   models.ReportTypeTranscript,
		Status: models.ReportStatusQueued,
	}
	gen := &mockGenerator{err: errors.New("render failed")}
	worker := NewReportWorker(store, gen, 2, nil)

	// Attempts below the budget re-queue the job.
	err := worker.Handle(context.Background(), jobs.Job{ID: "job-1", Attempt: 0})
	require.Error(t, err)
	assert.Equal(t, models.ReportStatusQueued, store.jobs["job-1"].Status)

	// The final attempt marks it failed.
	err = worker.Handle(context.Background(), jobs.Job{ID: "job-1", Attempt: 2})
	require.Error(t, err)
	job := store.jobs["job-1"]
	assert.Equal(t, models.ReportStatusFailed, job.Status)
	require.NotNil(t, job.ErrorMessage)
	assert.Equal(t, "render failed", *job.ErrorMessage)
}
