package service

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/parnia-edu/parnia-api/internal/models"
	"github.com/parnia-edu/parnia-api/pkg/export"
	"github.com/parnia-edu/parnia-api/pkg/storage"
)

type transcriptStub struct{}

func (transcriptStub) TranscriptRows(_ context.Context, studentPublicID string) ([]models.CourseLogDetail, error) {
	grade := 17
	return []models.CourseLogDetail{
		{
			CourseLog:       models.CourseLog{PublicID: "LOG-1", FinalGrade: &grade, Status: models.CourseLogStatusApproved},
			StudentPublicID: studentPublicID,
			TermPublicID:    "TRM-1",
			CourseName:      "Algorithms",
			CourseCredit:    3,
			SectionLocalID:  1,
		},
		{
			CourseLog:       models.CourseLog{PublicID: "LOG-2", Status: models.CourseLogStatusUnavailable},
			StudentPublicID: studentPublicID,
			TermPublicID:    "TRM-2",
			CourseName:      "Databases",
			CourseCredit:    4,
			SectionLocalID:  2,
		},
	}, nil
}

func (transcriptStub) SectionGradeRows(_ context.Context, sectionPublicID string) ([]models.CourseLogDetail, error) {
	midterm := 12
	return []models.CourseLogDetail{
		{
			CourseLog:       models.CourseLog{PublicID: "LOG-1", MidtermExam: &midterm, Status: models.CourseLogStatusNotApproved},
			StudentPublicID: "USR-1",
			StudentName:     "Sara Karimi",
			SectionPublicID: sectionPublicID,
		},
	}, nil
}

func newExportServiceForTest(t *testing.T) (*ExportService, *storage.LocalStorage, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewLocalStorage(dir)
	require.NoError(t, err)
	signer := storage.NewSignedURLSigner("secret", time.Hour)
	cfg := ExportConfig{APIPrefix: "/api/v1", ResultTTL: time.Hour}
	svc := NewExportService(transcriptStub{}, store, signer, cfg, zap.NewNop(), export.NewCSVExporter(), export.NewPDFExporter())
	return svc, store, dir
}

func TestExportServiceGenerateTranscriptCSV(t *testing.T) {
	svc, _, dir := newExportServiceForTest(t)
	job := &models.ReportJob{
		ID:        "job-1",
		Type:      models.ReportTypeTranscript,
		Params:    models.ReportJobParams{StudentPublicID: "USR-1", Format: models.ReportFormatCSV},
		CreatedBy: "usr-1",
	}

	result, err := svc.Generate(context.Background(), job)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(result.URL, "/api/v1/export/"))
	assert.Equal(t, models.ReportFormatCSV, result.Format)

	data, err := os.ReadFile(filepath.Join(dir, result.RelativePath))
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "Term,Course,Section,Credits,Final Grade,Status")
	assert.Contains(t, content, "Algorithms")
	assert.Contains(t, content, "Databases")

	jobID, relPath, expiresAt, err := svc.ParseToken(result.Token, false)
	require.NoError(t, err)
	assert.Equal(t, "job-1", jobID)
	assert.Equal(t, result.RelativePath, relPath)
	assert.True(t, expiresAt.After(time.Now()))
}

func TestExportServiceGenerateTranscriptTermFilter(t *testing.T) {
	svc, _, dir := newExportServiceForTest(t)
	job := &models.ReportJob{
		ID:   "job-2",
		Type: models.ReportTypeTranscript,
		Params: models.ReportJobParams{
			StudentPublicID: "USR-1",
			TermPublicID:    "TRM-1",
			Format:          models.ReportFormatCSV,
		},
	}

	result, err := svc.Generate(context.Background(), job)
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(dir, result.RelativePath))
	require.NoError(t, err)
	assert.Contains(t, string(data), "Algorithms")
	assert.NotContains(t, string(data), "Databases")
}

func TestExportServiceGenerateSectionGradesPDF(t *testing.T) {
	svc, _, dir := newExportServiceForTest(t)
	job := &models.ReportJob{
		ID:   "job-3",
		Type: models.ReportTypeSectionGrades,
		Params: models.ReportJobParams{
			SectionPublicID: "SEC-1",
			Format:          models.ReportFormatPDF,
		},
	}

	result, err := svc.Generate(context.Background(), job)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(result.RelativePath, ".pdf"))

	data, err := os.ReadFile(filepath.Join(dir, result.RelativePath))
	require.NoError(t, err)
	assert.True(t, len(data) > 0)
	assert.Equal(t, "%PDF", string(data[:4]))
}

func TestExportServiceGenerateUnsupportedFormat(t *testing.T) {
	svc, _, _ := newExportServiceForTest(t)
	job := &models.ReportJob{
		ID:     "job-4",
		Type:   models.ReportTypeTranscript,
		Params: models.ReportJobParams{StudentPublicID: "USR-1", Format: "xlsx"},
	}

	_, err := svc.Generate(context.Background(), job)
	assert.Error(t, err)
}

func TestExportServiceCleanup(t *testing.T) {
	svc, store, dir := newExportServiceForTest(t)
	_, err := store.Save("stale.csv", []byte("a,b\n"))
	require.NoError(t, err)
	_, err = store.Save("fresh.csv", []byte("c,d\n"))
	require.NoError(t, err)

	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(dir, "stale.csv"), old, old))

	removed, err := svc.Cleanup(time.Hour)
	require.NoError(t, err)
	assert.Equal(t, []string{"stale.csv"}, removed)

	_, err = store.Open("fresh.csv")
	assert.NoError(t, err)
}
