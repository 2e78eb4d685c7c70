package service

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/parnia-edu/parnia-api/internal/models"
	"github.com/parnia-edu/parnia-api/pkg/export"
	"github.com/parnia-edu/parnia-api/pkg/storage"
)

type exportDataRepository interface {
	TranscriptRows(ctx context.Context, studentPublicID string) ([]models.CourseLogDetail, error)
	SectionGradeRows(ctx context.Context, sectionPublicID string) ([]models.CourseLogDetail, error)
}

type fileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	APIPrefix string
	ResultTTL time.Duration
}

// ExportResult captures successful generation metadata.
type ExportResult struct {
	RelativePath string
	Token        string
	URL          string
	Format       models.ReportFormat
	ExpiresAt    time.Time
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// ExportService builds report datasets and persists rendered files.
type ExportService struct {
	logs    exportDataRepository
	storage fileStorage
	csv     csvRenderer
	pdf     pdfRenderer
	signer  *storage.SignedURLSigner
	logger  *zap.Logger
	cfg     ExportConfig
}

// NewExportService constructs an ExportService.
func NewExportService(logs exportDataRepository, store fileStorage, signer *storage.SignedURLSigner, cfg ExportConfig, logger *zap.Logger, csv csvRenderer, pdf pdfRenderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{
		logs:    logs,
		storage: store,
		csv:     csv,
		pdf:     pdf,
		signer:  signer,
		logger:  logger,
		cfg:     cfg,
	}
}

// Generate builds the dataset for a job and stores the rendered export.
func (s *ExportService) Generate(ctx context.Context, job *models.ReportJob) (*ExportResult, error) {
	if job == nil {
		return nil, fmt.Errorf("job nil")
	}
	dataset, title, err := s.buildDataset(ctx, job)
	if err != nil {
		return nil, err
	}

	var payload []byte
	switch job.Params.Format {
	case models.ReportFormatCSV:
		payload, err = s.csv.Render(dataset)
	case models.ReportFormatPDF:
		payload, err = s.pdf.Render(dataset, title)
	default:
		err = fmt.Errorf("unsupported format %s", job.Params.Format)
	}
	if err != nil {
		return nil, err
	}

	filename := s.buildFilename(job)
	relPath, err := s.storage.Save(filename, payload)
	if err != nil {
		return nil, err
	}

	token, expiresAt, err := s.signer.Generate(job.ID, relPath)
	if err != nil {
		return nil, err
	}
	signedURL := strings.TrimRight(s.cfg.APIPrefix, "/")
	if signedURL == "" {
		signedURL = "/api/v1"
	}
	signedURL = fmt.Sprintf("%s/export/%s", signedURL, token)

	return &ExportResult{
		RelativePath: relPath,
		Token:        token,
		URL:          signedURL,
		Format:       job.Params.Format,
		ExpiresAt:    expiresAt,
	}, nil
}

// ParseToken validates download token metadata.
func (s *ExportService) ParseToken(token string, allowExpired bool) (jobID, relPath string, expiresAt time.Time, err error) {
	return s.signer.Parse(token, allowExpired)
}

// Open returns a handle to the stored file.
func (s *ExportService) Open(relPath string) (*os.File, error) {
	return s.storage.Open(relPath)
}

// Delete removes a stored export file.
func (s *ExportService) Delete(relPath string) error {
	return s.storage.Delete(relPath)
}

// Cleanup removes files older than ttl, defaulting to the configured TTL.
func (s *ExportService) Cleanup(ttl time.Duration) ([]string, error) {
	if ttl <= 0 {
		ttl = s.cfg.ResultTTL
	}
	return s.storage.CleanupOlderThan(ttl)
}

func (s *ExportService) buildFilename(job *models.ReportJob) string {
	timestamp := time.Now().UTC().Format("20060102_150405")
	subject := job.Params.StudentPublicID
	if job.Type == models.ReportTypeSectionGrades {
		subject = job.Params.SectionPublicID
	}
	return fmt.Sprintf("%s_%s_%s.%s", strings.ToLower(string(job.Type)), sanitizeFilename(subject), timestamp, job.Params.Format)
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "na"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".", "__", "_")
	result := replacer.Replace(raw)
	if len(result) > 100 {
		return result[:100]
	}
	return result
}

func (s *ExportService) buildDataset(ctx context.Context, job *models.ReportJob) (export.Dataset, string, error) {
	switch job.Type {
	case models.ReportTypeTranscript:
		return s.buildTranscriptDataset(ctx, job.Params)
	case models.ReportTypeSectionGrades:
		return s.buildSectionGradesDataset(ctx, job.Params)
	default:
		return export.Dataset{}, "", fmt.Errorf("unsupported report type %s", job.Type)
	}
}

func (s *ExportService) buildTranscriptDataset(ctx context.Context, params models.ReportJobParams) (export.Dataset, string, error) {
	rows, err := s.logs.TranscriptRows(ctx, params.StudentPublicID)
	if err != nil {
		return export.Dataset{}, "", err
	}
	dataRows := make([]map[string]string, 0, len(rows))
	for _, row := range rows {
		if params.TermPublicID != "" && row.TermPublicID != params.TermPublicID {
			continue
		}
		dataRows = append(dataRows, map[string]string{
			"Term":        row.TermPublicID,
			"Course":      row.CourseName,
			"Section":     fmt.Sprintf("%d", row.SectionLocalID),
			"Credits":     fmt.Sprintf("%d", row.CourseCredit),
			"Final Grade": formatGrade(row.FinalGrade),
			"Status":      string(row.Status),
		})
	}
	dataset := export.Dataset{
		Headers: []string{"Term", "Course", "Section", "Credits", "Final Grade", "Status"},
		Rows:    dataRows,
	}
	title := fmt.Sprintf("Transcript %s", params.StudentPublicID)
	return dataset, title, nil
}

func (s *ExportService) buildSectionGradesDataset(ctx context.Context, params models.ReportJobParams) (export.Dataset, string, error) {
	rows, err := s.logs.SectionGradeRows(ctx, params.SectionPublicID)
	if err != nil {
		return export.Dataset{}, "", err
	}
	dataRows := make([]map[string]string, 0, len(rows))
	for _, row := range rows {
		dataRows = append(dataRows, map[string]string{
			"Student":     row.StudentName,
			"Student ID":  row.StudentPublicID,
			"Midterm":     formatGrade(row.MidtermExam),
			"Final Exam":  formatGrade(row.FinalExam),
			"Final Grade": formatGrade(row.FinalGrade),
			"Status":      string(row.Status),
		})
	}
	dataset := export.Dataset{
		Headers: []string{"Student", "Student ID", "Midterm", "Final Exam", "Final Grade", "Status"},
		Rows:    dataRows,
	}
	title := fmt.Sprintf("Section Grades %s", params.SectionPublicID)
	return dataset, title, nil
}

func formatGrade(v *int) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%d", *v)
}
