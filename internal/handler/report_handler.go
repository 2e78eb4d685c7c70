package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/parnia-edu/parnia-api/internal/dto"
	"github.com/parnia-edu/parnia-api/internal/models"
	"github.com/parnia-edu/parnia-api/internal/service"
	appErrors "github.com/parnia-edu/parnia-api/pkg/errors"
	"github.com/parnia-edu/parnia-api/pkg/response"
)

// ReportHandler exposes asynchronous report endpoints.
type ReportHandler struct {
	reports *service.ReportService
}

// NewReportHandler constructs ReportHandler.
func NewReportHandler(reports *service.ReportService) *ReportHandler {
	return &ReportHandler{reports: reports}
}

// Create godoc
// @Summary Enqueue a report job
// @Description Accepts a transcript or section grade sheet request and
// returns a job handle immediately. Students may only request their own
// transcript.
// @Tags Reports
// @Accept json
// @Produce json
// @Param payload body dto.ReportRequest true "Report request"
// @Success 202 {object} response.Envelope
// @Router /reports [post]
func (h *ReportHandler) Create(c *gin.Context) {
	var req dto.ReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	job, err := h.reports.CreateJob(c.Request.Context(), subjectFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusAccepted, job, nil)
}

// Status godoc
// @Summary Report job status
// @Tags Reports
// @Produce json
// @Param id path string true "Job ID"
// @Success 200 {object} response.Envelope
// @Router /reports/{id} [get]
func (h *ReportHandler) Status(c *gin.Context) {
	status, err := h.reports.GetStatus(c.Request.Context(), subjectFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, status, nil)
}

// ListOwn godoc
// @Summary List own report jobs
// @Tags Reports
// @Produce json
// @Param limit query int false "Max jobs"
// @Success 200 {object} response.Envelope
// @Router /reports [get]
func (h *ReportHandler) ListOwn(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit <= 0 {
		limit = 20
	}
	jobs, err := h.reports.ListOwn(c.Request.Context(), subjectFromContext(c), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, jobs, nil)
}

// Download godoc
// @Summary Download a finished report via signed token
// @Tags Reports
// @Produce octet-stream
// @Param token path string true "Signed download token"
// @Success 200 {file} binary
// @Router /export/{token} [get]
func (h *ReportHandler) Download(c *gin.Context) {
	token := strings.TrimSpace(c.Param("token"))
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token is required"))
		return
	}
	result, err := h.reports.ResolveDownload(c.Request.Context(), token)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer result.File.Close() //nolint:errcheck
	info, err := result.File.Stat()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to stat report file"))
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", result.Filename))
	c.Header("Cache-Control", "no-store")
	c.DataFromReader(http.StatusOK, info.Size(), mimeTypeFor(result.Format), result.File, nil)
}

func mimeTypeFor(format models.ReportFormat) string {
	switch format {
	case models.ReportFormatPDF:
		return "application/pdf"
	case models.ReportFormatCSV:
		return "text/csv"
	default:
		return "application/octet-stream"
	}
}
