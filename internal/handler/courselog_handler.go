package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/parnia-edu/parnia-api/internal/models"
	"github.com/parnia-edu/parnia-api/internal/service"
	appErrors "github.com/parnia-edu/parnia-api/pkg/errors"
	"github.com/parnia-edu/parnia-api/pkg/response"
)

// CourseLogHandler exposes enrollment and grading endpoints.
type CourseLogHandler struct {
	courseLogs *service.CourseLogService
}

// NewCourseLogHandler constructs CourseLogHandler.
func NewCourseLogHandler(courseLogs *service.CourseLogService) *CourseLogHandler {
	return &CourseLogHandler{courseLogs: courseLogs}
}

// List godoc
// @Summary List course logs
// @Description Students only see their own records. Privileged callers may
// filter by any student, section or term.
// @Tags CourseLogs
// @Produce json
// @Param student query string false "Filter by student public ID"
// @Param section query string false "Filter by section public ID"
// @Param term query string false "Filter by term public ID"
// @Param status query string false "Filter by status"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /courselogs [get]
func (h *CourseLogHandler) List(c *gin.Context) {
	var filter models.CourseLogFilter
	filter.StudentPublicID = c.Query("student")
	filter.SectionPublicID = c.Query("section")
	filter.TermPublicID = c.Query("term")
	filter.Status = models.CourseLogStatus(c.Query("status"))
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}

	logs, pagination, err := h.courseLogs.List(c.Request.Context(), subjectFromContext(c), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, logs, pagination)
}

// Get godoc
// @Summary Get course log detail
// @Tags CourseLogs
// @Produce json
// @Param public_id path string true "Course log public ID"
// @Success 200 {object} response.Envelope
// @Router /courselogs/{public_id} [get]
func (h *CourseLogHandler) Get(c *gin.Context) {
	publicID, ok := publicIDParam(c)
	if !ok {
		return
	}
	log, err := h.courseLogs.Get(c.Request.Context(), subjectFromContext(c), publicID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, log, nil)
}

// Enroll godoc
// @Summary Enroll a student in sections
// @Description Creates one course log per section. The whole batch succeeds
// or fails together.
// @Tags CourseLogs
// @Accept json
// @Produce json
// @Param payload body service.EnrollRequest true "Enrollment payload"
// @Success 201 {object} response.Envelope
// @Router /courselogs [post]
func (h *CourseLogHandler) Enroll(c *gin.Context) {
	var req service.EnrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	logs, err := h.courseLogs.Enroll(c.Request.Context(), subjectFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, logs)
}

// UpdateGrades godoc
// @Summary Bulk update grades
// @Description Applies partial grade updates. Fields absent from a patch keep
// their stored value. Updated rows move to Not Approved.
// @Tags CourseLogs
// @Accept json
// @Produce json
// @Param payload body service.GradeUpdateRequest true "Grade patches"
// @Success 200 {object} response.Envelope
// @Router /courselogs/grades [patch]
func (h *CourseLogHandler) UpdateGrades(c *gin.Context) {
	var req service.GradeUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	if err := h.courseLogs.UpdateGrades(c.Request.Context(), subjectFromContext(c), req); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"updated": len(req.Updates)}, nil)
}

// Approve godoc
// @Summary Approve graded course logs
// @Description Moves the listed course logs from Not Approved to Approved.
// Records in any other status are left untouched.
// @Tags CourseLogs
// @Accept json
// @Produce json
// @Param payload body service.ApproveRequest true "Course log public IDs"
// @Success 200 {object} response.Envelope
// @Router /courselogs/approve [post]
func (h *CourseLogHandler) Approve(c *gin.Context) {
	var req service.ApproveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	approved, err := h.courseLogs.Approve(c.Request.Context(), subjectFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"approved": approved}, nil)
}

// Delete godoc
// @Summary Delete course log
// @Tags CourseLogs
// @Produce json
// @Param public_id path string true "Course log public ID"
// @Success 204
// @Router /courselogs/{public_id} [delete]
func (h *CourseLogHandler) Delete(c *gin.Context) {
	publicID, ok := publicIDParam(c)
	if !ok {
		return
	}
	if err := h.courseLogs.Delete(c.Request.Context(), publicID); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
