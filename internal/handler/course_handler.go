package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/parnia-edu/parnia-api/internal/models"
	"github.com/parnia-edu/parnia-api/internal/service"
	appErrors "github.com/parnia-edu/parnia-api/pkg/errors"
	"github.com/parnia-edu/parnia-api/pkg/response"
)

// CourseHandler exposes course catalogue endpoints.
type CourseHandler struct {
	courses *service.CourseService
}

// NewCourseHandler constructs CourseHandler.
func NewCourseHandler(courses *service.CourseService) *CourseHandler {
	return &CourseHandler{courses: courses}
}

// List godoc
// @Summary List courses
// @Description Lists catalogue courses. The prerequisites filter takes a
// comma-separated list of course names and matches courses having every
// named course as a prerequisite.
// @Tags Courses
// @Produce json
// @Param name query string false "Filter by name substring"
// @Param prerequisites query string false "Comma-separated prerequisite names"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /courses [get]
func (h *CourseHandler) List(c *gin.Context) {
	var filter models.CourseFilter
	filter.Name = strings.TrimSpace(c.Query("name"))
	if raw := c.Query("prerequisites"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			if name := strings.TrimSpace(part); name != "" {
				filter.Prerequisites = append(filter.Prerequisites, name)
			}
		}
	}
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}
	filter.SortBy = c.Query("sort")
	filter.SortOrder = c.Query("order")

	courses, pagination, err := h.courses.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, courses, pagination)
}

// Get godoc
// @Summary Get course detail
// @Tags Courses
// @Produce json
// @Param public_id path string true "Course public ID"
// @Success 200 {object} response.Envelope
// @Router /courses/{public_id} [get]
func (h *CourseHandler) Get(c *gin.Context) {
	publicID, ok := publicIDParam(c)
	if !ok {
		return
	}
	course, err := h.courses.Get(c.Request.Context(), publicID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, course, nil)
}

// Create godoc
// @Summary Create courses
// @Description Accepts a single course object or an array of them; an array
// is rejected as a whole when any item is invalid.
// @Tags Courses
// @Accept json
// @Produce json
// @Param payload body []service.CourseRequest true "Course payload"
// @Success 201 {object} response.Envelope
// @Router /courses [post]
func (h *CourseHandler) Create(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "unreadable payload"))
		return
	}

	var reqs []service.CourseRequest
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &reqs); err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
			return
		}
	} else {
		var single service.CourseRequest
		if err := json.Unmarshal(trimmed, &single); err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
			return
		}
		reqs = []service.CourseRequest{single}
	}

	created, err := h.courses.Create(c.Request.Context(), reqs)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, created)
}

// Update godoc
// @Summary Update course
// @Tags Courses
// @Accept json
// @Produce json
// @Param public_id path string true "Course public ID"
// @Param payload body service.CourseRequest true "Course payload"
// @Success 200 {object} response.Envelope
// @Router /courses/{public_id} [put]
func (h *CourseHandler) Update(c *gin.Context) {
	var req service.CourseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	publicID, ok := publicIDParam(c)
	if !ok {
		return
	}
	course, err := h.courses.Update(c.Request.Context(), publicID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, course, nil)
}

// Delete godoc
// @Summary Delete course
// @Tags Courses
// @Produce json
// @Param public_id path string true "Course public ID"
// @Success 204
// @Router /courses/{public_id} [delete]
func (h *CourseHandler) Delete(c *gin.Context) {
	publicID, ok := publicIDParam(c)
	if !ok {
		return
	}
	if err := h.courses.Delete(c.Request.Context(), publicID); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
