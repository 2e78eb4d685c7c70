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

// SectionHandler exposes course section endpoints.
type SectionHandler struct {
	sections *service.SectionService
}

// NewSectionHandler constructs SectionHandler.
func NewSectionHandler(sections *service.SectionService) *SectionHandler {
	return &SectionHandler{sections: sections}
}

// List godoc
// @Summary List sections
// @Description Lists sections. Instructor and term filters intersect when
// both are given.
// @Tags Sections
// @Produce json
// @Param instructor query string false "Filter by instructor public ID"
// @Param term query string false "Filter by term public ID"
// @Param course query string false "Filter by course public ID"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /sections [get]
func (h *SectionHandler) List(c *gin.Context) {
	var filter models.SectionFilter
	filter.InstructorPublicID = c.Query("instructor")
	filter.TermPublicID = c.Query("term")
	filter.CoursePublicID = c.Query("course")
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}
	filter.SortBy = c.Query("sort")
	filter.SortOrder = c.Query("order")

	sections, pagination, err := h.sections.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, sections, pagination)
}

// Get godoc
// @Summary Get section detail
// @Tags Sections
// @Produce json
// @Param public_id path string true "Section public ID"
// @Success 200 {object} response.Envelope
// @Router /sections/{public_id} [get]
func (h *SectionHandler) Get(c *gin.Context) {
	publicID, ok := publicIDParam(c)
	if !ok {
		return
	}
	section, err := h.sections.Get(c.Request.Context(), publicID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, section, nil)
}

// Create godoc
// @Summary Create section
// @Tags Sections
// @Accept json
// @Produce json
// @Param payload body service.SectionRequest true "Section payload"
// @Success 201 {object} response.Envelope
// @Router /sections [post]
func (h *SectionHandler) Create(c *gin.Context) {
	var req service.SectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	section, err := h.sections.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, section)
}

// Update godoc
// @Summary Update section
// @Tags Sections
// @Accept json
// @Produce json
// @Param public_id path string true "Section public ID"
// @Param payload body service.UpdateSectionRequest true "Section payload"
// @Success 200 {object} response.Envelope
// @Router /sections/{public_id} [put]
func (h *SectionHandler) Update(c *gin.Context) {
	var req service.UpdateSectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	publicID, ok := publicIDParam(c)
	if !ok {
		return
	}
	section, err := h.sections.Update(c.Request.Context(), publicID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, section, nil)
}

// Delete godoc
// @Summary Delete section
// @Tags Sections
// @Produce json
// @Param public_id path string true "Section public ID"
// @Success 204
// @Router /sections/{public_id} [delete]
func (h *SectionHandler) Delete(c *gin.Context) {
	publicID, ok := publicIDParam(c)
	if !ok {
		return
	}
	if err := h.sections.Delete(c.Request.Context(), publicID); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
