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

// TermHandler exposes academic term endpoints.
type TermHandler struct {
	terms *service.TermService
}

// NewTermHandler constructs TermHandler.
func NewTermHandler(terms *service.TermService) *TermHandler {
	return &TermHandler{terms: terms}
}

// List godoc
// @Summary List terms
// @Tags Terms
// @Produce json
// @Param season query string false "Filter by season"
// @Param year query int false "Filter by start year"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /terms [get]
func (h *TermHandler) List(c *gin.Context) {
	var filter models.TermFilter
	if raw := c.Query("season"); raw != "" {
		season, ok := models.ParseSeason(raw)
		if !ok {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "unknown season"))
			return
		}
		filter.Season = season
	}
	if year, err := strconv.Atoi(c.Query("year")); err == nil {
		filter.Year = year
	}
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}
	filter.SortBy = c.Query("sort")
	filter.SortOrder = c.Query("order")

	terms, pagination, err := h.terms.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, terms, pagination)
}

// Get godoc
// @Summary Get term detail
// @Tags Terms
// @Produce json
// @Param public_id path string true "Term public ID"
// @Success 200 {object} response.Envelope
// @Router /terms/{public_id} [get]
func (h *TermHandler) Get(c *gin.Context) {
	publicID, ok := publicIDParam(c)
	if !ok {
		return
	}
	term, err := h.terms.Get(c.Request.Context(), publicID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, term, nil)
}

// Create godoc
// @Summary Create term
// @Tags Terms
// @Accept json
// @Produce json
// @Param payload body service.TermRequest true "Term payload"
// @Success 201 {object} response.Envelope
// @Router /terms [post]
func (h *TermHandler) Create(c *gin.Context) {
	var req service.TermRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	term, err := h.terms.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, term)
}

// Update godoc
// @Summary Update term
// @Tags Terms
// @Accept json
// @Produce json
// @Param public_id path string true "Term public ID"
// @Param payload body service.TermRequest true "Term payload"
// @Success 200 {object} response.Envelope
// @Router /terms/{public_id} [put]
func (h *TermHandler) Update(c *gin.Context) {
	var req service.TermRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	publicID, ok := publicIDParam(c)
	if !ok {
		return
	}
	term, err := h.terms.Update(c.Request.Context(), publicID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, term, nil)
}

// Delete godoc
// @Summary Delete term
// @Tags Terms
// @Produce json
// @Param public_id path string true "Term public ID"
// @Success 204
// @Router /terms/{public_id} [delete]
func (h *TermHandler) Delete(c *gin.Context) {
	publicID, ok := publicIDParam(c)
	if !ok {
		return
	}
	if err := h.terms.Delete(c.Request.Context(), publicID); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
