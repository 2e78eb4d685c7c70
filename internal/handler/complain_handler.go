package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/parnia-edu/parnia-api/internal/service"
	appErrors "github.com/parnia-edu/parnia-api/pkg/errors"
	"github.com/parnia-edu/parnia-api/pkg/response"
)

// ComplainHandler exposes student complaint endpoints.
type ComplainHandler struct {
	complains *service.ComplainService
}

// NewComplainHandler constructs ComplainHandler.
func NewComplainHandler(complains *service.ComplainService) *ComplainHandler {
	return &ComplainHandler{complains: complains}
}

// Create godoc
// @Summary File a complaint
// @Description Files a complaint against a section in the caller's name. A
// student may file at most one complaint per section.
// @Tags Complains
// @Accept json
// @Produce json
// @Param payload body service.ComplainRequest true "Complaint payload"
// @Success 201 {object} response.Envelope
// @Router /complains [post]
func (h *ComplainHandler) Create(c *gin.Context) {
	var req service.ComplainRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	complain, err := h.complains.Create(c.Request.Context(), subjectFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, complain)
}

// ListOwn godoc
// @Summary List own complaints
// @Tags Complains
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /complains [get]
func (h *ComplainHandler) ListOwn(c *gin.Context) {
	complains, err := h.complains.ListOwn(c.Request.Context(), subjectFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, complains, nil)
}

// ListForSection godoc
// @Summary List complaints for a section
// @Description Restricted to staff, administrators and the section's own
// instructor. Unseen complaints in the returned list are marked seen.
// @Tags Complains
// @Produce json
// @Param public_id path string true "Section public ID"
// @Success 200 {object} response.Envelope
// @Router /complains/section/{public_id} [get]
func (h *ComplainHandler) ListForSection(c *gin.Context) {
	publicID, ok := publicIDParam(c)
	if !ok {
		return
	}
	complains, err := h.complains.ListForSection(c.Request.Context(), subjectFromContext(c), publicID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, complains, nil)
}

// MarkSeen godoc
// @Summary Mark a section's complaints as seen
// @Description Marks every unseen complaint on the section as seen.
// Calling it again is a no-op.
// @Tags Complains
// @Produce json
// @Param public_id path string true "Section public ID"
// @Success 200 {object} response.Envelope
// @Router /complains/section/{public_id}/seen [post]
func (h *ComplainHandler) MarkSeen(c *gin.Context) {
	publicID, ok := publicIDParam(c)
	if !ok {
		return
	}
	if err := h.complains.MarkSeenForSection(c.Request.Context(), subjectFromContext(c), publicID); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"seen": true}, nil)
}

// Get godoc
// @Summary Get complaint detail
// @Tags Complains
// @Produce json
// @Param public_id path string true "Complaint public ID"
// @Success 200 {object} response.Envelope
// @Router /complains/{public_id} [get]
func (h *ComplainHandler) Get(c *gin.Context) {
	publicID, ok := publicIDParam(c)
	if !ok {
		return
	}
	complain, err := h.complains.Get(c.Request.Context(), subjectFromContext(c), publicID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, complain, nil)
}

// Delete godoc
// @Summary Delete complaint
// @Tags Complains
// @Produce json
// @Param public_id path string true "Complaint public ID"
// @Success 204
// @Router /complains/{public_id} [delete]
func (h *ComplainHandler) Delete(c *gin.Context) {
	publicID, ok := publicIDParam(c)
	if !ok {
		return
	}
	if err := h.complains.Delete(c.Request.Context(), subjectFromContext(c), publicID); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
