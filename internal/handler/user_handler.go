package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/parnia-edu/parnia-api/internal/models"
	"github.com/parnia-edu/parnia-api/internal/service"
	appErrors "github.com/parnia-edu/parnia-api/pkg/errors"
	"github.com/parnia-edu/parnia-api/pkg/response"
)

// UserHandler exposes user directory endpoints.
type UserHandler struct {
	users *service.UserService
}

// NewUserHandler constructs UserHandler.
func NewUserHandler(users *service.UserService) *UserHandler {
	return &UserHandler{users: users}
}

// List godoc
// @Summary List users
// @Tags Users
// @Produce json
// @Param role query string false "Filter by role"
// @Param active query bool false "Filter by active state"
// @Param search query string false "Search by name, username or email"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /users [get]
func (h *UserHandler) List(c *gin.Context) {
	var filter models.UserFilter
	filter.Role = strings.ToUpper(strings.TrimSpace(c.Query("role")))
	filter.Search = strings.TrimSpace(c.Query("search"))
	if active := c.Query("active"); active != "" {
		if active == "true" {
			v := true
			filter.Active = &v
		} else if active == "false" {
			v := false
			filter.Active = &v
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

	users, pagination, err := h.users.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, users, pagination)
}

// Get godoc
// @Summary Get user detail
// @Tags Users
// @Produce json
// @Param public_id path string true "User public ID"
// @Success 200 {object} response.Envelope
// @Router /users/{public_id} [get]
func (h *UserHandler) Get(c *gin.Context) {
	publicID, ok := publicIDParam(c)
	if !ok {
		return
	}
	user, err := h.users.Get(c.Request.Context(), publicID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, user, nil)
}

// Create godoc
// @Summary Create user
// @Tags Users
// @Accept json
// @Produce json
// @Param payload body service.CreateUserRequest true "User payload"
// @Success 201 {object} response.Envelope
// @Router /users [post]
func (h *UserHandler) Create(c *gin.Context) {
	var req service.CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	user, err := h.users.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, user)
}

// Update godoc
// @Summary Update user
// @Tags Users
// @Accept json
// @Produce json
// @Param public_id path string true "User public ID"
// @Param payload body service.UpdateUserRequest true "User payload"
// @Success 200 {object} response.Envelope
// @Router /users/{public_id} [put]
func (h *UserHandler) Update(c *gin.Context) {
	var req service.UpdateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	publicID, ok := publicIDParam(c)
	if !ok {
		return
	}
	user, err := h.users.Update(c.Request.Context(), publicID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, user, nil)
}

// Delete godoc
// @Summary Deactivate user
// @Tags Users
// @Produce json
// @Param public_id path string true "User public ID"
// @Success 204
// @Router /users/{public_id} [delete]
func (h *UserHandler) Delete(c *gin.Context) {
	publicID, ok := publicIDParam(c)
	if !ok {
		return
	}
	if err := h.users.Deactivate(c.Request.Context(), publicID); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
