package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/manateeit/mit-psa-sub005/internal/models"
	"github.com/manateeit/mit-psa-sub005/internal/service"
	appErrors "github.com/manateeit/mit-psa-sub005/pkg/errors"
	"github.com/manateeit/mit-psa-sub005/pkg/response"
)

// ConflictHandler manages conflict endpoints.
type ConflictHandler struct {
	service *service.EntryService
}

// NewConflictHandler constructs handler.
func NewConflictHandler(svc *service.EntryService) *ConflictHandler {
	return &ConflictHandler{service: svc}
}

// List godoc
// @Summary List persisted schedule conflicts
// @Tags Conflicts
// @Produce json
// @Param resolved query bool false "Filter by resolution state"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /schedule/conflicts [get]
func (h *ConflictHandler) List(c *gin.Context) {
	var filter models.ConflictFilter
	if raw := c.Query("resolved"); raw != "" {
		resolved, err := strconv.ParseBool(raw)
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "resolved must be a boolean"))
			return
		}
		filter.Resolved = &resolved
	}
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if limit, err := strconv.Atoi(c.DefaultQuery("limit", "50")); err == nil {
		filter.PageSize = limit
	}

	conflicts, pagination, err := h.service.ListConflicts(c.Request.Context(), tenantFromContext(c), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, conflicts, &pagination)
}

// ResolveConflictRequest carries acknowledgement notes.
type ResolveConflictRequest struct {
	Notes string `json:"notes"`
}

// Resolve godoc
// @Summary Acknowledge a conflict with notes
// @Tags Conflicts
// @Accept json
// @Produce json
// @Param id path string true "Conflict ID"
// @Param payload body ResolveConflictRequest true "Resolution notes"
// @Success 204
// @Router /schedule/conflicts/{id}/resolve [post]
func (h *ConflictHandler) Resolve(c *gin.Context) {
	var req ResolveConflictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	if err := h.service.ResolveConflict(c.Request.Context(), tenantFromContext(c), c.Param("id"), req.Notes); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
