package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/manateeit/mit-psa-sub005/internal/models"
	"github.com/manateeit/mit-psa-sub005/internal/service"
	appErrors "github.com/manateeit/mit-psa-sub005/pkg/errors"
	"github.com/manateeit/mit-psa-sub005/pkg/response"
)

// EntryHandler manages schedule entry endpoints.
type EntryHandler struct {
	service *service.EntryService
}

// NewEntryHandler constructs handler.
func NewEntryHandler(svc *service.EntryService) *EntryHandler {
	return &EntryHandler{service: svc}
}

// List godoc
// @Summary List schedule occurrences in a date range
// @Tags Schedule
// @Produce json
// @Param start query string true "Range start (YYYY-MM-DD)"
// @Param end query string true "Range end (YYYY-MM-DD)"
// @Success 200 {object} response.Envelope
// @Router /schedule/entries [get]
func (h *EntryHandler) List(c *gin.Context) {
	entries, err := h.service.GetEntries(c.Request.Context(), tenantFromContext(c), c.Query("start"), c.Query("end"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, nil)
}

// Get godoc
// @Summary Get a persisted schedule entry
// @Tags Schedule
// @Produce json
// @Param id path string true "Entry ID"
// @Success 200 {object} response.Envelope
// @Router /schedule/entries/{id} [get]
func (h *EntryHandler) Get(c *gin.Context) {
	entry, err := h.service.GetEntry(c.Request.Context(), tenantFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entry, nil)
}

// Create godoc
// @Summary Create a schedule entry or recurring series
// @Tags Schedule
// @Accept json
// @Produce json
// @Param payload body service.CreateEntryRequest true "Entry payload"
// @Success 201 {object} response.Envelope
// @Router /schedule/entries [post]
func (h *EntryHandler) Create(c *gin.Context) {
	var req service.CreateEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	entry, err := h.service.CreateEntry(c.Request.Context(), tenantFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, entry)
}

// Update godoc
// @Summary Update an entry with an edit scope
// @Tags Schedule
// @Accept json
// @Produce json
// @Param id path string true "Entry ID"
// @Param scope query string true "Edit scope: single, future or all"
// @Param occurrence query string false "Occurrence anchor date (YYYY-MM-DD)"
// @Param payload body service.UpdateEntryRequest true "Changes"
// @Success 200 {object} response.Envelope
// @Router /schedule/entries/{id} [put]
func (h *EntryHandler) Update(c *gin.Context) {
	var req service.UpdateEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	scope := models.EditScope(c.DefaultQuery("scope", string(models.ScopeSingle)))
	entry, err := h.service.UpdateEntry(c.Request.Context(), tenantFromContext(c), c.Param("id"), scope, c.Query("occurrence"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entry, nil)
}

// Delete godoc
// @Summary Delete an entry with an edit scope
// @Tags Schedule
// @Param id path string true "Entry ID"
// @Param scope query string true "Edit scope: single, future or all"
// @Param occurrence query string false "Occurrence anchor date (YYYY-MM-DD)"
// @Success 204
// @Router /schedule/entries/{id} [delete]
func (h *EntryHandler) Delete(c *gin.Context) {
	scope := models.EditScope(c.DefaultQuery("scope", string(models.ScopeSingle)))
	if err := h.service.DeleteEntry(c.Request.Context(), tenantFromContext(c), c.Param("id"), scope, c.Query("occurrence")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Export godoc
// @Summary Export a schedule window as CSV or PDF
// @Tags Schedule
// @Produce octet-stream
// @Param start query string true "Range start (YYYY-MM-DD)"
// @Param end query string true "Range end (YYYY-MM-DD)"
// @Param format query string false "csv (default) or pdf"
// @Success 200 {file} binary
// @Router /schedule/export [get]
func (h *EntryHandler) Export(c *gin.Context) {
	payload, filename, err := h.service.ExportEntries(c.Request.Context(), tenantFromContext(c), c.Query("start"), c.Query("end"), c.DefaultQuery("format", "csv"))
	if err != nil {
		response.Error(c, err)
		return
	}
	contentType := "text/csv"
	if c.Query("format") == "pdf" {
		contentType = "application/pdf"
	}
	c.Header("Content-Disposition", "attachment; filename="+filename)
	c.Data(http.StatusOK, contentType, payload)
}
