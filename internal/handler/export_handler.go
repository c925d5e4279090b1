package handler

import (
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/manateeit/mit-psa-sub005/internal/service"
	appErrors "github.com/manateeit/mit-psa-sub005/pkg/errors"
	"github.com/manateeit/mit-psa-sub005/pkg/response"
)

// ExportHandler manages stored schedule exports and their signed downloads.
type ExportHandler struct {
	service *service.ExportService
}

// NewExportHandler constructs handler.
func NewExportHandler(svc *service.ExportService) *ExportHandler {
	return &ExportHandler{service: svc}
}

// StoredExportRequest names a window and format to render and keep.
type StoredExportRequest struct {
	Start  string `json:"start" binding:"required"`
	End    string `json:"end" binding:"required"`
	Format string `json:"format"`
}

// Create godoc
// @Summary Render a schedule window to a stored file
// @Tags Exports
// @Accept json
// @Produce json
// @Param payload body StoredExportRequest true "Export window"
// @Success 201 {object} response.Envelope
// @Router /schedule/exports [post]
func (h *ExportHandler) Create(c *gin.Context) {
	var req StoredExportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, err := h.service.Generate(c.Request.Context(), tenantFromContext(c), req.Start, req.End, req.Format)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// Download godoc
// @Summary Download a stored export by signed token
// @Tags Exports
// @Produce octet-stream
// @Param token path string true "Signed download token"
// @Success 200 {file} binary
// @Router /schedule/exports/{token} [get]
func (h *ExportHandler) Download(c *gin.Context) {
	file, err := h.service.Open(c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.Close()

	name := filepath.Base(file.Name())
	contentType := "text/csv"
	if strings.HasSuffix(name, ".pdf") {
		contentType = "application/pdf"
	}
	c.Header("Content-Disposition", "attachment; filename="+name)
	c.Header("Content-Type", contentType)
	modTime := time.Now()
	if info, statErr := file.Stat(); statErr == nil {
		modTime = info.ModTime()
	}
	http.ServeContent(c.Writer, c.Request, name, modTime, file)
}
