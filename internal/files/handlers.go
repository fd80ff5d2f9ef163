package files

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Cafe137/swarmy-backend/internal/bee"
	"github.com/Cafe137/swarmy-backend/internal/hive"
	"github.com/Cafe137/swarmy-backend/internal/organization"
	"github.com/Cafe137/swarmy-backend/internal/usagemetrics"
)

// maxUploadBytes caps a single upload body.
const maxUploadBytes = 1 << 30

// Handler provides HTTP endpoints for file transfer.
type Handler struct {
	service *Service
}

// NewHandler creates a new files handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up file routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/files", h.Upload)
	r.GET("/files/:reference", h.Download)
}

// Upload handles POST /v1/files?organizationId=&name=&website=
func (h *Handler) Upload(c *gin.Context) {
	orgID, err := strconv.ParseInt(c.Query("organizationId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "organizationId must be an integer",
		})
		return
	}

	data, err := io.ReadAll(io.LimitReader(c.Request.Body, maxUploadBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "failed to read body"})
		return
	}
	if len(data) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "empty body"})
		return
	}

	name := c.Query("name")
	asWebsite := c.Query("website") == "true"
	contentType := c.ContentType()

	reference, err := h.service.Upload(c.Request.Context(), orgID, data, name, contentType, asWebsite)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"reference": reference})
}

// Download handles GET /v1/files/:reference?organizationId=
func (h *Handler) Download(c *gin.Context) {
	orgID, err := strconv.ParseInt(c.Query("organizationId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "organizationId must be an integer",
		})
		return
	}

	file, err := h.service.Download(c.Request.Context(), orgID, c.Param("reference"))
	if err != nil {
		h.renderError(c, err)
		return
	}

	if file.Name != "" {
		c.Header("Content-Disposition", `inline; filename="`+file.Name+`"`)
	}
	contentType := file.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Data(http.StatusOK, contentType, file.Data)
}

func (h *Handler) renderError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, organization.ErrOrganizationNotFound), errors.Is(err, bee.ErrFileNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": err.Error(),
		})
	case errors.Is(err, ErrNoBatch):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "no_postage_batch",
			"message": "Organization has no usable storage yet",
		})
	case errors.Is(err, usagemetrics.ErrQuotaExceeded):
		c.JSON(http.StatusPaymentRequired, gin.H{
			"error":   "quota_exceeded",
			"message": "Plan quota exceeded",
		})
	case errors.Is(err, hive.ErrNoNodesAvailable), errors.Is(err, hive.ErrNodeNotFound):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "no_nodes_available",
			"message": "No storage nodes are available",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
	}
}
