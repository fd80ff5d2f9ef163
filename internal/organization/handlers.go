package organization

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Cafe137/swarmy-backend/internal/usagemetrics"
)

// UsageProvider exposes the current usage period for the usage endpoint.
type UsageProvider interface {
	GetForOrganization(ctx context.Context, orgID int64) ([]usagemetrics.Metric, error)
	CreateInitialMetrics(ctx context.Context, orgID int64) error
}

// Handler provides HTTP endpoints for organizations.
type Handler struct {
	service *Service
	usage   UsageProvider
}

// NewHandler creates a new organization handler.
func NewHandler(service *Service, usage UsageProvider) *Handler {
	return &Handler{service: service, usage: usage}
}

// RegisterRoutes sets up organization routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/organizations", h.Create)
	r.GET("/organizations/:id", h.Get)
	r.GET("/organizations/:id/usage", h.Usage)
}

// Create handles POST /v1/organizations
func (h *Handler) Create(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required,email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	org, err := h.service.Create(c.Request.Context(), req.Email)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}
	if err := h.usage.CreateInitialMetrics(c.Request.Context(), org.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"organization": org})
}

// Get handles GET /v1/organizations/:id
func (h *Handler) Get(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}
	org, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrOrganizationNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "No such organization",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"organization": org})
}

// Usage handles GET /v1/organizations/:id/usage
func (h *Handler) Usage(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}
	metrics, err := h.usage.GetForOrganization(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"usage": metrics})
}

func (h *Handler) parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "id must be an integer",
		})
		return 0, false
	}
	return id, true
}
