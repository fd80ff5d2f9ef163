package plan

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for plans.
type Handler struct {
	service *Service
}

// NewHandler creates a new plan handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up plan routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/organizations/:id/plan", h.GetActive)
}

// GetActive handles GET /v1/organizations/:id/plan
func (h *Handler) GetActive(c *gin.Context) {
	orgID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "id must be an integer",
		})
		return
	}
	p, err := h.service.GetActivePlan(c.Request.Context(), orgID)
	if err != nil {
		if errors.Is(err, ErrNoActivePlan) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "No active plan",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"plan": p})
}
