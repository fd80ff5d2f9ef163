package hive

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler provides admin HTTP endpoints for pool management.
type Handler struct {
	hive  *Hive
	store Store
}

// NewHandler creates a new hive handler.
func NewHandler(h *Hive, store Store) *Handler {
	return &Handler{hive: h, store: store}
}

// RegisterAdminRoutes sets up pool management routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/bees", h.List)
	r.POST("/bees", h.Add)
	r.POST("/bees/refresh", h.Refresh)
}

type nodeView struct {
	ID              int64  `json:"id"`
	URL             string `json:"url"`
	UploadEnabled   bool   `json:"uploadEnabled"`
	DownloadEnabled bool   `json:"downloadEnabled"`
	Downloads       int64  `json:"downloads"`
}

// List handles GET /admin/bees
func (h *Handler) List(c *gin.Context) {
	nodes := h.hive.Nodes()
	out := make([]nodeView, 0, len(nodes))
	for _, node := range nodes {
		out = append(out, nodeView{
			ID:              node.ID,
			URL:             node.URL,
			UploadEnabled:   node.UploadEnabled,
			DownloadEnabled: node.DownloadEnabled,
			Downloads:       node.Downloads(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"bees": out})
}

// Add handles POST /admin/bees
func (h *Handler) Add(c *gin.Context) {
	var req struct {
		URL             string `json:"url" binding:"required,url"`
		AuthSecret      string `json:"authSecret"`
		UploadEnabled   bool   `json:"uploadEnabled"`
		DownloadEnabled bool   `json:"downloadEnabled"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	row := Row{
		URL:             req.URL,
		AuthSecret:      req.AuthSecret,
		Enabled:         true,
		UploadEnabled:   req.UploadEnabled,
		DownloadEnabled: req.DownloadEnabled,
	}
	if err := h.store.Insert(c.Request.Context(), &row); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}
	if err := h.hive.Refresh(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": row.ID})
}

// Refresh handles POST /admin/bees/refresh
func (h *Handler) Refresh(c *gin.Context) {
	if err := h.hive.Refresh(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"nodes": len(h.hive.Nodes())})
}
