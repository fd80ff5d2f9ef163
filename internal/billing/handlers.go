package billing

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Cafe137/swarmy-backend/internal/organization"
	"github.com/Cafe137/swarmy-backend/internal/plan"
)

// Handler provides HTTP endpoints for billing operations.
type Handler struct {
	service *Service
	charges ChargeCreator // nil when crypto payments are disabled
}

// NewHandler creates a new billing handler.
func NewHandler(service *Service, charges ChargeCreator) *Handler {
	return &Handler{service: service, charges: charges}
}

// RegisterRoutes sets up billing routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/billing/options", h.ListOptions)
	r.POST("/billing/subscriptions", h.InitSubscription)
	r.POST("/billing/cancel", h.CancelSubscription)
	r.GET("/billing/portal", h.PortalURL)
}

// RegisterWebhookRoutes sets up provider callback routes. These bypass the
// regular auth middleware; the payload signature is the authentication.
func (h *Handler) RegisterWebhookRoutes(r *gin.RouterGroup) {
	r.POST("/webhooks/stripe", h.StripeWebhook)
}

type subscriptionRequest struct {
	OrganizationID int64  `json:"organizationId" binding:"required"`
	StorageGB      int64  `json:"storageGb" binding:"required"`
	BandwidthGB    int64  `json:"bandwidthGb" binding:"required"`
	Method         string `json:"method"` // "stripe" (default) or "crypto"
}

// ListOptions handles GET /v1/billing/options
func (h *Handler) ListOptions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"currency":  plan.Currency,
		"storage":   plan.StorageOptions(),
		"bandwidth": plan.BandwidthOptions(),
	})
}

// InitSubscription handles POST /v1/billing/subscriptions
func (h *Handler) InitSubscription(c *gin.Context) {
	var req subscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	var (
		url string
		err error
	)
	switch req.Method {
	case "", "stripe":
		url, err = h.service.InitSubscription(c.Request.Context(), req.OrganizationID, req.StorageGB, req.BandwidthGB)
	case "crypto":
		if h.charges == nil {
			c.JSON(http.StatusNotImplemented, gin.H{
				"error":   "not_supported",
				"message": "Crypto payments are not enabled",
			})
			return
		}
		url, err = h.service.InitCryptoSubscription(c.Request.Context(), h.charges, req.OrganizationID, req.StorageGB, req.BandwidthGB)
	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Unknown payment method",
		})
		return
	}
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"checkoutUrl": url})
}

// CancelSubscription handles POST /v1/billing/cancel
func (h *Handler) CancelSubscription(c *gin.Context) {
	var req struct {
		OrganizationID int64 `json:"organizationId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}
	if err := h.service.CancelSubscription(c.Request.Context(), req.OrganizationID); err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "scheduled"})
}

// PortalURL handles GET /v1/billing/portal?organizationId=
func (h *Handler) PortalURL(c *gin.Context) {
	orgID, err := strconv.ParseInt(c.Query("organizationId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "organizationId must be an integer",
		})
		return
	}
	url, err := h.service.PortalURL(c.Request.Context(), orgID)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"portalUrl": url})
}

// StripeWebhook handles POST /webhooks/stripe
func (h *Handler) StripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	signature := c.GetHeader("Stripe-Signature")
	if err := h.service.HandleWebhook(c.Request.Context(), payload, signature); err != nil {
		// A non-2xx response makes Stripe redeliver, which is what we
		// want for transient failures.
		c.JSON(http.StatusBadRequest, gin.H{"error": "webhook_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}

func (h *Handler) renderError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, organization.ErrOrganizationNotFound), errors.Is(err, plan.ErrNoActivePlan):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": err.Error(),
		})
	case errors.Is(err, plan.ErrInvalidOption):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
	case errors.Is(err, ErrInsufficientOperatorFunds):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "temporarily_unavailable",
			"message": "Subscriptions are temporarily unavailable",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
	}
}
