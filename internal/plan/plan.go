// Package plan implements the subscription plan lifecycle and its coupling to
// postage batch provisioning.
package plan

import (
	"context"
	"errors"
	"time"
)

var (
	ErrPlanNotFound   = errors.New("plan not found")
	ErrNoActivePlan   = errors.New("no active plan")
	ErrNotPending     = errors.New("plan is not awaiting payment")
	ErrNoPostageBatch = errors.New("organization has no postage batch")
	ErrInvalidOption  = errors.New("no such subscription option")
)

// Status is the lifecycle state of a plan. The only transitions are
// PENDING_PAYMENT -> ACTIVE and ACTIVE -> CANCELLED.
type Status string

const (
	StatusPendingPayment Status = "PENDING_PAYMENT"
	StatusActive         Status = "ACTIVE"
	StatusCancelled      Status = "CANCELLED"
)

// Frequency is the billing cadence of a plan. Every priced subscription
// renews monthly.
type Frequency string

const FrequencyMonth Frequency = "MONTH"

// DefaultCountLimit is the number of uploads and downloads a plan allows per
// period. Enforcement is by transferred bytes; the counts are carried on the
// plan for reporting.
const DefaultCountLimit int64 = 100_000

// PaymentType records how a plan is paid for.
type PaymentType string

const (
	PaymentTypeStripe PaymentType = "STRIPE"
	PaymentTypeCrypto PaymentType = "CRYPTO"
	PaymentTypeNone   PaymentType = "NONE"
)

// Plan is a paid subscription of an organization.
type Plan struct {
	ID                 int64       `json:"id"`
	OrganizationID     int64       `json:"organizationId"`
	AmountCents        int64       `json:"amount"`
	Currency           string      `json:"currency"`
	Frequency          Frequency   `json:"frequency"`
	Status             Status      `json:"status"`
	PaymentType        PaymentType `json:"paymentType"`
	UploadSizeLimit    int64       `json:"uploadSizeLimit"`    // bytes per period
	DownloadSizeLimit  int64       `json:"downloadSizeLimit"`  // bytes per period
	UploadCountLimit   int64       `json:"uploadCountLimit"`   // requests per period
	DownloadCountLimit int64       `json:"downloadCountLimit"` // requests per period
	PaidUntil          *time.Time  `json:"paidUntil,omitempty"`
	CancelAt           *time.Time  `json:"cancelAt,omitempty"`
	StatusReason       string      `json:"statusReason,omitempty"`
	CreatedAt          time.Time   `json:"createdAt"`
}

// Store persists plans.
type Store interface {
	Insert(ctx context.Context, plan *Plan) error
	// GetByID scopes the lookup to the organization, so a caller can never
	// act on another tenant's plan.
	GetByID(ctx context.Context, orgID, planID int64) (*Plan, error)
	// GetActive returns the organization's ACTIVE plan, or ErrNoActivePlan.
	GetActive(ctx context.Context, orgID int64) (*Plan, error)
	// ListActive returns every ACTIVE plan across all organizations.
	ListActive(ctx context.Context) ([]Plan, error)
	UpdateStatus(ctx context.Context, planID int64, status Status, reason string) error
	SetPaidUntil(ctx context.Context, planID int64, paidUntil time.Time) error
	SetCancelAt(ctx context.Context, planID int64, cancelAt time.Time) error
}
