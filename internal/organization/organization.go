// Package organization manages the billing/storage tenants of Swarmy.
//
// An organization owns at most one live postage batch at a time and is pinned
// to the bee node that created it. The postage fields are mutated only by the
// plan lifecycle and the provisioning worker.
package organization

import (
	"context"
	"errors"
	"time"
)

var ErrOrganizationNotFound = errors.New("organization not found")

// BatchStatus tracks where an organization is in the postage batch lifecycle.
type BatchStatus string

const (
	BatchStatusNone           BatchStatus = "NONE"
	BatchStatusCreating       BatchStatus = "CREATING"
	BatchStatusCreated        BatchStatus = "CREATED"
	BatchStatusFailedToCreate BatchStatus = "FAILED_TO_CREATE"
	BatchStatusFailedToTopUp  BatchStatus = "FAILED_TO_TOP_UP"
	BatchStatusFailedToDilute BatchStatus = "FAILED_TO_DILUTE"
	BatchStatusRemoved        BatchStatus = "REMOVED"
)

// Organization is a tenant. Never hard-deleted.
type Organization struct {
	ID               int64       `json:"id"`
	Name             string      `json:"name"`
	Enabled          bool        `json:"enabled"`
	BeeID            int64       `json:"beeId"`          // 0 = no node assigned yet
	PostageBatchID   string      `json:"postageBatchId"` // "" = no batch
	BatchStatus      BatchStatus `json:"postageBatchStatus"`
	StripeCustomerID string      `json:"stripeCustomerId,omitempty"`
	CreatedAt        time.Time   `json:"createdAt"`
}

// Store persists organizations.
type Store interface {
	Get(ctx context.Context, id int64) (*Organization, error)
	// GetByStripeCustomer resolves a Stripe customer reference from a
	// webhook back to the organization.
	GetByStripeCustomer(ctx context.Context, customerID string) (*Organization, error)
	Insert(ctx context.Context, org *Organization) error
	// SetPostageBatch records a freshly created batch and the owning node,
	// moving the batch status to CREATED.
	SetPostageBatch(ctx context.Context, orgID int64, batchID string, beeID int64) error
	// ClearPostageBatch drops the batch reference and marks it REMOVED.
	// The remote batch is not deleted; its capacity simply expires.
	ClearPostageBatch(ctx context.Context, orgID int64) error
	SetBatchStatus(ctx context.Context, orgID int64, status BatchStatus) error
}

// CustomerCreator registers the organization with the payment provider.
type CustomerCreator interface {
	CreateCustomer(ctx context.Context, email string) (string, error)
}

// Service provides organization business logic.
type Service struct {
	store     Store
	customers CustomerCreator // nil when billing is disabled
}

// NewService creates an organization service.
func NewService(store Store, customers CustomerCreator) *Service {
	return &Service{store: store, customers: customers}
}

// Get returns an organization by id.
func (s *Service) Get(ctx context.Context, id int64) (*Organization, error) {
	return s.store.Get(ctx, id)
}

// Create registers a new organization for a signup email.
func (s *Service) Create(ctx context.Context, email string) (*Organization, error) {
	org := &Organization{
		Name:        email + "'s organization",
		Enabled:     true,
		BatchStatus: BatchStatusNone,
		CreatedAt:   time.Now(),
	}
	if s.customers != nil {
		customerID, err := s.customers.CreateCustomer(ctx, email)
		if err != nil {
			return nil, err
		}
		org.StripeCustomerID = customerID
	}
	if err := s.store.Insert(ctx, org); err != nil {
		return nil, err
	}
	return org, nil
}
