// Package payment records settlement attempts against plans.
package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Cafe137/swarmy-backend/internal/alert"
)

var ErrPaymentNotFound = errors.New("payment not found")

// Status is the settlement state of a payment.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
)

// Provider identifies the settlement rail.
type Provider string

const (
	ProviderStripe   Provider = "STRIPE"
	ProviderCoinbase Provider = "COINBASE"
)

// Payment is one settlement attempt. MerchantTransactionID is the reference
// shared with the payment provider and echoed back in webhooks; for Coinbase
// charges it is the charge code itself.
type Payment struct {
	ID                    int64     `json:"id"`
	MerchantTransactionID string    `json:"merchantTransactionId"`
	OrganizationID        int64     `json:"organizationId"`
	PlanID                int64     `json:"planId"`
	AmountCents           int64     `json:"amount"`
	Currency              string    `json:"currency"`
	Provider              Provider  `json:"provider"`
	Status                Status    `json:"status"`
	CreatedAt             time.Time `json:"createdAt"`
}

// Store persists payments.
type Store interface {
	Insert(ctx context.Context, p *Payment) error
	// GetByMerchantTransactionID returns all rows carrying the reference.
	// More than one row means the provider delivered a duplicate.
	GetByMerchantTransactionID(ctx context.Context, merchantTxID string) ([]Payment, error)
	UpdateStatus(ctx context.Context, id int64, status Status) error
	ListByOrganization(ctx context.Context, orgID int64) ([]Payment, error)
	// ListPendingByProvider feeds the crypto settlement sweep.
	ListPendingByProvider(ctx context.Context, provider Provider) ([]Payment, error)
}

// Service provides payment bookkeeping.
type Service struct {
	store  Store
	alerts alert.Sender
	logger *slog.Logger
}

// NewService creates a payment service.
func NewService(store Store, alerts alert.Sender, logger *slog.Logger) *Service {
	return &Service{store: store, alerts: alerts, logger: logger.With("component", "payment_service")}
}

// CreatePending opens a PENDING payment row before the provider is invoked.
func (s *Service) CreatePending(ctx context.Context, merchantTxID string, orgID, planID, amountCents int64, currency string, provider Provider) (*Payment, error) {
	p := &Payment{
		MerchantTransactionID: merchantTxID,
		OrganizationID:        orgID,
		PlanID:                planID,
		AmountCents:           amountCents,
		Currency:              currency,
		Provider:              provider,
		Status:                StatusPending,
	}
	if err := s.store.Insert(ctx, p); err != nil {
		return nil, fmt.Errorf("inserting payment: %w", err)
	}
	return p, nil
}

// GetByMerchantTransactionID resolves a provider reference to our payment
// row. Duplicate rows are alerted on and the first is used.
func (s *Service) GetByMerchantTransactionID(ctx context.Context, merchantTxID string) (*Payment, error) {
	rows, err := s.store.GetByMerchantTransactionID(ctx, merchantTxID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrPaymentNotFound
	}
	if len(rows) > 1 {
		s.alerts.SendAlert(fmt.Sprintf("duplicate payments for merchant transaction %s", merchantTxID), nil)
	}
	return &rows[0], nil
}

// MarkSuccess settles a payment.
func (s *Service) MarkSuccess(ctx context.Context, id int64) error {
	if err := s.store.UpdateStatus(ctx, id, StatusSuccess); err != nil {
		return fmt.Errorf("settling payment %d: %w", id, err)
	}
	s.logger.Info("payment settled", "paymentId", id)
	return nil
}

// MarkFailed records a failed settlement.
func (s *Service) MarkFailed(ctx context.Context, id int64) error {
	if err := s.store.UpdateStatus(ctx, id, StatusFailed); err != nil {
		return fmt.Errorf("failing payment %d: %w", id, err)
	}
	s.logger.Info("payment failed", "paymentId", id)
	return nil
}

// ListByOrganization returns an organization's payment history.
func (s *Service) ListByOrganization(ctx context.Context, orgID int64) ([]Payment, error) {
	return s.store.ListByOrganization(ctx, orgID)
}

// ListPendingByProvider returns unsettled payments on one rail.
func (s *Service) ListPendingByProvider(ctx context.Context, provider Provider) ([]Payment, error) {
	return s.store.ListPendingByProvider(ctx, provider)
}
