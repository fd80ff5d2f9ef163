// Package billing connects subscription checkout and settlement webhooks to
// the plan lifecycle.
package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Cafe137/swarmy-backend/internal/alert"
	"github.com/Cafe137/swarmy-backend/internal/idgen"
	"github.com/Cafe137/swarmy-backend/internal/organization"
	"github.com/Cafe137/swarmy-backend/internal/payment"
	"github.com/Cafe137/swarmy-backend/internal/plan"
)

var ErrInsufficientOperatorFunds = errors.New("operator wallet cannot fund the requested batch")

// PlanLifecycle is the slice of the plan service billing drives.
type PlanLifecycle interface {
	CreatePendingPlan(ctx context.Context, orgID, storageGB, bandwidthGB int64, paymentType plan.PaymentType) (*plan.Plan, error)
	ActivatePlan(ctx context.Context, orgID, planID int64) error
	ApplyRecurringPayment(ctx context.Context, orgID int64) error
	ScheduleActivePlanForCancellation(ctx context.Context, orgID int64) error
}

// WalletVerifier checks the operator wallet can fund a batch for the
// requested volume before a subscription is sold.
type WalletVerifier interface {
	VerifyBalanceFor(ctx context.Context, gigabytes float64) error
}

// Service sells and settles subscriptions.
type Service struct {
	orgs     organization.Store
	plans    PlanLifecycle
	payments *payment.Service
	gateway  Gateway
	wallet   WalletVerifier // nil skips the preflight check
	alerts   alert.Sender
	logger   *slog.Logger
}

// NewService creates a billing service.
func NewService(orgs organization.Store, plans PlanLifecycle, payments *payment.Service,
	gateway Gateway, wallet WalletVerifier, alerts alert.Sender, logger *slog.Logger) *Service {
	return &Service{
		orgs:     orgs,
		plans:    plans,
		payments: payments,
		gateway:  gateway,
		wallet:   wallet,
		alerts:   alerts,
		logger:   logger.With("component", "billing_service"),
	}
}

// InitSubscription opens a Stripe checkout for a priced subscription and
// returns the hosted checkout URL. The plan stays PENDING_PAYMENT until the
// checkout completion webhook arrives.
func (s *Service) InitSubscription(ctx context.Context, orgID, storageGB, bandwidthGB int64) (string, error) {
	org, err := s.orgs.Get(ctx, orgID)
	if err != nil {
		return "", err
	}
	if s.wallet != nil {
		if err := s.wallet.VerifyBalanceFor(ctx, float64(storageGB)); err != nil {
			s.alerts.SendAlert("subscription blocked on operator wallet balance", err)
			return "", fmt.Errorf("%w: %w", ErrInsufficientOperatorFunds, err)
		}
	}

	p, err := s.plans.CreatePendingPlan(ctx, orgID, storageGB, bandwidthGB, plan.PaymentTypeStripe)
	if err != nil {
		return "", err
	}

	merchantTxID := idgen.WithPrefix("pay_")
	if _, err := s.payments.CreatePending(ctx, merchantTxID, orgID, p.ID, p.AmountCents, p.Currency, payment.ProviderStripe); err != nil {
		return "", err
	}

	url, err := s.gateway.CreateCheckoutSession(ctx, CheckoutParams{
		CustomerID:            org.StripeCustomerID,
		MerchantTransactionID: merchantTxID,
		AmountCents:           p.AmountCents,
		Currency:              p.Currency,
		Description:           fmt.Sprintf("Swarmy %d GB storage / %d GB bandwidth", storageGB, bandwidthGB),
	})
	if err != nil {
		return "", err
	}
	s.logger.Info("opened checkout", "organizationId", orgID, "planId", p.ID, "merchantTransactionId", merchantTxID)
	return url, nil
}

// HandleWebhook verifies and dispatches a Stripe webhook delivery.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	ev, err := s.gateway.ParseEvent(payload, signature)
	if err != nil {
		return err
	}

	switch ev.Type {
	case "checkout.session.completed":
		return s.settleCheckout(ctx, ev)
	case "invoice.paid":
		// The first invoice of a subscription settles through the
		// checkout completion; only renewals flow through here.
		if ev.BillingReason == "subscription_create" {
			return nil
		}
		return s.settleRenewal(ctx, ev)
	case "invoice.payment_failed":
		s.alerts.SendAlert(fmt.Sprintf("invoice payment failed for customer %s", ev.CustomerID), nil)
		return nil
	default:
		s.logger.Debug("ignoring webhook event", "type", ev.Type)
		return nil
	}
}

func (s *Service) settleCheckout(ctx context.Context, ev Event) error {
	pay, err := s.payments.GetByMerchantTransactionID(ctx, ev.MerchantTransactionID)
	if err != nil {
		s.alerts.SendAlert(fmt.Sprintf("checkout completed for unknown transaction %s", ev.MerchantTransactionID), err)
		return err
	}
	if pay.Status == payment.StatusSuccess {
		// Stripe redelivers; settling twice would re-activate the plan.
		s.logger.Info("ignoring replayed checkout completion", "merchantTransactionId", ev.MerchantTransactionID)
		return nil
	}
	if err := s.payments.MarkSuccess(ctx, pay.ID); err != nil {
		return err
	}
	if err := s.plans.ActivatePlan(ctx, pay.OrganizationID, pay.PlanID); err != nil {
		return err
	}
	s.logger.Info("settled checkout", "organizationId", pay.OrganizationID, "planId", pay.PlanID)
	return nil
}

func (s *Service) settleRenewal(ctx context.Context, ev Event) error {
	org, err := s.orgs.GetByStripeCustomer(ctx, ev.CustomerID)
	if err != nil {
		s.alerts.SendAlert(fmt.Sprintf("invoice paid for unknown customer %s", ev.CustomerID), err)
		return err
	}
	return s.plans.ApplyRecurringPayment(ctx, org.ID)
}

// PortalURL opens a Stripe billing portal session for the organization.
func (s *Service) PortalURL(ctx context.Context, orgID int64) (string, error) {
	org, err := s.orgs.Get(ctx, orgID)
	if err != nil {
		return "", err
	}
	if org.StripeCustomerID == "" {
		return "", fmt.Errorf("organization %d has no billing account", orgID)
	}
	return s.gateway.CreatePortalSession(ctx, org.StripeCustomerID)
}

// CancelSubscription schedules the active plan to lapse at period end.
func (s *Service) CancelSubscription(ctx context.Context, orgID int64) error {
	return s.plans.ScheduleActivePlanForCancellation(ctx, orgID)
}
