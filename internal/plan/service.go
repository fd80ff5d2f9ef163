package plan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Cafe137/swarmy-backend/internal/alert"
	"github.com/Cafe137/swarmy-backend/internal/bee"
	"github.com/Cafe137/swarmy-backend/internal/metrics"
	"github.com/Cafe137/swarmy-backend/internal/organization"
	"github.com/Cafe137/swarmy-backend/internal/postage"
	"github.com/Cafe137/swarmy-backend/internal/traces"
)

const (
	// activationPeriod is how much runway a payment buys. One day longer
	// than the billed month so renewals never race expiry.
	activationPeriod = 31 * 24 * time.Hour
	// creationDays sizes the initial batch for the billed month only; the
	// first recurring payment extends it.
	creationDays = 30
	renewalDays  = 31
)

// UsageUpgrader adjusts usage quotas when plans change.
type UsageUpgrader interface {
	UpgradeCurrentMetrics(ctx context.Context, orgID, uploadLimit, downloadLimit int64) error
	ResetForOrganization(ctx context.Context, orgID int64) error
}

// BatchInspector reads the live state of a batch from the node that owns it.
type BatchInspector interface {
	GetBatch(ctx context.Context, beeID int64, batchID string) (*bee.PostageBatch, error)
}

// PriceProvider reports the current per-block storage price from the network.
type PriceProvider interface {
	CurrentPricePerBlock(ctx context.Context) (int64, error)
}

// Service drives the plan lifecycle state machine.
type Service struct {
	plans  Store
	orgs   organization.Store
	queues postage.QueueStore
	usage  UsageUpgrader
	batch  BatchInspector
	price  PriceProvider
	alerts alert.Sender
	logger *slog.Logger
}

// NewService creates a plan service.
func NewService(plans Store, orgs organization.Store, queues postage.QueueStore,
	usage UsageUpgrader, batch BatchInspector, price PriceProvider,
	alerts alert.Sender, logger *slog.Logger) *Service {
	return &Service{
		plans:  plans,
		orgs:   orgs,
		queues: queues,
		usage:  usage,
		batch:  batch,
		price:  price,
		alerts: alerts,
		logger: logger.With("component", "plan_service"),
	}
}

// CreatePendingPlan inserts a PENDING_PAYMENT plan for a priced subscription.
func (s *Service) CreatePendingPlan(ctx context.Context, orgID, storageGB, bandwidthGB int64, paymentType PaymentType) (*Plan, error) {
	amount, err := QuoteSubscription(storageGB, bandwidthGB)
	if err != nil {
		return nil, err
	}
	p := &Plan{
		OrganizationID:     orgID,
		AmountCents:        amount,
		Currency:           Currency,
		Frequency:          FrequencyMonth,
		Status:             StatusPendingPayment,
		PaymentType:        paymentType,
		UploadSizeLimit:    storageGB * GigabyteBytes,
		DownloadSizeLimit:  bandwidthGB * GigabyteBytes,
		UploadCountLimit:   DefaultCountLimit,
		DownloadCountLimit: DefaultCountLimit,
	}
	if err := s.plans.Insert(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// GetActivePlan returns the organization's ACTIVE plan.
func (s *Service) GetActivePlan(ctx context.Context, orgID int64) (*Plan, error) {
	return s.plans.GetActive(ctx, orgID)
}

// GetPlanByID returns a plan scoped to the organization.
func (s *Service) GetPlanByID(ctx context.Context, orgID, planID int64) (*Plan, error) {
	return s.plans.GetByID(ctx, orgID, planID)
}

// ActivatePlan transitions a PENDING_PAYMENT plan to ACTIVE after its first
// payment settled. A plan activates exactly once: re-delivered payment events
// for an already ACTIVE plan are an invariant violation and alert instead of
// re-running the side effects. The previous ACTIVE plan, if any, is cancelled
// and its batch is grown rather than replaced.
func (s *Service) ActivatePlan(ctx context.Context, orgID, planID int64) error {
	ctx, span := traces.StartSpan(ctx, "plan.activate", traces.OrganizationID(orgID), traces.PlanID(planID))
	defer span.End()

	target, err := s.plans.GetByID(ctx, orgID, planID)
	if err != nil {
		return err
	}
	if target.Status != StatusPendingPayment {
		err := fmt.Errorf("%w: plan %d is %s", ErrNotPending, planID, target.Status)
		s.alerts.SendAlert(fmt.Sprintf("attempted to activate non-pending plan %d for organization %d", planID, orgID), err)
		return err
	}

	previous, err := s.plans.GetActive(ctx, orgID)
	if err != nil && !errors.Is(err, ErrNoActivePlan) {
		return err
	}
	if previous != nil {
		reason := fmt.Sprintf("upgraded to plan %d", target.ID)
		if err := s.plans.UpdateStatus(ctx, previous.ID, StatusCancelled, reason); err != nil {
			return fmt.Errorf("cancelling previous plan %d: %w", previous.ID, err)
		}
		metrics.PlanCancellationsTotal.WithLabelValues("upgrade").Inc()
	}

	if err := s.plans.UpdateStatus(ctx, target.ID, StatusActive, ""); err != nil {
		return fmt.Errorf("activating plan %d: %w", target.ID, err)
	}
	if err := s.plans.SetPaidUntil(ctx, target.ID, time.Now().Add(activationPeriod)); err != nil {
		return fmt.Errorf("setting paid-until on plan %d: %w", target.ID, err)
	}
	if err := s.usage.UpgradeCurrentMetrics(ctx, orgID, target.UploadSizeLimit, target.DownloadSizeLimit); err != nil {
		return fmt.Errorf("upgrading usage quotas: %w", err)
	}

	gigabytes := float64(target.UploadSizeLimit) / GigabyteBytes
	if previous == nil {
		// First paid plan: traffic before payment does not count, and the
		// organization gets its batch provisioned.
		if err := s.usage.ResetForOrganization(ctx, orgID); err != nil {
			return fmt.Errorf("resetting usage counters: %w", err)
		}
		if err := s.SafelyQueueCreation(ctx, orgID, gigabytes); err != nil {
			return err
		}
	} else {
		if err := s.queueDiluteIfGrown(ctx, orgID, gigabytes); err != nil {
			return err
		}
	}

	metrics.PlanActivationsTotal.Inc()
	s.logger.Info("activated plan", "planId", target.ID, "organizationId", orgID, "upgrade", previous != nil)
	return nil
}

// SafelyQueueCreation enqueues a batch creation for the organization unless
// one is already pending. Callers reach for this both on first activation and
// when a sweep finds an ACTIVE plan with no batch.
func (s *Service) SafelyQueueCreation(ctx context.Context, orgID int64, gigabytes float64) error {
	pending, err := s.queues.HasPendingCreate(ctx, orgID)
	if err != nil {
		return fmt.Errorf("checking pending creations: %w", err)
	}
	if pending {
		s.logger.Info("batch creation already queued", "organizationId", orgID)
		return nil
	}
	price, err := s.price.CurrentPricePerBlock(ctx)
	if err != nil {
		return fmt.Errorf("reading storage price: %w", err)
	}
	p := postage.PlanFor(creationDays, gigabytes, price)
	if err := s.orgs.SetBatchStatus(ctx, orgID, organization.BatchStatusCreating); err != nil {
		return fmt.Errorf("marking batch creation: %w", err)
	}
	job := &postage.CreateJob{OrganizationID: orgID, Depth: p.Depth, Amount: p.Amount}
	if err := s.queues.EnqueueCreate(ctx, job); err != nil {
		return fmt.Errorf("enqueueing batch creation: %w", err)
	}
	s.logger.Info("queued batch creation", "organizationId", orgID, "depth", p.Depth, "amount", p.Amount)
	return nil
}

// queueDiluteIfGrown grows the existing batch when the upgraded plan needs a
// bigger depth. Depth never shrinks; a downgrade keeps the batch as is.
func (s *Service) queueDiluteIfGrown(ctx context.Context, orgID int64, gigabytes float64) error {
	org, err := s.orgs.Get(ctx, orgID)
	if err != nil {
		return err
	}
	if org.PostageBatchID == "" {
		err := fmt.Errorf("%w: organization %d", ErrNoPostageBatch, orgID)
		s.alerts.SendAlert(fmt.Sprintf("plan upgrade for organization %d found no batch to dilute", orgID), err)
		return err
	}
	batch, err := s.batch.GetBatch(ctx, org.BeeID, org.PostageBatchID)
	if err != nil {
		return fmt.Errorf("inspecting batch %s: %w", org.PostageBatchID, err)
	}
	newDepth := postage.DepthForSize(gigabytes)
	if newDepth <= batch.Depth {
		s.logger.Info("batch depth already sufficient", "organizationId", orgID,
			"batchId", org.PostageBatchID, "depth", batch.Depth)
		return nil
	}
	job := &postage.DiluteJob{OrganizationID: orgID, BatchID: org.PostageBatchID, Depth: newDepth}
	if err := s.queues.EnqueueDilute(ctx, job); err != nil {
		return fmt.Errorf("enqueueing dilute: %w", err)
	}
	s.logger.Info("queued batch dilute", "organizationId", orgID,
		"batchId", org.PostageBatchID, "newDepth", newDepth)
	return nil
}

// ApplyRecurringPayment extends a subscription by one period and buys the
// batch matching runway. A recurring payment for an organization with no
// ACTIVE plan or no batch is an invariant violation.
func (s *Service) ApplyRecurringPayment(ctx context.Context, orgID int64) error {
	ctx, span := traces.StartSpan(ctx, "plan.recurring_payment", traces.OrganizationID(orgID))
	defer span.End()

	active, err := s.plans.GetActive(ctx, orgID)
	if err != nil {
		s.alerts.SendAlert(fmt.Sprintf("recurring payment for organization %d with no active plan", orgID), err)
		return err
	}

	org, err := s.orgs.Get(ctx, orgID)
	if err != nil {
		return err
	}
	if org.PostageBatchID == "" {
		err := fmt.Errorf("%w: organization %d", ErrNoPostageBatch, orgID)
		s.alerts.SendAlert(fmt.Sprintf("recurring payment for organization %d found no batch to top up", orgID), err)
		return err
	}

	base := time.Now()
	if active.PaidUntil != nil && active.PaidUntil.After(base) {
		base = *active.PaidUntil
	}
	if err := s.plans.SetPaidUntil(ctx, active.ID, base.Add(activationPeriod)); err != nil {
		return fmt.Errorf("extending plan %d: %w", active.ID, err)
	}
	if err := s.queueTopUp(ctx, orgID, org.PostageBatchID); err != nil {
		return err
	}
	s.logger.Info("applied recurring payment", "planId", active.ID, "organizationId", orgID)
	return nil
}

// queueTopUp enqueues a one-period lifetime extension unless one is pending.
func (s *Service) queueTopUp(ctx context.Context, orgID int64, batchID string) error {
	pending, err := s.queues.HasPendingTopUp(ctx, batchID)
	if err != nil {
		return fmt.Errorf("checking pending top-ups: %w", err)
	}
	if pending {
		s.logger.Info("top-up already queued", "batchId", batchID)
		return nil
	}
	price, err := s.price.CurrentPricePerBlock(ctx)
	if err != nil {
		return fmt.Errorf("reading storage price: %w", err)
	}
	amount := postage.AmountForDuration(renewalDays, price)
	job := &postage.TopUpJob{OrganizationID: orgID, BatchID: batchID, Amount: amount}
	if err := s.queues.EnqueueTopUp(ctx, job); err != nil {
		return fmt.Errorf("enqueueing top-up: %w", err)
	}
	s.logger.Info("queued top-up", "batchId", batchID, "amount", amount, "organizationId", orgID)
	return nil
}

// QueueTopUpForBatch is the maintenance entry point for extending a batch
// close to expiry.
func (s *Service) QueueTopUpForBatch(ctx context.Context, orgID int64, batchID string) error {
	return s.queueTopUp(ctx, orgID, batchID)
}

// CancelPlan cancels a plan and releases the organization's batch reference.
// The remote batch is left to expire on its own.
func (s *Service) CancelPlan(ctx context.Context, orgID, planID int64, reason string) error {
	p, err := s.plans.GetByID(ctx, orgID, planID)
	if err != nil {
		return err
	}
	if err := s.plans.UpdateStatus(ctx, p.ID, StatusCancelled, reason); err != nil {
		return fmt.Errorf("cancelling plan %d: %w", p.ID, err)
	}
	if err := s.orgs.ClearPostageBatch(ctx, orgID); err != nil {
		return fmt.Errorf("releasing batch of organization %d: %w", orgID, err)
	}
	metrics.PlanCancellationsTotal.WithLabelValues("cancelled").Inc()
	s.logger.Info("cancelled plan", "planId", p.ID, "organizationId", orgID, "reason", reason)
	return nil
}

// ScheduleActivePlanForCancellation marks the ACTIVE plan to lapse at the end
// of its paid period instead of renewing.
func (s *Service) ScheduleActivePlanForCancellation(ctx context.Context, orgID int64) error {
	active, err := s.plans.GetActive(ctx, orgID)
	if err != nil {
		return err
	}
	cancelAt := time.Now()
	if active.PaidUntil != nil {
		cancelAt = *active.PaidUntil
	}
	if err := s.plans.SetCancelAt(ctx, active.ID, cancelAt); err != nil {
		return fmt.Errorf("scheduling cancellation of plan %d: %w", active.ID, err)
	}
	s.logger.Info("scheduled plan cancellation", "planId", active.ID, "organizationId", orgID, "cancelAt", cancelAt)
	return nil
}

// ListActivePlans exposes the active plan set to maintenance sweeps.
func (s *Service) ListActivePlans(ctx context.Context) ([]Plan, error) {
	return s.plans.ListActive(ctx)
}
