// Package monitor runs the scheduled safety nets: plan maintenance, batch
// expiration watching and operator wallet checks.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Cafe137/swarmy-backend/internal/alert"
	"github.com/Cafe137/swarmy-backend/internal/organization"
	"github.com/Cafe137/swarmy-backend/internal/plan"
)

// topUpThreshold is how close to expiry a batch may get before the sweep
// extends it. Three days leaves room for several failed worker cycles.
const topUpThreshold = 3 * 24 * time.Hour

// Maintainer reconciles active plans against their postage batches. It is the
// safety net for anything the event-driven paths missed: expired plans that
// were never cancelled, active plans that lost their batch, and batches
// drifting toward expiry.
type Maintainer struct {
	plans  *plan.Service
	orgs   organization.Store
	batch  plan.BatchInspector
	alerts alert.Sender
	logger *slog.Logger
}

// NewMaintainer creates a plan maintainer.
func NewMaintainer(plans *plan.Service, orgs organization.Store, batch plan.BatchInspector,
	alerts alert.Sender, logger *slog.Logger) *Maintainer {
	return &Maintainer{
		plans:  plans,
		orgs:   orgs,
		batch:  batch,
		alerts: alerts,
		logger: logger.With("component", "plan_maintainer"),
	}
}

// MaintainPlans sweeps every ACTIVE plan once. Failures on one plan do not
// stop the sweep.
func (m *Maintainer) MaintainPlans(ctx context.Context) {
	active, err := m.plans.ListActivePlans(ctx)
	if err != nil {
		m.logger.Error("failed to list active plans", "error", err)
		return
	}
	for _, p := range active {
		if err := m.maintainPlan(ctx, p); err != nil {
			m.logger.Error("plan maintenance failed", "planId", p.ID, "organizationId", p.OrganizationID, "error", err)
		}
	}
}

func (m *Maintainer) maintainPlan(ctx context.Context, p plan.Plan) error {
	now := time.Now()
	if expired(p, now) {
		m.logger.Info("cancelling lapsed plan", "planId", p.ID, "organizationId", p.OrganizationID)
		return m.plans.CancelPlan(ctx, p.OrganizationID, p.ID, "expired")
	}

	org, err := m.orgs.Get(ctx, p.OrganizationID)
	if err != nil {
		return err
	}
	if org.PostageBatchID == "" {
		// An active plan must always be backed by a batch. Re-queue the
		// creation; SafelyQueueCreation ignores the call if one is
		// already pending.
		if org.BatchStatus != organization.BatchStatusCreating {
			m.alerts.SendAlert(fmt.Sprintf("active plan %d of organization %d has no postage batch", p.ID, org.ID), nil)
		}
		gigabytes := float64(p.UploadSizeLimit) / plan.GigabyteBytes
		return m.plans.SafelyQueueCreation(ctx, org.ID, gigabytes)
	}

	batch, err := m.batch.GetBatch(ctx, org.BeeID, org.PostageBatchID)
	if err != nil {
		return fmt.Errorf("inspecting batch %s: %w", org.PostageBatchID, err)
	}
	if !batch.Exists {
		m.alerts.SendAlert(fmt.Sprintf("batch %s of organization %d vanished from its node", org.PostageBatchID, org.ID), nil)
		return nil
	}
	if batch.TTL() < topUpThreshold {
		m.logger.Info("batch close to expiry, queueing top-up",
			"batchId", org.PostageBatchID, "organizationId", org.ID, "ttl", batch.TTL())
		return m.plans.QueueTopUpForBatch(ctx, org.ID, org.PostageBatchID)
	}
	return nil
}

func expired(p plan.Plan, now time.Time) bool {
	if p.CancelAt != nil && now.After(*p.CancelAt) {
		return true
	}
	return p.PaidUntil != nil && now.After(*p.PaidUntil)
}

// MaintenanceTimer runs the plan sweep on a fixed cadence.
type MaintenanceTimer struct {
	maintainer *Maintainer
	interval   time.Duration
	logger     *slog.Logger
	stop       chan struct{}
	running    atomic.Bool
}

// NewMaintenanceTimer creates a plan maintenance timer.
func NewMaintenanceTimer(maintainer *Maintainer, logger *slog.Logger) *MaintenanceTimer {
	return &MaintenanceTimer{
		maintainer: maintainer,
		interval:   5 * time.Minute,
		logger:     logger,
		stop:       make(chan struct{}),
	}
}

// Running reports whether the timer loop is actively running.
func (t *MaintenanceTimer) Running() bool {
	return t.running.Load()
}

// Start begins the maintenance loop. Call in a goroutine.
func (t *MaintenanceTimer) Start(ctx context.Context) {
	t.running.Store(true)
	defer t.running.Store(false)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			t.safeMaintain(ctx)
		}
	}
}

// Stop signals the timer to stop.
func (t *MaintenanceTimer) Stop() {
	select {
	case t.stop <- struct{}{}:
	default:
	}
}

func (t *MaintenanceTimer) safeMaintain(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic in plan maintenance timer", "panic", fmt.Sprint(r))
		}
	}()
	t.maintainer.MaintainPlans(ctx)
}
