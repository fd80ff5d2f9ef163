package plan

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Cafe137/swarmy-backend/internal/alert"
	"github.com/Cafe137/swarmy-backend/internal/bee"
	"github.com/Cafe137/swarmy-backend/internal/organization"
	"github.com/Cafe137/swarmy-backend/internal/postage"
	"github.com/Cafe137/swarmy-backend/internal/usagemetrics"
)

type fixedBatch struct {
	depth uint8
}

func (f fixedBatch) GetBatch(ctx context.Context, beeID int64, batchID string) (*bee.PostageBatch, error) {
	return &bee.PostageBatch{BatchID: batchID, Depth: f.depth, Usable: true, Exists: true}, nil
}

type fixedPrice int64

func (p fixedPrice) CurrentPricePerBlock(ctx context.Context) (int64, error) {
	return int64(p), nil
}

type fixture struct {
	svc    *Service
	plans  *MemoryStore
	orgs   *organization.MemoryStore
	queues *postage.MemoryQueueStore
	usage  *usagemetrics.Service
	alerts *alert.Recorder
	orgID  int64
}

func newFixture(t *testing.T, remoteDepth uint8) *fixture {
	t.Helper()
	ctx := context.Background()
	plans := NewMemoryStore()
	orgs := organization.NewMemoryStore()
	queues := postage.NewMemoryQueueStore()
	usage := usagemetrics.NewService(usagemetrics.NewMemoryStore())
	alerts := alert.NewRecorder()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	org := &organization.Organization{Name: "test org", Enabled: true, BatchStatus: organization.BatchStatusNone}
	require.NoError(t, orgs.Insert(ctx, org))
	require.NoError(t, usage.CreateInitialMetrics(ctx, org.ID))

	svc := NewService(plans, orgs, queues, usage, fixedBatch{depth: remoteDepth}, fixedPrice(24000), alerts, logger)
	return &fixture{svc: svc, plans: plans, orgs: orgs, queues: queues, usage: usage, alerts: alerts, orgID: org.ID}
}

func (f *fixture) pendingPlan(t *testing.T, storageGB, bandwidthGB int64) *Plan {
	t.Helper()
	p, err := f.svc.CreatePendingPlan(context.Background(), f.orgID, storageGB, bandwidthGB, PaymentTypeStripe)
	require.NoError(t, err)
	return p
}

func TestCreatePendingPlanRejectsUnknownOption(t *testing.T) {
	f := newFixture(t, 22)
	_, err := f.svc.CreatePendingPlan(context.Background(), f.orgID, 5, 16, PaymentTypeStripe)
	assert.ErrorIs(t, err, ErrInvalidOption)
}

func TestCreatePendingPlanSetsFrequencyAndCountLimits(t *testing.T) {
	f := newFixture(t, 22)
	p := f.pendingPlan(t, 16, 16)
	assert.Equal(t, FrequencyMonth, p.Frequency)
	assert.Equal(t, DefaultCountLimit, p.UploadCountLimit)
	assert.Equal(t, DefaultCountLimit, p.DownloadCountLimit)
}

func TestFirstActivationQueuesCreation(t *testing.T) {
	f := newFixture(t, 22)
	ctx := context.Background()
	p := f.pendingPlan(t, 16, 16)

	require.NoError(t, f.svc.ActivatePlan(ctx, f.orgID, p.ID))

	activated, err := f.svc.GetActivePlan(ctx, f.orgID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, activated.ID)
	require.NotNil(t, activated.PaidUntil)
	assert.WithinDuration(t, time.Now().Add(31*24*time.Hour), *activated.PaidUntil, time.Minute)

	org, err := f.orgs.Get(ctx, f.orgID)
	require.NoError(t, err)
	assert.Equal(t, organization.BatchStatusCreating, org.BatchStatus)

	jobs, err := f.queues.ListCreate(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	// 16 GB needs depth 23; 30 days at 24000 PLUR per block.
	assert.Equal(t, uint8(23), jobs[0].Depth)
	assert.Equal(t, int64(24000*17280*30), jobs[0].Amount)
}

func TestActivationIsIdempotentGuarded(t *testing.T) {
	f := newFixture(t, 22)
	ctx := context.Background()
	p := f.pendingPlan(t, 16, 16)

	require.NoError(t, f.svc.ActivatePlan(ctx, f.orgID, p.ID))

	// A replayed payment event must not re-run activation side effects.
	err := f.svc.ActivatePlan(ctx, f.orgID, p.ID)
	assert.ErrorIs(t, err, ErrNotPending)
	assert.Equal(t, 1, f.alerts.Count())

	jobs, err2 := f.queues.ListCreate(ctx)
	require.NoError(t, err2)
	assert.Len(t, jobs, 1)
}

func TestUpgradeCancelsPreviousAndDilutes(t *testing.T) {
	f := newFixture(t, 23)
	ctx := context.Background()
	first := f.pendingPlan(t, 16, 16)
	require.NoError(t, f.svc.ActivatePlan(ctx, f.orgID, first.ID))

	// Simulate the worker having provisioned the batch at depth 23.
	require.NoError(t, f.orgs.SetPostageBatch(ctx, f.orgID, "aabbcc", 7))

	bigger := f.pendingPlan(t, 100, 100)
	require.NoError(t, f.svc.ActivatePlan(ctx, f.orgID, bigger.ID))

	old, err := f.plans.GetByID(ctx, f.orgID, first.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, old.Status)
	assert.Contains(t, old.StatusReason, "upgraded")

	active, err := f.svc.GetActivePlan(ctx, f.orgID)
	require.NoError(t, err)
	assert.Equal(t, bigger.ID, active.ID)

	// 100 GB needs depth 25, deeper than the remote 23, so a dilute queues.
	dilutes, err := f.queues.ListDilute(ctx)
	require.NoError(t, err)
	require.Len(t, dilutes, 1)
	assert.Equal(t, "aabbcc", dilutes[0].BatchID)
	assert.Equal(t, uint8(25), dilutes[0].Depth)
}

func TestUpgradeSkipsDiluteWhenDepthSufficient(t *testing.T) {
	f := newFixture(t, 25)
	ctx := context.Background()
	first := f.pendingPlan(t, 100, 100)
	require.NoError(t, f.svc.ActivatePlan(ctx, f.orgID, first.ID))
	require.NoError(t, f.orgs.SetPostageBatch(ctx, f.orgID, "aabbcc", 7))

	// Downgrade to a plan the current depth already covers.
	smaller := f.pendingPlan(t, 16, 16)
	require.NoError(t, f.svc.ActivatePlan(ctx, f.orgID, smaller.ID))

	dilutes, err := f.queues.ListDilute(ctx)
	require.NoError(t, err)
	assert.Empty(t, dilutes)
}

func TestUpgradeWithoutBatchAlerts(t *testing.T) {
	f := newFixture(t, 22)
	ctx := context.Background()
	first := f.pendingPlan(t, 16, 16)
	require.NoError(t, f.svc.ActivatePlan(ctx, f.orgID, first.ID))

	// No batch was ever recorded for the organization.
	second := f.pendingPlan(t, 100, 100)
	err := f.svc.ActivatePlan(ctx, f.orgID, second.ID)
	assert.ErrorIs(t, err, ErrNoPostageBatch)
	assert.Equal(t, 1, f.alerts.Count())
}

func TestRecurringPaymentExtendsAndTopsUp(t *testing.T) {
	f := newFixture(t, 23)
	ctx := context.Background()
	p := f.pendingPlan(t, 16, 16)
	require.NoError(t, f.svc.ActivatePlan(ctx, f.orgID, p.ID))
	require.NoError(t, f.orgs.SetPostageBatch(ctx, f.orgID, "aabbcc", 7))

	before, err := f.svc.GetActivePlan(ctx, f.orgID)
	require.NoError(t, err)

	require.NoError(t, f.svc.ApplyRecurringPayment(ctx, f.orgID))

	after, err := f.svc.GetActivePlan(ctx, f.orgID)
	require.NoError(t, err)
	assert.Equal(t, before.PaidUntil.Add(31*24*time.Hour), *after.PaidUntil)

	topUps, err := f.queues.ListTopUp(ctx)
	require.NoError(t, err)
	require.Len(t, topUps, 1)
	assert.Equal(t, "aabbcc", topUps[0].BatchID)
	assert.Equal(t, int64(24000*17280*31), topUps[0].Amount)

	// A second settlement while the first top-up is still queued does not
	// stack another job.
	require.NoError(t, f.svc.ApplyRecurringPayment(ctx, f.orgID))
	topUps, err = f.queues.ListTopUp(ctx)
	require.NoError(t, err)
	assert.Len(t, topUps, 1)
}

func TestRecurringPaymentWithoutBatchKeepsPaidUntil(t *testing.T) {
	f := newFixture(t, 22)
	ctx := context.Background()
	p := f.pendingPlan(t, 16, 16)
	require.NoError(t, f.svc.ActivatePlan(ctx, f.orgID, p.ID))

	before, err := f.svc.GetActivePlan(ctx, f.orgID)
	require.NoError(t, err)

	// Batch creation is still queued, so the organization has no batch yet.
	err = f.svc.ApplyRecurringPayment(ctx, f.orgID)
	assert.ErrorIs(t, err, ErrNoPostageBatch)
	assert.Equal(t, 1, f.alerts.Count())

	after, err := f.svc.GetActivePlan(ctx, f.orgID)
	require.NoError(t, err)
	assert.Equal(t, *before.PaidUntil, *after.PaidUntil)
}

func TestRecurringPaymentWithoutActivePlanAlerts(t *testing.T) {
	f := newFixture(t, 22)
	err := f.svc.ApplyRecurringPayment(context.Background(), f.orgID)
	assert.ErrorIs(t, err, ErrNoActivePlan)
	assert.Equal(t, 1, f.alerts.Count())
}

func TestCancelPlanReleasesBatch(t *testing.T) {
	f := newFixture(t, 22)
	ctx := context.Background()
	p := f.pendingPlan(t, 16, 16)
	require.NoError(t, f.svc.ActivatePlan(ctx, f.orgID, p.ID))
	require.NoError(t, f.orgs.SetPostageBatch(ctx, f.orgID, "aabbcc", 7))

	require.NoError(t, f.svc.CancelPlan(ctx, f.orgID, p.ID, "expired"))

	_, err := f.svc.GetActivePlan(ctx, f.orgID)
	assert.ErrorIs(t, err, ErrNoActivePlan)

	org, err := f.orgs.Get(ctx, f.orgID)
	require.NoError(t, err)
	assert.Empty(t, org.PostageBatchID)
	assert.Equal(t, organization.BatchStatusRemoved, org.BatchStatus)
}

func TestScheduleActivePlanForCancellation(t *testing.T) {
	f := newFixture(t, 22)
	ctx := context.Background()
	p := f.pendingPlan(t, 16, 16)
	require.NoError(t, f.svc.ActivatePlan(ctx, f.orgID, p.ID))

	require.NoError(t, f.svc.ScheduleActivePlanForCancellation(ctx, f.orgID))

	active, err := f.svc.GetActivePlan(ctx, f.orgID)
	require.NoError(t, err)
	require.NotNil(t, active.CancelAt)
	assert.Equal(t, *active.PaidUntil, *active.CancelAt)
}
