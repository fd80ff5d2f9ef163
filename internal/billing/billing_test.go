package billing

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Cafe137/swarmy-backend/internal/alert"
	"github.com/Cafe137/swarmy-backend/internal/bee"
	"github.com/Cafe137/swarmy-backend/internal/organization"
	"github.com/Cafe137/swarmy-backend/internal/payment"
	"github.com/Cafe137/swarmy-backend/internal/plan"
	"github.com/Cafe137/swarmy-backend/internal/postage"
	"github.com/Cafe137/swarmy-backend/internal/usagemetrics"
)

type fakeGateway struct {
	events    []Event
	parseErr  error
	checkouts []CheckoutParams
}

func (g *fakeGateway) CreateCustomer(ctx context.Context, email string) (string, error) {
	return "cus_test", nil
}

func (g *fakeGateway) CreateCheckoutSession(ctx context.Context, p CheckoutParams) (string, error) {
	g.checkouts = append(g.checkouts, p)
	return "https://checkout.test/" + p.MerchantTransactionID, nil
}

func (g *fakeGateway) CreatePortalSession(ctx context.Context, customerID string) (string, error) {
	return "https://portal.test/" + customerID, nil
}

func (g *fakeGateway) ParseEvent(payload []byte, signature string) (Event, error) {
	if g.parseErr != nil {
		return Event{}, g.parseErr
	}
	ev := g.events[0]
	g.events = g.events[1:]
	return ev, nil
}

type fakeCharges struct {
	states  map[string]ChargeState
	created int
}

func (f *fakeCharges) CreateCharge(ctx context.Context, name string, amountCents int64, currency string) (*Charge, error) {
	f.created++
	code := "CHRG1"
	if f.states == nil {
		f.states = map[string]ChargeState{}
	}
	f.states[code] = ChargeStatePending
	return &Charge{Code: code, HostedURL: "https://commerce.test/" + code}, nil
}

func (f *fakeCharges) ChargeState(ctx context.Context, code string) (ChargeState, error) {
	state, ok := f.states[code]
	if !ok {
		return "", ErrChargeNotFound
	}
	return state, nil
}

type stubBatch struct{}

func (stubBatch) GetBatch(ctx context.Context, beeID int64, batchID string) (*bee.PostageBatch, error) {
	return &bee.PostageBatch{BatchID: batchID, Depth: 23, Usable: true, Exists: true}, nil
}

type stubPrice struct{}

func (stubPrice) CurrentPricePerBlock(ctx context.Context) (int64, error) { return 24000, nil }

type fixture struct {
	svc      *Service
	gateway  *fakeGateway
	plans    *plan.Service
	payments *payment.Service
	orgs     *organization.MemoryStore
	queues   *postage.MemoryQueueStore
	alerts   *alert.Recorder
	orgID    int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	alerts := alert.NewRecorder()
	orgs := organization.NewMemoryStore()
	queues := postage.NewMemoryQueueStore()
	usage := usagemetrics.NewService(usagemetrics.NewMemoryStore())
	payments := payment.NewService(payment.NewMemoryStore(), alerts, logger)
	plans := plan.NewService(plan.NewMemoryStore(), orgs, queues, usage, stubBatch{}, stubPrice{}, alerts, logger)
	gateway := &fakeGateway{}

	org := &organization.Organization{
		Name:             "test org",
		Enabled:          true,
		BatchStatus:      organization.BatchStatusNone,
		StripeCustomerID: "cus_test",
	}
	require.NoError(t, orgs.Insert(ctx, org))
	require.NoError(t, usage.CreateInitialMetrics(ctx, org.ID))

	svc := NewService(orgs, plans, payments, gateway, nil, alerts, logger)
	return &fixture{
		svc: svc, gateway: gateway, plans: plans, payments: payments,
		orgs: orgs, queues: queues, alerts: alerts, orgID: org.ID,
	}
}

func TestInitSubscriptionOpensCheckout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	url, err := f.svc.InitSubscription(ctx, f.orgID, 16, 16)
	require.NoError(t, err)
	assert.Contains(t, url, "https://checkout.test/pay_")

	require.Len(t, f.gateway.checkouts, 1)
	checkout := f.gateway.checkouts[0]
	assert.Equal(t, "cus_test", checkout.CustomerID)
	// 16 GB storage at 20c + 16 GB bandwidth at 10c.
	assert.Equal(t, int64(16*20+16*10), checkout.AmountCents)

	// Plan stays pending until the webhook settles it.
	_, err = f.plans.GetActivePlan(ctx, f.orgID)
	assert.ErrorIs(t, err, plan.ErrNoActivePlan)
}

func TestCheckoutCompletionActivatesPlan(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.InitSubscription(ctx, f.orgID, 16, 16)
	require.NoError(t, err)
	merchantTxID := f.gateway.checkouts[0].MerchantTransactionID

	f.gateway.events = []Event{{Type: "checkout.session.completed", MerchantTransactionID: merchantTxID}}
	require.NoError(t, f.svc.HandleWebhook(ctx, []byte("{}"), "sig"))

	active, err := f.plans.GetActivePlan(ctx, f.orgID)
	require.NoError(t, err)
	assert.Equal(t, plan.StatusActive, active.Status)

	pay, err := f.payments.GetByMerchantTransactionID(ctx, merchantTxID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusSuccess, pay.Status)

	jobs, err := f.queues.ListCreate(ctx)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestReplayedCheckoutCompletionIsIgnored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.InitSubscription(ctx, f.orgID, 16, 16)
	require.NoError(t, err)
	merchantTxID := f.gateway.checkouts[0].MerchantTransactionID

	completed := Event{Type: "checkout.session.completed", MerchantTransactionID: merchantTxID}
	f.gateway.events = []Event{completed, completed}
	require.NoError(t, f.svc.HandleWebhook(ctx, []byte("{}"), "sig"))
	require.NoError(t, f.svc.HandleWebhook(ctx, []byte("{}"), "sig"))

	jobs, err := f.queues.ListCreate(ctx)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestRenewalInvoiceAppliesRecurringPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.InitSubscription(ctx, f.orgID, 16, 16)
	require.NoError(t, err)
	merchantTxID := f.gateway.checkouts[0].MerchantTransactionID
	f.gateway.events = []Event{{Type: "checkout.session.completed", MerchantTransactionID: merchantTxID}}
	require.NoError(t, f.svc.HandleWebhook(ctx, []byte("{}"), "sig"))
	require.NoError(t, f.orgs.SetPostageBatch(ctx, f.orgID, "aabbcc", 7))

	// The subscription-create invoice is skipped, a renewal tops up.
	f.gateway.events = []Event{
		{Type: "invoice.paid", CustomerID: "cus_test", BillingReason: "subscription_create"},
		{Type: "invoice.paid", CustomerID: "cus_test", BillingReason: "subscription_cycle"},
	}
	require.NoError(t, f.svc.HandleWebhook(ctx, []byte("{}"), "sig"))
	topUps, err := f.queues.ListTopUp(ctx)
	require.NoError(t, err)
	assert.Empty(t, topUps)

	require.NoError(t, f.svc.HandleWebhook(ctx, []byte("{}"), "sig"))
	topUps, err = f.queues.ListTopUp(ctx)
	require.NoError(t, err)
	assert.Len(t, topUps, 1)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	f := newFixture(t)
	f.gateway.parseErr = errors.New("bad signature")
	err := f.svc.HandleWebhook(context.Background(), []byte("{}"), "sig")
	assert.Error(t, err)
}

func TestCryptoChargeSettlement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	charges := &fakeCharges{}

	url, err := f.svc.InitCryptoSubscription(ctx, charges, f.orgID, 16, 16)
	require.NoError(t, err)
	assert.Equal(t, "https://commerce.test/CHRG1", url)

	// Still pending: sweep is a no-op.
	pending, err := f.payments.ListPendingByProvider(ctx, payment.ProviderCoinbase)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.NoError(t, f.svc.SettleCryptoPayment(ctx, charges, pending[0]))
	_, err = f.plans.GetActivePlan(ctx, f.orgID)
	assert.ErrorIs(t, err, plan.ErrNoActivePlan)

	// Completed: payment settles and the plan activates.
	charges.states["CHRG1"] = ChargeStateCompleted
	require.NoError(t, f.svc.SettleCryptoPayment(ctx, charges, pending[0]))

	active, err := f.plans.GetActivePlan(ctx, f.orgID)
	require.NoError(t, err)
	assert.Equal(t, plan.PaymentTypeCrypto, active.PaymentType)
}

type poorWallet struct{}

func (poorWallet) VerifyBalanceFor(ctx context.Context, gigabytes float64) error {
	return errors.New("balance 3.2 BZZ below required 5.3 BZZ")
}

func TestInitSubscriptionBlocksOnOperatorWallet(t *testing.T) {
	f := newFixture(t)
	f.svc.wallet = poorWallet{}

	_, err := f.svc.InitSubscription(context.Background(), f.orgID, 16, 16)
	assert.ErrorIs(t, err, ErrInsufficientOperatorFunds)
	assert.Equal(t, 1, f.alerts.Count())
}
