package payment

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/Cafe137/swarmy-backend/internal/alert"
)

func testService() (*Service, *MemoryStore, *alert.Recorder) {
	store := NewMemoryStore()
	alerts := alert.NewRecorder()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(store, alerts, logger), store, alerts
}

func TestCreatePendingAndSettle(t *testing.T) {
	svc, _, _ := testService()
	ctx := context.Background()

	p, err := svc.CreatePending(ctx, "pay_abc", 1, 10, 4800, "EUR", ProviderStripe)
	if err != nil {
		t.Fatalf("create pending: %v", err)
	}
	if p.Status != StatusPending {
		t.Errorf("status = %s, want %s", p.Status, StatusPending)
	}

	if err := svc.MarkSuccess(ctx, p.ID); err != nil {
		t.Fatalf("mark success: %v", err)
	}
	got, err := svc.GetByMerchantTransactionID(ctx, "pay_abc")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusSuccess {
		t.Errorf("status = %s, want %s", got.Status, StatusSuccess)
	}
}

func TestGetByMerchantTransactionID_Missing(t *testing.T) {
	svc, _, _ := testService()

	if _, err := svc.GetByMerchantTransactionID(context.Background(), "pay_nope"); !errors.Is(err, ErrPaymentNotFound) {
		t.Errorf("error = %v, want ErrPaymentNotFound", err)
	}
}

func TestGetByMerchantTransactionID_DuplicateAlerts(t *testing.T) {
	svc, _, alerts := testService()
	ctx := context.Background()

	first, err := svc.CreatePending(ctx, "pay_dup", 1, 10, 4800, "EUR", ProviderStripe)
	if err != nil {
		t.Fatalf("create first: %v", err)
	}
	if _, err := svc.CreatePending(ctx, "pay_dup", 1, 11, 4800, "EUR", ProviderStripe); err != nil {
		t.Fatalf("create second: %v", err)
	}

	got, err := svc.GetByMerchantTransactionID(ctx, "pay_dup")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	// The earliest row wins; the duplicate is an operator problem.
	if got.ID != first.ID {
		t.Errorf("id = %d, want %d", got.ID, first.ID)
	}
	if alerts.Count() != 1 {
		t.Errorf("alerts = %d, want 1", alerts.Count())
	}
}

func TestListPendingByProvider(t *testing.T) {
	svc, _, _ := testService()
	ctx := context.Background()

	stripe, _ := svc.CreatePending(ctx, "pay_s", 1, 10, 4800, "EUR", ProviderStripe)
	coinbase, _ := svc.CreatePending(ctx, "CHARGE1", 1, 11, 4800, "EUR", ProviderCoinbase)
	settled, _ := svc.CreatePending(ctx, "CHARGE2", 1, 12, 4800, "EUR", ProviderCoinbase)
	if err := svc.MarkSuccess(ctx, settled.ID); err != nil {
		t.Fatalf("mark success: %v", err)
	}

	pending, err := svc.ListPendingByProvider(ctx, ProviderCoinbase)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != coinbase.ID {
		t.Fatalf("pending = %v, want only payment %d", pending, coinbase.ID)
	}

	pending, err = svc.ListPendingByProvider(ctx, ProviderStripe)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != stripe.ID {
		t.Fatalf("pending = %v, want only payment %d", pending, stripe.ID)
	}

	all, err := svc.ListByOrganization(ctx, 1)
	if err != nil {
		t.Fatalf("list by org: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("history = %d rows, want 3", len(all))
	}
}

func TestMarkFailed(t *testing.T) {
	svc, _, _ := testService()
	ctx := context.Background()

	p, _ := svc.CreatePending(ctx, "CHARGE3", 1, 10, 4800, "EUR", ProviderCoinbase)
	if err := svc.MarkFailed(ctx, p.ID); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	got, _ := svc.GetByMerchantTransactionID(ctx, "CHARGE3")
	if got.Status != StatusFailed {
		t.Errorf("status = %s, want %s", got.Status, StatusFailed)
	}

	if err := svc.MarkFailed(ctx, 999); !errors.Is(err, ErrPaymentNotFound) {
		t.Errorf("missing payment error = %v, want ErrPaymentNotFound", err)
	}
}
