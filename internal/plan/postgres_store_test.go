//go:build integration

package plan

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Cafe137/swarmy-backend/internal/organization"
	"github.com/Cafe137/swarmy-backend/internal/testutil"
)

func setupPlanDB(t *testing.T) (*PostgresStore, int64, func()) {
	t.Helper()

	db, cleanup := testutil.PGTest(t)
	ctx := context.Background()

	orgs := organization.NewPostgresStore(db)
	org := &organization.Organization{
		Name:        "test's organization",
		Enabled:     true,
		BatchStatus: organization.BatchStatusNone,
		CreatedAt:   time.Now().UTC(),
	}
	if err := orgs.Insert(ctx, org); err != nil {
		cleanup()
		t.Fatalf("insert organization: %v", err)
	}

	return NewPostgresStore(db), org.ID, cleanup
}

func insertTestPlan(t *testing.T, store *PostgresStore, orgID int64) *Plan {
	t.Helper()

	p := &Plan{
		OrganizationID:     orgID,
		AmountCents:        4800,
		Currency:           Currency,
		Frequency:          FrequencyMonth,
		Status:             StatusPendingPayment,
		PaymentType:        PaymentTypeStripe,
		UploadSizeLimit:    16 * GigabyteBytes,
		DownloadSizeLimit:  16 * GigabyteBytes,
		UploadCountLimit:   DefaultCountLimit,
		DownloadCountLimit: DefaultCountLimit,
	}
	if err := store.Insert(context.Background(), p); err != nil {
		t.Fatalf("insert plan: %v", err)
	}
	return p
}

func TestPostgresStore_InsertAndGet(t *testing.T) {
	store, orgID, cleanup := setupPlanDB(t)
	defer cleanup()
	ctx := context.Background()

	p := insertTestPlan(t, store, orgID)
	if p.ID == 0 {
		t.Fatal("expected generated plan id")
	}
	if p.CreatedAt.IsZero() {
		t.Fatal("expected created_at to be set")
	}

	got, err := store.GetByID(ctx, orgID, p.ID)
	if err != nil {
		t.Fatalf("get plan: %v", err)
	}
	if got.Status != StatusPendingPayment {
		t.Errorf("status = %s, want %s", got.Status, StatusPendingPayment)
	}
	if got.UploadSizeLimit != 16*GigabyteBytes {
		t.Errorf("upload limit = %d, want %d", got.UploadSizeLimit, 16*GigabyteBytes)
	}
	if got.Frequency != FrequencyMonth {
		t.Errorf("frequency = %s, want %s", got.Frequency, FrequencyMonth)
	}
	if got.UploadCountLimit != DefaultCountLimit || got.DownloadCountLimit != DefaultCountLimit {
		t.Errorf("count limits = %d/%d, want %d", got.UploadCountLimit, got.DownloadCountLimit, DefaultCountLimit)
	}
	if got.PaidUntil != nil || got.CancelAt != nil {
		t.Error("expected nil paid_until and cancel_at on a fresh plan")
	}

	// Plans are tenant-scoped; the wrong organization must not see them.
	if _, err := store.GetByID(ctx, orgID+1, p.ID); !errors.Is(err, ErrPlanNotFound) {
		t.Errorf("cross-tenant get error = %v, want ErrPlanNotFound", err)
	}
}

func TestPostgresStore_ActiveLifecycle(t *testing.T) {
	store, orgID, cleanup := setupPlanDB(t)
	defer cleanup()
	ctx := context.Background()

	if _, err := store.GetActive(ctx, orgID); !errors.Is(err, ErrNoActivePlan) {
		t.Fatalf("get active on empty org error = %v, want ErrNoActivePlan", err)
	}

	first := insertTestPlan(t, store, orgID)
	second := insertTestPlan(t, store, orgID)

	if err := store.UpdateStatus(ctx, first.ID, StatusActive, ""); err != nil {
		t.Fatalf("activate first: %v", err)
	}
	if err := store.UpdateStatus(ctx, second.ID, StatusActive, ""); err != nil {
		t.Fatalf("activate second: %v", err)
	}

	// The newest active plan wins.
	active, err := store.GetActive(ctx, orgID)
	if err != nil {
		t.Fatalf("get active: %v", err)
	}
	if active.ID != second.ID {
		t.Errorf("active plan = %d, want %d", active.ID, second.ID)
	}

	paidUntil := time.Now().UTC().Add(31 * 24 * time.Hour).Truncate(time.Second)
	if err := store.SetPaidUntil(ctx, second.ID, paidUntil); err != nil {
		t.Fatalf("set paid_until: %v", err)
	}
	if err := store.SetCancelAt(ctx, second.ID, paidUntil); err != nil {
		t.Fatalf("set cancel_at: %v", err)
	}

	got, err := store.GetByID(ctx, orgID, second.ID)
	if err != nil {
		t.Fatalf("get plan: %v", err)
	}
	if got.PaidUntil == nil || !got.PaidUntil.Equal(paidUntil) {
		t.Errorf("paid_until = %v, want %v", got.PaidUntil, paidUntil)
	}
	if got.CancelAt == nil || !got.CancelAt.Equal(paidUntil) {
		t.Errorf("cancel_at = %v, want %v", got.CancelAt, paidUntil)
	}

	if err := store.UpdateStatus(ctx, first.ID, StatusCancelled, "upgraded to plan 2"); err != nil {
		t.Fatalf("cancel first: %v", err)
	}
	cancelled, err := store.GetByID(ctx, orgID, first.ID)
	if err != nil {
		t.Fatalf("get cancelled plan: %v", err)
	}
	if cancelled.StatusReason != "upgraded to plan 2" {
		t.Errorf("status_reason = %q, want %q", cancelled.StatusReason, "upgraded to plan 2")
	}

	active2, err := store.ListActive(ctx)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active2) != 1 || active2[0].ID != second.ID {
		t.Errorf("list active = %v, want only plan %d", active2, second.ID)
	}
}

func TestPostgresStore_UpdateMissingPlan(t *testing.T) {
	store, _, cleanup := setupPlanDB(t)
	defer cleanup()

	if err := store.UpdateStatus(context.Background(), 9999, StatusCancelled, ""); !errors.Is(err, ErrPlanNotFound) {
		t.Errorf("update missing plan error = %v, want ErrPlanNotFound", err)
	}
}
