//go:build integration

package postage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Cafe137/swarmy-backend/internal/organization"
	"github.com/Cafe137/swarmy-backend/internal/testutil"
)

func setupQueueDB(t *testing.T) (*PostgresQueueStore, int64, func()) {
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

	return NewPostgresQueueStore(db), org.ID, cleanup
}

func TestPostgresQueueStore_CreateQueue(t *testing.T) {
	store, orgID, cleanup := setupQueueDB(t)
	defer cleanup()
	ctx := context.Background()

	pending, err := store.HasPendingCreate(ctx, orgID)
	if err != nil {
		t.Fatalf("has pending create: %v", err)
	}
	if pending {
		t.Fatal("expected no pending create on empty queue")
	}

	first := &CreateJob{OrganizationID: orgID, Depth: 23, Amount: 414720000}
	second := &CreateJob{OrganizationID: orgID, Depth: 25, Amount: 414720000}
	if err := store.EnqueueCreate(ctx, first); err != nil {
		t.Fatalf("enqueue first: %v", err)
	}
	if err := store.EnqueueCreate(ctx, second); err != nil {
		t.Fatalf("enqueue second: %v", err)
	}
	if first.ID == 0 || first.CreatedAt.IsZero() {
		t.Fatal("expected generated id and created_at")
	}

	pending, err = store.HasPendingCreate(ctx, orgID)
	if err != nil {
		t.Fatalf("has pending create: %v", err)
	}
	if !pending {
		t.Fatal("expected pending create after enqueue")
	}

	// Jobs drain oldest first.
	jobs, err := store.ListCreate(ctx)
	if err != nil {
		t.Fatalf("list create: %v", err)
	}
	if len(jobs) != 2 || jobs[0].ID != first.ID || jobs[1].ID != second.ID {
		t.Fatalf("list create = %v, want [%d %d] in order", jobs, first.ID, second.ID)
	}
	if jobs[0].Depth != 23 {
		t.Errorf("depth = %d, want 23", jobs[0].Depth)
	}

	if err := store.DeleteCreate(ctx, first.ID); err != nil {
		t.Fatalf("delete create: %v", err)
	}
	if err := store.DeleteCreate(ctx, first.ID); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("double delete error = %v, want ErrJobNotFound", err)
	}
}

func TestPostgresQueueStore_TopUpDedup(t *testing.T) {
	store, orgID, cleanup := setupQueueDB(t)
	defer cleanup()
	ctx := context.Background()

	job := &TopUpJob{OrganizationID: orgID, BatchID: "batch-a", Amount: 428544000}
	if err := store.EnqueueTopUp(ctx, job); err != nil {
		t.Fatalf("enqueue topup: %v", err)
	}

	pending, err := store.HasPendingTopUp(ctx, "batch-a")
	if err != nil {
		t.Fatalf("has pending topup: %v", err)
	}
	if !pending {
		t.Error("expected pending topup for batch-a")
	}

	pending, err = store.HasPendingTopUp(ctx, "batch-b")
	if err != nil {
		t.Fatalf("has pending topup: %v", err)
	}
	if pending {
		t.Error("expected no pending topup for batch-b")
	}

	if err := store.DeleteTopUp(ctx, job.ID); err != nil {
		t.Fatalf("delete topup: %v", err)
	}
	pending, _ = store.HasPendingTopUp(ctx, "batch-a")
	if pending {
		t.Error("expected pending topup cleared after delete")
	}
}

func TestPostgresQueueStore_DiluteQueue(t *testing.T) {
	store, orgID, cleanup := setupQueueDB(t)
	defer cleanup()
	ctx := context.Background()

	job := &DiluteJob{OrganizationID: orgID, BatchID: "batch-a", Depth: 26}
	if err := store.EnqueueDilute(ctx, job); err != nil {
		t.Fatalf("enqueue dilute: %v", err)
	}

	jobs, err := store.ListDilute(ctx)
	if err != nil {
		t.Fatalf("list dilute: %v", err)
	}
	if len(jobs) != 1 || jobs[0].BatchID != "batch-a" || jobs[0].Depth != 26 {
		t.Fatalf("list dilute = %v, want one job for batch-a at depth 26", jobs)
	}

	if err := store.DeleteDilute(ctx, job.ID); err != nil {
		t.Fatalf("delete dilute: %v", err)
	}
	if err := store.DeleteDilute(ctx, job.ID); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("double delete error = %v, want ErrJobNotFound", err)
	}
}
