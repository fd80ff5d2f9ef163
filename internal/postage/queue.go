package postage

import (
	"context"
	"errors"
	"time"
)

var ErrJobNotFound = errors.New("postage job not found")

// CreateJob provisions a brand new batch for an organization.
type CreateJob struct {
	ID             int64     `json:"id"`
	OrganizationID int64     `json:"organizationId"`
	Depth          uint8     `json:"depth"`
	Amount         int64     `json:"amount"`
	CreatedAt      time.Time `json:"createdAt"`
}

// TopUpJob extends the lifetime of an existing batch.
type TopUpJob struct {
	ID             int64     `json:"id"`
	OrganizationID int64     `json:"organizationId"`
	BatchID        string    `json:"batchId"`
	Amount         int64     `json:"amount"`
	CreatedAt      time.Time `json:"createdAt"`
}

// DiluteJob grows the capacity of an existing batch to a new depth.
type DiluteJob struct {
	ID             int64     `json:"id"`
	OrganizationID int64     `json:"organizationId"`
	BatchID        string    `json:"batchId"`
	Depth          uint8     `json:"depth"`
	CreatedAt      time.Time `json:"createdAt"`
}

// QueueStore persists provisioning jobs. Rows survive process restarts and
// are deleted only after the remote operation succeeded, so a crashed or
// failed attempt is retried on a later cycle.
type QueueStore interface {
	EnqueueCreate(ctx context.Context, job *CreateJob) error
	ListCreate(ctx context.Context) ([]CreateJob, error)
	DeleteCreate(ctx context.Context, id int64) error
	// HasPendingCreate reports whether a create job is already queued for
	// the organization, deduplicating concurrent enqueue attempts.
	HasPendingCreate(ctx context.Context, orgID int64) (bool, error)

	EnqueueTopUp(ctx context.Context, job *TopUpJob) error
	ListTopUp(ctx context.Context) ([]TopUpJob, error)
	DeleteTopUp(ctx context.Context, id int64) error
	// HasPendingTopUp reports whether a top-up is already queued for the
	// batch, so the TTL sweep does not stack extensions.
	HasPendingTopUp(ctx context.Context, batchID string) (bool, error)

	EnqueueDilute(ctx context.Context, job *DiluteJob) error
	ListDilute(ctx context.Context) ([]DiluteJob, error)
	DeleteDilute(ctx context.Context, id int64) error
}
