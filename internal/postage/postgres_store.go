package postage

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresQueueStore is a PostgreSQL-backed QueueStore. Each job kind has its
// own table so the worker can drain them in a fixed order.
type PostgresQueueStore struct {
	db *sql.DB
}

// NewPostgresQueueStore creates a PostgreSQL queue store.
func NewPostgresQueueStore(db *sql.DB) *PostgresQueueStore {
	return &PostgresQueueStore{db: db}
}

func (p *PostgresQueueStore) EnqueueCreate(ctx context.Context, job *CreateJob) error {
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO postage_create_queue (organization_id, depth, amount)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`,
		job.OrganizationID, job.Depth, job.Amount).
		Scan(&job.ID, &job.CreatedAt)
	if err != nil {
		return fmt.Errorf("enqueueing create job: %w", err)
	}
	return nil
}

func (p *PostgresQueueStore) ListCreate(ctx context.Context) ([]CreateJob, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, organization_id, depth, amount, created_at
		FROM postage_create_queue
		ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing create jobs: %w", err)
	}
	defer rows.Close()

	var out []CreateJob
	for rows.Next() {
		var job CreateJob
		if err := rows.Scan(&job.ID, &job.OrganizationID, &job.Depth, &job.Amount, &job.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning create job: %w", err)
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func (p *PostgresQueueStore) DeleteCreate(ctx context.Context, id int64) error {
	return p.deleteRow(ctx, "postage_create_queue", id)
}

func (p *PostgresQueueStore) HasPendingCreate(ctx context.Context, orgID int64) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM postage_create_queue WHERE organization_id = $1)`, orgID).
		Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking pending create jobs: %w", err)
	}
	return exists, nil
}

func (p *PostgresQueueStore) EnqueueTopUp(ctx context.Context, job *TopUpJob) error {
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO postage_topup_queue (organization_id, batch_id, amount)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`,
		job.OrganizationID, job.BatchID, job.Amount).
		Scan(&job.ID, &job.CreatedAt)
	if err != nil {
		return fmt.Errorf("enqueueing top-up job: %w", err)
	}
	return nil
}

func (p *PostgresQueueStore) ListTopUp(ctx context.Context) ([]TopUpJob, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, organization_id, batch_id, amount, created_at
		FROM postage_topup_queue
		ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing top-up jobs: %w", err)
	}
	defer rows.Close()

	var out []TopUpJob
	for rows.Next() {
		var job TopUpJob
		if err := rows.Scan(&job.ID, &job.OrganizationID, &job.BatchID, &job.Amount, &job.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning top-up job: %w", err)
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func (p *PostgresQueueStore) DeleteTopUp(ctx context.Context, id int64) error {
	return p.deleteRow(ctx, "postage_topup_queue", id)
}

func (p *PostgresQueueStore) HasPendingTopUp(ctx context.Context, batchID string) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM postage_topup_queue WHERE batch_id = $1)`, batchID).
		Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking pending top-up jobs: %w", err)
	}
	return exists, nil
}

func (p *PostgresQueueStore) EnqueueDilute(ctx context.Context, job *DiluteJob) error {
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO postage_dilute_queue (organization_id, batch_id, depth)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`,
		job.OrganizationID, job.BatchID, job.Depth).
		Scan(&job.ID, &job.CreatedAt)
	if err != nil {
		return fmt.Errorf("enqueueing dilute job: %w", err)
	}
	return nil
}

func (p *PostgresQueueStore) ListDilute(ctx context.Context) ([]DiluteJob, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, organization_id, batch_id, depth, created_at
		FROM postage_dilute_queue
		ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing dilute jobs: %w", err)
	}
	defer rows.Close()

	var out []DiluteJob
	for rows.Next() {
		var job DiluteJob
		if err := rows.Scan(&job.ID, &job.OrganizationID, &job.BatchID, &job.Depth, &job.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning dilute job: %w", err)
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func (p *PostgresQueueStore) DeleteDilute(ctx context.Context, id int64) error {
	return p.deleteRow(ctx, "postage_dilute_queue", id)
}

func (p *PostgresQueueStore) deleteRow(ctx context.Context, table string, id int64) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting from %s: %w", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrJobNotFound
	}
	return nil
}
