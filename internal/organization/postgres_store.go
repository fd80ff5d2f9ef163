package organization

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PostgresStore is a PostgreSQL-backed Store.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL organization store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Get(ctx context.Context, id int64) (*Organization, error) {
	var org Organization
	err := p.db.QueryRowContext(ctx, `
		SELECT id, name, enabled, COALESCE(bee_id, 0), COALESCE(postage_batch_id, ''),
		       postage_batch_status, COALESCE(stripe_customer_id, ''), created_at
		FROM organizations
		WHERE id = $1`, id).
		Scan(&org.ID, &org.Name, &org.Enabled, &org.BeeID, &org.PostageBatchID,
			&org.BatchStatus, &org.StripeCustomerID, &org.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrganizationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying organization: %w", err)
	}
	return &org, nil
}

func (p *PostgresStore) GetByStripeCustomer(ctx context.Context, customerID string) (*Organization, error) {
	var org Organization
	err := p.db.QueryRowContext(ctx, `
		SELECT id, name, enabled, COALESCE(bee_id, 0), COALESCE(postage_batch_id, ''),
		       postage_batch_status, COALESCE(stripe_customer_id, ''), created_at
		FROM organizations
		WHERE stripe_customer_id = $1`, customerID).
		Scan(&org.ID, &org.Name, &org.Enabled, &org.BeeID, &org.PostageBatchID,
			&org.BatchStatus, &org.StripeCustomerID, &org.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrganizationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying organization by customer: %w", err)
	}
	return &org, nil
}

func (p *PostgresStore) Insert(ctx context.Context, org *Organization) error {
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO organizations (name, enabled, postage_batch_status, stripe_customer_id, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5)
		RETURNING id`,
		org.Name, org.Enabled, org.BatchStatus, org.StripeCustomerID, org.CreatedAt).
		Scan(&org.ID)
	if err != nil {
		return fmt.Errorf("inserting organization: %w", err)
	}
	return nil
}

func (p *PostgresStore) SetPostageBatch(ctx context.Context, orgID int64, batchID string, beeID int64) error {
	return p.exec(ctx, `
		UPDATE organizations
		SET postage_batch_id = $2, bee_id = $3, postage_batch_status = $4
		WHERE id = $1`,
		orgID, batchID, beeID, BatchStatusCreated)
}

func (p *PostgresStore) ClearPostageBatch(ctx context.Context, orgID int64) error {
	return p.exec(ctx, `
		UPDATE organizations
		SET postage_batch_id = NULL, postage_batch_status = $2
		WHERE id = $1`,
		orgID, BatchStatusRemoved)
}

func (p *PostgresStore) SetBatchStatus(ctx context.Context, orgID int64, status BatchStatus) error {
	return p.exec(ctx, `
		UPDATE organizations
		SET postage_batch_status = $2
		WHERE id = $1`,
		orgID, status)
}

func (p *PostgresStore) exec(ctx context.Context, query string, args ...any) error {
	res, err := p.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating organization: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrOrganizationNotFound
	}
	return nil
}
