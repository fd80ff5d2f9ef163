package payment

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresStore is a PostgreSQL-backed Store.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL payment store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const paymentColumns = `id, merchant_transaction_id, organization_id, plan_id, amount_cents, currency, provider, status, created_at`

func (pg *PostgresStore) Insert(ctx context.Context, p *Payment) error {
	err := pg.db.QueryRowContext(ctx, `
		INSERT INTO payments (merchant_transaction_id, organization_id, plan_id, amount_cents, currency, provider, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`,
		p.MerchantTransactionID, p.OrganizationID, p.PlanID, p.AmountCents, p.Currency, p.Provider, p.Status).
		Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting payment: %w", err)
	}
	return nil
}

func (pg *PostgresStore) GetByMerchantTransactionID(ctx context.Context, merchantTxID string) ([]Payment, error) {
	return pg.query(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE merchant_transaction_id = $1
		ORDER BY id`, merchantTxID)
}

func (pg *PostgresStore) UpdateStatus(ctx context.Context, id int64, status Status) error {
	res, err := pg.db.ExecContext(ctx, `UPDATE payments SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("updating payment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

func (pg *PostgresStore) ListPendingByProvider(ctx context.Context, provider Provider) ([]Payment, error) {
	return pg.query(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE provider = $1 AND status = $2
		ORDER BY id`, provider, StatusPending)
}

func (pg *PostgresStore) ListByOrganization(ctx context.Context, orgID int64) ([]Payment, error) {
	return pg.query(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE organization_id = $1
		ORDER BY id`, orgID)
}

func (pg *PostgresStore) query(ctx context.Context, query string, args ...any) ([]Payment, error) {
	rows, err := pg.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying payments: %w", err)
	}
	defer rows.Close()

	var out []Payment
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.MerchantTransactionID, &p.OrganizationID, &p.PlanID,
			&p.AmountCents, &p.Currency, &p.Provider, &p.Status, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning payment: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
