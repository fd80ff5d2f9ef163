package plan

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PostgresStore is a PostgreSQL-backed Store.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL plan store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const planColumns = `id, organization_id, amount_cents, currency, frequency, status, payment_type,
	upload_size_limit, download_size_limit, upload_count_limit, download_count_limit,
	paid_until, cancel_at, COALESCE(status_reason, ''), created_at`

func scanPlan(row interface{ Scan(...any) error }) (*Plan, error) {
	var p Plan
	err := row.Scan(&p.ID, &p.OrganizationID, &p.AmountCents, &p.Currency, &p.Frequency, &p.Status, &p.PaymentType,
		&p.UploadSizeLimit, &p.DownloadSizeLimit, &p.UploadCountLimit, &p.DownloadCountLimit,
		&p.PaidUntil, &p.CancelAt, &p.StatusReason, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (pg *PostgresStore) Insert(ctx context.Context, plan *Plan) error {
	err := pg.db.QueryRowContext(ctx, `
		INSERT INTO plans (organization_id, amount_cents, currency, frequency, status, payment_type,
			upload_size_limit, download_size_limit, upload_count_limit, download_count_limit)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at`,
		plan.OrganizationID, plan.AmountCents, plan.Currency, plan.Frequency, plan.Status, plan.PaymentType,
		plan.UploadSizeLimit, plan.DownloadSizeLimit, plan.UploadCountLimit, plan.DownloadCountLimit).
		Scan(&plan.ID, &plan.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting plan: %w", err)
	}
	return nil
}

func (pg *PostgresStore) GetByID(ctx context.Context, orgID, planID int64) (*Plan, error) {
	p, err := scanPlan(pg.db.QueryRowContext(ctx, `
		SELECT `+planColumns+`
		FROM plans
		WHERE id = $1 AND organization_id = $2`, planID, orgID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPlanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying plan: %w", err)
	}
	return p, nil
}

func (pg *PostgresStore) GetActive(ctx context.Context, orgID int64) (*Plan, error) {
	p, err := scanPlan(pg.db.QueryRowContext(ctx, `
		SELECT `+planColumns+`
		FROM plans
		WHERE organization_id = $1 AND status = $2
		ORDER BY id DESC
		LIMIT 1`, orgID, StatusActive))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoActivePlan
	}
	if err != nil {
		return nil, fmt.Errorf("querying active plan: %w", err)
	}
	return p, nil
}

func (pg *PostgresStore) ListActive(ctx context.Context) ([]Plan, error) {
	rows, err := pg.db.QueryContext(ctx, `
		SELECT `+planColumns+`
		FROM plans
		WHERE status = $1
		ORDER BY id`, StatusActive)
	if err != nil {
		return nil, fmt.Errorf("listing active plans: %w", err)
	}
	defer rows.Close()

	var out []Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning plan: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (pg *PostgresStore) UpdateStatus(ctx context.Context, planID int64, status Status, reason string) error {
	return pg.exec(ctx, `
		UPDATE plans
		SET status = $2, status_reason = NULLIF($3, '')
		WHERE id = $1`,
		planID, status, reason)
}

func (pg *PostgresStore) SetPaidUntil(ctx context.Context, planID int64, paidUntil time.Time) error {
	return pg.exec(ctx, `UPDATE plans SET paid_until = $2 WHERE id = $1`, planID, paidUntil)
}

func (pg *PostgresStore) SetCancelAt(ctx context.Context, planID int64, cancelAt time.Time) error {
	return pg.exec(ctx, `UPDATE plans SET cancel_at = $2 WHERE id = $1`, planID, cancelAt)
}

func (pg *PostgresStore) exec(ctx context.Context, query string, args ...any) error {
	res, err := pg.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating plan: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrPlanNotFound
	}
	return nil
}
