package usagemetrics

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

// NewPostgresStore creates a PostgreSQL usage metrics store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) GetCurrent(ctx context.Context, orgID int64, t MetricType) (*Metric, error) {
	var m Metric
	err := p.db.QueryRowContext(ctx, `
		SELECT id, organization_id, type, used, available, period_ends_at
		FROM usage_metrics
		WHERE organization_id = $1 AND type = $2
		ORDER BY period_ends_at DESC
		LIMIT 1`, orgID, t).
		Scan(&m.ID, &m.OrganizationID, &m.Type, &m.Used, &m.Available, &m.PeriodEndsAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMetricNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying usage metric: %w", err)
	}
	return &m, nil
}

func (p *PostgresStore) ListForOrganization(ctx context.Context, orgID int64) ([]Metric, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT DISTINCT ON (type) id, organization_id, type, used, available, period_ends_at
		FROM usage_metrics
		WHERE organization_id = $1
		ORDER BY type, period_ends_at DESC`, orgID)
	if err != nil {
		return nil, fmt.Errorf("querying usage metrics: %w", err)
	}
	defer rows.Close()

	var out []Metric
	for rows.Next() {
		var m Metric
		if err := rows.Scan(&m.ID, &m.OrganizationID, &m.Type, &m.Used, &m.Available, &m.PeriodEndsAt); err != nil {
			return nil, fmt.Errorf("scanning usage metric: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (p *PostgresStore) ListExpired(ctx context.Context, now time.Time) ([]Metric, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, organization_id, type, used, available, period_ends_at
		FROM (
			SELECT DISTINCT ON (organization_id, type) id, organization_id, type, used, available, period_ends_at
			FROM usage_metrics
			ORDER BY organization_id, type, period_ends_at DESC
		) current
		WHERE period_ends_at <= $1`, now)
	if err != nil {
		return nil, fmt.Errorf("querying expired usage metrics: %w", err)
	}
	defer rows.Close()

	var out []Metric
	for rows.Next() {
		var m Metric
		if err := rows.Scan(&m.ID, &m.OrganizationID, &m.Type, &m.Used, &m.Available, &m.PeriodEndsAt); err != nil {
			return nil, fmt.Errorf("scanning usage metric: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Insert(ctx context.Context, m *Metric) error {
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO usage_metrics (organization_id, type, used, available, period_ends_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		m.OrganizationID, m.Type, m.Used, m.Available, m.PeriodEndsAt).
		Scan(&m.ID)
	if err != nil {
		return fmt.Errorf("inserting usage metric: %w", err)
	}
	return nil
}

func (p *PostgresStore) Update(ctx context.Context, m *Metric) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE usage_metrics
		SET used = $2, available = $3, period_ends_at = $4
		WHERE id = $1`,
		m.ID, m.Used, m.Available, m.PeriodEndsAt)
	if err != nil {
		return fmt.Errorf("updating usage metric: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrMetricNotFound
	}
	return nil
}
