package hive

import (
	"context"
	"database/sql"
)

// PostgresStore implements Store with PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed bee store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) ListEnabled(ctx context.Context) ([]Row, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, url, COALESCE(auth_secret, ''), enabled, upload_enabled, download_enabled
		FROM bees WHERE enabled = TRUE
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Row
	for rows.Next() {
		var r Row
		if err := rows.Scan(&r.ID, &r.URL, &r.AuthSecret, &r.Enabled, &r.UploadEnabled, &r.DownloadEnabled); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Insert(ctx context.Context, row *Row) error {
	return s.db.QueryRowContext(ctx, `
		INSERT INTO bees (url, auth_secret, enabled, upload_enabled, download_enabled)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5)
		RETURNING id
	`, row.URL, row.AuthSecret, row.Enabled, row.UploadEnabled, row.DownloadEnabled).Scan(&row.ID)
}

func (s *PostgresStore) Update(ctx context.Context, row *Row) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE bees
		SET url = $2, auth_secret = NULLIF($3, ''), enabled = $4, upload_enabled = $5, download_enabled = $6
		WHERE id = $1
	`, row.ID, row.URL, row.AuthSecret, row.Enabled, row.UploadEnabled, row.DownloadEnabled)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNodeNotFound
	}
	return nil
}
