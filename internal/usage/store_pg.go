package usage

import (
	"context"
	"database/sql"
	"fmt"
)

type pgStore struct {
	DB *sql.DB
}

// NewPGStore constructs a Postgres-backed usage store.
func NewPGStore(db *sql.DB) *pgStore {
	return &pgStore{DB: db}
}

// Add upserts atomically so concurrent increments never lose updates.
func (s *pgStore) Add(ctx context.Context, tenantID, metric, period string, n int) (Counter, error) {
	c := Counter{TenantID: tenantID, Metric: metric, Period: period}
	err := s.DB.QueryRowContext(ctx, `
INSERT INTO tenant_usage (tenant_id, metric, period, used, updated_at)
VALUES ($1, $2, $3, $4, now())
ON CONFLICT (tenant_id, metric, period)
DO UPDATE SET used = tenant_usage.used + EXCLUDED.used, updated_at = now()
RETURNING used, updated_at`, tenantID, metric, period, n).Scan(&c.Used, &c.UpdatedAt)
	if err != nil {
		return Counter{}, fmt.Errorf("increment usage: %w", err)
	}
	return c, nil
}

func (s *pgStore) List(ctx context.Context, tenantID, period string) ([]Counter, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT metric, used, updated_at FROM tenant_usage
WHERE tenant_id = $1 AND period = $2
ORDER BY metric`, tenantID, period)
	if err != nil {
		return nil, fmt.Errorf("list usage: %w", err)
	}
	defer rows.Close()

	out := []Counter{}
	for rows.Next() {
		c := Counter{TenantID: tenantID, Period: period}
		if err := rows.Scan(&c.Metric, &c.Used, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
