package notifications

import (
	"context"
	"database/sql"
	"fmt"

	"brokercrm-backend/internal/shared/storage/db"
)

// Insert writes n using either a *sql.DB or a *sql.Tx.
func Insert(ctx context.Context, ex db.Execer, n Notification) error {
	if n.Kind == "" || n.Title == "" {
		return ErrInvalidInput
	}
	_, err := ex.ExecContext(ctx, `
INSERT INTO king_notifications (tenant_id, kind, title, message)
VALUES ($1, $2, $3, $4)`, db.NullString(n.TenantID), n.Kind, n.Title, n.Message)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// PGRepo implements Repository on king_notifications.
type PGRepo struct {
	DB *sql.DB
}

func NewPGRepo(conn *sql.DB) *PGRepo {
	return &PGRepo{DB: conn}
}

func (r *PGRepo) Create(ctx context.Context, n Notification) (Notification, error) {
	if n.Kind == "" || n.Title == "" {
		return Notification{}, ErrInvalidInput
	}
	err := r.DB.QueryRowContext(ctx, `
INSERT INTO king_notifications (tenant_id, kind, title, message)
VALUES ($1, $2, $3, $4)
RETURNING id, created_at`, db.NullString(n.TenantID), n.Kind, n.Title, n.Message).Scan(&n.ID, &n.CreatedAt)
	if err != nil {
		return Notification{}, fmt.Errorf("create notification: %w", err)
	}
	return n, nil
}

func (r *PGRepo) List(ctx context.Context, f Filter) ([]Notification, error) {
	query := `
SELECT id, COALESCE(tenant_id::text, ''), kind, title, message, is_read, created_at
FROM king_notifications
WHERE ($1 = '' OR tenant_id::text = $1) AND (NOT $2 OR is_read = false)
ORDER BY created_at DESC
LIMIT $3`
	rows, err := r.DB.QueryContext(ctx, query, f.TenantID, f.UnreadOnly, limitOrDefault(f.Limit))
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	out := []Notification{}
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.TenantID, &n.Kind, &n.Title, &n.Message, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (r *PGRepo) MarkRead(ctx context.Context, id, tenantID string) error {
	res, err := r.DB.ExecContext(ctx, `
UPDATE king_notifications SET is_read = true
WHERE id = $1 AND ($2 = '' OR tenant_id::text = $2)`, id, tenantID)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func limitOrDefault(limit int) int {
	if limit <= 0 || limit > 200 {
		return 50
	}
	return limit
}
