package tenants

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"brokercrm-backend/internal/audit"
	"brokercrm-backend/internal/notifications"
	"brokercrm-backend/internal/shared/storage/db"
	"brokercrm-backend/internal/shared/storage/object"
)

// PGRepo implements Repository using Postgres.
type PGRepo struct {
	DB *sql.DB
}

func NewPGRepo(conn *sql.DB) *PGRepo {
	return &PGRepo{DB: conn}
}

const tenantColumns = `id, name, COALESCE(slug, ''), status, plan, COALESCE(contact_email, ''),
COALESCE(contact_name, ''), COALESCE(logo_key, ''), activated_at, created_at`

func scanTenant(row interface{ Scan(...any) error }) (Tenant, error) {
	var (
		t           Tenant
		activatedAt sql.NullTime
	)
	if err := row.Scan(&t.ID, &t.Name, &t.Slug, &t.Status, &t.Plan, &t.ContactEmail,
		&t.ContactName, &t.LogoKey, &activatedAt, &t.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Tenant{}, ErrNotFound
		}
		return Tenant{}, err
	}
	if activatedAt.Valid {
		t.ActivatedAt = &activatedAt.Time
	}
	return t, nil
}

func (r *PGRepo) GetTenant(ctx context.Context, tenantID string) (Tenant, error) {
	return scanTenant(r.DB.QueryRowContext(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, tenantID))
}

func (r *PGRepo) Activate(ctx context.Context, a Activation) (ActivationOutcome, error) {
	var out ActivationOutcome
	err := db.WithTx(ctx, r.DB, func(tx *sql.Tx) error {
		t, err := scanTenant(tx.QueryRowContext(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id = $1 FOR UPDATE`, a.TenantID))
		if err != nil {
			return err
		}
		out.Tenant = t
		if t.Status == StatusActive {
			out.AlreadyActive = true
			return nil
		}

		if err := tx.QueryRowContext(ctx, `
INSERT INTO users (email, full_name) VALUES ($1, $2)
ON CONFLICT (email) DO UPDATE SET full_name = COALESCE(users.full_name, EXCLUDED.full_name)
RETURNING id`, a.AdminEmail, db.NullString(a.AdminName)).Scan(&out.AdminUserID); err != nil {
			return fmt.Errorf("upsert admin user: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO user_roles (user_id, role, tenant_id) VALUES ($1, $2, $3)
ON CONFLICT DO NOTHING`, out.AdminUserID, RoleTenantAdmin, a.TenantID); err != nil {
			return fmt.Errorf("assign admin role: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO user_tenant_assignments (user_id, tenant_id) VALUES ($1, $2)
ON CONFLICT DO NOTHING`, out.AdminUserID, a.TenantID); err != nil {
			return fmt.Errorf("bind admin to tenant: %w", err)
		}
		var activatedAt time.Time
		if err := tx.QueryRowContext(ctx, `
UPDATE tenants SET status = 'active', activated_at = now() WHERE id = $1
RETURNING activated_at`, a.TenantID).Scan(&activatedAt); err != nil {
			return fmt.Errorf("activate tenant: %w", err)
		}
		out.Tenant.Status = StatusActive
		out.Tenant.ActivatedAt = &activatedAt

		if _, err := tx.ExecContext(ctx, `
INSERT INTO password_reset_tokens (token_hash, user_id, expires_at) VALUES ($1, $2, $3)`,
			a.TokenHash, out.AdminUserID, a.TokenExpiresAt); err != nil {
			return fmt.Errorf("store reset token: %w", err)
		}
		if err := audit.Insert(ctx, tx, activationAudit(a, t, out.AdminUserID)); err != nil {
			return err
		}
		return notifications.Insert(ctx, tx, activationNotification(t))
	})
	if err != nil {
		return ActivationOutcome{}, err
	}
	return out, nil
}

func (r *PGRepo) Delete(ctx context.Context, tenantID, actorID string, confirm func(Tenant) error) (DeletionReport, error) {
	var report DeletionReport
	err := db.WithTx(ctx, r.DB, func(tx *sql.Tx) error {
		t, err := scanTenant(tx.QueryRowContext(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id = $1 FOR UPDATE`, tenantID))
		if err != nil {
			return err
		}
		if err := confirm(t); err != nil {
			return err
		}
		report.Tenant = t

		files, err := collectFileKeys(ctx, tx, t)
		if err != nil {
			return err
		}
		report.Files = files

		for _, table := range deleteOrder {
			res, err := tx.ExecContext(ctx, deleteStatement(table), tenantID)
			if err != nil {
				return fmt.Errorf("delete %s: %w", table, err)
			}
			n, _ := res.RowsAffected()
			report.Counts = append(report.Counts, TableCount{Table: table, Rows: n})
		}
		return audit.Insert(ctx, tx, deletionAudit(actorID, t, report.Counts))
	})
	if err != nil {
		return DeletionReport{}, err
	}
	return report, nil
}

func deleteStatement(table string) string {
	if table == "tenants" {
		return `DELETE FROM tenants WHERE id = $1`
	}
	return `DELETE FROM ` + table + ` WHERE tenant_id = $1`
}

func collectFileKeys(ctx context.Context, tx *sql.Tx, t Tenant) (map[string][]string, error) {
	files := map[string][]string{}
	rows, err := tx.QueryContext(ctx, `
SELECT file_key FROM scan_batch_documents WHERE tenant_id = $1
UNION ALL
SELECT file_key FROM documents WHERE tenant_id = $1
UNION ALL
SELECT photo_key FROM clients WHERE tenant_id = $1 AND photo_key IS NOT NULL`, t.ID)
	if err != nil {
		return nil, fmt.Errorf("collect file keys: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		files[object.BucketDocuments] = append(files[object.BucketDocuments], key)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if t.LogoKey != "" {
		files[object.BucketTenantLogos] = []string{t.LogoKey}
	}
	return files, nil
}

// Export reads every exported table concurrently.
func (r *PGRepo) Export(ctx context.Context, tenantID string) ([]Table, error) {
	if _, err := r.GetTenant(ctx, tenantID); err != nil {
		return nil, err
	}
	tables := make([]Table, len(ExportTables))
	g, gctx := errgroup.WithContext(ctx)
	for i, name := range ExportTables {
		g.Go(func() error {
			t, err := r.readTable(gctx, name, tenantID)
			if err != nil {
				return fmt.Errorf("export %s: %w", name, err)
			}
			tables[i] = t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return tables, nil
}

func (r *PGRepo) readTable(ctx context.Context, name, tenantID string) (Table, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT * FROM `+name+` WHERE tenant_id = $1 ORDER BY created_at`, tenantID)
	if err != nil {
		return Table{}, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return Table{}, err
	}
	t := Table{Name: name, Columns: cols, Rows: []map[string]any{}}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return Table{}, err
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			if b, ok := vals[i].([]byte); ok {
				row[c] = string(b)
			} else {
				row[c] = vals[i]
			}
		}
		t.Rows = append(t.Rows, row)
	}
	return t, rows.Err()
}

func activationAudit(a Activation, t Tenant, adminID string) audit.Entry {
	return audit.Entry{
		ActorID:    a.ActorID,
		TenantID:   t.ID,
		Action:     audit.ActionTenantActivated,
		TargetType: "tenant",
		TargetID:   t.ID,
		Details: map[string]any{
			"tenant_name":   t.Name,
			"admin_user_id": adminID,
			"admin_email":   a.AdminEmail,
		},
	}
}

func activationNotification(t Tenant) notifications.Notification {
	return notifications.Notification{
		TenantID: t.ID,
		Kind:     notifications.KindTenantActivated,
		Title:    "Tenant activated",
		Message:  fmt.Sprintf("%s is now active.", t.Name),
	}
}

func deletionAudit(actorID string, t Tenant, counts []TableCount) audit.Entry {
	perTable := make(map[string]any, len(counts))
	for _, c := range counts {
		perTable[c.Table] = c.Rows
	}
	return audit.Entry{
		ActorID:    actorID,
		Action:     audit.ActionTenantDeleted,
		TargetType: "tenant",
		TargetID:   t.ID,
		Details: map[string]any{
			"tenant_name": t.Name,
			"deleted":     perTable,
		},
	}
}
