package tenants

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"brokercrm-backend/internal/audit"
	"brokercrm-backend/internal/notifications"
	"brokercrm-backend/internal/shared/storage/object"
)

// MemoryRepo is an in-memory Repository. Tenant-scoped rows live in a
// generic per-table store keyed by "tenant_id".
type MemoryRepo struct {
	mu            sync.Mutex
	tenants       map[string]Tenant
	rows          map[string][]map[string]any
	users         map[string]string
	resetTokens   map[string]string
	Audit         *audit.MemoryWriter
	Notifications *notifications.MemoryRepo
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		tenants:       make(map[string]Tenant),
		rows:          make(map[string][]map[string]any),
		users:         make(map[string]string),
		resetTokens:   make(map[string]string),
		Audit:         &audit.MemoryWriter{},
		Notifications: notifications.NewMemoryRepo(),
	}
}

// PutTenant inserts or replaces a tenant.
func (r *MemoryRepo) PutTenant(t Tenant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	r.tenants[t.ID] = t
}

// AddRow stores a row in table; it must carry "tenant_id".
func (r *MemoryRepo) AddRow(table string, row map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[table] = append(r.rows[table], row)
}

// RowCount counts rows of table that belong to tenantID.
func (r *MemoryRepo) RowCount(table, tenantID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, row := range r.rows[table] {
		if row["tenant_id"] == tenantID {
			n++
		}
	}
	return n
}

// ResetTokenUser returns the user bound to a stored token hash.
func (r *MemoryRepo) ResetTokenUser(hash string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.resetTokens[hash]
	return u, ok
}

func (r *MemoryRepo) GetTenant(ctx context.Context, tenantID string) (Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tenants[tenantID]
	if !ok {
		return Tenant{}, ErrNotFound
	}
	return t, nil
}

func (r *MemoryRepo) Activate(ctx context.Context, a Activation) (ActivationOutcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tenants[a.TenantID]
	if !ok {
		return ActivationOutcome{}, ErrNotFound
	}
	if t.Status == StatusActive {
		return ActivationOutcome{AlreadyActive: true, Tenant: t}, nil
	}

	userID, ok := r.users[a.AdminEmail]
	if !ok {
		userID = uuid.NewString()
		r.users[a.AdminEmail] = userID
	}
	r.addOnceLocked("user_roles", map[string]any{"user_id": userID, "role": RoleTenantAdmin, "tenant_id": t.ID})
	r.addOnceLocked("user_tenant_assignments", map[string]any{"user_id": userID, "tenant_id": t.ID})

	now := time.Now().UTC()
	t.Status = StatusActive
	t.ActivatedAt = &now
	r.tenants[t.ID] = t
	r.resetTokens[a.TokenHash] = userID

	if err := r.Audit.Write(ctx, activationAudit(a, t, userID)); err != nil {
		return ActivationOutcome{}, err
	}
	if _, err := r.Notifications.Create(ctx, activationNotification(t)); err != nil {
		return ActivationOutcome{}, err
	}
	r.rows["king_audit_logs"] = append(r.rows["king_audit_logs"], map[string]any{"tenant_id": t.ID, "action": audit.ActionTenantActivated})
	r.rows["king_notifications"] = append(r.rows["king_notifications"], map[string]any{"tenant_id": t.ID, "kind": notifications.KindTenantActivated})
	return ActivationOutcome{Tenant: t, AdminUserID: userID}, nil
}

func (r *MemoryRepo) addOnceLocked(table string, row map[string]any) {
	for _, existing := range r.rows[table] {
		if fmt.Sprint(existing) == fmt.Sprint(row) {
			return
		}
	}
	r.rows[table] = append(r.rows[table], row)
}

func (r *MemoryRepo) Delete(ctx context.Context, tenantID, actorID string, confirm func(Tenant) error) (DeletionReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tenants[tenantID]
	if !ok {
		return DeletionReport{}, ErrNotFound
	}
	if err := confirm(t); err != nil {
		return DeletionReport{}, err
	}

	report := DeletionReport{Tenant: t, Files: map[string][]string{}}
	for _, src := range []struct{ table, column string }{
		{"scan_batch_documents", "file_key"},
		{"documents", "file_key"},
		{"clients", "photo_key"},
	} {
		for _, row := range r.rows[src.table] {
			if row["tenant_id"] != tenantID {
				continue
			}
			if key, _ := row[src.column].(string); key != "" {
				report.Files[object.BucketDocuments] = append(report.Files[object.BucketDocuments], key)
			}
		}
	}
	if t.LogoKey != "" {
		report.Files[object.BucketTenantLogos] = []string{t.LogoKey}
	}

	for _, table := range deleteOrder {
		if table == "tenants" {
			delete(r.tenants, tenantID)
			report.Counts = append(report.Counts, TableCount{Table: table, Rows: 1})
			continue
		}
		kept := r.rows[table][:0]
		var n int64
		for _, row := range r.rows[table] {
			if row["tenant_id"] == tenantID {
				n++
				continue
			}
			kept = append(kept, row)
		}
		r.rows[table] = kept
		report.Counts = append(report.Counts, TableCount{Table: table, Rows: n})
	}
	if err := r.Audit.Write(ctx, deletionAudit(actorID, t, report.Counts)); err != nil {
		return DeletionReport{}, err
	}
	return report, nil
}

func (r *MemoryRepo) Export(ctx context.Context, tenantID string) ([]Table, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tenants[tenantID]; !ok {
		return nil, ErrNotFound
	}
	tables := make([]Table, 0, len(ExportTables))
	for _, name := range ExportTables {
		t := Table{Name: name, Rows: []map[string]any{}}
		for _, row := range r.rows[name] {
			if row["tenant_id"] == tenantID {
				t.Rows = append(t.Rows, row)
			}
		}
		if len(t.Rows) > 0 {
			for k := range t.Rows[0] {
				t.Columns = append(t.Columns, k)
			}
			sort.Strings(t.Columns)
		}
		tables = append(tables, t)
	}
	return tables, nil
}
