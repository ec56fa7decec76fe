package tenants

import (
	"errors"
	"time"
)

// Tenant statuses.
const (
	StatusPending   = "pending"
	StatusActive    = "active"
	StatusSuspended = "suspended"
)

// RoleTenantAdmin is granted to the admin created on activation.
const RoleTenantAdmin = "tenant_admin"

const resetTokenTTL = 24 * time.Hour

var (
	ErrNotFound             = errors.New("tenant not found")
	ErrInvalidInput         = errors.New("invalid input")
	ErrConfirmationMismatch = errors.New("confirmation name does not match tenant name")
	ErrUnsupportedFormat    = errors.New("unsupported export format")
)

// Tenant is one brokerage using the CRM.
type Tenant struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Slug         string     `json:"slug,omitempty"`
	Status       string     `json:"status"`
	Plan         string     `json:"plan"`
	ContactEmail string     `json:"contactEmail,omitempty"`
	ContactName  string     `json:"contactName,omitempty"`
	LogoKey      string     `json:"logoKey,omitempty"`
	ActivatedAt  *time.Time `json:"activatedAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
}

// Activation is everything written when a tenant goes live.
type Activation struct {
	TenantID       string
	AdminEmail     string
	AdminName      string
	TokenHash      string
	TokenExpiresAt time.Time
	ActorID        string
}

// ActivationOutcome reports what the repository did.
type ActivationOutcome struct {
	AlreadyActive bool
	Tenant        Tenant
	AdminUserID   string
}

// TableCount is the number of rows deleted from one table.
type TableCount struct {
	Table string `json:"table"`
	Rows  int64  `json:"rows"`
}

// DeletionReport describes a completed tenant deletion.
type DeletionReport struct {
	Tenant Tenant
	Counts []TableCount
	// Files maps a logical bucket to the object keys owned by the tenant.
	Files map[string][]string
}

// Table is one exported table; every row carries the same Columns.
type Table struct {
	Name    string           `json:"name"`
	Columns []string         `json:"-"`
	Rows    []map[string]any `json:"rows"`
}

// ExportTables lists the exported tables in output order.
var ExportTables = []string{
	"clients",
	"family_members",
	"partners",
	"policies",
	"commissions",
	"claims",
	"documents",
	"follow_ups",
	"scan_batches",
}

// deleteOrder lists the tenant-scoped tables deleted, children before parents.
var deleteOrder = []string{
	"user_roles",
	"user_tenant_assignments",
	"scan_batch_documents",
	"scan_batches",
	"commissions",
	"claims",
	"policies",
	"family_members",
	"documents",
	"follow_ups",
	"clients",
	"partners",
	"ai_conversations",
	"tenant_usage",
	"king_notifications",
	"king_audit_logs",
	"tenants",
}
