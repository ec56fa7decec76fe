// Package audit appends platform audit rows to king_audit_logs.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"brokercrm-backend/internal/shared/storage/db"
)

// Actions recorded by the tenant lifecycle.
const (
	ActionTenantActivated = "tenant.activated"
	ActionTenantDeleted   = "tenant.deleted"
	ActionTenantExported  = "tenant.exported"
)

// ErrInvalidEntry indicates an entry without action or target type.
var ErrInvalidEntry = errors.New("invalid audit entry")

// Entry is one audit row. An empty TenantID is stored as NULL.
type Entry struct {
	ActorID    string         `json:"actorId"`
	TenantID   string         `json:"tenantId,omitempty"`
	Action     string         `json:"action"`
	TargetType string         `json:"targetType"`
	TargetID   string         `json:"targetId"`
	Details    map[string]any `json:"details,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// Writer records audit entries.
type Writer interface {
	Write(ctx context.Context, e Entry) error
}

// Insert writes e using either a *sql.DB or a *sql.Tx.
func Insert(ctx context.Context, ex db.Execer, e Entry) error {
	if err := e.validate(); err != nil {
		return err
	}
	var details []byte
	if e.Details != nil {
		raw, err := json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("marshal audit details: %w", err)
		}
		details = raw
	}
	_, err := ex.ExecContext(ctx, `
INSERT INTO king_audit_logs (actor_id, tenant_id, action, target_type, target_id, details)
VALUES ($1, $2, $3, $4, $5, $6)`,
		db.NullString(e.ActorID), db.NullString(e.TenantID), e.Action, e.TargetType,
		db.NullString(e.TargetID), details)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

func (e Entry) validate() error {
	if strings.TrimSpace(e.Action) == "" || strings.TrimSpace(e.TargetType) == "" {
		return ErrInvalidEntry
	}
	return nil
}

// PGWriter writes entries outside any caller transaction.
type PGWriter struct {
	DB db.Execer
}

func (w PGWriter) Write(ctx context.Context, e Entry) error {
	return Insert(ctx, w.DB, e)
}

// MemoryWriter keeps entries in memory for dev and tests.
type MemoryWriter struct {
	mu      sync.Mutex
	entries []Entry
}

func (w *MemoryWriter) Write(ctx context.Context, e Entry) error {
	if err := e.validate(); err != nil {
		return err
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	w.mu.Lock()
	w.entries = append(w.entries, e)
	w.mu.Unlock()
	return nil
}

// Entries returns a copy of recorded entries.
func (w *MemoryWriter) Entries() []Entry {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]Entry(nil), w.entries...)
}
