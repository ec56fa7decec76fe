package features

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

var ErrTenantNotFound = errors.New("tenant not found")

// PlanModule is one enabled plan_modules row joined to its module key.
type PlanModule struct {
	Plan      string
	ModuleKey string
}

// Store reads the feature-gating tables.
type Store interface {
	PlanModules(ctx context.Context) ([]PlanModule, error)
	ActiveModules(ctx context.Context) ([]string, error)
	TenantPlan(ctx context.Context, tenantID string) (string, error)
}

// PGStore reads from Postgres.
type PGStore struct {
	DB *sql.DB
}

func (s *PGStore) PlanModules(ctx context.Context) ([]PlanModule, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT pm.plan, m.key
		FROM plan_modules pm
		JOIN platform_modules m ON m.id = pm.module_id
		WHERE pm.enabled
		ORDER BY pm.plan, m.key`)
	if err != nil {
		return nil, fmt.Errorf("query plan modules: %w", err)
	}
	defer rows.Close()

	var out []PlanModule
	for rows.Next() {
		var pm PlanModule
		if err := rows.Scan(&pm.Plan, &pm.ModuleKey); err != nil {
			return nil, err
		}
		out = append(out, pm)
	}
	return out, rows.Err()
}

func (s *PGStore) ActiveModules(ctx context.Context) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT key FROM platform_modules WHERE is_active ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("query platform modules: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		out = append(out, key)
	}
	return out, rows.Err()
}

func (s *PGStore) TenantPlan(ctx context.Context, tenantID string) (string, error) {
	var plan string
	err := s.DB.QueryRowContext(ctx, `SELECT plan FROM tenants WHERE id = $1`, tenantID).Scan(&plan)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrTenantNotFound
	}
	if err != nil {
		return "", fmt.Errorf("query tenant plan: %w", err)
	}
	return plan, nil
}

// MemoryStore is an in-memory Store for dev and tests. It counts catalogue reads.
type MemoryStore struct {
	mu          sync.RWMutex
	planModules []PlanModule
	active      []string
	tenantPlans map[string]string
	fail        error

	Queries atomic.Int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tenantPlans: make(map[string]string)}
}

// SetPlanModules replaces the mapping and module catalogue.
func (m *MemoryStore) SetPlanModules(rows []PlanModule, active []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.planModules = append([]PlanModule(nil), rows...)
	m.active = append([]string(nil), active...)
}

// SetTenantPlan records a tenant's plan.
func (m *MemoryStore) SetTenantPlan(tenantID, plan string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tenantPlans[tenantID] = plan
}

// FailWith makes catalogue reads return err (nil clears it).
func (m *MemoryStore) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = err
}

func (m *MemoryStore) PlanModules(ctx context.Context) ([]PlanModule, error) {
	m.Queries.Add(1)
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.fail != nil {
		return nil, m.fail
	}
	return append([]PlanModule(nil), m.planModules...), nil
}

func (m *MemoryStore) ActiveModules(ctx context.Context) ([]string, error) {
	m.Queries.Add(1)
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.fail != nil {
		return nil, m.fail
	}
	return append([]string(nil), m.active...), nil
}

func (m *MemoryStore) TenantPlan(ctx context.Context, tenantID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	plan, ok := m.tenantPlans[tenantID]
	if !ok {
		return "", ErrTenantNotFound
	}
	return plan, nil
}
