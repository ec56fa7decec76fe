package features

import (
	"context"
	"errors"
	"slices"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"brokercrm-backend/internal/shared/metrics"
	"brokercrm-backend/internal/shared/telemetry"
)

const (
	DefaultTTL = 5 * time.Minute

	planModulesKey = "plan_modules"
)

// Source tells where a module list came from.
type Source string

const (
	SourceDatabase Source = "database"
	SourceFallback Source = "fallback"
)

// Gate resolves which modules a tenant's plan enables. The database mapping
// wins when it has entries for the plan; otherwise the static table applies.
type Gate struct {
	store    Store
	fallback StaticPlans
	cache    *gocache.Cache
	flight   singleflight.Group
}

// NewGate builds a gate caching the plan mapping for ttl.
func NewGate(store Store, fallback StaticPlans, ttl time.Duration) *Gate {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Gate{
		store:    store,
		fallback: fallback,
		cache:    gocache.New(ttl, max(ttl, time.Minute)),
	}
}

// PlanModules returns the database plan→modules mapping, refreshing it when
// the cached copy has expired. Errors yield an empty map and are not cached.
func (g *Gate) PlanModules(ctx context.Context) map[string][]string {
	if cached, ok := g.cache.Get(planModulesKey); ok {
		return cached.(map[string][]string)
	}
	v, _, _ := g.flight.Do(planModulesKey, func() (any, error) {
		if cached, ok := g.cache.Get(planModulesKey); ok {
			return cached, nil
		}
		mapping, err := g.load(ctx)
		if err != nil {
			metrics.IncPlanCacheRefresh("error")
			telemetry.Error("features.refresh.failed", map[string]any{"error": err})
			return map[string][]string{}, nil
		}
		metrics.IncPlanCacheRefresh("ok")
		g.cache.SetDefault(planModulesKey, mapping)
		return mapping, nil
	})
	return v.(map[string][]string)
}

func (g *Gate) load(ctx context.Context) (map[string][]string, error) {
	var (
		rows   []PlanModule
		active []string
	)
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		var err error
		rows, err = g.store.PlanModules(egCtx)
		return err
	})
	eg.Go(func() error {
		var err error
		active, err = g.store.ActiveModules(egCtx)
		return err
	})
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	mapping := make(map[string][]string)
	for _, r := range rows {
		if !slices.Contains(active, r.ModuleKey) {
			continue
		}
		if !slices.Contains(mapping[r.Plan], r.ModuleKey) {
			mapping[r.Plan] = append(mapping[r.Plan], r.ModuleKey)
		}
	}
	return mapping, nil
}

// ModulesForPlan returns the plan's modules and their source.
func (g *Gate) ModulesForPlan(ctx context.Context, plan string) ([]string, Source) {
	if mods := g.PlanModules(ctx)[plan]; len(mods) > 0 {
		return mods, SourceDatabase
	}
	return g.fallback.Modules(plan), SourceFallback
}

// TenantModules resolves the tenant's plan and its modules.
func (g *Gate) TenantModules(ctx context.Context, tenantID string) (string, []string, Source, error) {
	plan, err := g.store.TenantPlan(ctx, tenantID)
	if err != nil {
		return "", nil, "", err
	}
	mods, src := g.ModulesForPlan(ctx, plan)
	return plan, mods, src, nil
}

// HasModule reports whether the tenant's plan enables module. Lookup failures
// are logged and answer false.
func (g *Gate) HasModule(ctx context.Context, tenantID, module string) bool {
	mods, ok := g.tenantModules(ctx, tenantID)
	return ok && slices.Contains(mods, module)
}

// HasAnyModule reports whether at least one of modules is enabled.
func (g *Gate) HasAnyModule(ctx context.Context, tenantID string, modules ...string) bool {
	mods, ok := g.tenantModules(ctx, tenantID)
	if !ok {
		return false
	}
	return slices.ContainsFunc(modules, func(m string) bool { return slices.Contains(mods, m) })
}

// HasAllModules reports whether every one of modules is enabled.
func (g *Gate) HasAllModules(ctx context.Context, tenantID string, modules ...string) bool {
	mods, ok := g.tenantModules(ctx, tenantID)
	if !ok {
		return false
	}
	for _, m := range modules {
		if !slices.Contains(mods, m) {
			return false
		}
	}
	return true
}

// Invalidate drops the cached mapping.
func (g *Gate) Invalidate() {
	g.cache.Delete(planModulesKey)
}

func (g *Gate) tenantModules(ctx context.Context, tenantID string) ([]string, bool) {
	if tenantID == "" {
		return nil, false
	}
	_, mods, _, err := g.TenantModules(ctx, tenantID)
	if err != nil {
		fields := map[string]any{"tenant_id": tenantID, "error": err}
		if errors.Is(err, ErrTenantNotFound) {
			telemetry.Warn("features.tenant.unknown", fields)
		} else {
			telemetry.Error("features.tenant.lookup_failed", fields)
		}
		return nil, false
	}
	return mods, true
}
