package usage

import (
	"context"
	"strings"
	"time"
)

type store interface {
	Add(ctx context.Context, tenantID, metric, period string, n int) (Counter, error)
	List(ctx context.Context, tenantID, period string) ([]Counter, error)
}

// Service maintains per-tenant monthly counters.
type Service struct {
	store store
	now   func() time.Time
}

// NewService constructs a Service with an in-memory store.
func NewService() *Service {
	return &Service{store: newMemoryStore(), now: time.Now}
}

// NewPostgresService constructs a Service backed by Postgres.
func NewPostgresService(pgStore store) *Service {
	return &Service{store: pgStore, now: time.Now}
}

// Increment adds n to the tenant's counter for the current month.
func (s *Service) Increment(ctx context.Context, tenantID, metric string, n int) (Counter, error) {
	tenantID = strings.TrimSpace(tenantID)
	metric = strings.TrimSpace(metric)
	if tenantID == "" || metric == "" || n <= 0 {
		return Counter{}, ErrInvalidInput
	}
	return s.store.Add(ctx, tenantID, metric, PeriodOf(s.now()), n)
}

// Get lists the tenant's counters for period, defaulting to the current month.
func (s *Service) Get(ctx context.Context, tenantID, period string) ([]Counter, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, ErrInvalidInput
	}
	if period == "" {
		period = PeriodOf(s.now())
	} else if _, err := time.Parse("2006-01", period); err != nil {
		return nil, ErrInvalidInput
	}
	return s.store.List(ctx, tenantID, period)
}
