package usage

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memoryStore struct {
	mu       sync.Mutex
	counters map[counterKey]Counter
}

type counterKey struct {
	tenantID, metric, period string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{counters: make(map[counterKey]Counter)}
}

func (m *memoryStore) Add(ctx context.Context, tenantID, metric, period string, n int) (Counter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := counterKey{tenantID, metric, period}
	c := m.counters[key]
	c.TenantID, c.Metric, c.Period = tenantID, metric, period
	c.Used += n
	c.UpdatedAt = time.Now().UTC()
	m.counters[key] = c
	return c, nil
}

func (m *memoryStore) List(ctx context.Context, tenantID, period string) ([]Counter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []Counter{}
	for k, c := range m.counters {
		if k.tenantID == tenantID && k.period == period {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Metric < out[j].Metric })
	return out, nil
}
