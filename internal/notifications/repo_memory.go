package notifications

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepo is an in-memory Repository.
type MemoryRepo struct {
	mu    sync.Mutex
	items map[string]Notification
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{items: make(map[string]Notification)}
}

func (r *MemoryRepo) Create(ctx context.Context, n Notification) (Notification, error) {
	if n.Kind == "" || n.Title == "" {
		return Notification{}, ErrInvalidInput
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	n.ID = uuid.NewString()
	n.CreatedAt = time.Now().UTC()
	r.items[n.ID] = n
	return n, nil
}

func (r *MemoryRepo) List(ctx context.Context, f Filter) ([]Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []Notification{}
	for _, n := range r.items {
		if f.TenantID != "" && n.TenantID != f.TenantID {
			continue
		}
		if f.UnreadOnly && n.IsRead {
			continue
		}
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit := limitOrDefault(f.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepo) MarkRead(ctx context.Context, id, tenantID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.items[id]
	if !ok || (tenantID != "" && n.TenantID != tenantID) {
		return ErrNotFound
	}
	n.IsRead = true
	r.items[id] = n
	return nil
}
