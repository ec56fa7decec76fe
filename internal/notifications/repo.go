package notifications

import "context"

// Repository persists notifications.
type Repository interface {
	Create(ctx context.Context, n Notification) (Notification, error)
	List(ctx context.Context, f Filter) ([]Notification, error)
	// MarkRead flips is_read; tenantID restricts the update when non-empty.
	MarkRead(ctx context.Context, id, tenantID string) error
}
