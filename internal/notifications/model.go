package notifications

import (
	"errors"
	"time"
)

// Kinds written by the platform.
const (
	KindTenantActivated = "tenant_activated"
	KindTenantDeleted   = "tenant_deleted"
)

var (
	ErrNotFound     = errors.New("notification not found")
	ErrInvalidInput = errors.New("invalid notification")
)

// Notification is one row of king_notifications. An empty TenantID marks a
// platform-wide notification.
type Notification struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenantId,omitempty"`
	Kind      string    `json:"kind"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	IsRead    bool      `json:"isRead"`
	CreatedAt time.Time `json:"createdAt"`
}

// Filter scopes a listing. An empty TenantID lists every notification.
type Filter struct {
	TenantID   string
	UnreadOnly bool
	Limit      int
}
