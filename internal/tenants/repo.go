package tenants

import "context"

// Repository persists tenant lifecycle changes. Activate and Delete are
// atomic: either every statement commits or none does.
type Repository interface {
	GetTenant(ctx context.Context, tenantID string) (Tenant, error)
	Activate(ctx context.Context, a Activation) (ActivationOutcome, error)
	// Delete removes every tenant row when confirm accepts the stored tenant.
	Delete(ctx context.Context, tenantID, actorID string, confirm func(Tenant) error) (DeletionReport, error)
	Export(ctx context.Context, tenantID string) ([]Table, error)
}
