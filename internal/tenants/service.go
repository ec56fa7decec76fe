package tenants

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"brokercrm-backend/internal/audit"
	"brokercrm-backend/internal/mailer"
	"brokercrm-backend/internal/shared/metrics"
	"brokercrm-backend/internal/shared/storage/object"
	"brokercrm-backend/internal/shared/telemetry"
	"brokercrm-backend/internal/shared/util"
	"brokercrm-backend/internal/usage"
)

// UsageRecorder increments tenant usage counters.
type UsageRecorder interface {
	Increment(ctx context.Context, tenantID, metric string, n int) (usage.Counter, error)
}

// Service runs the platform-admin tenant operations.
type Service struct {
	Repo       Repository
	Mailer     mailer.Sender
	Audit      audit.Writer
	Store      object.Store
	Usage      UsageRecorder
	AppBaseURL string
	Now        func() time.Time
}

// ActivateInput is the request to bring a tenant live.
type ActivateInput struct {
	TenantID   string
	AdminEmail string
	AdminName  string
	ActorID    string
}

// ActivateResult is returned by Activate.
type ActivateResult struct {
	TenantID      string `json:"tenant_id"`
	Status        string `json:"status"`
	AlreadyActive bool   `json:"already_active"`
	AdminUserID   string `json:"admin_user_id,omitempty"`
	AdminEmail    string `json:"admin_email,omitempty"`
	EmailSent     bool   `json:"email_sent"`
}

// DeleteResult is returned by Delete.
type DeleteResult struct {
	TenantID     string       `json:"tenant_id"`
	Deleted      []TableCount `json:"deleted"`
	FilesRemoved int          `json:"files_removed"`
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Activate marks a tenant active, provisions its admin and sends the
// password-setup email. Activating an active tenant is a no-op.
func (s *Service) Activate(ctx context.Context, in ActivateInput) (ActivateResult, error) {
	in.TenantID = strings.TrimSpace(in.TenantID)
	if in.TenantID == "" {
		return ActivateResult{}, fmt.Errorf("%w: tenant_id is required", ErrInvalidInput)
	}
	tenant, err := s.Repo.GetTenant(ctx, in.TenantID)
	if err != nil {
		return ActivateResult{}, err
	}
	if tenant.Status == StatusActive {
		metrics.IncTenantOp("activate", "noop")
		return ActivateResult{TenantID: tenant.ID, Status: tenant.Status, AlreadyActive: true}, nil
	}

	email := strings.ToLower(strings.TrimSpace(in.AdminEmail))
	if email == "" {
		email = strings.ToLower(strings.TrimSpace(tenant.ContactEmail))
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return ActivateResult{}, fmt.Errorf("%w: a valid admin email is required", ErrInvalidInput)
	}
	name := strings.TrimSpace(in.AdminName)
	if name == "" {
		name = tenant.ContactName
	}

	token, err := util.RandomToken(32)
	if err != nil {
		return ActivateResult{}, err
	}
	outcome, err := s.Repo.Activate(ctx, Activation{
		TenantID:       tenant.ID,
		AdminEmail:     email,
		AdminName:      name,
		TokenHash:      util.SHA256Hex(token),
		TokenExpiresAt: s.now().Add(resetTokenTTL),
		ActorID:        in.ActorID,
	})
	if err != nil {
		metrics.IncTenantOp("activate", "error")
		return ActivateResult{}, err
	}
	if outcome.AlreadyActive {
		metrics.IncTenantOp("activate", "noop")
		return ActivateResult{TenantID: tenant.ID, Status: StatusActive, AlreadyActive: true}, nil
	}

	result := ActivateResult{
		TenantID:    outcome.Tenant.ID,
		Status:      outcome.Tenant.Status,
		AdminUserID: outcome.AdminUserID,
		AdminEmail:  email,
	}
	result.EmailSent = s.sendActivationEmail(ctx, outcome.Tenant, email, name, token)
	metrics.IncTenantOp("activate", "ok")
	telemetry.Info("tenant.activated", map[string]any{
		"tenant_id":     tenant.ID,
		"admin_user_id": outcome.AdminUserID,
		"email_sent":    result.EmailSent,
	})
	return result, nil
}

func (s *Service) sendActivationEmail(ctx context.Context, t Tenant, email, name, token string) bool {
	if s.Mailer == nil {
		return false
	}
	msg, err := mailer.ActivationEmail(email, mailer.ActivationData{
		TenantName:     t.Name,
		AdminName:      name,
		ResetURL:       s.resetURL(token),
		ExpiresInHours: int(resetTokenTTL / time.Hour),
	})
	if err == nil {
		err = s.Mailer.Send(context.WithoutCancel(ctx), msg)
	}
	if err != nil {
		telemetry.Warn("tenant.activation_email_failed", map[string]any{"tenant_id": t.ID, "error": err})
		return false
	}
	return true
}

func (s *Service) resetURL(token string) string {
	return strings.TrimRight(s.AppBaseURL, "/") + "/reset-password?token=" + url.QueryEscape(token)
}

// Delete removes every row the tenant owns once confirmationName matches the
// tenant's name. Stored files are removed after the database commit.
func (s *Service) Delete(ctx context.Context, tenantID, confirmationName, actorID string) (DeleteResult, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" || strings.TrimSpace(confirmationName) == "" {
		return DeleteResult{}, fmt.Errorf("%w: tenant_id and confirmation_name are required", ErrInvalidInput)
	}
	confirm := func(t Tenant) error {
		if !strings.EqualFold(strings.TrimSpace(t.Name), strings.TrimSpace(confirmationName)) {
			return ErrConfirmationMismatch
		}
		return nil
	}
	report, err := s.Repo.Delete(ctx, tenantID, actorID, confirm)
	if err != nil {
		outcome := "error"
		if errors.Is(err, ErrConfirmationMismatch) {
			outcome = "rejected"
		}
		metrics.IncTenantOp("delete", outcome)
		return DeleteResult{}, err
	}

	removed := s.removeFiles(ctx, tenantID, report.Files)
	metrics.IncTenantOp("delete", "ok")
	telemetry.Info("tenant.deleted", map[string]any{
		"tenant_id":     tenantID,
		"actor_id":      actorID,
		"files_removed": removed,
	})
	return DeleteResult{TenantID: tenantID, Deleted: report.Counts, FilesRemoved: removed}, nil
}

func (s *Service) removeFiles(ctx context.Context, tenantID string, files map[string][]string) int {
	if s.Store == nil {
		return 0
	}
	ctx = context.WithoutCancel(ctx)
	removed := 0
	for bucket, keys := range files {
		if len(keys) == 0 {
			continue
		}
		if err := s.Store.Delete(ctx, bucket, keys...); err != nil {
			telemetry.Warn("tenant.delete.storage_cleanup_failed", map[string]any{
				"tenant_id": tenantID,
				"bucket":    bucket,
				"keys":      len(keys),
				"error":     err,
			})
			continue
		}
		removed += len(keys)
	}
	return removed
}

// Export reads all tenant business data and encodes it in format.
func (s *Service) Export(ctx context.Context, tenantID, format, actorID string) (ExportFile, error) {
	tenantID = strings.TrimSpace(tenantID)
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = FormatJSON
	}
	if tenantID == "" {
		return ExportFile{}, fmt.Errorf("%w: tenant_id is required", ErrInvalidInput)
	}
	switch format {
	case FormatJSON, FormatCSV, FormatXLSX:
	default:
		return ExportFile{}, ErrUnsupportedFormat
	}

	tenant, err := s.Repo.GetTenant(ctx, tenantID)
	if err != nil {
		return ExportFile{}, err
	}
	tables, err := s.Repo.Export(ctx, tenantID)
	if err != nil {
		metrics.IncTenantOp("export", "error")
		return ExportFile{}, err
	}
	file, err := encodeExport(format, tenant, tables, s.now())
	if err != nil {
		metrics.IncTenantOp("export", "error")
		return ExportFile{}, fmt.Errorf("encode %s export: %w", format, err)
	}

	rows := make(map[string]any, len(tables))
	for _, t := range tables {
		rows[t.Name] = len(t.Rows)
	}
	if s.Audit != nil {
		err := s.Audit.Write(ctx, audit.Entry{
			ActorID:    actorID,
			TenantID:   tenantID,
			Action:     audit.ActionTenantExported,
			TargetType: "tenant",
			TargetID:   tenantID,
			Details:    map[string]any{"format": format, "rows": rows},
		})
		if err != nil {
			return ExportFile{}, err
		}
	}
	if s.Usage != nil {
		if _, err := s.Usage.Increment(ctx, tenantID, usage.MetricDataExports, 1); err != nil {
			telemetry.Warn("tenant.export.usage_failed", map[string]any{"tenant_id": tenantID, "error": err})
		}
	}
	metrics.IncTenantOp("export", "ok")
	telemetry.Info("tenant.exported", map[string]any{"tenant_id": tenantID, "format": format, "bytes": len(file.Body)})
	return file, nil
}
