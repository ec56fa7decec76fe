package tenants

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

var tenantCols = []string{"id", "name", "slug", "status", "plan", "contact_email", "contact_name", "logo_key", "activated_at", "created_at"}

func tenantRow(status, logo string) *sqlmock.Rows {
	return sqlmock.NewRows(tenantCols).
		AddRow("t1", "Muster Treuhand", "muster", status, "pro", "info@muster.ch", "Eva Muster", logo, nil, time.Now())
}

func TestPGActivateWritesEverythingInOneTransaction(t *testing.T) {
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer conn.Close()

	expires := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectQuery(`FROM tenants WHERE id = \$1 FOR UPDATE`).WithArgs("t1").WillReturnRows(tenantRow(StatusPending, ""))
	mock.ExpectQuery(`INSERT INTO users`).WithArgs("eva@muster.ch", "Eva").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("u1"))
	mock.ExpectExec(`INSERT INTO user_roles`).WithArgs("u1", RoleTenantAdmin, "t1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO user_tenant_assignments`).WithArgs("u1", "t1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`UPDATE tenants SET status = 'active'`).WithArgs("t1").
		WillReturnRows(sqlmock.NewRows([]string{"activated_at"}).AddRow(time.Now()))
	mock.ExpectExec(`INSERT INTO password_reset_tokens`).WithArgs("hash", "u1", expires).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO king_audit_logs`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO king_notifications`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	out, err := NewPGRepo(conn).Activate(context.Background(), Activation{
		TenantID: "t1", AdminEmail: "eva@muster.ch", AdminName: "Eva",
		TokenHash: "hash", TokenExpiresAt: expires, ActorID: "admin-1",
	})
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if out.AdminUserID != "u1" || out.Tenant.Status != StatusActive || out.Tenant.ActivatedAt == nil {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPGActivateAlreadyActiveWritesNothing(t *testing.T) {
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer conn.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).WithArgs("t1").WillReturnRows(tenantRow(StatusActive, ""))
	mock.ExpectCommit()

	out, err := NewPGRepo(conn).Activate(context.Background(), Activation{TenantID: "t1", AdminEmail: "a@b.ch"})
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if !out.AlreadyActive {
		t.Fatalf("expected already active")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPGDeleteMismatchRollsBackWithoutDeletes(t *testing.T) {
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer conn.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).WithArgs("t1").WillReturnRows(tenantRow(StatusActive, ""))
	mock.ExpectRollback()

	_, err = NewPGRepo(conn).Delete(context.Background(), "t1", "admin-1", func(Tenant) error {
		return ErrConfirmationMismatch
	})
	if !errors.Is(err, ErrConfirmationMismatch) {
		t.Fatalf("expected mismatch, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPGDeleteRunsTablesInOrder(t *testing.T) {
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer conn.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).WithArgs("t1").WillReturnRows(tenantRow(StatusActive, "t1/logo.png"))
	mock.ExpectQuery(`SELECT file_key FROM scan_batch_documents`).WithArgs("t1").
		WillReturnRows(sqlmock.NewRows([]string{"file_key"}).AddRow("t1/a.pdf").AddRow("t1/b.pdf"))
	for _, table := range deleteOrder {
		mock.ExpectExec(regexp.QuoteMeta(deleteStatement(table))).WithArgs("t1").WillReturnResult(sqlmock.NewResult(0, 2))
	}
	mock.ExpectExec(`INSERT INTO king_audit_logs`).
		WithArgs("admin-1", nil, "tenant.deleted", "tenant", "t1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	report, err := NewPGRepo(conn).Delete(context.Background(), "t1", "admin-1", func(Tenant) error { return nil })
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(report.Counts) != 17 || report.Counts[0].Table != "user_roles" || report.Counts[16].Table != "tenants" {
		t.Fatalf("unexpected counts: %+v", report.Counts)
	}
	if len(report.Files["documents"]) != 2 || report.Files["tenant-logos"][0] != "t1/logo.png" {
		t.Fatalf("unexpected files: %+v", report.Files)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPGDeleteFailureRollsBack(t *testing.T) {
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer conn.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).WithArgs("t1").WillReturnRows(tenantRow(StatusActive, ""))
	mock.ExpectQuery(`SELECT file_key`).WillReturnRows(sqlmock.NewRows([]string{"file_key"}))
	mock.ExpectExec(`DELETE FROM user_roles`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM user_tenant_assignments`).WillReturnError(errors.New("boom"))
	mock.ExpectRollback()

	if _, err := NewPGRepo(conn).Delete(context.Background(), "t1", "admin-1", func(Tenant) error { return nil }); err == nil {
		t.Fatalf("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
