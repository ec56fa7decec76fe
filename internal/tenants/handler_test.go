package tenants

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"brokercrm-backend/internal/shared/server/middleware"
	"brokercrm-backend/internal/shared/telemetry"
)

func newRouter(svc *Service, role string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("userId", "king-1")
		c.Set("role", role)
		c.Next()
	})
	NewHandler(svc).RegisterRoutes(r.Group("/api/v1"), middleware.RequireRole("king_admin"))
	return r
}

func postJSON(r http.Handler, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestHandlerRequiresPlatformAdmin(t *testing.T) {
	defer telemetry.SetOutput(io.Discard)()
	f := newFixture(t)
	r := newRouter(f.svc, "broker")

	resp := postJSON(r, "/api/v1/functions/activate-tenant", `{"tenant_id":"t1"}`)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.Code)
	}
}

func TestHandlerActivate(t *testing.T) {
	defer telemetry.SetOutput(io.Discard)()
	f := newFixture(t)
	r := newRouter(f.svc, "king_admin")

	resp := postJSON(r, "/api/v1/functions/activate-tenant", `{"tenant_id":"t1","admin_name":"Eva"}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var body ActivateResult
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != StatusActive || !body.EmailSent {
		t.Fatalf("unexpected body: %+v", body)
	}

	resp = postJSON(r, "/api/v1/functions/activate-tenant", `{"tenant_id":"missing"}`)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestHandlerDeleteMismatchIs400(t *testing.T) {
	defer telemetry.SetOutput(io.Discard)()
	f := newFixture(t)
	r := newRouter(f.svc, "king_admin")

	resp := postJSON(r, "/api/v1/functions/delete-tenant", `{"tenant_id":"t1","confirmation_name":"wrong"}`)
	if resp.Code != http.StatusBadRequest || !strings.Contains(resp.Body.String(), "confirmation_mismatch") {
		t.Fatalf("expected 400 confirmation_mismatch, got %d: %s", resp.Code, resp.Body.String())
	}

	resp = postJSON(r, "/api/v1/functions/delete-tenant", `{"tenant_id":"t1","confirmation_name":"MUSTER TREUHAND"}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
}

func TestHandlerExportAttachment(t *testing.T) {
	defer telemetry.SetOutput(io.Discard)()
	f := newFixture(t)
	r := newRouter(f.svc, "king_admin")

	resp := postJSON(r, "/api/v1/functions/export-tenant-data", `{"tenant_id":"t1","format":"xlsx"}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if cd := resp.Header().Get("Content-Disposition"); !strings.Contains(cd, "export-muster-2026-03-04.xlsx") {
		t.Fatalf("unexpected content disposition %q", cd)
	}

	resp = postJSON(r, "/api/v1/functions/export-tenant-data", `{"tenant_id":"t1","format":"pdf"}`)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}
