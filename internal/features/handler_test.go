package features

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func withIdentity(tenantID, role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("userId", "user-1")
		if tenantID != "" {
			c.Set("tenantId", tenantID)
		}
		if role != "" {
			c.Set("role", role)
		}
		c.Next()
	}
}

func TestListModulesHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	gate, store := newTestGate(t, time.Minute)
	store.SetTenantPlan("t1", "pro")

	r := gin.New()
	r.Use(withIdentity("t1", "broker"))
	NewHandler(gate).RegisterRoutes(r.Group("/api/v1"))

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/tenants/t1/modules", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var body struct {
		Plan    string   `json:"plan"`
		Modules []string `json:"modules"`
		Source  string   `json:"source"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Plan != "pro" || body.Source != string(SourceFallback) || len(body.Modules) == 0 {
		t.Fatalf("unexpected body %+v", body)
	}

	other := httptest.NewRecorder()
	r.ServeHTTP(other, httptest.NewRequest(http.MethodGet, "/api/v1/tenants/t2/modules", nil))
	if other.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for foreign tenant, got %d", other.Code)
	}
}

func TestRequireModule(t *testing.T) {
	gin.SetMode(gin.TestMode)
	gate, store := newTestGate(t, time.Minute)
	store.SetTenantPlan("starter", "start")
	store.SetTenantPlan("premium", "prestige")

	cases := []struct {
		name   string
		tenant string
		role   string
		want   int
	}{
		{name: "plan without scan", tenant: "starter", role: "broker", want: http.StatusForbidden},
		{name: "plan with scan", tenant: "premium", role: "broker", want: http.StatusOK},
		{name: "platform admin", role: "king_admin", want: http.StatusOK},
		{name: "no tenant", role: "broker", want: http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := gin.New()
			r.Use(withIdentity(tc.tenant, tc.role))
			r.GET("/scan", RequireModule(gate, "scan"), func(c *gin.Context) { c.Status(http.StatusOK) })
			resp := httptest.NewRecorder()
			r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/scan", nil))
			if resp.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, resp.Code)
			}
		})
	}
}
