package respond

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestErrorEnvelope(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/boom", func(c *gin.Context) {
		Error(c, http.StatusBadRequest, "invalid_input", "tenant_id is required", map[string]any{"field": "tenant_id"})
	})

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/boom", nil))

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
	var body ErrorResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error.Code != "invalid_input" || body.Error.Message != "tenant_id is required" {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestAttachmentHeaders(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/file", func(c *gin.Context) {
		Attachment(c, "export.csv", "text/csv; charset=utf-8", []byte("# clients\n"))
	})

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/file", nil))

	if got := resp.Header().Get("Content-Disposition"); got != `attachment; filename="export.csv"` {
		t.Fatalf("unexpected disposition %q", got)
	}
	if resp.Body.String() != "# clients\n" {
		t.Fatalf("unexpected body %q", resp.Body.String())
	}
}
