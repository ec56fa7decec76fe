package chat

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"brokercrm-backend/internal/llm"
	"brokercrm-backend/internal/shared/telemetry"
)

func newRouter(svc *Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHandler(svc).RegisterRoutes(r.Group("/api/v1"))
	return r
}

func post(r http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/functions/ai-chat", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestChatHandlerReplies(t *testing.T) {
	defer telemetry.SetOutput(io.Discard)()
	svc, _, _, _ := newService()

	resp := post(newRouter(svc), `{"messages":[{"role":"user","content":"Hallo"}],"sessionId":"s1","userType":"visitor"}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var body Result
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Reply == "" || body.ConversationID == "" {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestChatHandlerMapsErrors(t *testing.T) {
	defer telemetry.SetOutput(io.Discard)()

	cases := []struct {
		name   string
		err    error
		body   string
		status int
	}{
		{name: "rate limited", err: llm.ErrRateLimited, status: http.StatusTooManyRequests},
		{name: "credits", err: llm.ErrPaymentRequired, status: http.StatusPaymentRequired},
		{name: "upstream", err: llm.ErrUpstream, status: http.StatusBadGateway},
		{name: "invalid", body: `{"messages":[]}`, status: http.StatusBadRequest},
		{name: "broker needs auth", body: `{"messages":[{"role":"user","content":"x"}],"userType":"broker"}`, status: http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, chatter, _, _ := newService()
			chatter.err = tc.err
			body := tc.body
			if body == "" {
				body = `{"messages":[{"role":"user","content":"x"}]}`
			}
			resp := post(newRouter(svc), body)
			if resp.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, resp.Code, resp.Body.String())
			}
			if tc.status == http.StatusTooManyRequests && resp.Header().Get("Retry-After") == "" {
				t.Fatalf("expected Retry-After header")
			}
		})
	}
}

func TestRegisterRoutesLeavesGuardSliceUntouched(t *testing.T) {
	svc, _, _, _ := newService()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	guards := make([]gin.HandlerFunc, 1, 4)
	guards[0] = func(c *gin.Context) { c.Next() }

	NewHandler(svc).RegisterRoutes(r.Group("/api/v1"), guards...)

	if spare := guards[:cap(guards)]; spare[1] != nil {
		t.Fatalf("route handler was written into the caller's guard slice")
	}
}
