package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"brokercrm-backend/internal/shared/resilience"
	"brokercrm-backend/internal/shared/telemetry"
)

func fastExecutor() *resilience.Executor {
	cfg := resilience.DefaultConfig()
	cfg.RetryInitialBackoff = time.Millisecond
	cfg.RetryMaxBackoff = time.Millisecond
	cfg.BreakerEnabled = false
	return resilience.NewExecutor(cfg)
}

func TestActivationEmailEscapesAndLinks(t *testing.T) {
	msg, err := ActivationEmail("anna@broker.ch", ActivationData{
		TenantName:     "Acme <Insurance>",
		ResetURL:       "https://app.example.ch/reset-password?token=abc",
		ExpiresInHours: 24,
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(msg.HTML, "Acme &lt;Insurance&gt;") {
		t.Fatalf("expected escaped tenant name, got %s", msg.HTML)
	}
	if !strings.Contains(msg.HTML, "reset-password?token=abc") {
		t.Fatalf("expected reset link in body")
	}
	if !strings.Contains(msg.HTML, "anna@broker.ch") {
		t.Fatalf("expected admin name to default to the address")
	}
}

func TestResendSenderPostsJSON(t *testing.T) {
	var got resendRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/emails" || r.Header.Get("Authorization") != "Bearer key-1" {
			t.Errorf("unexpected request %s auth=%q", r.URL.Path, r.Header.Get("Authorization"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		_, _ = w.Write([]byte(`{"id":"msg_1"}`))
	}))
	defer srv.Close()

	sender, err := NewResendSender(ResendConfig{APIKey: "key-1", From: "CRM <noreply@example.ch>", BaseURL: srv.URL, Executor: fastExecutor()})
	if err != nil {
		t.Fatalf("new sender: %v", err)
	}
	if err := sender.Send(context.Background(), Message{To: []string{"a@b.ch"}, Subject: "Hi", HTML: "<p>x</p>"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got.From != "CRM <noreply@example.ch>" || len(got.To) != 1 || got.Subject != "Hi" {
		t.Fatalf("unexpected payload %+v", got)
	}
}

func TestResendSenderRetries(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantCalls int32
	}{
		{"server error retried", http.StatusBadGateway, 3},
		{"validation error not retried", http.StatusUnprocessableEntity, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			sender, _ := NewResendSender(ResendConfig{APIKey: "k", BaseURL: srv.URL, Executor: fastExecutor()})
			err := sender.Send(context.Background(), Message{To: []string{"a@b.ch"}, Subject: "Hi"})
			if !errors.Is(err, ErrProvider) {
				t.Fatalf("expected ErrProvider, got %v", err)
			}
			if atomic.LoadInt32(&calls) != tt.wantCalls {
				t.Fatalf("expected %d calls, got %d", tt.wantCalls, calls)
			}
		})
	}
}

func TestLogSenderOmitsBody(t *testing.T) {
	var buf bytes.Buffer
	restore := telemetry.SetOutput(&buf)
	defer restore()

	if err := (LogSender{}).Send(context.Background(), Message{To: []string{"a@b.ch"}, Subject: "Hi", HTML: "token=secret"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if strings.Contains(buf.String(), "secret") {
		t.Fatalf("log line must not include the body: %s", buf.String())
	}
	if err := (LogSender{}).Send(context.Background(), Message{To: []string{"nobody"}, Subject: "Hi"}); !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("expected ErrInvalidMessage, got %v", err)
	}
}
