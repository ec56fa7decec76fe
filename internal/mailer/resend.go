package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"brokercrm-backend/internal/shared/resilience"
	"brokercrm-backend/internal/shared/telemetry"
)

// ErrProvider wraps non-2xx provider responses.
var ErrProvider = errors.New("email provider error")

type statusError struct {
	status int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("email provider status %d", e.status)
}

func (e *statusError) Unwrap() error { return ErrProvider }

// ResendConfig configures a Resend-compatible HTTP client.
type ResendConfig struct {
	APIKey     string
	From       string
	BaseURL    string
	HTTPClient *http.Client
	Executor   *resilience.Executor
}

// ResendSender posts messages to <BaseURL>/emails.
type ResendSender struct {
	cfg ResendConfig
}

func NewResendSender(cfg ResendConfig) (*ResendSender, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("mailer: EMAIL_API_KEY is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.resend.com"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.Executor == nil {
		cfg.Executor = resilience.NewExecutor(resilience.DefaultConfig())
	}
	return &ResendSender{cfg: cfg}, nil
}

type resendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

func (s *ResendSender) Send(ctx context.Context, msg Message) error {
	if err := msg.validate(); err != nil {
		return err
	}
	body, err := json.Marshal(resendRequest{From: s.cfg.From, To: msg.To, Subject: msg.Subject, HTML: msg.HTML})
	if err != nil {
		return err
	}

	var providerID string
	err = s.cfg.Executor.Do(ctx, "mail.send", func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+"/emails", bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.cfg.HTTPClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return &statusError{status: resp.StatusCode}
		}
		var out struct {
			ID string `json:"id"`
		}
		_ = json.Unmarshal(raw, &out)
		providerID = out.ID
		return nil
	}, classify)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	telemetry.Info("mail.sent", map[string]any{
		"provider_id": providerID,
		"recipients":  len(msg.To),
	})
	return nil
}

// classify retries transport errors, 429 and 5xx; other 4xx are caller errors.
func classify(err error) resilience.Outcome {
	var se *statusError
	if errors.As(err, &se) {
		if se.status == http.StatusTooManyRequests || se.status >= 500 {
			return resilience.Outcome{Retryable: true, RecordFailure: true}
		}
		return resilience.Outcome{}
	}
	if errors.Is(err, context.Canceled) {
		return resilience.Outcome{}
	}
	return resilience.Outcome{Retryable: true, RecordFailure: true}
}
