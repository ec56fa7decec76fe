// Package mailer sends transactional email.
package mailer

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"strings"

	"brokercrm-backend/internal/shared/telemetry"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

var ErrInvalidMessage = errors.New("invalid email message")

// Message is a single outbound email.
type Message struct {
	To      []string
	Subject string
	HTML    string
}

// Sender delivers messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// ActivationData fills the tenant activation template.
type ActivationData struct {
	TenantName     string
	AdminName      string
	ResetURL       string
	ExpiresInHours int
}

// ActivationEmail renders the welcome email for a newly activated tenant admin.
func ActivationEmail(to string, data ActivationData) (Message, error) {
	if data.AdminName == "" {
		data.AdminName = to
	}
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, "activation.html", data); err != nil {
		return Message{}, fmt.Errorf("render activation email: %w", err)
	}
	return Message{
		To:      []string{to},
		Subject: fmt.Sprintf("%s: your account is ready", data.TenantName),
		HTML:    buf.String(),
	}, nil
}

func (m Message) validate() error {
	if len(m.To) == 0 || strings.TrimSpace(m.Subject) == "" {
		return ErrInvalidMessage
	}
	for _, to := range m.To {
		if !strings.Contains(to, "@") {
			return ErrInvalidMessage
		}
	}
	return nil
}

// LogSender logs messages instead of sending them. Bodies are omitted since
// they may carry reset links.
type LogSender struct{}

func (LogSender) Send(ctx context.Context, msg Message) error {
	if err := msg.validate(); err != nil {
		return err
	}
	telemetry.Info("mail.logged", map[string]any{
		"to":      strings.Join(msg.To, ","),
		"subject": msg.Subject,
	})
	return nil
}
