package queue

import (
	"context"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
)

// QueueGroup is the NATS queue group shared by classification workers.
const QueueGroup = "scan-classifiers"

type natsPublisher interface {
	Publish(subject string, data []byte) error
	FlushWithContext(ctx context.Context) error
}

// NATSClient publishes queue messages to a NATS subject.
type NATSClient struct {
	conn    natsPublisher
	subject string
}

// Connect dials NATS with reconnects enabled.
func Connect(url, name string) (*nats.Conn, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("NATS_URL is required")
	}
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return nc, nil
}

// NewNATSClient publishes on subject using conn.
func NewNATSClient(conn *nats.Conn, subject string) *NATSClient {
	return &NATSClient{conn: conn, subject: subject}
}

// Send publishes msg and flushes so a broken connection surfaces here.
func (n *NATSClient) Send(ctx context.Context, msg Message) error {
	payload, err := EncodeMessage(msg)
	if err != nil {
		return fmt.Errorf("encode nats message: %w", err)
	}
	if err := n.conn.Publish(n.subject, payload); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	if err := n.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}
	return nil
}

var _ Client = (*NATSClient)(nil)
