package queue

import "context"

// Client enqueues scan-batch classification jobs on SQS or NATS.
type Client interface {
	Send(ctx context.Context, msg Message) error
}

var (
	_ Client = (*SQSClient)(nil)
	_ Client = (*NATSClient)(nil)
)
