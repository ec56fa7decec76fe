package workerproc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"brokercrm-backend/internal/queue"
	"brokercrm-backend/internal/shared/telemetry"
)

// Processor classifies one scan batch.
type Processor interface {
	ProcessBatch(ctx context.Context, batchID, tenantID, requestID string) error
}

// MessageMeta captures details useful for logging and diagnostics.
type MessageMeta struct {
	BodyLen int
	BodySHA string
}

// ComputeMeta returns the body length and SHA-256 hash.
func ComputeMeta(body string) MessageMeta {
	if body == "" {
		return MessageMeta{}
	}
	sum := sha256.Sum256([]byte(body))
	return MessageMeta{BodyLen: len(body), BodySHA: hex.EncodeToString(sum[:])}
}

// ErrEmptyBody indicates an empty queue payload.
type ErrEmptyBody struct {
	Meta MessageMeta
}

func (e ErrEmptyBody) Error() string { return "empty message body" }

// ErrDecode indicates a JSON decode failure.
type ErrDecode struct {
	Meta MessageMeta
	Err  error
}

func (e ErrDecode) Error() string {
	if e.Err == nil {
		return "decode message"
	}
	return "decode message: " + e.Err.Error()
}

func (e ErrDecode) Unwrap() error { return e.Err }

// ErrMissingBatchID indicates a message without batch or tenant id.
type ErrMissingBatchID struct {
	Meta      MessageMeta
	RequestID string
}

func (e ErrMissingBatchID) Error() string { return "missing batch or tenant id" }

// ErrProcess indicates processing failed after successful parsing.
type ErrProcess struct {
	BatchID   string
	RequestID string
	Err       error
}

func (e ErrProcess) Error() string {
	if e.Err == nil {
		return "process batch"
	}
	return "process batch: " + e.Err.Error()
}

func (e ErrProcess) Unwrap() error { return e.Err }

// Unrecoverable reports whether err means the message can never succeed and
// should be dropped rather than redelivered.
func Unrecoverable(err error) bool {
	var (
		empty   ErrEmptyBody
		decode  ErrDecode
		missing ErrMissingBatchID
	)
	return errors.As(err, &empty) || errors.As(err, &decode) || errors.As(err, &missing)
}

// ParseMessage validates and decodes the queue payload.
func ParseMessage(body string) (queue.Message, MessageMeta, error) {
	meta := ComputeMeta(body)
	if strings.TrimSpace(body) == "" {
		return queue.Message{}, meta, ErrEmptyBody{Meta: meta}
	}

	msg, err := queue.DecodeMessage([]byte(body))
	if err != nil {
		return queue.Message{}, meta, ErrDecode{Meta: meta, Err: err}
	}
	if strings.TrimSpace(msg.BatchID) == "" || strings.TrimSpace(msg.TenantID) == "" {
		return msg, meta, ErrMissingBatchID{Meta: meta, RequestID: msg.RequestID}
	}
	return msg, meta, nil
}

// HandleMessage parses, validates and processes a message payload.
func HandleMessage(ctx context.Context, processor Processor, body string) error {
	if processor == nil {
		return errors.New("batch processor not configured")
	}
	msg, meta, err := ParseMessage(body)
	if err != nil {
		fields := map[string]any{"body_len": meta.BodyLen, "error": err}
		if meta.BodySHA != "" {
			fields["body_sha256"] = meta.BodySHA
		}
		telemetry.Error("worker.batch.invalid_message", fields)
		return err
	}

	fields := map[string]any{"batch_id": msg.BatchID, "tenant_id": msg.TenantID, "request_id": msg.RequestID}
	telemetry.Info("worker.batch.received", fields)
	if err := processor.ProcessBatch(ctx, msg.BatchID, msg.TenantID, msg.RequestID); err != nil {
		fields["error"] = err
		telemetry.Error("worker.batch.failed", fields)
		return ErrProcess{BatchID: msg.BatchID, RequestID: msg.RequestID, Err: err}
	}
	telemetry.Info("worker.batch.completed", fields)
	return nil
}
