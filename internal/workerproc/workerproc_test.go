package workerproc

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"brokercrm-backend/internal/queue"
	"brokercrm-backend/internal/shared/telemetry"
)

type fakeProcessor struct {
	err   error
	calls []string
}

func (f *fakeProcessor) ProcessBatch(ctx context.Context, batchID, tenantID, requestID string) error {
	f.calls = append(f.calls, batchID+"/"+tenantID)
	return f.err
}

func encode(t *testing.T, msg queue.Message) string {
	t.Helper()
	body, err := queue.EncodeMessage(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return string(body)
}

func TestHandleMessage(t *testing.T) {
	defer telemetry.SetOutput(io.Discard)()

	valid := encode(t, queue.NewMessage("b1", "t1", "r1", time.Now()))
	tests := []struct {
		name            string
		body            string
		procErr         error
		wantCalls       int
		wantErr         bool
		wantUnrecovered bool
	}{
		{name: "success", body: valid, wantCalls: 1},
		{name: "processing failure is retryable", body: valid, procErr: errors.New("boom"), wantCalls: 1, wantErr: true},
		{name: "empty body", body: "  ", wantErr: true, wantUnrecovered: true},
		{name: "invalid json", body: "{", wantErr: true, wantUnrecovered: true},
		{name: "missing tenant", body: encode(t, queue.Message{BatchID: "b1"}), wantErr: true, wantUnrecovered: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proc := &fakeProcessor{err: tt.procErr}
			err := HandleMessage(context.Background(), proc, tt.body)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err=%v wantErr=%v", err, tt.wantErr)
			}
			if Unrecoverable(err) != tt.wantUnrecovered {
				t.Fatalf("Unrecoverable(%v)=%v want %v", err, Unrecoverable(err), tt.wantUnrecovered)
			}
			if len(proc.calls) != tt.wantCalls {
				t.Fatalf("expected %d calls, got %d", tt.wantCalls, len(proc.calls))
			}
		})
	}
}

func TestComputeMeta(t *testing.T) {
	if meta := ComputeMeta(""); meta.BodyLen != 0 || meta.BodySHA != "" {
		t.Fatalf("unexpected meta for empty body: %+v", meta)
	}
	if meta := ComputeMeta("abc"); meta.BodyLen != 3 || len(meta.BodySHA) != 64 {
		t.Fatalf("unexpected meta: %+v", meta)
	}
}
