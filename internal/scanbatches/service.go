package scanbatches

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"brokercrm-backend/internal/extract"
	"brokercrm-backend/internal/llm"
	"brokercrm-backend/internal/queue"
	"brokercrm-backend/internal/shared/metrics"
	"brokercrm-backend/internal/shared/storage/object"
	"brokercrm-backend/internal/shared/telemetry"
	"brokercrm-backend/internal/shared/util"
	"brokercrm-backend/internal/usage"
)

const (
	MaxFilesPerBatch = 20
	MaxFileBytes     = 20 << 20
	excerptRunes     = 4000
)

var allowedMimeTypes = map[string]struct{}{
	extract.MimePDF: {},
	"image/jpeg":    {},
	"image/png":     {},
	"image/webp":    {},
}

// UsageRecorder increments tenant usage counters.
type UsageRecorder interface {
	Increment(ctx context.Context, tenantID, metric string, n int) (usage.Counter, error)
}

// Service owns scan batch storage and classification.
type Service struct {
	Repo       Repository
	Store      object.Store
	Classifier llm.Classifier
	Queue      queue.Client
	Usage      UsageRecorder
	Now        func() time.Time
}

// UploadFile is one file of a new batch.
type UploadFile struct {
	Name     string
	MimeType string
	Size     int64
	Body     io.Reader
}

// CreateInput describes a new batch.
type CreateInput struct {
	TenantID  string
	ClientID  string
	CreatedBy string
	Files     []UploadFile
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Create stores every file under the tenant's scan-batch prefix and records
// the batch with its documents in upload order.
func (s *Service) Create(ctx context.Context, in CreateInput) (Batch, error) {
	if !isUUID(in.TenantID) || (in.ClientID != "" && !isUUID(in.ClientID)) {
		return Batch{}, fmt.Errorf("%w: tenant or client id", ErrInvalidInput)
	}
	if len(in.Files) == 0 || len(in.Files) > MaxFilesPerBatch {
		return Batch{}, fmt.Errorf("%w: between 1 and %d files required", ErrInvalidInput, MaxFilesPerBatch)
	}

	now := s.now()
	batch := Batch{
		ID:             uuid.NewString(),
		TenantID:       in.TenantID,
		ClientID:       in.ClientID,
		CreatedBy:      in.CreatedBy,
		Status:         BatchPending,
		TotalDocuments: len(in.Files),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	docs := make([]Document, 0, len(in.Files))
	var stored []string
	cleanup := func() {
		if len(stored) == 0 {
			return
		}
		if err := s.Store.Delete(context.WithoutCancel(ctx), object.BucketDocuments, stored...); err != nil {
			telemetry.Warn("scan.create.cleanup_failed", map[string]any{"batch_id": batch.ID, "error": err})
		}
	}

	for i, f := range in.Files {
		name, err := util.SanitizeFileName(f.Name)
		if err != nil {
			cleanup()
			return Batch{}, fmt.Errorf("%w: file name %q", ErrInvalidInput, f.Name)
		}
		mimeType := extract.NormalizeMimeType(f.MimeType, name)
		if _, ok := allowedMimeTypes[mimeType]; !ok {
			cleanup()
			return Batch{}, fmt.Errorf("%w: unsupported file type %s", ErrInvalidInput, mimeType)
		}
		if f.Size > MaxFileBytes {
			cleanup()
			return Batch{}, fmt.Errorf("%w: %s exceeds %d bytes", ErrInvalidInput, name, MaxFileBytes)
		}

		docID := uuid.NewString()
		key := fmt.Sprintf("%s/scan-batches/%s/%s_%s", in.TenantID, batch.ID, uuid.NewString(), name)
		size, err := s.Store.Put(ctx, object.BucketDocuments, key, mimeType, io.LimitReader(f.Body, MaxFileBytes+1))
		if err != nil {
			cleanup()
			return Batch{}, fmt.Errorf("store %s: %w", name, err)
		}
		stored = append(stored, key)
		if size > MaxFileBytes {
			cleanup()
			return Batch{}, fmt.Errorf("%w: %s exceeds %d bytes", ErrInvalidInput, name, MaxFileBytes)
		}
		docs = append(docs, Document{
			ID:        docID,
			BatchID:   batch.ID,
			TenantID:  in.TenantID,
			Position:  i,
			FileKey:   key,
			FileName:  name,
			MimeType:  mimeType,
			SizeBytes: size,
			Status:    DocPending,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}

	if err := s.Repo.CreateBatch(ctx, batch, docs); err != nil {
		cleanup()
		return Batch{}, err
	}
	batch.Documents = docs
	telemetry.Info("scan.batch.created", map[string]any{
		"batch_id":  batch.ID,
		"tenant_id": batch.TenantID,
		"documents": len(docs),
	})
	return batch, nil
}

// Get returns a batch with its documents.
func (s *Service) Get(ctx context.Context, tenantID, batchID string) (Batch, error) {
	if !isUUID(batchID) {
		return Batch{}, ErrNotFound
	}
	return s.Repo.GetBatch(ctx, tenantID, batchID)
}

// List returns the tenant's batches, newest first.
func (s *Service) List(ctx context.Context, tenantID string, limit, offset int) ([]Batch, error) {
	if !isUUID(tenantID) {
		return nil, ErrInvalidInput
	}
	return s.Repo.ListBatches(ctx, tenantID, limit, offset)
}

// CorrectClassification overrides the model's classification of one document.
func (s *Service) CorrectClassification(ctx context.Context, tenantID, batchID, docID, classification string) (Document, error) {
	if !ValidClassification(classification) {
		return Document{}, fmt.Errorf("%w: classification %q", ErrInvalidInput, classification)
	}
	if !isUUID(batchID) || !isUUID(docID) {
		return Document{}, ErrNotFound
	}
	batch, err := s.Repo.GetBatch(ctx, tenantID, batchID)
	if err != nil {
		return Document{}, err
	}
	if batch.Status != BatchClassified {
		return Document{}, ErrInvalidState
	}
	return s.Repo.CorrectClassification(ctx, tenantID, batchID, docID, classification)
}

// Validate confirms a classified batch.
func (s *Service) Validate(ctx context.Context, tenantID, batchID string) (Batch, error) {
	batch, err := s.Get(ctx, tenantID, batchID)
	if err != nil {
		return Batch{}, err
	}
	if batch.Status != BatchClassified {
		return Batch{}, ErrInvalidState
	}
	if err := s.Repo.SetBatchStatus(ctx, batchID, BatchValidated, ""); err != nil {
		return Batch{}, err
	}
	return s.Repo.GetBatch(ctx, tenantID, batchID)
}

// Delete removes a batch and, best-effort, its stored files.
func (s *Service) Delete(ctx context.Context, tenantID, batchID string) error {
	if !isUUID(batchID) {
		return ErrNotFound
	}
	batch, err := s.Repo.GetBatch(ctx, tenantID, batchID)
	if err != nil {
		return err
	}
	if batch.Status == BatchProcessing {
		return ErrInvalidState
	}
	keys, err := s.Repo.DeleteBatch(ctx, tenantID, batchID)
	if err != nil {
		return err
	}
	if len(keys) > 0 {
		if err := s.Store.Delete(ctx, object.BucketDocuments, keys...); err != nil {
			telemetry.Warn("scan.batch.storage_cleanup_failed", map[string]any{
				"batch_id": batchID,
				"keys":     len(keys),
				"error":    err,
			})
		}
	}
	return nil
}

// Submit classifies a batch inline, or enqueues it when a queue is configured.
// It reports whether the work was queued.
func (s *Service) Submit(ctx context.Context, tenantID, batchID, requestID string) (Batch, bool, error) {
	if s.Queue == nil {
		b, err := s.Classify(ctx, tenantID, batchID)
		return b, false, err
	}
	batch, err := s.Get(ctx, tenantID, batchID)
	if err != nil {
		return Batch{}, false, err
	}
	if batch.Status == BatchValidated || batch.Status == BatchProcessing {
		return Batch{}, false, ErrInvalidState
	}
	if err := s.Queue.Send(ctx, queue.NewMessage(batchID, batch.TenantID, requestID, s.now())); err != nil {
		return Batch{}, false, fmt.Errorf("enqueue classification: %w", err)
	}
	telemetry.Info("scan.classify.enqueued", map[string]any{
		"batch_id":   batchID,
		"tenant_id":  batch.TenantID,
		"request_id": requestID,
	})
	return batch, true, nil
}

// ProcessBatch runs a queued classification job.
func (s *Service) ProcessBatch(ctx context.Context, batchID, tenantID, requestID string) error {
	_, err := s.Classify(ctx, tenantID, batchID)
	if errors.Is(err, ErrInvalidState) {
		telemetry.Warn("scan.classify.skipped", map[string]any{"batch_id": batchID, "request_id": requestID})
		return nil
	}
	return err
}

// Classify sends every downloadable document of the batch to the model in
// one call and writes the matched results back.
func (s *Service) Classify(ctx context.Context, tenantID, batchID string) (Batch, error) {
	start := time.Now()
	batch, err := s.Get(ctx, tenantID, batchID)
	if err != nil {
		return Batch{}, err
	}
	if batch.Status == BatchValidated || batch.Status == BatchProcessing {
		return Batch{}, ErrInvalidState
	}
	fields := map[string]any{"batch_id": batch.ID, "tenant_id": batch.TenantID, "documents": len(batch.Documents)}
	telemetry.Info("scan.classify.start", fields)

	if err := s.Repo.SetBatchStatus(ctx, batch.ID, BatchProcessing, ""); err != nil {
		return Batch{}, err
	}

	attachments := make([]llm.Attachment, 0, len(batch.Documents))
	sent := make([]string, 0, len(batch.Documents))
	for _, doc := range batch.Documents {
		if err := s.Repo.SetDocumentStatus(ctx, doc.ID, DocAnalyzing, ""); err != nil {
			return Batch{}, s.fail(ctx, batch, sent, start, err.Error(), err)
		}
		att, err := s.loadAttachment(ctx, doc)
		if err != nil {
			telemetry.Warn("scan.classify.download_failed", map[string]any{
				"batch_id":    batch.ID,
				"document_id": doc.ID,
				"error":       err,
			})
			metrics.AddDocuments(DocError, 1)
			if serr := s.Repo.SetDocumentStatus(ctx, doc.ID, DocError, "download failed"); serr != nil {
				return Batch{}, s.fail(ctx, batch, append(sent, doc.ID), start, serr.Error(), serr)
			}
			continue
		}
		attachments = append(attachments, att)
		sent = append(sent, doc.ID)
	}

	if len(attachments) == 0 {
		return Batch{}, s.fail(ctx, batch, nil, start, ErrNoDocumentsDownloaded.Error(), ErrNoDocumentsDownloaded)
	}

	raw, err := s.Classifier.ClassifyDocuments(ctx, llm.ClassifyInput{Attachments: attachments})
	if err != nil {
		return Batch{}, s.fail(ctx, batch, sent, start, userMessage(err), err)
	}

	resp, err := parseModelResponse(raw)
	if err != nil {
		return Batch{}, s.fail(ctx, batch, sent, start, "the AI response could not be read", err)
	}

	results, failures, unknown := matchResults(sent, resp)
	if len(unknown) > 0 {
		telemetry.Warn("scan.classify.unknown_ids", map[string]any{"batch_id": batch.ID, "ids": unknown})
	}
	outcome := Outcome{
		BatchStatus:   BatchClassified,
		Results:       results,
		Failures:      failures,
		Consolidation: resp.Consolidation,
	}
	if len(results) == 0 {
		outcome.BatchStatus = BatchError
		outcome.ErrorMessage = "no document matched the AI response"
	}
	if err := s.Repo.CompleteClassification(ctx, batch.ID, outcome); err != nil {
		return Batch{}, s.fail(ctx, batch, sent, start, "failed to save classification", err)
	}

	metrics.AddDocuments(DocClassified, len(results))
	metrics.AddDocuments(DocError, len(failures))
	metrics.IncBatch(outcome.BatchStatus)
	metrics.ObserveBatchDuration(time.Since(start))

	if len(results) > 0 && s.Usage != nil {
		if _, err := s.Usage.Increment(ctx, batch.TenantID, usage.MetricAIDocumentClassifications, len(results)); err != nil {
			telemetry.Warn("scan.classify.usage_failed", map[string]any{"batch_id": batch.ID, "error": err})
		}
	}

	fields["classified"] = len(results)
	fields["missing"] = len(failures)
	fields["status"] = outcome.BatchStatus
	fields["duration_ms"] = time.Since(start).Milliseconds()
	telemetry.Info("scan.classify.done", fields)

	return s.Repo.GetBatch(ctx, tenantID, batch.ID)
}

// fail marks the batch and its in-flight documents as errored and returns cause.
func (s *Service) fail(ctx context.Context, batch Batch, inFlight []string, start time.Time, message string, cause error) error {
	writeCtx := context.WithoutCancel(ctx)
	for _, id := range inFlight {
		if err := s.Repo.SetDocumentStatus(writeCtx, id, DocError, message); err != nil {
			telemetry.Error("scan.classify.status_write_failed", map[string]any{"batch_id": batch.ID, "document_id": id, "error": err})
		}
	}
	metrics.AddDocuments(DocError, len(inFlight))
	if err := s.Repo.SetBatchStatus(writeCtx, batch.ID, BatchError, message); err != nil {
		telemetry.Error("scan.classify.status_write_failed", map[string]any{"batch_id": batch.ID, "error": err})
	}
	metrics.IncBatch(BatchError)
	metrics.ObserveBatchDuration(time.Since(start))
	telemetry.Error("scan.classify.failed", map[string]any{
		"batch_id":  batch.ID,
		"tenant_id": batch.TenantID,
		"error":     cause,
	})
	return cause
}

func (s *Service) loadAttachment(ctx context.Context, doc Document) (llm.Attachment, error) {
	rc, err := s.Store.Open(ctx, object.BucketDocuments, doc.FileKey)
	if err != nil {
		return llm.Attachment{}, err
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, MaxFileBytes+1))
	if err != nil {
		return llm.Attachment{}, err
	}
	if len(data) == 0 {
		return llm.Attachment{}, errors.New("empty file")
	}
	if len(data) > MaxFileBytes {
		return llm.Attachment{}, fmt.Errorf("file exceeds %d bytes", MaxFileBytes)
	}

	encoded, err := encodeBase64(data)
	if err != nil {
		return llm.Attachment{}, err
	}
	att := llm.Attachment{
		DocumentID: doc.ID,
		FileName:   doc.FileName,
		MimeType:   doc.MimeType,
		Base64:     encoded,
	}
	if extract.Supported(doc.MimeType, doc.FileName) {
		if text, err := extract.Text(ctx, data, doc.MimeType, doc.FileName, excerptRunes); err == nil {
			att.TextExcerpt = text
		}
	}
	return att, nil
}

// encodeBase64 streams data through the encoder in fixed-size chunks.
func encodeBase64(data []byte) (string, error) {
	var sb strings.Builder
	sb.Grow(base64.StdEncoding.EncodedLen(len(data)))
	enc := base64.NewEncoder(base64.StdEncoding, &sb)
	const chunk = 32 << 10
	for off := 0; off < len(data); off += chunk {
		end := min(off+chunk, len(data))
		if _, err := enc.Write(data[off:end]); err != nil {
			return "", err
		}
	}
	if err := enc.Close(); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func userMessage(err error) string {
	switch {
	case errors.Is(err, llm.ErrRateLimited):
		return "AI rate limit reached, please try again later"
	case errors.Is(err, llm.ErrPaymentRequired):
		return "AI credits exhausted"
	case errors.Is(err, llm.ErrNotConfigured):
		return "AI classification is not configured"
	default:
		return "AI classification failed"
	}
}

func isUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
