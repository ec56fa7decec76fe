package scanbatches

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/google/uuid"

	"brokercrm-backend/internal/llm"
	"brokercrm-backend/internal/queue"
	"brokercrm-backend/internal/shared/storage/object"
	"brokercrm-backend/internal/shared/storage/object/local"
	"brokercrm-backend/internal/shared/telemetry"
	"brokercrm-backend/internal/usage"
)

type fakeClassifier struct {
	respond func(in llm.ClassifyInput) (string, error)
	inputs  []llm.ClassifyInput
}

func (f *fakeClassifier) ClassifyDocuments(ctx context.Context, in llm.ClassifyInput) (string, error) {
	f.inputs = append(f.inputs, in)
	return f.respond(in)
}

// respondWith echoes the attachment ids with the given classifications in order.
func respondWith(classes ...string) func(llm.ClassifyInput) (string, error) {
	return func(in llm.ClassifyInput) (string, error) {
		var entries []string
		for i, a := range in.Attachments {
			if i >= len(classes) {
				break
			}
			entries = append(entries, fmt.Sprintf(
				`{"document_id":%q,"classification":%q,"confidence":0.9,"summary":"doc %d","extracted_data":{"holder_name":"Anna Muster"}}`,
				a.DocumentID, classes[i], i))
		}
		return "```json\n{\"documents\":[" + strings.Join(entries, ",") + "]," +
			`"consolidation":{"primary_holder_found":true,"old_documents_count":0,"new_documents_count":1,"has_termination":false,"recommended_action":"Create policy"}}` +
			"\n```", nil
	}
}

type fakeQueue struct {
	sent []queue.Message
}

func (f *fakeQueue) Send(ctx context.Context, msg queue.Message) error {
	f.sent = append(f.sent, msg)
	return nil
}

type fixture struct {
	svc        *Service
	repo       *MemoryRepo
	store      *local.Store
	classifier *fakeClassifier
	usage      *usage.Service
	tenantID   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	restore := telemetry.SetOutput(io.Discard)
	t.Cleanup(restore)

	f := &fixture{
		repo:       NewMemoryRepo(),
		store:      local.New(t.TempDir()),
		classifier: &fakeClassifier{respond: respondWith()},
		usage:      usage.NewService(),
		tenantID:   uuid.NewString(),
	}
	f.svc = &Service{Repo: f.repo, Store: f.store, Classifier: f.classifier, Usage: f.usage}
	return f
}

func (f *fixture) createBatch(t *testing.T, names ...string) Batch {
	t.Helper()
	files := make([]UploadFile, 0, len(names))
	for _, n := range names {
		files = append(files, UploadFile{Name: n, Body: strings.NewReader("content of " + n)})
	}
	batch, err := f.svc.Create(context.Background(), CreateInput{TenantID: f.tenantID, CreatedBy: "u1", Files: files})
	if err != nil {
		t.Fatalf("create batch: %v", err)
	}
	return batch
}

func TestClassifyTwoFileScenario(t *testing.T) {
	f := newFixture(t)
	f.classifier.respond = respondWith(ClassIdentityDoc, ClassNewContract)
	batch := f.createBatch(t, "passport.jpg", "offer.png")

	got, err := f.svc.Classify(context.Background(), f.tenantID, batch.ID)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if got.Status != BatchClassified || got.DocumentsClassified != 2 {
		t.Fatalf("unexpected batch status=%s classified=%d", got.Status, got.DocumentsClassified)
	}
	if got.Documents[0].Classification != ClassIdentityDoc || got.Documents[1].Classification != ClassNewContract {
		t.Fatalf("unexpected classifications %+v", got.Documents)
	}
	for _, d := range got.Documents {
		if d.Status != DocClassified || d.ClassificationConfidence == nil {
			t.Fatalf("document not classified: %+v", d)
		}
	}
	var summary map[string]any
	if err := json.Unmarshal(got.ConsolidationSummary, &summary); err != nil || summary["primary_holder_found"] != true {
		t.Fatalf("unexpected consolidation %s (%v)", got.ConsolidationSummary, err)
	}

	in := f.classifier.inputs[0]
	if len(in.Attachments) != 2 || in.Attachments[0].DocumentID != batch.Documents[0].ID {
		t.Fatalf("attachments not in upload order: %+v", in.Attachments)
	}
	decoded, _ := base64.StdEncoding.DecodeString(in.Attachments[0].Base64)
	if string(decoded) != "content of passport.jpg" {
		t.Fatalf("unexpected attachment body %q", decoded)
	}

	counters, _ := f.usage.Get(context.Background(), f.tenantID, "")
	if len(counters) != 1 || counters[0].Used != 2 {
		t.Fatalf("expected usage of 2, got %+v", counters)
	}
}

func TestClassifyShorterResponseMarksRemainingDocumentsError(t *testing.T) {
	f := newFixture(t)
	f.classifier.respond = respondWith(ClassOldPolicy)
	batch := f.createBatch(t, "a.pdf", "b.pdf", "c.pdf")

	got, err := f.svc.Classify(context.Background(), f.tenantID, batch.ID)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if got.Status != BatchClassified || got.DocumentsClassified != 1 {
		t.Fatalf("unexpected batch %+v", got)
	}
	if got.Documents[0].Status != DocClassified {
		t.Fatalf("first document should be classified: %+v", got.Documents[0])
	}
	for _, d := range got.Documents[1:] {
		if d.Status != DocError || d.ErrorMessage != "missing from model response" {
			t.Fatalf("expected missing document error, got %+v", d)
		}
	}
}

func TestClassifySkipsDocumentsThatFailToDownload(t *testing.T) {
	f := newFixture(t)
	f.classifier.respond = respondWith(ClassTermination)
	batch := f.createBatch(t, "gone.pdf", "kept.pdf")
	if err := f.store.Delete(context.Background(), object.BucketDocuments, batch.Documents[0].FileKey); err != nil {
		t.Fatalf("delete: %v", err)
	}

	got, err := f.svc.Classify(context.Background(), f.tenantID, batch.ID)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if got.Documents[0].Status != DocError || got.Documents[0].ErrorMessage != "download failed" {
		t.Fatalf("expected download failure, got %+v", got.Documents[0])
	}
	if got.Documents[1].Classification != ClassTermination || got.DocumentsClassified != 1 {
		t.Fatalf("expected second document classified, got %+v", got)
	}
}

func TestClassifyFailures(t *testing.T) {
	tests := []struct {
		name        string
		respond     func(llm.ClassifyInput) (string, error)
		dropFiles   bool
		wantErr     error
		wantMessage string
	}{
		{
			name:        "no downloadable documents",
			respond:     respondWith(ClassOther),
			dropFiles:   true,
			wantErr:     ErrNoDocumentsDownloaded,
			wantMessage: ErrNoDocumentsDownloaded.Error(),
		},
		{
			name:        "rate limited",
			respond:     func(llm.ClassifyInput) (string, error) { return "", fmt.Errorf("%w: 429", llm.ErrRateLimited) },
			wantErr:     llm.ErrRateLimited,
			wantMessage: "AI rate limit reached, please try again later",
		},
		{
			name:        "credits exhausted",
			respond:     func(llm.ClassifyInput) (string, error) { return "", llm.ErrPaymentRequired },
			wantErr:     llm.ErrPaymentRequired,
			wantMessage: "AI credits exhausted",
		},
		{
			name:        "unparseable response",
			respond:     func(llm.ClassifyInput) (string, error) { return "Sorry, I cannot help.", nil },
			wantErr:     ErrInvalidModelResponse,
			wantMessage: "the AI response could not be read",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.classifier.respond = tt.respond
			batch := f.createBatch(t, "a.pdf", "b.jpg")
			if tt.dropFiles {
				for _, d := range batch.Documents {
					_ = f.store.Delete(context.Background(), object.BucketDocuments, d.FileKey)
				}
			}

			_, err := f.svc.Classify(context.Background(), f.tenantID, batch.ID)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			got, _ := f.repo.GetBatch(context.Background(), f.tenantID, batch.ID)
			if got.Status != BatchError || got.ErrorMessage != tt.wantMessage {
				t.Fatalf("unexpected batch status=%s message=%q", got.Status, got.ErrorMessage)
			}
			for _, d := range got.Documents {
				if d.Status != DocError {
					t.Fatalf("document %s left in status %s", d.FileName, d.Status)
				}
				if !tt.dropFiles && d.ErrorMessage != tt.wantMessage {
					t.Fatalf("document %s message=%q, want %q", d.FileName, d.ErrorMessage, tt.wantMessage)
				}
			}
		})
	}
}

func TestClassifyRejectsBatchAlreadyProcessing(t *testing.T) {
	f := newFixture(t)
	f.classifier.respond = respondWith(ClassOther)
	batch := f.createBatch(t, "a.pdf")
	if err := f.repo.SetBatchStatus(context.Background(), batch.ID, BatchProcessing, ""); err != nil {
		t.Fatalf("set status: %v", err)
	}

	_, queued, err := f.svc.Submit(context.Background(), f.tenantID, batch.ID, "req-2")
	if !errors.Is(err, ErrInvalidState) || queued {
		t.Fatalf("expected ErrInvalidState inline, got queued=%v err=%v", queued, err)
	}
	if _, err := f.svc.Classify(context.Background(), f.tenantID, batch.ID); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	if len(f.classifier.inputs) != 0 {
		t.Fatalf("classifier must not run for a batch already processing")
	}
	got, _ := f.repo.GetBatch(context.Background(), f.tenantID, batch.ID)
	if got.Status != BatchProcessing {
		t.Fatalf("expected status to stay processing, got %s", got.Status)
	}
}

func TestClassifyNoMatchingIDsMarksBatchError(t *testing.T) {
	f := newFixture(t)
	f.classifier.respond = func(llm.ClassifyInput) (string, error) {
		return `{"documents":[{"document_id":"invented","classification":"other","confidence":0.3}]}`, nil
	}
	batch := f.createBatch(t, "a.pdf")

	got, err := f.svc.Classify(context.Background(), f.tenantID, batch.ID)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if got.Status != BatchError || got.DocumentsClassified != 0 || got.Documents[0].Status != DocError {
		t.Fatalf("unexpected batch %+v", got)
	}
}

func TestClassifyOtherTenantNotFound(t *testing.T) {
	f := newFixture(t)
	batch := f.createBatch(t, "a.pdf")
	if _, err := f.svc.Classify(context.Background(), uuid.NewString(), batch.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateValidatesAndCleansUp(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Create(context.Background(), CreateInput{
		TenantID: f.tenantID,
		Files: []UploadFile{
			{Name: "ok.pdf", Body: strings.NewReader("x")},
			{Name: "macro.xlsm", MimeType: "application/vnd.ms-excel", Body: strings.NewReader("y")},
		},
	})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	batches, _ := f.repo.ListBatches(context.Background(), f.tenantID, 10, 0)
	if len(batches) != 0 {
		t.Fatalf("no batch should be recorded, got %d", len(batches))
	}

	if _, err := f.svc.Create(context.Background(), CreateInput{TenantID: "not-a-uuid", Files: []UploadFile{{Name: "a.pdf", Body: strings.NewReader("x")}}}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for bad tenant, got %v", err)
	}
}

func TestCreateStoresUnderTenantPrefix(t *testing.T) {
	f := newFixture(t)
	batch := f.createBatch(t, "Police 2026.pdf")
	doc := batch.Documents[0]
	wantPrefix := f.tenantID + "/scan-batches/" + batch.ID + "/"
	if !strings.HasPrefix(doc.FileKey, wantPrefix) || !strings.HasSuffix(doc.FileKey, "_Police 2026.pdf") {
		t.Fatalf("unexpected key %s", doc.FileKey)
	}
	if doc.MimeType != "application/pdf" || doc.Status != DocPending || batch.TotalDocuments != 1 {
		t.Fatalf("unexpected document %+v", doc)
	}
}

func TestCorrectValidateAndDelete(t *testing.T) {
	f := newFixture(t)
	f.classifier.respond = respondWith(ClassOther)
	batch := f.createBatch(t, "a.pdf")
	ctx := context.Background()
	docID := batch.Documents[0].ID

	if _, err := f.svc.Validate(ctx, f.tenantID, batch.ID); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("pending batch must not validate, got %v", err)
	}
	if _, err := f.svc.Classify(ctx, f.tenantID, batch.ID); err != nil {
		t.Fatalf("classify: %v", err)
	}
	if _, err := f.svc.CorrectClassification(ctx, f.tenantID, batch.ID, docID, "passport"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	doc, err := f.svc.CorrectClassification(ctx, f.tenantID, batch.ID, docID, ClassArticle45)
	if err != nil {
		t.Fatalf("correct: %v", err)
	}
	if !doc.ClassificationCorrected || doc.Classification != ClassArticle45 {
		t.Fatalf("unexpected corrected doc %+v", doc)
	}
	validated, err := f.svc.Validate(ctx, f.tenantID, batch.ID)
	if err != nil || validated.Status != BatchValidated {
		t.Fatalf("validate: %+v %v", validated, err)
	}
	if _, err := f.svc.Classify(ctx, f.tenantID, batch.ID); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("validated batch must not be reclassified, got %v", err)
	}

	if err := f.svc.Delete(ctx, f.tenantID, batch.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := f.store.Open(ctx, object.BucketDocuments, batch.Documents[0].FileKey); !errors.Is(err, object.ErrNotFound) {
		t.Fatalf("expected stored file removed, got %v", err)
	}
	if _, err := f.svc.Get(ctx, f.tenantID, batch.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestSubmitEnqueuesWhenQueueConfigured(t *testing.T) {
	f := newFixture(t)
	q := &fakeQueue{}
	f.svc.Queue = q
	batch := f.createBatch(t, "a.pdf")

	_, queued, err := f.svc.Submit(context.Background(), f.tenantID, batch.ID, "req-1")
	if err != nil || !queued {
		t.Fatalf("expected queued submit, got queued=%v err=%v", queued, err)
	}
	if len(q.sent) != 1 || q.sent[0].BatchID != batch.ID || q.sent[0].TenantID != f.tenantID || q.sent[0].RequestID != "req-1" {
		t.Fatalf("unexpected messages %+v", q.sent)
	}
	if len(f.classifier.inputs) != 0 {
		t.Fatalf("classifier must not run inline when queued")
	}
}

func TestEncodeBase64MatchesStdEncoding(t *testing.T) {
	data := bytes.Repeat([]byte("0123456789abcdef"), 10000)
	got, err := encodeBase64(data)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if got != base64.StdEncoding.EncodeToString(data) {
		t.Fatalf("chunked encoding differs from one-shot encoding")
	}
}
