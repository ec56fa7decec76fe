package scanbatches

import "context"

// Repository persists scan batches and their documents. An empty tenantID
// on reads skips tenant scoping (queue workers and platform admins).
type Repository interface {
	CreateBatch(ctx context.Context, batch Batch, docs []Document) error
	GetBatch(ctx context.Context, tenantID, batchID string) (Batch, error)
	ListBatches(ctx context.Context, tenantID string, limit, offset int) ([]Batch, error)
	SetBatchStatus(ctx context.Context, batchID, status, errMsg string) error
	SetDocumentStatus(ctx context.Context, docID, status, errMsg string) error
	// CompleteClassification writes every document result and the batch row atomically.
	CompleteClassification(ctx context.Context, batchID string, outcome Outcome) error
	CorrectClassification(ctx context.Context, tenantID, batchID, docID, classification string) (Document, error)
	// DeleteBatch removes the batch and its documents and returns their file keys.
	DeleteBatch(ctx context.Context, tenantID, batchID string) ([]string, error)
}
