package scanbatches

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is an in-memory Repository for dev and tests.
type MemoryRepo struct {
	mu      sync.Mutex
	batches map[string]Batch
	docs    map[string]Document
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		batches: make(map[string]Batch),
		docs:    make(map[string]Document),
	}
}

func (r *MemoryRepo) CreateBatch(ctx context.Context, batch Batch, docs []Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	batch.Documents = nil
	r.batches[batch.ID] = batch
	for _, d := range docs {
		r.docs[d.ID] = d
	}
	return nil
}

func (r *MemoryRepo) GetBatch(ctx context.Context, tenantID, batchID string) (Batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.batches[batchID]
	if !ok || (tenantID != "" && b.TenantID != tenantID) {
		return Batch{}, ErrNotFound
	}
	b.Documents = r.documentsLocked(batchID)
	return b, nil
}

func (r *MemoryRepo) ListBatches(ctx context.Context, tenantID string, limit, offset int) ([]Batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []Batch{}
	for _, b := range r.batches {
		if b.TenantID == tenantID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return []Batch{}, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepo) SetBatchStatus(ctx context.Context, batchID, status, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.batches[batchID]
	if !ok {
		return ErrNotFound
	}
	b.Status, b.ErrorMessage, b.UpdatedAt = status, errMsg, time.Now().UTC()
	r.batches[batchID] = b
	return nil
}

func (r *MemoryRepo) SetDocumentStatus(ctx context.Context, docID, status, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.docs[docID]
	if !ok {
		return ErrNotFound
	}
	d.Status, d.ErrorMessage, d.UpdatedAt = status, errMsg, time.Now().UTC()
	r.docs[docID] = d
	return nil
}

func (r *MemoryRepo) CompleteClassification(ctx context.Context, batchID string, outcome Outcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.batches[batchID]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	for _, res := range outcome.Results {
		d, ok := r.docs[res.DocumentID]
		if !ok || d.BatchID != batchID {
			continue
		}
		conf := res.Confidence
		d.Status = DocClassified
		d.Classification = res.Classification
		d.ClassificationConfidence = &conf
		d.ClassificationCorrected = false
		d.ExtractedSummary = res.Summary
		d.ExtractedData = res.ExtractedData
		d.ErrorMessage = ""
		d.UpdatedAt = now
		r.docs[d.ID] = d
	}
	for _, f := range outcome.Failures {
		d, ok := r.docs[f.DocumentID]
		if !ok || d.BatchID != batchID {
			continue
		}
		d.Status, d.ErrorMessage, d.UpdatedAt = DocError, f.Message, now
		r.docs[d.ID] = d
	}
	b.Status = outcome.BatchStatus
	b.DocumentsClassified = len(outcome.Results)
	b.ConsolidationSummary = outcome.Consolidation
	b.ErrorMessage = outcome.ErrorMessage
	b.UpdatedAt = now
	r.batches[batchID] = b
	return nil
}

func (r *MemoryRepo) CorrectClassification(ctx context.Context, tenantID, batchID, docID, classification string) (Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.docs[docID]
	if !ok || d.BatchID != batchID || (tenantID != "" && d.TenantID != tenantID) {
		return Document{}, ErrNotFound
	}
	d.Classification = classification
	d.ClassificationCorrected = true
	d.UpdatedAt = time.Now().UTC()
	r.docs[docID] = d
	return d, nil
}

func (r *MemoryRepo) DeleteBatch(ctx context.Context, tenantID, batchID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.batches[batchID]
	if !ok || (tenantID != "" && b.TenantID != tenantID) {
		return nil, ErrNotFound
	}
	var keys []string
	for _, d := range r.documentsLocked(batchID) {
		keys = append(keys, d.FileKey)
		delete(r.docs, d.ID)
	}
	delete(r.batches, batchID)
	return keys, nil
}

func (r *MemoryRepo) documentsLocked(batchID string) []Document {
	docs := []Document{}
	for _, d := range r.docs {
		if d.BatchID == batchID {
			docs = append(docs, d)
		}
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Position < docs[j].Position })
	return docs
}
