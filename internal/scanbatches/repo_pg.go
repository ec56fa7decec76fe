package scanbatches

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"brokercrm-backend/internal/shared/storage/db"
)

// PGRepo implements Repository using Postgres.
type PGRepo struct {
	DB *sql.DB
}

func NewPGRepo(conn *sql.DB) *PGRepo {
	return &PGRepo{DB: conn}
}

const batchColumns = `id, tenant_id, COALESCE(client_id::text, ''), COALESCE(created_by, ''), status,
total_documents, documents_classified, consolidation_summary, COALESCE(error_message, ''), created_at, updated_at`

const documentColumns = `id, batch_id, tenant_id, position, file_key, file_name, mime_type, size_bytes, status,
COALESCE(document_classification, ''), classification_confidence, classification_corrected,
COALESCE(extracted_summary, ''), extracted_data, COALESCE(error_message, ''), created_at, updated_at`

func (r *PGRepo) CreateBatch(ctx context.Context, batch Batch, docs []Document) error {
	return db.WithTx(ctx, r.DB, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
INSERT INTO scan_batches (id, tenant_id, client_id, created_by, status, total_documents, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`,
			batch.ID, batch.TenantID, db.NullString(batch.ClientID), db.NullString(batch.CreatedBy),
			batch.Status, batch.TotalDocuments, batch.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert scan batch: %w", err)
		}
		for _, d := range docs {
			_, err := tx.ExecContext(ctx, `
INSERT INTO scan_batch_documents (id, batch_id, tenant_id, position, file_key, file_name, mime_type, size_bytes, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)`,
				d.ID, d.BatchID, d.TenantID, d.Position, d.FileKey, d.FileName, d.MimeType, d.SizeBytes, d.Status, d.CreatedAt)
			if err != nil {
				return fmt.Errorf("insert scan batch document: %w", err)
			}
		}
		return nil
	})
}

func (r *PGRepo) GetBatch(ctx context.Context, tenantID, batchID string) (Batch, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+batchColumns+`
FROM scan_batches
WHERE id = $1 AND ($2 = '' OR tenant_id::text = $2)`, batchID, tenantID)
	b, err := scanBatch(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Batch{}, ErrNotFound
		}
		return Batch{}, fmt.Errorf("get scan batch: %w", err)
	}

	rows, err := r.DB.QueryContext(ctx, `SELECT `+documentColumns+`
FROM scan_batch_documents
WHERE batch_id = $1
ORDER BY position`, batchID)
	if err != nil {
		return Batch{}, fmt.Errorf("list scan batch documents: %w", err)
	}
	defer rows.Close()
	b.Documents = []Document{}
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return Batch{}, err
		}
		b.Documents = append(b.Documents, d)
	}
	return b, rows.Err()
}

func (r *PGRepo) ListBatches(ctx context.Context, tenantID string, limit, offset int) ([]Batch, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+batchColumns+`
FROM scan_batches
WHERE tenant_id = $1
ORDER BY created_at DESC
LIMIT $2 OFFSET $3`, tenantID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list scan batches: %w", err)
	}
	defer rows.Close()
	out := []Batch{}
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *PGRepo) SetBatchStatus(ctx context.Context, batchID, status, errMsg string) error {
	res, err := r.DB.ExecContext(ctx, `
UPDATE scan_batches SET status = $2, error_message = $3, updated_at = now()
WHERE id = $1`, batchID, status, db.NullString(errMsg))
	if err != nil {
		return fmt.Errorf("update scan batch status: %w", err)
	}
	return requireRow(res)
}

func (r *PGRepo) SetDocumentStatus(ctx context.Context, docID, status, errMsg string) error {
	res, err := r.DB.ExecContext(ctx, `
UPDATE scan_batch_documents SET status = $2, error_message = $3, updated_at = now()
WHERE id = $1`, docID, status, db.NullString(errMsg))
	if err != nil {
		return fmt.Errorf("update scan document status: %w", err)
	}
	return requireRow(res)
}

func (r *PGRepo) CompleteClassification(ctx context.Context, batchID string, outcome Outcome) error {
	return db.WithTx(ctx, r.DB, func(tx *sql.Tx) error {
		for _, res := range outcome.Results {
			_, err := tx.ExecContext(ctx, `
UPDATE scan_batch_documents
SET status = 'classified', document_classification = $3, classification_confidence = $4,
    classification_corrected = false, extracted_summary = $5, extracted_data = $6,
    error_message = NULL, updated_at = now()
WHERE id = $1 AND batch_id = $2`,
				res.DocumentID, batchID, res.Classification, res.Confidence,
				db.NullString(res.Summary), nullJSON(res.ExtractedData))
			if err != nil {
				return fmt.Errorf("write classification %s: %w", res.DocumentID, err)
			}
		}
		for _, f := range outcome.Failures {
			_, err := tx.ExecContext(ctx, `
UPDATE scan_batch_documents SET status = 'error', error_message = $3, updated_at = now()
WHERE id = $1 AND batch_id = $2`, f.DocumentID, batchID, f.Message)
			if err != nil {
				return fmt.Errorf("write document failure %s: %w", f.DocumentID, err)
			}
		}
		res, err := tx.ExecContext(ctx, `
UPDATE scan_batches
SET status = $2, documents_classified = $3, consolidation_summary = $4, error_message = $5, updated_at = now()
WHERE id = $1`, batchID, outcome.BatchStatus, len(outcome.Results),
			nullJSON(outcome.Consolidation), db.NullString(outcome.ErrorMessage))
		if err != nil {
			return fmt.Errorf("write batch result: %w", err)
		}
		return requireRow(res)
	})
}

func (r *PGRepo) CorrectClassification(ctx context.Context, tenantID, batchID, docID, classification string) (Document, error) {
	row := r.DB.QueryRowContext(ctx, `
UPDATE scan_batch_documents
SET document_classification = $4, classification_corrected = true, updated_at = now()
WHERE id = $1 AND batch_id = $2 AND ($3 = '' OR tenant_id::text = $3)
RETURNING `+documentColumns, docID, batchID, tenantID, classification)
	d, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Document{}, ErrNotFound
		}
		return Document{}, fmt.Errorf("correct classification: %w", err)
	}
	return d, nil
}

func (r *PGRepo) DeleteBatch(ctx context.Context, tenantID, batchID string) ([]string, error) {
	var keys []string
	err := db.WithTx(ctx, r.DB, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
SELECT d.file_key FROM scan_batch_documents d
JOIN scan_batches b ON b.id = d.batch_id
WHERE b.id = $1 AND ($2 = '' OR b.tenant_id::text = $2)
ORDER BY d.position`, batchID, tenantID)
		if err != nil {
			return fmt.Errorf("collect file keys: %w", err)
		}
		for rows.Next() {
			var k string
			if err := rows.Scan(&k); err != nil {
				rows.Close()
				return err
			}
			keys = append(keys, k)
		}
		if err := rows.Close(); err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, `
DELETE FROM scan_batches WHERE id = $1 AND ($2 = '' OR tenant_id::text = $2)`, batchID, tenantID)
		if err != nil {
			return fmt.Errorf("delete scan batch: %w", err)
		}
		return requireRow(res)
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBatch(row rowScanner) (Batch, error) {
	var (
		b       Batch
		summary []byte
	)
	err := row.Scan(&b.ID, &b.TenantID, &b.ClientID, &b.CreatedBy, &b.Status,
		&b.TotalDocuments, &b.DocumentsClassified, &summary, &b.ErrorMessage, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return Batch{}, err
	}
	if len(summary) > 0 {
		b.ConsolidationSummary = summary
	}
	return b, nil
}

func scanDocument(row rowScanner) (Document, error) {
	var (
		d          Document
		confidence sql.NullFloat64
		data       []byte
	)
	err := row.Scan(&d.ID, &d.BatchID, &d.TenantID, &d.Position, &d.FileKey, &d.FileName, &d.MimeType,
		&d.SizeBytes, &d.Status, &d.Classification, &confidence, &d.ClassificationCorrected,
		&d.ExtractedSummary, &data, &d.ErrorMessage, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return Document{}, err
	}
	if confidence.Valid {
		v := confidence.Float64
		d.ClassificationConfidence = &v
	}
	if len(data) > 0 {
		d.ExtractedData = data
	}
	return d, nil
}

func nullJSON(raw []byte) any {
	if isJSONNull(raw) {
		return nil
	}
	return string(raw)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
