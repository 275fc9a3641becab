package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/visaforge/engine/internal/core/domain"
)

// DocumentRepository is the persistent document ledger: one row per
// (application, document type).
type DocumentRepository struct {
	db *sql.DB
}

func NewDocumentRepository(db *sql.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

const documentColumns = `id, application_id, document_type, filename, mime_type, storage_path, uploaded, required, processed, extracted_text, extracted_data, extraction_confidence, error_message, created_at, updated_at`

// Upsert inserts or refreshes the record for (application, type). A repeated
// upload replaces file metadata; extraction columns are untouched so prior
// analysis survives re-uploads. A placeholder upsert (uploaded=false) never
// downgrades an uploaded record.
func (r *DocumentRepository) Upsert(ctx context.Context, record *domain.DocumentRecord) (*domain.DocumentRecord, error) {
	row := r.db.QueryRowContext(ctx, `
INSERT INTO documents (
	application_id, document_type, filename, mime_type, storage_path,
	uploaded, required, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (application_id, document_type) DO UPDATE SET
	filename = CASE WHEN EXCLUDED.uploaded THEN EXCLUDED.filename ELSE documents.filename END,
	mime_type = CASE WHEN EXCLUDED.uploaded THEN EXCLUDED.mime_type ELSE documents.mime_type END,
	storage_path = CASE WHEN EXCLUDED.uploaded THEN EXCLUDED.storage_path ELSE documents.storage_path END,
	uploaded = documents.uploaded OR EXCLUDED.uploaded,
	required = EXCLUDED.required,
	updated_at = EXCLUDED.updated_at
RETURNING `+documentColumns+`
`,
		record.ApplicationID, record.DocumentType, record.Filename, record.MimeType,
		record.StoragePath, record.Uploaded, record.Required, record.CreatedAt, record.UpdatedAt,
	)

	stored, err := scanDocument(row)
	if err != nil {
		return nil, fmt.Errorf("upsert document: %w", err)
	}
	return stored, nil
}

// MarkProcessed flags the record as attempted. On success the extraction
// columns are overwritten (re-processing is allowed); on failure only the
// error message changes so earlier extraction is preserved.
func (r *DocumentRepository) MarkProcessed(
	ctx context.Context,
	applicationID int64,
	documentType string,
	text string,
	extracted domain.ExtractedData,
	confidence int,
	errMessage string,
) (*domain.DocumentRecord, error) {
	if extracted == nil {
		extracted = domain.ExtractedData{}
	}
	extractedJSON, err := json.Marshal(extracted)
	if err != nil {
		return nil, fmt.Errorf("marshal extracted data: %w", err)
	}

	row := r.db.QueryRowContext(ctx, `
UPDATE documents
SET processed = TRUE,
	extracted_text = CASE WHEN $3::text = '' THEN $4 ELSE documents.extracted_text END,
	extracted_data = CASE WHEN $3::text = '' THEN $5::jsonb ELSE documents.extracted_data END,
	extraction_confidence = CASE WHEN $3::text = '' THEN $6 ELSE documents.extraction_confidence END,
	error_message = $3,
	updated_at = $7
WHERE application_id = $1 AND document_type = $2 AND uploaded
RETURNING `+documentColumns+`
`, applicationID, documentType, errMessage, text, extractedJSON, confidence, time.Now().UTC())

	stored, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "mark processed",
				fmt.Errorf("no uploaded %s document for application %d", documentType, applicationID))
		}
		return nil, fmt.Errorf("mark processed: %w", err)
	}
	return stored, nil
}

// Snapshot lists the ledger in row order. Placeholders are seeded for the
// whole scope at application creation, so this is catalog declaration order;
// upload order lives in updated_at, which Upsert refreshes per upload.
func (r *DocumentRepository) Snapshot(ctx context.Context, applicationID int64) ([]domain.DocumentRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT `+documentColumns+`
FROM documents
WHERE application_id = $1
ORDER BY id ASC
`, applicationID)
	if err != nil {
		return nil, fmt.Errorf("snapshot documents: %w", err)
	}
	defer rows.Close()

	out := make([]domain.DocumentRecord, 0)
	for rows.Next() {
		record, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return out, nil
}

func scanDocument(row rowScanner) (*domain.DocumentRecord, error) {
	var record domain.DocumentRecord
	var extractedRaw []byte

	err := row.Scan(
		&record.ID, &record.ApplicationID, &record.DocumentType, &record.Filename,
		&record.MimeType, &record.StoragePath, &record.Uploaded, &record.Required,
		&record.Processed, &record.ExtractedText, &extractedRaw,
		&record.ExtractionConfidence, &record.ErrorMessage,
		&record.CreatedAt, &record.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(extractedRaw, &record.ExtractedData); err != nil {
		return nil, fmt.Errorf("unmarshal extracted data: %w", err)
	}
	return &record, nil
}
