package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/visaforge/engine/internal/core/domain"
)

type GeneratedDocumentRepository struct {
	db *sql.DB
}

func NewGeneratedDocumentRepository(db *sql.DB) *GeneratedDocumentRepository {
	return &GeneratedDocumentRepository{db: db}
}

const generatedColumns = `id, application_id, document_type, status, progress, attempts, file_path, file_size, error_message, created_at, updated_at`

// EnsurePending creates the record or resets a non-completed one back to
// pending (the failed -> pending retry path). A completed record is returned
// untouched.
func (r *GeneratedDocumentRepository) EnsurePending(ctx context.Context, applicationID int64, documentType string) (*domain.GeneratedDocumentRecord, error) {
	now := time.Now().UTC()
	row := r.db.QueryRowContext(ctx, `
INSERT INTO generated_documents (application_id, document_type, status, created_at, updated_at)
VALUES ($1, $2, 'pending', $3, $3)
ON CONFLICT (application_id, document_type) DO UPDATE SET
	status = 'pending',
	progress = 0,
	error_message = '',
	updated_at = EXCLUDED.updated_at
WHERE generated_documents.status <> 'completed'
RETURNING `+generatedColumns+`
`, applicationID, documentType, now)

	record, err := scanGenerated(row)
	if err == nil {
		return record, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("ensure pending record: %w", err)
	}

	// Conflict on a completed record: the DO UPDATE was skipped, return it.
	row = r.db.QueryRowContext(ctx, `
SELECT `+generatedColumns+`
FROM generated_documents
WHERE application_id = $1 AND document_type = $2
`, applicationID, documentType)
	record, err = scanGenerated(row)
	if err != nil {
		return nil, fmt.Errorf("fetch completed record: %w", err)
	}
	return record, nil
}

// UpdateStatus moves the record and bumps the attempt counter on failure.
func (r *GeneratedDocumentRepository) UpdateStatus(ctx context.Context, id int64, status domain.GenerationStatus, progress int, errMessage string) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE generated_documents
SET status = $2,
	progress = $3,
	error_message = $4,
	attempts = attempts + CASE WHEN $2 = 'failed' THEN 1 ELSE 0 END,
	updated_at = $5
WHERE id = $1
`, id, string(status), progress, errMessage, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update generation status: %w", err)
	}
	return requireRow(result, "update generation status", id)
}

func (r *GeneratedDocumentRepository) SaveResult(ctx context.Context, id int64, filePath string, fileSize int64) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE generated_documents
SET status = 'completed', progress = 100, file_path = $2, file_size = $3, error_message = '', updated_at = $4
WHERE id = $1
`, id, filePath, fileSize, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save generation result: %w", err)
	}
	return requireRow(result, "save generation result", id)
}

func (r *GeneratedDocumentRepository) ListByApplication(ctx context.Context, applicationID int64) ([]domain.GeneratedDocumentRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT `+generatedColumns+`
FROM generated_documents
WHERE application_id = $1
ORDER BY id ASC
`, applicationID)
	if err != nil {
		return nil, fmt.Errorf("list generated documents: %w", err)
	}
	defer rows.Close()

	out := make([]domain.GeneratedDocumentRecord, 0)
	for rows.Next() {
		record, err := scanGenerated(rows)
		if err != nil {
			return nil, fmt.Errorf("scan generated document: %w", err)
		}
		out = append(out, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate generated documents: %w", err)
	}
	return out, nil
}

func scanGenerated(row rowScanner) (*domain.GeneratedDocumentRecord, error) {
	var record domain.GeneratedDocumentRecord
	var status string
	err := row.Scan(
		&record.ID, &record.ApplicationID, &record.DocumentType, &status,
		&record.Progress, &record.Attempts, &record.FilePath, &record.FileSize,
		&record.ErrorMessage, &record.CreatedAt, &record.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	record.Status = domain.GenerationStatus(status)
	return &record, nil
}
