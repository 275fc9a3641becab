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

type ApplicationRepository struct {
	db *sql.DB
}

func NewApplicationRepository(db *sql.DB) *ApplicationRepository {
	return &ApplicationRepository{db: db}
}

const applicationColumns = `id, number, applicant_name, applicant_email, country, visa_type, applicant_category, status, extracted_data, missing_info, completeness_score, created_at, updated_at, completed_at`

func (r *ApplicationRepository) Create(ctx context.Context, app *domain.Application) error {
	extractedJSON, missingJSON, err := marshalEvaluation(app.ExtractedData, app.MissingInfo)
	if err != nil {
		return err
	}

	row := r.db.QueryRowContext(ctx, `
INSERT INTO applications (
	number, applicant_name, applicant_email, country, visa_type, applicant_category,
	status, extracted_data, missing_info, completeness_score, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
RETURNING id
`,
		app.Number, app.ApplicantName, app.ApplicantEmail, app.Country, app.VisaType,
		app.ApplicantCategory, string(app.Status), extractedJSON, missingJSON,
		app.CompletenessScore, app.CreatedAt, app.UpdatedAt,
	)
	if err := row.Scan(&app.ID); err != nil {
		return fmt.Errorf("insert application: %w", err)
	}
	return nil
}

func (r *ApplicationRepository) GetByID(ctx context.Context, id int64) (*domain.Application, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+applicationColumns+`
FROM applications
WHERE id = $1
`, id)

	app, err := scanApplication(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "get application",
				fmt.Errorf("application %d", id))
		}
		return nil, fmt.Errorf("scan application: %w", err)
	}
	return app, nil
}

func (r *ApplicationRepository) Exists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM applications WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("application exists: %w", err)
	}
	return exists, nil
}

func (r *ApplicationRepository) UpdateStatus(ctx context.Context, id int64, status domain.ApplicationStatus) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE applications
SET status = $2, updated_at = $3
WHERE id = $1
`, id, string(status), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update application status: %w", err)
	}
	return requireRow(result, "update application status", id)
}

func (r *ApplicationRepository) SaveEvaluation(
	ctx context.Context,
	id int64,
	extracted domain.ExtractedData,
	missing []domain.FieldKey,
	score int,
) error {
	extractedJSON, missingJSON, err := marshalEvaluation(extracted, missing)
	if err != nil {
		return err
	}
	result, err := r.db.ExecContext(ctx, `
UPDATE applications
SET extracted_data = $2, missing_info = $3, completeness_score = $4, updated_at = $5
WHERE id = $1
`, id, extractedJSON, missingJSON, score, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save evaluation: %w", err)
	}
	return requireRow(result, "save evaluation", id)
}

func (r *ApplicationRepository) MarkCompleted(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	result, err := r.db.ExecContext(ctx, `
UPDATE applications
SET status = $2, completed_at = $3, updated_at = $3, generation_in_flight = FALSE, generation_locked_at = NULL
WHERE id = $1
`, id, string(domain.StatusCompleted), now)
	if err != nil {
		return fmt.Errorf("mark application completed: %w", err)
	}
	return requireRow(result, "mark application completed", id)
}

func (r *ApplicationRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM applications WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete application: %w", err)
	}
	return requireRow(result, "delete application", id)
}

// generationLockStaleAfter bounds how long a crashed worker or a lost queue
// message can hold the in-flight marker. A later acquire seizes a lock older
// than this; it comfortably exceeds a full run of per-document timeouts.
const generationLockStaleAfter = 30 * time.Minute

// TryAcquireGenerationLock flips the in-flight marker atomically; it reports
// false when another run already holds it. A lock past its staleness horizon
// counts as abandoned and is taken over.
func (r *ApplicationRepository) TryAcquireGenerationLock(ctx context.Context, id int64) (bool, error) {
	now := time.Now().UTC()
	result, err := r.db.ExecContext(ctx, `
UPDATE applications
SET generation_in_flight = TRUE, generation_locked_at = $2, updated_at = $2
WHERE id = $1 AND (generation_in_flight = FALSE OR generation_locked_at < $3)
`, id, now, now.Add(-generationLockStaleAfter))
	if err != nil {
		return false, fmt.Errorf("acquire generation lock: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("acquire generation lock rows affected: %w", err)
	}
	return rows == 1, nil
}

func (r *ApplicationRepository) ReleaseGenerationLock(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE applications
SET generation_in_flight = FALSE, generation_locked_at = NULL, updated_at = $2
WHERE id = $1
`, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("release generation lock: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanApplication(row rowScanner) (*domain.Application, error) {
	var app domain.Application
	var status string
	var email, category sql.NullString
	var extractedRaw, missingRaw []byte
	var completedAt sql.NullTime

	err := row.Scan(
		&app.ID, &app.Number, &app.ApplicantName, &email, &app.Country, &app.VisaType,
		&category, &status, &extractedRaw, &missingRaw, &app.CompletenessScore,
		&app.CreatedAt, &app.UpdatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	app.ApplicantEmail = email.String
	app.ApplicantCategory = category.String
	app.Status = domain.ApplicationStatus(status)
	if completedAt.Valid {
		t := completedAt.Time
		app.CompletedAt = &t
	}
	if err := json.Unmarshal(extractedRaw, &app.ExtractedData); err != nil {
		return nil, fmt.Errorf("unmarshal extracted data: %w", err)
	}
	if err := json.Unmarshal(missingRaw, &app.MissingInfo); err != nil {
		return nil, fmt.Errorf("unmarshal missing info: %w", err)
	}
	return &app, nil
}

func marshalEvaluation(extracted domain.ExtractedData, missing []domain.FieldKey) ([]byte, []byte, error) {
	if extracted == nil {
		extracted = domain.ExtractedData{}
	}
	if missing == nil {
		missing = []domain.FieldKey{}
	}
	extractedJSON, err := json.Marshal(extracted)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal extracted data: %w", err)
	}
	missingJSON, err := json.Marshal(missing)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal missing info: %w", err)
	}
	return extractedJSON, missingJSON, nil
}

func requireRow(result sql.Result, operation string, id int64) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", operation, err)
	}
	if rows == 0 {
		return domain.WrapError(domain.ErrNotFound, operation, fmt.Errorf("application %d", id))
	}
	return nil
}
