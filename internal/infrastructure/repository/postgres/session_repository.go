package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/visaforge/engine/internal/core/domain"
)

type AnalysisSessionRepository struct {
	db *sql.DB
}

func NewAnalysisSessionRepository(db *sql.DB) *AnalysisSessionRepository {
	return &AnalysisSessionRepository{db: db}
}

const sessionColumns = `id, application_id, status, documents_analyzed, total_documents, completeness_score, missing_fields, error_message, created_at, updated_at`

// Create inserts a fresh session. The partial unique index on non-terminal
// sessions turns a second concurrent analysis into ErrConflict.
func (r *AnalysisSessionRepository) Create(ctx context.Context, session *domain.AnalysisSession) error {
	missingJSON, err := json.Marshal(missingOrEmpty(session.MissingFields))
	if err != nil {
		return fmt.Errorf("marshal missing fields: %w", err)
	}

	row := r.db.QueryRowContext(ctx, `
INSERT INTO analysis_sessions (
	application_id, status, documents_analyzed, total_documents,
	completeness_score, missing_fields, error_message, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
RETURNING id
`,
		session.ApplicationID, string(session.Status), session.DocumentsAnalyzed,
		session.TotalDocuments, session.CompletenessScore, missingJSON,
		session.ErrorMessage, session.CreatedAt, session.UpdatedAt,
	)
	if err := row.Scan(&session.ID); err != nil {
		if isUniqueViolation(err) {
			return domain.WrapError(domain.ErrConflict, "create analysis session",
				fmt.Errorf("application %d already has an active session", session.ApplicationID))
		}
		return fmt.Errorf("insert analysis session: %w", err)
	}
	return nil
}

func (r *AnalysisSessionRepository) GetByID(ctx context.Context, id int64) (*domain.AnalysisSession, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+sessionColumns+`
FROM analysis_sessions
WHERE id = $1
`, id)
	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "get analysis session",
				fmt.Errorf("session %d", id))
		}
		return nil, fmt.Errorf("scan analysis session: %w", err)
	}
	return session, nil
}

func (r *AnalysisSessionRepository) Latest(ctx context.Context, applicationID int64) (*domain.AnalysisSession, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+sessionColumns+`
FROM analysis_sessions
WHERE application_id = $1
ORDER BY id DESC
LIMIT 1
`, applicationID)
	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "latest analysis session",
				fmt.Errorf("application %d has no sessions", applicationID))
		}
		return nil, fmt.Errorf("scan analysis session: %w", err)
	}
	return session, nil
}

func (r *AnalysisSessionRepository) UpdateProgress(ctx context.Context, id int64, status domain.SessionStatus, documentsAnalyzed int) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE analysis_sessions
SET status = $2, documents_analyzed = $3, updated_at = $4
WHERE id = $1
`, id, string(status), documentsAnalyzed, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update session progress: %w", err)
	}
	return requireRow(result, "update session progress", id)
}

func (r *AnalysisSessionRepository) Finish(ctx context.Context, id int64, status domain.SessionStatus, score int, missing []domain.FieldKey, errMessage string) error {
	missingJSON, err := json.Marshal(missingOrEmpty(missing))
	if err != nil {
		return fmt.Errorf("marshal missing fields: %w", err)
	}
	result, err := r.db.ExecContext(ctx, `
UPDATE analysis_sessions
SET status = $2, completeness_score = $3, missing_fields = $4, error_message = $5, updated_at = $6
WHERE id = $1
`, id, string(status), score, missingJSON, errMessage, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("finish session: %w", err)
	}
	return requireRow(result, "finish session", id)
}

func scanSession(row rowScanner) (*domain.AnalysisSession, error) {
	var session domain.AnalysisSession
	var status string
	var missingRaw []byte
	err := row.Scan(
		&session.ID, &session.ApplicationID, &status, &session.DocumentsAnalyzed,
		&session.TotalDocuments, &session.CompletenessScore, &missingRaw,
		&session.ErrorMessage, &session.CreatedAt, &session.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	session.Status = domain.SessionStatus(status)
	if err := json.Unmarshal(missingRaw, &session.MissingFields); err != nil {
		return nil, fmt.Errorf("unmarshal missing fields: %w", err)
	}
	return &session, nil
}

func missingOrEmpty(missing []domain.FieldKey) []domain.FieldKey {
	if missing == nil {
		return []domain.FieldKey{}
	}
	return missing
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
