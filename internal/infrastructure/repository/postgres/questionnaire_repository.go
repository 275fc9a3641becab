package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/visaforge/engine/internal/core/domain"
)

type QuestionnaireRepository struct {
	db *sql.DB
}

func NewQuestionnaireRepository(db *sql.DB) *QuestionnaireRepository {
	return &QuestionnaireRepository{db: db}
}

// Save upserts the answer: resubmitting a field replaces the prior answer.
func (r *QuestionnaireRepository) Save(ctx context.Context, response *domain.QuestionnaireResponse) error {
	row := r.db.QueryRowContext(ctx, `
INSERT INTO questionnaire_responses (application_id, field, answer, created_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (application_id, field) DO UPDATE SET answer = EXCLUDED.answer
RETURNING id
`, response.ApplicationID, string(response.Field), response.Answer, response.CreatedAt)
	if err := row.Scan(&response.ID); err != nil {
		return fmt.Errorf("save questionnaire response: %w", err)
	}
	return nil
}

func (r *QuestionnaireRepository) ListByApplication(ctx context.Context, applicationID int64) ([]domain.QuestionnaireResponse, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, application_id, field, answer, created_at
FROM questionnaire_responses
WHERE application_id = $1
ORDER BY id ASC
`, applicationID)
	if err != nil {
		return nil, fmt.Errorf("list questionnaire responses: %w", err)
	}
	defer rows.Close()

	out := make([]domain.QuestionnaireResponse, 0)
	for rows.Next() {
		var response domain.QuestionnaireResponse
		var field string
		if err := rows.Scan(&response.ID, &response.ApplicationID, &field, &response.Answer, &response.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan questionnaire response: %w", err)
		}
		response.Field = domain.FieldKey(field)
		out = append(out, response)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate questionnaire responses: %w", err)
	}
	return out, nil
}
