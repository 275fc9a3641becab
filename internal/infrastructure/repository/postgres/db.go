package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

// EnsureSchema bootstraps all engine tables. The advisory lock serializes DDL
// across api/worker startups.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026083001)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS applications (
	id BIGSERIAL PRIMARY KEY,
	number TEXT NOT NULL UNIQUE,
	applicant_name TEXT NOT NULL,
	applicant_email TEXT,
	country TEXT NOT NULL,
	visa_type TEXT NOT NULL,
	applicant_category TEXT,
	status TEXT NOT NULL,
	extracted_data JSONB NOT NULL DEFAULT '{}'::jsonb,
	missing_info JSONB NOT NULL DEFAULT '[]'::jsonb,
	completeness_score INT NOT NULL DEFAULT 0,
	generation_in_flight BOOLEAN NOT NULL DEFAULT FALSE,
	generation_locked_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS documents (
	id BIGSERIAL PRIMARY KEY,
	application_id BIGINT NOT NULL REFERENCES applications(id) ON DELETE CASCADE,
	document_type TEXT NOT NULL,
	filename TEXT NOT NULL DEFAULT '',
	mime_type TEXT NOT NULL DEFAULT '',
	storage_path TEXT NOT NULL DEFAULT '',
	uploaded BOOLEAN NOT NULL DEFAULT FALSE,
	required BOOLEAN NOT NULL DEFAULT FALSE,
	processed BOOLEAN NOT NULL DEFAULT FALSE,
	extracted_text TEXT NOT NULL DEFAULT '',
	extracted_data JSONB NOT NULL DEFAULT '{}'::jsonb,
	extraction_confidence INT NOT NULL DEFAULT 0,
	error_message TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	UNIQUE (application_id, document_type)
);

CREATE TABLE IF NOT EXISTS generated_documents (
	id BIGSERIAL PRIMARY KEY,
	application_id BIGINT NOT NULL REFERENCES applications(id) ON DELETE CASCADE,
	document_type TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	progress INT NOT NULL DEFAULT 0,
	attempts INT NOT NULL DEFAULT 0,
	file_path TEXT NOT NULL DEFAULT '',
	file_size BIGINT NOT NULL DEFAULT 0,
	error_message TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	UNIQUE (application_id, document_type)
);

CREATE TABLE IF NOT EXISTS analysis_sessions (
	id BIGSERIAL PRIMARY KEY,
	application_id BIGINT NOT NULL REFERENCES applications(id) ON DELETE CASCADE,
	status TEXT NOT NULL,
	documents_analyzed INT NOT NULL DEFAULT 0,
	total_documents INT NOT NULL DEFAULT 0,
	completeness_score INT NOT NULL DEFAULT 0,
	missing_fields JSONB NOT NULL DEFAULT '[]'::jsonb,
	error_message TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_one_active
	ON analysis_sessions(application_id)
	WHERE status NOT IN ('completed', 'failed');

CREATE TABLE IF NOT EXISTS questionnaire_responses (
	id BIGSERIAL PRIMARY KEY,
	application_id BIGINT NOT NULL REFERENCES applications(id) ON DELETE CASCADE,
	field TEXT NOT NULL,
	answer TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	UNIQUE (application_id, field)
);

CREATE INDEX IF NOT EXISTS idx_applications_status ON applications(status);
CREATE INDEX IF NOT EXISTS idx_documents_application ON documents(application_id);
CREATE INDEX IF NOT EXISTS idx_generated_application ON generated_documents(application_id);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}
