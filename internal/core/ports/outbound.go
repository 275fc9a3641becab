package ports

import (
	"context"
	"io"

	"github.com/visaforge/engine/internal/core/domain"
)

// RequirementResolver resolves the catalog scope for an application.
type RequirementResolver interface {
	Resolve(country, visaType, applicantCategory string) ([]domain.RequirementDescriptor, error)
}

// ApplicationRepository persists application state.
type ApplicationRepository interface {
	Create(ctx context.Context, app *domain.Application) error
	GetByID(ctx context.Context, id int64) (*domain.Application, error)
	Exists(ctx context.Context, id int64) (bool, error)
	UpdateStatus(ctx context.Context, id int64, status domain.ApplicationStatus) error
	SaveEvaluation(ctx context.Context, id int64, extracted domain.ExtractedData, missing []domain.FieldKey, score int) error
	MarkCompleted(ctx context.Context, id int64) error
	Delete(ctx context.Context, id int64) error
	TryAcquireGenerationLock(ctx context.Context, id int64) (bool, error)
	ReleaseGenerationLock(ctx context.Context, id int64) error
}

// DocumentLedger persists per-application document state. Upsert is
// idempotent per (application, document type) and preserves prior extraction.
type DocumentLedger interface {
	Upsert(ctx context.Context, record *domain.DocumentRecord) (*domain.DocumentRecord, error)
	MarkProcessed(ctx context.Context, applicationID int64, documentType string, text string, extracted domain.ExtractedData, confidence int, errMessage string) (*domain.DocumentRecord, error)
	Snapshot(ctx context.Context, applicationID int64) ([]domain.DocumentRecord, error)
}

// GeneratedDocumentStore persists generation records.
type GeneratedDocumentStore interface {
	EnsurePending(ctx context.Context, applicationID int64, documentType string) (*domain.GeneratedDocumentRecord, error)
	UpdateStatus(ctx context.Context, id int64, status domain.GenerationStatus, progress int, errMessage string) error
	SaveResult(ctx context.Context, id int64, filePath string, fileSize int64) error
	ListByApplication(ctx context.Context, applicationID int64) ([]domain.GeneratedDocumentRecord, error)
}

// AnalysisSessionStore enforces at most one non-terminal session per
// application at creation time.
type AnalysisSessionStore interface {
	Create(ctx context.Context, session *domain.AnalysisSession) error
	GetByID(ctx context.Context, id int64) (*domain.AnalysisSession, error)
	Latest(ctx context.Context, applicationID int64) (*domain.AnalysisSession, error)
	UpdateProgress(ctx context.Context, id int64, status domain.SessionStatus, documentsAnalyzed int) error
	Finish(ctx context.Context, id int64, status domain.SessionStatus, score int, missing []domain.FieldKey, errMessage string) error
}

// QuestionnaireStore persists questionnaire answers.
type QuestionnaireStore interface {
	Save(ctx context.Context, response *domain.QuestionnaireResponse) error
	ListByApplication(ctx context.Context, applicationID int64) ([]domain.QuestionnaireResponse, error)
}

// ObjectStorage stores uploaded and generated files.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) (int64, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// MessageQueue hands orchestrator runs to the worker.
type MessageQueue interface {
	PublishAnalysisRequested(ctx context.Context, applicationID, sessionID int64) error
	PublishGenerationRequested(ctx context.Context, applicationID int64) error
	SubscribeAnalysisRequested(ctx context.Context, handler func(ctx context.Context, applicationID, sessionID int64) error) error
	SubscribeGenerationRequested(ctx context.Context, handler func(ctx context.Context, applicationID int64) error) error
}

// TextExtractor pulls plain text out of a stored upload.
type TextExtractor interface {
	Extract(ctx context.Context, record *domain.DocumentRecord) (string, error)
}

// ExtractionResult is the extraction collaborator's structured output.
type ExtractionResult struct {
	Fields     domain.ExtractedData
	Confidence int
}

// FieldExtractor is the external AI extraction collaborator. Implementations
// must be safe to call repeatedly on the same input.
type FieldExtractor interface {
	Extract(ctx context.Context, documentType, text string, schema []domain.FieldKey) (ExtractionResult, error)
}

// GeneratedFile is the generation collaborator's output.
type GeneratedFile struct {
	Path string
	Size int64
}

// DocumentGenerator is the external AI generation collaborator.
type DocumentGenerator interface {
	Generate(ctx context.Context, app *domain.Application, descriptor domain.RequirementDescriptor, answers []domain.QuestionnaireResponse) (GeneratedFile, error)
}
