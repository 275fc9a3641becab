package ports

import (
	"context"
	"io"

	"github.com/visaforge/engine/internal/core/domain"
)

// ApplicationService is the inbound contract for application lifecycle and
// document upload orchestration.
type ApplicationService interface {
	Create(ctx context.Context, input domain.Application) (*domain.Application, error)
	Get(ctx context.Context, applicationID int64) (*domain.Application, error)
	Delete(ctx context.Context, applicationID int64) error
	UploadDocument(ctx context.Context, applicationID int64, documentType, filename, mimeType string, body io.Reader) (*domain.DocumentRecord, error)
	Documents(ctx context.Context, applicationID int64) ([]domain.DocumentRecord, error)
	SubmitAnswer(ctx context.Context, applicationID int64, field domain.FieldKey, answer string) (*domain.Application, error)
	ResetFailed(ctx context.Context, applicationID int64) (*domain.Application, error)
	Bundle(ctx context.Context, applicationID int64, w io.Writer) error
}

// AnalysisOrchestrator starts analysis runs and exposes their state. Start
// returns a started session immediately; the run itself executes out of band.
type AnalysisOrchestrator interface {
	Start(ctx context.Context, applicationID int64) (*domain.AnalysisSession, error)
	Status(ctx context.Context, applicationID int64) (*domain.AnalysisSession, error)
	Run(ctx context.Context, applicationID, sessionID int64) error
}

// GenerationOrchestrator starts generation runs and exposes their state.
type GenerationOrchestrator interface {
	Start(ctx context.Context, applicationID int64) ([]domain.GeneratedDocumentRecord, error)
	Status(ctx context.Context, applicationID int64) ([]domain.GeneratedDocumentRecord, error)
	Run(ctx context.Context, applicationID int64) error
}
