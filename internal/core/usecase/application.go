package usecase

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/visaforge/engine/internal/core/completeness"
	"github.com/visaforge/engine/internal/core/domain"
	"github.com/visaforge/engine/internal/core/ports"
)

type ApplicationUseCase struct {
	apps          ports.ApplicationRepository
	ledger        ports.DocumentLedger
	generated     ports.GeneratedDocumentStore
	questionnaire ports.QuestionnaireStore
	catalog       ports.RequirementResolver
	storage       ports.ObjectStorage

	confidenceThreshold int
}

func NewApplicationUseCase(
	apps ports.ApplicationRepository,
	ledger ports.DocumentLedger,
	generated ports.GeneratedDocumentStore,
	questionnaire ports.QuestionnaireStore,
	catalog ports.RequirementResolver,
	storage ports.ObjectStorage,
	confidenceThreshold int,
) *ApplicationUseCase {
	return &ApplicationUseCase{
		apps:                apps,
		ledger:              ledger,
		generated:           generated,
		questionnaire:       questionnaire,
		catalog:             catalog,
		storage:             storage,
		confidenceThreshold: confidenceThreshold,
	}
}

// Create registers a new application in draft and seeds the document ledger
// with catalog-derived placeholders so the requirement set is visible before
// any upload.
func (uc *ApplicationUseCase) Create(ctx context.Context, input domain.Application) (*domain.Application, error) {
	if strings.TrimSpace(input.ApplicantName) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "create application",
			fmt.Errorf("applicant name is required"))
	}

	descriptors, err := uc.catalog.Resolve(input.Country, input.VisaType, input.ApplicantCategory)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	app := input
	app.Number = newApplicationNumber(now)
	app.Status = domain.StatusDraft
	app.ExtractedData = domain.ExtractedData{}
	app.MissingInfo = []domain.FieldKey{}
	app.CreatedAt = now
	app.UpdatedAt = now

	if err := uc.apps.Create(ctx, &app); err != nil {
		return nil, fmt.Errorf("create application: %w", err)
	}

	for _, descriptor := range descriptors {
		placeholder := &domain.DocumentRecord{
			ApplicationID: app.ID,
			DocumentType:  descriptor.DocumentType,
			Required:      descriptor.Mandatory,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if _, err := uc.ledger.Upsert(ctx, placeholder); err != nil {
			return nil, fmt.Errorf("seed ledger placeholder %s: %w", descriptor.DocumentType, err)
		}
	}
	return &app, nil
}

func (uc *ApplicationUseCase) Get(ctx context.Context, applicationID int64) (*domain.Application, error) {
	return uc.apps.GetByID(ctx, applicationID)
}

func (uc *ApplicationUseCase) Delete(ctx context.Context, applicationID int64) error {
	return uc.apps.Delete(ctx, applicationID)
}

func (uc *ApplicationUseCase) Documents(ctx context.Context, applicationID int64) ([]domain.DocumentRecord, error) {
	if _, err := uc.apps.GetByID(ctx, applicationID); err != nil {
		return nil, err
	}
	return uc.ledger.Snapshot(ctx, applicationID)
}

// UploadDocument stores the file and upserts the ledger record. A repeated
// upload of the same type replaces file metadata but keeps prior extraction.
// The first successful upload moves a draft application forward.
func (uc *ApplicationUseCase) UploadDocument(
	ctx context.Context,
	applicationID int64,
	documentType, filename, mimeType string,
	body io.Reader,
) (*domain.DocumentRecord, error) {
	app, err := uc.apps.GetByID(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	if app.Status.Terminal() {
		return nil, domain.WrapError(domain.ErrStateTransition, "upload document",
			fmt.Errorf("application %d is %s", applicationID, app.Status))
	}

	descriptor, err := uc.descriptorFor(app, documentType)
	if err != nil {
		return nil, err
	}

	storageKey := fmt.Sprintf("uploads/%d/%s_%s", applicationID, uuid.NewString(), sanitizeFilename(filename))
	if _, err := uc.storage.Save(ctx, storageKey, body); err != nil {
		return nil, fmt.Errorf("save upload: %w", err)
	}

	now := time.Now().UTC()
	record, err := uc.ledger.Upsert(ctx, &domain.DocumentRecord{
		ApplicationID: applicationID,
		DocumentType:  descriptor.DocumentType,
		Filename:      filename,
		MimeType:      mimeType,
		StoragePath:   storageKey,
		Uploaded:      true,
		Required:      descriptor.Mandatory,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	if err != nil {
		return nil, fmt.Errorf("upsert ledger record: %w", err)
	}

	if app.Status == domain.StatusDraft {
		next, err := app.Status.Transition(domain.StatusDocumentsUploaded)
		if err != nil {
			return nil, err
		}
		if err := uc.apps.UpdateStatus(ctx, applicationID, next); err != nil {
			return nil, fmt.Errorf("advance status on first upload: %w", err)
		}
	}
	return record, nil
}

// SubmitAnswer records a questionnaire answer, merges it into the extracted
// data at full confidence and re-evaluates completeness.
func (uc *ApplicationUseCase) SubmitAnswer(
	ctx context.Context,
	applicationID int64,
	field domain.FieldKey,
	answer string,
) (*domain.Application, error) {
	app, err := uc.apps.GetByID(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	if app.Status.Terminal() {
		return nil, domain.WrapError(domain.ErrStateTransition, "submit answer",
			fmt.Errorf("application %d is %s", applicationID, app.Status))
	}

	descriptors, err := uc.catalog.Resolve(app.Country, app.VisaType, app.ApplicantCategory)
	if err != nil {
		return nil, err
	}
	if !fieldExpected(descriptors, field) {
		return nil, domain.WrapError(domain.ErrInvalidInput, "submit answer",
			fmt.Errorf("field %q is not part of the requirement scope", field))
	}
	if strings.TrimSpace(answer) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "submit answer",
			fmt.Errorf("answer for %q is empty", field))
	}

	if err := uc.questionnaire.Save(ctx, &domain.QuestionnaireResponse{
		ApplicationID: applicationID,
		Field:         field,
		Answer:        answer,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		return nil, fmt.Errorf("save questionnaire answer: %w", err)
	}

	extracted := app.ExtractedData.Merge(domain.ExtractedData{
		field: {Kind: domain.FieldKindString, Value: answer, Confidence: 100},
	})

	ledger, err := uc.ledger.Snapshot(ctx, applicationID)
	if err != nil {
		return nil, fmt.Errorf("ledger snapshot: %w", err)
	}
	result := completeness.Evaluate(descriptors, ledger, extracted, uc.confidenceThreshold)
	if err := uc.apps.SaveEvaluation(ctx, applicationID, extracted, result.MissingFields, result.Score); err != nil {
		return nil, fmt.Errorf("persist evaluation: %w", err)
	}

	app.ExtractedData = extracted
	app.MissingInfo = result.MissingFields
	app.CompletenessScore = result.Score
	return app, nil
}

// ResetFailed is the explicit operator action reviving a failed application.
func (uc *ApplicationUseCase) ResetFailed(ctx context.Context, applicationID int64) (*domain.Application, error) {
	app, err := uc.apps.GetByID(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	if app.Status != domain.StatusFailed {
		return nil, domain.WrapError(domain.ErrStateTransition, "reset application",
			fmt.Errorf("application %d is %s, reset requires %s",
				applicationID, app.Status, domain.StatusFailed))
	}
	next, err := app.Status.Transition(domain.StatusDocumentsUploaded)
	if err != nil {
		return nil, err
	}
	if err := uc.apps.ReleaseGenerationLock(ctx, applicationID); err != nil {
		return nil, fmt.Errorf("release generation lock: %w", err)
	}
	if err := uc.apps.UpdateStatus(ctx, applicationID, next); err != nil {
		return nil, fmt.Errorf("reset status: %w", err)
	}
	app.Status = next
	return app, nil
}

// Bundle writes a zip of all completed generated documents to w.
func (uc *ApplicationUseCase) Bundle(ctx context.Context, applicationID int64, w io.Writer) error {
	if _, err := uc.apps.GetByID(ctx, applicationID); err != nil {
		return err
	}
	records, err := uc.generated.ListByApplication(ctx, applicationID)
	if err != nil {
		return fmt.Errorf("list generated documents: %w", err)
	}

	archive := zip.NewWriter(w)
	wrote := 0
	for _, record := range records {
		if record.Status != domain.GenerationCompleted || record.FilePath == "" {
			continue
		}
		entry, err := archive.Create(record.DocumentType + filepath.Ext(record.FilePath))
		if err != nil {
			return fmt.Errorf("create zip entry: %w", err)
		}
		file, err := uc.storage.Open(ctx, record.FilePath)
		if err != nil {
			return fmt.Errorf("open generated file %s: %w", record.FilePath, err)
		}
		if _, err := io.Copy(entry, file); err != nil {
			file.Close()
			return fmt.Errorf("write zip entry: %w", err)
		}
		file.Close()
		wrote++
	}
	if wrote == 0 {
		return domain.WrapError(domain.ErrNotFound, "bundle",
			fmt.Errorf("application %d has no completed generated documents", applicationID))
	}
	return archive.Close()
}

func (uc *ApplicationUseCase) descriptorFor(app *domain.Application, documentType string) (domain.RequirementDescriptor, error) {
	descriptors, err := uc.catalog.Resolve(app.Country, app.VisaType, app.ApplicantCategory)
	if err != nil {
		return domain.RequirementDescriptor{}, err
	}
	wanted := strings.ToLower(strings.TrimSpace(documentType))
	for _, descriptor := range descriptors {
		if descriptor.DocumentType == wanted {
			return descriptor, nil
		}
	}
	return domain.RequirementDescriptor{}, domain.WrapError(domain.ErrInvalidInput, "upload document",
		fmt.Errorf("document type %q is not part of the requirement scope", documentType))
}

func fieldExpected(descriptors []domain.RequirementDescriptor, field domain.FieldKey) bool {
	for _, expected := range domain.ExpectedFields(descriptors) {
		if expected == field {
			return true
		}
	}
	return false
}

func newApplicationNumber(now time.Time) string {
	return fmt.Sprintf("VF-%s-%s", now.Format("20060102"), strings.ToUpper(uuid.NewString()[:8]))
}

func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	base = strings.ReplaceAll(base, " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" {
		return "document.bin"
	}
	return base
}
