package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/visaforge/engine/internal/core/completeness"
	"github.com/visaforge/engine/internal/core/domain"
	"github.com/visaforge/engine/internal/core/ports"
)

type AnalyzeConfig struct {
	Concurrency         int
	ExtractionTimeout   time.Duration
	ConfidenceThreshold int
}

func (c AnalyzeConfig) normalize() AnalyzeConfig {
	out := c
	if out.Concurrency <= 0 {
		out.Concurrency = 3
	}
	if out.ExtractionTimeout <= 0 {
		out.ExtractionTimeout = 2 * time.Minute
	}
	return out
}

// AnalyzeUseCase drives extraction over uploaded documents. Start hands the
// run to the worker through the queue; Run executes it.
type AnalyzeUseCase struct {
	apps      ports.ApplicationRepository
	ledger    ports.DocumentLedger
	sessions  ports.AnalysisSessionStore
	catalog   ports.RequirementResolver
	texts     ports.TextExtractor
	extractor ports.FieldExtractor
	queue     ports.MessageQueue
	cfg       AnalyzeConfig
}

func NewAnalyzeUseCase(
	apps ports.ApplicationRepository,
	ledger ports.DocumentLedger,
	sessions ports.AnalysisSessionStore,
	catalog ports.RequirementResolver,
	texts ports.TextExtractor,
	extractor ports.FieldExtractor,
	queue ports.MessageQueue,
	cfg AnalyzeConfig,
) *AnalyzeUseCase {
	return &AnalyzeUseCase{
		apps:      apps,
		ledger:    ledger,
		sessions:  sessions,
		catalog:   catalog,
		texts:     texts,
		extractor: extractor,
		queue:     queue,
		cfg:       cfg.normalize(),
	}
}

// Start validates state, creates a fresh session and enqueues the run. The
// session store rejects a second non-terminal session with ErrConflict.
func (uc *AnalyzeUseCase) Start(ctx context.Context, applicationID int64) (*domain.AnalysisSession, error) {
	app, err := uc.apps.GetByID(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	next, err := app.Status.Transition(domain.StatusAnalyzing)
	if err != nil {
		return nil, err
	}

	ledger, err := uc.ledger.Snapshot(ctx, applicationID)
	if err != nil {
		return nil, fmt.Errorf("ledger snapshot: %w", err)
	}
	uploaded := uploadedRecords(ledger)
	if len(uploaded) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "start analysis",
			fmt.Errorf("application %d has no uploaded documents", applicationID))
	}

	now := time.Now().UTC()
	session := &domain.AnalysisSession{
		ApplicationID:  applicationID,
		Status:         domain.SessionStarted,
		TotalDocuments: len(uploaded),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := uc.sessions.Create(ctx, session); err != nil {
		return nil, err
	}

	if err := uc.apps.UpdateStatus(ctx, applicationID, next); err != nil {
		return nil, fmt.Errorf("advance status to analyzing: %w", err)
	}
	if err := uc.queue.PublishAnalysisRequested(ctx, applicationID, session.ID); err != nil {
		wrapped := fmt.Errorf("enqueue analysis run: %w", err)
		uc.abortRun(ctx, applicationID, session.ID, wrapped)
		return nil, wrapped
	}
	return session, nil
}

func (uc *AnalyzeUseCase) Status(ctx context.Context, applicationID int64) (*domain.AnalysisSession, error) {
	if _, err := uc.apps.GetByID(ctx, applicationID); err != nil {
		return nil, err
	}
	return uc.sessions.Latest(ctx, applicationID)
}

type extractionOutcome struct {
	record domain.DocumentRecord
	text   string
	result ports.ExtractionResult
	err    error
}

// Run processes every uploaded document: bounded concurrent extraction, then
// a single sequential merge in upload order. Per-document failures are
// recorded and absorbed; the session fails only when nothing succeeded. Any
// error that stops the run outright also releases the in-progress markers, so
// a broken run never leaves the application stuck in analyzing.
func (uc *AnalyzeUseCase) Run(ctx context.Context, applicationID, sessionID int64) error {
	if err := uc.run(ctx, applicationID, sessionID); err != nil {
		uc.abortRun(ctx, applicationID, sessionID, err)
		return err
	}
	return nil
}

func (uc *AnalyzeUseCase) run(ctx context.Context, applicationID, sessionID int64) error {
	app, err := uc.apps.GetByID(ctx, applicationID)
	if err != nil {
		if domain.IsKind(err, domain.ErrNotFound) {
			slog.Warn("analysis_skipped_application_gone", "application_id", applicationID)
			return nil
		}
		return err
	}

	if err := uc.sessions.UpdateProgress(ctx, sessionID, domain.SessionAnalyzing, 0); err != nil {
		return fmt.Errorf("mark session analyzing: %w", err)
	}

	ledger, err := uc.ledger.Snapshot(ctx, applicationID)
	if err != nil {
		return fmt.Errorf("ledger snapshot: %w", err)
	}
	uploaded := uploadedRecords(ledger)

	descriptors, err := uc.catalog.Resolve(app.Country, app.VisaType, app.ApplicantCategory)
	if err != nil {
		return err
	}
	schemas := make(map[string][]domain.FieldKey, len(descriptors))
	for _, descriptor := range descriptors {
		schemas[descriptor.DocumentType] = descriptor.Fields
	}

	outcomes := make([]extractionOutcome, len(uploaded))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(uc.cfg.Concurrency)
	for i, record := range uploaded {
		group.Go(func() error {
			outcomes[i] = uc.extractOne(groupCtx, record, schemas[record.DocumentType])
			return nil
		})
	}
	_ = group.Wait()

	// The application may have been deleted while collaborator calls were in
	// flight; results are discarded in that case.
	exists, err := uc.apps.Exists(ctx, applicationID)
	if err != nil {
		return fmt.Errorf("existence check: %w", err)
	}
	if !exists {
		slog.Warn("analysis_results_discarded", "application_id", applicationID)
		return nil
	}

	// Single-writer merge, upload order. markProcessed per document, success
	// or failure, so processed reflects "attempted at least once".
	merged := app.ExtractedData.Clone()
	if merged == nil {
		merged = domain.ExtractedData{}
	}
	succeeded := 0
	for _, outcome := range outcomes {
		if outcome.err != nil {
			slog.Warn("document_extraction_failed",
				"application_id", applicationID,
				"document_type", outcome.record.DocumentType,
				"error", outcome.err,
			)
			if _, err := uc.ledger.MarkProcessed(ctx, applicationID, outcome.record.DocumentType,
				"", nil, 0, outcome.err.Error()); err != nil {
				return fmt.Errorf("record extraction failure: %w", err)
			}
			continue
		}
		if _, err := uc.ledger.MarkProcessed(ctx, applicationID, outcome.record.DocumentType,
			outcome.text, outcome.result.Fields, outcome.result.Confidence, ""); err != nil {
			return fmt.Errorf("mark processed: %w", err)
		}
		merged = merged.Merge(outcome.result.Fields)
		succeeded++
		if err := uc.sessions.UpdateProgress(ctx, sessionID, domain.SessionAnalyzing, succeeded); err != nil {
			return fmt.Errorf("update session progress: %w", err)
		}
	}

	if succeeded == 0 {
		return uc.failSession(ctx, app, sessionID, len(uploaded))
	}
	return uc.completeSession(ctx, app, sessionID, merged)
}

func (uc *AnalyzeUseCase) extractOne(ctx context.Context, record domain.DocumentRecord, schema []domain.FieldKey) extractionOutcome {
	callCtx, cancel := context.WithTimeout(ctx, uc.cfg.ExtractionTimeout)
	defer cancel()

	text, err := uc.texts.Extract(callCtx, &record)
	if err != nil {
		return extractionOutcome{record: record, err: domain.WrapError(domain.ErrCollaborator, "extract text", err)}
	}

	result, err := uc.extractor.Extract(callCtx, record.DocumentType, text, schema)
	if err != nil {
		return extractionOutcome{record: record, err: domain.WrapError(domain.ErrCollaborator, "extract fields", err)}
	}
	return extractionOutcome{record: record, text: text, result: result}
}

// abortRun releases the per-application in-progress markers after a run that
// cannot continue: the session finishes as failed and an application still in
// analyzing returns to documents_uploaded so a fresh Start is possible. Best
// effort; the causing error is already on its way to the caller.
func (uc *AnalyzeUseCase) abortRun(ctx context.Context, applicationID, sessionID int64, cause error) {
	ctx = context.WithoutCancel(ctx)
	if err := uc.sessions.Finish(ctx, sessionID, domain.SessionFailed, 0, nil, cause.Error()); err != nil {
		slog.Error("analysis_session_release_failed",
			"application_id", applicationID, "session_id", sessionID, "error", err)
	}
	app, err := uc.apps.GetByID(ctx, applicationID)
	if err != nil {
		if !domain.IsKind(err, domain.ErrNotFound) {
			slog.Error("analysis_status_release_failed", "application_id", applicationID, "error", err)
		}
		return
	}
	if app.Status != domain.StatusAnalyzing {
		return
	}
	if err := uc.apps.UpdateStatus(ctx, applicationID, domain.StatusDocumentsUploaded); err != nil {
		slog.Error("analysis_status_release_failed", "application_id", applicationID, "error", err)
	}
}

func (uc *AnalyzeUseCase) failSession(ctx context.Context, app *domain.Application, sessionID int64, total int) error {
	message := fmt.Sprintf("all %d document extractions failed", total)
	if err := uc.sessions.Finish(ctx, sessionID, domain.SessionFailed, app.CompletenessScore, app.MissingInfo, message); err != nil {
		return fmt.Errorf("finish failed session: %w", err)
	}
	// Revert so the applicant can fix uploads and retry.
	next, err := app.Status.Transition(domain.StatusDocumentsUploaded)
	if err != nil {
		return err
	}
	if err := uc.apps.UpdateStatus(ctx, app.ID, next); err != nil {
		return fmt.Errorf("revert status after failed analysis: %w", err)
	}
	return nil
}

func (uc *AnalyzeUseCase) completeSession(ctx context.Context, app *domain.Application, sessionID int64, merged domain.ExtractedData) error {
	descriptors, err := uc.catalog.Resolve(app.Country, app.VisaType, app.ApplicantCategory)
	if err != nil {
		return err
	}
	ledger, err := uc.ledger.Snapshot(ctx, app.ID)
	if err != nil {
		return fmt.Errorf("ledger snapshot: %w", err)
	}

	result := completeness.Evaluate(descriptors, ledger, merged, uc.cfg.ConfidenceThreshold)
	if err := uc.apps.SaveEvaluation(ctx, app.ID, merged, result.MissingFields, result.Score); err != nil {
		return fmt.Errorf("persist evaluation: %w", err)
	}
	if err := uc.sessions.Finish(ctx, sessionID, domain.SessionCompleted, result.Score, result.MissingFields, ""); err != nil {
		return fmt.Errorf("finish session: %w", err)
	}

	target := domain.StatusDocumentsUploaded
	if result.ReadyForGeneration {
		target = domain.StatusGenerating
	}
	next, err := app.Status.Transition(target)
	if err != nil {
		return err
	}
	if err := uc.apps.UpdateStatus(ctx, app.ID, next); err != nil {
		return fmt.Errorf("advance status after analysis: %w", err)
	}
	slog.Info("analysis_completed",
		"application_id", app.ID,
		"score", result.Score,
		"ready_for_generation", result.ReadyForGeneration,
	)
	return nil
}

// uploadedRecords filters the snapshot down to uploads, ordered by upload
// time. The ledger seeds placeholder rows for the whole scope at creation, so
// row order is catalog order; the merge must follow when each file actually
// arrived, latest upload winning a contested field.
func uploadedRecords(ledger []domain.DocumentRecord) []domain.DocumentRecord {
	out := make([]domain.DocumentRecord, 0, len(ledger))
	for _, record := range ledger {
		if record.Uploaded {
			out = append(out, record)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UpdatedAt.Before(out[j].UpdatedAt)
	})
	return out
}
