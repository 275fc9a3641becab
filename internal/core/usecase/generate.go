package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/visaforge/engine/internal/core/domain"
	"github.com/visaforge/engine/internal/core/ports"
)

type GenerateConfig struct {
	GenerationTimeout time.Duration
	MaxAttempts       int
	// WaitForLock makes a second concurrent Start wait for the in-flight run
	// instead of failing fast with ErrConflict.
	WaitForLock  bool
	LockWaitPoll time.Duration
	LockWaitMax  time.Duration
}

func (c GenerateConfig) normalize() GenerateConfig {
	out := c
	if out.GenerationTimeout <= 0 {
		out.GenerationTimeout = 3 * time.Minute
	}
	if out.MaxAttempts <= 0 {
		out.MaxAttempts = 3
	}
	if out.LockWaitPoll <= 0 {
		out.LockWaitPoll = 250 * time.Millisecond
	}
	if out.LockWaitMax <= 0 {
		out.LockWaitMax = 30 * time.Second
	}
	return out
}

// GenerateUseCase synthesizes generatable documents the applicant did not
// supply. One run per application at a time, enforced by a repository lock.
type GenerateUseCase struct {
	apps          ports.ApplicationRepository
	ledger        ports.DocumentLedger
	generated     ports.GeneratedDocumentStore
	questionnaire ports.QuestionnaireStore
	catalog       ports.RequirementResolver
	generator     ports.DocumentGenerator
	queue         ports.MessageQueue
	cfg           GenerateConfig
}

func NewGenerateUseCase(
	apps ports.ApplicationRepository,
	ledger ports.DocumentLedger,
	generated ports.GeneratedDocumentStore,
	questionnaire ports.QuestionnaireStore,
	catalog ports.RequirementResolver,
	generator ports.DocumentGenerator,
	queue ports.MessageQueue,
	cfg GenerateConfig,
) *GenerateUseCase {
	return &GenerateUseCase{
		apps:          apps,
		ledger:        ledger,
		generated:     generated,
		questionnaire: questionnaire,
		catalog:       catalog,
		generator:     generator,
		queue:         queue,
		cfg:           cfg.normalize(),
	}
}

// Start determines the generation set, creates or resets the records and
// enqueues the run. An application with nothing left to generate completes
// immediately.
func (uc *GenerateUseCase) Start(ctx context.Context, applicationID int64) ([]domain.GeneratedDocumentRecord, error) {
	app, err := uc.apps.GetByID(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	if app.Status != domain.StatusGenerating {
		return nil, domain.WrapError(domain.ErrStateTransition, "start generation",
			fmt.Errorf("application %d is %s, generation requires %s",
				applicationID, app.Status, domain.StatusGenerating))
	}

	if err := uc.acquireLock(ctx, applicationID); err != nil {
		return nil, err
	}

	pending, err := uc.generationSet(ctx, app)
	if err != nil {
		uc.releaseLock(ctx, applicationID)
		return nil, err
	}

	if len(pending) == 0 {
		uc.releaseLock(ctx, applicationID)
		if err := uc.finishApplication(ctx, app); err != nil {
			return nil, err
		}
		return []domain.GeneratedDocumentRecord{}, nil
	}

	records := make([]domain.GeneratedDocumentRecord, 0, len(pending))
	for _, descriptor := range pending {
		record, err := uc.generated.EnsurePending(ctx, applicationID, descriptor.DocumentType)
		if err != nil {
			uc.releaseLock(ctx, applicationID)
			return nil, fmt.Errorf("ensure pending record %s: %w", descriptor.DocumentType, err)
		}
		records = append(records, *record)
	}

	if err := uc.queue.PublishGenerationRequested(ctx, applicationID); err != nil {
		uc.releaseLock(ctx, applicationID)
		return nil, fmt.Errorf("enqueue generation run: %w", err)
	}
	return records, nil
}

func (uc *GenerateUseCase) Status(ctx context.Context, applicationID int64) ([]domain.GeneratedDocumentRecord, error) {
	if _, err := uc.apps.GetByID(ctx, applicationID); err != nil {
		return nil, err
	}
	return uc.generated.ListByApplication(ctx, applicationID)
}

// Run executes the pending generation records in priority order: mandatory
// first, then catalog declaration order. Failures are recorded per record and
// the run continues; the application fails only when a mandatory document has
// exhausted its attempts.
func (uc *GenerateUseCase) Run(ctx context.Context, applicationID int64) error {
	defer uc.releaseLock(context.WithoutCancel(ctx), applicationID)

	app, err := uc.apps.GetByID(ctx, applicationID)
	if err != nil {
		if domain.IsKind(err, domain.ErrNotFound) {
			slog.Warn("generation_skipped_application_gone", "application_id", applicationID)
			return nil
		}
		return err
	}

	answers, err := uc.questionnaire.ListByApplication(ctx, applicationID)
	if err != nil {
		return fmt.Errorf("list questionnaire answers: %w", err)
	}

	descriptors, err := uc.catalog.Resolve(app.Country, app.VisaType, app.ApplicantCategory)
	if err != nil {
		return err
	}
	byType := make(map[string]domain.RequirementDescriptor, len(descriptors))
	for _, descriptor := range descriptors {
		byType[descriptor.DocumentType] = descriptor
	}

	records, err := uc.generated.ListByApplication(ctx, applicationID)
	if err != nil {
		return fmt.Errorf("list generation records: %w", err)
	}
	ordered := orderByPriority(records, descriptors)

	for _, record := range ordered {
		if record.Status != domain.GenerationPending {
			continue
		}
		descriptor, ok := byType[record.DocumentType]
		if !ok {
			continue
		}
		uc.generateOne(ctx, app, record, descriptor, answers)
	}

	// Results of a deleted application are discarded wholesale.
	exists, err := uc.apps.Exists(ctx, applicationID)
	if err != nil {
		return fmt.Errorf("existence check: %w", err)
	}
	if !exists {
		slog.Warn("generation_results_discarded", "application_id", applicationID)
		return nil
	}
	return uc.settle(ctx, app, descriptors)
}

func (uc *GenerateUseCase) generateOne(
	ctx context.Context,
	app *domain.Application,
	record domain.GeneratedDocumentRecord,
	descriptor domain.RequirementDescriptor,
	answers []domain.QuestionnaireResponse,
) {
	if err := uc.generated.UpdateStatus(ctx, record.ID, domain.GenerationGenerating, 10, ""); err != nil {
		slog.Error("generation_record_update_failed", "record_id", record.ID, "error", err)
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, uc.cfg.GenerationTimeout)
	file, err := uc.generator.Generate(callCtx, app, descriptor, answers)
	cancel()

	if err != nil {
		wrapped := domain.WrapError(domain.ErrCollaborator, "generate document", err)
		slog.Warn("document_generation_failed",
			"application_id", app.ID,
			"document_type", record.DocumentType,
			"attempt", record.Attempts+1,
			"error", wrapped,
		)
		if updErr := uc.generated.UpdateStatus(ctx, record.ID, domain.GenerationFailed, record.Progress, wrapped.Error()); updErr != nil {
			slog.Error("generation_record_update_failed", "record_id", record.ID, "error", updErr)
		}
		return
	}

	if err := uc.generated.SaveResult(ctx, record.ID, file.Path, file.Size); err != nil {
		slog.Error("generation_result_save_failed", "record_id", record.ID, "error", err)
		return
	}
	slog.Info("document_generated",
		"application_id", app.ID,
		"document_type", record.DocumentType,
		"file_size", file.Size,
	)
}

// settle decides the application outcome after a run. Optional failures never
// force FAILED; a mandatory generatable that exhausted its attempts does.
func (uc *GenerateUseCase) settle(ctx context.Context, app *domain.Application, descriptors []domain.RequirementDescriptor) error {
	ledger, err := uc.ledger.Snapshot(ctx, app.ID)
	if err != nil {
		return fmt.Errorf("ledger snapshot: %w", err)
	}
	uploadedByType := make(map[string]bool, len(ledger))
	for _, record := range ledger {
		if record.Uploaded {
			uploadedByType[record.DocumentType] = true
		}
	}

	records, err := uc.generated.ListByApplication(ctx, app.ID)
	if err != nil {
		return fmt.Errorf("list generation records: %w", err)
	}
	recordByType := make(map[string]domain.GeneratedDocumentRecord, len(records))
	for _, record := range records {
		recordByType[record.DocumentType] = record
	}

	allMandatoryResolved := true
	for _, descriptor := range descriptors {
		if !descriptor.Mandatory {
			continue
		}
		if uploadedByType[descriptor.DocumentType] {
			continue
		}
		record, ok := recordByType[descriptor.DocumentType]
		if ok && record.Status == domain.GenerationCompleted {
			continue
		}
		allMandatoryResolved = false
		if ok && record.Status == domain.GenerationFailed && record.Attempts >= uc.cfg.MaxAttempts {
			return uc.failApplication(ctx, app, descriptor.DocumentType)
		}
	}

	if allMandatoryResolved {
		return uc.finishApplication(ctx, app)
	}
	// Mandatory work remains but retries are still available; the application
	// stays in generating for the next explicit run.
	return nil
}

func (uc *GenerateUseCase) finishApplication(ctx context.Context, app *domain.Application) error {
	next, err := app.Status.Transition(domain.StatusCompleted)
	if err != nil {
		return err
	}
	if err := uc.apps.MarkCompleted(ctx, app.ID); err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	app.Status = next
	slog.Info("application_completed", "application_id", app.ID)
	return nil
}

func (uc *GenerateUseCase) failApplication(ctx context.Context, app *domain.Application, documentType string) error {
	next, err := app.Status.Transition(domain.StatusFailed)
	if err != nil {
		return err
	}
	if err := uc.apps.UpdateStatus(ctx, app.ID, next); err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	slog.Error("application_failed",
		"application_id", app.ID,
		"document_type", documentType,
		"max_attempts", uc.cfg.MaxAttempts,
	)
	return nil
}

// generationSet lists descriptors that are generatable, not uploaded and not
// already generated successfully, mandatory first.
func (uc *GenerateUseCase) generationSet(ctx context.Context, app *domain.Application) ([]domain.RequirementDescriptor, error) {
	descriptors, err := uc.catalog.Resolve(app.Country, app.VisaType, app.ApplicantCategory)
	if err != nil {
		return nil, err
	}
	ledger, err := uc.ledger.Snapshot(ctx, app.ID)
	if err != nil {
		return nil, fmt.Errorf("ledger snapshot: %w", err)
	}
	uploadedByType := make(map[string]bool, len(ledger))
	for _, record := range ledger {
		if record.Uploaded {
			uploadedByType[record.DocumentType] = true
		}
	}
	existing, err := uc.generated.ListByApplication(ctx, app.ID)
	if err != nil {
		return nil, fmt.Errorf("list generation records: %w", err)
	}
	completedByType := make(map[string]bool, len(existing))
	for _, record := range existing {
		if record.Status == domain.GenerationCompleted {
			completedByType[record.DocumentType] = true
		}
	}

	set := make([]domain.RequirementDescriptor, 0, len(descriptors))
	for _, descriptor := range descriptors {
		if !descriptor.Generatable {
			continue
		}
		if uploadedByType[descriptor.DocumentType] || completedByType[descriptor.DocumentType] {
			continue
		}
		set = append(set, descriptor)
	}
	sort.SliceStable(set, func(i, j int) bool {
		return set[i].Mandatory && !set[j].Mandatory
	})
	return set, nil
}

func (uc *GenerateUseCase) acquireLock(ctx context.Context, applicationID int64) error {
	acquired, err := uc.apps.TryAcquireGenerationLock(ctx, applicationID)
	if err != nil {
		return fmt.Errorf("acquire generation lock: %w", err)
	}
	if acquired {
		return nil
	}
	if !uc.cfg.WaitForLock {
		return domain.WrapError(domain.ErrConflict, "start generation",
			fmt.Errorf("generation already in flight for application %d", applicationID))
	}

	deadline := time.Now().Add(uc.cfg.LockWaitMax)
	ticker := time.NewTicker(uc.cfg.LockWaitPoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			acquired, err := uc.apps.TryAcquireGenerationLock(ctx, applicationID)
			if err != nil {
				return fmt.Errorf("acquire generation lock: %w", err)
			}
			if acquired {
				return nil
			}
			if time.Now().After(deadline) {
				return domain.WrapError(domain.ErrConflict, "start generation",
					fmt.Errorf("generation lock wait timed out for application %d", applicationID))
			}
		}
	}
}

func (uc *GenerateUseCase) releaseLock(ctx context.Context, applicationID int64) {
	if err := uc.apps.ReleaseGenerationLock(ctx, applicationID); err != nil {
		slog.Error("generation_lock_release_failed", "application_id", applicationID, "error", err)
	}
}

// orderByPriority sorts generation records mandatory-first, then by catalog
// declaration order.
func orderByPriority(records []domain.GeneratedDocumentRecord, descriptors []domain.RequirementDescriptor) []domain.GeneratedDocumentRecord {
	priority := make(map[string]int, len(descriptors))
	mandatory := make(map[string]bool, len(descriptors))
	for i, descriptor := range descriptors {
		priority[descriptor.DocumentType] = i
		mandatory[descriptor.DocumentType] = descriptor.Mandatory
	}
	out := make([]domain.GeneratedDocumentRecord, len(records))
	copy(out, records)
	sort.SliceStable(out, func(i, j int) bool {
		mi, mj := mandatory[out[i].DocumentType], mandatory[out[j].DocumentType]
		if mi != mj {
			return mi
		}
		return priority[out[i].DocumentType] < priority[out[j].DocumentType]
	})
	return out
}
