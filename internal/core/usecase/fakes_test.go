package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/visaforge/engine/internal/core/domain"
	"github.com/visaforge/engine/internal/core/ports"
)

type fakeAppRepo struct {
	mu sync.Mutex

	apps       map[int64]*domain.Application
	nextID     int64
	locked     map[int64]bool
	statusLog  []domain.ApplicationStatus
	evalSaves  int
	completed  map[int64]bool
	existsFn   func(id int64) (bool, error)
	lockDenied bool
}

func newFakeAppRepo() *fakeAppRepo {
	return &fakeAppRepo{
		apps:      make(map[int64]*domain.Application),
		locked:    make(map[int64]bool),
		completed: make(map[int64]bool),
	}
}

func (f *fakeAppRepo) add(app domain.Application) *domain.Application {
	f.mu.Lock()
	defer f.mu.Unlock()
	if app.ID == 0 {
		f.nextID++
		app.ID = f.nextID
	}
	stored := app
	f.apps[app.ID] = &stored
	return &stored
}

func (f *fakeAppRepo) Create(_ context.Context, app *domain.Application) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	app.ID = f.nextID
	stored := *app
	f.apps[app.ID] = &stored
	return nil
}

func (f *fakeAppRepo) GetByID(_ context.Context, id int64) (*domain.Application, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	app, ok := f.apps[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "load application", fmt.Errorf("application %d", id))
	}
	out := *app
	return &out, nil
}

func (f *fakeAppRepo) Exists(_ context.Context, id int64) (bool, error) {
	if f.existsFn != nil {
		return f.existsFn(id)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.apps[id]
	return ok, nil
}

func (f *fakeAppRepo) UpdateStatus(_ context.Context, id int64, status domain.ApplicationStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	app, ok := f.apps[id]
	if !ok {
		return domain.WrapError(domain.ErrNotFound, "update status", fmt.Errorf("application %d", id))
	}
	app.Status = status
	f.statusLog = append(f.statusLog, status)
	return nil
}

func (f *fakeAppRepo) SaveEvaluation(_ context.Context, id int64, extracted domain.ExtractedData, missing []domain.FieldKey, score int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	app, ok := f.apps[id]
	if !ok {
		return domain.WrapError(domain.ErrNotFound, "save evaluation", fmt.Errorf("application %d", id))
	}
	app.ExtractedData = extracted
	app.MissingInfo = missing
	app.CompletenessScore = score
	f.evalSaves++
	return nil
}

func (f *fakeAppRepo) MarkCompleted(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	app, ok := f.apps[id]
	if !ok {
		return domain.WrapError(domain.ErrNotFound, "mark completed", fmt.Errorf("application %d", id))
	}
	app.Status = domain.StatusCompleted
	f.statusLog = append(f.statusLog, domain.StatusCompleted)
	f.completed[id] = true
	return nil
}

func (f *fakeAppRepo) Delete(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.apps, id)
	return nil
}

func (f *fakeAppRepo) TryAcquireGenerationLock(_ context.Context, id int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lockDenied || f.locked[id] {
		return false, nil
	}
	f.locked[id] = true
	return true, nil
}

func (f *fakeAppRepo) ReleaseGenerationLock(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.locked[id] = false
	return nil
}

func (f *fakeAppRepo) status(id int64) domain.ApplicationStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.apps[id].Status
}

type fakeLedger struct {
	mu      sync.Mutex
	records map[int64][]domain.DocumentRecord
	nextID  int64
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{records: make(map[int64][]domain.DocumentRecord)}
}

func (f *fakeLedger) Upsert(_ context.Context, record *domain.DocumentRecord) (*domain.DocumentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.records[record.ApplicationID]
	for i := range list {
		if list[i].DocumentType == record.DocumentType {
			if record.Uploaded {
				list[i].Filename = record.Filename
				list[i].MimeType = record.MimeType
				list[i].StoragePath = record.StoragePath
				list[i].Uploaded = true
				list[i].UpdatedAt = record.UpdatedAt
			}
			out := list[i]
			return &out, nil
		}
	}
	f.nextID++
	stored := *record
	stored.ID = f.nextID
	f.records[record.ApplicationID] = append(list, stored)
	out := stored
	return &out, nil
}

func (f *fakeLedger) MarkProcessed(_ context.Context, applicationID int64, documentType, text string, extracted domain.ExtractedData, confidence int, errMessage string) (*domain.DocumentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.records[applicationID]
	for i := range list {
		if list[i].DocumentType != documentType || !list[i].Uploaded {
			continue
		}
		list[i].Processed = true
		list[i].ErrorMessage = errMessage
		if errMessage == "" {
			list[i].ExtractedText = text
			list[i].ExtractedData = extracted
			list[i].ExtractionConfidence = confidence
		}
		out := list[i]
		return &out, nil
	}
	return nil, domain.WrapError(domain.ErrNotFound, "mark processed", fmt.Errorf("%s for application %d", documentType, applicationID))
}

func (f *fakeLedger) Snapshot(_ context.Context, applicationID int64) ([]domain.DocumentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.DocumentRecord, len(f.records[applicationID]))
	copy(out, f.records[applicationID])
	return out, nil
}

type fakeGeneratedStore struct {
	mu      sync.Mutex
	records map[int64][]domain.GeneratedDocumentRecord
	nextID  int64
}

func newFakeGeneratedStore() *fakeGeneratedStore {
	return &fakeGeneratedStore{records: make(map[int64][]domain.GeneratedDocumentRecord)}
}

func (f *fakeGeneratedStore) seed(record domain.GeneratedDocumentRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	record.ID = f.nextID
	f.records[record.ApplicationID] = append(f.records[record.ApplicationID], record)
}

func (f *fakeGeneratedStore) EnsurePending(_ context.Context, applicationID int64, documentType string) (*domain.GeneratedDocumentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.records[applicationID]
	for i := range list {
		if list[i].DocumentType != documentType {
			continue
		}
		if list[i].Status != domain.GenerationCompleted {
			list[i].Status = domain.GenerationPending
			list[i].Progress = 0
			list[i].ErrorMessage = ""
		}
		out := list[i]
		return &out, nil
	}
	f.nextID++
	record := domain.GeneratedDocumentRecord{
		ID:            f.nextID,
		ApplicationID: applicationID,
		DocumentType:  documentType,
		Status:        domain.GenerationPending,
	}
	f.records[applicationID] = append(list, record)
	out := record
	return &out, nil
}

func (f *fakeGeneratedStore) UpdateStatus(_ context.Context, id int64, status domain.GenerationStatus, progress int, errMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for appID := range f.records {
		list := f.records[appID]
		for i := range list {
			if list[i].ID != id {
				continue
			}
			list[i].Status = status
			list[i].Progress = progress
			list[i].ErrorMessage = errMessage
			if status == domain.GenerationFailed {
				list[i].Attempts++
			}
			return nil
		}
	}
	return domain.WrapError(domain.ErrNotFound, "update generation record", fmt.Errorf("record %d", id))
}

func (f *fakeGeneratedStore) SaveResult(_ context.Context, id int64, filePath string, fileSize int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for appID := range f.records {
		list := f.records[appID]
		for i := range list {
			if list[i].ID != id {
				continue
			}
			list[i].Status = domain.GenerationCompleted
			list[i].Progress = 100
			list[i].FilePath = filePath
			list[i].FileSize = fileSize
			list[i].ErrorMessage = ""
			return nil
		}
	}
	return domain.WrapError(domain.ErrNotFound, "save generation result", fmt.Errorf("record %d", id))
}

func (f *fakeGeneratedStore) ListByApplication(_ context.Context, applicationID int64) ([]domain.GeneratedDocumentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.GeneratedDocumentRecord, len(f.records[applicationID]))
	copy(out, f.records[applicationID])
	return out, nil
}

func (f *fakeGeneratedStore) byType(applicationID int64, documentType string) domain.GeneratedDocumentRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, record := range f.records[applicationID] {
		if record.DocumentType == documentType {
			return record
		}
	}
	return domain.GeneratedDocumentRecord{}
}

type fakeSessionStore struct {
	mu       sync.Mutex
	sessions map[int64]*domain.AnalysisSession
	nextID   int64
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{sessions: make(map[int64]*domain.AnalysisSession)}
}

func (f *fakeSessionStore) Create(_ context.Context, session *domain.AnalysisSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.sessions {
		if existing.ApplicationID == session.ApplicationID && !existing.Status.Terminal() {
			return domain.WrapError(domain.ErrConflict, "create analysis session",
				fmt.Errorf("application %d already has an active session", session.ApplicationID))
		}
	}
	f.nextID++
	session.ID = f.nextID
	stored := *session
	f.sessions[session.ID] = &stored
	return nil
}

func (f *fakeSessionStore) GetByID(_ context.Context, id int64) (*domain.AnalysisSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "load session", fmt.Errorf("session %d", id))
	}
	out := *session
	return &out, nil
}

func (f *fakeSessionStore) Latest(_ context.Context, applicationID int64) (*domain.AnalysisSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest *domain.AnalysisSession
	for _, session := range f.sessions {
		if session.ApplicationID != applicationID {
			continue
		}
		if latest == nil || session.ID > latest.ID {
			latest = session
		}
	}
	if latest == nil {
		return nil, domain.WrapError(domain.ErrNotFound, "load session", fmt.Errorf("application %d", applicationID))
	}
	out := *latest
	return &out, nil
}

func (f *fakeSessionStore) UpdateProgress(_ context.Context, id int64, status domain.SessionStatus, documentsAnalyzed int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[id]
	if !ok {
		return domain.WrapError(domain.ErrNotFound, "update session", fmt.Errorf("session %d", id))
	}
	session.Status = status
	session.DocumentsAnalyzed = documentsAnalyzed
	return nil
}

func (f *fakeSessionStore) Finish(_ context.Context, id int64, status domain.SessionStatus, score int, missing []domain.FieldKey, errMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[id]
	if !ok {
		return domain.WrapError(domain.ErrNotFound, "finish session", fmt.Errorf("session %d", id))
	}
	session.Status = status
	session.CompletenessScore = score
	session.MissingFields = missing
	session.ErrorMessage = errMessage
	return nil
}

type fakeQuestionnaire struct {
	mu      sync.Mutex
	answers map[int64][]domain.QuestionnaireResponse
}

func newFakeQuestionnaire() *fakeQuestionnaire {
	return &fakeQuestionnaire{answers: make(map[int64][]domain.QuestionnaireResponse)}
}

func (f *fakeQuestionnaire) Save(_ context.Context, response *domain.QuestionnaireResponse) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.answers[response.ApplicationID]
	for i := range list {
		if list[i].Field == response.Field {
			list[i].Answer = response.Answer
			return nil
		}
	}
	f.answers[response.ApplicationID] = append(list, *response)
	return nil
}

func (f *fakeQuestionnaire) ListByApplication(_ context.Context, applicationID int64) ([]domain.QuestionnaireResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.QuestionnaireResponse, len(f.answers[applicationID]))
	copy(out, f.answers[applicationID])
	return out, nil
}

type fakeResolver struct {
	descriptors []domain.RequirementDescriptor
	err         error
}

func (f *fakeResolver) Resolve(string, string, string) ([]domain.RequirementDescriptor, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.descriptors, nil
}

type fakeStorage struct {
	mu    sync.Mutex
	files map[string][]byte
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{files: make(map[string][]byte)}
}

func (f *fakeStorage) Save(_ context.Context, key string, data io.Reader) (int64, error) {
	raw, err := io.ReadAll(data)
	if err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[key] = raw
	return int64(len(raw)), nil
}

func (f *fakeStorage) Open(_ context.Context, key string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, ok := f.files[key]
	if !ok {
		return nil, errors.New("file not found: " + key)
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

type fakeQueue struct {
	mu          sync.Mutex
	analysis    [][2]int64
	generations []int64
	analysisErr error
}

func (f *fakeQueue) PublishAnalysisRequested(_ context.Context, applicationID, sessionID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.analysisErr != nil {
		return f.analysisErr
	}
	f.analysis = append(f.analysis, [2]int64{applicationID, sessionID})
	return nil
}

func (f *fakeQueue) PublishGenerationRequested(_ context.Context, applicationID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.generations = append(f.generations, applicationID)
	return nil
}

func (f *fakeQueue) SubscribeAnalysisRequested(context.Context, func(context.Context, int64, int64) error) error {
	return nil
}

func (f *fakeQueue) SubscribeGenerationRequested(context.Context, func(context.Context, int64) error) error {
	return nil
}

type fakeTextExtractor struct {
	texts map[string]string
	errs  map[string]error
}

func (f *fakeTextExtractor) Extract(_ context.Context, record *domain.DocumentRecord) (string, error) {
	if err, ok := f.errs[record.DocumentType]; ok {
		return "", err
	}
	return f.texts[record.DocumentType], nil
}

type fakeFieldExtractor struct {
	mu      sync.Mutex
	results map[string]ports.ExtractionResult
	errs    map[string]error
	calls   []string
}

func (f *fakeFieldExtractor) Extract(_ context.Context, documentType, _ string, _ []domain.FieldKey) (ports.ExtractionResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, documentType)
	f.mu.Unlock()
	if err, ok := f.errs[documentType]; ok {
		return ports.ExtractionResult{}, err
	}
	return f.results[documentType], nil
}

type fakeGenerator struct {
	mu    sync.Mutex
	files map[string]ports.GeneratedFile
	errs  map[string]error
	calls []string
}

func (f *fakeGenerator) Generate(_ context.Context, app *domain.Application, descriptor domain.RequirementDescriptor, _ []domain.QuestionnaireResponse) (ports.GeneratedFile, error) {
	f.mu.Lock()
	f.calls = append(f.calls, descriptor.DocumentType)
	f.mu.Unlock()
	if err, ok := f.errs[descriptor.DocumentType]; ok {
		return ports.GeneratedFile{}, err
	}
	if file, ok := f.files[descriptor.DocumentType]; ok {
		return file, nil
	}
	return ports.GeneratedFile{
		Path: fmt.Sprintf("generated/%d/%s.pdf", app.ID, descriptor.DocumentType),
		Size: 1024,
	}, nil
}
