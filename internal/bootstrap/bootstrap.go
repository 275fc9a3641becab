package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/visaforge/engine/internal/config"
	"github.com/visaforge/engine/internal/core/catalog"
	"github.com/visaforge/engine/internal/core/ports"
	"github.com/visaforge/engine/internal/core/usecase"
	"github.com/visaforge/engine/internal/infrastructure/docgen"
	"github.com/visaforge/engine/internal/infrastructure/extractor"
	"github.com/visaforge/engine/internal/infrastructure/llm/ollama"
	"github.com/visaforge/engine/internal/infrastructure/queue/nats"
	"github.com/visaforge/engine/internal/infrastructure/repository/postgres"
	"github.com/visaforge/engine/internal/infrastructure/resilience"
	"github.com/visaforge/engine/internal/infrastructure/storage/localfs"
)

type App struct {
	Config config.Config

	Catalog *catalog.Store
	Queue   ports.MessageQueue

	ApplicationUC ports.ApplicationService
	AnalyzeUC     ports.AnalysisOrchestrator
	GenerateUC    ports.GenerationOrchestrator

	closeFn func()
}

func New(ctx context.Context, cfg config.Config) (*App, error) {
	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	apps := postgres.NewApplicationRepository(db)
	ledger := postgres.NewDocumentRepository(db)
	generated := postgres.NewGeneratedDocumentRepository(db)
	sessions := postgres.NewAnalysisSessionRepository(db)
	questionnaire := postgres.NewQuestionnaireRepository(db)

	snapshot, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("load requirement catalog: %w", err)
	}
	catalogStore := catalog.NewStore(snapshot)

	storage, err := localfs.New(cfg.StoragePath)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init object storage: %w", err)
	}

	executor := resilience.NewExecutor(resilience.DefaultConfig())

	queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSAnalysisSubject, cfg.NATSGenerationSubject, nats.Options{
		ResilienceExecutor: executor,
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init message queue: %w", err)
	}

	extractClient := ollama.New(cfg.OllamaURL, cfg.OllamaExtractModel).WithExecutor(executor)
	draftClient := extractClient
	if cfg.OllamaDraftModel != cfg.OllamaExtractModel {
		draftClient = ollama.New(cfg.OllamaURL, cfg.OllamaDraftModel).WithExecutor(executor)
	}
	fields := ollama.NewFieldExtractor(extractClient)
	drafter := ollama.NewDrafter(draftClient)

	texts := extractor.New(storage)
	generator := docgen.New(drafter, storage)

	applicationUC := usecase.NewApplicationUseCase(
		apps, ledger, generated, questionnaire, catalogStore, storage, cfg.ConfidenceThreshold,
	)
	analyzeUC := usecase.NewAnalyzeUseCase(
		apps, ledger, sessions, catalogStore, texts, fields, queue,
		usecase.AnalyzeConfig{
			Concurrency:         cfg.AnalysisConcurrency,
			ExtractionTimeout:   time.Duration(cfg.ExtractionTimeoutS) * time.Second,
			ConfidenceThreshold: cfg.ConfidenceThreshold,
		},
	)
	generateUC := usecase.NewGenerateUseCase(
		apps, ledger, generated, questionnaire, catalogStore, generator, queue,
		usecase.GenerateConfig{
			GenerationTimeout: time.Duration(cfg.GenerationTimeoutS) * time.Second,
			MaxAttempts:       cfg.GenerationAttempts,
			WaitForLock:       cfg.GenerationWaitLock,
		},
	)

	return &App{
		Config:  cfg,
		Catalog: catalogStore,
		Queue:   queue,

		ApplicationUC: applicationUC,
		AnalyzeUC:     analyzeUC,
		GenerateUC:    generateUC,

		closeFn: func() {
			queue.Close()
			_ = db.Close()
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
