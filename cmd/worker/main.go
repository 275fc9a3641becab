package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/visaforge/engine/internal/bootstrap"
	"github.com/visaforge/engine/internal/config"
	"github.com/visaforge/engine/internal/observability/logging"
	"github.com/visaforge/engine/internal/observability/metrics"
)

func main() {
	cfg := config.Load()
	slog.SetDefault(logging.NewJSONLogger("worker", cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	workerMetrics := metrics.NewWorkerMetrics("worker")
	metricsServer := &http.Server{
		Addr:    ":" + cfg.WorkerMetricsPort,
		Handler: workerMetrics.Handler(),
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("worker metrics server error: %v", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	analysisTimeout := time.Duration(cfg.ExtractionTimeoutS)*time.Second*10 + time.Minute
	generationTimeout := time.Duration(cfg.GenerationTimeoutS)*time.Second*10 + time.Minute

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		log.Printf("worker subscribed to %s", cfg.NATSAnalysisSubject)
		err := app.Queue.SubscribeAnalysisRequested(ctx, func(handlerCtx context.Context, applicationID, sessionID int64) error {
			runCtx, cancel := context.WithTimeout(handlerCtx, analysisTimeout)
			defer cancel()

			workerMetrics.StartExtraction()
			start := time.Now()
			runErr := app.AnalyzeUC.Run(runCtx, applicationID, sessionID)
			workerMetrics.FinishExtraction("worker", time.Since(start), runErr)
			return runErr
		})
		if err != nil {
			slog.Error("analysis_subscription_failed", "error", err)
			stop()
		}
	}()

	go func() {
		defer wg.Done()
		log.Printf("worker subscribed to %s", cfg.NATSGenerationSubject)
		err := app.Queue.SubscribeGenerationRequested(ctx, func(handlerCtx context.Context, applicationID int64) error {
			runCtx, cancel := context.WithTimeout(handlerCtx, generationTimeout)
			defer cancel()

			start := time.Now()
			runErr := app.GenerateUC.Run(runCtx, applicationID)
			workerMetrics.FinishGeneration("worker", time.Since(start), runErr)
			return runErr
		})
		if err != nil {
			slog.Error("generation_subscription_failed", "error", err)
			stop()
		}
	}()

	wg.Wait()
}
