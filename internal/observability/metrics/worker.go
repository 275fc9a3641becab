package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type WorkerMetrics struct {
	registry *prometheus.Registry

	extractionTotal    *prometheus.CounterVec
	extractionDuration *prometheus.HistogramVec
	extractionInFlight prometheus.Gauge
	generationTotal    *prometheus.CounterVec
	generationDuration *prometheus.HistogramVec
	queueLag           *prometheus.HistogramVec
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	extractionTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vf",
			Subsystem: "worker",
			Name:      "document_extraction_total",
			Help:      "Total analyzed documents by status.",
		},
		[]string{"service", "status"},
	)
	extractionDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "vf",
			Subsystem: "worker",
			Name:      "document_extraction_duration_seconds",
			Help:      "Document extraction duration in seconds by status.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "status"},
	)
	extractionInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "vf",
			Subsystem: "worker",
			Name:      "document_extraction_in_flight",
			Help:      "Number of in-flight document extractions.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	generationTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vf",
			Subsystem: "worker",
			Name:      "document_generation_total",
			Help:      "Total generated documents by status.",
		},
		[]string{"service", "status"},
	)
	generationDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "vf",
			Subsystem: "worker",
			Name:      "document_generation_duration_seconds",
			Help:      "Document generation duration in seconds by status.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"service", "status"},
	)
	queueLag := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "vf",
			Subsystem: "worker",
			Name:      "queue_lag_seconds",
			Help:      "Delay between run enqueue and processing start.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"service"},
	)

	registry.MustRegister(
		extractionTotal,
		extractionDuration,
		extractionInFlight,
		generationTotal,
		generationDuration,
		queueLag,
	)

	return &WorkerMetrics{
		registry:           registry,
		extractionTotal:    extractionTotal,
		extractionDuration: extractionDuration,
		extractionInFlight: extractionInFlight,
		generationTotal:    generationTotal,
		generationDuration: generationDuration,
		queueLag:           queueLag,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartExtraction() {
	m.extractionInFlight.Inc()
}

func (m *WorkerMetrics) FinishExtraction(service string, duration time.Duration, err error) {
	m.extractionInFlight.Dec()
	m.extractionTotal.WithLabelValues(service, statusLabel(err)).Inc()
	m.extractionDuration.WithLabelValues(service, statusLabel(err)).Observe(duration.Seconds())
}

func (m *WorkerMetrics) FinishGeneration(service string, duration time.Duration, err error) {
	m.generationTotal.WithLabelValues(service, statusLabel(err)).Inc()
	m.generationDuration.WithLabelValues(service, statusLabel(err)).Observe(duration.Seconds())
}

func (m *WorkerMetrics) ObserveQueueLag(service string, lag time.Duration) {
	if lag < 0 {
		return
	}
	m.queueLag.WithLabelValues(service).Observe(lag.Seconds())
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
