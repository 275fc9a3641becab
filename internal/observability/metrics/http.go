package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type HTTPServerMetrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	uploadsTotal         *prometheus.CounterVec
	analysisStartsTotal  *prometheus.CounterVec
	generationStarts     *prometheus.CounterVec
	completenessScore    *prometheus.HistogramVec
	bundleDownloadsTotal *prometheus.CounterVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vf",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "vf",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "vf",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	uploadsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vf",
			Subsystem: "application",
			Name:      "document_uploads_total",
			Help:      "Total accepted document uploads by document type.",
		},
		[]string{"service", "document_type"},
	)
	analysisStartsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vf",
			Subsystem: "analysis",
			Name:      "starts_total",
			Help:      "Total analysis sessions started or rejected.",
		},
		[]string{"service", "outcome"},
	)
	generationStarts := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vf",
			Subsystem: "generation",
			Name:      "starts_total",
			Help:      "Total generation runs started or rejected.",
		},
		[]string{"service", "outcome"},
	)
	completenessScore := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "vf",
			Subsystem: "application",
			Name:      "completeness_score",
			Help:      "Distribution of completeness scores served to clients.",
			Buckets:   []float64{0, 10, 25, 50, 75, 90, 100},
		},
		[]string{"service"},
	)
	bundleDownloadsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vf",
			Subsystem: "application",
			Name:      "bundle_downloads_total",
			Help:      "Total generated document bundle downloads.",
		},
		[]string{"service"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		uploadsTotal,
		analysisStartsTotal,
		generationStarts,
		completenessScore,
		bundleDownloadsTotal,
	)

	return &HTTPServerMetrics{
		registry:             registry,
		requestTotal:         requestTotal,
		requestDuration:      requestDuration,
		requestInFlight:      requestInFlight,
		uploadsTotal:         uploadsTotal,
		analysisStartsTotal:  analysisStartsTotal,
		generationStarts:     generationStarts,
		completenessScore:    completenessScore,
		bundleDownloadsTotal: bundleDownloadsTotal,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(service string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := normalizePath(r.URL.Path)
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			service,
			r.Method,
			path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// normalizePath collapses application-scoped paths to one label value per
// route so the metric cardinality stays bounded.
func normalizePath(path string) string {
	if !strings.HasPrefix(path, "/v1/applications/") {
		return path
	}
	rest := strings.TrimPrefix(path, "/v1/applications/")
	if rest == "" {
		return path
	}
	if idx := strings.IndexByte(rest, '/'); idx >= 0 {
		return "/v1/applications/{id}/" + rest[idx+1:]
	}
	return "/v1/applications/{id}"
}

func (m *HTTPServerMetrics) RecordUpload(service, documentType string) {
	if documentType == "" {
		documentType = "unknown"
	}
	m.uploadsTotal.WithLabelValues(service, documentType).Inc()
}

func (m *HTTPServerMetrics) RecordAnalysisStart(service string, err error) {
	m.analysisStartsTotal.WithLabelValues(service, outcomeLabel(err)).Inc()
}

func (m *HTTPServerMetrics) RecordGenerationStart(service string, err error) {
	m.generationStarts.WithLabelValues(service, outcomeLabel(err)).Inc()
}

func (m *HTTPServerMetrics) RecordCompletenessScore(service string, score int) {
	m.completenessScore.WithLabelValues(service).Observe(float64(score))
}

func (m *HTTPServerMetrics) RecordBundleDownload(service string) {
	m.bundleDownloadsTotal.WithLabelValues(service).Inc()
}

func outcomeLabel(err error) string {
	if err != nil {
		return "rejected"
	}
	return "started"
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}

func (w *statusRecorder) Push(target string, opts *http.PushOptions) error {
	pusher, ok := w.ResponseWriter.(http.Pusher)
	if !ok {
		return http.ErrNotSupported
	}
	return pusher.Push(target, opts)
}
