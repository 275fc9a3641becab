package httpadapter

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/visaforge/engine/internal/core/domain"
	"github.com/visaforge/engine/internal/core/ports"
	"github.com/visaforge/engine/internal/observability/metrics"
)

const maxUploadBytes = 32 << 20

type RouterConfig struct {
	ServiceName      string
	RateLimitRPS     float64
	RateLimitBurst   int
	MaxConcurrent    int
	BackpressureWait time.Duration
}

type Router struct {
	apps       ports.ApplicationService
	analysis   ports.AnalysisOrchestrator
	generation ports.GenerationOrchestrator
	metrics    *metrics.HTTPServerMetrics
	cfg        RouterConfig
}

func NewRouter(
	apps ports.ApplicationService,
	analysis ports.AnalysisOrchestrator,
	generation ports.GenerationOrchestrator,
	httpMetrics *metrics.HTTPServerMetrics,
	cfg RouterConfig,
) *Router {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "api"
	}
	if cfg.BackpressureWait <= 0 {
		cfg.BackpressureWait = 2 * time.Second
	}
	return &Router{
		apps:       apps,
		analysis:   analysis,
		generation: generation,
		metrics:    httpMetrics,
		cfg:        cfg,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)

	mux.HandleFunc("POST /v1/applications", rt.createApplication)
	mux.HandleFunc("GET /v1/applications/{id}", rt.getApplication)
	mux.HandleFunc("DELETE /v1/applications/{id}", rt.deleteApplication)

	mux.HandleFunc("POST /v1/applications/{id}/documents", rt.uploadDocument)
	mux.HandleFunc("GET /v1/applications/{id}/documents", rt.listDocuments)

	mux.HandleFunc("POST /v1/applications/{id}/analysis", rt.startAnalysis)
	mux.HandleFunc("GET /v1/applications/{id}/analysis", rt.analysisStatus)

	mux.HandleFunc("POST /v1/applications/{id}/questionnaire", rt.submitAnswer)

	mux.HandleFunc("POST /v1/applications/{id}/generation", rt.startGeneration)
	mux.HandleFunc("GET /v1/applications/{id}/generation", rt.generationStatus)

	mux.HandleFunc("GET /v1/applications/{id}/bundle", rt.downloadBundle)
	mux.HandleFunc("POST /v1/applications/{id}/reset", rt.resetFailed)

	var handler http.Handler = mux
	handler = backpressureMiddleware(handler, rt.cfg.MaxConcurrent, rt.cfg.BackpressureWait)
	handler = rateLimitMiddleware(handler, rt.cfg.RateLimitRPS, rt.cfg.RateLimitBurst)
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(rt.cfg.ServiceName, handler)
	}
	handler = accessLogMiddleware(handler)
	handler = requestIDMiddleware(handler)
	return handler
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) createApplication(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ApplicantName     string `json:"applicant_name"`
		ApplicantEmail    string `json:"applicant_email"`
		Country           string `json:"country"`
		VisaType          string `json:"visa_type"`
		ApplicantCategory string `json:"applicant_category"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	app, err := rt.apps.Create(r.Context(), domain.Application{
		ApplicantName:     req.ApplicantName,
		ApplicantEmail:    req.ApplicantEmail,
		Country:           req.Country,
		VisaType:          req.VisaType,
		ApplicantCategory: req.ApplicantCategory,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, app)
}

func (rt *Router) getApplication(w http.ResponseWriter, r *http.Request) {
	id, ok := applicationID(w, r)
	if !ok {
		return
	}
	app, err := rt.apps.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if rt.metrics != nil {
		rt.metrics.RecordCompletenessScore(rt.cfg.ServiceName, app.CompletenessScore)
	}
	writeJSON(w, http.StatusOK, app)
}

func (rt *Router) deleteApplication(w http.ResponseWriter, r *http.Request) {
	id, ok := applicationID(w, r)
	if !ok {
		return
	}
	if err := rt.apps.Delete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) uploadDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := applicationID(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "multipart field 'file' is required"})
		return
	}
	defer file.Close()

	documentType := strings.TrimSpace(r.FormValue("document_type"))
	if documentType == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "form field 'document_type' is required"})
		return
	}

	record, err := rt.apps.UploadDocument(
		r.Context(),
		id,
		documentType,
		fileHeader.Filename,
		fileHeader.Header.Get("Content-Type"),
		file,
	)
	if err != nil {
		writeError(w, err)
		return
	}
	if rt.metrics != nil {
		rt.metrics.RecordUpload(rt.cfg.ServiceName, documentType)
	}
	writeJSON(w, http.StatusCreated, record)
}

func (rt *Router) listDocuments(w http.ResponseWriter, r *http.Request) {
	id, ok := applicationID(w, r)
	if !ok {
		return
	}
	records, err := rt.apps.Documents(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": records})
}

func (rt *Router) startAnalysis(w http.ResponseWriter, r *http.Request) {
	id, ok := applicationID(w, r)
	if !ok {
		return
	}
	session, err := rt.analysis.Start(r.Context(), id)
	if rt.metrics != nil {
		rt.metrics.RecordAnalysisStart(rt.cfg.ServiceName, err)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, session)
}

func (rt *Router) analysisStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := applicationID(w, r)
	if !ok {
		return
	}
	session, err := rt.analysis.Status(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (rt *Router) submitAnswer(w http.ResponseWriter, r *http.Request) {
	id, ok := applicationID(w, r)
	if !ok {
		return
	}

	var req struct {
		Field  string `json:"field"`
		Answer string `json:"answer"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	app, err := rt.apps.SubmitAnswer(r.Context(), id, domain.FieldKey(req.Field), req.Answer)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

func (rt *Router) startGeneration(w http.ResponseWriter, r *http.Request) {
	id, ok := applicationID(w, r)
	if !ok {
		return
	}
	records, err := rt.generation.Start(r.Context(), id)
	if rt.metrics != nil {
		rt.metrics.RecordGenerationStart(rt.cfg.ServiceName, err)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"documents": records})
}

func (rt *Router) generationStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := applicationID(w, r)
	if !ok {
		return
	}
	records, err := rt.generation.Status(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": records})
}

func (rt *Router) downloadBundle(w http.ResponseWriter, r *http.Request) {
	id, ok := applicationID(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=application-%d-documents.zip", id))
	if err := rt.apps.Bundle(r.Context(), id, w); err != nil {
		// Headers may already be out; best effort error mapping.
		writeError(w, err)
		return
	}
	if rt.metrics != nil {
		rt.metrics.RecordBundleDownload(rt.cfg.ServiceName)
	}
}

func (rt *Router) resetFailed(w http.ResponseWriter, r *http.Request) {
	id, ok := applicationID(w, r)
	if !ok {
		return
	}
	app, err := rt.apps.ResetFailed(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

func applicationID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "application id must be a positive integer"})
		return 0, false
	}
	return id, true
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
