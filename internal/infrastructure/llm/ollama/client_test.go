package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/visaforge/engine/internal/core/domain"
)

func TestExtractBuildsSchemaPrompt(t *testing.T) {
	var capturedPrompt string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			http.NotFound(w, r)
			return
		}
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		capturedPrompt, _ = payload["prompt"].(string)
		_, _ = w.Write([]byte(`{"response":"{\"fields\":{\"full_name\":\"Jane Doe\",\"salary\":\"\"},\"confidence\":87}"}`))
	}))
	defer server.Close()

	client := New(server.URL, "extract")
	extractor := NewFieldExtractor(client)
	result, err := extractor.Extract(context.Background(), "passport", "passport holder Jane Doe", []domain.FieldKey{"full_name", "passport_number"})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if !strings.Contains(capturedPrompt, "passport") || !strings.Contains(capturedPrompt, "full_name, passport_number") {
		t.Fatalf("unexpected prompt: %s", capturedPrompt)
	}
	if result.Confidence != 87 {
		t.Fatalf("Confidence = %d, want 87", result.Confidence)
	}
	value, ok := result.Fields["full_name"]
	if !ok || value.Value != "Jane Doe" || value.Confidence != 87 {
		t.Fatalf("unexpected extracted field: %+v", result.Fields)
	}
	if _, ok := result.Fields["salary"]; ok {
		t.Fatalf("empty values must be dropped, got %+v", result.Fields)
	}
}

func TestExtractClampsConfidence(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"response":"{\"fields\":{\"full_name\":\"Jane\"},\"confidence\":250}"}`))
	}))
	defer server.Close()

	extractor := NewFieldExtractor(New(server.URL, "extract"))
	result, err := extractor.Extract(context.Background(), "passport", "text", nil)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if result.Confidence != 100 {
		t.Fatalf("Confidence = %d, want 100", result.Confidence)
	}
}

func TestDraftIncludesHTTPBodyInError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model unavailable", http.StatusBadGateway)
	}))
	defer server.Close()

	drafter := NewDrafter(New(server.URL, "draft"))
	_, err := drafter.Draft(context.Background(), "write a letter")
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "model unavailable") {
		t.Fatalf("expected response body in error, got %v", err)
	}
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("bad gateway should be marked temporary, got %v", err)
	}
}
