package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/visaforge/engine/internal/core/domain"
	"github.com/visaforge/engine/internal/core/ports"
	"github.com/visaforge/engine/internal/infrastructure/resilience"
)

type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
	executor   *resilience.Executor
}

func New(baseURL, model string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
}

// WithExecutor enables classified retry and circuit breaking on every call.
func (c *Client) WithExecutor(executor *resilience.Executor) *Client {
	c.executor = executor
	return c
}

// FieldExtractor asks the model for structured fields out of document text.
// Calls are idempotent-safe: the same input can be sent any number of times.
type FieldExtractor struct {
	client *Client
}

func NewFieldExtractor(client *Client) *FieldExtractor {
	return &FieldExtractor{client: client}
}

type extractionPayload struct {
	Fields     map[string]string `json:"fields"`
	Confidence int               `json:"confidence"`
}

func (e *FieldExtractor) Extract(ctx context.Context, documentType, text string, schema []domain.FieldKey) (ports.ExtractionResult, error) {
	respText, err := e.client.generateJSON(ctx, buildExtractionPrompt(documentType, text, schema))
	if err != nil {
		return ports.ExtractionResult{}, err
	}

	var payload extractionPayload
	if err := json.Unmarshal([]byte(extractJSONObject(respText)), &payload); err != nil {
		return ports.ExtractionResult{}, fmt.Errorf("parse extraction json: %w", err)
	}
	if payload.Confidence < 0 {
		payload.Confidence = 0
	}
	if payload.Confidence > 100 {
		payload.Confidence = 100
	}

	fields := make(domain.ExtractedData, len(payload.Fields))
	for key, value := range payload.Fields {
		if strings.TrimSpace(value) == "" {
			continue
		}
		fields[domain.FieldKey(key)] = domain.FieldValue{
			Kind:       domain.FieldKindString,
			Value:      strings.TrimSpace(value),
			Confidence: payload.Confidence,
		}
	}
	return ports.ExtractionResult{Fields: fields, Confidence: payload.Confidence}, nil
}

// Drafter produces the body text of a generated document from application
// data and a template.
type Drafter struct {
	client *Client
}

func NewDrafter(client *Client) *Drafter {
	return &Drafter{client: client}
}

func (d *Drafter) Draft(ctx context.Context, prompt string) (string, error) {
	return d.client.generateText(ctx, prompt)
}

func (c *Client) generateJSON(ctx context.Context, prompt string) (string, error) {
	return c.generate(ctx, map[string]any{
		"model":  c.model,
		"prompt": prompt,
		"stream": false,
		"format": "json",
	})
}

func (c *Client) generateText(ctx context.Context, prompt string) (string, error) {
	return c.generate(ctx, map[string]any{
		"model":  c.model,
		"prompt": prompt,
		"stream": false,
	})
}

func (c *Client) generate(ctx context.Context, reqBody map[string]any) (string, error) {
	var response struct {
		Response string `json:"response"`
	}

	call := func(callCtx context.Context) error {
		return c.postJSON(callCtx, "/api/generate", reqBody, &response, "generate")
	}

	var err error
	if c.executor != nil {
		err = c.executor.Execute(ctx, "ollama.generate", call, classifyOllamaError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return "", wrapTemporaryIfNeeded("generate", err)
	}
	return strings.TrimSpace(response.Response), nil
}

func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}
