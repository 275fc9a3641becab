package ollama

import (
	"strings"

	"github.com/visaforge/engine/internal/core/domain"
)

func buildExtractionPrompt(documentType, text string, schema []domain.FieldKey) string {
	const maxSnippet = 6000
	snippet := text
	if len(snippet) > maxSnippet {
		snippet = snippet[:maxSnippet]
	}

	keys := make([]string, 0, len(schema))
	for _, field := range schema {
		keys = append(keys, string(field))
	}
	fieldList := strings.Join(keys, ", ")
	if fieldList == "" {
		fieldList = "any identity, financial or employment fields you can find"
	}

	return `You extract structured data from visa application documents.
Document type: ` + documentType + `
Return a strict JSON object with keys:
fields (object mapping field name to string value; use only these field names: ` + fieldList + `),
confidence (integer from 0 to 100 for the extraction overall).
Omit fields you cannot find. No markdown, no extra keys.

Document text:
` + snippet
}
