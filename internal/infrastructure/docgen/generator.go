package docgen

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jung-kurt/gofpdf"

	"github.com/visaforge/engine/internal/core/domain"
	"github.com/visaforge/engine/internal/core/ports"
)

// Drafter produces the body text of a document from a prompt.
type Drafter interface {
	Draft(ctx context.Context, prompt string) (string, error)
}

// Generator drafts document text through the AI collaborator and renders it
// into a stored PDF.
type Generator struct {
	drafter Drafter
	storage ports.ObjectStorage
}

func New(drafter Drafter, storage ports.ObjectStorage) *Generator {
	return &Generator{drafter: drafter, storage: storage}
}

func (g *Generator) Generate(
	ctx context.Context,
	app *domain.Application,
	descriptor domain.RequirementDescriptor,
	answers []domain.QuestionnaireResponse,
) (ports.GeneratedFile, error) {
	text, err := g.drafter.Draft(ctx, buildDraftPrompt(app, descriptor, answers))
	if err != nil {
		return ports.GeneratedFile{}, fmt.Errorf("draft %s: %w", descriptor.DocumentType, err)
	}
	if strings.TrimSpace(text) == "" {
		return ports.GeneratedFile{}, fmt.Errorf("draft %s: collaborator returned empty text", descriptor.DocumentType)
	}

	pdfBytes, err := renderPDF(titleFor(descriptor), app.Number, text)
	if err != nil {
		return ports.GeneratedFile{}, fmt.Errorf("render %s: %w", descriptor.DocumentType, err)
	}

	key := fmt.Sprintf("generated/%d/%s.pdf", app.ID, descriptor.DocumentType)
	size, err := g.storage.Save(ctx, key, bytes.NewReader(pdfBytes))
	if err != nil {
		return ports.GeneratedFile{}, fmt.Errorf("store %s: %w", descriptor.DocumentType, err)
	}
	return ports.GeneratedFile{Path: key, Size: size}, nil
}

func buildDraftPrompt(app *domain.Application, descriptor domain.RequirementDescriptor, answers []domain.QuestionnaireResponse) string {
	var b strings.Builder
	b.WriteString("You write formal supporting documents for visa applications.\n")
	b.WriteString("Document to produce: ")
	b.WriteString(titleFor(descriptor))
	if descriptor.TemplateID != "" {
		b.WriteString(" (template ")
		b.WriteString(descriptor.TemplateID)
		b.WriteString(")")
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "Destination country: %s, visa type: %s, applicant category: %s.\n",
		app.Country, app.VisaType, app.ApplicantCategory)
	fmt.Fprintf(&b, "Applicant: %s.\n", app.ApplicantName)

	facts := collectFacts(app, answers)
	if len(facts) > 0 {
		b.WriteString("Known applicant data:\n")
		for _, fact := range facts {
			b.WriteString("- ")
			b.WriteString(fact)
			b.WriteString("\n")
		}
	}

	b.WriteString("Write the full document body in plain prose. ")
	b.WriteString("Do not invent facts that are not listed above; leave a blank line like ______ for anything unknown. ")
	b.WriteString("No markdown, no commentary, only the document text.")
	return b.String()
}

// collectFacts merges extracted fields and questionnaire answers into a
// deterministic, sorted fact list. Answers win on key collision.
func collectFacts(app *domain.Application, answers []domain.QuestionnaireResponse) []string {
	merged := make(map[string]string, len(app.ExtractedData)+len(answers))
	for key, value := range app.ExtractedData {
		if strings.TrimSpace(value.Value) != "" {
			merged[string(key)] = value.Value
		}
	}
	for _, answer := range answers {
		if strings.TrimSpace(answer.Answer) != "" {
			merged[string(answer.Field)] = answer.Answer
		}
	}

	keys := make([]string, 0, len(merged))
	for key := range merged {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	facts := make([]string, 0, len(keys))
	for _, key := range keys {
		facts = append(facts, fmt.Sprintf("%s: %s", strings.ReplaceAll(key, "_", " "), merged[key]))
	}
	return facts
}

func titleFor(descriptor domain.RequirementDescriptor) string {
	if strings.TrimSpace(descriptor.Description) != "" {
		return descriptor.Description
	}
	return strings.ReplaceAll(descriptor.DocumentType, "_", " ")
}

func renderPDF(title, applicationNumber, body string) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(20, 20, 20)
	pdf.SetAutoPageBreak(true, 20)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 16)
	pdf.MultiCell(0, 8, title, "", "L", false)

	pdf.SetFont("Arial", "I", 9)
	pdf.MultiCell(0, 5, "Application "+applicationNumber, "", "L", false)
	pdf.Ln(6)

	pdf.SetFont("Arial", "", 11)
	for _, paragraph := range strings.Split(body, "\n") {
		paragraph = strings.TrimSpace(paragraph)
		if paragraph == "" {
			pdf.Ln(4)
			continue
		}
		pdf.MultiCell(0, 6, paragraph, "", "L", false)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
