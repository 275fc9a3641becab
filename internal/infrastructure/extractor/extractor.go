// Package extractor pulls plain text out of stored uploads so the AI
// collaborator receives text, never raw bytes.
package extractor

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/visaforge/engine/internal/core/domain"
	"github.com/visaforge/engine/internal/core/ports"
)

type Extractor struct {
	storage ports.ObjectStorage
}

func New(storage ports.ObjectStorage) *Extractor {
	return &Extractor{storage: storage}
}

func (e *Extractor) Extract(ctx context.Context, record *domain.DocumentRecord) (string, error) {
	if record.StoragePath == "" {
		return "", fmt.Errorf("document %s has no stored file", record.DocumentType)
	}

	reader, err := e.storage.Open(ctx, record.StoragePath)
	if err != nil {
		return "", fmt.Errorf("open source document: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("read source document: %w", err)
	}

	switch formatFor(record) {
	case formatPDF:
		return extractPDF(raw)
	case formatSpreadsheet:
		return extractSpreadsheet(raw)
	default:
		return extractPlain(record.Filename, raw)
	}
}

type format int

const (
	formatPlain format = iota
	formatPDF
	formatSpreadsheet
)

func formatFor(record *domain.DocumentRecord) format {
	switch record.MimeType {
	case "application/pdf":
		return formatPDF
	case "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", "application/vnd.ms-excel":
		return formatSpreadsheet
	}
	switch strings.ToLower(filepath.Ext(record.Filename)) {
	case ".pdf":
		return formatPDF
	case ".xlsx", ".xlsm":
		return formatSpreadsheet
	}
	return formatPlain
}

func extractPlain(filename string, raw []byte) (string, error) {
	if !utf8.Valid(raw) {
		return "", fmt.Errorf("unsupported binary format: %s", filename)
	}
	return strings.TrimSpace(string(raw)), nil
}
