package extractor

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/visaforge/engine/internal/core/domain"
)

type stubStorage struct {
	files map[string][]byte
}

func (s *stubStorage) Save(_ context.Context, key string, data io.Reader) (int64, error) {
	raw, err := io.ReadAll(data)
	if err != nil {
		return 0, err
	}
	if s.files == nil {
		s.files = make(map[string][]byte)
	}
	s.files[key] = raw
	return int64(len(raw)), nil
}

func (s *stubStorage) Open(_ context.Context, key string) (io.ReadCloser, error) {
	raw, ok := s.files[key]
	if !ok {
		return nil, errors.New("not found")
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

func TestExtractPlainText(t *testing.T) {
	storage := &stubStorage{files: map[string][]byte{
		"uploads/1/letter.txt": []byte("  employment letter for Jane Doe \n"),
	}}
	extractor := New(storage)

	text, err := extractor.Extract(context.Background(), &domain.DocumentRecord{
		DocumentType: "employment_letter",
		Filename:     "letter.txt",
		StoragePath:  "uploads/1/letter.txt",
	})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if text != "employment letter for Jane Doe" {
		t.Fatalf("Extract() = %q", text)
	}
}

func TestExtractRejectsBinaryWithoutKnownFormat(t *testing.T) {
	storage := &stubStorage{files: map[string][]byte{
		"uploads/1/photo.jpg": {0xff, 0xd8, 0xff, 0x00},
	}}
	extractor := New(storage)

	_, err := extractor.Extract(context.Background(), &domain.DocumentRecord{
		DocumentType: "photo",
		Filename:     "photo.jpg",
		StoragePath:  "uploads/1/photo.jpg",
	})
	if err == nil || !strings.Contains(err.Error(), "unsupported binary format") {
		t.Fatalf("expected binary rejection, got %v", err)
	}
}

func TestExtractSpreadsheetFlattensRows(t *testing.T) {
	f := excelize.NewFile()
	_ = f.SetCellValue("Sheet1", "A1", "date")
	_ = f.SetCellValue("Sheet1", "B1", "amount")
	_ = f.SetCellValue("Sheet1", "A2", "2026-08-01")
	_ = f.SetCellValue("Sheet1", "B2", "1500.00")
	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		t.Fatalf("write workbook: %v", err)
	}

	storage := &stubStorage{files: map[string][]byte{
		"uploads/1/statement.xlsx": buf.Bytes(),
	}}
	extractor := New(storage)

	text, err := extractor.Extract(context.Background(), &domain.DocumentRecord{
		DocumentType: "bank_statement",
		Filename:     "statement.xlsx",
		StoragePath:  "uploads/1/statement.xlsx",
	})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	for _, want := range []string{"Sheet1", "date\tamount", "2026-08-01\t1500.00"} {
		if !strings.Contains(text, want) {
			t.Fatalf("missing %q in extracted text:\n%s", want, text)
		}
	}
}

func TestExtractMissingFile(t *testing.T) {
	extractor := New(&stubStorage{})
	_, err := extractor.Extract(context.Background(), &domain.DocumentRecord{
		DocumentType: "passport",
		Filename:     "p.txt",
		StoragePath:  "uploads/1/p.txt",
	})
	if err == nil {
		t.Fatalf("expected error for missing file")
	}
}
