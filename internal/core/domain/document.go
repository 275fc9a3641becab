package domain

import "time"

// DocumentRecord tracks one uploaded (or catalog-derived) document of a given
// type for an application. At most one record per (application, document type).
type DocumentRecord struct {
	ID                   int64         `json:"id"`
	ApplicationID        int64         `json:"application_id"`
	DocumentType         string        `json:"document_type"`
	Filename             string        `json:"filename,omitempty"`
	MimeType             string        `json:"mime_type,omitempty"`
	StoragePath          string        `json:"storage_path,omitempty"`
	Uploaded             bool          `json:"uploaded"`
	Required             bool          `json:"required"`
	Processed            bool          `json:"processed"`
	ExtractedText        string        `json:"extracted_text,omitempty"`
	ExtractedData        ExtractedData `json:"extracted_data,omitempty"`
	ExtractionConfidence int           `json:"extraction_confidence"`
	ErrorMessage         string        `json:"error_message,omitempty"`
	CreatedAt            time.Time     `json:"created_at"`
	UpdatedAt            time.Time     `json:"updated_at"`
}

type GenerationStatus string

const (
	GenerationPending    GenerationStatus = "pending"
	GenerationGenerating GenerationStatus = "generating"
	GenerationCompleted  GenerationStatus = "completed"
	GenerationFailed     GenerationStatus = "failed"
)

// generation status moves forward only, except failed -> pending on an
// explicit retry that restarts the same record.
var generationTransitions = map[GenerationStatus][]GenerationStatus{
	GenerationPending:    {GenerationGenerating},
	GenerationGenerating: {GenerationCompleted, GenerationFailed},
	GenerationFailed:     {GenerationPending},
}

func (s GenerationStatus) Terminal() bool {
	return s == GenerationCompleted || s == GenerationFailed
}

func (s GenerationStatus) CanTransitionTo(next GenerationStatus) bool {
	for _, allowed := range generationTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type GeneratedDocumentRecord struct {
	ID            int64            `json:"id"`
	ApplicationID int64            `json:"application_id"`
	DocumentType  string           `json:"document_type"`
	Status        GenerationStatus `json:"status"`
	Progress      int              `json:"progress"`
	Attempts      int              `json:"attempts"`
	FilePath      string           `json:"file_path,omitempty"`
	FileSize      int64            `json:"file_size,omitempty"`
	ErrorMessage  string           `json:"error_message,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}
