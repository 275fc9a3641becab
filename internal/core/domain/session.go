package domain

import "time"

type SessionStatus string

const (
	SessionPending   SessionStatus = "pending"
	SessionStarted   SessionStatus = "started"
	SessionAnalyzing SessionStatus = "analyzing"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
)

func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionFailed
}

// AnalysisSession records one analysis run. The repository enforces at most
// one non-terminal session per application; a failed session is superseded by
// a fresh one, never resumed.
type AnalysisSession struct {
	ID                int64         `json:"id"`
	ApplicationID     int64         `json:"application_id"`
	Status            SessionStatus `json:"status"`
	DocumentsAnalyzed int           `json:"documents_analyzed"`
	TotalDocuments    int           `json:"total_documents"`
	CompletenessScore int           `json:"completeness_score"`
	MissingFields     []FieldKey    `json:"missing_fields,omitempty"`
	ErrorMessage      string        `json:"error_message,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}
