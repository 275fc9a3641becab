package domain

import "time"

type Application struct {
	ID                int64             `json:"id"`
	Number            string            `json:"number"`
	ApplicantName     string            `json:"applicant_name"`
	ApplicantEmail    string            `json:"applicant_email,omitempty"`
	Country           string            `json:"country"`
	VisaType          string            `json:"visa_type"`
	ApplicantCategory string            `json:"applicant_category,omitempty"`
	Status            ApplicationStatus `json:"status"`
	ExtractedData     ExtractedData     `json:"extracted_data,omitempty"`
	MissingInfo       []FieldKey        `json:"missing_info,omitempty"`
	CompletenessScore int               `json:"completeness_score"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
	CompletedAt       *time.Time        `json:"completed_at,omitempty"`
}

type QuestionnaireResponse struct {
	ID            int64     `json:"id"`
	ApplicationID int64     `json:"application_id"`
	Field         FieldKey  `json:"field"`
	Answer        string    `json:"answer"`
	CreatedAt     time.Time `json:"created_at"`
}
