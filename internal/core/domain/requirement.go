package domain

// RequirementDescriptor declares one document type required (or offered) for a
// (country, visa type, applicant category) scope. Descriptors are loaded from
// catalog configuration and are immutable after the catalog snapshot is built.
type RequirementDescriptor struct {
	Country           string     `json:"country"`
	VisaType          string     `json:"visa_type"`
	ApplicantCategory string     `json:"applicant_category"`
	DocumentType      string     `json:"document_type"`
	Mandatory         bool       `json:"mandatory"`
	Generatable       bool       `json:"generatable"`
	Description       string     `json:"description,omitempty"`
	Fields            []FieldKey `json:"fields,omitempty"`
	TemplateID        string     `json:"template_id,omitempty"`
}

// ExpectedFields flattens descriptor field schemas in catalog declaration
// order, deduplicated, so questionnaire ordering stays deterministic.
func ExpectedFields(descriptors []RequirementDescriptor) []FieldKey {
	seen := make(map[FieldKey]struct{})
	out := make([]FieldKey, 0)
	for _, descriptor := range descriptors {
		for _, field := range descriptor.Fields {
			if _, ok := seen[field]; ok {
				continue
			}
			seen[field] = struct{}{}
			out = append(out, field)
		}
	}
	return out
}
