package domain

import "strings"

type FieldKind string

const (
	FieldKindString FieldKind = "string"
	FieldKindNumber FieldKind = "number"
	FieldKindDate   FieldKind = "date"
)

// FieldKey identifies one extractable applicant data point, e.g. "passport_number".
type FieldKey string

type FieldValue struct {
	Kind       FieldKind `json:"kind"`
	Value      string    `json:"value"`
	Confidence int       `json:"confidence"`
}

func (v FieldValue) Empty() bool {
	return strings.TrimSpace(v.Value) == ""
}

// ExtractedData is the per-application key/value store filled by document
// analysis and questionnaire answers.
type ExtractedData map[FieldKey]FieldValue

// Merge applies incoming values last-write-wins per field and returns the
// receiver. A nil receiver is allocated so callers can merge into a zero value.
func (d ExtractedData) Merge(in ExtractedData) ExtractedData {
	out := d
	if out == nil {
		out = make(ExtractedData, len(in))
	}
	for key, value := range in {
		out[key] = value
	}
	return out
}

func (d ExtractedData) Clone() ExtractedData {
	if d == nil {
		return nil
	}
	out := make(ExtractedData, len(d))
	for key, value := range d {
		out[key] = value
	}
	return out
}
