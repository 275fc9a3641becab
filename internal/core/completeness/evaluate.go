// Package completeness turns a catalog scope plus the document ledger into a
// score, a missing-field list and a readiness verdict. Evaluation is pure so
// it can be re-run after every ledger mutation and tested without mocks.
package completeness

import "github.com/visaforge/engine/internal/core/domain"

type Result struct {
	Score               int               `json:"score"`
	MissingFields       []domain.FieldKey `json:"missing_fields"`
	ReadyForGeneration  bool              `json:"ready_for_generation"`
	MandatoryUploaded   int               `json:"mandatory_uploaded"`
	MandatoryRequired   int               `json:"mandatory_required"`
	FieldsExtracted     int               `json:"fields_extracted"`
	ExpectedFieldCount  int               `json:"expected_field_count"`
	ConfidenceThreshold int               `json:"confidence_threshold"`
}

// Evaluate computes the completeness of one application scope.
//
// Score is the ratio of (mandatory documents uploaded + expected fields
// present above the confidence threshold) over (mandatory documents required +
// expected field count), scaled to 0-100. Missing fields follow catalog
// declaration order. Readiness requires every mandatory non-generatable
// descriptor to have an uploaded record; optional and generatable gaps never
// block it.
func Evaluate(
	descriptors []domain.RequirementDescriptor,
	ledger []domain.DocumentRecord,
	extracted domain.ExtractedData,
	confidenceThreshold int,
) Result {
	uploadedByType := make(map[string]bool, len(ledger))
	for _, record := range ledger {
		if record.Uploaded {
			uploadedByType[record.DocumentType] = true
		}
	}

	result := Result{
		MissingFields:       []domain.FieldKey{},
		ReadyForGeneration:  true,
		ConfidenceThreshold: confidenceThreshold,
	}

	for _, descriptor := range descriptors {
		if !descriptor.Mandatory {
			continue
		}
		result.MandatoryRequired++
		if uploadedByType[descriptor.DocumentType] {
			result.MandatoryUploaded++
			continue
		}
		// A mandatory document the engine can generate itself is exactly
		// what the generation phase exists for.
		if !descriptor.Generatable {
			result.ReadyForGeneration = false
		}
	}

	expected := domain.ExpectedFields(descriptors)
	result.ExpectedFieldCount = len(expected)
	for _, field := range expected {
		value, ok := extracted[field]
		if ok && !value.Empty() && value.Confidence >= confidenceThreshold {
			result.FieldsExtracted++
			continue
		}
		result.MissingFields = append(result.MissingFields, field)
	}

	total := result.MandatoryRequired + result.ExpectedFieldCount
	if total > 0 {
		result.Score = (result.MandatoryUploaded + result.FieldsExtracted) * 100 / total
	} else {
		result.Score = 100
	}
	if result.Score < 0 {
		result.Score = 0
	}
	if result.Score > 100 {
		result.Score = 100
	}
	return result
}
