package completeness

import (
	"math/rand"
	"reflect"
	"testing"

	"github.com/visaforge/engine/internal/core/domain"
)

func descriptor(docType string, mandatory bool, fields ...string) domain.RequirementDescriptor {
	keys := make([]domain.FieldKey, 0, len(fields))
	for _, field := range fields {
		keys = append(keys, domain.FieldKey(field))
	}
	return domain.RequirementDescriptor{
		Country:      "Iceland",
		VisaType:     "Tourist",
		DocumentType: docType,
		Mandatory:    mandatory,
		Fields:       keys,
	}
}

func uploaded(docType string) domain.DocumentRecord {
	return domain.DocumentRecord{DocumentType: docType, Uploaded: true}
}

func TestEvaluateScoreAndMissingFields(t *testing.T) {
	descriptors := []domain.RequirementDescriptor{
		descriptor("passport", true, "full_name", "passport_number"),
		descriptor("bank_statement", true, "monthly_balance"),
		descriptor("cover_letter", false, "travel_purpose"),
	}
	ledger := []domain.DocumentRecord{uploaded("passport")}
	extracted := domain.ExtractedData{
		"full_name":       {Kind: domain.FieldKindString, Value: "Jo Doe", Confidence: 95},
		"passport_number": {Kind: domain.FieldKindString, Value: "A123", Confidence: 40},
		"travel_purpose":  {Kind: domain.FieldKindString, Value: "", Confidence: 100},
	}

	result := Evaluate(descriptors, ledger, extracted, 70)

	// 1 of 2 mandatory uploads + 1 of 4 confident fields = 2/6.
	if result.Score != 33 {
		t.Fatalf("expected score 33, got %d", result.Score)
	}
	wantMissing := []domain.FieldKey{"passport_number", "monthly_balance", "travel_purpose"}
	if !reflect.DeepEqual(result.MissingFields, wantMissing) {
		t.Fatalf("missing fields = %v, want %v", result.MissingFields, wantMissing)
	}
	if result.ReadyForGeneration {
		t.Fatalf("missing mandatory bank_statement must block readiness")
	}
}

func TestEvaluateIsDeterministic(t *testing.T) {
	descriptors := []domain.RequirementDescriptor{
		descriptor("passport", true, "full_name", "passport_number"),
		descriptor("photo", false),
		descriptor("bank_statement", true, "monthly_balance"),
	}
	ledger := []domain.DocumentRecord{uploaded("bank_statement"), uploaded("passport")}
	extracted := domain.ExtractedData{
		"monthly_balance": {Kind: domain.FieldKindNumber, Value: "4200", Confidence: 88},
	}

	first := Evaluate(descriptors, ledger, extracted, 70)
	for i := 0; i < 50; i++ {
		if got := Evaluate(descriptors, ledger, extracted, 70); !reflect.DeepEqual(got, first) {
			t.Fatalf("run %d differs: %+v vs %+v", i, got, first)
		}
	}
}

// Readiness must hold for any random subset of uploads: true iff every
// mandatory descriptor is covered.
func TestReadinessPropertyOverRandomUploadSubsets(t *testing.T) {
	descriptors := []domain.RequirementDescriptor{
		descriptor("passport", true),
		descriptor("bank_statement", true),
		descriptor("photo", false),
		descriptor("cover_letter", false),
		descriptor("itinerary", false),
	}
	rng := rand.New(rand.NewSource(1))

	for trial := 0; trial < 200; trial++ {
		ledger := make([]domain.DocumentRecord, 0, len(descriptors))
		uploadedSet := make(map[string]bool)
		for _, d := range descriptors {
			if rng.Intn(2) == 1 {
				ledger = append(ledger, uploaded(d.DocumentType))
				uploadedSet[d.DocumentType] = true
			}
		}
		wantReady := uploadedSet["passport"] && uploadedSet["bank_statement"]

		result := Evaluate(descriptors, ledger, nil, 70)
		if result.ReadyForGeneration != wantReady {
			t.Fatalf("trial %d: uploads %v, ready = %v, want %v",
				trial, uploadedSet, result.ReadyForGeneration, wantReady)
		}
	}
}

// Two mandatory + twelve optional document types: uploading only the two
// mandatory ones is enough for readiness.
func TestReadinessIgnoresOptionalGaps(t *testing.T) {
	descriptors := []domain.RequirementDescriptor{
		descriptor("passport", true),
		descriptor("bank_statement", true),
	}
	for i := 0; i < 12; i++ {
		descriptors = append(descriptors, descriptor("optional_"+string(rune('a'+i)), false))
	}
	ledger := []domain.DocumentRecord{uploaded("passport"), uploaded("bank_statement")}

	result := Evaluate(descriptors, ledger, nil, 70)
	if !result.ReadyForGeneration {
		t.Fatalf("expected readiness with all mandatory uploads, got %+v", result)
	}
}

// A mandatory document the generation phase can produce must not block the
// move into that phase.
func TestReadinessIgnoresMissingGeneratableMandatory(t *testing.T) {
	coverLetter := descriptor("cover_letter", true)
	coverLetter.Generatable = true
	descriptors := []domain.RequirementDescriptor{
		descriptor("passport", true),
		coverLetter,
	}
	ledger := []domain.DocumentRecord{uploaded("passport")}

	result := Evaluate(descriptors, ledger, nil, 70)
	if !result.ReadyForGeneration {
		t.Fatalf("generatable mandatory gap must not block readiness, got %+v", result)
	}
	if result.MandatoryUploaded != 1 || result.MandatoryRequired != 2 {
		t.Fatalf("unexpected mandatory counters: %+v", result)
	}
}

func TestEvaluateEmptyScopeScoresFull(t *testing.T) {
	result := Evaluate(nil, nil, nil, 70)
	if result.Score != 100 || !result.ReadyForGeneration {
		t.Fatalf("empty scope should be trivially complete, got %+v", result)
	}
}
