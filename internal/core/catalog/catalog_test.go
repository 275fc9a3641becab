package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/visaforge/engine/internal/core/domain"
)

const testCatalogYAML = `
version: 3
defaults:
  applicant_category: general
catalogs:
  - country: Iceland
    visa_type: Tourist
    categories:
      - name: general
        documents:
          - type: passport
            mandatory: true
            fields: [full_name, passport_number, date_of_birth]
          - type: bank_statement
            mandatory: true
            fields: [monthly_balance]
          - type: cover_letter
            generatable: true
            template: cover_letter_v1
            fields: [travel_purpose]
      - name: business
        documents:
          - type: passport
            mandatory: true
            fields: [full_name, passport_number]
          - type: employment_letter
            mandatory: true
            fields: [employer_name, job_title]
          - type: cover_letter
            generatable: true
            template: cover_letter_business_v1
          - type: travel_itinerary
            generatable: true
            template: itinerary_v1
`

func mustParse(t *testing.T) *Snapshot {
	t.Helper()
	snapshot, err := Parse([]byte(testCatalogYAML))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	return snapshot
}

func TestResolveReturnsDescriptorsInDeclarationOrder(t *testing.T) {
	snapshot := mustParse(t)

	descriptors, err := snapshot.Resolve("Iceland", "Tourist", "business")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	want := []string{"passport", "employment_letter", "cover_letter", "travel_itinerary"}
	if len(descriptors) != len(want) {
		t.Fatalf("expected %d descriptors, got %d", len(want), len(descriptors))
	}
	for i, docType := range want {
		if descriptors[i].DocumentType != docType {
			t.Fatalf("descriptor %d: expected %s, got %s", i, docType, descriptors[i].DocumentType)
		}
	}
}

func TestResolveAllScopesNonEmptyAndUnique(t *testing.T) {
	snapshot := mustParse(t)

	for _, scope := range snapshot.Scopes() {
		descriptors, err := snapshot.Resolve(scope[0], scope[1], scope[2])
		if err != nil {
			t.Fatalf("Resolve(%v) error = %v", scope, err)
		}
		if len(descriptors) == 0 {
			t.Fatalf("Resolve(%v) returned empty list", scope)
		}
		seen := make(map[string]bool)
		for _, descriptor := range descriptors {
			if seen[descriptor.DocumentType] {
				t.Fatalf("duplicate document type %s in scope %v", descriptor.DocumentType, scope)
			}
			seen[descriptor.DocumentType] = true
		}
	}
}

func TestResolveFallsBackToDefaultCategory(t *testing.T) {
	snapshot := mustParse(t)

	descriptors, err := snapshot.Resolve("Iceland", "Tourist", "")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(descriptors) != 3 {
		t.Fatalf("expected default category descriptors, got %d", len(descriptors))
	}

	// Unknown category degrades to the default instead of failing.
	descriptors, err = snapshot.Resolve("iceland", "tourist", "student")
	if err != nil {
		t.Fatalf("Resolve() with unknown category error = %v", err)
	}
	if len(descriptors) != 3 {
		t.Fatalf("expected fallback descriptors, got %d", len(descriptors))
	}
}

func TestResolveUnknownScopeIsConfigurationError(t *testing.T) {
	snapshot := mustParse(t)

	_, err := snapshot.Resolve("Atlantis", "Tourist", "general")
	if err == nil {
		t.Fatalf("expected error for unknown scope")
	}
	if !domain.IsKind(err, domain.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}

func TestParseRejectsDuplicateDocumentTypes(t *testing.T) {
	const bad = `
version: 1
defaults:
  applicant_category: general
catalogs:
  - country: Iceland
    visa_type: Tourist
    categories:
      - name: general
        documents:
          - type: passport
            mandatory: true
          - type: passport
`
	if _, err := Parse([]byte(bad)); err == nil {
		t.Fatalf("expected duplicate document type to be rejected")
	}
}

func TestStoreReloadSwapsSnapshotAtomically(t *testing.T) {
	store := NewStore(mustParse(t))

	path := filepath.Join(t.TempDir(), "catalog.yaml")
	const next = `
version: 4
defaults:
  applicant_category: general
catalogs:
  - country: Iceland
    visa_type: Tourist
    categories:
      - name: general
        documents:
          - type: passport
            mandatory: true
            fields: [full_name]
`
	if err := os.WriteFile(path, []byte(next), 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	if err := store.Reload(path); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if store.Current().Version != 4 {
		t.Fatalf("expected version 4 after reload, got %d", store.Current().Version)
	}

	// A broken file leaves the previous snapshot active.
	if err := os.WriteFile(path, []byte("version: ["), 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	if err := store.Reload(path); err == nil {
		t.Fatalf("expected reload error for broken file")
	}
	if store.Current().Version != 4 {
		t.Fatalf("broken reload must not replace snapshot")
	}
}
