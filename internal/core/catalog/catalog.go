// Package catalog resolves the authoritative document requirement set for a
// (country, visa type, applicant category) scope from versioned configuration.
package catalog

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/visaforge/engine/internal/core/domain"
)

type fileFormat struct {
	Version  int    `yaml:"version"`
	Defaults struct {
		ApplicantCategory string `yaml:"applicant_category"`
	} `yaml:"defaults"`
	Catalogs []struct {
		Country    string `yaml:"country"`
		VisaType   string `yaml:"visa_type"`
		Categories []struct {
			Name      string `yaml:"name"`
			Documents []struct {
				Type        string   `yaml:"type"`
				Mandatory   bool     `yaml:"mandatory"`
				Generatable bool     `yaml:"generatable"`
				Description string   `yaml:"description"`
				Fields      []string `yaml:"fields"`
				Template    string   `yaml:"template"`
			} `yaml:"documents"`
		} `yaml:"categories"`
	} `yaml:"catalogs"`
}

type scopeKey struct {
	country  string
	visaType string
	category string
}

// Snapshot is one immutable catalog version. Resolution never mutates it; a
// new version is swapped in wholesale via Store.
type Snapshot struct {
	Version         int
	DefaultCategory string
	scopes          map[scopeKey][]domain.RequirementDescriptor
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Load parses a catalog file into an immutable snapshot, validating that
// every scope is non-empty and document types are unique within a scope.
func Load(path string) (*Snapshot, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, domain.WrapError(domain.ErrConfiguration, "read catalog file", err)
	}
	return Parse(raw)
}

func Parse(raw []byte) (*Snapshot, error) {
	var file fileFormat
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, domain.WrapError(domain.ErrConfiguration, "parse catalog yaml", err)
	}
	if file.Defaults.ApplicantCategory == "" {
		return nil, domain.WrapError(domain.ErrConfiguration, "validate catalog",
			fmt.Errorf("defaults.applicant_category is required"))
	}
	if len(file.Catalogs) == 0 {
		return nil, domain.WrapError(domain.ErrConfiguration, "validate catalog",
			fmt.Errorf("no catalogs declared"))
	}

	snapshot := &Snapshot{
		Version:         file.Version,
		DefaultCategory: normalize(file.Defaults.ApplicantCategory),
		scopes:          make(map[scopeKey][]domain.RequirementDescriptor),
	}

	for _, entry := range file.Catalogs {
		if entry.Country == "" || entry.VisaType == "" {
			return nil, domain.WrapError(domain.ErrConfiguration, "validate catalog",
				fmt.Errorf("catalog entry missing country or visa_type"))
		}
		for _, category := range entry.Categories {
			key := scopeKey{
				country:  normalize(entry.Country),
				visaType: normalize(entry.VisaType),
				category: normalize(category.Name),
			}
			if len(category.Documents) == 0 {
				return nil, domain.WrapError(domain.ErrConfiguration, "validate catalog",
					fmt.Errorf("scope %s/%s/%s declares no documents",
						entry.Country, entry.VisaType, category.Name))
			}
			seen := make(map[string]struct{}, len(category.Documents))
			descriptors := make([]domain.RequirementDescriptor, 0, len(category.Documents))
			for _, doc := range category.Documents {
				docType := normalize(doc.Type)
				if docType == "" {
					return nil, domain.WrapError(domain.ErrConfiguration, "validate catalog",
						fmt.Errorf("scope %s/%s/%s has a document without a type",
							entry.Country, entry.VisaType, category.Name))
				}
				if _, dup := seen[docType]; dup {
					return nil, domain.WrapError(domain.ErrConfiguration, "validate catalog",
						fmt.Errorf("duplicate document type %q in scope %s/%s/%s",
							doc.Type, entry.Country, entry.VisaType, category.Name))
				}
				seen[docType] = struct{}{}

				fields := make([]domain.FieldKey, 0, len(doc.Fields))
				for _, field := range doc.Fields {
					fields = append(fields, domain.FieldKey(normalize(field)))
				}
				descriptors = append(descriptors, domain.RequirementDescriptor{
					Country:           entry.Country,
					VisaType:          entry.VisaType,
					ApplicantCategory: normalize(category.Name),
					DocumentType:      docType,
					Mandatory:         doc.Mandatory,
					Generatable:       doc.Generatable,
					Description:       doc.Description,
					Fields:            fields,
					TemplateID:        doc.Template,
				})
			}
			if _, dup := snapshot.scopes[key]; dup {
				return nil, domain.WrapError(domain.ErrConfiguration, "validate catalog",
					fmt.Errorf("duplicate scope %s/%s/%s", entry.Country, entry.VisaType, category.Name))
			}
			snapshot.scopes[key] = descriptors
		}
	}
	return snapshot, nil
}

// Resolve returns the ordered requirement descriptors for the scope. An empty
// applicant category falls back to the catalog default. A scope with no
// entries is a configuration error, never an empty list.
func (s *Snapshot) Resolve(country, visaType, applicantCategory string) ([]domain.RequirementDescriptor, error) {
	category := normalize(applicantCategory)
	if category == "" {
		category = s.DefaultCategory
	}
	key := scopeKey{
		country:  normalize(country),
		visaType: normalize(visaType),
		category: category,
	}
	descriptors, ok := s.scopes[key]
	if !ok && category != s.DefaultCategory {
		// Unknown category degrades to the declared default for the pair.
		key.category = s.DefaultCategory
		descriptors, ok = s.scopes[key]
	}
	if !ok {
		return nil, domain.WrapError(domain.ErrConfiguration, "resolve requirements",
			fmt.Errorf("no catalog entries for %s/%s/%s", country, visaType, applicantCategory))
	}
	out := make([]domain.RequirementDescriptor, len(descriptors))
	copy(out, descriptors)
	return out, nil
}

// Scopes lists every declared (country, visaType, category) tuple, mainly for
// diagnostics and tests.
func (s *Snapshot) Scopes() [][3]string {
	out := make([][3]string, 0, len(s.scopes))
	for key := range s.scopes {
		out = append(out, [3]string{key.country, key.visaType, key.category})
	}
	return out
}
