package catalog

import (
	"sync/atomic"

	"github.com/visaforge/engine/internal/core/domain"
)

// Store holds the current catalog snapshot behind an atomic pointer so
// resolution reads never observe a half-loaded catalog and need no lock.
type Store struct {
	current atomic.Pointer[Snapshot]
}

func NewStore(snapshot *Snapshot) *Store {
	store := &Store{}
	store.current.Store(snapshot)
	return store
}

func (s *Store) Current() *Snapshot {
	return s.current.Load()
}

// Reload parses the file at path and swaps it in wholesale. On any error the
// previous snapshot stays active.
func (s *Store) Reload(path string) error {
	snapshot, err := Load(path)
	if err != nil {
		return err
	}
	s.current.Store(snapshot)
	return nil
}

func (s *Store) Resolve(country, visaType, applicantCategory string) ([]domain.RequirementDescriptor, error) {
	return s.Current().Resolve(country, visaType, applicantCategory)
}
