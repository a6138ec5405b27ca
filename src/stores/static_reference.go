package stores

import (
	"context"

	"price-feed/src/models"
)

// -----------------------------------------------------------------------------

// StaticReferenceStore serves a fixed reference set from memory. Used when no
// database is configured, and by tests.
type StaticReferenceStore struct {
	entries []models.MReferenceEntry
}

// -----------------------------------------------------------------------------

// NewStaticReferenceStore creates a store over the given entries.
func NewStaticReferenceStore(entries []models.MReferenceEntry) *StaticReferenceStore {
	return &StaticReferenceStore{entries: entries}
}

// -----------------------------------------------------------------------------

// Load returns a copy of the fixed entry set.
func (s *StaticReferenceStore) Load(ctx context.Context) ([]models.MReferenceEntry, error) {
	entries := make([]models.MReferenceEntry, len(s.entries))
	copy(entries, s.entries)
	return entries, nil
}
