package refdata

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"price-feed/src/interfaces"
	"price-feed/src/logger"
	"price-feed/src/models"
)

// -----------------------------------------------------------------------------
// Reference Data Cache
// -----------------------------------------------------------------------------

// Cache holds the per-symbol reference snapshot loaded from the external
// store. Loads fail soft: on store failure the previous snapshot (possibly
// empty) stays in place and the error is reported to the caller for status
// purposes only. Callers must tolerate an empty cache.
type Cache struct {
	Name   string
	Logger *logger.Logger
	store  interfaces.IReferenceStore

	mu        sync.RWMutex
	entries   map[string]models.MReferenceEntry
	loadFails int64
}

// -----------------------------------------------------------------------------

// NewCache creates a reference data cache backed by the given store.
func NewCache(store interfaces.IReferenceStore, logger *logger.Logger) *Cache {
	return &Cache{
		Name:    "ReferenceDataCache",
		Logger:  logger,
		store:   store,
		entries: make(map[string]models.MReferenceEntry),
	}
}

// -----------------------------------------------------------------------------

// Load fetches the reference set from the store and replaces the snapshot.
// On failure the previous snapshot is retained and the error returned so the
// caller can surface a status message; the cache itself stays usable.
func (c *Cache) Load(ctx context.Context) error {
	entries, err := c.store.Load(ctx)
	if err != nil {
		c.mu.Lock()
		c.loadFails++
		fails := c.loadFails
		c.mu.Unlock()

		c.Logger.Warning("%s : reference load failed (attempt failures so far: %d), keeping previous snapshot: %v", c.Name, fails, err)
		return fmt.Errorf("reference data load failed: %w", err)
	}

	snapshot := make(map[string]models.MReferenceEntry, len(entries))
	for _, entry := range entries {
		snapshot[entry.Symbol] = entry
	}

	c.mu.Lock()
	c.entries = snapshot
	c.mu.Unlock()

	c.Logger.Info("%s : loaded %d reference entries", c.Name, len(snapshot))
	return nil
}

// -----------------------------------------------------------------------------

// Lookup returns the reference entry for a symbol, if known.
func (c *Cache) Lookup(symbol string) (models.MReferenceEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[symbol]
	return entry, ok
}

// -----------------------------------------------------------------------------

// IsEmpty reports whether the cache holds no entries (never loaded, or every
// load so far has failed).
func (c *Cache) IsEmpty() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries) == 0
}

// -----------------------------------------------------------------------------

// Snapshot returns all entries ordered by display order, for callers that
// render symbol lists.
func (c *Cache) Snapshot() []models.MReferenceEntry {
	c.mu.RLock()
	entries := make([]models.MReferenceEntry, 0, len(c.entries))
	for _, entry := range c.entries {
		entries = append(entries, entry)
	}
	c.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].DisplayOrder != entries[j].DisplayOrder {
			return entries[i].DisplayOrder < entries[j].DisplayOrder
		}
		return entries[i].Symbol < entries[j].Symbol
	})
	return entries
}
