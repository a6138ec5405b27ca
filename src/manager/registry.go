package manager

import (
	"sort"
	"sync"

	"price-feed/src/logger"
	"price-feed/src/models"
)

// -----------------------------------------------------------------------------
// Subscription Registry
// -----------------------------------------------------------------------------

// SubscriptionRegistry tracks the currently watched symbols, split into a
// transient `active` set and a `persistent` set that survives ordinary
// teardown. The union of both sets determines what is subscribed on the wire.
type SubscriptionRegistry struct {
	Name   string
	Logger *logger.Logger

	mu         sync.RWMutex
	active     map[string]bool
	persistent map[string]bool
	feedOf     map[string]models.MFeedType
}

// -----------------------------------------------------------------------------

// NewSubscriptionRegistry creates an empty registry.
func NewSubscriptionRegistry(logger *logger.Logger) *SubscriptionRegistry {
	return &SubscriptionRegistry{
		Name:       "SubscriptionRegistry",
		Logger:     logger,
		active:     make(map[string]bool),
		persistent: make(map[string]bool),
		feedOf:     make(map[string]models.MFeedType),
	}
}

// -----------------------------------------------------------------------------

// Add records a watch for a symbol. It returns true when the symbol was in
// neither set before, meaning a wire subscription is needed. Re-adding an
// already-watched symbol is idempotent and never duplicates wire work.
func (r *SubscriptionRegistry) Add(symbol string, feedType models.MFeedType, persistent bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	wasWatched := r.active[symbol] || r.persistent[symbol]
	r.active[symbol] = true
	if persistent {
		r.persistent[symbol] = true
	}
	r.feedOf[symbol] = feedType

	return !wasWatched
}

// -----------------------------------------------------------------------------

// RemoveActive removes symbols from the active set only; persistent
// membership is never touched here. It returns the symbols that are now in
// neither set and therefore need a wire unsubscribe.
func (r *SubscriptionRegistry) RemoveActive(symbols []string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var fullyRemoved []string
	for _, symbol := range symbols {
		delete(r.active, symbol)
		if !r.persistent[symbol] {
			if _, known := r.feedOf[symbol]; known {
				fullyRemoved = append(fullyRemoved, symbol)
				delete(r.feedOf, symbol)
			}
		}
	}
	return fullyRemoved
}

// -----------------------------------------------------------------------------

// RemoveAll removes symbols from both sets. It returns the symbols that were
// watched and are now fully unsubscribed.
func (r *SubscriptionRegistry) RemoveAll(symbols []string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var fullyRemoved []string
	for _, symbol := range symbols {
		wasWatched := r.active[symbol] || r.persistent[symbol]
		delete(r.active, symbol)
		delete(r.persistent, symbol)
		if wasWatched {
			fullyRemoved = append(fullyRemoved, symbol)
			delete(r.feedOf, symbol)
		}
	}
	return fullyRemoved
}

// -----------------------------------------------------------------------------

// TransientSymbols lists the watched symbols that are not persistent (the
// working set a full disconnect tears down).
func (r *SubscriptionRegistry) TransientSymbols() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var symbols []string
	for symbol := range r.active {
		if !r.persistent[symbol] {
			symbols = append(symbols, symbol)
		}
	}
	sort.Strings(symbols)
	return symbols
}

// -----------------------------------------------------------------------------

// IsWatched reports whether a symbol is in either set.
func (r *SubscriptionRegistry) IsWatched(symbol string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active[symbol] || r.persistent[symbol]
}

// -----------------------------------------------------------------------------

// IsPersistent reports whether a symbol is in the persistent set.
func (r *SubscriptionRegistry) IsPersistent(symbol string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.persistent[symbol]
}

// -----------------------------------------------------------------------------

// SymbolsForFeed returns all watched symbols routed to a feed type, sorted
// for deterministic subscribe frames.
func (r *SubscriptionRegistry) SymbolsForFeed(feedType models.MFeedType) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var symbols []string
	for symbol, ft := range r.feedOf {
		if ft != feedType {
			continue
		}
		if r.active[symbol] || r.persistent[symbol] {
			symbols = append(symbols, symbol)
		}
	}
	sort.Strings(symbols)
	return symbols
}

// -----------------------------------------------------------------------------

// CountForFeed returns how many watched symbols a feed type carries.
func (r *SubscriptionRegistry) CountForFeed(feedType models.MFeedType) int {
	return len(r.SymbolsForFeed(feedType))
}

// -----------------------------------------------------------------------------

// HasAny reports whether anything at all is watched.
func (r *SubscriptionRegistry) HasAny() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.active) > 0 || len(r.persistent) > 0
}

// -----------------------------------------------------------------------------

// FeedOf returns the feed type a watched symbol is routed to.
func (r *SubscriptionRegistry) FeedOf(symbol string) (models.MFeedType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	feedType, ok := r.feedOf[symbol]
	return feedType, ok
}

// -----------------------------------------------------------------------------

// GroupByFeed splits symbols by the feed type they are routed to.
func (r *SubscriptionRegistry) GroupByFeed(symbols []string) map[models.MFeedType][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	groups := make(map[models.MFeedType][]string)
	for _, symbol := range symbols {
		if feedType, ok := r.feedOf[symbol]; ok {
			groups[feedType] = append(groups[feedType], symbol)
		}
	}
	return groups
}
