package pricecache

import (
	"sync"
	"time"

	"price-feed/src/logger"
	"price-feed/src/models"
)

// -----------------------------------------------------------------------------

// StatusListener receives a read-only per-feed stats snapshot after every
// stats mutation.
type StatusListener func(stats map[models.MFeedType]models.MConnectionStats)

// -----------------------------------------------------------------------------

// StatsBook accumulates per-feed connection statistics and fans status
// snapshots out to subscribers. Counters reset only at construction (process
// start) and grow monotonically afterwards; the only mutators are the Record*
// and Set* methods below.
type StatsBook struct {
	Name   string
	Logger *logger.Logger

	mu     sync.RWMutex
	stats  map[models.MFeedType]*models.MConnectionStats
	subs   map[int64]StatusListener
	order  []int64
	nextID int64
	clock  func() time.Time
}

// -----------------------------------------------------------------------------

// NewStatsBook creates a stats book covering the given feed types.
func NewStatsBook(feedTypes []models.MFeedType, logger *logger.Logger) *StatsBook {
	stats := make(map[models.MFeedType]*models.MConnectionStats, len(feedTypes))
	for _, feedType := range feedTypes {
		stats[feedType] = &models.MConnectionStats{State: models.ConnStateDisconnected}
	}
	return &StatsBook{
		Name:   "StatsBook",
		Logger: logger,
		stats:  stats,
		subs:   make(map[int64]StatusListener),
		clock:  time.Now,
	}
}

// -----------------------------------------------------------------------------

// SetClock overrides the time source (used by tests).
func (b *StatsBook) SetClock(clock func() time.Time) {
	b.mu.Lock()
	b.clock = clock
	b.mu.Unlock()
}

// -----------------------------------------------------------------------------

// RecordMessage counts one accepted tick for a feed and folds its latency
// into the running average.
func (b *StatsBook) RecordMessage(feedType models.MFeedType, latencyMs int64) {
	b.mu.Lock()
	stat := b.ensure(feedType)
	stat.Messages++
	stat.AvgLatencyMs += (float64(latencyMs) - stat.AvgLatencyMs) / float64(stat.Messages)
	stat.LastUpdateMs = b.clock().UnixMilli()
	b.mu.Unlock()

	b.notify()
}

// -----------------------------------------------------------------------------

// RecordError counts one dropped or failed message for a feed.
func (b *StatsBook) RecordError(feedType models.MFeedType) {
	b.mu.Lock()
	b.ensure(feedType).Errors++
	b.mu.Unlock()

	b.notify()
}

// -----------------------------------------------------------------------------

// SetState records a connection-state transition for a feed.
func (b *StatsBook) SetState(feedType models.MFeedType, state models.MConnState) {
	b.mu.Lock()
	stat := b.ensure(feedType)
	changed := stat.State != state
	stat.State = state
	if state == models.ConnStateConnected {
		stat.Degraded = false
	}
	b.mu.Unlock()

	if changed {
		b.notify()
	}
}

// -----------------------------------------------------------------------------

// SetDegraded flags a feed whose reconnect budget is exhausted. The flag
// clears on the next successful connect.
func (b *StatsBook) SetDegraded(feedType models.MFeedType) {
	b.mu.Lock()
	stat := b.ensure(feedType)
	changed := !stat.Degraded
	stat.Degraded = true
	b.mu.Unlock()

	if changed {
		b.notify()
	}
}

// -----------------------------------------------------------------------------

// GetState returns the current connection state of a feed.
func (b *StatsBook) GetState(feedType models.MFeedType) models.MConnState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if stat, ok := b.stats[feedType]; ok {
		return stat.State
	}
	return models.ConnStateDisconnected
}

// -----------------------------------------------------------------------------

// LastUpdateMs returns the timestamp of the feed's most recent accepted tick.
func (b *StatsBook) LastUpdateMs(feedType models.MFeedType) int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if stat, ok := b.stats[feedType]; ok {
		return stat.LastUpdateMs
	}
	return 0
}

// -----------------------------------------------------------------------------

// Snapshot returns a copy of every feed's stats.
func (b *StatsBook) Snapshot() map[models.MFeedType]models.MConnectionStats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	snapshot := make(map[models.MFeedType]models.MConnectionStats, len(b.stats))
	for feedType, stat := range b.stats {
		snapshot[feedType] = *stat
	}
	return snapshot
}

// -----------------------------------------------------------------------------

// SubscribeStatus registers a status listener and returns its idempotent
// unsubscribe function. The listener immediately receives the current
// snapshot so late subscribers see present state.
func (b *StatsBook) SubscribeStatus(listener StatusListener) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[id] = listener
	b.order = append(b.order, id)
	b.mu.Unlock()

	listener(b.Snapshot())

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[id]; !ok {
			return
		}
		delete(b.subs, id)
		for i, subID := range b.order {
			if subID == id {
				b.order = append(b.order[:i], b.order[i+1:]...)
				break
			}
		}
	}
}

// -----------------------------------------------------------------------------
// PRIVATE METHODS
// -----------------------------------------------------------------------------

// ensure returns the stats record for a feed, creating it on first touch.
// Callers hold the write lock.
func (b *StatsBook) ensure(feedType models.MFeedType) *models.MConnectionStats {
	stat, ok := b.stats[feedType]
	if !ok {
		stat = &models.MConnectionStats{State: models.ConnStateDisconnected}
		b.stats[feedType] = stat
	}
	return stat
}

// -----------------------------------------------------------------------------

// notify delivers the post-mutation snapshot to every subscriber in
// registration order, isolating panics per listener.
func (b *StatsBook) notify() {
	snapshot := b.Snapshot()

	b.mu.RLock()
	ids := make([]int64, len(b.order))
	copy(ids, b.order)
	listeners := make(map[int64]StatusListener, len(b.subs))
	for id, listener := range b.subs {
		listeners[id] = listener
	}
	b.mu.RUnlock()

	for _, id := range ids {
		listener, ok := listeners[id]
		if !ok {
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.Logger.Error("%s : status listener %d panicked: %v", b.Name, id, r)
				}
			}()
			listener(snapshot)
		}()
	}
}
