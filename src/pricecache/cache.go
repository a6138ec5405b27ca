package pricecache

import (
	"fmt"
	"sync"
	"time"

	"price-feed/src/logger"
	"price-feed/src/models"
	"price-feed/src/refdata"
	"price-feed/src/utils"
)

// -----------------------------------------------------------------------------

// PriceListener receives every enriched tick, in registration order.
type PriceListener func(symbol string, tick models.MTick)

// -----------------------------------------------------------------------------

// subscriber wraps a listener with its delivery state. While the snapshot
// replay that Subscribe performs is still in flight, live ticks are buffered
// so the listener never sees a fresh tick before the older cached tick for
// the same symbol.
type subscriber struct {
	listener PriceListener

	mu        sync.Mutex
	replaying bool
	backlog   []models.MTick
}

// emit hands one live tick to the subscriber, queueing it if the snapshot
// replay has not finished yet. Delivery is serialized per subscriber.
func (s *subscriber) emit(log *logger.Logger, name string, id int64, tick models.MTick) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.replaying {
		s.backlog = append(s.backlog, tick)
		return
	}
	safeInvoke(log, name, id, s.listener, tick.Symbol, tick)
}

// -----------------------------------------------------------------------------

// Cache holds the last known tick per symbol and fans updates out to
// listeners. A new tick for a symbol replaces, not merges with, the prior
// entry. Same-symbol delivery order follows arrival order; no ordering is
// guaranteed across symbols or feeds.
type Cache struct {
	Name   string
	Logger *logger.Logger

	refCache   *refdata.Cache
	stats      *StatsBook
	staleAfter time.Duration
	marketOpen func(time.Time) bool
	clock      func() time.Time

	// onTickAccepted runs asynchronously for every stored tick (the
	// liquidation hook); it must never block tick delivery.
	onTickAccepted func(tick models.MTick)

	mu     sync.RWMutex
	ticks  map[string]models.MTick
	subs   map[int64]*subscriber
	order  []int64
	nextID int64
}

// -----------------------------------------------------------------------------

// NewCache creates the price cache and fan-out hub.
func NewCache(refCache *refdata.Cache, stats *StatsBook, staleAfter time.Duration, marketOpen func(time.Time) bool, logger *logger.Logger) *Cache {
	return &Cache{
		Name:       "PriceCache",
		Logger:     logger,
		refCache:   refCache,
		stats:      stats,
		staleAfter: staleAfter,
		marketOpen: marketOpen,
		clock:      time.Now,
		ticks:      make(map[string]models.MTick),
		subs:       make(map[int64]*subscriber),
	}
}

// -----------------------------------------------------------------------------

// SetClock overrides the time source (used by tests).
func (c *Cache) SetClock(clock func() time.Time) {
	c.mu.Lock()
	c.clock = clock
	c.mu.Unlock()
}

// -----------------------------------------------------------------------------

// SetTickHook installs the asynchronous per-tick hook (the liquidation check).
func (c *Cache) SetTickHook(hook func(tick models.MTick)) {
	c.mu.Lock()
	c.onTickAccepted = hook
	c.mu.Unlock()
}

// -----------------------------------------------------------------------------

// Update runs the full ingest pipeline for one raw tick: validate, enrich,
// store, account, fan out, and kick the asynchronous tick hook. A rejected
// tick is counted as a feed error and dropped; the next upstream message
// self-corrects, so rejection is never fatal.
func (c *Cache) Update(raw *models.MRawTick) error {
	if raw == nil {
		return fmt.Errorf("nil raw tick")
	}

	// 1. Reject unknown/inactive symbols and non-finite numbers.
	entry, known := c.refCache.Lookup(raw.Symbol)
	if !known || !entry.IsActive {
		c.stats.RecordError(raw.Source)
		return fmt.Errorf("tick for unknown or inactive symbol %s", raw.Symbol)
	}
	if !utils.IsFiniteNumber(raw.Price) || !utils.IsFiniteNumber(raw.Bid) || !utils.IsFiniteNumber(raw.Ask) {
		c.stats.RecordError(raw.Source)
		return fmt.Errorf("tick for %s has non-finite price fields", raw.Symbol)
	}
	if raw.Price == 0 && raw.Bid == 0 && raw.Ask == 0 {
		c.stats.RecordError(raw.Source)
		return fmt.Errorf("tick for %s has no usable price", raw.Symbol)
	}

	now := c.now()
	nowMs := now.UnixMilli()

	// 2. Enrich with timestamp, latency, reference parameters and status.
	var latency int64
	if raw.ProducedAt > 0 && raw.ProducedAt <= nowMs {
		latency = nowMs - raw.ProducedAt
	}

	status := models.TickStatusActive
	if raw.Source == models.FeedTypeForex && !c.marketOpen(now) {
		status = models.TickStatusClosed
	}

	tick := models.MTick{
		Symbol:    raw.Symbol,
		Price:     raw.Price,
		Bid:       raw.Bid,
		Ask:       raw.Ask,
		ChangePct: raw.ChangePct,
		PipValue:  entry.PipValue,
		MinLot:    entry.MinLot,
		MaxLot:    entry.MaxLot,
		Timestamp: nowMs,
		Latency:   latency,
		Source:    raw.Source,
		Status:    status,
	}

	// 3. Store, last write wins.
	c.mu.Lock()
	c.ticks[tick.Symbol] = tick
	hook := c.onTickAccepted
	c.mu.Unlock()

	// 4. Account the accepted message (status subscribers are notified after
	// this mutation, within the same call).
	c.stats.RecordMessage(tick.Source, latency)

	// 5. Fan out synchronously, in registration order.
	c.deliver(tick)

	// 6. Liquidation hook, asynchronous so it can never block delivery.
	if hook != nil {
		go hook(tick)
	}

	return nil
}

// -----------------------------------------------------------------------------

// Subscribe registers a price listener and returns its idempotent unsubscribe
// function. Every cached tick is replayed to the new listener before
// Subscribe returns, with staleness and market-closed status recomputed, so
// late subscribers see current state without waiting for the next tick.
func (c *Cache) Subscribe(listener PriceListener) func() {
	sub := &subscriber{listener: listener, replaying: true}

	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.subs[id] = sub
	c.order = append(c.order, id)
	replay := c.snapshotLocked()
	c.mu.Unlock()

	now := c.now()
	for _, tick := range replay {
		safeInvoke(c.Logger, c.Name, id, listener, tick.Symbol, c.restamp(tick, now))
	}

	// Ticks that arrived while the snapshot was being replayed were buffered
	// by deliver; flush them in arrival order before going live.
	sub.mu.Lock()
	for _, tick := range sub.backlog {
		safeInvoke(c.Logger, c.Name, id, listener, tick.Symbol, tick)
	}
	sub.backlog = nil
	sub.replaying = false
	sub.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if _, ok := c.subs[id]; !ok {
			return
		}
		delete(c.subs, id)
		for i, subID := range c.order {
			if subID == id {
				c.order = append(c.order[:i], c.order[i+1:]...)
				break
			}
		}
	}
}

// -----------------------------------------------------------------------------

// Get returns the cached tick for a symbol, if any.
func (c *Cache) Get(symbol string) (models.MTick, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tick, ok := c.ticks[symbol]
	return tick, ok
}

// -----------------------------------------------------------------------------

// ReplayAll re-emits every cached tick to all listeners with the given forced
// status (stale on visibility regain). Forex ticks override to closed while
// the market is shut.
func (c *Cache) ReplayAll(status models.MTickStatus) {
	c.replay(nil, status)
}

// -----------------------------------------------------------------------------

// ReplaySymbols re-emits the cached ticks of specific symbols with a forced
// status (closed for forex symbols watched outside trading hours,
// disconnected-flagged symbols after teardown).
func (c *Cache) ReplaySymbols(symbols []string, status models.MTickStatus) {
	if len(symbols) == 0 {
		return
	}
	wanted := make(map[string]bool, len(symbols))
	for _, symbol := range symbols {
		wanted[symbol] = true
	}
	c.replay(wanted, status)
}

// -----------------------------------------------------------------------------
// PRIVATE METHODS
// -----------------------------------------------------------------------------

func (c *Cache) now() time.Time {
	c.mu.RLock()
	clock := c.clock
	c.mu.RUnlock()
	return clock()
}

// -----------------------------------------------------------------------------

// restamp recomputes a cached tick's status for synthetic replay: closed wins
// for forex outside trading hours, then stale when the owning feed's
// last-update age exceeds the threshold.
func (c *Cache) restamp(tick models.MTick, now time.Time) models.MTick {
	if tick.Source == models.FeedTypeForex && !c.marketOpen(now) {
		tick.Status = models.TickStatusClosed
		return tick
	}
	lastUpdate := c.stats.LastUpdateMs(tick.Source)
	if lastUpdate > 0 && now.UnixMilli()-lastUpdate > c.staleAfter.Milliseconds() {
		tick.Status = models.TickStatusStale
	}
	return tick
}

// -----------------------------------------------------------------------------

// replay re-emits cached ticks (optionally filtered) with a forced status.
func (c *Cache) replay(wanted map[string]bool, status models.MTickStatus) {
	now := c.now()

	c.mu.RLock()
	ticks := make([]models.MTick, 0, len(c.ticks))
	for symbol, tick := range c.ticks {
		if wanted != nil && !wanted[symbol] {
			continue
		}
		tick.Status = status
		if tick.Source == models.FeedTypeForex && !c.marketOpen(now) {
			tick.Status = models.TickStatusClosed
		}
		ticks = append(ticks, tick)
	}
	c.mu.RUnlock()

	for _, tick := range ticks {
		c.deliver(tick)
	}
}

// -----------------------------------------------------------------------------

// snapshotLocked copies the cached ticks. Callers hold at least a read lock.
func (c *Cache) snapshotLocked() []models.MTick {
	ticks := make([]models.MTick, 0, len(c.ticks))
	for _, tick := range c.ticks {
		ticks = append(ticks, tick)
	}
	return ticks
}

// -----------------------------------------------------------------------------

// deliver invokes every listener in registration order. A panicking listener
// is logged and skipped; the remaining listeners still receive the tick.
func (c *Cache) deliver(tick models.MTick) {
	c.mu.RLock()
	ids := make([]int64, len(c.order))
	copy(ids, c.order)
	subs := make(map[int64]*subscriber, len(c.subs))
	for id, sub := range c.subs {
		subs[id] = sub
	}
	c.mu.RUnlock()

	for _, id := range ids {
		sub, ok := subs[id]
		if !ok {
			continue
		}
		sub.emit(c.Logger, c.Name, id, tick)
	}
}

// -----------------------------------------------------------------------------

// safeInvoke isolates one listener invocation from the rest of the fan-out.
func safeInvoke(log *logger.Logger, name string, id int64, listener PriceListener, symbol string, tick models.MTick) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("%s : price listener %d panicked on %s: %v", name, id, symbol, r)
		}
	}()
	listener(symbol, tick)
}
