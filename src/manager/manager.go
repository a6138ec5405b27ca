package manager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"price-feed/src/config"
	"price-feed/src/feeds"
	"price-feed/src/interfaces"
	"price-feed/src/logger"
	"price-feed/src/models"
	"price-feed/src/pricecache"
	"price-feed/src/refdata"
	"price-feed/src/transports"
)

// -----------------------------------------------------------------------------
// Core Manager Struct
// -----------------------------------------------------------------------------

// Manager is the process-wide real-time market-data connection manager. It
// owns one FeedConnection per configured feed type, multiplexes the watched
// symbol set over them through the connection queue, caches the latest tick
// per symbol and fans updates out to subscribers.
//
// One Manager exists per running process: the composition root constructs it
// explicitly and injects it wherever live prices are needed. All mutation of
// the registry, cache and stats goes through the operations below.
type Manager struct {
	Name   string
	Config *config.Config
	Logger *logger.Logger

	refCache    *refdata.Cache
	registry    *SubscriptionRegistry
	queue       *ConnectionQueue
	stats       *pricecache.StatsBook
	cache       *pricecache.Cache
	liquidation *LiquidationHook
	conns       map[models.MFeedType]*FeedConnection

	mu              sync.Mutex
	started         bool
	visible         bool
	visibilityTimer *time.Timer
	healthStop      chan struct{}
	droppedSymbols  int64
	wg              sync.WaitGroup
}

// -----------------------------------------------------------------------------

// NewManager wires the manager from its collaborators: the external
// reference-data store and margin authority, plus config and logger. Feed
// codecs come from the feeds registry based on the configured feed types.
func NewManager(cfg *config.Config, store interfaces.IReferenceStore, authority interfaces.IMarginAuthority, log *logger.Logger) (*Manager, error) {
	feedTypes := make([]models.MFeedType, 0, len(cfg.Feeds))
	for _, feedConfig := range cfg.Feeds {
		feedTypes = append(feedTypes, feedConfig.Type)
	}

	stats := pricecache.NewStatsBook(feedTypes, log)
	refCache := refdata.NewCache(store, log)
	staleAfter := time.Duration(cfg.Tuning.StaleAfterMs) * time.Millisecond
	cache := pricecache.NewCache(refCache, stats, staleAfter, feeds.ForexMarketOpen, log)

	liquidation := NewLiquidationHook(authority, 3*time.Second, log)
	cache.SetTickHook(liquidation.CheckTick)

	m := &Manager{
		Name:        "PriceFeedManager",
		Config:      cfg,
		Logger:      log,
		refCache:    refCache,
		registry:    NewSubscriptionRegistry(log),
		stats:       stats,
		cache:       cache,
		liquidation: liquidation,
		conns:       make(map[models.MFeedType]*FeedConnection),
		visible:     true,
	}

	defaultFactory := interfaces.IConnectionFactory(
		func(endpoint, name string, onRawData func([]byte), onDisconnect func(error)) interfaces.IConnectionClient {
			return transports.NewWebSocketClient(endpoint, name, log, onRawData, onDisconnect)
		})

	for _, feedConfig := range cfg.Feeds {
		constructor, err := feeds.GetConstructor(feedConfig.Type)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve feed codec for '%s': %w", feedConfig.Name, err)
		}
		codec, err := constructor(feedConfig, log)
		if err != nil {
			return nil, fmt.Errorf("failed to create feed codec for '%s': %w", feedConfig.Name, err)
		}

		feedType := feedConfig.Type
		m.conns[feedType] = NewFeedConnection(
			codec,
			defaultFactory,
			stats,
			cache,
			cfg.Tuning,
			feeds.ForexMarketOpen,
			func() []string { return m.registry.SymbolsForFeed(feedType) },
			log,
		)
	}

	m.queue = NewConnectionQueue(
		m.handleRequest,
		m.handleRequestFailure,
		time.Duration(cfg.Tuning.AttemptTimeoutMs)*time.Millisecond,
		time.Duration(cfg.Tuning.QueueDelayMs)*time.Millisecond,
		log,
	)

	return m, nil
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Start loads the reference snapshot (soft-failing) and launches the queue
// worker and the health monitor.
func (m *Manager) Start() error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return fmt.Errorf("manager already started")
	}
	m.started = true
	m.healthStop = make(chan struct{})
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := m.refCache.Load(ctx); err != nil {
		// Soft failure: watch calls retry the load and no-op until it works.
		m.Logger.Warning("%s : starting with empty reference data: %v", m.Name, err)
	}
	cancel()

	m.queue.Start()

	m.wg.Add(1)
	go m.healthLoop()

	m.Logger.Info("%s : started, managing %d feed connections", m.Name, len(m.conns))
	return nil
}

// -----------------------------------------------------------------------------

// Stop tears down every feed connection, the queue and the health monitor.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	close(m.healthStop)
	if m.visibilityTimer != nil {
		m.visibilityTimer.Stop()
		m.visibilityTimer = nil
	}
	m.mu.Unlock()

	m.queue.Stop()
	for _, conn := range m.conns {
		conn.Teardown()
	}
	m.wg.Wait()

	m.Logger.Info("%s : stopped", m.Name)
}

// -----------------------------------------------------------------------------
// Public Surface
// -----------------------------------------------------------------------------

// Watch starts live pricing for the given display symbols. Unknown or
// inactive symbols are dropped with a warning, never a hard failure; watching
// an already-watched symbol is idempotent. With persistent set, the symbols
// survive Unwatch and Disconnect.
func (m *Manager) Watch(symbols []string, persistent bool) error {
	if len(symbols) == 0 {
		return nil
	}

	// Retry the reference load on every watch while the cache is empty.
	if m.refCache.IsEmpty() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := m.refCache.Load(ctx); err != nil {
			m.Logger.Warning("%s : reference data still unavailable: %v", m.Name, err)
		}
		cancel()
	}

	newly := make(map[models.MFeedType][]string)
	touched := make(map[models.MFeedType]bool)

	for _, symbol := range symbols {
		entry, known := m.refCache.Lookup(symbol)
		if !known || !entry.IsActive {
			m.mu.Lock()
			m.droppedSymbols++
			dropped := m.droppedSymbols
			m.mu.Unlock()
			m.Logger.Warning("%s : dropping unknown or inactive symbol %s (%d dropped so far)", m.Name, symbol, dropped)
			continue
		}
		if _, configured := m.conns[entry.Type]; !configured {
			m.Logger.Warning("%s : no feed configured for type %s (symbol %s)", m.Name, entry.Type, symbol)
			continue
		}

		touched[entry.Type] = true
		if m.registry.Add(symbol, entry.Type, persistent) {
			newly[entry.Type] = append(newly[entry.Type], symbol)
		}
	}

	// A watch resets the reconnect budget of every feed it touches, so a
	// degraded feed gets a fresh chance.
	for feedType := range touched {
		m.conns[feedType].ResetBackoff()
	}

	for feedType, batch := range newly {
		m.queue.Enqueue(feedType, batch)
	}

	// Feeds touched without new symbols still reconnect when down.
	for feedType := range touched {
		if len(newly[feedType]) > 0 {
			continue
		}
		if m.conns[feedType].State() != models.ConnStateConnected && m.registry.CountForFeed(feedType) > 0 {
			m.queue.Enqueue(feedType, m.registry.SymbolsForFeed(feedType))
		}
	}

	return nil
}

// -----------------------------------------------------------------------------

// Unwatch removes symbols from the transient set only; persistent membership
// survives (use UnwatchPersistent for a full removal). Symbols left in
// neither set are unsubscribed on the wire, their cache entries retained and
// re-emitted flagged stale; a feed left without symbols is torn down.
func (m *Manager) Unwatch(symbols []string) {
	groups := m.registry.GroupByFeed(symbols)
	fullyRemoved := m.registry.RemoveActive(symbols)
	m.teardownRemoved(groups, fullyRemoved)
}

// -----------------------------------------------------------------------------

// UnwatchPersistent removes symbols from both the transient and persistent
// sets.
func (m *Manager) UnwatchPersistent(symbols []string) {
	groups := m.registry.GroupByFeed(symbols)
	fullyRemoved := m.registry.RemoveAll(symbols)
	m.teardownRemoved(groups, fullyRemoved)
}

// -----------------------------------------------------------------------------

// Subscribe registers a price listener; every cached tick is replayed to it
// before Subscribe returns. The returned function unsubscribes and is safe
// to call more than once.
func (m *Manager) Subscribe(listener pricecache.PriceListener) func() {
	return m.cache.Subscribe(listener)
}

// -----------------------------------------------------------------------------

// OnStatusChange registers a connection-stats listener; it immediately
// receives the current snapshot. The returned function unsubscribes.
func (m *Manager) OnStatusChange(listener pricecache.StatusListener) func() {
	return m.stats.SubscribeStatus(listener)
}

// -----------------------------------------------------------------------------

// SetActiveTrades replaces the open positions the liquidation hook watches.
// Position symbols are watched persistently so they always have live pricing.
func (m *Manager) SetActiveTrades(trades []models.MPosition) {
	m.liquidation.SetActiveTrades(trades)
	if symbols := m.liquidation.Symbols(); len(symbols) > 0 {
		if err := m.Watch(symbols, true); err != nil {
			m.Logger.Warning("%s : failed to watch position symbols: %v", m.Name, err)
		}
	}
}

// -----------------------------------------------------------------------------

// OnLiquidation registers a callback invoked with the position ID whenever
// the margin authority orders a forced close.
func (m *Manager) OnLiquidation(callback func(positionID string)) {
	m.liquidation.OnLiquidation(callback)
}

// -----------------------------------------------------------------------------

// SetVisible tells the manager whether the hosting surface is visible.
// While hidden, no new reconnects are forced (in-flight backoff timers keep
// running). On becoming visible again, after a short debounce, cached ticks
// are replayed flagged stale and every subscribed feed is re-established.
func (m *Manager) SetVisible(visible bool) {
	m.mu.Lock()
	if visible == m.visible {
		m.mu.Unlock()
		return
	}
	m.visible = visible

	if !visible {
		if m.visibilityTimer != nil {
			m.visibilityTimer.Stop()
			m.visibilityTimer = nil
		}
		m.mu.Unlock()
		m.Logger.Info("%s : hidden, suspending forced reconnects", m.Name)
		return
	}

	debounce := time.Duration(m.Config.Tuning.VisibilityDebounceMs) * time.Millisecond
	m.visibilityTimer = time.AfterFunc(debounce, m.resyncAfterVisibility)
	m.mu.Unlock()
	m.Logger.Info("%s : visible, resync in %s", m.Name, debounce)
}

// -----------------------------------------------------------------------------

// Disconnect tears down every transient subscription. A manager holding only
// persistent symbols stays alive; one holding none ends fully disconnected.
func (m *Manager) Disconnect() {
	transient := m.registry.TransientSymbols()
	m.Logger.Info("%s : disconnect requested, dropping %d transient symbols", m.Name, len(transient))
	m.Unwatch(transient)
}

// -----------------------------------------------------------------------------

// GetTick returns the cached tick for a symbol, if any.
func (m *Manager) GetTick(symbol string) (models.MTick, bool) {
	return m.cache.Get(symbol)
}

// -----------------------------------------------------------------------------

// Stats returns a read-only copy of the per-feed connection statistics.
func (m *Manager) Stats() map[models.MFeedType]models.MConnectionStats {
	return m.stats.Snapshot()
}

// -----------------------------------------------------------------------------

// ReferenceEntries returns the reference snapshot ordered by display order.
func (m *Manager) ReferenceEntries() []models.MReferenceEntry {
	return m.refCache.Snapshot()
}

// -----------------------------------------------------------------------------
// PRIVATE METHODS
// -----------------------------------------------------------------------------

// handleRequest services one queued connection request.
func (m *Manager) handleRequest(ctx context.Context, request *ConnectionRequest) error {
	conn, ok := m.conns[request.FeedType]
	if !ok {
		return fmt.Errorf("no connection for feed type %s", request.FeedType)
	}
	if m.registry.CountForFeed(request.FeedType) == 0 {
		// Everything unsubscribed while the request was queued.
		return nil
	}
	return conn.EnsureSubscribed(ctx, request.Symbols)
}

// -----------------------------------------------------------------------------

// handleRequestFailure routes a failed or timed-out request into the feed's
// reconnect path; the batch's symbols stay registered so a later health
// check or watch retries them.
func (m *Manager) handleRequestFailure(feedType models.MFeedType, err error) {
	if conn, ok := m.conns[feedType]; ok {
		conn.TriggerReconnect(err)
	}
}

// -----------------------------------------------------------------------------

// teardownRemoved finishes an unwatch: cancels queued requests for the fully
// removed symbols, unsubscribes them on the wire, re-emits their retained
// cache entries flagged stale, and tears down feeds left without symbols.
func (m *Manager) teardownRemoved(groups map[models.MFeedType][]string, fullyRemoved []string) {
	if len(fullyRemoved) == 0 {
		return
	}

	removed := make(map[string]bool, len(fullyRemoved))
	for _, symbol := range fullyRemoved {
		removed[symbol] = true
	}

	m.queue.CancelSymbols(fullyRemoved)

	for feedType, batch := range groups {
		var gone []string
		for _, symbol := range batch {
			if removed[symbol] {
				gone = append(gone, symbol)
			}
		}
		if len(gone) == 0 {
			continue
		}

		conn, ok := m.conns[feedType]
		if !ok {
			continue
		}

		conn.Unsubscribe(gone)
		m.cache.ReplaySymbols(gone, models.TickStatusStale)

		if m.registry.CountForFeed(feedType) == 0 {
			m.Logger.Info("%s : feed %s has no subscribed symbols, tearing down", m.Name, feedType)
			conn.Teardown()
		}
	}
}

// -----------------------------------------------------------------------------

// resyncAfterVisibility is the visibility debounce timer body: replay cached
// ticks flagged stale, then re-run the full connect sequence for everything
// still watched, grouped by feed type, exactly as in Watch.
func (m *Manager) resyncAfterVisibility() {
	m.mu.Lock()
	visible := m.visible
	m.visibilityTimer = nil
	m.mu.Unlock()

	if !visible || !m.registry.HasAny() {
		return
	}

	m.Logger.Info("%s : visibility regained, resyncing subscriptions", m.Name)
	m.cache.ReplayAll(models.TickStatusStale)

	for feedType, conn := range m.conns {
		symbols := m.registry.SymbolsForFeed(feedType)
		if len(symbols) == 0 {
			continue
		}
		conn.ResetBackoff()
		m.queue.Enqueue(feedType, symbols)
	}
}

// -----------------------------------------------------------------------------

// healthLoop periodically checks every feed that should be delivering. A
// feed with subscribed symbols whose state is not connected takes the same
// reconnect path as a socket close; this catches sockets that die without
// emitting a close event.
func (m *Manager) healthLoop() {
	defer m.wg.Done()

	interval := time.Duration(m.Config.Tuning.HealthIntervalMs) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.healthStop:
			return
		case <-ticker.C:
			m.mu.Lock()
			visible := m.visible
			m.mu.Unlock()
			if !visible {
				continue
			}

			for feedType, conn := range m.conns {
				if m.registry.CountForFeed(feedType) == 0 {
					continue
				}
				if conn.State() == models.ConnStateConnected {
					continue
				}
				if conn.Halted() {
					// Degraded halt persists until a watch or resync.
					continue
				}
				conn.TriggerReconnect(fmt.Errorf("health check: %s not connected", feedType))
			}
		}
	}
}
