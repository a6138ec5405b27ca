package manager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"price-feed/src/interfaces"
	"price-feed/src/logger"
	"price-feed/src/models"
	"price-feed/src/pricecache"
)

// -----------------------------------------------------------------------------
// Feed Connection (state machine)
// -----------------------------------------------------------------------------

// FeedConnection owns the one streaming socket of a feed type: its
// handshake/subscribe/heartbeat protocol and its reconnect/backoff state.
// States move disconnected -> connecting -> connected, with error reachable
// from anywhere; at most one live socket exists per feed type, and a
// transition into connecting is refused while one is already connecting or
// connected.
type FeedConnection struct {
	Name   string
	Logger *logger.Logger

	feedType    models.MFeedType
	codec       interfaces.IFeed
	connFactory interfaces.IConnectionFactory
	stats       *pricecache.StatsBook
	cache       *pricecache.Cache
	tuning      models.MConnectionTuning
	marketOpen  func(time.Time) bool
	clock       func() time.Time

	// symbolsFn returns the registry's current symbol set for this feed;
	// a fresh connect subscribes all of them.
	symbolsFn func() []string

	mu             sync.Mutex
	client         interfaces.IConnectionClient
	attempts       int
	halted         bool
	generation     int
	reconnectTimer *time.Timer
	heartbeatStop  chan struct{}
	wire           map[string]bool
}

// -----------------------------------------------------------------------------

// NewFeedConnection creates the connection owner for one feed type.
func NewFeedConnection(
	codec interfaces.IFeed,
	connFactory interfaces.IConnectionFactory,
	stats *pricecache.StatsBook,
	cache *pricecache.Cache,
	tuning models.MConnectionTuning,
	marketOpen func(time.Time) bool,
	symbolsFn func() []string,
	logger *logger.Logger,
) *FeedConnection {
	return &FeedConnection{
		Name:        fmt.Sprintf("FeedConnection[%s]", codec.GetType()),
		Logger:      logger,
		feedType:    codec.GetType(),
		codec:       codec,
		connFactory: connFactory,
		stats:       stats,
		cache:       cache,
		tuning:      tuning,
		marketOpen:  marketOpen,
		clock:       time.Now,
		symbolsFn:   symbolsFn,
		wire:        make(map[string]bool),
	}
}

// -----------------------------------------------------------------------------

// SetClock overrides the time source (used by tests).
func (c *FeedConnection) SetClock(clock func() time.Time) {
	c.mu.Lock()
	c.clock = clock
	c.mu.Unlock()
}

// -----------------------------------------------------------------------------

// SetConnectionFactory replaces the transport factory. Must be called before
// the first connect; tests use it to substitute fake transports.
func (c *FeedConnection) SetConnectionFactory(factory interfaces.IConnectionFactory) {
	c.mu.Lock()
	c.connFactory = factory
	c.mu.Unlock()
}

// -----------------------------------------------------------------------------

// State returns the current connection state.
func (c *FeedConnection) State() models.MConnState {
	return c.stats.GetState(c.feedType)
}

// -----------------------------------------------------------------------------

// Halted reports whether automatic retries stopped because the attempt
// budget ran out. A new watch or a visibility resync resets the budget.
func (c *FeedConnection) Halted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.halted
}

// -----------------------------------------------------------------------------

// ResetBackoff clears the attempt budget and any degraded halt.
func (c *FeedConnection) ResetBackoff() {
	c.mu.Lock()
	c.attempts = 0
	c.halted = false
	c.mu.Unlock()
}

// -----------------------------------------------------------------------------

// EnsureSubscribed is the queue handler's entry point: make sure the given
// symbol batch is live on the wire, connecting first when no socket exists.
// Already-subscribed symbols are skipped, keeping Watch idempotent at the
// wire level.
func (c *FeedConnection) EnsureSubscribed(ctx context.Context, symbols []string) error {
	c.mu.Lock()

	switch c.State() {
	case models.ConnStateConnected:
		if c.client != nil && c.client.IsRunning() {
			var delta []string
			for _, symbol := range symbols {
				if !c.wire[symbol] {
					delta = append(delta, symbol)
				}
			}
			if len(delta) == 0 {
				c.mu.Unlock()
				return nil
			}
			err := c.subscribeLocked(ctx, delta)
			c.mu.Unlock()
			return err
		}
	case models.ConnStateConnecting:
		// Another path is already establishing this feed's socket.
		c.mu.Unlock()
		return nil
	}

	err := c.connectLocked(ctx)
	c.mu.Unlock()
	return err
}

// -----------------------------------------------------------------------------

// Unsubscribe removes symbols from the wire subscription, when the venue has
// an unsubscribe verb and the socket is live.
func (c *FeedConnection) Unsubscribe(symbols []string) {
	if len(symbols) == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, symbol := range symbols {
		delete(c.wire, symbol)
	}

	if c.client == nil || !c.client.IsRunning() {
		return
	}

	frames, err := c.codec.UnsubscribeMessages(symbols)
	if err != nil {
		c.Logger.Warning("%s : failed to build unsubscribe frames: %v", c.Name, err)
		return
	}
	for _, frame := range frames {
		if err := c.client.SendMessage(frame); err != nil {
			c.Logger.Warning("%s : failed to send unsubscribe frame: %v", c.Name, err)
			return
		}
	}
}

// -----------------------------------------------------------------------------

// TriggerReconnect drives the reconnect path without a socket event: used by
// the health monitor for sockets that died silently, and by the queue when a
// request fails or times out.
func (c *FeedConnection) TriggerReconnect(cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.halted {
		return
	}
	if c.reconnectTimer != nil {
		// A reconnect is already pending.
		return
	}
	if c.feedType == models.FeedTypeForex && !c.marketOpen(c.clock()) {
		// Nothing to re-establish until the market reopens; the closed-status
		// replay already went out when the watch was serviced. Reconnecting
		// here would re-notify subscribers with identical data and burn the
		// attempt budget on a feed that cannot come up.
		c.dropClientLocked()
		c.stats.SetState(c.feedType, models.ConnStateDisconnected)
		return
	}

	c.Logger.Warning("%s : reconnect triggered: %v", c.Name, cause)
	c.dropClientLocked()
	c.stats.SetState(c.feedType, models.ConnStateError)
	c.scheduleReconnectLocked()
}

// -----------------------------------------------------------------------------

// Teardown closes the socket and cancels every pending timer so no callback
// fires against a disposed connection. The feed ends disconnected with a
// fresh attempt budget.
func (c *FeedConnection) Teardown() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generation++
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	c.dropClientLocked()
	c.attempts = 0
	c.halted = false
	c.wire = make(map[string]bool)
	c.stats.SetState(c.feedType, models.ConnStateDisconnected)

	c.Logger.Info("%s : torn down", c.Name)
}

// -----------------------------------------------------------------------------
// PRIVATE METHODS
// -----------------------------------------------------------------------------

// connectLocked opens the transport, runs the venue handshake and subscribes
// the feed's full current symbol set. Callers hold c.mu.
func (c *FeedConnection) connectLocked(ctx context.Context) error {
	// Forex-specific rule: never open a socket outside trading hours; the
	// cached ticks are re-emitted flagged closed instead.
	if c.feedType == models.FeedTypeForex && !c.marketOpen(c.clock()) {
		symbols := c.symbolsFn()
		c.Logger.Info("%s : market closed, not connecting (%d symbols watched)", c.Name, len(symbols))
		c.stats.SetState(c.feedType, models.ConnStateDisconnected)
		c.cache.ReplaySymbols(symbols, models.TickStatusClosed)
		return nil
	}

	state := c.State()
	if state == models.ConnStateConnecting || state == models.ConnStateConnected {
		return nil
	}

	c.stats.SetState(c.feedType, models.ConnStateConnecting)

	generation := c.generation
	var client interfaces.IConnectionClient
	client = c.connFactory(
		c.codec.GetEndpointWithCredentials(),
		c.codec.GetName(),
		c.handleRawData,
		func(err error) { c.handleDisconnect(client, err) },
	)

	if err := client.Connect(ctx); err != nil {
		c.stats.SetState(c.feedType, models.ConnStateError)
		return fmt.Errorf("%s connect failed: %w", c.feedType, err)
	}

	if generation != c.generation {
		// Torn down while dialing; discard the socket.
		client.Disconnect()
		return nil
	}

	c.client = client
	c.wire = make(map[string]bool)

	// Venue handshake (forex init frame; nothing for crypto).
	handshake, err := c.codec.HandshakeMessages()
	if err != nil {
		c.failConnectLocked()
		return fmt.Errorf("%s handshake build failed: %w", c.feedType, err)
	}
	for _, frame := range handshake {
		if err := client.SendMessage(frame); err != nil {
			c.failConnectLocked()
			return fmt.Errorf("%s handshake send failed: %w", c.feedType, err)
		}
	}

	if err := c.subscribeLocked(ctx, c.symbolsFn()); err != nil {
		c.failConnectLocked()
		return err
	}

	c.startHeartbeatLocked(client)

	c.attempts = 0
	c.halted = false
	c.stats.SetState(c.feedType, models.ConnStateConnected)
	c.Logger.Info("%s : connected, %d symbols on the wire", c.Name, len(c.wire))
	return nil
}

// -----------------------------------------------------------------------------

// subscribeLocked sends the subscribe frames for the given symbols, pausing
// between batches as the venue requires. Callers hold c.mu.
func (c *FeedConnection) subscribeLocked(ctx context.Context, symbols []string) error {
	if len(symbols) == 0 {
		return nil
	}

	frames, err := c.codec.SubscribeMessages(symbols)
	if err != nil {
		return fmt.Errorf("%s subscribe build failed: %w", c.feedType, err)
	}

	delay := c.codec.BatchDelay()
	for i, frame := range frames {
		if i > 0 && delay > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%s subscribe interrupted: %w", c.feedType, ctx.Err())
			case <-time.After(delay):
			}
		}
		if err := c.client.SendMessage(frame); err != nil {
			return fmt.Errorf("%s subscribe send failed: %w", c.feedType, err)
		}
	}

	for _, symbol := range symbols {
		c.wire[symbol] = true
	}
	return nil
}

// -----------------------------------------------------------------------------

// startHeartbeatLocked launches the application-level heartbeat loop when
// the venue requires one. Callers hold c.mu.
func (c *FeedConnection) startHeartbeatLocked(client interfaces.IConnectionClient) {
	frame, interval := c.codec.HeartbeatMessage()
	if frame == nil || interval <= 0 {
		return
	}

	stop := make(chan struct{})
	c.heartbeatStop = stop

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				// Send errors surface through the read loop; ignore here.
				if err := client.SendMessage(frame); err != nil {
					return
				}
			}
		}
	}()
}

// -----------------------------------------------------------------------------

// handleRawData parses an inbound frame and feeds the result to the price
// cache. Malformed frames are counted and dropped; the next upstream message
// self-corrects.
func (c *FeedConnection) handleRawData(message []byte) {
	raw, err := c.codec.ParseMessage(message)
	if err != nil {
		c.stats.RecordError(c.feedType)
		c.Logger.Debug("%s : dropped malformed message: %v", c.Name, err)
		return
	}
	if raw == nil {
		// Ignorable control message.
		return
	}
	if err := c.cache.Update(raw); err != nil {
		c.Logger.Debug("%s : tick rejected: %v", c.Name, err)
	}
}

// -----------------------------------------------------------------------------

// handleDisconnect reacts to socket death reported by the transport.
func (c *FeedConnection) handleDisconnect(from interfaces.IConnectionClient, cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != from {
		// Stale report from a replaced or disposed socket.
		return
	}

	c.Logger.Warning("%s : socket lost: %v", c.Name, cause)
	c.dropClientLocked()
	c.stats.SetState(c.feedType, models.ConnStateError)
	c.scheduleReconnectLocked()
}

// -----------------------------------------------------------------------------

// failConnectLocked abandons a half-established socket. Callers hold c.mu.
func (c *FeedConnection) failConnectLocked() {
	c.dropClientLocked()
	c.stats.SetState(c.feedType, models.ConnStateError)
}

// -----------------------------------------------------------------------------

// dropClientLocked closes and forgets the current socket. Callers hold c.mu.
func (c *FeedConnection) dropClientLocked() {
	if c.heartbeatStop != nil {
		close(c.heartbeatStop)
		c.heartbeatStop = nil
	}
	if c.client != nil {
		c.client.Disconnect()
		c.client = nil
	}
}

// -----------------------------------------------------------------------------

// scheduleReconnectLocked arms the backoff timer for the next attempt: base
// delay doubling per attempt, capped, bounded by the attempt budget. Callers
// hold c.mu.
func (c *FeedConnection) scheduleReconnectLocked() {
	if c.halted {
		return
	}
	if c.attempts >= c.tuning.MaxReconnectAttempts {
		c.halted = true
		c.stats.SetDegraded(c.feedType)
		c.Logger.Warning("%s : degraded connectivity, giving up after %d attempts (a new watch or visibility regain retries)", c.Name, c.attempts)
		return
	}

	c.attempts++
	delay := time.Duration(c.tuning.BackoffBaseMs) * time.Millisecond << (c.attempts - 1)
	maxDelay := time.Duration(c.tuning.BackoffMaxMs) * time.Millisecond
	if delay > maxDelay {
		delay = maxDelay
	}

	generation := c.generation
	c.Logger.Info("%s : reconnect attempt %d/%d in %s", c.Name, c.attempts, c.tuning.MaxReconnectAttempts, delay)
	c.reconnectTimer = time.AfterFunc(delay, func() { c.reconnect(generation) })
}

// -----------------------------------------------------------------------------

// reconnect is the backoff timer body.
func (c *FeedConnection) reconnect(generation int) {
	c.mu.Lock()
	if generation != c.generation {
		c.mu.Unlock()
		return
	}
	c.reconnectTimer = nil

	if len(c.symbolsFn()) == 0 {
		// Everything unsubscribed while we were backing off.
		c.stats.SetState(c.feedType, models.ConnStateDisconnected)
		c.mu.Unlock()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(c.tuning.AttemptTimeoutMs)*time.Millisecond)
	err := c.connectLocked(ctx)
	cancel()

	if err != nil {
		c.Logger.Warning("%s : reconnect failed: %v", c.Name, err)
		c.scheduleReconnectLocked()
	}
	c.mu.Unlock()
}
