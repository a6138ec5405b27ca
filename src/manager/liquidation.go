package manager

import (
	"context"
	"sync"
	"time"

	"price-feed/src/interfaces"
	"price-feed/src/logger"
	"price-feed/src/models"
)

// -----------------------------------------------------------------------------
// Liquidation Hook
// -----------------------------------------------------------------------------

// LiquidationHook asks the external margin authority, on every accepted tick,
// whether any open position on that symbol must be force-closed at the tick's
// bid. Checks are idempotent and run off the tick-delivery path; authority
// failures are logged and swallowed, never letting a liquidation check block
// or fail tick delivery.
type LiquidationHook struct {
	Name   string
	Logger *logger.Logger

	authority    interfaces.IMarginAuthority
	checkTimeout time.Duration

	mu        sync.RWMutex
	positions map[string][]models.MPosition
	callbacks []func(positionID string)
}

// -----------------------------------------------------------------------------

// NewLiquidationHook creates the hook around a margin authority.
func NewLiquidationHook(authority interfaces.IMarginAuthority, checkTimeout time.Duration, logger *logger.Logger) *LiquidationHook {
	return &LiquidationHook{
		Name:         "LiquidationHook",
		Logger:       logger,
		authority:    authority,
		checkTimeout: checkTimeout,
		positions:    make(map[string][]models.MPosition),
	}
}

// -----------------------------------------------------------------------------

// SetActiveTrades replaces the set of open positions the hook watches.
func (h *LiquidationHook) SetActiveTrades(trades []models.MPosition) {
	grouped := make(map[string][]models.MPosition, len(trades))
	for _, trade := range trades {
		grouped[trade.Symbol] = append(grouped[trade.Symbol], trade)
	}

	h.mu.Lock()
	h.positions = grouped
	h.mu.Unlock()
}

// -----------------------------------------------------------------------------

// OnLiquidation registers a callback invoked with the position ID of every
// position the authority orders closed.
func (h *LiquidationHook) OnLiquidation(callback func(positionID string)) {
	if callback == nil {
		return
	}
	h.mu.Lock()
	h.callbacks = append(h.callbacks, callback)
	h.mu.Unlock()
}

// -----------------------------------------------------------------------------

// Symbols returns the symbols with at least one open position, so the caller
// can keep them watched persistently.
func (h *LiquidationHook) Symbols() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	symbols := make([]string, 0, len(h.positions))
	for symbol := range h.positions {
		symbols = append(symbols, symbol)
	}
	return symbols
}

// -----------------------------------------------------------------------------

// CheckTick runs one liquidation round for a tick. The price cache invokes
// this asynchronously for every accepted tick.
func (h *LiquidationHook) CheckTick(tick models.MTick) {
	if h.authority == nil {
		return
	}

	h.mu.RLock()
	positions := h.positions[tick.Symbol]
	h.mu.RUnlock()

	if len(positions) == 0 {
		return
	}

	for _, position := range positions {
		ctx, cancel := context.WithTimeout(context.Background(), h.checkTimeout)
		mustClose, err := h.authority.ShouldLiquidate(ctx, position, tick.Bid)
		cancel()

		if err != nil {
			h.Logger.Warning("%s : margin check failed for position %s on %s: %v", h.Name, position.ID, tick.Symbol, err)
			continue
		}
		if mustClose {
			h.Logger.Info("%s : position %s on %s flagged for liquidation at bid %.5f", h.Name, position.ID, tick.Symbol, tick.Bid)
			h.notify(position.ID)
		}
	}
}

// -----------------------------------------------------------------------------
// PRIVATE METHODS
// -----------------------------------------------------------------------------

// notify invokes every registered callback, isolating panics per callback.
func (h *LiquidationHook) notify(positionID string) {
	h.mu.RLock()
	callbacks := make([]func(string), len(h.callbacks))
	copy(callbacks, h.callbacks)
	h.mu.RUnlock()

	for i, callback := range callbacks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					h.Logger.Error("%s : liquidation callback %d panicked: %v", h.Name, i, r)
				}
			}()
			callback(positionID)
		}()
	}
}
