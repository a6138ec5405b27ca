package pricecache

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"price-feed/src/logger"
	"price-feed/src/models"
	"price-feed/src/refdata"
)

// ─── helpers ──────────────────────────────────────────────────────────────────

type fakeStore struct {
	entries []models.MReferenceEntry
}

func (s *fakeStore) Load(ctx context.Context) ([]models.MReferenceEntry, error) {
	return s.entries, nil
}

func testLogger() *logger.Logger {
	return logger.NewLogger(&models.MConfig{LogLevel: "CRITICAL"}, "test")
}

func testRefCache(t *testing.T) *refdata.Cache {
	t.Helper()
	store := &fakeStore{entries: []models.MReferenceEntry{
		{Symbol: "BINANCE:BTCUSDT", Type: models.FeedTypeCrypto, PipValue: 0.01, MinLot: 0.001, MaxLot: 100, IsActive: true},
		{Symbol: "FX:EURUSD", Type: models.FeedTypeForex, PipValue: 0.0001, MinLot: 0.01, MaxLot: 50, IsActive: true},
		{Symbol: "FX:RETIRED", Type: models.FeedTypeForex, IsActive: false},
	}}
	cache := refdata.NewCache(store, testLogger())
	if err := cache.Load(context.Background()); err != nil {
		t.Fatalf("refdata load: %v", err)
	}
	return cache
}

type cacheFixture struct {
	cache      *Cache
	stats      *StatsBook
	now        time.Time
	marketOpen bool
}

func newFixture(t *testing.T) *cacheFixture {
	t.Helper()
	f := &cacheFixture{
		now:        time.Date(2026, 1, 7, 12, 0, 0, 0, time.UTC),
		marketOpen: true,
	}
	f.stats = NewStatsBook([]models.MFeedType{models.FeedTypeCrypto, models.FeedTypeForex}, testLogger())
	f.stats.SetClock(func() time.Time { return f.now })
	f.cache = NewCache(testRefCache(t), f.stats, 5*time.Second,
		func(time.Time) bool { return f.marketOpen }, testLogger())
	f.cache.SetClock(func() time.Time { return f.now })
	return f
}

func rawBTC(price float64) *models.MRawTick {
	return &models.MRawTick{
		Symbol: "BINANCE:BTCUSDT",
		Price:  price, Bid: price - 0.1, Ask: price + 0.1,
		ChangePct: 1.5,
		Source:    models.FeedTypeCrypto,
	}
}

// ─── ingest pipeline ──────────────────────────────────────────────────────────

func TestUpdateEnrichesAndStores(t *testing.T) {
	f := newFixture(t)

	raw := rawBTC(65000.1)
	raw.ProducedAt = f.now.UnixMilli() - 40

	if err := f.cache.Update(raw); err != nil {
		t.Fatalf("Update: %v", err)
	}

	tick, ok := f.cache.Get("BINANCE:BTCUSDT")
	if !ok {
		t.Fatal("expected cached tick")
	}
	if tick.PipValue != 0.01 || tick.MinLot != 0.001 || tick.MaxLot != 100 {
		t.Errorf("reference enrichment missing: %+v", tick)
	}
	if tick.Latency != 40 {
		t.Errorf("latency: want 40, got %d", tick.Latency)
	}
	if tick.Status != models.TickStatusActive {
		t.Errorf("status: want active, got %v", tick.Status)
	}
	if tick.Timestamp != f.now.UnixMilli() {
		t.Errorf("timestamp: want %d, got %d", f.now.UnixMilli(), tick.Timestamp)
	}
}

func TestUpdateLastWriteWins(t *testing.T) {
	f := newFixture(t)

	f.cache.Update(rawBTC(65000.1))
	f.cache.Update(rawBTC(65100.5))

	tick, _ := f.cache.Get("BINANCE:BTCUSDT")
	if tick.Price != 65100.5 {
		t.Errorf("expected the later tick to win, got price %v", tick.Price)
	}
	if got := f.stats.Snapshot()[models.FeedTypeCrypto].Messages; got != 2 {
		t.Errorf("messages: want 2, got %d", got)
	}
}

func TestUpdateRejectsBadTicks(t *testing.T) {
	f := newFixture(t)

	bad := []*models.MRawTick{
		{Symbol: "BINANCE:DOGEUSDT", Price: 1, Bid: 1, Ask: 1, Source: models.FeedTypeCrypto}, // unknown
		{Symbol: "FX:RETIRED", Price: 1, Bid: 1, Ask: 1, Source: models.FeedTypeForex},        // inactive
		{Symbol: "BINANCE:BTCUSDT", Price: math.NaN(), Bid: 1, Ask: 1, Source: models.FeedTypeCrypto},
		{Symbol: "BINANCE:BTCUSDT", Price: math.Inf(1), Bid: 1, Ask: 1, Source: models.FeedTypeCrypto},
		{Symbol: "BINANCE:BTCUSDT", Source: models.FeedTypeCrypto}, // all-zero prices
	}

	for _, raw := range bad {
		if err := f.cache.Update(raw); err == nil {
			t.Errorf("expected rejection for %+v", raw)
		}
	}

	if _, ok := f.cache.Get("BINANCE:BTCUSDT"); ok {
		t.Error("rejected ticks must not be cached")
	}
	errs := f.stats.Snapshot()[models.FeedTypeCrypto].Errors
	if errs != 4 {
		t.Errorf("crypto errors: want 4, got %d", errs)
	}
}

func TestUpdateMarksForexClosedOutsideHours(t *testing.T) {
	f := newFixture(t)
	f.marketOpen = false

	err := f.cache.Update(&models.MRawTick{
		Symbol: "FX:EURUSD", Price: 1.085, Bid: 1.085, Ask: 1.0852,
		Source: models.FeedTypeForex,
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	tick, _ := f.cache.Get("FX:EURUSD")
	if tick.Status != models.TickStatusClosed {
		t.Errorf("status: want closed, got %v", tick.Status)
	}
}

// ─── fan-out ──────────────────────────────────────────────────────────────────

func TestDeliveryInRegistrationOrder(t *testing.T) {
	f := newFixture(t)

	var order []string
	f.cache.Subscribe(func(symbol string, tick models.MTick) { order = append(order, "first") })
	f.cache.Subscribe(func(symbol string, tick models.MTick) { order = append(order, "second") })

	f.cache.Update(rawBTC(65000.1))

	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("expected delivery in registration order, got %v", order)
	}
}

func TestPanickingListenerIsIsolated(t *testing.T) {
	f := newFixture(t)

	var delivered int
	f.cache.Subscribe(func(symbol string, tick models.MTick) { panic("boom") })
	f.cache.Subscribe(func(symbol string, tick models.MTick) { delivered++ })

	if err := f.cache.Update(rawBTC(65000.1)); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if delivered != 1 {
		t.Errorf("listener after the panicking one must still run, delivered=%d", delivered)
	}

	// The panicking listener stays subscribed and keeps failing harmlessly.
	if err := f.cache.Update(rawBTC(65001.0)); err != nil {
		t.Fatalf("Update after panic: %v", err)
	}
	if delivered != 2 {
		t.Errorf("fan-out must survive repeated panics, delivered=%d", delivered)
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	f := newFixture(t)

	var delivered int
	unsubscribe := f.cache.Subscribe(func(symbol string, tick models.MTick) { delivered++ })

	unsubscribe()
	unsubscribe() // second call is a no-op

	f.cache.Update(rawBTC(65000.1))
	if delivered != 0 {
		t.Errorf("unsubscribed listener must not receive ticks, delivered=%d", delivered)
	}
}

// ─── replay ───────────────────────────────────────────────────────────────────

func TestLateSubscriberReceivesCachedTicks(t *testing.T) {
	f := newFixture(t)

	f.cache.Update(rawBTC(65000.1))
	f.cache.Update(&models.MRawTick{
		Symbol: "FX:EURUSD", Price: 1.085, Bid: 1.085, Ask: 1.0852,
		Source: models.FeedTypeForex,
	})

	got := make(map[string]models.MTick)
	f.cache.Subscribe(func(symbol string, tick models.MTick) { got[symbol] = tick })

	if len(got) != 2 {
		t.Fatalf("expected replay of 2 cached ticks, got %d", len(got))
	}
	if got["BINANCE:BTCUSDT"].Price != 65000.1 {
		t.Errorf("replayed BTC price: want 65000.1, got %v", got["BINANCE:BTCUSDT"].Price)
	}
	if got["BINANCE:BTCUSDT"].Status != models.TickStatusActive {
		t.Errorf("fresh replayed tick should be active, got %v", got["BINANCE:BTCUSDT"].Status)
	}
}

func TestSubscribeDuringUpdatesKeepsSymbolOrder(t *testing.T) {
	f := newFixture(t)
	f.cache.Update(rawBTC(100))

	// Keep updates flowing while the subscriber registers, so live ticks race
	// the snapshot replay. Per-symbol prices only go up, so any decrease seen
	// by the listener means a fresh tick overtook an older replayed one.
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		price := 101.0
		for {
			select {
			case <-stop:
				return
			default:
			}
			f.cache.Update(rawBTC(price))
			price++
		}
	}()

	time.Sleep(2 * time.Millisecond)

	var mu sync.Mutex
	var last float64
	var inversions int
	unsubscribe := f.cache.Subscribe(func(symbol string, tick models.MTick) {
		mu.Lock()
		if tick.Price < last {
			inversions++
		}
		last = tick.Price
		mu.Unlock()
	})
	defer unsubscribe()

	time.Sleep(10 * time.Millisecond)
	close(stop)
	<-done

	mu.Lock()
	defer mu.Unlock()
	if inversions != 0 {
		t.Fatalf("listener saw %d out-of-order ticks for the same symbol", inversions)
	}
	if last == 0 {
		t.Fatal("listener received no ticks")
	}
}

func TestReplayRestampsStaleTicks(t *testing.T) {
	f := newFixture(t)

	f.cache.Update(rawBTC(65000.1))

	// Advance past the staleness threshold with no further ticks.
	f.now = f.now.Add(6 * time.Second)

	var got models.MTick
	f.cache.Subscribe(func(symbol string, tick models.MTick) { got = tick })

	if got.Status != models.TickStatusStale {
		t.Errorf("replayed tick after quiet period: want stale, got %v", got.Status)
	}
	if got.Price != 65000.1 {
		t.Errorf("staleness must not alter the price, got %v", got.Price)
	}
}

func TestReplayAllForcesStatus(t *testing.T) {
	f := newFixture(t)

	f.cache.Update(rawBTC(65000.1))

	var got []models.MTick
	f.cache.Subscribe(func(symbol string, tick models.MTick) { got = append(got, tick) })
	got = got[:0]

	f.cache.ReplayAll(models.TickStatusStale)
	if len(got) != 1 || got[0].Status != models.TickStatusStale {
		t.Fatalf("expected one stale replay, got %+v", got)
	}
}

func TestReplayClosedOverridesForcedStatusForForex(t *testing.T) {
	f := newFixture(t)

	f.cache.Update(&models.MRawTick{
		Symbol: "FX:EURUSD", Price: 1.085, Bid: 1.085, Ask: 1.0852,
		Source: models.FeedTypeForex,
	})
	f.marketOpen = false

	var got []models.MTick
	f.cache.Subscribe(func(symbol string, tick models.MTick) { got = append(got, tick) })
	got = got[:0]

	f.cache.ReplaySymbols([]string{"FX:EURUSD"}, models.TickStatusStale)
	if len(got) != 1 || got[0].Status != models.TickStatusClosed {
		t.Fatalf("closed market must override forced status for forex, got %+v", got)
	}
}

// ─── tick hook ────────────────────────────────────────────────────────────────

func TestTickHookRunsAsynchronously(t *testing.T) {
	f := newFixture(t)

	hooked := make(chan models.MTick, 1)
	f.cache.SetTickHook(func(tick models.MTick) { hooked <- tick })

	f.cache.Update(rawBTC(65000.1))

	select {
	case tick := <-hooked:
		if tick.Symbol != "BINANCE:BTCUSDT" {
			t.Errorf("hook tick symbol: got %q", tick.Symbol)
		}
	case <-time.After(time.Second):
		t.Fatal("tick hook was never invoked")
	}
}
