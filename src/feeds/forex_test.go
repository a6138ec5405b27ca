package feeds

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"price-feed/src/models"
)

// ─── helpers ──────────────────────────────────────────────────────────────────

func newTestForexFeed(t *testing.T) *ForexFeed {
	t.Helper()
	feed, err := NewForexFeed(&models.MFeedConfig{
		Name:                  "forexfeed",
		Type:                  models.FeedTypeForex,
		Endpoint:              "wss://quotes.example.com/stream",
		UserKey:               "secret-key",
		SubscribeBatchSize:    10,
		SubscribeBatchDelayMs: 100,
		HeartbeatSec:          30,
	}, testLogger())
	if err != nil {
		t.Fatalf("NewForexFeed: %v", err)
	}
	return feed.(*ForexFeed)
}

type forexFrame struct {
	UserKey string `json:"userKey"`
	Symbol  string `json:"symbol"`
	Type    string `json:"_type"`
}

// ─── construction ─────────────────────────────────────────────────────────────

func TestForexRequiresUserKey(t *testing.T) {
	_, err := NewForexFeed(&models.MFeedConfig{
		Name:     "forexfeed",
		Endpoint: "wss://quotes.example.com/stream",
	}, testLogger())
	if err == nil {
		t.Fatal("expected error when user key is missing")
	}
}

// ─── handshake and heartbeat ──────────────────────────────────────────────────

func TestForexHandshakeFrame(t *testing.T) {
	feed := newTestForexFeed(t)

	frames, err := feed.HandshakeMessages()
	if err != nil {
		t.Fatalf("HandshakeMessages: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("expected one init frame, got %d", len(frames))
	}

	var frame forexFrame
	if err := json.Unmarshal(frames[0], &frame); err != nil {
		t.Fatalf("init frame is not JSON: %v", err)
	}
	if frame.Type != "init" {
		t.Errorf("_type: want init, got %q", frame.Type)
	}
	if frame.UserKey != "secret-key" {
		t.Errorf("userKey: want secret-key, got %q", frame.UserKey)
	}
}

func TestForexHeartbeat(t *testing.T) {
	feed := newTestForexFeed(t)

	frame, interval := feed.HeartbeatMessage()
	if interval != 30*time.Second {
		t.Errorf("heartbeat interval: want 30s, got %v", interval)
	}

	var hb map[string]string
	if err := json.Unmarshal(frame, &hb); err != nil {
		t.Fatalf("heartbeat frame is not JSON: %v", err)
	}
	if hb["heartbeat"] != "1" {
		t.Errorf("heartbeat frame: want {\"heartbeat\":\"1\"}, got %s", frame)
	}
}

// ─── subscribe batching ───────────────────────────────────────────────────────

func TestForexSubscribeBatching(t *testing.T) {
	feed := newTestForexFeed(t)

	// 23 symbols with a batch size of 10 must yield frames of 10, 10 and 3.
	symbols := make([]string, 23)
	for i := range symbols {
		symbols[i] = fmt.Sprintf("FX:PAIR%02d", i)
	}

	frames, err := feed.SubscribeMessages(symbols)
	if err != nil {
		t.Fatalf("SubscribeMessages: %v", err)
	}
	if len(frames) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(frames))
	}

	wantSizes := []int{10, 10, 3}
	for i, raw := range frames {
		var frame forexFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			t.Fatalf("frame %d is not JSON: %v", i, err)
		}
		if frame.Type != "subscribe" {
			t.Errorf("frame %d _type: want subscribe, got %q", i, frame.Type)
		}
		if frame.UserKey != "secret-key" {
			t.Errorf("frame %d userKey: want secret-key, got %q", i, frame.UserKey)
		}
		got := len(strings.Split(frame.Symbol, ","))
		if got != wantSizes[i] {
			t.Errorf("frame %d symbol count: want %d, got %d (%q)", i, wantSizes[i], got, frame.Symbol)
		}
	}

	if feed.BatchDelay() != 100*time.Millisecond {
		t.Errorf("batch delay: want 100ms, got %v", feed.BatchDelay())
	}
}

func TestForexUnsubscribeSendsNoFrames(t *testing.T) {
	feed := newTestForexFeed(t)
	feed.SubscribeMessages([]string{"FX:EURUSD"})

	frames, err := feed.UnsubscribeMessages([]string{"FX:EURUSD"})
	if err != nil {
		t.Fatalf("UnsubscribeMessages: %v", err)
	}
	if len(frames) != 0 {
		t.Errorf("the venue has no unsubscribe verb, got %d frames", len(frames))
	}

	// The wire mapping is pruned, so later ticks for the symbol are dropped.
	tick, err := feed.ParseMessage([]byte(`{"symbol":"EURUSD","bid":"1.0850","ask":"1.0852"}`))
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	if tick != nil {
		t.Errorf("expected tick for unsubscribed symbol to be dropped, got %+v", tick)
	}
}

// ─── message parsing ──────────────────────────────────────────────────────────

func TestForexParseTick(t *testing.T) {
	feed := newTestForexFeed(t)
	feed.SubscribeMessages([]string{"FX:EURUSD"})

	tick, err := feed.ParseMessage([]byte(`{"symbol":"EURUSD","bid":"1.0850","ask":"1.0852","ts":"1700000000000"}`))
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	if tick == nil {
		t.Fatal("expected a tick")
	}
	if tick.Symbol != "FX:EURUSD" {
		t.Errorf("symbol: want FX:EURUSD, got %q", tick.Symbol)
	}
	// The headline price is the bid.
	if tick.Price != 1.0850 || tick.Bid != 1.0850 || tick.Ask != 1.0852 {
		t.Errorf("prices: got price=%v bid=%v ask=%v", tick.Price, tick.Bid, tick.Ask)
	}
	if tick.ProducedAt != 1700000000000 {
		t.Errorf("produced at: want 1700000000000, got %d", tick.ProducedAt)
	}
	if tick.Source != models.FeedTypeForex {
		t.Errorf("source: want forex, got %v", tick.Source)
	}
}

func TestForexParseNumericFields(t *testing.T) {
	feed := newTestForexFeed(t)
	feed.SubscribeMessages([]string{"FX:EURUSD"})

	// The venue sends bid/ask as JSON numbers on some frames.
	tick, err := feed.ParseMessage([]byte(`{"symbol":"EURUSD","bid":1.0850,"ask":1.0852}`))
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	if tick == nil || tick.Bid != 1.0850 || tick.Ask != 1.0852 {
		t.Errorf("expected numeric bid/ask to parse, got %+v", tick)
	}
}

func TestForexParseIgnoresControlFrames(t *testing.T) {
	feed := newTestForexFeed(t)
	feed.SubscribeMessages([]string{"FX:EURUSD"})

	ignorable := []string{
		"Connected",
		"User Key Accepted",
		"",
		`{"status":"subscribed"}`,
		`{"symbol":"USDJPY","bid":"155.10","ask":"155.12"}`, // never subscribed
	}
	for _, raw := range ignorable {
		tick, err := feed.ParseMessage([]byte(raw))
		if err != nil {
			t.Errorf("ParseMessage(%q): unexpected error %v", raw, err)
		}
		if tick != nil {
			t.Errorf("ParseMessage(%q): expected frame to be ignored, got %+v", raw, tick)
		}
	}
}

func TestForexParseRejectsPartialTick(t *testing.T) {
	feed := newTestForexFeed(t)
	feed.SubscribeMessages([]string{"FX:EURUSD"})

	if _, err := feed.ParseMessage([]byte(`{"symbol":"EURUSD","bid":"1.0850"}`)); err == nil {
		t.Error("expected error for tick missing ask")
	}
}
