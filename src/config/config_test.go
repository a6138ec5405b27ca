package config

import (
	"os"
	"path/filepath"
	"testing"

	"price-feed/src/models"
)

// ─── helpers ──────────────────────────────────────────────────────────────────

const validYAML = `
name: "price-feed"
log_level: "INFO"
feeds:
  - name: "binance"
    type: "crypto"
    endpoint: "wss://stream.example.com/ws"
  - name: "forexfeed"
    type: "forex"
    endpoint: "wss://quotes.example.com/stream"
    user_key: "abc123"
tuning:
  queue_delay_ms: 50
bootstrap_symbols:
  - "BINANCE:BTCUSDT"
`

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func validModel() *models.MConfig {
	return &models.MConfig{
		Name: "price-feed",
		Feeds: []*models.MFeedConfig{
			{Name: "binance", Type: models.FeedTypeCrypto, Endpoint: "wss://a.example/ws"},
			{Name: "forexfeed", Type: models.FeedTypeForex, Endpoint: "wss://b.example/ws", UserKey: "k"},
		},
	}
}

// ─── loading ──────────────────────────────────────────────────────────────────

func TestNewConfigParsesYAML(t *testing.T) {
	config, err := NewConfig(writeTempConfig(t, validYAML))
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}

	if config.Name != "price-feed" {
		t.Errorf("name: got %q", config.Name)
	}
	if len(config.Feeds) != 2 {
		t.Fatalf("feeds: want 2, got %d", len(config.Feeds))
	}
	if config.Feeds[1].UserKey != "abc123" {
		t.Errorf("forex user key: got %q", config.Feeds[1].UserKey)
	}
	if len(config.BootstrapSymbols) != 1 {
		t.Errorf("bootstrap symbols: got %v", config.BootstrapSymbols)
	}

	// Explicit knobs survive, zero knobs get defaults.
	if config.Tuning.QueueDelayMs != 50 {
		t.Errorf("queue delay: want 50, got %d", config.Tuning.QueueDelayMs)
	}
	if config.Tuning.BackoffBaseMs != DefaultBackoffBaseMs {
		t.Errorf("backoff base default: want %d, got %d", DefaultBackoffBaseMs, config.Tuning.BackoffBaseMs)
	}
	if config.Feeds[1].SubscribeBatchSize != 10 {
		t.Errorf("batch size default: want 10, got %d", config.Feeds[1].SubscribeBatchSize)
	}
}

func TestNewConfigMissingFile(t *testing.T) {
	if _, err := NewConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

// ─── validation ───────────────────────────────────────────────────────────────

func TestValidateRejectsBrokenConfigs(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*models.MConfig)
	}{
		{"empty name", func(m *models.MConfig) { m.Name = "" }},
		{"no feeds", func(m *models.MConfig) { m.Feeds = nil }},
		{"feed without endpoint", func(m *models.MConfig) { m.Feeds[0].Endpoint = "" }},
		{"unknown feed type", func(m *models.MConfig) { m.Feeds[0].Type = "bonds" }},
		{"duplicate feed type", func(m *models.MConfig) { m.Feeds[1].Type = models.FeedTypeCrypto }},
		{"forex without user key", func(m *models.MConfig) { m.Feeds[1].UserKey = "" }},
		{"nats enabled without servers", func(m *models.MConfig) { m.NATS.Enabled = true }},
		{"redis enabled without addr", func(m *models.MConfig) { m.Redis.Enabled = true }},
	}

	for _, tc := range cases {
		model := validModel()
		tc.mutate(model)
		config := NewConfigFromModel(model)
		if err := config.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
}

func TestValidatePassesOnGoodConfig(t *testing.T) {
	config := NewConfigFromModel(validModel())
	if err := config.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

// ─── lookups ──────────────────────────────────────────────────────────────────

func TestFeedLookups(t *testing.T) {
	config := NewConfigFromModel(validModel())

	if feed := config.GetFeedByName("binance"); feed == nil || feed.Type != models.FeedTypeCrypto {
		t.Errorf("GetFeedByName(binance): %+v", feed)
	}
	if feed := config.GetFeedByType(models.FeedTypeForex); feed == nil || feed.Name != "forexfeed" {
		t.Errorf("GetFeedByType(forex): %+v", feed)
	}
	if config.GetFeedByName("absent") != nil {
		t.Error("GetFeedByName(absent) must be nil")
	}
}
