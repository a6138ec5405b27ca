package config

import (
	"fmt"
	"os"

	"price-feed/src/models"

	"gopkg.in/yaml.v3"
)

// -----------------------------------------------------------------------------

// Tuning defaults, applied wherever the YAML leaves a knob at zero.
const (
	DefaultAttemptTimeoutMs     = 10000
	DefaultQueueDelayMs         = 250
	DefaultBackoffBaseMs        = 1000
	DefaultBackoffMaxMs         = 30000
	DefaultMaxReconnectAttempts = 5
	DefaultStaleAfterMs         = 5000
	DefaultHealthIntervalMs     = 10000
	DefaultVisibilityDebounceMs = 1000
)

// -----------------------------------------------------------------------------

// Config wraps models.MConfig and provides business logic methods
type Config struct {
	*models.MConfig
}

// -----------------------------------------------------------------------------

// NewConfig creates a new Config instance from YAML file
func NewConfig(configPath string) (*Config, error) {
	// 1. Read the YAML file content
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", configPath, err)
	}

	// 2. Unmarshal data into the models struct
	var modelConfig models.MConfig
	if err := yaml.Unmarshal(data, &modelConfig); err != nil {
		return nil, fmt.Errorf("failed to parse config from YAML: %w", err)
	}

	config := &Config{MConfig: &modelConfig}
	config.ApplyDefaults()

	// 3. Validate the loaded configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// -----------------------------------------------------------------------------

// NewConfigFromModel wraps an already-built model config (used by tests and
// embedded composition roots). Defaults are applied but validation is left
// to the caller.
func NewConfigFromModel(modelConfig *models.MConfig) *Config {
	config := &Config{MConfig: modelConfig}
	config.ApplyDefaults()
	return config
}

// -----------------------------------------------------------------------------

// ApplyDefaults replaces zero-valued tuning knobs with their defaults.
func (c *Config) ApplyDefaults() {
	t := &c.Tuning
	if t.AttemptTimeoutMs <= 0 {
		t.AttemptTimeoutMs = DefaultAttemptTimeoutMs
	}
	if t.QueueDelayMs <= 0 {
		t.QueueDelayMs = DefaultQueueDelayMs
	}
	if t.BackoffBaseMs <= 0 {
		t.BackoffBaseMs = DefaultBackoffBaseMs
	}
	if t.BackoffMaxMs <= 0 {
		t.BackoffMaxMs = DefaultBackoffMaxMs
	}
	if t.MaxReconnectAttempts <= 0 {
		t.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if t.StaleAfterMs <= 0 {
		t.StaleAfterMs = DefaultStaleAfterMs
	}
	if t.HealthIntervalMs <= 0 {
		t.HealthIntervalMs = DefaultHealthIntervalMs
	}
	if t.VisibilityDebounceMs <= 0 {
		t.VisibilityDebounceMs = DefaultVisibilityDebounceMs
	}

	for _, feed := range c.Feeds {
		if feed.SubscribeBatchSize <= 0 {
			feed.SubscribeBatchSize = 10
		}
		if feed.SubscribeBatchDelayMs <= 0 {
			feed.SubscribeBatchDelayMs = 100
		}
		if feed.HeartbeatSec <= 0 {
			feed.HeartbeatSec = 30
		}
	}
}

// -----------------------------------------------------------------------------

// Validate performs basic configuration validation and checks feed sub-configs.
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("config name cannot be empty")
	}

	// Validate feeds
	if len(c.Feeds) == 0 {
		return fmt.Errorf("at least one feed must be configured")
	}
	seen := make(map[models.MFeedType]bool)
	for i, feed := range c.Feeds {
		if feed.Name == "" {
			return fmt.Errorf("feed %d: name cannot be empty", i)
		}
		if feed.Endpoint == "" {
			return fmt.Errorf("feed '%s': endpoint cannot be empty", feed.Name)
		}
		if feed.Type != models.FeedTypeCrypto && feed.Type != models.FeedTypeForex {
			return fmt.Errorf("feed '%s': unknown feed type '%s'", feed.Name, feed.Type)
		}
		if seen[feed.Type] {
			// One live socket per feed type is an invariant of the manager.
			return fmt.Errorf("feed '%s': duplicate feed type '%s'", feed.Name, feed.Type)
		}
		seen[feed.Type] = true
		if feed.Type == models.FeedTypeForex && feed.UserKey == "" {
			return fmt.Errorf("feed '%s': forex feed requires a user_key", feed.Name)
		}
	}

	// Validation of NATS config (minimal check)
	if c.NATS.Enabled && len(c.NATS.Servers) == 0 {
		return fmt.Errorf("NATS servers list cannot be empty when NATS is enabled")
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis addr cannot be empty when the redis mirror is enabled")
	}

	return nil
}

// -----------------------------------------------------------------------------

// GetFeedByName returns a single feed config by name
func (c *Config) GetFeedByName(name string) *models.MFeedConfig {
	for _, feed := range c.Feeds {
		if feed.Name == name {
			return feed
		}
	}
	return nil
}

// -----------------------------------------------------------------------------

// GetFeedByType returns the feed config for a feed type
func (c *Config) GetFeedByType(feedType models.MFeedType) *models.MFeedConfig {
	for _, feed := range c.Feeds {
		if feed.Type == feedType {
			return feed
		}
	}
	return nil
}
