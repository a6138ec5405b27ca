package models

// -----------------------------------------------------------------------------

// MConfig is the top-level application configuration, loaded from YAML.
type MConfig struct {
	Name     string `yaml:"name"`
	LogLevel string `yaml:"log_level"`

	// Feeds lists the upstream sources, one per feed type.
	Feeds []*MFeedConfig `yaml:"feeds"`

	// Tuning groups the connection-manager timing knobs.
	Tuning MConnectionTuning `yaml:"tuning"`

	NATS     MNATSConfig     `yaml:"nats"`
	Redis    MRedisConfig    `yaml:"redis"`
	Postgres MPostgresConfig `yaml:"postgres"`

	// BootstrapSymbols are watched persistently at startup.
	BootstrapSymbols []string `yaml:"bootstrap_symbols"`
}

// -----------------------------------------------------------------------------

// MFeedConfig describes one upstream feed endpoint and its protocol knobs.
type MFeedConfig struct {
	Name     string    `yaml:"name"`
	Type     MFeedType `yaml:"type"`
	Endpoint string    `yaml:"endpoint"`

	// UserKey authenticates the forex feed; unused for crypto.
	UserKey string `yaml:"user_key"`

	// Forex subscribe batching and heartbeat cadence.
	SubscribeBatchSize    int `yaml:"subscribe_batch_size"`
	SubscribeBatchDelayMs int `yaml:"subscribe_batch_delay_ms"`
	HeartbeatSec          int `yaml:"heartbeat_sec"`
}

// -----------------------------------------------------------------------------

// MConnectionTuning carries the timing parameters of the connection manager.
// Zero values are replaced by defaults at config load.
type MConnectionTuning struct {
	AttemptTimeoutMs     int `yaml:"attempt_timeout_ms"`
	QueueDelayMs         int `yaml:"queue_delay_ms"`
	BackoffBaseMs        int `yaml:"backoff_base_ms"`
	BackoffMaxMs         int `yaml:"backoff_max_ms"`
	MaxReconnectAttempts int `yaml:"max_reconnect_attempts"`
	StaleAfterMs         int `yaml:"stale_after_ms"`
	HealthIntervalMs     int `yaml:"health_interval_ms"`
	VisibilityDebounceMs int `yaml:"visibility_debounce_ms"`
}

// -----------------------------------------------------------------------------

// MNATSConfig configures the optional NATS publisher.
type MNATSConfig struct {
	Enabled       bool     `yaml:"enabled"`
	Servers       []string `yaml:"servers"`
	ClientID      string   `yaml:"client_id"`
	SubjectPrefix string   `yaml:"subject_prefix"`
	Serializer    string   `yaml:"serializer"` // "json" or "gob"
}

// -----------------------------------------------------------------------------

// MRedisConfig configures the optional Redis tick mirror.
type MRedisConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
	TTLSec    int    `yaml:"ttl_sec"`
}

// -----------------------------------------------------------------------------

// MPostgresConfig configures the reference-data store. An empty DSN selects
// the static in-memory store.
type MPostgresConfig struct {
	DSN string `yaml:"dsn"`
}
