package stores

import (
	"context"
	"fmt"
	"time"

	"price-feed/src/interfaces"
	"price-feed/src/logger"
	"price-feed/src/models"

	"github.com/redis/go-redis/v9"
)

// -----------------------------------------------------------------------------
// Redis Tick Mirror
// -----------------------------------------------------------------------------

// RedisMirror keeps a write-through copy of the latest tick per symbol in
// Redis so dashboard REST handlers can read prices without touching the
// connection manager. It attaches to the manager as an ordinary price
// listener; write failures are logged and swallowed, never affecting tick
// delivery.
type RedisMirror struct {
	Name   string
	Logger *logger.Logger

	client     *redis.Client
	serializer interfaces.ISerializer
	keyPrefix  string
	ttl        time.Duration
}

// -----------------------------------------------------------------------------

// NewRedisMirror connects to Redis and returns the mirror.
func NewRedisMirror(config *models.MRedisConfig, serializer interfaces.ISerializer, log *logger.Logger) (*RedisMirror, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	keyPrefix := config.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = "pricefeed"
	}
	ttl := time.Duration(config.TTLSec) * time.Second
	if ttl <= 0 {
		ttl = time.Minute
	}

	return &RedisMirror{
		Name:       "RedisMirror",
		Logger:     log,
		client:     client,
		serializer: serializer,
		keyPrefix:  keyPrefix,
		ttl:        ttl,
	}, nil
}

// -----------------------------------------------------------------------------

// OnTick is the price-listener entry point: store the tick under
// <prefix>:latest:<symbol> with the configured TTL.
func (m *RedisMirror) OnTick(symbol string, tick models.MTick) {
	data, err := m.serializer.Marshal(tick)
	if err != nil {
		m.Logger.Error("%s : failed to marshal tick for %s: %v", m.Name, symbol, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	key := fmt.Sprintf("%s:latest:%s", m.keyPrefix, symbol)
	if err := m.client.Set(ctx, key, data, m.ttl).Err(); err != nil {
		m.Logger.Warning("%s : failed to mirror tick for %s: %v", m.Name, symbol, err)
	}
}

// -----------------------------------------------------------------------------

// GetLatest reads the mirrored tick for a symbol, if present.
func (m *RedisMirror) GetLatest(ctx context.Context, symbol string) (*models.MTick, error) {
	key := fmt.Sprintf("%s:latest:%s", m.keyPrefix, symbol)
	data, err := m.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read mirrored tick: %w", err)
	}

	var tick models.MTick
	if err := m.serializer.Unmarshal(data, &tick); err != nil {
		return nil, fmt.Errorf("failed to unmarshal mirrored tick: %w", err)
	}
	return &tick, nil
}

// -----------------------------------------------------------------------------

// Close releases the Redis connection.
func (m *RedisMirror) Close() error {
	return m.client.Close()
}
