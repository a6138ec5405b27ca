package publishers

import (
	"fmt"
	"strings"
	"sync"

	"price-feed/src/interfaces"
	"price-feed/src/logger"
	"price-feed/src/models"
	"price-feed/src/utils"

	"github.com/nats-io/nats.go"
)

// -----------------------------------------------------------------------------
// NATSPublisher implements interfaces.IPublisher
// -----------------------------------------------------------------------------

// NATSPublisher pushes enriched ticks and status snapshots to NATS so the
// surrounding dashboard (REST handlers, alerting) can consume them without
// touching the connection manager. Delivery is fire-and-forget: the manager
// itself never depends on the bus being up.
type NATSPublisher struct {
	name   string
	config *models.MNATSConfig
	logger *logger.Logger

	mu sync.RWMutex

	nc         *nats.Conn             // NATS core connection
	serializer interfaces.ISerializer // serialize message before sending

	connected bool
}

// -----------------------------------------------------------------------------

// NewNATSPublisher creates a new NATS publisher instance
func NewNATSPublisher(config *models.MNATSConfig, logger *logger.Logger, serializer interfaces.ISerializer) interfaces.IPublisher {
	return &NATSPublisher{
		name:       config.ClientID,
		config:     config,
		logger:     logger,
		serializer: serializer,
	}
}

// -----------------------------------------------------------------------------

// OnTick publishes one enriched tick to <prefix>.<feed>.<symbol>.
func (np *NATSPublisher) OnTick(tick *models.MTick) {
	if tick == nil {
		return
	}

	subject := fmt.Sprintf("%s.%s", tick.Source, subjectToken(tick.Symbol))

	data, err := np.serializer.Marshal(tick)
	if err != nil {
		np.logger.Error("%s : failed to serialize tick for %s: %v", np.name, tick.Symbol, err)
		return
	}

	if err := np.publish(subject, data); err != nil {
		np.logger.Error("%s : failed to publish tick for %s to %s: %v", np.name, tick.Symbol, subject, err)
	}
}

// -----------------------------------------------------------------------------

// OnStatus publishes the per-feed connection status snapshot to
// <prefix>.status.
func (np *NATSPublisher) OnStatus(stats map[models.MFeedType]models.MConnectionStats) {
	data, err := np.serializer.Marshal(stats)
	if err != nil {
		np.logger.Error("%s : failed to serialize status snapshot: %v", np.name, err)
		return
	}

	if err := np.publish("status", data); err != nil {
		np.logger.Error("%s : failed to publish status snapshot: %v", np.name, err)
	}
}

// -----------------------------------------------------------------------------

// Connect establishes connection to the NATS server.
func (np *NATSPublisher) Connect() error {
	np.mu.Lock()
	defer np.mu.Unlock()

	if np.nc != nil && np.nc.IsConnected() {
		return nil
	}

	opts := []nats.Option{
		nats.Name(np.config.ClientID),
		nats.RetryOnFailedConnect(true),

		// Connection Event Handlers
		nats.ClosedHandler(func(nc *nats.Conn) {
			np.logger.Error("%s : NATS connection closed unexpectedly", np.name)
			np.setConnected(false)
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			np.logger.Warning("%s : NATS disconnected, attempting reconnect: %v", np.name, err)
			np.setConnected(false)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			np.logger.Info("%s : NATS successfully reconnected to %s", np.name, nc.ConnectedUrl())
			np.setConnected(true)
		}),
	}

	var err error
	np.nc, err = nats.Connect(strings.Join(np.config.Servers, ","), opts...)
	if err != nil {
		return fmt.Errorf("nats connection failed: %w", err)
	}

	np.connected = true
	np.logger.Info("%s : successfully connected to NATS at %s", np.name, utils.MaskAPIKey(np.nc.ConnectedUrl()))
	return nil
}

// -----------------------------------------------------------------------------

// Disconnect closes the NATS connection
func (np *NATSPublisher) Disconnect() error {
	np.mu.Lock()
	defer np.mu.Unlock()

	if np.nc == nil || np.nc.IsClosed() {
		return nil
	}

	np.nc.Close()
	np.connected = false
	np.logger.Info("%s : NATS connection closed successfully", np.name)
	return nil
}

// -----------------------------------------------------------------------------

// IsConnected returns connection status
func (np *NATSPublisher) IsConnected() bool {
	np.mu.RLock()
	defer np.mu.RUnlock()
	return np.connected
}

// -----------------------------------------------------------------------------
// PRIVATE METHODS
// -----------------------------------------------------------------------------

// publish sends raw data to a NATS core subject (fire-and-forget).
func (np *NATSPublisher) publish(subject string, data []byte) error {
	if !np.IsConnected() {
		return fmt.Errorf("nats client not connected")
	}
	return np.nc.Publish(np.getSubject(subject), data)
}

// -----------------------------------------------------------------------------

// setConnected updates the connection status from NATS event handlers.
func (np *NATSPublisher) setConnected(status bool) {
	np.mu.Lock()
	np.connected = status
	np.mu.Unlock()
}

// -----------------------------------------------------------------------------

// getSubject prepends the configured subject prefix if it exists.
func (np *NATSPublisher) getSubject(subject string) string {
	if np.config.SubjectPrefix != "" {
		return fmt.Sprintf("%s.%s", np.config.SubjectPrefix, subject)
	}
	return subject
}

// -----------------------------------------------------------------------------

// subjectToken makes a display symbol safe for use inside a NATS subject
// ("BINANCE:BTCUSDT" -> "BINANCE_BTCUSDT").
func subjectToken(symbol string) string {
	replacer := strings.NewReplacer(":", "_", ".", "_", "*", "_", ">", "_", " ", "_")
	return replacer.Replace(symbol)
}
