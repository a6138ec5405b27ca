package interfaces

import (
	"time"

	"price-feed/src/logger"
	"price-feed/src/models"
)

// -----------------------------------------------------------------------------

// IFeedConstructor defines the function signature for creating a new IFeed
// instance from its config.
type IFeedConstructor func(config *models.MFeedConfig, logger *logger.Logger) (IFeed, error)

// -----------------------------------------------------------------------------

// IFeed is the protocol codec for one upstream venue. It builds the wire
// frames the venue expects and normalizes inbound messages into MRawTick.
// Codecs hold no socket; transport and reconnection live elsewhere.
type IFeed interface {
	// GetName returns the feed name
	GetName() string

	// GetType returns the feed type (crypto, forex)
	GetType() models.MFeedType

	// GetEndPoint returns the endpoint of the feed (for display/logging)
	GetEndPoint() string

	// GetEndpointWithCredentials returns the full endpoint used to dial
	GetEndpointWithCredentials() string

	// HandshakeMessages returns the frames to send immediately after the
	// socket opens, before any subscribe (empty for venues without one)
	HandshakeMessages() ([][]byte, error)

	// SubscribeMessages returns the frames subscribing the given display
	// symbols, already split into venue-sized batches
	SubscribeMessages(symbols []string) ([][]byte, error)

	// UnsubscribeMessages returns the frames unsubscribing the given symbols
	UnsubscribeMessages(symbols []string) ([][]byte, error)

	// BatchDelay returns the pause enforced between consecutive subscribe
	// frames (zero when a single frame suffices)
	BatchDelay() time.Duration

	// HeartbeatMessage returns the keepalive frame and its cadence; a nil
	// frame means the venue needs no application-level heartbeat
	HeartbeatMessage() ([]byte, time.Duration)

	// ParseMessage normalizes an inbound frame into a raw tick. A nil tick
	// with a nil error marks an ignorable control message.
	ParseMessage(message []byte) (*models.MRawTick, error)
}
