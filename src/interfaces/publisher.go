package interfaces

import "price-feed/src/models"

// -----------------------------------------------------------------------------

// IPublisher defines the interface for pushing enriched ticks and status
// snapshots out of the process (NATS, or any other message broker).
type IPublisher interface {
	// OnTick processes and publishes an enriched tick
	OnTick(tick *models.MTick)

	// OnStatus publishes a per-feed connection status snapshot
	OnStatus(stats map[models.MFeedType]models.MConnectionStats)

	// Connect establishes connection to the message broker
	Connect() error

	// Disconnect closes the connection to the message broker
	Disconnect() error

	// IsConnected returns the current connection status
	IsConnected() bool
}
