package interfaces

import (
	"context"
)

// -----------------------------------------------------------------------------

// IConnectionFactory creates a transport client for an endpoint. The raw-data
// callback receives every inbound text frame; the disconnect callback fires
// once when the socket dies for any reason other than a local Disconnect.
type IConnectionFactory func(endpoint, name string, onRawData func([]byte), onDisconnect func(error)) IConnectionClient

// -----------------------------------------------------------------------------

// IConnectionClient defines the interface for streaming transport connections.
// The callbacks are expected to be passed during client initialization
// (via IConnectionFactory).
type IConnectionClient interface {
	// Connect opens the transport and starts the read loop
	Connect(ctx context.Context) error

	// Disconnect closes the connection; the disconnect callback does not fire
	Disconnect() error

	// IsRunning returns the connection status
	IsRunning() bool

	// GetName returns the client name
	GetName() string

	// GetType returns the transport type
	GetType() string

	// SendMessage sends one frame over the transport
	SendMessage([]byte) error
}
