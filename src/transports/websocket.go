package transports

import (
	"context"
	"fmt"
	"sync"
	"time"

	"price-feed/src/logger"
	"price-feed/src/utils"

	"github.com/gorilla/websocket"
)

// -----------------------------------------------------------------------------

// WebSocketClient implements interfaces.IConnectionClient using Gorilla
// WebSocket. The client only moves frames; reconnection policy belongs to the
// feed connection that owns it, which is told about socket death exactly once
// through the onDisconnect callback.
type WebSocketClient struct {
	conn         *websocket.Conn
	name         string
	endpoint     string
	logger       *logger.Logger
	isRunning    bool
	mu           sync.RWMutex
	writeMu      sync.Mutex
	recvMsgChann chan []byte
	done         chan struct{}
	onRawData    func([]byte)
	onDisconnect func(error)
	disconnected sync.Once
}

// -----------------------------------------------------------------------------

// NewWebSocketClient creates a new WebSocket client
func NewWebSocketClient(endpoint, name string, logger *logger.Logger, onRawData func([]byte), onDisconnect func(error)) *WebSocketClient {
	return &WebSocketClient{
		name:         name,
		endpoint:     endpoint,
		logger:       logger,
		isRunning:    false,
		recvMsgChann: make(chan []byte, 1000), // FIXME take message buffer from config
		done:         make(chan struct{}),
		onRawData:    onRawData,
		onDisconnect: onDisconnect,
	}
}

// -----------------------------------------------------------------------------

// Connect establishes WebSocket connection and starts processing
func (w *WebSocketClient) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, w.endpoint, nil)
	if err != nil {
		w.logger.Error("%s : failed to connect to %s: %v", w.name, utils.MaskAPIKey(w.endpoint), err)
		return fmt.Errorf("failed to connect to %s: %w", w.endpoint, err)
	}

	// Recreate channels for new connection
	w.recvMsgChann = make(chan []byte, 1000)
	w.done = make(chan struct{})
	w.disconnected = sync.Once{}

	w.conn = conn
	w.isRunning = true

	w.logger.Info("%s : WebSocket connected to %s", w.name, utils.MaskAPIKey(w.endpoint))

	// Start message processing. The dial context only bounds connection
	// establishment; the socket's lifetime is governed by done.
	go w.receiveMessages(conn)
	go w.processIncomingMessages()

	return nil
}

// -----------------------------------------------------------------------------

// Disconnect closes the connection. A local Disconnect never triggers the
// onDisconnect callback.
func (w *WebSocketClient) Disconnect() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.isRunning {
		return nil
	}

	w.isRunning = false
	w.disconnected.Do(func() {}) // swallow any pending socket-death report
	close(w.done)

	if w.conn != nil {
		err := w.conn.Close()
		w.conn = nil
		if err != nil {
			return fmt.Errorf("failed to close connection: %s: %w", w.endpoint, err)
		}
	}

	w.logger.Info("%s : WebSocket disconnected from %s", w.name, utils.MaskAPIKey(w.endpoint))
	return nil
}

// -----------------------------------------------------------------------------

// GetName returns the client name
func (w *WebSocketClient) GetName() string {
	return w.name
}

// -----------------------------------------------------------------------------

// GetType returns the transport type
func (w *WebSocketClient) GetType() string {
	return "websocket"
}

// -----------------------------------------------------------------------------

// IsRunning returns the connection status
func (w *WebSocketClient) IsRunning() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.isRunning
}

// -----------------------------------------------------------------------------

// SendMessage sends a message to the WebSocket
func (w *WebSocketClient) SendMessage(data []byte) error {
	w.mu.RLock()
	conn := w.conn
	w.mu.RUnlock()

	if conn == nil {
		return fmt.Errorf("connection is nil")
	}

	// Gorilla connections support at most one concurrent writer; heartbeat
	// and subscribe frames arrive from different goroutines.
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	err := conn.WriteMessage(websocket.TextMessage, data)
	if err != nil {
		return fmt.Errorf("failed to send byte message: %w", err)
	}
	return nil
}

// -----------------------------------------------------------------------------

// receiveMessages reads frames from the socket until it dies or is closed.
func (w *WebSocketClient) receiveMessages(conn *websocket.Conn) {
	for {
		select {
		case <-w.done:
			return
		default:
		}

		messageType, message, err := conn.ReadMessage()
		if err != nil {
			// Check if we are shutting down
			select {
			case <-w.done:
				return
			default:
			}
			w.reportDisconnect(fmt.Errorf("read message error: %w", err))
			return
		}

		if messageType == websocket.TextMessage {
			select {
			case w.recvMsgChann <- message:
			case <-w.done:
				return
			}
		}
	}
}

// -----------------------------------------------------------------------------

// processIncomingMessages forwards received frames to the raw-data callback.
func (w *WebSocketClient) processIncomingMessages() {
	for {
		select {
		case <-w.done:
			return
		case byteMessage, ok := <-w.recvMsgChann:
			if !ok {
				return
			}
			w.onRawData(byteMessage)
		}
	}
}

// -----------------------------------------------------------------------------

// reportDisconnect marks the client stopped and notifies the owner once.
func (w *WebSocketClient) reportDisconnect(err error) {
	w.mu.Lock()
	w.isRunning = false
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
	}
	w.mu.Unlock()

	w.disconnected.Do(func() {
		w.logger.Error("%s : websocket error: %v", w.name, err)
		if w.onDisconnect != nil {
			w.onDisconnect(err)
		}
	})
}
