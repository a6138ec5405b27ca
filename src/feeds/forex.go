package feeds

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"price-feed/src/interfaces"
	"price-feed/src/logger"
	"price-feed/src/models"
	"price-feed/src/serializers"
	"price-feed/src/utils"
)

// -----------------------------------------------------------------------------
// STRUCT DEFINITION
// -----------------------------------------------------------------------------

// ForexFeed implements interfaces.IFeed for the forex venue. The venue wants
// an init handshake carrying the user key, comma-joined subscribe frames in
// small batches, and a recurring application-level heartbeat.
type ForexFeed struct {
	Name       string
	Logger     *logger.Logger
	Config     *models.MFeedConfig
	Serializer interfaces.ISerializer

	mu sync.RWMutex
	// wireToDisplay maps the venue's wire symbol back to the display symbol
	// ("EURUSD" -> "FX:EURUSD").
	wireToDisplay map[string]string
}

// -----------------------------------------------------------------------------
// CONSTRUCTOR AND REGISTRATION
// -----------------------------------------------------------------------------

func init() {
	// Register the codec for the forex feed type for dynamic creation
	if err := Register(models.FeedTypeForex, NewForexFeed); err != nil {
		fmt.Printf("Error registering forex feed codec: %v\n", err)
	}
}

// -----------------------------------------------------------------------------

// NewForexFeed creates a new forex feed codec.
// Matches the interfaces.IFeedConstructor signature: (config, logger) -> (IFeed, error)
func NewForexFeed(config *models.MFeedConfig, logger *logger.Logger) (interfaces.IFeed, error) {
	if config == nil {
		return nil, fmt.Errorf("forex feed config cannot be nil")
	}
	if config.UserKey == "" {
		return nil, fmt.Errorf("forex feed requires a user key")
	}

	return &ForexFeed{
		Name:          config.Name,
		Logger:        logger,
		Config:        config,
		Serializer:    serializers.NewJSONSerializer(),
		wireToDisplay: make(map[string]string),
	}, nil
}

// -----------------------------------------------------------------------------
// IFeed IMPLEMENTATION
// -----------------------------------------------------------------------------

// GetName returns the feed name
func (f *ForexFeed) GetName() string {
	return f.Name
}

// -----------------------------------------------------------------------------

// GetType returns the feed type
func (f *ForexFeed) GetType() models.MFeedType {
	return models.FeedTypeForex
}

// -----------------------------------------------------------------------------

// GetEndPoint returns the WebSocket endpoint URL
func (f *ForexFeed) GetEndPoint() string {
	return f.Config.Endpoint
}

// -----------------------------------------------------------------------------

// GetEndpointWithCredentials returns the dial endpoint. The forex venue
// authenticates through the init frame, not the URL.
func (f *ForexFeed) GetEndpointWithCredentials() string {
	return f.Config.Endpoint
}

// -----------------------------------------------------------------------------

// HandshakeMessages returns the init frame sent right after the socket opens.
func (f *ForexFeed) HandshakeMessages() ([][]byte, error) {
	initMsg, err := f.Serializer.Marshal(map[string]interface{}{
		"userKey": f.Config.UserKey,
		"_type":   "init",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to serialize init message: %w", err)
	}
	return [][]byte{initMsg}, nil
}

// -----------------------------------------------------------------------------

// SubscribeMessages creates the subscription frames for the given display
// symbols, comma-joined and capped at the configured batch size per frame.
func (f *ForexFeed) SubscribeMessages(symbols []string) ([][]byte, error) {
	if len(symbols) == 0 {
		return nil, nil
	}

	wires := make([]string, 0, len(symbols))

	f.mu.Lock()
	for _, symbol := range symbols {
		wire := strings.ToUpper(utils.WireSymbol(symbol))
		wires = append(wires, wire)
		f.wireToDisplay[wire] = symbol
	}
	f.mu.Unlock()

	batchSize := f.Config.SubscribeBatchSize
	frames := make([][]byte, 0, (len(wires)+batchSize-1)/batchSize)

	for start := 0; start < len(wires); start += batchSize {
		end := start + batchSize
		if end > len(wires) {
			end = len(wires)
		}

		frame, err := f.Serializer.Marshal(map[string]interface{}{
			"userKey": f.Config.UserKey,
			"symbol":  strings.Join(wires[start:end], ","),
			"_type":   "subscribe",
		})
		if err != nil {
			f.Logger.Error("%s : failed to serialize subscription batch %v: %v", f.Name, wires[start:end], err)
			return nil, fmt.Errorf("failed to serialize subscription message: %w", err)
		}
		frames = append(frames, frame)
	}

	return frames, nil
}

// -----------------------------------------------------------------------------

// UnsubscribeMessages drops the symbols from the wire map. The venue has no
// unsubscribe verb; pruning happens on the next reconnect's subscribe set.
func (f *ForexFeed) UnsubscribeMessages(symbols []string) ([][]byte, error) {
	f.mu.Lock()
	for _, symbol := range symbols {
		delete(f.wireToDisplay, strings.ToUpper(utils.WireSymbol(symbol)))
	}
	f.mu.Unlock()
	return nil, nil
}

// -----------------------------------------------------------------------------

// BatchDelay returns the pause between consecutive subscribe frames.
func (f *ForexFeed) BatchDelay() time.Duration {
	return time.Duration(f.Config.SubscribeBatchDelayMs) * time.Millisecond
}

// -----------------------------------------------------------------------------

// HeartbeatMessage returns the keepalive frame and its cadence.
func (f *ForexFeed) HeartbeatMessage() ([]byte, time.Duration) {
	frame, err := f.Serializer.Marshal(map[string]interface{}{"heartbeat": "1"})
	if err != nil {
		// Marshal of a constant map cannot fail at runtime; guard anyway.
		return nil, 0
	}
	return frame, time.Duration(f.Config.HeartbeatSec) * time.Second
}

// -----------------------------------------------------------------------------

// ParseMessage processes incoming frames from the forex venue. Frames are
// accepted as ticks only when symbol, bid and ask are all present; non-JSON
// control strings (connection/auth acknowledgements) are ignored, not errors.
func (f *ForexFeed) ParseMessage(message []byte) (*models.MRawTick, error) {
	trimmed := strings.TrimSpace(string(message))
	if len(trimmed) == 0 || trimmed[0] != '{' {
		// Plain-text acknowledgement ("Connected", "User Key ..."), skip.
		return nil, nil
	}

	var data map[string]interface{}
	if err := json.Unmarshal(message, &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}

	wireSymbol, ok := data["symbol"].(string)
	if !ok {
		return nil, nil
	}

	bid, bidOK := numberField(data, "bid")
	ask, askOK := numberField(data, "ask")
	if !bidOK || !askOK {
		return nil, fmt.Errorf("tick for %s missing bid/ask", wireSymbol)
	}

	// Event time "ts" is milliseconds, delivered as string or number.
	var producedAt int64
	if ts, ok := numberField(data, "ts"); ok {
		producedAt = int64(ts)
	}

	f.mu.RLock()
	display, known := f.wireToDisplay[strings.ToUpper(wireSymbol)]
	f.mu.RUnlock()
	if !known {
		return nil, nil
	}

	return &models.MRawTick{
		Symbol: display,
		// The venue quotes bid/ask only; positions close at bid, so bid is
		// the headline price.
		Price:      bid,
		Bid:        bid,
		Ask:        ask,
		ProducedAt: producedAt,
		Source:     models.FeedTypeForex,
	}, nil
}

// -----------------------------------------------------------------------------
// PRIVATE METHODS
// -----------------------------------------------------------------------------

// numberField reads a numeric field that the venue may deliver either as a
// JSON number or as a numeric string.
func numberField(data map[string]interface{}, key string) (float64, bool) {
	switch val := data[key].(type) {
	case float64:
		return val, true
	case string:
		if strings.TrimSpace(val) == "" {
			return 0, false
		}
		return utils.ParseFloat(val), true
	default:
		return 0, false
	}
}
