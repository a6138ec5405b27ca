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

// CryptoFeed implements interfaces.IFeed for the crypto venue. The venue
// takes one SUBSCRIBE frame listing every requested ticker stream and pushes
// 24h ticker events back.
type CryptoFeed struct {
	Name       string
	Logger     *logger.Logger
	Config     *models.MFeedConfig
	Serializer interfaces.ISerializer

	mu sync.RWMutex
	// wireToDisplay maps the venue's upper-case wire symbol back to the
	// display symbol the rest of the system uses ("BTCUSDT" -> "BINANCE:BTCUSDT").
	wireToDisplay map[string]string
	nextRequestID int
}

// -----------------------------------------------------------------------------
// CONSTRUCTOR AND REGISTRATION
// -----------------------------------------------------------------------------

func init() {
	// Register the codec for the crypto feed type for dynamic creation
	if err := Register(models.FeedTypeCrypto, NewCryptoFeed); err != nil {
		fmt.Printf("Error registering crypto feed codec: %v\n", err)
	}
}

// -----------------------------------------------------------------------------

// NewCryptoFeed creates a new crypto feed codec.
// Matches the interfaces.IFeedConstructor signature: (config, logger) -> (IFeed, error)
func NewCryptoFeed(config *models.MFeedConfig, logger *logger.Logger) (interfaces.IFeed, error) {
	if config == nil {
		return nil, fmt.Errorf("crypto feed config cannot be nil")
	}
	if !strings.HasPrefix(config.Endpoint, "wss://") && !strings.HasPrefix(config.Endpoint, "ws://") {
		return nil, fmt.Errorf("crypto endpoint must be a websocket URL")
	}

	return &CryptoFeed{
		Name:          config.Name,
		Logger:        logger,
		Config:        config,
		Serializer:    serializers.NewJSONSerializer(),
		wireToDisplay: make(map[string]string),
		nextRequestID: 1,
	}, nil
}

// -----------------------------------------------------------------------------
// IFeed IMPLEMENTATION
// -----------------------------------------------------------------------------

// GetName returns the feed name
func (f *CryptoFeed) GetName() string {
	return f.Name
}

// -----------------------------------------------------------------------------

// GetType returns the feed type
func (f *CryptoFeed) GetType() models.MFeedType {
	return models.FeedTypeCrypto
}

// -----------------------------------------------------------------------------

// GetEndPoint returns the WebSocket endpoint URL
func (f *CryptoFeed) GetEndPoint() string {
	return f.Config.Endpoint
}

// -----------------------------------------------------------------------------

// GetEndpointWithCredentials returns the dial endpoint.
// The crypto venue's public streams require no authentication.
func (f *CryptoFeed) GetEndpointWithCredentials() string {
	return f.Config.Endpoint
}

// -----------------------------------------------------------------------------

// HandshakeMessages returns nothing; the crypto venue has no init handshake.
func (f *CryptoFeed) HandshakeMessages() ([][]byte, error) {
	return nil, nil
}

// -----------------------------------------------------------------------------

// SubscribeMessages creates one subscription frame covering every requested
// symbol's ticker stream.
func (f *CryptoFeed) SubscribeMessages(symbols []string) ([][]byte, error) {
	if len(symbols) == 0 {
		return nil, nil
	}

	params := make([]string, 0, len(symbols))

	f.mu.Lock()
	for _, symbol := range symbols {
		wire := utils.WireSymbol(symbol)
		params = append(params, strings.ToLower(wire)+"@ticker")
		f.wireToDisplay[strings.ToUpper(wire)] = symbol
	}
	requestID := f.nextRequestID
	f.nextRequestID++
	f.mu.Unlock()

	subMsg, err := f.Serializer.Marshal(map[string]interface{}{
		"method": "SUBSCRIBE",
		"params": params,
		"id":     requestID,
	})
	if err != nil {
		f.Logger.Error("%s : failed to serialize subscription message for symbols %v: %v", f.Name, symbols, err)
		return nil, fmt.Errorf("failed to serialize subscription message: %w", err)
	}

	return [][]byte{subMsg}, nil
}

// -----------------------------------------------------------------------------

// UnsubscribeMessages creates one unsubscription frame for the given symbols.
func (f *CryptoFeed) UnsubscribeMessages(symbols []string) ([][]byte, error) {
	if len(symbols) == 0 {
		return nil, nil
	}

	params := make([]string, 0, len(symbols))

	f.mu.Lock()
	for _, symbol := range symbols {
		wire := utils.WireSymbol(symbol)
		params = append(params, strings.ToLower(wire)+"@ticker")
		delete(f.wireToDisplay, strings.ToUpper(wire))
	}
	requestID := f.nextRequestID
	f.nextRequestID++
	f.mu.Unlock()

	unsubMsg, err := f.Serializer.Marshal(map[string]interface{}{
		"method": "UNSUBSCRIBE",
		"params": params,
		"id":     requestID,
	})
	if err != nil {
		f.Logger.Error("%s : failed to serialize unsubscription message for symbols %v: %v", f.Name, symbols, err)
		return nil, fmt.Errorf("failed to serialize unsubscription message: %w", err)
	}

	return [][]byte{unsubMsg}, nil
}

// -----------------------------------------------------------------------------

// BatchDelay returns zero; the crypto venue takes a single subscribe frame.
func (f *CryptoFeed) BatchDelay() time.Duration {
	return 0
}

// -----------------------------------------------------------------------------

// HeartbeatMessage returns nil; the transport's protocol-level ping suffices.
func (f *CryptoFeed) HeartbeatMessage() ([]byte, time.Duration) {
	return nil, 0
}

// -----------------------------------------------------------------------------

// ParseMessage processes incoming WebSocket messages from the crypto venue.
// Only 24h ticker events (e == "24hrTicker") carry prices; everything else
// (subscription acks, unknown events) is ignored without error.
func (f *CryptoFeed) ParseMessage(message []byte) (*models.MRawTick, error) {
	var data map[string]interface{}
	if err := json.Unmarshal(message, &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}

	// Skip subscription confirmations (messages with "result")
	if _, ok := data["result"]; ok {
		return nil, nil
	}

	eventType, ok := data["e"].(string)
	if !ok || eventType != "24hrTicker" {
		// Not a ticker event, ignore message
		return nil, nil
	}

	return f.parseTickerEvent(data)
}

// -----------------------------------------------------------------------------
// PRIVATE METHODS
// -----------------------------------------------------------------------------

// parseTickerEvent extracts a raw tick from a 24h ticker event.
// Ticker events carry: symbol "s", last price "c", best bid "b", best ask "a",
// percent change "P" and event time "E" (milliseconds).
func (f *CryptoFeed) parseTickerEvent(data map[string]interface{}) (*models.MRawTick, error) {
	// getString safely extracts a string field from the event data
	getString := func(key string) (string, error) {
		val, ok := data[key].(string)
		if !ok {
			return "", fmt.Errorf("invalid or missing string field '%s'", key)
		}
		return val, nil
	}

	wireSymbol, err := getString("s")
	if err != nil {
		return nil, fmt.Errorf("parse ticker event error (symbol): %w", err)
	}

	priceStr, err := getString("c")
	if err != nil {
		return nil, fmt.Errorf("parse ticker event error (last price): %w", err)
	}

	bidStr, err := getString("b")
	if err != nil {
		return nil, fmt.Errorf("parse ticker event error (bid): %w", err)
	}

	askStr, err := getString("a")
	if err != nil {
		return nil, fmt.Errorf("parse ticker event error (ask): %w", err)
	}

	// Percent change "P" is optional on some venues; default to 0.
	changeStr, _ := data["P"].(string)

	// Event time "E" is optional; 0 leaves latency computation to the cache.
	var producedAt int64
	if eventTime, ok := data["E"].(float64); ok {
		producedAt = int64(eventTime)
	}

	f.mu.RLock()
	display, known := f.wireToDisplay[strings.ToUpper(wireSymbol)]
	f.mu.RUnlock()
	if !known {
		// Tick for a symbol we never subscribed; drop silently.
		return nil, nil
	}

	return &models.MRawTick{
		Symbol:     display,
		Price:      utils.ParseFloat(priceStr),
		Bid:        utils.ParseFloat(bidStr),
		Ask:        utils.ParseFloat(askStr),
		ChangePct:  utils.ParseFloat(changeStr),
		ProducedAt: producedAt,
		Source:     models.FeedTypeCrypto,
	}, nil
}
