package utils

import (
	"math"
	"net/url"
	"strconv"
	"strings"
)

// -----------------------------------------------------------------------------

// ParseFloat converts a string to float64, returning 0 on failure.
// Upstream venues deliver numeric fields as strings.
func ParseFloat(raw string) float64 {
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0
	}
	return value
}

// -----------------------------------------------------------------------------

// IsFiniteNumber reports whether v is a usable price value (finite, not NaN).
func IsFiniteNumber(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// -----------------------------------------------------------------------------

// MaskAPIKey hides credential-bearing query parameters in an endpoint URL so
// it can be logged safely.
func MaskAPIKey(endpoint string) string {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return endpoint
	}
	query := parsed.Query()
	for key := range query {
		lower := strings.ToLower(key)
		if strings.Contains(lower, "key") || strings.Contains(lower, "token") || strings.Contains(lower, "secret") {
			query.Set(key, "****")
		}
	}
	parsed.RawQuery = query.Encode()
	return parsed.String()
}

// -----------------------------------------------------------------------------

// WireSymbol strips the venue prefix from a display symbol
// ("BINANCE:BTCUSDT" -> "BTCUSDT"). Symbols without a prefix pass through.
func WireSymbol(display string) string {
	if idx := strings.IndexByte(display, ':'); idx >= 0 {
		return display[idx+1:]
	}
	return display
}
