package models

// -----------------------------------------------------------------------------

// MConnState is the lifecycle state of one feed connection.
type MConnState string

const (
	ConnStateDisconnected MConnState = "disconnected"
	ConnStateConnecting   MConnState = "connecting"
	ConnStateConnected    MConnState = "connected"
	ConnStateError        MConnState = "error"
)

// -----------------------------------------------------------------------------

// MConnectionStats accumulates runtime counters for one feed type.
// Counters reset only on process start and otherwise grow monotonically;
// status subscribers consume them read-only.
type MConnectionStats struct {
	State        MConnState `json:"state"`
	Messages     int64      `json:"messages"`
	Errors       int64      `json:"errors"`
	AvgLatencyMs float64    `json:"avg_latency_ms"`
	LastUpdateMs int64      `json:"last_update_ms"`
	Degraded     bool       `json:"degraded"`
}
