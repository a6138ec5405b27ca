package models

// -----------------------------------------------------------------------------

// MFeedType identifies one upstream streaming price source.
type MFeedType string

const (
	FeedTypeCrypto MFeedType = "crypto"
	FeedTypeForex  MFeedType = "forex"
)

// -----------------------------------------------------------------------------

// MTickStatus qualifies how fresh a cached tick is.
type MTickStatus string

const (
	// TickStatusActive means the owning feed delivered the tick recently.
	TickStatusActive MTickStatus = "active"
	// TickStatusStale means the owning feed has not produced a fresh update
	// within the staleness threshold.
	TickStatusStale MTickStatus = "stale"
	// TickStatusClosed applies only to forex symbols outside trading hours.
	TickStatusClosed MTickStatus = "closed"
)

// -----------------------------------------------------------------------------

// MTick represents one normalized price update for a symbol, already enriched
// with reference data. Ticks are immutable once produced; a new tick for the
// same symbol replaces the prior one in the cache.
type MTick struct {
	Symbol    string      `json:"symbol"`
	Price     float64     `json:"price"`
	Bid       float64     `json:"bid"`
	Ask       float64     `json:"ask"`
	ChangePct float64     `json:"change_pct"`
	PipValue  float64     `json:"pip_value"`
	MinLot    float64     `json:"min_lot"`
	MaxLot    float64     `json:"max_lot"`
	Timestamp int64       `json:"timestamp_ms"`
	Latency   int64       `json:"latency_ms"`
	Source    MFeedType   `json:"source"`
	Status    MTickStatus `json:"status"`
}

// -----------------------------------------------------------------------------

// MRawTick is a parsed but not yet enriched upstream price message, as
// produced by a feed codec. ProducedAt carries the upstream event time when
// the venue supplies one, zero otherwise.
type MRawTick struct {
	Symbol     string
	Price      float64
	Bid        float64
	Ask        float64
	ChangePct  float64
	ProducedAt int64 // upstream event time, unix ms; 0 when unknown
	Source     MFeedType
}
