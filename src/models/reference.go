package models

// -----------------------------------------------------------------------------

// MReferenceEntry is the immutable per-symbol snapshot supplied by the
// external reference-data store. A symbol absent from this set, or marked
// inactive, must never be subscribed.
type MReferenceEntry struct {
	Symbol       string    `json:"symbol"`
	Type         MFeedType `json:"type"`
	Name         string    `json:"name"`
	PipValue     float64   `json:"pip_value"`
	MinLot       float64   `json:"min_lot"`
	MaxLot       float64   `json:"max_lot"`
	IsActive     bool      `json:"is_active"`
	DisplayOrder int       `json:"display_order"`
}

// -----------------------------------------------------------------------------

// MPosition is an open trading position as reported by the host application.
// Only the fields the margin authority needs to identify and price the
// position are carried here.
type MPosition struct {
	ID         string  `json:"id"`
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"` // "buy" or "sell"
	Lots       float64 `json:"lots"`
	EntryPrice float64 `json:"entry_price"`
}
