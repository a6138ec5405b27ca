package interfaces

import (
	"context"

	"price-feed/src/models"
)

// -----------------------------------------------------------------------------

// IReferenceStore is the external reference-data store collaborator. It
// supplies the full per-symbol snapshot (type, trading parameters, active
// flag, display order) in one call.
type IReferenceStore interface {
	// Load fetches the complete reference-entry set
	Load(ctx context.Context) ([]models.MReferenceEntry, error)
}

// -----------------------------------------------------------------------------

// IMarginAuthority is the external collaborator that decides whether an open
// position must be force-closed at a given bid price. Checks are idempotent;
// callers may repeat them on every tick.
type IMarginAuthority interface {
	// ShouldLiquidate reports whether the position must be closed at bid
	ShouldLiquidate(ctx context.Context, position models.MPosition, bid float64) (bool, error)
}
