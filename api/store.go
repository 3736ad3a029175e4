package api

import (
	"context"

	"github.com/warp/retro-billing/audit"
	"github.com/warp/retro-billing/billing"
)

// Store is everything the HTTP layer and the scheduler need. Implemented by
// store/sqlite.Store and generic/store.Memory.
type Store interface {
	billing.Store
	audit.Store

	// Reset clears all data (development only).
	Reset(ctx context.Context) error
}
