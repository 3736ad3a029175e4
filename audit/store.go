package audit

import "context"

// Store persists audit entries. Append-only: there is no update or delete.
type Store interface {
	// AppendEntry persists one entry.
	AppendEntry(ctx context.Context, e Entry) error

	// QueryEntries returns matching entries newest first, paged by
	// f.Limit/f.Offset, and the total number of matches before paging.
	// f has already been validated.
	QueryEntries(ctx context.Context, f Filter) ([]Entry, int, error)
}
