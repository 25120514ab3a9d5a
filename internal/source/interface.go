package source

import (
	"context"

	"github.com/timmy/newsagent/internal/domain"
)

// Source defines the interface for content data sources.
type Source interface {
	// GetSourceID returns the unique identifier for this source.
	// Parameters: none.
	// Returns:
	//   - string: stable source identifier.
	GetSourceID() string

	// GetDisplayName returns a human-readable name for this source.
	// Parameters: none.
	// Returns:
	//   - string: display-friendly source name.
	GetDisplayName() string

	// FetchBatch fetches a batch of content records starting from the given cursor.
	// Parameters:
	//   - ctx: context for cancellation and deadlines.
	//   - cursor: pagination cursor or empty for first page.
	//   - limit: maximum number of records to fetch.
	// Returns:
	//   - records: batch of content records, owned by the caller.
	//   - nextCursor: cursor for the next batch or empty if done.
	//   - err: non-nil if fetching fails.
	FetchBatch(ctx context.Context, cursor string, limit int) (records []*domain.ContentRecord, nextCursor string, err error)

	// SupportsIncremental returns true if this source supports incremental updates.
	// Parameters: none.
	// Returns:
	//   - bool: true when incremental updates are supported.
	SupportsIncremental() bool
}
