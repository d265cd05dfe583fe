package sink

import (
	"context"

	"github.com/nkbud/terraform-index/core"
)

// FlushStats reports the outcome of one bulk write.
type FlushStats struct {
	Indexed int
	Failed  int
}

// Sink receives FlatRecords, batches them, and writes them to a search
// index. Implementations buffer IndexDocument calls and auto-flush when
// either a configured item count or a configured time since the last flush
// is exceeded.
type Sink interface {
	// Start verifies connectivity and prepares the index. An unreachable
	// backend fails with core.ErrConnection.
	Start(ctx context.Context) error

	// Stop flushes any buffered documents before releasing resources.
	Stop(ctx context.Context) error

	// IndexDocument buffers one document for the next bulk write.
	IndexDocument(ctx context.Context, doc *core.FlatRecord) error

	// Flush forces a bulk write of the current buffer. Partial failures are
	// reported in the stats, not as an error.
	Flush(ctx context.Context) (FlushStats, error)

	// Search executes a raw query against the index.
	Search(ctx context.Context, query map[string]any) (map[string]any, error)

	// Stats returns index statistics.
	Stats(ctx context.Context) (map[string]any, error)
}
