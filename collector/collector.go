package collector

import (
	"context"
	"iter"

	"github.com/nkbud/terraform-index/core"
)

// DefaultPollInterval is used when a collector config does not set one.
const DefaultPollInterval = 30 // seconds

// Collector is the capability every state source implements. Implementations
// poll their source on a fixed interval, deduplicate candidates with an
// in-memory seen-set, and yield parsed state documents as RawRecords.
type Collector interface {
	// Name returns a short identifier for this collector, used in logs and
	// metrics (e.g. "filesystem", "s3").
	Name() string

	// Start establishes connectivity and resources. An unreachable source
	// fails with core.ErrConnection; the failure is fatal to this collector
	// only, never to siblings wrapped in a Composite.
	Start(ctx context.Context) error

	// Stop releases resources. Idempotent.
	Stop() error

	// Collect returns a lazy sequence of RawRecords. The sequence is
	// logically infinite: it keeps polling until Stop is called or ctx is
	// cancelled, and then terminates within one poll interval. Each call
	// restarts iteration against the shared seen-set, so an unchanged
	// candidate set yields nothing.
	Collect(ctx context.Context) iter.Seq[*core.RawRecord]
}
