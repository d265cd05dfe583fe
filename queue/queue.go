package queue

import (
	"context"
	"time"
)

// DefaultGetTimeout is the short bounded wait pump loops use so a stop
// request stays observable while a queue is empty.
const DefaultGetTimeout = time.Second

// Queue is the transport-agnostic mailbox bridging pipeline stages. Each
// instance is point-to-point: one logical producer worker and one logical
// consumer worker.
//
// Ordering: the in-process backend is strictly FIFO; durable backends
// guarantee at-least-once delivery and approximate ordering only.
type Queue[T any] interface {
	// Start performs backend-specific setup, verifying connectivity where
	// one exists. Safe to call multiple times.
	Start(ctx context.Context) error

	// Stop releases backend resources. Safe to call multiple times.
	Stop() error

	// Put enqueues an item. Under a bounded configuration it blocks until
	// capacity frees; under an unbounded one it never blocks indefinitely.
	// Durable backends surface I/O failures wrapping core.ErrTransport,
	// which callers treat as retryable on the next loop iteration.
	Put(ctx context.Context, item T) error

	// Get dequeues the oldest available item. When no item arrives within
	// timeout it fails wrapping core.ErrTimeout, distinguishable from every
	// other error. timeout <= 0 blocks until an item arrives or ctx ends.
	Get(ctx context.Context, timeout time.Duration) (T, error)

	// Size reports the number of queued items. Exact for the in-process
	// backend, eventually consistent for durable ones.
	Size(ctx context.Context) int

	// Empty reports whether the queue appears empty, with the same
	// best-effort semantics as Size.
	Empty(ctx context.Context) bool
}
