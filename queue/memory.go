package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nkbud/terraform-index/core"
)

// Memory is the in-process queue backend: strict FIFO, exact Size, bounded
// blocking Put when a capacity is set.
type Memory[T any] struct {
	maxSize int

	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond
	items    []T
	started  bool
}

var _ Queue[any] = (*Memory[any])(nil)

// NewMemory creates an in-process queue. maxSize 0 means unbounded.
func NewMemory[T any](maxSize int) *Memory[T] {
	q := &Memory[T]{maxSize: maxSize}
	q.notEmpty = sync.NewCond(&q.mu)
	q.notFull = sync.NewCond(&q.mu)
	return q
}

// Start marks the queue ready. Safe to call multiple times.
func (q *Memory[T]) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.started = true
	return nil
}

// Stop marks the queue stopped and wakes any blocked producer or consumer,
// which then fail with core.ErrStopped. Safe to call multiple times.
func (q *Memory[T]) Stop() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.started = false
	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
	return nil
}

// Put appends an item, blocking while a bounded queue is at capacity.
func (q *Memory[T]) Put(ctx context.Context, item T) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.started {
		return core.ErrStopped
	}
	for q.maxSize > 0 && len(q.items) >= q.maxSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		// Wake ourselves if the producer's context ends mid-wait.
		stop := context.AfterFunc(ctx, q.notFull.Broadcast)
		q.notFull.Wait()
		stop()
		if !q.started {
			return core.ErrStopped
		}
	}

	q.items = append(q.items, item)
	q.notEmpty.Signal()
	return nil
}

// Get removes and returns the oldest item. With a positive timeout it fails
// wrapping core.ErrTimeout when nothing arrives in time.
func (q *Memory[T]) Get(ctx context.Context, timeout time.Duration) (T, error) {
	var zero T

	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.started {
		return zero, core.ErrStopped
	}

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	for len(q.items) == 0 {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		// Wake ourselves on cancellation, and at the deadline when one is
		// set, so Wait cannot outlive either.
		cancelWake := context.AfterFunc(ctx, q.notEmpty.Broadcast)
		if timeout > 0 {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				cancelWake()
				return zero, fmt.Errorf("%w: no item within %s", core.ErrTimeout, timeout)
			}
			timer := time.AfterFunc(remaining, q.notEmpty.Broadcast)
			q.notEmpty.Wait()
			timer.Stop()
		} else {
			q.notEmpty.Wait()
		}
		cancelWake()
		if !q.started {
			return zero, core.ErrStopped
		}
	}

	item := q.items[0]
	q.items = q.items[1:]
	q.notFull.Signal()
	return item, nil
}

// Size reports the exact number of queued items.
func (q *Memory[T]) Size(ctx context.Context) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Empty reports whether the queue holds no items.
func (q *Memory[T]) Empty(ctx context.Context) bool {
	return q.Size(ctx) == 0
}
