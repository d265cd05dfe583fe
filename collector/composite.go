package collector

import (
	"context"
	"iter"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/nkbud/terraform-index/core"
)

const (
	// DefaultFanInBuffer bounds the shared mailbox the source drains feed.
	DefaultFanInBuffer = 64

	// DefaultStopTimeout bounds how long Stop waits for drain tasks.
	DefaultStopTimeout = 5 * time.Second
)

// CompositeOption configures a Composite.
type CompositeOption func(*Composite)

// WithFanInBuffer sets the capacity of the shared fan-in mailbox.
func WithFanInBuffer(n int) CompositeOption {
	return func(c *Composite) {
		if n > 0 {
			c.buffer = n
		}
	}
}

// WithStopTimeout bounds the wait for drain-task termination during Stop.
func WithStopTimeout(d time.Duration) CompositeOption {
	return func(c *Composite) {
		if d > 0 {
			c.stopWait = d
		}
	}
}

// WithLogger sets a custom logger. Default is slog.Default().
func WithLogger(logger *slog.Logger) CompositeOption {
	return func(c *Composite) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Composite fans in an ordered list of source collectors. Collect runs one
// drain task per source on a worker pool, each feeding a shared bounded
// mailbox; the composite sequence yields in arrival order. There is no
// ordering guarantee across sources, FIFO within a source.
type Composite struct {
	collectors []Collector
	buffer     int
	stopWait   time.Duration
	logger     *slog.Logger
	pool       *ants.Pool

	mu      sync.Mutex
	running bool
	started []Collector
	cancel  context.CancelFunc
	tasks   sync.WaitGroup
}

var _ Collector = (*Composite)(nil)

// NewComposite wraps the given collectors. The pool is sized to run every
// source drain concurrently.
func NewComposite(collectors []Collector, opts ...CompositeOption) (*Composite, error) {
	size := len(collectors)
	if size < 1 {
		size = 1
	}
	pool, err := ants.NewPool(size)
	if err != nil {
		return nil, err
	}

	c := &Composite{
		collectors: collectors,
		buffer:     DefaultFanInBuffer,
		stopWait:   DefaultStopTimeout,
		logger:     slog.Default(),
		pool:       pool,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Composite) Name() string { return "composite" }

// Start starts each wrapped collector in turn, continuing past individual
// failures: a source that cannot connect is logged and excluded, and its
// siblings still run.
func (c *Composite) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}

	c.started = c.started[:0]
	for _, col := range c.collectors {
		if err := col.Start(ctx); err != nil {
			c.logger.Error("collector failed to start", "collector", col.Name(), "err", err)
			continue
		}
		c.started = append(c.started, col)
	}

	c.running = true
	return nil
}

// Collect drains every started source into the shared mailbox and yields
// items as they arrive. The sequence ends when all source sequences complete
// or the composite is stopped.
func (c *Composite) Collect(ctx context.Context) iter.Seq[*core.RawRecord] {
	runCtx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	c.cancel = cancel
	started := slices.Clone(c.started)
	c.mu.Unlock()

	out := make(chan *core.RawRecord, c.buffer)
	for _, col := range started {
		col := col
		c.tasks.Add(1)
		if err := c.pool.Submit(func() {
			defer c.tasks.Done()
			c.drain(runCtx, col, out)
		}); err != nil {
			c.tasks.Done()
			c.logger.Error("failed to submit drain task", "collector", col.Name(), "err", err)
		}
	}
	go func() {
		c.tasks.Wait()
		close(out)
	}()

	return func(yield func(*core.RawRecord) bool) {
		defer cancel()
		for {
			select {
			case rec, ok := <-out:
				if !ok {
					return
				}
				if !yield(rec) {
					return
				}
			case <-runCtx.Done():
				return
			}
		}
	}
}

// drain consumes one source sequence. Failures, including panics, are
// isolated here so a misbehaving source ends only its own contribution.
func (c *Composite) drain(ctx context.Context, col Collector, out chan<- *core.RawRecord) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("collector panicked", "collector", col.Name(), "panic", r)
		}
	}()

	for rec := range col.Collect(ctx) {
		select {
		case out <- rec:
		case <-ctx.Done():
			return
		}
	}
}

// Stop signals cancellation to the drain tasks, waits for them within the
// stop timeout, then stops each wrapped collector. Idempotent.
func (c *Composite) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	cancel := c.cancel
	started := slices.Clone(c.started)
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	waitDone := make(chan struct{})
	go func() {
		c.tasks.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-time.After(c.stopWait):
		c.logger.Warn("timed out waiting for source drain tasks")
	}

	for _, col := range started {
		if err := col.Stop(); err != nil {
			c.logger.Error("error stopping collector", "collector", col.Name(), "err", err)
		}
	}
	c.pool.Release()
	return nil
}
