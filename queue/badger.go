// Copyright 2025 the terraform-index authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package queue

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/nkbud/terraform-index/core"
)

const (
	badgerSequenceBandwidth = 100
	badgerPollInterval      = 50 * time.Millisecond
)

var errBadgerEmpty = errors.New("badger queue empty")

// BadgerConfig configures a Badger queue.
type BadgerConfig struct {
	// Path is the database directory, created if missing. Badger holds an
	// exclusive lock on it, so every queue needs its own directory. Ignored
	// when InMemory is set.
	Path string

	// Name prefixes this queue's keys and labels its log output.
	Name string

	// InMemory backs the queue with an in-memory Badger instance, used by
	// tests.
	InMemory bool

	Logger *slog.Logger
}

// Badger is the durable local queue backend. Items are stored under
// big-endian sequence keys so iteration order is insertion order, and an item
// is deleted only by the Get that returns it.
type Badger[T any] struct {
	cfg BadgerConfig

	mu      sync.Mutex
	db      *badger.DB
	seq     *badger.Sequence
	started bool

	getMu sync.Mutex
}

var _ Queue[any] = (*Badger[any])(nil)

// badgerLoggerAdapter adapts slog.Logger to badger.Logger.
type badgerLoggerAdapter struct {
	logger *slog.Logger
}

var _ badger.Logger = (*badgerLoggerAdapter)(nil)

func (bl *badgerLoggerAdapter) Errorf(msg string, items ...any) {
	bl.logger.Error(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Warningf(msg string, items ...any) {
	bl.logger.Warn(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Infof(msg string, items ...any) {
	bl.logger.Debug(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Debugf(msg string, items ...any) {
	bl.logger.Debug(fmt.Sprintf(msg, items...))
}

// NewBadger creates a durable local queue.
func NewBadger[T any](cfg BadgerConfig) *Badger[T] {
	if cfg.Name == "" {
		cfg.Name = "default"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Badger[T]{cfg: cfg}
}

// Start opens the database. Safe to call multiple times.
func (q *Badger[T]) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return nil
	}

	var opts badger.Options
	if q.cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(q.cfg.Path, 0755); err != nil {
			return fmt.Errorf("%w: %v", core.ErrConnection, err)
		}
		opts = badger.DefaultOptions(q.cfg.Path)
	}
	opts.Logger = &badgerLoggerAdapter{logger: q.cfg.Logger}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return fmt.Errorf("%w: opening queue database: %v", core.ErrConnection, err)
	}

	seq, err := db.GetSequence(q.seqKey(), badgerSequenceBandwidth)
	if err != nil {
		db.Close()
		return fmt.Errorf("%w: acquiring queue sequence: %v", core.ErrConnection, err)
	}

	q.db = db
	q.seq = seq
	q.started = true
	return nil
}

// Stop releases the sequence and closes the database. Safe to call multiple
// times.
func (q *Badger[T]) Stop() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.started {
		return nil
	}
	q.started = false

	if err := q.seq.Release(); err != nil {
		q.cfg.Logger.Error("error releasing queue sequence", "queue", q.cfg.Name, "err", err)
	}
	return q.db.Close()
}

type badgerKeyPrefix []byte

func (q *Badger[T]) keyPrefix() badgerKeyPrefix {
	return badgerKeyPrefix("q:" + q.cfg.Name + ":")
}

// seqKey lives outside the item prefix so iteration never sees it.
func (q *Badger[T]) seqKey() []byte {
	return []byte("qseq:" + q.cfg.Name)
}

// makeKey builds an insertion-ordered key: prefix plus a big-endian sequence
// number so lexicographic iteration is FIFO.
func (p badgerKeyPrefix) makeKey(n uint64) []byte {
	buf := make([]byte, len(p)+8)
	offset := copy(buf, p)
	binary.BigEndian.PutUint64(buf[offset:], n)
	return buf
}

// Put serializes the item as JSON and writes it under the next sequence key.
func (q *Badger[T]) Put(ctx context.Context, item T) error {
	q.mu.Lock()
	started, db, seq := q.started, q.db, q.seq
	q.mu.Unlock()
	if !started {
		return core.ErrStopped
	}

	n, err := seq.Next()
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrTransport, err)
	}
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrParse, err)
	}

	err = db.Update(func(txn *badger.Txn) error {
		return txn.Set(q.keyPrefix().makeKey(n), data)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrTransport, err)
	}
	return nil
}

// Get returns the oldest stored item, deleting it in the same transaction.
// Polls until the timeout elapses.
func (q *Badger[T]) Get(ctx context.Context, timeout time.Duration) (T, error) {
	var zero T

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		item, err := q.tryGet()
		if err == nil {
			return item, nil
		}
		if !errors.Is(err, errBadgerEmpty) {
			return zero, err
		}

		if timeout > 0 && time.Now().After(deadline) {
			return zero, fmt.Errorf("%w: no item within %s", core.ErrTimeout, timeout)
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(badgerPollInterval):
		}
	}
}

func (q *Badger[T]) tryGet() (T, error) {
	var zero T

	q.mu.Lock()
	started, db := q.started, q.db
	q.mu.Unlock()
	if !started {
		return zero, core.ErrStopped
	}

	// Serialize consumers so two Gets never race on the head key.
	q.getMu.Lock()
	defer q.getMu.Unlock()

	var out T
	prefix := []byte(q.keyPrefix())

	err := db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		it.Rewind()
		if !it.ValidForPrefix(prefix) {
			return errBadgerEmpty
		}

		entry := it.Item()
		key := entry.KeyCopy(nil)
		val, err := entry.ValueCopy(nil)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(val, &out); err != nil {
			return err
		}
		return txn.Delete(key)
	})
	if err != nil {
		if errors.Is(err, errBadgerEmpty) {
			return zero, err
		}
		return zero, fmt.Errorf("%w: %v", core.ErrTransport, err)
	}
	return out, nil
}

// Size counts stored items with a key-only iteration. Best effort.
func (q *Badger[T]) Size(ctx context.Context) int {
	q.mu.Lock()
	started, db := q.started, q.db
	q.mu.Unlock()
	if !started {
		return 0
	}

	prefix := []byte(q.keyPrefix())
	count := 0
	err := db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		q.cfg.Logger.Warn("error sizing queue", "queue", q.cfg.Name, "err", err)
		return 0
	}
	return count
}

// Empty reports whether Size observes no items.
func (q *Badger[T]) Empty(ctx context.Context) bool {
	return q.Size(ctx) == 0
}
