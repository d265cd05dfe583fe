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

package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/nkbud/terraform-index/core"
	"github.com/nkbud/terraform-index/parser"
	"github.com/nkbud/terraform-index/queue"
)

// ParserWorker drains the raw-record queue, parses each state document, and
// enqueues the resulting flattened documents. Stop is checked between
// records, so the record being parsed when Stop arrives is finished and
// enqueued before the worker exits.
type ParserWorker struct {
	in      queue.Queue[*core.RawRecord]
	out     queue.Queue[*core.FlatRecord]
	parser  *parser.Parser
	monitor Monitor
	logger  *slog.Logger

	getTimeout time.Duration

	state    workerState
	stopping chan struct{}
	done     chan struct{}
}

// NewParserWorker creates the worker. A nil parser gets parser defaults; a
// nil monitor gets the no-op implementation.
func NewParserWorker(in queue.Queue[*core.RawRecord], out queue.Queue[*core.FlatRecord], p *parser.Parser, monitor Monitor, logger *slog.Logger) *ParserWorker {
	if p == nil {
		p = parser.New()
	}
	if monitor == nil {
		monitor = &noopMonitor{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ParserWorker{
		in:         in,
		out:        out,
		parser:     p,
		monitor:    monitor,
		logger:     logger.With("worker", "parser"),
		getTimeout: queue.DefaultGetTimeout,
	}
}

// State reports the worker's lifecycle phase.
func (w *ParserWorker) State() State {
	return w.state.get()
}

// Start begins the drain loop.
func (w *ParserWorker) Start(ctx context.Context) error {
	if !w.state.transition(StateIdle, StateRunning) {
		return ErrAlreadyStarted
	}

	w.stopping = make(chan struct{})
	w.done = make(chan struct{})

	go w.run(context.WithoutCancel(ctx))

	w.logger.Info("parser worker started")
	return nil
}

// Stop ends the loop after the in-flight record, if any, has been fully
// parsed and enqueued. Idempotent.
func (w *ParserWorker) Stop() error {
	if !w.state.transition(StateRunning, StateStopping) {
		w.state.transition(StateIdle, StateStopped)
		return nil
	}

	close(w.stopping)
	<-w.done

	w.state.set(StateStopped)
	w.logger.Info("parser worker stopped")
	return nil
}

func (w *ParserWorker) run(ctx context.Context) {
	defer close(w.done)

	for {
		select {
		case <-w.stopping:
			return
		default:
		}

		rec, err := w.in.Get(ctx, w.getTimeout)
		if err != nil {
			if errors.Is(err, core.ErrTimeout) {
				continue
			}
			if errors.Is(err, core.ErrStopped) {
				return
			}
			w.monitor.StageError("parse", err)
			w.logger.Error("dequeue failed", "error", err)
			continue
		}

		count := 0
		for doc := range w.parser.Parse(rec.Content, rec.Metadata) {
			if err := w.out.Put(ctx, doc); err != nil {
				if errors.Is(err, core.ErrStopped) {
					return
				}
				w.monitor.StageError("parse", err)
				w.logger.Error("enqueue failed", "error", err, "id", doc.ID)
				continue
			}
			count++
		}

		w.monitor.DocumentsParsed(count)
		w.logger.Debug("record parsed",
			"locator", rec.Metadata.Locator(),
			"documents", count)
	}
}
