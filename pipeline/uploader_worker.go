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
	"fmt"
	"log/slog"
	"time"

	"github.com/nkbud/terraform-index/core"
	"github.com/nkbud/terraform-index/queue"
	"github.com/nkbud/terraform-index/sink"
)

// UploaderWorker owns the sink and feeds it flattened documents from the
// document queue. Stopping the worker stops the pump first and the sink
// second, so the sink's final flush sees every document the pump delivered.
type UploaderWorker struct {
	in      queue.Queue[*core.FlatRecord]
	sink    sink.Sink
	monitor Monitor
	logger  *slog.Logger

	getTimeout time.Duration

	state    workerState
	stopping chan struct{}
	done     chan struct{}
}

// NewUploaderWorker creates the worker. A nil monitor gets the no-op
// implementation.
func NewUploaderWorker(in queue.Queue[*core.FlatRecord], s sink.Sink, monitor Monitor, logger *slog.Logger) *UploaderWorker {
	if monitor == nil {
		monitor = &noopMonitor{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &UploaderWorker{
		in:         in,
		sink:       s,
		monitor:    monitor,
		logger:     logger.With("worker", "uploader"),
		getTimeout: queue.DefaultGetTimeout,
	}
}

// State reports the worker's lifecycle phase.
func (w *UploaderWorker) State() State {
	return w.state.get()
}

// Start brings up the sink and begins the drain loop.
func (w *UploaderWorker) Start(ctx context.Context) error {
	if !w.state.transition(StateIdle, StateRunning) {
		return ErrAlreadyStarted
	}

	if err := w.sink.Start(ctx); err != nil {
		w.state.set(StateIdle)
		return fmt.Errorf("starting sink: %w", err)
	}

	w.stopping = make(chan struct{})
	w.done = make(chan struct{})

	go w.run(context.WithoutCancel(ctx))

	w.logger.Info("uploader worker started")
	return nil
}

// Stop ends the pump, then stops the sink, which flushes any batched
// documents. Idempotent.
func (w *UploaderWorker) Stop(ctx context.Context) error {
	if !w.state.transition(StateRunning, StateStopping) {
		w.state.transition(StateIdle, StateStopped)
		return nil
	}

	close(w.stopping)
	<-w.done

	err := w.sink.Stop(ctx)
	w.state.set(StateStopped)
	w.logger.Info("uploader worker stopped")
	return err
}

func (w *UploaderWorker) run(ctx context.Context) {
	defer close(w.done)

	for {
		select {
		case <-w.stopping:
			return
		default:
		}

		doc, err := w.in.Get(ctx, w.getTimeout)
		if err != nil {
			if errors.Is(err, core.ErrTimeout) {
				continue
			}
			if errors.Is(err, core.ErrStopped) {
				return
			}
			w.monitor.StageError("upload", err)
			w.logger.Error("dequeue failed", "error", err)
			continue
		}

		if err := w.sink.IndexDocument(ctx, doc); err != nil {
			w.monitor.StageError("upload", err)
			w.logger.Error("index failed", "error", err, "id", doc.ID)
			continue
		}
		w.monitor.DocumentIndexed()
	}
}
