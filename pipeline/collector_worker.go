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

	"github.com/nkbud/terraform-index/collector"
	"github.com/nkbud/terraform-index/core"
	"github.com/nkbud/terraform-index/queue"
)

// CollectorWorker owns a collector and pumps its record sequence into the
// raw-record queue. The collector's lifecycle is bound to the worker's: the
// worker starts it on Start and stops it on Stop.
type CollectorWorker struct {
	collector collector.Collector
	out       queue.Queue[*core.RawRecord]
	monitor   Monitor
	logger    *slog.Logger

	state  workerState
	cancel context.CancelFunc
	done   chan struct{}
}

// NewCollectorWorker creates the worker. A nil monitor gets the no-op
// implementation.
func NewCollectorWorker(col collector.Collector, out queue.Queue[*core.RawRecord], monitor Monitor, logger *slog.Logger) *CollectorWorker {
	if monitor == nil {
		monitor = &noopMonitor{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CollectorWorker{
		collector: col,
		out:       out,
		monitor:   monitor,
		logger:    logger.With("worker", "collector", "source", col.Name()),
	}
}

// State reports the worker's lifecycle phase.
func (w *CollectorWorker) State() State {
	return w.state.get()
}

// Start brings up the collector and begins pumping records until Stop or
// ctx cancellation.
func (w *CollectorWorker) Start(ctx context.Context) error {
	if !w.state.transition(StateIdle, StateRunning) {
		return ErrAlreadyStarted
	}

	if err := w.collector.Start(ctx); err != nil {
		w.state.set(StateIdle)
		return fmt.Errorf("starting collector %s: %w", w.collector.Name(), err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	w.cancel = cancel
	w.done = make(chan struct{})

	go w.run(runCtx)

	w.logger.Info("collector worker started")
	return nil
}

// Stop ends the pump and stops the collector. Idempotent; safe to call from
// any state.
func (w *CollectorWorker) Stop() error {
	if !w.state.transition(StateRunning, StateStopping) {
		w.state.transition(StateIdle, StateStopped)
		return nil
	}

	w.cancel()
	<-w.done

	err := w.collector.Stop()
	w.state.set(StateStopped)
	w.logger.Info("collector worker stopped")
	return err
}

func (w *CollectorWorker) run(ctx context.Context) {
	defer close(w.done)

	for rec := range w.collector.Collect(ctx) {
		if err := w.out.Put(ctx, rec); err != nil {
			if errors.Is(err, core.ErrStopped) || ctx.Err() != nil {
				return
			}
			w.monitor.StageError("collect", err)
			w.logger.Error("enqueue failed", "error", err, "locator", rec.Metadata.Locator())
			continue
		}
		w.monitor.RecordCollected(rec.Metadata.SourceType)
		w.logger.Debug("record enqueued", "locator", rec.Metadata.Locator())
	}
}
