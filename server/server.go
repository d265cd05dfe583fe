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

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nkbud/terraform-index/sink"
)

// QueueSizer is the read-only queue view the stats endpoint needs.
type QueueSizer interface {
	Size(ctx context.Context) int
}

// Config configures the admin server.
type Config struct {
	// Addr is the listen address, e.g. ":8000". Use ":0" for an ephemeral
	// port.
	Addr string

	// Mode is reported by the health and stats endpoints ("all",
	// "collector", "parser", "uploader").
	Mode string

	// RawQueue and DocumentQueue feed the stats endpoint. Either may be
	// nil when the process does not run that stage.
	RawQueue      QueueSizer
	DocumentQueue QueueSizer

	// Sink serves /search and contributes index stats. May be nil.
	Sink sink.Sink

	// Gatherer backs /metrics. Defaults to the process-global registry.
	Gatherer prometheus.Gatherer

	Logger *slog.Logger
}

// Server exposes the admin HTTP surface: health, stats, search passthrough,
// and Prometheus metrics.
type Server struct {
	cfg    Config
	logger *slog.Logger

	listener net.Listener
	httpSrv  *http.Server
}

// New creates the server. It does not listen until Start.
func New(cfg Config) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8000"
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Server{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "server"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleHealth)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("POST /search", s.handleSearch)
	mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))

	s.httpSrv = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start binds the listen address and serves in the background.
func (s *Server) Start(_ context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Addr, err)
	}
	s.listener = ln

	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("server failed", "error", err)
		}
	}()

	s.logger.Info("admin server listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound address. Valid after Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.cfg.Addr
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down, waiting for in-flight requests up to the
// context deadline.
func (s *Server) Stop(ctx context.Context) error {
	if s.listener == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "terraform-index",
		"mode":    s.cfg.Mode,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	stats := map[string]any{
		"mode":   s.cfg.Mode,
		"queues": map[string]any{},
	}

	queues := map[string]any{}
	if s.cfg.RawQueue != nil {
		queues["raw_queue_size"] = s.cfg.RawQueue.Size(ctx)
	}
	if s.cfg.DocumentQueue != nil {
		queues["document_queue_size"] = s.cfg.DocumentQueue.Size(ctx)
	}
	stats["queues"] = queues

	if s.cfg.Sink != nil {
		if sinkStats, err := s.cfg.Sink.Stats(ctx); err != nil {
			stats["sink_error"] = err.Error()
		} else {
			stats["sink"] = sinkStats
		}
	}

	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Sink == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"error": "search is not available in this mode",
		})
		return
	}

	var query map[string]any
	if err := json.NewDecoder(r.Body).Decode(&query); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": fmt.Sprintf("invalid query: %v", err),
		})
		return
	}

	result, err := s.cfg.Sink.Search(r.Context(), query)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
