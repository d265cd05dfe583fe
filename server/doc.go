// Package server exposes the admin HTTP surface of a running indexer:
// health, queue and index statistics, a search passthrough to the sink, and
// Prometheus metrics.
package server
