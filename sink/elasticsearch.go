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

package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	elasticsearch "github.com/elastic/go-elasticsearch/v8"

	"github.com/nkbud/terraform-index/core"
)

const (
	// DefaultIndex is the index documents land in unless configured
	// otherwise.
	DefaultIndex = "terraform-resources"

	// DefaultBatchSize triggers a flush once this many documents are
	// buffered.
	DefaultBatchSize = 100

	// DefaultBatchTimeout triggers a flush on the next IndexDocument call
	// once this much time has passed since the previous flush.
	DefaultBatchTimeout = 10 * time.Second
)

// indexMapping types the fixed fields; the verbatim attribute tree is stored
// but not indexed, and flattened attr_* keys are left to dynamic mapping.
const indexMapping = `{
  "mappings": {
    "properties": {
      "id": {"type": "keyword"},
      "state_version": {"type": "integer"},
      "terraform_version": {"type": "keyword"},
      "resource_type": {"type": "keyword"},
      "resource_name": {"type": "keyword"},
      "resource_mode": {"type": "keyword"},
      "provider": {"type": "keyword"},
      "instance_index": {"type": "integer"},
      "source_type": {"type": "keyword"},
      "source_path": {"type": "keyword"},
      "source_bucket": {"type": "keyword"},
      "source_key": {"type": "keyword"},
      "source_cluster": {"type": "keyword"},
      "source_namespace": {"type": "keyword"},
      "source_secret_name": {"type": "keyword"},
      "source_last_modified": {"type": "date"},
      "collected_at": {"type": "date"},
      "indexed_at": {"type": "date"},
      "attributes": {"type": "object", "enabled": false}
    }
  },
  "settings": {
    "number_of_shards": 1,
    "number_of_replicas": 0
  }
}`

// ElasticsearchConfig configures an Elasticsearch sink.
type ElasticsearchConfig struct {
	// Addresses lists cluster node URLs. Defaults to the client library's
	// default (http://localhost:9200).
	Addresses []string

	// Index is the target index name.
	Index string

	// BatchSize is the buffered-document count that forces a flush.
	BatchSize int

	// BatchTimeout is the max age of the buffer before the next
	// IndexDocument call forces a flush.
	BatchTimeout time.Duration

	Logger *slog.Logger
}

// Elasticsearch batches FlatRecords and writes them with the bulk API. It is
// safe for concurrent use; in the pipeline a single uploader owns it.
type Elasticsearch struct {
	cfg    ElasticsearchConfig
	client *elasticsearch.Client
	logger *slog.Logger

	mu        sync.Mutex
	batch     []*core.FlatRecord
	lastFlush time.Time
	started   bool
}

// NewElasticsearch creates the sink and its client. No connection is made
// until Start.
func NewElasticsearch(cfg ElasticsearchConfig) (*Elasticsearch, error) {
	if cfg.Index == "" {
		cfg.Index = DefaultIndex
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = DefaultBatchTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
	})
	if err != nil {
		return nil, fmt.Errorf("creating elasticsearch client: %w", err)
	}

	return &Elasticsearch{
		cfg:    cfg,
		client: client,
		logger: cfg.Logger.With("component", "sink", "index", cfg.Index),
	}, nil
}

// Start pings the cluster and creates the index if it does not exist.
func (s *Elasticsearch) Start(ctx context.Context) error {
	res, err := s.client.Ping(s.client.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("%w: pinging elasticsearch: %v", core.ErrConnection, err)
	}
	res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("%w: elasticsearch ping returned %s", core.ErrConnection, res.Status())
	}

	if err := s.ensureIndex(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	s.started = true
	s.lastFlush = time.Now()
	s.mu.Unlock()

	s.logger.Info("sink started")
	return nil
}

// Stop flushes the remaining buffer. Idempotent.
func (s *Elasticsearch) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	s.mu.Unlock()

	stats, err := s.Flush(ctx)
	if err != nil {
		return err
	}
	s.logger.Info("sink stopped", "indexed", stats.Indexed, "failed", stats.Failed)
	return nil
}

// IndexDocument buffers doc and flushes when the batch is full or stale.
func (s *Elasticsearch) IndexDocument(ctx context.Context, doc *core.FlatRecord) error {
	s.mu.Lock()
	s.batch = append(s.batch, doc)
	shouldFlush := len(s.batch) >= s.cfg.BatchSize ||
		time.Since(s.lastFlush) >= s.cfg.BatchTimeout
	s.mu.Unlock()

	if shouldFlush {
		if _, err := s.Flush(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Flush bulk-writes the current buffer. Per-document failures are counted
// and logged, not returned: one poison document must not fail its batch.
func (s *Elasticsearch) Flush(ctx context.Context) (FlushStats, error) {
	s.mu.Lock()
	batch := s.batch
	s.batch = nil
	s.lastFlush = time.Now()
	s.mu.Unlock()

	if len(batch) == 0 {
		return FlushStats{}, nil
	}

	var body bytes.Buffer
	for _, doc := range batch {
		action, err := json.Marshal(map[string]any{
			"index": map[string]any{"_index": s.cfg.Index, "_id": doc.ID},
		})
		if err != nil {
			return FlushStats{}, fmt.Errorf("encoding bulk action: %w", err)
		}
		source, err := json.Marshal(doc)
		if err != nil {
			return FlushStats{}, fmt.Errorf("encoding document %s: %w", doc.ID, err)
		}
		body.Write(action)
		body.WriteByte('\n')
		body.Write(source)
		body.WriteByte('\n')
	}

	res, err := s.client.Bulk(bytes.NewReader(body.Bytes()),
		s.client.Bulk.WithContext(ctx),
		s.client.Bulk.WithRefresh("true"),
	)
	if err != nil {
		return FlushStats{}, fmt.Errorf("%w: bulk request: %v", core.ErrTransport, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return FlushStats{}, fmt.Errorf("%w: bulk request returned %s", core.ErrTransport, res.Status())
	}

	var bulkRes struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			Status int            `json:"status"`
			Error  map[string]any `json:"error"`
		} `json:"items"`
	}
	if err := json.NewDecoder(res.Body).Decode(&bulkRes); err != nil {
		return FlushStats{}, fmt.Errorf("decoding bulk response: %w", err)
	}

	stats := FlushStats{Indexed: len(batch)}
	if bulkRes.Errors {
		for i, item := range bulkRes.Items {
			for _, result := range item {
				if result.Status >= 300 || result.Error != nil {
					stats.Indexed--
					stats.Failed++
					if i < len(batch) {
						s.logger.Warn("document rejected",
							"id", batch[i].ID,
							"status", result.Status,
							"error", result.Error)
					}
				}
			}
		}
	}

	s.logger.Debug("flushed batch", "indexed", stats.Indexed, "failed", stats.Failed)
	return stats, nil
}

// Search runs query against the index and returns the decoded response.
func (s *Elasticsearch) Search(ctx context.Context, query map[string]any) (map[string]any, error) {
	body, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("encoding query: %w", err)
	}

	res, err := s.client.Search(
		s.client.Search.WithContext(ctx),
		s.client.Search.WithIndex(s.cfg.Index),
		s.client.Search.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: search request: %v", core.ErrTransport, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("%w: search returned %s", core.ErrTransport, res.Status())
	}

	var out map[string]any
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}
	return out, nil
}

// Stats returns index statistics from the cluster.
func (s *Elasticsearch) Stats(ctx context.Context) (map[string]any, error) {
	res, err := s.client.Indices.Stats(
		s.client.Indices.Stats.WithContext(ctx),
		s.client.Indices.Stats.WithIndex(s.cfg.Index),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: stats request: %v", core.ErrTransport, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("%w: stats returned %s", core.ErrTransport, res.Status())
	}

	var out map[string]any
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding stats response: %w", err)
	}
	return out, nil
}

func (s *Elasticsearch) ensureIndex(ctx context.Context) error {
	res, err := s.client.Indices.Exists([]string{s.cfg.Index},
		s.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("%w: checking index: %v", core.ErrConnection, err)
	}
	res.Body.Close()

	if res.StatusCode == 200 {
		return nil
	}

	created, err := s.client.Indices.Create(s.cfg.Index,
		s.client.Indices.Create.WithContext(ctx),
		s.client.Indices.Create.WithBody(bytes.NewReader([]byte(indexMapping))),
	)
	if err != nil {
		return fmt.Errorf("%w: creating index: %v", core.ErrConnection, err)
	}
	defer created.Body.Close()
	if created.IsError() {
		return fmt.Errorf("%w: index creation returned %s", core.ErrTransport, created.Status())
	}

	s.logger.Info("created index")
	return nil
}
