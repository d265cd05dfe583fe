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

package terraformindex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nkbud/terraform-index/collector"
	"github.com/nkbud/terraform-index/core"
	"github.com/nkbud/terraform-index/parser"
	"github.com/nkbud/terraform-index/pipeline"
	"github.com/nkbud/terraform-index/queue"
	"github.com/nkbud/terraform-index/server"
	"github.com/nkbud/terraform-index/sink"
)

// Queue backends selectable by Config.QueueBackend.
const (
	QueueMemory = "memory"
	QueueBadger = "badger"
	QueueAMQP   = "amqp"
)

// Config assembles an Indexer. Zero values select the memory queue, every
// source disabled, and sink defaults; at least one source must be enabled.
type Config struct {
	// Mode is a deployment label ("local", "cloud") surfaced by the admin
	// server. It does not change behavior.
	Mode string

	FilesystemEnabled        bool
	FilesystemWatchDirectory string
	FilesystemPollInterval   time.Duration
	FilesystemRecursive      bool

	S3Enabled         bool
	S3Endpoint        string
	S3Buckets         []string
	S3Prefix          string
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3UseSSL          bool
	S3PollInterval    time.Duration

	KubernetesEnabled       bool
	KubernetesClusters      []collector.ClusterConfig
	KubernetesLabelSelector string
	KubernetesNamePattern   string
	KubernetesPollInterval  time.Duration

	// QueueBackend selects the queue implementation for both pipeline
	// stages: QueueMemory (default), QueueBadger, or QueueAMQP.
	QueueBackend string

	// QueueCapacity bounds the memory backend. 0 is unbounded.
	QueueCapacity int

	// QueuePath is the badger backend's base data directory. Each pipeline
	// queue opens its own subdirectory beneath it.
	QueuePath string

	// QueueURL is the AMQP backend's broker URL.
	QueueURL string

	ElasticsearchAddresses []string
	ElasticsearchIndex     string
	SinkBatchSize          int
	SinkBatchTimeout       time.Duration

	// ServerAddr is the admin server listen address. Empty disables it.
	ServerAddr string

	// Registry receives pipeline metrics. Nil uses the process-global
	// registry.
	Registry *prometheus.Registry

	Logger *slog.Logger
}

// Indexer owns the full pipeline: a composite collector feeding a raw-record
// queue, a parser worker feeding a document queue, and an uploader feeding
// the search index, plus the optional admin server.
type Indexer struct {
	cfg    Config
	logger *slog.Logger

	rawQueue queue.Queue[*core.RawRecord]
	docQueue queue.Queue[*core.FlatRecord]

	collectorWorker *pipeline.CollectorWorker
	parserWorker    *pipeline.ParserWorker
	uploaderWorker  *pipeline.UploaderWorker

	sink   sink.Sink
	server *server.Server

	started bool
}

// New builds an Indexer from cfg. Construction wires everything but opens
// no connections; Start does.
func New(cfg Config) (*Indexer, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	collectors, err := buildCollectors(cfg, logger)
	if err != nil {
		return nil, err
	}
	if len(collectors) == 0 {
		return nil, ErrNoSources
	}

	composite, err := collector.NewComposite(collectors, collector.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("building composite collector: %w", err)
	}

	rawQueue, err := buildQueue[*core.RawRecord](cfg, "raw", logger)
	if err != nil {
		return nil, err
	}
	docQueue, err := buildQueue[*core.FlatRecord](cfg, "documents", logger)
	if err != nil {
		return nil, err
	}

	esSink, err := sink.NewElasticsearch(sink.ElasticsearchConfig{
		Addresses:    cfg.ElasticsearchAddresses,
		Index:        cfg.ElasticsearchIndex,
		BatchSize:    cfg.SinkBatchSize,
		BatchTimeout: cfg.SinkBatchTimeout,
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("building sink: %w", err)
	}

	var registerer prometheus.Registerer = prometheus.DefaultRegisterer
	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	if cfg.Registry != nil {
		registerer = cfg.Registry
		gatherer = cfg.Registry
	}
	monitor := pipeline.NewMetrics(registerer)

	idx := &Indexer{
		cfg:             cfg,
		logger:          logger,
		rawQueue:        rawQueue,
		docQueue:        docQueue,
		sink:            esSink,
		collectorWorker: pipeline.NewCollectorWorker(composite, rawQueue, monitor, logger),
		parserWorker:    pipeline.NewParserWorker(rawQueue, docQueue, parser.New(), monitor, logger),
		uploaderWorker:  pipeline.NewUploaderWorker(docQueue, esSink, monitor, logger),
	}

	if cfg.ServerAddr != "" {
		idx.server = server.New(server.Config{
			Addr:          cfg.ServerAddr,
			Mode:          cfg.Mode,
			RawQueue:      rawQueue,
			DocumentQueue: docQueue,
			Sink:          esSink,
			Gatherer:      gatherer,
			Logger:        logger,
		})
	}

	return idx, nil
}

// Start brings the pipeline up in dependency order: queues, sink and
// uploader, parser, collectors, then the admin server. A failure tears down
// what already started.
func (idx *Indexer) Start(ctx context.Context) error {
	if idx.started {
		return pipeline.ErrAlreadyStarted
	}

	if err := idx.rawQueue.Start(ctx); err != nil {
		return fmt.Errorf("starting raw queue: %w", err)
	}
	if err := idx.docQueue.Start(ctx); err != nil {
		idx.rawQueue.Stop()
		return fmt.Errorf("starting document queue: %w", err)
	}

	if err := idx.uploaderWorker.Start(ctx); err != nil {
		idx.docQueue.Stop()
		idx.rawQueue.Stop()
		return err
	}
	if err := idx.parserWorker.Start(ctx); err != nil {
		idx.uploaderWorker.Stop(ctx)
		idx.docQueue.Stop()
		idx.rawQueue.Stop()
		return err
	}
	if err := idx.collectorWorker.Start(ctx); err != nil {
		idx.parserWorker.Stop()
		idx.uploaderWorker.Stop(ctx)
		idx.docQueue.Stop()
		idx.rawQueue.Stop()
		return err
	}

	if idx.server != nil {
		if err := idx.server.Start(ctx); err != nil {
			idx.Stop(ctx)
			return err
		}
	}

	idx.started = true
	idx.logger.Info("indexer started", "mode", idx.cfg.Mode)
	return nil
}

// Stop tears the pipeline down source-first so in-flight records drain
// forward: collectors, parser, uploader (which flushes the sink), server,
// queues. Idempotent.
func (idx *Indexer) Stop(ctx context.Context) error {
	var errs []error

	if err := idx.collectorWorker.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stopping collectors: %w", err))
	}
	if err := idx.parserWorker.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stopping parser: %w", err))
	}
	if err := idx.uploaderWorker.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stopping uploader: %w", err))
	}
	if idx.server != nil {
		if err := idx.server.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stopping server: %w", err))
		}
	}
	if err := idx.docQueue.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stopping document queue: %w", err))
	}
	if err := idx.rawQueue.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stopping raw queue: %w", err))
	}

	idx.started = false
	if len(errs) == 0 {
		idx.logger.Info("indexer stopped")
	}
	return errors.Join(errs...)
}

// Sink exposes the search index for queries.
func (idx *Indexer) Sink() sink.Sink {
	return idx.sink
}

// ServerAddr returns the admin server's bound address, or "" when the
// server is disabled.
func (idx *Indexer) ServerAddr() string {
	if idx.server == nil {
		return ""
	}
	return idx.server.Addr()
}

func buildCollectors(cfg Config, logger *slog.Logger) ([]collector.Collector, error) {
	var collectors []collector.Collector

	if cfg.FilesystemEnabled {
		collectors = append(collectors, collector.NewFilesystem(collector.FilesystemConfig{
			WatchDirectory: cfg.FilesystemWatchDirectory,
			PollInterval:   cfg.FilesystemPollInterval,
			Recursive:      cfg.FilesystemRecursive,
			Logger:         logger,
		}))
	}

	if cfg.S3Enabled {
		for _, bucket := range cfg.S3Buckets {
			s3, err := collector.NewS3(collector.S3Config{
				Endpoint:        cfg.S3Endpoint,
				Bucket:          bucket,
				Prefix:          cfg.S3Prefix,
				AccessKeyID:     cfg.S3AccessKeyID,
				SecretAccessKey: cfg.S3SecretAccessKey,
				UseSSL:          cfg.S3UseSSL,
				PollInterval:    cfg.S3PollInterval,
				Logger:          logger,
			})
			if err != nil {
				return nil, fmt.Errorf("building s3 collector for %s: %w", bucket, err)
			}
			collectors = append(collectors, s3)
		}
	}

	if cfg.KubernetesEnabled {
		collectors = append(collectors, collector.NewKubernetes(collector.KubernetesConfig{
			Clusters:      cfg.KubernetesClusters,
			LabelSelector: cfg.KubernetesLabelSelector,
			NamePattern:   cfg.KubernetesNamePattern,
			PollInterval:  cfg.KubernetesPollInterval,
			Logger:        logger,
		}))
	}

	return collectors, nil
}

func buildQueue[T any](cfg Config, name string, logger *slog.Logger) (queue.Queue[T], error) {
	switch cfg.QueueBackend {
	case "", QueueMemory:
		return queue.NewMemory[T](cfg.QueueCapacity), nil
	case QueueBadger:
		// Badger holds an exclusive lock per directory, so each queue gets
		// its own subdirectory under the configured path.
		return queue.NewBadger[T](queue.BadgerConfig{
			Path:   filepath.Join(cfg.QueuePath, name),
			Name:   name,
			Logger: logger,
		}), nil
	case QueueAMQP:
		return queue.NewAMQP[T](queue.AMQPConfig{
			URL:    cfg.QueueURL,
			Queue:  "terraform-index-" + name,
			Logger: logger,
		}), nil
	}
	return nil, fmt.Errorf("unknown queue backend %q", cfg.QueueBackend)
}
