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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nkbud/terraform-index/core"
)

// Metrics is a Monitor backed by Prometheus counters.
type Metrics struct {
	collected *prometheus.CounterVec
	parsed    prometheus.Counter
	indexed   prometheus.Counter
	errors    *prometheus.CounterVec
}

var _ Monitor = (*Metrics)(nil)

// NewMetrics registers the pipeline counters with reg and returns the
// Monitor. Pass prometheus.DefaultRegisterer for the process-global
// registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		collected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "terraform_index_records_collected_total",
			Help: "State documents collected, by source type.",
		}, []string{"source_type"}),
		parsed: factory.NewCounter(prometheus.CounterOpts{
			Name: "terraform_index_documents_parsed_total",
			Help: "Flattened resource documents produced by the parser.",
		}),
		indexed: factory.NewCounter(prometheus.CounterOpts{
			Name: "terraform_index_documents_indexed_total",
			Help: "Documents handed to the sink.",
		}),
		errors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "terraform_index_pipeline_errors_total",
			Help: "Stage errors, by pipeline stage.",
		}, []string{"stage"}),
	}
}

func (m *Metrics) RecordCollected(source core.SourceType) {
	m.collected.WithLabelValues(source.String()).Inc()
}

func (m *Metrics) DocumentsParsed(count int) {
	m.parsed.Add(float64(count))
}

func (m *Metrics) DocumentIndexed() {
	m.indexed.Inc()
}

func (m *Metrics) StageError(stage string, _ error) {
	m.errors.WithLabelValues(stage).Inc()
}
