// Package terraformindex ingests Terraform state documents from filesystem,
// object-store, and Kubernetes sources, flattens every resource instance
// into a searchable document, and indexes the documents into Elasticsearch.
//
// The root package is the assembly point: Config describes a deployment and
// Indexer runs the collectors, queues, workers, sink, and admin server as
// one unit. The stage packages (collector, queue, parser, pipeline, sink,
// server) are usable on their own.
package terraformindex
