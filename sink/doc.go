// Package sink delivers flattened records to a search index. The one
// production implementation targets Elasticsearch with batched bulk writes;
// tests swap in fakes behind the Sink interface.
package sink
