// Package pipeline wires collectors, queues, the parser, and the sink into
// running workers. Each worker owns one stage: the collector worker pumps
// raw records into the raw queue, the parser worker turns raw records into
// flattened documents, and the uploader worker delivers documents to the
// sink. Workers share a Monitor for observability.
package pipeline
