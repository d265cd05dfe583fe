// Package core defines the domain model shared by every pipeline stage:
// RawRecord (a collected state document plus provenance), SourceMetadata
// (discriminated by source type), FlatRecord (a normalized resource instance
// ready for indexing), deterministic document ids, and the error taxonomy the
// stages use to distinguish connection, parse, timeout, and transport
// failures.
package core
