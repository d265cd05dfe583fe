// Package collector provides the pluggable source side of the pipeline.
//
// A Collector polls one source of Terraform state documents (a local
// directory, an object-store bucket, or Kubernetes secrets), filters
// candidates with a source-specific matcher, suppresses re-delivery with a
// per-collector in-memory seen-set, and yields each new document as a
// core.RawRecord. The Composite collector fans any number of sources into a
// single arrival-ordered sequence and owns their lifecycle.
//
// Seen-sets are memory resident only; restarting the process forgets history
// and causes one full re-scan re-delivery. Downstream ids are deterministic,
// so the re-delivery overwrites rather than duplicates.
package collector
