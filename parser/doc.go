// Package parser implements the pure transform from a raw Terraform state
// document to a lazy sequence of flattened, indexable records. Flattening is
// depth-capped to bound worst-case work per document regardless of how the
// input nests.
package parser
