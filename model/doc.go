// Package model defines core types shared across the sindi packages.
//
// # Identity Types
//
//   - Label: Externally meaningful document identifier (uint64)
//   - DocID: Dense, internally assigned document identifier (uint32)
//
// # Data Types
//
//   - SparseVector: Non-zero (term, value) pairs of a sparse embedding
//   - Candidate: Internal scoring result (DocID, inner-product score)
//   - Result: User-facing search result (Label, distance)
//
// Internal ids are allocated monotonically at insertion and never reused.
// Labels and ids are mapped by the labeltable package.
package model
