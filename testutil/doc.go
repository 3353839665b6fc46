// Package testutil provides testing utilities for sindi.
//
// This package is intended for use in tests and benchmarks only.
// It provides helpers for generating random sparse vectors, computing
// exact top-k results, and verifying search recall.
//
// # Random Vector Generation
//
//	rng := testutil.NewRNG(seed)
//	vecs := rng.SparseVectors(1000, 8, 30000)      // uniform term ids
//	vecs := rng.ZipfSparseVectors(1000, 8, 30000)  // power-law term ids
//
// # Exact Search (Ground Truth)
//
//	truth := testutil.BruteForceTopK(vecs, query, k)
//
// # Recall Verification
//
//	recall := testutil.ComputeRecall(truth, approx)
package testutil
