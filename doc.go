// Package sindi provides an approximate-nearest-neighbor search engine for
// high-dimensional sparse vectors using inner-product similarity.
//
// Sindi serves retrieval workloads such as sparse text embeddings
// (TF-IDF/BM25-style) where dense-vector ANN structures are a poor fit
// because most coordinates are zero. Documents partition into fixed-size
// windows of inverted lists; queries score candidates term by term and a
// bounded heap keeps the best. An optional reorder pass recomputes exact
// inner products for the surviving candidates.
//
// # Quick Start
//
//	idx, _ := sindi.Sparse(128).
//	    TermIDLimit(30000).
//	    DocPruneRatio(0.1).
//	    Reorder().
//	    Build()
//
//	ctx := context.Background()
//	_ = idx.Insert(ctx, 42, model.SparseVector{
//	    Terms:  []uint32{2, 5},
//	    Values: []float32{0.9, 0.1},
//	})
//
//	results, _ := idx.Search(query).KNN(10).Execute(ctx)
//	for _, r := range results {
//	    fmt.Println(r.Label, r.Distance) // distance = 1 - inner product
//	}
//
// # Accuracy vs. Cost
//
// Three pruning knobs trade recall for speed and memory:
//
//   - DocPruneRatio drops a document's smallest-magnitude terms at insert.
//   - QueryPruneRatio drops the query's smallest-magnitude terms.
//   - TermPruneRatio scans only the largest-magnitude prefix of each
//     posting list.
//
// Quantization() stores posting values as uint8 codes, and Reorder()
// recovers the accuracy lost to pruning and quantization by exact
// rescoring over a candidate pool sized with NCandidate.
//
// # Key Features
//
//   - Windowed inverted lists with per-window concurrency
//   - Logical deletion with tombstones, duplicate-label grouping
//   - Snapshot persistence with CRC32 integrity and LZ4/ZSTD compression
//   - Memory, search-concurrency and IO limits via resource.Controller
package sindi
