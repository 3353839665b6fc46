// Package sindi provides an approximate-nearest-neighbor search index for
// high-dimensional sparse vectors using inner-product similarity.
//
// This file implements the fluent builder API for creating and configuring
// Index instances. The builder is immutable - each method returns a new
// builder with the updated configuration.
package sindi

import (
	"fmt"
	"math"

	"github.com/hupe1980/sindi/persistence"
	"github.com/hupe1980/sindi/resource"
)

// Build-time parameter bounds and defaults.
const (
	// DefaultTermIDLimit is the default exclusive upper bound on term ids.
	DefaultTermIDLimit = 1_000_000

	// MinWindowSize and MaxWindowSize bound the documents-per-window
	// count so local ids always fit in 16 bits.
	MinWindowSize = 10_000
	MaxWindowSize = 60_000

	// DefaultWindowSize is the default documents-per-window count.
	DefaultWindowSize = 50_000

	// MaxDocPruneRatio caps insert-time document pruning.
	MaxDocPruneRatio = 0.5

	// DefaultAvgDocTermLength is the default expected non-zero pairs per
	// document, used only for memory estimation.
	DefaultAvgDocTermLength = 100
)

// Sparse creates a new index builder with the specified dimension, the
// maximum number of non-zero pairs per vector. The similarity metric is
// inner product; distances are reported as 1 - inner_product.
//
// The builder is immutable - each method returns a new builder with the
// updated configuration.
//
// Example:
//
//	idx, err := sindi.Sparse(128).
//	    TermIDLimit(30000).
//	    WindowSize(10000).
//	    DocPruneRatio(0.1).
//	    Reorder().
//	    Build()
func Sparse(dim int) Builder {
	return Builder{
		dim:              dim,
		termIDLimit:      DefaultTermIDLimit,
		windowSize:       DefaultWindowSize,
		avgDocTermLength: DefaultAvgDocTermLength,
		compression:      persistence.CompressionNone,
	}
}

// Builder is an immutable fluent builder for creating Index instances.
// Each method returns a new builder with the updated configuration.
type Builder struct {
	dim              int
	termIDLimit      int
	windowSize       int
	docPruneRatio    float64
	useReorder       bool
	useQuantization  bool
	dupCompression   bool
	avgDocTermLength int
	compression      persistence.Compression
	logger           *Logger
	metrics          MetricsCollector
	resources        *resource.Controller
}

// TermIDLimit sets the exclusive upper bound on term ids.
// Default: 1,000,000.
func (b Builder) TermIDLimit(limit int) Builder {
	b.termIDLimit = limit
	return b
}

// WindowSize sets the number of consecutive internal ids per window.
// Smaller windows parallelize better; larger windows amortize posting
// overhead. Default: 50000. Valid range: [10000, 60000].
func (b Builder) WindowSize(size int) Builder {
	b.windowSize = size
	return b
}

// DocPruneRatio sets the fraction of a document's smallest-magnitude pairs
// dropped at insert time. Trades recall for memory and speed.
// Default: 0. Valid range: [0, 0.5].
func (b Builder) DocPruneRatio(ratio float64) Builder {
	b.docPruneRatio = ratio
	return b
}

// Reorder enables the exact rescoring pass. The index keeps an unpruned,
// unquantized copy of every vector and recomputes exact inner products for
// the approximate candidate set of each query.
func (b Builder) Reorder() Builder {
	b.useReorder = true
	return b
}

// Quantization enables uint8 value quantization inside posting lists,
// roughly quartering posting memory at a small accuracy cost.
func (b Builder) Quantization() Builder {
	b.useQuantization = true
	return b
}

// DuplicateCompression enables grouping of internal ids that share one
// label value.
func (b Builder) DuplicateCompression() Builder {
	b.dupCompression = true
	return b
}

// AvgDocTermLength sets the expected non-zero pairs per document, used by
// EstimateMemory. Default: 100.
func (b Builder) AvgDocTermLength(n int) Builder {
	b.avgDocTermLength = n
	return b
}

// Compression sets the snapshot body compression algorithm.
// Default: none.
func (b Builder) Compression(c persistence.Compression) Builder {
	b.compression = c
	return b
}

// Logger sets the structured logger for operation tracing.
func (b Builder) Logger(l *Logger) Builder {
	b.logger = l
	return b
}

// Metrics sets the metrics collector for monitoring.
func (b Builder) Metrics(mc MetricsCollector) Builder {
	b.metrics = mc
	return b
}

// Resources sets the resource controller used for memory accounting,
// search concurrency and IO throttling.
func (b Builder) Resources(rc *resource.Controller) Builder {
	b.resources = rc
	return b
}

func (b Builder) validate() error {
	if b.dim <= 0 {
		return fmt.Errorf("%w: dim must be positive, got %d", ErrInvalidArgument, b.dim)
	}

	if b.termIDLimit <= 0 {
		return fmt.Errorf("%w: term id limit must be positive, got %d", ErrInvalidArgument, b.termIDLimit)
	}

	if b.windowSize < MinWindowSize || b.windowSize > MaxWindowSize {
		return fmt.Errorf("%w: window size %d outside [%d, %d]", ErrInvalidArgument, b.windowSize, MinWindowSize, MaxWindowSize)
	}

	if b.docPruneRatio < 0 || b.docPruneRatio > MaxDocPruneRatio {
		return fmt.Errorf("%w: doc prune ratio %v outside [0, %v]", ErrInvalidArgument, b.docPruneRatio, MaxDocPruneRatio)
	}

	if b.avgDocTermLength <= 0 {
		return fmt.Errorf("%w: avg doc term length must be positive, got %d", ErrInvalidArgument, b.avgDocTermLength)
	}

	switch b.compression {
	case persistence.CompressionNone, persistence.CompressionLZ4, persistence.CompressionZSTD:
	default:
		return fmt.Errorf("%w: unknown compression %d", ErrInvalidArgument, b.compression)
	}

	return nil
}

// EstimateMemory predicts the index footprint in bytes for the expected
// document count under the configured parameters. Posting entries dominate:
// each retained pair costs a 2-byte local id plus a 4-byte value (1 byte
// when quantization is enabled), and the reorder store adds an exact
// 8-byte pair per retained term.
func (b Builder) EstimateMemory(expectedCount int) uint64 {
	if expectedCount <= 0 {
		return 0
	}

	retained := int(math.Ceil(float64(b.avgDocTermLength) * (1 - b.docPruneRatio)))
	entries := uint64(expectedCount) * uint64(retained)

	valSize := uint64(4)
	if b.useQuantization {
		valSize = 1
	}

	total := entries * (2 + valSize)

	// Forward label array plus tombstone and reverse-map overhead.
	total += uint64(expectedCount) * 24

	if b.useReorder {
		total += uint64(expectedCount)*48 + entries*8
	}

	return total
}

// Build validates the configuration and creates the Index.
func (b Builder) Build() (*Index, error) {
	if err := b.validate(); err != nil {
		return nil, err
	}

	return newIndex(b), nil
}

// MustBuild creates the Index, panicking on error.
func (b Builder) MustBuild() *Index {
	idx, err := b.Build()
	if err != nil {
		panic(err)
	}

	return idx
}
