// Package sindi provides an approximate-nearest-neighbor search index for
// high-dimensional sparse vectors using inner-product similarity.
//
// This file implements the query API: tunable search options, k-nearest
// and range search, and a fluent search builder.
package sindi

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/sindi/internal/scorer"
	"github.com/hupe1980/sindi/model"
)

// Search-time parameter bounds and defaults.
const (
	// NCandidateAmplification bounds the preliminary candidate pool
	// relative to k: n_candidate must stay within [1, amplification * k].
	NCandidateAmplification = 10

	// defaultNCandidateFactor sizes the pool when the caller does not
	// set one.
	defaultNCandidateFactor = 2

	// MaxQueryPruneRatio and MaxTermPruneRatio cap query-time pruning.
	MaxQueryPruneRatio = 0.9
	MaxTermPruneRatio  = 0.9
)

// SearchOptions tunes one query.
type SearchOptions struct {
	// NCandidate sizes the preliminary candidate pool gathered before
	// the reorder pass. 0 means 2*k, capped at NCandidateAmplification*k.
	NCandidate int

	// QueryPruneRatio drops the smallest-magnitude fraction of query
	// terms before scoring. Range [0, 0.9].
	QueryPruneRatio float64

	// TermPruneRatio limits each posting list scan to its
	// largest-magnitude prefix. Range [0, 0.9].
	TermPruneRatio float64

	// UseTermListsHeapInsert batches each window's candidates into the
	// selection heap in score order instead of pushing one at a time.
	// A performance variant only; results are identical.
	UseTermListsHeapInsert bool

	// FilterFunc restricts results to labels it accepts. Rejected
	// documents never enter the candidate heap.
	FilterFunc func(label model.Label) bool
}

func (idx *Index) searchOptions(k int, optFns []func(o *SearchOptions)) (SearchOptions, error) {
	opts := SearchOptions{
		UseTermListsHeapInsert: true,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.NCandidate == 0 {
		opts.NCandidate = defaultNCandidateFactor * k
	}

	if opts.NCandidate < 1 || opts.NCandidate > NCandidateAmplification*k {
		return opts, fmt.Errorf("%w: n_candidate %d outside [1, %d]", ErrInvalidArgument, opts.NCandidate, NCandidateAmplification*k)
	}

	if opts.QueryPruneRatio < 0 || opts.QueryPruneRatio > MaxQueryPruneRatio {
		return opts, fmt.Errorf("%w: query prune ratio %v outside [0, %v]", ErrInvalidArgument, opts.QueryPruneRatio, MaxQueryPruneRatio)
	}

	if opts.TermPruneRatio < 0 || opts.TermPruneRatio > MaxTermPruneRatio {
		return opts, fmt.Errorf("%w: term prune ratio %v outside [0, %v]", ErrInvalidArgument, opts.TermPruneRatio, MaxTermPruneRatio)
	}

	return opts, nil
}

// searchFilter combines the tombstone filter with the caller's label
// predicate. Returns nil when neither applies.
func (idx *Index) searchFilter(labelFilter func(model.Label) bool) model.Filter {
	var filters []model.Filter

	if deleted := idx.labels.GetDeletedIDsFilter(); deleted != nil {
		filters = append(filters, deleted)
	}

	if labelFilter != nil {
		filters = append(filters, model.FilterFunc(func(id model.DocID) bool {
			label, err := idx.labels.GetLabelByID(id)
			if err != nil {
				return false
			}

			return labelFilter(label)
		}))
	}

	return model.AndFilter(filters...)
}

func (idx *Index) scorerParams(opts SearchOptions) scorer.Params {
	return scorer.Params{
		QueryPruneRatio: opts.QueryPruneRatio,
		TermPruneRatio:  opts.TermPruneRatio,
		SortedInsert:    opts.UseTermListsHeapInsert,
		Workers:         idx.rc.MaxSearchWorkers(),
	}
}

// resultsFromCandidates maps internal ids to labels, deduplicating labels
// so duplicate groups surface once, and converts scores to distances.
func (idx *Index) resultsFromCandidates(cands []model.Candidate, limit int) []model.Result {
	results := make([]model.Result, 0, min(limit, len(cands)))
	seen := make(map[model.Label]struct{}, len(cands))

	for _, c := range cands {
		if len(results) == limit {
			break
		}

		label, err := idx.labels.GetLabelByID(c.ID)
		if err != nil {
			continue
		}

		if _, dup := seen[label]; dup {
			continue
		}

		seen[label] = struct{}{}

		results = append(results, model.Result{
			Label:    label,
			Distance: 1 - c.Score,
		})
	}

	return results
}

// KNNSearch returns the k nearest labels to the query, ordered by
// ascending distance (1 - inner product). Ties resolve to the lower
// internal id regardless of insertion or scoring order.
func (idx *Index) KNNSearch(ctx context.Context, query model.SparseVector, k int, optFns ...func(o *SearchOptions)) ([]model.Result, error) {
	start := time.Now()

	results, err := idx.knnSearch(ctx, query, k, optFns)

	idx.logger.LogSearch(ctx, k, len(results), err)
	idx.metrics.RecordSearch(k, time.Since(start), err)

	return results, err
}

func (idx *Index) knnSearch(ctx context.Context, query model.SparseVector, k int, optFns []func(o *SearchOptions)) ([]model.Result, error) {
	if k <= 0 {
		return nil, ErrInvalidK
	}

	if err := idx.validateVector(query); err != nil {
		return nil, err
	}

	opts, err := idx.searchOptions(k, optFns)
	if err != nil {
		return nil, err
	}

	if err := idx.rc.AcquireSearchWorker(ctx); err != nil {
		return nil, err
	}
	defer idx.rc.ReleaseSearchWorker()

	// Without a reorder pass, the approximate scores are final and the
	// heap only needs to hold k. With reorder, the wider pool feeds the
	// exact rescoring.
	poolSize := k
	if idx.useReorder {
		poolSize = opts.NCandidate
	}

	cands, err := idx.score.TopK(ctx, query, poolSize, idx.scorerParams(opts), idx.searchFilter(opts.FilterFunc))
	if err != nil {
		return nil, err
	}

	if idx.flat != nil {
		cands = idx.flat.Reorder(cands, query, k)
	}

	return idx.resultsFromCandidates(cands, k), nil
}

// RangeSearch returns every label whose distance to the query is at most
// radius, ordered by ascending distance and capped at the candidate pool
// size of the preliminary pass.
func (idx *Index) RangeSearch(ctx context.Context, query model.SparseVector, radius float32, optFns ...func(o *SearchOptions)) ([]model.Result, error) {
	start := time.Now()

	results, err := idx.rangeSearch(ctx, query, radius, optFns)

	idx.logger.LogRangeSearch(ctx, radius, len(results), err)
	idx.metrics.RecordSearch(0, time.Since(start), err)

	return results, err
}

func (idx *Index) rangeSearch(ctx context.Context, query model.SparseVector, radius float32, optFns []func(o *SearchOptions)) ([]model.Result, error) {
	if err := idx.validateVector(query); err != nil {
		return nil, err
	}

	opts := SearchOptions{UseTermListsHeapInsert: true}
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.NCandidate == 0 {
		opts.NCandidate = defaultRangeCandidates
	}

	if opts.NCandidate < 1 {
		return nil, fmt.Errorf("%w: n_candidate %d must be positive", ErrInvalidArgument, opts.NCandidate)
	}

	if opts.QueryPruneRatio < 0 || opts.QueryPruneRatio > MaxQueryPruneRatio {
		return nil, fmt.Errorf("%w: query prune ratio %v outside [0, %v]", ErrInvalidArgument, opts.QueryPruneRatio, MaxQueryPruneRatio)
	}

	if opts.TermPruneRatio < 0 || opts.TermPruneRatio > MaxTermPruneRatio {
		return nil, fmt.Errorf("%w: term prune ratio %v outside [0, %v]", ErrInvalidArgument, opts.TermPruneRatio, MaxTermPruneRatio)
	}

	if err := idx.rc.AcquireSearchWorker(ctx); err != nil {
		return nil, err
	}
	defer idx.rc.ReleaseSearchWorker()

	minScore := 1 - radius

	cands, err := idx.score.Range(ctx, query, minScore, idx.scorerParams(opts), idx.searchFilter(opts.FilterFunc))
	if err != nil {
		return nil, err
	}

	if len(cands) > opts.NCandidate {
		cands = cands[:opts.NCandidate]
	}

	if idx.flat != nil {
		cands = idx.flat.Reorder(cands, query, len(cands))

		// Exact scores may fall below the threshold that the pruned
		// approximation cleared.
		kept := cands[:0]

		for _, c := range cands {
			if c.Score >= minScore {
				kept = append(kept, c)
			}
		}

		cands = kept
	}

	return idx.resultsFromCandidates(cands, len(cands)), nil
}

// defaultRangeCandidates caps the preliminary pass of a range search when
// the caller does not size the pool.
const defaultRangeCandidates = 10_000

// Search creates a fluent search builder for the given query vector.
//
// Example:
//
//	results, err := idx.Search(query).
//	    KNN(10).
//	    QueryPruneRatio(0.2).
//	    Execute(ctx)
func (idx *Index) Search(query model.SparseVector) *SearchBuilder {
	return &SearchBuilder{
		idx:   idx,
		query: query,
		k:     10,
	}
}

// SearchBuilder is a fluent builder for constructing search queries.
type SearchBuilder struct {
	idx    *Index
	query  model.SparseVector
	k      int
	radius float32
	ranged bool
	optFns []func(o *SearchOptions)
}

// KNN sets the number of nearest neighbors to return.
func (sb *SearchBuilder) KNN(k int) *SearchBuilder {
	sb.k = k
	sb.ranged = false
	return sb
}

// Within switches to range mode: return every label with distance at most
// radius instead of a fixed k.
func (sb *SearchBuilder) Within(radius float32) *SearchBuilder {
	sb.radius = radius
	sb.ranged = true
	return sb
}

// NCandidate sizes the preliminary candidate pool.
func (sb *SearchBuilder) NCandidate(n int) *SearchBuilder {
	sb.optFns = append(sb.optFns, func(o *SearchOptions) { o.NCandidate = n })
	return sb
}

// QueryPruneRatio drops the smallest-magnitude fraction of query terms.
func (sb *SearchBuilder) QueryPruneRatio(ratio float64) *SearchBuilder {
	sb.optFns = append(sb.optFns, func(o *SearchOptions) { o.QueryPruneRatio = ratio })
	return sb
}

// TermPruneRatio limits posting scans to their largest-magnitude prefix.
func (sb *SearchBuilder) TermPruneRatio(ratio float64) *SearchBuilder {
	sb.optFns = append(sb.optFns, func(o *SearchOptions) { o.TermPruneRatio = ratio })
	return sb
}

// DirectHeapInsert pushes candidates into the selection heap one at a
// time instead of batching per window. Results are identical either way.
func (sb *SearchBuilder) DirectHeapInsert() *SearchBuilder {
	sb.optFns = append(sb.optFns, func(o *SearchOptions) { o.UseTermListsHeapInsert = false })
	return sb
}

// Filter restricts results to labels the predicate accepts.
func (sb *SearchBuilder) Filter(fn func(label model.Label) bool) *SearchBuilder {
	sb.optFns = append(sb.optFns, func(o *SearchOptions) { o.FilterFunc = fn })
	return sb
}

// Execute runs the search and returns the results.
func (sb *SearchBuilder) Execute(ctx context.Context) ([]model.Result, error) {
	if sb.ranged {
		return sb.idx.RangeSearch(ctx, sb.query, sb.radius, sb.optFns...)
	}

	return sb.idx.KNNSearch(ctx, sb.query, sb.k, sb.optFns...)
}

// MustExecute runs the search, panicking on error.
// Use this only in tests or when the query is known valid.
func (sb *SearchBuilder) MustExecute(ctx context.Context) []model.Result {
	results, err := sb.Execute(ctx)
	if err != nil {
		panic(err)
	}

	return results
}

// First returns only the nearest result, or ErrNotFound if none.
func (sb *SearchBuilder) First(ctx context.Context) (model.Result, error) {
	sb.k = 1

	results, err := sb.Execute(ctx)
	if err != nil {
		return model.Result{}, err
	}

	if len(results) == 0 {
		return model.Result{}, ErrNotFound
	}

	return results[0], nil
}
