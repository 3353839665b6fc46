// Package scorer evaluates sparse inner-product queries against a windowed
// posting store. Each window is scored independently with a dense
// accumulator over its local id space, so windows parallelize cleanly and
// the accumulator stays small enough to reset between runs.
package scorer

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/sindi/internal/selector"
	"github.com/hupe1980/sindi/internal/window"
	"github.com/hupe1980/sindi/model"
)

// Params tunes a single scoring run.
type Params struct {
	// QueryPruneRatio drops the smallest-magnitude fraction of query
	// entries before scoring.
	QueryPruneRatio float64

	// TermPruneRatio limits each posting list scan to its
	// largest-magnitude prefix.
	TermPruneRatio float64

	// SortedInsert pushes each window's candidates into the heap in
	// descending score order instead of accumulator order. The result is
	// identical either way; sorted insertion trades a sort for fewer
	// heap replacements.
	SortedInsert bool

	// Workers bounds the number of windows scored concurrently.
	// Values below 1 mean sequential scoring.
	Workers int
}

// Scorer runs queries against a window store. Safe for concurrent use;
// scratch accumulators are pooled per run.
type Scorer struct {
	store *window.Store
	pool  sync.Pool
}

// New returns a scorer over the given store.
func New(store *window.Store) *Scorer {
	s := &Scorer{store: store}
	s.pool.New = func() any {
		size := int(store.WindowSize())
		return &scratch{
			scores:  make([]float32, size),
			visited: make([]bool, size),
			touched: make([]window.LocalID, 0, 256),
		}
	}

	return s
}

type scratch struct {
	scores  []float32
	visited []bool
	touched []window.LocalID
}

func (sc *scratch) reset() {
	for _, doc := range sc.touched {
		sc.scores[doc] = 0
		sc.visited[doc] = false
	}

	sc.touched = sc.touched[:0]
}

// TopK returns the best k candidates by inner-product score, sorted by
// descending score with ascending id breaking ties. Documents rejected by
// the filter are never considered.
func (s *Scorer) TopK(ctx context.Context, query model.SparseVector, k int, params Params, filter model.Filter) ([]model.Candidate, error) {
	topk := selector.NewTopK(k)

	var mu sync.Mutex

	err := s.scanWindows(ctx, query, params, func(cands []model.Candidate) {
		mu.Lock()
		defer mu.Unlock()

		for _, c := range cands {
			if filter != nil && !filter.Matches(c.ID) {
				continue
			}

			topk.Push(c)
		}
	})
	if err != nil {
		return nil, err
	}

	return topk.Drain(), nil
}

// Range returns every candidate whose score is at least minScore, sorted by
// descending score with ascending id breaking ties.
func (s *Scorer) Range(ctx context.Context, query model.SparseVector, minScore float32, params Params, filter model.Filter) ([]model.Candidate, error) {
	var (
		mu  sync.Mutex
		out []model.Candidate
	)

	err := s.scanWindows(ctx, query, params, func(cands []model.Candidate) {
		mu.Lock()
		defer mu.Unlock()

		for _, c := range cands {
			if c.Score < minScore {
				continue
			}

			if filter != nil && !filter.Matches(c.ID) {
				continue
			}

			out = append(out, c)
		}
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Better(out[j]) })

	return out, nil
}

// scanWindows scores every window against the pruned query and hands each
// window's candidates to collect. collect may run concurrently from worker
// goroutines; callers serialize internally.
func (s *Scorer) scanWindows(ctx context.Context, query model.SparseVector, params Params, collect func([]model.Candidate)) error {
	pruned := query.Prune(params.QueryPruneRatio)
	if pruned.Len() == 0 {
		return nil
	}

	numWindows := s.store.WindowCount()
	if numWindows == 0 {
		return nil
	}

	workers := params.Workers
	if workers < 1 {
		workers = 1
	}

	if workers > numWindows {
		workers = numWindows
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for win := 0; win < numWindows; win++ {
		win := win
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			sc := s.pool.Get().(*scratch)
			defer func() {
				sc.reset()
				s.pool.Put(sc)
			}()

			cands := s.scoreWindow(win, pruned, params, sc)
			if len(cands) > 0 {
				collect(cands)
			}

			return nil
		})
	}

	return g.Wait()
}

// scoreWindow accumulates per-document scores for one window and converts
// the touched accumulator slots into candidates with global ids.
func (s *Scorer) scoreWindow(win int, query model.SparseVector, params Params, sc *scratch) []model.Candidate {
	w := s.store.WindowAt(win)
	if w == nil || w.Len() == 0 {
		return nil
	}

	for i, term := range query.Terms {
		qval := query.Values[i]

		w.ScanTerm(term, params.TermPruneRatio, func(doc window.LocalID, val float32) {
			if !sc.visited[doc] {
				sc.visited[doc] = true
				sc.touched = append(sc.touched, doc)
			}

			sc.scores[doc] += qval * val
		})
	}

	if len(sc.touched) == 0 {
		return nil
	}

	base := uint32(win) * s.store.WindowSize()

	cands := make([]model.Candidate, 0, len(sc.touched))
	for _, doc := range sc.touched {
		cands = append(cands, model.Candidate{
			ID:    model.DocID(base + uint32(doc)),
			Score: sc.scores[doc],
		})
	}

	if params.SortedInsert {
		sort.Slice(cands, func(i, j int) bool { return cands[i].Better(cands[j]) })
	}

	return cands
}
