// Package reorder keeps unpruned copies of inserted vectors and rescores
// approximate candidates with exact inner products.
package reorder

import (
	"fmt"
	"io"
	"sync"

	"github.com/hupe1980/sindi/internal/selector"
	"github.com/hupe1980/sindi/model"
	"github.com/hupe1980/sindi/persistence"
	"github.com/hupe1980/sindi/resource"
)

// Flat is a dense-by-id store of term-sorted sparse vectors. Safe for
// concurrent use.
type Flat struct {
	rc *resource.Controller

	mu       sync.RWMutex
	vecs     []model.SparseVector
	reserved int64 // bytes held at the resource controller
}

// NewFlat returns an empty store. rc may be nil, in which case no memory
// accounting is performed.
func NewFlat(rc *resource.Controller) *Flat {
	return &Flat{rc: rc}
}

// vectorBytes approximates the stored footprint of one vector.
func vectorBytes(vec model.SparseVector) int64 {
	return int64(vec.Len())*8 + 48
}

// Insert stores an exact copy of the vector under the given internal id.
func (f *Flat) Insert(id model.DocID, vec model.SparseVector) error {
	cost := vectorBytes(vec)

	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.rc.TryAcquireMemory(cost) {
		return fmt.Errorf("%w: reorder copy of %d bytes", resource.ErrMemoryLimit, cost)
	}
	f.reserved += cost

	for int(id) >= len(f.vecs) {
		f.vecs = append(f.vecs, model.SparseVector{})
	}

	f.vecs[id] = vec.SortByTerm()
	return nil
}

// Get returns the stored vector and whether the id is known.
func (f *Flat) Get(id model.DocID) (model.SparseVector, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if int(id) >= len(f.vecs) || f.vecs[id].Len() == 0 {
		return model.SparseVector{}, false
	}

	return f.vecs[id], true
}

// Count returns the number of stored vectors.
func (f *Flat) Count() int {
	f.mu.RLock()
	defer f.mu.RUnlock()

	n := 0
	for _, v := range f.vecs {
		if v.Len() > 0 {
			n++
		}
	}

	return n
}

// Reorder rescores the candidates with exact inner products against the
// query and returns the best topk, sorted by descending exact score with
// ascending id breaking ties. Candidates without a stored vector keep
// their approximate score.
func (f *Flat) Reorder(candidates []model.Candidate, query model.SparseVector, topk int) []model.Candidate {
	sorted := query.SortByTerm()

	heap := selector.NewTopK(topk)

	f.mu.RLock()
	defer f.mu.RUnlock()

	for _, c := range candidates {
		if int(c.ID) < len(f.vecs) && f.vecs[c.ID].Len() > 0 {
			c.Score = f.vecs[c.ID].Dot(sorted)
		}

		heap.Push(c)
	}

	return heap.Drain()
}

// MemoryUsage returns the approximate heap footprint in bytes.
func (f *Flat) MemoryUsage() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()

	total := uint64(len(f.vecs)) * 48
	for _, v := range f.vecs {
		total += uint64(v.Len()) * 8
	}

	return total
}

// Serialize writes all stored vectors in id order.
func (f *Flat) Serialize(w io.Writer) error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	pw := persistence.NewWriter(w)

	if err := pw.WriteUint32(uint32(len(f.vecs))); err != nil {
		return err
	}

	for _, v := range f.vecs {
		if err := pw.WriteUint32Slice(v.Terms); err != nil {
			return err
		}

		if err := pw.WriteFloat32Slice(v.Values); err != nil {
			return err
		}
	}

	return nil
}

// Deserialize replaces the store contents with a serialized layout.
func (f *Flat) Deserialize(r io.Reader) error {
	pr := persistence.NewReader(r)

	n, err := pr.ReadUint32()
	if err != nil {
		return err
	}

	vecs := make([]model.SparseVector, n)
	for i := range vecs {
		if vecs[i].Terms, err = pr.ReadUint32Slice(); err != nil {
			return err
		}

		if vecs[i].Values, err = pr.ReadFloat32Slice(); err != nil {
			return err
		}
	}

	var cost int64
	for _, v := range vecs {
		cost += vectorBytes(v)
	}

	f.mu.Lock()
	f.rc.ReleaseMemory(f.reserved)
	f.reserved = 0
	if !f.rc.TryAcquireMemory(cost) {
		f.mu.Unlock()
		return fmt.Errorf("%w: reorder snapshot of %d bytes", resource.ErrMemoryLimit, cost)
	}
	f.reserved = cost

	f.vecs = vecs
	f.mu.Unlock()

	return nil
}
