package model

import (
	"fmt"
	"math"
	"sort"
)

// Label is the user-facing stable identifier of a document.
type Label uint64

// DocID is a dense, internally assigned identifier for a document.
// It is used for all hot-path structures (postings, bitmaps, heaps).
type DocID uint32

// SparseVector holds the non-zero coordinates of a high-dimensional
// sparse vector as parallel (term, value) slices.
// Terms must be unique within one vector; order is not significant.
type SparseVector struct {
	Terms  []uint32
	Values []float32
}

// Len returns the number of non-zero pairs.
func (v SparseVector) Len() int {
	return len(v.Terms)
}

// Validate checks structural invariants: matching slice lengths and
// unique term ids. It does not enforce dim or term-id limits; those are
// index-level build parameters.
func (v SparseVector) Validate() error {
	if len(v.Terms) != len(v.Values) {
		return fmt.Errorf("sparse vector: %d terms but %d values", len(v.Terms), len(v.Values))
	}
	seen := make(map[uint32]struct{}, len(v.Terms))
	for _, t := range v.Terms {
		if _, ok := seen[t]; ok {
			return fmt.Errorf("sparse vector: duplicate term id %d", t)
		}
		seen[t] = struct{}{}
	}
	return nil
}

// Clone returns a deep copy of the vector.
func (v SparseVector) Clone() SparseVector {
	out := SparseVector{
		Terms:  make([]uint32, len(v.Terms)),
		Values: make([]float32, len(v.Values)),
	}
	copy(out.Terms, v.Terms)
	copy(out.Values, v.Values)
	return out
}

// SortByTerm returns a copy of the vector with pairs ordered by
// ascending term id. Exact dot products use a merge join over two
// term-sorted vectors.
func (v SparseVector) SortByTerm() SparseVector {
	out := v.Clone()
	sort.Sort(byTerm{&out})
	return out
}

// Prune drops the lowest-magnitude fraction of pairs and returns the
// survivors ordered by ascending term id. It retains the top
// ceil(n*(1-ratio)) pairs ranked by |value| descending; ties keep the
// lower term id. ratio <= 0 only normalizes the ordering.
func (v SparseVector) Prune(ratio float64) SparseVector {
	out := v.Clone()
	if ratio <= 0 || out.Len() == 0 {
		sort.Sort(byTerm{&out})
		return out
	}

	sort.Sort(byMagnitude{&out})
	keep := int(math.Ceil(float64(out.Len()) * (1.0 - ratio)))
	if keep < 1 {
		keep = 1
	}
	out.Terms = out.Terms[:keep]
	out.Values = out.Values[:keep]
	sort.Sort(byTerm{&out})
	return out
}

// Dot computes the exact inner product with another term-sorted vector.
// Both vectors must be sorted by term id (see SortByTerm).
func (v SparseVector) Dot(other SparseVector) float32 {
	var sum float32
	i, j := 0, 0
	for i < len(v.Terms) && j < len(other.Terms) {
		switch {
		case v.Terms[i] < other.Terms[j]:
			i++
		case v.Terms[i] > other.Terms[j]:
			j++
		default:
			sum += v.Values[i] * other.Values[j]
			i++
			j++
		}
	}
	return sum
}

type byTerm struct{ v *SparseVector }

func (s byTerm) Len() int { return len(s.v.Terms) }
func (s byTerm) Less(i, j int) bool {
	return s.v.Terms[i] < s.v.Terms[j]
}
func (s byTerm) Swap(i, j int) {
	s.v.Terms[i], s.v.Terms[j] = s.v.Terms[j], s.v.Terms[i]
	s.v.Values[i], s.v.Values[j] = s.v.Values[j], s.v.Values[i]
}

type byMagnitude struct{ v *SparseVector }

func (s byMagnitude) Len() int { return len(s.v.Terms) }
func (s byMagnitude) Less(i, j int) bool {
	ai := abs32(s.v.Values[i])
	aj := abs32(s.v.Values[j])
	if ai != aj {
		return ai > aj
	}
	return s.v.Terms[i] < s.v.Terms[j]
}
func (s byMagnitude) Swap(i, j int) {
	s.v.Terms[i], s.v.Terms[j] = s.v.Terms[j], s.v.Terms[i]
	s.v.Values[i], s.v.Values[j] = s.v.Values[j], s.v.Values[i]
}

func abs32(f float32) float32 {
	return math.Float32frombits(math.Float32bits(f) &^ (1 << 31))
}

// Candidate is a scoring-time match. Ordering key is Score (higher is
// better); ties break on lower DocID for determinism.
type Candidate struct {
	ID    DocID
	Score float32
}

// Better reports whether c ranks ahead of other.
func (c Candidate) Better(other Candidate) bool {
	if c.Score != other.Score {
		return c.Score > other.Score
	}
	return c.ID < other.ID
}

// Result is a user-facing search hit. Distance is 1 - inner product;
// lower is closer.
type Result struct {
	Label    Label
	Distance float32
}

// Filter restricts which documents may enter a candidate set.
type Filter interface {
	// Matches reports whether the document may be considered.
	Matches(id DocID) bool
}

// FilterFunc adapts a plain function to the Filter interface.
type FilterFunc func(id DocID) bool

// Matches implements Filter.
func (f FilterFunc) Matches(id DocID) bool { return f(id) }

// AndFilter combines filters; a document must match all of them.
// Nil members are skipped.
func AndFilter(filters ...Filter) Filter {
	var active []Filter
	for _, f := range filters {
		if f != nil {
			active = append(active, f)
		}
	}
	switch len(active) {
	case 0:
		return nil
	case 1:
		return active[0]
	}
	return FilterFunc(func(id DocID) bool {
		for _, f := range active {
			if !f.Matches(id) {
				return false
			}
		}
		return true
	})
}
