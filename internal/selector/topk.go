// Package selector implements bounded top-k candidate selection.
package selector

import (
	"github.com/hupe1980/sindi/model"
)

// TopK is a bounded binary heap keeping the best candidates seen so
// far. The worst candidate sits at the root so eviction is O(log n).
// It is value-based and does NOT implement container/heap to avoid
// interface overhead.
//
// Ordering is by score descending; equal scores break toward the lower
// internal id, independent of insertion order.
type TopK struct {
	capacity int
	items    []model.Candidate
}

// NewTopK creates a selector holding at most capacity candidates.
func NewTopK(capacity int) *TopK {
	if capacity < 1 {
		capacity = 1
	}
	return &TopK{
		capacity: capacity,
		items:    make([]model.Candidate, 0, capacity),
	}
}

// Capacity returns the maximum number of retained candidates.
func (s *TopK) Capacity() int { return s.capacity }

// Len returns the number of candidates currently held.
func (s *TopK) Len() int { return len(s.items) }

// Reset clears the selector for reuse.
func (s *TopK) Reset() {
	s.items = s.items[:0]
}

// Worst returns the current root (the weakest retained candidate).
func (s *TopK) Worst() (model.Candidate, bool) {
	if len(s.items) == 0 {
		return model.Candidate{}, false
	}
	return s.items[0], true
}

// WouldAccept reports whether a candidate with the given score could
// still enter the heap. Useful to skip work when the heap is full.
func (s *TopK) WouldAccept(c model.Candidate) bool {
	if len(s.items) < s.capacity {
		return true
	}
	return c.Better(s.items[0])
}

// Push offers a candidate. If the heap has spare capacity it is
// inserted; otherwise it replaces the root when strictly better under
// the (score desc, id asc) order.
func (s *TopK) Push(c model.Candidate) {
	if len(s.items) < s.capacity {
		s.items = append(s.items, c)
		s.siftUp(len(s.items) - 1)
		return
	}

	if c.Better(s.items[0]) {
		s.items[0] = c
		s.siftDown(0)
	}
}

// Items returns the retained candidates in heap order.
// The slice aliases internal storage and is invalidated by Push.
func (s *TopK) Items() []model.Candidate {
	return s.items
}

// Drain removes and returns all candidates sorted best-first
// (descending score, ascending id on ties). The selector is empty
// afterwards.
func (s *TopK) Drain() []model.Candidate {
	out := make([]model.Candidate, len(s.items))
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = s.pop()
	}
	return out
}

func (s *TopK) pop() model.Candidate {
	n := len(s.items)
	top := s.items[0]
	s.items[0] = s.items[n-1]
	s.items = s.items[:n-1]
	if len(s.items) > 0 {
		s.siftDown(0)
	}
	return top
}

// worse reports whether item i ranks behind item j.
func (s *TopK) worse(i, j int) bool {
	return s.items[j].Better(s.items[i])
}

func (s *TopK) siftUp(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if !s.worse(i, parent) {
			break
		}
		s.items[i], s.items[parent] = s.items[parent], s.items[i]
		i = parent
	}
}

func (s *TopK) siftDown(i int) {
	n := len(s.items)
	for {
		left := 2*i + 1
		if left >= n {
			break
		}
		child := left
		if right := left + 1; right < n && s.worse(right, left) {
			child = right
		}
		if !s.worse(child, i) {
			break
		}
		s.items[i], s.items[child] = s.items[child], s.items[i]
		i = child
	}
}
