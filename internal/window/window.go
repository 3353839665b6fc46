// Package window implements the windowed inverted-list storage for sparse
// vectors. Documents are grouped into fixed-size windows by internal id, and
// each window keeps one posting list per term, ordered by descending value
// magnitude so that term pruning reduces to scanning a prefix.
package window

import (
	"math"
	"sync"

	"github.com/hupe1980/sindi/model"
)

// LocalID addresses a document inside a single window. Window capacity is
// bounded so local ids always fit in 16 bits.
type LocalID = uint16

// postingList holds the postings of one term inside one window, sorted by
// descending |value| with ties broken by ascending local id. Values are
// stored either raw (vals) or quantized to uint8 codes over [lo, hi].
type postingList struct {
	docs []LocalID

	vals []float32

	codes  []uint8
	lo, hi float32
}

func (p *postingList) valueAt(i int) float32 {
	if p.codes != nil {
		return decodeU8(p.codes[i], p.lo, p.hi)
	}

	return p.vals[i]
}

// insert places (doc, val) at its sorted position. For quantized lists the
// bounds grow as needed and existing codes are re-encoded against the new
// range.
func (p *postingList) insert(doc LocalID, val float32, quantized bool) {
	if quantized {
		p.growBounds(val)
	}

	mag := abs32(val)

	// Binary search for the first position with a strictly smaller
	// magnitude, or an equal magnitude and a larger local id.
	lo, hi := 0, len(p.docs)
	for lo < hi {
		mid := (lo + hi) / 2

		m := abs32(p.valueAt(mid))
		if m > mag || (m == mag && p.docs[mid] < doc) {
			lo = mid + 1
		} else {
			hi = mid
		}
	}

	p.docs = append(p.docs, 0)
	copy(p.docs[lo+1:], p.docs[lo:])
	p.docs[lo] = doc

	if quantized {
		p.codes = append(p.codes, 0)
		copy(p.codes[lo+1:], p.codes[lo:])
		p.codes[lo] = encodeU8(val, p.lo, p.hi)
	} else {
		p.vals = append(p.vals, 0)
		copy(p.vals[lo+1:], p.vals[lo:])
		p.vals[lo] = val
	}
}

func (p *postingList) growBounds(val float32) {
	if len(p.codes) == 0 {
		p.lo, p.hi = val, val
		return
	}

	if val >= p.lo && val <= p.hi {
		return
	}

	newLo, newHi := p.lo, p.hi
	if val < newLo {
		newLo = val
	}

	if val > newHi {
		newHi = val
	}

	for i, c := range p.codes {
		p.codes[i] = encodeU8(decodeU8(c, p.lo, p.hi), newLo, newHi)
	}

	p.lo, p.hi = newLo, newHi
}

func (p *postingList) memoryUsage() uint64 {
	return uint64(len(p.docs))*2 + uint64(len(p.vals))*4 + uint64(len(p.codes)) + 8
}

func encodeU8(val, lo, hi float32) uint8 {
	if hi <= lo {
		return 0
	}

	c := math.Round(float64(val-lo) / float64(hi-lo) * 255)
	if c < 0 {
		c = 0
	} else if c > 255 {
		c = 255
	}

	return uint8(c)
}

func decodeU8(code uint8, lo, hi float32) float32 {
	if hi <= lo {
		return lo
	}

	return lo + float32(code)/255*(hi-lo)
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}

	return v
}

// Window holds the inverted lists of one contiguous block of documents.
// All exported methods are safe for concurrent use.
type Window struct {
	mu sync.RWMutex

	terms     map[uint32]*postingList
	count     int
	quantized bool
}

// NewWindow returns an empty window.
func NewWindow(quantized bool) *Window {
	return &Window{
		terms:     make(map[uint32]*postingList),
		quantized: quantized,
	}
}

// Add inserts the postings of a pruned vector under the given local id.
func (w *Window) Add(doc LocalID, vec model.SparseVector) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for i, term := range vec.Terms {
		p := w.terms[term]
		if p == nil {
			p = &postingList{}
			w.terms[term] = p
		}

		p.insert(doc, vec.Values[i], w.quantized)
	}

	w.count++
}

// Len returns the number of documents added to the window.
func (w *Window) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return w.count
}

// ScanTerm visits the qualified prefix of the term's posting list, i.e. the
// ceil(n*(1-pruneRatio)) postings with the largest value magnitudes. The
// callback receives decoded values when the window is quantized.
func (w *Window) ScanTerm(term uint32, pruneRatio float64, fn func(doc LocalID, val float32)) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	p := w.terms[term]
	if p == nil {
		return
	}

	n := qualifiedCount(len(p.docs), pruneRatio)
	for i := 0; i < n; i++ {
		fn(p.docs[i], p.valueAt(i))
	}
}

// Reconstruct rebuilds the pruned vector of a local document by scanning all
// posting lists. Quantized windows return decoded values, so the result may
// differ slightly from the inserted vector.
func (w *Window) Reconstruct(doc LocalID) model.SparseVector {
	w.mu.RLock()
	defer w.mu.RUnlock()

	var vec model.SparseVector

	for term, p := range w.terms {
		for i, d := range p.docs {
			if d == doc {
				vec.Terms = append(vec.Terms, term)
				vec.Values = append(vec.Values, p.valueAt(i))

				break
			}
		}
	}

	return vec.SortByTerm()
}

// TermCount returns the number of distinct terms with postings.
func (w *Window) TermCount() int {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return len(w.terms)
}

// MemoryUsage returns the approximate heap footprint in bytes.
func (w *Window) MemoryUsage() uint64 {
	w.mu.RLock()
	defer w.mu.RUnlock()

	var total uint64
	for _, p := range w.terms {
		total += p.memoryUsage() + 24
	}

	return total
}

// qualifiedCount returns how many postings of a list of length n survive the
// given prune ratio. A non-empty list always keeps at least one posting.
func qualifiedCount(n int, pruneRatio float64) int {
	if n == 0 {
		return 0
	}

	k := int(math.Ceil(float64(n) * (1 - pruneRatio)))
	if k < 1 {
		k = 1
	}

	if k > n {
		k = n
	}

	return k
}
