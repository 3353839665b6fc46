package window

import (
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/hupe1980/sindi/model"
	"github.com/hupe1980/sindi/persistence"
	"github.com/hupe1980/sindi/resource"
)

// Config controls how documents are pruned and assigned to windows.
type Config struct {
	// WindowSize is the number of consecutive internal ids per window.
	WindowSize uint32

	// TermIDLimit is the exclusive upper bound on term ids.
	TermIDLimit uint32

	// DocPruneRatio is the fraction of a document's smallest-magnitude
	// entries dropped at insert time.
	DocPruneRatio float64

	// Quantized enables uint8 value quantization inside posting lists.
	Quantized bool

	// Resources accounts posting memory against a shared controller.
	// May be nil.
	Resources *resource.Controller
}

// Store maps internal document ids onto windows and routes inserts and scans
// to the owning window. Safe for concurrent use.
type Store struct {
	cfg Config

	mu       sync.RWMutex
	windows  []*Window
	count    int
	reserved int64 // bytes held at the resource controller
}

// NewStore returns an empty store.
func NewStore(cfg Config) *Store {
	return &Store{cfg: cfg}
}

// AssignWindow returns the window index owning the given internal id.
func (s *Store) AssignWindow(id model.DocID) int {
	return int(uint32(id) / s.cfg.WindowSize)
}

// localID returns the id of a document inside its window.
func (s *Store) localID(id model.DocID) LocalID {
	return LocalID(uint32(id) % s.cfg.WindowSize)
}

// globalID converts a window index and local id back to an internal id.
func (s *Store) globalID(win int, doc LocalID) model.DocID {
	return model.DocID(uint32(win)*s.cfg.WindowSize + uint32(doc))
}

// Insert prunes the vector and adds its postings to the owning window,
// growing the window list as needed. Terms must be below the configured
// limit.
func (s *Store) Insert(id model.DocID, vec model.SparseVector) error {
	for _, term := range vec.Terms {
		if term >= s.cfg.TermIDLimit {
			return fmt.Errorf("term %d exceeds limit %d", term, s.cfg.TermIDLimit)
		}
	}

	pruned := vec.Prune(s.cfg.DocPruneRatio)

	win := s.AssignWindow(id)
	cost := s.postingBytes(pruned.Len())

	s.mu.Lock()
	if !s.cfg.Resources.TryAcquireMemory(cost) {
		s.mu.Unlock()
		return fmt.Errorf("%w: posting growth of %d bytes", resource.ErrMemoryLimit, cost)
	}
	s.reserved += cost

	for len(s.windows) <= win {
		s.windows = append(s.windows, NewWindow(s.cfg.Quantized))
	}

	w := s.windows[win]
	s.count++
	s.mu.Unlock()

	w.Add(s.localID(id), pruned)

	return nil
}

// postingBytes approximates the posting footprint of the given number of
// entries: a local doc id plus one value each.
func (s *Store) postingBytes(entries int) int64 {
	per := int64(2 + 4)
	if s.cfg.Quantized {
		per = 2 + 1
	}
	return int64(entries) * per
}

// Count returns the number of inserted documents.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.count
}

// WindowCount returns the number of allocated windows.
func (s *Store) WindowCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.windows)
}

// WindowAt returns the window with the given index, or nil if it has not
// been allocated.
func (s *Store) WindowAt(i int) *Window {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if i < 0 || i >= len(s.windows) {
		return nil
	}

	return s.windows[i]
}

// WindowSize returns the configured documents-per-window count.
func (s *Store) WindowSize() uint32 {
	return s.cfg.WindowSize
}

// Reconstruct rebuilds the stored (pruned, possibly dequantized) vector of
// an internal id.
func (s *Store) Reconstruct(id model.DocID) model.SparseVector {
	w := s.WindowAt(s.AssignWindow(id))
	if w == nil {
		return model.SparseVector{}
	}

	return w.Reconstruct(s.localID(id))
}

// MemoryUsage returns the approximate heap footprint in bytes.
func (s *Store) MemoryUsage() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total uint64
	for _, w := range s.windows {
		total += w.MemoryUsage()
	}

	return total
}

// Serialize writes the store in a deterministic layout: window count, then
// per window the document count and the term-sorted posting lists.
func (s *Store) Serialize(w io.Writer) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pw := persistence.NewWriter(w)

	if err := pw.WriteUint32(uint32(len(s.windows))); err != nil {
		return err
	}

	if err := pw.WriteUint64(uint64(s.count)); err != nil {
		return err
	}

	for _, win := range s.windows {
		if err := win.serialize(pw); err != nil {
			return err
		}
	}

	return nil
}

// Deserialize replaces the store contents with a previously serialized
// layout. The configuration must match the one used at write time.
func (s *Store) Deserialize(r io.Reader) error {
	pr := persistence.NewReader(r)

	numWindows, err := pr.ReadUint32()
	if err != nil {
		return err
	}

	count, err := pr.ReadUint64()
	if err != nil {
		return err
	}

	windows := make([]*Window, numWindows)
	for i := range windows {
		win := NewWindow(s.cfg.Quantized)
		if err := win.deserialize(pr); err != nil {
			return err
		}

		windows[i] = win
	}

	entries := 0
	for _, win := range windows {
		entries += win.postingEntries()
	}
	cost := s.postingBytes(entries)

	s.mu.Lock()
	s.cfg.Resources.ReleaseMemory(s.reserved)
	s.reserved = 0
	if !s.cfg.Resources.TryAcquireMemory(cost) {
		s.mu.Unlock()
		return fmt.Errorf("%w: posting snapshot of %d bytes", resource.ErrMemoryLimit, cost)
	}
	s.reserved = cost

	s.windows = windows
	s.count = int(count)
	s.mu.Unlock()

	return nil
}

// postingEntries counts the stored posting entries across all terms.
func (w *Window) postingEntries() int {
	w.mu.RLock()
	defer w.mu.RUnlock()

	n := 0
	for _, p := range w.terms {
		n += len(p.docs)
	}
	return n
}

func (w *Window) serialize(pw *persistence.Writer) error {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if err := pw.WriteUint32(uint32(w.count)); err != nil {
		return err
	}

	terms := make([]uint32, 0, len(w.terms))
	for term := range w.terms {
		terms = append(terms, term)
	}

	sort.Slice(terms, func(i, j int) bool { return terms[i] < terms[j] })

	if err := pw.WriteUint32(uint32(len(terms))); err != nil {
		return err
	}

	for _, term := range terms {
		p := w.terms[term]

		if err := pw.WriteUint32(term); err != nil {
			return err
		}

		if err := pw.WriteUint16Slice(p.docs); err != nil {
			return err
		}

		if w.quantized {
			if err := pw.WriteFloat32(p.lo); err != nil {
				return err
			}

			if err := pw.WriteFloat32(p.hi); err != nil {
				return err
			}

			if err := pw.WriteBytes(p.codes); err != nil {
				return err
			}
		} else {
			if err := pw.WriteFloat32Slice(p.vals); err != nil {
				return err
			}
		}
	}

	return nil
}

func (w *Window) deserialize(pr *persistence.Reader) error {
	count, err := pr.ReadUint32()
	if err != nil {
		return err
	}

	numTerms, err := pr.ReadUint32()
	if err != nil {
		return err
	}

	terms := make(map[uint32]*postingList, numTerms)

	for i := uint32(0); i < numTerms; i++ {
		term, err := pr.ReadUint32()
		if err != nil {
			return err
		}

		p := &postingList{}

		p.docs, err = pr.ReadUint16Slice()
		if err != nil {
			return err
		}

		if w.quantized {
			if p.lo, err = pr.ReadFloat32(); err != nil {
				return err
			}

			if p.hi, err = pr.ReadFloat32(); err != nil {
				return err
			}

			if p.codes, err = pr.ReadBytes(); err != nil {
				return err
			}

			if len(p.codes) != len(p.docs) {
				return fmt.Errorf("posting list for term %d: %d codes for %d docs", term, len(p.codes), len(p.docs))
			}
		} else {
			if p.vals, err = pr.ReadFloat32Slice(); err != nil {
				return err
			}

			if len(p.vals) != len(p.docs) {
				return fmt.Errorf("posting list for term %d: %d values for %d docs", term, len(p.vals), len(p.docs))
			}
		}

		terms[term] = p
	}

	w.mu.Lock()
	w.terms = terms
	w.count = int(count)
	w.mu.Unlock()

	return nil
}
