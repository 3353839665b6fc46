package sindi

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/sindi/internal/reorder"
	"github.com/hupe1980/sindi/internal/scorer"
	"github.com/hupe1980/sindi/internal/window"
	"github.com/hupe1980/sindi/labeltable"
	"github.com/hupe1980/sindi/model"
	"github.com/hupe1980/sindi/persistence"
	"github.com/hupe1980/sindi/resource"
)

// Index is a sparse-vector inner-product search index. Documents are
// identified by opaque uint64 labels; internally they receive dense ids
// that partition into fixed-size windows of inverted lists.
//
// All methods are safe for concurrent use. Searches run against a
// consistent view of each window; inserts into different windows do not
// contend.
type Index struct {
	dim              int
	termIDLimit      int
	docPruneRatio    float64
	useReorder       bool
	useQuantization  bool
	dupCompression   bool
	avgDocTermLength int
	compression      persistence.Compression

	logger  *Logger
	metrics MetricsCollector
	rc      *resource.Controller

	// mu serializes mutation against snapshot operations. Searches do
	// not take it; component-level locking keeps reads consistent.
	mu     sync.RWMutex
	labels *labeltable.LabelTable
	store  *window.Store
	flat   *reorder.Flat
	score  *scorer.Scorer
	nextID atomic.Uint32
}

func newIndex(b Builder) *Index {
	idx := &Index{
		dim:              b.dim,
		termIDLimit:      b.termIDLimit,
		docPruneRatio:    b.docPruneRatio,
		useReorder:       b.useReorder,
		useQuantization:  b.useQuantization,
		dupCompression:   b.dupCompression,
		avgDocTermLength: b.avgDocTermLength,
		compression:      b.compression,
		logger:           b.logger,
		metrics:          b.metrics,
		rc:               b.resources,
	}

	if idx.logger == nil {
		idx.logger = NoopLogger()
	}

	if idx.metrics == nil {
		idx.metrics = NoopMetricsCollector{}
	}

	var tableOpts []func(o *labeltable.Options)
	if b.dupCompression {
		tableOpts = append(tableOpts, labeltable.WithDuplicateCompression())
	}

	idx.labels = labeltable.New(b.resources, tableOpts...)

	idx.store = window.NewStore(window.Config{
		WindowSize:    uint32(b.windowSize),
		TermIDLimit:   uint32(b.termIDLimit),
		DocPruneRatio: b.docPruneRatio,
		Quantized:     b.useQuantization,
		Resources:     b.resources,
	})

	if b.useReorder {
		idx.flat = reorder.NewFlat(b.resources)
	}

	idx.score = scorer.New(idx.store)

	return idx
}

// validateVector checks dimension, term bounds and pair integrity.
func (idx *Index) validateVector(vec model.SparseVector) error {
	if err := vec.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	if vec.Len() > idx.dim {
		return &ErrDimensionExceeded{Dim: idx.dim, Actual: vec.Len()}
	}

	for _, term := range vec.Terms {
		if int(term) >= idx.termIDLimit {
			return &ErrTermOutOfRange{TermID: term, Limit: idx.termIDLimit}
		}
	}

	return nil
}

// insertOne runs the full insertion pipeline for one vector: id
// allocation, label registration (with optional duplicate grouping),
// posting construction and, when enabled, the exact reorder copy.
func (idx *Index) insertOne(label model.Label, vec model.SparseVector) error {
	if err := idx.validateVector(vec); err != nil {
		return err
	}

	if vec.Len() == 0 {
		return fmt.Errorf("%w: empty vector", ErrInvalidArgument)
	}

	// Reject before allocating so a refused insert does not consume an
	// internal id.
	if idx.labels.IsImmutable() {
		return fmt.Errorf("%w: index is immutable", ErrInvalidArgument)
	}

	id := model.DocID(idx.nextID.Add(1) - 1)

	if int(id) >= idx.labels.Capacity() {
		newCap := idx.labels.Capacity() * 2
		if newCap < 1024 {
			newCap = 1024
		}

		if newCap <= int(id) {
			newCap = int(id) + 1
		}

		if err := idx.labels.Resize(newCap); err != nil {
			return translateError(err)
		}
	}

	var rep model.DocID

	hasRep := false

	if idx.dupCompression {
		if r, err := idx.labels.GetIDByLabel(label, true); err == nil {
			rep, hasRep = r, true
		}
	}

	if err := idx.labels.Insert(id, label); err != nil {
		return translateError(err)
	}

	if hasRep {
		if err := idx.labels.SetDuplicateID(rep, id); err != nil {
			return translateError(err)
		}
	}

	if err := idx.store.Insert(id, vec); err != nil {
		if errors.Is(err, resource.ErrMemoryLimit) {
			return translateError(err)
		}
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	if idx.flat != nil {
		if err := idx.flat.Insert(id, vec); err != nil {
			return translateError(err)
		}
	}

	return nil
}

// Build performs the initial bulk load. The whole batch is validated up
// front and rejected as a unit if any vector is malformed; on success all
// vectors land. Build may only be called on an empty index.
func (idx *Index) Build(ctx context.Context, labels []model.Label, vectors []model.SparseVector) error {
	start := time.Now()

	if len(labels) != len(vectors) {
		return fmt.Errorf("%w: %d labels for %d vectors", ErrInvalidArgument, len(labels), len(vectors))
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.nextID.Load() != 0 {
		return fmt.Errorf("%w: index is not empty", ErrInvalidArgument)
	}

	for i, vec := range vectors {
		if err := idx.validateVector(vec); err != nil {
			return fmt.Errorf("vector %d: %w", i, err)
		}

		if vec.Len() == 0 {
			return fmt.Errorf("vector %d: %w: empty vector", i, ErrInvalidArgument)
		}
	}

	for i, vec := range vectors {
		if err := idx.insertOne(labels[i], vec); err != nil {
			return fmt.Errorf("vector %d: %w", i, err)
		}
	}

	idx.logger.LogBatchInsert(ctx, len(vectors), 0)
	idx.metrics.RecordBatchInsert(len(vectors), 0, time.Since(start))

	return nil
}

// Insert adds one vector under the given label. Labels need not be
// unique; with duplicate compression enabled, repeated labels join the
// duplicate group of the first insertion.
func (idx *Index) Insert(ctx context.Context, label model.Label, vec model.SparseVector) error {
	start := time.Now()

	idx.mu.RLock()
	err := idx.insertOne(label, vec)
	idx.mu.RUnlock()

	idx.logger.LogInsert(ctx, uint64(label), vec.Len(), err)
	idx.metrics.RecordInsert(time.Since(start), err)

	return err
}

// BatchInsert adds vectors with per-item error reporting: malformed
// vectors are skipped and their errors joined into the returned error,
// valid vectors land regardless.
func (idx *Index) BatchInsert(ctx context.Context, labels []model.Label, vectors []model.SparseVector) error {
	start := time.Now()

	if len(labels) != len(vectors) {
		return fmt.Errorf("%w: %d labels for %d vectors", ErrInvalidArgument, len(labels), len(vectors))
	}

	var errs []error

	idx.mu.RLock()
	for i, vec := range vectors {
		if err := idx.insertOne(labels[i], vec); err != nil {
			errs = append(errs, fmt.Errorf("vector %d (label %d): %w", i, labels[i], err))
		}
	}
	idx.mu.RUnlock()

	idx.logger.LogBatchInsert(ctx, len(vectors), len(errs))
	idx.metrics.RecordBatchInsert(len(vectors), len(errs), time.Since(start))

	return errors.Join(errs...)
}

// Remove tombstones a label. The document stays in the posting lists but
// is filtered out of every search; the mapping remains queryable with the
// explicit allow-removed override of the label table.
func (idx *Index) Remove(ctx context.Context, label model.Label) error {
	start := time.Now()

	idx.mu.RLock()
	err := translateError(idx.labels.MarkRemove(label))
	idx.mu.RUnlock()

	idx.logger.LogRemove(ctx, uint64(label), err)
	idx.metrics.RecordRemove(time.Since(start), err)

	return err
}

// SetImmutable drops the reverse label map to save memory. Label lookups
// fall back to a linear scan. The transition is one-way and rejects
// subsequent inserts; callers should quiesce writers first.
func (idx *Index) SetImmutable() {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.labels.SetImmutable()
}

// DistanceByLabel computes the distance (1 - inner product) between the
// query and the stored vector of a label. With the reorder store enabled
// the result is exact; otherwise it is computed from the pruned, possibly
// quantized postings.
func (idx *Index) DistanceByLabel(query model.SparseVector, label model.Label) (float32, error) {
	if err := idx.validateVector(query); err != nil {
		return 0, err
	}

	id, err := idx.labels.GetIDByLabel(label, false)
	if err != nil {
		return 0, translateError(err)
	}

	var stored model.SparseVector

	if idx.flat != nil {
		if v, ok := idx.flat.Get(id); ok {
			stored = v
		}
	}

	if stored.Len() == 0 {
		stored = idx.store.Reconstruct(id)
	}

	if stored.Len() == 0 {
		return 0, fmt.Errorf("%w: no vector for label %d", ErrNotFound, label)
	}

	return 1 - query.SortByTerm().Dot(stored), nil
}

// Count returns the number of inserted documents, including tombstoned
// ones.
func (idx *Index) Count() int {
	return idx.labels.GetTotalCount()
}

// GetMemoryUsage returns the approximate heap footprint in bytes.
func (idx *Index) GetMemoryUsage() uint64 {
	total := idx.labels.GetMemoryUsage() + idx.store.MemoryUsage()
	if idx.flat != nil {
		total += idx.flat.MemoryUsage()
	}

	return total
}

// WindowStats describes one window.
type WindowStats struct {
	Documents int
	Terms     int
}

// Stats is a point-in-time snapshot of index composition.
type Stats struct {
	Count        int
	RemovedCount int
	WindowCount  int
	Windows      []WindowStats
	MemoryUsage  uint64
}

// Stats returns a snapshot of index composition.
func (idx *Index) Stats() Stats {
	s := Stats{
		Count:        idx.labels.GetTotalCount(),
		RemovedCount: idx.labels.RemovedCount(),
		WindowCount:  idx.store.WindowCount(),
		MemoryUsage:  idx.GetMemoryUsage(),
	}

	for i := 0; i < s.WindowCount; i++ {
		w := idx.store.WindowAt(i)
		s.Windows = append(s.Windows, WindowStats{
			Documents: w.Len(),
			Terms:     w.TermCount(),
		})
	}

	return s
}

// translateError maps component errors onto the package sentinels so
// callers can match with errors.Is at the API boundary.
func translateError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, labeltable.ErrNotFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, labeltable.ErrOutOfRange):
		return fmt.Errorf("%w: %v", ErrOutOfRange, err)
	case errors.Is(err, labeltable.ErrCapacityShrink):
		return fmt.Errorf("%w: %v", ErrCapacityShrink, err)
	case errors.Is(err, labeltable.ErrImmutable):
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	case errors.Is(err, labeltable.ErrInvalidState):
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	case errors.Is(err, labeltable.ErrCorrupt):
		return fmt.Errorf("%w: %v", ErrCorruptState, err)
	case errors.Is(err, resource.ErrMemoryLimit):
		return fmt.Errorf("%w: %v", ErrResourceExhausted, err)
	default:
		return err
	}
}
