// Package labeltable maintains the bidirectional mapping between
// external labels and dense internal document ids.
//
// The table has two modes. While mutable it maintains a reverse hash
// map for O(1) label lookup. SetImmutable drops the reverse map to save
// memory and lookups degrade to a linear scan of the forward array; the
// transition is one-way. Removal is logical: a tombstone hides a label
// from default lookups without freeing its slot.
//
// When duplicate compression is enabled, several internal ids may carry
// the same label value; a representative id owns the set of member ids.
package labeltable

import (
	"fmt"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/sindi/model"
	"github.com/hupe1980/sindi/resource"
)

// Options configures a LabelTable.
type Options struct {
	// UseReverseMap maintains a label -> id hash map while the table
	// is mutable. Disable to trade lookup speed for memory.
	UseReverseMap bool

	// CompressDuplicates enables duplicate-label groups
	// (SetDuplicateID / GetDuplicateID).
	CompressDuplicates bool

	// InitialCapacity pre-sizes the forward array.
	InitialCapacity int
}

// DefaultOptions contains the default configuration.
var DefaultOptions = Options{
	UseReverseMap: true,
}

// LabelTable maps internal ids to labels and back.
// All methods are safe for concurrent use.
type LabelTable struct {
	mu sync.RWMutex

	labels  []model.Label   // forward array, index = internal id
	present *roaring.Bitmap // slots that have been inserted
	removed *roaring.Bitmap // tombstoned ids

	reverse   map[model.Label]model.DocID // nil once immutable or disabled
	immutable bool

	duplicates map[model.DocID]map[model.DocID]struct{}

	total     int // number of inserted ids
	highWater int // 1 + highest inserted id

	opts     Options
	rc       *resource.Controller
	reserved int64 // bytes held at the controller for the forward array
}

// New creates a LabelTable backed by the given resource controller.
// rc may be nil, in which case no memory accounting is performed.
func New(rc *resource.Controller, optFns ...func(o *Options)) *LabelTable {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	t := &LabelTable{
		present: roaring.New(),
		removed: roaring.New(),
		opts:    opts,
		rc:      rc,
	}
	if opts.UseReverseMap {
		t.reverse = make(map[model.Label]model.DocID)
	}
	if opts.CompressDuplicates {
		t.duplicates = make(map[model.DocID]map[model.DocID]struct{})
	}
	if opts.InitialCapacity > 0 {
		// When the memory limit does not cover the preallocation the
		// table starts empty; the first Resize reports the error.
		bytes := int64(opts.InitialCapacity) * 8
		if t.rc.TryAcquireMemory(bytes) {
			t.labels = make([]model.Label, opts.InitialCapacity)
			t.reserved = bytes
		}
	}
	return t
}

// WithoutReverseMap disables the reverse hash map from the start.
func WithoutReverseMap() func(o *Options) {
	return func(o *Options) {
		o.UseReverseMap = false
	}
}

// WithDuplicateCompression enables duplicate-label groups.
func WithDuplicateCompression() func(o *Options) {
	return func(o *Options) {
		o.CompressDuplicates = true
	}
}

// WithInitialCapacity pre-sizes the forward array.
func WithInitialCapacity(n int) func(o *Options) {
	return func(o *Options) {
		o.InitialCapacity = n
	}
}

// Capacity returns the current forward-array capacity.
func (t *LabelTable) Capacity() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.labels)
}

// Insert stores the forward (and, while mutable, reverse) mapping for
// id. The id must lie within the current capacity; callers grow the
// table with Resize first.
func (t *LabelTable) Insert(id model.DocID, label model.Label) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.immutable {
		return fmt.Errorf("%w: table is immutable", ErrImmutable)
	}
	if int(id) >= len(t.labels) {
		return fmt.Errorf("%w: id %d exceeds capacity %d (resize first)", ErrOutOfRange, id, len(t.labels))
	}

	wasPresent := t.present.Contains(uint32(id))
	if !wasPresent {
		t.total++
		t.present.Add(uint32(id))
	}

	if t.reverse != nil && wasPresent {
		// Relabeling a slot invalidates the old label's reverse entry
		// when it pointed here; re-point it to the lowest surviving id
		// still carrying that label.
		old := t.labels[id]
		if rid, ok := t.reverse[old]; ok && old != label && rid == id {
			delete(t.reverse, old)
			for i := 0; i < t.highWater; i++ {
				if i != int(id) && t.present.Contains(uint32(i)) && t.labels[i] == old {
					t.reverse[old] = model.DocID(i)
					break
				}
			}
		}
	}

	t.labels[id] = label

	if t.reverse != nil {
		// First insert wins: with duplicate labels the earliest id is
		// the representative.
		if _, ok := t.reverse[label]; !ok {
			t.reverse[label] = id
		}
	}

	if int(id)+1 > t.highWater {
		t.highWater = int(id) + 1
	}
	return nil
}

// GetLabelByID returns the label stored for id.
func (t *LabelTable) GetLabelByID(id model.DocID) (model.Label, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if !t.present.Contains(uint32(id)) {
		return 0, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return t.labels[id], nil
}

// GetIDByLabel resolves a label to its internal id. Tombstoned labels
// are invisible unless allowRemoved is set.
func (t *LabelTable) GetIDByLabel(label model.Label, allowRemoved bool) (model.DocID, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.getIDLocked(label, allowRemoved)
}

func (t *LabelTable) getIDLocked(label model.Label, allowRemoved bool) (model.DocID, error) {
	id, ok := t.lookupLocked(label)
	if !ok {
		return 0, fmt.Errorf("%w: label %d", ErrNotFound, label)
	}
	if !allowRemoved && t.removed.Contains(uint32(id)) {
		return 0, fmt.Errorf("%w: label %d is removed", ErrNotFound, label)
	}
	return id, nil
}

// lookupLocked finds the representative id for a label: hash map while
// available, otherwise a linear scan returning the lowest matching id.
func (t *LabelTable) lookupLocked(label model.Label) (model.DocID, bool) {
	if t.reverse != nil {
		id, ok := t.reverse[label]
		return id, ok
	}
	for i := 0; i < t.highWater; i++ {
		if t.labels[i] == label && t.present.Contains(uint32(i)) {
			return model.DocID(i), true
		}
	}
	return 0, false
}

// CheckLabel reports whether the label exists and is not tombstoned.
func (t *LabelTable) CheckLabel(label model.Label) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	_, err := t.getIDLocked(label, false)
	return err == nil
}

// MarkRemove sets the tombstone bit for the id currently mapped to the
// label. The forward and reverse entries stay queryable with
// allowRemoved.
func (t *LabelTable) MarkRemove(label model.Label) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	id, ok := t.lookupLocked(label)
	if !ok {
		return fmt.Errorf("%w: label %d", ErrNotFound, label)
	}
	t.removed.Add(uint32(id))
	return nil
}

// IsRemoved reports whether the id is tombstoned.
func (t *LabelTable) IsRemoved(id model.DocID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.removed.Contains(uint32(id))
}

// RemovedCount returns the number of tombstoned ids.
func (t *LabelTable) RemovedCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return int(t.removed.GetCardinality())
}

// SetImmutable drops the reverse map to save memory; label lookups fall
// back to a linear scan. The transition is one-way and serializes
// against in-flight inserts.
func (t *LabelTable) SetImmutable() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.immutable = true
	t.reverse = nil
}

// IsImmutable reports whether SetImmutable has been called.
func (t *LabelTable) IsImmutable() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.immutable
}

// Resize grows the forward array to newCapacity. Shrinking below the
// high-water mark is rejected; shrinking above it is a no-op.
func (t *LabelTable) Resize(newCapacity int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.resizeLocked(newCapacity)
}

func (t *LabelTable) resizeLocked(newCapacity int) error {
	if newCapacity < t.highWater {
		return fmt.Errorf("%w: capacity %d below high-water mark %d", ErrCapacityShrink, newCapacity, t.highWater)
	}
	if newCapacity <= len(t.labels) {
		return nil
	}

	delta := int64(newCapacity-len(t.labels)) * 8
	if !t.rc.TryAcquireMemory(delta) {
		return fmt.Errorf("%w: label table growth of %d bytes", resource.ErrMemoryLimit, delta)
	}
	t.reserved += delta

	grown := make([]model.Label, newCapacity)
	copy(grown, t.labels)
	t.labels = grown
	return nil
}

// GetTotalCount returns the number of inserted ids, tombstoned or not.
func (t *LabelTable) GetTotalCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.total
}

// SetDuplicateID records that member shares its label value with the
// representative id. Requires duplicate compression.
func (t *LabelTable) SetDuplicateID(representative, member model.DocID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.duplicates == nil {
		return fmt.Errorf("%w: duplicate compression disabled", ErrInvalidState)
	}
	if !t.present.Contains(uint32(representative)) {
		return fmt.Errorf("%w: representative id %d", ErrNotFound, representative)
	}
	if !t.present.Contains(uint32(member)) {
		return fmt.Errorf("%w: member id %d", ErrNotFound, member)
	}

	group, ok := t.duplicates[representative]
	if !ok {
		group = make(map[model.DocID]struct{})
		t.duplicates[representative] = group
	}
	group[member] = struct{}{}
	return nil
}

// GetDuplicateID returns the member ids registered for the
// representative, sorted ascending. The slice is empty when the id owns
// no group.
func (t *LabelTable) GetDuplicateID(representative model.DocID) []model.DocID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return sortedGroup(t.duplicates[representative])
}

// GetMemoryUsage returns the approximate allocated bytes.
func (t *LabelTable) GetMemoryUsage() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	usage := uint64(cap(t.labels)) * 8
	usage += t.present.GetSizeInBytes()
	usage += t.removed.GetSizeInBytes()
	if t.reverse != nil {
		// Rough per-entry cost of a map[uint64]uint32.
		usage += uint64(len(t.reverse)) * 16
	}
	for _, group := range t.duplicates {
		usage += 16 + uint64(len(group))*8
	}
	return usage
}
