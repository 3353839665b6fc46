package labeltable

import (
	"sort"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/sindi/model"
)

// DeletedFilter excludes tombstoned ids from a candidate set.
// It holds a snapshot of the tombstones taken at creation time, so it
// can be used during a scoring pass without holding the table lock.
type DeletedFilter struct {
	removed *roaring.Bitmap
}

// Matches implements model.Filter: true when the id is not tombstoned.
func (f *DeletedFilter) Matches(id model.DocID) bool {
	return !f.removed.Contains(uint32(id))
}

// Cardinality returns the number of excluded ids.
func (f *DeletedFilter) Cardinality() int {
	return int(f.removed.GetCardinality())
}

// GetDeletedIDsFilter returns a filter excluding tombstoned ids, or nil
// when nothing has been removed. The nil fast path lets scorers skip
// per-document checks entirely.
func (t *LabelTable) GetDeletedIDsFilter() *DeletedFilter {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.removed.IsEmpty() {
		return nil
	}
	return &DeletedFilter{removed: t.removed.Clone()}
}

func sortedGroup(group map[model.DocID]struct{}) []model.DocID {
	out := make([]model.DocID, 0, len(group))
	for id := range group {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
