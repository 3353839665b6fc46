package labeltable

import (
	"fmt"
	"io"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/sindi/model"
	"github.com/hupe1980/sindi/persistence"
	"github.com/hupe1980/sindi/resource"
)

// Table section flag bits.
const (
	flagCompressDuplicates = 1 << 0
	flagImmutable          = 1 << 1
)

// Serialize writes the table to w: capacity, total count, flags,
// forward label array, present/tombstone bitmaps and duplicate groups.
// The reverse map is not persisted; it is reconstructed on load.
func (t *LabelTable) Serialize(w io.Writer) error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	bw := persistence.NewWriter(w)

	if err := bw.WriteUint64(uint64(len(t.labels))); err != nil {
		return err
	}
	if err := bw.WriteUint64(uint64(t.total)); err != nil {
		return err
	}

	var flags uint8
	if t.opts.CompressDuplicates {
		flags |= flagCompressDuplicates
	}
	if t.immutable {
		flags |= flagImmutable
	}
	if err := bw.WriteUint8(flags); err != nil {
		return err
	}

	forward := make([]uint64, t.highWater)
	for i := range forward {
		forward[i] = uint64(t.labels[i])
	}
	if err := bw.WriteUint64Slice(forward); err != nil {
		return err
	}

	if err := writeBitmap(bw, t.present); err != nil {
		return err
	}
	if err := writeBitmap(bw, t.removed); err != nil {
		return err
	}

	if !t.opts.CompressDuplicates {
		return nil
	}

	reps := make([]model.DocID, 0, len(t.duplicates))
	for rep := range t.duplicates {
		reps = append(reps, rep)
	}
	sort.Slice(reps, func(i, j int) bool { return reps[i] < reps[j] })

	if err := bw.WriteUint32(uint32(len(reps))); err != nil {
		return err
	}
	for _, rep := range reps {
		if err := bw.WriteUint32(uint32(rep)); err != nil {
			return err
		}
		members := sortedGroup(t.duplicates[rep])
		ids := make([]uint32, len(members))
		for i, m := range members {
			ids[i] = uint32(m)
		}
		if err := bw.WriteUint32Slice(ids); err != nil {
			return err
		}
	}
	return nil
}

// Deserialize replaces the table contents with the serialized state
// from r. The reverse map is rebuilt from the forward array when the
// loaded table is still mutable and the reverse map is enabled.
func (t *LabelTable) Deserialize(r io.Reader) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	br := persistence.NewReader(r)

	capacity, err := br.ReadUint64()
	if err != nil {
		return err
	}
	total, err := br.ReadUint64()
	if err != nil {
		return err
	}
	flags, err := br.ReadUint8()
	if err != nil {
		return err
	}

	forward, err := br.ReadUint64Slice()
	if err != nil {
		return err
	}
	if uint64(len(forward)) > capacity {
		return fmt.Errorf("%w: forward array larger than capacity", ErrCorrupt)
	}

	present, err := readBitmap(br)
	if err != nil {
		return err
	}
	removed, err := readBitmap(br)
	if err != nil {
		return err
	}
	if uint64(present.GetCardinality()) != total {
		return fmt.Errorf("%w: present cardinality %d, total %d", ErrCorrupt, present.GetCardinality(), total)
	}

	duplicates := make(map[model.DocID]map[model.DocID]struct{})
	if flags&flagCompressDuplicates != 0 {
		groupCount, err := br.ReadUint32()
		if err != nil {
			return err
		}
		for i := uint32(0); i < groupCount; i++ {
			rep, err := br.ReadUint32()
			if err != nil {
				return err
			}
			if !present.Contains(rep) {
				return fmt.Errorf("%w: duplicate group references unknown representative %d", ErrCorrupt, rep)
			}
			members, err := br.ReadUint32Slice()
			if err != nil {
				return err
			}
			group := make(map[model.DocID]struct{}, len(members))
			for _, m := range members {
				if !present.Contains(m) {
					return fmt.Errorf("%w: duplicate group references unknown member %d", ErrCorrupt, m)
				}
				group[model.DocID(m)] = struct{}{}
			}
			duplicates[model.DocID(rep)] = group
		}
	}

	labels := make([]model.Label, capacity)
	highWater := 0
	for i, l := range forward {
		labels[i] = model.Label(l)
	}
	if !present.IsEmpty() {
		highWater = int(present.Maximum()) + 1
	}
	if highWater > len(forward) {
		return fmt.Errorf("%w: present bitmap beyond forward array", ErrCorrupt)
	}

	// Swap the forward-array reservation: release what the previous
	// contents held before reserving for the loaded capacity.
	t.rc.ReleaseMemory(t.reserved)
	t.reserved = 0
	bytes := int64(capacity) * 8
	if !t.rc.TryAcquireMemory(bytes) {
		return fmt.Errorf("%w: label table snapshot of %d bytes", resource.ErrMemoryLimit, bytes)
	}
	t.reserved = bytes

	t.labels = labels
	t.present = present
	t.removed = removed
	t.total = int(total)
	t.highWater = highWater
	t.immutable = flags&flagImmutable != 0
	t.opts.CompressDuplicates = flags&flagCompressDuplicates != 0
	t.duplicates = nil
	if t.opts.CompressDuplicates {
		t.duplicates = duplicates
	}

	t.reverse = nil
	if t.opts.UseReverseMap && !t.immutable {
		t.reverse = make(map[model.Label]model.DocID, total)
		for i := 0; i < highWater; i++ {
			if !present.Contains(uint32(i)) {
				continue
			}
			if _, ok := t.reverse[labels[i]]; !ok {
				t.reverse[labels[i]] = model.DocID(i)
			}
		}
	}

	return nil
}

func writeBitmap(bw *persistence.Writer, rb *roaring.Bitmap) error {
	data, err := rb.MarshalBinary()
	if err != nil {
		return err
	}
	return bw.WriteBytes(data)
}

func readBitmap(br *persistence.Reader) (*roaring.Bitmap, error) {
	data, err := br.ReadBytes()
	if err != nil {
		return nil, err
	}
	rb := roaring.New()
	if err := rb.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	return rb, nil
}
