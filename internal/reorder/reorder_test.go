package reorder

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/sindi/model"
	"github.com/hupe1980/sindi/resource"
)

func TestInsertMemoryLimit(t *testing.T) {
	rc := resource.NewController(resource.Config{MemoryLimitBytes: 100})
	f := NewFlat(rc)

	// Two terms cost 2*8+48 = 64 bytes; the second copy exceeds the
	// 100 byte budget.
	v := model.SparseVector{Terms: []uint32{1, 2}, Values: []float32{0.5, 0.4}}
	require.NoError(t, f.Insert(0, v))

	err := f.Insert(1, v)
	require.ErrorIs(t, err, resource.ErrMemoryLimit)
	assert.Equal(t, 1, f.Count())
	assert.Equal(t, int64(64), rc.MemoryUsage())
}

func TestInsertAndGet(t *testing.T) {
	f := NewFlat(nil)

	require.NoError(t, f.Insert(2, model.SparseVector{Terms: []uint32{5, 1}, Values: []float32{0.5, 0.9}}))

	got, ok := f.Get(2)
	require.True(t, ok)
	assert.Equal(t, []uint32{1, 5}, got.Terms)
	assert.Equal(t, []float32{0.9, 0.5}, got.Values)

	_, ok = f.Get(0)
	assert.False(t, ok)

	_, ok = f.Get(100)
	assert.False(t, ok)

	assert.Equal(t, 1, f.Count())
}

func TestReorderPromotesExactScores(t *testing.T) {
	f := NewFlat(nil)

	// Pruned postings scored doc 0 above doc 1, but the full vectors
	// rank doc 1 higher.
	require.NoError(t, f.Insert(0, model.SparseVector{Terms: []uint32{1}, Values: []float32{0.5}}))
	require.NoError(t, f.Insert(1, model.SparseVector{Terms: []uint32{1, 2}, Values: []float32{0.4, 0.4}}))

	query := model.SparseVector{Terms: []uint32{1, 2}, Values: []float32{1.0, 1.0}}

	approx := []model.Candidate{
		{ID: 0, Score: 0.5},
		{ID: 1, Score: 0.4},
	}

	got := f.Reorder(approx, query, 2)

	require.Len(t, got, 2)
	assert.Equal(t, model.DocID(1), got[0].ID)
	assert.InDelta(t, 0.8, got[0].Score, 1e-6)
	assert.Equal(t, model.DocID(0), got[1].ID)
	assert.InDelta(t, 0.5, got[1].Score, 1e-6)
}

func TestReorderShrinksCandidateSet(t *testing.T) {
	f := NewFlat(nil)
	for id := model.DocID(0); id < 10; id++ {
		require.NoError(t, f.Insert(id, model.SparseVector{Terms: []uint32{1}, Values: []float32{float32(id) * 0.1}}))
	}

	query := model.SparseVector{Terms: []uint32{1}, Values: []float32{1.0}}

	var approx []model.Candidate
	for id := model.DocID(0); id < 10; id++ {
		approx = append(approx, model.Candidate{ID: id, Score: 0})
	}

	got := f.Reorder(approx, query, 3)

	require.Len(t, got, 3)
	assert.Equal(t, model.DocID(9), got[0].ID)
	assert.Equal(t, model.DocID(8), got[1].ID)
	assert.Equal(t, model.DocID(7), got[2].ID)
}

func TestReorderUnknownIDKeepsApproxScore(t *testing.T) {
	f := NewFlat(nil)
	require.NoError(t, f.Insert(0, model.SparseVector{Terms: []uint32{1}, Values: []float32{0.9}}))

	query := model.SparseVector{Terms: []uint32{1}, Values: []float32{1.0}}

	got := f.Reorder([]model.Candidate{
		{ID: 0, Score: 0.1},
		{ID: 5, Score: 0.4},
	}, query, 2)

	require.Len(t, got, 2)
	assert.Equal(t, model.DocID(0), got[0].ID)
	assert.InDelta(t, 0.9, got[0].Score, 1e-6)
	assert.Equal(t, model.DocID(5), got[1].ID)
	assert.InDelta(t, 0.4, got[1].Score, 1e-6)
}

func TestSerializeRoundTrip(t *testing.T) {
	f := NewFlat(nil)
	require.NoError(t, f.Insert(0, model.SparseVector{Terms: []uint32{1, 3}, Values: []float32{0.5, -0.2}}))
	require.NoError(t, f.Insert(3, model.SparseVector{Terms: []uint32{2}, Values: []float32{0.8}}))

	var buf bytes.Buffer
	require.NoError(t, f.Serialize(&buf))

	loaded := NewFlat(nil)
	require.NoError(t, loaded.Deserialize(&buf))

	assert.Equal(t, f.Count(), loaded.Count())

	got, ok := loaded.Get(0)
	require.True(t, ok)
	assert.Equal(t, []uint32{1, 3}, got.Terms)

	got, ok = loaded.Get(3)
	require.True(t, ok)
	assert.Equal(t, []float32{0.8}, got.Values)

	_, ok = loaded.Get(1)
	assert.False(t, ok)
}
