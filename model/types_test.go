package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSparseVectorValidate(t *testing.T) {
	tests := []struct {
		name    string
		vec     SparseVector
		wantErr bool
	}{
		{
			name: "valid",
			vec:  SparseVector{Terms: []uint32{2, 5, 9}, Values: []float32{0.1, 0.2, 0.3}},
		},
		{
			name: "empty",
			vec:  SparseVector{},
		},
		{
			name:    "length mismatch",
			vec:     SparseVector{Terms: []uint32{1, 2}, Values: []float32{0.5}},
			wantErr: true,
		},
		{
			name:    "duplicate term",
			vec:     SparseVector{Terms: []uint32{3, 3}, Values: []float32{0.5, 0.6}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.vec.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSparseVectorPrune(t *testing.T) {
	v := SparseVector{
		Terms:  []uint32{10, 2, 7, 4},
		Values: []float32{0.9, -0.1, 0.5, 0.3},
	}

	// ceil(4 * 0.5) = 2 survivors, ranked by |value|: terms 10 and 7.
	pruned := v.Prune(0.5)
	assert.Equal(t, []uint32{7, 10}, pruned.Terms)
	assert.Equal(t, []float32{0.5, 0.9}, pruned.Values)

	// Original is untouched.
	assert.Equal(t, []uint32{10, 2, 7, 4}, v.Terms)
}

func TestSparseVectorPruneTieBreak(t *testing.T) {
	// Equal magnitudes: the lower term id survives.
	v := SparseVector{
		Terms:  []uint32{8, 3},
		Values: []float32{0.5, -0.5},
	}
	pruned := v.Prune(0.5)
	require.Equal(t, 1, pruned.Len())
	assert.Equal(t, uint32(3), pruned.Terms[0])
}

func TestSparseVectorPruneKeepsAtLeastOne(t *testing.T) {
	v := SparseVector{Terms: []uint32{1}, Values: []float32{0.01}}
	pruned := v.Prune(0.9)
	assert.Equal(t, 1, pruned.Len())
}

func TestSparseVectorDot(t *testing.T) {
	a := SparseVector{Terms: []uint32{1, 3, 5}, Values: []float32{1, 2, 3}}.SortByTerm()
	b := SparseVector{Terms: []uint32{3, 5, 7}, Values: []float32{4, 5, 6}}.SortByTerm()

	// 2*4 + 3*5 = 23
	assert.InDelta(t, 23.0, a.Dot(b), 1e-6)
	assert.InDelta(t, 23.0, b.Dot(a), 1e-6)

	empty := SparseVector{}
	assert.Zero(t, a.Dot(empty))
}

func TestCandidateBetter(t *testing.T) {
	assert.True(t, Candidate{ID: 5, Score: 0.9}.Better(Candidate{ID: 1, Score: 0.5}))
	assert.False(t, Candidate{ID: 5, Score: 0.5}.Better(Candidate{ID: 1, Score: 0.9}))
	// Equal scores: lower id wins.
	assert.True(t, Candidate{ID: 1, Score: 0.5}.Better(Candidate{ID: 2, Score: 0.5}))
	assert.False(t, Candidate{ID: 2, Score: 0.5}.Better(Candidate{ID: 1, Score: 0.5}))
}

func TestAndFilter(t *testing.T) {
	even := FilterFunc(func(id DocID) bool { return id%2 == 0 })
	small := FilterFunc(func(id DocID) bool { return id < 10 })

	assert.Nil(t, AndFilter(nil, nil))

	f := AndFilter(even, nil, small)
	require.NotNil(t, f)
	assert.True(t, f.Matches(4))
	assert.False(t, f.Matches(5))
	assert.False(t, f.Matches(12))

	single := AndFilter(nil, even)
	require.NotNil(t, single)
	assert.True(t, single.Matches(2))
}
