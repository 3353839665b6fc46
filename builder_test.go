package sindi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/sindi/persistence"
)

func TestBuilderDefaults(t *testing.T) {
	b := Sparse(128)

	assert.Equal(t, DefaultTermIDLimit, b.termIDLimit)
	assert.Equal(t, DefaultWindowSize, b.windowSize)
	assert.Equal(t, DefaultAvgDocTermLength, b.avgDocTermLength)
	assert.Equal(t, float64(0), b.docPruneRatio)
	assert.False(t, b.useReorder)
	assert.False(t, b.useQuantization)

	idx, err := b.Build()
	require.NoError(t, err)
	assert.Equal(t, 0, idx.Count())
}

func TestBuilderImmutability(t *testing.T) {
	base := Sparse(128)
	derived := base.WindowSize(10000).Reorder()

	assert.Equal(t, DefaultWindowSize, base.windowSize)
	assert.False(t, base.useReorder)
	assert.Equal(t, 10000, derived.windowSize)
	assert.True(t, derived.useReorder)
}

func TestBuilderValidation(t *testing.T) {
	tests := []struct {
		name    string
		builder Builder
	}{
		{"zero dim", Sparse(0)},
		{"negative dim", Sparse(-1)},
		{"zero term limit", Sparse(10).TermIDLimit(0)},
		{"window too small", Sparse(10).WindowSize(9999)},
		{"window too large", Sparse(10).WindowSize(60001)},
		{"negative doc prune", Sparse(10).DocPruneRatio(-0.1)},
		{"doc prune above half", Sparse(10).DocPruneRatio(0.6)},
		{"zero avg length", Sparse(10).AvgDocTermLength(0)},
		{"unknown compression", Sparse(10).Compression(persistence.Compression(9))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.builder.Build()
			assert.ErrorIs(t, err, ErrInvalidArgument)
		})
	}
}

func TestBuilderWindowBounds(t *testing.T) {
	for _, size := range []int{MinWindowSize, DefaultWindowSize, MaxWindowSize} {
		_, err := Sparse(10).WindowSize(size).Build()
		assert.NoError(t, err)
	}
}

func TestMustBuildPanics(t *testing.T) {
	assert.Panics(t, func() {
		Sparse(0).MustBuild()
	})
}

func TestEstimateMemory(t *testing.T) {
	b := Sparse(128).AvgDocTermLength(100)

	assert.Zero(t, b.EstimateMemory(0))

	base := b.EstimateMemory(10_000)
	assert.Greater(t, base, uint64(0))

	// Quantization shrinks the posting estimate.
	quant := b.Quantization().EstimateMemory(10_000)
	assert.Less(t, quant, base)

	// The reorder store grows it.
	reorder := b.Reorder().EstimateMemory(10_000)
	assert.Greater(t, reorder, base)

	// Pruning shrinks it.
	pruned := b.DocPruneRatio(0.5).EstimateMemory(10_000)
	assert.Less(t, pruned, base)

	// More documents cost more.
	assert.Greater(t, b.EstimateMemory(20_000), base)
}
