package sindi

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/sindi/model"
	"github.com/hupe1980/sindi/persistence"
	"github.com/hupe1980/sindi/resource"
)

func populatedIndex(t *testing.T, optFns ...func(b Builder) Builder) *Index {
	t.Helper()

	b := Sparse(10).TermIDLimit(1000).WindowSize(10000).DuplicateCompression()
	for _, fn := range optFns {
		b = fn(b)
	}

	idx := b.MustBuild()
	ctx := context.Background()

	require.NoError(t, idx.Insert(ctx, 42, vec(map[uint32]float32{2: 0.9, 5: 0.1})))
	require.NoError(t, idx.Insert(ctx, 43, vec(map[uint32]float32{2: 0.3, 7: 0.8})))
	require.NoError(t, idx.Insert(ctx, 42, vec(map[uint32]float32{5: 0.6})))
	require.NoError(t, idx.Insert(ctx, 44, vec(map[uint32]float32{9: 0.7})))
	require.NoError(t, idx.Remove(ctx, 44))

	return idx
}

func assertRestored(t *testing.T, idx *Index) {
	t.Helper()

	ctx := context.Background()

	assert.Equal(t, 4, idx.Count())
	assert.Equal(t, 1, idx.Stats().RemovedCount)

	results, err := idx.KNNSearch(ctx, vec(map[uint32]float32{2: 1.0}), 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, model.Label(42), results[0].Label)
	assert.InDelta(t, 0.1, results[0].Distance, 1e-6)
	assert.Equal(t, model.Label(43), results[1].Label)

	// Tombstones survive the round trip.
	results, err = idx.KNNSearch(ctx, vec(map[uint32]float32{9: 1.0}), 1)
	require.NoError(t, err)
	assert.Empty(t, results)

	// New inserts continue from the restored id space.
	require.NoError(t, idx.Insert(ctx, 45, vec(map[uint32]float32{3: 0.5})))

	results, err = idx.KNNSearch(ctx, vec(map[uint32]float32{3: 1.0}), 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, model.Label(45), results[0].Label)
}

func TestSerializeRoundTrip(t *testing.T) {
	variants := []struct {
		name string
		fn   func(b Builder) Builder
	}{
		{"plain", func(b Builder) Builder { return b }},
		{"lz4", func(b Builder) Builder { return b.Compression(persistence.CompressionLZ4) }},
		{"zstd", func(b Builder) Builder { return b.Compression(persistence.CompressionZSTD) }},
		{"quantized", func(b Builder) Builder { return b.Quantization() }},
		{"reorder", func(b Builder) Builder { return b.Reorder() }},
		{"reorder zstd", func(b Builder) Builder { return b.Reorder().Compression(persistence.CompressionZSTD) }},
	}

	for _, v := range variants {
		t.Run(v.name, func(t *testing.T) {
			ctx := context.Background()
			src := populatedIndex(t, v.fn)

			var buf bytes.Buffer
			require.NoError(t, src.Serialize(ctx, &buf))

			dst := populatedIndex(t, v.fn)

			// Deserialize replaces prior contents entirely.
			require.NoError(t, dst.Deserialize(ctx, &buf))
			assertRestored(t, dst)
		})
	}
}

func TestSerializeIOLimited(t *testing.T) {
	rc := resource.NewController(resource.Config{IOLimitBytesPerSec: 16 * 1024})

	idx := Sparse(100).TermIDLimit(1000).WindowSize(10000).Resources(rc).MustBuild()
	ctx := context.Background()

	// Enough postings that the snapshot exceeds one second of IO budget;
	// the write must throttle, not fail.
	for i := 0; i < 300; i++ {
		pairs := make(map[uint32]float32, 10)
		for k := 0; k < 10; k++ {
			pairs[uint32((i*10+k)%1000)] = 0.1 + float32(k)*0.05
		}
		require.NoError(t, idx.Insert(ctx, model.Label(i+1), vec(pairs)))
	}

	var buf bytes.Buffer
	require.NoError(t, idx.Serialize(ctx, &buf))
	require.Greater(t, buf.Len(), 16*1024)

	restored := Sparse(100).TermIDLimit(1000).WindowSize(10000).MustBuild()
	require.NoError(t, restored.Deserialize(ctx, &buf))
	assert.Equal(t, 300, restored.Count())
}

func TestDeserializeFromBuffer(t *testing.T) {
	ctx := context.Background()
	src := populatedIndex(t)

	var buf bytes.Buffer
	require.NoError(t, src.Serialize(ctx, &buf))

	dst := populatedIndex(t)
	require.NoError(t, dst.DeserializeFromBuffer(ctx, buf.Bytes()))
	assertRestored(t, dst)
}

func TestLoadFile(t *testing.T) {
	ctx := context.Background()
	src := populatedIndex(t, func(b Builder) Builder { return b.Compression(persistence.CompressionZSTD) })

	var buf bytes.Buffer
	require.NoError(t, src.Serialize(ctx, &buf))

	path := filepath.Join(t.TempDir(), "index.sndi")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))

	dst := populatedIndex(t, func(b Builder) Builder { return b.Compression(persistence.CompressionZSTD) })
	require.NoError(t, dst.LoadFile(ctx, path))
	assertRestored(t, dst)
}

func TestDeserializeCorruption(t *testing.T) {
	ctx := context.Background()
	src := populatedIndex(t)

	var buf bytes.Buffer
	require.NoError(t, src.Serialize(ctx, &buf))

	data := buf.Bytes()

	t.Run("flipped byte", func(t *testing.T) {
		bad := append([]byte(nil), data...)
		bad[len(bad)/2] ^= 0xFF

		dst := populatedIndex(t)
		assert.ErrorIs(t, dst.Deserialize(ctx, bytes.NewReader(bad)), ErrCorruptState)
	})

	t.Run("truncated", func(t *testing.T) {
		dst := populatedIndex(t)
		assert.ErrorIs(t, dst.Deserialize(ctx, bytes.NewReader(data[:len(data)/2])), ErrCorruptState)
	})

	t.Run("bad magic", func(t *testing.T) {
		bad := append([]byte(nil), data...)
		bad[0] ^= 0xFF

		dst := populatedIndex(t)
		assert.ErrorIs(t, dst.Deserialize(ctx, bytes.NewReader(bad)), ErrCorruptState)
	})

	t.Run("empty buffer", func(t *testing.T) {
		dst := populatedIndex(t)
		assert.ErrorIs(t, dst.DeserializeFromBuffer(ctx, nil), ErrCorruptState)
	})
}

func TestDeserializeParameterMismatch(t *testing.T) {
	ctx := context.Background()
	src := populatedIndex(t)

	var buf bytes.Buffer
	require.NoError(t, src.Serialize(ctx, &buf))

	tests := []struct {
		name string
		idx  *Index
	}{
		{"different dim", Sparse(20).TermIDLimit(1000).WindowSize(10000).DuplicateCompression().MustBuild()},
		{"different term limit", Sparse(10).TermIDLimit(2000).WindowSize(10000).DuplicateCompression().MustBuild()},
		{"different window size", Sparse(10).TermIDLimit(1000).WindowSize(20000).DuplicateCompression().MustBuild()},
		{"reorder flag", Sparse(10).TermIDLimit(1000).WindowSize(10000).DuplicateCompression().Reorder().MustBuild()},
		{"quantized flag", Sparse(10).TermIDLimit(1000).WindowSize(10000).DuplicateCompression().Quantization().MustBuild()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.idx.Deserialize(ctx, bytes.NewReader(buf.Bytes()))
			assert.ErrorIs(t, err, ErrCorruptState)
		})
	}
}
