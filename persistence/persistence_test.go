package persistence

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	hdr := FileHeader{
		Compression: uint8(CompressionZSTD),
		Flags:       FlagQuantized | FlagDupCompress,
		Dim:         128,
		TermIDLimit: 1000000,
		WindowSize:  50000,
		Count:       42,
	}
	require.NoError(t, w.WriteHeader(&hdr))

	r := NewReader(bytes.NewReader(buf.Bytes()))
	got, err := r.ReadHeader()
	require.NoError(t, err)
	assert.Equal(t, uint32(MagicNumber), got.Magic)
	assert.Equal(t, uint32(Version), got.Version)
	assert.Equal(t, hdr.Flags, got.Flags)
	assert.Equal(t, hdr.Dim, got.Dim)
	assert.Equal(t, hdr.Count, got.Count)
}

func TestHeaderBadMagic(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.WriteHeader(&FileHeader{}))

	data := buf.Bytes()
	data[0] ^= 0xFF

	_, err := NewReader(bytes.NewReader(data)).ReadHeader()
	assert.ErrorIs(t, err, ErrInvalidMagic)
}

func TestHeaderTruncated(t *testing.T) {
	_, err := NewReader(bytes.NewReader([]byte{1, 2, 3})).ReadHeader()
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestPrimitiveRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	require.NoError(t, w.WriteUint8(7))
	require.NoError(t, w.WriteUint16(65535))
	require.NoError(t, w.WriteUint32(123456))
	require.NoError(t, w.WriteUint64(1<<40))
	require.NoError(t, w.WriteFloat32(-0.125))
	require.NoError(t, w.WriteUint16Slice([]uint16{1, 2, 3}))
	require.NoError(t, w.WriteUint32Slice([]uint32{9, 8}))
	require.NoError(t, w.WriteUint64Slice([]uint64{100, 200, 300}))
	require.NoError(t, w.WriteFloat32Slice([]float32{0.5, 1.5}))
	require.NoError(t, w.WriteBytes([]byte("hello")))

	r := NewReader(bytes.NewReader(buf.Bytes()))

	u8, err := r.ReadUint8()
	require.NoError(t, err)
	assert.Equal(t, uint8(7), u8)

	u16, err := r.ReadUint16()
	require.NoError(t, err)
	assert.Equal(t, uint16(65535), u16)

	u32, err := r.ReadUint32()
	require.NoError(t, err)
	assert.Equal(t, uint32(123456), u32)

	u64, err := r.ReadUint64()
	require.NoError(t, err)
	assert.Equal(t, uint64(1<<40), u64)

	f, err := r.ReadFloat32()
	require.NoError(t, err)
	assert.Equal(t, float32(-0.125), f)

	s16, err := r.ReadUint16Slice()
	require.NoError(t, err)
	assert.Equal(t, []uint16{1, 2, 3}, s16)

	s32, err := r.ReadUint32Slice()
	require.NoError(t, err)
	assert.Equal(t, []uint32{9, 8}, s32)

	s64, err := r.ReadUint64Slice()
	require.NoError(t, err)
	assert.Equal(t, []uint64{100, 200, 300}, s64)

	sf, err := r.ReadFloat32Slice()
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 1.5}, sf)

	b, err := r.ReadBytes()
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), b)
}

func TestChecksumWriterReader(t *testing.T) {
	var buf bytes.Buffer
	cw := NewChecksumWriter(&buf)
	_, err := cw.Write([]byte("some payload"))
	require.NoError(t, err)

	sum := cw.Sum()
	assert.Equal(t, Checksum([]byte("some payload")), sum)
	assert.Equal(t, int64(12), cw.BytesWritten())

	cr := NewChecksumReader(bytes.NewReader(buf.Bytes()))
	got := make([]byte, 12)
	_, err = cr.Read(got)
	require.NoError(t, err)
	assert.Equal(t, sum, cr.Sum())
}

func TestBlockCompressionRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	// Repetitive payload so both codecs actually compress.
	payload := bytes.Repeat([]byte("sparse posting data "), 4096)
	noise := make([]byte, 512)
	rng.Read(noise)
	payload = append(payload, noise...)

	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZSTD} {
		t.Run(c.String(), func(t *testing.T) {
			var buf bytes.Buffer
			bw := NewBlockWriter(&buf, c, 16*1024)
			_, err := bw.Write(payload)
			require.NoError(t, err)
			require.NoError(t, bw.Flush())

			got, err := DecompressAll(buf.Bytes(), c)
			require.NoError(t, err)
			assert.Equal(t, payload, got)
		})
	}
}

func TestDecompressAllTruncated(t *testing.T) {
	var buf bytes.Buffer
	bw := NewBlockWriter(&buf, CompressionLZ4, 1024)
	_, err := bw.Write(bytes.Repeat([]byte("abc"), 2000))
	require.NoError(t, err)
	require.NoError(t, bw.Flush())

	data := buf.Bytes()
	_, err = DecompressAll(data[:len(data)-3], CompressionLZ4)
	assert.Error(t, err)
}
