package persistence

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// ZSTD encoder/decoder pools for efficiency.
var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func putZstdEncoder(enc *zstd.Encoder) {
	zstdEncoderPool.Put(enc)
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

func putZstdDecoder(dec *zstd.Decoder) {
	zstdDecoderPool.Put(dec)
}

// Block framing: [UncompressedSize uint32][CompressedSize uint32][Data].
// CompressedSize == 0 means the block is stored uncompressed.
const blockHeaderSize = 8

// compressBlock compresses one block. If compression does not pay off
// (ratio > 0.9) the block is stored raw.
func compressBlock(data []byte, c Compression) ([]byte, error) {
	var compressed []byte
	var err error

	switch c {
	case CompressionLZ4:
		compressed, err = compressBlockLZ4(data)
	case CompressionZSTD:
		enc := getZstdEncoder()
		compressed = enc.EncodeAll(data, nil)
		putZstdEncoder(enc)
	default:
		compressed = nil
	}
	if err != nil {
		return nil, err
	}

	if len(compressed) == 0 || float64(len(compressed)) > float64(len(data))*0.9 {
		result := make([]byte, blockHeaderSize+len(data))
		binary.LittleEndian.PutUint32(result[0:], uint32(len(data)))
		binary.LittleEndian.PutUint32(result[4:], 0)
		copy(result[blockHeaderSize:], data)
		return result, nil
	}

	result := make([]byte, blockHeaderSize+len(compressed))
	binary.LittleEndian.PutUint32(result[0:], uint32(len(data)))
	binary.LittleEndian.PutUint32(result[4:], uint32(len(compressed)))
	copy(result[blockHeaderSize:], compressed)
	return result, nil
}

func compressBlockLZ4(data []byte) ([]byte, error) {
	bound := lz4.CompressBlockBound(len(data))
	compressed := make([]byte, bound)

	n, err := lz4.CompressBlock(data, compressed, nil)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil // Incompressible
	}
	return compressed[:n], nil
}

func decompressBlock(data []byte, c Compression) (block []byte, consumed int, err error) {
	if len(data) < blockHeaderSize {
		return nil, 0, fmt.Errorf("%w: block header", ErrTruncated)
	}

	uncompressedSize := int(binary.LittleEndian.Uint32(data[0:]))
	compressedSize := int(binary.LittleEndian.Uint32(data[4:]))

	if compressedSize == 0 {
		end := blockHeaderSize + uncompressedSize
		if len(data) < end {
			return nil, 0, fmt.Errorf("%w: raw block body", ErrTruncated)
		}
		return data[blockHeaderSize:end], end, nil
	}

	end := blockHeaderSize + compressedSize
	if len(data) < end {
		return nil, 0, fmt.Errorf("%w: compressed block body", ErrTruncated)
	}
	payload := data[blockHeaderSize:end]
	result := make([]byte, uncompressedSize)

	switch c {
	case CompressionZSTD:
		dec := getZstdDecoder()
		decoded, err := dec.DecodeAll(payload, result[:0])
		putZstdDecoder(dec)
		if err != nil {
			return nil, 0, err
		}
		if len(decoded) != uncompressedSize {
			return nil, 0, fmt.Errorf("%w: decompressed size mismatch", ErrTruncated)
		}
		return decoded, end, nil

	default: // LZ4
		n, err := lz4.UncompressBlock(payload, result)
		if err != nil {
			return nil, 0, err
		}
		if n != uncompressedSize {
			return nil, 0, fmt.Errorf("%w: decompressed size mismatch", ErrTruncated)
		}
		return result, end, nil
	}
}

// BlockWriter writes compressed blocks to an underlying writer.
// It implements io.Writer; Flush must be called before the stream is
// finalized.
type BlockWriter struct {
	w           io.Writer
	compression Compression
	blockSize   int
	buffer      *bytes.Buffer
	written     int64
}

// DefaultBlockSize is the buffered block size before compression.
const DefaultBlockSize = 256 * 1024

// NewBlockWriter creates a new compressed block writer.
func NewBlockWriter(w io.Writer, compression Compression, blockSize int) *BlockWriter {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	return &BlockWriter{
		w:           w,
		compression: compression,
		blockSize:   blockSize,
		buffer:      bytes.NewBuffer(make([]byte, 0, blockSize)),
	}
}

// Write buffers data, flushing full blocks as needed.
func (c *BlockWriter) Write(p []byte) (int, error) {
	total := 0
	for len(p) > 0 {
		space := c.blockSize - c.buffer.Len()
		if space <= 0 {
			if err := c.Flush(); err != nil {
				return total, err
			}
			space = c.blockSize
		}

		toWrite := min(len(p), space)
		n, err := c.buffer.Write(p[:toWrite])
		if err != nil {
			return total, err
		}
		total += n
		p = p[n:]
	}
	return total, nil
}

// Flush compresses and writes the current block.
func (c *BlockWriter) Flush() error {
	if c.buffer.Len() == 0 {
		return nil
	}

	block, err := compressBlock(c.buffer.Bytes(), c.compression)
	if err != nil {
		return err
	}

	n, err := c.w.Write(block)
	c.written += int64(n)
	if err != nil {
		return err
	}
	c.buffer.Reset()
	return nil
}

// BytesWritten returns the total compressed bytes written.
func (c *BlockWriter) BytesWritten() int64 {
	return c.written
}

// DecompressAll decodes all blocks in data and returns the
// concatenated uncompressed payload.
func DecompressAll(data []byte, compression Compression) ([]byte, error) {
	var result []byte
	for len(data) > 0 {
		block, consumed, err := decompressBlock(data, compression)
		if err != nil {
			return nil, err
		}
		result = append(result, block...)
		data = data[consumed:]
	}
	return result, nil
}
