// Package persistence provides binary serialization framing for the
// sparse index: a fixed header with magic and version, little-endian
// primitive codecs, CRC32 integrity checking and optional block
// compression.
package persistence

import "errors"

const (
	// MagicNumber identifies sindi snapshot files (ASCII: "SNDI").
	MagicNumber = 0x534E4449
	// Version is the current file format version (v1.0.0).
	Version = 0x00010000
)

var (
	ErrInvalidMagic    = errors.New("invalid magic number")
	ErrInvalidVersion  = errors.New("unsupported version")
	ErrInvalidChecksum = errors.New("checksum mismatch")
	ErrTruncated       = errors.New("truncated data")
)

// Compression selects the body compression algorithm.
type Compression uint8

const (
	// CompressionNone stores the body uncompressed.
	CompressionNone Compression = 0
	// CompressionLZ4 uses LZ4 block compression (fast).
	CompressionLZ4 Compression = 1
	// CompressionZSTD uses ZSTD block compression (better ratio).
	CompressionZSTD Compression = 2
)

// String returns the string representation of the compression type.
func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "None"
	case CompressionLZ4:
		return "LZ4"
	case CompressionZSTD:
		return "ZSTD"
	default:
		return "Unknown"
	}
}

// HeaderSize is the encoded size of FileHeader in bytes.
const HeaderSize = 48

// FileHeader is the fixed-size header at the start of every snapshot.
// The body that follows is compressed according to Compression, and the
// file ends with a CRC32 (IEEE) of header plus body as written.
type FileHeader struct {
	Magic       uint32
	Version     uint32
	Compression uint8
	Flags       uint8 // bit 0: quantized, bit 1: reorder store, bit 2: duplicate compression
	Pad         [2]byte
	Dim         uint32
	TermIDLimit uint32
	WindowSize  uint32
	Count       uint64
	Reserved    [16]byte
}

// Header flag bits.
const (
	FlagQuantized   = 1 << 0
	FlagReorder     = 1 << 1
	FlagDupCompress = 1 << 2
)
