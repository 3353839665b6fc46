// Package sindi provides an approximate-nearest-neighbor search index for
// high-dimensional sparse vectors using inner-product similarity.
//
// This file implements snapshot persistence. A snapshot is a fixed header
// (magic, version, build parameters), a length-prefixed body holding the
// label table, the window store and the optional reorder store, and a
// trailing CRC32 of everything before it. The body may be block-compressed
// with LZ4 or ZSTD.
package sindi

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/hupe1980/sindi/internal/mmap"
	"github.com/hupe1980/sindi/persistence"
	"github.com/hupe1980/sindi/resource"
)

func (idx *Index) header() *persistence.FileHeader {
	hdr := &persistence.FileHeader{
		Magic:       persistence.MagicNumber,
		Version:     persistence.Version,
		Compression: uint8(idx.compression),
		Dim:         uint32(idx.dim),
		TermIDLimit: uint32(idx.termIDLimit),
		WindowSize:  idx.store.WindowSize(),
		Count:       uint64(idx.nextID.Load()),
	}

	if idx.useQuantization {
		hdr.Flags |= persistence.FlagQuantized
	}

	if idx.useReorder {
		hdr.Flags |= persistence.FlagReorder
	}

	if idx.dupCompression {
		hdr.Flags |= persistence.FlagDupCompress
	}

	return hdr
}

func (idx *Index) writeBody(w io.Writer) error {
	if err := idx.labels.Serialize(w); err != nil {
		return err
	}

	if err := idx.store.Serialize(w); err != nil {
		return err
	}

	if idx.flat != nil {
		if err := idx.flat.Serialize(w); err != nil {
			return err
		}
	}

	return nil
}

func (idx *Index) readBody(r io.Reader) error {
	if err := idx.labels.Deserialize(r); err != nil {
		return readBodyError("label table", err)
	}

	if err := idx.store.Deserialize(r); err != nil {
		return readBodyError("window store", err)
	}

	if idx.flat != nil {
		if err := idx.flat.Deserialize(r); err != nil {
			return readBodyError("reorder store", err)
		}
	}

	return nil
}

// readBodyError classifies a component load failure: a refused memory
// reservation is a resource condition, everything else is corruption.
func readBodyError(component string, err error) error {
	if errors.Is(err, resource.ErrMemoryLimit) {
		return fmt.Errorf("%w: %s: %v", ErrResourceExhausted, component, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrCorruptState, component, err)
}

// Serialize writes a snapshot of the index. Mutation is blocked for the
// duration; searches keep running. IO is throttled through the resource
// controller when a limit is configured.
func (idx *Index) Serialize(ctx context.Context, w io.Writer) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	var body bytes.Buffer

	if idx.compression == persistence.CompressionNone {
		if err := idx.writeBody(&body); err != nil {
			idx.logger.LogSnapshot(ctx, "serialize", 0, err)
			return err
		}
	} else {
		bw := persistence.NewBlockWriter(&body, idx.compression, persistence.DefaultBlockSize)

		if err := idx.writeBody(bw); err != nil {
			idx.logger.LogSnapshot(ctx, "serialize", 0, err)
			return err
		}

		if err := bw.Flush(); err != nil {
			idx.logger.LogSnapshot(ctx, "serialize", 0, err)
			return err
		}
	}

	cw := persistence.NewChecksumWriter(resource.NewRateLimitedWriter(ctx, w, idx.rc))
	pw := persistence.NewWriter(cw)

	err := pw.WriteHeader(idx.header())
	if err == nil {
		err = pw.WriteUint64(uint64(body.Len()))
	}

	if err == nil {
		_, err = cw.Write(body.Bytes())
	}

	if err == nil {
		err = binary.Write(w, binary.LittleEndian, cw.Sum())
	}

	idx.logger.LogSnapshot(ctx, "serialize", cw.BytesWritten()+4, err)

	return err
}

// checkHeader validates a snapshot header against the build parameters of
// this index.
func (idx *Index) checkHeader(hdr *persistence.FileHeader) error {
	if int(hdr.Dim) != idx.dim || int(hdr.TermIDLimit) != idx.termIDLimit || hdr.WindowSize != idx.store.WindowSize() {
		return fmt.Errorf("%w: snapshot built with dim=%d term_id_limit=%d window_size=%d", ErrCorruptState, hdr.Dim, hdr.TermIDLimit, hdr.WindowSize)
	}

	flags := idx.header().Flags
	if hdr.Flags != flags {
		return fmt.Errorf("%w: snapshot feature flags %#x do not match index %#x", ErrCorruptState, hdr.Flags, flags)
	}

	switch persistence.Compression(hdr.Compression) {
	case persistence.CompressionNone, persistence.CompressionLZ4, persistence.CompressionZSTD:
		return nil
	default:
		return fmt.Errorf("%w: unknown compression %d", ErrCorruptState, hdr.Compression)
	}
}

// Deserialize replaces the index contents from a snapshot stream. The
// snapshot must have been written with the same build parameters.
func (idx *Index) Deserialize(ctx context.Context, r io.Reader) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	err := idx.deserializeLocked(ctx, r)

	idx.logger.LogSnapshot(ctx, "deserialize", 0, err)

	return err
}

func (idx *Index) deserializeLocked(ctx context.Context, r io.Reader) error {
	cr := persistence.NewChecksumReader(resource.NewRateLimitedReader(ctx, r, idx.rc))
	pr := persistence.NewReader(cr)

	hdr, err := pr.ReadHeader()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptState, err)
	}

	if err := idx.checkHeader(hdr); err != nil {
		return err
	}

	bodyLen, err := pr.ReadUint64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptState, err)
	}

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(cr, body); err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptState, err)
	}

	sum := cr.Sum()

	var stored uint32
	if err := binary.Read(r, binary.LittleEndian, &stored); err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptState, err)
	}

	if stored != sum {
		return fmt.Errorf("%w: %v", ErrCorruptState, persistence.ErrInvalidChecksum)
	}

	return idx.restore(hdr, body)
}

// restore decompresses and parses a verified snapshot body.
func (idx *Index) restore(hdr *persistence.FileHeader, body []byte) error {
	if c := persistence.Compression(hdr.Compression); c != persistence.CompressionNone {
		raw, err := persistence.DecompressAll(body, c)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCorruptState, err)
		}

		body = raw
	}

	if err := idx.readBody(bytes.NewReader(body)); err != nil {
		return err
	}

	idx.nextID.Store(uint32(hdr.Count))

	return nil
}

// DeserializeFromBuffer replaces the index contents from an in-memory
// snapshot, verifying the checksum over the whole buffer without
// streaming. This is the random-access variant used by LoadFile.
func (idx *Index) DeserializeFromBuffer(ctx context.Context, data []byte) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	err := idx.deserializeBufferLocked(data)

	idx.logger.LogSnapshot(ctx, "deserialize", int64(len(data)), err)

	return err
}

func (idx *Index) deserializeBufferLocked(data []byte) error {
	if len(data) < 4 {
		return fmt.Errorf("%w: %v", ErrCorruptState, persistence.ErrTruncated)
	}

	stored := binary.LittleEndian.Uint32(data[len(data)-4:])
	if stored != persistence.Checksum(data[:len(data)-4]) {
		return fmt.Errorf("%w: %v", ErrCorruptState, persistence.ErrInvalidChecksum)
	}

	pr := persistence.NewReader(bytes.NewReader(data[:len(data)-4]))

	hdr, err := pr.ReadHeader()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptState, err)
	}

	if err := idx.checkHeader(hdr); err != nil {
		return err
	}

	bodyLen, err := pr.ReadUint64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptState, err)
	}

	const fixed = persistence.HeaderSize + 8 // header plus body length prefix

	if uint64(len(data)-4-fixed) != bodyLen {
		return fmt.Errorf("%w: %v", ErrCorruptState, persistence.ErrTruncated)
	}

	return idx.restore(hdr, data[fixed:len(data)-4])
}

// LoadFile replaces the index contents from a snapshot file, memory
// mapping it to avoid a read copy of the (possibly large) body.
func (idx *Index) LoadFile(ctx context.Context, path string) error {
	m, err := mmap.Open(path)
	if err != nil {
		return err
	}
	defer m.Close()

	// Section parsing copies every slice out of the mapping, so the
	// mapping can be dropped as soon as restore returns.
	return idx.DeserializeFromBuffer(ctx, m.Bytes())
}
