package persistence

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Writer encodes little-endian primitives and slices to an io.Writer.
type Writer struct {
	w       io.Writer
	scratch [8]byte
}

// NewWriter creates a new binary writer.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteHeader writes the file header with magic and version filled in.
func (bw *Writer) WriteHeader(header *FileHeader) error {
	header.Magic = MagicNumber
	header.Version = Version
	return binary.Write(bw.w, binary.LittleEndian, header)
}

func (bw *Writer) WriteUint8(v uint8) error {
	bw.scratch[0] = v
	_, err := bw.w.Write(bw.scratch[:1])
	return err
}

func (bw *Writer) WriteUint16(v uint16) error {
	binary.LittleEndian.PutUint16(bw.scratch[:2], v)
	_, err := bw.w.Write(bw.scratch[:2])
	return err
}

func (bw *Writer) WriteUint32(v uint32) error {
	binary.LittleEndian.PutUint32(bw.scratch[:4], v)
	_, err := bw.w.Write(bw.scratch[:4])
	return err
}

func (bw *Writer) WriteUint64(v uint64) error {
	binary.LittleEndian.PutUint64(bw.scratch[:8], v)
	_, err := bw.w.Write(bw.scratch[:8])
	return err
}

func (bw *Writer) WriteFloat32(v float32) error {
	return bw.WriteUint32(math.Float32bits(v))
}

// WriteUint16Slice writes a length prefix followed by the elements.
func (bw *Writer) WriteUint16Slice(s []uint16) error {
	if err := bw.WriteUint32(uint32(len(s))); err != nil {
		return err
	}
	buf := make([]byte, 2*len(s))
	for i, v := range s {
		binary.LittleEndian.PutUint16(buf[2*i:], v)
	}
	_, err := bw.w.Write(buf)
	return err
}

// WriteUint32Slice writes a length prefix followed by the elements.
func (bw *Writer) WriteUint32Slice(s []uint32) error {
	if err := bw.WriteUint32(uint32(len(s))); err != nil {
		return err
	}
	buf := make([]byte, 4*len(s))
	for i, v := range s {
		binary.LittleEndian.PutUint32(buf[4*i:], v)
	}
	_, err := bw.w.Write(buf)
	return err
}

// WriteUint64Slice writes a length prefix followed by the elements.
func (bw *Writer) WriteUint64Slice(s []uint64) error {
	if err := bw.WriteUint32(uint32(len(s))); err != nil {
		return err
	}
	buf := make([]byte, 8*len(s))
	for i, v := range s {
		binary.LittleEndian.PutUint64(buf[8*i:], v)
	}
	_, err := bw.w.Write(buf)
	return err
}

// WriteFloat32Slice writes a length prefix followed by the elements.
func (bw *Writer) WriteFloat32Slice(s []float32) error {
	if err := bw.WriteUint32(uint32(len(s))); err != nil {
		return err
	}
	buf := make([]byte, 4*len(s))
	for i, v := range s {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	_, err := bw.w.Write(buf)
	return err
}

// WriteBytes writes a length prefix followed by the raw bytes.
func (bw *Writer) WriteBytes(b []byte) error {
	if err := bw.WriteUint32(uint32(len(b))); err != nil {
		return err
	}
	_, err := bw.w.Write(b)
	return err
}

// Reader decodes little-endian primitives and slices from an io.Reader.
type Reader struct {
	r       io.Reader
	scratch [8]byte
}

// NewReader creates a new binary reader.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// ReadHeader reads and validates the file header.
func (br *Reader) ReadHeader() (*FileHeader, error) {
	var header FileHeader
	if err := binary.Read(br.r, binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTruncated, err)
	}
	if header.Magic != MagicNumber {
		return nil, fmt.Errorf("%w: got 0x%08x", ErrInvalidMagic, header.Magic)
	}
	if header.Version != Version {
		return nil, fmt.Errorf("%w: got 0x%08x", ErrInvalidVersion, header.Version)
	}
	return &header, nil
}

func (br *Reader) ReadUint8() (uint8, error) {
	if _, err := io.ReadFull(br.r, br.scratch[:1]); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrTruncated, err)
	}
	return br.scratch[0], nil
}

func (br *Reader) ReadUint16() (uint16, error) {
	if _, err := io.ReadFull(br.r, br.scratch[:2]); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrTruncated, err)
	}
	return binary.LittleEndian.Uint16(br.scratch[:2]), nil
}

func (br *Reader) ReadUint32() (uint32, error) {
	if _, err := io.ReadFull(br.r, br.scratch[:4]); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrTruncated, err)
	}
	return binary.LittleEndian.Uint32(br.scratch[:4]), nil
}

func (br *Reader) ReadUint64() (uint64, error) {
	if _, err := io.ReadFull(br.r, br.scratch[:8]); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrTruncated, err)
	}
	return binary.LittleEndian.Uint64(br.scratch[:8]), nil
}

func (br *Reader) ReadFloat32() (float32, error) {
	bits, err := br.ReadUint32()
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(bits), nil
}

// ReadUint16Slice reads a length-prefixed slice.
func (br *Reader) ReadUint16Slice() ([]uint16, error) {
	n, err := br.ReadUint32()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 2*int(n))
	if _, err := io.ReadFull(br.r, buf); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTruncated, err)
	}
	out := make([]uint16, n)
	for i := range out {
		out[i] = binary.LittleEndian.Uint16(buf[2*i:])
	}
	return out, nil
}

// ReadUint32Slice reads a length-prefixed slice.
func (br *Reader) ReadUint32Slice() ([]uint32, error) {
	n, err := br.ReadUint32()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 4*int(n))
	if _, err := io.ReadFull(br.r, buf); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTruncated, err)
	}
	out := make([]uint32, n)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(buf[4*i:])
	}
	return out, nil
}

// ReadUint64Slice reads a length-prefixed slice.
func (br *Reader) ReadUint64Slice() ([]uint64, error) {
	n, err := br.ReadUint32()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 8*int(n))
	if _, err := io.ReadFull(br.r, buf); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTruncated, err)
	}
	out := make([]uint64, n)
	for i := range out {
		out[i] = binary.LittleEndian.Uint64(buf[8*i:])
	}
	return out, nil
}

// ReadFloat32Slice reads a length-prefixed slice.
func (br *Reader) ReadFloat32Slice() ([]float32, error) {
	bits, err := br.ReadUint32Slice()
	if err != nil {
		return nil, err
	}
	out := make([]float32, len(bits))
	for i, b := range bits {
		out[i] = math.Float32frombits(b)
	}
	return out, nil
}

// ReadBytes reads a length-prefixed byte slice.
func (br *Reader) ReadBytes() ([]byte, error) {
	n, err := br.ReadUint32()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, int(n))
	if _, err := io.ReadFull(br.r, buf); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTruncated, err)
	}
	return buf, nil
}
