//go:build windows

package mmap

import (
	"io"
	"os"
)

// Windows fallback: read the whole file. Snapshot loading materializes
// everything into index structures anyway, so zero-copy mapping is an
// optimization rather than a requirement here.
func osMap(f *os.File, size int) ([]byte, func([]byte) error, error) {
	data := make([]byte, size)
	if _, err := io.ReadFull(f, data); err != nil {
		return nil, nil, err
	}
	return data, func([]byte) error { return nil }, nil
}
