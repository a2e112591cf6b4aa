package dataset

import (
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
)

// countingWriter sums the bytes written through it and discards them
type countingWriter struct {
	n int64
}

func (w *countingWriter) Write(p []byte) (int, error) {
	w.n += int64(len(p))
	return len(p), nil
}

// CompressedSize streams the database file through a zstd compressor
// and returns the length of the compressed output. Nothing is retained;
// this is a size estimate, not an archive.
func CompressedSize(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	counter := &countingWriter{}
	enc, err := zstd.NewWriter(counter)
	if err != nil {
		return 0, fmt.Errorf("failed to create compressor: %w", err)
	}

	if _, err := io.Copy(enc, f); err != nil {
		enc.Close()
		return 0, fmt.Errorf("failed to compress %s: %w", path, err)
	}
	if err := enc.Close(); err != nil {
		return 0, fmt.Errorf("failed to flush compressor: %w", err)
	}

	return counter.n, nil
}
