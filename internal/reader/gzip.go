package reader

import (
	"compress/gzip"
	"io"
)

// newGzipReader wraps r in the standard library gzip reader. Kept as its
// own file since decompress's two branches (gzip/zstd) come from different
// packages with slightly different constructor shapes.
func newGzipReader(r io.Reader) (io.Reader, error) {
	return gzip.NewReader(r)
}
