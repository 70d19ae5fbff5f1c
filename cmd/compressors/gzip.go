package compressors

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

// GzipCompressor handles Gzip compression
type GzipCompressor struct{}

// NewGzipCompressor creates a new Gzip compressor
func NewGzipCompressor() *GzipCompressor {
	return &GzipCompressor{}
}

// NewWriter creates a streaming gzip writer.
// Levels outside 1-9 fall back to the default level.
func (c *GzipCompressor) NewWriter(w io.Writer, level int) (io.WriteCloser, error) {
	if level < 1 || level > 9 {
		level = c.DefaultLevel()
	}

	writer, err := gzip.NewWriterLevel(w, level)
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip writer: %w", err)
	}

	// Header is left zero (no name, no mtime) so identical rows compress
	// to identical bytes.
	return writer, nil
}

// Extension returns the file extension for Gzip compression
func (c *GzipCompressor) Extension() string {
	return ".gz"
}

// ContentType returns the MIME type for gzip streams
func (c *GzipCompressor) ContentType() string {
	return "application/gzip"
}

// DefaultLevel returns the default compression level for Gzip
func (c *GzipCompressor) DefaultLevel() int {
	return 6 // gzip.DefaultCompression
}
