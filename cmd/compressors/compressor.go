package compressors

import (
	"io"
)

// Compressor defines the interface for streaming compression handlers
type Compressor interface {
	// NewWriter wraps w in a compressing writer. Closing it finishes the
	// compressed stream but leaves w open.
	NewWriter(w io.Writer, level int) (io.WriteCloser, error)

	// Extension returns the file extension for this compression (e.g. ".gz")
	Extension() string

	// ContentType returns the MIME type of the compressed stream
	ContentType() string

	// DefaultLevel returns the default compression level
	DefaultLevel() int
}
