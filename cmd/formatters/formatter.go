package formatters

import (
	"github.com/airframesio/cell-exporter/cmd/stations"
)

// StreamWriter writes station records to an underlying stream one at a time
type StreamWriter interface {
	// WriteRecord encodes and writes a single record
	WriteRecord(rec *stations.Record) error

	// Rows returns the number of data rows written so far
	Rows() int64

	// Close flushes buffered output. It does not close the underlying writer.
	Close() error
}

// Encoder turns station records into ordered field lists
type Encoder interface {
	// Header returns the column names in output order
	Header() []string

	// Encode returns the fields of rec in Header order
	Encode(rec *stations.Record) []string
}
