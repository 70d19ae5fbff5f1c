package formatters

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Errors reported while reading an export back
var (
	ErrHeaderMismatch    = errors.New("CSV header does not match the station export header")
	ErrInvalidCoordinate = errors.New("coordinate does not have exactly 7 decimal places")
	ErrUnknownRadio      = errors.New("unknown radio label")
)

// StationCSVReader reads a station export, checking the header first
type StationCSVReader struct {
	reader   *csv.Reader
	closer   io.Closer
	headers  []string
	readOnce bool
}

// NewStationCSVReader creates a new station CSV reader
func NewStationCSVReader(r io.Reader) *StationCSVReader {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = len(StationColumns)
	return &StationCSVReader{reader: reader}
}

// NewStationCSVReaderWithCloser creates a station CSV reader that closes r on Close
func NewStationCSVReaderWithCloser(r io.ReadCloser) *StationCSVReader {
	sr := NewStationCSVReader(r)
	sr.closer = r
	return sr
}

// readHeaders reads and checks the header row if not already read
func (r *StationCSVReader) readHeaders() error {
	if r.readOnce {
		return nil
	}

	headers, err := r.reader.Read()
	if err != nil {
		return fmt.Errorf("failed to read CSV header: %w", err)
	}

	if strings.Join(headers, ",") != strings.Join(StationColumns, ",") {
		return fmt.Errorf("%w: got %s", ErrHeaderMismatch, strings.Join(headers, ","))
	}

	r.headers = headers
	r.readOnce = true
	return nil
}

// Header returns the header row, reading it if needed
func (r *StationCSVReader) Header() ([]string, error) {
	if err := r.readHeaders(); err != nil {
		return nil, err
	}
	return r.headers, nil
}

// Read returns the next row keyed by column name, or io.EOF
func (r *StationCSVReader) Read() (map[string]string, error) {
	if err := r.readHeaders(); err != nil {
		return nil, err
	}

	record, err := r.reader.Read()
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV record: %w", err)
	}

	row := make(map[string]string, len(r.headers))
	for i, value := range record {
		row[r.headers[i]] = value
	}
	return row, nil
}

// ReadChunk reads up to chunkSize rows from the CSV stream. An empty chunk
// means the stream is exhausted. On error the rows read before it are
// returned alongside.
func (r *StationCSVReader) ReadChunk(chunkSize int) ([]map[string]string, error) {
	var rows []map[string]string

	for len(rows) < chunkSize {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return rows, err
		}
		rows = append(rows, row)
	}

	return rows, nil
}

// Close closes the underlying reader if it's closable
func (r *StationCSVReader) Close() error {
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

// ValidateRow checks the published formatting rules of one exported row
func ValidateRow(row map[string]string) error {
	known := false
	for _, label := range radioLabels {
		if row["radio"] == label {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("%w: '%s'", ErrUnknownRadio, row["radio"])
	}

	for _, col := range []string{"longitude", "latitude"} {
		if !hasFixedDecimals(row[col], coordinateDigits) {
			return fmt.Errorf("%w: %s=%s", ErrInvalidCoordinate, col, row[col])
		}
	}
	return nil
}

// hasFixedDecimals matches -?[0-9]+\.[0-9]{digits}
func hasFixedDecimals(value string, digits int) bool {
	whole, frac, ok := strings.Cut(value, ".")
	if !ok || len(frac) != digits {
		return false
	}
	whole = strings.TrimPrefix(whole, "-")
	return whole != "" && allDigits(whole) && allDigits(frac)
}

func allDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
