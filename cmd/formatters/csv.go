package formatters

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/airframesio/cell-exporter/cmd/stations"
)

// StationColumns is the public export header. The internal "lac" field is
// published as "area".
var StationColumns = []string{
	"radio",
	"mcc",
	"mnc",
	"area",
	"cell_id",
	"psc",
	"longitude",
	"latitude",
	"range",
	"sample_count",
	"changeable",
	"created",
	"modified",
	"average_signal",
}

// radioLabels maps stored radio values to their public labels
var radioLabels = map[stations.Radio]string{
	stations.RadioGSM:   "GSM",
	stations.RadioCDMA:  "CDMA",
	stations.RadioWCDMA: "UMTS",
	stations.RadioLTE:   "LTE",
}

// RadioLabel returns the public label for a radio, or "" if unknown
func RadioLabel(r stations.Radio) string {
	return radioLabels[r]
}

// coordinateDigits is the fixed number of decimals for lat/lon
const coordinateDigits = 7

// StationEncoder produces the canonical CSV fields of a station record
type StationEncoder struct{}

// NewStationEncoder creates a new station encoder
func NewStationEncoder() *StationEncoder {
	return &StationEncoder{}
}

// Header returns a copy of the export header
func (e *StationEncoder) Header() []string {
	header := make([]string, len(StationColumns))
	copy(header, StationColumns)
	return header
}

// Encode converts a record into its CSV fields
func (e *StationEncoder) Encode(rec *stations.Record) []string {
	var rangeValue, samples int64
	if rec.Range != nil {
		rangeValue = int64(*rec.Range)
	}
	if rec.Samples != nil {
		samples = *rec.Samples
	}

	changeable := "0"
	if rec.Changeable {
		changeable = "1"
	}

	return []string{
		RadioLabel(rec.Radio),
		strconv.FormatInt(int64(rec.MCC), 10),
		strconv.FormatInt(int64(rec.MNC), 10),
		strconv.FormatInt(int64(rec.LAC), 10),
		strconv.FormatInt(rec.CellID, 10),
		formatOptionalInt(rec.PSC),
		formatCoordinate(rec.Lon),
		formatCoordinate(rec.Lat),
		strconv.FormatInt(rangeValue, 10),
		strconv.FormatInt(samples, 10),
		changeable,
		strconv.FormatInt(rec.Created.UTC().Unix(), 10),
		strconv.FormatInt(rec.Modified.UTC().Unix(), 10),
		formatOptionalInt(rec.AverageSignal),
	}
}

func formatCoordinate(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', coordinateDigits, 64)
}

func formatOptionalInt(v *int32) string {
	if v == nil {
		return ""
	}
	return strconv.FormatInt(int64(*v), 10)
}

// Extension returns the file extension for CSV files
func (e *StationEncoder) Extension() string {
	return ".csv"
}

// stationStreamWriter implements StreamWriter for CSV format
type stationStreamWriter struct {
	writer  *csv.Writer
	encoder Encoder
	rows    int64
}

// NewStationStreamWriter creates a CSV stream writer and writes the header immediately
func NewStationStreamWriter(w io.Writer, encoder Encoder) (StreamWriter, error) {
	if encoder == nil {
		encoder = NewStationEncoder()
	}

	csvWriter := csv.NewWriter(w)
	if err := csvWriter.Write(encoder.Header()); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	return &stationStreamWriter{
		writer:  csvWriter,
		encoder: encoder,
	}, nil
}

// WriteRecord writes one station row
func (w *stationStreamWriter) WriteRecord(rec *stations.Record) error {
	if err := w.writer.Write(w.encoder.Encode(rec)); err != nil {
		return fmt.Errorf("failed to write CSV record: %w", err)
	}
	w.rows++
	return nil
}

// Rows returns the number of data rows written
func (w *stationStreamWriter) Rows() int64 {
	return w.rows
}

// Close finalizes the CSV output by flushing the writer
func (w *stationStreamWriter) Close() error {
	w.writer.Flush()
	if err := w.writer.Error(); err != nil {
		return fmt.Errorf("CSV writer error: %w", err)
	}
	return nil
}
