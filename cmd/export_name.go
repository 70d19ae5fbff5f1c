package cmd

import (
	"errors"
	"fmt"
	"path"
	"regexp"
	"time"

	"github.com/airframesio/cell-exporter/cmd/compressors"
	"github.com/airframesio/cell-exporter/cmd/formatters"
	"github.com/airframesio/cell-exporter/cmd/stations"
)

// Export modes
const (
	ModeFull = "full"
	ModeDiff = "diff"
)

// DefaultDiffWindow is the span of modifications covered by one diff export
const DefaultDiffWindow = time.Hour

// Naming errors
var (
	ErrUnknownMode       = errors.New("export mode must be one of: full, diff")
	ErrInvalidExportName = errors.New("not a cell export name")
)

// exportExtension is the suffix of every artifact: the CSV encoding wrapped
// in the gzip stream (".csv.gz")
var exportExtension = formatters.NewStationEncoder().Extension() + compressors.NewGzipCompressor().Extension()

var exportNamePattern = regexp.MustCompile(`^MLS-(full|diff)-cell-export-(\d{4}-\d{2}-\d{2}T\d{6})` + regexp.QuoteMeta(exportExtension) + `$`)

// RoundReferenceTime truncates t to the snapshot boundary of mode in UTC:
// midnight for full exports, the start of the hour for diff exports.
func RoundReferenceTime(mode string, t time.Time) (time.Time, error) {
	t = t.UTC()
	switch mode {
	case ModeFull:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
	case ModeDiff:
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, time.UTC), nil
	default:
		return time.Time{}, fmt.Errorf("%w: '%s'", ErrUnknownMode, mode)
	}
}

// ExportName returns the artifact name for mode at reference time t, e.g.
// MLS-full-cell-export-2024-03-15T000000.csv.gz or
// MLS-diff-cell-export-2024-03-15T140000.csv.gz. The same name is used for
// the object key and the local file, so reruns for the same rounded time
// overwrite rather than duplicate.
func ExportName(mode string, t time.Time) (string, error) {
	rounded, err := RoundReferenceTime(mode, t)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("MLS-%s-cell-export-%s%s", mode, rounded.Format("2006-01-02T150405"), exportExtension), nil
}

// ParseExportName recovers the mode and rounded reference time from an
// export name. Names whose time is not on the mode's boundary are rejected.
func ParseExportName(name string) (string, time.Time, error) {
	m := exportNamePattern.FindStringSubmatch(path.Base(name))
	if m == nil {
		return "", time.Time{}, fmt.Errorf("%w: %s", ErrInvalidExportName, name)
	}

	t, err := time.Parse("2006-01-02T150405", m[2])
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%w: %s: %w", ErrInvalidExportName, name, err)
	}

	rounded, _ := RoundReferenceTime(m[1], t)
	if !rounded.Equal(t) {
		return "", time.Time{}, fmt.Errorf("%w: %s is not on a %s boundary", ErrInvalidExportName, name, m[1])
	}
	return m[1], t, nil
}

// ObjectKey returns the bucket key for an export name under an optional prefix
func ObjectKey(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return path.Join(prefix, name)
}

// ExportWindow returns the record filter for mode at reference time t.
// Full exports are unfiltered. Diff exports cover the trailing window that
// ends at the rounded reference hour: [hour-window, hour).
func ExportWindow(mode string, t time.Time, window time.Duration) (stations.Window, error) {
	rounded, err := RoundReferenceTime(mode, t)
	if err != nil {
		return stations.Window{}, err
	}

	if mode == ModeFull {
		return stations.Window{}, nil
	}

	if window <= 0 {
		window = DefaultDiffWindow
	}
	return stations.Window{Start: rounded.Add(-window), End: rounded}, nil
}
