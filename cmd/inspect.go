package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/airframesio/cell-exporter/cmd/formatters"
	"github.com/charmbracelet/lipgloss"
	"github.com/klauspost/compress/gzip"
)

// ErrInspectFailed is returned when a local export cannot be read
var ErrInspectFailed = errors.New("failed to inspect export")

const (
	maxReportedProblems = 5
	inspectChunkSize    = 10000
)

var (
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575"))
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFB000")).Bold(true)
)

// InspectReport summarizes a local export artifact
type InspectReport struct {
	Path          string
	Mode          string // "" when the file name is not an export name
	ReferenceTime time.Time
	Rows          int64
	ByRadio       map[string]int64
	Invalid       int64
	Problems      []string
}

// Valid reports whether the name, header and every row passed the checks
func (r *InspectReport) Valid() bool {
	return r.Mode != "" && r.Invalid == 0
}

// inspectExport reads a gzip CSV export and checks its header and row
// formatting. Row problems are collected; only unreadable files fail.
func inspectExport(path string) (*InspectReport, error) {
	report := &InspectReport{
		Path:    path,
		ByRadio: make(map[string]int64),
	}

	if mode, ts, err := ParseExportName(filepath.Base(path)); err == nil {
		report.Mode = mode
		report.ReferenceTime = ts
	} else {
		report.Problems = append(report.Problems, err.Error())
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInspectFailed, err)
	}
	defer file.Close()

	gz, err := gzip.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("%w: %s is not gzip: %w", ErrInspectFailed, path, err)
	}
	reader := formatters.NewStationCSVReaderWithCloser(gz)
	defer reader.Close()

	if _, err := reader.Header(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInspectFailed, err)
	}

	for {
		rows, err := reader.ReadChunk(inspectChunkSize)
		for _, row := range rows {
			report.Rows++
			report.ByRadio[row["radio"]]++

			if err := formatters.ValidateRow(row); err != nil {
				report.Invalid++
				if len(report.Problems) < maxReportedProblems {
					report.Problems = append(report.Problems, fmt.Sprintf("row %d: %v", report.Rows, err))
				}
			}
		}
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: %w", ErrInspectFailed, report.Rows+1, err)
		}
		if len(rows) == 0 {
			break
		}
	}

	return report, nil
}

// Render writes a human readable summary of the report
func (r *InspectReport) Render(w io.Writer) {
	fmt.Fprintln(w, titleStyle.Render(filepath.Base(r.Path)))

	if r.Mode != "" {
		fmt.Fprintf(w, "  %s %s export for %s\n", infoStyle.Render("mode:"), r.Mode, r.ReferenceTime.Format(time.RFC3339))
	}
	fmt.Fprintf(w, "  %s %d\n", infoStyle.Render("rows:"), r.Rows)

	radios := make([]string, 0, len(r.ByRadio))
	for radio := range r.ByRadio {
		radios = append(radios, radio)
	}
	sort.Strings(radios)
	for _, radio := range radios {
		label := radio
		if label == "" {
			label = "(empty)"
		}
		fmt.Fprintf(w, "    %-6s %d\n", label, r.ByRadio[radio])
	}

	if r.Valid() {
		fmt.Fprintln(w, "  "+okStyle.Render("✅ valid"))
		return
	}

	if r.Invalid > 0 {
		fmt.Fprintln(w, "  "+warnStyle.Render(fmt.Sprintf("⚠️  %d invalid rows", r.Invalid)))
	} else {
		fmt.Fprintln(w, "  "+warnStyle.Render("⚠️  not a cell export name"))
	}
	if len(r.Problems) > 0 {
		fmt.Fprintln(w, "    "+strings.Join(r.Problems, "\n    "))
	}
}
