package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/airframesio/cell-exporter/cmd/formatters"
	"github.com/airframesio/cell-exporter/cmd/stations"
	"github.com/airframesio/cell-exporter/cmd/storage"
)

func TestParseReferenceTime(t *testing.T) {
	tests := []struct {
		input   string
		want    time.Time
		wantErr bool
	}{
		{"", time.Time{}, false},
		{"2024-03-15", time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), false},
		{"2024-03-15T14", time.Date(2024, 3, 15, 14, 0, 0, 0, time.UTC), false},
		{"2024-03-15T14:25", time.Date(2024, 3, 15, 14, 25, 0, 0, time.UTC), false},
		{"2024-03-15T14:25:13Z", time.Date(2024, 3, 15, 14, 25, 13, 0, time.UTC), false},
		{"2024-03-15T16:25:13+02:00", time.Date(2024, 3, 15, 14, 25, 13, 0, time.UTC), false},
		{"yesterday", time.Time{}, true},
		{"15/03/2024", time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%q", tt.input), func(t *testing.T) {
			got, err := parseReferenceTime(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrReferenceTimeInvalid) {
					t.Fatalf("expected ErrReferenceTimeInvalid, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"Success", nil, exitOK},
		{"SourceFailure", fmt.Errorf("%w: boom", stations.ErrSourceQuery), exitFailed},
		{"UploadFailure", fmt.Errorf("%w: 403", storage.ErrUpload), exitFailed},
		{"Interrupted", fmt.Errorf("%w: %w", stations.ErrSourceQuery, context.Canceled), exitInterrupted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCode(tt.err); got != tt.want {
				t.Errorf("exitCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	t.Run("Text", func(t *testing.T) {
		var buf bytes.Buffer
		l := newLogger(&buf, false, "text").With("job_id", "abc")
		l.Info("✅ Published")
		l.Debug("hidden")

		out := buf.String()
		if !strings.Contains(out, "INFO ✅ Published") {
			t.Errorf("unexpected text output: %q", out)
		}
		if strings.Contains(out, "job_id") || strings.Contains(out, "hidden") {
			t.Errorf("text output should carry only info messages: %q", out)
		}
	})

	t.Run("Logfmt", func(t *testing.T) {
		var buf bytes.Buffer
		newLogger(&buf, true, "logfmt").With("job_id", "abc").Debug("starting")

		if !strings.Contains(buf.String(), "job_id=abc") || !strings.Contains(buf.String(), "level=DEBUG") {
			t.Errorf("unexpected logfmt output: %q", buf.String())
		}
	})

	t.Run("JSON", func(t *testing.T) {
		var buf bytes.Buffer
		newLogger(&buf, false, "json").With("mode", "diff").Info("done")

		var entry map[string]any
		if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
			t.Fatalf("output is not JSON: %v", err)
		}
		if entry["mode"] != "diff" || entry["msg"] != "done" {
			t.Errorf("unexpected JSON entry: %v", entry)
		}
	})
}

func TestRunInspect(t *testing.T) {
	dir := t.TempDir()
	header := strings.Join(formatters.StationColumns, ",") + "\n"
	good := filepath.Join(dir, "MLS-full-cell-export-2024-03-15T000000.csv.gz")
	writeGzip(t, good, header+"LTE,262,1,5,100,,-0.1250000,51.5000000,0,0,1,1710374400,1710374400,\n")

	t.Run("AllValid", func(t *testing.T) {
		var out bytes.Buffer
		if err := runInspect(&out, []string{good}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(out.String(), "LTE") {
			t.Errorf("summary missing radio counts: %s", out.String())
		}
	})

	t.Run("SomeInvalid", func(t *testing.T) {
		bad := filepath.Join(dir, "export.csv.gz")
		writeGzip(t, bad, header)

		var out bytes.Buffer
		err := runInspect(&out, []string{good, bad})
		if !errors.Is(err, ErrInspectFailed) {
			t.Fatalf("expected ErrInspectFailed, got %v", err)
		}
	})

	t.Run("Unreadable", func(t *testing.T) {
		missing := filepath.Join(dir, "missing.csv.gz")
		if _, err := os.Stat(missing); !os.IsNotExist(err) {
			t.Fatalf("test file unexpectedly exists")
		}
		if err := runInspect(&bytes.Buffer{}, []string{missing}); !errors.Is(err, ErrInspectFailed) {
			t.Fatalf("expected ErrInspectFailed, got %v", err)
		}
	})
}
