package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/airframesio/cell-exporter/cmd/compressors"
	"github.com/airframesio/cell-exporter/cmd/formatters"
	"github.com/airframesio/cell-exporter/cmd/stations"
)

// ErrArtifactWrite is returned when the local compressed artifact cannot be written
var ErrArtifactWrite = errors.New("failed to write export artifact")

const artifactBufferSize = 256 * 1024

// ArtifactStats describes a finished artifact
type ArtifactStats struct {
	Rows              int64
	Bytes             int64
	UncompressedBytes int64
}

// countingWriter counts bytes passed through to an underlying writer
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// artifact is a compressed CSV file inside a private temp directory.
// Release removes the directory and must be deferred right after creation.
type artifact struct {
	dir  string
	path string

	file         *os.File
	buffered     *bufio.Writer
	compressed   io.WriteCloser
	rows         formatters.StreamWriter
	onDisk       *countingWriter
	uncompressed *countingWriter
	finished     bool
}

// newArtifact creates <tempDir>/cell-export-*/<name> and writes the CSV
// header into it. Chain: rows -> csv -> gzip -> buffer -> file.
func newArtifact(tempDir, name string, compressor compressors.Compressor, level int, encoder formatters.Encoder) (*artifact, error) {
	dir, err := os.MkdirTemp(tempDir, "cell-export-*")
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create temp dir: %w", ErrArtifactWrite, err)
	}

	a := &artifact{
		dir:  dir,
		path: filepath.Join(dir, name),
	}

	a.file, err = os.OpenFile(a.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		_ = a.Release()
		return nil, fmt.Errorf("%w: failed to create %s: %w", ErrArtifactWrite, a.path, err)
	}

	a.onDisk = &countingWriter{w: a.file}
	a.buffered = bufio.NewWriterSize(a.onDisk, artifactBufferSize)

	a.compressed, err = compressor.NewWriter(a.buffered, level)
	if err != nil {
		_ = a.Release()
		return nil, fmt.Errorf("%w: %w", ErrArtifactWrite, err)
	}

	a.uncompressed = &countingWriter{w: a.compressed}
	a.rows, err = formatters.NewStationStreamWriter(a.uncompressed, encoder)
	if err != nil {
		_ = a.Release()
		return nil, fmt.Errorf("%w: %w", ErrArtifactWrite, err)
	}

	return a, nil
}

// Path returns the local file path of the artifact
func (a *artifact) Path() string {
	return a.path
}

// Write appends one record
func (a *artifact) Write(rec *stations.Record) error {
	if a.finished {
		return fmt.Errorf("%w: artifact already finished", ErrArtifactWrite)
	}
	if err := a.rows.WriteRecord(rec); err != nil {
		return fmt.Errorf("%w: %w", ErrArtifactWrite, err)
	}
	return nil
}

// Finish flushes every layer, syncs and closes the file. After Finish
// returns nil the file is complete and safe to upload.
func (a *artifact) Finish() (ArtifactStats, error) {
	if a.finished {
		return ArtifactStats{}, fmt.Errorf("%w: artifact already finished", ErrArtifactWrite)
	}
	a.finished = true

	steps := []struct {
		what string
		fn   func() error
	}{
		{"flush csv", a.rows.Close},
		{"close compressor", a.compressed.Close},
		{"flush buffer", a.buffered.Flush},
		{"sync file", a.file.Sync},
		{"close file", a.file.Close},
	}
	for _, step := range steps {
		if err := step.fn(); err != nil {
			return ArtifactStats{}, fmt.Errorf("%w: failed to %s: %w", ErrArtifactWrite, step.what, err)
		}
	}
	a.file = nil

	return ArtifactStats{
		Rows:              a.rows.Rows(),
		Bytes:             a.onDisk.n,
		UncompressedBytes: a.uncompressed.n,
	}, nil
}

// Release closes the file if still open and removes the temp directory
func (a *artifact) Release() error {
	if a.file != nil {
		_ = a.file.Close()
		a.file = nil
	}
	if a.dir == "" {
		return nil
	}
	err := os.RemoveAll(a.dir)
	a.dir = ""
	return err
}
