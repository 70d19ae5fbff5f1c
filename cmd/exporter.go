package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/airframesio/cell-exporter/cmd/compressors"
	"github.com/airframesio/cell-exporter/cmd/formatters"
	"github.com/airframesio/cell-exporter/cmd/stations"
	"github.com/airframesio/cell-exporter/cmd/storage"
	"github.com/google/uuid"
)

// RecordSource streams exportable station records matching a window
type RecordSource interface {
	Stream(ctx context.Context, window stations.Window, emit func(*stations.Record) error) error
}

// ExportSettings are the per-exporter knobs shared by every job
type ExportSettings struct {
	Bucket           string        // default bucket when a run passes ""
	KeyPrefix        string        // optional object key prefix
	TempDir          string        // parent of job temp dirs ("" = os.TempDir)
	CompressionLevel int           // gzip level 1-9
	DiffWindow       time.Duration // span of a diff export (default 1h)
	Pushgateway      string        // pushgateway URL, "" disables pushing
}

// ExportJob is the state of one export invocation. It lives only for the
// duration of a run and is never persisted.
type ExportJob struct {
	ID            string
	Mode          string
	ReferenceTime time.Time
	Bucket        string
	ObjectKey     string
	LocalPath     string
	Window        stations.Window
}

// JobResult describes a successful export
type JobResult struct {
	Job               ExportJob
	Rows              int64
	Bytes             int64
	UncompressedBytes int64
	StartedAt         time.Time
	FinishedAt        time.Time
	Duration          time.Duration
}

// Exporter runs full and diff exports. It holds no per-job state, so
// RunFullExport and RunDiffExport may be called concurrently.
type Exporter struct {
	source     RecordSource
	uploader   storage.Uploader
	compressor compressors.Compressor
	encoder    formatters.Encoder
	settings   ExportSettings
	logger     *slog.Logger
	now        func() time.Time
}

// NewExporter creates an exporter publishing gzip CSV snapshots
func NewExporter(source RecordSource, uploader storage.Uploader, settings ExportSettings, logger *slog.Logger) *Exporter {
	return &Exporter{
		source:     source,
		uploader:   uploader,
		compressor: compressors.NewGzipCompressor(),
		encoder:    formatters.NewStationEncoder(),
		settings:   settings,
		logger:     logger,
		now:        time.Now,
	}
}

// RunFullExport publishes every exportable record as the daily snapshot of
// referenceDate. An empty bucket uses the configured default.
func (e *Exporter) RunFullExport(ctx context.Context, referenceDate time.Time, bucket string) (*JobResult, error) {
	return e.run(ctx, ModeFull, referenceDate, bucket)
}

// RunDiffExport publishes the records modified in the window ending at the
// hour of referenceTime. An empty bucket uses the configured default.
func (e *Exporter) RunDiffExport(ctx context.Context, referenceTime time.Time, bucket string) (*JobResult, error) {
	return e.run(ctx, ModeDiff, referenceTime, bucket)
}

// newJob resolves names and the filter window for one run
func (e *Exporter) newJob(mode string, reference time.Time, bucket string) (ExportJob, error) {
	if reference.IsZero() {
		reference = e.now()
	}
	if bucket == "" {
		bucket = e.settings.Bucket
	}
	if bucket == "" {
		return ExportJob{}, storage.ErrBucketRequired
	}

	rounded, err := RoundReferenceTime(mode, reference)
	if err != nil {
		return ExportJob{}, err
	}
	name, err := ExportName(mode, rounded)
	if err != nil {
		return ExportJob{}, err
	}
	window, err := ExportWindow(mode, rounded, e.settings.DiffWindow)
	if err != nil {
		return ExportJob{}, err
	}

	return ExportJob{
		ID:            uuid.New().String(),
		Mode:          mode,
		ReferenceTime: rounded,
		Bucket:        bucket,
		ObjectKey:     ObjectKey(e.settings.KeyPrefix, name),
		LocalPath:     name,
		Window:        window,
	}, nil
}

func (e *Exporter) run(ctx context.Context, mode string, reference time.Time, bucket string) (*JobResult, error) {
	job, err := e.newJob(mode, reference, bucket)
	if err != nil {
		return nil, err
	}

	logger := e.logger.With("job_id", job.ID, "mode", mode)
	metrics := newJobMetrics()
	started := e.now()

	result, err := e.execute(ctx, &job, logger)

	if result == nil {
		result = &JobResult{Job: job}
	}
	result.StartedAt = started
	result.FinishedAt = e.now()
	result.Duration = result.FinishedAt.Sub(started)

	metrics.observe(result, err)
	metrics.push(ctx, e.settings.Pushgateway, mode, logger)

	if err != nil {
		logger.Error(fmt.Sprintf("❌ %s export %s failed: %v", mode, job.ObjectKey, err))
		return nil, err
	}

	logger.Info(fmt.Sprintf("✅ Published s3://%s/%s (%d rows, %d bytes, %s)",
		job.Bucket, job.ObjectKey, result.Rows, result.Bytes, result.Duration.Round(time.Millisecond)))
	return result, nil
}

// execute drives one job: stream -> encode -> compress -> upload. The local
// artifact is removed on every exit path and nothing is uploaded unless the
// artifact was completely written and closed.
func (e *Exporter) execute(ctx context.Context, job *ExportJob, logger *slog.Logger) (*JobResult, error) {
	if job.Window.IsZero() {
		logger.Info(fmt.Sprintf("🚀 Starting %s export %s", job.Mode, job.ObjectKey))
	} else {
		logger.Info(fmt.Sprintf("🚀 Starting %s export %s (modified %s to %s)", job.Mode, job.ObjectKey,
			job.Window.Start.Format(time.RFC3339), job.Window.End.Format(time.RFC3339)))
	}

	// The artifact is opened on the first record, or after an empty stream,
	// so a store that fails its first query never touches the temp dir.
	var art *artifact
	openArtifact := func() error {
		if art != nil {
			return nil
		}
		var err error
		if art, err = newArtifact(e.settings.TempDir, job.LocalPath, e.compressor, e.settings.CompressionLevel, e.encoder); err != nil {
			return err
		}
		job.LocalPath = art.Path()
		logger.Debug(fmt.Sprintf("  📝 Writing %s", job.LocalPath))
		return nil
	}
	defer func() {
		if art == nil {
			return
		}
		if err := art.Release(); err != nil {
			logger.Warn(fmt.Sprintf("⚠️  Failed to remove local artifact %s: %v", art.Path(), err))
		}
	}()

	err := e.source.Stream(ctx, job.Window, func(r *stations.Record) error {
		if err := openArtifact(); err != nil {
			return err
		}
		return art.Write(r)
	})
	if err != nil {
		return nil, err
	}
	if err := openArtifact(); err != nil {
		return nil, err
	}

	stats, err := art.Finish()
	if err != nil {
		return nil, err
	}
	logger.Debug(fmt.Sprintf("  🗜️  Compressed %d rows: %d -> %d bytes", stats.Rows, stats.UncompressedBytes, stats.Bytes))

	if err := e.uploader.Upload(ctx, job.LocalPath, job.Bucket, job.ObjectKey); err != nil {
		return nil, err
	}

	return &JobResult{
		Job:               *job,
		Rows:              stats.Rows,
		Bytes:             stats.Bytes,
		UncompressedBytes: stats.UncompressedBytes,
	}, nil
}
