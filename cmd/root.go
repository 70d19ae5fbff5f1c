package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/airframesio/cell-exporter/cmd/stations"
	"github.com/airframesio/cell-exporter/cmd/storage"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Process exit codes
const (
	exitOK          = 0
	exitFailed      = 1
	exitInterrupted = 130
)

// ErrReferenceTimeInvalid is returned for unparseable --reference-time values
var ErrReferenceTimeInvalid = errors.New("reference time must be RFC3339, YYYY-MM-DDTHH or YYYY-MM-DD")

var (
	// Version information - set via ldflags during build
	// Example: go build -ldflags "-X github.com/airframesio/cell-exporter/cmd.Version=1.2.3"
	Version = "dev"

	// signalContext is set by main() before Cobra initialization
	signalContext context.Context

	cfgFile            string
	debug              bool
	logFormat          string
	dryRun             bool
	dbDriver           string
	dbHost             string
	dbPort             int
	dbUser             string
	dbPassword         string
	dbName             string
	dbSSLMode          string
	dbStatementTimeout int
	dbTables           []string
	s3Driver           string
	s3Endpoint         string
	s3Bucket           string
	s3AccessKey        string
	s3SecretKey        string
	s3Region           string
	s3KeyPrefix        string
	batchSize          int
	compressionLevel   int
	diffWindow         time.Duration
	tempDir            string
	pushgateway        string

	referenceTime  string
	bucketOverride string

	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#7D56F4")).
			Bold(true).
			Underline(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#00D9FF"))

	logger *slog.Logger
)

// SetSignalContext stores the signal-aware context created in main()
func SetSignalContext(ctx context.Context) {
	signalContext = ctx
}

// textOnlyHandler is a custom slog handler that outputs human-readable text
// without key=value pairs, suitable for interactive terminal usage
type textOnlyHandler struct {
	opts   slog.HandlerOptions
	writer io.Writer
}

func newTextOnlyHandler(w io.Writer, opts *slog.HandlerOptions) *textOnlyHandler {
	if opts == nil {
		opts = &slog.HandlerOptions{}
	}
	return &textOnlyHandler{
		opts:   *opts,
		writer: w,
	}
}

func (h *textOnlyHandler) Enabled(_ context.Context, level slog.Level) bool {
	minLevel := slog.LevelInfo
	if h.opts.Level != nil {
		minLevel = h.opts.Level.Level()
	}
	return level >= minLevel
}

func (h *textOnlyHandler) Handle(_ context.Context, r slog.Record) error {
	// Format: YYYY-MM-DD HH:MM:SS LEVEL message
	timestamp := r.Time.Format("2006-01-02 15:04:05")
	_, err := fmt.Fprintf(h.writer, "%s %s %s\n", timestamp, r.Level.String(), r.Message)
	return err
}

// Attributes such as job_id are only emitted by the logfmt and json handlers
func (h *textOnlyHandler) WithAttrs(_ []slog.Attr) slog.Handler {
	return h
}

func (h *textOnlyHandler) WithGroup(_ string) slog.Handler {
	return h
}

// newLogger builds the slog logger for a debug flag and log format
func newLogger(w io.Writer, isDebug bool, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}
	if isDebug {
		opts.Level = slog.LevelDebug
	}

	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	case "logfmt":
		handler = slog.NewTextHandler(w, opts)
	default: // "text" or anything else
		handler = newTextOnlyHandler(w, opts)
	}
	return slog.New(handler)
}

// initLogger initializes the package logger based on debug flag and log format
func initLogger(isDebug bool, format string) {
	logger = newLogger(os.Stdout, isDebug, format)
}

var rootCmd = &cobra.Command{
	Use:     "cell-exporter",
	Version: Version,
	Short:   "📡 Export cell tower observations to object storage",
	Long: titleStyle.Render("Cell Exporter") + `

Publishes the cell tower observation store as gzip compressed CSV snapshots.
A full export covers every cell with a known position and is named after the
UTC day. A diff export covers the cells modified in the trailing window and is
named after the UTC hour. Reruns for the same day or hour replace the object.`,
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Help()
	},
}

var fullCmd = &cobra.Command{
	Use:   "full",
	Short: "Publish the daily full export",
	Long:  `Publish every exportable cell as MLS-full-cell-export-<date>T000000.csv.gz.`,
	Run: func(_ *cobra.Command, _ []string) {
		os.Exit(runExport(ModeFull))
	},
}

var diffCmd = &cobra.Command{
	Use:   "diff",
	Short: "Publish the hourly diff export",
	Long:  `Publish the cells modified during the window ending at the reference hour as MLS-diff-cell-export-<date>T<hour>0000.csv.gz.`,
	Run: func(_ *cobra.Command, _ []string) {
		os.Exit(runExport(ModeDiff))
	},
}

var inspectCmd = &cobra.Command{
	Use:   "inspect <file>...",
	Short: "Check local export files",
	Long:  `Read local export files, check their name, header and coordinate formatting, and print row counts per radio.`,
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInspect(cmd.OutOrStdout(), args)
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.AddCommand(fullCmd)
	rootCmd.AddCommand(diffCmd)
	rootCmd.AddCommand(inspectCmd)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.cell-exporter.yaml)")
	flags.BoolVarP(&debug, "debug", "d", false, "enable debug output")
	flags.StringVar(&logFormat, "log-format", "text", "log format (text, logfmt, json)")
	flags.BoolVar(&dryRun, "dry-run", false, "build the export but keep it in memory instead of uploading")

	flags.StringVar(&dbDriver, "db-driver", "postgres", "database driver (postgres, pgx)")
	flags.StringVar(&dbHost, "db-host", "localhost", "PostgreSQL host")
	flags.IntVar(&dbPort, "db-port", 5432, "PostgreSQL port")
	flags.StringVar(&dbUser, "db-user", "", "PostgreSQL user")
	flags.StringVar(&dbPassword, "db-password", "", "PostgreSQL password")
	flags.StringVar(&dbName, "db-name", "", "PostgreSQL database name")
	flags.StringVar(&dbSSLMode, "db-sslmode", "disable", "PostgreSQL SSL mode (disable, require, verify-ca, verify-full)")
	flags.IntVar(&dbStatementTimeout, "db-statement-timeout", 300, "PostgreSQL statement timeout in seconds (0 = no timeout)")
	flags.StringSliceVar(&dbTables, "db-tables", stations.DefaultTables, "station tables to export, in order")

	flags.StringVar(&s3Driver, "s3-driver", storage.DriverS3, "object storage client (s3, minio)")
	flags.StringVar(&s3Endpoint, "s3-endpoint", "", "S3-compatible endpoint URL (empty = AWS)")
	flags.StringVar(&s3Bucket, "s3-bucket", "", "default S3 bucket name")
	flags.StringVar(&s3AccessKey, "s3-access-key", "", "S3 access key")
	flags.StringVar(&s3SecretKey, "s3-secret-key", "", "S3 secret key")
	flags.StringVar(&s3Region, "s3-region", "auto", "S3 region")
	flags.StringVar(&s3KeyPrefix, "s3-key-prefix", "", "prefix prepended to object keys")

	flags.IntVar(&batchSize, "batch-size", stations.DefaultBatchSize, "rows fetched per query page")
	flags.IntVar(&compressionLevel, "compression-level", 6, "gzip compression level (1-9)")
	flags.DurationVar(&diffWindow, "diff-window", DefaultDiffWindow, "span of modifications covered by a diff export")
	flags.StringVar(&tempDir, "temp-dir", "", "directory for local artifacts (default is the system temp dir)")
	flags.StringVar(&pushgateway, "pushgateway", "", "Prometheus Pushgateway URL for job metrics")

	for _, c := range []*cobra.Command{fullCmd, diffCmd} {
		c.Flags().StringVar(&referenceTime, "reference-time", "", "reference time (RFC3339, YYYY-MM-DDTHH or YYYY-MM-DD; default now)")
		c.Flags().StringVar(&bucketOverride, "bucket", "", "bucket for this run (overrides s3.bucket)")
	}

	// Note: We don't use MarkFlagRequired because it checks before viper loads the config file.
	// Instead, validation happens in config.Validate() which runs after all config sources are loaded.
	bindings := map[string]string{
		"debug":                "debug",
		"log_format":           "log-format",
		"dry_run":              "dry-run",
		"db.driver":            "db-driver",
		"db.host":              "db-host",
		"db.port":              "db-port",
		"db.user":              "db-user",
		"db.password":          "db-password",
		"db.name":              "db-name",
		"db.sslmode":           "db-sslmode",
		"db.statement_timeout": "db-statement-timeout",
		"db.tables":            "db-tables",
		"s3.driver":            "s3-driver",
		"s3.endpoint":          "s3-endpoint",
		"s3.bucket":            "s3-bucket",
		"s3.access_key":        "s3-access-key",
		"s3.secret_key":        "s3-secret-key",
		"s3.region":            "s3-region",
		"s3.key_prefix":        "s3-key-prefix",
		"batch_size":           "batch-size",
		"compression_level":    "compression-level",
		"diff_window":          "diff-window",
		"temp_dir":             "temp-dir",
		"metrics.pushgateway":  "pushgateway",
	}
	for key, flag := range bindings {
		_ = viper.BindPFlag(key, flags.Lookup(flag))
	}
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".cell-exporter")
	}

	// CELL_EXPORT_DB_HOST, CELL_EXPORT_S3_BUCKET, ...
	viper.SetEnvPrefix("CELL_EXPORT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil && debug {
		if logger == nil {
			initLogger(debug, logFormat)
		}
		logger.Debug(fmt.Sprintf("📄 Using config file: %s", viper.ConfigFileUsed()))
	}
}

// loadConfig assembles the configuration from flags, env and config file
func loadConfig() *Config {
	return &Config{
		Debug:            viper.GetBool("debug"),
		LogFormat:        viper.GetString("log_format"),
		DryRun:           viper.GetBool("dry_run"),
		BatchSize:        viper.GetInt("batch_size"),
		CompressionLevel: viper.GetInt("compression_level"),
		DiffWindow:       viper.GetDuration("diff_window"),
		TempDir:          viper.GetString("temp_dir"),
		Pushgateway:      viper.GetString("metrics.pushgateway"),
		Database: DatabaseConfig{
			Driver:           viper.GetString("db.driver"),
			Host:             viper.GetString("db.host"),
			Port:             viper.GetInt("db.port"),
			User:             viper.GetString("db.user"),
			Password:         viper.GetString("db.password"),
			Name:             viper.GetString("db.name"),
			SSLMode:          viper.GetString("db.sslmode"),
			StatementTimeout: viper.GetInt("db.statement_timeout"),
			Tables:           viper.GetStringSlice("db.tables"),
		},
		S3: S3Config{
			Driver:    viper.GetString("s3.driver"),
			Endpoint:  viper.GetString("s3.endpoint"),
			Bucket:    viper.GetString("s3.bucket"),
			AccessKey: viper.GetString("s3.access_key"),
			SecretKey: viper.GetString("s3.secret_key"),
			Region:    viper.GetString("s3.region"),
			KeyPrefix: viper.GetString("s3.key_prefix"),
		},
	}
}

// parseReferenceTime accepts RFC3339, an hour (2006-01-02T15) or a date.
// Values without a zone are UTC. An empty value means now.
func parseReferenceTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04", "2006-01-02T15", "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: '%s'", ErrReferenceTimeInvalid, value)
}

// exitCode maps a job error to the process exit status
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, context.Canceled):
		return exitInterrupted
	default:
		return exitFailed
	}
}

// runExport runs one export job from the CLI and returns the exit code
func runExport(mode string) int {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "\n❌ PANIC: %v\n", r)
			os.Exit(exitFailed)
		}
	}()

	config := loadConfig()
	if bucketOverride != "" && config.S3.Bucket == "" {
		config.S3.Bucket = bucketOverride
	}

	initLogger(config.Debug, config.LogFormat)

	logger.Info("")
	logger.Info(fmt.Sprintf("🚀 Cell Exporter v%s - %s export", Version, mode))
	logger.Info("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")

	logger.Debug("Validating configuration...")
	if err := config.Validate(); err != nil {
		logger.Error(fmt.Sprintf("❌ Configuration error: %s", err.Error()))
		return exitFailed
	}
	reference, err := parseReferenceTime(referenceTime)
	if err != nil {
		logger.Error(fmt.Sprintf("❌ Configuration error: %s", err.Error()))
		return exitFailed
	}
	logger.Debug("Configuration validated successfully")

	ctx := signalContext
	if ctx == nil {
		var stop context.CancelFunc
		ctx, stop = signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
	}

	// Force exit if cleanup takes too long after an interrupt
	exited := make(chan struct{})
	defer close(exited)
	go func() {
		select {
		case <-exited:
			return
		case <-ctx.Done():
		}
		logger.Info("")
		logger.Info("⚠️  Interrupt signal received, shutting down...")
		select {
		case <-exited:
		case <-time.After(10 * time.Second):
			logger.Error("⚠️  Graceful shutdown timed out, forcing exit...")
			os.Exit(exitInterrupted)
		}
	}()

	exporter, cleanup, err := newExporterFromConfig(ctx, config)
	if err != nil {
		logger.Error(fmt.Sprintf("❌ %s", err.Error()))
		return exitCode(err)
	}
	defer cleanup()

	var result *JobResult
	if mode == ModeFull {
		result, err = exporter.RunFullExport(ctx, reference, bucketOverride)
	} else {
		result, err = exporter.RunDiffExport(ctx, reference, bucketOverride)
	}

	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("")
			logger.Info("⚠️  Export cancelled by user")
		}
		return exitCode(err)
	}

	if config.DryRun {
		logger.Info(fmt.Sprintf("🧪 Dry run: %s kept in memory (%d bytes)", result.Job.ObjectKey, result.Bytes))
	}
	logger.Info("")
	logger.Info("✅ Export completed successfully!")
	return exitOK
}

// newExporterFromConfig connects to the store and object storage. The
// returned cleanup closes the database pool.
func newExporterFromConfig(ctx context.Context, config *Config) (*Exporter, func(), error) {
	logger.Debug(fmt.Sprintf("🔌 Connecting to %s:%d/%s via %s", config.Database.Host, config.Database.Port, config.Database.Name, config.Database.Driver))
	db, err := openDatabase(ctx, config.Database)
	if err != nil {
		return nil, nil, err
	}
	if err := checkTablePermissions(ctx, db, config.Database.Tables); err != nil {
		db.Close()
		return nil, nil, err
	}

	var uploader storage.Uploader
	if config.DryRun {
		uploader = storage.NewMemoryUploader()
	} else {
		uploader, err = storage.NewUploader(config.S3.Driver, config.storageOptions(), logger)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
	}

	source := stations.NewSource(db, config.Database.Tables, config.BatchSize, logger)
	exporter := NewExporter(source, uploader, config.exportSettings(), logger)
	return exporter, func() { db.Close() }, nil
}

// runInspect checks local export files and fails if any is invalid
func runInspect(w io.Writer, paths []string) error {
	invalid := 0
	for i, path := range paths {
		if i > 0 {
			fmt.Fprintln(w)
		}
		report, err := inspectExport(path)
		if err != nil {
			return err
		}
		report.Render(w)
		if !report.Valid() {
			invalid++
		}
	}
	if invalid > 0 {
		return fmt.Errorf("%w: %d of %d files have problems", ErrInspectFailed, invalid, len(paths))
	}
	return nil
}
