package cmd

import (
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/airframesio/cell-exporter/cmd/compressors"
	"github.com/airframesio/cell-exporter/cmd/stations"
	"github.com/airframesio/cell-exporter/cmd/storage"
)

// Static errors for configuration validation
var (
	ErrDatabaseDriverInvalid   = errors.New("database driver must be one of: postgres, pgx")
	ErrDatabaseUserRequired    = errors.New("database user is required")
	ErrDatabaseNameRequired    = errors.New("database name is required")
	ErrDatabasePortInvalid     = errors.New("database port must be between 1 and 65535")
	ErrStatementTimeoutInvalid = errors.New("database statement timeout must be >= 0")
	ErrTablesRequired          = errors.New("at least one station table is required")
	ErrTableNameInvalid        = errors.New("table name is invalid: must be 1-63 characters, start with a letter or underscore, and contain only letters, numbers, and underscores")
	ErrTableRadioUnknown       = errors.New("station table must be cell_<radio> with radio one of: gsm, cdma, wcdma, lte")
	ErrBatchSizeMinimum        = errors.New("batch size must be at least 100")
	ErrBatchSizeMaximum        = errors.New("batch size must not exceed 1000000")
	ErrS3DriverInvalid         = errors.New("S3 driver must be one of: s3, minio")
	ErrS3EndpointRequired      = errors.New("S3 endpoint is required for the minio driver")
	ErrS3BucketRequired        = errors.New("S3 bucket is required")
	ErrS3AccessKeyRequired     = errors.New("S3 access key is required")
	ErrS3SecretKeyRequired     = errors.New("S3 secret key is required")
	ErrS3RegionInvalid         = errors.New("S3 region contains invalid characters or is too long")
	ErrKeyPrefixInvalid        = errors.New("S3 key prefix must be a clean relative path: no leading '/', empty segments, '.' or '..'")
	ErrCompressionLevelInvalid = errors.New("compression level must be between 1 and 9")
	ErrDiffWindowInvalid       = errors.New("diff window must be a positive whole number of minutes")
	ErrLogFormatInvalid        = errors.New("log format must be one of: text, logfmt, json")
)

const (
	regionAuto = "auto"

	driverPostgres = "postgres"
	driverPgx      = "pgx"
)

type Config struct {
	Debug            bool
	LogFormat        string
	DryRun           bool
	BatchSize        int // Rows fetched per keyset page
	CompressionLevel int
	DiffWindow       time.Duration
	TempDir          string
	Pushgateway      string
	Database         DatabaseConfig
	S3               S3Config
}

type DatabaseConfig struct {
	Driver           string // postgres (lib/pq) or pgx
	Host             string
	Port             int
	User             string
	Password         string
	Name             string
	SSLMode          string
	StatementTimeout int // Statement timeout in seconds (0 = no timeout, default 300)
	Tables           []string
}

type S3Config struct {
	Driver    string // s3 (aws-sdk-go) or minio
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Region    string
	KeyPrefix string
}

var validRegion = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// isValidRegion validates that an S3 region is reasonable
func isValidRegion(region string) bool {
	if region == "" || len(region) > 50 {
		return false
	}
	return validRegion.MatchString(region)
}

func isValidLogFormat(format string) bool {
	switch format {
	case "", "text", "logfmt", "json":
		return true
	}
	return false
}

func (c *Config) Validate() error {
	if !isValidLogFormat(c.LogFormat) {
		return fmt.Errorf("%w: '%s'", ErrLogFormatInvalid, c.LogFormat)
	}

	// Validate database configuration
	switch c.Database.Driver {
	case "", driverPostgres, driverPgx:
	default:
		return fmt.Errorf("%w: '%s'", ErrDatabaseDriverInvalid, c.Database.Driver)
	}
	if c.Database.User == "" {
		return ErrDatabaseUserRequired
	}
	if c.Database.Name == "" {
		return ErrDatabaseNameRequired
	}
	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("%w, got %d", ErrDatabasePortInvalid, c.Database.Port)
	}
	if c.Database.StatementTimeout < 0 {
		return fmt.Errorf("%w, got %d", ErrStatementTimeoutInvalid, c.Database.StatementTimeout)
	}

	// Table names end up in SQL, so they must be plain identifiers
	if len(c.Database.Tables) == 0 {
		return ErrTablesRequired
	}
	for _, table := range c.Database.Tables {
		if !stations.IsValidTableName(table) {
			return fmt.Errorf("%w: '%s'", ErrTableNameInvalid, table)
		}
		if _, ok := stations.TableRadio(table); !ok {
			return fmt.Errorf("%w: '%s'", ErrTableRadioUnknown, table)
		}
	}

	if c.BatchSize < 100 {
		return fmt.Errorf("%w, got %d", ErrBatchSizeMinimum, c.BatchSize)
	}
	if c.BatchSize > 1000000 {
		return fmt.Errorf("%w, got %d", ErrBatchSizeMaximum, c.BatchSize)
	}

	if c.CompressionLevel < 1 || c.CompressionLevel > 9 {
		return fmt.Errorf("%w, got %d", ErrCompressionLevelInvalid, c.CompressionLevel)
	}

	// Diff names are hourly, so the window has to line up with whole minutes
	if c.DiffWindow <= 0 || c.DiffWindow%time.Minute != 0 {
		return fmt.Errorf("%w, got %s", ErrDiffWindowInvalid, c.DiffWindow)
	}

	// Validate S3 configuration
	switch c.S3.Driver {
	case "", storage.DriverS3, storage.DriverMinio:
	default:
		return fmt.Errorf("%w: '%s'", ErrS3DriverInvalid, c.S3.Driver)
	}
	if c.S3.Bucket == "" {
		return ErrS3BucketRequired
	}
	if !isValidKeyPrefix(c.S3.KeyPrefix) {
		return fmt.Errorf("%w: '%s'", ErrKeyPrefixInvalid, c.S3.KeyPrefix)
	}

	// A dry run never talks to object storage
	if c.DryRun {
		return nil
	}

	if c.S3.Driver == storage.DriverMinio && c.S3.Endpoint == "" {
		return ErrS3EndpointRequired
	}
	if c.S3.AccessKey == "" {
		return ErrS3AccessKeyRequired
	}
	if c.S3.SecretKey == "" {
		return ErrS3SecretKeyRequired
	}
	if c.S3.Region != "" && c.S3.Region != regionAuto {
		if !isValidRegion(c.S3.Region) {
			return fmt.Errorf("%w: %s", ErrS3RegionInvalid, c.S3.Region)
		}
	}

	return nil
}

// isValidKeyPrefix accepts "", "mls" or "mls/exports/" but nothing that
// path.Clean would rewrite, so the prefix cannot climb out of the bucket root
func isValidKeyPrefix(prefix string) bool {
	if prefix == "" {
		return true
	}
	trimmed := strings.TrimSuffix(prefix, "/")
	if trimmed == "" || strings.HasPrefix(trimmed, "/") || path.Clean(trimmed) != trimmed {
		return false
	}
	for _, segment := range strings.Split(trimmed, "/") {
		if segment == "." || segment == ".." {
			return false
		}
	}
	return true
}

// exportSettings derives the exporter settings from the configuration
func (c *Config) exportSettings() ExportSettings {
	return ExportSettings{
		Bucket:           c.S3.Bucket,
		KeyPrefix:        c.S3.KeyPrefix,
		TempDir:          c.TempDir,
		CompressionLevel: c.CompressionLevel,
		DiffWindow:       c.DiffWindow,
		Pushgateway:      c.Pushgateway,
	}
}

// storageOptions derives the uploader options from the configuration
func (c *Config) storageOptions() storage.Options {
	return storage.Options{
		Endpoint:    c.S3.Endpoint,
		AccessKey:   c.S3.AccessKey,
		SecretKey:   c.S3.SecretKey,
		Region:      c.S3.Region,
		ContentType: compressors.NewGzipCompressor().ContentType(),
	}
}
