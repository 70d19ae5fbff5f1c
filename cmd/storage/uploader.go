// Package storage publishes finished export artifacts to object storage.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Storage driver names
const (
	DriverS3    = "s3"
	DriverMinio = "minio"
)

// Error definitions
var (
	ErrUpload             = errors.New("upload failed")
	ErrUnsupportedDriver  = errors.New("unsupported storage driver")
	ErrBucketRequired     = errors.New("bucket is required")
	ErrObjectKeyRequired  = errors.New("object key is required")
	ErrEndpointInvalid    = errors.New("storage endpoint is invalid")
	ErrCredentialsMissing = errors.New("storage credentials are required")
)

// Uploader publishes one local file to bucket/key, replacing any object
// already stored there. Implementations do not retry.
type Uploader interface {
	Upload(ctx context.Context, localPath, bucket, key string) error
}

// Options configures the object storage connection
type Options struct {
	Endpoint    string
	AccessKey   string
	SecretKey   string
	Region      string
	ContentType string
}

// NewUploader returns the uploader for the given driver
func NewUploader(driver string, opts Options, logger *slog.Logger) (Uploader, error) {
	switch driver {
	case DriverS3, "":
		return NewS3Uploader(opts, logger)
	case DriverMinio:
		return NewMinioUploader(opts, logger)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDriver, driver)
	}
}

func checkTarget(bucket, key string) error {
	if bucket == "" {
		return fmt.Errorf("%w: %w", ErrUpload, ErrBucketRequired)
	}
	if key == "" {
		return fmt.Errorf("%w: %w", ErrUpload, ErrObjectKeyRequired)
	}
	return nil
}
