package storage

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioUploader uploads artifacts with minio-go
type MinioUploader struct {
	client      *minio.Client
	contentType string
	logger      *slog.Logger
}

// NewMinioUploader creates a MinIO/S3 uploader from an endpoint URL
// such as http://localhost:9000
func NewMinioUploader(opts Options, logger *slog.Logger) (*MinioUploader, error) {
	if opts.AccessKey == "" || opts.SecretKey == "" {
		return nil, ErrCredentialsMissing
	}

	u, err := url.Parse(opts.Endpoint)
	if err != nil || opts.Endpoint == "" {
		return nil, fmt.Errorf("%w: '%s'", ErrEndpointInvalid, opts.Endpoint)
	}
	endpoint := u.Host
	if endpoint == "" {
		endpoint = opts.Endpoint
	}

	// An empty region makes minio-go look up the bucket location
	region := opts.Region
	if region == "auto" {
		region = ""
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: u.Scheme == "https",
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &MinioUploader{
		client:      client,
		contentType: opts.ContentType,
		logger:      logger,
	}, nil
}

// Upload publishes localPath to bucket/key
func (u *MinioUploader) Upload(ctx context.Context, localPath, bucket, key string) error {
	if err := checkTarget(bucket, key); err != nil {
		return err
	}

	u.logger.Debug(fmt.Sprintf("  ☁️  Uploading %s to %s/%s", localPath, bucket, key))

	info, err := u.client.FPutObject(ctx, bucket, key, localPath, minio.PutObjectOptions{
		ContentType: u.contentType,
	})
	if err != nil {
		return fmt.Errorf("%w: %s/%s: %w", ErrUpload, bucket, key, err)
	}

	u.logger.Debug(fmt.Sprintf("  ☁️  Stored %s/%s (%d bytes, etag %s)", bucket, key, info.Size, info.ETag))
	return nil
}
